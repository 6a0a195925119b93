// Package export hands completed run summaries to their consumers
package export

import (
	"context"
	"log/slog"

	"github.com/sig-0/p2pquotes/storage/types"
)

// Log writes the run summary to the structured log
type Log struct {
	logger *slog.Logger
}

// NewLog creates a new log exporter
func NewLog(logger *slog.Logger) *Log {
	return &Log{
		logger: logger,
	}
}

func (l *Log) Export(_ context.Context, s *types.RunSummary) error {
	logger := l.logger.With("run_id", s.RunID)

	for _, report := range s.Sources {
		attrs := []any{
			"source", report.Source,
			"success", report.Fetch.Success,
			"listings", len(report.Fetch.Listings),
			"written", report.Written,
			"skipped", report.Skipped,
			"dropped", report.Dropped,
		}

		if report.Fetch.ErrorCode != "" {
			attrs = append(attrs, "error_code", report.Fetch.ErrorCode)
		}

		if report.PersistError != "" {
			attrs = append(attrs, "persist_error", report.PersistError)
		}

		logger.Info("source report", attrs...)
	}

	for _, entry := range s.Ladder {
		logger.Info(
			"ladder step",
			"markup", entry.Label,
			"intermediate_rate", entry.IntermediateRate,
			"derived_rate", entry.DerivedRate,
		)
	}

	if s.DerivationSkipped != "" {
		logger.Warn("no ladder derived", "reason", s.DerivationSkipped)
	}

	logger.Info(
		"run summary",
		"state", s.State,
		"token", s.Token,
		"side", s.Side,
		"ladder_steps", len(s.Ladder),
	)

	return nil
}

package ingest

import (
	"log/slog"
	"slices"
	"time"

	"github.com/sig-0/p2pquotes/provider"
	"github.com/sig-0/p2pquotes/provider/fx"
	"github.com/sig-0/p2pquotes/storage/types"
)

type Option func(s *Scheduler)

// WithLogger specifies the logger for the scheduler
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// WithTickInterval sets how often the scheduler looks for due runs.
// Defaults to 1s, which is finer than any sensible pipeline interval
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		s.tick = d
	}
}

// WithRetryDelay sets how soon a failed pipeline run is retried.
// Defaults to 10s
func WithRetryDelay(d time.Duration) Option {
	return func(s *Scheduler) {
		s.retryDelay = d
	}
}

type PipelineOption func(p *Pipeline)

// WithPipelineLogger specifies the logger for the pipeline
func WithPipelineLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// WithClock overrides the clock used for timestamps and retry waits
func WithClock(c provider.Clock) PipelineOption {
	return func(p *Pipeline) {
		p.clock = c
	}
}

// WithRateSource specifies the base exchange rate source.
// A nil source disables the derivation
func WithRateSource(r fx.RateSource) PipelineOption {
	return func(p *Pipeline) {
		p.rates = r
	}
}

// WithBasePair specifies the base exchange rate pair (ex. EUR/XAF)
func WithBasePair(from, to types.Currency) PipelineOption {
	return func(p *Pipeline) {
		p.baseFrom = from
		p.baseTo = to
	}
}

// WithLadder specifies the ladder inputs: the high quote is taken from
// the high source, the low quote from the low source
func WithLadder(high, low types.Source, markups []float64) PipelineOption {
	return func(p *Pipeline) {
		p.highSource = high
		p.lowSource = low

		// Ladder steps follow the markup order
		if len(markups) > 0 {
			p.markups = slices.Sorted(slices.Values(markups))
		}
	}
}

// WithExporters specifies the run summary exporters
func WithExporters(exporters ...Exporter) PipelineOption {
	return func(p *Pipeline) {
		p.exporters = append(p.exporters, exporters...)
	}
}

// WithSchedule specifies the job name and run interval
func WithSchedule(name string, interval time.Duration) PipelineOption {
	return func(p *Pipeline) {
		p.name = name
		p.interval = interval
	}
}

// WithRunTimeout bounds the fetch phase of a run
func WithRunTimeout(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		p.runTimeout = d
	}
}

// WithMaxQuoteAge bounds the age of stored quotes used for derivation
func WithMaxQuoteAge(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		p.maxQuoteAge = d
	}
}

package server

import (
	"log/slog"

	"github.com/sig-0/p2pquotes/config"
)

type Option func(s *Server)

// WithLogger specifies the logger for the server
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithConfig specifies the config for the server
func WithConfig(c *config.Server) Option {
	return func(s *Server) {
		s.config = c
	}
}

// WithSummaries sets the shared summary store consulted when this
// process has not exported a run yet, and for the derived ladders
func WithSummaries(summaries Summaries) Option {
	return func(s *Server) {
		s.summaries = summaries
	}
}

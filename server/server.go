package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httplog/v3"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/sig-0/p2pquotes/config"
	"github.com/sig-0/p2pquotes/server/graph"
	"github.com/sig-0/p2pquotes/storage"
	"github.com/sig-0/p2pquotes/storage/types"
)

// Summaries is a shared store of exported run summaries
type Summaries interface {
	// Latest returns the last exported run summary
	Latest(ctx context.Context) (*types.RunSummary, error)

	// Ladder returns the last derived ladder for the token and side
	Ladder(ctx context.Context, token types.Currency, side types.Side) ([]types.LadderEntry, error)
}

// RoutesFn is a callback that receives a router for registering routes
type RoutesFn func(router chi.Router)

var noopLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// Server is the read API over the stored listings, rates and run summaries
type Server struct {
	logger *slog.Logger
	config *config.Server

	storage   storage.Storage
	summaries Summaries

	latest    *types.RunSummary
	latestMux sync.RWMutex

	mux *chi.Mux
}

// New creates a new server instance
func New(storage storage.Storage, opts ...Option) (*Server, error) {
	s := &Server{
		logger:  noopLogger,
		storage: storage,
		config:  config.DefaultServerConfig(),
		mux:     chi.NewMux(),
	}

	// Apply the options
	for _, opt := range opts {
		opt(s)
	}

	// Validate the configuration
	if err := config.ValidateServerConfig(s.config); err != nil {
		return nil, fmt.Errorf("invalid configuration, %w", err)
	}

	// Set up the CORS middleware
	if s.config.CORSConfig != nil {
		corsMiddleware := cors.New(cors.Options{
			AllowedOrigins: s.config.CORSConfig.AllowedOrigins,
			AllowedMethods: s.config.CORSConfig.AllowedMethods,
			AllowedHeaders: s.config.CORSConfig.AllowedHeaders,
		})

		s.mux.Use(corsMiddleware.Handler)
	}

	s.mux.Use(httplog.RequestLogger(s.logger, &httplog.Options{
		Level:         slog.LevelInfo,
		Schema:        httplog.SchemaOTEL,
		RecoverPanics: true,
		Skip: func(r *http.Request, respStatus int) bool {
			return respStatus == 404 || respStatus == 405 || r.URL.Path == "/health"
		},
	}))

	s.mux.Get("/health", s.Health)

	s.mux.Route("/v1", func(r chi.Router) {
		r.Get("/listings/{source}", s.Listings)
		r.Get("/rates", s.Rates)
		r.Get("/runs", s.Runs)
		r.Get("/runs/latest", s.LatestRun)
		r.Get("/ladders/{token}/{side}", s.Ladder)
	})

	graph.Setup(s.storage, s, s.mux)

	return s, nil
}

// Routes calls fn with the server mux so callers can add endpoints
func (s *Server) Routes(fn RoutesFn) {
	if fn == nil {
		return
	}

	fn(s.mux)
}

// Handler returns the server mux
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Export keeps the summary for /v1/runs/latest.
// Summaries older than the current one are ignored
func (s *Server) Export(_ context.Context, summary *types.RunSummary) error {
	if summary == nil {
		return nil
	}

	s.latestMux.Lock()
	defer s.latestMux.Unlock()

	if s.latest != nil && summary.StartedAt.Before(s.latest.StartedAt) {
		return nil
	}

	s.latest = summary

	return nil
}

// Serve serves the p2pquotes read API
func (s *Server) Serve(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.config.ListenAddress,
		Handler:           s.mux,
		ReadHeaderTimeout: 60 * time.Second,
	}

	group, gCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		defer s.logger.Info("server shut down")

		ln, err := net.Listen("tcp", server.Addr)
		if err != nil {
			return err
		}

		s.logger.Info(
			fmt.Sprintf(
				"server started at %s",
				ln.Addr().String(),
			),
		)

		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	group.Go(func() error {
		<-gCtx.Done()

		s.logger.Info("server to be shutdown")

		wsCtx, cancel := context.WithTimeout(context.Background(), time.Second*30)
		defer cancel()

		return server.Shutdown(wsCtx)
	})

	return group.Wait()
}

package serve

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"
	"golang.org/x/sync/errgroup"

	"github.com/sig-0/p2pquotes/cmd/env"
	"github.com/sig-0/p2pquotes/cmd/setup"
	"github.com/sig-0/p2pquotes/config"
	"github.com/sig-0/p2pquotes/export"
	"github.com/sig-0/p2pquotes/ingest"
	"github.com/sig-0/p2pquotes/server"
	"github.com/sig-0/p2pquotes/storage"
)

// serveCfg wraps the serve configuration
type serveCfg struct {
	configPath    string
	listenAddress string
}

// NewServeCmd creates the serve subcommand
func NewServeCmd() *ffcli.Command {
	cfg := &serveCfg{}

	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cfg.registerFlags(fs)

	cmd := &ffcli.Command{
		Name:       "serve",
		ShortUsage: "serve <subcommand> [flags]",
		LongHelp:   "Runs the scheduled pipeline and serves the p2pquotes read API",
		FlagSet:    fs,
		Exec: func(_ context.Context, _ []string) error {
			return flag.ErrHelp
		},
		Options: []ff.Option{
			// Allow using ENV variables
			ff.WithEnvVars(),
			ff.WithEnvVarPrefix(env.Prefix),
		},
	}

	cmd.Subcommands = []*ffcli.Command{
		newServeSQLCmd(cfg),
		newServeMemoryCmd(cfg),
	}

	return cmd
}

func (c *serveCfg) registerFlags(fs *flag.FlagSet) {
	fs.StringVar(
		&c.listenAddress,
		"listen",
		"",
		"the IP:PORT URL for the server, overrides the config",
	)

	fs.StringVar(
		&c.configPath,
		"config",
		"",
		"the path to the TOML configuration, if any",
	)
}

// loadConfig reads the configuration, applying the flag overrides
func (c *serveCfg) loadConfig() (*config.Config, error) {
	cfg, err := setup.LoadConfig(c.configPath)
	if err != nil {
		return nil, err
	}

	if c.listenAddress == "" {
		return cfg, nil
	}

	cfg.Server.ListenAddress = c.listenAddress

	if err = config.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration, %w", err)
	}

	return cfg, nil
}

// run starts the read API and the pipeline scheduler over the store [BLOCKING]
func run(
	ctx context.Context,
	cfg *config.Config,
	store storage.Storage,
	logger *slog.Logger,
) error {
	runCtx, cancelFn := signal.NotifyContext(
		ctx,
		os.Interrupt,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)
	defer cancelFn()

	redisExporter, closeRedis, err := setup.Redis(runCtx, cfg.Redis, logger)
	if err != nil {
		return err
	}

	defer closeRedis()

	serverOpts := []server.Option{
		server.WithLogger(logger),
		server.WithConfig(cfg.Server),
	}

	if redisExporter != nil {
		// Summaries survive restarts of the API through Redis
		serverOpts = append(serverOpts, server.WithSummaries(redisExporter))
	}

	// Create the server instance
	s, err := server.New(store, serverOpts...)
	if err != nil {
		return fmt.Errorf("unable to create server, %w", err)
	}

	exporters := []ingest.Exporter{
		export.NewLog(logger),
		s,
	}

	if redisExporter != nil {
		exporters = append(exporters, redisExporter)
	}

	pipeline, err := setup.Pipeline(store, cfg, logger, exporters...)
	if err != nil {
		return fmt.Errorf("unable to create pipeline: %w", err)
	}

	scheduler := ingest.NewScheduler(ingest.WithLogger(logger))
	if err = scheduler.Register(pipeline); err != nil {
		return fmt.Errorf("unable to register pipeline: %w", err)
	}

	group, gCtx := errgroup.WithContext(runCtx)

	// Start the HTTP server
	group.Go(func() error {
		return s.Serve(gCtx)
	})

	// Start the pipeline schedule
	group.Go(func() error {
		return scheduler.Start(gCtx)
	})

	return group.Wait()
}

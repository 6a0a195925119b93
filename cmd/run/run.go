package run

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/sig-0/p2pquotes/cmd/env"
	"github.com/sig-0/p2pquotes/cmd/setup"
	"github.com/sig-0/p2pquotes/export"
	"github.com/sig-0/p2pquotes/ingest"
	"github.com/sig-0/p2pquotes/storage"
	"github.com/sig-0/p2pquotes/storage/memory"
	"github.com/sig-0/p2pquotes/storage/types"
)

const (
	storeMemory = "memory"
	storeSQL    = "sql"
)

var (
	errInvalidStore = errors.New("invalid store (must be memory or sql)")
	errRunFailed    = errors.New("run failed")
)

// runCfg wraps the run configuration
type runCfg struct {
	configPath string
	store      string
	quiet      bool
}

// NewRunCmd creates the run command
func NewRunCmd() *ffcli.Command {
	cfg := &runCfg{}

	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfg.registerFlags(fs)

	return &ffcli.Command{
		Name:       "run",
		ShortUsage: "run [flags]",
		LongHelp:   "Runs the pipeline once, and prints the run summary as JSON",
		FlagSet:    fs,
		Exec:       cfg.exec,
		Options: []ff.Option{
			// Allow using ENV variables
			ff.WithEnvVars(),
			ff.WithEnvVarPrefix(env.Prefix),
		},
	}
}

func (c *runCfg) registerFlags(fs *flag.FlagSet) {
	fs.StringVar(
		&c.configPath,
		"config",
		"",
		"the path to the TOML configuration, if any",
	)

	fs.StringVar(
		&c.store,
		"store",
		storeMemory,
		"the listing store to persist to (memory or sql)",
	)

	fs.BoolVar(
		&c.quiet,
		"quiet",
		false,
		"only print the run summary, without logs",
	)
}

func (c *runCfg) exec(ctx context.Context, _ []string) error {
	cfg, err := setup.LoadConfig(c.configPath)
	if err != nil {
		return err
	}

	// Logs go to stderr, the summary to stdout
	var logOut io.Writer = os.Stderr
	if c.quiet {
		logOut = io.Discard
	}

	logger := slog.New(slog.NewTextHandler(logOut, nil))

	// Load .env
	if err = godotenv.Load(); err != nil {
		logger.Warn("unable to load .env file")
	}

	runCtx, cancelFn := signal.NotifyContext(
		ctx,
		os.Interrupt,
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer cancelFn()

	var store storage.Storage

	switch c.store {
	case storeMemory:
		store = memory.NewStorage()
	case storeSQL:
		sqlStore, closeFn, err := setup.SQLStore(runCtx, logger)
		if err != nil {
			return err
		}

		defer closeFn()

		store = sqlStore
	default:
		return errInvalidStore
	}

	exporters := []ingest.Exporter{
		export.NewLog(logger),
		export.NewJSON(os.Stdout),
	}

	redisExporter, closeRedis, err := setup.Redis(runCtx, cfg.Redis, logger)
	if err != nil {
		return err
	}

	defer closeRedis()

	if redisExporter != nil {
		exporters = append(exporters, redisExporter)
	}

	pipeline, err := setup.Pipeline(store, cfg, logger, exporters...)
	if err != nil {
		return fmt.Errorf("unable to create pipeline: %w", err)
	}

	summary, err := pipeline.Run(runCtx)
	if err != nil {
		return fmt.Errorf("%w: %w", errRunFailed, err)
	}

	if summary.State == types.RunStateFailed {
		return fmt.Errorf("%w: %s", errRunFailed, summary.Error)
	}

	return nil
}

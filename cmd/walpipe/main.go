package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/obstack/walpipe"
	"github.com/obstack/walpipe/internal/cliconfig"
	"github.com/obstack/walpipe/pkg/log"
)

const helpDescription = `
Durable log shipping: batches are written to a local write-ahead log first,
then exported to their destinations with retry. A crash never loses
acknowledged data; delivery resumes from the last committed offset.

Destinations are configured in the TOML config file as [destinations.<name>]
tables and can be edited while walpipe runs; endpoint and token changes take
effect on the next delivery attempt.
`

var exampleUsage = strings.TrimSpace(`
  walpipe --wal-dir /var/lib/walpipe --config /etc/walpipe/config.toml
  WALPIPE_WAL_DIR=/var/lib/walpipe walpipe --on-exhausted park
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func newLogger(level string) *log.ZerologAdapter {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	zl := zerolog.New(output).Level(lvl).With().Timestamp().Logger()
	return log.NewZerologAdapterWithLogger(zl)
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	root := &cobra.Command{
		Use:     "walpipe",
		Short:   "Ship batches to remote destinations through a crash-safe write-ahead log",
		Long:    strings.TrimSpace(helpDescription),
		Example: exampleUsage,
		Version: fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile := cfgPath
			if cfgFile == "" {
				cfgFile = cliconfig.DefaultConfigPath()
			}

			// Precedence: flags > environment > config file > defaults.
			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

			if cfgFile != "" && cliconfig.FileExists(cfgFile) {
				fc, err := cliconfig.LoadFileConfig(cfgFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				if err := cliconfig.ApplyFileConfig(&cfg, fc, changed); err != nil {
					return err
				}
			}
			if err := cliconfig.ApplyEnvConfig(&cfg, changed); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := newLogger(cfg.LogLevel)

			p, err := walpipe.New(cfg.ToPipelineConfig(), walpipe.WithLogger(logger))
			if err != nil {
				return fmt.Errorf("create pipeline: %w", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			if err := p.Start(ctx); err != nil {
				return fmt.Errorf("start pipeline: %w", err)
			}

			// Hot-reload destination tables when the config file changes.
			if cfgFile != "" && cliconfig.FileExists(cfgFile) {
				cw := cliconfig.NewConfigWatcher(cfgFile, p.UpdateDestinations, logger)
				go cw.Run(ctx)
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh
			logger.Info("received signal, stopping")

			if err := p.Stop(); err != nil {
				return fmt.Errorf("stop pipeline: %w", err)
			}
			return nil
		},
	}

	root.Flags().StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.walpipe/config.toml)")
	root.Flags().StringVar(&cfg.WALDir, "wal-dir", cfg.WALDir, "directory for WAL files and checkpoints")
	root.Flags().StringVar(&cfg.SinkKind, "sink", cfg.SinkKind, "delivery transport (http)")
	root.Flags().StringVar(&cfg.ExhaustionPolicy, "on-exhausted", cfg.ExhaustionPolicy, "file fate after delivery retries run out (abandon|park)")

	root.Flags().Int64Var(&cfg.MaxFileSize, "max-file-size", cfg.MaxFileSize, "rotate WAL files past this many bytes")
	root.Flags().DurationVar(&cfg.MaxFileAge, "max-file-age", cfg.MaxFileAge, "rotate WAL files older than this")
	root.Flags().Int64Var(&cfg.DrainConcurrency, "drain-concurrency", cfg.DrainConcurrency, "files drained simultaneously")
	root.Flags().DurationVar(&cfg.FlushInterval, "flush-interval", cfg.FlushInterval, "checkpoint flush cadence")
	root.Flags().DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "wait between reads of a still-active file")
	root.Flags().DurationVar(&cfg.SweepInterval, "sweep-interval", cfg.SweepInterval, "age-rotation sweep cadence")

	root.Flags().IntVar(&cfg.ExportMaxAttempts, "export-max-attempts", cfg.ExportMaxAttempts, "delivery attempts per entry")
	root.Flags().DurationVar(&cfg.ExportInitialBackoff, "export-initial-backoff", cfg.ExportInitialBackoff, "first retry delay, doubles per retry")
	root.Flags().DurationVar(&cfg.HTTPTimeout, "timeout", cfg.HTTPTimeout, "HTTP timeout per delivery attempt")
	root.Flags().DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "graceful shutdown deadline")

	root.Flags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (trace|debug|info|warn|error)")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "walpipe: %v\n", err)
		os.Exit(1)
	}
}

package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dhcgn/magiclink/cmd"
	"github.com/dhcgn/magiclink/config"
	"github.com/dhcgn/magiclink/runner"
)

// errNotFound ends the process with exit code 2.
var errNotFound = errors.New("no matching link before timeout")

func main() {
	cleanup := func() error { return nil }

	rootCmd := &cobra.Command{
		Use:           "magiclink",
		Short:         "Wait for a magic sign-in link to arrive by mail and print it",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(c *cobra.Command, args []string) error {
			logging, err := config.LoadLogging(c)
			if err != nil {
				return err
			}
			logger, closeLog, err := setupLogger(logging)
			if err != nil {
				return err
			}
			cleanup = closeLog
			slog.SetDefault(logger)
			return nil
		},
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(c, time.Now())
			if err != nil {
				return err
			}
			if err := cfg.RequireLinkText(); err != nil {
				return err
			}
			cfg, err = cmd.ResolvePassword(cfg, os.Stderr)
			if err != nil {
				return err
			}

			logger := slog.Default()
			logger.Info("starting magiclink", "sender", cfg.Sender, "mbox", cfg.MboxPath, "host", cfg.IMAPHost)

			return run(c, cfg, logger)
		},
	}

	config.RegisterFlags(rootCmd)
	config.RegisterWaitFlags(rootCmd)
	cmd.AddCommands(rootCmd)

	err := rootCmd.Execute()
	_ = cleanup()

	switch {
	case errors.Is(err, errNotFound):
		os.Exit(2)
	case err != nil:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cobra.Command, cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []runner.Option
	if term.IsTerminal(int(os.Stderr.Fd())) {
		opts = append(opts, runner.WithProgress(os.Stderr))
	}

	r, err := runner.New(cfg, logger, opts...)
	if err != nil {
		return fmt.Errorf("runner.New: %w", err)
	}

	res, err := r.Run(ctx)
	if err != nil {
		return err
	}
	if !res.Found {
		return errNotFound
	}

	fmt.Fprintln(c.OutOrStdout(), res.Href)
	return nil
}

// setupLogger writes to stderr, and additionally to a rotating file when a
// log directory is configured. Stdout is reserved for the link.
func setupLogger(cfg config.Logging) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelWarn)

	switch cfg.Level {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, cleanup, err
		}

		file := &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Dir, "magiclink.log"),
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		}

		handler := slog.NewTextHandler(io.MultiWriter(os.Stderr, file), opts)
		cleanup = file.Close
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(os.Stderr, opts)
	return slog.New(handler), cleanup, nil
}

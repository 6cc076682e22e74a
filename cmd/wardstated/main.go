package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/wardenlabs/wardstate/internal/config"
	"github.com/wardenlabs/wardstate/internal/daemon"
	"github.com/wardenlabs/wardstate/internal/wserrors"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"wardstate.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Serve struct{} `cmd:"" help:"Run the state daemon"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Write a starter configuration file"`

	Stats struct{} `cmd:"" help:"Print store statistics and exit"`

	Backup struct {
		Path string `arg:"" help:"Destination file for the backup"`
	} `cmd:"" help:"Write a consistent snapshot of the store and exit"`
}

func main() {
	ctx := kong.Parse(&CLI)

	switch ctx.Command() {
	case "serve":
		cfg := mustLoadConfig()
		setupLogging(cfg)
		if err := runServe(cfg); err != nil {
			slog.Error("Daemon failed", "error", err)
			os.Exit(exitCode(err))
		}
	case "init":
		setupDefaultLogging()
		if err := config.WriteStarter(CLI.Config, CLI.Init.Force); err != nil {
			slog.Error("Init failed", "error", err)
			os.Exit(1)
		}
		slog.Info("Configuration written", "path", CLI.Config)
	case "stats":
		cfg := mustLoadConfig()
		setupLogging(cfg)
		if err := runStats(cfg); err != nil {
			slog.Error("Stats failed", "error", err)
			os.Exit(exitCode(err))
		}
	case "backup <path>":
		cfg := mustLoadConfig()
		setupLogging(cfg)
		if err := runBackup(cfg, CLI.Backup.Path); err != nil {
			slog.Error("Backup failed", "error", err)
			os.Exit(exitCode(err))
		}
		slog.Info("Backup written", "path", CLI.Backup.Path)
	}
}

// exitCode maps the error's classification to the process exit code: 2 for
// fatal errors (unusable config, store unreachable at boot), 1 otherwise.
func exitCode(err error) int {
	if wserrors.IsFatal(err) {
		return 2
	}
	return 1
}

func mustLoadConfig() *config.Config {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func setupDefaultLogging() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))
}

func setupLogging(cfg *config.Config) {
	level := config.NormalizeLogLevel(cfg.Logging.Level)
	if CLI.Verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func runServe(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := daemon.OpenStore(ctx, cfg.Store)
	if err != nil {
		return err
	}

	d := daemon.New(cfg, CLI.Config, st)
	if err := d.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	slog.Info("Shutdown signal received, stopping daemon")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	d.Stop(stopCtx)
	return nil
}

func runStats(cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, err := daemon.OpenStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := st.Stats(ctx)
	if err != nil {
		return fmt.Errorf("read store statistics: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}

func runBackup(cfg *config.Config, path string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	st, err := daemon.OpenStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	return st.Backup(ctx, path)
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/previewd/internal/config"
	"git.home.luguber.info/inful/previewd/internal/daemon"
	"git.home.luguber.info/inful/previewd/internal/pipeline"
	"git.home.luguber.info/inful/previewd/internal/version"
)

var CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"previewd.yaml"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `help:"Print version and exit"`

	Build struct {
		Timeout time.Duration `help:"Overall build deadline" default:"15m"`
		Keep    bool          `help:"Leave the sandbox running after the build"`
	} `cmd:"" help:"Run one full build and print the preview URL"`

	Watch struct {
	} `cmd:"" help:"Build, then keep the preview converged with source changes"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Initialize a new configuration file"`
}

func main() {
	ctx := kong.Parse(&CLI, kong.Vars{
		"version": fmt.Sprintf("previewd %s (commit %s, built %s)", version.Version, version.GitCommit, version.BuildTime),
	})

	switch ctx.Command() {
	case "build":
		cfg := loadConfig()
		if err := runBuild(cfg); err != nil {
			slog.Error("Build failed", "error", err)
			os.Exit(1)
		}
	case "watch":
		cfg := loadConfig()
		if err := runWatch(cfg); err != nil {
			slog.Error("Watch failed", "error", err)
			os.Exit(1)
		}
	case "init":
		if err := config.Init(CLI.Config, CLI.Init.Force); err != nil {
			slog.Error("Init failed", "error", err)
			os.Exit(1)
		}
		fmt.Println("wrote", CLI.Config)
	}
}

// loadConfig reads the config file when present and falls back to defaults
// plus environment variables otherwise, then installs the logger.
func loadConfig() *config.Config {
	var cfg *config.Config
	if _, err := os.Stat(CLI.Config); err == nil {
		loaded, err := config.Load(CLI.Config)
		if err != nil {
			slog.Error("Failed to load configuration", "error", err)
			os.Exit(1)
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}
	setupLogging(cfg)
	return cfg
}

func setupLogging(cfg *config.Config) {
	level := cfg.Logging.Level.SlogLevel()
	if CLI.Verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Logging.Format == config.LogFormatJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// runBuild performs a single converge cycle: boot, build, print the URL.
func runBuild(cfg *config.Config) error {
	d, err := daemon.New(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), CLI.Build.Timeout)
	defer cancel()

	if err := d.BuildOnce(ctx); err != nil {
		return err
	}

	snap := d.Controller().Snapshot()
	switch snap.State {
	case pipeline.StateLive:
		fmt.Println(snap.ServerURL)
	case pipeline.StateDisabled:
		return fmt.Errorf("preview provider not configured (set PREVIEWD_PROVIDER_URL and PREVIEWD_PROVIDER_TOKEN)")
	case pipeline.StateReadyNoServer:
		slog.Warn("No build started; the file set has no package manifest")
	default:
		if snap.Failure != nil {
			return fmt.Errorf("build failed at stage %s: %s", snap.Failure.Stage, snap.Failure.Message)
		}
		return fmt.Errorf("unexpected final state %s", snap.State)
	}

	if !CLI.Build.Keep {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		d.Controller().Shutdown(shutdownCtx)
	}
	return nil
}

// runWatch runs the daemon until interrupted.
func runWatch(cfg *config.Config) error {
	d, err := daemon.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return d.Run(ctx)
}

// Package cmd runs an application under a signal-aware context with the
// startup and shutdown bookkeeping every entry point shares.
package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/m3rciful/studybot/core/logger"
)

// App is a loaded application ready to serve.
type App interface {
	Run(ctx context.Context) error
}

// Options describe how to find the configuration, load the app and run it.
type Options struct {
	// ConfigPath wins over ConfigEnvVar, which wins over DefaultConfigPath.
	ConfigPath        string
	ConfigEnvVar      string
	DefaultConfigPath string

	Load func(ctx context.Context, path string) (App, error)

	ShutdownLogger func() error
	// Signals defaults to SIGINT and SIGTERM.
	Signals []os.Signal
}

// ResolveConfigPath resolves the configuration file location.
func (o Options) ResolveConfigPath() (string, error) {
	if p := strings.TrimSpace(o.ConfigPath); p != "" {
		return p, nil
	}
	env := o.ConfigEnvVar
	if env == "" {
		env = "CONFIG_PATH"
	}
	if p := strings.TrimSpace(os.Getenv(env)); p != "" {
		return p, nil
	}
	if o.DefaultConfigPath == "" {
		return "", fmt.Errorf("cmd: config path not provided via flag, %s or DefaultConfigPath", env)
	}
	return o.DefaultConfigPath, nil
}

// Run loads the app and serves it until a signal arrives or it fails.
func Run(opts Options) error {
	if opts.Load == nil {
		return fmt.Errorf("cmd: Load is required")
	}
	cfgPath, err := opts.ResolveConfigPath()
	if err != nil {
		return err
	}

	signals := opts.Signals
	if len(signals) == 0 {
		signals = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	ctx, cancel := signal.NotifyContext(context.Background(), signals...)
	defer cancel()

	shutdownLogger := opts.ShutdownLogger
	if shutdownLogger == nil {
		shutdownLogger = logger.Shutdown
	}
	defer func() {
		if err := shutdownLogger(); err != nil {
			log.Printf("logger shutdown error: %v", err)
		}
	}()

	startedAt := time.Now()
	log.Printf("loading config: %s", cfgPath)
	app, err := opts.Load(ctx, cfgPath)
	if err != nil {
		return fmt.Errorf("cmd: load failed: %w", err)
	}
	logger.Info(ctx, "app", "ready", slog.Duration("startup_duration", logger.Took(startedAt)))

	err = app.Run(ctx)
	logger.Info(context.WithoutCancel(ctx), "app", "shutdown", slog.Bool("signal", ctx.Err() != nil))
	return err
}

// Package bootstrap brings up the shared infrastructure every entry point
// needs: the logger, the database pool and the schema.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	coreconfig "github.com/m3rciful/studybot/core/config"
	coredatabase "github.com/m3rciful/studybot/core/database"
	"github.com/m3rciful/studybot/core/logger"
)

// Options control the bootstrap pipeline. Nil funcs fall back to the core
// implementations; a nil Migrate skips migrations.
type Options struct {
	Logging  coreconfig.LoggingConfig
	Database coredatabase.Config

	LoggerInit func(coreconfig.LoggingConfig) error
	Connect    func(context.Context, coredatabase.Config) (*sqlx.DB, error)
	Migrate    func(context.Context, *sqlx.DB, coredatabase.Config) error
}

// Result exposes infrastructure initialized by the bootstrap pipeline.
type Result struct {
	DB *sqlx.DB
}

// Run initializes the logger, connects to the database, and applies migrations.
func Run(ctx context.Context, opts Options) (*Result, error) {
	loggerInit := opts.LoggerInit
	if loggerInit == nil {
		loggerInit = logger.InitLogger
	}
	if err := loggerInit(opts.Logging); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init failed: %w", err)
	}

	connect := opts.Connect
	if connect == nil {
		connect = coredatabase.Connect
	}
	db, err := connect(ctx, opts.Database)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: database initialization failed: %w", err)
	}

	if opts.Migrate != nil {
		start := time.Now()
		if err := opts.Migrate(ctx, db, opts.Database); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("bootstrap: migrations failed: %w", err)
		}
		logger.Debug(ctx, "app", "bootstrap.migrated", slog.Duration("duration", logger.Took(start)))
	}

	return &Result{DB: db}, nil
}

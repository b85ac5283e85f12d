package database

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"

	"github.com/m3rciful/studybot/core/logger"
)

// RunMigrations applies all up migrations found under dir/<driver> in src.
// For postgres the migrator opens its own connection from cfg; sqlite3 reuses
// db so in-memory databases see the schema.
func RunMigrations(ctx context.Context, db *sqlx.DB, cfg Config, src fs.FS, dir string) error {
	path := dir + "/" + cfg.Driver
	files := listMigrationFiles(src, path)
	preview, truncated := logger.SummarizeStrings(files, 6)
	attrs := []slog.Attr{
		slog.String("path", path),
		slog.String("driver", cfg.Driver),
		slog.Int("files_total", len(files)),
	}
	if preview != "" {
		attrs = append(attrs, slog.String("files_preview", preview))
	}
	if truncated {
		attrs = append(attrs, slog.Bool("files_truncated", true))
	}
	logger.Debug(ctx, "db.migrate", "resolve", attrs...)

	source, err := iofs.New(src, path)
	if err != nil {
		logger.Error(ctx, "db.migrate", "init", logger.Err(err))
		return fmt.Errorf("open migration source: %w", err)
	}

	var m *migrate.Migrate
	switch cfg.Driver {
	case DriverSQLite:
		driver, derr := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
		if derr != nil {
			return fmt.Errorf("init sqlite3 migrator: %w", derr)
		}
		m, err = migrate.NewWithInstance("iofs", source, DriverSQLite, driver)
	default:
		m, err = migrate.NewWithSourceInstance("iofs", source, cfg.URL())
		if err == nil {
			// The postgres driver owns its connection; closing it leaves db alone.
			defer func() {
				srcErr, dbErr := m.Close()
				if cerr := errors.Join(srcErr, dbErr); cerr != nil {
					logger.Warn(ctx, "db.migrate", "close", logger.Err(cerr))
				}
			}()
		}
	}
	if err != nil {
		logger.Error(ctx, "db.migrate", "init", logger.Err(err))
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}

	fromVer, _, _ := m.Version()

	start := time.Now()
	upErr := m.Up()
	took := logger.Took(start)

	switch {
	case upErr == nil:
	case errors.Is(upErr, migrate.ErrNoChange):
		logger.Info(ctx, "db.migrate", "summary",
			slog.Uint64("from_ver", uint64(fromVer)),
			slog.Uint64("to_ver", uint64(fromVer)),
			slog.Int("files", 0),
			slog.Duration("duration", took),
		)
		return nil
	default:
		logger.Error(ctx, "db.migrate", "apply",
			logger.Err(upErr),
			slog.Duration("duration", took),
		)
		return fmt.Errorf("migration execution failed: %w", upErr)
	}

	toVer, _, _ := m.Version()
	applied := selectApplied(files, uint64(fromVer), uint64(toVer))
	if len(applied) > 0 && logger.ShouldSampleDebug() {
		p, tr := logger.SummarizeStrings(applied, 6)
		logger.Debug(ctx, "db.migrate", "apply",
			slog.Int("files_total", len(applied)),
			slog.String("files_preview", p),
			slog.Bool("files_truncated", tr),
		)
	}

	logger.Info(ctx, "db.migrate", "summary",
		slog.Uint64("from_ver", uint64(fromVer)),
		slog.Uint64("to_ver", uint64(toVer)),
		slog.Int("files", len(applied)),
		slog.Duration("duration", took),
	)
	return nil
}

func listMigrationFiles(src fs.FS, dir string) []string {
	entries, err := fs.ReadDir(src, dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names
}

func parseVersion(name string) uint64 {
	head, _, _ := strings.Cut(name, "_")
	v, _ := strconv.ParseUint(head, 10, 64)
	return v
}

func selectApplied(files []string, from, to uint64) []string {
	if to <= from {
		return nil
	}
	var out []string
	for _, f := range files {
		if v := parseVersion(f); v > from && v <= to {
			out = append(out, f)
		}
	}
	return out
}

package bootstrap

import (
	"context"
	"errors"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	coreconfig "github.com/m3rciful/studybot/core/config"
	coredatabase "github.com/m3rciful/studybot/core/database"
)

func memoryDB(context.Context, coredatabase.Config) (*sqlx.DB, error) {
	return sqlx.Open("sqlite3", ":memory:")
}

func TestRunOrder(t *testing.T) {
	var steps []string
	res, err := Run(context.Background(), Options{
		LoggerInit: func(coreconfig.LoggingConfig) error { steps = append(steps, "logger"); return nil },
		Connect: func(ctx context.Context, cfg coredatabase.Config) (*sqlx.DB, error) {
			steps = append(steps, "connect")
			return memoryDB(ctx, cfg)
		},
		Migrate: func(context.Context, *sqlx.DB, coredatabase.Config) error {
			steps = append(steps, "migrate")
			return nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer res.DB.Close()
	if len(steps) != 3 || steps[0] != "logger" || steps[1] != "connect" || steps[2] != "migrate" {
		t.Fatalf("steps = %v", steps)
	}
}

func TestRunStopsOnFailure(t *testing.T) {
	boom := errors.New("boom")
	_, err := Run(context.Background(), Options{
		LoggerInit: func(coreconfig.LoggingConfig) error { return nil },
		Connect:    memoryDB,
		Migrate:    func(context.Context, *sqlx.DB, coredatabase.Config) error { return boom },
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}

	connected := false
	_, err = Run(context.Background(), Options{
		LoggerInit: func(coreconfig.LoggingConfig) error { return boom },
		Connect: func(context.Context, coredatabase.Config) (*sqlx.DB, error) {
			connected = true
			return nil, nil
		},
	})
	if !errors.Is(err, boom) || connected {
		t.Fatalf("err = %v, connected = %v", err, connected)
	}
}

package sqlstore

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/m3rciful/studybot/core/database"
	"github.com/m3rciful/studybot/internal/domain"
	"github.com/m3rciful/studybot/internal/storage"
	"github.com/m3rciful/studybot/internal/storage/storagetest"
)

func openSQLite(t *testing.T) *Store {
	t.Helper()
	db, err := sqlx.Open(database.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	// Every pooled connection would get its own empty in-memory database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	cfg := database.Config{Driver: database.DriverSQLite, Path: ":memory:"}
	if err := Migrate(context.Background(), db, cfg); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(db)
}

func TestStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store { return openSQLite(t) })
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := openSQLite(t)
	cfg := database.Config{Driver: database.DriverSQLite, Path: ":memory:"}
	if err := Migrate(context.Background(), s.db, cfg); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestCreateRequestRollsBackOnInsertFailure(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	if _, err := s.db.ExecContext(ctx, `DROP TABLE requests`); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if err := s.CreateRequest(ctx, storagetest.RequestFixture(1)); err == nil {
		t.Fatal("expected insert failure")
	}
	var value int64
	err := s.db.GetContext(ctx, &value, `SELECT COALESCE(MAX(value), 0) FROM counters WHERE name = 'request'`)
	if err != nil || value != 0 {
		t.Fatalf("failed insert consumed an id: value=%d err=%v", value, err)
	}
}

func TestOnePendingPaymentPerRequest(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	r := storagetest.NewRequest(t, s, 1)
	ok, err := s.OfferRequest(ctx, r.ID, domain.Offer{Price: "1", Delivery: "1"})
	if err != nil || !ok {
		t.Fatalf("offer: %v, %v", ok, err)
	}
	first := domain.Payment{RequestID: r.ID, SubmitterID: 1, Evidence: domain.FileRef{ID: "a", Kind: domain.FilePhoto}}
	if ok, err := s.SubmitPayment(ctx, &first, domain.StatusOffered, domain.StatusAwaitingPayment); err != nil || !ok {
		t.Fatalf("submit: %v, %v", ok, err)
	}

	// A write that skips the pending check still cannot add a second one.
	dup := domain.Payment{RequestID: r.ID, SubmitterID: 1, Evidence: domain.FileRef{ID: "b", Kind: domain.FilePhoto}}
	if err := s.CreatePayment(ctx, &dup); err == nil {
		t.Fatal("second pending payment was stored")
	}

	var pending int
	if err := s.db.GetContext(ctx, &pending, `SELECT COUNT(*) FROM payments WHERE status = 'pending'`); err != nil || pending != 1 {
		t.Fatalf("pending = %d, %v", pending, err)
	}
	got, _ := s.GetRequest(ctx, r.ID)
	if got.Status != domain.StatusAwaitingPayment {
		t.Fatalf("status = %s", got.Status)
	}
}

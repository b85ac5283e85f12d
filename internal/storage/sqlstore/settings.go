package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

func (s *Store) Flag(ctx context.Context, name string) (bool, error) {
	var value string
	err := s.db.GetContext(ctx, &value, s.db.Rebind(`SELECT value FROM settings WHERE name = ?`), name)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("read flag %s: %w", name, err)
	}
	return value == "1", nil
}

func (s *Store) SetFlag(ctx context.Context, name string, on bool) error {
	value := "0"
	if on {
		value = "1"
	}
	_, err := s.exec(ctx, s.db, `
		INSERT INTO settings (name, value) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET value = excluded.value`, name, value)
	if err != nil {
		return fmt.Errorf("write flag %s: %w", name, err)
	}
	return nil
}

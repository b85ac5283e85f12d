package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/studybot/internal/domain"
	"github.com/m3rciful/studybot/internal/storage"
)

type paymentRow struct {
	ID           int64      `db:"id"`
	RequestID    int64      `db:"request_id"`
	SubmitterID  int64      `db:"submitter_id"`
	EvidenceID   string     `db:"evidence_id"`
	EvidenceKind string     `db:"evidence_kind"`
	EvidenceName string     `db:"evidence_name"`
	Status       string     `db:"status"`
	CreatedAt    time.Time  `db:"created_at"`
	ResolvedAt   *time.Time `db:"resolved_at"`
}

const paymentColumns = `id, request_id, submitter_id, evidence_id, evidence_kind, evidence_name,
	status, created_at, resolved_at`

func (r paymentRow) toDomain() domain.Payment {
	p := domain.Payment{
		ID:          r.ID,
		RequestID:   r.RequestID,
		SubmitterID: r.SubmitterID,
		Evidence: domain.FileRef{
			ID:   r.EvidenceID,
			Kind: domain.FileKind(r.EvidenceKind),
			Name: r.EvidenceName,
		},
		Status:    domain.PaymentStatus(r.Status),
		CreatedAt: r.CreatedAt.UTC(),
	}
	if r.ResolvedAt != nil {
		at := r.ResolvedAt.UTC()
		p.ResolvedAt = &at
	}
	return p
}

func (s *Store) CreatePayment(ctx context.Context, p *domain.Payment) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		return s.insertPayment(ctx, tx, p)
	})
}

func (s *Store) insertPayment(ctx context.Context, tx *sqlx.Tx, p *domain.Payment) error {
	id, err := s.nextID(ctx, tx, storage.SeqPayment)
	if err != nil {
		return err
	}
	if p.Status == "" {
		p.Status = domain.PaymentPending
	}
	now := s.now()
	_, err = s.exec(ctx, tx, `
		INSERT INTO payments (id, request_id, submitter_id, evidence_id, evidence_kind,
			evidence_name, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, p.RequestID, p.SubmitterID, p.Evidence.ID, string(p.Evidence.Kind),
		p.Evidence.Name, string(p.Status), now,
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	p.ID, p.CreatedAt = id, now
	return nil
}

func (s *Store) SubmitPayment(ctx context.Context, p *domain.Payment, from ...domain.Status) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	// The request update comes first so its row lock serializes concurrent
	// submissions before the pending count is read.
	return s.casTx(ctx, func(tx *sqlx.Tx) error {
		query, args, err := sqlx.In(
			`UPDATE requests SET status = ?, payment_rejected = ?, updated_at = ? WHERE id = ? AND status IN (?)`,
			string(domain.StatusAwaitingPayment), false, s.now(), p.RequestID, statusCodes(from))
		if err != nil {
			return fmt.Errorf("expand statuses: %w", err)
		}
		n, err := s.exec(ctx, tx, query, args...)
		if err != nil {
			return fmt.Errorf("move request to awaiting payment: %w", err)
		}
		if n != 1 {
			return errAbort
		}

		var pending int
		err = tx.GetContext(ctx, &pending, s.db.Rebind(
			`SELECT COUNT(*) FROM payments WHERE request_id = ? AND status = ?`),
			p.RequestID, string(domain.PaymentPending))
		if err != nil {
			return fmt.Errorf("count pending payments: %w", err)
		}
		if pending > 0 {
			return errAbort
		}
		p.Status = domain.PaymentPending
		return s.insertPayment(ctx, tx, p)
	})
}

func (s *Store) GetPayment(ctx context.Context, id int64) (domain.Payment, error) {
	var row paymentRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+paymentColumns+` FROM payments WHERE id = ?`), id)
	if err != nil {
		return domain.Payment{}, notFound(err)
	}
	return row.toDomain(), nil
}

func (s *Store) UpdatePaymentStatus(ctx context.Context, id int64, from, to domain.PaymentStatus) (bool, error) {
	n, err := s.exec(ctx, s.db,
		`UPDATE payments SET status = ?, resolved_at = ? WHERE id = ? AND status = ?`,
		string(to), s.now(), id, string(from))
	if err != nil {
		return false, fmt.Errorf("update payment status: %w", err)
	}
	return n == 1, nil
}

func (s *Store) ResolvePayment(ctx context.Context, id int64, to domain.PaymentStatus) (bool, error) {
	next, rejected := domain.StatusActive, false
	if to != domain.PaymentAccepted {
		next, rejected = domain.StatusOffered, true
	}
	return s.casTx(ctx, func(tx *sqlx.Tx) error {
		now := s.now()
		n, err := s.exec(ctx, tx,
			`UPDATE payments SET status = ?, resolved_at = ? WHERE id = ? AND status = ?`,
			string(to), now, id, string(domain.PaymentPending))
		if err != nil {
			return fmt.Errorf("resolve payment: %w", err)
		}
		if n != 1 {
			return errAbort
		}
		n, err = s.exec(ctx, tx, `
			UPDATE requests SET status = ?, payment_rejected = ?, updated_at = ?
			WHERE id = (SELECT request_id FROM payments WHERE id = ?) AND status = ?`,
			string(next), rejected, now, id, string(domain.StatusAwaitingPayment))
		if err != nil {
			return fmt.Errorf("move request after payment: %w", err)
		}
		if n != 1 {
			return errAbort
		}
		return nil
	})
}

func (s *Store) ListPayments(ctx context.Context, limit int) ([]domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments ORDER BY id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.selectPayments(ctx, query, args...)
}

func (s *Store) ListPaymentsByRequest(ctx context.Context, requestID int64) ([]domain.Payment, error) {
	return s.selectPayments(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE request_id = ? ORDER BY id DESC`, requestID)
}

func (s *Store) selectPayments(ctx context.Context, query string, args ...any) ([]domain.Payment, error) {
	var rows []paymentRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	out := make([]domain.Payment, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

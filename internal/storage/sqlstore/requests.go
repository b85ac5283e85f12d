package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/studybot/internal/domain"
	"github.com/m3rciful/studybot/internal/storage"
)

type requestRow struct {
	ID              int64     `db:"id"`
	OwnerID         int64     `db:"owner_id"`
	OwnerChatID     int64     `db:"owner_chat_id"`
	OwnerName       string    `db:"owner_name"`
	Subject         string    `db:"subject"`
	Counterpart     string    `db:"counterpart"`
	Deadline        string    `db:"deadline"`
	Details         string    `db:"details"`
	AttachmentID    *string   `db:"attachment_id"`
	AttachmentKind  *string   `db:"attachment_kind"`
	AttachmentName  *string   `db:"attachment_name"`
	Status          string    `db:"status"`
	Price           *string   `db:"price"`
	Delivery        *string   `db:"delivery"`
	Notes           *string   `db:"notes"`
	PaymentRejected bool      `db:"payment_rejected"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

const requestColumns = `id, owner_id, owner_chat_id, owner_name, subject, counterpart, deadline,
	details, attachment_id, attachment_kind, attachment_name, status, price, delivery, notes,
	payment_rejected, created_at, updated_at`

func (r requestRow) toDomain() domain.Request {
	out := domain.Request{
		ID:              r.ID,
		OwnerID:         r.OwnerID,
		OwnerChatID:     r.OwnerChatID,
		OwnerName:       r.OwnerName,
		Subject:         r.Subject,
		Counterpart:     r.Counterpart,
		Deadline:        r.Deadline,
		Details:         r.Details,
		Status:          domain.Status(r.Status),
		Price:           r.Price,
		Delivery:        r.Delivery,
		Notes:           r.Notes,
		PaymentRejected: r.PaymentRejected,
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
	if r.AttachmentID != nil {
		out.Attachment = &domain.FileRef{ID: *r.AttachmentID}
		if r.AttachmentKind != nil {
			out.Attachment.Kind = domain.FileKind(*r.AttachmentKind)
		}
		if r.AttachmentName != nil {
			out.Attachment.Name = *r.AttachmentName
		}
	}
	return out
}

func (s *Store) CreateRequest(ctx context.Context, r *domain.Request) error {
	if r.Status == "" {
		r.Status = domain.StatusNew
	}
	var attID, attKind, attName *string
	if a := r.Attachment; a != nil {
		kind := string(a.Kind)
		attID, attKind, attName = &a.ID, &kind, &a.Name
	}
	now := s.now()
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		id, err := s.nextID(ctx, tx, storage.SeqRequest)
		if err != nil {
			return err
		}
		_, err = s.exec(ctx, tx, `
			INSERT INTO requests (id, owner_id, owner_chat_id, owner_name, subject, counterpart,
				deadline, details, attachment_id, attachment_kind, attachment_name, status,
				payment_rejected, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, r.OwnerID, r.OwnerChatID, r.OwnerName, r.Subject, r.Counterpart,
			r.Deadline, r.Details, attID, attKind, attName, string(r.Status),
			false, now, now,
		)
		if err != nil {
			return fmt.Errorf("insert request: %w", err)
		}
		r.ID, r.CreatedAt, r.UpdatedAt = id, now, now
		return nil
	})
}

func (s *Store) GetRequest(ctx context.Context, id int64) (domain.Request, error) {
	var row requestRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+requestColumns+` FROM requests WHERE id = ?`), id)
	if err != nil {
		return domain.Request{}, notFound(err)
	}
	return row.toDomain(), nil
}

func (s *Store) UpdateRequestStatus(ctx context.Context, id int64, from, to domain.Status) (bool, error) {
	n, err := s.exec(ctx, s.db, `
		UPDATE requests SET status = ?, payment_rejected = payment_rejected AND ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(to), to == domain.StatusOffered, s.now(), id, string(from))
	if err != nil {
		return false, fmt.Errorf("update request status: %w", err)
	}
	return n == 1, nil
}

func (s *Store) CancelRequest(ctx context.Context, id int64, from ...domain.Status) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	return s.casTx(ctx, func(tx *sqlx.Tx) error {
		now := s.now()
		query, args, err := sqlx.In(
			`UPDATE requests SET status = ?, payment_rejected = ?, updated_at = ? WHERE id = ? AND status IN (?)`,
			string(domain.StatusCancelled), false, now, id, statusCodes(from))
		if err != nil {
			return fmt.Errorf("expand statuses: %w", err)
		}
		n, err := s.exec(ctx, tx, query, args...)
		if err != nil {
			return fmt.Errorf("cancel request: %w", err)
		}
		if n != 1 {
			return errAbort
		}
		_, err = s.exec(ctx, tx,
			`UPDATE payments SET status = ?, resolved_at = ? WHERE request_id = ? AND status = ?`,
			string(domain.PaymentRejected), now, id, string(domain.PaymentPending))
		if err != nil {
			return fmt.Errorf("reject pending payments: %w", err)
		}
		return nil
	})
}

const offerFieldsQuery = `UPDATE requests SET price = ?, delivery = ?, notes = ?, updated_at = ? WHERE id = ?`

func (s *Store) UpdateOfferFields(ctx context.Context, id int64, offer domain.Offer) error {
	n, err := s.exec(ctx, s.db, offerFieldsQuery, offer.Price, offer.Delivery, offer.Notes, s.now(), id)
	if err != nil {
		return fmt.Errorf("update offer fields: %w", err)
	}
	if n == 0 {
		return notFound(sql.ErrNoRows)
	}
	return nil
}

func (s *Store) OfferRequest(ctx context.Context, id int64, offer domain.Offer) (bool, error) {
	return s.casTx(ctx, func(tx *sqlx.Tx) error {
		now := s.now()
		n, err := s.exec(ctx, tx, `UPDATE requests SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			string(domain.StatusOffered), now, id, string(domain.StatusNew))
		if err != nil {
			return fmt.Errorf("offer request: %w", err)
		}
		if n != 1 {
			return errAbort
		}
		if _, err := s.exec(ctx, tx, offerFieldsQuery, offer.Price, offer.Delivery, offer.Notes, now, id); err != nil {
			return fmt.Errorf("store offer fields: %w", err)
		}
		return nil
	})
}

func (s *Store) ListRequestsByStatus(ctx context.Context, statuses ...domain.Status) ([]domain.Request, error) {
	return s.listRequests(ctx, "", nil, statuses)
}

func (s *Store) ListRequestsByOwner(ctx context.Context, owner int64, statuses ...domain.Status) ([]domain.Request, error) {
	return s.listRequests(ctx, "owner_id = ?", []any{owner}, statuses)
}

func (s *Store) listRequests(ctx context.Context, cond string, args []any, statuses []domain.Status) ([]domain.Request, error) {
	var where []string
	if cond != "" {
		where = append(where, cond)
	}
	if len(statuses) > 0 {
		where = append(where, "status IN (?)")
		args = append(args, statusCodes(statuses))
	}
	query := `SELECT ` + requestColumns + ` FROM requests`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id DESC`

	if len(statuses) > 0 {
		var err error
		if query, args, err = sqlx.In(query, args...); err != nil {
			return nil, fmt.Errorf("expand statuses: %w", err)
		}
	}
	var rows []requestRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	out := make([]domain.Request, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) ListDistinctParticipants(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := s.db.SelectContext(ctx, &ids, `SELECT DISTINCT owner_id FROM requests ORDER BY owner_id`); err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return ids, nil
}

func (s *Store) CountByStatus(ctx context.Context) (map[domain.Status]int, error) {
	var rows []struct {
		Status string `db:"status"`
		N      int    `db:"n"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT status, COUNT(*) AS n FROM requests GROUP BY status`); err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	out := make(map[domain.Status]int, len(rows))
	for _, r := range rows {
		out[domain.Status(r.Status)] = r.N
	}
	return out, nil
}

func statusCodes(statuses []domain.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// Package storage defines the persistence ports of the request workflow.
//
// Every status change is a compare-and-set on the request id: the write only
// lands when the stored status still equals the expected one, and the boolean
// result reports whether it did. Writes that touch several rows run in one
// transaction.
package storage

import (
	"context"
	"errors"

	"github.com/m3rciful/studybot/internal/domain"
)

// ErrNotFound is returned when a request or payment id is unknown.
var ErrNotFound = errors.New("storage: not found")

// Sequence names.
const (
	SeqRequest = "request"
	SeqPayment = "payment"
)

// FlagMaintenance toggles maintenance mode.
const FlagMaintenance = "maintenance"

// Sequencer hands out ids that are unique and increasing per name.
type Sequencer interface {
	NextID(ctx context.Context, name string) (int64, error)
}

// Requests persists requests.
type Requests interface {
	// CreateRequest allocates the id and inserts r in one step. r.ID,
	// r.CreatedAt and r.UpdatedAt are filled in.
	CreateRequest(ctx context.Context, r *domain.Request) error
	GetRequest(ctx context.Context, id int64) (domain.Request, error)
	// UpdateRequestStatus moves id from from to to. Any target other than
	// offered clears the payment rejected marker.
	UpdateRequestStatus(ctx context.Context, id int64, from, to domain.Status) (bool, error)
	// CancelRequest moves id from one of from to cancelled and rejects its
	// pending payments in the same step.
	CancelRequest(ctx context.Context, id int64, from ...domain.Status) (bool, error)
	UpdateOfferFields(ctx context.Context, id int64, offer domain.Offer) error
	// OfferRequest moves a new request to offered and stores the terms.
	OfferRequest(ctx context.Context, id int64, offer domain.Offer) (bool, error)
	// ListRequestsByStatus returns newest first; no statuses means all.
	ListRequestsByStatus(ctx context.Context, statuses ...domain.Status) ([]domain.Request, error)
	ListRequestsByOwner(ctx context.Context, owner int64, statuses ...domain.Status) ([]domain.Request, error)
	ListDistinctParticipants(ctx context.Context) ([]int64, error)
	CountByStatus(ctx context.Context) (map[domain.Status]int, error)
}

// Payments persists payment evidence.
type Payments interface {
	CreatePayment(ctx context.Context, p *domain.Payment) error
	// SubmitPayment records p as pending and moves its request from one of
	// from to awaiting payment, clearing the payment rejected marker. It
	// reports false when the request left those states or already has a
	// pending payment.
	SubmitPayment(ctx context.Context, p *domain.Payment, from ...domain.Status) (bool, error)
	GetPayment(ctx context.Context, id int64) (domain.Payment, error)
	UpdatePaymentStatus(ctx context.Context, id int64, from, to domain.PaymentStatus) (bool, error)
	// ResolvePayment settles a pending payment and moves its request out of
	// awaiting payment: to active when accepted, back to offered with the
	// payment rejected marker when rejected.
	ResolvePayment(ctx context.Context, id int64, to domain.PaymentStatus) (bool, error)
	ListPayments(ctx context.Context, limit int) ([]domain.Payment, error)
	ListPaymentsByRequest(ctx context.Context, requestID int64) ([]domain.Payment, error)
}

// Settings stores process-wide switches.
type Settings interface {
	Flag(ctx context.Context, name string) (bool, error)
	SetFlag(ctx context.Context, name string, on bool) error
}

// Store is the full persistence port.
type Store interface {
	Sequencer
	Requests
	Payments
	Settings
	Ping(ctx context.Context) error
}

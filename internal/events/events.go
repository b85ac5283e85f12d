// Package events publishes request lifecycle changes for downstream
// consumers. Publishing is best effort: callers log failures and move on.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/m3rciful/studybot/internal/domain"
)

// Event types.
const (
	TypeSubmitted        = "request.submitted"
	TypeOffered          = "request.offered"
	TypeRejected         = "request.rejected"
	TypeAccepted         = "request.accepted"
	TypeDeclined         = "request.declined"
	TypeCancelled        = "request.cancelled"
	TypePaymentSubmitted = "payment.submitted"
	TypePaymentConfirmed = "payment.confirmed"
	TypePaymentRejected  = "payment.rejected"
	TypeDelivered        = "request.delivered"
)

// Event describes one transition.
type Event struct {
	ID        string        `json:"id"`
	Type      string        `json:"type"`
	RequestID int64         `json:"request_id"`
	PaymentID int64         `json:"payment_id,omitempty"`
	From      domain.Status `json:"from,omitempty"`
	To        domain.Status `json:"to"`
	Actor     int64         `json:"actor"`
	At        time.Time     `json:"at"`
}

// New stamps an event with a fresh id and time.
func New(typ string, requestID int64, from, to domain.Status, actor int64) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      typ,
		RequestID: requestID,
		From:      from,
		To:        to,
		Actor:     actor,
		At:        time.Now().UTC(),
	}
}

// Publisher emits events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

package domain

import (
	"slices"
	"time"
)

// FileKind tells the transport how to resend a file.
type FileKind string

const (
	FileDocument FileKind = "document"
	FilePhoto    FileKind = "photo"
)

// FileRef points at a file held by the messaging transport.
type FileRef struct {
	ID   string   `json:"id"`
	Kind FileKind `json:"kind"`
	Name string   `json:"name,omitempty"`
}

// Request is a unit of work submitted by a requester.
type Request struct {
	ID          int64
	OwnerID     int64
	OwnerChatID int64
	OwnerName   string
	Subject     string
	Counterpart string
	Deadline    string
	Details     string
	Attachment  *FileRef
	Status      Status
	// Price and Delivery are set once an offer was made and kept afterwards.
	Price           *string
	Delivery        *string
	Notes           *string
	PaymentRejected bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Offer carries the operator's terms.
type Offer struct {
	Price    string
	Delivery string
	Notes    *string
}

// PaymentStatus is the verification state of a payment.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentAccepted PaymentStatus = "accepted"
	PaymentRejected PaymentStatus = "rejected"
)

// Payment is evidence submitted for a request.
type Payment struct {
	ID          int64
	RequestID   int64
	SubmitterID int64
	Evidence    FileRef
	Status      PaymentStatus
	CreatedAt   time.Time
	ResolvedAt  *time.Time
}

// Stats aggregates request counts.
type Stats struct {
	Total      int            `json:"total"`
	Pending    int            `json:"pending"`
	InProgress int            `json:"in_progress"`
	Completed  int            `json:"completed"`
	ByStatus   map[Status]int `json:"by_status"`
}

// NewStats folds per-status counts into Stats.
func NewStats(counts map[Status]int) Stats {
	s := Stats{ByStatus: make(map[Status]int, len(counts))}
	for st, n := range counts {
		s.ByStatus[st] = n
		s.Total += n
		switch {
		case st == StatusNew:
			s.Pending += n
		case slices.Contains(InFlightStatuses, st):
			s.InProgress += n
		case st == StatusCompleted:
			s.Completed += n
		}
	}
	return s
}

// OperatorSet is the fixed set of operator user ids.
type OperatorSet struct {
	ids []int64
}

// NewOperatorSet copies ids, dropping zeros and duplicates.
func NewOperatorSet(ids ...int64) OperatorSet {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id != 0 && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return OperatorSet{ids: out}
}

// Contains reports whether id is an operator.
func (o OperatorSet) Contains(id int64) bool { return slices.Contains(o.ids, id) }

// IDs returns a copy of the operator ids.
func (o OperatorSet) IDs() []int64 { return slices.Clone(o.ids) }

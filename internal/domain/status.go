// Package domain holds the request and payment model shared by storage,
// workflow and the bot.
package domain

import "fmt"

// Status is the lifecycle state of a request. Values are stored as is.
type Status string

const (
	StatusNew             Status = "new"
	StatusOffered         Status = "offered"
	StatusAwaitingPayment Status = "awaiting_payment"
	StatusActive          Status = "active"
	StatusCompleted       Status = "completed"
	StatusRejected        Status = "rejected"
	StatusCancelled       Status = "cancelled"
)

var statusLabels = map[Status]string{
	StatusNew:             "Pending review",
	StatusOffered:         "Offer sent",
	StatusAwaitingPayment: "Awaiting payment verification",
	StatusActive:          "In progress",
	StatusCompleted:       "Completed",
	StatusRejected:        "Rejected by admin",
	StatusCancelled:       "Cancelled by student",
}

// Statuses lists every status in lifecycle order.
func Statuses() []Status {
	return []Status{
		StatusNew, StatusOffered, StatusAwaitingPayment, StatusActive,
		StatusCompleted, StatusRejected, StatusCancelled,
	}
}

// ParseStatus maps a stored code to a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}

// Valid reports whether s is one of the known codes.
func (s Status) Valid() bool {
	_, ok := statusLabels[s]
	return ok
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// Label is the human readable form.
func (s Status) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

func (s Status) String() string { return string(s) }

// Status groups used by the operator views.
var (
	PendingStatuses  = []Status{StatusNew}
	InFlightStatuses = []Status{StatusOffered, StatusAwaitingPayment, StatusActive}
	HistoryStatuses  = []Status{StatusCompleted, StatusRejected, StatusCancelled}
)

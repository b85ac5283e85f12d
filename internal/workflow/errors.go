package workflow

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/m3rciful/studybot/internal/storage"
)

// Kind classifies why an operation did not happen.
type Kind int

const (
	KindNone Kind = iota
	// KindValidation: input was empty or too long; nothing changed.
	KindValidation
	// KindUnauthorized: the actor may not perform the action.
	KindUnauthorized
	// KindNotFound: the request or payment does not exist.
	KindNotFound
	// KindConflict: the request is no longer in a state the action applies to.
	KindConflict
	// KindStorage: persistence failed; the caller should retry.
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindStorage:
		return "storage"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is returned by every Controller operation that did not apply.
type Error struct {
	Kind      Kind
	Op        string
	RequestID int64
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("workflow ")
	b.WriteString(e.Op)
	if e.RequestID != 0 {
		fmt.Fprintf(&b, " request %d", e.RequestID)
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.String())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the kind of err. Errors not produced by the controller
// count as storage failures.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var we *Error
	if errors.As(err, &we) {
		return we.Kind
	}
	return KindStorage
}

var (
	errNotOperator = errors.New("actor is not an operator")
	errNotOwner    = errors.New("actor does not own the request")
	errStale       = errors.New("status changed concurrently")
)

func newError(kind Kind, op string, id int64, err error) *Error {
	return &Error{Kind: kind, Op: op, RequestID: id, Err: err}
}

// storageError maps a store failure, turning ErrNotFound into KindNotFound.
func storageError(op string, id int64, err error) *Error {
	if errors.Is(err, storage.ErrNotFound) {
		return newError(KindNotFound, op, id, err)
	}
	return newError(KindStorage, op, id, err)
}

// Field limits in runes.
const (
	MaxTermsLen     = 50
	MaxShortLen     = 200
	MaxLongLen      = 2000
	MaxBroadcastLen = 4000
)

// ErrEmpty and ErrTooLong describe validation failures.
var (
	ErrEmpty   = errors.New("value is empty")
	ErrTooLong = errors.New("value is too long")
)

// CheckText trims v and verifies it is non-empty and at most max runes.
func CheckText(v string, max int) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", ErrEmpty
	}
	if utf8.RuneCountInString(v) > max {
		return "", fmt.Errorf("%w: limit is %d characters", ErrTooLong, max)
	}
	return v, nil
}

func checkField(op, field, v string, max int) (string, error) {
	out, err := CheckText(v, max)
	if err != nil {
		return "", newError(KindValidation, op, 0, fmt.Errorf("%s: %w", field, err))
	}
	return out, nil
}

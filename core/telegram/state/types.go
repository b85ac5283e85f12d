package state

import (
	"context"
	"errors"
	"maps"
	"strconv"
	"time"
)

// ErrNoSession is returned when the key has no live session.
var ErrNoSession = errors.New("state: no active session")

// State identifies a step of a conversation.
type State string

// StateIdle indicates there is no active conversation with the user.
const StateIdle State = "idle"

// Key addresses one conversation.
type Key struct {
	ChatID int64
	UserID int64
}

func (k Key) String() string {
	return strconv.FormatInt(k.ChatID, 10) + ":" + strconv.FormatInt(k.UserID, 10)
}

// Session is the collected input of a running wizard.
type Session struct {
	State  State  `json:"state"`
	Wizard string `json:"wizard"`
	// RequestID correlates operator wizards with the request they act on.
	RequestID int64             `json:"request_id,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Value returns a collected field.
func (s *Session) Value(key string) string {
	if s == nil {
		return ""
	}
	return s.Data[key]
}

// Put stores a collected field.
func (s *Session) Put(key, value string) {
	if s.Data == nil {
		s.Data = make(map[string]string)
	}
	s.Data[key] = value
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Data = maps.Clone(s.Data)
	return &c
}

func (s *Session) expired(now time.Time, idle time.Duration) bool {
	return idle > 0 && now.Sub(s.UpdatedAt) > idle
}

// Store persists sessions. Load returns nil, nil for an unknown key.
type Store interface {
	Load(ctx context.Context, key Key) (*Session, error)
	Save(ctx context.Context, key Key, s *Session) error
	Delete(ctx context.Context, key Key) (bool, error)
	// Sweep removes sessions last updated before cutoff.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}

// Package memstore is an in-process storage.Store used for development and
// tests. One mutex guards everything; each call is a single critical section,
// which gives the same compare-and-set guarantees as the SQL store.
package memstore

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/m3rciful/studybot/internal/domain"
	"github.com/m3rciful/studybot/internal/storage"
)

// Store keeps requests, payments and counters in maps.
type Store struct {
	mu       sync.Mutex
	now      func() time.Time
	counters map[string]int64
	requests map[int64]domain.Request
	payments map[int64]domain.Payment
	flags    map[string]bool
}

var _ storage.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		now:      func() time.Time { return time.Now().UTC() },
		counters: make(map[string]int64),
		requests: make(map[int64]domain.Request),
		payments: make(map[int64]domain.Payment),
		flags:    make(map[string]bool),
	}
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) NextID(_ context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next(name), nil
}

func (s *Store) next(name string) int64 {
	s.counters[name]++
	return s.counters[name]
}

func (s *Store) CreateRequest(_ context.Context, r *domain.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	r.ID = s.next(storage.SeqRequest)
	r.CreatedAt, r.UpdatedAt = now, now
	if r.Status == "" {
		r.Status = domain.StatusNew
	}
	s.requests[r.ID] = cloneRequest(*r)
	return nil
}

func (s *Store) GetRequest(_ context.Context, id int64) (domain.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return domain.Request{}, storage.ErrNotFound
	}
	return cloneRequest(r), nil
}

func (s *Store) UpdateRequestStatus(_ context.Context, id int64, from, to domain.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok || r.Status != from {
		return false, nil
	}
	r.Status = to
	if to != domain.StatusOffered {
		r.PaymentRejected = false
	}
	r.UpdatedAt = s.now()
	s.requests[id] = r
	return true, nil
}

func (s *Store) CancelRequest(_ context.Context, id int64, from ...domain.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok || !slices.Contains(from, r.Status) {
		return false, nil
	}
	for _, p := range s.payments {
		if p.RequestID == id && p.Status == domain.PaymentPending {
			s.settle(&p, domain.PaymentRejected)
		}
	}
	r.Status = domain.StatusCancelled
	r.PaymentRejected = false
	r.UpdatedAt = s.now()
	s.requests[id] = r
	return true, nil
}

func (s *Store) UpdateOfferFields(_ context.Context, id int64, offer domain.Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return storage.ErrNotFound
	}
	applyOffer(&r, offer)
	r.UpdatedAt = s.now()
	s.requests[id] = r
	return nil
}

func (s *Store) OfferRequest(_ context.Context, id int64, offer domain.Offer) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok || r.Status != domain.StatusNew {
		return false, nil
	}
	applyOffer(&r, offer)
	r.Status = domain.StatusOffered
	r.UpdatedAt = s.now()
	s.requests[id] = r
	return true, nil
}

func (s *Store) ListRequestsByStatus(_ context.Context, statuses ...domain.Status) ([]domain.Request, error) {
	return s.filter(func(r domain.Request) bool {
		return len(statuses) == 0 || slices.Contains(statuses, r.Status)
	}), nil
}

func (s *Store) ListRequestsByOwner(_ context.Context, owner int64, statuses ...domain.Status) ([]domain.Request, error) {
	return s.filter(func(r domain.Request) bool {
		return r.OwnerID == owner && (len(statuses) == 0 || slices.Contains(statuses, r.Status))
	}), nil
}

func (s *Store) filter(keep func(domain.Request) bool) []domain.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Request
	for _, r := range s.requests {
		if keep(r) {
			out = append(out, cloneRequest(r))
		}
	}
	slices.SortFunc(out, func(a, b domain.Request) int { return cmp.Compare(b.ID, a.ID) })
	return out
}

func (s *Store) ListDistinctParticipants(context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for _, r := range s.requests {
		ids = append(ids, r.OwnerID)
	}
	slices.Sort(ids)
	return slices.Compact(ids), nil
}

func (s *Store) CountByStatus(context.Context) (map[domain.Status]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.Status]int)
	for _, r := range s.requests {
		out[r.Status]++
	}
	return out, nil
}

func (s *Store) CreatePayment(_ context.Context, p *domain.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertPayment(p)
	return nil
}

func (s *Store) insertPayment(p *domain.Payment) {
	p.ID = s.next(storage.SeqPayment)
	p.CreatedAt = s.now()
	if p.Status == "" {
		p.Status = domain.PaymentPending
	}
	s.payments[p.ID] = *p
}

func (s *Store) SubmitPayment(_ context.Context, p *domain.Payment, from ...domain.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[p.RequestID]
	if !ok || !slices.Contains(from, r.Status) {
		return false, nil
	}
	for _, existing := range s.payments {
		if existing.RequestID == p.RequestID && existing.Status == domain.PaymentPending {
			return false, nil
		}
	}
	p.Status = domain.PaymentPending
	s.insertPayment(p)
	r.Status = domain.StatusAwaitingPayment
	r.PaymentRejected = false
	r.UpdatedAt = p.CreatedAt
	s.requests[r.ID] = r
	return true, nil
}

func (s *Store) GetPayment(_ context.Context, id int64) (domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return domain.Payment{}, storage.ErrNotFound
	}
	return clonePayment(p), nil
}

func (s *Store) UpdatePaymentStatus(_ context.Context, id int64, from, to domain.PaymentStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok || p.Status != from {
		return false, nil
	}
	s.settle(&p, to)
	return true, nil
}

func (s *Store) settle(p *domain.Payment, to domain.PaymentStatus) {
	now := s.now()
	p.Status = to
	p.ResolvedAt = &now
	s.payments[p.ID] = *p
}

func (s *Store) ResolvePayment(_ context.Context, id int64, to domain.PaymentStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok || p.Status != domain.PaymentPending {
		return false, nil
	}
	r, ok := s.requests[p.RequestID]
	if !ok || r.Status != domain.StatusAwaitingPayment {
		return false, nil
	}
	s.settle(&p, to)
	switch to {
	case domain.PaymentAccepted:
		r.Status = domain.StatusActive
	default:
		r.Status = domain.StatusOffered
		r.PaymentRejected = true
	}
	r.UpdatedAt = *p.ResolvedAt
	s.requests[r.ID] = r
	return true, nil
}

func (s *Store) ListPayments(_ context.Context, limit int) ([]domain.Payment, error) {
	out := s.collectPayments(func(domain.Payment) bool { return true })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListPaymentsByRequest(_ context.Context, requestID int64) ([]domain.Payment, error) {
	return s.collectPayments(func(p domain.Payment) bool { return p.RequestID == requestID }), nil
}

func (s *Store) collectPayments(keep func(domain.Payment) bool) []domain.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Payment
	for _, p := range s.payments {
		if keep(p) {
			out = append(out, clonePayment(p))
		}
	}
	slices.SortFunc(out, func(a, b domain.Payment) int { return cmp.Compare(b.ID, a.ID) })
	return out
}

func (s *Store) Flag(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags[name], nil
}

func (s *Store) SetFlag(_ context.Context, name string, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags[name] = on
	return nil
}

func applyOffer(r *domain.Request, o domain.Offer) {
	r.Price = ptr(o.Price)
	r.Delivery = ptr(o.Delivery)
	r.Notes = nil
	if o.Notes != nil {
		r.Notes = ptr(*o.Notes)
	}
}

func ptr[T any](v T) *T { return &v }

func cloneRequest(r domain.Request) domain.Request {
	if r.Attachment != nil {
		r.Attachment = ptr(*r.Attachment)
	}
	for _, f := range []**string{&r.Price, &r.Delivery, &r.Notes} {
		if *f != nil {
			*f = ptr(**f)
		}
	}
	return r
}

func clonePayment(p domain.Payment) domain.Payment {
	if p.ResolvedAt != nil {
		p.ResolvedAt = ptr(*p.ResolvedAt)
	}
	return p
}

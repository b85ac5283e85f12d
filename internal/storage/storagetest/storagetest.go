// Package storagetest holds behaviour tests shared by every storage.Store
// implementation.
package storagetest

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/m3rciful/studybot/internal/domain"
	"github.com/m3rciful/studybot/internal/storage"
)

// Run exercises a fresh store returned by open for each subtest.
func Run(t *testing.T, open func(t *testing.T) storage.Store) {
	t.Run("NextIDConcurrent", func(t *testing.T) { testNextIDConcurrent(t, open(t)) })
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, open(t)) })
	t.Run("StatusCASExactlyOne", func(t *testing.T) { testStatusCAS(t, open(t)) })
	t.Run("OfferRequest", func(t *testing.T) { testOfferRequest(t, open(t)) })
	t.Run("PaymentCycle", func(t *testing.T) { testPaymentCycle(t, open(t)) })
	t.Run("ResolvePaymentOnce", func(t *testing.T) { testResolveOnce(t, open(t)) })
	t.Run("CancelRejectsPendingPayment", func(t *testing.T) { testCancelRequest(t, open(t)) })
	t.Run("LeavingOfferedClearsMarker", func(t *testing.T) { testMarkerCleared(t, open(t)) })
	t.Run("Listings", func(t *testing.T) { testListings(t, open(t)) })
	t.Run("Flags", func(t *testing.T) { testFlags(t, open(t)) })
}

// RequestFixture returns an unsaved request owned by owner.
func RequestFixture(owner int64) *domain.Request {
	return &domain.Request{
		OwnerID:     owner,
		OwnerChatID: owner,
		OwnerName:   "@student",
		Subject:     "Linear algebra",
		Counterpart: "Dr. Smith",
		Deadline:    "Friday",
		Details:     "Problems 1-5",
	}
}

// NewRequest inserts a request in status new owned by owner.
func NewRequest(t *testing.T, s storage.Store, owner int64) domain.Request {
	t.Helper()
	r := RequestFixture(owner)
	if err := s.CreateRequest(context.Background(), r); err != nil {
		t.Fatalf("create request: %v", err)
	}
	return *r
}

func mustCAS(t *testing.T, ok bool, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("compare-and-set did not apply")
	}
}

func testNextIDConcurrent(t *testing.T, s storage.Store) {
	ctx := context.Background()
	const n = 50
	ids := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := s.NextID(ctx, "test")
			if err != nil {
				t.Errorf("next id: %v", err)
				return
			}
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool, n)
	for id := range ids {
		if seen[id] {
			t.Fatalf("id %d handed out twice", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Fatalf("got %d ids, want %d", len(seen), n)
	}

	other, err := s.NextID(ctx, "other")
	if err != nil || other != 1 {
		t.Fatalf("independent sequence = %d, %v", other, err)
	}
}

func testCreateAndGet(t *testing.T, s storage.Store) {
	ctx := context.Background()
	r := domain.Request{
		OwnerID:     7,
		OwnerChatID: 70,
		OwnerName:   "Ann",
		Subject:     "Physics",
		Counterpart: "Prof. X",
		Deadline:    "tomorrow",
		Attachment:  &domain.FileRef{ID: "file-1", Kind: domain.FileDocument, Name: "task.pdf"},
	}
	if err := s.CreateRequest(ctx, &r); err != nil {
		t.Fatalf("create: %v", err)
	}
	second := NewRequest(t, s, 8)
	if r.ID == 0 || second.ID <= r.ID {
		t.Fatalf("ids not increasing: %d then %d", r.ID, second.ID)
	}

	got, err := s.GetRequest(ctx, r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusNew || got.OwnerChatID != 70 || got.Subject != "Physics" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.Attachment == nil || *got.Attachment != *r.Attachment {
		t.Fatalf("attachment = %+v", got.Attachment)
	}
	if got.Price != nil || got.PaymentRejected {
		t.Fatalf("offer fields set on new request: %+v", got)
	}

	if _, err := s.GetRequest(ctx, 999); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing request err = %v", err)
	}
	if _, err := s.GetPayment(ctx, 999); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing payment err = %v", err)
	}
}

func testStatusCAS(t *testing.T, s storage.Store) {
	ctx := context.Background()
	r := NewRequest(t, s, 1)

	const n = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.UpdateRequestStatus(ctx, r.ID, domain.StatusNew, domain.StatusRejected)
			if err != nil {
				t.Errorf("cas: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("%d writers won, want exactly 1", wins)
	}
	got, _ := s.GetRequest(ctx, r.ID)
	if got.Status != domain.StatusRejected {
		t.Fatalf("status = %s", got.Status)
	}
	if ok, err := s.UpdateRequestStatus(ctx, 999, domain.StatusNew, domain.StatusRejected); ok || err != nil {
		t.Fatalf("unknown id cas = %v, %v", ok, err)
	}
}

func testOfferRequest(t *testing.T, s storage.Store) {
	ctx := context.Background()
	r := NewRequest(t, s, 1)
	notes := "bring your notes"

	ok, err := s.OfferRequest(ctx, r.ID, domain.Offer{Price: "100", Delivery: "2 days", Notes: &notes})
	mustCAS(t, ok, err)
	if ok, _ := s.OfferRequest(ctx, r.ID, domain.Offer{Price: "1", Delivery: "1"}); ok {
		t.Fatal("second offer must not apply")
	}
	got, _ := s.GetRequest(ctx, r.ID)
	if got.Status != domain.StatusOffered || got.Price == nil || *got.Price != "100" ||
		got.Delivery == nil || *got.Delivery != "2 days" || got.Notes == nil || *got.Notes != notes {
		t.Fatalf("offer not stored: %+v", got)
	}

	if err := s.UpdateOfferFields(ctx, r.ID, domain.Offer{Price: "120", Delivery: "3 days"}); err != nil {
		t.Fatalf("update offer: %v", err)
	}
	got, _ = s.GetRequest(ctx, r.ID)
	if *got.Price != "120" || got.Notes != nil {
		t.Fatalf("offer fields not replaced: %+v", got)
	}
	if err := s.UpdateOfferFields(ctx, 999, domain.Offer{}); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("unknown id err = %v", err)
	}
}

func evidence(id string) domain.FileRef {
	return domain.FileRef{ID: id, Kind: domain.FilePhoto}
}

func testPaymentCycle(t *testing.T, s storage.Store) {
	ctx := context.Background()
	r := NewRequest(t, s, 3)
	ok, err := s.OfferRequest(ctx, r.ID, domain.Offer{Price: "50", Delivery: "1 week"})
	mustCAS(t, ok, err)
	ok, err = s.UpdateRequestStatus(ctx, r.ID, domain.StatusOffered, domain.StatusAwaitingPayment)
	mustCAS(t, ok, err)

	from := []domain.Status{domain.StatusOffered, domain.StatusAwaitingPayment}
	first := domain.Payment{RequestID: r.ID, SubmitterID: 3, Evidence: evidence("receipt-1")}
	ok, err = s.SubmitPayment(ctx, &first, from...)
	mustCAS(t, ok, err)
	if first.ID != 1 || first.Status != domain.PaymentPending {
		t.Fatalf("first payment = %+v", first)
	}

	dup := domain.Payment{RequestID: r.ID, SubmitterID: 3, Evidence: evidence("receipt-dup")}
	if ok, err := s.SubmitPayment(ctx, &dup, from...); ok || err != nil {
		t.Fatalf("second pending payment accepted: %v, %v", ok, err)
	}

	ok, err = s.ResolvePayment(ctx, first.ID, domain.PaymentRejected)
	mustCAS(t, ok, err)
	got, _ := s.GetRequest(ctx, r.ID)
	if got.Status != domain.StatusOffered || !got.PaymentRejected || got.Price == nil {
		t.Fatalf("after rejection: %+v", got)
	}

	retry := domain.Payment{RequestID: r.ID, SubmitterID: 3, Evidence: evidence("receipt-2")}
	ok, err = s.SubmitPayment(ctx, &retry, from...)
	mustCAS(t, ok, err)
	got, _ = s.GetRequest(ctx, r.ID)
	if got.Status != domain.StatusAwaitingPayment || got.PaymentRejected {
		t.Fatalf("after retry: %+v", got)
	}
	if retry.ID <= first.ID {
		t.Fatalf("payment ids not increasing: %d then %d", first.ID, retry.ID)
	}

	ok, err = s.ResolvePayment(ctx, retry.ID, domain.PaymentAccepted)
	mustCAS(t, ok, err)
	got, _ = s.GetRequest(ctx, r.ID)
	if got.Status != domain.StatusActive {
		t.Fatalf("after acceptance: %+v", got)
	}

	p, err := s.GetPayment(ctx, retry.ID)
	if err != nil || p.Status != domain.PaymentAccepted || p.ResolvedAt == nil || p.Evidence.ID != "receipt-2" {
		t.Fatalf("payment = %+v, %v", p, err)
	}
	list, err := s.ListPaymentsByRequest(ctx, r.ID)
	if err != nil || len(list) != 2 || list[0].ID != retry.ID {
		t.Fatalf("payments by request = %+v, %v", list, err)
	}

	late := domain.Payment{RequestID: r.ID, SubmitterID: 3, Evidence: evidence("late")}
	if ok, _ := s.SubmitPayment(ctx, &late, from...); ok {
		t.Fatal("payment accepted on an active request")
	}
}

func testResolveOnce(t *testing.T, s storage.Store) {
	ctx := context.Background()
	r := NewRequest(t, s, 4)
	ok, err := s.OfferRequest(ctx, r.ID, domain.Offer{Price: "1", Delivery: "1"})
	mustCAS(t, ok, err)
	p := domain.Payment{RequestID: r.ID, SubmitterID: 4, Evidence: evidence("r")}
	ok, err = s.SubmitPayment(ctx, &p, domain.StatusOffered)
	mustCAS(t, ok, err)

	ok, err = s.ResolvePayment(ctx, p.ID, domain.PaymentAccepted)
	mustCAS(t, ok, err)
	if ok, err := s.ResolvePayment(ctx, p.ID, domain.PaymentRejected); ok || err != nil {
		t.Fatalf("payment resolved twice: %v, %v", ok, err)
	}
	got, _ := s.GetRequest(ctx, r.ID)
	if got.Status != domain.StatusActive || got.PaymentRejected {
		t.Fatalf("second resolution leaked into request: %+v", got)
	}

	standalone := domain.Payment{RequestID: r.ID, SubmitterID: 4, Evidence: evidence("s")}
	if err := s.CreatePayment(ctx, &standalone); err != nil {
		t.Fatalf("create payment: %v", err)
	}
	ok, err = s.UpdatePaymentStatus(ctx, standalone.ID, domain.PaymentPending, domain.PaymentRejected)
	mustCAS(t, ok, err)
	if ok, _ := s.UpdatePaymentStatus(ctx, standalone.ID, domain.PaymentPending, domain.PaymentAccepted); ok {
		t.Fatal("payment status changed twice")
	}
}

func testCancelRequest(t *testing.T, s storage.Store) {
	ctx := context.Background()
	r := NewRequest(t, s, 5)
	ok, err := s.OfferRequest(ctx, r.ID, domain.Offer{Price: "1", Delivery: "1"})
	mustCAS(t, ok, err)
	p := domain.Payment{RequestID: r.ID, SubmitterID: 5, Evidence: evidence("r")}
	ok, err = s.SubmitPayment(ctx, &p, domain.StatusOffered)
	mustCAS(t, ok, err)

	if ok, err := s.CancelRequest(ctx, r.ID, domain.StatusOffered); ok || err != nil {
		t.Fatalf("cancel from the wrong status applied: %v, %v", ok, err)
	}
	ok, err = s.CancelRequest(ctx, r.ID, domain.StatusOffered, domain.StatusAwaitingPayment)
	mustCAS(t, ok, err)

	got, _ := s.GetRequest(ctx, r.ID)
	if got.Status != domain.StatusCancelled {
		t.Fatalf("status = %s", got.Status)
	}
	pay, err := s.GetPayment(ctx, p.ID)
	if err != nil || pay.Status != domain.PaymentRejected || pay.ResolvedAt == nil {
		t.Fatalf("payment after cancel = %+v, %v", pay, err)
	}
	if ok, err := s.ResolvePayment(ctx, p.ID, domain.PaymentAccepted); ok || err != nil {
		t.Fatalf("voided payment resolved: %v, %v", ok, err)
	}
	if ok, err := s.CancelRequest(ctx, r.ID, domain.StatusAwaitingPayment); ok || err != nil {
		t.Fatalf("second cancel applied: %v, %v", ok, err)
	}
}

func testMarkerCleared(t *testing.T, s storage.Store) {
	ctx := context.Background()
	r := NewRequest(t, s, 6)
	ok, err := s.OfferRequest(ctx, r.ID, domain.Offer{Price: "1", Delivery: "1"})
	mustCAS(t, ok, err)
	p := domain.Payment{RequestID: r.ID, SubmitterID: 6, Evidence: evidence("r")}
	ok, err = s.SubmitPayment(ctx, &p, domain.StatusOffered)
	mustCAS(t, ok, err)
	ok, err = s.ResolvePayment(ctx, p.ID, domain.PaymentRejected)
	mustCAS(t, ok, err)

	ok, err = s.UpdateRequestStatus(ctx, r.ID, domain.StatusOffered, domain.StatusAwaitingPayment)
	mustCAS(t, ok, err)
	got, _ := s.GetRequest(ctx, r.ID)
	if got.Status != domain.StatusAwaitingPayment || got.PaymentRejected {
		t.Fatalf("after leaving offered: %+v", got)
	}
}

func testListings(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a1 := NewRequest(t, s, 10)
	a2 := NewRequest(t, s, 10)
	b1 := NewRequest(t, s, 20)
	ok, err := s.UpdateRequestStatus(ctx, a2.ID, domain.StatusNew, domain.StatusCancelled)
	mustCAS(t, ok, err)

	pending, err := s.ListRequestsByStatus(ctx, domain.StatusNew)
	if err != nil || len(pending) != 2 || pending[0].ID != b1.ID || pending[1].ID != a1.ID {
		t.Fatalf("pending = %+v, %v", pending, err)
	}
	all, _ := s.ListRequestsByStatus(ctx)
	if len(all) != 3 {
		t.Fatalf("all = %d", len(all))
	}
	mine, _ := s.ListRequestsByOwner(ctx, 10)
	if len(mine) != 2 {
		t.Fatalf("owner list = %+v", mine)
	}
	mineOpen, _ := s.ListRequestsByOwner(ctx, 10, domain.StatusNew, domain.StatusOffered)
	if len(mineOpen) != 1 || mineOpen[0].ID != a1.ID {
		t.Fatalf("owner open list = %+v", mineOpen)
	}

	ids, err := s.ListDistinctParticipants(ctx)
	if err != nil || !slices.Equal(ids, []int64{10, 20}) {
		t.Fatalf("participants = %v, %v", ids, err)
	}

	counts, err := s.CountByStatus(ctx)
	if err != nil || counts[domain.StatusNew] != 2 || counts[domain.StatusCancelled] != 1 {
		t.Fatalf("counts = %v, %v", counts, err)
	}

	for i := 0; i < 3; i++ {
		p := domain.Payment{RequestID: a1.ID, SubmitterID: 10, Evidence: evidence("x"), Status: domain.PaymentRejected}
		if err := s.CreatePayment(ctx, &p); err != nil {
			t.Fatalf("create payment: %v", err)
		}
	}
	latest, err := s.ListPayments(ctx, 2)
	if err != nil || len(latest) != 2 || latest[0].ID != 3 {
		t.Fatalf("latest payments = %+v, %v", latest, err)
	}
}

func testFlags(t *testing.T, s storage.Store) {
	ctx := context.Background()
	if on, err := s.Flag(ctx, storage.FlagMaintenance); on || err != nil {
		t.Fatalf("unset flag = %v, %v", on, err)
	}
	for _, want := range []bool{true, false, true} {
		if err := s.SetFlag(ctx, storage.FlagMaintenance, want); err != nil {
			t.Fatalf("set flag: %v", err)
		}
		if on, _ := s.Flag(ctx, storage.FlagMaintenance); on != want {
			t.Fatalf("flag = %v, want %v", on, want)
		}
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

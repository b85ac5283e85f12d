package state

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestManager(opts ...Option) (*Manager, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	return NewManager(NewMemoryStore(), append([]Option{WithClock(clock.Now)}, opts...)...), clock
}

func TestSessionsIsolatedPerChatAndUser(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()
	a := Key{ChatID: 1, UserID: 10}
	b := Key{ChatID: 2, UserID: 20}
	sameUserOtherChat := Key{ChatID: 3, UserID: 10}

	if err := m.Begin(ctx, a, &Session{Wizard: "submit", State: "subject"}); err != nil {
		t.Fatalf("begin a: %v", err)
	}
	if err := m.Begin(ctx, b, &Session{Wizard: "submit", State: "subject"}); err != nil {
		t.Fatalf("begin b: %v", err)
	}

	_, err := m.Update(ctx, a, func(cur *Session) (*Session, error) {
		cur.Put("subject", "X")
		cur.State = "counterpart"
		return cur, nil
	})
	if err != nil {
		t.Fatalf("update a: %v", err)
	}

	gotB, err := m.Get(ctx, b)
	if err != nil || gotB.State != "subject" || gotB.Value("subject") != "" {
		t.Fatalf("b affected by a: %+v, %v", gotB, err)
	}
	if m.Active(ctx, sameUserOtherChat) {
		t.Fatal("session leaked to another chat of the same user")
	}
	gotA, _ := m.Get(ctx, a)
	if gotA.Value("subject") != "X" {
		t.Fatalf("a = %+v", gotA)
	}
}

func TestClearIsIdempotent(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()
	k := Key{ChatID: 5, UserID: 5}
	if err := m.Begin(ctx, k, &Session{Wizard: "offer"}); err != nil {
		t.Fatal(err)
	}
	if had, err := m.Clear(ctx, k); !had || err != nil {
		t.Fatalf("first clear = %v, %v", had, err)
	}
	if had, err := m.Clear(ctx, k); had || err != nil {
		t.Fatalf("second clear = %v, %v", had, err)
	}
	if _, err := m.Get(ctx, k); !errors.Is(err, ErrNoSession) {
		t.Fatalf("get after clear: %v", err)
	}
}

func TestBeginOverwrites(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()
	k := Key{ChatID: 1, UserID: 1}
	_ = m.Begin(ctx, k, &Session{Wizard: "submit", Data: map[string]string{"subject": "old"}})
	_ = m.Begin(ctx, k, &Session{Wizard: "broadcast"})
	s, err := m.Get(ctx, k)
	if err != nil || s.Wizard != "broadcast" || s.Value("subject") != "" {
		t.Fatalf("session = %+v, %v", s, err)
	}
}

func TestUpdateErrorKeepsSession(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()
	k := Key{ChatID: 1, UserID: 2}
	_ = m.Begin(ctx, k, &Session{Wizard: "submit", State: "details", Data: map[string]string{"subject": "S"}})

	boom := errors.New("boom")
	_, err := m.Update(ctx, k, func(cur *Session) (*Session, error) {
		cur.Put("subject", "mutated")
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	s, _ := m.Get(ctx, k)
	if s == nil || s.State != "details" || s.Value("subject") != "S" {
		t.Fatalf("failed update changed the session: %+v", s)
	}
}

func TestIdleExpiryAndSweep(t *testing.T) {
	store := NewMemoryStore()
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	m := NewManager(store, WithClock(clock.Now), WithIdleTimeout(time.Minute))
	ctx := context.Background()

	stale := Key{ChatID: 1, UserID: 1}
	fresh := Key{ChatID: 2, UserID: 2}
	_ = m.Begin(ctx, stale, &Session{Wizard: "submit"})
	clock.Advance(50 * time.Second)
	_ = m.Begin(ctx, fresh, &Session{Wizard: "submit"})
	clock.Advance(20 * time.Second)

	if m.Active(ctx, stale) {
		t.Fatal("stale session should be expired")
	}
	if !m.Active(ctx, fresh) {
		t.Fatal("fresh session should survive")
	}

	_ = m.Begin(ctx, stale, &Session{Wizard: "submit"})
	clock.Advance(2 * time.Minute)
	n, err := m.Sweep(ctx)
	if err != nil || n != 2 || store.Len() != 0 {
		t.Fatalf("sweep removed %d (len %d), err %v", n, store.Len(), err)
	}
}

func TestUpdateSerializesPerKey(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()
	k := Key{ChatID: 9, UserID: 9}
	_ = m.Begin(ctx, k, &Session{Wizard: "count", Data: map[string]string{"n": ""}})

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Update(ctx, k, func(cur *Session) (*Session, error) {
				cur.Put("n", cur.Value("n")+"x")
				return cur, nil
			})
			if err != nil {
				t.Errorf("update: %v", err)
			}
		}()
	}
	wg.Wait()
	s, _ := m.Get(ctx, k)
	if got := len(s.Value("n")); got != n {
		t.Fatalf("lost updates: %d of %d", got, n)
	}
	for i := range m.locks {
		if l := len(m.locks[i].locks); l != 0 {
			t.Fatalf("lock registry leaked %d entries", l)
		}
	}
}

func TestSweeperStopsWithContext(t *testing.T) {
	m, _ := newTestManager()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewSweeper(m, time.Millisecond).Run(ctx) }()
	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestRedisSessionCodec(t *testing.T) {
	r := NewRedisStore(nil, "studybot:", time.Minute)
	if got := r.key(Key{ChatID: -100, UserID: 7}); got != "studybot:session:-100:7" {
		t.Fatalf("key = %s", got)
	}
	in := &Session{State: "price", Wizard: "offer", RequestID: 12, Data: map[string]string{"price": "10"}}
	raw := []byte(`{"state":"price","wizard":"offer","request_id":12,"data":{"price":"10"},"updated_at":"2025-01-01T00:00:00Z"}`)
	out, err := decodeSession(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.State != in.State || out.Wizard != in.Wizard || out.RequestID != 12 || out.Value("price") != "10" {
		t.Fatalf("decoded = %+v", out)
	}
	if _, err := decodeSession([]byte("{")); err == nil {
		t.Fatal("expected decode error")
	}
}

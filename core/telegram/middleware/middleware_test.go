package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/m3rciful/studybot/core/telegram/state"

	tele "gopkg.in/telebot.v4"
)

func offlineBot(t *testing.T) *tele.Bot {
	t.Helper()
	b, err := tele.NewBot(tele.Settings{Offline: true})
	if err != nil {
		t.Fatalf("bot: %v", err)
	}
	return b
}

func messageFrom(b *tele.Bot, userID int64, text string) tele.Context {
	return tele.NewContext(b, tele.Update{ID: 1, Message: &tele.Message{
		Sender: &tele.User{ID: userID},
		Chat:   &tele.Chat{ID: userID},
		Text:   text,
	}})
}

func counting(n *int) tele.HandlerFunc {
	return func(tele.Context) error { *n++; return nil }
}

func TestRateLimitPerUser(t *testing.T) {
	b := offlineBot(t)
	now := time.Unix(1000, 0)
	limited := 0
	mw := RateLimitMiddleware(RateLimitOptions{
		Interval:  2 * time.Second,
		Now:       func() time.Time { return now },
		OnLimited: counting(&limited),
	})
	calls := 0
	h := mw(counting(&calls))

	_ = h(messageFrom(b, 1, "a"))
	_ = h(messageFrom(b, 1, "b"))
	_ = h(messageFrom(b, 2, "c"))
	now = now.Add(3 * time.Second)
	_ = h(messageFrom(b, 1, "d"))

	if calls != 3 || limited != 1 {
		t.Fatalf("calls = %d, limited = %d", calls, limited)
	}
}

func TestRateLimitExcludesKinds(t *testing.T) {
	b := offlineBot(t)
	mw := RateLimitMiddleware(RateLimitOptions{
		Interval: time.Hour,
		Exclude:  map[string]struct{}{"message": {}},
	})
	calls := 0
	h := mw(counting(&calls))
	for i := 0; i < 3; i++ {
		_ = h(messageFrom(b, 1, "x"))
	}
	if calls != 3 {
		t.Fatalf("calls = %d", calls)
	}
}

func TestOperatorOnly(t *testing.T) {
	b := offlineBot(t)
	rejected, calls := 0, 0
	h := OperatorOnly(AccessOptions{
		IsOperator: func(id int64) bool { return id == 9 },
		OnReject:   counting(&rejected),
	})(counting(&calls))

	_ = h(messageFrom(b, 1, "/admin"))
	_ = h(messageFrom(b, 9, "/admin"))
	if calls != 1 || rejected != 1 {
		t.Fatalf("calls = %d, rejected = %d", calls, rejected)
	}
}

func TestGateExemptsOperators(t *testing.T) {
	b := offlineBot(t)
	closed, calls := 0, 0
	h := Gate(GateOptions{
		Closed:   func(tele.Context) bool { return true },
		Exempt:   func(id int64) bool { return id == 9 },
		OnClosed: counting(&closed),
	})(counting(&calls))

	_ = h(messageFrom(b, 1, "hi"))
	_ = h(messageFrom(b, 9, "hi"))
	if calls != 1 || closed != 1 {
		t.Fatalf("calls = %d, closed = %d", calls, closed)
	}
}

type activeSet map[state.Key]bool

func (a activeSet) Active(_ context.Context, k state.Key) bool { return a[k] }

func TestBusyGuard(t *testing.T) {
	b := offlineBot(t)
	busy, calls := 0, 0
	h := Busy(BusyOptions{
		Sessions: activeSet{{ChatID: 1, UserID: 1}: true},
		Allow:    func(c tele.Context) bool { return c.Text() == "/cancel" },
		OnBusy:   counting(&busy),
	})(counting(&calls))

	_ = h(messageFrom(b, 1, "/new"))
	_ = h(messageFrom(b, 1, "/cancel"))
	_ = h(messageFrom(b, 2, "/new"))
	if calls != 2 || busy != 1 {
		t.Fatalf("calls = %d, busy = %d", calls, busy)
	}
}

func TestRecoverTurnsPanicIntoError(t *testing.T) {
	b := offlineBot(t)
	h := RecoverMiddleware(func(tele.Context) error { panic("boom") })
	err := h(messageFrom(b, 1, "x"))
	if _, ok := err.(ErrPanic); !ok {
		t.Fatalf("err = %v", err)
	}
}

func TestMetricsCounters(t *testing.T) {
	b := offlineBot(t)
	c := messageFrom(b, 1, "x")
	h := MessageMetricsMiddleware(func(c tele.Context) error {
		CountSent(c, true)
		return nil
	})
	if err := h(c); err != nil {
		t.Fatal(err)
	}
	if msgs, kb := GetCounters(c); msgs != 1 || !kb {
		t.Fatalf("counters = %d %v", msgs, kb)
	}
}

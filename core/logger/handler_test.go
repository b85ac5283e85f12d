package logger

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func newTestLogger(t *testing.T, format logFormat) (*slog.Logger, func() string) {
	t.Helper()
	buf := &bytes.Buffer{}
	aw := newAsyncWriter([]io.Writer{buf}, 1024)
	h := newStructuredHandler(handlerOptions{
		level:  slog.LevelDebug,
		out:    aw,
		format: format,
	})
	read := func() string {
		if err := aw.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
		return strings.TrimSpace(buf.String())
	}
	return slog.New(h), read
}

func TestStructuredHandlerKVOrder(t *testing.T) {
	log, read := newTestLogger(t, formatKV)
	ctx := WithRID(context.Background(), "rid-123")
	ctx = WithUpdateMeta(ctx, 42, 7, 9)

	LogEvent(ctx, log.With("component", "app"), slog.LevelInfo, "test.event",
		slog.String("status", "OK"),
		slog.String("outcome", "bogus"),
	)

	line := read()
	tokens := strings.Split(line, " ")
	want := []string{"ts=", "level=INFO", "component=app", "event=test.event", "status=ok", "rid=rid-123", "update_id=42", "user_id=7", "chat_id=9"}
	if len(tokens) < len(want) {
		t.Fatalf("too few tokens: %s", line)
	}
	for i, prefix := range want {
		if !strings.HasPrefix(tokens[i], prefix) {
			t.Fatalf("token %d = %s, want prefix %s (line %s)", i, tokens[i], prefix, line)
		}
	}
	if strings.Contains(line, "outcome=") {
		t.Fatalf("unknown outcome should be dropped: %s", line)
	}
}

func TestStructuredHandlerJSONOrder(t *testing.T) {
	log, read := newTestLogger(t, formatJSON)
	ctx := WithRID(context.Background(), "rid-json")
	ctx = WithAction(ctx, "confirm_payment", 17)
	ctx = WithPayment(ctx, 3)

	LogEvent(ctx, log.With("component", "workflow"), slog.LevelError, "transition.failed",
		slog.String("status", "fail"),
		slog.String("err", "boom"),
		slog.Duration("duration", 1500*time.Microsecond),
	)

	line := read()
	order := []string{`{"ts":`, `"level":"ERROR"`, `"component":"workflow"`, `"event":"transition.failed"`,
		`"status":"fail"`, `"rid":"rid-json"`, `"action":"confirm_payment"`, `"request_id":17`, `"payment_id":3`,
		`"duration_ms":2`, `"err":"boom"`}
	pos := -1
	for _, p := range order {
		idx := strings.Index(line, p)
		if idx == -1 || idx < pos {
			t.Fatalf("%s missing or out of order in %s", p, line)
		}
		pos = idx
	}
}

func TestStructuredHandlerCompactRID(t *testing.T) {
	log, read := newTestLogger(t, formatKV)
	raw := "123:456:789"
	LogEvent(WithRID(context.Background(), raw), log, slog.LevelInfo, "rid.test")

	line := read()
	if !strings.Contains(line, "rid="+CompactRID(raw)) {
		t.Fatalf("expected compact rid, got %s", line)
	}
	if strings.Contains(line, "rid_full=") {
		t.Fatalf("rid_full must not appear in kv output: %s", line)
	}
}

func TestStructuredHandlerCompactRIDJSON(t *testing.T) {
	log, read := newTestLogger(t, formatJSON)
	raw := "12:34:56"
	LogEvent(WithRID(context.Background(), raw), log, slog.LevelInfo, "rid.test")

	line := read()
	if !strings.Contains(line, `"rid":"c.y.1k"`) {
		t.Fatalf("expected compact rid in JSON, got %s", line)
	}
	if !strings.Contains(line, `"rid_full":"`+raw+`"`) {
		t.Fatalf("expected rid_full, got %s", line)
	}
	if !strings.Contains(line, `"ts_unix_nano"`) {
		t.Fatalf("expected ts_unix_nano, got %s", line)
	}
}

func TestStructuredHandlerGroups(t *testing.T) {
	log, read := newTestLogger(t, formatKV)
	log.WithGroup("req").Info("grouped", slog.Int("id", 5), slog.Group("offer", slog.String("price", "500")))

	line := read()
	for _, want := range []string{"event=grouped", "req.id=5", "req.offer.price=500"} {
		if !strings.Contains(line, want) {
			t.Fatalf("missing %s in %s", want, line)
		}
	}
}

func TestWithFieldsDoesNotLeakBetweenSiblings(t *testing.T) {
	parent := WithRID(context.Background(), "p")
	a := WithAction(parent, "offer", 1)
	b := WithAction(parent, "reject", 2)

	if got := FieldsFrom(a); got.Action != "offer" || got.RequestID != 1 || got.RID != "p" {
		t.Fatalf("a fields = %+v", got)
	}
	if got := FieldsFrom(b); got.Action != "reject" || got.RequestID != 2 {
		t.Fatalf("b fields = %+v", got)
	}
	if got := FieldsFrom(parent); got.Action != "" {
		t.Fatalf("parent mutated: %+v", got)
	}
}

func TestSamplerRatio(t *testing.T) {
	s := newSampler(1, 4)
	allowed := 0
	for i := 0; i < 40; i++ {
		if s.Allow() {
			allowed++
		}
	}
	if allowed != 10 {
		t.Fatalf("allowed = %d, want 10", allowed)
	}

	s.Set(0, 0)
	if !s.Allow() {
		t.Fatal("disabled sampler must allow everything")
	}
}

func TestParseRatio(t *testing.T) {
	cases := []struct {
		in       string
		num, den int
	}{
		{"1/50", 1, 50},
		{" 2 / 3 ", 2, 3},
		{"10", 1, 10},
		{"0", 0, 0},
		{"x/y", 0, 0},
		{"", 0, 0},
	}
	for _, tc := range cases {
		num, den := parseRatio(tc.in)
		if num != tc.num || den != tc.den {
			t.Errorf("parseRatio(%q) = %d/%d, want %d/%d", tc.in, num, den, tc.num, tc.den)
		}
	}
}

func TestSanitizeLimit(t *testing.T) {
	if got := SanitizeLimit("a\x00b\u200bc\nd", 10); got != "abc\nd" {
		t.Fatalf("got %q", got)
	}
	if got := SanitizeLimit("привет", 3); got != "при" {
		t.Fatalf("got %q", got)
	}
}

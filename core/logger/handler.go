package logger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
)

type logFormat string

const (
	formatJSON logFormat = "json"
	formatKV   logFormat = "kv"

	timeLayout = "2006-01-02T15:04:05.000Z07:00"
)

// record is an insertion-ordered set of normalized fields for one log line.
type record struct {
	keys []string
	vals map[string]any
}

func newRecord(capacity int) *record {
	return &record{keys: make([]string, 0, capacity), vals: make(map[string]any, capacity)}
}

func (r *record) set(key string, val any) {
	if _, ok := r.vals[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.vals[key] = val
}

// setDefault sets key only when it is absent and val is not empty.
func (r *record) setDefault(key string, val any) {
	if s, ok := val.(string); ok && s == "" {
		return
	}
	if _, ok := r.vals[key]; ok {
		return
	}
	r.set(key, val)
}

func (r *record) str(key string) string {
	switch v := r.vals[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func (r *record) drop(key string) {
	if _, ok := r.vals[key]; !ok {
		return
	}
	delete(r.vals, key)
	for i, k := range r.keys {
		if k == key {
			r.keys = append(r.keys[:i], r.keys[i+1:]...)
			return
		}
	}
}

type handlerOptions struct {
	level  slog.Leveler
	out    lineWriter
	format logFormat
	order  []string
}

// lineWriter receives fully encoded lines.
type lineWriter interface {
	Write(p []byte) error
}

// structuredHandler renders records with a stable key order so that log lines
// can be grepped and diffed by position.
type structuredHandler struct {
	opts   handlerOptions
	rank   map[string]int
	preset []slog.Attr
	prefix string
}

func newStructuredHandler(opts handlerOptions) *structuredHandler {
	if opts.level == nil {
		opts.level = slog.LevelInfo
	}
	if len(opts.order) == 0 {
		opts.order = defaultKeyOrder
	}
	rank := make(map[string]int, len(opts.order))
	for i, k := range opts.order {
		if _, dup := rank[k]; !dup {
			rank[k] = i
		}
	}
	return &structuredHandler{opts: opts, rank: rank}
}

func (h *structuredHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.level.Level()
}

func (h *structuredHandler) Handle(ctx context.Context, sr slog.Record) error {
	if h.opts.out == nil {
		return errors.New("logger: output not initialized")
	}
	jsonOut := h.opts.format == formatJSON

	rec := newRecord(16)
	ts := sr.Time.UTC()
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	rec.set("ts", ts.Truncate(time.Millisecond).Format(timeLayout))
	rec.set("level", levelName(sr.Level))
	if jsonOut {
		rec.set("ts_unix_nano", ts.UnixNano())
	}
	for _, a := range h.preset {
		h.add(rec, "", a)
	}
	sr.Attrs(func(a slog.Attr) bool {
		h.add(rec, h.prefix, a)
		return true
	})
	FieldsFrom(ctx).appendTo(rec)

	if rid := rec.str("rid"); rid != "" {
		if short := CompactRID(rid); short != rid {
			if jsonOut {
				rec.setDefault("rid_full", rid)
			}
			rec.set("rid", short)
		}
	}
	if rec.str("event") == "" {
		ev := sr.Message
		if ev == "" {
			ev = "unknown"
		}
		rec.set("event", ev)
	}
	if rec.str("component") == "" {
		rec.set("component", "app")
	}
	normalizeEnums(rec)

	keys := sortKeys(rec.keys, h.rank)
	var line []byte
	if jsonOut {
		var err error
		if line, err = encodeJSON(rec, keys); err != nil {
			return err
		}
	} else {
		line = encodeKV(rec, keys)
	}
	return h.opts.out.Write(append(line, '\n'))
}

func (h *structuredHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.preset = make([]slog.Attr, 0, len(h.preset)+len(attrs))
	clone.preset = append(clone.preset, h.preset...)
	for _, a := range attrs {
		if h.prefix != "" {
			a.Key = h.prefix + "." + a.Key
		}
		clone.preset = append(clone.preset, a)
	}
	return &clone
}

func (h *structuredHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	if clone.prefix == "" {
		clone.prefix = name
	} else {
		clone.prefix = clone.prefix + "." + name
	}
	return &clone
}

// add flattens groups into dotted keys and normalizes the value.
func (h *structuredHandler) add(rec *record, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	key := a.Key
	if prefix != "" && key != "" {
		key = prefix + "." + key
	} else if key == "" {
		key = prefix
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, child := range a.Value.Group() {
			h.add(rec, key, child)
		}
		return
	}
	if key == "" {
		return
	}
	k, v, ok := normalizeValue(key, a.Value)
	if !ok {
		return
	}
	if s, isStr := v.(string); isStr && s == "" {
		return
	}
	rec.set(k, v)
}

// normalizeValue converts slog values into JSON-friendly scalars.
// Durations become integer milliseconds under a *_ms key.
func normalizeValue(key string, v slog.Value) (string, any, bool) {
	switch v.Kind() {
	case slog.KindString:
		return key, strings.TrimSpace(v.String()), true
	case slog.KindBool:
		return key, v.Bool(), true
	case slog.KindInt64:
		return key, v.Int64(), true
	case slog.KindUint64:
		if u := v.Uint64(); u <= math.MaxInt64 {
			return key, int64(u), true
		}
		return key, v.Uint64(), true
	case slog.KindFloat64:
		return key, v.Float64(), true
	case slog.KindDuration:
		return msKey(key), RoundMS(v.Duration()).Milliseconds(), true
	case slog.KindTime:
		return key, v.Time().UTC().Format(time.RFC3339Nano), true
	}
	switch x := v.Any().(type) {
	case nil:
		return key, nil, false
	case error:
		return key, x.Error(), true
	case time.Duration:
		return msKey(key), RoundMS(x).Milliseconds(), true
	case fmt.Stringer:
		return key, x.String(), true
	case string:
		return key, strings.TrimSpace(x), true
	default:
		return key, fmt.Sprint(x), true
	}
}

func msKey(key string) string {
	switch {
	case key == "duration":
		return "duration_ms"
	case strings.HasSuffix(key, "_ms"):
		return key
	default:
		return key + "_ms"
	}
}

func levelName(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return LevelError
	case l >= slog.LevelWarn:
		return LevelWarn
	case l >= slog.LevelInfo:
		return LevelInfo
	default:
		return LevelDebug
	}
}

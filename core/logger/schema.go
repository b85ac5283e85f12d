package logger

import "strings"

// Level names as they appear in output.
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

var knownOutcome = map[string]struct{}{
	"ok": {}, "fail": {}, "cancelled": {}, "rate_limited": {}, "conflict": {}, "invalid": {}, "denied": {},
}

// normalizeEnums lower-cases status/outcome and drops outcomes outside the vocabulary.
func normalizeEnums(rec *record) {
	if s := strings.ToLower(strings.TrimSpace(rec.str("status"))); s != "" {
		rec.set("status", s)
	}
	if o := strings.ToLower(strings.TrimSpace(rec.str("outcome"))); o != "" {
		if _, ok := knownOutcome[o]; ok {
			rec.set("outcome", o)
		} else {
			rec.drop("outcome")
		}
	}
}

var defaultKeyOrder = []string{
	"ts",
	"level",
	"component",
	"event",
	"status",
	"rid",
	"rid_full",
	"ts_unix_nano",
	"update_id",
	"user_id",
	"chat_id",
	"handler",
	"action",
	"request_id",
	"payment_id",
	"run_id",
	"from",
	"to",
	"state",
	"wizard",
	"cb_key",
	"outcome",
	"duration_ms",
	"messages",
	"kb",
	"total",
	"delivered",
	"failed",
	"payload",
	"username",
	"mode",
	"listen",
	"public_url",
	"method",
	"path",
	"http_code",
	"driver",
	"db",
	"host",
	"port",
	"topic",
	"bucket",
	"err",
	"err_kind",
	"err_code",
	"attempts",
}

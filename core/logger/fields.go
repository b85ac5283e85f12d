package logger

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	fieldsKey ctxKey = iota
	loggerKey
)

// Fields is the correlation data carried through a context and stamped onto
// every record logged with that context.
type Fields struct {
	RID       string
	UpdateID  int
	UserID    int64
	ChatID    int64
	Handler   string
	Action    string
	RequestID int64
	PaymentID int64
}

// FieldsFrom returns a copy of the fields stored in ctx.
func FieldsFrom(ctx context.Context) Fields {
	if ctx == nil {
		return Fields{}
	}
	if f, ok := ctx.Value(fieldsKey).(*Fields); ok && f != nil {
		return *f
	}
	return Fields{}
}

// WithFields derives a context whose fields are the current ones modified by fn.
// Stored fields are never mutated in place, so sibling contexts stay isolated.
func WithFields(ctx context.Context, fn func(*Fields)) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	next := FieldsFrom(ctx)
	fn(&next)
	return context.WithValue(ctx, fieldsKey, &next)
}

// WithRID attaches the correlation id.
func WithRID(ctx context.Context, rid string) context.Context {
	return WithFields(ctx, func(f *Fields) { f.RID = rid })
}

// RIDFrom returns the correlation id, if any.
func RIDFrom(ctx context.Context) string { return FieldsFrom(ctx).RID }

// WithUpdateMeta attaches transport identifiers of the update being handled.
func WithUpdateMeta(ctx context.Context, updateID int, userID, chatID int64) context.Context {
	return WithFields(ctx, func(f *Fields) {
		f.UpdateID = updateID
		f.UserID = userID
		f.ChatID = chatID
	})
}

// UpdateIDFrom returns the update id.
func UpdateIDFrom(ctx context.Context) int { return FieldsFrom(ctx).UpdateID }

// UserIDFrom returns the acting user id.
func UserIDFrom(ctx context.Context) int64 { return FieldsFrom(ctx).UserID }

// ChatIDFrom returns the chat id.
func ChatIDFrom(ctx context.Context) int64 { return FieldsFrom(ctx).ChatID }

// WithHandler names the handler serving the update.
func WithHandler(ctx context.Context, handler string) context.Context {
	if handler == "" {
		if ctx == nil {
			return context.Background()
		}
		return ctx
	}
	return WithFields(ctx, func(f *Fields) { f.Handler = handler })
}

// HandlerFrom returns the handler name.
func HandlerFrom(ctx context.Context) string { return FieldsFrom(ctx).Handler }

// WithAction tags the context with the workflow action being executed.
func WithAction(ctx context.Context, action string, requestID int64) context.Context {
	return WithFields(ctx, func(f *Fields) {
		f.Action = action
		if requestID != 0 {
			f.RequestID = requestID
		}
	})
}

// WithPayment tags the context with a payment id.
func WithPayment(ctx context.Context, paymentID int64) context.Context {
	return WithFields(ctx, func(f *Fields) { f.PaymentID = paymentID })
}

// WithLogger stores a logger for FromContext.
func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if l == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext returns the stored logger or the base logger.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return Base()
}

// appendTo adds non-zero fields that the record does not already carry.
func (f Fields) appendTo(r *record) {
	r.setDefault("rid", f.RID)
	if f.UpdateID != 0 {
		r.setDefault("update_id", int64(f.UpdateID))
	}
	if f.UserID != 0 {
		r.setDefault("user_id", f.UserID)
	}
	if f.ChatID != 0 {
		r.setDefault("chat_id", f.ChatID)
	}
	r.setDefault("handler", f.Handler)
	r.setDefault("action", f.Action)
	if f.RequestID != 0 {
		r.setDefault("request_id", f.RequestID)
	}
	if f.PaymentID != 0 {
		r.setDefault("payment_id", f.PaymentID)
	}
}

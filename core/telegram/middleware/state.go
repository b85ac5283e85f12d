package middleware

import (
	"context"
	"log/slog"

	"github.com/m3rciful/studybot/core/logger"
	tghelpers "github.com/m3rciful/studybot/core/telegram/helpers"
	"github.com/m3rciful/studybot/core/telegram/state"

	tele "gopkg.in/telebot.v4"
)

// SessionChecker reports whether a conversation is running for a key.
type SessionChecker interface {
	Active(ctx context.Context, key state.Key) bool
}

// BusyOptions configures Busy.
type BusyOptions struct {
	Sessions SessionChecker
	// Allow lets selected handlers through even while busy, such as cancel.
	Allow func(c tele.Context) bool
	// OnBusy tells the user to finish or cancel first.
	OnBusy tele.HandlerFunc
}

// Busy keeps commands and buttons away from a user who is in the middle of
// a conversation. Wrap only the handlers that start new work.
func Busy(opts BusyOptions) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			if c.Sender() == nil || opts.Sessions == nil {
				return next(c)
			}
			if opts.Allow != nil && opts.Allow(c) {
				return next(c)
			}
			ctx := tghelpers.BuildContext(c)
			key := state.KeyOf(c)
			if !opts.Sessions.Active(ctx, key) {
				return next(c)
			}
			logger.Debug(ctx, "tg", "session.busy", slog.String("key", key.String()))
			if c.Callback() != nil {
				_ = c.Respond()
			}
			if opts.OnBusy != nil {
				return opts.OnBusy(c)
			}
			return nil
		}
	}
}

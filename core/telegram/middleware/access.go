package middleware

import (
	"log/slog"

	"github.com/m3rciful/studybot/core/logger"
	tghelpers "github.com/m3rciful/studybot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// AccessOptions defines how operator checks behave.
type AccessOptions struct {
	IsOperator func(userID int64) bool
	// OnReject runs for everybody else; nil means silence.
	OnReject tele.HandlerFunc
}

func (o AccessOptions) allowed(c tele.Context) bool {
	u := c.Sender()
	return u != nil && o.IsOperator != nil && o.IsOperator(u.ID)
}

// OperatorOnly lets only operators reach the wrapped handler.
func OperatorOnly(opts AccessOptions) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			if !opts.allowed(c) {
				logger.Debug(tghelpers.BuildContext(c), "tg", "access.denied")
				if opts.OnReject != nil {
					return opts.OnReject(c)
				}
				return nil
			}
			return next(c)
		}
	}
}

// GateOptions configures Gate.
type GateOptions struct {
	// Closed reports whether the gate currently blocks updates.
	Closed func(c tele.Context) bool
	// Exempt users pass a closed gate.
	Exempt   func(userID int64) bool
	OnClosed tele.HandlerFunc
}

// Gate blocks every update while Closed reports true, except for exempt users.
func Gate(opts GateOptions) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			if opts.Closed == nil || !opts.Closed(c) {
				return next(c)
			}
			if u := c.Sender(); u != nil && opts.Exempt != nil && opts.Exempt(u.ID) {
				return next(c)
			}
			logger.Debug(tghelpers.BuildContext(c), "tg", "gate.closed", slog.String("kind", UpdateKind(c.Update())))
			if c.Callback() != nil {
				_ = c.Respond()
			}
			if opts.OnClosed != nil {
				return opts.OnClosed(c)
			}
			return nil
		}
	}
}

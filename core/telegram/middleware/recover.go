package middleware

import (
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/m3rciful/studybot/core/logger"
	tghelpers "github.com/m3rciful/studybot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// ErrPanic wraps a recovered handler panic so the bot's error handler can
// answer the user.
type ErrPanic struct{ Value any }

func (e ErrPanic) Error() string { return fmt.Sprintf("handler panic: %v", e.Value) }

// RecoverMiddleware turns handler panics into errors.
func RecoverMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error(tghelpers.BuildContext(c), "tg", "tg.panic",
					slog.Any("err", r),
					slog.String("stack", string(debug.Stack())),
				)
				err = ErrPanic{Value: r}
			}
		}()
		return next(c)
	}
}

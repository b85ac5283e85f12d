package router

import (
	"context"
	"time"

	tg "github.com/m3rciful/studybot/core/telegram"
	tghelpers "github.com/m3rciful/studybot/core/telegram/helpers"
	"github.com/m3rciful/studybot/core/telegram/state"
	"github.com/m3rciful/studybot/core/telegram/ui"

	tele "gopkg.in/telebot.v4"
)

// Conversation is the multi-step input handler for users with a running session.
type Conversation interface {
	Active(ctx context.Context, key state.Key) bool
	Handle(c tele.Context) error
}

// TextOptions controls fallback behaviour for text, document and photo updates.
type TextOptions struct {
	UnknownText tele.HandlerFunc
	UnknownFile tele.HandlerFunc
}

// FallbackText takes the text and file fallbacks from p.
func FallbackText(p ui.FallbackProvider) TextOptions {
	return TextOptions{UnknownText: p.UnknownText(), UnknownFile: p.UnknownFile()}
}

// TextRoutes sends free input to the conversation when one is running, then
// to commands typed without the menu, then to the fallbacks.
func TextRoutes(conv Conversation, reg *tg.Registry, opts TextOptions) []tg.Route {
	inConversation := func(c tele.Context) bool {
		return conv != nil && c.Sender() != nil && conv.Active(tghelpers.BuildContext(c), state.KeyOf(c))
	}

	handler := func(c tele.Context) error {
		start := time.Now()
		if inConversation(c) {
			return handleWithSummary(c, "conversation", start, "", "", func() error {
				return conv.Handle(c)
			})
		}

		if reg != nil {
			if key, cmd, ok := reg.LookupCommand(c.Text()); ok && cmd.Handler != nil && !cmd.AdminOnly {
				return handleWithSummary(c, "command."+normalizeHandlerName(key), start, "", "", func() error {
					return cmd.Handler(c)
				})
			}
		}

		if opts.UnknownText != nil {
			return handleWithSummary(c, "unknown_text", start, "", "", func() error {
				return opts.UnknownText(c)
			})
		}
		logHandlerSummary(c, "unknown_text", start, "skip", "ok", nil)
		return nil
	}

	fileHandler := func(c tele.Context) error {
		start := time.Now()
		if inConversation(c) {
			return handleWithSummary(c, "conversation_file", start, "", "", func() error {
				return conv.Handle(c)
			})
		}
		if opts.UnknownFile != nil {
			return handleWithSummary(c, "unexpected_file", start, "", "", func() error {
				return opts.UnknownFile(c)
			})
		}
		logHandlerSummary(c, "unexpected_file", start, "skip", "ok", nil)
		return nil
	}

	return []tg.Route{
		{Endpoint: tele.OnText, Handler: handler},
		{Endpoint: tele.OnDocument, Handler: fileHandler},
		{Endpoint: tele.OnPhoto, Handler: fileHandler},
	}
}

// Package bot adapts Telegram updates to the request workflow. Handlers are
// plain functions from a Call to a reply so they can be exercised without a
// live bot; the telebot glue only builds the Call and sends the reply.
package bot

import (
	"context"
	"errors"
	"log/slog"

	"github.com/m3rciful/studybot/core/logger"
	tg "github.com/m3rciful/studybot/core/telegram"
	"github.com/m3rciful/studybot/core/telegram/callbacks"
	"github.com/m3rciful/studybot/core/telegram/format"
	tghelpers "github.com/m3rciful/studybot/core/telegram/helpers"
	"github.com/m3rciful/studybot/core/telegram/keyboard"
	"github.com/m3rciful/studybot/internal/conversation"
	"github.com/m3rciful/studybot/internal/domain"
	"github.com/m3rciful/studybot/internal/notify"
	"github.com/m3rciful/studybot/internal/workflow"

	tele "gopkg.in/telebot.v4"
)

// Replies shown outside the wizards.
const (
	MsgTryAgain    = "Something went wrong. Please try again."
	MsgUnknown     = "I did not understand that. See /help."
	MsgUnknownFile = "I was not expecting a file. See /help."
	MsgButtonGone  = "This button is no longer active."
	MsgBusy        = "Please finish the current step first, or send /cancel."
	MsgMaintenance = "The bot is under maintenance. Please try again later."
)

// Call is one inbound command, button press or message.
type Call struct {
	conversation.Input
	// Args are the words after a command.
	Args []string
	// Payload is the callback payload after the action token.
	Payload string
}

// ID parses the payload as a request or payment id.
func (c Call) ID() (int64, bool) {
	id, err := callbacks.ParseID(c.Payload)
	return id, err == nil
}

type action func(ctx context.Context, call Call) (notify.Message, error)

// Handlers serves every command and callback of the bot.
type Handlers struct {
	wf   *workflow.Controller
	conv *conversation.Engine
	reg  *tg.Registry
}

// New returns Handlers over the controller and the wizard engine.
func New(wf *workflow.Controller, conv *conversation.Engine) *Handlers {
	return &Handlers{wf: wf, conv: conv}
}

// callOf extracts the sender, chat and content of an update.
func callOf(c tele.Context) Call {
	var call Call
	if chat := c.Chat(); chat != nil {
		call.ChatID = chat.ID
	}
	if u := c.Sender(); u != nil {
		call.UserID = u.ID
		call.Name = tghelpers.DisplayName(u)
	}
	if c.Callback() != nil {
		call.Payload = callbacks.CallbackPayload(c)
		return call
	}
	if m := c.Message(); m != nil {
		call.Text = m.Text
		if call.Text == "" {
			call.Text = m.Caption
		}
		call.File = fileOf(m)
		call.Args = c.Args()
	}
	return call
}

func fileOf(m *tele.Message) *domain.FileRef {
	switch {
	case m.Document != nil:
		return &domain.FileRef{ID: m.Document.FileID, Kind: domain.FileDocument, Name: m.Document.FileName}
	case m.Photo != nil:
		return &domain.FileRef{ID: m.Photo.FileID, Kind: domain.FilePhoto}
	}
	return nil
}

// handle runs a in the update's logging context and sends its reply.
func (h *Handlers) handle(a action) tele.HandlerFunc {
	return h.wrap(a, false)
}

// handleEdit is handle for buttons whose card should change in place.
func (h *Handlers) handleEdit(a action) tele.HandlerFunc {
	return h.wrap(a, true)
}

func (h *Handlers) wrap(a action, edit bool) tele.HandlerFunc {
	return func(c tele.Context) error {
		ctx := tghelpers.BuildContext(c)
		call := callOf(c)
		msg, err := a(ctx, call)
		if err != nil {
			msg = explain(ctx, err)
		}
		return h.reply(ctx, c, call, msg, edit)
	}
}

// explain maps a failure to what the user sees. Raw errors never reach chat.
func explain(ctx context.Context, err error) notify.Message {
	kind := workflow.KindOf(err)
	var we *workflow.Error
	if !errors.As(err, &we) {
		logger.Warn(ctx, "tg", "handler.error", slog.String("kind", kind.String()), logger.Err(err))
	}
	switch kind {
	case workflow.KindUnauthorized:
		return notify.Message{}
	case workflow.KindValidation:
		return notify.Message{Text: "That input is not valid. Please check it and try again."}
	case workflow.KindNotFound, workflow.KindConflict:
		return notify.Message{Text: conversation.MsgStale}
	}
	return notify.Message{Text: MsgTryAgain}
}

// reply sends msg to the current chat. While the sender is inside a wizard
// the reply carries a cancel button.
func (h *Handlers) reply(ctx context.Context, c tele.Context, call Call, msg notify.Message, edit bool) error {
	if msg.Text == "" && msg.File == nil {
		return nil
	}
	rm := markup(msg.Buttons)
	if call.UserID != 0 && h.conv.Active(ctx, call.Key()) {
		rm = keyboard.WithCancel(rm, workflow.ActionCancel)
	}

	if msg.File != nil {
		caption, rest := splitCaption(msg.Text)
		if rest == "" {
			return tghelpers.SendFile(c, media(*msg.File, caption), rm)
		}
		if err := tghelpers.SendFile(c, media(*msg.File, ""), nil); err != nil {
			return err
		}
		return tghelpers.SendWithMarkup(c, rest, rm)
	}

	if edit && c.Callback() != nil {
		text := msg.Text
		if !msg.Markdown {
			text = format.Escape(text)
		}
		return tghelpers.EditOrSendMD(c, text, rm)
	}
	if msg.Markdown {
		return tghelpers.SendMD(c, msg.Text, rm)
	}
	return tghelpers.SendWithMarkup(c, msg.Text, rm)
}

func (h *Handlers) operator(call Call) bool { return h.wf.IsOperator(call.UserID) }

func reply(s string) notify.Message { return notify.Message{Text: s} }

// OnError answers handler errors and recovered panics with a generic
// message.
func OnError(err error, c tele.Context) {
	ctx := context.Background()
	if c != nil {
		ctx = tghelpers.BuildContext(c)
	}
	logger.Error(ctx, "tg", "handler.failed", logger.Err(err))
	if c == nil || c.Chat() == nil {
		return
	}
	if cb := c.Callback(); cb != nil {
		_ = c.Respond()
	}
	if sendErr := c.Send(MsgTryAgain); sendErr != nil {
		logger.Warn(ctx, "tg", "handler.failed.reply", logger.Err(sendErr))
	}
}

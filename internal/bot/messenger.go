package bot

import (
	"context"
	"io"
	"unicode/utf8"

	"github.com/m3rciful/studybot/core/telegram/keyboard"
	"github.com/m3rciful/studybot/core/telegram/sender"
	"github.com/m3rciful/studybot/internal/domain"
	"github.com/m3rciful/studybot/internal/notify"

	tele "gopkg.in/telebot.v4"
)

// MaxCaptionLen is Telegram's caption limit in characters.
const MaxCaptionLen = 1024

// API is the part of *tele.Bot the messenger sends through.
type API interface {
	Send(to tele.Recipient, what any, opts ...any) (*tele.Message, error)
}

// Messenger delivers notify messages to arbitrary chats through the retrying
// sender.
type Messenger struct {
	api  API
	disp *sender.Dispatcher
}

// NewMessenger returns a Messenger. A nil dispatcher sends without retries.
func NewMessenger(api API, disp *sender.Dispatcher) *Messenger {
	return &Messenger{api: api, disp: disp}
}

// Send implements notify.Messenger. A file goes first with the text as its
// caption; text longer than a caption follows as its own message carrying
// the buttons.
func (m *Messenger) Send(ctx context.Context, chatID int64, msg notify.Message) error {
	if msg.Text == "" && msg.File == nil {
		return nil
	}
	to := tele.ChatID(chatID)
	opts := sendOptions(msg)

	if msg.File == nil {
		return m.do(ctx, "notify.text", "sendMessage", func() error {
			_, err := m.api.Send(to, msg.Text, opts)
			return err
		})
	}

	caption, rest := splitCaption(msg.Text)
	fileOpts := opts
	if rest != "" {
		fileOpts = &tele.SendOptions{}
	}
	err := m.do(ctx, "notify.file", endpointFor(msg.File.Kind), func() error {
		_, err := m.api.Send(to, media(*msg.File, caption), fileOpts)
		return err
	})
	if err != nil || rest == "" {
		return err
	}
	return m.do(ctx, "notify.text", "sendMessage", func() error {
		_, err := m.api.Send(to, rest, opts)
		return err
	})
}

func (m *Messenger) do(ctx context.Context, action, endpoint string, run func() error) error {
	if m.disp == nil {
		return run()
	}
	return m.disp.Do(ctx, action, endpoint, run)
}

func sendOptions(msg notify.Message) *tele.SendOptions {
	opts := &tele.SendOptions{ReplyMarkup: markup(msg.Buttons)}
	if msg.Markdown {
		opts.ParseMode = tele.ModeMarkdown
	}
	return opts
}

// markup turns transport-neutral buttons into an inline keyboard whose
// callback data is "\f<action>|<payload>".
func markup(rows [][]notify.Button) *tele.ReplyMarkup {
	if len(rows) == 0 {
		return nil
	}
	out := make([][]keyboard.InlineBtn, 0, len(rows))
	for _, row := range rows {
		r := make([]keyboard.InlineBtn, 0, len(row))
		for _, b := range row {
			r = append(r, keyboard.InlineBtn{Text: b.Text, Unique: b.Action, Data: b.Payload})
		}
		out = append(out, r)
	}
	return keyboard.InlineButtonsRows(out...)
}

func splitCaption(text string) (caption, rest string) {
	if utf8.RuneCountInString(text) <= MaxCaptionLen {
		return text, ""
	}
	return "", text
}

func media(f domain.FileRef, caption string) tele.Sendable {
	if f.Kind == domain.FilePhoto {
		return &tele.Photo{File: tele.File{FileID: f.ID}, Caption: caption}
	}
	return &tele.Document{File: tele.File{FileID: f.ID}, FileName: f.Name, Caption: caption}
}

func endpointFor(k domain.FileKind) string {
	if k == domain.FilePhoto {
		return "sendPhoto"
	}
	return "sendDocument"
}

// FileAPI downloads files by id.
type FileAPI interface {
	File(file *tele.File) (io.ReadCloser, error)
}

// Fetcher streams files that users sent to the bot, for the evidence archive.
type Fetcher struct{ api FileAPI }

// NewFetcher returns a Fetcher over api.
func NewFetcher(api FileAPI) *Fetcher { return &Fetcher{api: api} }

// Fetch opens the file referenced by f.
func (f *Fetcher) Fetch(_ context.Context, ref domain.FileRef) (io.ReadCloser, error) {
	return f.api.File(&tele.File{FileID: ref.ID})
}

// Package notify delivers workflow messages to chats. It knows nothing about
// Telegram; a Messenger does the actual sending.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/m3rciful/studybot/core/logger"
	"github.com/m3rciful/studybot/internal/domain"
)

// DefaultDelay spaces broadcast sends to stay under transport rate limits.
const DefaultDelay = 50 * time.Millisecond

// Button is a transport-neutral inline action.
type Button struct {
	Text    string
	Action  string
	Payload string
}

// Message is one outbound notification.
type Message struct {
	Text     string
	Markdown bool
	// File, when set, is sent with Text as its caption.
	File    *domain.FileRef
	Buttons [][]Button
}

// Messenger sends a message to one chat.
type Messenger interface {
	Send(ctx context.Context, chatID int64, msg Message) error
}

// Report summarizes a broadcast run.
type Report struct {
	RunID     string
	Total     int
	Delivered int
	Failed    int
}

// Dispatcher wraps a Messenger with logging and fan-out.
type Dispatcher struct {
	m     Messenger
	delay time.Duration
	sleep func(context.Context, time.Duration) error
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithDelay sets the pause between broadcast sends; negative means none.
func WithDelay(d time.Duration) Option {
	return func(x *Dispatcher) {
		if d < 0 {
			d = 0
		}
		x.delay = d
	}
}

// New returns a Dispatcher using DefaultDelay.
func New(m Messenger, opts ...Option) *Dispatcher {
	d := &Dispatcher{m: m, delay: DefaultDelay, sleep: sleepCtx}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify sends one message. Failures are logged with the chat id and returned.
func (d *Dispatcher) Notify(ctx context.Context, chatID int64, msg Message) error {
	if err := d.m.Send(ctx, chatID, msg); err != nil {
		logger.Warn(ctx, "notify", "notify.fail", slog.Int64("to", chatID), logger.Err(err))
		return fmt.Errorf("notify %d: %w", chatID, err)
	}
	return nil
}

// NotifyAll sends msg to every chat and reports how many got it. The error
// joins the individual failures.
func (d *Dispatcher) NotifyAll(ctx context.Context, chatIDs []int64, msg Message) (int, error) {
	delivered := 0
	var errs []error
	for _, id := range chatIDs {
		if err := d.Notify(ctx, id, msg); err != nil {
			errs = append(errs, err)
			continue
		}
		delivered++
	}
	return delivered, errors.Join(errs...)
}

// Broadcast sends msg to every recipient in turn, pausing between sends. A
// failure for one recipient never stops the others. Cancelling ctx stops the
// run and counts the rest as failed.
func (d *Dispatcher) Broadcast(ctx context.Context, recipients []int64, msg Message) Report {
	rep := Report{RunID: uuid.NewString(), Total: len(recipients)}
	start := time.Now()
	logger.Info(ctx, "notify", "broadcast.start",
		slog.String("run_id", rep.RunID),
		slog.Int("total", rep.Total),
	)

	for i, id := range recipients {
		if i > 0 && d.delay > 0 {
			if err := d.sleep(ctx, d.delay); err != nil {
				rep.Failed += len(recipients) - i
				logger.Warn(ctx, "notify", "broadcast.aborted",
					slog.String("run_id", rep.RunID),
					slog.Int("remaining", len(recipients)-i),
					logger.Err(err),
				)
				break
			}
		}
		if err := d.m.Send(ctx, id, msg); err != nil {
			rep.Failed++
			logger.Warn(ctx, "notify", "broadcast.fail",
				slog.String("run_id", rep.RunID),
				slog.Int64("to", id),
				logger.Err(err),
			)
			continue
		}
		rep.Delivered++
	}

	logger.Info(ctx, "notify", "broadcast.done",
		slog.String("run_id", rep.RunID),
		slog.Int("total", rep.Total),
		slog.Int("delivered", rep.Delivered),
		slog.Int("failed", rep.Failed),
		slog.Duration("duration", time.Since(start)),
	)
	return rep
}

// BroadcastAsync runs Broadcast on its own goroutine and hands the report to
// done, if set.
func (d *Dispatcher) BroadcastAsync(ctx context.Context, recipients []int64, msg Message, done func(Report)) {
	go func() {
		rep := d.Broadcast(ctx, recipients, msg)
		if done != nil {
			done(rep)
		}
	}()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

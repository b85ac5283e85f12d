package conversation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/m3rciful/studybot/core/logger"
	"github.com/m3rciful/studybot/core/telegram/state"
	"github.com/m3rciful/studybot/internal/domain"
	"github.com/m3rciful/studybot/internal/notify"
	"github.com/m3rciful/studybot/internal/workflow"
)

const unreachable = "\nThe other side could not be reached right now."

func withDelivery(msg string, out workflow.Outcome) notify.Message {
	if !out.Notified {
		msg += unreachable
	}
	return text(msg)
}

func completeSubmit(ctx context.Context, e *Engine, in Input, s *state.Session) (notify.Message, error) {
	out, err := e.wf.Submit(ctx, in.actor(), workflow.SubmitInput{
		Subject:     s.Value(keySubject),
		Counterpart: s.Value(keyCounterpart),
		Deadline:    s.Value(keyDeadline),
		Details:     s.Value(keyDetails),
		Attachment:  sessionFile(s),
	})
	if err != nil {
		return notify.Message{}, err
	}
	return text(fmt.Sprintf("Your request #%d was submitted. You will get an offer here.", out.Request.ID)), nil
}

func completeOffer(ctx context.Context, e *Engine, in Input, s *state.Session) (notify.Message, error) {
	offer := domain.Offer{Price: s.Value(keyPrice), Delivery: s.Value(keyDelivery)}
	if notes, ok := s.Data[keyNotes]; ok {
		offer.Notes = &notes
	}
	out, err := e.wf.MakeOffer(ctx, in.UserID, s.RequestID, offer)
	if err != nil {
		return notify.Message{}, err
	}
	return withDelivery(fmt.Sprintf("Offer for request #%d was sent.", out.Request.ID), out), nil
}

func completePayment(ctx context.Context, e *Engine, in Input, s *state.Session) (notify.Message, error) {
	f := sessionFile(s)
	if f == nil {
		return notify.Message{}, fmt.Errorf("payment evidence missing from session")
	}
	out, err := e.wf.SubmitPayment(ctx, in.UserID, s.RequestID, *f)
	if err != nil {
		return notify.Message{}, err
	}
	return text(fmt.Sprintf("Payment evidence for request #%d was sent. We will verify it shortly.", out.Request.ID)), nil
}

func completeFinish(ctx context.Context, e *Engine, in Input, s *state.Session) (notify.Message, error) {
	out, err := e.wf.Deliver(ctx, in.UserID, s.RequestID, workflow.Work{Text: s.Value(keyText), File: sessionFile(s)})
	if err != nil {
		return notify.Message{}, err
	}
	return withDelivery(fmt.Sprintf("Request #%d is completed.", out.Request.ID), out), nil
}

func completeBroadcast(ctx context.Context, e *Engine, in Input, s *state.Session) (notify.Message, error) {
	chat := in.ChatID
	bg := context.WithoutCancel(ctx)
	n, err := e.wf.Broadcast(ctx, in.UserID, s.Value(keyText), func(rep notify.Report) {
		msg := text(fmt.Sprintf("Broadcast finished: delivered to %d of %d users.", rep.Delivered, rep.Total))
		if err := e.notifier.Notify(bg, chat, msg); err != nil {
			logger.Warn(bg, "session", "broadcast.report", slog.String("run_id", rep.RunID), logger.Err(err))
		}
	})
	if err != nil {
		return notify.Message{}, err
	}
	return text(fmt.Sprintf("Broadcast started for %d users.", n)), nil
}

package bot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/m3rciful/studybot/core/logger"
	"github.com/m3rciful/studybot/core/telegram/callbacks"
	"github.com/m3rciful/studybot/internal/conversation"
	"github.com/m3rciful/studybot/internal/domain"
	"github.com/m3rciful/studybot/internal/notify"
	"github.com/m3rciful/studybot/internal/workflow"
)

var stale = reply(conversation.MsgStale)

// byID wraps a button action that needs the id from the payload.
func byID(fn func(ctx context.Context, call Call, id int64) (notify.Message, error)) action {
	return func(ctx context.Context, call Call) (notify.Message, error) {
		id, ok := call.ID()
		if !ok {
			return stale, nil
		}
		return fn(ctx, call, id)
	}
}

func (h *Handlers) view(ctx context.Context, call Call, id int64) (notify.Message, error) {
	r, err := h.wf.RequestFor(ctx, call.UserID, id)
	if err != nil {
		return notify.Message{}, err
	}
	if r.OwnerID == call.UserID || !h.operator(call) {
		return card(r, false, nil), nil
	}
	return h.managed(ctx, r)
}

func (h *Handlers) manage(ctx context.Context, call Call, id int64) (notify.Message, error) {
	if !h.operator(call) {
		return notify.Message{}, nil
	}
	r, err := h.wf.Request(ctx, id)
	if err != nil {
		return notify.Message{}, err
	}
	return h.managed(ctx, r)
}

// managed is the operator card, listing pending payments for requests that
// wait on verification.
func (h *Handlers) managed(ctx context.Context, r domain.Request) (notify.Message, error) {
	var pending []domain.Payment
	if r.Status == domain.StatusAwaitingPayment {
		ps, err := h.wf.PaymentsFor(ctx, r.ID)
		if err != nil {
			return notify.Message{}, err
		}
		for _, p := range ps {
			if p.Status == domain.PaymentPending {
				pending = append(pending, p)
			}
		}
	}
	return card(r, true, pending), nil
}

func (h *Handlers) accept(ctx context.Context, call Call, id int64) (notify.Message, error) {
	out, err := h.wf.Accept(ctx, call.UserID, id)
	if err != nil {
		return notify.Message{}, err
	}
	text := fmt.Sprintf("Offer for request #%d accepted.", id) + notifiedSuffix(out)
	prompt, err := h.conv.StartPayment(ctx, call.Input, id)
	if err != nil {
		// The offer is accepted either way; the button starts the upload again.
		logger.Warn(ctx, "tg", "payment.prompt", slog.Int64("request", id), logger.Err(err))
		return notify.Message{
			Text:    text + "\n\nPress Send payment to upload the payment evidence.",
			Buttons: [][]notify.Button{{btn("Send payment", workflow.ActionPay, id)}},
		}, nil
	}
	if prompt.Text != "" {
		text += "\n\n" + prompt.Text
	}
	return notify.Message{Text: text, Buttons: prompt.Buttons}, nil
}

// decline refuses an open offer, or withdraws a request that waits on
// payment.
func (h *Handlers) decline(ctx context.Context, call Call, id int64) (notify.Message, error) {
	r, err := h.wf.RequestFor(ctx, call.UserID, id)
	if err != nil {
		return notify.Message{}, err
	}
	op := h.wf.Cancel
	if r.Status == domain.StatusOffered {
		op = h.wf.Decline
	}
	out, err := op(ctx, call.UserID, id)
	if err != nil {
		return notify.Message{}, err
	}
	return reply(fmt.Sprintf("Request #%d was cancelled.", id) + notifiedSuffix(out)), nil
}

func (h *Handlers) pay(ctx context.Context, call Call, id int64) (notify.Message, error) {
	return h.conv.StartPayment(ctx, call.Input, id)
}

func (h *Handlers) offer(ctx context.Context, call Call, id int64) (notify.Message, error) {
	return h.conv.StartOffer(ctx, call.Input, id)
}

func (h *Handlers) reject(ctx context.Context, call Call, id int64) (notify.Message, error) {
	out, err := h.wf.Reject(ctx, call.UserID, id)
	if err != nil {
		return notify.Message{}, err
	}
	return reply(fmt.Sprintf("Request #%d was rejected.", id) + notifiedSuffix(out)), nil
}

func (h *Handlers) confirmPayment(ctx context.Context, call Call, id int64) (notify.Message, error) {
	out, err := h.wf.ConfirmPayment(ctx, call.UserID, id)
	if err != nil {
		return notify.Message{}, err
	}
	r := out.Request
	return notify.Message{
		Text:    fmt.Sprintf("Payment #%d confirmed. Request #%d is in progress.", id, r.ID) + notifiedSuffix(out),
		Buttons: [][]notify.Button{{btn("Deliver work", workflow.ActionFinish, r.ID)}},
	}, nil
}

func (h *Handlers) rejectPayment(ctx context.Context, call Call, id int64) (notify.Message, error) {
	out, err := h.wf.RejectPayment(ctx, call.UserID, id)
	if err != nil {
		return notify.Message{}, err
	}
	return reply(fmt.Sprintf("Payment #%d rejected. The student can send it again.", id) + notifiedSuffix(out)), nil
}

func (h *Handlers) receipt(ctx context.Context, call Call, id int64) (notify.Message, error) {
	if !h.operator(call) {
		return notify.Message{}, nil
	}
	p, err := h.wf.Payment(ctx, id)
	if err != nil {
		return notify.Message{}, err
	}
	ev := p.Evidence
	msg := notify.Message{
		Text: fmt.Sprintf("Payment #%d for request #%d: %s", p.ID, p.RequestID, p.Status),
		File: &ev,
	}
	if p.Status == domain.PaymentPending {
		msg.Buttons = [][]notify.Button{paymentButtons(p)[1:]}
	}
	return msg, nil
}

func (h *Handlers) finish(ctx context.Context, call Call, id int64) (notify.Message, error) {
	return h.conv.StartFinish(ctx, call.Input, id)
}

// notes answers the offer wizard's yes/no question. The payload is
// "<request id>:yes" or "<request id>:no".
func (h *Handlers) notes(ctx context.Context, call Call) (notify.Message, error) {
	id, word, err := callbacks.ParseIDWord(call.Payload, ":")
	if err != nil || (word != "yes" && word != "no") {
		return stale, nil
	}
	msg, handled, err := h.conv.Decide(ctx, call.Input, id, word == "yes")
	if err != nil {
		return notify.Message{}, err
	}
	if !handled {
		return stale, nil
	}
	return msg, nil
}

func (h *Handlers) cancelButton(ctx context.Context, call Call) (notify.Message, error) {
	return h.conv.Cancel(ctx, call.Key())
}

// advance feeds free input to the running wizard.
func (h *Handlers) advance(ctx context.Context, call Call) (notify.Message, error) {
	msg, handled, err := h.conv.Advance(ctx, call.Input)
	if err != nil {
		return notify.Message{}, err
	}
	if !handled {
		if call.File != nil {
			return reply(MsgUnknownFile), nil
		}
		return reply(MsgUnknown), nil
	}
	return msg, nil
}

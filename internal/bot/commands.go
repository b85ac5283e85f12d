package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/m3rciful/studybot/internal/domain"
	"github.com/m3rciful/studybot/internal/notify"
	"github.com/m3rciful/studybot/internal/workflow"
)

func (h *Handlers) help(call Call) string {
	if h.reg == nil {
		return ""
	}
	return h.reg.Help(h.operator(call))
}

func (h *Handlers) start(_ context.Context, call Call) (notify.Message, error) {
	text := "Hi! I take study work requests and keep you posted at every step."
	if help := h.help(call); help != "" {
		text += "\n\n" + help
	}
	return reply(text), nil
}

func (h *Handlers) helpCmd(_ context.Context, call Call) (notify.Message, error) {
	return reply(h.help(call)), nil
}

func (h *Handlers) newRequest(ctx context.Context, call Call) (notify.Message, error) {
	return h.conv.StartSubmission(ctx, call.Input)
}

func (h *Handlers) cancel(ctx context.Context, call Call) (notify.Message, error) {
	return h.conv.Cancel(ctx, call.Key())
}

func (h *Handlers) myRequests(ctx context.Context, call Call) (notify.Message, error) {
	rs, err := h.wf.RequestsFor(ctx, call.UserID)
	if err != nil {
		return notify.Message{}, err
	}
	return requestList("Your requests", "You have no requests yet. Send /new to create one.", rs, workflow.ActionView), nil
}

func (h *Handlers) myOffers(ctx context.Context, call Call) (notify.Message, error) {
	rs, err := h.wf.RequestsFor(ctx, call.UserID, domain.StatusOffered)
	if err != nil {
		return notify.Message{}, err
	}
	return requestList("Offers waiting for you", "You have no open offers.", rs, workflow.ActionView), nil
}

func (h *Handlers) dashboard(ctx context.Context, _ Call) (notify.Message, error) {
	s, err := h.wf.Stats(ctx)
	if err != nil {
		return notify.Message{}, err
	}
	on, err := h.wf.Maintenance(ctx)
	if err != nil {
		return notify.Message{}, err
	}
	mode := "off"
	if on {
		mode = "on"
	}
	return reply(fmt.Sprintf("Admin dashboard\n\n%s\n\nMaintenance: %s\n\n"+
		"/pending new requests\n/active requests in progress\n/history closed requests\n"+
		"/payments latest payments\n/broadcast message everyone\n/maintenance on|off",
		statsText(s), mode)), nil
}

func (h *Handlers) queue(title, empty string, statuses ...domain.Status) action {
	return func(ctx context.Context, _ Call) (notify.Message, error) {
		rs, err := h.wf.Queue(ctx, statuses...)
		if err != nil {
			return notify.Message{}, err
		}
		return requestList(title, empty, rs, workflow.ActionManage), nil
	}
}

func (h *Handlers) history(ctx context.Context, _ Call) (notify.Message, error) {
	rs, err := h.wf.Queue(ctx, domain.HistoryStatuses...)
	if err != nil {
		return notify.Message{}, err
	}
	return requestList("Closed requests", "Nothing closed yet.", rs, ""), nil
}

func (h *Handlers) payments(ctx context.Context, _ Call) (notify.Message, error) {
	ps, err := h.wf.Payments(ctx, listLimit)
	if err != nil {
		return notify.Message{}, err
	}
	return paymentList(ps), nil
}

func (h *Handlers) stats(ctx context.Context, _ Call) (notify.Message, error) {
	s, err := h.wf.Stats(ctx)
	if err != nil {
		return notify.Message{}, err
	}
	return reply(statsText(s)), nil
}

func (h *Handlers) broadcast(ctx context.Context, call Call) (notify.Message, error) {
	return h.conv.StartBroadcast(ctx, call.Input)
}

func (h *Handlers) maintenance(ctx context.Context, call Call) (notify.Message, error) {
	var arg string
	if len(call.Args) > 0 {
		arg = strings.ToLower(strings.TrimSpace(call.Args[0]))
	}
	switch arg {
	case "on", "off":
		on := arg == "on"
		if err := h.wf.SetMaintenance(ctx, call.UserID, on); err != nil {
			return notify.Message{}, err
		}
		return reply("Maintenance mode is now " + arg + "."), nil
	}
	on, err := h.wf.Maintenance(ctx)
	if err != nil {
		return notify.Message{}, err
	}
	mode := "off"
	if on {
		mode = "on"
	}
	return reply("Maintenance mode is " + mode + ". Use /maintenance on or /maintenance off."), nil
}

package bot

import (
	"context"
	"errors"

	coreconfig "github.com/m3rciful/studybot/core/config"
	tg "github.com/m3rciful/studybot/core/telegram"
	"github.com/m3rciful/studybot/core/telegram/callbacks"
	"github.com/m3rciful/studybot/core/telegram/commands"
	tghelpers "github.com/m3rciful/studybot/core/telegram/helpers"
	"github.com/m3rciful/studybot/core/telegram/middleware"
	"github.com/m3rciful/studybot/core/telegram/router"
	"github.com/m3rciful/studybot/core/telegram/state"
	"github.com/m3rciful/studybot/internal/domain"
	"github.com/m3rciful/studybot/internal/notify"
	"github.com/m3rciful/studybot/internal/workflow"

	tele "gopkg.in/telebot.v4"
)

// Register adds every command and button handler to reg.
func (h *Handlers) Register(reg *tg.Registry) error {
	h.reg = reg

	cmds := map[string]commands.Command{
		"/start":       {Handler: h.handle(h.start), Description: "Start the bot", Hidden: true},
		"/help":        {Handler: h.handle(h.helpCmd), Description: "Show available commands"},
		"/new":         {Handler: h.handle(h.newRequest), Description: "Submit a new request", Aliases: []string{"new_project"}},
		"/my_requests": {Handler: h.handle(h.myRequests), Description: "List your requests", Aliases: []string{"my_projects"}},
		"/my_offers":   {Handler: h.handle(h.myOffers), Description: "Offers waiting for your answer"},
		"/cancel":      {Handler: h.handle(h.cancel), Description: "Cancel the current step"},

		"/admin":       {Handler: h.handle(h.dashboard), Description: "Admin dashboard", AdminOnly: true},
		"/pending":     {Handler: h.handle(h.queue("Requests waiting for review", "No new requests.", domain.PendingStatuses...)), Description: "Requests waiting for review", AdminOnly: true},
		"/active":      {Handler: h.handle(h.queue("Requests in progress", "Nothing in progress.", domain.InFlightStatuses...)), Description: "Requests in progress", AdminOnly: true},
		"/history":     {Handler: h.handle(h.history), Description: "Closed requests", AdminOnly: true},
		"/payments":    {Handler: h.handle(h.payments), Description: "Latest payments", AdminOnly: true},
		"/stats":       {Handler: h.handle(h.stats), Description: "Request statistics", AdminOnly: true},
		"/broadcast":   {Handler: h.handle(h.broadcast), Description: "Message every participant", AdminOnly: true},
		"/maintenance": {Handler: h.handle(h.maintenance), Description: "Maintenance mode on|off", AdminOnly: true},
	}
	for name, cmd := range cmds {
		reg.RegisterCommand(name, cmd)
	}

	buttons := map[string]tele.HandlerFunc{
		workflow.ActionView:       h.handle(byID(h.view)),
		workflow.ActionManage:     h.handle(byID(h.manage)),
		workflow.ActionAccept:     h.handleEdit(byID(h.accept)),
		workflow.ActionDecline:    h.handleEdit(byID(h.decline)),
		workflow.ActionPay:        h.handle(byID(h.pay)),
		workflow.ActionOffer:      h.handle(byID(h.offer)),
		workflow.ActionReject:     h.handleEdit(byID(h.reject)),
		workflow.ActionConfirmPay: h.handleEdit(byID(h.confirmPayment)),
		workflow.ActionRejectPay:  h.handleEdit(byID(h.rejectPayment)),
		workflow.ActionReceipt:    h.handle(byID(h.receipt)),
		workflow.ActionFinish:     h.handle(byID(h.finish)),
		workflow.ActionNotes:      h.handle(h.notes),
		workflow.ActionCancel:     h.handleEdit(h.cancelButton),
	}
	var errs []error
	for key, fn := range buttons {
		errs = append(errs, reg.RegisterCallback(key, fn))
	}
	reg.SetCallbackNotFound(h.UnknownCallback())
	return errors.Join(errs...)
}

// Routes binds the registry and the wizards to telebot endpoints. Commands
// and buttons that start new work are refused while a wizard runs.
func (h *Handlers) Routes(reg *tg.Registry) []tg.Route {
	busy := middleware.Busy(middleware.BusyOptions{
		Sessions: h.conv,
		Allow:    duringConversation,
		OnBusy:   h.handle(func(context.Context, Call) (notify.Message, error) { return reply(MsgBusy), nil }),
	})

	routes := router.CommandRoutes(reg, router.CommandRouteOptions{
		IsOperator: h.wf.IsOperator,
		Wrap:       busy,
		Unwrapped:  []string{"/cancel", "/help", "/start"},
	})
	routes = append(routes, router.CallbackRoute(reg, router.CallbackOptions{
		NotFound: h.UnknownCallback(),
		Wrap:     busy,
	}))
	return append(routes, router.TextRoutes(conversationRoute{h}, reg, router.FallbackText(h))...)
}

// duringConversation lets the buttons that belong to a running wizard pass
// the busy guard.
func duringConversation(c tele.Context) bool {
	switch callbacks.CallbackKey(c) {
	case workflow.ActionCancel, workflow.ActionNotes:
		return true
	}
	return false
}

// Middlewares is the shared chain plus the maintenance gate, which lets only
// operators through while maintenance is on.
func (h *Handlers) Middlewares(cfg *coreconfig.Config) []tg.Middleware {
	gate := middleware.Gate(middleware.GateOptions{
		Closed: func(c tele.Context) bool {
			on, err := h.wf.Maintenance(tghelpers.BuildContext(c))
			return err == nil && on
		},
		Exempt:   h.wf.IsOperator,
		OnClosed: h.handle(func(context.Context, Call) (notify.Message, error) { return reply(MsgMaintenance), nil }),
	})
	return append(tg.DefaultMiddlewares(cfg, nil), tg.Middleware{Name: "maintenance", Use: gate})
}

// conversationRoute feeds free input to the wizard engine.
type conversationRoute struct{ h *Handlers }

func (r conversationRoute) Active(ctx context.Context, key state.Key) bool {
	return r.h.conv.Active(ctx, key)
}

func (r conversationRoute) Handle(c tele.Context) error {
	return r.h.handle(r.h.advance)(c)
}

// UnknownText answers text that is neither a command nor wizard input.
func (h *Handlers) UnknownText() tele.HandlerFunc {
	return h.handle(func(context.Context, Call) (notify.Message, error) { return reply(MsgUnknown), nil })
}

// UnknownFile answers a file nobody asked for.
func (h *Handlers) UnknownFile() tele.HandlerFunc {
	return h.handle(func(context.Context, Call) (notify.Message, error) { return reply(MsgUnknownFile), nil })
}

// UnknownCallback answers a button whose action is not registered.
func (h *Handlers) UnknownCallback() tele.HandlerFunc {
	return func(c tele.Context) error {
		return c.Respond(&tele.CallbackResponse{Text: MsgButtonGone})
	}
}

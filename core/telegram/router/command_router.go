package router

import (
	"context"
	"log/slog"
	"time"

	"github.com/m3rciful/studybot/core/logger"
	tg "github.com/m3rciful/studybot/core/telegram"
	"github.com/m3rciful/studybot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// CommandRouteOptions configures how commands are wrapped and exposed.
type CommandRouteOptions struct {
	IsOperator    func(userID int64) bool
	OnAdminReject tele.HandlerFunc
	// Wrap, when set, wraps every command except those listed in Unwrapped.
	Wrap      tele.MiddlewareFunc
	Unwrapped []string
}

// CommandRoutes binds every command and alias to its handler behind the
// operator gate when required.
func CommandRoutes(reg *tg.Registry, opts CommandRouteOptions) []tg.Route {
	if reg == nil {
		return nil
	}

	gate := middleware.OperatorOnly(middleware.AccessOptions{
		IsOperator: opts.IsOperator,
		OnReject:   opts.OnAdminReject,
	})
	unwrapped := make(map[string]bool, len(opts.Unwrapped))
	for _, name := range opts.Unwrapped {
		unwrapped[name] = true
	}

	var routes []tg.Route
	for cmd, def := range reg.Commands() {
		h := def.Handler
		if def.AdminOnly {
			h = gate(h)
		}
		if opts.Wrap != nil && !unwrapped[cmd] {
			h = opts.Wrap(h)
		}
		name := normalizeHandlerName(cmd)
		inner := h
		h = func(c tele.Context) error {
			return handleWithSummary(c, "command."+name, time.Now(), "", "", func() error { return inner(c) })
		}
		for _, endpoint := range def.Endpoints(cmd) {
			routes = append(routes, tg.Route{Endpoint: endpoint, Handler: h})
		}
	}

	logger.Info(context.Background(), "tg.wire", "complete",
		slog.Int("commands", len(reg.Commands())),
		slog.Int("endpoints", len(routes)),
		slog.Int("callbacks", len(reg.ListCallbacks())),
	)
	return routes
}

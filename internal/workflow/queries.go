package workflow

import (
	"context"
	"log/slog"

	"github.com/m3rciful/studybot/core/logger"
	"github.com/m3rciful/studybot/internal/domain"
	"github.com/m3rciful/studybot/internal/notify"
	"github.com/m3rciful/studybot/internal/storage"
)

// Request returns one request without an ownership check.
func (c *Controller) Request(ctx context.Context, id int64) (domain.Request, error) {
	r, err := c.store.GetRequest(ctx, id)
	if err != nil {
		return domain.Request{}, storageError("get", id, err)
	}
	return r, nil
}

// RequestFor returns a request visible to actor: its owner or any operator.
func (c *Controller) RequestFor(ctx context.Context, actor, id int64) (domain.Request, error) {
	owner := actor
	if c.operators.Contains(actor) {
		owner = 0
	}
	return c.load(ctx, "view", id, owner)
}

// RequestsFor lists an owner's requests, newest first.
func (c *Controller) RequestsFor(ctx context.Context, owner int64, statuses ...domain.Status) ([]domain.Request, error) {
	rs, err := c.store.ListRequestsByOwner(ctx, owner, statuses...)
	if err != nil {
		return nil, newError(KindStorage, "list_own", 0, err)
	}
	return rs, nil
}

// Queue lists requests in the given statuses for operators.
func (c *Controller) Queue(ctx context.Context, statuses ...domain.Status) ([]domain.Request, error) {
	rs, err := c.store.ListRequestsByStatus(ctx, statuses...)
	if err != nil {
		return nil, newError(KindStorage, "queue", 0, err)
	}
	return rs, nil
}

// Payments lists the latest payments.
func (c *Controller) Payments(ctx context.Context, limit int) ([]domain.Payment, error) {
	ps, err := c.store.ListPayments(ctx, limit)
	if err != nil {
		return nil, newError(KindStorage, "payments", 0, err)
	}
	return ps, nil
}

// PaymentsFor lists the payments of one request.
func (c *Controller) PaymentsFor(ctx context.Context, requestID int64) ([]domain.Payment, error) {
	ps, err := c.store.ListPaymentsByRequest(ctx, requestID)
	if err != nil {
		return nil, newError(KindStorage, "payments", requestID, err)
	}
	return ps, nil
}

// Payment returns one payment.
func (c *Controller) Payment(ctx context.Context, id int64) (domain.Payment, error) {
	p, err := c.store.GetPayment(ctx, id)
	if err != nil {
		return domain.Payment{}, storageError("payment", 0, err)
	}
	return p, nil
}

// Stats aggregates request counts.
func (c *Controller) Stats(ctx context.Context) (domain.Stats, error) {
	counts, err := c.store.CountByStatus(ctx)
	if err != nil {
		return domain.Stats{}, newError(KindStorage, "stats", 0, err)
	}
	return domain.NewStats(counts), nil
}

// Participants returns every user who ever submitted a request.
func (c *Controller) Participants(ctx context.Context) ([]int64, error) {
	ids, err := c.store.ListDistinctParticipants(ctx)
	if err != nil {
		return nil, newError(KindStorage, "participants", 0, err)
	}
	return ids, nil
}

// Broadcast sends text to every participant in the background and returns
// the number of recipients. done receives the report when the run ends.
func (c *Controller) Broadcast(ctx context.Context, actor int64, text string, done func(notify.Report)) (int, error) {
	const op = "broadcast"
	ctx = opCtx(ctx, op, 0)
	if err := c.requireOperator(op, actor, 0); err != nil {
		return 0, c.fail(ctx, actor, err)
	}
	text, err := checkField(op, "text", text, MaxBroadcastLen)
	if err != nil {
		return 0, c.fail(ctx, actor, err)
	}
	ids, err := c.Participants(ctx)
	if err != nil {
		return 0, c.fail(ctx, actor, err)
	}
	// The run must outlive the update that started it.
	c.notifier.BroadcastAsync(context.WithoutCancel(ctx), ids, notify.Message{Text: text}, done)
	logger.Info(ctx, "workflow", "broadcast.queued", slog.Int64("actor", actor), slog.Int("recipients", len(ids)))
	return len(ids), nil
}

// Maintenance reports whether maintenance mode is on.
func (c *Controller) Maintenance(ctx context.Context) (bool, error) {
	on, err := c.store.Flag(ctx, storage.FlagMaintenance)
	if err != nil {
		return false, newError(KindStorage, "maintenance", 0, err)
	}
	return on, nil
}

// SetMaintenance switches maintenance mode; operators only.
func (c *Controller) SetMaintenance(ctx context.Context, actor int64, on bool) error {
	const op = "maintenance"
	if err := c.requireOperator(op, actor, 0); err != nil {
		return c.fail(ctx, actor, err)
	}
	if err := c.store.SetFlag(ctx, storage.FlagMaintenance, on); err != nil {
		return c.fail(ctx, actor, newError(KindStorage, op, 0, err))
	}
	logger.Info(ctx, "workflow", "maintenance.set", slog.Int64("actor", actor), slog.Bool("on", on))
	return nil
}

// Ping checks the store.
func (c *Controller) Ping(ctx context.Context) error { return c.store.Ping(ctx) }

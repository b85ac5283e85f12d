// Package workflow is the request lifecycle: it enforces who may move a
// request between statuses, persists each move as a compare-and-set, and
// tells the other side about it.
//
//	New ─offer─▶ Offered ─accept─▶ AwaitingPayment ─confirm─▶ Active ─deliver─▶ Completed
//	 │             │  ▲                 │    │
//	 reject      decline └─reject payment┘  cancel
//	 ▼             ▼                          ▼
//	Rejected    Cancelled                 Cancelled
//
// Notifications and events are sent only after the write succeeded, and
// their failure never undoes it.
package workflow

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/m3rciful/studybot/core/logger"
	"github.com/m3rciful/studybot/internal/archive"
	"github.com/m3rciful/studybot/internal/domain"
	"github.com/m3rciful/studybot/internal/events"
	"github.com/m3rciful/studybot/internal/notify"
	"github.com/m3rciful/studybot/internal/storage"
)

// Notifier delivers messages; *notify.Dispatcher implements it.
type Notifier interface {
	Notify(ctx context.Context, chatID int64, msg notify.Message) error
	NotifyAll(ctx context.Context, chatIDs []int64, msg notify.Message) (int, error)
	BroadcastAsync(ctx context.Context, recipients []int64, msg notify.Message, done func(notify.Report))
}

// Deps wires a Controller. Events and Archive default to no-ops.
type Deps struct {
	Store     storage.Store
	Notifier  Notifier
	Operators domain.OperatorSet
	Events    events.Publisher
	Archive   archive.Archiver
}

// Controller executes lifecycle operations.
type Controller struct {
	store     storage.Store
	notifier  Notifier
	operators domain.OperatorSet
	events    events.Publisher
	archive   archive.Archiver
	// background tracks best-effort work started after a transition.
	background func(func())
}

// New builds a Controller.
func New(d Deps) *Controller {
	c := &Controller{
		store:      d.Store,
		notifier:   d.Notifier,
		operators:  d.Operators,
		events:     d.Events,
		archive:    d.Archive,
		background: func(f func()) { go f() },
	}
	if c.events == nil {
		c.events = events.Nop{}
	}
	if c.archive == nil {
		c.archive = archive.Nop{}
	}
	return c
}

// Actor identifies who performs an operation.
type Actor struct {
	ID     int64
	ChatID int64
	Name   string
}

// Outcome is the result of an applied transition.
type Outcome struct {
	Request domain.Request
	Payment *domain.Payment
	// Notified is false when the counterpart could not be reached.
	Notified bool
}

// SubmitInput carries the fields collected by the submission wizard.
type SubmitInput struct {
	Subject     string
	Counterpart string
	Deadline    string
	Details     string
	Attachment  *domain.FileRef
}

// Work is the finished result handed to the requester.
type Work struct {
	Text string
	File *domain.FileRef
}

// IsOperator reports whether id belongs to the operator set.
func (c *Controller) IsOperator(id int64) bool { return c.operators.Contains(id) }

// Operators returns the configured operator ids.
func (c *Controller) Operators() []int64 { return c.operators.IDs() }

func (c *Controller) requireOperator(op string, actor, id int64) error {
	if !c.operators.Contains(actor) {
		return newError(KindUnauthorized, op, id, errNotOperator)
	}
	return nil
}

// load fetches a request and, when owner is non-zero, checks ownership.
func (c *Controller) load(ctx context.Context, op string, id, owner int64) (domain.Request, error) {
	r, err := c.store.GetRequest(ctx, id)
	if err != nil {
		return domain.Request{}, storageError(op, id, err)
	}
	if owner != 0 && r.OwnerID != owner {
		return domain.Request{}, newError(KindUnauthorized, op, id, errNotOwner)
	}
	return r, nil
}

// move performs the status CAS from the current status, provided it is one
// of from.
func (c *Controller) move(ctx context.Context, op string, r domain.Request, from []domain.Status, to domain.Status) (domain.Request, error) {
	if !slices.Contains(from, r.Status) {
		return r, newError(KindConflict, op, r.ID, errStale)
	}
	ok, err := c.store.UpdateRequestStatus(ctx, r.ID, r.Status, to)
	if err != nil {
		return r, newError(KindStorage, op, r.ID, err)
	}
	if !ok {
		return r, newError(KindConflict, op, r.ID, errStale)
	}
	return c.reload(ctx, op, r.ID)
}

func (c *Controller) reload(ctx context.Context, op string, id int64) (domain.Request, error) {
	r, err := c.store.GetRequest(ctx, id)
	if err != nil {
		return domain.Request{}, storageError(op, id, err)
	}
	return r, nil
}

// notifyOwner and notifyOperators attempt the single notification of a
// transition; failures are logged by the notifier.
func (c *Controller) notifyOwner(ctx context.Context, r domain.Request, msg notify.Message) bool {
	chat := r.OwnerChatID
	if chat == 0 {
		chat = r.OwnerID
	}
	return c.notifier.Notify(ctx, chat, msg) == nil
}

func (c *Controller) notifyOperators(ctx context.Context, msg notify.Message) bool {
	n, _ := c.notifier.NotifyAll(ctx, c.operators.IDs(), msg)
	return n > 0
}

func (c *Controller) finish(ctx context.Context, op string, actor int64, from domain.Status, out Outcome, evType string) {
	e := events.New(evType, out.Request.ID, from, out.Request.Status, actor)
	if out.Payment != nil {
		e.PaymentID = out.Payment.ID
	}
	if err := c.events.Publish(ctx, e); err != nil {
		logger.Warn(ctx, "workflow", "event.publish", slog.String("type", evType), logger.Err(err))
	}
	attrs := []slog.Attr{
		slog.Int64("actor", actor),
		slog.String("from", string(from)),
		slog.String("to", string(out.Request.Status)),
		slog.Bool("notified", out.Notified),
	}
	if out.Notified {
		logger.Info(ctx, "workflow", "transition", attrs...)
	} else {
		logger.Warn(ctx, "workflow", "transition", append(attrs, slog.String("status", "partial"))...)
	}
}

func (c *Controller) fail(ctx context.Context, actor int64, err error) error {
	kind := KindOf(err)
	attrs := []slog.Attr{slog.Int64("actor", actor), slog.String("err_kind", kind.String()), logger.Err(err)}
	switch kind {
	case KindStorage:
		logger.Error(ctx, "workflow", "transition.failed", attrs...)
	case KindUnauthorized, KindValidation:
		logger.Debug(ctx, "workflow", "transition.refused", attrs...)
	default:
		logger.Info(ctx, "workflow", "transition.refused", attrs...)
	}
	return err
}

func opCtx(ctx context.Context, op string, id int64) context.Context {
	return logger.WithAction(ctx, op, id)
}

// Submit stores a new request and tells the operators.
func (c *Controller) Submit(ctx context.Context, actor Actor, in SubmitInput) (Outcome, error) {
	const op = "submit"
	ctx = opCtx(ctx, op, 0)
	r := domain.Request{
		OwnerID:     actor.ID,
		OwnerChatID: actor.ChatID,
		OwnerName:   actor.Name,
		Attachment:  in.Attachment,
		Status:      domain.StatusNew,
	}
	var err error
	if r.Subject, err = checkField(op, "subject", in.Subject, MaxShortLen); err != nil {
		return Outcome{}, c.fail(ctx, actor.ID, err)
	}
	if r.Counterpart, err = checkField(op, "counterpart", in.Counterpart, MaxShortLen); err != nil {
		return Outcome{}, c.fail(ctx, actor.ID, err)
	}
	if r.Deadline, err = checkField(op, "deadline", in.Deadline, MaxShortLen); err != nil {
		return Outcome{}, c.fail(ctx, actor.ID, err)
	}
	if in.Attachment == nil || in.Details != "" {
		if r.Details, err = checkField(op, "details", in.Details, MaxLongLen); err != nil {
			return Outcome{}, c.fail(ctx, actor.ID, err)
		}
	}

	if err := c.store.CreateRequest(ctx, &r); err != nil {
		return Outcome{}, c.fail(ctx, actor.ID, newError(KindStorage, op, 0, err))
	}
	ctx = opCtx(ctx, op, r.ID)
	out := Outcome{Request: r}
	out.Notified = c.notifyOperators(ctx, newRequestMessage(r))
	c.finish(ctx, op, actor.ID, "", out, events.TypeSubmitted)
	return out, nil
}

// MakeOffer attaches terms to a new request and sends them to the requester.
func (c *Controller) MakeOffer(ctx context.Context, actor, requestID int64, offer domain.Offer) (Outcome, error) {
	const op = "offer"
	ctx = opCtx(ctx, op, requestID)
	if err := c.requireOperator(op, actor, requestID); err != nil {
		return Outcome{}, c.fail(ctx, actor, err)
	}
	var err error
	if offer.Price, err = checkField(op, "price", offer.Price, MaxTermsLen); err != nil {
		return Outcome{}, c.fail(ctx, actor, err)
	}
	if offer.Delivery, err = checkField(op, "delivery", offer.Delivery, MaxTermsLen); err != nil {
		return Outcome{}, c.fail(ctx, actor, err)
	}
	if offer.Notes != nil {
		notes, err := checkField(op, "notes", *offer.Notes, MaxLongLen)
		if err != nil {
			return Outcome{}, c.fail(ctx, actor, err)
		}
		offer.Notes = &notes
	}

	r, err := c.load(ctx, op, requestID, 0)
	if err != nil {
		return Outcome{}, c.fail(ctx, actor, err)
	}
	if r.Status != domain.StatusNew {
		return Outcome{}, c.fail(ctx, actor, newError(KindConflict, op, requestID, errStale))
	}
	ok, err := c.store.OfferRequest(ctx, requestID, offer)
	if err != nil {
		return Outcome{}, c.fail(ctx, actor, newError(KindStorage, op, requestID, err))
	}
	if !ok {
		return Outcome{}, c.fail(ctx, actor, newError(KindConflict, op, requestID, errStale))
	}
	if r, err = c.reload(ctx, op, requestID); err != nil {
		return Outcome{}, c.fail(ctx, actor, err)
	}
	out := Outcome{Request: r}
	out.Notified = c.notifyOwner(ctx, r, offerMessage(r))
	c.finish(ctx, op, actor, domain.StatusNew, out, events.TypeOffered)
	return out, nil
}

// Reject turns a new request down.
func (c *Controller) Reject(ctx context.Context, actor, requestID int64) (Outcome, error) {
	const op = "reject"
	ctx = opCtx(ctx, op, requestID)
	if err := c.requireOperator(op, actor, requestID); err != nil {
		return Outcome{}, c.fail(ctx, actor, err)
	}
	return c.transition(ctx, op, actor, requestID, 0,
		[]domain.Status{domain.StatusNew}, domain.StatusRejected, events.TypeRejected,
		func(r domain.Request) bool { return c.notifyOwner(ctx, r, rejectedMessage(r)) })
}

// Accept takes the offer; the requester must then submit payment evidence.
func (c *Controller) Accept(ctx context.Context, actor, requestID int64) (Outcome, error) {
	const op = "accept"
	ctx = opCtx(ctx, op, requestID)
	return c.transition(ctx, op, actor, requestID, actor,
		[]domain.Status{domain.StatusOffered}, domain.StatusAwaitingPayment, events.TypeAccepted,
		func(r domain.Request) bool { return c.notifyOperators(ctx, acceptedMessage(r)) })
}

// Decline turns the offer down.
func (c *Controller) Decline(ctx context.Context, actor, requestID int64) (Outcome, error) {
	const op = "decline"
	ctx = opCtx(ctx, op, requestID)
	return c.transition(ctx, op, actor, requestID, actor,
		[]domain.Status{domain.StatusOffered}, domain.StatusCancelled, events.TypeDeclined,
		func(r domain.Request) bool { return c.notifyOperators(ctx, cancelledMessage(r)) })
}

// Cancel withdraws an accepted offer before the payment was verified. A
// payment still waiting for review is rejected along with it.
func (c *Controller) Cancel(ctx context.Context, actor, requestID int64) (Outcome, error) {
	const op = "cancel"
	ctx = opCtx(ctx, op, requestID)
	r, err := c.load(ctx, op, requestID, actor)
	if err != nil {
		return Outcome{}, c.fail(ctx, actor, err)
	}
	prev := r.Status
	from := []domain.Status{domain.StatusOffered, domain.StatusAwaitingPayment}
	if !slices.Contains(from, prev) {
		return Outcome{}, c.fail(ctx, actor, newError(KindConflict, op, requestID, errStale))
	}
	ok, err := c.store.CancelRequest(ctx, requestID, prev)
	if err != nil {
		return Outcome{}, c.fail(ctx, actor, newError(KindStorage, op, requestID, err))
	}
	if !ok {
		return Outcome{}, c.fail(ctx, actor, newError(KindConflict, op, requestID, errStale))
	}
	if r, err = c.reload(ctx, op, requestID); err != nil {
		return Outcome{}, c.fail(ctx, actor, err)
	}
	out := Outcome{Request: r}
	out.Notified = c.notifyOperators(ctx, cancelledMessage(r))
	c.finish(ctx, op, actor, prev, out, events.TypeCancelled)
	return out, nil
}

// Deliver hands the finished work over and completes the request.
func (c *Controller) Deliver(ctx context.Context, actor, requestID int64, w Work) (Outcome, error) {
	const op = "deliver"
	ctx = opCtx(ctx, op, requestID)
	if err := c.requireOperator(op, actor, requestID); err != nil {
		return Outcome{}, c.fail(ctx, actor, err)
	}
	if w.File == nil {
		text, err := checkField(op, "work", w.Text, MaxBroadcastLen)
		if err != nil {
			return Outcome{}, c.fail(ctx, actor, err)
		}
		w.Text = text
	}
	return c.transition(ctx, op, actor, requestID, 0,
		[]domain.Status{domain.StatusActive}, domain.StatusCompleted, events.TypeDelivered,
		func(r domain.Request) bool { return c.notifyOwner(ctx, r, deliveredMessage(r, w)) })
}

func (c *Controller) transition(ctx context.Context, op string, actor, requestID, owner int64,
	from []domain.Status, to domain.Status, evType string, notifyFn func(domain.Request) bool,
) (Outcome, error) {
	r, err := c.load(ctx, op, requestID, owner)
	if err != nil {
		return Outcome{}, c.fail(ctx, actor, err)
	}
	prev := r.Status
	if r, err = c.move(ctx, op, r, from, to); err != nil {
		return Outcome{}, c.fail(ctx, actor, err)
	}
	out := Outcome{Request: r, Notified: notifyFn(r)}
	c.finish(ctx, op, actor, prev, out, evType)
	return out, nil
}

// SubmitPayment records payment evidence and asks the operators to verify it.
func (c *Controller) SubmitPayment(ctx context.Context, actor, requestID int64, evidence domain.FileRef) (Outcome, error) {
	const op = "submit_payment"
	ctx = opCtx(ctx, op, requestID)
	if evidence.ID == "" {
		return Outcome{}, c.fail(ctx, actor, newError(KindValidation, op, requestID, errors.New("evidence file is required")))
	}
	r, err := c.load(ctx, op, requestID, actor)
	if err != nil {
		return Outcome{}, c.fail(ctx, actor, err)
	}
	prev := r.Status
	from := []domain.Status{domain.StatusOffered, domain.StatusAwaitingPayment}
	if !slices.Contains(from, prev) {
		return Outcome{}, c.fail(ctx, actor, newError(KindConflict, op, requestID, errStale))
	}
	p := domain.Payment{RequestID: requestID, SubmitterID: actor, Evidence: evidence}
	ok, err := c.store.SubmitPayment(ctx, &p, from...)
	if err != nil {
		return Outcome{}, c.fail(ctx, actor, newError(KindStorage, op, requestID, err))
	}
	if !ok {
		return Outcome{}, c.fail(ctx, actor, newError(KindConflict, op, requestID, errors.New("payment already pending or status changed")))
	}
	ctx = logger.WithPayment(ctx, p.ID)
	if r, err = c.reload(ctx, op, requestID); err != nil {
		return Outcome{}, c.fail(ctx, actor, err)
	}
	out := Outcome{Request: r, Payment: &p}
	out.Notified = c.notifyOperators(ctx, paymentMessage(r, p))
	c.archiveEvidence(ctx, p)
	c.finish(ctx, op, actor, prev, out, events.TypePaymentSubmitted)
	return out, nil
}

func (c *Controller) archiveEvidence(ctx context.Context, p domain.Payment) {
	ctx = context.WithoutCancel(ctx)
	c.background(func() {
		ctx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if _, err := c.archive.ArchiveEvidence(ctx, p); err != nil {
			logger.Warn(ctx, "workflow", "evidence.archive", logger.Err(err))
		}
	})
}

// ConfirmPayment accepts a pending payment and starts the work.
func (c *Controller) ConfirmPayment(ctx context.Context, actor, paymentID int64) (Outcome, error) {
	return c.resolvePayment(ctx, "confirm_payment", actor, paymentID, domain.PaymentAccepted)
}

// RejectPayment sends the request back to offered so the requester can retry.
func (c *Controller) RejectPayment(ctx context.Context, actor, paymentID int64) (Outcome, error) {
	return c.resolvePayment(ctx, "reject_payment", actor, paymentID, domain.PaymentRejected)
}

func (c *Controller) resolvePayment(ctx context.Context, op string, actor, paymentID int64, to domain.PaymentStatus) (Outcome, error) {
	ctx = logger.WithPayment(opCtx(ctx, op, 0), paymentID)
	if err := c.requireOperator(op, actor, 0); err != nil {
		return Outcome{}, c.fail(ctx, actor, err)
	}
	p, err := c.store.GetPayment(ctx, paymentID)
	if err != nil {
		return Outcome{}, c.fail(ctx, actor, storageError(op, 0, err))
	}
	ctx = opCtx(ctx, op, p.RequestID)
	ok, err := c.store.ResolvePayment(ctx, paymentID, to)
	if err != nil {
		return Outcome{}, c.fail(ctx, actor, newError(KindStorage, op, p.RequestID, err))
	}
	if !ok {
		return Outcome{}, c.fail(ctx, actor, newError(KindConflict, op, p.RequestID, errStale))
	}
	settled, err := c.store.GetPayment(ctx, paymentID)
	if err != nil {
		return Outcome{}, c.fail(ctx, actor, storageError(op, p.RequestID, err))
	}
	p = settled
	r, err := c.reload(ctx, op, p.RequestID)
	if err != nil {
		return Outcome{}, c.fail(ctx, actor, err)
	}
	out := Outcome{Request: r, Payment: &p}
	evType := events.TypePaymentConfirmed
	if to == domain.PaymentAccepted {
		out.Notified = c.notifyOwner(ctx, r, paymentConfirmedMessage(r))
	} else {
		evType = events.TypePaymentRejected
		out.Notified = c.notifyOwner(ctx, r, paymentRejectedMessage(r))
	}
	c.finish(ctx, op, actor, domain.StatusAwaitingPayment, out, evType)
	return out, nil
}

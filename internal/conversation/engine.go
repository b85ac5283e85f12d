// Package conversation runs the multi-step wizards that collect input for
// workflow operations. Each (chat, user) pair has at most one wizard; input
// from one pair never touches another pair's session.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/m3rciful/studybot/core/logger"
	"github.com/m3rciful/studybot/core/telegram/state"
	"github.com/m3rciful/studybot/internal/domain"
	"github.com/m3rciful/studybot/internal/notify"
	"github.com/m3rciful/studybot/internal/workflow"
)

// Workflow is the part of the lifecycle controller the wizards drive.
type Workflow interface {
	IsOperator(id int64) bool
	RequestFor(ctx context.Context, actor, id int64) (domain.Request, error)
	Submit(ctx context.Context, actor workflow.Actor, in workflow.SubmitInput) (workflow.Outcome, error)
	MakeOffer(ctx context.Context, actor, requestID int64, offer domain.Offer) (workflow.Outcome, error)
	SubmitPayment(ctx context.Context, actor, requestID int64, evidence domain.FileRef) (workflow.Outcome, error)
	Deliver(ctx context.Context, actor, requestID int64, w workflow.Work) (workflow.Outcome, error)
	Broadcast(ctx context.Context, actor int64, text string, done func(notify.Report)) (int, error)
}

// Notifier reports background results, such as a finished broadcast.
type Notifier interface {
	Notify(ctx context.Context, chatID int64, msg notify.Message) error
}

// Input is one inbound message as the wizards see it.
type Input struct {
	ChatID int64
	UserID int64
	// Name is the sender's @handle or display name.
	Name string
	Text string
	File *domain.FileRef
}

// Key returns the session key of the input.
func (in Input) Key() state.Key { return state.Key{ChatID: in.ChatID, UserID: in.UserID} }

func (in Input) actor() workflow.Actor {
	return workflow.Actor{ID: in.UserID, ChatID: in.ChatID, Name: in.Name}
}

// Replies shown by the engine.
const (
	MsgCancelled      = "Cancelled."
	MsgNothingToClose = "Nothing to cancel."
	MsgRetry          = "Something went wrong while saving. Send your last answer again to retry, or /cancel."
	MsgStale          = "This action no longer applies."
	MsgSessionLost    = "This conversation expired. Please start again."
	MsgWantText       = "Please send text."
	MsgWantFile       = "Please send a document or a photo."
	MsgWantYesNo      = "Please answer yes or no."
)

// errSkip leaves the session untouched.
var errSkip = errors.New("skip")

// Engine advances wizards.
type Engine struct {
	wf       Workflow
	sessions *state.Manager
	notifier Notifier
}

// New builds an Engine.
func New(wf Workflow, sessions *state.Manager, n Notifier) *Engine {
	return &Engine{wf: wf, sessions: sessions, notifier: n}
}

type completeFunc func(ctx context.Context, e *Engine, in Input, s *state.Session) (notify.Message, error)

func text(s string) notify.Message { return notify.Message{Text: s} }

// Active reports whether the sender is in the middle of a wizard.
func (e *Engine) Active(ctx context.Context, key state.Key) bool { return e.sessions.Active(ctx, key) }

// Cancel ends any wizard of key. A second cancel is harmless.
func (e *Engine) Cancel(ctx context.Context, key state.Key) (notify.Message, error) {
	had, err := e.sessions.Clear(ctx, key)
	if err != nil {
		return notify.Message{}, fmt.Errorf("clear session: %w", err)
	}
	if !had {
		return text(MsgNothingToClose), nil
	}
	logger.Debug(ctx, "session", "session.cancel", slog.String("key", key.String()))
	return text(MsgCancelled), nil
}

// StartSubmission begins the request submission wizard.
func (e *Engine) StartSubmission(ctx context.Context, in Input) (notify.Message, error) {
	return e.begin(ctx, in, WizardSubmit, 0)
}

// StartBroadcast begins the broadcast wizard; non-operators get no reply.
func (e *Engine) StartBroadcast(ctx context.Context, in Input) (notify.Message, error) {
	return e.begin(ctx, in, WizardBroadcast, 0)
}

// StartOffer begins the offer wizard for a new request.
func (e *Engine) StartOffer(ctx context.Context, in Input, requestID int64) (notify.Message, error) {
	return e.beginFor(ctx, in, WizardOffer, requestID, func(r domain.Request) bool {
		return r.Status == domain.StatusNew
	})
}

// StartFinish begins the delivery wizard for an active request.
func (e *Engine) StartFinish(ctx context.Context, in Input, requestID int64) (notify.Message, error) {
	return e.beginFor(ctx, in, WizardFinish, requestID, func(r domain.Request) bool {
		return r.Status == domain.StatusActive
	})
}

// StartPayment asks the owner for payment evidence.
func (e *Engine) StartPayment(ctx context.Context, in Input, requestID int64) (notify.Message, error) {
	return e.beginFor(ctx, in, WizardPayment, requestID, func(r domain.Request) bool {
		return r.Status == domain.StatusAwaitingPayment ||
			(r.Status == domain.StatusOffered && r.PaymentRejected)
	})
}

func (e *Engine) beginFor(ctx context.Context, in Input, name string, requestID int64, ok func(domain.Request) bool) (notify.Message, error) {
	if wizards[name].operator && !e.wf.IsOperator(in.UserID) {
		return notify.Message{}, nil
	}
	r, err := e.wf.RequestFor(ctx, in.UserID, requestID)
	switch workflow.KindOf(err) {
	case workflow.KindNone:
	case workflow.KindUnauthorized:
		return notify.Message{}, nil
	case workflow.KindNotFound:
		return text(MsgStale), nil
	default:
		return notify.Message{}, err
	}
	if !ok(r) {
		return text(MsgStale), nil
	}
	return e.begin(ctx, in, name, requestID)
}

func (e *Engine) begin(ctx context.Context, in Input, name string, requestID int64) (notify.Message, error) {
	w := wizards[name]
	if w.operator && !e.wf.IsOperator(in.UserID) {
		return notify.Message{}, nil
	}
	first := w.steps[0]
	s := &state.Session{State: first.state, Wizard: name, RequestID: requestID}
	if err := e.sessions.Begin(ctx, in.Key(), s); err != nil {
		return notify.Message{}, fmt.Errorf("begin %s: %w", name, err)
	}
	return e.prompt(first, s), nil
}

func (e *Engine) prompt(st step, s *state.Session) notify.Message {
	msg := text(st.prompt)
	if st.accept == yesNo {
		id := strconv.FormatInt(s.RequestID, 10)
		msg.Buttons = [][]notify.Button{{
			{Text: "Yes", Action: workflow.ActionNotes, Payload: id + ":yes"},
			{Text: "No", Action: workflow.ActionNotes, Payload: id + ":no"},
		}}
	}
	return msg
}

// Advance feeds in to the sender's wizard. handled is false when no wizard
// is active, so the caller can fall back.
func (e *Engine) Advance(ctx context.Context, in Input) (reply notify.Message, handled bool, err error) {
	return e.advance(ctx, in, nil)
}

// Decide answers the "add notes?" question of the offer wizard for
// requestID. Answers for another request are ignored.
func (e *Engine) Decide(ctx context.Context, in Input, requestID int64, yes bool) (notify.Message, bool, error) {
	in.Text, in.File = "no", nil
	if yes {
		in.Text = "yes"
	}
	return e.advance(ctx, in, func(s *state.Session) bool {
		return s.Wizard == WizardOffer && s.State == StateNotesDecision && s.RequestID == requestID
	})
}

func (e *Engine) advance(ctx context.Context, in Input, guard func(*state.Session) bool) (notify.Message, bool, error) {
	var (
		reply   notify.Message
		handled bool
	)
	_, err := e.sessions.Update(ctx, in.Key(), func(cur *state.Session) (*state.Session, error) {
		if cur == nil || (guard != nil && !guard(cur)) {
			return nil, errSkip
		}
		handled = true
		w, ok := wizards[cur.Wizard]
		idx := -1
		if ok {
			idx = w.index(cur.State)
		}
		if idx < 0 {
			reply = text(MsgSessionLost)
			return nil, nil
		}
		st := w.steps[idx]
		next := cur.Clone()

		done, problem := e.collect(st, in, next)
		if problem != "" {
			reply = text(problem + "\n" + st.prompt)
			reply.Buttons = e.prompt(st, cur).Buttons
			return cur, nil
		}
		if !done && idx+1 < len(w.steps) {
			next.State = w.steps[idx+1].state
			reply = e.prompt(w.steps[idx+1], next)
			return next, nil
		}

		var err error
		reply, err = w.complete(ctx, e, in, next)
		if err == nil {
			return nil, nil
		}
		return e.completionFailed(ctx, in, st, cur, next, err, &reply)
	})
	if err != nil && !errors.Is(err, errSkip) {
		return notify.Message{}, handled, fmt.Errorf("advance session: %w", err)
	}
	return reply, handled, nil
}

// completionFailed decides what happens to the session when the final
// operation did not apply.
func (e *Engine) completionFailed(ctx context.Context, in Input, st step, cur, next *state.Session, err error, reply *notify.Message) (*state.Session, error) {
	kind := workflow.KindOf(err)
	logger.Info(ctx, "session", "wizard.complete_failed",
		slog.String("wizard", cur.Wizard),
		slog.String("err_kind", kind.String()),
		slog.Int64("user_id", in.UserID),
	)
	switch kind {
	case workflow.KindValidation:
		*reply = text(validationText(err, 0) + "\n" + st.prompt)
		return cur, nil
	case workflow.KindStorage:
		// Keep everything collected; resending the last answer retries.
		*reply = text(MsgRetry)
		return next, nil
	case workflow.KindUnauthorized:
		*reply = notify.Message{}
		return nil, nil
	default:
		*reply = text(MsgStale)
		return nil, nil
	}
}

// collect validates in against st and stores it in s. done is true when the
// answer ends the wizard early.
func (e *Engine) collect(st step, in Input, s *state.Session) (done bool, problem string) {
	switch st.accept {
	case yesNo:
		if in.File != nil {
			return false, MsgWantYesNo
		}
		yes, ok := parseYesNo(in.Text)
		if !ok {
			return false, MsgWantYesNo
		}
		return !yes, ""
	case fileOnly:
		if in.File == nil {
			return false, MsgWantFile
		}
		putFile(s, *in.File)
		return false, ""
	}

	if in.File != nil {
		if st.accept != textOrFile {
			return false, MsgWantText
		}
		putFile(s, *in.File)
		if in.Text == "" {
			return false, ""
		}
	}
	v, err := workflow.CheckText(in.Text, st.limit)
	if err != nil {
		return false, validationText(err, st.limit)
	}
	s.Put(st.field, v)
	return false, ""
}

func validationText(err error, limit int) string {
	switch {
	case errors.Is(err, workflow.ErrEmpty):
		return "The answer cannot be empty."
	case errors.Is(err, workflow.ErrTooLong) && limit > 0:
		return fmt.Sprintf("The answer is too long, the limit is %d characters.", limit)
	case errors.Is(err, workflow.ErrTooLong):
		return "The answer is too long."
	}
	return "The answer is not valid."
}

func putFile(s *state.Session, f domain.FileRef) {
	s.Put(keyFileID, f.ID)
	s.Put(keyFileKind, string(f.Kind))
	s.Put(keyFileName, f.Name)
}

func sessionFile(s *state.Session) *domain.FileRef {
	id := s.Value(keyFileID)
	if id == "" {
		return nil
	}
	return &domain.FileRef{ID: id, Kind: domain.FileKind(s.Value(keyFileKind)), Name: s.Value(keyFileName)}
}

package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/m3rciful/studybot/core/telegram/state"
	"github.com/m3rciful/studybot/internal/domain"
	"github.com/m3rciful/studybot/internal/notify"
	"github.com/m3rciful/studybot/internal/storage/memstore"
	"github.com/m3rciful/studybot/internal/workflow"
)

const operatorID = int64(900)

type inbox struct {
	mu  sync.Mutex
	got map[int64][]notify.Message
}

func (b *inbox) Notify(_ context.Context, chatID int64, msg notify.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.got == nil {
		b.got = map[int64][]notify.Message{}
	}
	b.got[chatID] = append(b.got[chatID], msg)
	return nil
}

func (b *inbox) NotifyAll(ctx context.Context, ids []int64, msg notify.Message) (int, error) {
	for _, id := range ids {
		_ = b.Notify(ctx, id, msg)
	}
	return len(ids), nil
}

func (b *inbox) BroadcastAsync(ctx context.Context, ids []int64, msg notify.Message, done func(notify.Report)) {
	n, _ := b.NotifyAll(ctx, ids, msg)
	if done != nil {
		done(notify.Report{Total: len(ids), Delivered: n})
	}
}

func (b *inbox) count(chatID int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.got[chatID])
}

// flakyStore fails request creation while failing is set.
type flakyStore struct {
	*memstore.Store
	mu      sync.Mutex
	failing bool
}

func (f *flakyStore) CreateRequest(ctx context.Context, r *domain.Request) error {
	f.mu.Lock()
	failing := f.failing
	f.mu.Unlock()
	if failing {
		return errors.New("disk full")
	}
	return f.Store.CreateRequest(ctx, r)
}

func (f *flakyStore) setFailing(v bool) {
	f.mu.Lock()
	f.failing = v
	f.mu.Unlock()
}

type harness struct {
	e     *Engine
	ctrl  *workflow.Controller
	store *flakyStore
	box   *inbox
}

func newHarness(t *testing.T) harness {
	t.Helper()
	h := harness{store: &flakyStore{Store: memstore.New()}, box: &inbox{}}
	h.ctrl = workflow.New(workflow.Deps{
		Store:     h.store,
		Notifier:  h.box,
		Operators: domain.NewOperatorSet(operatorID),
	})
	h.e = New(h.ctrl, state.NewManager(state.NewMemoryStore()), h.box)
	return h
}

func user(id int64) Input { return Input{ChatID: id, UserID: id, Name: "u"} }

func (h harness) say(t *testing.T, in Input, txt string) notify.Message {
	t.Helper()
	in.Text = txt
	reply, handled, err := h.e.Advance(context.Background(), in)
	if err != nil {
		t.Fatalf("advance %q: %v", txt, err)
	}
	if !handled {
		t.Fatalf("advance %q: no active session", txt)
	}
	return reply
}

func (h harness) submitRequest(t *testing.T, in Input) domain.Request {
	t.Helper()
	ctx := context.Background()
	if _, err := h.e.StartSubmission(ctx, in); err != nil {
		t.Fatal(err)
	}
	h.say(t, in, "Math")
	h.say(t, in, "Mr. Smith")
	h.say(t, in, "Monday")
	reply := h.say(t, in, "Solve ten integrals")
	if !strings.Contains(reply.Text, "submitted") {
		t.Fatalf("final reply = %q", reply.Text)
	}
	rs, err := h.ctrl.RequestsFor(ctx, in.UserID)
	if err != nil || len(rs) == 0 {
		t.Fatalf("requests = %v %v", rs, err)
	}
	return rs[0]
}

func TestSubmissionWizard(t *testing.T) {
	h := newHarness(t)
	r := h.submitRequest(t, user(1))
	if r.Subject != "Math" || r.Counterpart != "Mr. Smith" || r.Deadline != "Monday" || r.Details != "Solve ten integrals" {
		t.Fatalf("request = %+v", r)
	}
	if h.e.Active(context.Background(), user(1).Key()) {
		t.Fatal("session must end after submission")
	}
	if h.box.count(operatorID) != 1 {
		t.Fatal("operator was not told")
	}
}

func TestSessionsDoNotCrossTalk(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, b := user(1), user(2)
	for _, in := range []Input{a, b} {
		if _, err := h.e.StartSubmission(ctx, in); err != nil {
			t.Fatal(err)
		}
	}
	h.say(t, a, "Alpha")
	h.say(t, b, "Beta")
	h.say(t, a, "A teacher")
	h.say(t, b, "B teacher")
	h.say(t, a, "A date")
	h.say(t, b, "B date")
	h.say(t, a, "A details")
	h.say(t, b, "B details")

	ra, _ := h.ctrl.RequestsFor(ctx, 1)
	rb, _ := h.ctrl.RequestsFor(ctx, 2)
	if len(ra) != 1 || len(rb) != 1 {
		t.Fatalf("got %d and %d requests", len(ra), len(rb))
	}
	if ra[0].Subject != "Alpha" || ra[0].Counterpart != "A teacher" || rb[0].Subject != "Beta" || rb[0].Details != "B details" {
		t.Fatalf("mixed sessions: %+v / %+v", ra[0], rb[0])
	}
}

func TestSameUserDifferentChatsAreSeparate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	private := Input{ChatID: 7, UserID: 7}
	group := Input{ChatID: -100, UserID: 7}
	if _, err := h.e.StartSubmission(ctx, private); err != nil {
		t.Fatal(err)
	}
	if _, handled, _ := h.e.Advance(ctx, Input{ChatID: group.ChatID, UserID: 7, Text: "x"}); handled {
		t.Fatal("input in another chat must not advance the session")
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	in := user(3)
	if _, err := h.e.StartSubmission(ctx, in); err != nil {
		t.Fatal(err)
	}
	first, err := h.e.Cancel(ctx, in.Key())
	if err != nil || first.Text != MsgCancelled {
		t.Fatalf("first cancel = %q %v", first.Text, err)
	}
	second, err := h.e.Cancel(ctx, in.Key())
	if err != nil || second.Text != MsgNothingToClose {
		t.Fatalf("second cancel = %q %v", second.Text, err)
	}
	if _, handled, _ := h.e.Advance(ctx, Input{ChatID: 3, UserID: 3, Text: "late"}); handled {
		t.Fatal("cancelled session still handled input")
	}
}

func TestInvalidInputReprompts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	in := user(4)
	if _, err := h.e.StartSubmission(ctx, in); err != nil {
		t.Fatal(err)
	}
	reply := h.say(t, in, "   ")
	if !strings.Contains(reply.Text, "cannot be empty") {
		t.Fatalf("reply = %q", reply.Text)
	}
	s, err := h.e.sessions.Get(ctx, in.Key())
	if err != nil || s.State != StateSubject {
		t.Fatalf("state = %v %v", s, err)
	}

	in.File = &domain.FileRef{ID: "f", Kind: domain.FilePhoto}
	reply, _, _ = h.e.Advance(ctx, in)
	if !strings.Contains(reply.Text, MsgWantText) {
		t.Fatalf("file on a text step: %q", reply.Text)
	}
	in.File = nil
	reply = h.say(t, in, strings.Repeat("x", workflow.MaxShortLen+1))
	if !strings.Contains(reply.Text, "too long") {
		t.Fatalf("reply = %q", reply.Text)
	}
	if s, _ := h.e.sessions.Get(ctx, in.Key()); s.State != StateSubject {
		t.Fatalf("state advanced to %s", s.State)
	}
}

func TestStorageFailureKeepsCollectedInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	in := user(5)
	if _, err := h.e.StartSubmission(ctx, in); err != nil {
		t.Fatal(err)
	}
	h.say(t, in, "Chemistry")
	h.say(t, in, "Dr. White")
	h.say(t, in, "Tomorrow")

	h.store.setFailing(true)
	if reply := h.say(t, in, "Titration report"); reply.Text != MsgRetry {
		t.Fatalf("reply = %q", reply.Text)
	}
	s, err := h.e.sessions.Get(ctx, in.Key())
	if err != nil || s.Value(keySubject) != "Chemistry" || s.State != StateDetails {
		t.Fatalf("session after failure = %+v %v", s, err)
	}

	h.store.setFailing(false)
	h.say(t, in, "Titration report")
	rs, _ := h.ctrl.RequestsFor(ctx, 5)
	if len(rs) != 1 || rs[0].Subject != "Chemistry" || rs[0].Details != "Titration report" {
		t.Fatalf("requests = %+v", rs)
	}
}

func TestOfferWizardRequiresOperator(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.submitRequest(t, user(6))

	reply, err := h.e.StartOffer(ctx, user(6), r.ID)
	if err != nil || reply.Text != "" {
		t.Fatalf("non-operator reply = %q %v", reply.Text, err)
	}
	if h.e.Active(ctx, user(6).Key()) {
		t.Fatal("non-operator got a session")
	}

	op := user(operatorID)
	if reply, err = h.e.StartOffer(ctx, op, r.ID); err != nil || reply.Text == "" {
		t.Fatalf("start offer = %q %v", reply.Text, err)
	}
	h.say(t, op, "500")
	reply = h.say(t, op, "2 days")
	if len(reply.Buttons) != 1 || reply.Buttons[0][0].Action != workflow.ActionNotes {
		t.Fatalf("notes question = %+v", reply)
	}

	// A notes answer for another request is ignored.
	if _, handled, _ := h.e.Decide(ctx, op, r.ID+1, true); handled {
		t.Fatal("stale notes button was handled")
	}
	if _, handled, err := h.e.Decide(ctx, op, r.ID, true); !handled || err != nil {
		t.Fatalf("decide: %v %v", handled, err)
	}
	h.say(t, op, "Bring the textbook")

	got, _ := h.ctrl.Request(ctx, r.ID)
	if got.Status != domain.StatusOffered || *got.Price != "500" || got.Notes == nil || *got.Notes != "Bring the textbook" {
		t.Fatalf("request = %+v", got)
	}
}

func TestOfferWithoutNotesAndPayment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	student := user(8)
	r := h.submitRequest(t, student)
	op := user(operatorID)

	if _, err := h.e.StartOffer(ctx, op, r.ID); err != nil {
		t.Fatal(err)
	}
	h.say(t, op, "100")
	h.say(t, op, "1 week")
	h.say(t, op, "no")
	if got, _ := h.ctrl.Request(ctx, r.ID); got.Notes != nil || got.Status != domain.StatusOffered {
		t.Fatalf("request = %+v", got)
	}

	if reply, _ := h.e.StartPayment(ctx, student, r.ID); reply.Text != MsgStale {
		t.Fatalf("payment before accept = %q", reply.Text)
	}
	if _, err := h.ctrl.Accept(ctx, student.UserID, r.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := h.e.StartPayment(ctx, student, r.ID); err != nil {
		t.Fatal(err)
	}
	reply := h.say(t, student, "I paid")
	if !strings.Contains(reply.Text, MsgWantFile) {
		t.Fatalf("text on evidence step = %q", reply.Text)
	}
	student.File = &domain.FileRef{ID: "receipt", Kind: domain.FilePhoto}
	reply, _, err := h.e.Advance(ctx, student)
	if err != nil || !strings.Contains(reply.Text, "Payment evidence") {
		t.Fatalf("evidence reply = %q %v", reply.Text, err)
	}
	ps, _ := h.ctrl.PaymentsFor(ctx, r.ID)
	if len(ps) != 1 || ps[0].Evidence.ID != "receipt" {
		t.Fatalf("payments = %+v", ps)
	}
}

func TestBroadcastWizardReportsBack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.submitRequest(t, user(10))
	h.submitRequest(t, user(11))
	op := user(operatorID)

	if reply, _ := h.e.StartBroadcast(ctx, user(10)); reply.Text != "" {
		t.Fatal("non-operator must get no reply")
	}
	if _, err := h.e.StartBroadcast(ctx, op); err != nil {
		t.Fatal(err)
	}
	reply := h.say(t, op, "Holiday on Friday")
	if !strings.Contains(reply.Text, "2 users") {
		t.Fatalf("reply = %q", reply.Text)
	}
	if h.e.Active(ctx, op.Key()) {
		t.Fatal("broadcast session must end immediately")
	}
	if h.box.count(10) != 1 || h.box.count(11) != 1 {
		t.Fatal("participants did not get the broadcast")
	}
}

func TestSubmissionWithAttachment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	in := user(12)
	if _, err := h.e.StartSubmission(ctx, in); err != nil {
		t.Fatal(err)
	}
	h.say(t, in, "Biology")
	h.say(t, in, "Ms. Green")
	h.say(t, in, "Next week")
	in.File = &domain.FileRef{ID: "doc-1", Kind: domain.FileDocument, Name: "task.pdf"}
	if _, _, err := h.e.Advance(ctx, in); err != nil {
		t.Fatal(err)
	}
	rs, _ := h.ctrl.RequestsFor(ctx, 12)
	if len(rs) != 1 || rs[0].Attachment == nil || rs[0].Attachment.Name != "task.pdf" || rs[0].Details != "" {
		t.Fatalf("requests = %+v", rs)
	}
}

package bot

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/m3rciful/studybot/core/telegram/state"
	"github.com/m3rciful/studybot/internal/conversation"
	"github.com/m3rciful/studybot/internal/domain"
	"github.com/m3rciful/studybot/internal/notify"
	"github.com/m3rciful/studybot/internal/storage/memstore"
	"github.com/m3rciful/studybot/internal/workflow"

	tele "gopkg.in/telebot.v4"
)

const (
	studentID  = int64(100)
	operatorID = int64(900)
)

type apiCall struct {
	to   string
	what any
	opts *tele.SendOptions
}

type fakeAPI struct {
	mu    sync.Mutex
	calls []apiCall
}

func (f *fakeAPI) Send(to tele.Recipient, what any, opts ...any) (*tele.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := apiCall{to: to.Recipient(), what: what}
	if len(opts) > 0 {
		c.opts, _ = opts[0].(*tele.SendOptions)
	}
	f.calls = append(f.calls, c)
	return &tele.Message{}, nil
}

// texts returns every text and caption sent to chat.
func (f *fakeAPI) texts(chat string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var b strings.Builder
	for _, c := range f.calls {
		if c.to != chat {
			continue
		}
		switch w := c.what.(type) {
		case string:
			b.WriteString(w)
		case *tele.Document:
			b.WriteString(w.Caption)
		case *tele.Photo:
			b.WriteString(w.Caption)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

type harness struct {
	api *fakeAPI
	wf  *workflow.Controller
	h   *Handlers
}

func newHarness(t *testing.T) harness {
	t.Helper()
	return newHarnessWith(t, state.NewMemoryStore())
}

func newHarnessWith(t *testing.T, sessions state.Store) harness {
	t.Helper()
	api := &fakeAPI{}
	n := notify.New(NewMessenger(api, nil), notify.WithDelay(0))
	wf := workflow.New(workflow.Deps{
		Store:     memstore.New(),
		Notifier:  n,
		Operators: domain.NewOperatorSet(operatorID),
	})
	conv := conversation.New(wf, state.NewManager(sessions), n)
	return harness{api: api, wf: wf, h: New(wf, conv)}
}

func as(id int64) Call {
	return Call{Input: conversation.Input{ChatID: id, UserID: id, Name: "user"}}
}

func press(id int64, payload string) Call {
	c := as(id)
	c.Payload = payload
	return c
}

// must fails the test on error; call it as must(t)(h.action(ctx, call)).
func must(t *testing.T) func(notify.Message, error) notify.Message {
	t.Helper()
	return func(msg notify.Message, err error) notify.Message {
		t.Helper()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return msg
	}
}

func (hs harness) say(t *testing.T, call Call, text string) notify.Message {
	t.Helper()
	call.Text = text
	return must(t)(hs.h.advance(context.Background(), call))
}

func wantText(t *testing.T, msg notify.Message, sub string) {
	t.Helper()
	if !strings.Contains(msg.Text, sub) {
		t.Fatalf("reply %q does not contain %q", msg.Text, sub)
	}
}

func wantButton(t *testing.T, msg notify.Message, action, payload string) {
	t.Helper()
	for _, row := range msg.Buttons {
		for _, b := range row {
			if b.Action == action && b.Payload == payload {
				return
			}
		}
	}
	t.Fatalf("no %s:%s button in %+v", action, payload, msg.Buttons)
}

func TestRequestJourney(t *testing.T) {
	hs := newHarness(t)
	ctx := context.Background()
	h := hs.h
	student, op := as(studentID), as(operatorID)

	wantText(t, must(t)(h.newRequest(ctx, student)), "subject")
	hs.say(t, student, "Math")
	hs.say(t, student, "Mr. Smith")
	hs.say(t, student, "Monday")
	wantText(t, hs.say(t, student, "Ten integrals"), "submitted")
	if !strings.Contains(hs.api.texts("900"), "New request") {
		t.Fatalf("operator was not notified: %q", hs.api.texts("900"))
	}

	pending := must(t)(h.queue("Pending", "none", domain.PendingStatuses...)(ctx, op))
	wantButton(t, pending, workflow.ActionManage, "1")

	if msg := must(t)(byID(h.manage)(ctx, press(studentID, "1"))); msg.Text != "" {
		t.Fatalf("student opened the operator card: %q", msg.Text)
	}
	manage := must(t)(byID(h.manage)(ctx, press(operatorID, "1")))
	wantButton(t, manage, workflow.ActionOffer, "1")
	wantButton(t, manage, workflow.ActionReject, "1")

	wantText(t, must(t)(byID(h.offer)(ctx, press(operatorID, "1"))), "price")
	hs.say(t, op, "500")
	decision := hs.say(t, op, "3 days")
	wantButton(t, decision, workflow.ActionNotes, "1:no")
	wantText(t, must(t)(h.notes(ctx, press(operatorID, "1:no"))), "was sent")

	offers := must(t)(h.myOffers(ctx, student))
	wantButton(t, offers, workflow.ActionView, "1")
	view := must(t)(byID(h.view)(ctx, press(studentID, "1")))
	wantButton(t, view, workflow.ActionAccept, "1")
	wantButton(t, view, workflow.ActionDecline, "1")

	accepted := must(t)(byID(h.accept)(ctx, press(studentID, "1")))
	wantText(t, accepted, "accepted")
	wantText(t, accepted, "screenshot")

	evidence := student
	evidence.File = &domain.FileRef{ID: "receipt-1", Kind: domain.FilePhoto}
	wantText(t, must(t)(h.advance(ctx, evidence)), "Payment evidence")

	awaiting := must(t)(byID(h.manage)(ctx, press(operatorID, "1")))
	wantButton(t, awaiting, workflow.ActionConfirmPay, "1")
	receipt := must(t)(byID(h.receipt)(ctx, press(operatorID, "1")))
	if receipt.File == nil || receipt.File.ID != "receipt-1" {
		t.Fatalf("receipt = %+v", receipt)
	}

	confirmed := must(t)(byID(h.confirmPayment)(ctx, press(operatorID, "1")))
	wantText(t, confirmed, "in progress")
	wantButton(t, confirmed, workflow.ActionFinish, "1")

	wantText(t, must(t)(byID(h.finish)(ctx, press(operatorID, "1"))), "finished work")
	wantText(t, hs.say(t, op, "Solutions attached"), "completed")

	wantText(t, must(t)(h.myRequests(ctx, student)), domain.StatusCompleted.Label())
	if got := hs.api.texts("100"); !strings.Contains(got, "Solutions attached") {
		t.Fatalf("student did not get the work: %q", got)
	}
}

func TestDeclineOffer(t *testing.T) {
	hs := newHarness(t)
	ctx := context.Background()
	r := submitted(t, hs)
	if _, err := hs.wf.MakeOffer(ctx, operatorID, r.ID, domain.Offer{Price: "1", Delivery: "2"}); err != nil {
		t.Fatal(err)
	}
	wantText(t, must(t)(byID(hs.h.decline)(ctx, press(studentID, "1"))), "cancelled")
	got, _ := hs.wf.Request(ctx, r.ID)
	if got.Status != domain.StatusCancelled {
		t.Fatalf("status = %s", got.Status)
	}
	_, err := byID(hs.h.decline)(ctx, press(studentID, "1"))
	if msg := explain(ctx, err); msg.Text != conversation.MsgStale {
		t.Fatalf("second decline = %q (%v)", msg.Text, err)
	}
}

// brokenSessions refuses to save while down is set.
type brokenSessions struct {
	*state.MemoryStore
	down bool
}

func (b *brokenSessions) Save(ctx context.Context, key state.Key, s *state.Session) error {
	if b.down {
		return errors.New("session store unavailable")
	}
	return b.MemoryStore.Save(ctx, key, s)
}

func TestAcceptSurvivesSessionFailure(t *testing.T) {
	sessions := &brokenSessions{MemoryStore: state.NewMemoryStore()}
	hs := newHarnessWith(t, sessions)
	ctx := context.Background()
	r := submitted(t, hs)
	if _, err := hs.wf.MakeOffer(ctx, operatorID, r.ID, domain.Offer{Price: "1", Delivery: "2"}); err != nil {
		t.Fatal(err)
	}

	sessions.down = true
	msg := must(t)(byID(hs.h.accept)(ctx, press(studentID, "1")))
	wantText(t, msg, "accepted")
	wantText(t, msg, "Send payment")
	wantButton(t, msg, workflow.ActionPay, "1")
	if got, _ := hs.wf.Request(ctx, r.ID); got.Status != domain.StatusAwaitingPayment {
		t.Fatalf("status = %s", got.Status)
	}

	// The button picks the upload up once sessions work again.
	sessions.down = false
	retry := must(t)(byID(hs.h.pay)(ctx, press(studentID, "1")))
	if strings.Contains(retry.Text, conversation.MsgStale) {
		t.Fatalf("pay after accept = %q", retry.Text)
	}
}

func submitted(t *testing.T, hs harness) domain.Request {
	t.Helper()
	out, err := hs.wf.Submit(context.Background(), workflow.Actor{ID: studentID, ChatID: studentID},
		workflow.SubmitInput{Subject: "Physics", Counterpart: "Dr. Who", Deadline: "Friday", Details: "Lab report"})
	if err != nil {
		t.Fatal(err)
	}
	return out.Request
}

func TestStaleAndForeignButtons(t *testing.T) {
	hs := newHarness(t)
	ctx := context.Background()
	submitted(t, hs)

	if msg := must(t)(byID(hs.h.view)(ctx, press(studentID, "abc"))); msg.Text != conversation.MsgStale {
		t.Fatalf("bad payload = %q", msg.Text)
	}
	_, err := byID(hs.h.reject)(ctx, press(operatorID, "42"))
	if msg := explain(ctx, err); msg.Text != conversation.MsgStale {
		t.Fatalf("unknown request = %q", msg.Text)
	}
	_, err = byID(hs.h.view)(ctx, press(555, "1"))
	if msg := explain(ctx, err); msg.Text != "" {
		t.Fatalf("stranger saw %q", msg.Text)
	}
	_, err = byID(hs.h.reject)(ctx, press(studentID, "1"))
	if msg := explain(ctx, err); msg.Text != "" {
		t.Fatalf("student rejecting got %q", msg.Text)
	}
	if msg := must(t)(hs.h.notes(ctx, press(operatorID, "1:yes"))); msg.Text != conversation.MsgStale {
		t.Fatalf("notes without wizard = %q", msg.Text)
	}
}

func TestExplainKinds(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		err  error
		want string
	}{
		{&workflow.Error{Kind: workflow.KindUnauthorized}, ""},
		{&workflow.Error{Kind: workflow.KindConflict}, conversation.MsgStale},
		{&workflow.Error{Kind: workflow.KindNotFound}, conversation.MsgStale},
		{&workflow.Error{Kind: workflow.KindStorage}, MsgTryAgain},
		{errors.New("session store down"), MsgTryAgain},
	}
	for _, tc := range cases {
		if got := explain(ctx, tc.err).Text; got != tc.want {
			t.Errorf("explain(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestMaintenanceCommand(t *testing.T) {
	hs := newHarness(t)
	ctx := context.Background()
	op := as(operatorID)

	on := op
	on.Args = []string{"ON"}
	wantText(t, must(t)(hs.h.maintenance(ctx, on)), "now on")
	if v, _ := hs.wf.Maintenance(ctx); !v {
		t.Fatal("maintenance not stored")
	}
	wantText(t, must(t)(hs.h.dashboard(ctx, op)), "Maintenance: on")
	wantText(t, must(t)(hs.h.maintenance(ctx, op)), "is on")

	student := as(studentID)
	student.Args = []string{"off"}
	_, err := hs.h.maintenance(ctx, student)
	if workflow.KindOf(err) != workflow.KindUnauthorized {
		t.Fatalf("student switched maintenance: %v", err)
	}
}

func TestListsAndStats(t *testing.T) {
	hs := newHarness(t)
	ctx := context.Background()
	if msg := must(t)(hs.h.myRequests(ctx, as(studentID))); !strings.Contains(msg.Text, "/new") {
		t.Fatalf("empty list = %q", msg.Text)
	}
	r := submitted(t, hs)
	if _, err := hs.wf.Reject(ctx, operatorID, r.ID); err != nil {
		t.Fatal(err)
	}
	hist := must(t)(hs.h.history(ctx, as(operatorID)))
	wantText(t, hist, "Physics")
	if len(hist.Buttons) != 0 {
		t.Fatalf("history has buttons: %+v", hist.Buttons)
	}
	wantText(t, must(t)(hs.h.stats(ctx, as(operatorID))), "Total requests: 1")
	wantText(t, must(t)(hs.h.payments(ctx, as(operatorID))), "No payments")
}

func TestMessengerTextWithButtons(t *testing.T) {
	api := &fakeAPI{}
	m := NewMessenger(api, nil)
	err := m.Send(context.Background(), 5, notify.Message{
		Text:    "offer",
		Buttons: [][]notify.Button{{{Text: "Accept", Action: workflow.ActionAccept, Payload: "7"}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(api.calls) != 1 {
		t.Fatalf("calls = %d", len(api.calls))
	}
	c := api.calls[0]
	if c.to != "5" || c.what != "offer" {
		t.Fatalf("call = %+v", c)
	}
	kb := c.opts.ReplyMarkup.InlineKeyboard
	if len(kb) != 1 || kb[0][0].Unique != workflow.ActionAccept || kb[0][0].Data != "7" {
		t.Fatalf("keyboard = %+v", kb)
	}
}

func TestMessengerLongCaptionIsSplit(t *testing.T) {
	api := &fakeAPI{}
	m := NewMessenger(api, nil)
	long := strings.Repeat("x", MaxCaptionLen+1)
	err := m.Send(context.Background(), 5, notify.Message{
		Text:    long,
		File:    &domain.FileRef{ID: "f", Kind: domain.FileDocument, Name: "work.pdf"},
		Buttons: [][]notify.Button{{{Text: "Pay", Action: workflow.ActionPay, Payload: "1"}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(api.calls) != 2 {
		t.Fatalf("calls = %d", len(api.calls))
	}
	doc, ok := api.calls[0].what.(*tele.Document)
	if !ok || doc.Caption != "" || doc.FileID != "f" || doc.FileName != "work.pdf" {
		t.Fatalf("first = %+v", api.calls[0].what)
	}
	if api.calls[0].opts.ReplyMarkup != nil {
		t.Fatal("buttons belong on the text message")
	}
	if api.calls[1].what != long || api.calls[1].opts.ReplyMarkup == nil {
		t.Fatalf("second = %+v", api.calls[1])
	}
}

func TestMessengerPhotoCaption(t *testing.T) {
	api := &fakeAPI{}
	m := NewMessenger(api, nil)
	if err := m.Send(context.Background(), 5, notify.Message{
		Text: "receipt",
		File: &domain.FileRef{ID: "p", Kind: domain.FilePhoto},
	}); err != nil {
		t.Fatal(err)
	}
	if p, ok := api.calls[0].what.(*tele.Photo); !ok || p.Caption != "receipt" || p.FileID != "p" {
		t.Fatalf("call = %+v", api.calls[0].what)
	}
	if err := m.Send(context.Background(), 5, notify.Message{}); err != nil || len(api.calls) != 1 {
		t.Fatalf("empty message sent: %v", err)
	}
}

type fakeFiles struct{ asked string }

func (f *fakeFiles) File(file *tele.File) (io.ReadCloser, error) {
	f.asked = file.FileID
	return io.NopCloser(strings.NewReader("bytes")), nil
}

func TestFetcher(t *testing.T) {
	files := &fakeFiles{}
	rc, err := NewFetcher(files).Fetch(context.Background(), domain.FileRef{ID: "ev"})
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if files.asked != "ev" || string(body) != "bytes" {
		t.Fatalf("asked %q, body %q", files.asked, body)
	}
}

package conversation

import (
	"strings"

	"github.com/m3rciful/studybot/core/telegram/state"
	"github.com/m3rciful/studybot/internal/workflow"
)

// Wizard names.
const (
	WizardSubmit    = "submit"
	WizardOffer     = "offer"
	WizardPayment   = "payment"
	WizardBroadcast = "broadcast"
	WizardFinish    = "finish"
)

// Wizard states.
const (
	StateSubject       state.State = "submit.subject"
	StateCounterpart   state.State = "submit.counterpart"
	StateDeadline      state.State = "submit.deadline"
	StateDetails       state.State = "submit.details"
	StatePrice         state.State = "offer.price"
	StateDelivery      state.State = "offer.delivery"
	StateNotesDecision state.State = "offer.notes_decision"
	StateNotes         state.State = "offer.notes"
	StateEvidence      state.State = "payment.evidence"
	StateBroadcastText state.State = "broadcast.text"
	StateWork          state.State = "finish.work"
)

// Session data keys.
const (
	keySubject     = "subject"
	keyCounterpart = "counterpart"
	keyDeadline    = "deadline"
	keyDetails     = "details"
	keyPrice       = "price"
	keyDelivery    = "delivery"
	keyNotes       = "notes"
	keyText        = "text"
	keyFileID      = "file_id"
	keyFileKind    = "file_kind"
	keyFileName    = "file_name"
)

type inputKind int

const (
	textOnly inputKind = iota
	fileOnly
	textOrFile
	yesNo
)

type step struct {
	state  state.State
	prompt string
	field  string
	accept inputKind
	limit  int
}

type wizard struct {
	name     string
	operator bool
	steps    []step
	complete completeFunc
}

func (w *wizard) index(s state.State) int {
	for i, st := range w.steps {
		if st.state == s {
			return i
		}
	}
	return -1
}

var wizards = map[string]*wizard{}

func register(w *wizard) { wizards[w.name] = w }

func init() {
	register(&wizard{
		name: WizardSubmit,
		steps: []step{
			{StateSubject, "What subject is the work for?", keySubject, textOnly, workflow.MaxShortLen},
			{StateCounterpart, "Who is the teacher?", keyCounterpart, textOnly, workflow.MaxShortLen},
			{StateDeadline, "What is the deadline?", keyDeadline, textOnly, workflow.MaxShortLen},
			{StateDetails, "Describe the task, or send a file with an optional caption.", keyDetails, textOrFile, workflow.MaxLongLen},
		},
		complete: completeSubmit,
	})
	register(&wizard{
		name:     WizardOffer,
		operator: true,
		steps: []step{
			{StatePrice, "Enter the price.", keyPrice, textOnly, workflow.MaxTermsLen},
			{StateDelivery, "Enter the delivery time.", keyDelivery, textOnly, workflow.MaxTermsLen},
			{StateNotesDecision, "Add notes for the student?", "", yesNo, 0},
			{StateNotes, "Enter the notes.", keyNotes, textOnly, workflow.MaxLongLen},
		},
		complete: completeOffer,
	})
	register(&wizard{
		name:     WizardPayment,
		steps:    []step{{StateEvidence, "Send a screenshot or document proving the payment.", "", fileOnly, 0}},
		complete: completePayment,
	})
	register(&wizard{
		name:     WizardBroadcast,
		operator: true,
		steps:    []step{{StateBroadcastText, "Send the message for all users.", keyText, textOnly, workflow.MaxBroadcastLen}},
		complete: completeBroadcast,
	})
	register(&wizard{
		name:     WizardFinish,
		operator: true,
		steps:    []step{{StateWork, "Send the finished work as a document, photo or text.", keyText, textOrFile, workflow.MaxBroadcastLen}},
		complete: completeFinish,
	})
}

func parseYesNo(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "y", "да":
		return true, true
	case "no", "n", "skip", "нет":
		return false, true
	}
	return false, false
}

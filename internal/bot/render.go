package bot

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/m3rciful/studybot/core/telegram/format"
	"github.com/m3rciful/studybot/internal/domain"
	"github.com/m3rciful/studybot/internal/notify"
	"github.com/m3rciful/studybot/internal/workflow"
)

// listLimit caps how many rows a list shows.
const listLimit = 20

func btn(text, action string, id int64) notify.Button {
	return notify.Button{Text: text, Action: action, Payload: strconv.FormatInt(id, 10)}
}

// card renders a request with the buttons the viewer may use now.
func card(r domain.Request, asOperator bool, pending []domain.Payment) notify.Message {
	msg := notify.Message{
		Text:     format.Escape(workflow.Summary(r)),
		Markdown: true,
	}
	if asOperator {
		msg.Buttons = operatorButtons(r, pending)
	} else {
		msg.Buttons = ownerButtons(r)
	}
	return msg
}

func ownerButtons(r domain.Request) [][]notify.Button {
	switch r.Status {
	case domain.StatusOffered:
		if r.PaymentRejected {
			return [][]notify.Button{{
				btn("Pay again", workflow.ActionPay, r.ID),
				btn("Decline", workflow.ActionDecline, r.ID),
			}}
		}
		return [][]notify.Button{{
			btn("Accept", workflow.ActionAccept, r.ID),
			btn("Decline", workflow.ActionDecline, r.ID),
		}}
	case domain.StatusAwaitingPayment:
		return [][]notify.Button{{
			btn("Send payment", workflow.ActionPay, r.ID),
			btn("Cancel request", workflow.ActionDecline, r.ID),
		}}
	}
	return nil
}

func operatorButtons(r domain.Request, pending []domain.Payment) [][]notify.Button {
	switch r.Status {
	case domain.StatusNew:
		return [][]notify.Button{{
			btn("Make offer", workflow.ActionOffer, r.ID),
			btn("Reject", workflow.ActionReject, r.ID),
		}}
	case domain.StatusActive:
		return [][]notify.Button{{btn("Deliver work", workflow.ActionFinish, r.ID)}}
	}
	var rows [][]notify.Button
	for _, p := range pending {
		rows = append(rows, paymentButtons(p))
	}
	return rows
}

func paymentButtons(p domain.Payment) []notify.Button {
	row := []notify.Button{btn(fmt.Sprintf("Receipt #%d", p.ID), workflow.ActionReceipt, p.ID)}
	if p.Status == domain.PaymentPending {
		row = append(row,
			btn("Confirm", workflow.ActionConfirmPay, p.ID),
			btn("Reject", workflow.ActionRejectPay, p.ID),
		)
	}
	return row
}

// requestList renders one line per request, each with a button opening its
// card through action.
func requestList(title, empty string, rs []domain.Request, action string) notify.Message {
	if len(rs) == 0 {
		return reply(empty)
	}
	var b strings.Builder
	b.WriteString(title)
	b.WriteByte('\n')
	var rows [][]notify.Button
	for i, r := range rs {
		if i == listLimit {
			fmt.Fprintf(&b, "\n...and %d more", len(rs)-listLimit)
			break
		}
		fmt.Fprintf(&b, "\n#%d %s: %s", r.ID, r.Subject, r.Status.Label())
		if r.Price != nil {
			fmt.Fprintf(&b, " (%s)", format.DerefString(r.Price, ""))
		}
		if action != "" {
			rows = append(rows, []notify.Button{btn(fmt.Sprintf("#%d %s", r.ID, r.Subject), action, r.ID)})
		}
	}
	return notify.Message{Text: b.String(), Buttons: rows}
}

func paymentList(ps []domain.Payment) notify.Message {
	if len(ps) == 0 {
		return reply("No payments yet.")
	}
	var b strings.Builder
	b.WriteString("Latest payments\n")
	rows := make([][]notify.Button, 0, len(ps))
	for _, p := range ps {
		fmt.Fprintf(&b, "\n#%d for request #%d: %s, %s", p.ID, p.RequestID, p.Status, p.CreatedAt.Format("2006-01-02 15:04"))
		rows = append(rows, paymentButtons(p))
	}
	return notify.Message{Text: b.String(), Buttons: rows}
}

func statsText(s domain.Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Total requests: %d\nPending review: %d\nIn progress: %d\nCompleted: %d\n",
		s.Total, s.Pending, s.InProgress, s.Completed)
	for _, st := range domain.Statuses() {
		if n := s.ByStatus[st]; n > 0 {
			fmt.Fprintf(&b, "\n%s: %d", st.Label(), n)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func notifiedSuffix(out workflow.Outcome) string {
	if out.Notified {
		return ""
	}
	return "\nThe other side could not be reached right now."
}

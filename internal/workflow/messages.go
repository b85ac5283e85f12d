package workflow

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/m3rciful/studybot/internal/domain"
	"github.com/m3rciful/studybot/internal/notify"
)

func button(text, action string, id int64) notify.Button {
	return notify.Button{Text: text, Action: action, Payload: strconv.FormatInt(id, 10)}
}

func deref(p *string) string {
	if p == nil {
		return "-"
	}
	return *p
}

// Summary renders the request fields shared by every card.
func Summary(r domain.Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request #%d\n", r.ID)
	fmt.Fprintf(&b, "Subject: %s\n", r.Subject)
	fmt.Fprintf(&b, "Teacher: %s\n", r.Counterpart)
	fmt.Fprintf(&b, "Deadline: %s\n", r.Deadline)
	if r.Details != "" {
		fmt.Fprintf(&b, "Details: %s\n", r.Details)
	}
	if r.Price != nil {
		fmt.Fprintf(&b, "Price: %s\n", deref(r.Price))
		fmt.Fprintf(&b, "Delivery: %s\n", deref(r.Delivery))
	}
	if r.Notes != nil {
		fmt.Fprintf(&b, "Notes: %s\n", *r.Notes)
	}
	fmt.Fprintf(&b, "Status: %s", r.Status.Label())
	if r.PaymentRejected {
		b.WriteString(" (payment rejected)")
	}
	return b.String()
}

func newRequestMessage(r domain.Request) notify.Message {
	from := r.OwnerName
	if from == "" {
		from = strconv.FormatInt(r.OwnerID, 10)
	}
	return notify.Message{
		Text:    "New request from " + from + "\n\n" + Summary(r),
		File:    r.Attachment,
		Buttons: [][]notify.Button{{button("Manage", ActionManage, r.ID)}},
	}
}

func offerMessage(r domain.Request) notify.Message {
	return notify.Message{
		Text: "You have an offer for your request.\n\n" + Summary(r),
		Buttons: [][]notify.Button{{
			button("Accept", ActionAccept, r.ID),
			button("Decline", ActionDecline, r.ID),
		}},
	}
}

func rejectedMessage(r domain.Request) notify.Message {
	return notify.Message{Text: fmt.Sprintf("Unfortunately your request #%d (%s) was rejected.", r.ID, r.Subject)}
}

func acceptedMessage(r domain.Request) notify.Message {
	return notify.Message{Text: fmt.Sprintf("Offer for request #%d was accepted. Waiting for payment evidence.\n\n%s", r.ID, Summary(r))}
}

func cancelledMessage(r domain.Request) notify.Message {
	return notify.Message{Text: fmt.Sprintf("Request #%d (%s) was cancelled by the student.", r.ID, r.Subject)}
}

func paymentMessage(r domain.Request, p domain.Payment) notify.Message {
	ev := p.Evidence
	return notify.Message{
		Text: fmt.Sprintf("Payment #%d submitted for request #%d.\nPrice: %s", p.ID, r.ID, deref(r.Price)),
		File: &ev,
		Buttons: [][]notify.Button{{
			button("Confirm", ActionConfirmPay, p.ID),
			button("Reject", ActionRejectPay, p.ID),
		}},
	}
}

func paymentConfirmedMessage(r domain.Request) notify.Message {
	return notify.Message{Text: fmt.Sprintf("Payment for request #%d was confirmed. Work is in progress.", r.ID)}
}

func paymentRejectedMessage(r domain.Request) notify.Message {
	return notify.Message{
		Text: fmt.Sprintf("Payment for request #%d could not be verified. You can send the evidence again.\n\n%s", r.ID, Summary(r)),
		Buttons: [][]notify.Button{{
			button("Pay again", ActionPay, r.ID),
			button("Decline", ActionDecline, r.ID),
		}},
	}
}

func deliveredMessage(r domain.Request, w Work) notify.Message {
	text := fmt.Sprintf("Your request #%d (%s) is completed.", r.ID, r.Subject)
	if w.Text != "" {
		text += "\n\n" + w.Text
	}
	return notify.Message{Text: text, File: w.File}
}

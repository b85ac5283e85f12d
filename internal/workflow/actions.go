package workflow

// Action tokens carried by inline buttons. The payload is always the id the
// action applies to: a request id, except for confirm_pay, reject_pay and
// receipt which carry a payment id, and notes which carries "<request id>:yes"
// or "<request id>:no".
const (
	ActionView       = "view"
	ActionAccept     = "accept"
	ActionDecline    = "decline"
	ActionPay        = "pay"
	ActionManage     = "manage"
	ActionOffer      = "offer"
	ActionReject     = "reject"
	ActionConfirmPay = "confirm_pay"
	ActionRejectPay  = "reject_pay"
	ActionReceipt    = "receipt"
	ActionFinish     = "finish"
	ActionNotes      = "notes"
	ActionCancel     = "cancel"
)

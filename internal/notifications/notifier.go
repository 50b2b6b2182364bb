package notifications

import "context"

const (
	ReasonEmailDisabled = "email_disabled"
	ReasonSendFailed    = "send_failed"
	ReasonCircuitOpen   = "circuit_open"
)

type VerificationMessage struct {
	Email string
	Name  string
	Code  string
}

// PinMessage carries a short numeric sign-in code.
type PinMessage struct {
	Email string
	Name  string
	Pin   string
}

// Delivery reports what happened to an outbound message. Delivered=false with
// a nil error means the transport is intentionally absent.
type Delivery struct {
	Delivered bool
	Reason    string
	MessageID string
}

type Notifier interface {
	SendVerification(ctx context.Context, msg VerificationMessage) (Delivery, error)
	SendPinCode(ctx context.Context, msg PinMessage) (Delivery, error)
}

package accounts

import (
	"errors"
	"fmt"
)

// Kind is the stable classification every service failure carries.
type Kind string

const (
	KindValidation         Kind = "validation_failed"
	KindConflict           Kind = "conflict"
	KindInvalidCredentials Kind = "invalid_credentials"
	KindEmailNotVerified   Kind = "email_not_verified"
	KindInvalidCode        Kind = "invalid_code"
	KindCodeExpired        Kind = "code_expired"
	KindPinDeliveryFailed  Kind = "pin_delivery_failed"
	KindStoreUnavailable   Kind = "store_unavailable"
	KindInvalidToken       Kind = "invalid_token"
	KindTokenExpired       Kind = "token_expired"
	KindInternal           Kind = "internal"
)

type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Param   string `json:"param,omitempty"`
	Message string `json:"message,omitempty"`
}

// Error is safe to show to callers: Message never contains driver text.
// The underlying cause stays reachable through Unwrap for logging.
type Error struct {
	Kind    Kind
	Message string
	Fields  []FieldError
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func newError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// KindOf classifies err. Anything that is not an *Error is internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

const (
	msgInvalidCredentials = "Email or password is incorrect."
	msgStoreUnavailable   = "Service is temporarily unavailable. Please try again later."
	msgInternal           = "Something went wrong. Please try again later."
)

var (
	errInvalidCredentials = &Error{Kind: KindInvalidCredentials, Message: msgInvalidCredentials}
	errInvalidPin         = &Error{Kind: KindInvalidCode, Message: "Sign-in code is incorrect."}
)

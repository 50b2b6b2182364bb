package repo

import "errors"

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrEmailTaken       = errors.New("email already in use")
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrVerificationCodeTaken means a freshly generated verification code
	// collided with one already pending.
	ErrVerificationCodeTaken = errors.New("verification code already in use")
)

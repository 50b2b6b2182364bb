package user

import (
	"strings"
	"time"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

type User struct {
	ID                    string     `json:"id"`
	Email                 string     `json:"email"`
	PasswordHash          string     `json:"-"` // never expose hash in JSON
	FirstName             string     `json:"firstName"`
	LastName              string     `json:"lastName"`
	Role                  Role       `json:"role"`
	EmailVerified         bool       `json:"emailVerified"`
	VerificationCode      *string    `json:"-"`
	VerificationExpiresAt *time.Time `json:"-"`
	LoginPin              *string    `json:"-"`
	LoginPinExpiresAt     *time.Time `json:"-"`
	LoginPinAttempts      int        `json:"-"`
	LastLoginAt           *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt             time.Time  `json:"createdAt"`
	UpdatedAt             time.Time  `json:"updatedAt"`
}

// PendingVerification reports whether the user still holds an unconsumed verification code.
func (u User) PendingVerification() bool {
	return !u.EmailVerified && u.VerificationCode != nil
}

// VerificationExpired reports whether the held code can no longer be used at now.
// A pending record without an expiry is treated as expired.
func (u User) VerificationExpired(now time.Time) bool {
	if u.VerificationExpiresAt == nil {
		return true
	}
	return now.After(*u.VerificationExpiresAt)
}

// LoginPinExpired reports whether the pending sign-in PIN can no longer be
// used at now. No PIN at all counts as expired.
func (u User) LoginPinExpired(now time.Time) bool {
	if u.LoginPin == nil || u.LoginPinExpiresAt == nil {
		return true
	}
	return now.After(*u.LoginPinExpiresAt)
}

// NewUser is the insert shape. ID and timestamps are assigned by the store.
type NewUser struct {
	Email                 string
	PasswordHash          string
	FirstName             string
	LastName              string
	Role                  Role
	EmailVerified         bool
	VerificationCode      string
	VerificationExpiresAt time.Time
}

// Patch lists the fields an update may touch. Nil fields are left alone;
// updatedAt is always refreshed. Setting LoginPin also resets the attempt
// counter and requires LoginPinExpiresAt.
type Patch struct {
	LastLoginAt       *time.Time
	LoginPin          *string
	LoginPinExpiresAt *time.Time
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

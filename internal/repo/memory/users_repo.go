package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/newsklad/backend/internal/domain/user"
	"github.com/newsklad/backend/internal/repo"
)

// UsersRepo keeps users in process memory. It backs the degraded mode when no
// database candidate could be reached; nothing survives a restart.
type UsersRepo struct {
	mu      sync.RWMutex
	items   map[string]user.User // id -> user
	byEmail map[string]string    // normalized email -> id
	now     func() time.Time
}

func NewUsersRepo() *UsersRepo {
	return &UsersRepo{
		items:   make(map[string]user.User),
		byEmail: make(map[string]string),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *UsersRepo) Durable() bool { return false }

func (r *UsersRepo) Ping(ctx context.Context) error { return nil }

func (r *UsersRepo) FindByID(ctx context.Context, id string) (user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.items[id]
	if !ok {
		return user.User{}, repo.ErrUserNotFound
	}
	return clone(u), nil
}

func (r *UsersRepo) FindByEmail(ctx context.Context, email string) (user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[user.NormalizeEmail(email)]
	if !ok {
		return user.User{}, repo.ErrUserNotFound
	}
	return clone(r.items[id]), nil
}

func (r *UsersRepo) FindByVerificationCode(ctx context.Context, code string) (user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.items {
		if u.EmailVerified || u.VerificationCode == nil {
			continue
		}
		if *u.VerificationCode == code {
			return clone(u), nil
		}
	}
	return user.User{}, repo.ErrUserNotFound
}

func (r *UsersRepo) CountByEmail(ctx context.Context, email string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.byEmail[user.NormalizeEmail(email)]; ok {
		return 1, nil
	}
	return 0, nil
}

// Insert checks and claims the email under one lock, so concurrent inserts of
// the same address cannot both succeed.
func (r *UsersRepo) Insert(ctx context.Context, nu user.NewUser) (user.User, error) {
	email := user.NormalizeEmail(nu.Email)
	now := r.now()

	u := user.User{
		ID:            uuid.NewString(),
		Email:         email,
		PasswordHash:  nu.PasswordHash,
		FirstName:     nu.FirstName,
		LastName:      nu.LastName,
		Role:          nu.Role,
		EmailVerified: nu.EmailVerified,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if u.Role == "" {
		u.Role = user.RoleUser
	}
	if nu.VerificationCode != "" {
		code := nu.VerificationCode
		exp := nu.VerificationExpiresAt
		u.VerificationCode = &code
		u.VerificationExpiresAt = &exp
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byEmail[email]; taken {
		return user.User{}, repo.ErrEmailTaken
	}
	if u.VerificationCode != nil {
		for _, other := range r.items {
			if other.VerificationCode != nil && *other.VerificationCode == *u.VerificationCode {
				return user.User{}, repo.ErrVerificationCodeTaken
			}
		}
	}
	r.items[u.ID] = u
	r.byEmail[email] = u.ID

	return clone(u), nil
}

func (r *UsersRepo) Update(ctx context.Context, id string, p user.Patch) (user.User, error) {
	if p.LoginPin != nil && p.LoginPinExpiresAt == nil {
		return user.User{}, errors.New("login pin requires an expiry")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.items[id]
	if !ok {
		return user.User{}, repo.ErrUserNotFound
	}

	if p.LastLoginAt != nil {
		t := *p.LastLoginAt
		u.LastLoginAt = &t
	}
	if p.LoginPin != nil {
		pin, exp := *p.LoginPin, *p.LoginPinExpiresAt
		u.LoginPin = &pin
		u.LoginPinExpiresAt = &exp
		u.LoginPinAttempts = 0
	}
	u.UpdatedAt = r.now()

	r.items[id] = u
	return clone(u), nil
}

// ConsumeVerification checks and clears the pending code under one lock.
func (r *UsersRepo) ConsumeVerification(ctx context.Context, id, code string) (user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.items[id]
	if !ok || u.EmailVerified || u.VerificationCode == nil || *u.VerificationCode != code {
		return user.User{}, repo.ErrUserNotFound
	}

	u.EmailVerified = true
	u.VerificationCode = nil
	u.VerificationExpiresAt = nil
	u.UpdatedAt = r.now()

	r.items[id] = u
	return clone(u), nil
}

// ConsumeLoginPin mirrors the postgres statement: a match clears the PIN and
// records the login, a mismatch counts one attempt.
func (r *UsersRepo) ConsumeLoginPin(ctx context.Context, id, pin string, maxAttempts int, now time.Time) (user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.items[id]
	if !ok || u.LoginPin == nil {
		return user.User{}, repo.ErrUserNotFound
	}

	if *u.LoginPin != pin || u.LoginPinAttempts >= maxAttempts || u.LoginPinExpired(now) {
		u.LoginPinAttempts++
		r.items[id] = u
		return user.User{}, repo.ErrUserNotFound
	}

	t := now
	u.LoginPin = nil
	u.LoginPinExpiresAt = nil
	u.LoginPinAttempts = 0
	u.LastLoginAt = &t
	u.UpdatedAt = r.now()

	r.items[id] = u
	return clone(u), nil
}

// clone detaches pointer fields so callers cannot mutate stored records.
func clone(u user.User) user.User {
	if u.VerificationCode != nil {
		c := *u.VerificationCode
		u.VerificationCode = &c
	}
	if u.VerificationExpiresAt != nil {
		t := *u.VerificationExpiresAt
		u.VerificationExpiresAt = &t
	}
	if u.LoginPin != nil {
		p := *u.LoginPin
		u.LoginPin = &p
	}
	if u.LoginPinExpiresAt != nil {
		t := *u.LoginPinExpiresAt
		u.LoginPinExpiresAt = &t
	}
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		u.LastLoginAt = &t
	}
	return u
}

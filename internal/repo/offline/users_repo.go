// Package offline provides a users store for when no database could be reached
// and the service is configured to fail rather than fall back to memory.
package offline

import (
	"context"
	"time"

	"github.com/newsklad/backend/internal/domain/user"
	"github.com/newsklad/backend/internal/repo"
)

type UsersRepo struct{}

func NewUsersRepo() *UsersRepo { return &UsersRepo{} }

func (UsersRepo) Durable() bool { return false }

func (UsersRepo) Ping(ctx context.Context) error { return repo.ErrStoreUnavailable }

func (UsersRepo) FindByID(ctx context.Context, id string) (user.User, error) {
	return user.User{}, repo.ErrStoreUnavailable
}

func (UsersRepo) FindByEmail(ctx context.Context, email string) (user.User, error) {
	return user.User{}, repo.ErrStoreUnavailable
}

func (UsersRepo) FindByVerificationCode(ctx context.Context, code string) (user.User, error) {
	return user.User{}, repo.ErrStoreUnavailable
}

func (UsersRepo) CountByEmail(ctx context.Context, email string) (int, error) {
	return 0, repo.ErrStoreUnavailable
}

func (UsersRepo) Insert(ctx context.Context, nu user.NewUser) (user.User, error) {
	return user.User{}, repo.ErrStoreUnavailable
}

func (UsersRepo) Update(ctx context.Context, id string, p user.Patch) (user.User, error) {
	return user.User{}, repo.ErrStoreUnavailable
}

func (UsersRepo) ConsumeVerification(ctx context.Context, id, code string) (user.User, error) {
	return user.User{}, repo.ErrStoreUnavailable
}

func (UsersRepo) ConsumeLoginPin(ctx context.Context, id, pin string, maxAttempts int, now time.Time) (user.User, error) {
	return user.User{}, repo.ErrStoreUnavailable
}

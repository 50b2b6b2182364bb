package db

import (
	"context"
	"errors"

	"github.com/newsklad/backend/internal/domain/user"
	"github.com/newsklad/backend/internal/repo"
)

type AdminSeed struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

type AdminStore interface {
	FindByEmail(ctx context.Context, email string) (user.User, error)
	Insert(ctx context.Context, nu user.NewUser) (user.User, error)
}

type PasswordHasher interface {
	Hash(plain string) (string, error)
}

// EnsureAdminUser creates a verified admin account when the seed is configured
// and the address is not registered yet. It reports whether a user was created.
func EnsureAdminUser(ctx context.Context, store AdminStore, hasher PasswordHasher, seed AdminSeed) (bool, error) {
	if seed.Email == "" || seed.Password == "" {
		return false, nil
	}

	// check if the user exists
	_, err := store.FindByEmail(ctx, seed.Email)

	if err == nil {
		return false, nil
	}

	if !errors.Is(err, repo.ErrUserNotFound) {
		return false, err
	}

	hash, err := hasher.Hash(seed.Password)

	if err != nil {
		return false, err
	}

	firstName, lastName := seed.FirstName, seed.LastName
	if firstName == "" {
		firstName = "Admin"
	}
	if lastName == "" {
		lastName = "Admin"
	}

	_, err = store.Insert(ctx, user.NewUser{
		Email:         seed.Email,
		PasswordHash:  hash,
		FirstName:     firstName,
		LastName:      lastName,
		Role:          user.RoleAdmin,
		EmailVerified: true,
	})

	// lost a race with another instance seeding the same account
	if errors.Is(err, repo.ErrEmailTaken) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

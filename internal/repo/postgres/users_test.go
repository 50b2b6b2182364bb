package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/newsklad/backend/internal/domain/user"
	"github.com/newsklad/backend/internal/repo"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUserID = "7c0d0f4e-54a4-4b77-9b1f-2c3f1a9b8e10"

var columns = []string{
	"id", "email", "password_hash", "first_name", "last_name", "role", "email_verified",
	"verification_code", "verification_expires_at", "login_pin", "login_pin_expires_at", "login_pin_attempts",
	"last_login_at", "created_at", "updated_at",
}

func userRows(verified bool, code *string, expires *time.Time) *pgxmock.Rows {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return pgxmock.NewRows(columns).AddRow(
		testUserID,
		"alice@example.com",
		"$2a$12$hash",
		"Alice",
		"Lee",
		"user",
		verified,
		code,
		expires,
		(*string)(nil),
		(*time.Time)(nil),
		0,
		(*time.Time)(nil),
		created,
		created,
	)
}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	t.Cleanup(mock.Close)
	return mock
}

func TestUsersRepo_FindByEmail(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		wantErr   error
	}{
		{
			name: "found",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`(?s)SELECT .+ FROM users\s+WHERE lower\(email\) = \$1`).
					WithArgs("alice@example.com").
					WillReturnRows(userRows(true, nil, nil))
			},
		},
		{
			name: "not found",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`(?s)SELECT .+ FROM users`).
					WithArgs("alice@example.com").
					WillReturnError(pgx.ErrNoRows)
			},
			wantErr: repo.ErrUserNotFound,
		},
		{
			name: "timed out",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`(?s)SELECT .+ FROM users`).
					WithArgs("alice@example.com").
					WillReturnError(context.DeadlineExceeded)
			},
			wantErr: repo.ErrStoreUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			tt.setupMock(mock)

			r := NewUsersRepo(mock, nil)
			got, err := r.FindByEmail(context.Background(), "  Alice@Example.com ")

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, testUserID, got.ID)
				assert.Equal(t, user.RoleUser, got.Role)
				assert.True(t, got.EmailVerified)
				assert.Nil(t, got.VerificationCode)
			}
			assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
		})
	}
}

func TestUsersRepo_FindByIDRejectsMalformedID(t *testing.T) {
	mock := newMock(t)

	_, err := NewUsersRepo(mock, nil).FindByID(context.Background(), "not-a-uuid")
	require.ErrorIs(t, err, repo.ErrUserNotFound)
	assert.NoError(t, mock.ExpectationsWereMet(), "no query expected")
}

func TestUsersRepo_FindByVerificationCode(t *testing.T) {
	mock := newMock(t)

	code := "abc123"
	exp := time.Date(2026, 1, 3, 3, 4, 5, 0, time.UTC)
	mock.ExpectQuery(`WHERE verification_code = \$1 AND email_verified = FALSE`).
		WithArgs(code).
		WillReturnRows(userRows(false, &code, &exp))

	got, err := NewUsersRepo(mock, nil).FindByVerificationCode(context.Background(), code)
	require.NoError(t, err)
	require.NotNil(t, got.VerificationCode)
	assert.Equal(t, code, *got.VerificationCode)
	assert.True(t, got.PendingVerification())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUsersRepo_CountByEmail(t *testing.T) {
	mock := newMock(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM users WHERE lower\(email\) = \$1`).
		WithArgs("bob@example.com").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))

	n, err := NewUsersRepo(mock, nil).CountByEmail(context.Background(), "BOB@example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUsersRepo_Insert(t *testing.T) {
	t.Run("pending verification", func(t *testing.T) {
		mock := newMock(t)

		exp := time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC)
		code := "code-1"
		mock.ExpectQuery(`INSERT INTO users`).
			WithArgs(pgxmock.AnyArg(), "alice@example.com", "$2a$12$hash", "Alice", "Lee", "user", false, &code, &exp).
			WillReturnRows(userRows(false, &code, &exp))

		got, err := NewUsersRepo(mock, nil).Insert(context.Background(), user.NewUser{
			Email:                 "Alice@example.com",
			PasswordHash:          "$2a$12$hash",
			FirstName:             "Alice",
			LastName:              "Lee",
			VerificationCode:      code,
			VerificationExpiresAt: exp,
		})
		require.NoError(t, err)
		assert.Equal(t, testUserID, got.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate email", func(t *testing.T) {
		mock := newMock(t)

		mock.ExpectQuery(`INSERT INTO users`).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: emailUniqueIndex})

		_, err := NewUsersRepo(mock, nil).Insert(context.Background(), user.NewUser{Email: "alice@example.com"})
		require.ErrorIs(t, err, repo.ErrEmailTaken)
	})

	t.Run("duplicate verification code", func(t *testing.T) {
		mock := newMock(t)

		mock.ExpectQuery(`INSERT INTO users`).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: codeUniqueIndex})

		_, err := NewUsersRepo(mock, nil).Insert(context.Background(), user.NewUser{Email: "alice@example.com", VerificationCode: "c"})
		require.ErrorIs(t, err, repo.ErrVerificationCodeTaken)
		assert.NotErrorIs(t, err, repo.ErrEmailTaken)
	})

	t.Run("other failure keeps an oops code", func(t *testing.T) {
		mock := newMock(t)

		mock.ExpectQuery(`INSERT INTO users`).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(&pgconn.PgError{Code: pgerrcode.UndefinedTable})

		_, err := NewUsersRepo(mock, nil).Insert(context.Background(), user.NewUser{Email: "alice@example.com"})
		require.Error(t, err)

		oopsErr, ok := oops.AsOops(err)
		require.True(t, ok, "expected an oops error")
		assert.Equal(t, "USER_INSERT_FAILED", oopsErr.Code())

		var pgErr *pgconn.PgError
		assert.True(t, errors.As(err, &pgErr))
	})
}

func TestUsersRepo_Update(t *testing.T) {
	t.Run("last login", func(t *testing.T) {
		mock := newMock(t)

		at := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
		mock.ExpectQuery(`UPDATE users\s+SET updated_at = NOW\(\), last_login_at = \$2\s+WHERE id = \$1`).
			WithArgs(testUserID, at).
			WillReturnRows(userRows(true, nil, nil))

		_, err := NewUsersRepo(mock, nil).Update(context.Background(), testUserID, user.Patch{LastLoginAt: &at})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("login pin resets attempts", func(t *testing.T) {
		mock := newMock(t)

		pin := "123456"
		exp := time.Date(2026, 1, 5, 9, 10, 0, 0, time.UTC)
		mock.ExpectQuery(`SET updated_at = NOW\(\), login_pin = \$2, login_pin_expires_at = \$3, login_pin_attempts = 0\s+WHERE id = \$1`).
			WithArgs(testUserID, pin, exp).
			WillReturnRows(userRows(true, nil, nil))

		_, err := NewUsersRepo(mock, nil).Update(context.Background(), testUserID, user.Patch{LoginPin: &pin, LoginPinExpiresAt: &exp})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("pin without expiry", func(t *testing.T) {
		mock := newMock(t)

		pin := "123456"
		_, err := NewUsersRepo(mock, nil).Update(context.Background(), testUserID, user.Patch{LoginPin: &pin})
		require.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet(), "no query expected")
	})
}

func TestUsersRepo_ConsumeVerification(t *testing.T) {
	t.Run("pending code", func(t *testing.T) {
		mock := newMock(t)

		mock.ExpectQuery(`(?s)UPDATE users\s+SET email_verified = TRUE.+WHERE id = \$1 AND verification_code = \$2 AND email_verified = FALSE`).
			WithArgs(testUserID, "abc123").
			WillReturnRows(userRows(true, nil, nil))

		got, err := NewUsersRepo(mock, nil).ConsumeVerification(context.Background(), testUserID, "abc123")
		require.NoError(t, err)
		assert.True(t, got.EmailVerified)
		assert.Nil(t, got.VerificationCode)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already consumed", func(t *testing.T) {
		mock := newMock(t)

		mock.ExpectQuery(`(?s)UPDATE users\s+SET email_verified = TRUE`).
			WithArgs(testUserID, "abc123").
			WillReturnError(pgx.ErrNoRows)

		_, err := NewUsersRepo(mock, nil).ConsumeVerification(context.Background(), testUserID, "abc123")
		require.ErrorIs(t, err, repo.ErrUserNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUsersRepo_ConsumeLoginPin(t *testing.T) {
	now := time.Date(2026, 1, 5, 9, 5, 0, 0, time.UTC)

	t.Run("matching pin", func(t *testing.T) {
		mock := newMock(t)

		mock.ExpectQuery(`(?s)SET login_pin = NULL.+WHERE id = \$1 AND login_pin = \$2 AND login_pin_attempts < \$3 AND login_pin_expires_at >= \$4`).
			WithArgs(testUserID, "123456", 5, now).
			WillReturnRows(userRows(true, nil, nil))

		got, err := NewUsersRepo(mock, nil).ConsumeLoginPin(context.Background(), testUserID, "123456", 5, now)
		require.NoError(t, err)
		assert.Equal(t, testUserID, got.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wrong pin counts an attempt", func(t *testing.T) {
		mock := newMock(t)

		mock.ExpectQuery(`(?s)SET login_pin = NULL`).
			WithArgs(testUserID, "000000", 5, now).
			WillReturnError(pgx.ErrNoRows)
		mock.ExpectExec(`SET login_pin_attempts = login_pin_attempts \+ 1\s+WHERE id = \$1 AND login_pin IS NOT NULL`).
			WithArgs(testUserID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		_, err := NewUsersRepo(mock, nil).ConsumeLoginPin(context.Background(), testUserID, "000000", 5, now)
		require.ErrorIs(t, err, repo.ErrUserNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("store down", func(t *testing.T) {
		mock := newMock(t)

		mock.ExpectQuery(`(?s)SET login_pin = NULL`).
			WithArgs(testUserID, "123456", 5, now).
			WillReturnError(context.DeadlineExceeded)

		_, err := NewUsersRepo(mock, nil).ConsumeLoginPin(context.Background(), testUserID, "123456", 5, now)
		require.ErrorIs(t, err, repo.ErrStoreUnavailable)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUsersRepo_Ping(t *testing.T) {
	mock := newMock(t)
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	err := NewUsersRepo(mock, nil).Ping(context.Background())
	require.ErrorIs(t, err, repo.ErrStoreUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

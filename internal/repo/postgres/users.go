package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/newsklad/backend/internal/domain/user"
	"github.com/newsklad/backend/internal/observability"
	"github.com/newsklad/backend/internal/repo"
	"github.com/samber/oops"
)

const (
	// emailUniqueIndex enforces one live user per normalized email (see migrations).
	emailUniqueIndex = "users_email_lower_key"
	// codeUniqueIndex keeps pending verification codes distinct across users.
	codeUniqueIndex = "users_verification_code_key"
)

const userColumns = `id, email, password_hash, first_name, last_name, role, email_verified,
	verification_code, verification_expires_at, login_pin, login_pin_expires_at, login_pin_attempts,
	last_login_at, created_at, updated_at`

// DBTX is the subset of *pgxpool.Pool the repository needs.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

type UsersRepo struct {
	db   DBTX
	prom *observability.Prom
}

// prom may be nil.
func NewUsersRepo(db DBTX, prom *observability.Prom) *UsersRepo {
	return &UsersRepo{db: db, prom: prom}
}

func (r *UsersRepo) Durable() bool { return true }

func (r *UsersRepo) Ping(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", repo.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *UsersRepo) FindByID(ctx context.Context, id string) (user.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return user.User{}, repo.ErrUserNotFound
	}

	var u user.User
	err := r.prom.ObserveDB("users.find_by_id", func() error {
		return scanUser(r.db.QueryRow(ctx,
			`SELECT `+userColumns+`
			FROM users
			WHERE id = $1`,
			id,
		), &u)
	})
	if err != nil {
		return user.User{}, classify("find user by id", "USER_LOOKUP_FAILED", err)
	}
	return u, nil
}

func (r *UsersRepo) FindByEmail(ctx context.Context, email string) (user.User, error) {
	var u user.User
	err := r.prom.ObserveDB("users.find_by_email", func() error {
		return scanUser(r.db.QueryRow(ctx,
			`SELECT `+userColumns+`
			FROM users
			WHERE lower(email) = $1`,
			user.NormalizeEmail(email),
		), &u)
	})
	if err != nil {
		return user.User{}, classify("find user by email", "USER_LOOKUP_FAILED", err)
	}
	return u, nil
}

// FindByVerificationCode only matches unverified users. Expiry is left to the
// caller so an expired code can be told apart from an unknown one.
func (r *UsersRepo) FindByVerificationCode(ctx context.Context, code string) (user.User, error) {
	var u user.User
	err := r.prom.ObserveDB("users.find_by_verification_code", func() error {
		return scanUser(r.db.QueryRow(ctx,
			`SELECT `+userColumns+`
			FROM users
			WHERE verification_code = $1 AND email_verified = FALSE`,
			code,
		), &u)
	})
	if err != nil {
		return user.User{}, classify("find user by verification code", "USER_LOOKUP_FAILED", err)
	}
	return u, nil
}

func (r *UsersRepo) CountByEmail(ctx context.Context, email string) (int, error) {
	var n int
	err := r.prom.ObserveDB("users.count_by_email", func() error {
		return r.db.QueryRow(ctx,
			`SELECT COUNT(*) FROM users WHERE lower(email) = $1`,
			user.NormalizeEmail(email),
		).Scan(&n)
	})
	if err != nil {
		return 0, classify("count users by email", "USER_COUNT_FAILED", err)
	}
	return n, nil
}

// Insert relies on the unique index over lower(email); a concurrent insert of
// the same address surfaces as repo.ErrEmailTaken.
func (r *UsersRepo) Insert(ctx context.Context, nu user.NewUser) (user.User, error) {
	role := nu.Role
	if role == "" {
		role = user.RoleUser
	}

	var code *string
	var expires *time.Time
	if nu.VerificationCode != "" {
		c := nu.VerificationCode
		e := nu.VerificationExpiresAt.UTC()
		code, expires = &c, &e
	}

	var u user.User
	err := r.prom.ObserveDB("users.insert", func() error {
		return scanUser(r.db.QueryRow(ctx,
			`INSERT INTO users (id, email, password_hash, first_name, last_name, role, email_verified,
				verification_code, verification_expires_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING `+userColumns,
			uuid.NewString(),
			user.NormalizeEmail(nu.Email),
			nu.PasswordHash,
			nu.FirstName,
			nu.LastName,
			string(role),
			nu.EmailVerified,
			code,
			expires,
		), &u)
	})
	if err != nil {
		return user.User{}, classify("insert user", "USER_INSERT_FAILED", err)
	}
	return u, nil
}

func (r *UsersRepo) Update(ctx context.Context, id string, p user.Patch) (user.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return user.User{}, repo.ErrUserNotFound
	}

	sets := []string{"updated_at = NOW()"}
	args := []any{id}

	if p.LastLoginAt != nil {
		args = append(args, p.LastLoginAt.UTC())
		sets = append(sets, fmt.Sprintf("last_login_at = $%d", len(args)))
	}
	if p.LoginPin != nil {
		if p.LoginPinExpiresAt == nil {
			return user.User{}, errors.New("login pin requires an expiry")
		}
		args = append(args, *p.LoginPin, p.LoginPinExpiresAt.UTC())
		sets = append(sets,
			fmt.Sprintf("login_pin = $%d", len(args)-1),
			fmt.Sprintf("login_pin_expires_at = $%d", len(args)),
			"login_pin_attempts = 0",
		)
	}

	var u user.User
	err := r.prom.ObserveDB("users.update", func() error {
		return scanUser(r.db.QueryRow(ctx,
			`UPDATE users
			SET `+strings.Join(sets, ", ")+`
			WHERE id = $1
			RETURNING `+userColumns,
			args...,
		), &u)
	})
	if err != nil {
		return user.User{}, classify("update user", "USER_UPDATE_FAILED", err)
	}
	return u, nil
}

// ConsumeVerification marks the user verified only if code is still the
// pending one. Of two concurrent calls with the same code exactly one gets a
// row back; the other sees repo.ErrUserNotFound.
func (r *UsersRepo) ConsumeVerification(ctx context.Context, id, code string) (user.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return user.User{}, repo.ErrUserNotFound
	}

	var u user.User
	err := r.prom.ObserveDB("users.consume_verification", func() error {
		return scanUser(r.db.QueryRow(ctx,
			`UPDATE users
			SET email_verified = TRUE,
				verification_code = NULL,
				verification_expires_at = NULL,
				updated_at = NOW()
			WHERE id = $1 AND verification_code = $2 AND email_verified = FALSE
			RETURNING `+userColumns,
			id, code,
		), &u)
	})
	if err != nil {
		return user.User{}, classify("consume verification code", "USER_VERIFY_FAILED", err)
	}
	return u, nil
}

// ConsumeLoginPin clears the pending sign-in PIN and records the login in one
// statement when pin matches, has not expired at now and fewer than
// maxAttempts wrong guesses were made. A mismatch counts one attempt and
// returns repo.ErrUserNotFound.
func (r *UsersRepo) ConsumeLoginPin(ctx context.Context, id, pin string, maxAttempts int, now time.Time) (user.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return user.User{}, repo.ErrUserNotFound
	}

	var u user.User
	err := r.prom.ObserveDB("users.consume_login_pin", func() error {
		return scanUser(r.db.QueryRow(ctx,
			`UPDATE users
			SET login_pin = NULL,
				login_pin_expires_at = NULL,
				login_pin_attempts = 0,
				last_login_at = $4,
				updated_at = NOW()
			WHERE id = $1 AND login_pin = $2 AND login_pin_attempts < $3 AND login_pin_expires_at >= $4
			RETURNING `+userColumns,
			id, pin, maxAttempts, now.UTC(),
		), &u)
	})
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return user.User{}, classify("consume login pin", "USER_PIN_FAILED", err)
	}

	err = r.prom.ObserveDB("users.count_login_pin_attempt", func() error {
		_, err := r.db.Exec(ctx,
			`UPDATE users
			SET login_pin_attempts = login_pin_attempts + 1
			WHERE id = $1 AND login_pin IS NOT NULL`,
			id,
		)
		return err
	})
	if err != nil {
		return user.User{}, classify("count login pin attempt", "USER_PIN_FAILED", err)
	}
	return user.User{}, repo.ErrUserNotFound
}

func scanUser(row pgx.Row, u *user.User) error {
	var role string
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.FirstName,
		&u.LastName,
		&role,
		&u.EmailVerified,
		&u.VerificationCode,
		&u.VerificationExpiresAt,
		&u.LoginPin,
		&u.LoginPinExpiresAt,
		&u.LoginPinAttempts,
		&u.LastLoginAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return err
	}
	u.Role = user.Role(role)
	return nil
}

// classify maps driver errors onto the repo sentinels; anything else is wrapped
// with an oops code for the logs.
func classify(operation, code string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return repo.ErrUserNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		switch pgErr.ConstraintName {
		case emailUniqueIndex:
			return repo.ErrEmailTaken
		case codeUniqueIndex:
			return repo.ErrVerificationCodeTaken
		}
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %w", repo.ErrStoreUnavailable, err)
	}

	return oops.
		In("users_repo").
		Code(code).
		With("operation", operation).
		Wrap(err)
}

package accounts

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/newsklad/backend/internal/auth"
	"github.com/newsklad/backend/internal/domain/user"
	"github.com/newsklad/backend/internal/notifications"
	"github.com/newsklad/backend/internal/observability"
	"github.com/newsklad/backend/internal/repo"
	"github.com/newsklad/backend/internal/security"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultVerificationTTL = 24 * time.Hour
	DefaultPinTTL          = 10 * time.Minute
	DefaultPinMaxAttempts  = 5

	// bcrypt ignores input past this many bytes
	maxPasswordBytes = 72

	maxCodeAttempts = 2
)

// Store is the credential store the service runs against. Live and
// degraded implementations satisfy the same contract.
type Store interface {
	FindByID(ctx context.Context, id string) (user.User, error)
	FindByEmail(ctx context.Context, email string) (user.User, error)
	FindByVerificationCode(ctx context.Context, code string) (user.User, error)
	CountByEmail(ctx context.Context, email string) (int, error)
	Insert(ctx context.Context, nu user.NewUser) (user.User, error)
	Update(ctx context.Context, id string, p user.Patch) (user.User, error)
	// ConsumeVerification marks the user verified only if code is still
	// pending for them. A lost race reports repo.ErrUserNotFound.
	ConsumeVerification(ctx context.Context, id, code string) (user.User, error)
	// ConsumeLoginPin clears a matching, live pin and records the login.
	// Every rejected attempt is counted.
	ConsumeLoginPin(ctx context.Context, id, pin string, maxAttempts int, now time.Time) (user.User, error)
	// Durable is false for stand-in stores whose data does not survive a restart.
	Durable() bool
}

type Hasher interface {
	Hash(plain string) (string, error)
	Verify(hash, plain string) (bool, error)
	VerifyDummy(plain string)
}

type TokenIssuer interface {
	Issue(id auth.Identity) (auth.Token, error)
}

type CodeGenerator interface {
	VerificationCode() (string, error)
	PinCode(digits int) (string, error)
}

type Policy struct {
	// RequireVerificationBeforeToken withholds tokens until the email is
	// verified, even when no verification mail could be sent.
	RequireVerificationBeforeToken bool
	VerificationTTL                time.Duration

	// RequireLoginPin turns a correct password into a pin challenge; the
	// token is issued by ConfirmLogin.
	RequireLoginPin bool
	PinTTL          time.Duration
	PinMaxAttempts  int
	PinDigits       int
}

type Deps struct {
	Store    Store
	Hasher   Hasher
	Tokens   TokenIssuer
	Codes    CodeGenerator
	Notifier notifications.Notifier
	Policy   Policy
	Log      *slog.Logger
	Prom     *observability.Prom
	Now      func() time.Time
}

type Service struct {
	store     Store
	hasher    Hasher
	tokens    TokenIssuer
	codes     CodeGenerator
	notifier  notifications.Notifier
	policy    Policy
	log       *slog.Logger
	prom      *observability.Prom
	now       func() time.Time
	validator *validator.Validate
	tracer    trace.Tracer
}

func NewService(d Deps) (*Service, error) {
	switch {
	case d.Store == nil:
		return nil, errors.New("accounts: store is required")
	case d.Hasher == nil:
		return nil, errors.New("accounts: hasher is required")
	case d.Tokens == nil:
		return nil, errors.New("accounts: token issuer is required")
	case d.Codes == nil:
		return nil, errors.New("accounts: code generator is required")
	}

	if d.Notifier == nil {
		d.Notifier = notifications.NewLogNotifier(d.Log)
	}
	if d.Policy.VerificationTTL <= 0 {
		d.Policy.VerificationTTL = DefaultVerificationTTL
	}
	if d.Policy.PinTTL <= 0 {
		d.Policy.PinTTL = DefaultPinTTL
	}
	if d.Policy.PinMaxAttempts <= 0 {
		d.Policy.PinMaxAttempts = DefaultPinMaxAttempts
	}
	if d.Policy.PinDigits <= 0 {
		d.Policy.PinDigits = security.DefaultPinDigits
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Service{
		store:     d.Store,
		hasher:    d.Hasher,
		tokens:    d.Tokens,
		codes:     d.Codes,
		notifier:  d.Notifier,
		policy:    d.Policy,
		log:       d.Log,
		prom:      d.Prom,
		now:       d.Now,
		validator: newValidator(),
		tracer:    otel.Tracer("github.com/newsklad/backend/internal/accounts"),
	}, nil
}

type RegisterResult struct {
	User user.User
	// Token is nil when issuance waits for verification.
	Token     *auth.Token
	EmailSent bool
	// Degraded marks results served by a non-durable store.
	Degraded bool
}

func (r RegisterResult) RequiresVerification() bool {
	return r.Token == nil
}

type AuthResult struct {
	User  user.User
	Token auth.Token
	// PinRequired means Token is empty and the sign-in continues with
	// ConfirmLogin before PinExpiresAt.
	PinRequired  bool
	PinExpiresAt time.Time
	Degraded     bool
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (res RegisterResult, err error) {
	ctx, span := s.tracer.Start(ctx, "accounts.Register")
	defer func() { s.finish(span, "register", err) }()

	in.Email = user.NormalizeEmail(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)

	if err := s.validate(in); err != nil {
		return RegisterResult{}, err
	}
	if len(in.Password) > maxPasswordBytes {
		return RegisterResult{}, &Error{
			Kind:    KindValidation,
			Message: "Invalid request body",
			Fields: []FieldError{{
				Field:   "password",
				Rule:    "max",
				Param:   "72",
				Message: "must be at most 72 bytes",
			}},
		}
	}

	n, err := s.store.CountByEmail(ctx, in.Email)
	if err != nil {
		return RegisterResult{}, s.storeError(ctx, "count by email", err)
	}
	if n > 0 {
		return RegisterResult{}, newError(KindConflict, "Email is already in use.", nil)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		s.log.ErrorContext(ctx, "hash password failed", "err", err)
		return RegisterResult{}, newError(KindInternal, msgInternal, err)
	}

	// uniqueness is decided by the store; the count above is only a fast path
	var (
		created user.User
		code    string
	)
	for attempt := 1; ; attempt++ {
		code, err = s.codes.VerificationCode()
		if err != nil {
			s.log.ErrorContext(ctx, "generate verification code failed", "err", err)
			return RegisterResult{}, newError(KindInternal, msgInternal, err)
		}

		created, err = s.store.Insert(ctx, user.NewUser{
			Email:                 in.Email,
			PasswordHash:          hash,
			FirstName:             in.FirstName,
			LastName:              in.LastName,
			Role:                  user.RoleUser,
			VerificationCode:      code,
			VerificationExpiresAt: s.now().Add(s.policy.VerificationTTL),
		})
		if errors.Is(err, repo.ErrVerificationCodeTaken) && attempt < maxCodeAttempts {
			s.log.WarnContext(ctx, "verification code collision, regenerating", "attempt", attempt)
			continue
		}
		break
	}
	if err != nil {
		if errors.Is(err, repo.ErrEmailTaken) {
			return RegisterResult{}, newError(KindConflict, "Email is already in use.", nil)
		}
		if errors.Is(err, repo.ErrVerificationCodeTaken) {
			s.log.ErrorContext(ctx, "verification code collided twice", "err", err)
			return RegisterResult{}, newError(KindInternal, msgInternal, err)
		}
		return RegisterResult{}, s.storeError(ctx, "insert user", err)
	}

	delivery, sendErr := s.notifier.SendVerification(ctx, notifications.VerificationMessage{
		Email: created.Email,
		Name:  created.FirstName,
		Code:  code,
	})
	if sendErr != nil {
		s.log.WarnContext(ctx, "verification email not sent",
			"user_id", created.ID,
			"reason", delivery.Reason,
			"err", sendErr,
		)
	}

	res = RegisterResult{
		User:      created,
		EmailSent: delivery.Delivered,
		Degraded:  !s.store.Durable(),
	}

	// without a delivered email the account could never be verified, so
	// a token is issued right away unless policy forbids it
	if !delivery.Delivered && !s.policy.RequireVerificationBeforeToken {
		tok, err := s.issue(created)
		if err != nil {
			return RegisterResult{}, err
		}
		res.Token = &tok
	}

	s.log.InfoContext(ctx, "user registered",
		"user_id", created.ID,
		"email_sent", res.EmailSent,
		"token_issued", res.Token != nil,
		"degraded", res.Degraded,
	)
	return res, nil
}

func (s *Service) VerifyEmail(ctx context.Context, in VerifyEmailInput) (res AuthResult, err error) {
	ctx, span := s.tracer.Start(ctx, "accounts.VerifyEmail")
	defer func() { s.finish(span, "verify_email", err) }()

	in.Code = strings.TrimSpace(in.Code)
	if err := s.validate(in); err != nil {
		return AuthResult{}, err
	}

	u, err := s.store.FindByVerificationCode(ctx, in.Code)
	if err != nil {
		if errors.Is(err, repo.ErrUserNotFound) {
			return AuthResult{}, newError(KindInvalidCode, "Verification code is invalid or has already been used.", nil)
		}
		return AuthResult{}, s.storeError(ctx, "find by verification code", err)
	}

	if u.VerificationExpired(s.now()) {
		return AuthResult{}, newError(KindCodeExpired, "Verification code has expired. Please register again.", nil)
	}

	u, err = s.store.ConsumeVerification(ctx, u.ID, in.Code)
	if err != nil {
		if errors.Is(err, repo.ErrUserNotFound) {
			return AuthResult{}, newError(KindInvalidCode, "Verification code is invalid or has already been used.", nil)
		}
		return AuthResult{}, s.storeError(ctx, "mark verified", err)
	}

	tok, err := s.issue(u)
	if err != nil {
		return AuthResult{}, err
	}

	s.log.InfoContext(ctx, "email verified", "user_id", u.ID)
	return AuthResult{User: u, Token: tok, Degraded: !s.store.Durable()}, nil
}

func (s *Service) Login(ctx context.Context, in LoginInput) (res AuthResult, err error) {
	ctx, span := s.tracer.Start(ctx, "accounts.Login")
	defer func() { s.finish(span, "login", err) }()

	in.Email = user.NormalizeEmail(in.Email)
	if err := s.validate(in); err != nil {
		return AuthResult{}, err
	}

	u, err := s.store.FindByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, repo.ErrUserNotFound) {
			s.hasher.VerifyDummy(in.Password)
			return AuthResult{}, errInvalidCredentials
		}
		return AuthResult{}, s.storeError(ctx, "find by email", err)
	}

	ok, err := s.hasher.Verify(u.PasswordHash, in.Password)
	if err != nil {
		s.log.ErrorContext(ctx, "stored password hash unreadable", "user_id", u.ID, "err", err)
		s.hasher.VerifyDummy(in.Password)
		return AuthResult{}, errInvalidCredentials
	}
	if !ok {
		return AuthResult{}, errInvalidCredentials
	}

	if s.policy.RequireVerificationBeforeToken && !u.EmailVerified {
		return AuthResult{}, newError(KindEmailNotVerified, "Please verify your email address before signing in.", nil)
	}

	if s.policy.RequireLoginPin {
		return s.challenge(ctx, u)
	}

	now := s.now()
	updated, err := s.store.Update(ctx, u.ID, user.Patch{LastLoginAt: &now})
	if err != nil {
		s.log.WarnContext(ctx, "record last login failed", "user_id", u.ID, "err", err)
	} else {
		u = updated
	}

	tok, err := s.issue(u)
	if err != nil {
		return AuthResult{}, err
	}

	s.log.InfoContext(ctx, "user logged in", "user_id", u.ID)
	return AuthResult{User: u, Token: tok, Degraded: !s.store.Durable()}, nil
}

// challenge stores a fresh login pin for u and mails it. Without a delivered
// pin the sign-in cannot finish, so that is reported as a failure.
func (s *Service) challenge(ctx context.Context, u user.User) (AuthResult, error) {
	pin, err := s.codes.PinCode(s.policy.PinDigits)
	if err != nil {
		s.log.ErrorContext(ctx, "generate login pin failed", "err", err)
		return AuthResult{}, newError(KindInternal, msgInternal, err)
	}

	expires := s.now().Add(s.policy.PinTTL)
	if _, err := s.store.Update(ctx, u.ID, user.Patch{LoginPin: &pin, LoginPinExpiresAt: &expires}); err != nil {
		return AuthResult{}, s.storeError(ctx, "store login pin", err)
	}

	delivery, sendErr := s.notifier.SendPinCode(ctx, notifications.PinMessage{
		Email: u.Email,
		Name:  u.FirstName,
		Pin:   pin,
	})
	if !delivery.Delivered {
		s.log.WarnContext(ctx, "login pin not sent",
			"user_id", u.ID,
			"reason", delivery.Reason,
			"err", sendErr,
		)
		return AuthResult{}, newError(KindPinDeliveryFailed, "Could not send the sign-in code. Please try again later.", sendErr)
	}

	s.log.InfoContext(ctx, "login pin sent", "user_id", u.ID)
	return AuthResult{
		User:         u,
		PinRequired:  true,
		PinExpiresAt: expires,
		Degraded:     !s.store.Durable(),
	}, nil
}

// ConfirmLogin finishes a pin challenged sign-in.
func (s *Service) ConfirmLogin(ctx context.Context, in ConfirmLoginInput) (res AuthResult, err error) {
	ctx, span := s.tracer.Start(ctx, "accounts.ConfirmLogin")
	defer func() { s.finish(span, "confirm_login", err) }()

	in.Email = user.NormalizeEmail(in.Email)
	in.Pin = strings.TrimSpace(in.Pin)
	if err := s.validate(in); err != nil {
		return AuthResult{}, err
	}

	u, err := s.store.FindByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, repo.ErrUserNotFound) {
			return AuthResult{}, errInvalidPin
		}
		return AuthResult{}, s.storeError(ctx, "find by email", err)
	}

	if u.LoginPin == nil {
		return AuthResult{}, errInvalidPin
	}
	if u.LoginPinAttempts >= s.policy.PinMaxAttempts {
		return AuthResult{}, newError(KindInvalidCode, "Too many attempts. Please sign in again.", nil)
	}
	if u.LoginPinExpired(s.now()) {
		return AuthResult{}, newError(KindCodeExpired, "Sign-in code has expired. Please sign in again.", nil)
	}

	u, err = s.store.ConsumeLoginPin(ctx, u.ID, in.Pin, s.policy.PinMaxAttempts, s.now())
	if err != nil {
		if errors.Is(err, repo.ErrUserNotFound) {
			return AuthResult{}, errInvalidPin
		}
		return AuthResult{}, s.storeError(ctx, "consume login pin", err)
	}

	tok, err := s.issue(u)
	if err != nil {
		return AuthResult{}, err
	}

	s.log.InfoContext(ctx, "user logged in", "user_id", u.ID, "pin", true)
	return AuthResult{User: u, Token: tok, Degraded: !s.store.Durable()}, nil
}

// Me resolves the user behind an already verified token subject.
func (s *Service) Me(ctx context.Context, userID string) (u user.User, err error) {
	ctx, span := s.tracer.Start(ctx, "accounts.Me")
	defer func() { s.finish(span, "me", err) }()

	u, err = s.store.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrUserNotFound) {
			return user.User{}, newError(KindInvalidToken, "Token does not match an existing user.", nil)
		}
		return user.User{}, s.storeError(ctx, "find by id", err)
	}
	return u, nil
}

func (s *Service) issue(u user.User) (auth.Token, error) {
	tok, err := s.tokens.Issue(auth.Identity{
		UserID: u.ID,
		Email:  u.Email,
		Role:   string(u.Role),
	})
	if err != nil {
		return auth.Token{}, newError(KindInternal, msgInternal, err)
	}
	return tok, nil
}

// storeError maps a storage failure to a caller-safe kind.
func (s *Service) storeError(ctx context.Context, op string, err error) error {
	if errors.Is(err, repo.ErrStoreUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		s.log.WarnContext(ctx, "credential store unavailable", "op", op, "err", err)
		return newError(KindStoreUnavailable, msgStoreUnavailable, err)
	}

	s.log.ErrorContext(ctx, "credential store failure", "op", op, "err", err)
	return newError(KindInternal, msgInternal, err)
}

func (s *Service) finish(span trace.Span, op string, err error) {
	result := "ok"
	if err != nil {
		result = string(KindOf(err))
		span.SetAttributes(attribute.String("auth.error_kind", result))
		span.SetStatus(codes.Error, result)
	}
	span.End()
	s.prom.RecordAuth(op, result)
}

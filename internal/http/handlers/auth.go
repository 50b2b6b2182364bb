package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/newsklad/backend/internal/accounts"
	"github.com/newsklad/backend/internal/actorctx"
	"github.com/newsklad/backend/internal/domain/user"
)

type AuthService interface {
	Register(ctx context.Context, in accounts.RegisterInput) (accounts.RegisterResult, error)
	VerifyEmail(ctx context.Context, in accounts.VerifyEmailInput) (accounts.AuthResult, error)
	Login(ctx context.Context, in accounts.LoginInput) (accounts.AuthResult, error)
	ConfirmLogin(ctx context.Context, in accounts.ConfirmLoginInput) (accounts.AuthResult, error)
	Me(ctx context.Context, userID string) (user.User, error)
}

type AuthHandler struct {
	svc     AuthService
	timeout time.Duration
}

// timeout bounds one request end to end, including mail delivery.
func NewAuthHandler(svc AuthService, timeout time.Duration) *AuthHandler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AuthHandler{svc: svc, timeout: timeout}
}

type authData struct {
	User           user.User  `json:"user"`
	Token          string     `json:"token,omitempty"`
	TokenExpiresAt *time.Time `json:"tokenExpiresAt,omitempty"`
	Degraded       bool       `json:"degraded,omitempty"`
}

type pinData struct {
	PinRequired  bool      `json:"pinRequired"`
	PinExpiresAt time.Time `json:"pinExpiresAt"`
	Degraded     bool      `json:"degraded,omitempty"`
}

type registerData struct {
	authData
	RequiresVerification bool `json:"requiresVerification"`
	EmailSent            bool `json:"emailSent"`
}

func (h *AuthHandler) Register(ctx *gin.Context) {
	var req accounts.RegisterInput

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), h.timeout)
	defer cancel()

	res, err := h.svc.Register(cctx, req)
	if err != nil {
		RespondServiceError(ctx, err)
		return
	}

	data := registerData{
		authData:             authData{User: res.User, Degraded: res.Degraded},
		RequiresVerification: res.RequiresVerification(),
		EmailSent:            res.EmailSent,
	}
	if res.Token != nil {
		data.Token = res.Token.Value
		data.TokenExpiresAt = &res.Token.ExpiresAt
	}

	message := "Registration successful."
	if res.EmailSent {
		message = "Registration successful. Check your email to verify your account."
	}

	RespondOK(ctx, message, data)
}

func (h *AuthHandler) VerifyEmail(ctx *gin.Context) {
	var req accounts.VerifyEmailInput

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), h.timeout)
	defer cancel()

	res, err := h.svc.VerifyEmail(cctx, req)
	if err != nil {
		RespondServiceError(ctx, err)
		return
	}

	RespondOK(ctx, "Email verified.", toAuthData(res))
}

func (h *AuthHandler) Login(ctx *gin.Context) {
	var req accounts.LoginInput

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), h.timeout)
	defer cancel()

	res, err := h.svc.Login(cctx, req)
	if err != nil {
		RespondServiceError(ctx, err)
		return
	}

	if res.PinRequired {
		RespondOK(ctx, "Sign-in code sent to your email.", pinData{
			PinRequired:  true,
			PinExpiresAt: res.PinExpiresAt,
			Degraded:     res.Degraded,
		})
		return
	}

	RespondOK(ctx, "Login successful.", toAuthData(res))
}

func (h *AuthHandler) ConfirmLogin(ctx *gin.Context) {
	var req accounts.ConfirmLoginInput

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), h.timeout)
	defer cancel()

	res, err := h.svc.ConfirmLogin(cctx, req)
	if err != nil {
		RespondServiceError(ctx, err)
		return
	}

	RespondOK(ctx, "Login successful.", toAuthData(res))
}

func (h *AuthHandler) Me(ctx *gin.Context) {
	actor, ok := actorctx.From(ctx.Request.Context())
	if !ok {
		RespondServiceError(ctx, &accounts.Error{Kind: accounts.KindInvalidToken, Message: "Missing access token"})
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), h.timeout)
	defer cancel()

	u, err := h.svc.Me(cctx, actor.UserID)
	if err != nil {
		RespondServiceError(ctx, err)
		return
	}

	RespondOK(ctx, "Current user.", gin.H{"user": u})
}

func toAuthData(res accounts.AuthResult) authData {
	exp := res.Token.ExpiresAt
	return authData{
		User:           res.User,
		Token:          res.Token.Value,
		TokenExpiresAt: &exp,
		Degraded:       res.Degraded,
	}
}

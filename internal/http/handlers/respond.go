package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newsklad/backend/internal/accounts"
)

type APIError struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	RequestID string      `json:"requestId,omitempty"`
	Details   interface{} `json:"details,omitempty"`
}

func requestIDFrom(ctx *gin.Context) string {
	if s := ctx.GetString("request_id"); s != "" {
		return s
	}

	// fallback header
	return ctx.GetHeader("X-Request-Id")
}

func RespondOK(ctx *gin.Context, message string, data interface{}) {
	ctx.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": message,
		"data":    data,
	})
}

func RespondError(ctx *gin.Context, status int, code, message string, details interface{}) {
	ctx.JSON(status, gin.H{
		"success": false,
		"message": message,
		"error": APIError{
			Code:      code,
			Message:   message,
			RequestID: requestIDFrom(ctx),
			Details:   details,
		},
	})
}

func RespondBadRequest(ctx *gin.Context, message string, details interface{}) {
	RespondError(ctx, http.StatusBadRequest, "invalid_request", message, details)
}

func RespondNotFound(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusNotFound, "not_found", message, gin.H{"path": ctx.Request.URL.Path})
}

func RespondInternal(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusInternalServerError, "internal_error", message, nil)
}

// StatusFor maps a service failure kind to its HTTP status.
func StatusFor(kind accounts.Kind) int {
	switch kind {
	case accounts.KindValidation, accounts.KindInvalidCode, accounts.KindCodeExpired:
		return http.StatusBadRequest
	case accounts.KindInvalidCredentials, accounts.KindInvalidToken, accounts.KindTokenExpired:
		return http.StatusUnauthorized
	case accounts.KindEmailNotVerified:
		return http.StatusForbidden
	case accounts.KindConflict:
		return http.StatusConflict
	case accounts.KindStoreUnavailable, accounts.KindPinDeliveryFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RespondServiceError writes the envelope for an error returned by the
// accounts service. Only the caller-safe message is exposed.
func RespondServiceError(ctx *gin.Context, err error) {
	kind := accounts.KindOf(err)
	status := StatusFor(kind)

	var aerr *accounts.Error
	if !errors.As(err, &aerr) || kind == accounts.KindInternal {
		_ = ctx.Error(err)
		RespondError(ctx, status, string(accounts.KindInternal), "Internal server error", nil)
		return
	}

	var details interface{}
	if len(aerr.Fields) > 0 {
		details = gin.H{"fields": aerr.Fields}
	}

	if status == http.StatusServiceUnavailable {
		ctx.Header("Retry-After", "30")
	}

	RespondError(ctx, status, string(aerr.Kind), aerr.Message, details)
}

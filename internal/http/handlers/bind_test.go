package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/newsklad/backend/internal/accounts"
	"github.com/newsklad/backend/internal/http/handlers"
	"github.com/newsklad/backend/internal/http/middlewares"
)

type bindErrorResponse struct {
	Success bool `json:"success"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details struct {
			JSON   string                `json:"json"`
			Field  string                `json:"field"`
			Fields []accounts.FieldError `json:"fields"`
		} `json:"details"`
	} `json:"error"`
}

func bindRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(middlewares.MaxBodyBytes(64))
	r.POST("/login", func(ctx *gin.Context) {
		var req accounts.LoginInput
		if !handlers.BindJSON(ctx, &req) {
			return
		}
		ctx.Status(http.StatusNoContent)
	})
	return r
}

func postBody(r *gin.Engine, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBindError(t *testing.T, w *httptest.ResponseRecorder) bindErrorResponse {
	t.Helper()

	var resp bindErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal error response: %v body=%s", err, w.Body.String())
	}
	if resp.Success {
		t.Fatalf("error envelope must carry success=false")
	}
	return resp
}

func TestBindJSON_TypeMismatchUsesJSONFieldName(t *testing.T) {
	w := postBody(bindRouter(), `{"email":123}`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want %d, body=%s", w.Code, http.StatusBadRequest, w.Body.String())
	}

	resp := decodeBindError(t, w)

	if resp.Error.Details.JSON != "invalid_json_type" {
		t.Fatalf("unexpected json error kind: %q", resp.Error.Details.JSON)
	}
	if resp.Error.Details.Field != "email" {
		t.Fatalf("unexpected field: %q", resp.Error.Details.Field)
	}
	if len(resp.Error.Details.Fields) != 1 || resp.Error.Details.Fields[0].Rule != "type" {
		t.Fatalf("unexpected fields: %+v", resp.Error.Details.Fields)
	}
}

func TestBindJSON_SyntaxError(t *testing.T) {
	w := postBody(bindRouter(), `{"email":`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want %d", w.Code, http.StatusBadRequest)
	}
	if got := decodeBindError(t, w).Error.Details.JSON; got != "invalid_json_syntax" {
		t.Fatalf("unexpected json error kind: %q", got)
	}
}

func TestBindJSON_EmptyBody(t *testing.T) {
	w := postBody(bindRouter(), ``)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want %d", w.Code, http.StatusBadRequest)
	}
	if got := decodeBindError(t, w).Error.Details.JSON; got != "empty_body" {
		t.Fatalf("unexpected json error kind: %q", got)
	}
}

func TestBindJSON_BodyTooLarge(t *testing.T) {
	w := postBody(bindRouter(), `{"email":"`+strings.Repeat("a", 200)+`"}`)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("got status %d, want %d", w.Code, http.StatusRequestEntityTooLarge)
	}
}

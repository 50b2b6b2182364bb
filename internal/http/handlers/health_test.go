package handlers_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/newsklad/backend/internal/http/handlers"
)

type fakePinger struct {
	calls int
	err   error
}

func (p *fakePinger) Ping(context.Context) error {
	p.calls++
	return p.err
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{name: "store answers", wantCode: http.StatusOK},
		{name: "store down", err: errors.New("down"), wantCode: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePinger{err: tt.err}
			h := handlers.NewHealthHandler(p, handlers.ServiceInfo{StoreMode: "postgres"})

			r := gin.New()
			r.GET("/readyz", h.Readyz)

			for i := 0; i < 3; i++ {
				w := httptest.NewRecorder()
				r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
				if w.Code != tt.wantCode {
					t.Fatalf("expected %d, got %d", tt.wantCode, w.Code)
				}
			}

			if p.calls != 1 {
				t.Fatalf("expected readiness to be cached, pinged %d times", p.calls)
			}
		})
	}
}

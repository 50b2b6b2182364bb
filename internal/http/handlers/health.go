package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/newsklad/backend/internal/cache"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type ServiceInfo struct {
	Name        string
	Version     string
	Environment string
	// StoreMode is "postgres", "memory" or "fail".
	StoreMode string
}

type HealthHandler struct {
	store   Pinger
	info    ServiceInfo
	started time.Time
	ready   *cache.Cache[error]
}

// create a new instance of the health handler
func NewHealthHandler(store Pinger, info ServiceInfo) *HealthHandler {
	return &HealthHandler{
		store:   store,
		info:    info,
		started: time.Now(),
		ready:   cache.New[error](2 * time.Second),
	}
}

func (h *HealthHandler) Root(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"message":     "Newsklad Backend API is running",
		"version":     h.info.Version,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"environment": h.info.Environment,
	})
}

func (h *HealthHandler) Health(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"uptime":    time.Since(h.started).Seconds(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.info.Version,
		"store":     h.info.StoreMode,
	})
}

func (h *HealthHandler) Healthz(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *HealthHandler) Readyz(ctx *gin.Context) {
	err := h.ready.GetOrLoad("store", func() error {
		cctx, cancel := context.WithTimeout(ctx.Request.Context(), time.Second)
		defer cancel()
		return h.store.Ping(cctx)
	})

	if err != nil {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not_ready",
			"store":  h.info.StoreMode,
		})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"status": "ready", "store": h.info.StoreMode})
}

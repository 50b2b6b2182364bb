package http

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/newsklad/backend/internal/http/handlers"
	"github.com/newsklad/backend/internal/http/middlewares"
	"github.com/newsklad/backend/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

type RouterDeps struct {
	Log  *slog.Logger
	Info handlers.ServiceInfo

	Auth   handlers.AuthService
	Tokens middlewares.TokenVerifier
	Store  handlers.Pinger

	Prom     *observability.Prom
	Gatherer prometheus.Gatherer

	// Limiter may be nil to disable rate limiting.
	Limiter        middlewares.Limiter
	AllowedOrigins []string
	MaxBodyBytes   int64
	RequestTimeout time.Duration
	Tracing        bool
}

func NewRouter(d RouterDeps) *gin.Engine {
	if d.Info.Environment != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}

	r := gin.New()

	// middleware
	r.Use(gin.Recovery())
	if d.Tracing {
		r.Use(otelgin.Middleware(d.Info.Name))
	}
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger(d.Log))
	if d.Prom != nil {
		r.Use(d.Prom.GinHandleMiddleware())
	}
	r.Use(middlewares.SecurityHeaders(d.Info.Environment == "prod" || d.Info.Environment == "production"))
	r.Use(middlewares.CORSMiddleware(d.AllowedOrigins))
	if d.MaxBodyBytes > 0 {
		r.Use(middlewares.MaxBodyBytes(d.MaxBodyBytes))
	}

	// health
	h := handlers.NewHealthHandler(d.Store, d.Info)
	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)

	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	authHandler := handlers.NewAuthHandler(d.Auth, d.RequestTimeout)
	authMW := middlewares.NewAuthMiddleware(d.Tokens)

	api := r.Group("/api/auth")
	if d.Limiter != nil {
		api.Use(middlewares.RateLimit(d.Limiter, middlewares.KeyByRouteAndIP, d.Log))
	}

	api.POST("/register", middlewares.RequireJSON(), authHandler.Register)
	api.POST("/login", middlewares.RequireJSON(), authHandler.Login)
	api.POST("/login/confirm", middlewares.RequireJSON(), authHandler.ConfirmLogin)
	api.POST("/verify-email", middlewares.RequireJSON(), authHandler.VerifyEmail)
	api.GET("/me", authMW.RequireAuth(), authHandler.Me)

	r.NoRoute(func(ctx *gin.Context) {
		handlers.RespondNotFound(ctx, "Endpoint not found")
	})

	return r
}

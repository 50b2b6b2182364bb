package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/newsklad/backend/internal/accounts"
	"github.com/newsklad/backend/internal/auth"
	"github.com/newsklad/backend/internal/config"
	"github.com/newsklad/backend/internal/db"
	httpx "github.com/newsklad/backend/internal/http"
	"github.com/newsklad/backend/internal/http/handlers"
	"github.com/newsklad/backend/internal/http/middlewares"
	"github.com/newsklad/backend/internal/notifications"
	"github.com/newsklad/backend/internal/observability"
	"github.com/newsklad/backend/internal/redisclient"
	"github.com/newsklad/backend/internal/security"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	// a missing .env is fine; real deployments use the environment
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	log := observability.NewLogger(cfg.Env)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		shutdownTracer, err := observability.InitTracer(ctx, observability.TracingConfig{
			ServiceName: cfg.ServiceName,
			Environment: cfg.Env,
			Endpoint:    cfg.Tracing.Endpoint,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := config.WithTimeout(5 * time.Second)
			defer cancel()
			_ = shutdownTracer(sctx)
		}()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := observability.NewProm(reg)

	sh, err := openStore(ctx, cfg, log, prom)
	if err != nil {
		return err
	}
	defer sh.close()

	hasher, err := security.NewBcryptHasher(cfg.BcryptCost)
	if err != nil {
		return err
	}

	tokens, err := auth.NewManager(cfg.JWTSecret, cfg.JWTTTL, auth.WithIssuer(cfg.JWTIssuer))
	if err != nil {
		return err
	}

	notifier, err := buildNotifier(cfg, log)
	if err != nil {
		return err
	}

	svc, err := accounts.NewService(accounts.Deps{
		Store:    sh.store,
		Hasher:   hasher,
		Tokens:   tokens,
		Codes:    security.NewCodeGenerator(),
		Notifier: notifier,
		Policy: accounts.Policy{
			RequireVerificationBeforeToken: cfg.RequireVerificationBeforeToken,
			VerificationTTL:                cfg.VerificationTTL,
			RequireLoginPin:                cfg.LoginPin.Required,
			PinTTL:                         cfg.LoginPin.TTL,
			PinMaxAttempts:                 cfg.LoginPin.MaxAttempts,
			PinDigits:                      cfg.LoginPin.Digits,
		},
		Log:  log,
		Prom: prom,
	})
	if err != nil {
		return err
	}

	seedCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	created, err := db.EnsureAdminUser(seedCtx, sh.store, hasher, db.AdminSeed{
		Email:     cfg.Admin.Email,
		Password:  cfg.Admin.Password,
		FirstName: cfg.Admin.FirstName,
		LastName:  cfg.Admin.LastName,
	})
	cancel()
	if err != nil {
		// not fatal: the API is still useful without the seed account
		log.Warn("admin seed failed", "err", err)
	} else if created {
		log.Info("admin user created", "email", cfg.Admin.Email)
	}

	limiter, closeLimiter := buildLimiter(ctx, cfg, log)
	defer closeLimiter()

	router := httpx.NewRouter(httpx.RouterDeps{
		Log: log,
		Info: handlers.ServiceInfo{
			Name:        cfg.ServiceName,
			Version:     cfg.Version,
			Environment: cfg.Env,
			StoreMode:   sh.mode,
		},
		Auth:           svc,
		Tokens:         tokens,
		Store:          sh.store,
		Prom:           prom,
		Gatherer:       reg,
		Limiter:        limiter,
		AllowedOrigins: cfg.FrontendURLs,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		RequestTimeout: 15 * time.Second,
		Tracing:        cfg.Tracing.Enabled,
	})

	// server set up
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		log.Info("server starting", "port", cfg.Port, "env", cfg.Env, "store", sh.mode)
		err := srv.ListenAndServe()

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("server shutting down")

	shutdownCtx, cancelShutdown := config.WithTimeout(10 * time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "err", err)
		return err
	}

	log.Info("shutdown complete")
	return nil
}

func buildNotifier(cfg config.Config, log *slog.Logger) (notifications.Notifier, error) {
	var inner notifications.Notifier = notifications.NewLogNotifier(log)

	if cfg.Email.Enabled() {
		smtp, err := notifications.NewSMTPNotifier(notifications.SMTPConfig{
			Provider:    cfg.Email.Provider,
			Host:        cfg.Email.SMTPHost,
			Port:        cfg.Email.SMTPPort,
			Secure:      cfg.Email.Secure,
			User:        cfg.Email.User,
			Password:    cfg.Email.Password,
			FromName:    cfg.Email.FromName,
			FrontendURL: firstOr(cfg.FrontendURLs, "http://localhost:3000"),
			LinkTTL:     cfg.VerificationTTL,
			PinTTL:      cfg.LoginPin.TTL,
		}, log)
		if err != nil {
			return nil, err
		}

		rctx, cancel := config.WithTimeout(cfg.Notifier.Timeout)
		if err := smtp.Ready(rctx); err != nil {
			log.Warn("email transport not reachable at startup", "provider", cfg.Email.Provider, "err", err)
		} else {
			log.Info("email transport ready", "provider", cfg.Email.Provider)
		}
		cancel()

		inner = smtp
	} else {
		log.Warn("email delivery disabled; verification mail will not be sent")
	}

	return notifications.NewProtectedNotifier(inner, notifications.ProtectedNotifierConfig{
		Timeout:          cfg.Notifier.Timeout,
		FailureThreshold: cfg.Notifier.FailureThreshold,
		Cooldown:         cfg.Notifier.Cooldown,
	}), nil
}

// buildLimiter prefers Redis so limits hold across instances and falls back
// to process memory when Redis is absent or unreachable.
func buildLimiter(ctx context.Context, cfg config.Config, log *slog.Logger) (middlewares.Limiter, func()) {
	if cfg.RateLimit.Limit <= 0 {
		return nil, func() {}
	}

	if cfg.Redis.Addr != "" {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()

		rc, err := redisclient.Connect(pctx, redisclient.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err == nil {
			log.Info("rate limiter using redis", "addr", cfg.Redis.Addr)
			return middlewares.NewRedisLimiter(rc.Raw(), cfg.RateLimit.Limit, cfg.RateLimit.Window), func() { _ = rc.Close() }
		}
		log.Warn("redis unreachable; rate limiting per instance", "err", err)
	}

	return middlewares.NewRateLimiter(cfg.RateLimit.Limit, cfg.RateLimit.Window), func() {}
}

func firstOr(values []string, fallback string) string {
	if len(values) > 0 && values[0] != "" {
		return values[0]
	}
	return fallback
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/newsklad/backend/internal/accounts"
	"github.com/newsklad/backend/internal/config"
	"github.com/newsklad/backend/internal/db"
	"github.com/newsklad/backend/internal/observability"
	"github.com/newsklad/backend/internal/repo"
	"github.com/newsklad/backend/internal/repo/memory"
	"github.com/newsklad/backend/internal/repo/offline"
	"github.com/newsklad/backend/internal/repo/postgres"
)

type credentialStore interface {
	accounts.Store
	Ping(ctx context.Context) error
}

type storeHandle struct {
	store credentialStore
	mode  string
	close func()
}

// openStore resolves the credential store once at startup. When no candidate
// answers, the configured degraded mode decides between an in-memory stand-in
// and a store that refuses every call.
func openStore(ctx context.Context, cfg config.Config, log *slog.Logger, prom *observability.Prom) (storeHandle, error) {
	candidates, err := cfg.DB.Descriptors()
	if err != nil {
		return storeHandle{}, err
	}

	est := db.NewEstablisher[*pgxpool.Pool](db.NewPgxDialer(cfg.DB.MaxConns), cfg.DB.EstablishOptions(), log, prom)

	res, err := est.Establish(ctx, candidates)
	if err == nil {
		pool := res.Handle

		if cfg.DB.Migrate {
			if err := db.Migrate(ctx, pool); err != nil {
				pool.Close()
				return storeHandle{}, fmt.Errorf("migrate %s: %w", res.Selected, err)
			}
			log.Info("migrations applied", "candidate", res.Selected.String())
		}

		return storeHandle{
			store: postgres.NewUsersRepo(pool, prom),
			mode:  "postgres",
			close: pool.Close,
		}, nil
	}

	if !errors.Is(err, repo.ErrStoreUnavailable) {
		return storeHandle{}, err
	}

	switch cfg.DegradedMode {
	case config.DegradedMemory:
		log.Warn("no database reachable; using in-memory credential store, accounts will not survive a restart", "err", err)
		return storeHandle{store: memory.NewUsersRepo(), mode: config.DegradedMemory, close: func() {}}, nil
	default:
		log.Error("no database reachable; auth endpoints will answer 503 until restart", "err", err)
		return storeHandle{store: offline.NewUsersRepo(), mode: config.DegradedFail, close: func() {}}, nil
	}
}

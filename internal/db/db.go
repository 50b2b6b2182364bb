package db

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const probeSQL = `SELECT NOW() AS server_time, version() AS version`

// PgxDialer opens pgx pools for store candidates.
type PgxDialer struct {
	maxConns int32
}

func NewPgxDialer(maxConns int32) *PgxDialer {
	if maxConns <= 0 {
		maxConns = 5
	}
	return &PgxDialer{maxConns: maxConns}
}

func (p *PgxDialer) Dial(ctx context.Context, d Descriptor) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(d.DSN())

	if err != nil {
		return nil, err
	}

	cfg.MaxConns = p.maxConns

	if deadline, ok := ctx.Deadline(); ok {
		cfg.ConnConfig.ConnectTimeout = time.Until(deadline)
	}

	return pgxpool.NewWithConfig(ctx, cfg)
}

func (p *PgxDialer) Probe(ctx context.Context, pool *pgxpool.Pool) (ProbeResult, error) {
	var res ProbeResult
	var version string

	err := pool.QueryRow(ctx, probeSQL).Scan(&res.ServerTime, &version)
	if err != nil {
		return ProbeResult{}, err
	}

	res.Version = shortVersion(version)
	return res, nil
}

func (p *PgxDialer) Release(pool *pgxpool.Pool) {
	if pool != nil {
		pool.Close()
	}
}

// shortVersion trims "PostgreSQL 16.2 on x86_64-pc-linux-gnu, ..." to "PostgreSQL 16.2".
func shortVersion(v string) string {
	fields := strings.Fields(v)
	if len(fields) >= 2 {
		return fields[0] + " " + fields[1]
	}
	return v
}

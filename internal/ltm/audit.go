package ltm

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"agentmemory/internal/config"
	"agentmemory/internal/observability"
)

// AuditMirror is an optional Postgres sink recording every index/merge
// decision the engine makes, following the pgxpool connection-and-schema
// pattern of internal/auth.Store. It is best effort: a query failure is
// logged, never returned, since audit logging must never block the write
// path it is mirroring.
type AuditMirror struct {
	pool *pgxpool.Pool
}

// NewAuditMirror connects to Postgres and ensures its table exists. Returns
// (nil, nil) when cfg.DSN is empty, disabling the mirror.
func NewAuditMirror(ctx context.Context, cfg config.PostgresConfig) (*AuditMirror, error) {
	if cfg.DSN == "" {
		return nil, nil
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS memory_audit_log (
  id BIGSERIAL PRIMARY KEY,
  record_id TEXT NOT NULL,
  decision TEXT NOT NULL,
  detail TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`); err != nil {
		pool.Close()
		return nil, err
	}
	return &AuditMirror{pool: pool}, nil
}

// Record writes one audit row. A nil *AuditMirror is safe to call; it no-ops,
// matching the RerankSink's optional-backend pattern.
func (a *AuditMirror) Record(ctx context.Context, recordID, decision, detail string) {
	if a == nil || a.pool == nil {
		return
	}
	go func() {
		writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := a.pool.Exec(writeCtx,
			`INSERT INTO memory_audit_log (record_id, decision, detail) VALUES ($1, $2, $3)`,
			recordID, decision, detail); err != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Str("record_id", recordID).Msg("audit_mirror_write_failed")
		}
	}()
}

// Close releases the underlying pool.
func (a *AuditMirror) Close() {
	if a == nil || a.pool == nil {
		return
	}
	a.pool.Close()
}

// Package analytics provides the optional ClickHouse sink named in
// SPEC_FULL.md's C9 expansion: an append-only record of
// (query, candidate_id, semantic, recency, final, rank) tuples per search,
// for offline analysis of recency re-ranker weight tuning. It is fire-and-
// forget and never blocks the search response, following the connection
// setup of the teacher's internal/agentd/metrics_clickhouse.go adapted to
// this service's RerankSink shape instead of token-usage metrics.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"agentmemory/internal/config"
	"agentmemory/internal/observability"
	"agentmemory/internal/rerank"
)

const createRerankEventsTable = `
CREATE TABLE IF NOT EXISTS rerank_events (
	queried_at   DateTime64(3),
	query_text   String,
	candidate_id String,
	semantic     Float64,
	recency      Float64,
	final        Float64,
	rank         UInt32
) ENGINE = MergeTree()
ORDER BY (queried_at, query_text)
TTL toDateTime(queried_at) + INTERVAL 90 DAY
`

// RerankSink records recency re-ranker score tuples for offline weight
// tuning. A nil *RerankSink (returned when ClickHouse is unconfigured) is
// safe to call Record on; it is a no-op, matching the teacher's pattern of
// optional observability backends degrading to nothing when unconfigured.
type RerankSink struct {
	conn clickhouse.Conn
}

// NewRerankSink connects to ClickHouse and ensures the sink table exists.
// Returns (nil, nil) when cfg.Addr is empty, disabling the sink.
func NewRerankSink(ctx context.Context, cfg config.ClickHouseConfig) (*RerankSink, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse connection: %w", err)
	}
	if err := conn.Exec(ctx, createRerankEventsTable); err != nil {
		return nil, fmt.Errorf("ensure rerank_events table: %w", err)
	}
	return &RerankSink{conn: conn}, nil
}

// Record writes one row per scored candidate, fire-and-forget: errors are
// logged, never returned, since this sink must never block a search
// response (SPEC_FULL.md's C9 expansion).
func (s *RerankSink) Record(ctx context.Context, queryText string, scored []rerank.Scored) {
	if s == nil || s.conn == nil || len(scored) == 0 {
		return
	}
	go func() {
		writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		batch, err := s.conn.PrepareBatch(writeCtx, "INSERT INTO rerank_events")
		if err != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("rerank_sink_prepare_batch_failed")
			return
		}
		now := time.Now().UTC()
		for rank, sc := range scored {
			if err := batch.Append(now, queryText, sc.Record.ID, sc.Semantic, sc.Recency, sc.Final, uint32(rank)); err != nil {
				observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("rerank_sink_append_failed")
				return
			}
		}
		if err := batch.Send(); err != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("rerank_sink_send_failed")
		}
	}()
}

// Close releases the underlying connection.
func (s *RerankSink) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// Package vectorstore defines the VectorStoreAdapter capability (C2): the
// single mutator of long-term memory state (spec §5), responsible for
// vector + filtered search over MemoryRecords. Any backend satisfying
// Adapter is acceptable; this package ships a Qdrant-backed implementation
// and an in-memory one for tests and for running the service without a
// deployed vector store.
package vectorstore

import (
	"context"

	"agentmemory/internal/model"
)

// Query is the request shape VectorStoreAdapter.Search accepts.
type Query struct {
	Vector            []float32 // nil skips semantic scoring; filters still apply
	Filters           []model.Filter
	Limit             int
	Offset            int
	DistanceThreshold *float64
}

// Result is one search hit before recency re-ranking.
type Result struct {
	Record model.MemoryRecord
	Dist   float64
}

// Results is the response shape of Search.
type Results struct {
	Memories   []Result
	Total      int
	NextOffset *int
}

// Adapter is the VectorStoreAdapter capability of spec §4.2.
type Adapter interface {
	// Index stores records, idempotent by id. It assigns no persisted_at:
	// MemoryRecord has no such field.
	Index(ctx context.Context, records []model.MemoryRecord) ([]model.MemoryRecord, error)
	// IndexWithVectors is Index with caller-supplied embeddings, one per
	// record in the same order; a nil entry stores a zero vector. The
	// Long-Term Memory Engine (C8) always calls this variant so the
	// adapter itself stays free of a ModelClient dependency (spec §4.2).
	IndexWithVectors(ctx context.Context, records []model.MemoryRecord, vectors [][]float32) ([]model.MemoryRecord, error)
	// Update partially updates records by id; unspecified fields are left
	// alone.
	Update(ctx context.Context, records []model.MemoryRecord) error
	// Delete removes records by id, returning the count actually removed.
	Delete(ctx context.Context, ids []string) (int, error)
	// Search returns matches ordered ascending by Dist, stable by id on
	// ties.
	Search(ctx context.Context, q Query) (Results, error)
	// GetByID fetches records by id; missing ids are simply absent from the
	// result, not an error.
	GetByID(ctx context.Context, ids []string) ([]model.MemoryRecord, error)
}

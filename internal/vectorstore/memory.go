package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"agentmemory/internal/model"
)

// MemoryAdapter is an in-process Adapter backed by brute-force cosine
// distance, useful for tests and for running the service without a
// deployed vector store.
type MemoryAdapter struct {
	mu      sync.RWMutex
	records map[string]model.MemoryRecord
	vectors map[string][]float32
}

// NewMemoryAdapter builds an empty MemoryAdapter.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		records: make(map[string]model.MemoryRecord),
		vectors: make(map[string][]float32),
	}
}

func (m *MemoryAdapter) Index(ctx context.Context, records []model.MemoryRecord) ([]model.MemoryRecord, error) {
	return m.IndexWithVectors(ctx, records, nil)
}

// IndexWithVectors stores records with caller-supplied embeddings, mirroring
// QdrantAdapter's signature so callers can swap adapters freely.
func (m *MemoryAdapter) IndexWithVectors(ctx context.Context, records []model.MemoryRecord, vectors [][]float32) ([]model.MemoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.MemoryRecord, len(records))
	for i, r := range records {
		m.records[r.ID] = r.Clone()
		if i < len(vectors) {
			m.vectors[r.ID] = vectors[i]
		}
		out[i] = r
	}
	return out, nil
}

func (m *MemoryAdapter) Update(ctx context.Context, records []model.MemoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		m.records[r.ID] = r.Clone()
	}
	return nil
}

func (m *MemoryAdapter) Delete(ctx context.Context, ids []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, id := range ids {
		if _, ok := m.records[id]; ok {
			delete(m.records, id)
			delete(m.vectors, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryAdapter) GetByID(ctx context.Context, ids []string) ([]model.MemoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.MemoryRecord, 0, len(ids))
	for _, id := range ids {
		if r, ok := m.records[id]; ok {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (m *MemoryAdapter) Search(ctx context.Context, q Query) (Results, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []Result
	for id, r := range m.records {
		if !matchesFilters(r, q.Filters) {
			continue
		}
		dist := 0.0
		if q.Vector != nil {
			dist = cosineDistance(q.Vector, m.vectors[id])
		}
		if q.DistanceThreshold != nil && dist > *q.DistanceThreshold {
			continue
		}
		matches = append(matches, Result{Record: r.Clone(), Dist: dist})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Dist != matches[j].Dist {
			return matches[i].Dist < matches[j].Dist
		}
		return matches[i].Record.ID < matches[j].Record.ID
	})

	total := len(matches)
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	start := q.Offset
	if start > len(matches) {
		start = len(matches)
	}
	end := start + limit
	if end > len(matches) {
		end = len(matches)
	}
	page := append([]Result(nil), matches[start:end]...)

	var next *int
	if total > end {
		next = &end
	}
	return Results{Memories: page, Total: total, NextOffset: next}, nil
}

func cosineDistance(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if cos > 1 {
		cos = 1
	}
	if cos < -1 {
		cos = -1
	}
	return 1 - cos
}

func matchesFilters(r model.MemoryRecord, filters []model.Filter) bool {
	for _, f := range filters {
		if !matchesFilter(r, f) {
			return false
		}
	}
	return true
}

func matchesFilter(r model.MemoryRecord, f model.Filter) bool {
	switch f.Field {
	case model.FieldSessionID:
		return matchScalar(r.SessionID, f)
	case model.FieldNamespace:
		return matchScalar(r.Namespace, f)
	case model.FieldUserID:
		return matchScalar(r.UserID, f)
	case model.FieldMemoryType:
		return matchScalar(string(r.MemoryType), f)
	case model.FieldDiscreteMemoryExtracted:
		return matchScalar(string(r.DiscreteMemoryExtracted), f)
	case model.FieldTopics:
		return matchSet(r.Topics, f)
	case model.FieldEntities:
		return matchSet(r.Entities, f)
	case model.FieldCreatedAt:
		return matchTime(r.CreatedAt, f)
	case model.FieldLastAccessed:
		return matchTime(r.LastAccessed, f)
	case model.FieldEventDate:
		if r.EventDate == nil {
			return false
		}
		return matchTime(*r.EventDate, f)
	default:
		return true
	}
}

func matchScalar(v string, f model.Filter) bool {
	switch f.Op {
	case model.OpEq:
		return v == toString(f.Value)
	case model.OpNe:
		return v != toString(f.Value)
	case model.OpAnyOf:
		for _, item := range toSlice(f.Value) {
			if v == toString(item) {
				return true
			}
		}
		return false
	case model.OpNoneOf:
		for _, item := range toSlice(f.Value) {
			if v == toString(item) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

func matchSet(values []string, f model.Filter) bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	switch f.Op {
	case model.OpAnyOf:
		for _, item := range toSlice(f.Value) {
			if set[toString(item)] {
				return true
			}
		}
		return false
	case model.OpNoneOf:
		for _, item := range toSlice(f.Value) {
			if set[toString(item)] {
				return false
			}
		}
		return true
	default:
		return true
	}
}

func matchTime(t time.Time, f model.Filter) bool {
	switch f.Op {
	case model.OpEq:
		return t.Equal(toTime(f.Value))
	case model.OpGt:
		return t.After(toTime(f.Value))
	case model.OpGte:
		return !t.Before(toTime(f.Value))
	case model.OpLt:
		return t.Before(toTime(f.Value))
	case model.OpLte:
		return !t.After(toTime(f.Value))
	case model.OpBetween:
		bounds := toSlice(f.Value)
		if len(bounds) != 2 {
			return false
		}
		lo, hi := toTime(bounds[0]), toTime(bounds[1])
		return !t.Before(lo) && !t.After(hi)
	default:
		return true
	}
}

func toTime(v any) time.Time {
	switch val := v.(type) {
	case time.Time:
		return val
	case string:
		if t, err := time.Parse(time.RFC3339, val); err == nil {
			return t
		}
	}
	return time.Time{}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func toSlice(v any) []any {
	if s, ok := v.([]any); ok {
		return s
	}
	return nil
}

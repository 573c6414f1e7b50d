package vectorstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"agentmemory/internal/model"
)

func TestMemoryAdapter_IndexAndSearch(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryAdapter()

	now := time.Now().UTC()
	rec := model.MemoryRecord{
		ID: "a", Text: "User likes tea", MemoryType: model.MemoryTypeSemantic,
		UserID: "u1", Namespace: "ns", CreatedAt: now, UpdatedAt: now, LastAccessed: now,
	}
	_, err := a.IndexWithVectors(ctx, []model.MemoryRecord{rec}, [][]float32{{1, 0, 0}})
	require.NoError(t, err)

	res, err := a.Search(ctx, Query{Vector: []float32{1, 0, 0}, Limit: 10})
	require.NoError(t, err)
	require.Len(t, res.Memories, 1)
	require.InDelta(t, 0, res.Memories[0].Dist, 1e-9)
}

func TestMemoryAdapter_DeleteRemovesRecord(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryAdapter()
	rec := model.MemoryRecord{ID: "a", Text: "x"}
	_, err := a.Index(ctx, []model.MemoryRecord{rec})
	require.NoError(t, err)

	n, err := a.Delete(ctx, []string{"a"})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := a.GetByID(ctx, []string{"a"})
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestMemoryAdapter_UpdateLeavesVectorUntouched(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryAdapter()
	rec := model.MemoryRecord{ID: "a", Text: "User likes tea", Pinned: false}
	_, err := a.IndexWithVectors(ctx, []model.MemoryRecord{rec}, [][]float32{{1, 0, 0}})
	require.NoError(t, err)

	rec.Pinned = true
	err = a.Update(ctx, []model.MemoryRecord{rec})
	require.NoError(t, err)

	res, err := a.Search(ctx, Query{Vector: []float32{1, 0, 0}, Limit: 10})
	require.NoError(t, err)
	require.Len(t, res.Memories, 1)
	require.True(t, res.Memories[0].Record.Pinned, "payload fields should update")
	require.InDelta(t, 0, res.Memories[0].Dist, 1e-9, "vector must survive a payload-only update")
}

func TestMemoryAdapter_FiltersAreANDed(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryAdapter()
	_, err := a.Index(ctx, []model.MemoryRecord{
		{ID: "a", Text: "x", UserID: "u1", Namespace: "ns"},
		{ID: "b", Text: "y", UserID: "u2", Namespace: "ns"},
	})
	require.NoError(t, err)

	res, err := a.Search(ctx, Query{Limit: 10, Filters: []model.Filter{
		{Field: model.FieldNamespace, Op: model.OpEq, Value: "ns"},
		{Field: model.FieldUserID, Op: model.OpEq, Value: "u1"},
	}})
	require.NoError(t, err)
	require.Len(t, res.Memories, 1)
	require.Equal(t, "a", res.Memories[0].Record.ID)
}

// Package rerank implements the Recency Re-Ranker (C9): fusion of semantic
// distance with time-decay freshness/novelty signals (spec §4.9). The sink
// described in SPEC_FULL.md's C9 expansion (an optional ClickHouse table of
// per-candidate score tuples) lives in internal/analytics; this package
// stays a pure function over already-fetched candidates so it has no
// external dependencies of its own, matching the Prompt Hydrator's (C11)
// purity requirement.
package rerank

import (
	"math"
	"sort"
	"time"

	"agentmemory/internal/config"
	"agentmemory/internal/model"
	"agentmemory/internal/vectorstore"
)

// Scored carries the intermediate per-candidate scores, useful to the
// optional analytics sink (C9 expansion) without recomputing them.
type Scored struct {
	Record     model.MemoryRecord
	Dist       float64
	Semantic   float64
	Freshness  float64
	Novelty    float64
	Recency    float64
	Final      float64
	OrigRank   int
}

func resolveWeights(w *model.RerankWeights, defaults config.RerankWeightsConfig) config.RerankWeightsConfig {
	out := defaults
	if w == nil {
		return out
	}
	if w.Semantic != 0 {
		out.Semantic = w.Semantic
	}
	if w.Recency != 0 {
		out.Recency = w.Recency
	}
	if w.Freshness != 0 {
		out.Freshness = w.Freshness
	}
	if w.Novelty != 0 {
		out.Novelty = w.Novelty
	}
	return out
}

func ageDays(t time.Time, now time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	d := now.Sub(t)
	if d < 0 {
		d = 0
	}
	return d.Hours() / 24
}

func halfLifeDecay(ageInDays, halfLifeDays float64) float64 {
	if halfLifeDays <= 0 {
		return 1
	}
	return math.Exp(-math.Ln2 * ageInDays / halfLifeDays)
}

// Rerank fuses each candidate's semantic distance with freshness/novelty
// decay (spec §4.9), sorts descending by the fused score (stable by
// original position, as required by spec §8 testable property 4), and
// returns records annotated with Final. Pinned records get the configured
// bonus added after fusion.
func Rerank(candidates []vectorstore.Result, overrides *model.RerankWeights, defaults config.RerankWeightsConfig, now time.Time) []Scored {
	w := resolveWeights(overrides, defaults)
	hlAccess := w.HalfLifeAccessDays
	if hlAccess <= 0 {
		hlAccess = 7
	}
	hlCreate := w.HalfLifeCreateDays
	if hlCreate <= 0 {
		hlCreate = 30
	}
	wSum := w.Freshness + w.Novelty
	if wSum == 0 {
		wSum = 1
	}

	scored := make([]Scored, len(candidates))
	for i, c := range candidates {
		semantic := 1 - c.Dist/2
		freshness := halfLifeDecay(ageDays(c.Record.LastAccessed, now), hlAccess)
		novelty := halfLifeDecay(ageDays(c.Record.CreatedAt, now), hlCreate)
		recency := (w.Freshness*freshness + w.Novelty*novelty) / wSum
		final := w.Semantic*semantic + w.Recency*recency
		if c.Record.Pinned {
			final += w.PinnedBonus
		}
		scored[i] = Scored{
			Record:    c.Record,
			Dist:      c.Dist,
			Semantic:  semantic,
			Freshness: freshness,
			Novelty:   novelty,
			Recency:   recency,
			Final:     final,
			OrigRank:  i,
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Final > scored[j].Final
	})
	return scored
}

// ToScoredRecords maps Rerank's output to the API-facing model.ScoredRecord
// shape, truncated to limit.
func ToScoredRecords(scored []Scored, limit int) []model.ScoredRecord {
	if limit > 0 && limit < len(scored) {
		scored = scored[:limit]
	}
	out := make([]model.ScoredRecord, len(scored))
	for i, s := range scored {
		final := s.Final
		out[i] = model.ScoredRecord{
			MemoryRecord: s.Record,
			Dist:         s.Dist,
			Final:        &final,
		}
	}
	return out
}

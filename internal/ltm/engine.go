// Package ltm implements the Long-Term Memory Engine (C8): the orchestrator
// tying the VectorStoreAdapter (C2), ModelClient (C3), Deduplicator (C7),
// Extractor (C6), Recency Re-Ranker (C9), and Task Runner (C10) together
// into the index/search/delete/edit pipeline of spec §4.6. It follows the
// teacher's internal/sefii package's role as the orchestration layer sitting
// above a storage adapter and an embedding client.
package ltm

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"agentmemory/internal/analytics"
	"agentmemory/internal/apierr"
	"agentmemory/internal/config"
	"agentmemory/internal/dedup"
	"agentmemory/internal/extractor"
	"agentmemory/internal/llm"
	"agentmemory/internal/model"
	"agentmemory/internal/observability"
	"agentmemory/internal/rerank"
	"agentmemory/internal/taskrunner"
	"agentmemory/internal/vectorstore"
)

// Deps wires every capability the engine needs. Audit and Analytics are
// optional (nil disables them); everything else is required.
type Deps struct {
	Adapter       vectorstore.Adapter
	Registry      *llm.Registry
	EmbedModel    string
	HashIndex     HashIndex
	AccessTouch   AccessTouchLimiter
	Tagger        *extractor.Tagger
	Extractor     *extractor.Extractor
	DedupJudge    *dedup.Judge
	Runner        *taskrunner.Runner
	Audit         *AuditMirror
	Analytics     *analytics.RerankSink
	Config        config.MemoryConfig
	RerankDefault config.RerankWeightsConfig
}

// Engine is the C8 capability.
type Engine struct {
	deps Deps
}

// New builds an Engine from its wired dependencies.
func New(deps Deps) *Engine {
	return &Engine{deps: deps}
}

func (e *Engine) embed(ctx context.Context, texts []string) ([][]float32, error) {
	embedder, resolvedModel, err := e.deps.Registry.ResolveEmbedder(e.deps.EmbedModel)
	if err != nil {
		return nil, apierr.InvalidInput("resolve embedding model", err)
	}
	vecs, err := embedder.Embed(ctx, texts, resolvedModel)
	if err != nil {
		return nil, apierr.Transient("embed text", err)
	}
	return vecs, nil
}

// Index implements spec §4.6's ingest pipeline: assign a sortable id, hash,
// exact-hash dedup against HashIndex, semantic dedup against near neighbors,
// tag topics/entities when missing, persist with embeddings, and schedule
// discrete-fact extraction for raw message records.
func (e *Engine) Index(ctx context.Context, records []model.MemoryRecord, deduplicate bool) ([]model.MemoryRecord, error) {
	log := observability.LoggerWithTrace(ctx)
	now := time.Now().UTC()

	out := make([]model.MemoryRecord, 0, len(records))
	toEmbed := make([]model.MemoryRecord, 0, len(records))

	for _, rec := range records {
		rec = rec.Clone()
		if rec.ID == "" {
			id, err := uuid.NewV7()
			if err != nil {
				return nil, apierr.Fatal("generate record id", err)
			}
			rec.ID = id.String()
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		rec.UpdatedAt = now
		if rec.LastAccessed.IsZero() {
			rec.LastAccessed = now
		}
		rec.MemoryHash = dedup.ComputeHash(rec.Text, rec.UserID, rec.SessionID, rec.Namespace)

		if deduplicate {
			merged, handled, err := e.dedupeOne(ctx, rec, now)
			if err != nil {
				return nil, err
			}
			if handled {
				out = append(out, merged)
				continue
			}
		}

		if (len(rec.Topics) == 0 || len(rec.Entities) == 0) && e.deps.Tagger != nil {
			topics, entities, err := e.deps.Tagger.Tag(ctx, rec.Text)
			if err != nil {
				log.Warn().Err(err).Str("record_id", rec.ID).Msg("tagging_failed")
			} else {
				if len(rec.Topics) == 0 {
					rec.Topics = topics
				}
				if len(rec.Entities) == 0 {
					rec.Entities = entities
				}
			}
		}

		out = append(out, rec)
		toEmbed = append(toEmbed, rec)
	}

	if len(toEmbed) > 0 {
		texts := make([]string, len(toEmbed))
		for i, r := range toEmbed {
			texts[i] = r.Text
		}
		vectors, err := e.embed(ctx, texts)
		if err != nil {
			return nil, err
		}
		if _, err := e.deps.Adapter.IndexWithVectors(ctx, toEmbed, vectors); err != nil {
			return nil, apierr.Transient("index records", err)
		}
		for i, r := range toEmbed {
			if err := e.deps.HashIndex.Set(ctx, r.MemoryHash, r.ID); err != nil {
				log.Warn().Err(err).Str("record_id", r.ID).Msg("hash_index_set_failed")
			}
			e.deps.Audit.Record(ctx, r.ID, "indexed", "")
			_ = i
		}
		e.scheduleExtraction(ctx, toEmbed)
	}

	return out, nil
}

// dedupeOne runs spec §4.6 step 3: exact-hash merge first, else an LLM
// semantic-judge pass against near neighbors within the configured distance
// threshold. Returns handled=true when rec was merged into an existing
// record (and should not be separately indexed).
func (e *Engine) dedupeOne(ctx context.Context, rec model.MemoryRecord, now time.Time) (model.MemoryRecord, bool, error) {
	log := observability.LoggerWithTrace(ctx)

	if existingID, ok, err := e.deps.HashIndex.Lookup(ctx, rec.MemoryHash); err != nil {
		log.Warn().Err(err).Msg("hash_index_lookup_failed")
	} else if ok {
		existing, err := e.deps.Adapter.GetByID(ctx, []string{existingID})
		if err != nil {
			return model.MemoryRecord{}, false, apierr.Transient("fetch exact-hash duplicate", err)
		}
		if len(existing) == 1 {
			merged := dedup.ExactMerge(existing[0], rec)
			if err := e.deps.Adapter.Update(ctx, []model.MemoryRecord{merged}); err != nil {
				return model.MemoryRecord{}, false, apierr.Transient("update exact-hash merge", err)
			}
			e.deps.Audit.Record(ctx, merged.ID, "exact_merge", "")
			return merged, true, nil
		}
	}

	if e.deps.DedupJudge == nil {
		return rec, false, nil
	}

	vecs, err := e.embed(ctx, []string{rec.Text})
	if err != nil || len(vecs) == 0 {
		return rec, false, nil
	}
	threshold := e.deps.Config.SemanticDupThreshold
	results, err := e.deps.Adapter.Search(ctx, vectorstore.Query{
		Vector: vecs[0],
		Filters: []model.Filter{
			{Field: model.FieldNamespace, Op: model.OpEq, Value: rec.Namespace},
			{Field: model.FieldUserID, Op: model.OpEq, Value: rec.UserID},
		},
		Limit:             5,
		DistanceThreshold: &threshold,
	})
	if err != nil {
		log.Warn().Err(err).Msg("semantic_dedup_search_failed")
		return rec, false, nil
	}
	for _, candidate := range results.Memories {
		verdict, err := e.deps.DedupJudge.Judge(ctx, candidate.Record, rec)
		if err != nil {
			log.Warn().Err(err).Msg("semantic_dedup_judge_failed")
			continue
		}
		if !verdict.Duplicate {
			continue
		}
		mergedText := verdict.MergedText
		if strings.TrimSpace(mergedText) == "" {
			mergedText = candidate.Record.Text
		}
		merged := dedup.MergeSemantic(candidate.Record, rec, mergedText, now)
		vecs, err := e.embed(ctx, []string{merged.Text})
		if err != nil {
			return model.MemoryRecord{}, false, err
		}
		if _, err := e.deps.Adapter.Delete(ctx, []string{candidate.Record.ID}); err != nil {
			return model.MemoryRecord{}, false, apierr.Transient("delete semantic-merge original", err)
		}
		if err := e.deps.HashIndex.Delete(ctx, candidate.Record.MemoryHash); err != nil {
			log.Warn().Err(err).Msg("hash_index_delete_failed")
		}
		if _, err := e.deps.Adapter.IndexWithVectors(ctx, []model.MemoryRecord{merged}, vecs); err != nil {
			return model.MemoryRecord{}, false, apierr.Transient("index semantic-merge result", err)
		}
		if err := e.deps.HashIndex.Set(ctx, merged.MemoryHash, merged.ID); err != nil {
			log.Warn().Err(err).Msg("hash_index_set_failed")
		}
		e.deps.Audit.Record(ctx, merged.ID, "semantic_merge", "")
		return merged, true, nil
	}
	return rec, false, nil
}

func (e *Engine) scheduleExtraction(ctx context.Context, records []model.MemoryRecord) {
	if e.deps.Runner == nil {
		return
	}
	log := observability.LoggerWithTrace(ctx)
	for _, r := range records {
		if r.MemoryType != model.MemoryTypeMessage || r.DiscreteMemoryExtracted == model.ExtractedTrue {
			continue
		}
		if err := e.deps.Runner.Enqueue(ctx, taskrunner.Task{
			Type:        taskrunner.TypeExtract,
			CoalesceKey: r.ID,
			Payload:     r.ID,
		}); err != nil {
			log.Warn().Err(err).Str("record_id", r.ID).Msg("schedule_extraction_failed")
		}
	}
}

// ExtractionHandler returns a taskrunner.Handler running spec §4.5's
// extract_discrete for the source record named by the task payload, indexing
// the resulting facts (with dedup) and flipping the source's
// discrete_memory_extracted flag.
func (e *Engine) ExtractionHandler() taskrunner.Handler {
	return func(ctx context.Context, t taskrunner.Task) error {
		sourceID, _ := t.Payload.(string)
		if sourceID == "" {
			return apierr.InvalidInput("extract task payload must be a record id", nil)
		}
		sources, err := e.deps.Adapter.GetByID(ctx, []string{sourceID})
		if err != nil {
			return apierr.Transient("fetch extraction source", err)
		}
		if len(sources) == 0 {
			return nil
		}
		source := sources[0]
		if source.DiscreteMemoryExtracted == model.ExtractedTrue {
			return nil
		}

		facts, markExtracted, err := e.deps.Extractor.ExtractDiscrete(ctx, source, time.Now().UTC())
		if err != nil && !markExtracted {
			return err
		}
		if err != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Str("record_id", sourceID).Msg("extract_discrete_failed_marking_done")
		}

		if len(facts) > 0 {
			if _, err := e.Index(ctx, facts, true); err != nil {
				return apierr.Transient("index extracted facts", err)
			}
		}

		source.DiscreteMemoryExtracted = model.ExtractedTrue
		if err := e.deps.Adapter.Update(ctx, []model.MemoryRecord{source}); err != nil {
			return apierr.Transient("mark source extracted", err)
		}
		return nil
	}
}

// Search implements spec §4.6's query pipeline: validate the filters, embed
// the query text, fetch overfetched candidates, rerank
// by recency fusion when requested, truncate to limit, and asynchronously
// bump access_count/last_accessed on returned records (rate-limited by
// AccessTouch per spec §9).
func (e *Engine) Search(ctx context.Context, q model.SearchQuery) (model.MemoryRecordResults, error) {
	for _, f := range q.Filters {
		if err := f.Validate(); err != nil {
			return model.MemoryRecordResults{}, apierr.InvalidInput("invalid filter", err)
		}
	}

	var vector []float32
	g, gctx := errgroup.WithContext(ctx)
	if strings.TrimSpace(q.Text) != "" {
		g.Go(func() error {
			vecs, err := e.embed(gctx, []string{q.Text})
			if err != nil {
				return err
			}
			if len(vecs) > 0 {
				vector = vecs[0]
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return model.MemoryRecordResults{}, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	fetchLimit := limit
	if q.Rerank {
		fetchLimit += e.deps.Config.RecencyOverfetch
	}

	results, err := e.deps.Adapter.Search(ctx, vectorstore.Query{
		Vector:            vector,
		Filters:           q.Filters,
		Limit:             fetchLimit,
		Offset:            q.Offset,
		DistanceThreshold: q.DistanceThreshold,
	})
	if err != nil {
		return model.MemoryRecordResults{}, apierr.Transient("search records", err)
	}

	var scored []model.ScoredRecord
	if q.Rerank {
		ranked := rerank.Rerank(results.Memories, q.RerankWeights, e.deps.RerankDefault, time.Now().UTC())
		e.deps.Analytics.Record(ctx, q.Text, ranked)
		scored = rerank.ToScoredRecords(ranked, limit)
	} else {
		if limit < len(results.Memories) {
			results.Memories = results.Memories[:limit]
		}
		scored = make([]model.ScoredRecord, len(results.Memories))
		for i, r := range results.Memories {
			scored[i] = model.ScoredRecord{MemoryRecord: r.Record, Dist: r.Dist}
		}
	}

	e.touchAccess(ctx, scored)

	return model.MemoryRecordResults{
		Memories:   scored,
		Total:      results.Total,
		NextOffset: results.NextOffset,
	}, nil
}

func (e *Engine) touchAccess(ctx context.Context, scored []model.ScoredRecord) {
	if e.deps.AccessTouch == nil {
		return
	}
	cooldown := e.deps.Config.AccessTouchCooldown
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	var toTouch []model.MemoryRecord
	for _, s := range scored {
		if e.deps.AccessTouch.ShouldTouch(ctx, s.ID, cooldown) {
			rec := s.MemoryRecord
			rec.AccessCount++
			rec.LastAccessed = time.Now().UTC()
			toTouch = append(toTouch, rec)
		}
	}
	if len(toTouch) == 0 {
		return
	}
	go func() {
		touchCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.deps.Adapter.Update(touchCtx, toTouch); err != nil {
			observability.LoggerWithTrace(touchCtx).Warn().Err(err).Msg("access_touch_update_failed")
		}
	}()
}

// Delete removes records by id from the adapter and the hash index.
func (e *Engine) Delete(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	existing, err := e.deps.Adapter.GetByID(ctx, ids)
	if err != nil {
		return 0, apierr.Transient("fetch records before delete", err)
	}
	n, err := e.deps.Adapter.Delete(ctx, ids)
	if err != nil {
		return 0, apierr.Transient("delete records", err)
	}
	for _, rec := range existing {
		if err := e.deps.HashIndex.Delete(ctx, rec.MemoryHash); err != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Str("record_id", rec.ID).Msg("hash_index_delete_failed")
		}
		e.deps.Audit.Record(ctx, rec.ID, "deleted", "")
	}
	return n, nil
}

// Edit applies a partial text/metadata update to an existing record,
// recomputing memory_hash and re-embedding when the text changes.
func (e *Engine) Edit(ctx context.Context, id string, patch model.MemoryRecord) (model.MemoryRecord, error) {
	existing, err := e.deps.Adapter.GetByID(ctx, []string{id})
	if err != nil {
		return model.MemoryRecord{}, apierr.Transient("fetch record to edit", err)
	}
	if len(existing) == 0 {
		return model.MemoryRecord{}, apierr.NotFound("record not found", nil)
	}
	rec := existing[0]
	textChanged := patch.Text != "" && patch.Text != rec.Text
	if textChanged {
		rec.Text = patch.Text
	}
	if patch.Topics != nil {
		rec.Topics = patch.Topics
	}
	if patch.Entities != nil {
		rec.Entities = patch.Entities
	}
	rec.Pinned = patch.Pinned
	rec.UpdatedAt = time.Now().UTC()

	if textChanged {
		rec.MemoryHash = dedup.ComputeHash(rec.Text, rec.UserID, rec.SessionID, rec.Namespace)
		vecs, err := e.embed(ctx, []string{rec.Text})
		if err != nil {
			return model.MemoryRecord{}, err
		}
		if err := e.deps.HashIndex.Delete(ctx, existing[0].MemoryHash); err != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("hash_index_delete_failed")
		}
		if _, err := e.deps.Adapter.IndexWithVectors(ctx, []model.MemoryRecord{rec}, vecs); err != nil {
			return model.MemoryRecord{}, apierr.Transient("re-index edited record", err)
		}
		if err := e.deps.HashIndex.Set(ctx, rec.MemoryHash, rec.ID); err != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("hash_index_set_failed")
		}
	} else if err := e.deps.Adapter.Update(ctx, []model.MemoryRecord{rec}); err != nil {
		return model.MemoryRecord{}, apierr.Transient("update edited record", err)
	}
	e.deps.Audit.Record(ctx, rec.ID, "edited", "")
	return rec, nil
}

package vectorstore

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"agentmemory/internal/model"
)

// payloadIDField stores the original (possibly non-UUID) record id, since
// Qdrant point ids must be a UUID or a positive integer. Grounded on the
// teacher's qdrant_vector.go, which solves the same id-shape mismatch with a
// deterministic UUID derived from the original id.
const payloadIDField = "_original_id"

const (
	fieldText         = "text"
	fieldMemoryType   = "memory_type"
	fieldTopics       = "topics"
	fieldEntities     = "entities"
	fieldSessionID    = "session_id"
	fieldUserID       = "user_id"
	fieldNamespace    = "namespace"
	fieldCreatedAt    = "created_at_unix"
	fieldUpdatedAt    = "updated_at_unix"
	fieldLastAccessed = "last_accessed_unix"
	fieldEventDate    = "event_date_unix"
	fieldPinned       = "pinned"
	fieldAccessCount  = "access_count"
	fieldMemoryHash   = "memory_hash"
	fieldExtractedFrom = "extracted_from"
	fieldDiscreteExtracted = "discrete_memory_extracted"
	fieldPersistedAt  = "persisted_at_unix"
)

// QdrantAdapter is the Qdrant-backed VectorStoreAdapter implementation.
type QdrantAdapter struct {
	client     *qdrant.Client
	collection string
	dimension  int
	metric     string
}

// NewQdrantAdapter connects to Qdrant over its gRPC API (default port 6334)
// and ensures the configured collection exists, following the teacher's
// NewQdrantVector construction.
func NewQdrantAdapter(dsn, collection string, dimensions int, metric string) (*QdrantAdapter, error) {
	if collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant dsn: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: portNum}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	a := &QdrantAdapter{
		client:     client,
		collection: collection,
		dimension:  dimensions,
		metric:     strings.ToLower(strings.TrimSpace(metric)),
	}
	if err := a.ensureCollection(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("ensure collection: %w", err)
	}
	return a, nil
}

func (a *QdrantAdapter) ensureCollection(ctx context.Context) error {
	exists, err := a.client.CollectionExists(ctx, a.collection)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	var distance qdrant.Distance
	switch a.metric {
	case "l2", "euclidean":
		distance = qdrant.Distance_Euclid
	case "ip", "dot":
		distance = qdrant.Distance_Dot
	case "manhattan":
		distance = qdrant.Distance_Manhattan
	default:
		distance = qdrant.Distance_Cosine
	}
	if a.dimension <= 0 {
		return fmt.Errorf("qdrant requires dimensions > 0")
	}
	return a.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: a.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(a.dimension),
			Distance: distance,
		}),
	})
}

func (a *QdrantAdapter) Close() error { return a.client.Close() }

func pointIDFor(id string) (string, bool) {
	if _, err := uuid.Parse(id); err == nil {
		return id, false
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String(), true
}

func recordToPayload(r model.MemoryRecord) map[string]any {
	p := map[string]any{
		fieldText:              r.Text,
		fieldMemoryType:        string(r.MemoryType),
		fieldTopics:            r.Topics,
		fieldEntities:          r.Entities,
		fieldSessionID:         r.SessionID,
		fieldUserID:            r.UserID,
		fieldNamespace:         r.Namespace,
		fieldCreatedAt:         float64(r.CreatedAt.Unix()),
		fieldUpdatedAt:         float64(r.UpdatedAt.Unix()),
		fieldLastAccessed:      float64(r.LastAccessed.Unix()),
		fieldPinned:            r.Pinned,
		fieldAccessCount:       float64(r.AccessCount),
		fieldMemoryHash:        r.MemoryHash,
		fieldExtractedFrom:     r.ExtractedFrom,
		fieldDiscreteExtracted: string(r.DiscreteMemoryExtracted),
	}
	if r.EventDate != nil {
		p[fieldEventDate] = float64(r.EventDate.Unix())
	}
	return p
}

func payloadToRecord(id string, payload map[string]*qdrant.Value) model.MemoryRecord {
	r := model.MemoryRecord{ID: id}
	for k, v := range payload {
		switch k {
		case fieldText:
			r.Text = v.GetStringValue()
		case fieldMemoryType:
			r.MemoryType = model.MemoryType(v.GetStringValue())
		case fieldTopics:
			r.Topics = stringList(v)
		case fieldEntities:
			r.Entities = stringList(v)
		case fieldSessionID:
			r.SessionID = v.GetStringValue()
		case fieldUserID:
			r.UserID = v.GetStringValue()
		case fieldNamespace:
			r.Namespace = v.GetStringValue()
		case fieldCreatedAt:
			r.CreatedAt = time.Unix(int64(v.GetDoubleValue()), 0).UTC()
		case fieldUpdatedAt:
			r.UpdatedAt = time.Unix(int64(v.GetDoubleValue()), 0).UTC()
		case fieldLastAccessed:
			r.LastAccessed = time.Unix(int64(v.GetDoubleValue()), 0).UTC()
		case fieldEventDate:
			t := time.Unix(int64(v.GetDoubleValue()), 0).UTC()
			r.EventDate = &t
		case fieldPinned:
			r.Pinned = v.GetBoolValue()
		case fieldAccessCount:
			r.AccessCount = int(v.GetDoubleValue())
		case fieldMemoryHash:
			r.MemoryHash = v.GetStringValue()
		case fieldExtractedFrom:
			r.ExtractedFrom = stringList(v)
		case fieldDiscreteExtracted:
			r.DiscreteMemoryExtracted = model.ExtractedFlag(v.GetStringValue())
		}
	}
	return r
}

func stringList(v *qdrant.Value) []string {
	lv := v.GetListValue()
	if lv == nil {
		return nil
	}
	out := make([]string, 0, len(lv.GetValues()))
	for _, item := range lv.GetValues() {
		out = append(out, item.GetStringValue())
	}
	return out
}

// Index implements vectorstore.Adapter. Records arrive without vectors here;
// the caller (the Long-Term Memory Engine) is responsible for embedding
// text before calling Index, so this package stays free of a ModelClient
// dependency. IndexWithVectors is the real entry point; Index stores a zero
// vector for every record, whatever its text, which keeps the adapter total.
func (a *QdrantAdapter) Index(ctx context.Context, records []model.MemoryRecord) ([]model.MemoryRecord, error) {
	return a.IndexWithVectors(ctx, records, nil)
}

// IndexWithVectors upserts records with caller-supplied embeddings, one per
// record in the same order. A nil vectors slice stores a zero vector,
// which is only useful for tests.
func (a *QdrantAdapter) IndexWithVectors(ctx context.Context, records []model.MemoryRecord, vectors [][]float32) ([]model.MemoryRecord, error) {
	points := make([]*qdrant.PointStruct, 0, len(records))
	out := make([]model.MemoryRecord, len(records))
	for i, r := range records {
		pointID, remapped := pointIDFor(r.ID)
		payload := recordToPayload(r)
		if remapped {
			payload[payloadIDField] = r.ID
		}
		var vec []float32
		if i < len(vectors) && vectors[i] != nil {
			vec = vectors[i]
		} else {
			vec = make([]float32, a.dimension)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(payload),
		})
		out[i] = r
	}
	if len(points) == 0 {
		return out, nil
	}
	_, err := a.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: a.collection,
		Points:         points,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant upsert: %w", err)
	}
	return out, nil
}

// Update writes payload fields only, leaving each point's stored vector
// untouched. Per spec §4.2 an update is partial by id: routing it through
// IndexWithVectors (which upserts a fresh point, vector included) would
// overwrite the embedding with the zero vector it substitutes for a
// missing one, silently dropping the record out of semantic search.
// SetPayload is Qdrant's native payload-only write, so it never touches
// the vector field.
func (a *QdrantAdapter) Update(ctx context.Context, records []model.MemoryRecord) error {
	for _, r := range records {
		pointID, remapped := pointIDFor(r.ID)
		payload := recordToPayload(r)
		if remapped {
			payload[payloadIDField] = r.ID
		}
		_, err := a.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
			CollectionName: a.collection,
			Payload:        qdrant.NewValueMap(payload),
			PointsSelector: qdrant.NewPointsSelector(qdrant.NewIDUUID(pointID)),
		})
		if err != nil {
			return fmt.Errorf("qdrant set payload: %w", err)
		}
	}
	return nil
}

func (a *QdrantAdapter) Delete(ctx context.Context, ids []string) (int, error) {
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pid, _ := pointIDFor(id)
		pointIDs = append(pointIDs, qdrant.NewIDUUID(pid))
	}
	_, err := a.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: a.collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant delete: %w", err)
	}
	return len(ids), nil
}

// buildFilter translates the closed operator set of spec §4.3 into Qdrant
// Match/Range conditions, extending the teacher's single-equality
// qdrant_vector.go Match construction with negation, set membership, and
// numeric ranges.
func buildFilter(filters []model.Filter) (*qdrant.Filter, error) {
	if len(filters) == 0 {
		return nil, nil
	}
	f := &qdrant.Filter{}
	for _, filt := range filters {
		if err := filt.Validate(); err != nil {
			return nil, err
		}
		field := qdrantField(filt.Field)
		switch filt.Op {
		case model.OpEq:
			f.Must = append(f.Must, qdrant.NewMatch(field, fmt.Sprint(filt.Value)))
		case model.OpNe:
			f.MustNot = append(f.MustNot, qdrant.NewMatch(field, fmt.Sprint(filt.Value)))
		case model.OpAnyOf:
			f.Must = append(f.Must, qdrant.NewFilterAsCondition(&qdrant.Filter{Should: matchEach(field, filt.Value)}))
		case model.OpNoneOf:
			f.MustNot = append(f.MustNot, qdrant.NewFilterAsCondition(&qdrant.Filter{Should: matchEach(field, filt.Value)}))
		case model.OpGt, model.OpGte, model.OpLt, model.OpLte:
			r, err := rangeCondition(field, filt.Op, filt.Value, nil)
			if err != nil {
				return nil, err
			}
			f.Must = append(f.Must, r)
		case model.OpBetween:
			bounds, ok := filt.Value.([]any)
			if !ok || len(bounds) != 2 {
				return nil, &model.InvalidFilterError{Field: filt.Field, Op: filt.Op, Reason: "between requires a [low, high] value"}
			}
			r, err := rangeCondition(field, model.OpBetween, bounds[0], bounds[1])
			if err != nil {
				return nil, err
			}
			f.Must = append(f.Must, r)
		}
	}
	return f, nil
}

func qdrantField(field model.FilterField) string {
	switch field {
	case model.FieldCreatedAt:
		return fieldCreatedAt
	case model.FieldLastAccessed:
		return fieldLastAccessed
	case model.FieldEventDate:
		return fieldEventDate
	case model.FieldDiscreteMemoryExtracted:
		return fieldDiscreteExtracted
	default:
		return string(field)
	}
}

func matchEach(field string, value any) []*qdrant.Condition {
	items, _ := value.([]any)
	conds := make([]*qdrant.Condition, 0, len(items))
	for _, it := range items {
		conds = append(conds, qdrant.NewMatch(field, fmt.Sprint(it)))
	}
	return conds
}

func rangeCondition(field string, op model.Op, lo, hi any) (*qdrant.Condition, error) {
	rng := &qdrant.Range{}
	toFloat := func(v any) (float64, error) {
		switch n := v.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case time.Time:
			return float64(n.Unix()), nil
		case string:
			if t, err := time.Parse(time.RFC3339, n); err == nil {
				return float64(t.Unix()), nil
			}
			f, err := strconv.ParseFloat(n, 64)
			return f, err
		default:
			return 0, fmt.Errorf("unsupported range value type %T", v)
		}
	}
	switch op {
	case model.OpGt:
		v, err := toFloat(lo)
		if err != nil {
			return nil, err
		}
		rng.Gt = &v
	case model.OpGte:
		v, err := toFloat(lo)
		if err != nil {
			return nil, err
		}
		rng.Gte = &v
	case model.OpLt:
		v, err := toFloat(lo)
		if err != nil {
			return nil, err
		}
		rng.Lt = &v
	case model.OpLte:
		v, err := toFloat(lo)
		if err != nil {
			return nil, err
		}
		rng.Lte = &v
	case model.OpBetween:
		loV, err := toFloat(lo)
		if err != nil {
			return nil, err
		}
		hiV, err := toFloat(hi)
		if err != nil {
			return nil, err
		}
		rng.Gte = &loV
		rng.Lte = &hiV
	}
	return qdrant.NewRange(field, rng), nil
}

func (a *QdrantAdapter) Search(ctx context.Context, q Query) (Results, error) {
	filter, err := buildFilter(q.Filters)
	if err != nil {
		return Results{}, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	fetch := uint64(limit + q.Offset)
	vec := q.Vector
	if vec == nil {
		vec = make([]float32, a.dimension)
	}
	hits, err := a.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: a.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &fetch,
		Filter:         filter,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return Results{}, fmt.Errorf("qdrant query: %w", err)
	}

	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		id := hit.Id.GetUuid()
		if orig, ok := hit.Payload[payloadIDField]; ok {
			id = orig.GetStringValue()
		}
		dist := 1 - float64(hit.Score) // cosine similarity -> distance in [0,2]
		if q.DistanceThreshold != nil && dist > *q.DistanceThreshold {
			continue
		}
		results = append(results, Result{
			Record: payloadToRecord(id, hit.Payload),
			Dist:   dist,
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Dist != results[j].Dist {
			return results[i].Dist < results[j].Dist
		}
		return results[i].Record.ID < results[j].Record.ID
	})
	total := len(results)
	if q.Offset > 0 {
		if q.Offset >= len(results) {
			results = nil
		} else {
			results = results[q.Offset:]
		}
	}
	if len(results) > limit {
		results = results[:limit]
	}
	var next *int
	if total > q.Offset+len(results) {
		n := q.Offset + len(results)
		next = &n
	}
	return Results{Memories: results, Total: total, NextOffset: next}, nil
}

func (a *QdrantAdapter) GetByID(ctx context.Context, ids []string) ([]model.MemoryRecord, error) {
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pid, _ := pointIDFor(id)
		pointIDs = append(pointIDs, qdrant.NewIDUUID(pid))
	}
	points, err := a.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: a.collection,
		Ids:            pointIDs,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant get: %w", err)
	}
	out := make([]model.MemoryRecord, 0, len(points))
	for _, p := range points {
		id := p.Id.GetUuid()
		if orig, ok := p.Payload[payloadIDField]; ok {
			id = orig.GetStringValue()
		}
		out = append(out, payloadToRecord(id, p.Payload))
	}
	return out, nil
}

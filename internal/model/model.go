// Package model defines the entities, enums, and filter predicates shared by
// every component of the memory service: messages, long-term records,
// per-session working memory, and the search request/response shapes that
// cross the HTTP and tool-call surfaces.
package model

import "time"

// MemoryType classifies a MemoryRecord.
type MemoryType string

const (
	MemoryTypeMessage  MemoryType = "message"
	MemoryTypeEpisodic MemoryType = "episodic"
	MemoryTypeSemantic MemoryType = "semantic"
)

// ExtractedFlag mirrors the source service's two-value string flag instead of
// a bool so it round-trips through the same JSON shape as the HTTP bodies.
type ExtractedFlag string

const (
	ExtractedTrue  ExtractedFlag = "t"
	ExtractedFalse ExtractedFlag = "f"
)

// MemoryMessage is one turn in a conversation.
type MemoryMessage struct {
	ID                      string     `json:"id"`
	Role                    string     `json:"role"`
	Content                 string     `json:"content"`
	PersistedAt             *time.Time `json:"persisted_at,omitempty"`
	DiscreteMemoryExtracted ExtractedFlag `json:"discrete_memory_extracted"`
}

// MemoryRecord is a unit in long-term memory.
type MemoryRecord struct {
	ID                      string        `json:"id"`
	Text                    string        `json:"text"`
	MemoryType              MemoryType    `json:"memory_type"`
	Topics                  []string      `json:"topics,omitempty"`
	Entities                []string      `json:"entities,omitempty"`
	SessionID               string        `json:"session_id,omitempty"`
	UserID                  string        `json:"user_id,omitempty"`
	Namespace               string        `json:"namespace,omitempty"`
	CreatedAt               time.Time     `json:"created_at"`
	UpdatedAt               time.Time     `json:"updated_at"`
	LastAccessed            time.Time     `json:"last_accessed"`
	EventDate               *time.Time    `json:"event_date,omitempty"`
	Pinned                  bool          `json:"pinned"`
	AccessCount             int           `json:"access_count"`
	MemoryHash              string        `json:"memory_hash"`
	ExtractedFrom           []string      `json:"extracted_from,omitempty"`
	DiscreteMemoryExtracted ExtractedFlag `json:"discrete_memory_extracted"`
}

// Clone returns a deep-enough copy for callers that mutate slice fields
// without aliasing the original record.
func (r MemoryRecord) Clone() MemoryRecord {
	c := r
	c.Topics = append([]string(nil), r.Topics...)
	c.Entities = append([]string(nil), r.Entities...)
	c.ExtractedFrom = append([]string(nil), r.ExtractedFrom...)
	return c
}

// WorkingMemory is per-session ephemeral state.
type WorkingMemory struct {
	SessionID    string                    `json:"session_id"`
	Namespace    string                    `json:"namespace,omitempty"`
	UserID       string                    `json:"user_id,omitempty"`
	Messages     []MemoryMessage           `json:"messages"`
	Memories     []MemoryRecord            `json:"memories"`
	Data         map[string]any            `json:"data,omitempty"`
	Context      string                    `json:"context,omitempty"`
	Tokens       int                       `json:"tokens"`
	TTLSeconds   *int64                    `json:"ttl_seconds,omitempty"`
	CreatedAt    time.Time                 `json:"created_at"`
	UpdatedAt    time.Time                 `json:"updated_at"`
	LastAccessed time.Time                 `json:"last_accessed"`
	Version      int64                     `json:"-"`
}

// WorkingMemoryResponse extends WorkingMemory with derived percentages used
// by clients to decide whether to keep appending to a session.
type WorkingMemoryResponse struct {
	WorkingMemory
	ContextPercentageTotalUsed         float64 `json:"context_percentage_total_used"`
	ContextPercentageUntilSummarization float64 `json:"context_percentage_until_summarization"`
}

// SessionKey uniquely identifies a WorkingMemory.
type SessionKey struct {
	Namespace string
	SessionID string
}

// Op is one of the closed set of filter operators in spec §4.3.
type Op string

const (
	OpEq      Op = "eq"
	OpNe      Op = "ne"
	OpAnyOf   Op = "any_of"
	OpNoneOf  Op = "none_of"
	OpGt      Op = "gt"
	OpGte     Op = "gte"
	OpLt      Op = "lt"
	OpLte     Op = "lte"
	OpBetween Op = "between"
)

// FilterField names the record field a Filter targets.
type FilterField string

const (
	FieldSessionID               FilterField = "session_id"
	FieldNamespace                FilterField = "namespace"
	FieldUserID                   FilterField = "user_id"
	FieldTopics                   FilterField = "topics"
	FieldEntities                 FilterField = "entities"
	FieldMemoryType                FilterField = "memory_type"
	FieldCreatedAt                 FilterField = "created_at"
	FieldLastAccessed               FilterField = "last_accessed"
	FieldEventDate                  FilterField = "event_date"
	FieldDiscreteMemoryExtracted     FilterField = "discrete_memory_extracted"
)

// allowedOps is the closed operator set per field from spec §4.3.
var allowedOps = map[FilterField]map[Op]bool{
	FieldSessionID:               {OpEq: true, OpNe: true, OpAnyOf: true, OpNoneOf: true},
	FieldNamespace:                {OpEq: true, OpNe: true, OpAnyOf: true, OpNoneOf: true},
	FieldUserID:                   {OpEq: true, OpNe: true, OpAnyOf: true, OpNoneOf: true},
	FieldTopics:                   {OpAnyOf: true, OpNoneOf: true},
	FieldEntities:                 {OpAnyOf: true, OpNoneOf: true},
	FieldMemoryType:               {OpEq: true, OpAnyOf: true},
	FieldCreatedAt:                {OpEq: true, OpGt: true, OpGte: true, OpLt: true, OpLte: true, OpBetween: true},
	FieldLastAccessed:             {OpEq: true, OpGt: true, OpGte: true, OpLt: true, OpLte: true, OpBetween: true},
	FieldEventDate:                {OpEq: true, OpGt: true, OpGte: true, OpLt: true, OpLte: true, OpBetween: true},
	FieldDiscreteMemoryExtracted:  {OpEq: true},
}

// Filter is one predicate in a search request. Value holds a single scalar
// for eq/ne/gt/gte/lt/lte, a slice for any_of/none_of, and a two-element
// slice [low, high] for between.
type Filter struct {
	Field FilterField `json:"field"`
	Op    Op          `json:"op"`
	Value any         `json:"value"`
}

// Validate checks the operator is in the closed set allowed for Field.
func (f Filter) Validate() error {
	ops, ok := allowedOps[f.Field]
	if !ok {
		return &InvalidFilterError{Field: f.Field, Reason: "unknown field"}
	}
	if !ops[f.Op] {
		return &InvalidFilterError{Field: f.Field, Op: f.Op, Reason: "operator not allowed for field"}
	}
	return nil
}

// InvalidFilterError reports a filter that failed validation.
type InvalidFilterError struct {
	Field  FilterField
	Op     Op
	Reason string
}

func (e *InvalidFilterError) Error() string {
	if e.Op == "" {
		return "invalid filter on " + string(e.Field) + ": " + e.Reason
	}
	return "invalid filter " + string(e.Field) + " " + string(e.Op) + ": " + e.Reason
}

// SearchQuery is the request shape for both /long-term-memory/search and the
// long-term half of /memory/search.
type SearchQuery struct {
	Text              string   `json:"text,omitempty"`
	Filters           []Filter `json:"filters,omitempty"`
	Limit             int      `json:"limit,omitempty"`
	Offset            int      `json:"offset,omitempty"`
	DistanceThreshold *float64 `json:"distance_threshold,omitempty"`
	Rerank            bool     `json:"rerank,omitempty"`
	RerankWeights     *RerankWeights `json:"rerank_weights,omitempty"`
}

// RerankWeights overrides the default C9 fusion weights for one query.
type RerankWeights struct {
	Semantic  float64 `json:"semantic,omitempty"`
	Recency   float64 `json:"recency,omitempty"`
	Freshness float64 `json:"freshness,omitempty"`
	Novelty   float64 `json:"novelty,omitempty"`
}

// ScoredRecord is one search hit.
type ScoredRecord struct {
	MemoryRecord
	Dist   float64  `json:"dist"`
	Final  *float64 `json:"final,omitempty"`
	Origin string   `json:"origin,omitempty"` // "working" | "long_term", set by /memory/search
}

// MemoryRecordResults is the response shape for search operations.
type MemoryRecordResults struct {
	Memories   []ScoredRecord `json:"memories"`
	Total      int            `json:"total"`
	NextOffset *int           `json:"next_offset,omitempty"`
}

// SessionList is the response shape for GET /sessions/.
type SessionList struct {
	Sessions []SessionKey `json:"sessions"`
	Total    int          `json:"total"`
}

// Package dedup implements the Deduplicator (C7): the memory-hash
// fingerprint, the exact-hash merge rule, and the LLM-judged semantic merge
// rule of spec §4.7. The hash function is a pure function, independently
// testable per spec §8 testable property 2; the semantic judge follows the
// JSON-prompt pattern the teacher uses for other LLM classification calls
// (internal/agent/memory/evolving.go's classifyMemoryType).
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"agentmemory/internal/apierr"
	"agentmemory/internal/llm"
	"agentmemory/internal/model"
)

// ComputeHash is the deterministic fingerprint of spec §3.2/§4.7: a stable
// hash over (normalized_text, user_id, session_id, namespace). Two records
// with identical hashes are duplicates by definition.
func ComputeHash(text, userID, sessionID, namespace string) string {
	normalized := strings.ToLower(strings.TrimSpace(text))
	h := sha256.New()
	h.Write([]byte(normalized))
	h.Write([]byte{0})
	h.Write([]byte(userID))
	h.Write([]byte{0})
	h.Write([]byte(sessionID))
	h.Write([]byte{0})
	h.Write([]byte(namespace))
	return hex.EncodeToString(h.Sum(nil))
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, v := range append(append([]string{}, a...), b...) {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// ExactMerge implements spec §4.7's exact-merge rule for two records whose
// memory_hash is equal: the older created_at, the newer updated_at and
// last_accessed, a union of topics/entities/extracted_from, summed
// access_count, and pinned preserved if either side is pinned. The
// surviving record keeps the id of survivor (by convention, the existing
// record already indexed).
func ExactMerge(existing, incoming model.MemoryRecord) model.MemoryRecord {
	merged := existing
	if incoming.CreatedAt.Before(merged.CreatedAt) {
		merged.CreatedAt = incoming.CreatedAt
	}
	if incoming.UpdatedAt.After(merged.UpdatedAt) {
		merged.UpdatedAt = incoming.UpdatedAt
	}
	if incoming.LastAccessed.After(merged.LastAccessed) {
		merged.LastAccessed = incoming.LastAccessed
	}
	merged.Topics = unionStrings(existing.Topics, incoming.Topics)
	merged.Entities = unionStrings(existing.Entities, incoming.Entities)
	merged.ExtractedFrom = unionStrings(existing.ExtractedFrom, incoming.ExtractedFrom)
	merged.AccessCount = existing.AccessCount + incoming.AccessCount
	merged.Pinned = existing.Pinned || incoming.Pinned
	return merged
}

// SemanticVerdict is the LLM judge's response shape for spec §4.7's
// semantic merge rule.
type SemanticVerdict struct {
	Duplicate  bool   `json:"duplicate"`
	MergedText string `json:"merged_text,omitempty"`
}

// Judge asks the LLM whether two near-duplicate candidates (by vector
// distance) describe the same fact, and if so what merged text to keep.
type Judge struct {
	Registry *llm.Registry
	Model    string
}

// Judge implements spec §4.7's "Ask the LLM: given two candidate texts
// (with metadata), return JSON {duplicate: bool, merged_text?: string}."
func (j *Judge) Judge(ctx context.Context, a, b model.MemoryRecord) (SemanticVerdict, error) {
	provider, resolvedModel, err := j.Registry.Resolve(j.Model)
	if err != nil {
		return SemanticVerdict{}, apierr.InvalidInput("resolve semantic dedup judge model", err)
	}
	prompt := []llm.Message{
		{Role: "system", Content: "Decide whether these two memory candidates describe the same fact. " +
			`Respond with JSON only: {"duplicate": bool, "merged_text": "..."}. ` +
			"merged_text should be the best single statement capturing both if duplicate is true."},
		{Role: "user", Content: "Candidate A (" + string(a.MemoryType) + "): " + a.Text},
		{Role: "user", Content: "Candidate B (" + string(b.MemoryType) + "): " + b.Text},
	}
	out, err := provider.Chat.Chat(ctx, prompt, resolvedModel)
	if err != nil {
		return SemanticVerdict{}, apierr.Transient("semantic dedup judge LLM call", err)
	}
	start := strings.IndexByte(out, '{')
	end := strings.LastIndexByte(out, '}')
	if start < 0 || end < start {
		return SemanticVerdict{}, apierr.InvalidInput("parse semantic dedup judge response", nil)
	}
	var verdict SemanticVerdict
	if err := json.Unmarshal([]byte(out[start:end+1]), &verdict); err != nil {
		return SemanticVerdict{}, apierr.InvalidInput("parse semantic dedup judge response", err)
	}
	return verdict, nil
}

// MergeSemantic implements the "duplicate=true" branch of spec §4.7's
// semantic merge rule: a brand-new record replacing both originals, whose
// text is the judge's merged_text, union fields as in ExactMerge, created_at
// the minimum of the two, updated_at now. Callers are responsible for
// deleting both original ids from the vector store.
func MergeSemantic(a, b model.MemoryRecord, mergedText string, now time.Time) model.MemoryRecord {
	created := a.CreatedAt
	if b.CreatedAt.Before(created) {
		created = b.CreatedAt
	}
	lastAccessed := a.LastAccessed
	if b.LastAccessed.After(lastAccessed) {
		lastAccessed = b.LastAccessed
	}
	merged := model.MemoryRecord{
		ID:                      uuid.NewString(),
		Text:                    mergedText,
		MemoryType:              a.MemoryType,
		Topics:                  unionStrings(a.Topics, b.Topics),
		Entities:                unionStrings(a.Entities, b.Entities),
		SessionID:               a.SessionID,
		UserID:                  a.UserID,
		Namespace:               a.Namespace,
		CreatedAt:               created,
		UpdatedAt:               now,
		LastAccessed:            lastAccessed,
		Pinned:                  a.Pinned || b.Pinned,
		AccessCount:             a.AccessCount + b.AccessCount,
		ExtractedFrom:           unionStrings(a.ExtractedFrom, b.ExtractedFrom),
		DiscreteMemoryExtracted: a.DiscreteMemoryExtracted,
	}
	merged.MemoryHash = ComputeHash(merged.Text, merged.UserID, merged.SessionID, merged.Namespace)
	return merged
}

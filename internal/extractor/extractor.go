// Package extractor implements the Extractor (C6): topic/entity tagging and
// discrete episodic/semantic fact extraction from messages (spec §4.5),
// following the JSON-prompt-and-parse pattern the teacher uses for
// LLM-structured output (internal/agent/memory/evolving.go's
// classifyMemoryType / generateSummary) generalized to this service's
// extraction schema, with the contextual-grounding rules taken from the
// corpus's original Python extraction prompt.
package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"agentmemory/internal/apierr"
	"agentmemory/internal/llm"
	"agentmemory/internal/model"
)

// TopicExtractor is the pluggable topic-tagging backend of spec §4.5: either
// a topic-model (e.g. BERTopic-style) or an LLM prompted for JSON.
type TopicExtractor interface {
	ExtractTopics(ctx context.Context, text string, topK int) ([]string, error)
}

// NERToken is one token emitted by an EntityExtractor's underlying model.
// Continuation marks a subword piece that should merge into the preceding
// token (the "##" WordPiece convention).
type NERToken struct {
	Text         string
	Continuation bool
}

// EntityExtractor is the pluggable named-entity backend of spec §4.5.
type EntityExtractor interface {
	ExtractEntityTokens(ctx context.Context, text string) ([]NERToken, error)
}

// MergeContinuations folds WordPiece-style continuation tokens into the
// entity they continue, e.g. ["Paris", "##ian"] -> ["Parisian"], per spec
// §4.5's subword-merge rule.
func MergeContinuations(tokens []NERToken) []string {
	var out []string
	for _, tok := range tokens {
		text := strings.TrimPrefix(tok.Text, "##")
		if tok.Continuation && len(out) > 0 {
			out[len(out)-1] += text
			continue
		}
		out = append(out, text)
	}
	return dedupeOrderInsensitive(out)
}

func dedupeOrderInsensitive(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// LLMTopicExtractor prompts a chat model for {"topics": [...]}, the default
// backend named in spec §4.5.
type LLMTopicExtractor struct {
	Registry *llm.Registry
	Model    string
}

type topicsResponse struct {
	Topics []string `json:"topics"`
}

func (e *LLMTopicExtractor) ExtractTopics(ctx context.Context, text string, topK int) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	provider, resolvedModel, err := e.Registry.Resolve(e.Model)
	if err != nil {
		return nil, apierr.InvalidInput("resolve topic extraction model", err)
	}
	prompt := []llm.Message{
		{Role: "system", Content: fmt.Sprintf(
			"Extract up to %d short topic labels from the text. Respond with JSON only: "+
				`{"topics": ["label", ...]}.`, topK)},
		{Role: "user", Content: text},
	}
	out, err := provider.Chat.Chat(ctx, prompt, resolvedModel)
	if err != nil {
		return nil, apierr.Transient("topic extraction LLM call", err)
	}
	var resp topicsResponse
	if err := json.Unmarshal([]byte(extractJSONObject(out)), &resp); err != nil {
		return nil, apierr.InvalidInput("parse topic extraction response", err)
	}
	topics := dedupeOrderInsensitive(resp.Topics)
	if topK > 0 && len(topics) > topK {
		topics = topics[:topK]
	}
	return topics, nil
}

// LLMEntityExtractor prompts a chat model for entity tokens shaped like a
// NER model's WordPiece output, the same JSON-prompt approach
// LLMTopicExtractor uses for topics, since the retrieval pack carries no
// dedicated NER model client to wrap.
type LLMEntityExtractor struct {
	Registry *llm.Registry
	Model    string
}

type entityTokensResponse struct {
	Tokens []NERToken `json:"tokens"`
}

func (e *LLMEntityExtractor) ExtractEntityTokens(ctx context.Context, text string) ([]NERToken, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	provider, resolvedModel, err := e.Registry.Resolve(e.Model)
	if err != nil {
		return nil, apierr.InvalidInput("resolve entity extraction model", err)
	}
	prompt := []llm.Message{
		{Role: "system", Content: "Extract named entities from the text as WordPiece-style tokens. " +
			`Respond with JSON only: {"tokens": [{"Text": "...", "Continuation": bool}, ...]}. ` +
			`Continuation marks a subword piece (prefixed "##") that merges into the previous token.`},
		{Role: "user", Content: text},
	}
	out, err := provider.Chat.Chat(ctx, prompt, resolvedModel)
	if err != nil {
		return nil, apierr.Transient("entity extraction LLM call", err)
	}
	var resp entityTokensResponse
	if err := json.Unmarshal([]byte(extractJSONObject(out)), &resp); err != nil {
		return nil, apierr.InvalidInput("parse entity extraction response", err)
	}
	return resp.Tokens, nil
}

// Tagger runs topic + entity extraction (spec §4.5's handle_extraction).
type Tagger struct {
	Topics   TopicExtractor
	Entities EntityExtractor
	TopK     int
}

// Tag returns deduplicated, order-insensitive topic and entity lists for text.
func (t *Tagger) Tag(ctx context.Context, text string) ([]string, []string, error) {
	var topics []string
	var entities []string
	if t.Topics != nil {
		var err error
		topics, err = t.Topics.ExtractTopics(ctx, text, t.TopK)
		if err != nil {
			return nil, nil, err
		}
	}
	if t.Entities != nil {
		tokens, err := t.Entities.ExtractEntityTokens(ctx, text)
		if err != nil {
			return nil, nil, err
		}
		entities = MergeContinuations(tokens)
	}
	return topics, entities, nil
}

// discreteItem is one element of the LLM's extract_discrete JSON response.
type discreteItem struct {
	Type     string   `json:"type"`
	Text     string   `json:"text"`
	Topics   []string `json:"topics"`
	Entities []string `json:"entities"`
}

// firstPersonPronoun grounds first-person pronouns deterministically;
// thirdPersonPronoun is the unresolved-pronoun regex of spec §8 testable
// property 5, used to detect (for logging) any third-person pronoun the LLM
// failed to resolve against a named referent.
var firstPersonPronoun = regexp.MustCompile(`(?i)\b(I|me|my|mine|myself)\b`)
var thirdPersonPronoun = regexp.MustCompile(`(?i)\b(he|she|they|him|her|them|his|hers|theirs)\b`)

// groundFirstPerson deterministically replaces first-person pronouns with
// "User", the named referent for the application user (spec §4.5's
// contextual-grounding rule). Third-person pronoun resolution requires
// actual coreference resolution and is left to the LLM prompt; any that
// survive are logged, not silently dropped.
func groundFirstPerson(text string) string {
	return firstPersonPronoun.ReplaceAllStringFunc(text, func(m string) string {
		switch strings.ToLower(m) {
		case "my", "mine":
			return "User's"
		default:
			return "User"
		}
	})
}

// HasUngroundedPronoun reports whether text still contains a third-person
// pronoun from the forbidden list, per spec §8 testable property 5.
func HasUngroundedPronoun(text string) bool {
	return thirdPersonPronoun.MatchString(text)
}

// Extractor is the C6 capability: topic/entity tagging plus discrete-memory
// extraction.
type Extractor struct {
	Registry  *llm.Registry
	Model     string
	Tagger    *Tagger
	TopKTopic int
}

// ExtractDiscrete implements spec §4.5's extract_discrete: given a
// message-type MemoryRecord with discrete_memory_extracted="f", prompts the
// LLM for a JSON list of {type, text, topics, entities} and returns new
// MemoryRecords inheriting namespace/user/session scoping, with
// extracted_from pointing back to the source. now is injected (rather than
// time.Now()) so callers control the "current date/time" fed to the prompt,
// per spec §4.5.
func (e *Extractor) ExtractDiscrete(ctx context.Context, source model.MemoryRecord, now time.Time) ([]model.MemoryRecord, bool, error) {
	if source.MemoryType != model.MemoryTypeMessage {
		return nil, false, apierr.InvalidInput("extract_discrete requires a message-type record", nil)
	}

	provider, resolvedModel, err := e.Registry.Resolve(e.Model)
	if err != nil {
		return nil, false, apierr.InvalidInput("resolve discrete extraction model", err)
	}

	prompt := buildDiscretePrompt(source.Text, now, e.TopKTopic)

	var items []discreteItem
	var lastErr error
	const maxAttempts = 3
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out, err := provider.Chat.Chat(ctx, prompt, resolvedModel)
		if err != nil {
			lastErr = apierr.Transient("discrete extraction LLM call", err)
			continue
		}
		var parsed []discreteItem
		if err := json.Unmarshal([]byte(extractJSONArray(out)), &parsed); err != nil {
			lastErr = apierr.InvalidInput("parse discrete extraction response", err)
			continue
		}
		items = parsed
		lastErr = nil
		break
	}
	if lastErr != nil {
		// Persistent failure: mark the source as extracted anyway to avoid
		// infinite retry (spec §4.5), caller logs lastErr.
		return nil, true, lastErr
	}

	out := make([]model.MemoryRecord, 0, len(items))
	for _, item := range items {
		memType := model.MemoryTypeSemantic
		if strings.EqualFold(item.Type, "episodic") {
			memType = model.MemoryTypeEpisodic
		}
		text := groundFirstPerson(strings.TrimSpace(item.Text))
		if text == "" {
			continue
		}
		rec := model.MemoryRecord{
			ID:                      uuid.NewString(),
			Text:                    text,
			MemoryType:              memType,
			Topics:                  dedupeOrderInsensitive(item.Topics),
			Entities:                dedupeOrderInsensitive(item.Entities),
			Namespace:               source.Namespace,
			UserID:                  source.UserID,
			SessionID:               source.SessionID,
			CreatedAt:               now,
			UpdatedAt:               now,
			LastAccessed:            now,
			ExtractedFrom:           []string{source.ID},
			DiscreteMemoryExtracted: model.ExtractedTrue,
		}
		out = append(out, rec)
	}
	return out, true, nil
}

func buildDiscretePrompt(text string, now time.Time, topKTopics int) []llm.Message {
	system := fmt.Sprintf(
		"You extract discrete episodic or semantic memories from a conversation message. "+
			"The current date and time is %s. "+
			"Ground every fact: replace pronouns referring to the application user with \"User\", "+
			"resolve relative time expressions (e.g. \"last summer\") against the current date, "+
			"and resolve deictic spatial references (\"here\", \"there\") to concrete places when "+
			"the text names one. Return at most %d topics per item. "+
			`Respond with JSON only: [{"type": "episodic"|"semantic", "text": "...", `+
			`"topics": ["..."], "entities": ["..."]}, ...]. Return [] if there is nothing worth storing.`,
		now.Format(time.RFC3339), topKTopics)
	return []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: text},
	}
}

// extractJSONObject pulls the first {...} span out of an LLM response that
// may be wrapped in prose or a markdown code fence.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}

// extractJSONArray is extractJSONObject's counterpart for a top-level array.
func extractJSONArray(s string) string {
	start := strings.IndexByte(s, '[')
	end := strings.LastIndexByte(s, ']')
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}

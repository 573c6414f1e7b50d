// Package summarizer implements the Summarizer (C5): token-aware truncation
// plus an LLM-driven rolling summary of spec §4.4, following the
// token-estimation and tool-boundary-safety patterns of the teacher's
// internal/agent/memory.Manager (estimateMessagesTokens,
// adjustIndexForToolDeps) generalized from a single chat-completion history
// to this service's session-scoped MemoryMessage stream.
package summarizer

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"agentmemory/internal/apierr"
	"agentmemory/internal/config"
	"agentmemory/internal/llm"
	"agentmemory/internal/model"
	"agentmemory/internal/observability"
)

// Tokenizer counts tokens for a model-specific vocabulary. Pluggable per
// spec §4.4 step 1; Summarizer falls back to ceil(chars/4) when none is
// registered for a model, exactly as the teacher's estimateMessagesTokens
// does for providers with no local tokenizer.
type Tokenizer interface {
	CountTokens(model, text string) (int, bool)
}

// CharFallbackTokenizer never claims to know a model's vocabulary, so
// Count always falls through to the chars/4 estimate.
type CharFallbackTokenizer struct{}

func (CharFallbackTokenizer) CountTokens(model, text string) (int, bool) { return 0, false }

// Result is the outcome of a Summarize call.
type Result struct {
	Tail       []model.MemoryMessage
	Context    string
	Tokens     int
	Summarized bool
}

// Summarizer is the C5 capability.
type Summarizer struct {
	registry  *llm.Registry
	tokenizer Tokenizer
	cfg       config.MemoryConfig
	retry     config.RetryPolicy
}

// New builds a Summarizer.
func New(registry *llm.Registry, tokenizer Tokenizer, cfg config.MemoryConfig, retry config.RetryPolicy) *Summarizer {
	if tokenizer == nil {
		tokenizer = CharFallbackTokenizer{}
	}
	return &Summarizer{registry: registry, tokenizer: tokenizer, cfg: cfg, retry: retry}
}

// CountTokens estimates the token cost of messages plus an existing
// context string, per spec §4.4 step 1.
func (s *Summarizer) CountTokens(modelName string, messages []model.MemoryMessage, context string) int {
	total := 0
	for _, m := range messages {
		total += s.countOne(modelName, m.Content)
	}
	if context != "" {
		total += s.countOne(modelName, context)
	}
	return total
}

func (s *Summarizer) countOne(modelName, text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 1
	}
	if n, ok := s.tokenizer.CountTokens(modelName, text); ok {
		return n
	}
	return int(math.Ceil(float64(len([]rune(text))) / 4))
}

// Summarize applies spec §4.4's algorithm: if total tokens are within the
// summarization threshold and the message count is within the window size
// W, messages are returned unchanged; otherwise a prefix is folded into a
// new rolling context and the most recent messages that fit both the tail
// token budget and W are kept verbatim. W is a hard cap per spec §8
// property 6 ("after summarization, len(messages) <= W") - it fires
// regardless of token count, not merely scheduling the task the way
// memory.go/redis.go's overflow check does.
func (s *Summarizer) Summarize(ctx context.Context, wm model.WorkingMemory, modelName string, contextWindowMax int) (Result, error) {
	if contextWindowMax <= 0 {
		contextWindowMax = s.cfg.ContextWindowMax
	}
	threshold := s.cfg.SummarizationThresholdPct
	if threshold <= 0 {
		threshold = 0.7
	}
	tailPct := s.cfg.TailBudgetPct
	if tailPct <= 0 {
		tailPct = 0.3
	}
	windowSize := s.cfg.WindowSize

	total := s.CountTokens(modelName, wm.Messages, wm.Context)
	thresholdTokens := threshold * float64(contextWindowMax)
	overWindow := windowSize > 0 && len(wm.Messages) > windowSize
	if len(wm.Messages) == 0 || (!overWindow && float64(total) <= thresholdTokens) {
		return Result{Tail: wm.Messages, Context: wm.Context, Tokens: total, Summarized: false}, nil
	}

	tailBudget := tailPct * float64(contextWindowMax)
	cut := len(wm.Messages)
	tailTokens := 0
	for cut > 0 {
		cost := s.countOne(modelName, wm.Messages[cut-1].Content)
		if float64(tailTokens+cost) > tailBudget {
			break
		}
		tailTokens += cost
		cut--
	}
	if windowSize > 0 {
		if minCut := len(wm.Messages) - windowSize; cut < minCut {
			cut = minCut
		}
	}
	cut = adjustForToolBoundary(wm.Messages, cut)
	if cut >= len(wm.Messages) {
		// Nothing can be folded into the prefix; keep everything as-is
		// rather than summarizing zero messages.
		return Result{Tail: wm.Messages, Context: wm.Context, Tokens: total, Summarized: false}, nil
	}

	prefix := wm.Messages[:cut]
	tail := append([]model.MemoryMessage(nil), wm.Messages[cut:]...)

	newContext, err := s.summarizePrefix(ctx, modelName, wm.Context, prefix)
	if err != nil {
		// Best-effort per spec §4.4: leave WorkingMemory unchanged, surface
		// no error to the caller.
		observability.LoggerWithTrace(ctx).Warn().Err(err).Str("session_id", wm.SessionID).Msg("summarization_failed_best_effort")
		return Result{Tail: wm.Messages, Context: wm.Context, Tokens: total, Summarized: false}, nil
	}

	return Result{
		Tail:       tail,
		Context:    newContext,
		Tokens:     s.CountTokens(modelName, tail, newContext),
		Summarized: true,
	}, nil
}

// adjustForToolBoundary never lets the tail start with a "tool" role
// message whose corresponding assistant tool-call would be left behind in
// the summarized prefix; several providers reject history that separates
// the two. Ported from the teacher's adjustIndexForToolDeps, simplified to
// this service's role-only (no structured tool-call id) message shape:
// walk the cut point back past any leading run of tool/assistant pairs.
func adjustForToolBoundary(msgs []model.MemoryMessage, cut int) int {
	for cut > 0 && cut < len(msgs) && msgs[cut].Role == "tool" {
		cut--
	}
	return cut
}

func (s *Summarizer) summarizePrefix(ctx context.Context, modelName, existing string, prefix []model.MemoryMessage) (string, error) {
	provider, resolvedModel, err := s.registry.Resolve(modelName)
	if err != nil {
		return "", apierr.InvalidInput("resolve chat model for summarization", err)
	}

	var sb strings.Builder
	for _, m := range prefix {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
	}
	budget := s.cfg.SummaryTokenBudget
	if budget <= 0 {
		budget = 512
	}
	prompt := []llm.Message{
		{Role: "system", Content: fmt.Sprintf(
			"Summarize the following conversation in the third person, in at most %d tokens. "+
				"Incorporate the prior summary if present. Be concise and preserve concrete facts.", budget)},
	}
	if existing != "" {
		prompt = append(prompt, llm.Message{Role: "user", Content: "Prior summary:\n" + existing})
	}
	prompt = append(prompt, llm.Message{Role: "user", Content: "Conversation to fold in:\n" + sb.String()})

	attempts := s.retry.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	base := s.retry.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	factor := s.retry.Factor
	if factor <= 0 {
		factor = 2
	}

	var lastErr error
	delay := base
	for attempt := 1; attempt <= attempts; attempt++ {
		out, err := provider.Chat.Chat(ctx, prompt, resolvedModel)
		if err == nil {
			return strings.TrimSpace(out), nil
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		delay = time.Duration(float64(delay) * factor)
	}
	return "", apierr.Transient("summarization LLM call", lastErr)
}

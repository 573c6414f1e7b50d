// Package prompt implements the Prompt Hydrator (C11): combining working
// memory and a long-term search into an LLM-ready message list (spec §4.8).
// It is a pure function over already-fetched WorkingMemory/search results,
// per SPEC_FULL.md's note that C11 carries no external dependency of its
// own.
package prompt

import (
	"strings"

	"agentmemory/internal/llm"
	"agentmemory/internal/model"
)

// Hydrate implements spec §4.8's ordered message assembly:
//  1. if wm is non-nil and has a context, prepend it as a system message
//  2. append wm's messages (tail window already enforced upstream)
//  3. if longTermResults is non-empty, wrap them as one system message
//  4. append the user's query as a user message
func Hydrate(query string, wm *model.WorkingMemory, longTermResults []model.ScoredRecord) []llm.Message {
	var out []llm.Message

	if wm != nil && strings.TrimSpace(wm.Context) != "" {
		out = append(out, llm.Message{
			Role:    "system",
			Content: "Summary of prior conversation: " + wm.Context,
		})
	}

	if wm != nil {
		for _, m := range wm.Messages {
			out = append(out, llm.Message{Role: m.Role, Content: m.Content})
		}
	}

	if len(longTermResults) > 0 {
		var sb strings.Builder
		sb.WriteString("Long term memories related to the user's query:\n")
		for _, r := range longTermResults {
			sb.WriteString("- ")
			sb.WriteString(r.Text)
			sb.WriteString("\n")
		}
		out = append(out, llm.Message{Role: "system", Content: sb.String()})
	}

	out = append(out, llm.Message{Role: "user", Content: query})
	return out
}

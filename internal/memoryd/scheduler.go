// Package memoryd wires the per-component capabilities (working-memory
// store, long-term engine, summarizer, task runner) into the Service the
// HTTP and tool-call surfaces share, following the role the teacher's
// internal/agentd package plays above its handlers_*.go files: one service
// type with no HTTP-specific knowledge, consumed by multiple transports.
package memoryd

import (
	"context"

	"agentmemory/internal/apierr"
	"agentmemory/internal/ltm"
	"agentmemory/internal/model"
	"agentmemory/internal/observability"
	"agentmemory/internal/summarizer"
	"agentmemory/internal/taskrunner"
	"agentmemory/internal/workingmemory"
)

// SummarizePayload is the taskrunner.Task.Payload shape for TypeSummarize.
type SummarizePayload struct {
	Namespace string
	SessionID string
}

// PromotePayload is the taskrunner.Task.Payload shape for TypePromote.
type PromotePayload struct {
	Namespace string
	SessionID string
	Messages  []model.MemoryMessage
	Records   []model.MemoryRecord
}

// TaskScheduler implements workingmemory.Scheduler over a taskrunner.Runner,
// the glue SPEC_FULL.md's C4 expansion calls for so the store never imports
// the task runner package directly (spec §9's no-cyclic-ownership note).
type TaskScheduler struct {
	Runner *taskrunner.Runner
}

func (s *TaskScheduler) ScheduleSummarize(ctx context.Context, namespace, sessionID string) error {
	return s.Runner.Enqueue(ctx, taskrunner.Task{
		Type:        taskrunner.TypeSummarize,
		CoalesceKey: namespace + "\x00" + sessionID,
		Payload:     SummarizePayload{Namespace: namespace, SessionID: sessionID},
	})
}

func (s *TaskScheduler) SchedulePromote(ctx context.Context, namespace, sessionID string, messages []model.MemoryMessage, records []model.MemoryRecord) error {
	return s.Runner.Enqueue(ctx, taskrunner.Task{
		Type:    taskrunner.TypePromote,
		Payload: PromotePayload{Namespace: namespace, SessionID: sessionID, Messages: messages, Records: records},
	})
}

// SummarizeHandler builds the taskrunner.Handler for TypeSummarize: re-fetch
// the session (it may have changed since the trigger fired), summarize its
// overflowing tail, and write the result back unconditionally (summarization
// is best-effort per spec §7 and never contends with a concurrent writer's
// optimistic version, matching the teacher's fire-and-forget background
// task style).
func SummarizeHandler(store workingmemory.Store, summ *summarizer.Summarizer) taskrunner.Handler {
	return func(ctx context.Context, t taskrunner.Task) error {
		p, ok := t.Payload.(SummarizePayload)
		if !ok {
			return apierr.InvalidInput("summarize task payload has wrong type", nil)
		}
		wm, err := store.Get(ctx, p.Namespace, p.SessionID)
		if err != nil {
			return apierr.Transient("fetch working memory for summarization", err)
		}
		if wm == nil {
			return nil
		}
		result, err := summ.Summarize(ctx, *wm, "", 0)
		if err != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Str("session_id", p.SessionID).Msg("summarize_failed_best_effort")
			return nil
		}
		if !result.Summarized {
			return nil
		}
		updated := *wm
		updated.Messages = result.Tail
		updated.Context = result.Context
		updated.Tokens = result.Tokens
		if _, err := store.Put(ctx, p.Namespace, p.SessionID, updated, nil); err != nil {
			return apierr.Transient("write summarized working memory", err)
		}
		return nil
	}
}

// PromoteHandler builds the taskrunner.Handler for TypePromote: index
// promoted messages/records into the long-term engine, marking messages as
// discrete-memory-extracted=false so the extraction pipeline still picks
// them up per spec §4.6.
func PromoteHandler(engine *ltm.Engine) taskrunner.Handler {
	return func(ctx context.Context, t taskrunner.Task) error {
		p, ok := t.Payload.(PromotePayload)
		if !ok {
			return apierr.InvalidInput("promote task payload has wrong type", nil)
		}
		var records []model.MemoryRecord
		for _, m := range p.Messages {
			records = append(records, model.MemoryRecord{
				Text:                    m.Content,
				MemoryType:              model.MemoryTypeMessage,
				Namespace:               p.Namespace,
				SessionID:               p.SessionID,
				DiscreteMemoryExtracted: model.ExtractedFalse,
			})
		}
		records = append(records, p.Records...)
		if len(records) == 0 {
			return nil
		}
		if _, err := engine.Index(ctx, records, true); err != nil {
			return apierr.Transient("index promoted records", err)
		}
		return nil
	}
}

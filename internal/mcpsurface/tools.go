// Package mcpsurface exposes the memory service's operations as MCP tools
// (spec §6.2: "a parallel surface exposes the same operations as named
// tools accepting JSON payloads identical to the HTTP bodies"), following
// the sdk.AddTool registration style the corpus uses for the two-tier
// working/long-term memory tool set (the working-memory MCP tools file in
// the retrieval pack), generalized to call memoryd.Service instead of a
// bespoke application layer.
package mcpsurface

import (
	"context"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"agentmemory/internal/memoryd"
	"agentmemory/internal/model"
)

// NewServer builds an MCP server exposing every memoryd.Service operation as
// a tool with the same request/response shape as the HTTP surface.
func NewServer(service *memoryd.Service) *sdk.Server {
	server := sdk.NewServer(&sdk.Implementation{Name: "agentmemory", Version: "1.0.0"}, nil)
	registerTools(server, service)
	return server
}

type healthInput struct{}

type sessionListInput struct {
	Namespace string `json:"namespace,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
}

type sessionGetInput struct {
	Namespace        string `json:"namespace,omitempty"`
	SessionID        string `json:"session_id" jsonschema:"required"`
	WindowSize       int    `json:"window_size,omitempty"`
	ModelName        string `json:"model_name,omitempty"`
	ContextWindowMax int    `json:"context_window_max,omitempty"`
}

type sessionPutInput struct {
	Namespace       string              `json:"namespace,omitempty"`
	SessionID       string              `json:"session_id" jsonschema:"required"`
	WorkingMemory   model.WorkingMemory `json:"working_memory"`
	ExpectedVersion *int64              `json:"expected_version,omitempty"`
}

type sessionDeleteInput struct {
	Namespace string `json:"namespace,omitempty"`
	SessionID string `json:"session_id" jsonschema:"required"`
}

type indexMemoriesInput struct {
	Memories []model.MemoryRecord `json:"memories"`
}

type searchInput struct {
	Namespace string           `json:"namespace,omitempty"`
	Query     model.SearchQuery `json:"query"`
}

type editMemoryInput struct {
	ID    string             `json:"id" jsonschema:"required"`
	Patch model.MemoryRecord `json:"patch"`
}

type deleteMemoriesInput struct {
	IDs []string `json:"ids" jsonschema:"required"`
}

func registerTools(server *sdk.Server, service *memoryd.Service) {
	sdk.AddTool(server, &sdk.Tool{
		Name:        "health",
		Description: "Report the memory service's current time",
	}, func(ctx context.Context, req *sdk.CallToolRequest, in healthInput) (*sdk.CallToolResult, any, error) {
		return nil, map[string]any{"now": memoryd.Now().UnixMilli()}, nil
	})

	sdk.AddTool(server, &sdk.Tool{
		Name:        "sessions_list",
		Description: "List working-memory sessions in a namespace",
	}, func(ctx context.Context, req *sdk.CallToolRequest, in sessionListInput) (*sdk.CallToolResult, any, error) {
		out, err := service.ListSessions(ctx, in.Namespace, in.Limit, in.Offset)
		if err != nil {
			return nil, nil, err
		}
		return nil, out, nil
	})

	sdk.AddTool(server, &sdk.Tool{
		Name:        "session_get",
		Description: "Fetch a session's working memory",
	}, func(ctx context.Context, req *sdk.CallToolRequest, in sessionGetInput) (*sdk.CallToolResult, any, error) {
		out, err := service.GetSession(ctx, in.Namespace, in.SessionID, memoryd.SessionQueryOverrides{
			WindowSize:       in.WindowSize,
			ModelName:        in.ModelName,
			ContextWindowMax: in.ContextWindowMax,
		})
		if err != nil {
			return nil, nil, err
		}
		return nil, out, nil
	})

	sdk.AddTool(server, &sdk.Tool{
		Name:        "session_put",
		Description: "Write a session's working memory, applying the bounded-window and summarization triggers",
	}, func(ctx context.Context, req *sdk.CallToolRequest, in sessionPutInput) (*sdk.CallToolResult, any, error) {
		out, err := service.PutSession(ctx, in.Namespace, in.SessionID, in.WorkingMemory, in.ExpectedVersion)
		if err != nil {
			return nil, nil, err
		}
		return nil, out, nil
	})

	sdk.AddTool(server, &sdk.Tool{
		Name:        "session_delete",
		Description: "Delete a session's working memory",
	}, func(ctx context.Context, req *sdk.CallToolRequest, in sessionDeleteInput) (*sdk.CallToolResult, any, error) {
		if err := service.DeleteSession(ctx, in.Namespace, in.SessionID); err != nil {
			return nil, nil, err
		}
		return nil, map[string]string{"status": "ok"}, nil
	})

	sdk.AddTool(server, &sdk.Tool{
		Name:        "long_term_memory_index",
		Description: "Index new long-term memory records, deduplicating against existing ones",
	}, func(ctx context.Context, req *sdk.CallToolRequest, in indexMemoriesInput) (*sdk.CallToolResult, any, error) {
		out, err := service.IndexMemories(ctx, in.Memories)
		if err != nil {
			return nil, nil, err
		}
		return nil, map[string]any{"status": "ok", "memories": out}, nil
	})

	sdk.AddTool(server, &sdk.Tool{
		Name:        "long_term_memory_search",
		Description: "Search long-term memory by vector similarity and filters",
	}, func(ctx context.Context, req *sdk.CallToolRequest, in searchInput) (*sdk.CallToolResult, any, error) {
		out, err := service.SearchLongTerm(ctx, in.Query)
		if err != nil {
			return nil, nil, err
		}
		return nil, out, nil
	})

	sdk.AddTool(server, &sdk.Tool{
		Name:        "memory_search",
		Description: "Search both working memory (substring) and long-term memory (semantic), merged by weighted score",
	}, func(ctx context.Context, req *sdk.CallToolRequest, in searchInput) (*sdk.CallToolResult, any, error) {
		out, err := service.SearchMerged(ctx, in.Namespace, in.Query)
		if err != nil {
			return nil, nil, err
		}
		return nil, out, nil
	})

	sdk.AddTool(server, &sdk.Tool{
		Name:        "memory_edit",
		Description: "Apply a partial update to a long-term memory record",
	}, func(ctx context.Context, req *sdk.CallToolRequest, in editMemoryInput) (*sdk.CallToolResult, any, error) {
		out, err := service.EditMemory(ctx, in.ID, in.Patch)
		if err != nil {
			return nil, nil, err
		}
		return nil, out, nil
	})

	sdk.AddTool(server, &sdk.Tool{
		Name:        "memory_delete",
		Description: "Delete long-term memory records by id",
	}, func(ctx context.Context, req *sdk.CallToolRequest, in deleteMemoriesInput) (*sdk.CallToolResult, any, error) {
		n, err := service.DeleteMemories(ctx, in.IDs)
		if err != nil {
			return nil, nil, err
		}
		return nil, map[string]any{"deleted": n}, nil
	})

	sdk.AddTool(server, &sdk.Tool{
		Name:        "memory_prompt",
		Description: "Hydrate an LLM-ready message list from working memory plus a long-term search",
	}, func(ctx context.Context, req *sdk.CallToolRequest, in memoryd.PromptRequest) (*sdk.CallToolResult, any, error) {
		messages, err := service.HydratePrompt(ctx, in)
		if err != nil {
			return nil, nil, err
		}
		return nil, map[string]any{"messages": messages}, nil
	})
}

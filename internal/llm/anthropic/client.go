// Package anthropic adapts the anthropic-sdk-go client to llm.ChatClient,
// following the client-construction pattern of the teacher's
// internal/llm/anthropic client (option.WithAPIKey/WithBaseURL, an injected
// *http.Client) without its prompt-caching and extended-thinking surface.
// Anthropic has no public embeddings endpoint, so Client implements only
// llm.ChatClient; the registry must not be asked to use it for embedding.
package anthropic

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"agentmemory/internal/llm"
)

const defaultMaxTokens int64 = 1024

// Client wraps the Anthropic SDK client.
type Client struct {
	sdk anthropic.Client
}

// New builds a Client. httpClient may be nil to use http.DefaultClient.
func New(apiKey, baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(apiKey)),
		option.WithHTTPClient(httpClient),
	}
	if base := strings.TrimSpace(baseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/")))
	}
	return &Client{sdk: anthropic.NewClient(opts...)}
}

// Chat implements llm.ChatClient.
func (c *Client) Chat(ctx context.Context, msgs []llm.Message, model string) (string, error) {
	var system string
	var turns []anthropic.MessageParam
	for _, m := range msgs {
		switch m.Role {
		case "system":
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		case "assistant":
			turns = append(turns, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			turns = append(turns, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: defaultMaxTokens,
		Messages:  turns,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic message: %w", err)
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

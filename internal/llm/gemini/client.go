// Package gemini adapts google.golang.org/genai to llm.ChatClient and
// llm.Embedder, following the client-construction pattern of the teacher's
// internal/llm/google client (genai.ClientConfig with an injected
// *http.Client and HTTPOptions) without its streaming and thought-signature
// bookkeeping, which this service never drives.
package gemini

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	genai "google.golang.org/genai"

	"agentmemory/internal/llm"
)

// Client wraps a genai.Client.
type Client struct {
	client *genai.Client
}

// New builds a Client. httpClient may be nil to use http.DefaultClient.
func New(ctx context.Context, apiKey, baseURL string, httpClient *http.Client) (*Client, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	httpOpts := genai.HTTPOptions{}
	if base := strings.TrimSpace(baseURL); base != "" {
		httpOpts.BaseURL = strings.TrimSuffix(base, "/") + "/"
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      strings.TrimSpace(apiKey),
		HTTPClient:  httpClient,
		HTTPOptions: httpOpts,
	})
	if err != nil {
		return nil, fmt.Errorf("init gemini client: %w", err)
	}
	return &Client{client: c}, nil
}

// Chat implements llm.ChatClient.
func (c *Client) Chat(ctx context.Context, msgs []llm.Message, model string) (string, error) {
	var system *genai.Content
	var contents []*genai.Content
	for _, m := range msgs {
		part := genai.NewPartFromText(m.Content)
		switch m.Role {
		case "system":
			system = genai.NewContentFromParts([]*genai.Part{part}, genai.RoleUser)
		case "assistant":
			contents = append(contents, genai.NewContentFromParts([]*genai.Part{part}, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromParts([]*genai.Part{part}, genai.RoleUser))
		}
	}

	var cfg *genai.GenerateContentConfig
	if system != nil {
		cfg = &genai.GenerateContentConfig{SystemInstruction: system}
	}

	resp, err := c.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}
	return resp.Text(), nil
}

// Embed implements llm.Embedder.
func (c *Client) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromParts([]*genai.Part{genai.NewPartFromText(t)}, genai.RoleUser)
	}
	resp, err := c.client.Models.EmbedContent(ctx, model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("gemini embed content: %w", err)
	}
	out := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

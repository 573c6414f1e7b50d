package llm

import "fmt"

// Registry dispatches ModelClient calls by model name, mirroring the
// provider-registry design note of spec §9: each entry declares whether it
// can embed, and the engine must refuse to configure a non-embedding
// provider as the embedding model.
type Registry struct {
	byModel map[string]Provider
	chat    string
	embed   string
}

// NewRegistry builds an empty registry. Register providers with Register,
// then pick the defaults used when a caller passes no model name with
// SetDefaultChat/SetDefaultEmbed.
func NewRegistry() *Registry {
	return &Registry{byModel: make(map[string]Provider)}
}

// Register associates one or more model names with a provider.
func (r *Registry) Register(p Provider, models ...string) {
	for _, m := range models {
		r.byModel[m] = p
	}
}

// SetDefaultChat names the model used when a caller omits model_name.
func (r *Registry) SetDefaultChat(model string) { r.chat = model }

// SetDefaultEmbed names the model used for embedding when unspecified.
func (r *Registry) SetDefaultEmbed(model string) { r.embed = model }

// Resolve returns the provider registered for model, or the default chat
// provider if model is empty.
func (r *Registry) Resolve(model string) (Provider, string, error) {
	if model == "" {
		model = r.chat
	}
	p, ok := r.byModel[model]
	if !ok {
		return Provider{}, "", fmt.Errorf("unknown model %q", model)
	}
	return p, model, nil
}

// ResolveEmbedder returns the embedder registered for model (or the default
// embed model), erroring if that provider cannot embed.
func (r *Registry) ResolveEmbedder(model string) (Embedder, string, error) {
	if model == "" {
		model = r.embed
	}
	p, ok := r.byModel[model]
	if !ok {
		return nil, "", fmt.Errorf("unknown model %q", model)
	}
	if p.Embedder == nil {
		return nil, "", fmt.Errorf("provider %q for model %q does not support embedding", p.Name, model)
	}
	return p.Embedder, model, nil
}

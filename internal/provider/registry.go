// Package provider knows which AI providers exist and which of them have credentials.
package provider

import "github.com/vdavid/mailpilot/internal/config"

const (
	OpenAI     = "openai"
	Anthropic  = "anthropic"
	Google     = "google"
	Groq       = "groq"
	OpenRouter = "openrouter"
)

type definition struct {
	name         string
	baseURL      string
	defaultModel string
}

// Every provider is reached through its OpenAI-compatible chat completions endpoint.
var known = []definition{
	{name: OpenAI, baseURL: "https://api.openai.com/v1", defaultModel: "gpt-4o-mini"},
	{name: Anthropic, baseURL: "https://api.anthropic.com/v1", defaultModel: "claude-3-5-haiku-latest"},
	{name: Google, baseURL: "https://generativelanguage.googleapis.com/v1beta/openai", defaultModel: "gemini-2.0-flash"},
	{name: Groq, baseURL: "https://api.groq.com/openai/v1", defaultModel: "llama-3.1-8b-instant"},
	{name: OpenRouter, baseURL: "https://openrouter.ai/api/v1", defaultModel: "openai/gpt-4o-mini"},
}

// Registry maps provider names to their credentials.
type Registry struct {
	keys     map[string]string
	baseURLs map[string]string
}

// NewRegistry reads provider API keys from cfg.
func NewRegistry(cfg *config.Config) *Registry {
	return NewRegistryFromKeys(map[string]string{
		OpenAI:     cfg.OpenAIAPIKey,
		Anthropic:  cfg.AnthropicAPIKey,
		Google:     cfg.GoogleAPIKey,
		Groq:       cfg.GroqAPIKey,
		OpenRouter: cfg.OpenRouterAPIKey,
	})
}

// NewRegistryFromKeys builds a registry from name -> API key. Unknown names are ignored.
func NewRegistryFromKeys(keys map[string]string) *Registry {
	r := &Registry{
		keys:     make(map[string]string, len(known)),
		baseURLs: make(map[string]string, len(known)),
	}
	for _, d := range known {
		r.baseURLs[d.name] = d.baseURL
		if key := keys[d.name]; key != "" {
			r.keys[d.name] = key
		}
	}
	return r
}

// WithBaseURL overrides the endpoint of one provider, e.g. to point it at a proxy or a test server.
func (r *Registry) WithBaseURL(name, baseURL string) *Registry {
	if _, ok := r.baseURLs[name]; ok {
		r.baseURLs[name] = baseURL
	}
	return r
}

// Known returns every supported provider in a fixed order.
func (r *Registry) Known() []string {
	names := make([]string, len(known))
	for i, d := range known {
		names[i] = d.name
	}
	return names
}

// Configured returns the providers that have an API key, in the order of Known.
func (r *Registry) Configured() []string {
	var names []string
	for _, d := range known {
		if r.IsConfigured(d.name) {
			names = append(names, d.name)
		}
	}
	return names
}

func (r *Registry) IsConfigured(name string) bool {
	_, ok := r.keys[name]
	return ok
}

func (r *Registry) IsKnown(name string) bool {
	_, ok := r.baseURLs[name]
	return ok
}

func (r *Registry) APIKey(name string) string {
	return r.keys[name]
}

func (r *Registry) BaseURL(name string) string {
	return r.baseURLs[name]
}

// DefaultModel is the model used when a request does not name one.
func (r *Registry) DefaultModel(name string) string {
	for _, d := range known {
		if d.name == name {
			return d.defaultModel
		}
	}
	return ""
}

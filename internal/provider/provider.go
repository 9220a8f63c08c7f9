// Package provider is the static registry of chat backends: where each one
// lives, how it authenticates, and which streaming wire format it speaks.
package provider

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"sidepanel/internal/urlguard"
)

// ID names a backend as it appears in config and on model entries.
type ID string

const (
	Ollama   ID = "ollama"
	LMStudio ID = "lmstudio"
	OpenAI   ID = "openai"
	Gemini   ID = "gemini"
	Groq     ID = "groq"
)

// Kind is the deployment shape of a backend.
type Kind string

const (
	KindLocalDaemon       Kind = "local-daemon"
	KindLocalOpenAICompat Kind = "local-openai-compat"
	KindHostedA           Kind = "hosted-a"
	KindHostedB           Kind = "hosted-b"
	KindHostedC           Kind = "hosted-c"
)

// WireFormat is the framing a backend uses for streamed completions.
type WireFormat string

const (
	WireNDJSON    WireFormat = "ndjson"
	WireSSEOpenAI WireFormat = "sse-openai"
	WireSSECustom WireFormat = "sse-custom"
)

// ErrUnknownProvider is returned for ids missing from the registry.
var ErrUnknownProvider = errors.New("unknown provider")

// Credentials carries everything an auth rule or URL template may need.
type Credentials struct {
	OllamaURL    string
	LMStudioURL  string
	OpenAIAPIKey string
	GeminiAPIKey string
	GroqAPIKey   string
}

// Message is one chat turn on the wire.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatBody is the POST body every backend accepts.
type ChatBody struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// Descriptor is immutable once registered.
type Descriptor struct {
	ID         ID
	Kind       Kind
	WireFormat WireFormat
	// BaseTemplate may reference {ollama_url} or {lmstudio_url}.
	BaseTemplate string
	ChatPath     string
	ModelsPath   string
	// ErrorField is the gjson path of a provider-embedded error object.
	ErrorField string
	AuthRule   func(Credentials) http.Header
	// ModelFilter, when set, keeps only matching model ids on discovery.
	ModelFilter func(id string) bool
}

// BaseURL expands the template with the configured local server URLs.
func (d Descriptor) BaseURL(c Credentials) string {
	r := strings.NewReplacer(
		"{ollama_url}", urlguard.Clean(c.OllamaURL),
		"{lmstudio_url}", urlguard.Clean(c.LMStudioURL),
	)
	return r.Replace(d.BaseTemplate)
}

// ChatURL is the completions endpoint.
func (d Descriptor) ChatURL(c Credentials) string {
	return d.BaseURL(c) + d.ChatPath
}

// ModelsURL is the model listing endpoint.
func (d Descriptor) ModelsURL(c Credentials) string {
	return d.BaseURL(c) + d.ModelsPath
}

// Headers returns the auth headers for c. Local servers get none.
func (d Descriptor) Headers(c Credentials) http.Header {
	if d.AuthRule == nil {
		return http.Header{}
	}
	return d.AuthRule(c)
}

// APIKey returns the bearer token the descriptor would send, or "".
func (d Descriptor) APIKey(c Credentials) string {
	auth := d.Headers(c).Get("Authorization")
	return strings.TrimPrefix(auth, "Bearer ")
}

// Configured reports whether c carries what this backend needs.
func (d Descriptor) Configured(c Credentials) bool {
	switch d.ID {
	case Ollama:
		return c.OllamaURL != ""
	case LMStudio:
		return c.LMStudioURL != ""
	default:
		return d.APIKey(c) != ""
	}
}

func bearer(key func(Credentials) string) func(Credentials) http.Header {
	return func(c Credentials) http.Header {
		h := http.Header{}
		if k := key(c); k != "" {
			h.Set("Authorization", "Bearer "+k)
		}
		return h
	}
}

// Registry maps ids to descriptors.
type Registry struct {
	byID map[ID]Descriptor
}

// NewRegistry returns a registry holding the given descriptors.
func NewRegistry(descs ...Descriptor) *Registry {
	r := &Registry{byID: make(map[ID]Descriptor, len(descs))}
	for _, d := range descs {
		r.byID[d.ID] = d
	}
	return r
}

// Default returns the registry of the five built-in backends.
func Default() *Registry {
	return NewRegistry(
		Descriptor{
			ID:           Ollama,
			Kind:         KindLocalDaemon,
			WireFormat:   WireNDJSON,
			BaseTemplate: "{ollama_url}",
			ChatPath:     "/api/chat",
			ModelsPath:   "/api/tags",
		},
		Descriptor{
			ID:           LMStudio,
			Kind:         KindLocalOpenAICompat,
			WireFormat:   WireSSEOpenAI,
			BaseTemplate: "{lmstudio_url}/v1",
			ChatPath:     "/chat/completions",
			ModelsPath:   "/models",
			ErrorField:   "x_groq.error",
		},
		Descriptor{
			ID:           OpenAI,
			Kind:         KindHostedA,
			WireFormat:   WireSSEOpenAI,
			BaseTemplate: "https://api.openai.com/v1",
			ChatPath:     "/chat/completions",
			ModelsPath:   "/models",
			ErrorField:   "x_openai.error",
			AuthRule:     bearer(func(c Credentials) string { return c.OpenAIAPIKey }),
			ModelFilter:  func(id string) bool { return strings.HasPrefix(id, "gpt-") },
		},
		Descriptor{
			ID:           Gemini,
			Kind:         KindHostedB,
			WireFormat:   WireSSECustom,
			BaseTemplate: "https://generativelanguage.googleapis.com/v1beta/openai",
			ChatPath:     "/chat/completions",
			ModelsPath:   "/models",
			ErrorField:   "x_gemini.error",
			AuthRule:     bearer(func(c Credentials) string { return c.GeminiAPIKey }),
		},
		Descriptor{
			ID:           Groq,
			Kind:         KindHostedC,
			WireFormat:   WireSSEOpenAI,
			BaseTemplate: "https://api.groq.com/openai/v1",
			ChatPath:     "/chat/completions",
			ModelsPath:   "/models",
			ErrorField:   "x_groq.error",
			AuthRule:     bearer(func(c Credentials) string { return c.GroqAPIKey }),
		},
	)
}

// Lookup returns the descriptor for id.
func (r *Registry) Lookup(id ID) (Descriptor, error) {
	d, ok := r.byID[id]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownProvider, id)
	}
	return d, nil
}

// All returns every descriptor ordered by id.
func (r *Registry) All() []Descriptor {
	out := make([]Descriptor, 0, len(r.byID))
	for _, d := range r.byID {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ParseID accepts the canonical ids plus the panel's "lmStudio" spelling.
func ParseID(s string) (ID, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ollama":
		return Ollama, nil
	case "lmstudio", "lm-studio":
		return LMStudio, nil
	case "openai":
		return OpenAI, nil
	case "gemini":
		return Gemini, nil
	case "groq":
		return Groq, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
}

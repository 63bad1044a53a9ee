// Package llm defines the provider-agnostic completion contract (SPEC_FULL
// §4.5) and the model catalog, adapted from the teacher's
// internal/agent/provider_types.go onto this module's models package.
package llm

import (
	"context"

	"github.com/restflow/restflow/internal/models"
)

// Provider is a streaming LLM backend.
type Provider interface {
	// Complete streams a response to req; the channel is closed after a
	// chunk with Done set or an Error is delivered.
	Complete(ctx context.Context, req *Request) (<-chan *Chunk, error)
	Name() string
	Models() []Model
	SupportsTools() bool
}

// Request is a single completion call: conversation history, optional
// system prompt, tool declarations, and generation parameters.
type Request struct {
	Model                string           `json:"model"`
	System               string           `json:"system,omitempty"`
	Messages             []models.Message `json:"messages"`
	Tools                []ToolDecl       `json:"tools,omitempty"`
	MaxTokens            int              `json:"max_tokens,omitempty"`
	EnableThinking       bool             `json:"enable_thinking,omitempty"`
	ThinkingBudgetTokens int              `json:"thinking_budget_tokens,omitempty"`
}

// ToolDecl is a tool's LLM-facing declaration: name, description, schema.
type ToolDecl struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  []byte `json:"parameters"`
}

// Chunk is one unit of a streamed completion.
type Chunk struct {
	Text          string          `json:"text,omitempty"`
	ToolCall      *models.ToolCall `json:"tool_call,omitempty"`
	Thinking      string          `json:"thinking,omitempty"`
	ThinkingStart bool            `json:"thinking_start,omitempty"`
	ThinkingEnd   bool            `json:"thinking_end,omitempty"`
	Done          bool            `json:"done,omitempty"`
	Error         error           `json:"-"`
	InputTokens   int             `json:"input_tokens,omitempty"`
	OutputTokens  int             `json:"output_tokens,omitempty"`
}

// Model describes one model a provider exposes.
type Model struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Provider       string `json:"provider"`
	ContextSize    int    `json:"context_size"`
	SupportsVision bool   `json:"supports_vision"`
	SupportsTools  bool   `json:"supports_tools"`
	InputCostPerM  float64 `json:"input_cost_per_m,omitempty"`
	OutputCostPerM float64 `json:"output_cost_per_m,omitempty"`
}

// Registry resolves a model ID or bare provider name to a configured
// Provider, mirroring the teacher's multi-provider selection without the
// extra failover/routing machinery the spec does not call for.
type Registry struct {
	providers map[string]Provider
	order     []string
}

// NewRegistry builds an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider under its Name().
func (r *Registry) Register(p Provider) {
	name := p.Name()
	if _, exists := r.providers[name]; !exists {
		r.order = append(r.order, name)
	}
	r.providers[name] = p
}

// Get returns a provider by name.
func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// All returns every registered provider in registration order.
func (r *Registry) All() []Provider {
	out := make([]Provider, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.providers[name])
	}
	return out
}

// AllModels flattens every provider's model catalog.
func (r *Registry) AllModels() []Model {
	var out []Model
	for _, p := range r.All() {
		out = append(out, p.Models()...)
	}
	return out
}

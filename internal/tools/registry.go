package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/restflow/restflow/internal/models"
)

const (
	// DefaultTimeout is the per-tool call deadline absent an override.
	DefaultTimeout = 300 * time.Second
	// MaxToolNameLength bounds registered tool names, grounded on the
	// teacher's tool_registry.go guard of the same name.
	MaxToolNameLength = 256
	// MaxParamsSize bounds a single call's serialized argument size.
	MaxParamsSize = 10 << 20
)

// Tool is a registered capability: a stable name, description, JSON-Schema
// parameters, an optional per-input parallel-safety predicate, and an
// execute function returning the uniform ToolOutput contract.
type Tool interface {
	Name() string
	Description() string
	Parameters() json.RawMessage
	// SupportsParallelFor reports whether this call may run concurrently
	// with other calls in the same model turn. Tools that are always safe
	// or always unsafe may ignore args.
	SupportsParallelFor(args json.RawMessage) bool
	Execute(ctx context.Context, args json.RawMessage) models.ToolOutput
}

// SecurityGate may veto any tool action.
type SecurityGate interface {
	Check(toolName, operation, target, summary, agentID, taskID string) error
}

// Registry holds tools by name. It is built once and treated as immutable
// afterward (SPEC_FULL §5), matching the teacher's tool_registry.go shape.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool

	gate SecurityGate
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// SetSecurityGate installs an optional veto hook.
func (r *Registry) SetSecurityGate(g SecurityGate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gate = g
}

// Register validates and adds a tool. Its parameters schema is compiled
// once here so a malformed schema fails fast at registration, not at call
// time.
func (r *Registry) Register(t Tool) error {
	name := t.Name()
	if name == "" || len(name) > MaxToolNameLength {
		return fmt.Errorf("tools: invalid tool name %q", name)
	}
	if _, err := compileSchema(t.Parameters()); err != nil {
		return fmt.Errorf("tools: %s: invalid parameters schema: %w", name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = t
	return nil
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a registered tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns every registered tool, order unspecified.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

func compileSchema(schema json.RawMessage) (*jsonschema.Schema, error) {
	if len(schema) == 0 {
		return nil, nil
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", bytes.NewReader(schema)); err != nil {
		return nil, err
	}
	return c.Compile("schema.json")
}

// Execute runs a single call: validates arguments against the tool's
// schema, applies the security gate, then runs under a per-call timeout,
// producing a ToolOutput per the uniform contract (never panics or returns
// a bare Go error to the caller).
func (r *Registry) Execute(ctx context.Context, callID, toolName string, args json.RawMessage, agentID, taskID string, timeout time.Duration) models.ToolOutput {
	t, ok := r.Get(toolName)
	if !ok {
		return ToOutput(toolName, NewError(toolName, models.ErrNotFound, ErrToolNotFound))
	}
	if len(args) > MaxParamsSize {
		return ToOutput(toolName, NewError(toolName, models.ErrConfig, fmt.Errorf("arguments exceed %d bytes", MaxParamsSize)))
	}
	if schema, err := compileSchema(t.Parameters()); err == nil && schema != nil {
		var v any
		if err := json.Unmarshal(args, &v); err != nil {
			return ToOutput(toolName, NewError(toolName, models.ErrConfig, fmt.Errorf("invalid json arguments: %w", err)))
		}
		if err := schema.Validate(v); err != nil {
			return ToOutput(toolName, NewError(toolName, models.ErrConfig, fmt.Errorf("argument validation: %w", err)))
		}
	}

	r.mu.RLock()
	gate := r.gate
	r.mu.RUnlock()
	if gate != nil {
		if err := gate.Check(toolName, "execute", toolName, toolName+" invocation", agentID, taskID); err != nil {
			return ToOutput(toolName, NewError(toolName, models.ErrAuth, err))
		}
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultCh := make(chan models.ToolOutput, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				resultCh <- ToOutput(toolName, NewError(toolName, models.ErrExecution, fmt.Errorf("panic: %v", rec)))
			}
		}()
		resultCh <- t.Execute(callCtx, args)
	}()

	select {
	case out := <-resultCh:
		return out
	case <-callCtx.Done():
		if callCtx.Err() == context.DeadlineExceeded {
			return ToOutput(toolName, NewError(toolName, models.ErrTimeout, ErrToolTimeout))
		}
		return ToOutput(toolName, NewError(toolName, models.ErrExecution, callCtx.Err()))
	}
}

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/restflow/restflow/internal/models"
)

// MaxBatchSize is the maximum number of sub-invocations per batch call,
// grounded on original_source/crates/restflow-tools/src/impls/batch.rs.
const MaxBatchSize = 25

type batchInvocation struct {
	Tool  string          `json:"tool"`
	Input json.RawMessage `json:"input"`
}

type batchParams struct {
	Invocations     []batchInvocation `json:"invocations"`
	ContinueOnError *bool             `json:"continue_on_error,omitempty"`
	TimeoutSecs     *int64            `json:"timeout_secs,omitempty"`
}

// BatchTool executes up to MaxBatchSize sub-invocations in one round trip,
// each sub-call running concurrently under the same Executor bound used for
// any other tool-call group.
type BatchTool struct {
	registry *Registry
	executor *Executor
}

// NewBatchTool builds the batch tool backed by the given registry and
// executor. It must be registered on the same registry it wraps.
func NewBatchTool(registry *Registry, executor *Executor) *BatchTool {
	return &BatchTool{registry: registry, executor: executor}
}

func (t *BatchTool) Name() string        { return "batch" }
func (t *BatchTool) Description() string {
	return "Execute up to 25 tool calls in a single invocation. Each sub-call runs in parallel. " +
		"Use this to batch multiple independent operations and avoid round-trip overhead."
}

func (t *BatchTool) Parameters() json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{
		"type": "object",
		"properties": {
			"invocations": {
				"type": "array",
				"description": "Array of tool invocations to execute in parallel (max %d)",
				"maxItems": %d,
				"items": {
					"type": "object",
					"properties": {
						"tool": {"type": "string", "description": "Name of the tool to invoke"},
						"input": {"type": "object", "description": "Input arguments for the tool"}
					},
					"required": ["tool", "input"]
				}
			},
			"continue_on_error": {
				"type": "boolean",
				"default": true,
				"description": "Continue executing remaining invocations if one fails (default: true)"
			},
			"timeout_secs": {
				"type": "integer",
				"description": "Optional per-invocation timeout in seconds"
			}
		},
		"required": ["invocations"]
	}`, MaxBatchSize, MaxBatchSize))
}

// SupportsParallelFor is always false: batch itself must run alone in its
// tool-call group (its sub-invocations provide their own parallelism).
func (t *BatchTool) SupportsParallelFor(json.RawMessage) bool { return false }

type batchResultEntry struct {
	Index   int    `json:"index"`
	Tool    string `json:"tool"`
	Success bool   `json:"success"`
	Output  any    `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Execute runs every sub-invocation concurrently (bounded by the shared
// executor's semaphore) and assembles results in input order, matching the
// batch.rs FuturesOrdered contract.
func (t *BatchTool) Execute(ctx context.Context, args json.RawMessage) models.ToolOutput {
	var params batchParams
	if err := json.Unmarshal(args, &params); err != nil {
		return ToOutput(t.Name(), NewError(t.Name(), models.ErrConfig, fmt.Errorf("invalid batch parameters: %w", err)))
	}

	continueOnError := true
	if params.ContinueOnError != nil {
		continueOnError = *params.ContinueOnError
	}

	if len(params.Invocations) == 0 {
		return successOutput(map[string]any{
			"results": []batchResultEntry{},
			"summary": map[string]any{"total": 0, "succeeded": 0, "failed": 0},
		})
	}

	if len(params.Invocations) > MaxBatchSize {
		return ToOutput(t.Name(), NewError(t.Name(), models.ErrConfig,
			fmt.Errorf("batch size %d exceeds maximum of %d", len(params.Invocations), MaxBatchSize)))
	}

	for _, inv := range params.Invocations {
		if inv.Tool == "batch" {
			return ToOutput(t.Name(), NewError(t.Name(), models.ErrConfig, fmt.Errorf("recursive batch calls are not allowed")))
		}
	}

	calls := make([]Call, len(params.Invocations))
	for i, inv := range params.Invocations {
		calls[i] = Call{ID: fmt.Sprintf("batch-%d", i), ToolName: inv.Tool, Args: inv.Input}
	}

	execCfg := t.executor.config
	if params.TimeoutSecs != nil {
		execCfg.PerCallTimeout = time.Duration(*params.TimeoutSecs) * time.Second
	}
	sub := NewExecutor(t.registry, execCfg)

	results := runBatch(ctx, sub, calls, continueOnError)

	succeeded, failed := 0, 0
	entries := make([]batchResultEntry, len(results))
	for i, r := range results {
		entries[i] = r
		if r.Success {
			succeeded++
		} else {
			failed++
		}
	}

	return successOutput(map[string]any{
		"results": entries,
		"summary": map[string]any{
			"total":     succeeded + failed,
			"succeeded": succeeded,
			"failed":    failed,
		},
	})
}

// runBatch executes every call concurrently and, when continueOnError is
// false, still lets all in-flight calls finish but reports only results up
// to and including the first failure in call order (the remainder are
// omitted as "skipped", mirroring batch.rs's early break on the ordered
// stream).
func runBatch(ctx context.Context, executor *Executor, calls []Call, continueOnError bool) []batchResultEntry {
	raw := executor.ExecuteGroup(ctx, "", "", calls, nil)

	entries := make([]batchResultEntry, len(raw))
	for i, r := range raw {
		entries[i] = batchResultEntry{
			Index:   i,
			Tool:    r.Call.ToolName,
			Success: r.Output.Success,
			Output:  r.Output.Result,
			Error:   r.Output.Error,
		}
	}

	if continueOnError {
		return entries
	}

	for i, e := range entries {
		if !e.Success {
			return entries[:i+1]
		}
	}
	return entries
}

func successOutput(v any) models.ToolOutput {
	return models.ToolOutput{Success: true, Result: v}
}

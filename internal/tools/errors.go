// Package tools implements the tool registry and invocation contracts
// (SPEC_FULL §4.4): discovery, parallelism grouping, per-call timeouts,
// security gating, the structured error taxonomy, and the batch fanout
// tool. Grounded on internal/agent/tool_registry.go, tool_exec.go, and
// errors.go from the teacher, generalized to the spec's seven-category
// ToolOutput shape.
package tools

import (
	"errors"
	"fmt"
	"strings"

	"github.com/restflow/restflow/internal/models"
)

var (
	ErrToolNotFound   = errors.New("tools: tool not found")
	ErrToolTimeout    = errors.New("tools: execution timed out")
	ErrToolPanic      = errors.New("tools: tool panicked")
	ErrMaxInvocations = errors.New("tools: too many invocations")
)

// Error is a structured, classified tool failure, carrying everything
// needed to populate a models.ToolOutput.
type Error struct {
	Category   models.ErrorCategory
	ToolName   string
	ToolCallID string
	Message    string
	Cause      error
	RetryAfterMs int64
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Category))
	if e.ToolName != "" {
		parts = append(parts, e.ToolName)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports the taxonomy's retry hint for this error's category.
func (e *Error) Retryable() bool { return e.Category.Retryable() }

// NewError builds a classified Error, inferring the category from cause's
// text when category is empty.
func NewError(toolName string, category models.ErrorCategory, cause error) *Error {
	e := &Error{ToolName: toolName, Cause: cause, Category: category}
	if cause != nil {
		e.Message = cause.Error()
	}
	if e.Category == "" {
		e.Category = Classify(cause)
	}
	return e
}

// Classify maps a generic Go error onto the RestFlow error taxonomy by
// inspecting sentinel errors first, then error text, following the pattern
// of the teacher's classifyToolError.
func Classify(err error) models.ErrorCategory {
	if err == nil {
		return models.ErrExecution
	}
	if errors.Is(err, ErrToolNotFound) {
		return models.ErrNotFound
	}
	if errors.Is(err, ErrToolTimeout) {
		return models.ErrTimeout
	}

	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "timeout"), strings.Contains(s, "deadline exceeded"):
		return models.ErrTimeout
	case strings.Contains(s, "rate limit"), strings.Contains(s, "429"), strings.Contains(s, "too many requests"):
		return models.ErrRateLimit
	case strings.Contains(s, "connection"), strings.Contains(s, "network"), strings.Contains(s, "dns"),
		strings.Contains(s, "refused"), strings.Contains(s, "unreachable"), strings.Contains(s, "5xx"):
		return models.ErrNetwork
	case strings.Contains(s, "forbidden"), strings.Contains(s, "unauthorized"), strings.Contains(s, "access denied"),
		strings.Contains(s, "credential"), strings.Contains(s, "allowlist"):
		return models.ErrAuth
	case strings.Contains(s, "not found"), strings.Contains(s, "no such"):
		return models.ErrNotFound
	case strings.Contains(s, "invalid"), strings.Contains(s, "required"), strings.Contains(s, "missing"),
		strings.Contains(s, "path traversal"), strings.Contains(s, "malformed"):
		return models.ErrConfig
	default:
		return models.ErrExecution
	}
}

// ToOutput converts any error into a failed ToolOutput, classifying it if it
// is not already a *Error.
func ToOutput(toolName string, err error) models.ToolOutput {
	var te *Error
	if errors.As(err, &te) {
		return models.ToolOutput{
			Success:       false,
			Error:         te.Error(),
			ErrorCategory: te.Category,
			Retryable:     te.Retryable(),
			RetryAfterMs:  te.RetryAfterMs,
		}
	}
	cat := Classify(err)
	return models.ToolOutput{
		Success:       false,
		Error:         err.Error(),
		ErrorCategory: cat,
		Retryable:     cat.Retryable(),
	}
}

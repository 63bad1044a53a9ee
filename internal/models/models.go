// Package models holds the core data-transfer types shared across RestFlow's
// components: tasks, agents, messages, tool calls, audit entries, channel
// messages, triggers, and pairing records.
package models

import "time"

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskPending     TaskStatus = "pending"
	TaskRunning     TaskStatus = "running"
	TaskCompleted   TaskStatus = "completed"
	TaskFailed      TaskStatus = "failed"
	TaskPaused      TaskStatus = "paused"
	TaskInterrupted TaskStatus = "interrupted"
)

// Priority classifies scheduling urgency for the in-memory queue variant.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// priorityRank orders priorities for pop precedence; lower ranks first.
var priorityRank = map[Priority]int{
	PriorityCritical: 0,
	PriorityHigh:     1,
	PriorityNormal:   2,
	PriorityLow:      3,
}

// Rank returns the pop precedence of p, lower popping first. Unknown values
// rank as Normal.
func (p Priority) Rank() int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return priorityRank[PriorityNormal]
}

// WebhookTrigger configures the HTTP trigger for a task.
type WebhookTrigger struct {
	Token               string `json:"token"`
	RateLimitPerMinute  int    `json:"rate_limit_per_minute,omitempty"`
	Enabled             bool   `json:"enabled"`
}

// ScheduleTrigger configures the cron trigger for a task.
type ScheduleTrigger struct {
	CronExpr string         `json:"cron_expr"`
	Timezone string         `json:"timezone,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// Task is the unit of work submitted to the queue.
type Task struct {
	ID          string           `json:"id"`
	ExecutionID string           `json:"execution_id"`
	AgentRef    string           `json:"agent_ref"`
	Input       any              `json:"input,omitempty"`
	Status      TaskStatus       `json:"status"`
	Priority    Priority         `json:"priority"`
	CreatedAt   int64            `json:"created_at"`
	StartedAt   int64            `json:"started_at,omitempty"`
	CompletedAt int64            `json:"completed_at,omitempty"`
	Output      any              `json:"output,omitempty"`
	Error       string           `json:"error,omitempty"`
	Schedule    *ScheduleTrigger `json:"schedule,omitempty"`
	Webhook     *WebhookTrigger  `json:"webhook,omitempty"`
	// ConversationID, when set, is the originating channel conversation this
	// task should stream progress and replies back to.
	ConversationID string `json:"conversation_id,omitempty"`
}

// NowMillis returns the current time as Unix milliseconds.
func NowMillis() int64 { return time.Now().UnixMilli() }

// Role identifies the author of a conversation Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a model-issued request to invoke a named tool with arguments.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments []byte          `json:"arguments"`
}

// Message is one turn of a conversation held in working memory.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ErrorCategory is the taxonomy of tool/runtime failure kinds.
type ErrorCategory string

const (
	ErrConfig    ErrorCategory = "Config"
	ErrAuth      ErrorCategory = "Auth"
	ErrNotFound  ErrorCategory = "NotFound"
	ErrRateLimit ErrorCategory = "RateLimit"
	ErrNetwork   ErrorCategory = "Network"
	ErrExecution ErrorCategory = "Execution"
	ErrTimeout   ErrorCategory = "Timeout"
)

// Retryable reports whether the category is retryable per the RestFlow error
// taxonomy.
func (c ErrorCategory) Retryable() bool {
	switch c {
	case ErrRateLimit, ErrNetwork, ErrTimeout:
		return true
	default:
		return false
	}
}

// ToolOutput is the uniform structured result of a tool invocation.
type ToolOutput struct {
	Success      bool          `json:"success"`
	Result       any           `json:"result,omitempty"`
	Error        string        `json:"error,omitempty"`
	ErrorCategory ErrorCategory `json:"error_category,omitempty"`
	Retryable    bool          `json:"retryable,omitempty"`
	RetryAfterMs int64         `json:"retry_after_ms,omitempty"`
}

// ChannelType enumerates supported external conversation mediums.
type ChannelType string

const (
	ChannelTelegram ChannelType = "telegram"
	ChannelDiscord  ChannelType = "discord"
	ChannelSlack    ChannelType = "slack"
	ChannelTerminal ChannelType = "terminal"
)

// InboundMessage arrives from a channel adapter.
type InboundMessage struct {
	ID             string         `json:"id"`
	ChannelType    ChannelType    `json:"channel_type"`
	SenderID       string         `json:"sender_id"`
	SenderName     string         `json:"sender_name,omitempty"`
	ConversationID string         `json:"conversation_id"`
	Content        string         `json:"content"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// OutboundLevel tags the severity/intent of an outbound message.
type OutboundLevel string

const (
	LevelInfo    OutboundLevel = "Info"
	LevelSuccess OutboundLevel = "Success"
	LevelWarning OutboundLevel = "Warning"
	LevelError   OutboundLevel = "Error"
)

// OutboundMessage is sent to a channel for delivery to a conversation.
type OutboundMessage struct {
	ConversationID string        `json:"conversation_id"`
	Content        string        `json:"content"`
	Level          OutboundLevel `json:"level,omitempty"`
	ParseMode      string        `json:"parse_mode,omitempty"`
	ReplyTo        string        `json:"reply_to,omitempty"`
}

// AuditEntryType tags the kind of an audit entry.
type AuditEntryType string

const (
	AuditExecutionStart    AuditEntryType = "ExecutionStart"
	AuditLlmCall           AuditEntryType = "LlmCall"
	AuditToolCall          AuditEntryType = "ToolCall"
	AuditExecutionComplete AuditEntryType = "ExecutionComplete"
	AuditExecutionFailed   AuditEntryType = "ExecutionFailed"
)

// AuditEntry is one append-only record in the audit log.
type AuditEntry struct {
	ID          string         `json:"id"`
	TaskID      string         `json:"task_id"`
	ExecutionID string         `json:"execution_id"`
	TimestampMs int64          `json:"timestamp_ms"`
	Type        AuditEntryType `json:"entry_type"`

	// LlmCall fields
	Model        string `json:"model,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
	CostUSD      float64 `json:"cost_usd,omitempty"`
	DurationMs   int64  `json:"duration_ms,omitempty"`
	Iteration    int    `json:"iteration,omitempty"`

	// ToolCall fields
	ToolName   string `json:"tool_name,omitempty"`
	Success    bool   `json:"success,omitempty"`
	InputSize  int    `json:"input_size,omitempty"`
	OutputSize int    `json:"output_size,omitempty"`
	Error      string `json:"error,omitempty"`

	// observability correlation, ambient (SPEC_FULL §3.4)
	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`
}

// Key returns the audit table primary key: task_id:execution_id:timestamp_ms:id.
func (e AuditEntry) Key() string {
	return e.TaskID + ":" + e.ExecutionID + ":" + itoa(e.TimestampMs) + ":" + e.ID
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// AuditSummary aggregates the entries sharing an execution_id.
type AuditSummary struct {
	ExecutionID    string                   `json:"execution_id"`
	TotalLlmCalls  int                      `json:"total_llm_calls"`
	TotalToolCalls int                      `json:"total_tool_calls"`
	TotalTokens    int                      `json:"total_tokens"`
	TotalCostUSD   float64                  `json:"total_cost_usd"`
	TotalDuration  int64                    `json:"total_duration_ms"`
	Success        bool                     `json:"success"`
	PerTool        map[string]*ToolSummary  `json:"per_tool,omitempty"`
	PerModel       map[string]*ModelSummary `json:"per_model,omitempty"`
}

// ToolSummary aggregates one tool's calls within an execution.
type ToolSummary struct {
	CallCount    int   `json:"call_count"`
	Success      int   `json:"success"`
	Failure      int   `json:"failure"`
	TotalDuration int64 `json:"total_duration_ms"`
	AvgDuration  int64 `json:"avg_duration_ms"`
}

// ModelSummary aggregates one model's calls within an execution.
type ModelSummary struct {
	CallCount   int     `json:"call_count"`
	TotalTokens int     `json:"total_tokens"`
	TotalCost   float64 `json:"total_cost"`
}

// ActiveTrigger is a persisted, currently-armed trigger (webhook or cron).
type ActiveTrigger struct {
	ID              string           `json:"id"`
	TaskID          string           `json:"task_id"`
	Webhook         *WebhookTrigger  `json:"webhook,omitempty"`
	Schedule        *ScheduleTrigger `json:"schedule,omitempty"`
	TriggerCount    int64            `json:"trigger_count"`
	ActivatedAt     int64            `json:"activated_at"`
	LastTriggeredAt int64            `json:"last_triggered_at,omitempty"`
}

// AllowedPeer is an approved pairing peer.
type AllowedPeer struct {
	PeerID     string `json:"peer_id"`
	PeerName   string `json:"peer_name,omitempty"`
	ApprovedAt int64  `json:"approved_at"`
	ApprovedBy string `json:"approved_by,omitempty"`
}

// PairingRequest is a pending pairing code awaiting admin approval.
type PairingRequest struct {
	Code           string `json:"code"`
	PeerID         string `json:"peer_id"`
	ConversationID string `json:"conversation_id"`
	CreatedAt      int64  `json:"created_at"`
	ExpiresAt      int64  `json:"expires_at"`
}

// Expired reports whether the request's TTL has elapsed as of now.
func (r PairingRequest) Expired(nowMs int64) bool { return nowMs >= r.ExpiresAt }

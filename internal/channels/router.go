package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/restflow/restflow/internal/agentstore"
	"github.com/restflow/restflow/internal/chatsession"
	"github.com/restflow/restflow/internal/models"
	"github.com/restflow/restflow/internal/queue"
)

// TaskQueue is the subset of *queue.Queue the router needs to enqueue and
// inspect runs on behalf of a chat command.
type TaskQueue interface {
	Push(task models.Task) (models.Task, error)
	Get(taskID string) (models.Task, error)
	List(filter queue.ListFilter) ([]models.Task, error)
	Fail(taskID string, taskErr string) error
}

// Router dispatches inbound chat messages across every registered channel:
// slash commands are handled directly, everything else is enqueued as a run
// against the default agent. Grounded on the teacher's gateway dispatch loop
// (internal/gateway), trimmed onto this module's queue/runner/agentstore
// model instead of the teacher's session-and-plugin pipeline.
type Router struct {
	Registry     *Registry
	Queue        TaskQueue
	Agents       *agentstore.Store
	Sessions     *chatsession.Store
	Logger       *slog.Logger
	DefaultAgent string
	MaxHistory   int
}

// NewRouter builds a Router over the given collaborators.
func NewRouter(registry *Registry, q TaskQueue, agents *agentstore.Store, sessions *chatsession.Store, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		Registry:     registry,
		Queue:        q,
		Agents:       agents,
		Sessions:     sessions,
		Logger:       logger.With("component", "router"),
		DefaultAgent: "default",
		MaxHistory:   50,
	}
}

// Run consumes the registry's aggregated inbound stream until ctx is done.
func (r *Router) Run(ctx context.Context) {
	for msg := range r.Registry.AggregateMessages(ctx) {
		r.handle(ctx, msg)
	}
}

func (r *Router) handle(ctx context.Context, msg *models.InboundMessage) {
	if r.Sessions != nil {
		if err := r.Sessions.Append(ctx, msg.ConversationID, msg.ChannelType, models.Message{
			Role: models.RoleUser, Content: msg.Content,
		}, r.MaxHistory); err != nil {
			r.Logger.Warn("append history failed", "error", err)
		}
	}

	reply, err := r.dispatch(ctx, msg)
	if err != nil {
		reply = fmt.Sprintf("error: %v", err)
	}
	if reply == "" {
		return
	}
	r.reply(ctx, msg, reply)
}

func (r *Router) dispatch(ctx context.Context, msg *models.InboundMessage) (string, error) {
	text := strings.TrimSpace(msg.Content)
	if !strings.HasPrefix(text, "/") {
		return r.enqueueRun(r.DefaultAgent, text, msg.ConversationID)
	}

	fields := strings.Fields(text)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "/help":
		return "commands: /help /agents /run <agent_ref> <input> /status [task_id] /stop <task_id>", nil

	case "/agents":
		return r.listAgents()

	case "/run":
		if len(args) < 2 {
			return "usage: /run <agent_ref> <input>", nil
		}
		return r.enqueueRun(args[0], strings.Join(args[1:], " "), msg.ConversationID)

	case "/status":
		if len(args) == 1 {
			return r.taskStatus(args[0])
		}
		return r.queueStatus()

	case "/stop":
		if len(args) != 1 {
			return "usage: /stop <task_id>", nil
		}
		if err := r.Queue.Fail(args[0], "stopped by user"); err != nil {
			return "", err
		}
		return fmt.Sprintf("stopped %s", args[0]), nil

	default:
		return fmt.Sprintf("unknown command %q, try /help", cmd), nil
	}
}

func (r *Router) enqueueRun(agentRef, input, conversationID string) (string, error) {
	if strings.TrimSpace(input) == "" {
		return "nothing to run", nil
	}
	task, err := r.Queue.Push(models.Task{
		AgentRef:       agentRef,
		Input:          input,
		Priority:       models.PriorityNormal,
		ConversationID: conversationID,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("queued run %s (agent %s)", task.ID, agentRef), nil
}

func (r *Router) taskStatus(taskID string) (string, error) {
	task, err := r.Queue.Get(taskID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s: %s", task.ID, task.Status), nil
}

func (r *Router) queueStatus() (string, error) {
	pending, err := r.Queue.List(queue.ListFilter{Status: models.TaskPending})
	if err != nil {
		return "", err
	}
	running, err := r.Queue.List(queue.ListFilter{Status: models.TaskRunning})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("pending: %d, running: %d", len(pending), len(running)), nil
}

func (r *Router) listAgents() (string, error) {
	defs, err := r.Agents.List()
	if err != nil {
		return "", err
	}
	if len(defs) == 0 {
		return "no agents configured", nil
	}
	var b strings.Builder
	for _, d := range defs {
		fmt.Fprintf(&b, "%s (%s)\n", d.ID, d.Model)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (r *Router) reply(ctx context.Context, msg *models.InboundMessage, text string) {
	out, ok := r.Registry.Outbound(msg.ChannelType)
	if !ok {
		r.Logger.Warn("no outbound channel", "channel", msg.ChannelType)
		return
	}
	if err := out.Send(ctx, &models.OutboundMessage{
		ConversationID: msg.ConversationID,
		Content:        text,
		ReplyTo:        msg.ID,
	}); err != nil {
		r.Logger.Warn("reply send failed", "error", err, "channel", msg.ChannelType)
	}
	if r.Sessions != nil {
		if err := r.Sessions.Append(ctx, msg.ConversationID, msg.ChannelType, models.Message{
			Role: models.RoleAssistant, Content: text,
		}, r.MaxHistory); err != nil {
			r.Logger.Warn("append history failed", "error", err)
		}
	}
}

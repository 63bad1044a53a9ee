// Package webhook is the HTTP trigger front end (SPEC_FULL §4.11/§6.3):
// POST /hooks/trigger/{task_id} authenticates a bearer token against the
// task's configured webhook trigger, rate-limits per task, and enqueues a
// run, returning its run_id. Grounded on the teacher's internal/hooks
// handler shape (token validation, size-limited body read, slog logging)
// generalized from its single Gmail push-notification handler onto this
// system's generic trigger model, with per-task rate limiting via
// golang.org/x/time/rate as the goadesign-goa-ai pack's middleware package
// uses it.
package webhook

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/restflow/restflow/internal/cron"
	"github.com/restflow/restflow/internal/models"
	"github.com/restflow/restflow/internal/queue"
)

// DefaultMaxBodyBytes caps the trigger payload the same way the teacher's
// Gmail hook caps pub/sub payloads.
const DefaultMaxBodyBytes = 1 << 20 // 1MiB

// TriggerLookup resolves the webhook trigger configured for a task id.
type TriggerLookup interface {
	GetByTaskID(taskID string) (models.ActiveTrigger, error)
	RecordFired(id string, firedAtMs int64) error
}

// Enqueuer pushes a task into the queue; satisfied by *queue.Queue.
type Enqueuer interface {
	Push(task models.Task) (models.Task, error)
}

// Handler serves the webhook trigger surface.
type Handler struct {
	triggers TriggerLookup
	queue    Enqueuer
	logger   *slog.Logger
	maxBytes int64

	limMu    sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHandler builds a Handler over an already-open TriggerStore and Queue.
func NewHandler(triggers TriggerLookup, q Enqueuer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		triggers: triggers,
		queue:    q,
		logger:   logger.With("component", "webhook"),
		maxBytes: DefaultMaxBodyBytes,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Routes returns a mux with the webhook surface registered, ready to mount
// under the configured listen address.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /hooks/trigger/{task_id}", h.handleTrigger)
	mux.HandleFunc("GET /hooks/health", h.handleHealth)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type triggerResponse struct {
	RunID string `json:"run_id"`
}

func (h *Handler) handleTrigger(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task_id")
	if taskID == "" {
		http.Error(w, "task_id is required", http.StatusBadRequest)
		return
	}

	trigger, err := h.triggers.GetByTaskID(taskID)
	if err != nil {
		if errors.Is(err, cron.ErrTriggerNotFound) {
			http.Error(w, "no webhook trigger configured for task", http.StatusNotFound)
			return
		}
		h.logger.Error("trigger lookup failed", "task_id", taskID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if trigger.Webhook == nil || !trigger.Webhook.Enabled {
		http.Error(w, "webhook trigger disabled", http.StatusForbidden)
		return
	}

	if !validBearerToken(r, trigger.Webhook.Token) {
		h.logger.Warn("rejected trigger request with invalid token", "task_id", taskID)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if !h.limiterFor(taskID, trigger.Webhook.RateLimitPerMinute).Allow() {
		h.logger.Warn("rate limit exceeded", "task_id", taskID)
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBytes+1))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	if int64(len(body)) > h.maxBytes {
		http.Error(w, "request entity too large", http.StatusRequestEntityTooLarge)
		return
	}

	var input any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &input); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
	}

	task, err := h.queue.Push(models.Task{
		AgentRef:       trigger.TaskID,
		Input:          input,
		ConversationID: r.URL.Query().Get("conversation_id"),
	})
	if err != nil {
		if errors.Is(err, queue.ErrQueueFull) {
			http.Error(w, "queue full", http.StatusServiceUnavailable)
			return
		}
		h.logger.Error("enqueue failed", "task_id", taskID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if err := h.triggers.RecordFired(trigger.ID, models.NowMillis()); err != nil {
		h.logger.Warn("record fired failed", "trigger_id", trigger.ID, "error", err)
	}

	h.logger.Info("webhook trigger fired", "task_id", taskID, "run_id", task.ExecutionID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(triggerResponse{RunID: task.ExecutionID})
}

func (h *Handler) limiterFor(taskID string, perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	h.limMu.Lock()
	defer h.limMu.Unlock()
	lim, ok := h.limiters[taskID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
		h.limiters[taskID] = lim
	}
	return lim
}

func validBearerToken(r *http.Request, expected string) bool {
	if expected == "" {
		return false
	}
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
		return false
	}
	got := auth[len(prefix):]
	return subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}

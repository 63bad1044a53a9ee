package webhook

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/restflow/restflow/internal/cron"
	"github.com/restflow/restflow/internal/models"
)

type fakeTriggers struct {
	byTask map[string]models.ActiveTrigger
	fired  map[string]int
}

func (f *fakeTriggers) GetByTaskID(taskID string) (models.ActiveTrigger, error) {
	t, ok := f.byTask[taskID]
	if !ok {
		return models.ActiveTrigger{}, cron.ErrTriggerNotFound
	}
	return t, nil
}

func (f *fakeTriggers) RecordFired(id string, firedAtMs int64) error {
	if f.fired == nil {
		f.fired = map[string]int{}
	}
	f.fired[id]++
	return nil
}

type fakeQueue struct {
	pushed []models.Task
	err    error
}

func (f *fakeQueue) Push(task models.Task) (models.Task, error) {
	if f.err != nil {
		return models.Task{}, f.err
	}
	if task.ExecutionID == "" {
		task.ExecutionID = "run-1"
	}
	f.pushed = append(f.pushed, task)
	return task, nil
}

func newTestHandler() (*Handler, *fakeTriggers, *fakeQueue) {
	triggers := &fakeTriggers{byTask: map[string]models.ActiveTrigger{
		"task-1": {
			ID:     "trigger-1",
			TaskID: "task-1",
			Webhook: &models.WebhookTrigger{
				Token:              "secret-token",
				Enabled:            true,
				RateLimitPerMinute: 120,
			},
		},
		"disabled-task": {
			ID:      "trigger-2",
			TaskID:  "disabled-task",
			Webhook: &models.WebhookTrigger{Token: "tok", Enabled: false},
		},
	}}
	q := &fakeQueue{}
	return NewHandler(triggers, q, nil), triggers, q
}

func TestHandleTriggerSuccess(t *testing.T) {
	h, _, q := newTestHandler()
	mux := h.Routes()

	req := httptest.NewRequest(http.MethodPost, "/hooks/trigger/task-1", bytes.NewBufferString(`{"foo":"bar"}`))
	req.Header.Set("Authorization", "Bearer secret-token")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d, body=%s", rec.Code, http.StatusAccepted, rec.Body.String())
	}
	var resp triggerResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.RunID == "" {
		t.Error("expected non-empty run_id")
	}
	if len(q.pushed) != 1 {
		t.Fatalf("expected one task pushed, got %d", len(q.pushed))
	}
	if q.pushed[0].AgentRef != "task-1" {
		t.Errorf("AgentRef = %s, want task-1", q.pushed[0].AgentRef)
	}
}

func TestHandleTriggerRejectsMissingToken(t *testing.T) {
	h, _, _ := newTestHandler()
	mux := h.Routes()

	req := httptest.NewRequest(http.MethodPost, "/hooks/trigger/task-1", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestHandleTriggerRejectsWrongToken(t *testing.T) {
	h, _, _ := newTestHandler()
	mux := h.Routes()

	req := httptest.NewRequest(http.MethodPost, "/hooks/trigger/task-1", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestHandleTriggerUnknownTask(t *testing.T) {
	h, _, _ := newTestHandler()
	mux := h.Routes()

	req := httptest.NewRequest(http.MethodPost, "/hooks/trigger/missing-task", nil)
	req.Header.Set("Authorization", "Bearer whatever")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandleTriggerDisabledWebhook(t *testing.T) {
	h, _, _ := newTestHandler()
	mux := h.Routes()

	req := httptest.NewRequest(http.MethodPost, "/hooks/trigger/disabled-task", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestHandleTriggerRateLimited(t *testing.T) {
	h, triggers, _ := newTestHandler()
	triggers.byTask["burst-task"] = models.ActiveTrigger{
		ID:     "trigger-3",
		TaskID: "burst-task",
		Webhook: &models.WebhookTrigger{
			Token:              "tok",
			Enabled:            true,
			RateLimitPerMinute: 1,
		},
	}
	mux := h.Routes()

	makeReq := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/hooks/trigger/burst-task", nil)
		req.Header.Set("Authorization", "Bearer tok")
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec
	}

	first := makeReq()
	if first.Code != http.StatusAccepted {
		t.Fatalf("first request status = %d, want %d", first.Code, http.StatusAccepted)
	}
	second := makeReq()
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want %d", second.Code, http.StatusTooManyRequests)
	}
}

func TestHandleHealth(t *testing.T) {
	h, _, _ := newTestHandler()
	mux := h.Routes()

	req := httptest.NewRequest(http.MethodGet, "/hooks/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestHandleTriggerQueueFullReturns503(t *testing.T) {
	h, _, _ := newTestHandler()
	h.queue = &fakeQueue{err: errQueueFullForTest{}}
	mux := h.Routes()

	req := httptest.NewRequest(http.MethodPost, "/hooks/trigger/task-1", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d (unmapped error falls back to 500)", rec.Code, http.StatusInternalServerError)
	}
}

type errQueueFullForTest struct{}

func (errQueueFullForTest) Error() string { return "queue: full" }

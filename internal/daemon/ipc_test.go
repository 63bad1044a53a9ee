package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/restflow/restflow/internal/models"
	"github.com/restflow/restflow/internal/queue"
)

type fakeCore struct {
	tasks map[string]models.Task
}

func (f *fakeCore) EnqueueTask(ctx context.Context, task models.Task) (models.Task, error) {
	if task.ID == "" {
		task.ID = "t-1"
	}
	f.tasks[task.ID] = task
	return task, nil
}

func (f *fakeCore) GetTask(taskID string) (models.Task, error) {
	t, ok := f.tasks[taskID]
	if !ok {
		return models.Task{}, errors.New("not found")
	}
	return t, nil
}

func (f *fakeCore) ListTasks(filter queue.ListFilter) ([]models.Task, error) {
	var out []models.Task
	for _, t := range f.tasks {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeCore) Status() Status {
	return Status{WorkerCount: 4, Version: "test"}
}

func newTestServer(t *testing.T) (*IPCServer, *fakeCore, string) {
	t.Helper()
	core := &fakeCore{tasks: map[string]models.Task{}}
	sockPath := filepath.Join(t.TempDir(), "restflow.sock")
	srv := NewIPCServer(sockPath, core, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })
	return srv, core, sockPath
}

func roundTrip(t *testing.T, sockPath string, req Request) Response {
	t.Helper()
	conn, err := net.DialTimeout("unix", sockPath, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	line, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	if _, err := conn.Write(append(line, '\n')); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		t.Fatalf("no response: %v", scanner.Err())
	}
	var resp Response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return resp
}

func TestIPCStatus(t *testing.T) {
	_, _, sockPath := newTestServer(t)

	resp := roundTrip(t, sockPath, Request{ID: "1", Method: "status"})
	if resp.Error != "" {
		t.Fatalf("unexpected error: %s", resp.Error)
	}
	var status Status
	if err := json.Unmarshal(resp.Result, &status); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if status.WorkerCount != 4 {
		t.Errorf("WorkerCount = %d, want 4", status.WorkerCount)
	}
}

func TestIPCEnqueueAndGet(t *testing.T) {
	_, _, sockPath := newTestServer(t)

	enqueueParams, _ := json.Marshal(models.Task{ID: "t-42"})
	resp := roundTrip(t, sockPath, Request{ID: "2", Method: "task.enqueue", Params: enqueueParams})
	if resp.Error != "" {
		t.Fatalf("enqueue error: %s", resp.Error)
	}

	getParams, _ := json.Marshal(map[string]string{"task_id": "t-42"})
	resp = roundTrip(t, sockPath, Request{ID: "3", Method: "task.get", Params: getParams})
	if resp.Error != "" {
		t.Fatalf("get error: %s", resp.Error)
	}
	var task models.Task
	if err := json.Unmarshal(resp.Result, &task); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	if task.ID != "t-42" {
		t.Errorf("ID = %s, want t-42", task.ID)
	}
}

func TestIPCUnknownMethod(t *testing.T) {
	_, _, sockPath := newTestServer(t)

	resp := roundTrip(t, sockPath, Request{ID: "4", Method: "bogus"})
	if resp.Error == "" {
		t.Fatal("expected error for unknown method")
	}
}

func TestIPCGetMissingTask(t *testing.T) {
	_, _, sockPath := newTestServer(t)

	params, _ := json.Marshal(map[string]string{"task_id": "missing"})
	resp := roundTrip(t, sockPath, Request{ID: "5", Method: "task.get", Params: params})
	if resp.Error == "" {
		t.Fatal("expected error for missing task")
	}
}

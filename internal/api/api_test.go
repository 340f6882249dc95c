package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shaiso/dynaflow/internal/domain"
	"github.com/shaiso/dynaflow/internal/repo"
)

type testEnv struct {
	server *httptest.Server
	flows  *repo.FlowRepo
	tasks  *repo.TaskRepo
	types  *repo.TypeRepo
	now    time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := repo.OpenSQLite(ctx, "")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	env := &testEnv{
		flows: repo.NewFlowRepo(db),
		tasks: repo.NewTaskRepo(db),
		types: repo.NewTypeRepo(db),
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	if err := env.types.UpsertFlowType(ctx, &domain.FlowType{
		Lookup:     domain.FlowTypeSequence,
		Name:       "report",
		Definition: json.RawMessage(`{"steps":[{"task_type":"step"}]}`),
	}); err != nil {
		t.Fatalf("upsert flow type: %v", err)
	}

	h := NewHandler(Config{
		FlowRepo:        env.flows,
		TaskRepo:        env.tasks,
		TypeRepo:        env.types,
		MaintenanceRepo: repo.NewMaintenanceRepo(db),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte("# metrics"))
		}),
		Now: func() time.Time { return env.now },
	})
	env.server = httptest.NewServer(h.Routes())
	t.Cleanup(env.server.Close)
	return env
}

// do выполняет запрос и разбирает поле data ответа в out.
func (e *testEnv) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		var envelope struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
	return resp.StatusCode
}

func TestRequestFlow(t *testing.T) {
	env := newTestEnv(t)

	var flow FlowResponse
	status := env.do(t, http.MethodPost, "/api/v1/flows",
		RequestFlowRequest{TypeName: "report", SubjectCode: "S-1"}, &flow)
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d", status)
	}
	if flow.State != domain.FlowStateRequested {
		t.Errorf("expected REQUESTED, got %s", flow.State)
	}
	if flow.SubjectCode != "S-1" {
		t.Errorf("expected subject S-1, got %s", flow.SubjectCode)
	}

	var got FlowResponse
	status = env.do(t, http.MethodGet, "/api/v1/flows/"+flow.Code.String(), nil, &got)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if got.Code != flow.Code {
		t.Errorf("expected code %s, got %s", flow.Code, got.Code)
	}
	if got.Progress == nil || got.Progress.Total != 0 {
		t.Errorf("expected empty progress, got %+v", got.Progress)
	}
}

func TestRequestFlow_Validation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"missing type", RequestFlowRequest{SubjectCode: "S-1"}, http.StatusBadRequest},
		{"unknown type", RequestFlowRequest{TypeName: "missing"}, http.StatusBadRequest},
		{"bad json", "not an object", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := env.do(t, http.MethodPost, "/api/v1/flows", tt.body, nil); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestRequestFlow_RequestKeyIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	req := RequestFlowRequest{TypeName: "report", SubjectCode: "S-1", RequestKey: "batch-7"}

	var first, second FlowResponse
	if status := env.do(t, http.MethodPost, "/api/v1/flows", req, &first); status != http.StatusCreated {
		t.Fatalf("expected 201, got %d", status)
	}
	if status := env.do(t, http.MethodPost, "/api/v1/flows", req, &second); status != http.StatusOK {
		t.Fatalf("expected 200 on repeat, got %d", status)
	}
	if first.Code != second.Code {
		t.Errorf("expected same flow, got %s and %s", first.Code, second.Code)
	}
}

func TestGetFlow_NotFound(t *testing.T) {
	env := newTestEnv(t)

	if got := env.do(t, http.MethodGet, "/api/v1/flows/8c7d5e9a-1b2c-4d3e-9f00-112233445566", nil, nil); got != http.StatusNotFound {
		t.Errorf("expected 404, got %d", got)
	}
	if got := env.do(t, http.MethodGet, "/api/v1/flows/not-a-uuid", nil, nil); got != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", got)
	}
}

func TestCancelFlow(t *testing.T) {
	env := newTestEnv(t)

	var flow FlowResponse
	env.do(t, http.MethodPost, "/api/v1/flows", RequestFlowRequest{TypeName: "report"}, &flow)

	var canceled FlowResponse
	status := env.do(t, http.MethodPost, "/api/v1/flows/"+flow.Code.String()+"/cancel", nil, &canceled)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if !canceled.IsCancelRequested {
		t.Error("expected cancel to be requested")
	}

	// Завершённый flow отменить нельзя
	stored, err := env.flows.GetByCode(context.Background(), flow.Code)
	if err != nil {
		t.Fatalf("get flow: %v", err)
	}
	if _, err := env.flows.Complete(context.Background(), stored.ID, domain.FlowStateCanceled, "", env.now); err != nil {
		t.Fatalf("complete flow: %v", err)
	}
	status = env.do(t, http.MethodPost, "/api/v1/flows/"+flow.Code.String()+"/cancel", nil, nil)
	if status != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", status)
	}
}

func TestTasks_SearchAndReset(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tt := &domain.TaskType{Lookup: domain.TaskTypeNoop, Name: "step"}
	if err := env.types.UpsertTaskType(ctx, tt); err != nil {
		t.Fatalf("upsert task type: %v", err)
	}

	flow := domain.NewFlow(1, "S-1", env.now)
	if err := env.flows.Create(ctx, flow); err != nil {
		t.Fatalf("create flow: %v", err)
	}

	started := env.now
	task := &domain.Task{
		FlowID:      flow.ID,
		TaskTypeID:  tt.ID,
		Sequence:    1,
		State:       domain.TaskStateFailedTerminal,
		ProcessorID: "proc-1",
		RetryCount:  2,
		ErrorText:   "boom",
		RequestedAt: env.now,
		MinStartAt:  env.now,
		StartedAt:   &started,
		CompletedAt: &started,
	}
	if err := env.tasks.Create(ctx, task); err != nil {
		t.Fatalf("create task: %v", err)
	}

	var found []TaskResponse
	status := env.do(t, http.MethodGet, "/api/v1/tasks?processor=proc-1&state=FAILED_TERMINAL", nil, &found)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if len(found) != 1 || found[0].Code != task.Code {
		t.Fatalf("expected the failed task, got %+v", found)
	}

	var none []TaskResponse
	env.do(t, http.MethodGet, "/api/v1/tasks?processor=proc-2", nil, &none)
	if len(none) != 0 {
		t.Errorf("expected no tasks for proc-2, got %d", len(none))
	}

	if got := env.do(t, http.MethodGet, "/api/v1/tasks?state=BROKEN", nil, nil); got != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid state, got %d", got)
	}
	if got := env.do(t, http.MethodGet, "/api/v1/tasks?limit=-1", nil, nil); got != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid limit, got %d", got)
	}

	var reset TaskResponse
	status = env.do(t, http.MethodPost, "/api/v1/tasks/"+task.Code.String()+"/reset", nil, &reset)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if reset.State != domain.TaskStatePending {
		t.Errorf("expected PENDING after reset, got %s", reset.State)
	}
	if reset.RetryCount != 0 {
		t.Errorf("expected retry_count 0, got %d", reset.RetryCount)
	}

	// Повторный сброс незавершённой задачи — конфликт состояния
	status = env.do(t, http.MethodPost, "/api/v1/tasks/"+task.Code.String()+"/reset", nil, nil)
	if status != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", status)
	}
}

func TestStatusAndHealth(t *testing.T) {
	env := newTestEnv(t)

	var status StatusResponse
	if code := env.do(t, http.MethodGet, "/api/v1/status", nil, &status); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if status.Maintenance != nil {
		t.Errorf("expected no maintenance record yet, got %+v", status.Maintenance)
	}

	env.do(t, http.MethodPost, "/api/v1/flows", RequestFlowRequest{TypeName: "report"}, nil)
	env.do(t, http.MethodGet, "/api/v1/status", nil, &status)
	if status.Buildable != 1 {
		t.Errorf("expected 1 buildable flow, got %d", status.Buildable)
	}

	for _, path := range []string{"/healthz", "/metrics"} {
		resp, err := http.Get(env.server.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s: expected 200, got %d", path, resp.StatusCode)
		}
	}

	if got := env.do(t, http.MethodGet, "/api/v1/unknown", nil, nil); got != http.StatusNotFound {
		t.Errorf("expected 404, got %d", got)
	}
}

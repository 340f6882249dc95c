package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/shaiso/dynaflow/internal/domain"
)

// --- HTTPExecutor Tests ---

func TestHTTPExecutor_GET_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if r.Header.Get("X-Custom") != "test-value" {
			t.Errorf("expected X-Custom header, got %q", r.Header.Get("X-Custom"))
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"result":"ok"}`))
	}))
	defer server.Close()

	executor := &HTTPExecutor{}
	task := &domain.Task{
		Param1: server.URL,
		Param2: `{"headers":{"X-Custom":"test-value"}}`,
	}

	result, err := executor.Process(context.Background(), Env{}, task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != `HTTP 200: {"result":"ok"}` {
		t.Errorf("unexpected result: %q", result)
	}
}

func TestHTTPExecutor_POST_WithBody(t *testing.T) {
	var receivedBody map[string]any
	var receivedContentType string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		receivedContentType = r.Header.Get("Content-Type")
		json.NewDecoder(r.Body).Decode(&receivedBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	executor := &HTTPExecutor{}
	task := &domain.Task{
		Param1: server.URL,
		Param2: `{"method":"post","body":{"subject_code":"S-1"}}`,
	}

	result, err := executor.Process(context.Background(), Env{}, task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(result, "HTTP 201") {
		t.Errorf("unexpected result: %q", result)
	}
	if receivedContentType != "application/json" {
		t.Errorf("expected application/json, got %q", receivedContentType)
	}
	if receivedBody["subject_code"] != "S-1" {
		t.Errorf("expected subject_code=S-1, got %v", receivedBody["subject_code"])
	}
}

func TestHTTPExecutor_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer server.Close()

	executor := &HTTPExecutor{}
	_, err := executor.Process(context.Background(), Env{}, &domain.Task{Param1: server.URL})
	if !errors.Is(err, ErrHTTPStatus) {
		t.Fatalf("expected ErrHTTPStatus, got %v", err)
	}
	if !strings.Contains(err.Error(), "HTTP 500: boom") {
		t.Errorf("unexpected error text: %v", err)
	}
}

func TestHTTPExecutor_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	executor := &HTTPExecutor{}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := executor.Process(ctx, Env{}, &domain.Task{Param1: server.URL})
	if !errors.Is(err, ErrHTTPRequest) {
		t.Fatalf("expected ErrHTTPRequest, got %v", err)
	}
}

func TestHTTPExecutor_MissingURL(t *testing.T) {
	executor := &HTTPExecutor{}
	_, err := executor.Process(context.Background(), Env{}, &domain.Task{Param1: "  "})
	if !errors.Is(err, ErrHTTPRequest) {
		t.Fatalf("expected ErrHTTPRequest, got %v", err)
	}
}

func TestHTTPExecutor_InvalidParams(t *testing.T) {
	executor := &HTTPExecutor{}
	_, err := executor.Process(context.Background(), Env{}, &domain.Task{Param1: "http://localhost", Param2: "{"})
	if !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams, got %v", err)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdef", 3); got != "abc..." {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("abc", 3); got != "abc" {
		t.Errorf("truncate = %q", got)
	}

	cyrillic := "a" + strings.Repeat("я", 600)
	got := truncate(cyrillic, 1000)
	if !utf8.ValidString(got) {
		t.Fatalf("truncate produced invalid UTF-8: %q", got[len(got)-8:])
	}
	if want := "a" + strings.Repeat("я", 499) + "..."; got != want {
		t.Errorf("truncate cut at %d bytes, want %d", len(got), len(want))
	}

	if got := truncate("ok\xff", 10); !utf8.ValidString(got) {
		t.Errorf("invalid input must be sanitized: %q", got)
	}
}

// --- DelayExecutor Tests ---

func TestDelayExecutor_Success(t *testing.T) {
	executor := &DelayExecutor{}

	start := time.Now()
	result, err := executor.Process(context.Background(), Env{}, &domain.Task{Param1: "0.25"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 250*time.Millisecond {
		t.Errorf("expected at least 250ms delay, got %v", elapsed)
	}
	if result != "delayed 250ms" {
		t.Errorf("unexpected result: %q", result)
	}
}

func TestDelayExecutor_ContextCancel(t *testing.T) {
	executor := &DelayExecutor{}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := executor.Process(ctx, Env{}, &domain.Task{Param1: "10"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestDelayExecutor_InvalidSeconds(t *testing.T) {
	executor := &DelayExecutor{}
	_, err := executor.Process(context.Background(), Env{}, &domain.Task{Param1: "soon"})
	if !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams, got %v", err)
	}
}

// --- TransformExecutor Tests ---

func TestTransformExecutor_Success(t *testing.T) {
	executor := &TransformExecutor{}
	env := Env{Vars: map[string]string{"REGION": "eu"}}
	task := &domain.Task{
		Param1: `{{ .Data.name | upper }}@{{ .Env.REGION }}`,
		Param2: `{"name":"report"}`,
	}

	result, err := executor.Process(context.Background(), env, task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "REPORT@eu" {
		t.Errorf("unexpected result: %q", result)
	}
}

func TestTransformExecutor_InvalidData(t *testing.T) {
	executor := &TransformExecutor{}
	_, err := executor.Process(context.Background(), Env{}, &domain.Task{Param1: "x", Param2: "[oops"})
	if !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams, got %v", err)
	}
}

func TestNoopExecutor(t *testing.T) {
	result, err := NoopExecutor{}.Process(context.Background(), Env{}, &domain.Task{Param1: "pong"})
	if err != nil || result != "pong" {
		t.Fatalf("got %q, %v", result, err)
	}
}

// --- Registry Tests ---

func TestNewRegistry_DefaultExecutors(t *testing.T) {
	r := NewRegistry()

	for _, lookup := range domain.TaskTypeLookups() {
		if _, err := r.Get(lookup); err != nil {
			t.Errorf("expected executor for %q: %v", lookup, err)
		}
	}
}

func TestRegistry_UnknownType(t *testing.T) {
	r := NewRegistry()

	_, err := r.Get("ftp")
	if !errors.Is(err, ErrUnknownTaskType) {
		t.Errorf("expected ErrUnknownTaskType, got %v", err)
	}
}

func TestRegistry_Validate(t *testing.T) {
	r := NewRegistry()

	ok := []domain.TaskType{{Name: "call", Lookup: domain.TaskTypeHTTP}, {Name: "wait", Lookup: domain.TaskTypeDelay}}
	if err := r.Validate(ok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := append(ok, domain.TaskType{Name: "upload", Lookup: "ftp"})
	err := r.Validate(bad)
	if !errors.Is(err, ErrUnknownTaskType) {
		t.Fatalf("expected ErrUnknownTaskType, got %v", err)
	}
	if !strings.Contains(err.Error(), `"upload"`) {
		t.Errorf("error should name the task type: %v", err)
	}
}

func TestProcess_RecoversPanic(t *testing.T) {
	panicky := ExecutorFunc(func(context.Context, Env, *domain.Task) (string, error) {
		panic("nil map")
	})

	_, err := process(context.Background(), panicky, Env{}, &domain.Task{})
	if !errors.Is(err, ErrExecutorPanic) {
		t.Fatalf("expected ErrExecutorPanic, got %v", err)
	}
}

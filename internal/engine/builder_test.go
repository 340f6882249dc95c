package engine

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shaiso/dynaflow/internal/domain"
)

var testTaskTypes = []domain.TaskType{
	{ID: 1, Name: "call", Lookup: domain.TaskTypeHTTP, MaxRetryCount: 2},
	{ID: 2, Name: "wait", Lookup: domain.TaskTypeDelay},
	{ID: 3, Name: "render", Lookup: domain.TaskTypeTransform},
}

func TestSequenceBuilder_BuildTasks(t *testing.T) {
	flow, flowType := testFlow()
	flowType.Definition = json.RawMessage(`{
		"steps": [
			{"id": "fetch", "task_type": "call", "param_1": "https://{{ .Env.HOST }}/{{ .Flow.Subject }}"},
			{"id": "pause", "task_type": "wait", "param_1": "5", "delay_sec": 60},
			{"id": "skip", "task_type": "wait", "when": "eq .Flow.Subject \"nobody\""},
			{"id": "report", "task_type": "render", "param_1": "{{ .Data.n }}", "param_2": {"n": "{{ .Flow.Priority }}"}}
		]
	}`)

	builders := NewBuilders(map[string]string{"HOST": "svc"})
	tasks, err := builders.Build(flow, flowType)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if len(tasks) != 3 {
		t.Fatalf("expected 3 tasks (one skipped), got %d", len(tasks))
	}
	if tasks[0].TaskTypeName != "call" || tasks[0].Param1 != "https://svc/customer-42" {
		t.Errorf("task 0 = %+v", tasks[0])
	}
	if tasks[1].StartDelay != time.Minute {
		t.Errorf("task 1 delay = %v", tasks[1].StartDelay)
	}
	// param_2 объект рендерится и сериализуется, param_1 остаётся шаблоном для transform
	if tasks[2].Param2 != `{"n":"3"}` {
		t.Errorf("task 2 param_2 = %q", tasks[2].Param2)
	}
}

func TestSequenceBuilder_Errors(t *testing.T) {
	flow, flowType := testFlow()
	builders := NewBuilders(nil)

	tests := []struct {
		name       string
		definition string
		want       error
	}{
		{"empty definition", ``, ErrInvalidDefinition},
		{"not json", `steps:`, ErrInvalidDefinition},
		{"no steps", `{"steps": []}`, ErrEmptySteps},
		{"bad template", `{"steps": [{"task_type": "call", "param_1": "{{ .Flow.Nope }}"}]}`, ErrTemplateRender},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flowType.Definition = json.RawMessage(tt.definition)
			_, err := builders.Build(flow, flowType)
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestWebhookBuilder_BuildTasks(t *testing.T) {
	flow, flowType := testFlow()
	flowType.Lookup = domain.FlowTypeWebhook
	flowType.Definition = json.RawMessage(`{
		"task_type": "call",
		"url": "https://hooks.local/{{ .Type.Name }}",
		"headers": {"X-Subject": "{{ .Flow.Subject }}"},
		"then": [{"task_type": "wait", "param_1": "1"}]
	}`)

	tasks, err := NewBuilders(nil).Build(flow, flowType)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	if tasks[0].Param1 != "https://hooks.local/nightly" {
		t.Errorf("url = %q", tasks[0].Param1)
	}

	params, err := ParseHTTPParams(tasks[0].Param2)
	if err != nil {
		t.Fatalf("ParseHTTPParams: %v", err)
	}
	if params.Method != "POST" {
		t.Errorf("method = %q", params.Method)
	}
	if params.Headers["X-Subject"] != "customer-42" {
		t.Errorf("headers = %v", params.Headers)
	}
	body, ok := params.Body.(map[string]any)
	if !ok || body["subject_code"] != "customer-42" || body["flow_code"] != flow.Code.String() {
		t.Errorf("body = %v", params.Body)
	}
	if tasks[1].TaskTypeName != "wait" {
		t.Errorf("then task = %+v", tasks[1])
	}
}

func TestBuilders_Validate(t *testing.T) {
	builders := NewBuilders(nil)

	valid := []domain.FlowType{
		{Name: "seq", Lookup: domain.FlowTypeSequence, Definition: json.RawMessage(`{"steps":[{"task_type":"call"}]}`)},
		{Name: "hook", Lookup: domain.FlowTypeWebhook, Definition: json.RawMessage(`{"task_type":"call","url":"http://x"}`)},
	}
	if err := builders.Validate(valid, testTaskTypes); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name string
		ft   domain.FlowType
		want error
	}{
		{"unknown lookup", domain.FlowType{Name: "x", Lookup: "graph"}, ErrNoBuilder},
		{"unknown task type", domain.FlowType{Name: "x", Lookup: domain.FlowTypeSequence,
			Definition: json.RawMessage(`{"steps":[{"task_type":"missing"}]}`)}, ErrUnknownTaskType},
		{"duplicate id", domain.FlowType{Name: "x", Lookup: domain.FlowTypeSequence,
			Definition: json.RawMessage(`{"steps":[{"id":"a","task_type":"call"},{"id":"a","task_type":"wait"}]}`)}, ErrDuplicateStepID},
		{"negative delay", domain.FlowType{Name: "x", Lookup: domain.FlowTypeSequence,
			Definition: json.RawMessage(`{"steps":[{"task_type":"wait","delay_sec":-1}]}`)}, ErrNegativeDelay},
		{"bad template", domain.FlowType{Name: "x", Lookup: domain.FlowTypeSequence,
			Definition: json.RawMessage(`{"steps":[{"task_type":"wait","param_1":"{{ .Flow"}]}`)}, ErrTemplateParse},
		{"webhook needs http", domain.FlowType{Name: "x", Lookup: domain.FlowTypeWebhook,
			Definition: json.RawMessage(`{"task_type":"wait","url":"http://x"}`)}, ErrInvalidDefinition},
		{"webhook without url", domain.FlowType{Name: "x", Lookup: domain.FlowTypeWebhook,
			Definition: json.RawMessage(`{"task_type":"call"}`)}, ErrInvalidDefinition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := builders.Validate([]domain.FlowType{tt.ft}, testTaskTypes)
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestValidationError_Message(t *testing.T) {
	builders := NewBuilders(nil)
	err := builders.Validate([]domain.FlowType{{
		Name:       "nightly",
		Lookup:     domain.FlowTypeSequence,
		Definition: json.RawMessage(`{"steps":[{"id":"first","task_type":"missing"}]}`),
	}}, testTaskTypes)

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if got := ve.Error(); got != `flow type nightly: step first: unknown task type "missing"` {
		t.Errorf("message = %q", got)
	}
}

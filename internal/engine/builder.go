package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shaiso/dynaflow/internal/domain"
)

// Builder строит цепочку задач для flow.
type Builder interface {
	// BuildTasks возвращает задачи в порядке выполнения.
	BuildTasks(flow *domain.Flow, flowType *domain.FlowType) ([]domain.TaskSpec, error)

	// Validate проверяет definition типа при старте процессора.
	Validate(flowType *domain.FlowType, taskTypes TaskTypeSet) error
}

// Builders — реестр построителей по lookup типа flow.
type Builders struct {
	builders map[domain.FlowTypeLookup]Builder
}

// NewBuilders создаёт реестр со встроенными построителями.
// env доступен шаблонам как .Env.
func NewBuilders(env map[string]string) *Builders {
	b := &Builders{builders: make(map[domain.FlowTypeLookup]Builder)}
	b.Register(domain.FlowTypeSequence, &SequenceBuilder{Env: env})
	b.Register(domain.FlowTypeWebhook, &WebhookBuilder{Env: env})
	return b
}

// Register добавляет построитель.
func (b *Builders) Register(lookup domain.FlowTypeLookup, builder Builder) {
	b.builders[lookup] = builder
}

// Get возвращает построитель для lookup.
func (b *Builders) Get(lookup domain.FlowTypeLookup) (Builder, error) {
	builder, ok := b.builders[lookup]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoBuilder, lookup)
	}
	return builder, nil
}

// Build строит задачи построителем типа flow.
func (b *Builders) Build(flow *domain.Flow, flowType *domain.FlowType) ([]domain.TaskSpec, error) {
	builder, err := b.Get(flowType.Lookup)
	if err != nil {
		return nil, err
	}
	return builder.BuildTasks(flow, flowType)
}

// Validate проверяет, что у каждого типа есть построитель и его definition корректен.
func (b *Builders) Validate(flowTypes []domain.FlowType, taskTypes []domain.TaskType) error {
	set := NewTaskTypeSet(taskTypes)
	var errs []error
	for i := range flowTypes {
		ft := &flowTypes[i]
		builder, err := b.Get(ft.Lookup)
		if err != nil {
			errs = append(errs, fmt.Errorf("flow type %s: %w", ft.Name, err))
			continue
		}
		if err := builder.Validate(ft, set); err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				ve.FlowType = ft.Name
				errs = append(errs, ve)
				continue
			}
			errs = append(errs, fmt.Errorf("flow type %s: %w", ft.Name, err))
		}
	}
	return errors.Join(errs...)
}

// SequenceBuilder строит задачи из списка шагов definition.
type SequenceBuilder struct {
	Env map[string]string
}

// BuildTasks рендерит шаги в задачи.
func (s *SequenceBuilder) BuildTasks(flow *domain.Flow, flowType *domain.FlowType) ([]domain.TaskSpec, error) {
	def, err := ParseSequence(flowType.Definition)
	if err != nil {
		return nil, err
	}
	return renderSteps(def.Steps, NewContext(flow, flowType, s.Env))
}

// Validate проверяет definition.
func (s *SequenceBuilder) Validate(flowType *domain.FlowType, taskTypes TaskTypeSet) error {
	def, err := ParseSequence(flowType.Definition)
	if err != nil {
		return err
	}
	return ValidateSteps(def.Steps, taskTypes)
}

// WebhookBuilder строит HTTP-вызов с кодом субъекта и шаги после него.
type WebhookBuilder struct {
	Env map[string]string
}

// BuildTasks строит задачу вызова и задачи шагов Then.
func (w *WebhookBuilder) BuildTasks(flow *domain.Flow, flowType *domain.FlowType) ([]domain.TaskSpec, error) {
	def, err := ParseWebhook(flowType.Definition)
	if err != nil {
		return nil, err
	}
	ctx := NewContext(flow, flowType, w.Env)

	url, err := Render(def.URL, ctx)
	if err != nil {
		return nil, fmt.Errorf("render url: %w", err)
	}
	headers := make(map[string]string, len(def.Headers))
	for k, v := range def.Headers {
		rendered, err := Render(v, ctx)
		if err != nil {
			return nil, fmt.Errorf("render header %s: %w", k, err)
		}
		headers[k] = rendered
	}

	params, err := json.Marshal(HTTPParams{
		Method:  def.Method,
		Headers: headers,
		Body: map[string]any{
			"flow_code":    ctx.Flow.Code,
			"subject_code": ctx.Flow.Subject,
			"flow_type":    ctx.Type.Name,
		},
		TimeoutSec: def.TimeoutSec,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal webhook params: %w", err)
	}

	tasks := []domain.TaskSpec{{
		TaskTypeName: def.TaskType,
		Param1:       url,
		Param2:       string(params),
	}}

	then, err := renderSteps(def.Then, ctx)
	if err != nil {
		return nil, err
	}
	return append(tasks, then...), nil
}

// Validate проверяет definition: тип вызова должен быть http.
func (w *WebhookBuilder) Validate(flowType *domain.FlowType, taskTypes TaskTypeSet) error {
	def, err := ParseWebhook(flowType.Definition)
	if err != nil {
		return err
	}
	tt, ok := taskTypes[def.TaskType]
	if !ok {
		return NewValidationError("", "task_type",
			fmt.Sprintf("unknown task type %q", def.TaskType), ErrUnknownTaskType)
	}
	if tt.Lookup != domain.TaskTypeHTTP {
		return NewValidationError("", "task_type",
			fmt.Sprintf("task type %q is %s, webhook needs http", def.TaskType, tt.Lookup), ErrInvalidDefinition)
	}
	if err := checkTemplate(def.URL); err != nil {
		return NewValidationError("", "url", err.Error(), ErrTemplateParse)
	}
	return ValidateSteps(def.Then, taskTypes)
}

// renderSteps рендерит параметры шагов; шаги с ложным условием пропускаются.
func renderSteps(steps []StepDef, ctx *Context) ([]domain.TaskSpec, error) {
	tasks := make([]domain.TaskSpec, 0, len(steps))
	for i := range steps {
		step := &steps[i]
		name := step.name(i)

		ok, err := RenderCondition(step.When, ctx)
		if err != nil {
			return nil, fmt.Errorf("step %s: when: %w", name, err)
		}
		if !ok {
			continue
		}

		p1, err := Render(step.Param1, ctx)
		if err != nil {
			return nil, fmt.Errorf("step %s: param_1: %w", name, err)
		}
		p2, err := renderParam(step.Param2, ctx)
		if err != nil {
			return nil, fmt.Errorf("step %s: param_2: %w", name, err)
		}

		tasks = append(tasks, domain.TaskSpec{
			TaskTypeName: step.TaskType,
			Param1:       p1,
			Param2:       p2,
			StartDelay:   time.Duration(step.DelaySec) * time.Second,
		})
	}
	return tasks, nil
}

// renderParam рендерит строку как шаблон, остальные значения — рекурсивно с сериализацией в JSON.
func renderParam(value any, ctx *Context) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return Render(v, ctx)
	}

	rendered, err := RenderValue(value, ctx)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(rendered)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateRender, err)
	}
	return string(b), nil
}

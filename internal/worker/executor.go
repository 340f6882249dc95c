package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/shaiso/dynaflow/internal/domain"
)

// Executor выполняет задачу одного типа.
//
// Логгер с полями задачи доступен через telemetry.FromContext(ctx).
// Возвращённая ошибка — ошибка обработчика: она не прерывает процессор,
// а передаётся в RetryPolicy. Результат сохраняется в result_value.
type Executor interface {
	Process(ctx context.Context, env Env, task *domain.Task) (string, error)
}

// ExecutorFunc — адаптер функции к Executor.
type ExecutorFunc func(ctx context.Context, env Env, task *domain.Task) (string, error)

// Process вызывает f.
func (f ExecutorFunc) Process(ctx context.Context, env Env, task *domain.Task) (string, error) {
	return f(ctx, env, task)
}

// Env — окружение выполнения задачи.
type Env struct {
	// Flow — flow-владелец задачи.
	Flow *domain.Flow

	// TaskType — тип задачи.
	TaskType *domain.TaskType

	// Vars — переменные окружения для шаблонов (без префикса).
	Vars map[string]string
}

// Registry — реестр executor'ов по закрытому перечню TaskTypeLookup.
type Registry struct {
	executors map[domain.TaskTypeLookup]Executor
}

// NewRegistry создаёт реестр со всеми встроенными executor'ами.
func NewRegistry() *Registry {
	r := &Registry{executors: make(map[domain.TaskTypeLookup]Executor)}
	r.Register(domain.TaskTypeHTTP, &HTTPExecutor{})
	r.Register(domain.TaskTypeDelay, &DelayExecutor{})
	r.Register(domain.TaskTypeTransform, &TransformExecutor{})
	r.Register(domain.TaskTypeNoop, NoopExecutor{})
	return r
}

// Register добавляет или заменяет executor.
func (r *Registry) Register(lookup domain.TaskTypeLookup, executor Executor) {
	r.executors[lookup] = executor
}

// Get возвращает executor для lookup.
func (r *Registry) Get(lookup domain.TaskTypeLookup) (Executor, error) {
	executor, ok := r.executors[lookup]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTaskType, lookup)
	}
	return executor, nil
}

// Validate проверяет, что для каждого типа задачи есть executor.
func (r *Registry) Validate(types []domain.TaskType) error {
	var errs []error
	for _, tt := range types {
		if _, err := r.Get(tt.Lookup); err != nil {
			errs = append(errs, fmt.Errorf("task type %q: %w", tt.Name, err))
		}
	}
	return errors.Join(errs...)
}

// process вызывает executor, превращая панику в ошибку обработчика.
func process(ctx context.Context, executor Executor, env Env, task *domain.Task) (result string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrExecutorPanic, p)
		}
	}()
	return executor.Process(ctx, env, task)
}

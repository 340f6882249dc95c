package config

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shaiso/dynaflow/internal/domain"
	"github.com/shaiso/dynaflow/internal/repo"
)

// TypesConfig — справочники типов, загружаемые в хранилище при старте.
type TypesConfig struct {
	FlowTypes []FlowTypeConfig `yaml:"flow_types"`
	TaskTypes []TaskTypeConfig `yaml:"task_types"`
}

// FlowTypeConfig — описание DynaFlowType.
type FlowTypeConfig struct {
	Name           string         `yaml:"name"`
	Lookup         string         `yaml:"lookup"`
	PriorityLevel  int            `yaml:"priority_level"`
	Cron           string         `yaml:"cron"`
	DefaultSubject string         `yaml:"default_subject"`
	Definition     map[string]any `yaml:"definition"`
}

// TaskTypeConfig — описание DynaFlowTaskType.
type TaskTypeConfig struct {
	Name          string `yaml:"name"`
	Lookup        string `yaml:"lookup"`
	MaxRetryCount int    `yaml:"max_retry_count"`
	DebugPause    bool   `yaml:"debug_pause"`
}

// Validate проверяет имена и значения перечней.
func (t TypesConfig) Validate() error {
	seen := make(map[string]bool)
	for _, ft := range t.FlowTypes {
		if ft.Name == "" {
			return fmt.Errorf("%w: flow type without name", ErrInvalidValue)
		}
		if seen["flow:"+ft.Name] {
			return fmt.Errorf("%w: duplicate flow type %q", ErrInvalidValue, ft.Name)
		}
		seen["flow:"+ft.Name] = true
		if !domain.FlowTypeLookup(ft.Lookup).Valid() {
			return fmt.Errorf("%w: flow type %q has unknown lookup %q", ErrInvalidValue, ft.Name, ft.Lookup)
		}
	}
	for _, tt := range t.TaskTypes {
		if tt.Name == "" {
			return fmt.Errorf("%w: task type without name", ErrInvalidValue)
		}
		if seen["task:"+tt.Name] {
			return fmt.Errorf("%w: duplicate task type %q", ErrInvalidValue, tt.Name)
		}
		seen["task:"+tt.Name] = true
		if !domain.TaskTypeLookup(tt.Lookup).Valid() {
			return fmt.Errorf("%w: task type %q has unknown lookup %q", ErrInvalidValue, tt.Name, tt.Lookup)
		}
		if tt.MaxRetryCount < 0 {
			return fmt.Errorf("%w: task type %q has negative max_retry_count", ErrInvalidValue, tt.Name)
		}
	}
	return nil
}

// FlowTypeModels переводит описания в доменные типы.
func (t TypesConfig) FlowTypeModels() ([]domain.FlowType, error) {
	out := make([]domain.FlowType, 0, len(t.FlowTypes))
	for _, ft := range t.FlowTypes {
		var def json.RawMessage
		if ft.Definition != nil {
			b, err := json.Marshal(ft.Definition)
			if err != nil {
				return nil, fmt.Errorf("flow type %q definition: %w", ft.Name, err)
			}
			def = b
		}
		out = append(out, domain.FlowType{
			Lookup:         domain.FlowTypeLookup(ft.Lookup),
			Name:           ft.Name,
			PriorityLevel:  ft.PriorityLevel,
			Definition:     def,
			CronExpr:       ft.Cron,
			DefaultSubject: ft.DefaultSubject,
		})
	}
	return out, nil
}

// TaskTypeModels переводит описания в доменные типы.
func (t TypesConfig) TaskTypeModels() []domain.TaskType {
	out := make([]domain.TaskType, 0, len(t.TaskTypes))
	for _, tt := range t.TaskTypes {
		out = append(out, domain.TaskType{
			Lookup:        domain.TaskTypeLookup(tt.Lookup),
			Name:          tt.Name,
			MaxRetryCount: tt.MaxRetryCount,
			IsDebugPause:  tt.DebugPause,
		})
	}
	return out
}

// SeedTypes записывает справочники в хранилище (upsert по имени).
func SeedTypes(ctx context.Context, types *repo.TypeRepo, tc TypesConfig) error {
	for _, tt := range tc.TaskTypeModels() {
		if err := types.UpsertTaskType(ctx, &tt); err != nil {
			return fmt.Errorf("seed task type %q: %w", tt.Name, err)
		}
	}

	flowTypes, err := tc.FlowTypeModels()
	if err != nil {
		return err
	}
	for _, ft := range flowTypes {
		if err := types.UpsertFlowType(ctx, &ft); err != nil {
			return fmt.Errorf("seed flow type %q: %w", ft.Name, err)
		}
	}
	return nil
}

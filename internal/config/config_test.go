package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shaiso/dynaflow/internal/repo"
)

func envMap(m map[string]string) lookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Processor.MaintenanceInterval != 30*time.Minute {
		t.Errorf("maintenance interval = %v", cfg.Processor.MaintenanceInterval)
	}
	if cfg.Processor.RetryDelay != 3*time.Minute {
		t.Errorf("retry delay = %v", cfg.Processor.RetryDelay)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
roles:
  task_master: true
  task_processor: false
queue:
  enabled: true
  processor: jobs
  dead: jobs.dead
  result: jobs.result
  driver: redis
processor:
  batch_size: 10
  poll_interval: 5s
types:
  task_types:
    - name: ping
      lookup: http
      max_retry_count: 2
  flow_types:
    - name: nightly
      lookup: sequence
      priority_level: 5
      cron: "0 3 * * *"
      definition:
        steps:
          - task_type: ping
            param_1: "https://example.com/{{ .Flow.Subject }}"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Roles.TaskProcessor {
		t.Error("task_processor should be false")
	}
	if cfg.Queue.Processor != "jobs" || cfg.Queue.Driver != QueueDriverRedis {
		t.Errorf("queue = %+v", cfg.Queue)
	}
	if cfg.Processor.PollInterval != 5*time.Second || cfg.Processor.BatchSize != 10 {
		t.Errorf("processor = %+v", cfg.Processor)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	flowTypes, err := cfg.Types.FlowTypeModels()
	if err != nil {
		t.Fatalf("FlowTypeModels: %v", err)
	}
	if len(flowTypes) != 1 || flowTypes[0].CronExpr != "0 3 * * *" {
		t.Fatalf("flow types = %+v", flowTypes)
	}
	if len(flowTypes[0].Definition) == 0 {
		t.Error("definition is empty")
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(envMap(map[string]string{
		"IS_TASK_MASTER":       "false",
		"IS_TASK_QUEUE_USED":   "true",
		"PROCESSOR_QUEUE_NAME": "p",
		"DB_DRIVER":            "sqlite",
		"RETRY_DELAY":          "10s",
		"BATCH_SIZE":           "5",
	}))
	if err != nil {
		t.Fatalf("applyEnv: %v", err)
	}
	if cfg.Roles.TaskMaster || !cfg.Queue.Enabled {
		t.Errorf("roles/queue not applied: %+v %+v", cfg.Roles, cfg.Queue)
	}
	if cfg.Queue.Processor != "p" || cfg.DB.Driver != repo.DialectSQLite {
		t.Errorf("strings not applied")
	}
	if cfg.Processor.RetryDelay != 10*time.Second || cfg.Processor.BatchSize != 5 {
		t.Errorf("numbers not applied: %+v", cfg.Processor)
	}
}

func TestApplyEnv_EmptyQueueNameFailsValidation(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(envMap(map[string]string{
		"IS_TASK_QUEUE_USED":   "true",
		"PROCESSOR_QUEUE_NAME": "",
	}))
	if err != nil {
		t.Fatalf("applyEnv: %v", err)
	}
	if cfg.Queue.Processor != "" {
		t.Fatalf("processor queue = %q, want empty", cfg.Queue.Processor)
	}
	if err := cfg.Validate(); !errors.Is(err, ErrQueueNameMissing) {
		t.Fatalf("Validate = %v, want ErrQueueNameMissing", err)
	}

	// незаданная переменная оставляет значение по умолчанию
	cfg = Default()
	if err := cfg.applyEnv(envMap(map[string]string{"IS_TASK_QUEUE_USED": "true"})); err != nil {
		t.Fatalf("applyEnv: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestApplyEnv_InvalidValues(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(envMap(map[string]string{
		"IS_TASK_MASTER": "maybe",
		"BATCH_SIZE":     "many",
	}))
	if !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected ErrInvalidValue, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"defaults", func(*Config) {}, nil},
		{"no role", func(c *Config) {
			c.Roles.TaskMaster = false
			c.Roles.TaskProcessor = false
		}, ErrNoRole},
		{"blank dead queue", func(c *Config) {
			c.Queue.Enabled = true
			c.Queue.Dead = " "
		}, ErrQueueNameMissing},
		{"blank queue ignored in direct mode", func(c *Config) {
			c.Queue.Enabled = false
			c.Queue.Result = ""
		}, nil},
		{"bad lookup", func(c *Config) {
			c.Types.TaskTypes = []TaskTypeConfig{{Name: "x", Lookup: "ftp"}}
		}, ErrInvalidValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.want == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSeedTypes(t *testing.T) {
	ctx := context.Background()
	db, err := repo.OpenSQLite(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		t.Fatal(err)
	}

	tc := TypesConfig{
		TaskTypes: []TaskTypeConfig{{Name: "ping", Lookup: "http", MaxRetryCount: 1}},
		FlowTypes: []FlowTypeConfig{{
			Name:       "check",
			Lookup:     "sequence",
			Definition: map[string]any{"steps": []any{map[string]any{"task_type": "ping"}}},
		}},
	}
	types := repo.NewTypeRepo(db)
	if err := SeedTypes(ctx, types, tc); err != nil {
		t.Fatalf("SeedTypes: %v", err)
	}
	// повторный запуск обновляет, а не дублирует
	if err := SeedTypes(ctx, types, tc); err != nil {
		t.Fatalf("SeedTypes again: %v", err)
	}

	list, err := types.ListTaskTypes(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].MaxRetryCount != 1 {
		t.Errorf("task types = %+v", list)
	}
	ft, err := types.GetFlowTypeByName(ctx, "check")
	if err != nil {
		t.Fatal(err)
	}
	if ft.Lookup != "sequence" {
		t.Errorf("lookup = %q", ft.Lookup)
	}
}

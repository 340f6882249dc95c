// Package config загружает настройки процессора: значения по умолчанию,
// затем YAML-файл (необязательный), затем переменные окружения.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/dynaflow/internal/domain"
	"github.com/shaiso/dynaflow/internal/mq"
	"github.com/shaiso/dynaflow/internal/processor"
	"github.com/shaiso/dynaflow/internal/repo"
	"github.com/shaiso/dynaflow/internal/telemetry"
)

// DefaultPath — файл конфигурации, если DYNAFLOW_CONFIG не задан.
const DefaultPath = "config.yaml"

// Драйверы очередей.
const (
	QueueDriverRabbitMQ = "rabbitmq"
	QueueDriverRedis    = "redis"
	QueueDriverMemory   = "memory"
)

var (
	// ErrNoRole — не включена ни одна роль процессора.
	ErrNoRole = processor.ErrNoRole

	// ErrQueueNameMissing — в режиме очередей не задано имя очереди.
	ErrQueueNameMissing = mq.ErrQueueNameMissing

	// ErrInvalidValue — значение настройки не разбирается.
	ErrInvalidValue = errors.New("invalid config value")
)

// Config — настройки процессора.
type Config struct {
	Roles     RolesConfig         `yaml:"roles"`
	Queue     QueueConfig         `yaml:"queue"`
	DB        DBConfig            `yaml:"db"`
	Processor ProcessorConfig     `yaml:"processor"`
	Telemetry TelemetryConfig     `yaml:"telemetry"`
	API       APIConfig           `yaml:"api"`
	Log       telemetry.LogConfig `yaml:"log"`
	Types     TypesConfig         `yaml:"types"`
}

// RolesConfig — включённые роли.
type RolesConfig struct {
	// TaskMaster — Scheduler, Task Builder, Task Distributor, разбор результатов.
	TaskMaster bool `yaml:"task_master"`

	// TaskProcessor — Task Executor.
	TaskProcessor bool `yaml:"task_processor"`
}

// QueueConfig — режим очередей.
type QueueConfig struct {
	// Enabled — задачи передаются через очередь, иначе выполняются в процессе мастера.
	Enabled bool `yaml:"enabled"`

	mq.QueueNames `yaml:",inline"`

	Driver    string `yaml:"driver"`
	RabbitURL string `yaml:"rabbitmq_url"`
	RedisURL  string `yaml:"redis_url"`
}

// DBConfig — хранилище.
type DBConfig struct {
	Driver repo.Dialect `yaml:"driver"`
	URL    string       `yaml:"url"`
}

// ProcessorConfig — параметры цикла.
type ProcessorConfig struct {
	// ScratchDir — локальное временное хранилище, очищается при старте.
	ScratchDir string `yaml:"scratch_dir"`

	// InstanceName — суффикс идентификатора процессора.
	InstanceName string `yaml:"instance_name"`

	MaintenanceInterval time.Duration `yaml:"maintenance_interval"`
	MaintenanceGrace    time.Duration `yaml:"maintenance_grace"`
	StallTimeout        time.Duration `yaml:"stall_timeout"`
	RetryDelay          time.Duration `yaml:"retry_delay"`
	BatchSize           int           `yaml:"batch_size"`

	// PollInterval — пауза между циклами; 0 — один проход и выход.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// TelemetryConfig — метрики и трейсинг.
type TelemetryConfig struct {
	MetricsPort  string `yaml:"metrics_port"`
	OTelExporter string `yaml:"otel_exporter"`
}

// APIConfig — административный HTTP API.
type APIConfig struct {
	Port string `yaml:"port"`
}

// Default возвращает конфигурацию по умолчанию.
func Default() *Config {
	return &Config{
		Roles: RolesConfig{TaskMaster: true, TaskProcessor: true},
		Queue: QueueConfig{
			QueueNames: mq.DefaultQueueNames(),
			Driver:     QueueDriverRabbitMQ,
			RabbitURL:  mq.DefaultURL,
			RedisURL:   mq.DefaultRedisURL,
		},
		DB: DBConfig{
			Driver: repo.DialectPostgres,
			URL:    repo.DefaultPostgresURL,
		},
		Processor: ProcessorConfig{
			ScratchDir:          filepath.Join(os.TempDir(), "dynaflow"),
			MaintenanceInterval: domain.DefaultMaintenanceInterval,
			MaintenanceGrace:    time.Hour,
			StallTimeout:        time.Hour,
			RetryDelay:          domain.DefaultRetryDelay,
			BatchSize:           100,
		},
		Telemetry: TelemetryConfig{
			MetricsPort:  "8082",
			OTelExporter: telemetry.ExporterNone,
		},
		API: APIConfig{Port: "8080"},
		Log: telemetry.LogConfig{
			Level:     "INFO",
			Format:    "json",
			FileMaxMB: 100,
		},
	}
}

// Path возвращает путь к файлу конфигурации.
func Path() string {
	if p := os.Getenv("DYNAFLOW_CONFIG"); p != "" {
		return p
	}
	return DefaultPath
}

// Load читает файл (отсутствие файла — не ошибка) и применяет окружение.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

// applyEnv переопределяет значения из окружения.
func (c *Config) applyEnv(lookup lookupFunc) error {
	e := envReader{lookup: lookup}

	e.setBool("IS_TASK_MASTER", &c.Roles.TaskMaster)
	e.setBool("IS_TASK_PROCESSOR", &c.Roles.TaskProcessor)
	e.setBool("IS_TASK_QUEUE_USED", &c.Queue.Enabled)
	// пустое имя очереди не заменяется значением по умолчанию:
	// его отклонит Validate
	e.setPresent("PROCESSOR_QUEUE_NAME", &c.Queue.Processor)
	e.setPresent("DEAD_QUEUE_NAME", &c.Queue.Dead)
	e.setPresent("RESULT_QUEUE_NAME", &c.Queue.Result)
	e.setString("QUEUE_DRIVER", &c.Queue.Driver)
	e.setString("RABBITMQ_URL", &c.Queue.RabbitURL)
	e.setString("REDIS_URL", &c.Queue.RedisURL)

	var driver string
	if e.setString("DB_DRIVER", &driver) {
		c.DB.Driver = repo.Dialect(driver)
	}
	e.setString("DB_URL", &c.DB.URL)

	e.setString("SCRATCH_DIR", &c.Processor.ScratchDir)
	e.setString("INSTANCE_NAME", &c.Processor.InstanceName)
	e.setDuration("MAINTENANCE_INTERVAL", &c.Processor.MaintenanceInterval)
	e.setDuration("MAINTENANCE_GRACE", &c.Processor.MaintenanceGrace)
	e.setDuration("STALL_TIMEOUT", &c.Processor.StallTimeout)
	e.setDuration("RETRY_DELAY", &c.Processor.RetryDelay)
	e.setInt("BATCH_SIZE", &c.Processor.BatchSize)
	e.setDuration("POLL_INTERVAL", &c.Processor.PollInterval)

	e.setString("METRICS_PORT", &c.Telemetry.MetricsPort)
	e.setString("OTEL_EXPORTER", &c.Telemetry.OTelExporter)
	e.setString("API_PORT", &c.API.Port)

	e.setString("LOG_LEVEL", &c.Log.Level)
	e.setString("LOG_FORMAT", &c.Log.Format)
	e.setString("LOG_FILE", &c.Log.File)
	e.setInt("LOG_FILE_MAX_MB", &c.Log.FileMaxMB)

	return errors.Join(e.errs...)
}

// Validate проверяет согласованность настроек.
func (c *Config) Validate() error {
	if !c.Roles.TaskMaster && !c.Roles.TaskProcessor {
		return ErrNoRole
	}
	if c.Queue.Enabled {
		if err := c.Queue.QueueNames.Validate(); err != nil {
			return err
		}
		switch c.Queue.Driver {
		case QueueDriverRabbitMQ, QueueDriverRedis, QueueDriverMemory:
		default:
			return fmt.Errorf("%w: queue driver %q", ErrInvalidValue, c.Queue.Driver)
		}
	}
	switch c.DB.Driver {
	case repo.DialectPostgres, repo.DialectSQLite:
	default:
		return fmt.Errorf("%w: db driver %q", ErrInvalidValue, c.DB.Driver)
	}
	if c.Processor.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive", ErrInvalidValue)
	}
	if c.Processor.MaintenanceInterval <= 0 {
		return fmt.Errorf("%w: maintenance interval must be positive", ErrInvalidValue)
	}
	return c.Types.Validate()
}

// envReader собирает ошибки разбора, чтобы сообщить обо всех сразу.
type envReader struct {
	lookup lookupFunc
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) setString(key string, dst *string) bool {
	v, ok := e.get(key)
	if ok {
		*dst = v
	}
	return ok
}

// setPresent применяет значение, если переменная задана, даже пустое.
func (e *envReader) setPresent(key string, dst *string) {
	if v, ok := e.lookup(key); ok {
		*dst = strings.TrimSpace(v)
	}
}

func (e *envReader) setBool(key string, dst *bool) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%w: %s=%q", ErrInvalidValue, key, v))
		return
	}
	*dst = b
}

func (e *envReader) setInt(key string, dst *int) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%w: %s=%q", ErrInvalidValue, key, v))
		return
	}
	*dst = n
}

func (e *envReader) setDuration(key string, dst *time.Duration) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%w: %s=%q", ErrInvalidValue, key, v))
		return
	}
	*dst = d
}

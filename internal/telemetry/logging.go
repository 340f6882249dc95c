package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig — настройки логирования.
type LogConfig struct {
	// Level — DEBUG, INFO, WARN, ERROR. По умолчанию INFO.
	Level string `yaml:"level"`

	// Format — "json" (по умолчанию) или "text".
	Format string `yaml:"format"`

	// File — дополнительный файл с ротацией по размеру.
	File string `yaml:"file"`

	// FileMaxMB — размер файла до ротации.
	FileMaxMB int `yaml:"file_max_mb"`
}

// ParseLevel переводит строковый уровень в slog.Level.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogger инициализирует глобальный логгер.
//
// Вывод идёт в stdout; при заданном File — ещё и в файл через lumberjack.
func SetupLogger(cfg LogConfig) *slog.Logger {
	level := ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var out io.Writer = os.Stdout
	if cfg.File != "" {
		maxMB := cfg.FileMaxMB
		if maxMB <= 0 {
			maxMB = 100
		}
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    maxMB,
			MaxBackups: 5,
			Compress:   true,
		})
	}

	logger := slog.New(newHandler(out, cfg.Format, opts))
	slog.SetDefault(logger)

	return logger
}

func newHandler(out io.Writer, format string, opts *slog.HandlerOptions) slog.Handler {
	if format == "text" {
		return slog.NewTextHandler(out, opts)
	}
	return slog.NewJSONHandler(out, opts)
}

type loggerKey struct{}

// WithLogger кладёт логгер задачи в контекст executor'а.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext возвращает логгер из контекста или глобальный.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// WithFlowCode возвращает логгер с добавленным flow_code.
func WithFlowCode(logger *slog.Logger, code string) *slog.Logger {
	return logger.With("flow_code", code)
}

// WithTaskCode возвращает логгер с добавленными task_code и task_type.
func WithTaskCode(logger *slog.Logger, code, taskType string) *slog.Logger {
	return logger.With("task_code", code, "task_type", taskType)
}

// WithProcessor возвращает логгер с добавленным processor_id.
func WithProcessor(logger *slog.Logger, processorID string) *slog.Logger {
	return logger.With("processor_id", processorID)
}

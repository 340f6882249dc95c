// Package telemetry обеспечивает наблюдаемость процессора.
//
// Включает:
//   - logging.go — structured logging через slog (+ ротация файла lumberjack)
//   - metrics.go — Prometheus метрики
//   - tracing.go — OpenTelemetry spans вокруг построения и выполнения задач
package telemetry

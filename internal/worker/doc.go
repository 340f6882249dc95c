// Package worker — Task Executor процессора DynaFlow.
//
// # Обзор
//
// Worker выполняет захваченные задачи (DynaFlowTask). Задача уже
// захвачена Distributor'ом (is_started, владелец, max_retry_count
// скопирован из типа); Worker перечитывает её из БД, запускает
// executor и сохраняет исход.
//
// Два режима:
//   - прямой: Distributor вызывает RunTask сразу после захвата
//   - очереди: DrainProcessorQueue читает сообщения task.dispatch из
//     очереди processor, выполняет задачи и отправляет task.result
//     в очередь result
//
// # Executor
//
// Интерфейс для выполнения задачи одного типа:
//
//	type Executor interface {
//	    Process(ctx context.Context, env Env, task *domain.Task) (string, error)
//	}
//
// Registry сопоставляет закрытый перечень domain.TaskTypeLookup
// с реализациями:
//   - HTTPExecutor — HTTP-запрос (param_1 URL, param_2 JSON параметры)
//   - DelayExecutor — пауза на param_1 секунд
//   - TransformExecutor — рендер шаблона param_1 по JSON-данным param_2
//   - NoopExecutor — возвращает param_1
//
// Registry.Validate вызывается при старте: тип задачи без executor'а
// считается ошибкой конфигурации.
//
// # Обработка задачи
//
//  1. Flow завершён — no-op
//  2. Задача переводится в RUNNING с идентификатором процессора,
//     flow — в RUNNING при первом касании
//  3. Запрошена отмена — задача отменяется без запуска executor'а
//  4. Executor выполняется, паника превращается в ошибку
//  5. Успех → SUCCEEDED; ошибка → domain.RetryPolicy решает
//     между FAILED_RETRYABLE (retry_count++, min_start + задержка)
//     и FAILED_TERMINAL
//  6. Завершённая задача финализирует flow (FinalizeFlow)
//
// # Ошибки
//
// Ошибки executor'а не возвращаются вызывающему: они сохраняются
// в error_text задачи. RunTask возвращает только инфраструктурные
// ошибки (БД, отмена контекста). Неразбираемые сообщения очереди
// processor отправляются в dead-очередь и подтверждаются.
package worker

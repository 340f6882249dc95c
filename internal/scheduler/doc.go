// Package scheduler — цикл обслуживания процессора DynaFlow.
//
// Scheduler захватывает синглтон DFMaintenance и, если захват удался:
//   - запрашивает flow периодических типов (cron_expr), по одному на
//     каждое срабатывание (ключ идемпотентности "{type_id}_{due_unix}")
//   - возвращает в очередь построения flow, зависшие дольше StallTimeout
//   - возвращает в очередь задачи, зависшие дольше StallTimeout
//
// После прохода следующий становится доступен через Interval (30 минут).
// Незавершённый проход другого процессора блокирует захват на время
// Grace; свой незавершённый проход (падение) сбрасывается сразу.
//
// Cron-выражения разбираются github.com/robfig/cron/v3 (5 полей, UTC).
package scheduler

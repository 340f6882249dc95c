// Package api — административный HTTP API DynaFlow.
//
// Структура:
//   - handler.go        — Handler с зависимостями (репозитории, logger)
//   - routes.go         — роутер chi
//   - middleware.go     — logging, recovery
//   - response.go       — унифицированные JSON-ответы и обработка ошибок
//   - dto.go            — DTO и разбор параметров
//   - flow_handler.go   — запрос, просмотр и отмена flow
//   - task_handler.go   — отчёт по задачам и сброс задачи
//   - status_handler.go — /healthz и состояние обслуживания
//
// API не выполняет работу процессора: он только пишет запросы
// (новый flow, отмена, сброс), которые процессоры подхватывают
// следующим проходом.
package api

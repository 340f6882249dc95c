// Package cli реализует инструмент командной строки DynaFlow.
//
// CLI работает через административный HTTP API и не импортирует
// внутренние пакеты процессора.
//
// Команды:
//   - flow: list, request, show, tasks, cancel
//   - task: list, reset
//   - status
//
// Данные выводятся в stdout (таблица или JSON с --json),
// сообщения (Success/Error) — в stderr:
//
//	dynaflow flow request report --subject S-42
//	dynaflow task list --state FAILED_TERMINAL --json | jq .
//
// Каждая группа создаётся фабричной функцией (NewFlowCmd и т.д.),
// принимающей clientFn и outputFn — замыкания для ленивого создания
// Client и Output после разбора PersistentFlags.
package cli

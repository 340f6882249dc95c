// Package orchestrator — роль "task master" процессора DynaFlow.
//
// Orchestrator отвечает за:
//   - построение задач для запрошенных flow (BuildPending, BuildFlow)
//   - захват готовых задач и их раздачу (Distribute): в очередь
//     processor или прямо в worker.Worker
//   - разбор очереди result и финализацию flow (DrainResults)
//
// Все захваты — условные UPDATE в БД: из нескольких процессоров,
// увидевших одну запись, выигрывает ровно один.
package orchestrator

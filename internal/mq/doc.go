// Package mq — очереди DynaFlow: processor, result и dead.
//
// Transport скрывает брокер. Реализации:
//   - RabbitTransport — RabbitMQ (connection.go, topology.go)
//   - RedisTransport  — списки Redis с очередью "в обработке"
//   - MemoryTransport — в памяти процесса (тесты, одиночный процесс)
//
// Типы сообщений:
//   - task.dispatch — захваченная задача для исполнителя
//   - task.result   — итог выполнения задачи
//   - dead.letter   — сообщение, которое не удалось обработать
package mq

// Package processor — верхний цикл процессора DynaFlow.
//
// Экземпляр работает в одной или двух ролях:
//   - task master: Scheduler, Task Builder, Task Distributor, разбор итогов
//   - task processor: Task Executor
//
// Startup готовит экземпляр: очищает локальное хранилище, определяет
// идентификатор, проверяет справочники типов, один раз запускает
// Scheduler и снимает собственные незавершённые захваты.
//
// Run выполняет проходы, пока находится работа. Объём работы
// пересчитывается перед каждым проходом из БД и очередей.
// При PollInterval > 0 цикл повторяется до отмены контекста.
package processor

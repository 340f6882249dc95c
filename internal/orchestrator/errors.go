package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrTaskTypeNotFound — построитель сослался на несуществующий тип задачи.
	ErrTaskTypeNotFound = errors.New("task type not found")

	// ErrFlowTypeNotFound — тип flow удалён или не существует.
	ErrFlowTypeNotFound = errors.New("flow type not found")

	// ErrNoRunner — прямой режим без Worker.
	ErrNoRunner = errors.New("direct mode requires a task runner")

	// ErrNoTransport — режим очередей без транспорта.
	ErrNoTransport = errors.New("queue transport not configured")
)

package worker

import "errors"

// Ошибки воркера.
var (
	// ErrUnknownTaskType — нет executor'а для lookup типа задачи.
	ErrUnknownTaskType = errors.New("unknown task type")

	// ErrInvalidParams — параметры задачи не разбираются.
	ErrInvalidParams = errors.New("invalid task params")

	// ErrHTTPRequest — HTTP-запрос завершился ошибкой.
	ErrHTTPRequest = errors.New("http request failed")

	// ErrHTTPStatus — сервер ответил кодом >= 400.
	ErrHTTPStatus = errors.New("http error status")

	// ErrExecutorPanic — executor завершился паникой.
	ErrExecutorPanic = errors.New("executor panic")

	// ErrNoTransport — режим очередей без транспорта.
	ErrNoTransport = errors.New("queue transport not configured")
)

package processor

import "errors"

var (
	// ErrNoRole — не включена ни одна роль.
	ErrNoRole = errors.New("neither task master nor task processor role is enabled")

	// ErrNotStarted — Run вызван до Startup.
	ErrNotStarted = errors.New("processor is not started")

	// ErrInvalidTypes — справочники типов не проходят проверку реестрами.
	ErrInvalidTypes = errors.New("invalid flow or task types")
)

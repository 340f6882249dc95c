package api

import (
	"errors"
	"fmt"
)

// ErrInvalidParam — параметр запроса не разбирается.
var ErrInvalidParam = errors.New("invalid query parameter")

func errInvalidParam(name string) error {
	return fmt.Errorf("%w: %s", ErrInvalidParam, name)
}

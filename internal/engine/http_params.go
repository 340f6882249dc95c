package engine

import (
	"encoding/json"
	"fmt"
)

// HTTPParams — param_2 задачи типа http.
type HTTPParams struct {
	Method     string            `json:"method,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       any               `json:"body,omitempty"`
	TimeoutSec int               `json:"timeout_sec,omitempty"`
}

// ParseHTTPParams разбирает param_2. Пустая строка — параметры по умолчанию.
func ParseHTTPParams(raw string) (*HTTPParams, error) {
	var p HTTPParams
	if raw == "" {
		return &p, nil
	}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("parse http params: %w", err)
	}
	return &p, nil
}

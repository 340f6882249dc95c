package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shaiso/dynaflow/internal/domain"
	"github.com/shaiso/dynaflow/internal/engine"
	"github.com/shaiso/dynaflow/internal/telemetry"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	maxResultLen       = 1000
	maxErrorBodyLen    = 200

	// maxReadBody — сколько байт тела читается; остальное отбрасывается.
	maxReadBody = 64 << 10
)

// HTTPExecutor — executor для задач типа "http".
//
// Параметры:
//   - param_1: URL (обязательно)
//   - param_2: JSON {method, headers, body, timeout_sec}, см. engine.HTTPParams
//
// Ответ с кодом >= 400 считается ошибкой обработчика.
// Результат: "HTTP <code>: <тело, обрезанное до 1000 символов>".
type HTTPExecutor struct {
	// Client — HTTP-клиент (nil — http.DefaultClient).
	Client *http.Client
}

// Process выполняет HTTP-запрос.
func (e *HTTPExecutor) Process(ctx context.Context, _ Env, task *domain.Task) (string, error) {
	url := strings.TrimSpace(task.Param1)
	if url == "" {
		return "", fmt.Errorf("%w: url is required", ErrHTTPRequest)
	}

	params, err := engine.ParseHTTPParams(task.Param2)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}

	method := strings.ToUpper(params.Method)
	if method == "" {
		method = http.MethodGet
	}

	timeout := defaultHTTPTimeout
	if params.TimeoutSec > 0 {
		timeout = time.Duration(params.TimeoutSec) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var bodyReader io.Reader
	if params.Body != nil {
		bodyBytes, err := json.Marshal(params.Body)
		if err != nil {
			return "", fmt.Errorf("%w: marshal body: %v", ErrHTTPRequest, err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return "", fmt.Errorf("%w: create request: %v", ErrHTTPRequest, err)
	}
	for key, val := range params.Headers {
		req.Header.Set(key, val)
	}
	if bodyReader != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}

	begin := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrHTTPRequest, err)
	}
	defer resp.Body.Close()

	telemetry.FromContext(ctx).Debug("http request completed",
		"method", method,
		"status", resp.StatusCode,
		"duration", time.Since(begin),
	)

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxReadBody))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrHTTPRequest, err)
	}

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("%w: HTTP %d: %s", ErrHTTPStatus, resp.StatusCode, truncate(string(respBody), maxErrorBodyLen))
	}

	return fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(string(respBody), maxResultLen)), nil
}

// truncate обрезает строку до maxLen байт по границе символа UTF-8.
// Невалидные байты заменяются, чтобы результат можно было сохранить в TEXT.
func truncate(s string, maxLen int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= maxLen {
		return s
	}
	i := maxLen
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return s[:i] + "..."
}

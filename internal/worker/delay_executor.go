package worker

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shaiso/dynaflow/internal/domain"
	"github.com/shaiso/dynaflow/internal/telemetry"
)

// DelayExecutor — executor для задач типа "delay".
//
// Ожидает param_1 секунд (дробное значение допускается, пусто или <= 0 — 1 секунда).
// Поддерживает отмену через context.
type DelayExecutor struct{}

// Process выполняет задержку.
func (e *DelayExecutor) Process(ctx context.Context, _ Env, task *domain.Task) (string, error) {
	durationSec := 1.0
	if raw := strings.TrimSpace(task.Param1); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return "", fmt.Errorf("%w: delay seconds %q", ErrInvalidParams, raw)
		}
		durationSec = v
	}
	if durationSec <= 0 {
		durationSec = 1
	}

	duration := time.Duration(durationSec * float64(time.Second))
	telemetry.FromContext(ctx).Debug("delay started", "duration", duration)

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-timer.C:
		return fmt.Sprintf("delayed %s", duration), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

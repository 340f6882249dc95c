package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shaiso/dynaflow/internal/domain"
)

// cronParser — парсер cron-выражений (5 полей, UTC).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextDue возвращает первое время срабатывания cron-выражения после from.
func NextDue(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}

	next := schedule.Next(from.UTC())
	return next.UTC(), nil
}

// ValidateCronExpr проверяет валидность cron-выражения.
func ValidateCronExpr(cronExpr string) error {
	_, err := cronParser.Parse(cronExpr)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}
	return nil
}

// ValidateFlowTypes проверяет cron-выражения периодических типов flow.
func ValidateFlowTypes(types []domain.FlowType) error {
	var errs []error
	for i := range types {
		ft := &types[i]
		if !ft.IsRecurring() {
			continue
		}
		if err := ValidateCronExpr(ft.CronExpr); err != nil {
			errs = append(errs, fmt.Errorf("flow type %s: %w", ft.Name, err))
		}
	}
	return errors.Join(errs...)
}

// RequestKey — ключ идемпотентности flow, запрошенного по расписанию:
// "<id типа>_<время срабатывания unix>".
func RequestKey(typeID int64, due time.Time) string {
	return fmt.Sprintf("%d_%d", typeID, due.Unix())
}

package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/dynaflow/internal/domain"
)

// FlowRepo — репозиторий DynaFlow.
//
// Переходы состояния выполняются условными UPDATE: изменение
// применяется только если запись всё ещё в ожидаемом состоянии,
// а результат определяется по числу затронутых строк.
type FlowRepo struct {
	db *DB
}

// NewFlowRepo создаёт новый FlowRepo.
func NewFlowRepo(db *DB) *FlowRepo {
	return &FlowRepo{db: db}
}

const flowColumns = `id, code, dynaflow_type_id, subject_code, priority_level, request_key,
	is_build_debug_required, requested_utc, task_creation_started_utc,
	is_task_creation_started, is_tasks_created, is_started, is_completed,
	is_successful, is_canceled, is_cancel_requested,
	task_creation_processor_identifier, started_utc, completed_utc, result_value`

// Create сохраняет новый запрос на flow и выставляет flow.ID.
func (r *FlowRepo) Create(ctx context.Context, flow *domain.Flow) error {
	if flow.Code == uuid.Nil {
		flow.Code = uuid.New()
	}
	if flow.State == "" {
		flow.State = domain.FlowStateRequested
	}
	flags := flow.Flags()

	query := `
		INSERT INTO dynaflows (code, dynaflow_type_id, subject_code, priority_level, request_key,
			is_build_debug_required, requested_utc, is_cancel_requested,
			is_started, is_completed, is_successful, is_canceled, completed_utc, result_value)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`
	err := r.db.queryRow(ctx, r.db.sql, query,
		flow.Code.String(),
		flow.TypeID,
		flow.SubjectCode,
		flow.PriorityLevel,
		flow.RequestKey,
		flow.IsBuildDebugRequired,
		toNanos(flow.RequestedAt),
		flow.IsCancelRequested,
		flags.IsStarted,
		flags.IsCompleted,
		flags.IsSuccessful,
		flags.IsCanceled,
		nullNanos(flow.CompletedAt),
		flow.ResultValue,
	).Scan(&flow.ID)
	if err != nil {
		return fmt.Errorf("insert flow: %w", err)
	}
	return nil
}

// GetByID возвращает flow по ID.
func (r *FlowRepo) GetByID(ctx context.Context, id int64) (*domain.Flow, error) {
	query := `SELECT ` + flowColumns + ` FROM dynaflows WHERE id = ?`
	return scanFlow(r.db.queryRow(ctx, r.db.sql, query, id))
}

// GetByCode возвращает flow по внешнему коду.
func (r *FlowRepo) GetByCode(ctx context.Context, code uuid.UUID) (*domain.Flow, error) {
	query := `SELECT ` + flowColumns + ` FROM dynaflows WHERE code = ?`
	return scanFlow(r.db.queryRow(ctx, r.db.sql, query, code.String()))
}

// GetByRequestKey возвращает flow по ключу идемпотентности.
func (r *FlowRepo) GetByRequestKey(ctx context.Context, typeID int64, key string) (*domain.Flow, error) {
	query := `SELECT ` + flowColumns + ` FROM dynaflows WHERE dynaflow_type_id = ? AND request_key = ?`
	return scanFlow(r.db.queryRow(ctx, r.db.sql, query, typeID, key))
}

// List возвращает последние flow.
func (r *FlowRepo) List(ctx context.Context, limit, offset int) ([]domain.Flow, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + flowColumns + ` FROM dynaflows ORDER BY requested_utc DESC, id DESC LIMIT ? OFFSET ?`
	return r.list(ctx, query, limit, offset)
}

// buildableWhere — flow ждёт построения задач.
const buildableWhere = `
	is_build_debug_required = FALSE
	AND is_completed = FALSE
	AND is_task_creation_started = FALSE
	AND is_tasks_created = FALSE`

// ListBuildable возвращает flow, ожидающие построения задач, по времени запроса.
func (r *FlowRepo) ListBuildable(ctx context.Context, limit int) ([]domain.Flow, error) {
	query := `SELECT ` + flowColumns + ` FROM dynaflows WHERE ` + buildableWhere + `
		ORDER BY requested_utc ASC, id ASC LIMIT ?`
	return r.list(ctx, query, limit)
}

// CountBuildable возвращает число flow, ожидающих построения.
func (r *FlowRepo) CountBuildable(ctx context.Context) (int, error) {
	var n int
	query := `SELECT COUNT(*) FROM dynaflows WHERE ` + buildableWhere
	if err := r.db.queryRow(ctx, r.db.sql, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count buildable flows: %w", err)
	}
	return n, nil
}

// ClaimBuild захватывает построение задач flow.
//
// Выставляет is_task_creation_started, владельца и копирует
// priority_level из типа. Возвращает false, если flow уже захвачен,
// построен или завершён; в этом случае запись не меняется.
func (r *FlowRepo) ClaimBuild(ctx context.Context, id int64, owner string, now time.Time) (bool, error) {
	query := `
		UPDATE dynaflows SET
			is_task_creation_started = TRUE,
			task_creation_started_utc = ?,
			task_creation_processor_identifier = ?,
			priority_level = COALESCE(
				(SELECT ft.priority_level FROM dynaflow_types ft WHERE ft.id = dynaflows.dynaflow_type_id),
				priority_level)
		WHERE id = ?
			AND is_task_creation_started = FALSE
			AND is_tasks_created = FALSE
			AND is_completed = FALSE
	`
	n, err := r.db.exec(ctx, r.db.sql, query, toNanos(now), owner, id)
	if err != nil {
		return false, fmt.Errorf("claim flow build: %w", err)
	}
	return n == 1, nil
}

// MarkStarted переводит flow в RUNNING при первом касании задачи.
func (r *FlowRepo) MarkStarted(ctx context.Context, id int64, now time.Time) (bool, error) {
	query := `UPDATE dynaflows SET is_started = TRUE, started_utc = ?
		WHERE id = ? AND is_started = FALSE AND is_completed = FALSE`
	n, err := r.db.exec(ctx, r.db.sql, query, toNanos(now), id)
	if err != nil {
		return false, fmt.Errorf("mark flow started: %w", err)
	}
	return n == 1, nil
}

// Complete переводит flow в финальное состояние.
// Возвращает false, если flow уже завершён.
func (r *FlowRepo) Complete(ctx context.Context, id int64, state domain.FlowState, result string, now time.Time) (bool, error) {
	if !state.IsTerminal() {
		return false, fmt.Errorf("%w: %s is not a final flow state", ErrInvalidState, state)
	}

	query := `
		UPDATE dynaflows SET
			is_completed = TRUE,
			is_successful = ?,
			is_canceled = ?,
			completed_utc = ?,
			result_value = CASE WHEN ? <> '' THEN ? ELSE result_value END
		WHERE id = ? AND is_completed = FALSE
	`
	n, err := r.db.exec(ctx, r.db.sql, query,
		state == domain.FlowStateSucceeded,
		state == domain.FlowStateCanceled,
		toNanos(now),
		result, result,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("complete flow: %w", err)
	}
	return n == 1, nil
}

// RequestCancel выставляет запрос отмены. Для завершённого flow — ErrInvalidState.
func (r *FlowRepo) RequestCancel(ctx context.Context, code uuid.UUID) (*domain.Flow, error) {
	query := `UPDATE dynaflows SET is_cancel_requested = TRUE WHERE code = ? AND is_completed = FALSE`
	n, err := r.db.exec(ctx, r.db.sql, query, code.String())
	if err != nil {
		return nil, fmt.Errorf("request flow cancel: %w", err)
	}

	flow, err := r.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return flow, fmt.Errorf("%w: flow %s already completed", ErrInvalidState, code)
	}
	return flow, nil
}

// RequeueStalledBuilds сбрасывает флаги построения у flow, чьё построение
// началось раньше olderThan и не завершилось.
func (r *FlowRepo) RequeueStalledBuilds(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `
		UPDATE dynaflows SET
			is_task_creation_started = FALSE,
			task_creation_started_utc = NULL,
			task_creation_processor_identifier = ''
		WHERE is_task_creation_started = TRUE
			AND is_tasks_created = FALSE
			AND is_completed = FALSE
			AND task_creation_started_utc < ?
	`
	n, err := r.db.exec(ctx, r.db.sql, query, toNanos(olderThan))
	if err != nil {
		return 0, fmt.Errorf("requeue stalled builds: %w", err)
	}
	return n, nil
}

// ReleaseOrphanBuilds сбрасывает незавершённые построения процессора owner.
func (r *FlowRepo) ReleaseOrphanBuilds(ctx context.Context, owner string) (int64, error) {
	query := `
		UPDATE dynaflows SET
			is_task_creation_started = FALSE,
			task_creation_started_utc = NULL,
			task_creation_processor_identifier = ''
		WHERE is_task_creation_started = TRUE
			AND is_tasks_created = FALSE
			AND is_completed = FALSE
			AND task_creation_processor_identifier = ?
	`
	n, err := r.db.exec(ctx, r.db.sql, query, owner)
	if err != nil {
		return 0, fmt.Errorf("release orphan builds: %w", err)
	}
	return n, nil
}

func (r *FlowRepo) list(ctx context.Context, query string, args ...any) ([]domain.Flow, error) {
	rows, err := r.db.query(ctx, r.db.sql, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list flows: %w", err)
	}
	defer rows.Close()

	var flows []domain.Flow
	for rows.Next() {
		flow, err := scanFlow(rows)
		if err != nil {
			return nil, err
		}
		flows = append(flows, *flow)
	}
	return flows, rows.Err()
}

func scanFlow(row rowScanner) (*domain.Flow, error) {
	var (
		f                                   domain.Flow
		code                                string
		requested                           int64
		creationStarted, started, completed sql.NullInt64
		flags                               domain.FlowFlags
	)

	err := row.Scan(
		&f.ID,
		&code,
		&f.TypeID,
		&f.SubjectCode,
		&f.PriorityLevel,
		&f.RequestKey,
		&f.IsBuildDebugRequired,
		&requested,
		&creationStarted,
		&flags.IsTaskCreationStarted,
		&flags.IsTasksCreated,
		&flags.IsStarted,
		&flags.IsCompleted,
		&flags.IsSuccessful,
		&flags.IsCanceled,
		&f.IsCancelRequested,
		&f.TaskCreationProcessorID,
		&started,
		&completed,
		&f.ResultValue,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan flow: %w", err)
	}

	f.Code, err = uuid.Parse(code)
	if err != nil {
		return nil, fmt.Errorf("parse flow code %q: %w", code, err)
	}
	f.RequestedAt = fromNanos(requested)
	f.TaskCreationStartedAt = timePtr(creationStarted)
	f.StartedAt = timePtr(started)
	f.CompletedAt = timePtr(completed)
	f.TasksCreated = flags.IsTasksCreated
	f.State = domain.FlowStateFromFlags(flags)

	// task_creation_started_utc очищается вместе с флагом
	if !flags.IsTaskCreationStarted {
		f.TaskCreationStartedAt = nil
	}

	return &f, nil
}

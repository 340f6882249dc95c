package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/dynaflow/internal/domain"
)

// TaskRepo — репозиторий DynaFlowTask.
type TaskRepo struct {
	db *DB
}

// NewTaskRepo создаёт новый TaskRepo.
func NewTaskRepo(db *DB) *TaskRepo {
	return &TaskRepo{db: db}
}

var taskColumnList = []string{
	"id", "code", "dynaflow_id", "dynaflow_task_type_id", "predecessor_id", "sequence",
	"processor_identifier", "requested_utc", "min_start_utc", "started_utc", "completed_utc",
	"is_started", "is_completed", "is_successful", "is_canceled", "is_cancel_requested",
	"retry_count", "max_retry_count", "param_1", "param_2", "result_value", "error_text",
}

var taskColumns = strings.Join(taskColumnList, ", ")

// taskColumnsAs возвращает колонки задачи с префиксом алиаса таблицы.
func taskColumnsAs(alias string) string {
	cols := make([]string, len(taskColumnList))
	for i, c := range taskColumnList {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

// CreateChain сохраняет задачи flow цепочкой и защёлкивает is_tasks_created.
//
// Выполняется в одной транзакции: защёлка ставится только если owner
// всё ещё владеет построением. Каждой задаче назначается predecessor_id
// предыдущей. При потере захвата возвращается ErrClaimLost, задачи
// не создаются.
func (r *TaskRepo) CreateChain(ctx context.Context, flowID int64, owner string, tasks []domain.Task) error {
	return r.db.InTx(ctx, func(q querier) error {
		latch := `
			UPDATE dynaflows SET is_tasks_created = TRUE
			WHERE id = ?
				AND task_creation_processor_identifier = ?
				AND is_task_creation_started = TRUE
				AND is_tasks_created = FALSE
				AND is_completed = FALSE
		`
		n, err := r.db.exec(ctx, q, latch, flowID, owner)
		if err != nil {
			return fmt.Errorf("latch tasks created: %w", err)
		}
		if n != 1 {
			return fmt.Errorf("%w: flow %d", ErrClaimLost, flowID)
		}

		var prevID int64
		for i := range tasks {
			task := &tasks[i]
			task.FlowID = flowID
			task.PredecessorID = prevID
			task.Sequence = i + 1
			if err := r.insert(ctx, q, task); err != nil {
				return err
			}
			prevID = task.ID
		}
		return nil
	})
}

// Create сохраняет одну задачу.
func (r *TaskRepo) Create(ctx context.Context, task *domain.Task) error {
	return r.insert(ctx, r.db.sql, task)
}

func (r *TaskRepo) insert(ctx context.Context, q querier, task *domain.Task) error {
	if task.Code == uuid.Nil {
		task.Code = uuid.New()
	}
	if task.State == "" {
		task.State = domain.TaskStatePending
	}
	flags := task.Flags()

	query := `
		INSERT INTO dynaflow_tasks (code, dynaflow_id, dynaflow_task_type_id, predecessor_id, sequence,
			processor_identifier, requested_utc, min_start_utc, started_utc, completed_utc,
			is_started, is_completed, is_successful, is_canceled, is_cancel_requested,
			retry_count, max_retry_count, param_1, param_2, result_value, error_text)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`
	err := r.db.queryRow(ctx, q, query,
		task.Code.String(),
		task.FlowID,
		task.TaskTypeID,
		task.PredecessorID,
		task.Sequence,
		task.ProcessorID,
		toNanos(task.RequestedAt),
		toNanos(task.MinStartAt),
		nullNanos(task.StartedAt),
		nullNanos(task.CompletedAt),
		flags.IsStarted,
		flags.IsCompleted,
		flags.IsSuccessful,
		flags.IsCanceled,
		task.IsCancelRequested,
		task.RetryCount,
		task.MaxRetryCount,
		task.Param1,
		task.Param2,
		task.ResultValue,
		task.ErrorText,
	).Scan(&task.ID)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetByID возвращает задачу по ID.
func (r *TaskRepo) GetByID(ctx context.Context, id int64) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM dynaflow_tasks WHERE id = ?`
	return scanTask(r.db.queryRow(ctx, r.db.sql, query, id))
}

// GetByCode возвращает задачу по внешнему коду.
func (r *TaskRepo) GetByCode(ctx context.Context, code uuid.UUID) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM dynaflow_tasks WHERE code = ?`
	return scanTask(r.db.queryRow(ctx, r.db.sql, query, code.String()))
}

// ListByFlow возвращает задачи flow в порядке цепочки.
func (r *TaskRepo) ListByFlow(ctx context.Context, flowID int64) ([]domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM dynaflow_tasks WHERE dynaflow_id = ? ORDER BY sequence ASC, id ASC`
	return r.list(ctx, query, flowID)
}

// Save сохраняет изменяемые поля задачи.
//
// Завершённая задача не меняется: для неё возвращается ErrInvalidState.
// Единственный способ изменить завершённую задачу — Reset.
func (r *TaskRepo) Save(ctx context.Context, task *domain.Task) error {
	flags := task.Flags()

	query := `
		UPDATE dynaflow_tasks SET
			processor_identifier = ?,
			min_start_utc = ?,
			started_utc = ?,
			completed_utc = ?,
			is_started = ?,
			is_completed = ?,
			is_successful = ?,
			is_canceled = ?,
			is_cancel_requested = ?,
			retry_count = ?,
			max_retry_count = ?,
			result_value = ?,
			error_text = ?
		WHERE id = ? AND is_completed = FALSE
	`
	n, err := r.db.exec(ctx, r.db.sql, query,
		task.ProcessorID,
		toNanos(task.MinStartAt),
		nullNanos(task.StartedAt),
		nullNanos(task.CompletedAt),
		flags.IsStarted,
		flags.IsCompleted,
		flags.IsSuccessful,
		flags.IsCanceled,
		task.IsCancelRequested,
		task.RetryCount,
		task.MaxRetryCount,
		task.ResultValue,
		task.ErrorText,
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: task %d is completed or missing", ErrInvalidState, task.ID)
	}
	return nil
}

// runnableWhere — задача готова к захвату.
//
// Предшественник должен завершиться успешно; для flow с запросом
// отмены это требование снимается, чтобы оставшиеся задачи дошли
// до точки отмены.
const runnableWhere = `
	t.is_started = FALSE
	AND t.is_completed = FALSE
	AND t.min_start_utc <= ?
	AND tt.is_debug_pause = FALSE
	AND f.is_completed = FALSE
	AND (
		t.predecessor_id = 0
		OR f.is_cancel_requested = TRUE
		OR (p.is_completed = TRUE AND p.is_successful = TRUE)
	)`

const runnableFrom = `
	FROM dynaflow_tasks t
	JOIN dynaflows f ON f.id = t.dynaflow_id
	JOIN dynaflow_task_types tt ON tt.id = t.dynaflow_task_type_id
	LEFT JOIN dynaflow_tasks p ON p.id = t.predecessor_id`

// ListRunnable возвращает задачи, готовые к захвату, по убыванию приоритета flow.
func (r *TaskRepo) ListRunnable(ctx context.Context, now time.Time, limit int) ([]domain.Task, error) {
	query := `SELECT ` + taskColumnsAs("t") + runnableFrom + ` WHERE ` + runnableWhere + `
		ORDER BY f.priority_level DESC, f.requested_utc ASC, t.sequence ASC, t.id ASC
		LIMIT ?`
	return r.list(ctx, query, toNanos(now), limit)
}

// CountRunnable возвращает число задач, готовых к захвату.
func (r *TaskRepo) CountRunnable(ctx context.Context, now time.Time) (int, error) {
	var n int
	query := `SELECT COUNT(*)` + runnableFrom + ` WHERE ` + runnableWhere
	if err := r.db.queryRow(ctx, r.db.sql, query, toNanos(now)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count runnable tasks: %w", err)
	}
	return n, nil
}

// Claim захватывает задачу для процессора owner.
//
// Выставляет is_started, владельца и копирует max_retry_count из типа.
// Возвращает false, если задачу уже захватили, она завершена или
// min_start ещё не наступил; в этом случае запись не меняется.
func (r *TaskRepo) Claim(ctx context.Context, id int64, owner string, now time.Time) (bool, error) {
	query := `
		UPDATE dynaflow_tasks SET
			is_started = TRUE,
			processor_identifier = ?,
			started_utc = ?,
			max_retry_count = COALESCE(
				(SELECT tt.max_retry_count FROM dynaflow_task_types tt WHERE tt.id = dynaflow_tasks.dynaflow_task_type_id),
				max_retry_count)
		WHERE id = ?
			AND is_started = FALSE
			AND is_completed = FALSE
			AND min_start_utc <= ?
	`
	n, err := r.db.exec(ctx, r.db.sql, query, owner, toNanos(now), id, toNanos(now))
	if err != nil {
		return false, fmt.Errorf("claim task: %w", err)
	}
	return n == 1, nil
}

// TakeOver передаёт захват выполняющейся задачи от from к owner.
// Успешен, только если задача всё ещё захвачена from и не завершена:
// повторная доставка того же сообщения проигрывает.
func (r *TaskRepo) TakeOver(ctx context.Context, id int64, from, owner string) (bool, error) {
	query := `
		UPDATE dynaflow_tasks SET processor_identifier = ?
		WHERE id = ? AND processor_identifier = ? AND is_started = TRUE AND is_completed = FALSE
	`
	n, err := r.db.exec(ctx, r.db.sql, query, owner, id, from)
	if err != nil {
		return false, fmt.Errorf("take over task: %w", err)
	}
	return n == 1, nil
}

// ReleaseClaim возвращает захваченную, но не запущенную задачу в очередь.
func (r *TaskRepo) ReleaseClaim(ctx context.Context, id int64, owner string) (bool, error) {
	query := `
		UPDATE dynaflow_tasks SET is_started = FALSE, started_utc = NULL, processor_identifier = ''
		WHERE id = ? AND processor_identifier = ? AND is_started = TRUE AND is_completed = FALSE
	`
	n, err := r.db.exec(ctx, r.db.sql, query, id, owner)
	if err != nil {
		return false, fmt.Errorf("release task claim: %w", err)
	}
	return n == 1, nil
}

// RequeueStalledRuns сбрасывает флаги выполнения у задач,
// запущенных раньше olderThan и не завершившихся.
func (r *TaskRepo) RequeueStalledRuns(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `
		UPDATE dynaflow_tasks SET is_started = FALSE, started_utc = NULL, processor_identifier = ''
		WHERE is_started = TRUE AND is_completed = FALSE AND started_utc < ?
	`
	n, err := r.db.exec(ctx, r.db.sql, query, toNanos(olderThan))
	if err != nil {
		return 0, fmt.Errorf("requeue stalled runs: %w", err)
	}
	return n, nil
}

// ReleaseOrphans сбрасывает задачи, захваченные owner и не завершённые.
func (r *TaskRepo) ReleaseOrphans(ctx context.Context, owner string) (int64, error) {
	query := `
		UPDATE dynaflow_tasks SET is_started = FALSE, started_utc = NULL, processor_identifier = ''
		WHERE is_started = TRUE AND is_completed = FALSE AND processor_identifier = ?
	`
	n, err := r.db.exec(ctx, r.db.sql, query, owner)
	if err != nil {
		return 0, fmt.Errorf("release orphan tasks: %w", err)
	}
	return n, nil
}

// CancelPending отменяет незапущенные задачи flow.
func (r *TaskRepo) CancelPending(ctx context.Context, flowID int64, now time.Time) (int64, error) {
	query := `
		UPDATE dynaflow_tasks SET
			is_started = TRUE,
			is_completed = TRUE,
			is_successful = FALSE,
			is_canceled = TRUE,
			started_utc = COALESCE(started_utc, ?),
			completed_utc = ?
		WHERE dynaflow_id = ? AND is_started = FALSE AND is_completed = FALSE
	`
	ts := toNanos(now)
	n, err := r.db.exec(ctx, r.db.sql, query, ts, ts, flowID)
	if err != nil {
		return 0, fmt.Errorf("cancel pending tasks: %w", err)
	}
	return n, nil
}

// Reset — явный сброс завершённой задачи оператором.
//
// Задача и отменённые задачи цепочки после неё возвращаются в PENDING
// с retry_count=0, завершённый flow открывается заново.
func (r *TaskRepo) Reset(ctx context.Context, code uuid.UUID, now time.Time) (*domain.Task, error) {
	task, err := r.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if !task.IsCompleted() {
		return nil, fmt.Errorf("%w: task %s is not completed", ErrInvalidState, code)
	}

	err = r.db.InTx(ctx, func(q querier) error {
		resetTask := `
			UPDATE dynaflow_tasks SET
				is_started = FALSE, is_completed = FALSE, is_successful = FALSE, is_canceled = FALSE,
				retry_count = 0, min_start_utc = ?, started_utc = NULL, completed_utc = NULL,
				processor_identifier = '', result_value = '', error_text = ''
			WHERE dynaflow_id = ? AND is_completed = TRUE
				AND (id = ? OR (is_canceled = TRUE AND sequence > ?))
		`
		if _, err := r.db.exec(ctx, q, resetTask, toNanos(now), task.FlowID, task.ID, task.Sequence); err != nil {
			return fmt.Errorf("reset task: %w", err)
		}

		reopenFlow := `
			UPDATE dynaflows SET
				is_completed = FALSE, is_successful = FALSE, is_canceled = FALSE,
				is_cancel_requested = FALSE, completed_utc = NULL
			WHERE id = ? AND is_completed = TRUE
		`
		if _, err := r.db.exec(ctx, q, reopenFlow, task.FlowID); err != nil {
			return fmt.Errorf("reopen flow: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return r.GetByCode(ctx, code)
}

// TaskFilter — параметры отчёта по задачам.
type TaskFilter struct {
	// ProcessorID — фильтр по владельцу (пусто — любой).
	ProcessorID string

	// State — фильтр по состоянию (пусто — любое).
	State domain.TaskState

	// FlowID — фильтр по flow (0 — любой).
	FlowID int64

	Limit  int
	Offset int
}

// stateCondition переводит состояние задачи в условие на флаги.
func stateCondition(s domain.TaskState) (string, error) {
	switch s {
	case domain.TaskStatePending:
		return "is_started = FALSE AND is_completed = FALSE AND retry_count = 0", nil
	case domain.TaskStateFailedRetryable:
		return "is_started = FALSE AND is_completed = FALSE AND retry_count > 0", nil
	case domain.TaskStateRunning:
		return "is_started = TRUE AND is_completed = FALSE", nil
	case domain.TaskStateSucceeded:
		return "is_completed = TRUE AND is_successful = TRUE", nil
	case domain.TaskStateFailedTerminal:
		return "is_completed = TRUE AND is_successful = FALSE AND is_canceled = FALSE", nil
	case domain.TaskStateCanceled:
		return "is_completed = TRUE AND is_canceled = TRUE", nil
	default:
		return "", fmt.Errorf("%w: unknown task state %q", ErrInvalidState, s)
	}
}

// Search — отчёт по задачам с фильтром по процессору и состоянию.
func (r *TaskRepo) Search(ctx context.Context, filter TaskFilter) ([]domain.Task, error) {
	var conds []string
	var args []any

	if filter.ProcessorID != "" {
		conds = append(conds, "processor_identifier = ?")
		args = append(args, filter.ProcessorID)
	}
	if filter.FlowID != 0 {
		conds = append(conds, "dynaflow_id = ?")
		args = append(args, filter.FlowID)
	}
	if filter.State != "" {
		cond, err := stateCondition(filter.State)
		if err != nil {
			return nil, err
		}
		conds = append(conds, cond)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + taskColumns + ` FROM dynaflow_tasks`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY id ASC LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	return r.list(ctx, query, args...)
}

func (r *TaskRepo) list(ctx context.Context, query string, args ...any) ([]domain.Task, error) {
	rows, err := r.db.query(ctx, r.db.sql, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		t                   domain.Task
		code                string
		requested, minStart int64
		started, completed  sql.NullInt64
		flags               domain.TaskFlags
	)

	err := row.Scan(
		&t.ID,
		&code,
		&t.FlowID,
		&t.TaskTypeID,
		&t.PredecessorID,
		&t.Sequence,
		&t.ProcessorID,
		&requested,
		&minStart,
		&started,
		&completed,
		&flags.IsStarted,
		&flags.IsCompleted,
		&flags.IsSuccessful,
		&flags.IsCanceled,
		&t.IsCancelRequested,
		&t.RetryCount,
		&t.MaxRetryCount,
		&t.Param1,
		&t.Param2,
		&t.ResultValue,
		&t.ErrorText,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}

	t.Code, err = uuid.Parse(code)
	if err != nil {
		return nil, fmt.Errorf("parse task code %q: %w", code, err)
	}
	t.RequestedAt = fromNanos(requested)
	t.MinStartAt = fromNanos(minStart)
	t.StartedAt = timePtr(started)
	t.CompletedAt = timePtr(completed)
	t.State = domain.TaskStateFromFlags(flags, t.RetryCount)

	return &t, nil
}

package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shaiso/dynaflow/internal/domain"
)

// TypeRepo — справочники типов flow и задач.
type TypeRepo struct {
	db *DB
}

// NewTypeRepo создаёт новый TypeRepo.
func NewTypeRepo(db *DB) *TypeRepo {
	return &TypeRepo{db: db}
}

const flowTypeColumns = `id, lookup, name, priority_level, definition, cron_expr, default_subject`

const taskTypeColumns = `id, lookup, name, max_retry_count, is_debug_pause`

// UpsertFlowType создаёт или обновляет тип flow по имени.
func (r *TypeRepo) UpsertFlowType(ctx context.Context, ft *domain.FlowType) error {
	query := `
		INSERT INTO dynaflow_types (lookup, name, priority_level, definition, cron_expr, default_subject)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			lookup = excluded.lookup,
			priority_level = excluded.priority_level,
			definition = excluded.definition,
			cron_expr = excluded.cron_expr,
			default_subject = excluded.default_subject
		RETURNING id
	`
	err := r.db.queryRow(ctx, r.db.sql, query,
		string(ft.Lookup),
		ft.Name,
		ft.PriorityLevel,
		string(ft.Definition),
		ft.CronExpr,
		ft.DefaultSubject,
	).Scan(&ft.ID)
	if err != nil {
		return fmt.Errorf("upsert flow type %s: %w", ft.Name, err)
	}
	return nil
}

// UpsertTaskType создаёт или обновляет тип задачи по имени.
func (r *TypeRepo) UpsertTaskType(ctx context.Context, tt *domain.TaskType) error {
	query := `
		INSERT INTO dynaflow_task_types (lookup, name, max_retry_count, is_debug_pause)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			lookup = excluded.lookup,
			max_retry_count = excluded.max_retry_count,
			is_debug_pause = excluded.is_debug_pause
		RETURNING id
	`
	err := r.db.queryRow(ctx, r.db.sql, query,
		string(tt.Lookup),
		tt.Name,
		tt.MaxRetryCount,
		tt.IsDebugPause,
	).Scan(&tt.ID)
	if err != nil {
		return fmt.Errorf("upsert task type %s: %w", tt.Name, err)
	}
	return nil
}

// GetFlowType возвращает тип flow по ID.
func (r *TypeRepo) GetFlowType(ctx context.Context, id int64) (*domain.FlowType, error) {
	query := `SELECT ` + flowTypeColumns + ` FROM dynaflow_types WHERE id = ?`
	return scanFlowType(r.db.queryRow(ctx, r.db.sql, query, id))
}

// GetFlowTypeByName возвращает тип flow по имени.
func (r *TypeRepo) GetFlowTypeByName(ctx context.Context, name string) (*domain.FlowType, error) {
	query := `SELECT ` + flowTypeColumns + ` FROM dynaflow_types WHERE name = ?`
	return scanFlowType(r.db.queryRow(ctx, r.db.sql, query, name))
}

// ListFlowTypes возвращает все типы flow.
func (r *TypeRepo) ListFlowTypes(ctx context.Context) ([]domain.FlowType, error) {
	query := `SELECT ` + flowTypeColumns + ` FROM dynaflow_types ORDER BY id`
	return r.listFlowTypes(ctx, query)
}

// ListRecurringFlowTypes возвращает типы flow с расписанием.
func (r *TypeRepo) ListRecurringFlowTypes(ctx context.Context) ([]domain.FlowType, error) {
	query := `SELECT ` + flowTypeColumns + ` FROM dynaflow_types WHERE cron_expr <> '' ORDER BY id`
	return r.listFlowTypes(ctx, query)
}

func (r *TypeRepo) listFlowTypes(ctx context.Context, query string) ([]domain.FlowType, error) {
	rows, err := r.db.query(ctx, r.db.sql, query)
	if err != nil {
		return nil, fmt.Errorf("list flow types: %w", err)
	}
	defer rows.Close()

	var types []domain.FlowType
	for rows.Next() {
		ft, err := scanFlowType(rows)
		if err != nil {
			return nil, err
		}
		types = append(types, *ft)
	}
	return types, rows.Err()
}

// GetTaskType возвращает тип задачи по ID.
func (r *TypeRepo) GetTaskType(ctx context.Context, id int64) (*domain.TaskType, error) {
	query := `SELECT ` + taskTypeColumns + ` FROM dynaflow_task_types WHERE id = ?`
	return scanTaskType(r.db.queryRow(ctx, r.db.sql, query, id))
}

// GetTaskTypeByName возвращает тип задачи по имени.
func (r *TypeRepo) GetTaskTypeByName(ctx context.Context, name string) (*domain.TaskType, error) {
	query := `SELECT ` + taskTypeColumns + ` FROM dynaflow_task_types WHERE name = ?`
	return scanTaskType(r.db.queryRow(ctx, r.db.sql, query, name))
}

// ListTaskTypes возвращает все типы задач.
func (r *TypeRepo) ListTaskTypes(ctx context.Context) ([]domain.TaskType, error) {
	query := `SELECT ` + taskTypeColumns + ` FROM dynaflow_task_types ORDER BY id`
	rows, err := r.db.query(ctx, r.db.sql, query)
	if err != nil {
		return nil, fmt.Errorf("list task types: %w", err)
	}
	defer rows.Close()

	var types []domain.TaskType
	for rows.Next() {
		tt, err := scanTaskType(rows)
		if err != nil {
			return nil, err
		}
		types = append(types, *tt)
	}
	return types, rows.Err()
}

func scanFlowType(row rowScanner) (*domain.FlowType, error) {
	var ft domain.FlowType
	var lookup, definition string
	err := row.Scan(
		&ft.ID,
		&lookup,
		&ft.Name,
		&ft.PriorityLevel,
		&definition,
		&ft.CronExpr,
		&ft.DefaultSubject,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan flow type: %w", err)
	}
	ft.Lookup = domain.FlowTypeLookup(lookup)
	if definition != "" {
		ft.Definition = json.RawMessage(definition)
	}
	return &ft, nil
}

func scanTaskType(row rowScanner) (*domain.TaskType, error) {
	var tt domain.TaskType
	var lookup string
	err := row.Scan(
		&tt.ID,
		&lookup,
		&tt.Name,
		&tt.MaxRetryCount,
		&tt.IsDebugPause,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan task type: %w", err)
	}
	tt.Lookup = domain.TaskTypeLookup(lookup)
	return &tt, nil
}

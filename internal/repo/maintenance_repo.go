package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shaiso/dynaflow/internal/domain"
)

// maintenanceID — единственная строка df_maintenance.
const maintenanceID int64 = 1

// MaintenanceRepo — репозиторий синглтона DFMaintenance.
type MaintenanceRepo struct {
	db *DB
}

// NewMaintenanceRepo создаёт новый MaintenanceRepo.
func NewMaintenanceRepo(db *DB) *MaintenanceRepo {
	return &MaintenanceRepo{db: db}
}

// GetOrCreate возвращает синглтон, создавая его при первом обращении.
func (r *MaintenanceRepo) GetOrCreate(ctx context.Context) (*domain.Maintenance, error) {
	insert := `INSERT INTO df_maintenance (id) VALUES (?) ON CONFLICT (id) DO NOTHING`
	if _, err := r.db.exec(ctx, r.db.sql, insert, maintenanceID); err != nil {
		return nil, fmt.Errorf("create maintenance record: %w", err)
	}
	return r.Get(ctx)
}

// Get возвращает синглтон.
func (r *MaintenanceRepo) Get(ctx context.Context) (*domain.Maintenance, error) {
	query := `
		SELECT id, is_scheduled_process_request_started, is_scheduled_process_request_completed,
			processor_identifier, started_utc, last_scheduled_process_utc, next_scheduled_process_utc
		FROM df_maintenance WHERE id = ?
	`
	var (
		m                   domain.Maintenance
		started, last, next sql.NullInt64
	)
	err := r.db.queryRow(ctx, r.db.sql, query, maintenanceID).Scan(
		&m.ID,
		&m.IsStarted,
		&m.IsCompleted,
		&m.ProcessorID,
		&started,
		&last,
		&next,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get maintenance record: %w", err)
	}
	m.StartedAt = timePtr(started)
	m.LastRunAt = timePtr(last)
	m.NextRunAt = timePtr(next)
	return &m, nil
}

// Claim захватывает синглтон для self.
//
// Условие UPDATE сравнивает запись с observed (прочитанной ранее):
// если между чтением и записью её изменил другой процессор,
// захват не происходит и возвращается false.
func (r *MaintenanceRepo) Claim(ctx context.Context, observed *domain.Maintenance, self string, now time.Time) (bool, error) {
	query := `
		UPDATE df_maintenance SET
			is_scheduled_process_request_started = TRUE,
			is_scheduled_process_request_completed = FALSE,
			processor_identifier = ?,
			started_utc = ?
		WHERE id = ?
			AND is_scheduled_process_request_started = ?
			AND processor_identifier = ?
			AND COALESCE(started_utc, 0) = ?
			AND COALESCE(next_scheduled_process_utc, 0) = ?
	`
	n, err := r.db.exec(ctx, r.db.sql, query,
		self,
		toNanos(now),
		maintenanceID,
		observed.IsStarted,
		observed.ProcessorID,
		nanosOrZero(observed.StartedAt),
		nanosOrZero(observed.NextRunAt),
	)
	if err != nil {
		return false, fmt.Errorf("claim maintenance: %w", err)
	}
	return n == 1, nil
}

// Complete завершает проход, если self всё ещё владеет записью.
func (r *MaintenanceRepo) Complete(ctx context.Context, m *domain.Maintenance, self string) (bool, error) {
	query := `
		UPDATE df_maintenance SET
			is_scheduled_process_request_started = FALSE,
			is_scheduled_process_request_completed = TRUE,
			last_scheduled_process_utc = ?,
			next_scheduled_process_utc = ?
		WHERE id = ? AND processor_identifier = ?
	`
	n, err := r.db.exec(ctx, r.db.sql, query,
		nullNanos(m.LastRunAt),
		nullNanos(m.NextRunAt),
		maintenanceID,
		self,
	)
	if err != nil {
		return false, fmt.Errorf("complete maintenance: %w", err)
	}
	return n == 1, nil
}

func nanosOrZero(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return toNanos(*t)
}

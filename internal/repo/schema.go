package repo

import (
	"context"
	"fmt"
	"strings"
)

// schema — DDL хранилища. {{ID}} заменяется на автоинкрементный
// первичный ключ диалекта.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS dynaflow_types (
		id              {{ID}},
		lookup          TEXT NOT NULL,
		name            TEXT NOT NULL UNIQUE,
		priority_level  INTEGER NOT NULL DEFAULT 0,
		definition      TEXT NOT NULL DEFAULT '',
		cron_expr       TEXT NOT NULL DEFAULT '',
		default_subject TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS dynaflow_task_types (
		id              {{ID}},
		lookup          TEXT NOT NULL,
		name            TEXT NOT NULL UNIQUE,
		max_retry_count INTEGER NOT NULL DEFAULT 0,
		is_debug_pause  BOOLEAN NOT NULL DEFAULT FALSE
	)`,

	`CREATE TABLE IF NOT EXISTS df_maintenance (
		id                                     BIGINT PRIMARY KEY,
		is_scheduled_process_request_started   BOOLEAN NOT NULL DEFAULT FALSE,
		is_scheduled_process_request_completed BOOLEAN NOT NULL DEFAULT FALSE,
		processor_identifier                   TEXT NOT NULL DEFAULT '',
		started_utc                            BIGINT,
		last_scheduled_process_utc             BIGINT,
		next_scheduled_process_utc             BIGINT
	)`,

	`CREATE TABLE IF NOT EXISTS dynaflows (
		id                                 {{ID}},
		code                               TEXT NOT NULL UNIQUE,
		dynaflow_type_id                   BIGINT NOT NULL REFERENCES dynaflow_types(id),
		subject_code                       TEXT NOT NULL DEFAULT '',
		priority_level                     INTEGER NOT NULL DEFAULT 0,
		request_key                        TEXT NOT NULL DEFAULT '',
		is_build_debug_required            BOOLEAN NOT NULL DEFAULT FALSE,
		requested_utc                      BIGINT NOT NULL,
		task_creation_started_utc          BIGINT,
		is_task_creation_started           BOOLEAN NOT NULL DEFAULT FALSE,
		is_tasks_created                   BOOLEAN NOT NULL DEFAULT FALSE,
		is_started                         BOOLEAN NOT NULL DEFAULT FALSE,
		is_completed                       BOOLEAN NOT NULL DEFAULT FALSE,
		is_successful                      BOOLEAN NOT NULL DEFAULT FALSE,
		is_canceled                        BOOLEAN NOT NULL DEFAULT FALSE,
		is_cancel_requested                BOOLEAN NOT NULL DEFAULT FALSE,
		task_creation_processor_identifier TEXT NOT NULL DEFAULT '',
		started_utc                        BIGINT,
		completed_utc                      BIGINT,
		result_value                       TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE UNIQUE INDEX IF NOT EXISTS ux_dynaflows_request_key
		ON dynaflows (dynaflow_type_id, request_key) WHERE request_key <> ''`,

	`CREATE INDEX IF NOT EXISTS ix_dynaflows_build
		ON dynaflows (is_task_creation_started, is_completed, requested_utc)`,

	`CREATE TABLE IF NOT EXISTS dynaflow_tasks (
		id                    {{ID}},
		code                  TEXT NOT NULL UNIQUE,
		dynaflow_id           BIGINT NOT NULL REFERENCES dynaflows(id),
		dynaflow_task_type_id BIGINT NOT NULL REFERENCES dynaflow_task_types(id),
		predecessor_id        BIGINT NOT NULL DEFAULT 0,
		sequence              INTEGER NOT NULL DEFAULT 0,
		processor_identifier  TEXT NOT NULL DEFAULT '',
		requested_utc         BIGINT NOT NULL,
		min_start_utc         BIGINT NOT NULL,
		started_utc           BIGINT,
		completed_utc         BIGINT,
		is_started            BOOLEAN NOT NULL DEFAULT FALSE,
		is_completed          BOOLEAN NOT NULL DEFAULT FALSE,
		is_successful         BOOLEAN NOT NULL DEFAULT FALSE,
		is_canceled           BOOLEAN NOT NULL DEFAULT FALSE,
		is_cancel_requested   BOOLEAN NOT NULL DEFAULT FALSE,
		retry_count           INTEGER NOT NULL DEFAULT 0,
		max_retry_count       INTEGER NOT NULL DEFAULT 0,
		param_1               TEXT NOT NULL DEFAULT '',
		param_2               TEXT NOT NULL DEFAULT '',
		result_value          TEXT NOT NULL DEFAULT '',
		error_text            TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE INDEX IF NOT EXISTS ix_dynaflow_tasks_run
		ON dynaflow_tasks (is_started, is_completed, min_start_utc)`,

	`CREATE INDEX IF NOT EXISTS ix_dynaflow_tasks_flow
		ON dynaflow_tasks (dynaflow_id, sequence)`,
}

// Migrate создаёт схему, если её ещё нет.
func (db *DB) Migrate(ctx context.Context) error {
	id := "BIGSERIAL PRIMARY KEY"
	if db.dialect == DialectSQLite {
		id = "INTEGER PRIMARY KEY AUTOINCREMENT"
	}

	for _, stmt := range schema {
		stmt = strings.ReplaceAll(stmt, "{{ID}}", id)
		if _, err := db.sql.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

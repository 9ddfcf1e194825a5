package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStoreConfig contains configuration for the PostgreSQL job store.
type PostgresStoreConfig struct {
	// ConnString is a pgx connection string.
	ConnString string `yaml:"conn_string" json:"conn_string"`

	// MaxConnections caps the connection pool size.
	MaxConnections int `yaml:"max_connections" json:"max_connections"`

	// ConnTimeout bounds connection establishment.
	ConnTimeout time.Duration `yaml:"conn_timeout" json:"conn_timeout"`

	// JobsTable and ArgsTable name the backing tables.
	JobsTable string `yaml:"jobs_table" json:"jobs_table"`
	ArgsTable string `yaml:"args_table" json:"args_table"`
}

// PostgresStore implements JobStore using PostgreSQL. Arguments live in a
// child table with ON DELETE CASCADE, so deleting a job removes them in the
// same statement.
type PostgresStore struct {
	pool      *pgxpool.Pool
	jobsTable string
	argsTable string
}

// NewPostgresStore creates a PostgreSQL-backed job store and ensures the
// schema exists.
func NewPostgresStore(ctx context.Context, config PostgresStoreConfig) (*PostgresStore, error) {
	if config.ConnString == "" {
		return nil, errors.New("job store: postgres connection string is required")
	}
	if config.MaxConnections <= 0 {
		config.MaxConnections = 10
	}
	if config.ConnTimeout <= 0 {
		config.ConnTimeout = 5 * time.Second
	}
	if config.JobsTable == "" {
		config.JobsTable = "scheduled_jobs"
	}
	if config.ArgsTable == "" {
		config.ArgsTable = "scheduled_job_args"
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	poolConfig.MaxConns = int32(config.MaxConnections)
	poolConfig.ConnConfig.ConnectTimeout = config.ConnTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres connection pool: %w", err)
	}

	store := &PostgresStore{
		pool:      pool,
		jobsTable: config.JobsTable,
		argsTable: config.ArgsTable,
	}

	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create job store schema: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	schemaSQL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			name TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			queue TEXT NOT NULL,
			callable TEXT NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			at_front BOOLEAN NOT NULL DEFAULT FALSE,
			timeout_secs BIGINT NOT NULL DEFAULT 0,
			result_ttl_secs BIGINT NOT NULL DEFAULT 0,
			task_id TEXT,
			fire_at TIMESTAMP WITH TIME ZONE,
			interval_value BIGINT,
			interval_unit TEXT,
			cron_expr TEXT,
			repeat BIGINT,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			job_name TEXT NOT NULL REFERENCES %s (name) ON DELETE CASCADE,
			position BIGINT,
			key TEXT,
			kind TEXT NOT NULL,
			str_val TEXT NOT NULL DEFAULT '',
			int_val BIGINT,
			bool_val BOOLEAN NOT NULL DEFAULT FALSE,
			time_val TIMESTAMP WITH TIME ZONE
		);

		CREATE INDEX IF NOT EXISTS %s_enabled_idx ON %s (enabled);
		CREATE INDEX IF NOT EXISTS %s_job_name_idx ON %s (job_name);
	`, s.jobsTable, s.argsTable, s.jobsTable, s.jobsTable, s.jobsTable, s.argsTable, s.argsTable)

	_, err := s.pool.Exec(ctx, schemaSQL)
	return err
}

// Save implements JobStore: the job row is upserted and its argument rows
// replaced, all in one transaction.
func (s *PostgresStore) Save(ctx context.Context, job *Job) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (
			name, kind, queue, callable, enabled, at_front, timeout_secs,
			result_ttl_secs, task_id, fire_at, interval_value, interval_unit,
			cron_expr, repeat
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (name) DO UPDATE SET
			kind = EXCLUDED.kind,
			queue = EXCLUDED.queue,
			callable = EXCLUDED.callable,
			enabled = EXCLUDED.enabled,
			at_front = EXCLUDED.at_front,
			timeout_secs = EXCLUDED.timeout_secs,
			result_ttl_secs = EXCLUDED.result_ttl_secs,
			task_id = EXCLUDED.task_id,
			fire_at = EXCLUDED.fire_at,
			interval_value = EXCLUDED.interval_value,
			interval_unit = EXCLUDED.interval_unit,
			cron_expr = EXCLUDED.cron_expr,
			repeat = EXCLUDED.repeat,
			updated_at = NOW()
	`, s.jobsTable),
		job.Name, job.Kind, job.Queue, job.Callable, job.Enabled, job.AtFront,
		int64(job.Timeout/time.Second), int64(job.ResultTTL/time.Second),
		nullString(job.TaskID), nullTime(job.FireAt),
		nullPositive(job.IntervalValue), nullString(string(job.IntervalUnit)),
		nullString(job.CronExpr), job.Repeat,
	)
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}

	_, err = tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE job_name = $1", s.argsTable), job.Name)
	if err != nil {
		return fmt.Errorf("failed to replace job arguments: %w", err)
	}

	insertArg := fmt.Sprintf(`
		INSERT INTO %s (job_name, position, key, kind, str_val, int_val, bool_val, time_val)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, s.argsTable)

	for i, a := range job.Args {
		_, err = tx.Exec(ctx, insertArg,
			job.Name, int64(i), nil, a.Kind, a.StrVal, a.IntVal, a.BoolVal, a.TimeVal)
		if err != nil {
			return fmt.Errorf("failed to save argument %d: %w", i, err)
		}
	}
	for _, k := range job.Kwargs {
		_, err = tx.Exec(ctx, insertArg,
			job.Name, nil, k.Key, k.Kind, k.StrVal, k.IntVal, k.BoolVal, k.TimeVal)
		if err != nil {
			return fmt.Errorf("failed to save keyword argument %q: %w", k.Key, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit job save: %w", err)
	}
	return nil
}

// Get implements JobStore.
func (s *PostgresStore) Get(ctx context.Context, name string) (*Job, error) {
	job, err := s.scanJob(s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT name, kind, queue, callable, enabled, at_front, timeout_secs,
		       result_ttl_secs, task_id, fire_at, interval_value,
		       interval_unit, cron_expr, repeat
		FROM %s WHERE name = $1
	`, s.jobsTable), name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	if err := s.loadArgs(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *PostgresStore) loadArgs(ctx context.Context, job *Job) error {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, position, key, kind, str_val, int_val, bool_val, time_val
		FROM %s WHERE job_name = $1
		ORDER BY position NULLS LAST, id
	`, s.argsTable), job.Name)
	if err != nil {
		return fmt.Errorf("failed to load job arguments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			arg      Arg
			position *int64
			key      *string
		)
		arg.JobName = job.Name
		if err := rows.Scan(&arg.ID, &position, &key, &arg.Kind,
			&arg.StrVal, &arg.IntVal, &arg.BoolVal, &arg.TimeVal); err != nil {
			return fmt.Errorf("failed to scan argument row: %w", err)
		}
		if key != nil {
			job.Kwargs = append(job.Kwargs, Kwarg{Arg: arg, Key: *key})
		} else {
			job.Args = append(job.Args, arg)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating argument rows: %w", err)
	}
	return nil
}

// Delete implements JobStore. Argument rows cascade via the foreign key.
func (s *PostgresStore) Delete(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE name = $1", s.jobsTable), name)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// List implements JobStore.
func (s *PostgresStore) List(ctx context.Context, filter JobFilter) ([]*Job, error) {
	query := fmt.Sprintf(`
		SELECT name, kind, queue, callable, enabled, at_front, timeout_secs,
		       result_ttl_secs, task_id, fire_at, interval_value,
		       interval_unit, cron_expr, repeat
		FROM %s WHERE 1=1
	`, s.jobsTable)

	args := make([]interface{}, 0, 2)
	argIndex := 1
	if filter.Enabled != nil {
		query += fmt.Sprintf(" AND enabled = $%d", argIndex)
		args = append(args, *filter.Enabled)
		argIndex++
	}
	if filter.Kind != "" {
		query += fmt.Sprintf(" AND kind = $%d", argIndex)
		args = append(args, filter.Kind)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	result := make([]*Job, 0)
	for rows.Next() {
		job, err := s.scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		result = append(result, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job rows: %w", err)
	}

	for _, job := range result {
		if err := s.loadArgs(ctx, job); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// UpdateTaskID implements JobStore. The single UPDATE is the atomicity
// boundary required for task-id handoffs.
func (s *PostgresStore) UpdateTaskID(ctx context.Context, name string, taskID string) error {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET task_id = $2, updated_at = NOW() WHERE name = $1
	`, s.jobsTable), name, nullString(taskID))
	if err != nil {
		return fmt.Errorf("failed to update task id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// Close implements JobStore.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *PostgresStore) scanJob(row rowScanner) (*Job, error) {
	var (
		job           Job
		timeoutSecs   int64
		resultTTLSecs int64
		taskID        *string
		fireAt        *time.Time
		intervalValue *int64
		intervalUnit  *string
		cronExpr      *string
	)
	err := row.Scan(&job.Name, &job.Kind, &job.Queue, &job.Callable,
		&job.Enabled, &job.AtFront, &timeoutSecs, &resultTTLSecs,
		&taskID, &fireAt, &intervalValue, &intervalUnit, &cronExpr, &job.Repeat)
	if err != nil {
		return nil, err
	}

	job.Timeout = time.Duration(timeoutSecs) * time.Second
	job.ResultTTL = time.Duration(resultTTLSecs) * time.Second
	if taskID != nil {
		job.TaskID = *taskID
	}
	if fireAt != nil {
		job.FireAt = *fireAt
	}
	if intervalValue != nil {
		job.IntervalValue = *intervalValue
	}
	if intervalUnit != nil {
		job.IntervalUnit = IntervalUnit(*intervalUnit)
	}
	if cronExpr != nil {
		job.CronExpr = *cronExpr
	}
	return &job, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullPositive(n int64) *int64 {
	if n <= 0 {
		return nil
	}
	return &n
}

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"taskpilot/internal/model"
	"taskpilot/pkg/constants"
	"taskpilot/pkg/interfaces"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id              TEXT PRIMARY KEY,
	description     TEXT NOT NULL DEFAULT '',
	type            TEXT NOT NULL DEFAULT '',
	worker_type     TEXT NOT NULL DEFAULT '',
	priority        INTEGER NOT NULL DEFAULT 0,
	status          TEXT NOT NULL DEFAULT 'PENDING',
	dependencies    TEXT NOT NULL DEFAULT '[]',
	parameters      TEXT NOT NULL DEFAULT '{}',
	result          TEXT,
	error           TEXT NOT NULL DEFAULT '',
	assigned_worker TEXT NOT NULL DEFAULT '',
	retry_count     INTEGER NOT NULL DEFAULT 0,
	max_retries     INTEGER NOT NULL DEFAULT 0,
	timeout_seconds INTEGER NOT NULL DEFAULT 0,
	cost_estimate   REAL NOT NULL DEFAULT 0,
	created_at      INTEGER NOT NULL,
	assigned_at     INTEGER,
	started_at      INTEGER,
	completed_at    INTEGER,
	not_before      INTEGER
);
CREATE INDEX IF NOT EXISTS idx_tasks_claim ON tasks(status, worker_type, priority DESC, created_at ASC);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
`

// Store is the SQLite-backed task store. A single connection plus a
// process-level mutex serializes the claim transaction.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New opens (creating if needed) the database at path.
// Use ":memory:" for an ephemeral store in tests.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	// One connection keeps the in-memory variant coherent and makes the
	// claim transaction trivially serialized.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Add inserts a task in PENDING.
func (s *Store) Add(ctx context.Context, task *model.Task) error {
	if task.Status == "" {
		task.Status = constants.TaskStatusPending
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}

	deps, err := json.Marshal(task.Dependencies)
	if err != nil {
		return err
	}
	params, err := json.Marshal(task.Parameters)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, description, type, worker_type, priority, status,
			dependencies, parameters, error, assigned_worker, retry_count,
			max_retries, timeout_seconds, cost_estimate, created_at, not_before)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Description, task.Type, task.WorkerType, task.Priority,
		task.Status.String(), string(deps), string(params), task.Error,
		task.AssignedWorker, task.RetryCount, task.MaxRetries,
		task.TimeoutSeconds, task.CostEstimate, task.CreatedAt.UnixMilli(),
		msPtr(task.NotBefore))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return interfaces.ErrDuplicateID
		}
		return err
	}
	return nil
}

// ClaimNext atomically claims the best ready task for workerType.
// The scan skips blocked candidates instead of stopping, so a stalled
// high-priority task never starves lower-priority ready work.
func (s *Store) ClaimNext(ctx context.Context, workerType, workerID string) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now()
	rows, err := tx.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE status = ? AND worker_type = ?
		  AND (not_before IS NULL OR not_before <= ?)
		ORDER BY priority DESC, created_at ASC`,
		constants.TaskStatusPending.String(), workerType, now.UnixMilli())
	if err != nil {
		return nil, err
	}

	var candidates []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		candidates = append(candidates, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, t := range candidates {
		ok, err := depsCompleted(ctx, tx, t.Dependencies)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE tasks SET status = ?, assigned_worker = ?, assigned_at = ?
			WHERE id = ? AND status = ?`,
			constants.TaskStatusAssigned.String(), workerID, now.UnixMilli(),
			t.ID, constants.TaskStatusPending.String())
		if err != nil {
			return nil, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			continue
		}

		if err := tx.Commit(); err != nil {
			return nil, err
		}

		t.Status = constants.TaskStatusAssigned
		t.AssignedWorker = workerID
		t.AssignedAt = &now
		return t, nil
	}

	return nil, nil
}

func depsCompleted(ctx context.Context, tx *sql.Tx, deps []string) (bool, error) {
	for _, dep := range deps {
		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, dep).Scan(&status)
		if err == sql.ErrNoRows {
			// Unknown dependency blocks forever rather than unblocking silently.
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if constants.TaskStatus(status) != constants.TaskStatusCompleted {
			return false, nil
		}
	}
	return true, nil
}

// columnSetters maps update field names to SQL column expressions.
var columnSetters = map[string]string{
	"status":          "status = ?",
	"error":           "error = ?",
	"result":          "result = ?",
	"assigned_worker": "assigned_worker = ?",
	"retry_count":     "retry_count = ?",
	"assigned_at":     "assigned_at = ?",
	"started_at":      "started_at = ?",
	"completed_at":    "completed_at = ?",
	"not_before":      "not_before = ?",
}

// Update applies the given fields to an existing task.
func (s *Store) Update(ctx context.Context, taskID string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}

	setClauses := make([]string, 0, len(fields))
	args := make([]interface{}, 0, len(fields)+1)
	for name, value := range fields {
		clause, ok := columnSetters[name]
		if !ok {
			return fmt.Errorf("unknown task field %q", name)
		}
		v, err := toColumnValue(name, value)
		if err != nil {
			return err
		}
		setClauses = append(setClauses, clause)
		args = append(args, v)
	}
	args = append(args, taskID)

	res, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET "+strings.Join(setClauses, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return interfaces.ErrTaskNotFound
	}
	return nil
}

func toColumnValue(name string, value interface{}) (interface{}, error) {
	switch name {
	case "status":
		switch v := value.(type) {
		case constants.TaskStatus:
			return v.String(), nil
		case string:
			return v, nil
		}
		return nil, fmt.Errorf("invalid status value %v", value)
	case "result":
		if value == nil {
			return nil, nil
		}
		b, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case "assigned_at", "started_at", "completed_at", "not_before":
		switch v := value.(type) {
		case nil:
			return nil, nil
		case time.Time:
			return v.UnixMilli(), nil
		case *time.Time:
			return msPtr(v), nil
		}
		return nil, fmt.Errorf("invalid time value for %s", name)
	default:
		return value, nil
	}
}

// Get retrieves a task by id, (nil, nil) if absent.
func (s *Store) Get(ctx context.Context, taskID string) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, taskID)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// List returns tasks matching the optional status and worker type filters,
// newest first.
func (s *Store) List(ctx context.Context, status constants.TaskStatus, workerType string) ([]*model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var clauses []string
	var args []interface{}
	if status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, status.String())
	}
	if workerType != "" {
		clauses = append(clauses, "worker_type = ?")
		args = append(args, workerType)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Stats returns aggregate queue counters.
func (s *Store) Stats(ctx context.Context) (*model.QueueStats, error) {
	stats := &model.QueueStats{
		ByStatus: make(map[string]int64),
		ByType:   make(map[string]int64),
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return nil, err
		}
		stats.ByStatus[status] = count
		stats.Total += count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT worker_type, COUNT(*) FROM tasks GROUP BY worker_type`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var wt string
		var count int64
		if err := rows.Scan(&wt, &count); err != nil {
			rows.Close()
			return nil, err
		}
		stats.ByType[wt] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var oldest sql.NullInt64
	err = s.db.QueryRowContext(ctx,
		`SELECT MIN(created_at) FROM tasks WHERE status = ?`,
		constants.TaskStatusPending.String()).Scan(&oldest)
	if err != nil {
		return nil, err
	}
	if oldest.Valid {
		stats.OldestWait = time.Since(time.UnixMilli(oldest.Int64)).Seconds()
	}

	return stats, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

const taskColumns = `id, description, type, worker_type, priority, status,
	dependencies, parameters, result, error, assigned_worker, retry_count,
	max_retries, timeout_seconds, cost_estimate, created_at, assigned_at,
	started_at, completed_at, not_before`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*model.Task, error) {
	var t model.Task
	var status, deps, params string
	var result sql.NullString
	var createdMs int64
	var assignedMs, startedMs, completedMs, notBeforeMs sql.NullInt64

	err := row.Scan(&t.ID, &t.Description, &t.Type, &t.WorkerType, &t.Priority,
		&status, &deps, &params, &result, &t.Error, &t.AssignedWorker,
		&t.RetryCount, &t.MaxRetries, &t.TimeoutSeconds, &t.CostEstimate,
		&createdMs, &assignedMs, &startedMs, &completedMs, &notBeforeMs)
	if err != nil {
		return nil, err
	}

	t.Status = constants.TaskStatus(status)
	if err := json.Unmarshal([]byte(deps), &t.Dependencies); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(params), &t.Parameters); err != nil {
		return nil, err
	}
	if result.Valid && result.String != "" {
		if err := json.Unmarshal([]byte(result.String), &t.Result); err != nil {
			return nil, err
		}
	}
	t.CreatedAt = time.UnixMilli(createdMs)
	t.AssignedAt = timePtr(assignedMs)
	t.StartedAt = timePtr(startedMs)
	t.CompletedAt = timePtr(completedMs)
	t.NotBefore = timePtr(notBeforeMs)
	return &t, nil
}

func msPtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}

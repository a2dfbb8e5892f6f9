package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"farm_engine/internal/exception"
	"farm_engine/internal/model"
)

func (s *Store) UpsertTask(ctx context.Context, t model.Task) (model.Task, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.ThreadCount < 1 {
		t.ThreadCount = 1
	}
	if t.Status == "" {
		t.Status = model.TaskStatusPending
	}
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	scriptsJSON, err := json.Marshal(t.Scripts)
	if err != nil {
		return model.Task{}, err
	}
	groupsJSON, err := json.Marshal(t.GroupIDs)
	if err != nil {
		return model.Task{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, name, scripts_json, group_ids_json, thread_count, status, owner, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			scripts_json = excluded.scripts_json,
			group_ids_json = excluded.group_ids_json,
			thread_count = excluded.thread_count,
			owner = excluded.owner,
			updated_at = excluded.updated_at
	`, t.ID, t.Name, string(scriptsJSON), string(groupsJSON), t.ThreadCount, string(t.Status), t.Owner, t.CreatedAt.UnixMilli(), t.UpdatedAt.UnixMilli())
	if err != nil {
		return model.Task{}, err
	}
	return s.GetTask(ctx, t.ID)
}

func (s *Store) GetTask(ctx context.Context, id string) (model.Task, error) {
	var row struct {
		id          string
		name        string
		scripts     string
		groups      string
		threadCount int
		status      string
		owner       string
		createdAt   int64
		updatedAt   int64
	}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, scripts_json, group_ids_json, thread_count, status, owner, created_at, updated_at
		FROM tasks WHERE id = ?
	`, id).Scan(&row.id, &row.name, &row.scripts, &row.groups, &row.threadCount, &row.status, &row.owner, &row.createdAt, &row.updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Task{}, fmt.Errorf("task %s: %w", id, ErrNotFound)
		}
		return model.Task{}, err
	}
	t := model.Task{
		ID:          row.id,
		Name:        row.name,
		ThreadCount: row.threadCount,
		Status:      model.TaskStatus(row.status),
		Owner:       row.owner,
		CreatedAt:   time.UnixMilli(row.createdAt),
		UpdatedAt:   time.UnixMilli(row.updatedAt),
	}
	if err := json.Unmarshal([]byte(row.scripts), &t.Scripts); err != nil {
		return model.Task{}, fmt.Errorf("task %s scripts: %w", id, err)
	}
	if err := json.Unmarshal([]byte(row.groups), &t.GroupIDs); err != nil {
		return model.Task{}, fmt.Errorf("task %s groups: %w", id, err)
	}
	return t, nil
}

func (s *Store) UpdateTaskStatus(ctx context.Context, id string, status model.TaskStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?
	`, string(status), time.Now().UnixMilli(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListAccountsForTask returns the item ids of the task's groups in group
// order, then creation order. Items appearing in several groups are listed once.
func (s *Store) ListAccountsForTask(ctx context.Context, taskID string) ([]string, error) {
	t, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var out []string
	for _, gid := range t.GroupIDs {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id FROM account_items WHERE group_id = ? ORDER BY created_at, id
		`, gid)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// SweepOrphans fails records and tasks left running by a previous process.
func (s *Store) SweepOrphans(ctx context.Context, code exception.Code, message string) (records int64, tasks int64, err error) {
	now := time.Now().UnixMilli()
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE execution_records
			SET status = 'failed', ended_at = ?, error_code = ?, error_message = ?
			WHERE status IN ('pending', 'running')
		`, now, string(code), message)
		if err != nil {
			return err
		}
		records, _ = res.RowsAffected()

		res, err = tx.ExecContext(ctx, `
			UPDATE tasks SET status = 'failed', updated_at = ? WHERE status = 'running'
		`, now)
		if err != nil {
			return err
		}
		tasks, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return records, tasks, nil
}

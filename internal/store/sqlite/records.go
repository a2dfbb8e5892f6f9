package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"farm_engine/internal/exception"
	"farm_engine/internal/model"
)

// CreateRecord inserts a running record for (taskID, accountID).
func (s *Store) CreateRecord(ctx context.Context, taskID, accountID string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_records (id, task_id, account_id, status, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, id, taskID, accountID, string(model.TaskStatusRunning), time.Now().UnixMilli())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return "", fmt.Errorf("task %s account %s: %w", taskID, accountID, ErrActiveRecord)
		}
		return "", err
	}
	return id, nil
}

// AppendLog adds text to the record's log, newline-joined.
func (s *Store) AppendLog(ctx context.Context, recordID, text string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE execution_records
		SET log = CASE WHEN log = '' THEN ? ELSE log || char(10) || ? END
		WHERE id = ?
	`, text, text, recordID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("record %s: %w", recordID, ErrNotFound)
	}
	return nil
}

// FinalizeRecord moves a running record to a terminal status. It succeeds at
// most once per record; failed records must carry a known code.
func (s *Store) FinalizeRecord(ctx context.Context, recordID string, status model.TaskStatus, code exception.Code, message string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("finalize record %s: status %q is not terminal", recordID, status)
	}
	if code != "" && !exception.IsKnown(code) {
		return fmt.Errorf("finalize record %s: unknown error code %q", recordID, code)
	}
	if status == model.TaskStatusFailed && code == "" {
		return fmt.Errorf("finalize record %s: failed status requires an error code", recordID)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE execution_records
		SET status = ?, ended_at = ?, error_code = ?, error_message = ?
		WHERE id = ? AND status = 'running'
	`, string(status), time.Now().UnixMilli(), string(code), message, recordID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetRecord(ctx, recordID); err != nil {
			return err
		}
		return fmt.Errorf("record %s: %w", recordID, ErrFinalized)
	}
	return nil
}

const recordColumns = `id, task_id, account_id, status, started_at, ended_at, log, error_code, error_message`

func (s *Store) GetRecord(ctx context.Context, id string) (model.ExecutionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM execution_records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ExecutionRecord{}, fmt.Errorf("record %s: %w", id, ErrNotFound)
		}
		return model.ExecutionRecord{}, err
	}
	return rec, nil
}

// ListRecords returns every attempt for taskID, oldest first.
func (s *Store) ListRecords(ctx context.Context, taskID string) ([]model.ExecutionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM execution_records
		WHERE task_id = ? ORDER BY started_at, id
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ExecutionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (model.ExecutionRecord, error) {
	var (
		rec       model.ExecutionRecord
		status    string
		startedAt int64
		endedAt   sql.NullInt64
	)
	if err := sc.Scan(&rec.ID, &rec.TaskID, &rec.AccountID, &status, &startedAt, &endedAt, &rec.Log, &rec.ErrorCode, &rec.ErrorMessage); err != nil {
		return model.ExecutionRecord{}, err
	}
	rec.Status = model.TaskStatus(status)
	rec.StartedAt = time.UnixMilli(startedAt)
	rec.EndedAt = msPtr(endedAt)
	return rec, nil
}

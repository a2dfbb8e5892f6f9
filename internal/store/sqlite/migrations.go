package sqlite

import (
	"context"
	"fmt"
)

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			scripts_json TEXT NOT NULL DEFAULT '[]',
			group_ids_json TEXT NOT NULL DEFAULT '[]',
			thread_count INTEGER NOT NULL DEFAULT 1,
			status TEXT NOT NULL DEFAULT 'pending',
			owner TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS wallets (
			id TEXT PRIMARY KEY,
			address TEXT NOT NULL,
			private_key TEXT NOT NULL DEFAULT '',
			chain TEXT NOT NULL DEFAULT '',
			balance TEXT NOT NULL DEFAULT '',
			balance_at INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS account_items (
			id TEXT PRIMARY KEY,
			group_id TEXT NOT NULL,
			label TEXT NOT NULL DEFAULT '',
			wallet_id TEXT,
			socials_json TEXT NOT NULL DEFAULT '[]',
			email_json TEXT NOT NULL DEFAULT 'null',
			proxy_json TEXT NOT NULL DEFAULT 'null',
			fingerprint_json TEXT NOT NULL DEFAULT 'null',
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_account_items_group ON account_items(group_id, created_at, id);`,
		`CREATE TABLE IF NOT EXISTS execution_records (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			account_id TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			ended_at INTEGER,
			log TEXT NOT NULL DEFAULT '',
			error_code TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_execution_records_task ON execution_records(task_id, started_at);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_execution_records_active
			ON execution_records(task_id, account_id)
			WHERE status IN ('pending', 'running');`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

package engine

import (
	"context"
	"time"

	"farm_engine/internal/exception"
	"farm_engine/internal/model"
)

// RecordStore is the persistence the engine needs. *sqlite.Store satisfies it.
type RecordStore interface {
	CreateRecord(ctx context.Context, taskID, accountID string) (string, error)
	AppendLog(ctx context.Context, recordID, text string) error
	FinalizeRecord(ctx context.Context, recordID string, status model.TaskStatus, code exception.Code, message string) error
	ListAccountsForTask(ctx context.Context, taskID string) ([]string, error)

	GetTask(ctx context.Context, id string) (model.Task, error)
	UpdateTaskStatus(ctx context.Context, id string, status model.TaskStatus) error
	GetAccountItems(ctx context.Context, ids []string) ([]model.AccountGroupItem, error)

	ListRecords(ctx context.Context, taskID string) ([]model.ExecutionRecord, error)
	GetRecord(ctx context.Context, id string) (model.ExecutionRecord, error)
}

type WalletStore interface {
	ListWallets(ctx context.Context, ids []string) ([]model.Wallet, error)
	UpdateWalletBalance(ctx context.Context, walletID, balance string, at time.Time) error
}

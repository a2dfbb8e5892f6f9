package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"farm_engine/internal/exception"
	"farm_engine/internal/model"
	"farm_engine/internal/store/sqlite"
)

// memStore is an in-memory Store with the same guarantees as the sqlite one.
type memStore struct {
	mu        sync.Mutex
	tasks     map[string]model.Task
	items     []model.AccountGroupItem
	records   map[string]*model.ExecutionRecord
	order     []string
	wallets   map[string]model.Wallet
	finalized []exception.Code
}

func newMemStore() *memStore {
	return &memStore{
		tasks:   make(map[string]model.Task),
		records: make(map[string]*model.ExecutionRecord),
		wallets: make(map[string]model.Wallet),
	}
}

func (m *memStore) addTask(t model.Task) model.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.Status == "" {
		t.Status = model.TaskStatusPending
	}
	m.tasks[t.ID] = t
	return t
}

func (m *memStore) addItems(group string, ids ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		m.items = append(m.items, model.AccountGroupItem{ID: id, GroupID: group, Label: id})
	}
}

func (m *memStore) CreateRecord(_ context.Context, taskID, accountID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.TaskID == taskID && r.AccountID == accountID && !r.Status.IsTerminal() {
			return "", sqlite.ErrActiveRecord
		}
	}
	id := uuid.NewString()
	m.records[id] = &model.ExecutionRecord{ID: id, TaskID: taskID, AccountID: accountID, Status: model.TaskStatusRunning, StartedAt: time.Now()}
	m.order = append(m.order, id)
	return id, nil
}

func (m *memStore) AppendLog(_ context.Context, recordID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.records[recordID]
	if r == nil {
		return sqlite.ErrNotFound
	}
	if r.Log != "" {
		r.Log += "\n"
	}
	r.Log += text
	return nil
}

func (m *memStore) FinalizeRecord(_ context.Context, recordID string, status model.TaskStatus, code exception.Code, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.records[recordID]
	if r == nil {
		return sqlite.ErrNotFound
	}
	if r.Status != model.TaskStatusRunning {
		return sqlite.ErrFinalized
	}
	if code != "" && !exception.IsKnown(code) {
		return fmt.Errorf("unknown code %s", code)
	}
	now := time.Now()
	r.Status, r.EndedAt, r.ErrorCode, r.ErrorMessage = status, &now, string(code), message
	if status == model.TaskStatusFailed {
		m.finalized = append(m.finalized, code)
	}
	return nil
}

func (m *memStore) ListAccountsForTask(_ context.Context, taskID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return nil, sqlite.ErrNotFound
	}
	var out []string
	for _, g := range t.GroupIDs {
		for _, it := range m.items {
			if it.GroupID == g {
				out = append(out, it.ID)
			}
		}
	}
	return out, nil
}

func (m *memStore) GetTask(_ context.Context, id string) (model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return model.Task{}, fmt.Errorf("task %s: %w", id, sqlite.ErrNotFound)
	}
	return t, nil
}

func (m *memStore) UpdateTaskStatus(_ context.Context, id string, status model.TaskStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return sqlite.ErrNotFound
	}
	t.Status = status
	m.tasks[id] = t
	return nil
}

func (m *memStore) taskStatus(id string) model.TaskStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tasks[id].Status
}

func (m *memStore) GetAccountItems(_ context.Context, ids []string) ([]model.AccountGroupItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.AccountGroupItem
	for _, id := range ids {
		for _, it := range m.items {
			if it.ID == id {
				out = append(out, it)
				break
			}
		}
	}
	return out, nil
}

func (m *memStore) ListRecords(_ context.Context, taskID string) ([]model.ExecutionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ExecutionRecord
	for _, id := range m.order {
		if r := m.records[id]; r.TaskID == taskID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memStore) GetRecord(_ context.Context, id string) (model.ExecutionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.records[id]
	if r == nil {
		return model.ExecutionRecord{}, sqlite.ErrNotFound
	}
	return *r, nil
}

func (m *memStore) ListWallets(_ context.Context, ids []string) ([]model.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Wallet
	if len(ids) == 0 {
		for _, w := range m.wallets {
			out = append(out, w)
		}
		return out, nil
	}
	for _, id := range ids {
		if w, ok := m.wallets[id]; ok {
			out = append(out, w)
		}
	}
	return out, nil
}

func (m *memStore) UpdateWalletBalance(_ context.Context, walletID, balance string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[walletID]
	if !ok {
		return sqlite.ErrNotFound
	}
	w.Balance, w.BalanceAt = balance, at
	m.wallets[walletID] = w
	return nil
}

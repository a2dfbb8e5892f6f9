// Package seed loads tasks and account group items from a yaml file into the
// store at startup.
package seed

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"farm_engine/internal/model"
)

type File struct {
	Accounts []model.AccountGroupItem `yaml:"accounts"`
	Tasks    []model.Task             `yaml:"tasks"`
}

type Store interface {
	UpsertAccountItem(ctx context.Context, item model.AccountGroupItem) (model.AccountGroupItem, error)
	UpsertTask(ctx context.Context, t model.Task) (model.Task, error)
}

func Load(path string) (File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return File{}, err
	}
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return File{}, fmt.Errorf("decode seed: %w", err)
	}
	return f, nil
}

// Apply upserts accounts first so tasks referencing their groups resolve.
// Seeded tasks always start out pending.
func Apply(ctx context.Context, st Store, f File) (accounts, tasks int, err error) {
	for i, item := range f.Accounts {
		if _, err := st.UpsertAccountItem(ctx, item); err != nil {
			return accounts, tasks, fmt.Errorf("accounts[%d]: %w", i, err)
		}
		accounts++
	}
	for i, t := range f.Tasks {
		if len(t.Scripts) == 0 {
			return accounts, tasks, fmt.Errorf("tasks[%d]: scripts is required", i)
		}
		t.Status = model.TaskStatusPending
		if _, err := st.UpsertTask(ctx, t); err != nil {
			return accounts, tasks, fmt.Errorf("tasks[%d]: %w", i, err)
		}
		tasks++
	}
	return accounts, tasks, nil
}

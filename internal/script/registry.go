// Package script resolves script references to runnable steps.
package script

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"farm_engine/internal/browser"
	"farm_engine/internal/exception"
	"farm_engine/internal/model"
)

// Script runs against one account's automation context.
type Script func(ctx context.Context, s browser.Session, acct model.AccountData) error

type Registry struct {
	mu      sync.RWMutex
	scripts map[string]Script
}

func NewRegistry() *Registry {
	return &Registry{scripts: make(map[string]Script)}
}

func (r *Registry) Register(ref string, s Script) error {
	if ref == "" || s == nil {
		return fmt.Errorf("script: ref and script are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.scripts[ref]; ok {
		return fmt.Errorf("script: %q already registered", ref)
	}
	r.scripts[ref] = s
	return nil
}

// Resolve looks up ref.Ref, falling back to ref.Name.
func (r *Registry) Resolve(ref model.ScriptRef) (Script, error) {
	key := ref.Ref
	if key == "" {
		key = ref.Name
	}
	r.mu.RLock()
	s, ok := r.scripts[key]
	r.mu.RUnlock()
	if !ok {
		return nil, exception.ResourceNotFound().
			WithMessage("script not found").
			WithDetail("script", key)
	}
	return s, nil
}

func (r *Registry) Refs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.scripts))
	for k := range r.scripts {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

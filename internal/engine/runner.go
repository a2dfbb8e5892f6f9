package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"farm_engine/internal/config"
	"farm_engine/internal/logbus"
	"farm_engine/internal/model"
	"farm_engine/internal/notify"
	"farm_engine/internal/store/sqlite"
)

var (
	ErrTaskRunning    = errors.New("task is already running")
	ErrTaskNotRunning = errors.New("task is not running")
	ErrTaskNotFound   = errors.New("task not found")
	// ErrNoAccounts fails a task whose selection resolves to zero accounts.
	ErrNoAccounts = errors.New("no accounts selected")

	ErrNoBalanceProvider = errors.New("no balance provider configured")
)

type StartRequest struct {
	TaskID string `json:"taskId"`
	// AccountIDs overrides the task's group selection when non-empty.
	AccountIDs []string `json:"accountIds,omitempty"`
	Headless   *bool    `json:"headless,omitempty"`
}

type RunnerOptions struct {
	Store    RecordStore
	Pipeline *Pipeline
	Bus      *logbus.Bus
	Notifier notify.Notifier
	Task     config.TaskConfig
	Limits   config.LimitsConfig
	// Headless is the default when a start request does not say.
	Headless bool
}

// Runner owns one worker pool per running task.
type Runner struct {
	store    RecordStore
	pipeline *Pipeline
	bus      *logbus.Bus
	notifier notify.Notifier
	task     config.TaskConfig
	limits   config.LimitsConfig
	headless bool

	// baseCtx parents every run's context; it is never cancelled.
	baseCtx context.Context

	mu   sync.Mutex
	runs map[string]*taskRun
}

func NewRunner(opts RunnerOptions) *Runner {
	return &Runner{
		store:    opts.Store,
		pipeline: opts.Pipeline,
		bus:      opts.Bus,
		notifier: opts.Notifier,
		task:     opts.Task,
		limits:   opts.Limits,
		headless: opts.Headless,
		baseCtx:  context.Background(),
		runs:     make(map[string]*taskRun),
	}
}

// taskRun is the live state of one task execution.
type taskRun struct {
	task     model.Task
	items    []model.AccountGroupItem
	headless bool
	workers  int

	// ctx is cancelled when StopAll gives up waiting, or once the run is done.
	ctx    context.Context
	cancel context.CancelFunc
	stop   atomic.Bool
	done   chan struct{}

	mu     sync.Mutex
	cursor int
	state  model.TaskState
}

func (t *taskRun) next() (model.AccountGroupItem, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop.Load() || t.cursor >= len(t.items) {
		return model.AccountGroupItem{}, false
	}
	item := t.items[t.cursor]
	t.cursor++
	t.state.Started++
	t.state.InFlight++
	return item, true
}

// outcome is the terminal status once every worker has returned. A run that
// was asked to stop, lost its context, or left any account stopped is stopped.
func (t *taskRun) outcome() model.TaskStatus {
	t.mu.Lock()
	stopped := t.state.Stopped
	t.mu.Unlock()
	if t.stop.Load() || t.ctx.Err() != nil || stopped > 0 {
		return model.TaskStatusStopped
	}
	return model.TaskStatusCompleted
}

func (t *taskRun) snapshot() model.TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *taskRun) isDone() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Start resolves the selection and launches the worker pool. It returns once
// workers are running; use Wait to block until the task is terminal.
func (r *Runner) Start(ctx context.Context, req StartRequest) (model.TaskState, error) {
	r.mu.Lock()
	if run := r.runs[req.TaskID]; run != nil && !run.isDone() {
		r.mu.Unlock()
		return run.snapshot(), ErrTaskRunning
	}
	// Reserve the slot so concurrent starts of the same task fail fast.
	run := &taskRun{done: make(chan struct{})}
	run.state = model.TaskState{TaskID: req.TaskID, Status: model.TaskStatusPending}
	r.runs[req.TaskID] = run
	r.mu.Unlock()

	task, items, err := r.resolve(ctx, req)
	if err != nil && !errors.Is(err, ErrNoAccounts) {
		r.mu.Lock()
		delete(r.runs, req.TaskID)
		r.mu.Unlock()
		close(run.done)
		return model.TaskState{}, err
	}

	run.mu.Lock()
	run.task = task
	run.items = items
	run.headless = r.headless
	if req.Headless != nil {
		run.headless = *req.Headless
	}
	run.workers = r.workerCount(task, len(items))
	run.ctx, run.cancel = context.WithCancel(r.baseCtx)
	run.state = model.TaskState{
		TaskID:      task.ID,
		Status:      model.TaskStatusRunning,
		Total:       len(items),
		StartedAtMs: time.Now().UnixMilli(),
	}
	run.mu.Unlock()

	if err := r.store.UpdateTaskStatus(ctx, task.ID, model.TaskStatusRunning); err != nil {
		r.mu.Lock()
		delete(r.runs, req.TaskID)
		r.mu.Unlock()
		close(run.done)
		return model.TaskState{}, err
	}

	if len(items) == 0 {
		r.finish(run, model.TaskStatusFailed, ErrNoAccounts.Error())
		return run.snapshot(), ErrNoAccounts
	}

	r.bus.Log("info", "task started", map[string]any{
		"taskId":   task.ID,
		"accounts": len(items),
		"workers":  run.workers,
		"headless": run.headless,
	})
	r.publish(run)

	var wg sync.WaitGroup
	for i := 0; i < run.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.worker(run)
		}()
	}
	go func() {
		wg.Wait()
		r.finish(run, run.outcome(), "")
	}()

	return run.snapshot(), nil
}

func (r *Runner) resolve(ctx context.Context, req StartRequest) (model.Task, []model.AccountGroupItem, error) {
	task, err := r.store.GetTask(ctx, req.TaskID)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return model.Task{}, nil, fmt.Errorf("%w: %s", ErrTaskNotFound, req.TaskID)
		}
		return model.Task{}, nil, err
	}

	ids := req.AccountIDs
	if len(ids) == 0 {
		ids, err = r.store.ListAccountsForTask(ctx, task.ID)
		if err != nil {
			return model.Task{}, nil, err
		}
	}
	ids = dedupe(ids)
	if len(ids) == 0 {
		return task, nil, ErrNoAccounts
	}
	items, err := r.store.GetAccountItems(ctx, ids)
	if err != nil {
		return model.Task{}, nil, err
	}
	if len(items) < len(ids) {
		r.bus.Log("warn", "selection contains unknown accounts", map[string]any{
			"taskId":    task.ID,
			"requested": len(ids),
			"found":     len(items),
		})
	}
	if len(items) == 0 {
		return task, nil, ErrNoAccounts
	}
	return task, items, nil
}

func (r *Runner) workerCount(task model.Task, accounts int) int {
	n := task.ThreadCount
	if n < 1 {
		n = r.task.DefaultThreadCount
	}
	if n < 1 {
		n = 1
	}
	if r.limits.MaxThreads > 0 && n > r.limits.MaxThreads {
		n = r.limits.MaxThreads
	}
	if accounts > 0 && n > accounts {
		n = accounts
	}
	return n
}

func (r *Runner) worker(run *taskRun) {
	for {
		item, ok := run.next()
		if !ok {
			return
		}
		rec, err := r.pipeline.Run(run.ctx, run.task, item, RunOptions{
			Headless: run.headless,
			Stopped:  run.stop.Load,
		})

		run.mu.Lock()
		run.state.InFlight--
		switch {
		case err != nil:
			run.state.Failed++
			run.state.LastError = err.Error()
		case rec.Status == model.TaskStatusCompleted:
			run.state.Completed++
		case rec.Status == model.TaskStatusStopped:
			run.state.Stopped++
		default:
			run.state.Failed++
			run.state.LastError = rec.ErrorCode + ": " + rec.ErrorMessage
		}
		run.mu.Unlock()

		if err != nil {
			r.bus.Log("warn", "account not executed", map[string]any{
				"taskId": run.task.ID, "accountId": item.ID, "error": err.Error(),
			})
		}
		r.publish(run)
	}
}

// finish writes the terminal status once and notifies.
func (r *Runner) finish(run *taskRun, status model.TaskStatus, reason string) {
	run.mu.Lock()
	run.state.Status = status
	run.state.EndedAtMs = time.Now().UnixMilli()
	if reason != "" {
		run.state.LastError = reason
	}
	st := run.state
	run.mu.Unlock()

	ctx := context.Background()
	if err := r.store.UpdateTaskStatus(ctx, st.TaskID, status); err != nil {
		r.bus.Log("error", "update task status failed", map[string]any{"taskId": st.TaskID, "error": err.Error()})
	}
	r.bus.Log("info", "task finished", map[string]any{
		"taskId":    st.TaskID,
		"status":    string(status),
		"completed": st.Completed,
		"failed":    st.Failed,
		"stopped":   st.Stopped,
	})
	r.bus.Publish("task_state", st)

	if r.notifier != nil {
		r.notifier.NotifyTaskFinished(ctx, notify.TaskFinishedEvent{
			At:        st.EndedAtMs,
			TaskID:    st.TaskID,
			TaskName:  run.task.Name,
			Status:    string(status),
			Total:     st.Total,
			Completed: st.Completed,
			Failed:    st.Failed,
			Stopped:   st.Stopped,
			LastError: st.LastError,
			ElapsedMs: st.EndedAtMs - st.StartedAtMs,
		})
	}
	if run.cancel != nil {
		run.cancel()
	}
	close(run.done)
}

func (r *Runner) publish(run *taskRun) {
	r.bus.Publish("task_state", run.snapshot())
}

// Stop asks the task's workers to finish their current account and exit.
func (r *Runner) Stop(_ context.Context, taskID string) (model.TaskState, error) {
	r.mu.Lock()
	run := r.runs[taskID]
	r.mu.Unlock()
	if run == nil || run.isDone() {
		return model.TaskState{}, ErrTaskNotRunning
	}
	if run.stop.CompareAndSwap(false, true) {
		r.bus.Log("info", "task stop requested", map[string]any{"taskId": taskID})
	}
	return run.snapshot(), nil
}

// StopAll stops every task and waits for them. If ctx expires first the
// contexts of those runs are cancelled, which aborts their in-flight waits.
// Tasks started afterwards are unaffected.
func (r *Runner) StopAll(ctx context.Context) error {
	r.mu.Lock()
	runs := make([]*taskRun, 0, len(r.runs))
	for _, run := range r.runs {
		runs = append(runs, run)
	}
	r.mu.Unlock()

	for _, run := range runs {
		run.stop.Store(true)
	}

	done := make(chan struct{})
	go func() {
		for _, run := range runs {
			<-run.done
		}
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		for _, run := range runs {
			run.mu.Lock()
			cancel := run.cancel
			run.mu.Unlock()
			if cancel != nil {
				cancel()
			}
		}
		return ctx.Err()
	}
}

// Wait blocks until the task's current run is terminal.
func (r *Runner) Wait(ctx context.Context, taskID string) (model.TaskState, error) {
	r.mu.Lock()
	run := r.runs[taskID]
	r.mu.Unlock()
	if run == nil {
		return model.TaskState{}, ErrTaskNotRunning
	}
	select {
	case <-run.done:
		return run.snapshot(), nil
	case <-ctx.Done():
		return run.snapshot(), ctx.Err()
	}
}

func (r *Runner) State(taskID string) (model.TaskState, bool) {
	r.mu.Lock()
	run := r.runs[taskID]
	r.mu.Unlock()
	if run == nil {
		return model.TaskState{}, false
	}
	return run.snapshot(), true
}

func (r *Runner) States() model.EngineState {
	r.mu.Lock()
	runs := make([]*taskRun, 0, len(r.runs))
	for _, run := range r.runs {
		runs = append(runs, run)
	}
	r.mu.Unlock()

	out := model.EngineState{}
	for _, run := range runs {
		out.Tasks = append(out.Tasks, run.snapshot())
	}
	sort.Slice(out.Tasks, func(i, j int) bool { return out.Tasks[i].StartedAtMs < out.Tasks[j].StartedAtMs })
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"farm_engine/internal/browser"
	"farm_engine/internal/exception"
	"farm_engine/internal/logbus"
	"farm_engine/internal/model"
	"farm_engine/internal/provider"
	"farm_engine/internal/script"
)

// ErrAccountBusy is the failure recorded when the account already has an open
// context in another task.
var ErrAccountBusy = exception.ResourceBusy().WithMessage("account has an open execution context")

type ScriptResolver interface {
	Resolve(ref model.ScriptRef) (script.Script, error)
}

type PipelineOptions struct {
	Store     RecordStore
	Allocator browser.Allocator
	Scripts   ScriptResolver
	// ProxyChecker, when set, vets the account's proxy before a context is opened.
	ProxyChecker provider.ProxyChecker
	Bus          *logbus.Bus
}

// Pipeline runs a task's scripts for one account.
type Pipeline struct {
	store   RecordStore
	alloc   browser.Allocator
	scripts ScriptResolver
	proxies provider.ProxyChecker
	bus     *logbus.Bus
	locks   *accountLocks
}

func NewPipeline(opts PipelineOptions) *Pipeline {
	return &Pipeline{
		store:   opts.Store,
		alloc:   opts.Allocator,
		scripts: opts.Scripts,
		proxies: opts.ProxyChecker,
		bus:     opts.Bus,
		locks:   newAccountLocks(),
	}
}

type RunOptions struct {
	Headless bool
	// Stopped is polled between scripts.
	Stopped func() bool
}

// Run executes task's scripts against item and returns the finalized record.
func (p *Pipeline) Run(ctx context.Context, task model.Task, item model.AccountGroupItem, opts RunOptions) (model.ExecutionRecord, error) {
	if !p.locks.tryAcquire(item.ID) {
		return p.busy(ctx, task, item)
	}
	defer p.locks.release(item.ID)

	recordID, err := p.store.CreateRecord(ctx, task.ID, item.ID)
	if err != nil {
		return model.ExecutionRecord{}, fmt.Errorf("create record: %w", err)
	}
	rec := model.ExecutionRecord{
		ID:        recordID,
		TaskID:    task.ID,
		AccountID: item.ID,
		Status:    model.TaskStatusRunning,
		StartedAt: time.Now(),
	}
	log := &recordLogger{
		ctx:      context.WithoutCancel(ctx),
		store:    p.store,
		bus:      p.bus,
		recordID: recordID,
		fields:   map[string]any{"taskId": task.ID, "accountId": item.ID, "recordId": recordID},
	}

	status, exErr := p.execute(script.WithLogger(ctx, log), task, item, opts, log)

	rec.Status = status
	var code exception.Code
	if exErr != nil {
		code = exErr.Code
		rec.ErrorCode = string(exErr.Code)
		rec.ErrorMessage = exErr.Message
	}
	// Finalization must land even when ctx was cancelled mid-run.
	if err := p.store.FinalizeRecord(context.WithoutCancel(ctx), recordID, status, code, rec.ErrorMessage); err != nil {
		p.bus.Log("error", "finalize record failed", map[string]any{"recordId": recordID, "error": err.Error()})
		return rec, fmt.Errorf("finalize record: %w", err)
	}
	end := time.Now()
	rec.EndedAt = &end
	rec.Log = log.text()
	return rec, nil
}

// busy records a failed attempt for an account whose context is held elsewhere.
// Nothing is opened, so the record goes straight from running to failed.
func (p *Pipeline) busy(ctx context.Context, task model.Task, item model.AccountGroupItem) (model.ExecutionRecord, error) {
	recordID, err := p.store.CreateRecord(ctx, task.ID, item.ID)
	if err != nil {
		return model.ExecutionRecord{}, fmt.Errorf("create record: %w", err)
	}
	now := time.Now()
	rec := model.ExecutionRecord{
		ID:           recordID,
		TaskID:       task.ID,
		AccountID:    item.ID,
		Status:       model.TaskStatusFailed,
		StartedAt:    now,
		EndedAt:      &now,
		ErrorCode:    string(ErrAccountBusy.Code),
		ErrorMessage: ErrAccountBusy.Message,
	}
	if err := p.store.FinalizeRecord(context.WithoutCancel(ctx), recordID, rec.Status, ErrAccountBusy.Code, rec.ErrorMessage); err != nil {
		return rec, fmt.Errorf("finalize record: %w", err)
	}
	p.bus.Log("warn", "account busy", map[string]any{"taskId": task.ID, "accountId": item.ID, "recordId": recordID})
	return rec, nil
}

func (p *Pipeline) execute(ctx context.Context, task model.Task, item model.AccountGroupItem, opts RunOptions, log *recordLogger) (status model.TaskStatus, exErr *exception.Error) {
	defer func() {
		if r := recover(); r != nil {
			status = model.TaskStatusFailed
			exErr = exception.ExecutionFailed().
				WithMessage(fmt.Sprintf("panic: %v", r)).
				WithDetail("stack", string(debug.Stack()))
			log.Log("error", exErr.Message)
		}
	}()

	fail := func(err error) (model.TaskStatus, *exception.Error) {
		e := exception.Classify(err)
		log.Log("error", e.Error())
		return model.TaskStatusFailed, e
	}

	log.Log("info", fmt.Sprintf("start: %d script(s)", len(task.Scripts)))

	if p.proxies != nil && item.Proxy != nil {
		res, err := p.proxies.Check(ctx, item.Proxy)
		if err != nil {
			return fail(err)
		}
		log.Log("info", fmt.Sprintf("proxy ok: exit ip %s, %dms", res.ExitIP, res.LatencyMs))
	}

	var cookies []model.CookieJarEntry
	for _, s := range item.Socials {
		cookies = append(cookies, s.Cookies...)
	}
	session, err := p.alloc.Open(ctx, browser.Identity{
		AccountID:   item.ID,
		Proxy:       item.Proxy,
		Fingerprint: item.Fingerprint,
		Cookies:     cookies,
		Headless:    opts.Headless,
	})
	if err != nil {
		return fail(err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Log("warn", "close context: "+err.Error())
		}
	}()

	data := item.Data()
	for i, ref := range task.Scripts {
		if opts.Stopped != nil && opts.Stopped() {
			log.Log("info", fmt.Sprintf("stop requested, skipping %d remaining script(s)", len(task.Scripts)-i))
			return model.TaskStatusStopped, nil
		}
		if ctx.Err() != nil {
			log.Log("info", "cancelled before script "+scriptName(ref))
			return model.TaskStatusStopped, nil
		}
		run, err := p.scripts.Resolve(ref)
		if err != nil {
			return fail(err)
		}
		log.Log("info", "script "+scriptName(ref)+" started")
		if err := run(ctx, session, data); err != nil {
			return fail(err)
		}
		log.Log("info", "script "+scriptName(ref)+" done")
	}
	log.Log("info", "all scripts completed")
	return model.TaskStatusCompleted, nil
}

func scriptName(ref model.ScriptRef) string {
	if ref.Name != "" {
		return ref.Name
	}
	return ref.Ref
}

// recordLogger appends to the record's log and mirrors each line to the bus.
type recordLogger struct {
	ctx      context.Context
	store    RecordStore
	bus      *logbus.Bus
	recordID string
	fields   map[string]any

	mu    sync.Mutex
	lines []string
}

func (l *recordLogger) Log(level, msg string) {
	line := fmt.Sprintf("%s [%s] %s", time.Now().Format("15:04:05.000"), strings.ToUpper(level), msg)

	l.mu.Lock()
	l.lines = append(l.lines, line)
	err := l.store.AppendLog(l.ctx, l.recordID, line)
	l.mu.Unlock()

	if err != nil {
		l.bus.Log("warn", "append record log failed", map[string]any{"recordId": l.recordID, "error": err.Error()})
	}
	l.bus.Log(level, msg, l.fields)
}

func (l *recordLogger) text() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strings.Join(l.lines, "\n")
}

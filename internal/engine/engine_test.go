package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"farm_engine/internal/browser"
	"farm_engine/internal/browser/browsertest"
	"farm_engine/internal/config"
	"farm_engine/internal/exception"
	"farm_engine/internal/model"
	"farm_engine/internal/script"
)

// countingAllocator tracks how many contexts are open per account.
type countingAllocator struct {
	inner browsertest.Allocator

	mu   sync.Mutex
	open map[string]int
	max  int
}

func (a *countingAllocator) Open(ctx context.Context, id browser.Identity) (browser.Session, error) {
	s, err := a.inner.Open(ctx, id)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	if a.open == nil {
		a.open = make(map[string]int)
	}
	a.open[id.AccountID]++
	if a.open[id.AccountID] > a.max {
		a.max = a.open[id.AccountID]
	}
	a.mu.Unlock()
	return &countingSession{Session: s, done: func() {
		a.mu.Lock()
		a.open[id.AccountID]--
		a.mu.Unlock()
	}}, nil
}

type countingSession struct {
	browser.Session
	once sync.Once
	done func()
}

func (s *countingSession) Close() error {
	s.once.Do(s.done)
	return s.Session.Close()
}

type fixture struct {
	store   *memStore
	alloc   *countingAllocator
	scripts *script.Registry
	engine  *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   newMemStore(),
		alloc:   &countingAllocator{},
		scripts: script.NewRegistry(),
	}
	f.engine = New(Options{
		Store:     f.store,
		Allocator: f.alloc,
		Scripts:   f.scripts,
		Task:      config.TaskConfig{DefaultThreadCount: 1},
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = f.engine.StopAll(ctx)
	})
	return f
}

func (f *fixture) register(t *testing.T, ref string, s script.Script) {
	t.Helper()
	if err := f.scripts.Register(ref, s); err != nil {
		t.Fatal(err)
	}
}

func waitTask(t *testing.T, e *Engine, taskID string) model.TaskState {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := e.Wait(ctx, taskID)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	return st
}

func TestTaskCompletesWithOneFailedAccount(t *testing.T) {
	f := newFixture(t)
	f.store.addItems("g", "a1", "a2", "a3")
	f.store.addTask(model.Task{ID: "t1", Scripts: []model.ScriptRef{{Ref: "claim"}}, GroupIDs: []string{"g"}, ThreadCount: 2})
	f.register(t, "claim", func(ctx context.Context, s browser.Session, acct model.AccountData) error {
		if acct.AccountID == "a2" {
			return exception.WalletInsufficientFunds()
		}
		return nil
	})

	if _, err := f.engine.Start(context.Background(), StartRequest{TaskID: "t1"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	st := waitTask(t, f.engine, "t1")
	if st.Status != model.TaskStatusCompleted || st.Completed != 2 || st.Failed != 1 {
		t.Fatalf("state = %+v", st)
	}
	if got := f.store.taskStatus("t1"); got != model.TaskStatusCompleted {
		t.Fatalf("stored status = %s", got)
	}

	recs, _ := f.engine.Records(context.Background(), "t1")
	if len(recs) != 3 {
		t.Fatalf("records = %d", len(recs))
	}
	var completed, failed int
	for _, r := range recs {
		switch r.Status {
		case model.TaskStatusCompleted:
			completed++
		case model.TaskStatusFailed:
			failed++
			if r.AccountID != "a2" || r.ErrorCode != string(exception.CodeWalletInsufficientFunds) {
				t.Fatalf("failed record = %+v", r)
			}
		}
		if r.EndedAt == nil || r.Log == "" {
			t.Fatalf("record not finalized with log: %+v", r)
		}
	}
	if completed != 2 || failed != 1 {
		t.Fatalf("completed=%d failed=%d", completed, failed)
	}
	if got := f.alloc.inner.Closed(); got != 3 {
		t.Fatalf("closed %d contexts, want 3", got)
	}
}

func TestNoConcurrentContextPerAccount(t *testing.T) {
	f := newFixture(t)
	ids := []string{"a1", "a2", "a3", "a4"}
	f.store.addItems("g", ids...)
	for _, id := range []string{"t1", "t2", "t3"} {
		f.store.addTask(model.Task{ID: id, Scripts: []model.ScriptRef{{Ref: "slow"}}, GroupIDs: []string{"g"}, ThreadCount: 4})
	}
	f.register(t, "slow", func(ctx context.Context, s browser.Session, acct model.AccountData) error {
		time.Sleep(5 * time.Millisecond)
		return nil
	})

	for _, id := range []string{"t1", "t2", "t3"} {
		if _, err := f.engine.Start(context.Background(), StartRequest{TaskID: id}); err != nil {
			t.Fatalf("start %s: %v", id, err)
		}
	}
	var attempted int
	for _, id := range []string{"t1", "t2", "t3"} {
		st := waitTask(t, f.engine, id)
		if st.Completed+st.Failed != len(ids) {
			t.Fatalf("%s state = %+v", id, st)
		}
		attempted += st.Completed

		recs, _ := f.engine.Records(context.Background(), id)
		if len(recs) != len(ids) {
			t.Fatalf("%s has %d records, want %d", id, len(recs), len(ids))
		}
		for _, r := range recs {
			if r.Status == model.TaskStatusFailed && r.ErrorCode != string(exception.CodeResourceBusy) {
				t.Fatalf("unexpected failure: %+v", r)
			}
		}
	}
	if f.alloc.max > 1 {
		t.Fatalf("an account had %d open contexts", f.alloc.max)
	}
	if attempted == 0 {
		t.Fatal("nothing ran")
	}
}

func TestStopLeavesUnstartedAccountsWithoutRecords(t *testing.T) {
	f := newFixture(t)
	f.store.addItems("g", "a1", "a2", "a3", "a4", "a5")
	f.store.addTask(model.Task{ID: "t1", Scripts: []model.ScriptRef{{Ref: "gate"}}, GroupIDs: []string{"g"}, ThreadCount: 2})

	entered := make(chan string, 5)
	release := make(chan struct{})
	f.register(t, "gate", func(ctx context.Context, s browser.Session, acct model.AccountData) error {
		entered <- acct.AccountID
		<-release
		return nil
	})

	if _, err := f.engine.Start(context.Background(), StartRequest{TaskID: "t1"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 2; i++ {
		select {
		case <-entered:
		case <-time.After(2 * time.Second):
			t.Fatal("workers did not start")
		}
	}
	if _, err := f.engine.Stop(context.Background(), "t1"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	close(release)

	st := waitTask(t, f.engine, "t1")
	if st.Status != model.TaskStatusStopped {
		t.Fatalf("status = %s", st.Status)
	}
	recs, _ := f.engine.Records(context.Background(), "t1")
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}
	for _, r := range recs {
		if !r.Status.IsTerminal() {
			t.Fatalf("record %s left %s", r.ID, r.Status)
		}
	}
	if got := f.store.taskStatus("t1"); got != model.TaskStatusStopped {
		t.Fatalf("stored status = %s", got)
	}
	if _, err := f.engine.Stop(context.Background(), "t1"); !errors.Is(err, ErrTaskNotRunning) {
		t.Fatalf("second stop: %v", err)
	}
}

func TestStopSkipsRemainingScripts(t *testing.T) {
	f := newFixture(t)
	f.store.addItems("g", "a1")
	f.store.addTask(model.Task{ID: "t1", Scripts: []model.ScriptRef{{Ref: "first"}, {Ref: "second"}}, GroupIDs: []string{"g"}})

	entered := make(chan struct{})
	release := make(chan struct{})
	var secondRan atomic.Bool
	f.register(t, "first", func(ctx context.Context, s browser.Session, acct model.AccountData) error {
		close(entered)
		<-release
		return nil
	})
	f.register(t, "second", func(ctx context.Context, s browser.Session, acct model.AccountData) error {
		secondRan.Store(true)
		return nil
	})

	if _, err := f.engine.Start(context.Background(), StartRequest{TaskID: "t1"}); err != nil {
		t.Fatal(err)
	}
	<-entered
	_, _ = f.engine.Stop(context.Background(), "t1")
	close(release)

	st := waitTask(t, f.engine, "t1")
	if st.Stopped != 1 || secondRan.Load() {
		t.Fatalf("state = %+v, second ran = %v", st, secondRan.Load())
	}
	recs, _ := f.engine.Records(context.Background(), "t1")
	if len(recs) != 1 || recs[0].Status != model.TaskStatusStopped {
		t.Fatalf("records = %+v", recs)
	}
	if f.alloc.inner.Closed() != 1 {
		t.Fatal("context not released")
	}
}

func TestFinalizedCodesAreKnown(t *testing.T) {
	f := newFixture(t)
	failures := map[string]func() error{
		"plain":    func() error { return errors.New("boom") },
		"deadline": func() error { return fmt.Errorf("wait: %w", context.DeadlineExceeded) },
		"unknown":  func() error { return &exception.Error{Code: "SOMETHING_ELSE", Message: "?"} },
		"proxy":    func() error { return exception.IPBlocked() },
		"panic":    func() error { panic("script bug") },
	}
	var ids []string
	for id := range failures {
		ids = append(ids, id)
	}
	f.store.addItems("g", ids...)
	f.store.addTask(model.Task{ID: "t1", Scripts: []model.ScriptRef{{Ref: "fail"}}, GroupIDs: []string{"g"}, ThreadCount: 3})
	f.register(t, "fail", func(ctx context.Context, s browser.Session, acct model.AccountData) error {
		return failures[acct.AccountID]()
	})

	if _, err := f.engine.Start(context.Background(), StartRequest{TaskID: "t1"}); err != nil {
		t.Fatal(err)
	}
	st := waitTask(t, f.engine, "t1")
	if st.Status != model.TaskStatusCompleted || st.Failed != len(failures) {
		t.Fatalf("state = %+v", st)
	}
	f.store.mu.Lock()
	codes := append([]exception.Code(nil), f.store.finalized...)
	f.store.mu.Unlock()
	if len(codes) != len(failures) {
		t.Fatalf("finalized %d failures", len(codes))
	}
	for _, c := range codes {
		if !exception.IsKnown(c) {
			t.Fatalf("finalized unknown code %q", c)
		}
	}
	if f.alloc.inner.Closed() != int64(len(failures)) {
		t.Fatalf("closed = %d", f.alloc.inner.Closed())
	}
}

func TestZeroAccountsFailsTask(t *testing.T) {
	f := newFixture(t)
	f.store.addTask(model.Task{ID: "t1", Scripts: []model.ScriptRef{{Ref: "x"}}, GroupIDs: []string{"empty"}})

	st, err := f.engine.Start(context.Background(), StartRequest{TaskID: "t1"})
	if !errors.Is(err, ErrNoAccounts) {
		t.Fatalf("expected ErrNoAccounts, got %v", err)
	}
	if st.Status != model.TaskStatusFailed {
		t.Fatalf("state = %+v", st)
	}
	if got := f.store.taskStatus("t1"); got != model.TaskStatusFailed {
		t.Fatalf("stored status = %s", got)
	}
}

func TestStartUnknownTask(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.Start(context.Background(), StartRequest{TaskID: "nope"}); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestStartWhileRunning(t *testing.T) {
	f := newFixture(t)
	f.store.addItems("g", "a1")
	f.store.addTask(model.Task{ID: "t1", Scripts: []model.ScriptRef{{Ref: "block"}}, GroupIDs: []string{"g"}})
	release := make(chan struct{})
	f.register(t, "block", func(ctx context.Context, s browser.Session, acct model.AccountData) error {
		<-release
		return nil
	})

	if _, err := f.engine.Start(context.Background(), StartRequest{TaskID: "t1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.Start(context.Background(), StartRequest{TaskID: "t1"}); !errors.Is(err, ErrTaskRunning) {
		t.Fatalf("expected ErrTaskRunning, got %v", err)
	}
	close(release)
	waitTask(t, f.engine, "t1")

	// Re-running creates a new record rather than reusing the old one.
	if _, err := f.engine.Start(context.Background(), StartRequest{TaskID: "t1"}); err != nil {
		t.Fatalf("restart: %v", err)
	}
	waitTask(t, f.engine, "t1")
	recs, _ := f.engine.Records(context.Background(), "t1")
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}
}

func TestExplicitAccountSubsetAndHeadless(t *testing.T) {
	f := newFixture(t)
	f.store.addItems("g", "a1", "a2", "a3")
	f.store.addTask(model.Task{ID: "t1", Scripts: []model.ScriptRef{{Ref: "ok"}}, GroupIDs: []string{"g"}})
	f.register(t, "ok", func(ctx context.Context, s browser.Session, acct model.AccountData) error { return nil })

	headless := true
	if _, err := f.engine.Start(context.Background(), StartRequest{TaskID: "t1", AccountIDs: []string{"a3", "a1", "a3"}, Headless: &headless}); err != nil {
		t.Fatal(err)
	}
	st := waitTask(t, f.engine, "t1")
	if st.Total != 2 || st.Completed != 2 {
		t.Fatalf("state = %+v", st)
	}
	for _, s := range f.alloc.inner.Sessions() {
		if !s.ID.Headless {
			t.Fatalf("session for %s not headless", s.ID.AccountID)
		}
	}
}

func TestPipelineBusyAccountRecordsResourceBusy(t *testing.T) {
	store := newMemStore()
	alloc := &browsertest.Allocator{}
	p := NewPipeline(PipelineOptions{Store: store, Allocator: alloc, Scripts: script.NewRegistry()})
	p.locks.tryAcquire("a1")

	rec, err := p.Run(context.Background(), model.Task{ID: "t"}, model.AccountGroupItem{ID: "a1"}, RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != model.TaskStatusFailed || rec.ErrorCode != string(exception.CodeResourceBusy) || rec.EndedAt == nil {
		t.Fatalf("record = %+v", rec)
	}
	recs, _ := store.ListRecords(context.Background(), "t")
	if len(recs) != 1 || recs[0].Status != model.TaskStatusFailed {
		t.Fatalf("records = %+v", recs)
	}
	if alloc.Opened() != 0 {
		t.Fatalf("opened %d contexts for a busy account", alloc.Opened())
	}
	// The holder's lock is untouched.
	if p.locks.tryAcquire("a1") {
		t.Fatal("busy run released a lock it did not hold")
	}
}

func TestStopAllTimeoutLeavesLaterTasksRunnable(t *testing.T) {
	f := newFixture(t)
	f.store.addItems("g1", "a1")
	f.store.addItems("g2", "b1", "b2")
	f.store.addTask(model.Task{ID: "t1", Scripts: []model.ScriptRef{{Ref: "hang"}}, GroupIDs: []string{"g1"}})
	f.store.addTask(model.Task{ID: "t2", Scripts: []model.ScriptRef{{Ref: "ok"}}, GroupIDs: []string{"g2"}, ThreadCount: 2})

	entered := make(chan struct{})
	f.register(t, "hang", func(ctx context.Context, s browser.Session, acct model.AccountData) error {
		close(entered)
		<-ctx.Done()
		return ctx.Err()
	})
	f.register(t, "ok", func(ctx context.Context, s browser.Session, acct model.AccountData) error { return nil })

	if _, err := f.engine.Start(context.Background(), StartRequest{TaskID: "t1"}); err != nil {
		t.Fatal(err)
	}
	<-entered
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := f.engine.StopAll(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("StopAll = %v, want deadline exceeded", err)
	}
	if st := waitTask(t, f.engine, "t1"); st.Status != model.TaskStatusStopped {
		t.Fatalf("t1 state = %+v", st)
	}

	if _, err := f.engine.Start(context.Background(), StartRequest{TaskID: "t2"}); err != nil {
		t.Fatal(err)
	}
	st := waitTask(t, f.engine, "t2")
	if st.Status != model.TaskStatusCompleted || st.Completed != 2 || st.Stopped != 0 {
		t.Fatalf("t2 state = %+v", st)
	}
	recs, _ := f.engine.Records(context.Background(), "t2")
	for _, r := range recs {
		if r.Status != model.TaskStatusCompleted {
			t.Fatalf("t2 record %s status = %s", r.AccountID, r.Status)
		}
	}
}

func TestRunOutcome(t *testing.T) {
	live, cancelLive := context.WithCancel(context.Background())
	defer cancelLive()
	dead, cancelDead := context.WithCancel(context.Background())
	cancelDead()

	cases := []struct {
		name    string
		ctx     context.Context
		stop    bool
		stopped int
		want    model.TaskStatus
	}{
		{"all finished", live, false, 0, model.TaskStatusCompleted},
		{"stop requested", live, true, 0, model.TaskStatusStopped},
		{"context cancelled", dead, false, 0, model.TaskStatusStopped},
		{"account stopped", live, false, 1, model.TaskStatusStopped},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			run := &taskRun{ctx: tc.ctx}
			run.stop.Store(tc.stop)
			run.state.Stopped = tc.stopped
			if got := run.outcome(); got != tc.want {
				t.Fatalf("outcome = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestPipelineAllocatorFailure(t *testing.T) {
	store := newMemStore()
	alloc := &browsertest.Allocator{OpenErr: exception.ProxyConnectionFailed()}
	p := NewPipeline(PipelineOptions{Store: store, Allocator: alloc, Scripts: script.NewRegistry()})

	rec, err := p.Run(context.Background(), model.Task{ID: "t"}, model.AccountGroupItem{ID: "a1"}, RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != model.TaskStatusFailed || rec.ErrorCode != string(exception.CodeProxyConnectionFailed) {
		t.Fatalf("record = %+v", rec)
	}
	// The lock is released after the run.
	if !p.locks.tryAcquire("a1") {
		t.Fatal("account lock leaked")
	}
}

func TestPipelineUnknownScript(t *testing.T) {
	store := newMemStore()
	alloc := &browsertest.Allocator{}
	p := NewPipeline(PipelineOptions{Store: store, Allocator: alloc, Scripts: script.NewRegistry()})

	rec, err := p.Run(context.Background(), model.Task{ID: "t", Scripts: []model.ScriptRef{{Ref: "missing"}}}, model.AccountGroupItem{ID: "a1"}, RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if rec.ErrorCode != string(exception.CodeResourceNotFound) {
		t.Fatalf("record = %+v", rec)
	}
	if alloc.Closed() != 1 {
		t.Fatal("context not closed")
	}
}

type fakeBalances struct{ fail string }

func (f fakeBalances) Name() string { return "fake" }

func (f fakeBalances) Balance(_ context.Context, address string) (*big.Int, error) {
	if address == f.fail {
		return nil, exception.WalletConnectionFailed()
	}
	return big.NewInt(2e18), nil
}

func TestRefreshBalancesBatches(t *testing.T) {
	store := newMemStore()
	for i := 1; i <= 7; i++ {
		id := fmt.Sprintf("w%d", i)
		store.wallets[id] = model.Wallet{ID: id, Address: "0x" + id}
	}
	e := New(Options{
		Store:    store,
		Balances: fakeBalances{fail: "0xw4"},
		Limits:   config.LimitsConfig{BatchSize: 3, BatchDelayMs: 5},
	})

	n, done, err := e.RefreshBalances(context.Background(), nil)
	if err != nil || n != 7 {
		t.Fatalf("refresh: n=%d err=%v", n, err)
	}
	res := <-done
	if res.Success != 6 || res.Fail != 1 || res.Batches != 3 || res.Delays != 2 {
		t.Fatalf("result = %+v", res)
	}
	if len(res.Sizes) != 3 || res.Sizes[0] != 3 || res.Sizes[1] != 3 || res.Sizes[2] != 1 {
		t.Fatalf("sizes = %v", res.Sizes)
	}
	ws, _ := store.ListWallets(context.Background(), []string{"w1", "w4"})
	if ws[0].Balance != "2.000000" || ws[1].Balance != "" {
		t.Fatalf("wallets = %+v", ws)
	}
}

func TestRefreshBalancesWithoutProvider(t *testing.T) {
	e := New(Options{Store: newMemStore()})
	if _, _, err := e.RefreshBalances(context.Background(), nil); !errors.Is(err, ErrNoBalanceProvider) {
		t.Fatalf("expected ErrNoBalanceProvider, got %v", err)
	}
}

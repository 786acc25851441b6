package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/knapabuse2-cmd/outreach/db/models"
	"github.com/knapabuse2-cmd/outreach/internal/locks"
)

// memConn emulates the SETNX/EVAL subset the lock service needs.
type memConn struct {
	mu      sync.Mutex
	entries map[string]string
}

func newMemConn() *memConn {
	return &memConn{entries: make(map[string]string)}
}

func (c *memConn) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	c.entries[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (c *memConn) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(keys) != 1 || len(args) < 1 {
		return redis.NewCmdResult(nil, fmt.Errorf("unexpected eval args"))
	}
	key, token := keys[0], fmt.Sprint(args[0])
	held, ok := c.entries[key]
	switch {
	case strings.Contains(script, `"del"`):
		if ok && held == token {
			delete(c.entries, key)
			return redis.NewCmdResult(int64(1), nil)
		}
		return redis.NewCmdResult(int64(0), nil)
	case strings.Contains(script, `"expire"`):
		if ok && held == token {
			return redis.NewCmdResult(int64(1), nil)
		}
		return redis.NewCmdResult(int64(0), nil)
	default:
		return redis.NewCmdResult(nil, fmt.Errorf("unknown script"))
	}
}

type fakeRunner struct {
	id      uuid.UUID
	exitErr error

	mu      sync.Mutex
	runs    int
	running bool
}

func (r *fakeRunner) AccountID() uuid.UUID { return r.id }

func (r *fakeRunner) Run(ctx context.Context) error {
	r.mu.Lock()
	r.runs++
	r.running = true
	exit := r.exitErr
	r.mu.Unlock()
	if exit != nil {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		return exit
	}
	<-ctx.Done()
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
	return ctx.Err()
}

func (r *fakeRunner) state() (runs int, running bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs, r.running
}

type fakeStore struct {
	mu       sync.Mutex
	workable []models.Account
	all      []models.Account
	reclaims []time.Duration
}

func (s *fakeStore) ListAccounts(ctx context.Context) ([]models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Account(nil), s.all...), nil
}

func (s *fakeStore) ListWorkableAccounts(ctx context.Context) ([]models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Account(nil), s.workable...), nil
}

func (s *fakeStore) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reclaims = append(s.reclaims, olderThan)
	return 2, nil
}

func (s *fakeStore) setWorkable(accounts ...models.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workable = accounts
}

type runnerBook struct {
	mu      sync.Mutex
	runners map[uuid.UUID]*fakeRunner
	builds  int
}

func newRunnerBook() *runnerBook {
	return &runnerBook{runners: make(map[uuid.UUID]*fakeRunner)}
}

func (b *runnerBook) factory(account *models.Account) (Runner, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.builds++
	r, ok := b.runners[account.ID]
	if !ok {
		r = &fakeRunner{id: account.ID}
		b.runners[account.ID] = r
	}
	return r, nil
}

func (b *runnerBook) runner(id uuid.UUID) *fakeRunner {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.runners[id]
}

func activeAccount(name string) models.Account {
	acc := models.NewAccount(name, "+1555"+name)
	acc.Status = models.AccountActive
	return *acc
}

func newTestManager(t *testing.T, st *fakeStore, book *runnerBook) (*Manager, *locks.Service) {
	t.Helper()
	svc, err := locks.NewService(locks.ServiceOptions{Conn: newMemConn()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m, err := New(Options{
		Store:           st,
		Locks:           svc,
		NewWorker:       book.factory,
		ShutdownTimeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return m, svc
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartAndStopWorker(t *testing.T) {
	book := newRunnerBook()
	m, _ := newTestManager(t, &fakeStore{}, book)
	acc := activeAccount("one")

	if err := m.StartWorker(&acc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.Running(acc.ID) {
		t.Fatalf("expected worker registered")
	}
	waitFor(t, "runner running", func() bool {
		_, running := book.runner(acc.ID).state()
		return running
	})

	if err := m.StopWorker(acc.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Running(acc.ID) {
		t.Errorf("expected worker deregistered after stop")
	}
	if _, running := book.runner(acc.ID).state(); running {
		t.Errorf("expected runner cancelled after stop")
	}
}

func TestStopWorkerAbsentIsNoop(t *testing.T) {
	m, _ := newTestManager(t, &fakeStore{}, newRunnerBook())
	if err := m.StopWorker(uuid.New()); err != nil {
		t.Fatalf("expected nil for unknown account, got %v", err)
	}
}

func TestStartWorkerRestartsExistingTask(t *testing.T) {
	book := newRunnerBook()
	m, _ := newTestManager(t, &fakeStore{}, book)
	acc := activeAccount("two")

	if err := m.StartWorker(&acc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, "first run", func() bool {
		runs, _ := book.runner(acc.ID).state()
		return runs == 1
	})

	if err := m.StartWorker(&acc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, "second run", func() bool {
		runs, _ := book.runner(acc.ID).state()
		return runs == 2
	})
	if got := m.WorkerCount(); got != 1 {
		t.Errorf("expected exactly one registered task, got %d", got)
	}
}

func TestWorkerSelfDeregistersOnExit(t *testing.T) {
	book := newRunnerBook()
	m, _ := newTestManager(t, &fakeStore{}, book)
	acc := activeAccount("three")
	book.mu.Lock()
	book.runners[acc.ID] = &fakeRunner{id: acc.ID, exitErr: errors.New("account invalid")}
	book.mu.Unlock()

	if err := m.StartWorker(&acc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, "self deregistration", func() bool { return !m.Running(acc.ID) })
}

func TestShutdownAllStopsEveryWorker(t *testing.T) {
	book := newRunnerBook()
	m, _ := newTestManager(t, &fakeStore{}, book)

	ids := make([]uuid.UUID, 0, 3)
	for _, name := range []string{"a", "b", "c"} {
		acc := activeAccount(name)
		ids = append(ids, acc.ID)
		if err := m.StartWorker(&acc); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	waitFor(t, "all running", func() bool {
		for _, id := range ids {
			if r := book.runner(id); r == nil {
				return false
			} else if _, running := r.state(); !running {
				return false
			}
		}
		return true
	})

	m.ShutdownAll()
	if got := m.WorkerCount(); got != 0 {
		t.Errorf("expected empty registry after shutdown, got %d", got)
	}
	for _, id := range ids {
		if _, running := book.runner(id).state(); running {
			t.Errorf("expected runner %s stopped", id)
		}
	}
}

func TestDistributeAlignsRegistryWithAccounts(t *testing.T) {
	book := newRunnerBook()
	accA := activeAccount("left")
	accB := activeAccount("right")
	st := &fakeStore{workable: []models.Account{accA, accB}}
	m, _ := newTestManager(t, st, book)

	m.distribute(context.Background())
	if got := m.WorkerCount(); got != 2 {
		t.Fatalf("expected 2 workers after distribute, got %d", got)
	}

	st.setWorkable(accA)
	m.distribute(context.Background())
	if m.Running(accB.ID) {
		t.Errorf("expected worker for departed account stopped")
	}
	if !m.Running(accA.ID) {
		t.Errorf("expected remaining workable account kept")
	}
	runs, _ := book.runner(accA.ID).state()
	if runs != 1 {
		t.Errorf("expected kept worker untouched, got %d runs", runs)
	}
}

func TestDistributeSkipsWhenLeaseHeldElsewhere(t *testing.T) {
	conn := newMemConn()
	other, err := locks.NewService(locks.ServiceOptions{Conn: conn})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok, err := other.Acquire(context.Background(), lockDistribute, time.Minute); err != nil || !ok {
		t.Fatalf("expected to pre-acquire lease, ok=%v err=%v", ok, err)
	}

	svc, err := locks.NewService(locks.ServiceOptions{Conn: conn})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	book := newRunnerBook()
	st := &fakeStore{workable: []models.Account{activeAccount("busy")}}
	m, err := New(Options{Store: st, Locks: svc, NewWorker: book.factory})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m.distribute(context.Background())
	if got := m.WorkerCount(); got != 0 {
		t.Errorf("expected cycle skipped while lease held elsewhere, got %d workers", got)
	}
}

func TestReclaimUsesStalenessPolicy(t *testing.T) {
	st := &fakeStore{}
	m, _ := newTestManager(t, st, newRunnerBook())

	m.reclaim(context.Background())
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.reclaims) != 1 || st.reclaims[0] != defaultStaleAfter {
		t.Errorf("expected one reclaim with %s, got %v", defaultStaleAfter, st.reclaims)
	}
}

func TestRunStartsFleetAndShutsDownOnCancel(t *testing.T) {
	book := newRunnerBook()
	acc := activeAccount("fleet")
	st := &fakeStore{workable: []models.Account{acc}, all: []models.Account{acc}}
	m, svc := newTestManager(t, st, book)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	waitFor(t, "fleet started", func() bool { return m.Running(acc.ID) })
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("manager did not stop")
	}
	if got := m.WorkerCount(); got != 0 {
		t.Errorf("expected empty registry after shutdown, got %d", got)
	}
	if got := svc.HeldCount(); got != 0 {
		t.Errorf("expected all leases released, got %d", got)
	}
}

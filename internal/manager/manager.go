package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/knapabuse2-cmd/outreach/db/models"
	"github.com/knapabuse2-cmd/outreach/internal/locks"
)

const (
	defaultDistributeInterval = 30 * time.Second
	defaultHealthInterval     = time.Minute
	defaultReclaimInterval    = time.Hour
	defaultStaleAfter         = 6 * time.Hour
	defaultShutdownTimeout    = 30 * time.Second
	defaultLockTTL            = time.Minute
	releaseTimeout            = 5 * time.Second

	lockDistribute = "distribute_targets"
	lockHealth     = "health_check"
	lockReclaim    = "reclaim_targets"
)

// Store is the persistence surface the manager needs.
type Store interface {
	ListAccounts(ctx context.Context) ([]models.Account, error)
	ListWorkableAccounts(ctx context.Context) ([]models.Account, error)
	ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Runner is one account task. *worker.Worker satisfies it.
type Runner interface {
	AccountID() uuid.UUID
	Run(ctx context.Context) error
}

// NewRunner builds the task for one account snapshot. Runners receive
// the shared store, whose every call scopes a fresh session, so nothing
// persistent outlives a single operation.
type NewRunner func(account *models.Account) (Runner, error)

type Options struct {
	Store     Store
	Locks     *locks.Service
	NewWorker NewRunner
	Logger    *slog.Logger

	DistributeInterval time.Duration
	HealthInterval     time.Duration
	ReclaimInterval    time.Duration
	// StaleAfter is how long an assigned target may sit untouched before
	// the reclaim cycle returns it to the pending pool.
	StaleAfter time.Duration
	// ShutdownTimeout bounds how long stop and shutdown wait for worker
	// teardown.
	ShutdownTimeout time.Duration
	LockTTL         time.Duration
}

// Manager owns the account→task registry and the periodic cycles that
// keep the fleet aligned with account state. Cycles that touch shared
// rows run under redis leases so several processes can host managers
// without doubling work.
type Manager struct {
	store     Store
	locks     *locks.Service
	newWorker NewRunner
	logger    *slog.Logger

	distributeInterval time.Duration
	healthInterval     time.Duration
	reclaimInterval    time.Duration
	staleAfter         time.Duration
	shutdownTimeout    time.Duration
	lockTTL            time.Duration

	mu      sync.Mutex
	workers map[uuid.UUID]*handle
}

type handle struct {
	accountID uuid.UUID
	cancel    context.CancelFunc
	done      chan struct{}
}

func New(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Locks == nil {
		return nil, fmt.Errorf("lock service is required")
	}
	if opts.NewWorker == nil {
		return nil, fmt.Errorf("worker factory is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		store:              opts.Store,
		locks:              opts.Locks,
		newWorker:          opts.NewWorker,
		logger:             logger,
		distributeInterval: opts.DistributeInterval,
		healthInterval:     opts.HealthInterval,
		reclaimInterval:    opts.ReclaimInterval,
		staleAfter:         opts.StaleAfter,
		shutdownTimeout:    opts.ShutdownTimeout,
		lockTTL:            opts.LockTTL,
		workers:            make(map[uuid.UUID]*handle),
	}
	if m.distributeInterval <= 0 {
		m.distributeInterval = defaultDistributeInterval
	}
	if m.healthInterval <= 0 {
		m.healthInterval = defaultHealthInterval
	}
	if m.reclaimInterval <= 0 {
		m.reclaimInterval = defaultReclaimInterval
	}
	if m.staleAfter <= 0 {
		m.staleAfter = defaultStaleAfter
	}
	if m.shutdownTimeout <= 0 {
		m.shutdownTimeout = defaultShutdownTimeout
	}
	if m.lockTTL <= 0 {
		m.lockTTL = defaultLockTTL
	}
	return m, nil
}

// StartWorker registers and spawns the task for the account. An already
// registered task is cancelled and awaited first, so a double start is a
// restart, never a duplicate.
func (m *Manager) StartWorker(account *models.Account) error {
	if account == nil {
		return fmt.Errorf("account is required")
	}
	id := account.ID

	m.mu.Lock()
	existing := m.workers[id]
	m.mu.Unlock()
	if existing != nil {
		if err := m.stopHandle(existing); err != nil {
			return fmt.Errorf("restart account %s: %w", id, err)
		}
		m.forget(id, existing)
	}

	runner, err := m.newWorker(account)
	if err != nil {
		return fmt.Errorf("build worker for account %s: %w", id, err)
	}

	wctx, cancel := context.WithCancel(context.Background())
	h := &handle{accountID: id, cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	if _, ok := m.workers[id]; ok {
		m.mu.Unlock()
		cancel()
		return fmt.Errorf("account %s: concurrent start", id)
	}
	m.workers[id] = h
	m.mu.Unlock()

	m.logger.Info("worker_start", "account_id", id.String())
	go func() {
		defer close(h.done)
		defer m.forget(id, h)
		err := runner.Run(wctx)
		if err != nil && wctx.Err() == nil {
			m.logger.Warn("worker_exited", "account_id", id.String(), "error", err.Error())
			return
		}
		m.logger.Info("worker_exited", "account_id", id.String())
	}()
	return nil
}

// StopWorker cancels the registered task and awaits its teardown. No-op
// when the account has no task.
func (m *Manager) StopWorker(id uuid.UUID) error {
	m.mu.Lock()
	h := m.workers[id]
	m.mu.Unlock()
	if h == nil {
		return nil
	}
	if err := m.stopHandle(h); err != nil {
		return err
	}
	m.forget(id, h)
	m.logger.Info("worker_stopped", "account_id", id.String())
	return nil
}

// ShutdownAll cancels every registered task and returns once all have
// finished teardown, bounded by the shutdown timeout.
func (m *Manager) ShutdownAll() {
	m.mu.Lock()
	handles := make([]*handle, 0, len(m.workers))
	for _, h := range m.workers {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	for _, h := range handles {
		h.cancel()
	}

	deadline := time.NewTimer(m.shutdownTimeout)
	defer deadline.Stop()
	for _, h := range handles {
		select {
		case <-h.done:
		case <-deadline.C:
			m.logger.Error("shutdown_timeout", "account_id", h.accountID.String())
			return
		}
	}
	m.logger.Info("manager_shutdown", "workers", len(handles))
}

// Run starts tasks for every workable account and keeps the cycles
// ticking until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info("manager_started")
	m.distribute(ctx)

	distribute := time.NewTicker(m.distributeInterval)
	defer distribute.Stop()
	health := time.NewTicker(m.healthInterval)
	defer health.Stop()
	reclaim := time.NewTicker(m.reclaimInterval)
	defer reclaim.Stop()

	for {
		select {
		case <-ctx.Done():
			m.ShutdownAll()
			releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			m.locks.ReleaseAll(releaseCtx)
			cancel()
			m.logger.Info("manager_stopped")
			return ctx.Err()
		case <-distribute.C:
			m.distribute(ctx)
		case <-health.C:
			m.health(ctx)
		case <-reclaim.C:
			m.reclaim(ctx)
		}
	}
}

// WorkerCount reports how many tasks are registered right now.
func (m *Manager) WorkerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workers)
}

// Running reports whether the account has a registered task.
func (m *Manager) Running(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.workers[id]
	return ok
}

func (m *Manager) registered() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uuid.UUID, 0, len(m.workers))
	for id := range m.workers {
		out = append(out, id)
	}
	return out
}

func (m *Manager) stopHandle(h *handle) error {
	h.cancel()
	t := time.NewTimer(m.shutdownTimeout)
	defer t.Stop()
	select {
	case <-h.done:
		return nil
	case <-t.C:
		return fmt.Errorf("worker %s did not stop within %s", h.accountID, m.shutdownTimeout)
	}
}

// forget drops the handle from the registry only while it is still the
// registered one, so a restart that already replaced it is untouched.
func (m *Manager) forget(id uuid.UUID, h *handle) {
	m.mu.Lock()
	if cur, ok := m.workers[id]; ok && cur == h {
		delete(m.workers, id)
	}
	m.mu.Unlock()
}

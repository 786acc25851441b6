package manager

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// withLease runs fn only while holding the named redis lease. Another
// process already holding it means the cycle ran elsewhere; skip.
func (m *Manager) withLease(ctx context.Context, name string, fn func(context.Context)) {
	lease, ok, err := m.locks.Acquire(ctx, name, m.lockTTL)
	if err != nil {
		m.logger.Warn("lock_acquire_failed", "name", name, "error", err.Error())
		return
	}
	if !ok {
		m.logger.Debug("cycle_skipped", "name", name)
		return
	}
	defer func() {
		if _, err := lease.Release(ctx); err != nil {
			m.logger.Warn("lock_release_failed", "name", name, "error", err.Error())
		}
	}()
	fn(ctx)
}

// distribute aligns the task registry with account state: workable
// accounts get a worker, accounts that left the workable set lose
// theirs. Workers pull their own targets, so nothing is assigned here.
func (m *Manager) distribute(ctx context.Context) {
	m.withLease(ctx, lockDistribute, func(ctx context.Context) {
		accounts, err := m.store.ListWorkableAccounts(ctx)
		if err != nil {
			m.logger.Warn("distribute_failed", "error", err.Error())
			return
		}

		workable := make(map[uuid.UUID]bool, len(accounts))
		started := 0
		for i := range accounts {
			acc := accounts[i]
			workable[acc.ID] = true
			if m.Running(acc.ID) {
				continue
			}
			if err := m.StartWorker(&acc); err != nil {
				m.logger.Warn("worker_start_failed", "account_id", acc.ID.String(), "error", err.Error())
				continue
			}
			started++
		}

		stopped := 0
		for _, id := range m.registered() {
			if workable[id] {
				continue
			}
			if err := m.StopWorker(id); err != nil {
				m.logger.Warn("worker_stop_failed", "account_id", id.String(), "error", err.Error())
				continue
			}
			stopped++
		}

		if started > 0 || stopped > 0 {
			m.logger.Info("distribute_cycle_done", "started", started, "stopped", stopped, "workers", m.WorkerCount())
		}
	})
}

// health snapshots fleet state for the operator log.
func (m *Manager) health(ctx context.Context) {
	m.withLease(ctx, lockHealth, func(ctx context.Context) {
		accounts, err := m.store.ListAccounts(ctx)
		if err != nil {
			m.logger.Warn("health_check_failed", "error", err.Error())
			return
		}
		now := time.Now()
		workable := 0
		for i := range accounts {
			if accounts[i].Workable(now) {
				workable++
			}
		}
		m.logger.Info("health_check",
			"workers", m.WorkerCount(),
			"accounts_total", len(accounts),
			"accounts_workable", workable,
		)
	})
}

// reclaim returns targets stuck in an open assignment back to pending,
// bounding how long a crashed worker can strand its work.
func (m *Manager) reclaim(ctx context.Context) {
	m.withLease(ctx, lockReclaim, func(ctx context.Context) {
		n, err := m.store.ReclaimStale(ctx, m.staleAfter)
		if err != nil {
			m.logger.Warn("reclaim_failed", "error", err.Error())
			return
		}
		if n > 0 {
			m.logger.Info("targets_reclaimed", "count", n, "older_than", m.staleAfter.String())
		}
	})
}

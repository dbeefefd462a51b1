// Package worker contains background processors.
package worker

import (
	"context"
	"time"

	"mailsift/core/domain"
	"mailsift/core/port/in"
	"mailsift/core/port/out"
	"mailsift/pkg/apperr"
	"mailsift/pkg/logger"
)

// SyncScheduler periodically runs a sync for every connected account.
// Accounts flagged for re-auth are skipped until a human reconnects them.
type SyncScheduler struct {
	accounts out.AccountRepository
	syncSvc  in.SyncService
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewSyncScheduler creates a scheduler ticking at the given interval.
func NewSyncScheduler(accounts out.AccountRepository, syncSvc in.SyncService, interval time.Duration) *SyncScheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SyncScheduler{
		accounts: accounts,
		syncSvc:  syncSvc,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start starts the scheduler loop.
func (s *SyncScheduler) Start() {
	logger.Info("[SyncScheduler] Starting with interval %s", s.interval)
	go s.run()
}

// Stop stops the scheduler.
func (s *SyncScheduler) Stop() {
	logger.Info("[SyncScheduler] Stopping...")
	s.cancel()
}

func (s *SyncScheduler) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			logger.Info("[SyncScheduler] Stopped")
			return
		case <-ticker.C:
			s.syncAll()
		}
	}
}

// syncAll runs one sequential pass over every connected account. Sequential
// on purpose: per-account concurrency lives inside the run, and a slow
// account just delays the next tick's backlog, not correctness.
func (s *SyncScheduler) syncAll() {
	ctx, cancel := context.WithTimeout(s.ctx, s.interval)
	defer cancel()

	accounts, err := s.accounts.ListConnected(ctx)
	if err != nil {
		logger.Error("[SyncScheduler] Failed to list accounts: %v", err)
		return
	}

	for _, account := range accounts {
		if account.NeedsReauth {
			continue
		}
		report, err := s.syncSvc.RunSync(ctx, account.ID, in.SyncOptions{})
		if err != nil {
			if apperr.IsCode(err, apperr.CodeSyncInProgress) {
				// A manual run holds the lease; fine, catch it next tick.
				continue
			}
			logger.Error("[SyncScheduler] Sync failed for account %s: %v", account.ID, err)
			continue
		}
		if report.State == domain.RunAborted {
			logger.Warn("[SyncScheduler] Sync aborted for account %s: %s", account.ID, report.AbortedReason)
		}
	}
}

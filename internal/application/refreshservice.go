// Package application contains use-case orchestration: accounts, the
// account registry and the periodic refresh loop.
package application

import (
	"context"
	"log/slog"
	"time"
)

// refreshRequest represents a manual refresh trigger. A nil account means
// every account.
type refreshRequest struct {
	account *Account
	done    chan RefreshResult
}

// RefreshResult summarizes one refresh cycle.
type RefreshResult struct {
	Accounts int
	Failed   int
	Duration time.Duration
}

// RefreshService reconnects accounts on a fixed interval and on demand.
type RefreshService struct {
	registry  *Registry
	interval  time.Duration
	logger    *slog.Logger
	refreshCh chan refreshRequest
}

// NewRefreshService creates a RefreshService. An interval of zero disables
// the periodic cycle; manual refreshes still work while Start runs.
func NewRefreshService(registry *Registry, interval time.Duration, logger *slog.Logger) *RefreshService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RefreshService{
		registry:  registry,
		interval:  interval,
		logger:    logger,
		refreshCh: make(chan refreshRequest),
	}
}

// Start runs an immediate refresh of all accounts, then refreshes on the
// configured interval and serves manual requests. Start blocks until ctx is
// canceled.
func (s *RefreshService) Start(ctx context.Context) {
	s.refresh(ctx, s.registry.Accounts())

	var tick <-chan time.Time
	if s.interval > 0 {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("refresh service stopped")
			return
		case <-tick:
			s.refresh(ctx, s.registry.Accounts())
		case req := <-s.refreshCh:
			accounts := s.registry.Accounts()
			if req.account != nil {
				accounts = []*Account{req.account}
			}
			req.done <- s.refresh(ctx, accounts)
		}
	}
}

// Refresh reconnects every account and blocks until the cycle completes or
// ctx is canceled.
func (s *RefreshService) Refresh(ctx context.Context) (RefreshResult, error) {
	return s.request(ctx, nil)
}

// RefreshAccount reconnects a single account.
func (s *RefreshService) RefreshAccount(ctx context.Context, a *Account) (RefreshResult, error) {
	return s.request(ctx, a)
}

func (s *RefreshService) request(ctx context.Context, a *Account) (RefreshResult, error) {
	done := make(chan RefreshResult, 1)
	req := refreshRequest{account: a, done: done}

	select {
	case s.refreshCh <- req:
	case <-ctx.Done():
		return RefreshResult{}, ctx.Err()
	}

	select {
	case res := <-done:
		return res, nil
	case <-ctx.Done():
		return RefreshResult{}, ctx.Err()
	}
}

// refresh connects the given accounts concurrently and waits for all of them.
func (s *RefreshService) refresh(ctx context.Context, accounts []*Account) RefreshResult {
	start := time.Now()

	attempts := make([]*Attempt, len(accounts))
	for i, a := range accounts {
		attempts[i] = a.Connect(ctx, "")
	}

	var failed int
	for i, at := range attempts {
		if err := at.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			s.logger.Warn("account refresh failed",
				"kind", accounts[i].Kind().String(),
				"username", accounts[i].Username(),
				"error", err,
			)
			failed++
		}
	}

	res := RefreshResult{Accounts: len(accounts), Failed: failed, Duration: time.Since(start).Round(time.Millisecond)}
	s.logger.Info("refresh cycle complete",
		"accounts", res.Accounts,
		"errors", res.Failed,
		"duration", res.Duration,
	)
	return res
}

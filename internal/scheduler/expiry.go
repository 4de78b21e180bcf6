// Package scheduler runs periodic maintenance jobs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cardvault/bankcards/internal/logging"
)

const expiryLockKey = "lock:cards:expiry-sweep"

// Sweeper marks cards past their expiry month as expired.
type Sweeper interface {
	CheckAndUpdateExpiredCards(ctx context.Context) (int, error)
}

// ExpirySweeper triggers the expiry sweep on a cron schedule. Failures are
// logged and never stop the schedule.
type ExpirySweeper struct {
	cron    *cron.Cron
	sweeper Sweeper
	locker  Locker
	logger  *slog.Logger
	timeout time.Duration
}

// NewExpirySweeper registers the sweep under spec (standard five-field cron).
// A nil locker runs every tick locally.
func NewExpirySweeper(spec string, sweeper Sweeper, locker Locker, logger *slog.Logger) (*ExpirySweeper, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	if locker == nil {
		locker = localLocker{}
	}
	s := &ExpirySweeper{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		sweeper: sweeper,
		locker:  locker,
		logger:  logger,
		timeout: 2 * time.Minute,
	}
	if _, err := s.cron.AddFunc(spec, func() { _ = s.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("schedule expiry sweep %q: %w", spec, err)
	}
	return s, nil
}

// Start begins running the schedule in the background.
func (s *ExpirySweeper) Start() {
	s.cron.Start()
	s.logger.Info("expiry sweep scheduled", slog.Int("entries", len(s.cron.Entries())))
}

// Stop halts the schedule and waits for a running sweep or ctx, whichever
// finishes first.
func (s *ExpirySweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("expiry sweep still running at shutdown")
	}
}

// RunOnce performs one sweep under the job lock. A lock held by another
// runner is not an error.
func (s *ExpirySweeper) RunOnce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.locker.WithLock(ctx, expiryLockKey, func(ctx context.Context) error {
		n, err := s.sweeper.CheckAndUpdateExpiredCards(ctx)
		if err != nil {
			return err
		}
		s.logger.Info("expiry sweep finished", slog.Int("expired", n))
		return nil
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrLockHeld):
		s.logger.Debug("expiry sweep skipped, lock held elsewhere")
		return nil
	default:
		s.logger.Error("expiry sweep failed", slog.Any("error", err))
		return err
	}
}

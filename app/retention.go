package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/apimeter/apimeter/ports"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// RetentionService deletes aged usage records and expired rate windows.
type RetentionService struct {
	ledger  ports.UsageLedger
	windows ports.RateLimitStore
	clock   ports.Clock
	logger  zerolog.Logger
}

// NewRetentionService creates a retention service.
func NewRetentionService(ledger ports.UsageLedger, windows ports.RateLimitStore, clock ports.Clock, logger zerolog.Logger) *RetentionService {
	return &RetentionService{
		ledger:  ledger,
		windows: windows,
		clock:   clock,
		logger:  logger,
	}
}

// SweepResult reports what one sweep deleted.
type SweepResult struct {
	UsageRecords int64
	RateWindows  int64
}

// Sweep deletes usage records older than olderThanDays and rate windows that
// ended before now. Idempotent: a second sweep with an unchanged clock
// deletes nothing.
func (s *RetentionService) Sweep(ctx context.Context, olderThanDays int) (SweepResult, error) {
	now := s.clock.Now()
	cutoff := now.AddDate(0, 0, -olderThanDays)

	var res SweepResult

	records, err := s.ledger.Cleanup(ctx, cutoff)
	if err != nil {
		return res, fmt.Errorf("cleanup usage records: %w", err)
	}
	res.UsageRecords = records

	// Expired windows carry no admission state worth keeping; a window that
	// ended before now can never influence another decision.
	windows, err := s.windows.Cleanup(ctx, now)
	if err != nil {
		return res, fmt.Errorf("cleanup rate windows: %w", err)
	}
	res.RateWindows = windows

	s.logger.Info().
		Int64("usage_records", res.UsageRecords).
		Int64("rate_windows", res.RateWindows).
		Time("cutoff", cutoff).
		Msg("retention sweep completed")
	return res, nil
}

// RetentionScheduler runs sweeps on a cron schedule.
type RetentionScheduler struct {
	svc      *RetentionService
	cron     *cron.Cron
	schedule string
	days     int
	logger   zerolog.Logger
	mu       sync.Mutex
	running  bool
}

// NewRetentionScheduler creates a scheduler. schedule is a standard cron
// expression, e.g. "0 3 * * *" for daily at 3 AM.
func NewRetentionScheduler(svc *RetentionService, schedule string, days int, logger zerolog.Logger) *RetentionScheduler {
	return &RetentionScheduler{
		svc:      svc,
		cron:     cron.New(),
		schedule: schedule,
		days:     days,
		logger:   logger,
	}
}

// Start begins scheduled sweeps. An empty schedule disables the scheduler.
func (s *RetentionScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" {
		s.logger.Info().Msg("retention schedule not configured, skipping scheduler")
		return nil
	}

	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", s.schedule, err)
	}

	_, err := s.cron.AddFunc(s.schedule, func() {
		sweepCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := s.svc.Sweep(sweepCtx, s.days); err != nil {
			s.logger.Error().Err(err).Msg("scheduled retention sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule retention sweep: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("schedule", s.schedule).
		Int("retention_days", s.days).
		Msg("retention scheduler started")

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *RetentionScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info().Msg("retention scheduler stopped")
	}
}

package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nkiryanov/labtrack/internal/logger"
)

const (
	DefaultSchedule = "@every 1h"

	sweepTimeout = time.Minute
)

type tokenSweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

type sweptRecorder interface {
	Swept(count int64)
}

// Periodically delete expired refresh tokens
type Sweeper struct {
	cron    *cron.Cron
	tokens  tokenSweeper
	metrics sweptRecorder
	logger  logger.Logger
}

// Create sweeper. schedule is in robfig/cron format, e.g. '@every 1h' or '0 3 * * *'
func New(schedule string, tokens tokenSweeper, metrics sweptRecorder, l logger.Logger) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}

	s := &Sweeper{
		tokens:  tokens,
		metrics: metrics,
		logger:  l.With("component", "sweeper"),
	}

	// Skip run if previous one still in progress
	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q. Err: %w", schedule, err)
	}

	return s, nil
}

func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop scheduling and wait for running sweep to finish or ctx to be done
func (s *Sweeper) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// Sweep once
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	count, err := s.tokens.SweepExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("sweep failed. Err: %w", err)
	}

	s.metrics.Swept(count)
	return count, nil
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	count, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Error("expired refresh tokens not swept", "error", err)
		return
	}
	s.logger.Info("expired refresh tokens swept", "count", count)
}

/*
scheduler.go - Monthly accrual scheduler

PURPOSE:
  Periodically credits every active employee with the monthly accrual of
  every leave type that has a positive rate, through the last completed
  month.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Each pass is idempotent: Accrue is a no-op for pairs already accrued
    through the target month, so re-running after a crash or on several
    replicas is safe
  - Failures on one pair are logged and do not stop the pass

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := balance.NewScheduler(engine, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()
*/
package balance

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/hr-ledger/generic"
	"github.com/warp/hr-ledger/ledger"
)

// RunSummary reports one scheduler pass.
type RunSummary struct {
	Through  generic.Month `json:"through"`
	Accrued  int           `json:"accrued"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

type Scheduler struct {
	Engine        *Engine
	Logger        *zap.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewScheduler(engine *Engine, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		Engine:        engine,
		Logger:        logger,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
	}
}

// Start begins the scheduler. Calling Start twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info("accrual scheduler disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run(s.ticker, s.stop)

	s.Logger.Info("accrual scheduler started", zap.Duration("check_interval", s.CheckInterval))
}

// Stop stops the scheduler and waits for an in-flight pass to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.Logger.Info("accrual scheduler stopped")
	}
}

func (s *Scheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	// Run immediately on start
	s.pass(ctx)

	for {
		select {
		case <-ticker.C:
			s.pass(ctx)
		case <-stop:
			return
		}
	}
}

func (s *Scheduler) pass(ctx context.Context) {
	if _, err := s.RunNow(ctx); err != nil && ctx.Err() == nil {
		s.Logger.Error("accrual pass failed", zap.Error(err))
	}
}

// RunNow accrues through the last completed month and reports what it did.
func (s *Scheduler) RunNow(ctx context.Context) (RunSummary, error) {
	started := time.Now()
	through := s.Engine.LastCompletedMonth()
	summary := RunSummary{Through: through}

	employees, err := s.Engine.Store.ListEmployees(ctx, ledger.EmployeeActive)
	if err != nil {
		s.Engine.Metrics.AccrualRun("error", time.Since(started))
		return summary, err
	}
	leaveTypes, err := s.Engine.Store.ListLeaveTypes(ctx)
	if err != nil {
		s.Engine.Metrics.AccrualRun("error", time.Since(started))
		return summary, err
	}

	for _, emp := range employees {
		for _, lt := range leaveTypes {
			if !lt.AccrualRate.IsPositive() {
				continue
			}
			if err := ctx.Err(); err != nil {
				return summary, err
			}
			res, err := s.Engine.Accrue(ctx, nil, emp.ID, lt.ID, through)
			switch {
			case err != nil:
				summary.Failed++
				s.Logger.Error("accrual failed",
					zap.String("employee_id", emp.ID),
					zap.String("leave_type", lt.Code),
					zap.Error(err),
				)
			case res.Changed:
				summary.Accrued++
			default:
				summary.Skipped++
			}
		}
	}

	summary.Duration = time.Since(started)
	outcome := "ok"
	if summary.Failed > 0 {
		outcome = "partial"
	}
	s.Engine.Metrics.AccrualRun(outcome, summary.Duration)

	if summary.Accrued > 0 || summary.Failed > 0 {
		s.Logger.Info("accrual pass completed",
			zap.Stringer("through", through),
			zap.Int("accrued", summary.Accrued),
			zap.Int("skipped", summary.Skipped),
			zap.Int("failed", summary.Failed),
		)
	}
	return summary, nil
}

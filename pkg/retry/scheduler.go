package retry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SchedulerConfig configures background retries of failed work.
type SchedulerConfig struct {
	Interval    time.Duration // Fixed delay before each retry attempt
	MaxAttempts int           // Retry attempts after the initial failure; 0 disables retries
	Workers     int           // Maximum attempts running at once (default: 2)
}

// DefaultSchedulerConfig returns the sync retry defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:    time.Minute,
		MaxAttempts: 3,
		Workers:     2,
	}
}

// Attempt runs one retry and reports whether it succeeded.
type Attempt func(ctx context.Context) bool

// Scheduler runs retries off the caller's path. Each scheduled task waits
// the fixed interval before every attempt and stops on the first success,
// when attempts are exhausted, when the enabled check turns false, or when
// the scheduler is closed.
type Scheduler struct {
	config  SchedulerConfig
	enabled func() bool
	sem     chan struct{}
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a retry scheduler. enabled may be nil.
func NewScheduler(config SchedulerConfig, enabled func() bool, logger *zap.Logger) *Scheduler {
	if config.Workers < 1 {
		config.Workers = 2
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		config:  config,
		enabled: enabled,
		sem:     make(chan struct{}, config.Workers),
		logger:  logger.Named("retry-scheduler"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Schedule queues background retries of attempt. It returns immediately.
func (s *Scheduler) Schedule(name string, attempt Attempt) {
	if s.config.MaxAttempts <= 0 || s.ctx.Err() != nil {
		return
	}

	s.logger.Info("Scheduling retry",
		zap.String("task", name),
		zap.Duration("interval", s.config.Interval),
		zap.Int("max_attempts", s.config.MaxAttempts))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(name, attempt)
	}()
}

func (s *Scheduler) run(name string, attempt Attempt) {
	timer := time.NewTimer(s.config.Interval)
	defer timer.Stop()

	for n := 1; n <= s.config.MaxAttempts; n++ {
		select {
		case <-timer.C:
		case <-s.ctx.Done():
			return
		}

		if s.enabled != nil && !s.enabled() {
			s.logger.Info("Retry abandoned, feature disabled", zap.String("task", name))
			return
		}

		// Acquire a worker slot
		select {
		case s.sem <- struct{}{}:
		case <-s.ctx.Done():
			return
		}
		ok := s.runAttempt(name, n, attempt)
		<-s.sem

		if ok {
			s.logger.Info("Retry succeeded", zap.String("task", name), zap.Int("attempt", n))
			return
		}
		timer.Reset(s.config.Interval)
	}

	s.logger.Warn("Retry attempts exhausted",
		zap.String("task", name),
		zap.Int("max_attempts", s.config.MaxAttempts))
}

func (s *Scheduler) runAttempt(name string, n int, attempt Attempt) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Retry attempt panicked",
				zap.String("task", name),
				zap.Int("attempt", n),
				zap.String("panic", fmt.Sprint(r)))
			ok = false
		}
	}()
	return attempt(s.ctx)
}

// Close cancels pending retries and waits for running attempts to return.
func (s *Scheduler) Close() {
	s.cancel()
	s.wg.Wait()
}

// Package scheduler triggers pipeline runs on a cron schedule or on demand and makes sure only
// one run is in flight at a time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dukex/stockpipe/pkg/log"
	"github.com/dukex/stockpipe/pkg/models"
	"github.com/robfig/cron/v3"
)

var ErrRunInProgress = errors.New("a pipeline run is already in progress")

type Executor interface {
	Execute(ctx context.Context, run *models.Run) error
}

// Lock guards runs across processes. TryLock must not block.
type Lock interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

type Options struct {
	// Spec is a standard five field cron expression or a descriptor such as @daily.
	Spec     string
	Location *time.Location
	Executor Executor
	// Lock is optional.
	Lock   Lock
	Logger *slog.Logger
}

type Scheduler struct {
	cron     *cron.Cron
	schedule cron.Schedule
	location *time.Location
	spec     string
	executor Executor
	lock     Lock
	logger   *slog.Logger

	running atomic.Bool
	current atomic.Pointer[string]

	wg     sync.WaitGroup
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

func New(options Options) (*Scheduler, error) {
	if options.Executor == nil {
		return nil, errors.New("scheduler requires an executor")
	}

	schedule, err := cron.ParseStandard(options.Spec)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", options.Spec, err)
	}

	location := options.Location
	if location == nil {
		location = time.Local
	}

	logger := options.Logger.With("module", "scheduler")
	cronLogger := log.NewCronLogger(logger)

	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(location),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger)),
		),
		schedule: schedule,
		location: location,
		spec:     options.Spec,
		executor: options.Executor,
		lock:     options.Lock,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}

	_, err = s.cron.AddFunc(options.Spec, s.tick)
	if err != nil {
		cancel()

		return nil, fmt.Errorf("failed to register schedule %q: %w", options.Spec, err)
	}

	return s, nil
}

// Start begins firing the schedule. Runs started by the scheduler use ctx, so cancelling it
// cancels the in-flight run.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.cancel()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.cron.Start()

	s.logger.InfoContext(ctx, "Scheduler started", "schedule", s.spec, "next", s.Next())
}

// Stop stops the schedule and waits for the in-flight run, if any, to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.wg.Wait()

	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()

	s.logger.Info("Scheduler stopped")
}

// Next returns the next fire time in the schedule's location.
func (s *Scheduler) Next() time.Time {
	return s.schedule.Next(time.Now().In(s.location))
}

func (s *Scheduler) Schedule() string {
	return s.spec
}

// Current returns the id of the run in flight.
func (s *Scheduler) Current() (string, bool) {
	id := s.current.Load()
	if id == nil {
		return "", false
	}

	return *id, true
}

// Trigger executes one run synchronously. It returns ErrRunInProgress when another run holds
// the guard. The returned run is non-nil whenever execution started.
func (s *Scheduler) Trigger(ctx context.Context, kind models.TriggerKind) (*models.Run, error) {
	run := models.NewRun(kind)

	err := s.acquire(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	defer s.release(ctx)

	return run, s.execute(ctx, run)
}

// TriggerAsync starts a run in the background and returns it immediately.
func (s *Scheduler) TriggerAsync(kind models.TriggerKind) (*models.Run, error) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	run := models.NewRun(kind)

	err := s.acquire(ctx, run.ID)
	if err != nil {
		return nil, err
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		defer s.release(ctx)

		_ = s.execute(ctx, run)
	}()

	return run, nil
}

func (s *Scheduler) tick() {
	s.wg.Add(1)
	defer s.wg.Done()

	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	_, err := s.Trigger(ctx, models.TriggerScheduled)
	if errors.Is(err, ErrRunInProgress) {
		current, _ := s.Current()
		s.logger.WarnContext(ctx, "Dropped scheduled tick, a run is already in progress", "run_id", current)
	}
}

func (s *Scheduler) execute(ctx context.Context, run *models.Run) error {
	logger := s.logger.With("run_id", run.ID, "trigger", run.Trigger)
	logger.InfoContext(ctx, "Triggering pipeline run")

	err := s.executor.Execute(ctx, run)
	if err != nil {
		logger.ErrorContext(ctx, "Pipeline run failed", "error", err)

		return err
	}

	logger.InfoContext(ctx, "Pipeline run finished", "duration", run.Duration())

	return nil
}

func (s *Scheduler) acquire(ctx context.Context, runID string) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrRunInProgress
	}

	if s.lock != nil {
		acquired, err := s.lock.TryLock(ctx)
		if err != nil {
			s.running.Store(false)

			return fmt.Errorf("failed to acquire run lock: %w", err)
		}

		if !acquired {
			s.running.Store(false)

			return ErrRunInProgress
		}
	}

	s.current.Store(&runID)

	return nil
}

func (s *Scheduler) release(ctx context.Context) {
	if s.lock != nil {
		err := s.lock.Unlock(context.WithoutCancel(ctx))
		if err != nil {
			s.logger.WarnContext(ctx, "Failed to release run lock", "error", err)
		}
	}

	s.current.Store(nil)
	s.running.Store(false)
}

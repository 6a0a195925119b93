package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/sig-0/iq"
)

var (
	errInvalidRunner     = errors.New("invalid pipeline")
	errInvalidInterval   = errors.New("invalid interval")
	errDuplicatePipeline = errors.New("pipeline already scheduled")
)

// Scheduler runs the registered pipelines on their intervals.
// A pipeline never overlaps itself: its next run is only queued once
// the current one has finished
type Scheduler struct {
	logger *slog.Logger

	pipelines   map[xid.ID]Runner
	pipelineMux sync.RWMutex

	due    iq.Queue[dueRun]
	dueMux sync.Mutex

	tick       time.Duration
	retryDelay time.Duration
}

// NewScheduler creates a new pipeline scheduler
func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		pipelines:  make(map[xid.ID]Runner),
		due:        iq.NewQueue[dueRun](),
		tick:       time.Second,
		retryDelay: 10 * time.Second,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Register adds the pipeline to the schedule, with its first run due now
func (s *Scheduler) Register(r Runner) error {
	if r == nil || r.Name() == "" {
		return errInvalidRunner
	}

	if r.Interval() <= 0 {
		return errInvalidInterval
	}

	s.pipelineMux.Lock()

	for _, existing := range s.pipelines {
		if existing.Name() == r.Name() {
			s.pipelineMux.Unlock()

			return errDuplicatePipeline
		}
	}

	id := xid.New()
	s.pipelines[id] = r

	s.pipelineMux.Unlock()

	s.logger.Info(
		"pipeline scheduled",
		"pipeline", r.Name(),
		"interval", r.Interval().String(),
	)

	s.enqueue(time.Now().UTC(), id)

	return nil
}

// Start dispatches due pipeline runs until the context is canceled [BLOCKING]
func (s *Scheduler) Start(ctx context.Context) error {
	outcomes := make(chan *runOutcome, 100)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	// Pipelines registered before start are due right away
	s.dispatch(ctx, outcomes)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")

			return nil
		case <-ticker.C:
			s.dispatch(ctx, outcomes)
		case outcome := <-outcomes:
			s.settle(outcome)
		}
	}
}

// dispatch starts every run that is due
func (s *Scheduler) dispatch(ctx context.Context, outcomes chan<- *runOutcome) {
	for ctx.Err() == nil {
		next, ok := s.popDue(time.Now().UTC())
		if !ok {
			return
		}

		runner, ok := s.runner(next.pipelineID)
		if !ok {
			continue
		}

		s.logger.Debug(
			"pipeline run dispatched",
			"pipeline", runner.Name(),
			"due_at", next.at,
		)

		go execute(ctx, next.pipelineID, runner, outcomes)
	}
}

// settle logs a finished run and queues the next one.
// Failed runs are retried after the retry delay instead of the interval
func (s *Scheduler) settle(outcome *runOutcome) {
	runner, ok := s.runner(outcome.pipelineID)
	if !ok {
		s.logger.Error(
			"run finished for an unknown pipeline",
			"id", outcome.pipelineID.String(),
		)

		return
	}

	now := time.Now().UTC()

	if outcome.err != nil {
		retryAt := now.Add(s.retryDelay)

		s.logger.Error(
			"pipeline run failed",
			"pipeline", runner.Name(),
			"retry_at", retryAt,
			"err", outcome.err,
		)

		s.enqueue(retryAt, outcome.pipelineID)

		return
	}

	nextAt := now.Add(runner.Interval())

	if summary := outcome.summary; summary != nil {
		s.logger.Info(
			"pipeline run finished",
			"pipeline", runner.Name(),
			"run_id", summary.RunID,
			"state", summary.State,
			"ladder_steps", len(summary.Ladder),
			"next_run", nextAt,
		)
	}

	s.enqueue(nextAt, outcome.pipelineID)
}

func (s *Scheduler) runner(id xid.ID) (Runner, bool) {
	s.pipelineMux.RLock()
	defer s.pipelineMux.RUnlock()

	r, ok := s.pipelines[id]

	return r, ok
}

func (s *Scheduler) enqueue(at time.Time, pipelineID xid.ID) {
	s.dueMux.Lock()
	defer s.dueMux.Unlock()

	s.due.Push(dueRun{
		at:         at,
		pipelineID: pipelineID,
	})
}

// popDue removes the earliest queued run, if it is due at now
func (s *Scheduler) popDue(now time.Time) (dueRun, bool) {
	s.dueMux.Lock()
	defer s.dueMux.Unlock()

	if s.due.Len() == 0 || s.due.Index(0).at.After(now) {
		return dueRun{}, false
	}

	return *s.due.PopFront(), true
}

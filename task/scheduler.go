package task

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"podqueued/metrics"
)

// Processor executes the work of the task's current stage. Its artifacts are
// opaque here; only success or failure crosses the boundary.
type Processor interface {
	Process(ctx context.Context, t *Task) error
}

// DeadLetter receives tasks whose failure is terminal.
type DeadLetter interface {
	Add(ctx context.Context, t *Task, errType ErrorType, message string) error
}

// Scheduler is the single-threaded execution loop. It pulls the front
// pending task, runs its current stage, then advances, reschedules with
// backoff, or routes the task to the dead letter queue.
type Scheduler struct {
	queue        *Queue
	proc         Processor
	dlq          DeadLetter
	policy       RetryPolicy
	pollInterval time.Duration
	stageTimeout time.Duration
	running      atomic.Bool
	log          *slog.Logger
}

// SchedulerOptions tune the scheduler loop.
type SchedulerOptions struct {
	Policy       RetryPolicy
	PollInterval time.Duration
	StageTimeout time.Duration
	Logger       *slog.Logger
}

func NewScheduler(q *Queue, proc Processor, dlq DeadLetter, opts SchedulerOptions) *Scheduler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 250 * time.Millisecond
	}
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = 15 * time.Minute
	}
	if opts.Policy == (RetryPolicy{}) {
		opts.Policy = DefaultRetryPolicy
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Scheduler{
		queue:        q,
		proc:         proc,
		dlq:          dlq,
		policy:       opts.Policy,
		pollInterval: opts.PollInterval,
		stageTimeout: opts.StageTimeout,
		log:          opts.Logger.With("component", "scheduler"),
	}
	s.running.Store(true)
	return s
}

// Start resumes dequeueing.
func (s *Scheduler) Start() {
	s.running.Store(true)
	s.log.Info("worker started")
}

// Stop pauses dequeueing. Retry timers keep promoting tasks back to pending;
// they queue up but are not executed until Start.
func (s *Scheduler) Stop() {
	s.running.Store(false)
	s.log.Info("worker stopped")
}

// Running reports whether the worker is dequeueing tasks.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Run polls the queue until ctx is cancelled. It is meant to be launched
// once as a goroutine from main.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler loop shutting down")
			return
		case <-ticker.C:
			s.drain(ctx)
		}
	}
}

// drain works off pending tasks one at a time until the queue is empty, the
// worker is stopped, or ctx is cancelled.
func (s *Scheduler) drain(ctx context.Context) {
	for s.running.Load() && ctx.Err() == nil {
		t, err := s.queue.DequeueNext()
		if err != nil {
			return // ErrEmptyQueue
		}
		s.process(ctx, t)
	}
}

// process runs one stage of one task and applies the outcome.
func (s *Scheduler) process(ctx context.Context, t *Task) {
	stageCtx, cancel := context.WithTimeout(ctx, s.stageTimeout)
	defer cancel()

	s.log.Info("processing stage",
		"task_id", t.ID, "episode", t.EpisodeSlug, "stage", t.Stage, "retry_count", t.RetryCount)

	start := time.Now()
	err := s.proc.Process(stageCtx, t)
	metrics.StageDuration.WithLabelValues(string(t.Stage)).Observe(time.Since(start).Seconds())

	if err == nil {
		metrics.TasksProcessed.WithLabelValues(string(t.Stage), "success").Inc()
		if next, ok := t.Stage.Next(); ok {
			if qerr := s.queue.AdvanceProcessing(t.ID, next); qerr != nil {
				s.log.Error("advance failed", "task_id", t.ID, "error", qerr)
			}
			return
		}
		if qerr := s.queue.CompleteProcessing(t.ID); qerr != nil {
			s.log.Error("complete failed", "task_id", t.ID, "error", qerr)
			return
		}
		s.log.Info("task completed", "task_id", t.ID, "episode", t.EpisodeSlug)
		return
	}

	metrics.TasksProcessed.WithLabelValues(string(t.Stage), "failure").Inc()
	kind := s.policy.Classify(err)

	// Retry accounting is increment-then-compare: reaching max_retries on
	// this failure is exhaustion, not another retry cycle.
	if kind == ErrorTransient && t.RetryCount+1 < t.MaxRetries {
		delay := s.policy.BackoffDelay(t.RetryCount + 1)
		at := time.Now().Add(delay)
		if qerr := s.queue.RetryProcessing(t.ID, at); qerr != nil {
			s.log.Error("retry schedule failed", "task_id", t.ID, "error", qerr)
			return
		}
		s.log.Warn("stage failed, retry scheduled",
			"task_id", t.ID, "stage", t.Stage, "delay", delay, "error", err)
		return
	}

	s.toDeadLetter(ctx, t, kind, err)
}

// toDeadLetter detaches the task from the queue and hands it to the DLQ with
// its failure time frozen.
func (s *Scheduler) toDeadLetter(ctx context.Context, t *Task, kind ErrorType, cause error) {
	failed, err := s.queue.DropProcessing(t.ID)
	if err != nil {
		s.log.Error("drop failed", "task_id", t.ID, "error", err)
		return
	}
	// The final transient failure counts as a consumed retry, but the count
	// never exceeds max_retries (a max_retries of 0 fails straight through
	// with the count untouched).
	if kind == ErrorTransient && failed.RetryCount < failed.MaxRetries {
		failed.RetryCount++
	}
	now := time.Now()
	failed.CompletedAt = &now

	if err := s.dlq.Add(ctx, failed, kind, cause.Error()); err != nil {
		// Put the task back rather than lose it to a store outage. It will
		// fail its stage again and re-attempt the handoff.
		s.queue.RestorePending(failed)
		s.log.Error("dead letter add failed, task returned to queue",
			"task_id", t.ID, "error", err)
		return
	}
	metrics.DLQAdded.WithLabelValues(string(kind)).Inc()
	s.log.Error("task moved to dead letter queue",
		"task_id", t.ID, "stage", t.Stage, "error_type", kind, "error", cause)
}

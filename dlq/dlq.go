// Package dlq holds tasks whose failure was terminal, either fatal on
// classification or transient with retries exhausted, until an operator
// retries or skips them.
package dlq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"podqueued/metrics"
	"podqueued/task"
)

// Requeuer re-inserts a retried task into the task queue.
type Requeuer interface {
	Enqueue(ctx context.Context, t *task.Task) error
}

// Queue is the operator-facing dead letter queue. It implements
// task.DeadLetter for the scheduler side.
type Queue struct {
	store Store
	queue Requeuer
	log   *slog.Logger
}

func NewQueue(store Store, queue Requeuer, log *slog.Logger) *Queue {
	if log == nil {
		log = slog.Default()
	}
	return &Queue{
		store: store,
		queue: queue,
		log:   log.With("component", "dlq"),
	}
}

// Store exposes the underlying store, e.g. for the task queue's duplicate
// membership check.
func (q *Queue) Store() Store { return q.store }

// Add records a terminal failure. The task must already be detached from the
// task queue; its completed_at is frozen to the failure time.
func (q *Queue) Add(ctx context.Context, t *task.Task, errType task.ErrorType, message string) error {
	failedAt := time.Now()
	if t.CompletedAt != nil {
		failedAt = *t.CompletedAt
	}
	e := &Entry{
		TaskID:       t.ID,
		EpisodeID:    t.EpisodeID,
		PodcastSlug:  t.PodcastSlug,
		EpisodeSlug:  t.EpisodeSlug,
		EpisodeTitle: t.EpisodeTitle,
		PodcastTitle: t.PodcastTitle,
		Stage:        t.Stage,
		ErrorType:    errType,
		ErrorMessage: message,
		CompletedAt:  failedAt,
		RetryCount:   t.RetryCount,
		MaxRetries:   t.MaxRetries,
	}
	return q.store.Add(ctx, e)
}

// Retry removes an entry and re-enqueues the task at the stage it failed in.
// The retry count starts over at zero: the operator has judged the
// underlying issue fixed. If re-enqueueing fails the entry is restored, so
// the task is never lost between the two queues.
func (q *Queue) Retry(ctx context.Context, taskID string) error {
	e, err := q.store.Remove(ctx, taskID)
	if err != nil {
		return err
	}

	t := &task.Task{
		ID:           e.TaskID,
		EpisodeID:    e.EpisodeID,
		PodcastSlug:  e.PodcastSlug,
		EpisodeSlug:  e.EpisodeSlug,
		EpisodeTitle: e.EpisodeTitle,
		PodcastTitle: e.PodcastTitle,
		Stage:        e.Stage,
		Status:       task.StatusPending,
		RetryCount:   0,
		MaxRetries:   e.MaxRetries,
		EnqueuedAt:   time.Now(),
	}
	if err := q.queue.Enqueue(ctx, t); err != nil {
		if restoreErr := q.store.Add(ctx, e); restoreErr != nil {
			q.log.Error("failed to restore dead letter entry after enqueue failure",
				"task_id", taskID, "error", restoreErr)
		}
		return fmt.Errorf("retry %s: %w", taskID, err)
	}

	metrics.DLQActions.WithLabelValues("retry").Inc()
	q.log.Info("dead letter task re-enqueued", "task_id", taskID, "stage", e.Stage)
	return nil
}

// RetryResult reports the outcome of one task within a RetryAll batch.
type RetryResult struct {
	TaskID string
	Err    error
}

// RetryAll retries every entry, or only the given subset when taskIDs is
// non-empty. Per-task failures are collected, never fatal to the batch.
func (q *Queue) RetryAll(ctx context.Context, taskIDs []string) ([]RetryResult, error) {
	ids := taskIDs
	if len(ids) == 0 {
		entries, err := q.store.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			ids = append(ids, e.TaskID)
		}
	}

	results := make([]RetryResult, 0, len(ids))
	for _, id := range ids {
		results = append(results, RetryResult{TaskID: id, Err: q.Retry(ctx, id)})
	}
	return results, nil
}

// Skip marks an entry resolved without re-processing and removes it.
func (q *Queue) Skip(ctx context.Context, taskID string) error {
	if _, err := q.store.Remove(ctx, taskID); err != nil {
		return err
	}
	metrics.DLQActions.WithLabelValues("skip").Inc()
	q.log.Info("dead letter task skipped", "task_id", taskID)
	return nil
}

// List returns all entries, oldest failure first.
func (q *Queue) List(ctx context.Context) ([]*Entry, error) {
	return q.store.List(ctx)
}

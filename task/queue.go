package task

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"podqueued/metrics"
)

// Membership answers whether a task_id is held elsewhere (the dead letter
// queue). Enqueue consults it so a task can never exist in both places.
type Membership interface {
	Has(ctx context.Context, taskID string) (bool, error)
}

// Queue holds the ordered pending tasks, the single in-flight task, tasks
// waiting out a retry backoff, and a capped history of completed tasks.
//
// Every mutation runs under one mutex, including the timer-driven
// retry_scheduled -> pending promotion, so operator actions interleaved with
// dequeue or a timer fire always resolve to exactly one consistent outcome.
type Queue struct {
	mu         sync.Mutex
	pending    []*Task // front of the order is index 0
	processing *Task
	retrySched map[string]*Task
	timers     map[string]*time.Timer
	completed  []*Task // most recent first
	keepDone   int
	dlq        Membership
}

// NewQueue creates an empty queue. dlq may be nil when no dead letter
// membership check is wanted (tests). keepDone caps the completed history.
func NewQueue(dlq Membership, keepDone int) *Queue {
	if keepDone <= 0 {
		keepDone = 50
	}
	return &Queue{
		retrySched: make(map[string]*Task),
		timers:     make(map[string]*time.Timer),
		keepDone:   keepDone,
		dlq:        dlq,
	}
}

// Enqueue appends t to the tail of the pending order. It fails with
// ErrDuplicateTask if the task_id is already present in the queue or in the
// dead letter queue.
func (q *Queue) Enqueue(ctx context.Context, t *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.hasLocked(t.ID) {
		return fmt.Errorf("enqueue %s: %w", t.ID, ErrDuplicateTask)
	}
	if q.dlq != nil {
		inDLQ, err := q.dlq.Has(ctx, t.ID)
		if err != nil {
			return fmt.Errorf("enqueue %s: dead letter lookup: %w", t.ID, err)
		}
		if inDLQ {
			return fmt.Errorf("enqueue %s: in dead letter queue: %w", t.ID, ErrDuplicateTask)
		}
	}

	t.Status = StatusPending
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now()
	}
	q.pending = append(q.pending, t)
	q.updateDepthLocked()
	return nil
}

// Bump moves a pending task to the front of the pending order. The most
// recently bumped task is always frontmost. Non-pending tasks fail with
// ErrNotPending, unknown ids with ErrNotFound.
func (q *Queue) Bump(taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, t := range q.pending {
		if t.ID == taskID {
			copy(q.pending[1:i+1], q.pending[:i])
			q.pending[0] = t
			return nil
		}
	}
	if q.processing != nil && q.processing.ID == taskID {
		return fmt.Errorf("bump %s: %w", taskID, ErrNotPending)
	}
	if _, ok := q.retrySched[taskID]; ok {
		return fmt.Errorf("bump %s: %w", taskID, ErrNotPending)
	}
	return fmt.Errorf("bump %s: %w", taskID, ErrNotFound)
}

// Cancel removes a pending or retry-scheduled task permanently. Cancelling
// the processing task fails with ErrNotCancellable; it must complete or fail
// first.
func (q *Queue) Cancel(taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.processing != nil && q.processing.ID == taskID {
		return fmt.Errorf("cancel %s: %w", taskID, ErrNotCancellable)
	}
	for i, t := range q.pending {
		if t.ID == taskID {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			q.updateDepthLocked()
			return nil
		}
	}
	if _, ok := q.retrySched[taskID]; ok {
		if tm, ok := q.timers[taskID]; ok {
			tm.Stop()
			delete(q.timers, taskID)
		}
		delete(q.retrySched, taskID)
		q.updateDepthLocked()
		return nil
	}
	return fmt.Errorf("cancel %s: %w", taskID, ErrNotFound)
}

// DequeueNext pops the front pending task, marks it processing and records
// started_at. It returns ErrEmptyQueue when nothing is pending and refuses
// to dequeue while another task is still in flight, preserving the single
// active task invariant.
func (q *Queue) DequeueNext() (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	// Single active task: nothing is handed out while one is in flight.
	if q.processing != nil || len(q.pending) == 0 {
		return nil, ErrEmptyQueue
	}

	t := q.pending[0]
	q.pending = q.pending[1:]
	now := time.Now()
	t.Status = StatusProcessing
	t.StartedAt = &now
	q.processing = t
	q.updateDepthLocked()
	return t, nil
}

// AdvanceProcessing finishes the in-flight task's current stage and returns
// it to the tail of the pending order at the next stage.
func (q *Queue) AdvanceProcessing(taskID string, next Stage) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, err := q.takeProcessingLocked(taskID)
	if err != nil {
		return err
	}
	t.Stage = next
	t.Status = StatusPending
	t.StartedAt = nil
	q.pending = append(q.pending, t)
	q.updateDepthLocked()
	return nil
}

// CompleteProcessing marks the in-flight task completed and moves it into
// the completed history.
func (q *Queue) CompleteProcessing(taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, err := q.takeProcessingLocked(taskID)
	if err != nil {
		return err
	}
	now := time.Now()
	t.Status = StatusCompleted
	t.CompletedAt = &now
	q.completed = append([]*Task{t}, q.completed...)
	if len(q.completed) > q.keepDone {
		q.completed = q.completed[:q.keepDone]
	}
	q.updateDepthLocked()
	return nil
}

// RetryProcessing increments the in-flight task's retry count, parks it as
// retry_scheduled until at, and arms a timer that promotes it back to the
// pending tail. The timer fire takes the queue mutex, so it serializes
// against a concurrent cancel of the same task_id.
func (q *Queue) RetryProcessing(taskID string, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, err := q.takeProcessingLocked(taskID)
	if err != nil {
		return err
	}
	t.RetryCount++
	t.Status = StatusRetryScheduled
	t.StartedAt = nil
	retryAt := at
	t.NextRetryAt = &retryAt
	q.retrySched[taskID] = t
	q.timers[taskID] = time.AfterFunc(time.Until(at), func() { q.promote(taskID) })
	metrics.RetriesScheduled.Inc()
	q.updateDepthLocked()
	return nil
}

// DropProcessing detaches the in-flight task from the queue entirely and
// returns it. Used when the task is routed to the dead letter queue.
func (q *Queue) DropProcessing(taskID string) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, err := q.takeProcessingLocked(taskID)
	if err != nil {
		return nil, err
	}
	q.updateDepthLocked()
	return t, nil
}

// RestorePending returns a previously dropped task to the pending tail. No
// duplicate or dead letter checks apply; the task just left this queue and
// could not be handed off.
func (q *Queue) RestorePending(t *Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t.Status = StatusPending
	t.StartedAt = nil
	t.CompletedAt = nil
	q.pending = append(q.pending, t)
	q.updateDepthLocked()
}

// promote moves a retry-scheduled task back to the pending tail once its
// backoff elapsed. A task cancelled before the timer fired is simply gone by
// the time we look it up.
func (q *Queue) promote(taskID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.retrySched[taskID]
	if !ok {
		return
	}
	delete(q.retrySched, taskID)
	delete(q.timers, taskID)
	t.Status = StatusPending
	t.NextRetryAt = nil
	q.pending = append(q.pending, t)
	q.updateDepthLocked()
}

func (q *Queue) takeProcessingLocked(taskID string) (*Task, error) {
	if q.processing == nil || q.processing.ID != taskID {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	t := q.processing
	q.processing = nil
	return t, nil
}

func (q *Queue) hasLocked(taskID string) bool {
	if q.processing != nil && q.processing.ID == taskID {
		return true
	}
	if _, ok := q.retrySched[taskID]; ok {
		return true
	}
	for _, t := range q.pending {
		if t.ID == taskID {
			return true
		}
	}
	return false
}

func (q *Queue) updateDepthLocked() {
	metrics.QueueDepth.WithLabelValues("pending").Set(float64(len(q.pending)))
	metrics.QueueDepth.WithLabelValues("retry_scheduled").Set(float64(len(q.retrySched)))
	inFlight := 0.0
	if q.processing != nil {
		inFlight = 1.0
	}
	metrics.QueueDepth.WithLabelValues("processing").Set(inFlight)
}

// ListPending returns the pending tasks front-first.
func (q *Queue) ListPending() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Task, 0, len(q.pending))
	for _, t := range q.pending {
		out = append(out, t.Clone())
	}
	return out
}

// ListRetryScheduled returns retry-scheduled tasks ordered by next_retry_at.
func (q *Queue) ListRetryScheduled() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Task, 0, len(q.retrySched))
	for _, t := range q.retrySched {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].NextRetryAt.Before(*out[j].NextRetryAt)
	})
	return out
}

// ListCompleted returns up to limit of the most recently completed tasks.
func (q *Queue) ListCompleted(limit int) []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if limit <= 0 || limit > len(q.completed) {
		limit = len(q.completed)
	}
	out := make([]*Task, 0, limit)
	for _, t := range q.completed[:limit] {
		out = append(out, t.Clone())
	}
	return out
}

// Processing returns the in-flight task, or nil.
func (q *Queue) Processing() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.processing == nil {
		return nil
	}
	return q.processing.Clone()
}

// Counts returns pending, processing and retry-scheduled totals in one
// locked pass.
func (q *Queue) Counts() (pending, processing, retryScheduled int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.processing != nil {
		processing = 1
	}
	return len(q.pending), processing, len(q.retrySched)
}

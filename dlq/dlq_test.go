package dlq

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podqueued/task"
)

func failedTask(id string, stage task.Stage) *task.Task {
	failedAt := time.Now()
	return &task.Task{
		ID:           id,
		EpisodeID:    "ep-" + id,
		PodcastSlug:  "show",
		EpisodeSlug:  "episode-" + id,
		EpisodeTitle: "Episode " + id,
		PodcastTitle: "Show",
		Stage:        stage,
		RetryCount:   3,
		MaxRetries:   3,
		CompletedAt:  &failedAt,
	}
}

func newTestQueue(t *testing.T) (*Queue, *task.Queue, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	tq := task.NewQueue(store, 10)
	return NewQueue(store, tq, nil), tq, store
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	e := &Entry{TaskID: "a", Stage: task.StageTranscribe, CompletedAt: time.Now()}
	require.NoError(t, store.Add(ctx, e))

	t.Run("duplicate add", func(t *testing.T) {
		assert.ErrorIs(t, store.Add(ctx, e), task.ErrDuplicateTask)
	})

	t.Run("has and count", func(t *testing.T) {
		ok, err := store.Has(ctx, "a")
		require.NoError(t, err)
		assert.True(t, ok)

		n, err := store.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("list is ordered oldest failure first", func(t *testing.T) {
		older := &Entry{TaskID: "b", CompletedAt: time.Now().Add(-time.Hour)}
		require.NoError(t, store.Add(ctx, older))

		entries, err := store.List(ctx)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "b", entries[0].TaskID)
		assert.Equal(t, "a", entries[1].TaskID)
	})

	t.Run("remove", func(t *testing.T) {
		got, err := store.Remove(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, task.StageTranscribe, got.Stage)

		_, err = store.Remove(ctx, "a")
		assert.ErrorIs(t, err, task.ErrNotFound)
	})
}

func TestQueue_AddProjectsTask(t *testing.T) {
	ctx := context.Background()
	q, _, store := newTestQueue(t)

	ft := failedTask("a", task.StageClean)
	require.NoError(t, q.Add(ctx, ft, task.ErrorTransient, "gave up after 3 retries"))

	entries, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	assert.Equal(t, "a", e.TaskID)
	assert.Equal(t, task.StageClean, e.Stage)
	assert.Equal(t, task.ErrorTransient, e.ErrorType)
	assert.Equal(t, "gave up after 3 retries", e.ErrorMessage)
	assert.Equal(t, 3, e.RetryCount)
	// Failure time is frozen from the task.
	assert.Equal(t, ft.CompletedAt.Unix(), e.CompletedAt.Unix())
}

func TestQueue_Retry(t *testing.T) {
	ctx := context.Background()

	t.Run("re-enqueues at the failed stage with retry count reset", func(t *testing.T) {
		q, tq, store := newTestQueue(t)
		require.NoError(t, q.Add(ctx, failedTask("a", task.StageTranscribe), task.ErrorTransient, "boom"))

		require.NoError(t, q.Retry(ctx, "a"))

		// Gone from the dead letter queue.
		ok, err := store.Has(ctx, "a")
		require.NoError(t, err)
		assert.False(t, ok)

		// Exactly one queue entry, at the recorded stage, fresh retry budget.
		pending := tq.ListPending()
		require.Len(t, pending, 1)
		assert.Equal(t, "a", pending[0].ID)
		assert.Equal(t, task.StageTranscribe, pending[0].Stage)
		assert.Equal(t, task.StatusPending, pending[0].Status)
		assert.Equal(t, 0, pending[0].RetryCount)
		assert.Equal(t, 3, pending[0].MaxRetries)
	})

	t.Run("unknown id", func(t *testing.T) {
		q, _, _ := newTestQueue(t)
		assert.ErrorIs(t, q.Retry(ctx, "ghost"), task.ErrNotFound)
	})

	t.Run("entry is restored when re-enqueue fails", func(t *testing.T) {
		q, tq, store := newTestQueue(t)
		require.NoError(t, q.Add(ctx, failedTask("a", task.StageDownload), task.ErrorFatal, "boom"))

		// Occupy the task_id in the task queue so the enqueue collides.
		clash := failedTask("a", task.StageDownload)
		clash.CompletedAt = nil
		// Bypass the membership check: remove, enqueue, re-add.
		e, err := store.Remove(ctx, "a")
		require.NoError(t, err)
		require.NoError(t, tq.Enqueue(ctx, clash))
		require.NoError(t, store.Add(ctx, e))

		err = q.Retry(ctx, "a")
		assert.ErrorIs(t, err, task.ErrDuplicateTask)

		// Entry survived the failed retry.
		ok, hasErr := store.Has(ctx, "a")
		require.NoError(t, hasErr)
		assert.True(t, ok)
	})
}

func TestQueue_RetryAll(t *testing.T) {
	ctx := context.Background()

	t.Run("partial failure is reported per task", func(t *testing.T) {
		q, tq, store := newTestQueue(t)
		require.NoError(t, q.Add(ctx, failedTask("t1", task.StageDownsample), task.ErrorTransient, "boom"))

		results, err := q.RetryAll(ctx, []string{"t1", "t2"})
		require.NoError(t, err)
		require.Len(t, results, 2)

		assert.Equal(t, "t1", results[0].TaskID)
		assert.NoError(t, results[0].Err)
		assert.Equal(t, "t2", results[1].TaskID)
		assert.ErrorIs(t, results[1].Err, task.ErrNotFound)

		// t1 retried, t2 untouched.
		ok, _ := store.Has(ctx, "t1")
		assert.False(t, ok)
		assert.Len(t, tq.ListPending(), 1)
	})

	t.Run("empty subset retries everything", func(t *testing.T) {
		q, tq, store := newTestQueue(t)
		require.NoError(t, q.Add(ctx, failedTask("a", task.StageDownload), task.ErrorFatal, "x"))
		require.NoError(t, q.Add(ctx, failedTask("b", task.StageSummarize), task.ErrorTransient, "y"))

		results, err := q.RetryAll(ctx, nil)
		require.NoError(t, err)
		assert.Len(t, results, 2)
		for _, r := range results {
			assert.NoError(t, r.Err)
		}

		n, _ := store.Count(ctx)
		assert.Equal(t, 0, n)
		assert.Len(t, tq.ListPending(), 2)
	})
}

func TestQueue_Skip(t *testing.T) {
	ctx := context.Background()
	q, tq, store := newTestQueue(t)
	require.NoError(t, q.Add(ctx, failedTask("a", task.StageClean), task.ErrorFatal, "boom"))

	require.NoError(t, q.Skip(ctx, "a"))

	// Removed without re-processing.
	ok, err := store.Has(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, tq.ListPending())

	assert.ErrorIs(t, q.Skip(ctx, "a"), task.ErrNotFound)
}

func TestQueue_EnqueueBlockedByDeadLetterMembership(t *testing.T) {
	ctx := context.Background()
	q, tq, _ := newTestQueue(t)
	require.NoError(t, q.Add(ctx, failedTask("a", task.StageDownload), task.ErrorFatal, "boom"))

	// A task_id in the dead letter queue cannot re-enter the task queue
	// except through an operator retry.
	fresh := failedTask("a", task.StageDownload)
	fresh.CompletedAt = nil
	assert.ErrorIs(t, tq.Enqueue(ctx, fresh), task.ErrDuplicateTask)
}

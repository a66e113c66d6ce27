package dlq

import (
	"context"
	"time"

	"podqueued/task"
)

// Entry is the terminal-failure projection of a queued task awaiting
// operator action.
type Entry struct {
	TaskID       string         `json:"task_id"`
	EpisodeID    string         `json:"episode_id"`
	PodcastSlug  string         `json:"podcast_slug"`
	EpisodeSlug  string         `json:"episode_slug"`
	EpisodeTitle string         `json:"episode_title"`
	PodcastTitle string         `json:"podcast_title"`
	Stage        task.Stage     `json:"stage"`
	ErrorType    task.ErrorType `json:"error_type"`
	ErrorMessage string         `json:"error_message"`
	CompletedAt  time.Time      `json:"completed_at"`
	RetryCount   int            `json:"retry_count"`
	MaxRetries   int            `json:"max_retries"`
}

// Store persists dead letter entries. The redis implementation survives
// restarts; the memory implementation backs tests and redis-less deployments.
type Store interface {
	// Add stores an entry, failing with task.ErrDuplicateTask if the
	// task_id is already present.
	Add(ctx context.Context, e *Entry) error
	// Remove deletes and returns an entry, failing with task.ErrNotFound
	// if absent.
	Remove(ctx context.Context, taskID string) (*Entry, error)
	// Has reports whether a task_id is present.
	Has(ctx context.Context, taskID string) (bool, error)
	// List returns all entries ordered by failure time, oldest first.
	List(ctx context.Context) ([]*Entry, error)
	// Count returns the number of entries.
	Count(ctx context.Context) (int, error)
}

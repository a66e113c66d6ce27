package task

import (
	"fmt"
	"time"

	"github.com/lithammer/shortuuid/v4"
)

// Stage is one step of the fixed episode pipeline. A task moves through
// stages in order and never regresses, except when an operator retries it
// from the dead letter queue at the stage it failed in.
type Stage string

const (
	StageDownload   Stage = "download"
	StageDownsample Stage = "downsample"
	StageTranscribe Stage = "transcribe"
	StageClean      Stage = "clean"
	StageSummarize  Stage = "summarize"
)

var stageOrder = []Stage{
	StageDownload,
	StageDownsample,
	StageTranscribe,
	StageClean,
	StageSummarize,
}

// Stages returns the pipeline stages in execution order.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// Next returns the stage following s, or false if s is the final stage.
func (s Stage) Next() (Stage, bool) {
	for i, st := range stageOrder {
		if st == s && i+1 < len(stageOrder) {
			return stageOrder[i+1], true
		}
	}
	return "", false
}

// Valid reports whether s is a known pipeline stage.
func (s Stage) Valid() bool {
	for _, st := range stageOrder {
		if st == s {
			return true
		}
	}
	return false
}

// ParseStage converts a raw string into a Stage.
func ParseStage(raw string) (Stage, error) {
	s := Stage(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown pipeline stage: %q", raw)
	}
	return s, nil
}

type Status string

const (
	StatusPending        Status = "pending"
	StatusProcessing     Status = "processing"
	StatusRetryScheduled Status = "retry_scheduled"
	StatusCompleted      Status = "completed"
)

// ErrorType classifies a terminal failure placed in the dead letter queue.
// Transient means retries were exhausted; fatal means the failure was judged
// unretryable up front.
type ErrorType string

const (
	ErrorTransient ErrorType = "transient"
	ErrorFatal     ErrorType = "fatal"
)

// Task is a queued unit of episode processing work.
type Task struct {
	ID           string     `json:"task_id"`
	EpisodeID    string     `json:"episode_id"`
	PodcastSlug  string     `json:"podcast_slug"`
	EpisodeSlug  string     `json:"episode_slug"`
	EpisodeTitle string     `json:"episode_title"`
	PodcastTitle string     `json:"podcast_title"`
	Stage        Stage      `json:"stage"`
	Status       Status     `json:"status"`
	RetryCount   int        `json:"retry_count"`
	MaxRetries   int        `json:"max_retries"`
	EnqueuedAt   time.Time  `json:"enqueued_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	NextRetryAt  *time.Time `json:"next_retry_at,omitempty"`
}

// Episode carries the identity fields of an episode entering the pipeline.
type Episode struct {
	EpisodeID    string
	PodcastSlug  string
	EpisodeSlug  string
	EpisodeTitle string
	PodcastTitle string
}

// New creates a pending task for an episode at the given stage.
func New(ep Episode, stage Stage, maxRetries int) *Task {
	return &Task{
		ID:           fmt.Sprintf("%s_%d", shortuuid.New(), time.Now().Unix()),
		EpisodeID:    ep.EpisodeID,
		PodcastSlug:  ep.PodcastSlug,
		EpisodeSlug:  ep.EpisodeSlug,
		EpisodeTitle: ep.EpisodeTitle,
		PodcastTitle: ep.PodcastTitle,
		Stage:        stage,
		Status:       StatusPending,
		MaxRetries:   maxRetries,
		EnqueuedAt:   time.Now(),
	}
}

// Clone returns a deep copy of the task. Snapshots returned by the queue are
// clones so callers never share memory with queue-owned state.
func (t *Task) Clone() *Task {
	c := *t
	if t.StartedAt != nil {
		v := *t.StartedAt
		c.StartedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		c.CompletedAt = &v
	}
	if t.NextRetryAt != nil {
		v := *t.NextRetryAt
		c.NextRetryAt = &v
	}
	return &c
}

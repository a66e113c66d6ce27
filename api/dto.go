package api

import "podqueued/task"

// QueueState is the queue snapshot returned by GET /queue. Field names and
// shapes are the wire contract consumed by the dashboard.
type QueueState struct {
	WorkerRunning       bool         `json:"worker_running"`
	ProcessingTask      *task.Task   `json:"processing_task"`
	PendingTasks        []*task.Task `json:"pending_tasks"`
	RetryScheduledTasks []*task.Task `json:"retry_scheduled_tasks"`
	CompletedTasks      []*task.Task `json:"completed_tasks"`
	PendingCount        int          `json:"pending_count"`
	ProcessingCount     int          `json:"processing_count"`
	RetryScheduledCount int          `json:"retry_scheduled_count"`
	CompletedShown      int          `json:"completed_shown"`
}

// EnqueueRequest creates a task for an episode entering the pipeline.
type EnqueueRequest struct {
	EpisodeID    string `json:"episode_id" binding:"required"`
	PodcastSlug  string `json:"podcast_slug" binding:"required"`
	EpisodeSlug  string `json:"episode_slug" binding:"required"`
	EpisodeTitle string `json:"episode_title"`
	PodcastTitle string `json:"podcast_title"`
	Stage        string `json:"stage"`
}

// RetryAllRequest optionally narrows retry-all to a subset of task ids.
type RetryAllRequest struct {
	TaskIDs []string `json:"task_ids"`
}

// RetryAllResult is the per-task outcome of a retry-all batch.
type RetryAllResult struct {
	TaskID string `json:"task_id"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"podqueued/config"
	"podqueued/dlq"
	"podqueued/task"
)

type Handler struct {
	queue     *task.Queue
	scheduler *task.Scheduler
	dlq       *dlq.Queue
	cfg       *config.Config
}

func NewHandler(q *task.Queue, s *task.Scheduler, d *dlq.Queue, cfg *config.Config) *Handler {
	return &Handler{
		queue:     q,
		scheduler: s,
		dlq:       d,
		cfg:       cfg,
	}
}

// statusFor maps queue taxonomy errors onto HTTP statuses. Structural errors
// change no state and are reported synchronously.
func statusFor(err error) int {
	switch {
	case errors.Is(err, task.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, task.ErrDuplicateTask),
		errors.Is(err, task.ErrNotPending),
		errors.Is(err, task.ErrNotCancellable):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// handleQueueState returns the full queue snapshot.
func (h *Handler) handleQueueState(c *gin.Context) {
	pending := h.queue.ListPending()
	retrySched := h.queue.ListRetryScheduled()
	completed := h.queue.ListCompleted(h.cfg.CompletedShown)
	processing := h.queue.Processing()

	processingCount := 0
	if processing != nil {
		processingCount = 1
	}
	if pending == nil {
		pending = []*task.Task{}
	}
	if retrySched == nil {
		retrySched = []*task.Task{}
	}
	if completed == nil {
		completed = []*task.Task{}
	}

	c.JSON(http.StatusOK, QueueState{
		WorkerRunning:       h.scheduler.Running(),
		ProcessingTask:      processing,
		PendingTasks:        pending,
		RetryScheduledTasks: retrySched,
		CompletedTasks:      completed,
		PendingCount:        len(pending),
		ProcessingCount:     processingCount,
		RetryScheduledCount: len(retrySched),
		CompletedShown:      len(completed),
	})
}

// handleEnqueue creates a task for a discovered episode.
func (h *Handler) handleEnqueue(c *gin.Context) {
	var req EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	stage := task.StageDownload
	if req.Stage != "" {
		parsed, err := task.ParseStage(req.Stage)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		stage = parsed
	}

	t := task.New(task.Episode{
		EpisodeID:    req.EpisodeID,
		PodcastSlug:  req.PodcastSlug,
		EpisodeSlug:  req.EpisodeSlug,
		EpisodeTitle: req.EpisodeTitle,
		PodcastTitle: req.PodcastTitle,
	}, stage, h.cfg.MaxRetries)

	if err := h.queue.Enqueue(c.Request.Context(), t); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": t.ID})
}

// handleBump moves a pending task to the front of the pending order.
func (h *Handler) handleBump(c *gin.Context) {
	if err := h.queue.Bump(c.Param("taskId")); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Task bumped to front of queue"})
}

// handleCancel removes a pending or retry-scheduled task.
func (h *Handler) handleCancel(c *gin.Context) {
	if err := h.queue.Cancel(c.Param("taskId")); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Task cancelled"})
}

// handleWorkerStart resumes task execution.
func (h *Handler) handleWorkerStart(c *gin.Context) {
	h.scheduler.Start()
	c.JSON(http.StatusOK, gin.H{"worker_running": true})
}

// handleWorkerStop pauses task execution. Retry timers keep firing into
// pending; nothing is dequeued until the worker restarts.
func (h *Handler) handleWorkerStop(c *gin.Context) {
	h.scheduler.Stop()
	c.JSON(http.StatusOK, gin.H{"worker_running": false})
}

// handleDLQList lists all dead letter entries.
func (h *Handler) handleDLQList(c *gin.Context) {
	entries, err := h.dlq.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if entries == nil {
		entries = []*dlq.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"tasks": entries})
}

// handleDLQRetry re-enqueues a dead letter entry at the stage it failed in.
func (h *Handler) handleDLQRetry(c *gin.Context) {
	if err := h.dlq.Retry(c.Request.Context(), c.Param("taskId")); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Task re-enqueued"})
}

// handleDLQSkip marks a dead letter entry resolved without re-processing.
func (h *Handler) handleDLQSkip(c *gin.Context) {
	if err := h.dlq.Skip(c.Request.Context(), c.Param("taskId")); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Task skipped"})
}

// handleDLQRetryAll retries every entry, or the subset named in the body.
// Per-task failures are reported, never fatal to the batch.
func (h *Handler) handleDLQRetryAll(c *gin.Context) {
	// An empty body means retry everything. Chunked requests carry no
	// Content-Length, so bind whenever a body is present and treat EOF as
	// empty.
	var req RetryAllRequest
	if c.Request.Body != nil {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	results, err := h.dlq.RetryAll(c.Request.Context(), req.TaskIDs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]RetryAllResult, 0, len(results))
	for _, r := range results {
		res := RetryAllResult{TaskID: r.TaskID, OK: r.Err == nil}
		if r.Err != nil {
			res.Error = r.Err.Error()
		}
		out = append(out, res)
	}
	c.JSON(http.StatusOK, gin.H{"results": out})
}

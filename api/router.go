package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"podqueued/config"
	"podqueued/dlq"
	"podqueued/task"
)

func SetupRouter(q *task.Queue, s *task.Scheduler, d *dlq.Queue, cfg *config.Config) *gin.Engine {
	r := gin.Default()
	h := NewHandler(q, s, d, cfg)

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(cfg))
	{
		v1.GET("/queue", h.handleQueueState)
		v1.POST("/queue/tasks", h.handleEnqueue)
		v1.POST("/queue/tasks/:taskId/bump", h.handleBump)
		v1.DELETE("/queue/tasks/:taskId", h.handleCancel)

		v1.POST("/worker/start", h.handleWorkerStart)
		v1.POST("/worker/stop", h.handleWorkerStop)

		v1.GET("/dlq", h.handleDLQList)
		v1.POST("/dlq/retry-all", h.handleDLQRetryAll)
		v1.POST("/dlq/:taskId/retry", h.handleDLQRetry)
		v1.POST("/dlq/:taskId/skip", h.handleDLQSkip)
	}
	return r
}

package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"bookshelf-service/internal/queue"
	"bookshelf-service/pkg/logger"
)

const (
	sandboxURL     = "https://catfact.ninja/fact"
	sandboxJobs    = 18
	maxThroughputN = 10000
)

// Enqueuer is the producer side of the job queue
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, payload any) (string, error)
	EnqueueMany(ctx context.Context, name string, payloads []any) ([]string, error)
	Result(ctx context.Context, id string) (*queue.Result, error)
}

type QueueHandler struct {
	queue Enqueuer
	scope ContextResolver
}

// NewQueueHandler creates the queue routes. scope resolves the tenant a
// seed job writes into.
func NewQueueHandler(q Enqueuer, scope ContextResolver) *QueueHandler {
	return &QueueHandler{queue: q, scope: scope}
}

type seedBooksRequest struct {
	Count int `json:"count" validate:"required,min=1,max=10000"`
}

// SeedBooks queues a bulk insert of placeholder books into the caller's tenant
func (h *QueueHandler) SeedBooks(c echo.Context) error {
	var req seedBooksRequest
	if err := bindOne(c, &req); err != nil {
		return RespondError(c, err)
	}
	sc, err := h.scope(c)
	if err != nil {
		return RespondError(c, err)
	}

	id, err := h.queue.Enqueue(c.Request().Context(), queue.JobSeedBooks, queue.SeedBooksPayload{
		SchemaName: sc.SchemaName(),
		Count:      req.Count,
	})
	if err != nil {
		return RespondError(c, err)
	}
	logger.FromContext(c).Info("Seed job enqueued", zap.String("job_id", id), zap.Int("count", req.Count))
	return c.JSON(http.StatusAccepted, echo.Map{"message": "Seed job enqueued.", "job_id": id})
}

// JobResult returns a finished job's result
func (h *QueueHandler) JobResult(c echo.Context) error {
	id := c.Param("id")
	res, err := h.queue.Result(c.Request().Context(), id)
	if err != nil {
		return RespondError(c, err)
	}
	if res == nil {
		return RespondError(c, fmt.Errorf("job %s: %w", id, ErrNotFound))
	}
	return c.JSON(http.StatusOK, res)
}

// Sandbox queues a batch of download_content jobs
func (h *QueueHandler) Sandbox(c echo.Context) error {
	payloads := make([]any, sandboxJobs)
	for i := range payloads {
		payloads[i] = queue.DownloadContentPayload{URL: sandboxURL}
	}
	ids, err := h.queue.EnqueueMany(c.Request().Context(), queue.JobDownloadContent, payloads)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Sandbox tasks enqueued.", "job_ids": ids})
}

// Throughput queues n no-op jobs to load the workers
func (h *QueueHandler) Throughput(c echo.Context) error {
	n := 1000
	if v := c.QueryParam("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > maxThroughputN {
			return RespondError(c, invalid("n must be between 1 and %d", maxThroughputN))
		}
		n = parsed
	}
	ids, err := h.queue.EnqueueMany(c.Request().Context(), queue.JobNoOp, make([]any, n))
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Sandbox tasks enqueued.", "count": len(ids)})
}

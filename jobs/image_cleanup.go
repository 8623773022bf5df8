package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/karoseri/quotedesk/internal/attachments"
)

// OrphanCleaner deletes unreferenced offer images.
type OrphanCleaner interface {
	CleanupOrphans(ctx context.Context, refs []string) (attachments.CleanupResult, error)
}

// ImageCleanupJob handles TaskImageCleanup. A failed run is retried by asynq.
type ImageCleanupJob struct {
	Cleaner OrphanCleaner
	Logger  *slog.Logger
}

// Handle processes TaskImageCleanup tasks.
func (j *ImageCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload ImageCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	res, err := j.Cleaner.CleanupOrphans(ctx, payload.Refs)
	if err != nil {
		return err
	}
	if j.Logger != nil {
		j.Logger.Info("image cleanup retry", slog.Int("deleted", res.DeletedCount), slog.Int("kept", res.KeptCount))
	}
	return nil
}

// TaskEnqueuer is the subset of asynq.Client used to schedule retries.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// DeferredCleaner runs cleanup inline and hands failed runs to the worker.
type DeferredCleaner struct {
	inline OrphanCleaner
	queue  TaskEnqueuer
	logger *slog.Logger
}

// NewDeferredCleaner constructs a DeferredCleaner.
func NewDeferredCleaner(inline OrphanCleaner, queue TaskEnqueuer, logger *slog.Logger) *DeferredCleaner {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeferredCleaner{inline: inline, queue: queue, logger: logger}
}

// CleanupOrphans deletes what it can now. On failure the whole ref set is
// queued again; object deletes are idempotent.
func (c *DeferredCleaner) CleanupOrphans(ctx context.Context, refs []string) (attachments.CleanupResult, error) {
	res, err := c.inline.CleanupOrphans(ctx, refs)
	if err == nil || c.queue == nil {
		return res, err
	}
	task, terr := NewImageCleanupTask(attachments.Dedupe(refs))
	if terr != nil {
		return res, err
	}
	if _, qerr := c.queue.EnqueueContext(context.WithoutCancel(ctx), task,
		asynq.Queue(QueueDefault), asynq.MaxRetry(10), asynq.ProcessIn(time.Minute)); qerr != nil {
		c.logger.Warn("queue image cleanup retry", slog.Any("error", qerr))
		return res, err
	}
	return res, fmt.Errorf("%w (retry queued)", err)
}

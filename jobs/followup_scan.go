package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/karoseri/quotedesk/internal/jobs"
	"github.com/karoseri/quotedesk/internal/quotation"
)

const defaultScanLimit = 500

// StaleQuotations lists open quotations overdue for follow-up.
type StaleQuotations interface {
	Stale(ctx context.Context, limit int) ([]quotation.Header, error)
}

// Notifier queues reminders.
type Notifier interface {
	Notify(ctx context.Context, userID int64, title, description, link string) error
}

// FollowUpScanJob reminds creators of quotations whose follow-up status is danger.
type FollowUpScanJob struct {
	Quotations StaleQuotations
	Notifier   Notifier
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// NewFollowUpScanJob wires dependencies for the scan handler.
func NewFollowUpScanJob(quotations StaleQuotations, notifier Notifier, logger *slog.Logger, metrics *jobmetrics.Metrics) *FollowUpScanJob {
	return &FollowUpScanJob{Quotations: quotations, Notifier: notifier, Logger: logger, Metrics: metrics}
}

// Handle processes TaskFollowUpScan tasks.
func (j *FollowUpScanJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Quotations == nil {
		return errors.New("follow-up scan: handler not configured")
	}
	var payload FollowUpScanPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.Limit <= 0 {
		payload.Limit = defaultScanLimit
	}

	tracker := j.Metrics.Track(TaskFollowUpScan)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	stale, err := j.Quotations.Stale(ctx, payload.Limit)
	if err != nil {
		logger.Error("list stale quotations", slog.Any("error", err))
		return err
	}

	sent := 0
	for _, h := range stale {
		if h.FollowUp.Level != quotation.FollowUpDanger {
			continue
		}
		if err := j.remind(ctx, h); err != nil {
			logger.Warn("queue follow-up reminder",
				slog.String("quotation_number", h.Number),
				slog.Any("error", err))
			continue
		}
		sent++
	}
	j.Metrics.AddReminders(sent)
	logger.Info("follow-up scan complete", slog.Int("stale", len(stale)), slog.Int("reminded", sent))
	return nil
}

func (j *FollowUpScanJob) remind(ctx context.Context, h quotation.Header) error {
	if j.Notifier == nil {
		return nil
	}
	desc := fmt.Sprintf("%s for %s has never been followed up", h.Number, h.CustomerName)
	if h.FollowUp.DaysSince != nil {
		desc = fmt.Sprintf("%s for %s was last followed up %d days ago", h.Number, h.CustomerName, *h.FollowUp.DaysSince)
	}
	return j.Notifier.Notify(ctx, h.CreatorID, "Quotation needs follow-up", desc,
		"/quotations/"+strconv.FormatInt(h.ID, 10))
}

func (j *FollowUpScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskFollowUpScan))
	}
	return slog.Default().With(slog.String("job", TaskFollowUpScan))
}

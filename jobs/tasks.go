package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
	// TaskFollowUpScan reminds creators of quotations that need follow-up.
	TaskFollowUpScan = "quotation:followup_scan"
	// TaskImageCleanup retries orphan image deletion that failed inline.
	TaskImageCleanup = "attachments:cleanup"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data), nil
}

// FollowUpScanPayload bounds one scan run.
type FollowUpScanPayload struct {
	Limit int `json:"limit"`
}

// NewFollowUpScanTask constructs the cron task for the follow-up scan.
func NewFollowUpScanTask(limit int) (*asynq.Task, error) {
	data, err := json.Marshal(FollowUpScanPayload{Limit: limit})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskFollowUpScan, data), nil
}

// ImageCleanupPayload lists object references to re-check.
type ImageCleanupPayload struct {
	Refs []string `json:"refs"`
}

// NewImageCleanupTask constructs a cleanup retry task.
func NewImageCleanupTask(refs []string) (*asynq.Task, error) {
	data, err := json.Marshal(ImageCleanupPayload{Refs: refs})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskImageCleanup, data), nil
}

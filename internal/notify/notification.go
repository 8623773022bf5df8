// Package notify queues in-app notifications and delivers them from the worker.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// TaskDeliver is the asynq task type carrying one notification.
const TaskDeliver = "notification:deliver"

// Notification is one message addressed to a user.
type Notification struct {
	ID          string     `json:"id"`
	UserID      int64      `json:"user_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Link        string     `json:"link,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
}

// Enqueuer is the subset of asynq.Client used for fire-and-forget delivery.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Queue implements the notifier port of the domain services. Notify only
// enqueues; persistence and fan-out happen in the worker.
type Queue struct {
	client Enqueuer
	queue  string
	now    func() time.Time
}

// NewQueue constructs a Queue publishing onto the named asynq queue.
func NewQueue(client Enqueuer, queue string) *Queue {
	if queue == "" {
		queue = "default"
	}
	return &Queue{client: client, queue: queue, now: func() time.Time { return time.Now().UTC() }}
}

// Notify enqueues a notification for userID.
func (q *Queue) Notify(ctx context.Context, userID int64, title, description, link string) error {
	if userID <= 0 {
		return fmt.Errorf("notify: invalid user %d", userID)
	}
	n := Notification{
		ID:          uuid.NewString(),
		UserID:      userID,
		Title:       strings.TrimSpace(title),
		Description: strings.TrimSpace(description),
		Link:        link,
		CreatedAt:   q.now(),
	}
	task, err := NewDeliverTask(n)
	if err != nil {
		return err
	}
	_, err = q.client.EnqueueContext(ctx, task, asynq.Queue(q.queue), asynq.MaxRetry(5), asynq.TaskID(n.ID))
	return err
}

// NewDeliverTask wraps n in an asynq task.
func NewDeliverTask(n Notification) (*asynq.Task, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDeliver, data), nil
}

// DecodeDeliverTask reads the notification carried by t.
func DecodeDeliverTask(t *asynq.Task) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(t.Payload(), &n); err != nil {
		return Notification{}, err
	}
	if n.UserID <= 0 || n.ID == "" {
		return Notification{}, fmt.Errorf("notify: malformed payload")
	}
	return n, nil
}

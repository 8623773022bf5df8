package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/karoseri/quotedesk/internal/users"
)

// Store persists notifications.
type Store interface {
	Insert(ctx context.Context, n Notification) error
}

// Publisher pushes notifications to connected clients.
type Publisher interface {
	Publish(ctx context.Context, n Notification) error
}

// UserDirectory resolves email addressing.
type UserDirectory interface {
	GetUser(ctx context.Context, id int64) (users.User, error)
}

// Email is one outgoing message.
type Email struct {
	To      string
	Subject string
	Body    string
}

// Mailer queues outgoing email.
type Mailer interface {
	SendEmail(ctx context.Context, mail Email) error
}

// Deliverer handles TaskDeliver in the worker.
type Deliverer struct {
	store     Store
	publisher Publisher
	users     UserDirectory
	mailer    Mailer
	logger    *slog.Logger
}

// NewDeliverer constructs a Deliverer. publisher and mailer are optional.
func NewDeliverer(store Store, publisher Publisher, directory UserDirectory, mailer Mailer, logger *slog.Logger) *Deliverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deliverer{store: store, publisher: publisher, users: directory, mailer: mailer, logger: logger}
}

// Handle is the asynq handler for TaskDeliver.
func (d *Deliverer) Handle(ctx context.Context, t *asynq.Task) error {
	n, err := DecodeDeliverTask(t)
	if err != nil {
		d.logger.Error("decode notification", slog.Any("error", err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return d.Deliver(ctx, n)
}

// Deliver persists n and fans it out. Only the insert is retried; push and
// email failures are logged.
func (d *Deliverer) Deliver(ctx context.Context, n Notification) error {
	if err := d.store.Insert(ctx, n); err != nil {
		return fmt.Errorf("store notification %s: %w", n.ID, err)
	}
	logger := d.logger.With(slog.String("notification_id", n.ID), slog.Int64("user_id", n.UserID))

	if d.publisher != nil {
		if err := d.publisher.Publish(ctx, n); err != nil {
			logger.Warn("push notification", slog.Any("error", err))
		}
	}
	if d.mailer == nil || d.users == nil {
		return nil
	}
	user, err := d.users.GetUser(ctx, n.UserID)
	if err != nil {
		logger.Warn("resolve notification recipient", slog.Any("error", err))
		return nil
	}
	if user.Email == "" {
		return nil
	}
	body := fmt.Sprintf("Hi %s,\n\n%s\n", user.FullName, n.Description)
	if n.Link != "" {
		body += "\n" + n.Link + "\n"
	}
	if err := d.mailer.SendEmail(ctx, Email{To: user.Email, Subject: n.Title, Body: body}); err != nil {
		logger.Warn("queue notification email", slog.Any("error", err))
	}
	return nil
}

package notify

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// PushPublisher publishes delivered notifications on per-user Redis channels
// that the realtime gateway subscribes to.
type PushPublisher struct {
	client redis.UniversalClient
}

// NewPushPublisher constructs a PushPublisher.
func NewPushPublisher(client redis.UniversalClient) *PushPublisher {
	return &PushPublisher{client: client}
}

// Channel names the channel of one user.
func Channel(userID int64) string {
	return "notifications:" + strconv.FormatInt(userID, 10)
}

// Publish sends n to its user's channel.
func (p *PushPublisher) Publish(ctx context.Context, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, Channel(n.UserID), data).Err()
}

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karoseri/quotedesk/internal/shared"
	"github.com/karoseri/quotedesk/internal/users"
)

type recordingEnqueuer struct {
	tasks []*asynq.Task
}

func (e *recordingEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	e.tasks = append(e.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func TestQueueEnqueuesDeliverTask(t *testing.T) {
	enq := &recordingEnqueuer{}
	q := NewQueue(enq, "")
	fixed := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return fixed }

	require.NoError(t, q.Notify(context.Background(), 10, " RFQ approved ", "001/RFQ/KAR/V/2024 was approved", "/rfqs/1"))
	require.Len(t, enq.tasks, 1)
	assert.Equal(t, TaskDeliver, enq.tasks[0].Type())

	n, err := DecodeDeliverTask(enq.tasks[0])
	require.NoError(t, err)
	assert.Equal(t, int64(10), n.UserID)
	assert.Equal(t, "RFQ approved", n.Title)
	assert.Equal(t, fixed, n.CreatedAt)
	assert.NotEmpty(t, n.ID)

	assert.Error(t, q.Notify(context.Background(), 0, "x", "y", ""))
}

func TestDecodeRejectsMalformedPayload(t *testing.T) {
	_, err := DecodeDeliverTask(asynq.NewTask(TaskDeliver, []byte(`{"user_id":0}`)))
	assert.Error(t, err)
}

func TestPushPublisherUsesUserChannel(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	sub := client.Subscribe(ctx, Channel(42))
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	pub := NewPushPublisher(client)
	require.NoError(t, pub.Publish(ctx, Notification{ID: "n-1", UserID: 42, Title: "Follow up"}))

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, "notifications:42", msg.Channel)
		var got Notification
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, "n-1", got.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
	}
}

type memoryStore struct {
	rows map[string]Notification
	err  error
}

func (s *memoryStore) Insert(_ context.Context, n Notification) error {
	if s.err != nil {
		return s.err
	}
	s.rows[n.ID] = n
	return nil
}

type failingPublisher struct{ calls int }

func (p *failingPublisher) Publish(context.Context, Notification) error {
	p.calls++
	return errors.New("redis down")
}

type directory map[int64]users.User

func (d directory) GetUser(_ context.Context, id int64) (users.User, error) {
	u, ok := d[id]
	if !ok {
		return users.User{}, shared.NotFoundf("user %d", id)
	}
	return u, nil
}

type outbox struct{ sent []Email }

func (o *outbox) SendEmail(_ context.Context, mail Email) error {
	o.sent = append(o.sent, mail)
	return nil
}

func TestDelivererPersistsAndEmails(t *testing.T) {
	store := &memoryStore{rows: map[string]Notification{}}
	pub := &failingPublisher{}
	mail := &outbox{}
	d := NewDeliverer(store, pub, directory{10: {ID: 10, FullName: "Sari", Email: "sari@example.com"}}, mail, nil)

	n := Notification{ID: "n-1", UserID: 10, Title: "RFQ approved", Description: "approved", Link: "/rfqs/1"}
	task, err := NewDeliverTask(n)
	require.NoError(t, err)
	require.NoError(t, d.Handle(context.Background(), task))

	assert.Contains(t, store.rows, "n-1")
	assert.Equal(t, 1, pub.calls)
	require.Len(t, mail.sent, 1)
	assert.Equal(t, "sari@example.com", mail.sent[0].To)
	assert.Contains(t, mail.sent[0].Body, "/rfqs/1")
}

func TestDelivererSkipsEmailForUnknownUser(t *testing.T) {
	store := &memoryStore{rows: map[string]Notification{}}
	mail := &outbox{}
	d := NewDeliverer(store, nil, directory{}, mail, nil)

	require.NoError(t, d.Deliver(context.Background(), Notification{ID: "n-2", UserID: 99}))
	assert.Empty(t, mail.sent)
}

func TestDelivererRetriesStoreFailure(t *testing.T) {
	d := NewDeliverer(&memoryStore{err: errors.New("conn refused")}, nil, nil, nil, nil)
	err := d.Deliver(context.Background(), Notification{ID: "n-3", UserID: 1})
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)

	task := asynq.NewTask(TaskDeliver, []byte(`not json`))
	assert.ErrorIs(t, d.Handle(context.Background(), task), asynq.SkipRetry)
}

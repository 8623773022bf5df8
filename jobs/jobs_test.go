package jobs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karoseri/quotedesk/internal/attachments"
	jobmetrics "github.com/karoseri/quotedesk/internal/jobs"
	"github.com/karoseri/quotedesk/internal/quotation"
)

type staleList struct {
	rows []quotation.Header
	err  error
}

func (s staleList) Stale(context.Context, int) ([]quotation.Header, error) {
	return s.rows, s.err
}

type reminder struct {
	userID int64
	desc   string
}

type notifier struct{ sent []reminder }

func (n *notifier) Notify(_ context.Context, userID int64, _, description, _ string) error {
	n.sent = append(n.sent, reminder{userID: userID, desc: description})
	return nil
}

func days(n int) *int { return &n }

func TestFollowUpScanRemindsDangerOnly(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	rows := []quotation.Header{
		{ID: 1, Number: "001/QUO/KAR/V/2024", CreatorID: 30, CustomerName: "PT A",
			FollowUp: quotation.FollowUpStatus{Level: quotation.FollowUpDanger, Label: "Overdue", DaysSince: days(9)}},
		{ID: 2, Number: "002/QUO/KAR/V/2024", CreatorID: 31, CustomerName: "PT B",
			FollowUp: quotation.FollowUpStatus{Level: quotation.FollowUpDanger, Label: "Never Followed Up"}},
		{ID: 3, Number: "003/QUO/KAR/V/2024", CreatorID: 32,
			FollowUp: quotation.FollowUpStatus{Level: quotation.FollowUpWarning, DaysSince: days(5)}},
	}
	n := &notifier{}
	job := NewFollowUpScanJob(staleList{rows: rows}, n, nil, metrics)

	task, err := NewFollowUpScanTask(100)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	require.Len(t, n.sent, 2)
	assert.Equal(t, int64(30), n.sent[0].userID)
	assert.Contains(t, n.sent[0].desc, "9 days ago")
	assert.Contains(t, n.sent[1].desc, "never been followed up")

	count, err := testutil.GatherAndCount(reg, "quotedesk_followup_reminders_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestFollowUpScanCountsFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	job := NewFollowUpScanJob(staleList{err: errors.New("db down")}, &notifier{}, nil, metrics)

	err := job.Handle(context.Background(), asynq.NewTask(TaskFollowUpScan, nil))
	require.Error(t, err)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "quotedesk_jobs_failures_total" {
			found = true
			assert.Equal(t, 1.0, mf.GetMetric()[0].GetCounter().GetValue())
		}
	}
	assert.True(t, found)
}

type flakyCleaner struct {
	calls int
	err   error
}

func (c *flakyCleaner) CleanupOrphans(_ context.Context, refs []string) (attachments.CleanupResult, error) {
	c.calls++
	return attachments.CleanupResult{DeletedCount: len(refs) - 1}, c.err
}

type taskRecorder struct {
	tasks []*asynq.Task
}

func (r *taskRecorder) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	r.tasks = append(r.tasks, task)
	return &asynq.TaskInfo{}, nil
}

func TestDeferredCleanerQueuesRetryOnFailure(t *testing.T) {
	inline := &flakyCleaner{err: errors.New("s3 timeout")}
	queue := &taskRecorder{}
	c := NewDeferredCleaner(inline, queue, nil)

	res, err := c.CleanupOrphans(context.Background(), []string{"a.png", "b.png", "a.png"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry queued")
	assert.Equal(t, 2, res.DeletedCount)
	require.Len(t, queue.tasks, 1)
	assert.Equal(t, TaskImageCleanup, queue.tasks[0].Type())

	job := &ImageCleanupJob{Cleaner: &flakyCleaner{}}
	require.NoError(t, job.Handle(context.Background(), queue.tasks[0]))
}

func TestDeferredCleanerSkipsQueueOnSuccess(t *testing.T) {
	queue := &taskRecorder{}
	c := NewDeferredCleaner(&flakyCleaner{}, queue, nil)
	_, err := c.CleanupOrphans(context.Background(), []string{"a.png"})
	require.NoError(t, err)
	assert.Empty(t, queue.tasks)
}

func TestSMTPSenderBuildsMessage(t *testing.T) {
	var gotAddr string
	var gotMsg []byte
	s := NewSMTPSender("127.0.0.1", 1025, "quotedesk@example.com", nil)
	s.send = func(addr string, _ smtp.Auth, _ string, _ []string, msg []byte) error {
		gotAddr, gotMsg = addr, msg
		return nil
	}
	task, err := NewSendEmailTask(SendEmailPayload{To: "sari@example.com", Subject: "Hi", Body: "line1\nline2"})
	require.NoError(t, err)
	require.NoError(t, s.Handle(context.Background(), task))
	assert.Equal(t, "127.0.0.1:1025", gotAddr)
	assert.Contains(t, string(gotMsg), "Subject: Hi\r\n")
	assert.Contains(t, string(gotMsg), "line1\r\nline2")

	empty, err := NewSendEmailTask(SendEmailPayload{})
	require.NoError(t, err)
	assert.ErrorIs(t, s.Handle(context.Background(), empty), asynq.SkipRetry)
}

type fakeInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (f fakeInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return f.info, f.err }

func TestJobsHealth(t *testing.T) {
	h := NewHandler(fakeInspector{info: &asynq.QueueInfo{Queue: "default", Pending: 3, Timestamp: time.Now()}}, nil)
	rr := httptest.NewRecorder()
	h.health(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"queue":"default","pending":3}`, rr.Body.String())
}

package rfq

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karoseri/quotedesk/internal/access"
	"github.com/karoseri/quotedesk/internal/numbering"
	"github.com/karoseri/quotedesk/internal/shared"
)

type memoryRepo struct {
	mu     sync.Mutex
	rfqs   map[int64]RFQ
	items  map[int64]Item
	nextID int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{rfqs: make(map[int64]RFQ), items: make(map[int64]Item)}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return fn(ctx, m)
}

func (m *memoryRepo) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memoryRepo) Create(_ context.Context, r RFQ) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.rfqs {
		if existing.Number == r.Number {
			return 0, numbering.ErrNumberTaken
		}
	}
	r.ID = m.id()
	r.CreatedAt, r.UpdatedAt = r.SubmittedAt, r.SubmittedAt
	m.rfqs[r.ID] = r
	return r.ID, nil
}

func (m *memoryRepo) Get(_ context.Context, id int64) (*RFQ, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rfqs[id]
	if !ok {
		return nil, shared.NotFoundf("rfq %d", id)
	}
	r.IsApproved = approvedStatus(r.Status)
	r.Items = nil
	return &r, nil
}

func (m *memoryRepo) List(_ context.Context, f ListFilter) ([]RFQ, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RFQ
	for _, r := range m.rfqs {
		if !f.ViewAll {
			involved := r.RequesterID == f.ActorID ||
				(f.AsApprover && r.ApproverID == f.ActorID) ||
				(f.AsCreator && r.QuotationCreatorID == f.ActorID)
			if !involved {
				continue
			}
		}
		if f.Status != nil && r.Status != *f.Status {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (m *memoryRepo) UpdateHeader(_ context.Context, r RFQ) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.rfqs[r.ID]
	if cur.Status != StatusPending {
		return ErrStatusChanged
	}
	r.Items = nil
	m.rfqs[r.ID] = r
	return nil
}

func (m *memoryRepo) Decide(_ context.Context, id int64, d DecisionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rfqs[id]
	if r.Status != StatusPending {
		return ErrStatusChanged
	}
	r.Status = d.Status
	r.ApprovalDecision = d.Decision
	r.ApprovalNotes = d.Notes
	at := d.At
	if d.Status == StatusApproved {
		r.ApprovedAt = &at
	} else {
		r.RejectedAt = &at
	}
	m.rfqs[id] = r
	return nil
}

func (m *memoryRepo) MarkQuotationCreated(_ context.Context, id, quotationID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rfqs[id]
	if r.Status != StatusApproved || r.QuotationID != nil {
		return ErrStatusChanged
	}
	r.Status = StatusQuotationCreated
	r.QuotationID = &quotationID
	r.QuotationCreatedAt = &at
	m.rfqs[id] = r
	return nil
}

func (m *memoryRepo) ListItems(_ context.Context, rfqID int64) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Item
	for _, it := range m.items {
		if it.RFQID == rfqID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemNumber < out[j].ItemNumber })
	return out, nil
}

func (m *memoryRepo) GetItem(_ context.Context, itemID int64) (*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[itemID]
	if !ok {
		return nil, shared.NotFoundf("rfq item %d", itemID)
	}
	return &it, nil
}

func (m *memoryRepo) InsertItem(_ context.Context, it Item) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it.ID = m.id()
	m.items[it.ID] = it
	return it.ID, nil
}

func (m *memoryRepo) UpdateItem(_ context.Context, it Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[it.ID] = it
	return nil
}

func (m *memoryRepo) DeleteItem(_ context.Context, itemID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, itemID)
	return nil
}

func (m *memoryRepo) SetItemNumber(_ context.Context, itemID int64, number int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it := m.items[itemID]
	it.ItemNumber = number
	m.items[itemID] = it
	return nil
}

// numberStore exposes issued numbers to the real generator.
type numberStore struct{ repo *memoryRepo }

func (s numberStore) ListNumbers(_ context.Context, _ numbering.DocType, suffix string) ([]string, error) {
	s.repo.mu.Lock()
	defer s.repo.mu.Unlock()
	var out []string
	for _, r := range s.repo.rfqs {
		if strings.HasSuffix(r.Number, suffix) {
			out = append(out, r.Number)
		}
	}
	return out, nil
}

func (s numberStore) Exists(_ context.Context, _ numbering.DocType, number string) (bool, error) {
	s.repo.mu.Lock()
	defer s.repo.mu.Unlock()
	for _, r := range s.repo.rfqs {
		if r.Number == number {
			return true, nil
		}
	}
	return false, nil
}

type staticCaps map[int64][]string

func (c staticCaps) HasCapability(_ context.Context, userID int64, perm string) (bool, error) {
	for _, p := range c[userID] {
		if p == perm {
			return true, nil
		}
	}
	return false, nil
}

type sentNotification struct {
	userID int64
	title  string
}

type recordingNotifier struct {
	sent []sentNotification
}

func (n *recordingNotifier) Notify(_ context.Context, userID int64, title, _, _ string) error {
	n.sent = append(n.sent, sentNotification{userID: userID, title: title})
	return nil
}

type memoryApprovals struct {
	logs []shared.ApprovalLog
}

func (a *memoryApprovals) Record(_ context.Context, log shared.ApprovalLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func (a *memoryApprovals) List(_ context.Context, module, ref string) ([]shared.ApprovalLog, error) {
	var out []shared.ApprovalLog
	for _, l := range a.logs {
		if l.Module == module && l.RefID == ref {
			out = append(out, l)
		}
	}
	return out, nil
}

type memoryAudit struct {
	actions []string
}

func (a *memoryAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.actions = append(a.actions, log.Action)
	return nil
}

const (
	sales     = int64(10)
	manager   = int64(20)
	estimator = int64(30)
	stranger  = int64(40)
	director  = int64(50)
)

type fixture struct {
	svc       *Service
	caps      staticCaps
	repo      *memoryRepo
	notifier  *recordingNotifier
	approvals *memoryApprovals
	audit     *memoryAudit
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	repo := newMemoryRepo()
	gen := numbering.NewGenerator(numberStore{repo: repo}, numbering.Config{OrgCode: "KAR", Backoff: time.Millisecond}, nil, nil)
	caps := staticCaps{
		manager:   {shared.PermRFQApprove},
		estimator: {shared.PermQuotationCreate},
		director:  {shared.PermQuotationViewAll, shared.PermRFQApprove},
	}
	filter := access.NewFilter(caps)
	notifier := &recordingNotifier{}
	approvals := &memoryApprovals{}
	audit := &memoryAudit{}
	svc := NewService(repo, gen, filter, notifier, approvals, audit, nil)
	svc.now = func() time.Time { return time.Date(2026, time.October, 16, 9, 0, 0, 0, time.UTC) }
	return fixture{svc: svc, caps: caps, repo: repo, notifier: notifier, approvals: approvals, audit: audit}
}

func ptr[T any](v T) *T { return &v }

func validRequest() CreateRFQRequest {
	return CreateRFQRequest{
		ApproverID:         manager,
		QuotationCreatorID: estimator,
		CustomerName:       "PT Sinar Logistik",
		ContactPerson:      ContactPerson{Name: "Budi", Gender: "male"},
		ConfidenceRate:     ptr(70),
		DeliveryLocation:   "Surabaya",
		Competitor:         "CV Maju",
		CanMake:            ptr(true),
		ProjectOngoing:     ptr(false),
		Items: []ItemRequest{
			{Karoseri: "Box Besi", Chassis: "Hino 500", Price: ptr(100.0), PriceNet: ptr(90.0)},
			{Karoseri: "Wing Box", Chassis: "Fuso FN62", Price: ptr(200.0), PriceNet: ptr(180.0)},
		},
	}
}

func TestCreateAssignsNumberAndItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, sales, validRequest())
	require.NoError(t, err)
	assert.Equal(t, "1/RFQ/KAR/X/2026", created.Number)
	assert.Equal(t, StatusPending, created.Status)
	assert.False(t, created.IsApproved)
	assert.Equal(t, sales, created.RequesterID)
	assert.Equal(t, PriorityMedium, created.Priority)
	require.Len(t, created.Items, 2)
	assert.Equal(t, 1, created.Items[0].ItemNumber)
	assert.Equal(t, 2, created.Items[1].ItemNumber)

	second, err := f.svc.Create(ctx, sales, validRequest())
	require.NoError(t, err)
	assert.Equal(t, "2/RFQ/KAR/X/2026", second.Number)

	require.NotEmpty(t, f.notifier.sent)
	assert.Equal(t, manager, f.notifier.sent[0].userID)
	require.NotEmpty(t, f.approvals.logs)
	assert.Equal(t, shared.ApprovalSubmit, f.approvals.logs[0].Action)
	assert.Contains(t, f.audit.actions, "rfq.create")
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	noItems := validRequest()
	noItems.Items = nil
	_, err := f.svc.Create(ctx, sales, noItems)
	require.ErrorIs(t, err, shared.ErrValidation)

	badRate := validRequest()
	badRate.ConfidenceRate = ptr(120)
	_, err = f.svc.Create(ctx, sales, badRate)
	require.ErrorIs(t, err, shared.ErrValidation)

	missingFlag := validRequest()
	missingFlag.CanMake = nil
	_, err = f.svc.Create(ctx, sales, missingFlag)
	require.ErrorIs(t, err, shared.ErrValidation)

	noContact := validRequest()
	noContact.ContactPerson = ContactPerson{}
	_, err = f.svc.Create(ctx, sales, noContact)
	require.ErrorIs(t, err, shared.ErrValidation)

	wrongApprover := validRequest()
	wrongApprover.ApproverID = stranger
	_, err = f.svc.Create(ctx, sales, wrongApprover)
	require.ErrorIs(t, err, shared.ErrValidation)

	wrongCreator := validRequest()
	wrongCreator.QuotationCreatorID = manager
	_, err = f.svc.Create(ctx, sales, wrongCreator)
	require.ErrorIs(t, err, shared.ErrValidation)

	assert.Empty(t, f.repo.rfqs)
}

func TestApproveRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.Create(ctx, sales, validRequest())
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, 999, manager, DecisionRequest{})
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = f.svc.Approve(ctx, created.ID, sales, DecisionRequest{})
	require.ErrorIs(t, err, shared.ErrNotAuthorized)

	_, err = f.svc.Approve(ctx, created.ID, director, DecisionRequest{})
	require.ErrorIs(t, err, shared.ErrNotAuthorized, "capabilities do not stand in for the approver")

	approved, err := f.svc.Approve(ctx, created.ID, manager, DecisionRequest{Notes: "go"})
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, approved.Status)
	assert.True(t, approved.IsApproved)
	require.NotNil(t, approved.ApprovalDecision)
	assert.Equal(t, DecisionBid, *approved.ApprovalDecision)
	assert.NotNil(t, approved.ApprovedAt)

	_, err = f.svc.Approve(ctx, created.ID, manager, DecisionRequest{})
	require.ErrorIs(t, err, shared.ErrInvalidState)
	_, err = f.svc.Reject(ctx, created.ID, manager, DecisionRequest{})
	require.ErrorIs(t, err, shared.ErrInvalidState)

	var notified []int64
	for _, n := range f.notifier.sent {
		notified = append(notified, n.userID)
	}
	assert.Contains(t, notified, sales)
	assert.Contains(t, notified, estimator)
}

func TestRejectIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.Create(ctx, sales, validRequest())
	require.NoError(t, err)

	rejected, err := f.svc.Reject(ctx, created.ID, manager, DecisionRequest{})
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, rejected.Status)
	assert.False(t, rejected.IsApproved)
	assert.NotNil(t, rejected.RejectedAt)
	require.NotNil(t, rejected.ApprovalDecision)
	assert.Equal(t, DecisionNoBid, *rejected.ApprovalDecision)

	_, err = f.svc.Approve(ctx, created.ID, manager, DecisionRequest{})
	require.ErrorIs(t, err, shared.ErrInvalidState)

	history, err := f.svc.History(ctx, created.ID, sales)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, shared.ApprovalReject, history[1].Action)
}

func TestItemEditsRequireRequesterAndPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.Create(ctx, sales, validRequest())
	require.NoError(t, err)

	_, err = f.svc.AddItem(ctx, created.ID, manager, ItemRequest{Karoseri: "Tangki", Chassis: "Isuzu", Price: ptr(1.0), PriceNet: ptr(1.0)})
	require.ErrorIs(t, err, shared.ErrNotAuthorized)

	added, err := f.svc.AddItem(ctx, created.ID, sales, ItemRequest{Karoseri: "Tangki", Chassis: "Isuzu", Price: ptr(50.0), PriceNet: ptr(45.0)})
	require.NoError(t, err)
	assert.Equal(t, 3, added.ItemNumber)

	updated, err := f.svc.UpdateItem(ctx, created.ID, added.ID, sales, ItemPatch{PriceNet: ptr(40.0)})
	require.NoError(t, err)
	assert.Equal(t, 40.0, updated.PriceNet)
	assert.Equal(t, 3, updated.ItemNumber)

	_, err = f.svc.Approve(ctx, created.ID, manager, DecisionRequest{})
	require.NoError(t, err)

	_, err = f.svc.AddItem(ctx, created.ID, sales, ItemRequest{Karoseri: "Dump", Chassis: "Hino", Price: ptr(1.0), PriceNet: ptr(1.0)})
	require.ErrorIs(t, err, shared.ErrInvalidState)
	err = f.svc.DeleteItem(ctx, created.ID, added.ID, sales)
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestDeleteItemRepacksNumbers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := validRequest()
	req.Items = append(req.Items,
		ItemRequest{Karoseri: "Dump Truck", Chassis: "Hino 500", Price: ptr(300.0), PriceNet: ptr(280.0)},
		ItemRequest{Karoseri: "Tangki", Chassis: "Isuzu Giga", Price: ptr(400.0), PriceNet: ptr(380.0)},
	)
	created, err := f.svc.Create(ctx, sales, req)
	require.NoError(t, err)
	require.Len(t, created.Items, 4)

	require.NoError(t, f.svc.DeleteItem(ctx, created.ID, created.Items[1].ID, sales))

	reloaded, err := f.svc.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, reloaded.Items, 3)
	for i, it := range reloaded.Items {
		assert.Equal(t, i+1, it.ItemNumber)
	}
	assert.Equal(t, "Box Besi", reloaded.Items[0].Karoseri)
	assert.Equal(t, "Dump Truck", reloaded.Items[1].Karoseri)
	assert.Equal(t, "Tangki", reloaded.Items[2].Karoseri)
}

func TestDeleteLastItemRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := validRequest()
	req.Items = req.Items[:1]
	created, err := f.svc.Create(ctx, sales, req)
	require.NoError(t, err)

	err = f.svc.DeleteItem(ctx, created.ID, created.Items[0].ID, sales)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestUpdateHeader(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.Create(ctx, sales, validRequest())
	require.NoError(t, err)

	updated, err := f.svc.Update(ctx, created.ID, sales, UpdateRFQRequest{CustomerName: ptr("PT Sinar Logistik Tbk"), Priority: ptr(PriorityUrgent)})
	require.NoError(t, err)
	assert.Equal(t, "PT Sinar Logistik Tbk", updated.CustomerName)
	assert.Equal(t, PriorityUrgent, updated.Priority)
	assert.Equal(t, "Surabaya", updated.DeliveryLocation)

	_, err = f.svc.Update(ctx, created.ID, estimator, UpdateRFQRequest{Competitor: ptr("x")})
	require.ErrorIs(t, err, shared.ErrNotAuthorized)
}

func TestMarkQuotationCreated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.Create(ctx, sales, validRequest())
	require.NoError(t, err)

	require.ErrorIs(t, f.svc.MarkQuotationCreated(ctx, created.ID, 77), shared.ErrInvalidState)

	_, err = f.svc.Approve(ctx, created.ID, manager, DecisionRequest{})
	require.NoError(t, err)
	require.NoError(t, f.svc.MarkQuotationCreated(ctx, created.ID, 77))

	converted, err := f.svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusQuotationCreated, converted.Status)
	assert.True(t, converted.IsApproved)
	require.NotNil(t, converted.QuotationID)
	assert.Equal(t, int64(77), *converted.QuotationID)

	require.ErrorIs(t, f.svc.MarkQuotationCreated(ctx, created.ID, 78), shared.ErrInvalidState)
}

func TestListVisibilityAndView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Create(ctx, sales, validRequest())
	require.NoError(t, err)
	other := validRequest()
	other.ApproverID = director
	_, err = f.svc.Create(ctx, stranger, other)
	require.NoError(t, err)

	entries, page, err := f.svc.List(ctx, manager, ListRequest{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ViewApprover, entries[0].View)
	assert.Equal(t, 1, page.Total)

	entries, _, err = f.svc.List(ctx, estimator, ListRequest{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ViewCreator, entries[0].View)

	entries, _, err = f.svc.List(ctx, director, ListRequest{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ViewObserver, entries[0].View)
	assert.Equal(t, ViewApprover, entries[1].View)

	pending := StatusPending
	entries, _, err = f.svc.List(ctx, sales, ListRequest{Status: &pending})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ViewRequester, entries[0].View)
}

func TestListDropsAssignmentsWithoutCapability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Create(ctx, sales, validRequest())
	require.NoError(t, err)

	delete(f.caps, manager)
	delete(f.caps, estimator)

	entries, page, err := f.svc.List(ctx, manager, ListRequest{})
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, 0, page.Total)

	entries, _, err = f.svc.List(ctx, estimator, ListRequest{})
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Requesters keep their own requests regardless of capabilities.
	entries, _, err = f.svc.List(ctx, sales, ListRequest{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ViewRequester, entries[0].View)
}

func TestGetForActor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.Create(ctx, sales, validRequest())
	require.NoError(t, err)

	_, err = f.svc.GetForActor(ctx, created.ID, stranger)
	require.ErrorIs(t, err, shared.ErrNotAuthorized)

	found, err := f.svc.GetForActor(ctx, created.ID, director)
	require.NoError(t, err)
	assert.Len(t, found.Items, 2)
}

func TestViewPrecedence(t *testing.T) {
	all := Capabilities{Approve: true, CreateQuotation: true}
	r := RFQ{RequesterID: 1, ApproverID: 1, QuotationCreatorID: 1}
	assert.Equal(t, ViewApprover, r.ViewFor(1, all))
	assert.Equal(t, ViewCreator, r.ViewFor(1, Capabilities{CreateQuotation: true}))
	assert.Equal(t, ViewRequester, r.ViewFor(1, Capabilities{}))
	r.ApproverID = 2
	assert.Equal(t, ViewCreator, r.ViewFor(1, all))
	r.QuotationCreatorID = 3
	assert.Equal(t, ViewRequester, r.ViewFor(1, all))
	r.RequesterID = 4
	assert.Equal(t, ViewObserver, r.ViewFor(1, all))
}

package access

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karoseri/quotedesk/internal/shared"
)

type staticCaps map[int64][]string

func (c staticCaps) HasCapability(_ context.Context, userID int64, perm string) (bool, error) {
	for _, p := range c[userID] {
		if p == perm {
			return true, nil
		}
	}
	return false, nil
}

type failingCaps struct{}

func (failingCaps) HasCapability(context.Context, int64, string) (bool, error) {
	return false, errors.New("db down")
}

const (
	creator   = int64(1)
	requester = int64(2)
	approver  = int64(3)
	outsider  = int64(4)
	director  = int64(5)
	admin     = int64(6)
	rfqSales  = int64(7)
	rfqBoss   = int64(8)
)

func subject() Subject {
	return Subject{
		CreatorID:   creator,
		RequesterID: requester,
		ApproverID:  approver,
		Linked:      &Subject{RequesterID: rfqSales, ApproverID: rfqBoss, CreatorID: creator},
	}
}

func newFilter() *Filter {
	return NewFilter(staticCaps{
		director: {shared.PermQuotationViewAll},
		admin:    {shared.PermQuotationManage},
	})
}

func TestCanViewByRelationship(t *testing.T) {
	f := newFilter()
	ctx := context.Background()
	for _, actor := range []int64{creator, requester, approver, rfqSales, rfqBoss} {
		ok, err := f.CanView(ctx, actor, subject())
		require.NoError(t, err)
		assert.True(t, ok, "actor %d", actor)
	}
	ok, err := f.CanView(ctx, outsider, subject())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCanViewByCapability(t *testing.T) {
	f := newFilter()
	for _, actor := range []int64{director, admin} {
		ok, err := f.CanView(context.Background(), actor, subject())
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestCanViewWithoutLinkedRequest(t *testing.T) {
	s := subject()
	s.Linked = nil
	ok, err := newFilter().CanView(context.Background(), rfqSales, s)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRequestActionsIgnoreCapabilities(t *testing.T) {
	f := newFilter()
	ctx := context.Background()

	ok, err := f.CanMutate(ctx, admin, subject(), ActionDecideRFQ)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.CanMutate(ctx, approver, subject(), ActionDecideRFQ)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.True(t, Allowed(requester, subject(), ActionEditRFQ))
	assert.False(t, Allowed(approver, subject(), ActionEditRFQ))
	assert.True(t, Allowed(creator, subject(), ActionConvertRFQ))
	assert.False(t, Allowed(requester, subject(), ActionConvertRFQ))
}

func TestQuotationActionsHonourManage(t *testing.T) {
	f := newFilter()
	ctx := context.Background()

	ok, err := f.CanMutate(ctx, admin, subject(), ActionDeleteQuotation)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.CanMutate(ctx, director, subject(), ActionEditQuotation)
	require.NoError(t, err)
	assert.False(t, ok, "view_all does not grant mutation")

	ok, err = f.CanMutate(ctx, requester, subject(), ActionEditQuotation)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.CanMutate(ctx, requester, subject(), ActionDeleteQuotation)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRequireHelpersReturnNotAuthorized(t *testing.T) {
	f := newFilter()
	ctx := context.Background()
	require.ErrorIs(t, f.RequireView(ctx, outsider, subject()), shared.ErrNotAuthorized)
	require.ErrorIs(t, f.RequireMutate(ctx, outsider, subject(), ActionEditQuotation), shared.ErrNotAuthorized)
	require.NoError(t, f.RequireMutate(ctx, creator, subject(), ActionDeleteQuotation))
}

func TestCapabilityErrorsPropagate(t *testing.T) {
	f := NewFilter(failingCaps{})
	_, err := f.CanView(context.Background(), outsider, subject())
	require.Error(t, err)
	assert.False(t, errors.Is(err, shared.ErrNotAuthorized))

	ok, err := f.CanView(context.Background(), creator, subject())
	require.NoError(t, err)
	assert.True(t, ok)
}

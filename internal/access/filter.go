// Package access decides who may see or change a request or quotation based on
// the actor's relationship to it and on role capabilities.
package access

import (
	"context"
	"fmt"

	"github.com/karoseri/quotedesk/internal/shared"
)

// Subject captures the actor relationships of an entity. Linked carries the
// relationships of the request a quotation was converted from.
type Subject struct {
	CreatorID   int64
	RequesterID int64
	ApproverID  int64
	Linked      *Subject
}

// Action names a mutation guarded by the filter.
type Action string

const (
	// ActionEditRFQ covers header and item edits of a pending request.
	ActionEditRFQ Action = "rfq.edit"
	// ActionDecideRFQ covers approve and reject.
	ActionDecideRFQ Action = "rfq.decide"
	// ActionConvertRFQ covers turning an approved request into a quotation.
	ActionConvertRFQ Action = "rfq.convert"
	// ActionEditQuotation covers offers, items, status, follow-ups and progress notes.
	ActionEditQuotation Action = "quotation.edit"
	// ActionDeleteQuotation covers deleting a quotation or one of its offers.
	ActionDeleteQuotation Action = "quotation.delete"
)

// CapabilityChecker resolves role capabilities.
type CapabilityChecker interface {
	HasCapability(ctx context.Context, userID int64, perm string) (bool, error)
}

// Involved reports whether actorID plays any role on s or on its linked request.
func Involved(actorID int64, s Subject) bool {
	if actorID <= 0 {
		return false
	}
	if s.CreatorID == actorID || s.RequesterID == actorID || s.ApproverID == actorID {
		return true
	}
	if s.Linked != nil {
		return s.Linked.RequesterID == actorID || s.Linked.ApproverID == actorID
	}
	return false
}

// Allowed applies the relationship rules of action without consulting capabilities.
// Request actions are strictly relationship based.
func Allowed(actorID int64, s Subject, action Action) bool {
	if actorID <= 0 {
		return false
	}
	switch action {
	case ActionEditRFQ:
		return s.RequesterID == actorID
	case ActionDecideRFQ:
		return s.ApproverID == actorID
	case ActionConvertRFQ:
		return s.CreatorID == actorID
	case ActionEditQuotation:
		return s.CreatorID == actorID || s.RequesterID == actorID
	case ActionDeleteQuotation:
		return s.CreatorID == actorID
	default:
		return false
	}
}

// Filter combines relationship rules with role capabilities.
type Filter struct {
	caps CapabilityChecker
}

// NewFilter constructs a Filter.
func NewFilter(caps CapabilityChecker) *Filter {
	return &Filter{caps: caps}
}

// HasCapability reports whether userID holds perm.
func (f *Filter) HasCapability(ctx context.Context, userID int64, perm string) (bool, error) {
	return f.caps.HasCapability(ctx, userID, perm)
}

// ViewAll reports whether actorID may list every request and quotation.
func (f *Filter) ViewAll(ctx context.Context, actorID int64) (bool, error) {
	for _, perm := range []string{shared.PermQuotationViewAll, shared.PermQuotationManage} {
		ok, err := f.caps.HasCapability(ctx, actorID, perm)
		if err != nil {
			return false, fmt.Errorf("access: capability %s: %w", perm, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// CanView reports whether actorID may read s.
func (f *Filter) CanView(ctx context.Context, actorID int64, s Subject) (bool, error) {
	if Involved(actorID, s) {
		return true, nil
	}
	return f.ViewAll(ctx, actorID)
}

// CanMutate reports whether actorID may perform action on s. The manage
// capability extends quotation actions only.
func (f *Filter) CanMutate(ctx context.Context, actorID int64, s Subject, action Action) (bool, error) {
	if Allowed(actorID, s, action) {
		return true, nil
	}
	switch action {
	case ActionEditQuotation, ActionDeleteQuotation:
		ok, err := f.caps.HasCapability(ctx, actorID, shared.PermQuotationManage)
		if err != nil {
			return false, fmt.Errorf("access: capability %s: %w", shared.PermQuotationManage, err)
		}
		return ok, nil
	default:
		return false, nil
	}
}

// RequireView returns shared.ErrNotAuthorized when actorID may not read s.
func (f *Filter) RequireView(ctx context.Context, actorID int64, s Subject) error {
	ok, err := f.CanView(ctx, actorID, s)
	if err != nil {
		return err
	}
	if !ok {
		return shared.NotAuthorizedf("not involved in this document")
	}
	return nil
}

// RequireMutate returns shared.ErrNotAuthorized when actorID may not perform action on s.
func (f *Filter) RequireMutate(ctx context.Context, actorID int64, s Subject, action Action) error {
	ok, err := f.CanMutate(ctx, actorID, s, action)
	if err != nil {
		return err
	}
	if !ok {
		return shared.NotAuthorizedf("%s not permitted", action)
	}
	return nil
}

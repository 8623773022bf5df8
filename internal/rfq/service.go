package rfq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/karoseri/quotedesk/internal/access"
	"github.com/karoseri/quotedesk/internal/lineitems"
	"github.com/karoseri/quotedesk/internal/numbering"
	"github.com/karoseri/quotedesk/internal/platform/money"
	"github.com/karoseri/quotedesk/internal/shared"
)

const approvalModule = "RFQ"

// NumberAllocator hands out document numbers.
type NumberAllocator interface {
	Allocate(ctx context.Context, doc numbering.DocType, at time.Time, claim func(ctx context.Context, number string) error) (string, error)
}

// Notifier queues in-app notifications. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, userID int64, title, description, link string) error
}

// ApprovalPort records and lists approval history.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
	List(ctx context.Context, module, ref string) ([]shared.ApprovalLog, error)
}

// AuditPort writes audit records.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// AccessChecker resolves capabilities and read access.
type AccessChecker interface {
	HasCapability(ctx context.Context, userID int64, perm string) (bool, error)
	ViewAll(ctx context.Context, actorID int64) (bool, error)
	RequireView(ctx context.Context, actorID int64, s access.Subject) error
}

// Service implements the request lifecycle.
type Service struct {
	repo      Repository
	numbers   NumberAllocator
	access    AccessChecker
	notifier  Notifier
	approvals ApprovalPort
	audit     AuditPort
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs the request service.
func NewService(repo Repository, numbers NumberAllocator, checker AccessChecker, notifier Notifier, approvals ApprovalPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		numbers:   numbers,
		access:    checker,
		notifier:  notifier,
		approvals: approvals,
		audit:     audit,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create submits a new request in pending status with items numbered 1..N.
func (s *Service) Create(ctx context.Context, actorID int64, req CreateRFQRequest) (*RFQ, error) {
	if err := shared.ValidateStruct(req); err != nil {
		return nil, err
	}
	if err := s.checkAssignees(ctx, req.ApproverID, req.QuotationCreatorID); err != nil {
		return nil, err
	}
	now := s.now()
	priority := req.Priority
	if priority == "" {
		priority = PriorityMedium
	}
	draft := RFQ{
		RequesterID:          actorID,
		ApproverID:           req.ApproverID,
		QuotationCreatorID:   req.QuotationCreatorID,
		CustomerName:         strings.TrimSpace(req.CustomerName),
		ContactPerson:        req.ContactPerson,
		Description:          strings.TrimSpace(req.Description),
		ConfidenceRate:       *req.ConfidenceRate,
		DeliveryLocation:     strings.TrimSpace(req.DeliveryLocation),
		Competitor:           strings.TrimSpace(req.Competitor),
		CanMake:              *req.CanMake,
		ProjectOngoing:       *req.ProjectOngoing,
		Priority:             priority,
		ExpectedDeliveryDate: req.ExpectedDeliveryDate,
		Status:               StatusPending,
		SubmittedAt:          now,
	}

	var id int64
	_, err := s.numbers.Allocate(ctx, numbering.DocRFQ, now, func(ctx context.Context, number string) error {
		draft.Number = number
		return s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
			newID, err := tx.Create(ctx, draft)
			if err != nil {
				return err
			}
			for i, itemReq := range req.Items {
				item := itemFromRequest(itemReq)
				item.RFQID = newID
				item.ItemNumber = i + 1
				if _, err := tx.InsertItem(ctx, item); err != nil {
					return err
				}
			}
			id = newID
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("create rfq: %w", err)
	}

	created, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.recordApproval(ctx, created, actorID, shared.ApprovalSubmit, "")
	s.recordAudit(ctx, actorID, "rfq.create", created.ID, map[string]any{"rfq_number": created.Number})
	s.notify(ctx, created.ApproverID, "New RFQ awaiting approval",
		fmt.Sprintf("%s for %s, estimated %s", created.Number, created.CustomerName, money.FormatRupiah(created.EstimatedNet())),
		link(created.ID))
	return created, nil
}

// Get loads a request and all its items.
func (s *Service) Get(ctx context.Context, id int64) (*RFQ, error) {
	r, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.ListItems(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load rfq items: %w", err)
	}
	r.Items = items
	return r, nil
}

// GetForActor loads a request the actor is allowed to read.
func (s *Service) GetForActor(ctx context.Context, id, actorID int64) (*RFQ, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.access.RequireView(ctx, actorID, r.Subject()); err != nil {
		return nil, err
	}
	return r, nil
}

// List returns the requests the actor is involved in, or all of them for
// actors holding a view-all capability. Approver and quotation creator
// assignments only count while the actor holds the matching capability.
func (s *Service) List(ctx context.Context, actorID int64, req ListRequest) ([]ListEntry, shared.Pagination, error) {
	viewAll, err := s.access.ViewAll(ctx, actorID)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	caps, err := s.Capabilities(ctx, actorID)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	page := shared.NewPagination(req.Page, req.PerPage, 0)
	rows, total, err := s.repo.List(ctx, ListFilter{
		ActorID:    actorID,
		ViewAll:    viewAll,
		AsApprover: caps.Approve,
		AsCreator:  caps.CreateQuotation,
		Status:     req.Status,
		Limit:      page.PerPage,
		Offset:     page.Offset(),
	})
	if err != nil {
		return nil, shared.Pagination{}, fmt.Errorf("list rfqs: %w", err)
	}
	entries := make([]ListEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, ListEntry{RFQ: r, View: r.ViewFor(actorID, caps)})
	}
	return entries, shared.NewPagination(page.Page, page.PerPage, total), nil
}

// Capabilities resolves the approve and create-quotation capabilities of actorID.
func (s *Service) Capabilities(ctx context.Context, actorID int64) (Capabilities, error) {
	var caps Capabilities
	var err error
	if caps.Approve, err = s.access.HasCapability(ctx, actorID, shared.PermRFQApprove); err != nil {
		return Capabilities{}, fmt.Errorf("rfq capability %s: %w", shared.PermRFQApprove, err)
	}
	if caps.CreateQuotation, err = s.access.HasCapability(ctx, actorID, shared.PermQuotationCreate); err != nil {
		return Capabilities{}, fmt.Errorf("rfq capability %s: %w", shared.PermQuotationCreate, err)
	}
	return caps, nil
}

// Update patches header fields. Only the requester may edit, and only while pending.
func (s *Service) Update(ctx context.Context, id, actorID int64, req UpdateRFQRequest) (*RFQ, error) {
	if err := shared.ValidateStruct(req); err != nil {
		return nil, err
	}
	current, err := s.editable(ctx, id, actorID)
	if err != nil {
		return nil, err
	}
	if req.ApproverID != nil || req.QuotationCreatorID != nil {
		approver, creator := current.ApproverID, current.QuotationCreatorID
		if req.ApproverID != nil {
			approver = *req.ApproverID
		}
		if req.QuotationCreatorID != nil {
			creator = *req.QuotationCreatorID
		}
		if err := s.checkAssignees(ctx, approver, creator); err != nil {
			return nil, err
		}
	}
	applyHeaderPatch(current, req)
	if err := s.repo.UpdateHeader(ctx, *current); err != nil {
		return nil, s.translate(err, "update")
	}
	s.recordAudit(ctx, actorID, "rfq.update", id, nil)
	return s.Get(ctx, id)
}

// Approve moves a pending request to approved. Only its approver may decide.
func (s *Service) Approve(ctx context.Context, id, actorID int64, req DecisionRequest) (*RFQ, error) {
	if err := shared.ValidateStruct(req); err != nil {
		return nil, err
	}
	return s.decide(ctx, id, actorID, StatusApproved, DecisionBid, req.Notes)
}

// Reject moves a pending request to rejected. Only its approver may decide.
func (s *Service) Reject(ctx context.Context, id, actorID int64, req DecisionRequest) (*RFQ, error) {
	if err := shared.ValidateStruct(req); err != nil {
		return nil, err
	}
	return s.decide(ctx, id, actorID, StatusRejected, DecisionNoBid, req.Notes)
}

func (s *Service) decide(ctx context.Context, id, actorID int64, target Status, decision Decision, notes string) (*RFQ, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !access.Allowed(actorID, current.Subject(), access.ActionDecideRFQ) {
		return nil, shared.NotAuthorizedf("only the assigned approver may decide rfq %s", current.Number)
	}
	if current.Status != StatusPending {
		return nil, shared.InvalidStatef("rfq %s is %s", current.Number, current.Status)
	}
	err = s.repo.Decide(ctx, id, DecisionUpdate{
		Status:   target,
		Decision: &decision,
		Notes:    strings.TrimSpace(notes),
		At:       s.now(),
	})
	if err != nil {
		return nil, s.translate(err, "decide")
	}

	updated, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	action, verb := shared.ApprovalApprove, "approved"
	if target == StatusRejected {
		action, verb = shared.ApprovalReject, "rejected"
	}
	s.recordApproval(ctx, updated, actorID, action, notes)
	s.recordAudit(ctx, actorID, "rfq."+strings.ToLower(string(action)), id, map[string]any{"notes": notes})
	title := fmt.Sprintf("RFQ %s", verb)
	s.notify(ctx, updated.RequesterID, title, fmt.Sprintf("%s for %s was %s", updated.Number, updated.CustomerName, verb), link(id))
	if target == StatusApproved && updated.QuotationCreatorID != updated.RequesterID {
		s.notify(ctx, updated.QuotationCreatorID, "RFQ ready for quotation",
			fmt.Sprintf("%s for %s is approved and assigned to you", updated.Number, updated.CustomerName), link(id))
	}
	return updated, nil
}

// MarkQuotationCreated flips an approved request to quotation_created and links
// the quotation. It fails with ErrInvalidState when the request is no longer approved.
func (s *Service) MarkQuotationCreated(ctx context.Context, id, quotationID int64) error {
	if err := s.repo.MarkQuotationCreated(ctx, id, quotationID, s.now()); err != nil {
		return s.translate(err, "link quotation to")
	}
	return nil
}

// History returns the approval trail of a request.
func (s *Service) History(ctx context.Context, id, actorID int64) ([]shared.ApprovalLog, error) {
	if _, err := s.GetForActor(ctx, id, actorID); err != nil {
		return nil, err
	}
	return s.approvals.List(ctx, approvalModule, strconv.FormatInt(id, 10))
}

// AddItem appends an item numbered max+1.
func (s *Service) AddItem(ctx context.Context, rfqID, actorID int64, req ItemRequest) (*Item, error) {
	if err := shared.ValidateStruct(req); err != nil {
		return nil, err
	}
	if _, err := s.editable(ctx, rfqID, actorID); err != nil {
		return nil, err
	}
	item := itemFromRequest(req)
	item.RFQID = rfqID
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		existing, err := tx.ListItems(ctx, rfqID)
		if err != nil {
			return err
		}
		item.ItemNumber = lineitems.NextNumber(itemNumbers(existing))
		id, err := tx.InsertItem(ctx, item)
		if err != nil {
			return err
		}
		item.ID = id
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("add rfq item: %w", err)
	}
	return s.repo.GetItem(ctx, item.ID)
}

// UpdateItem patches an item in place; its number never changes.
func (s *Service) UpdateItem(ctx context.Context, rfqID, itemID, actorID int64, patch ItemPatch) (*Item, error) {
	if err := shared.ValidateStruct(patch); err != nil {
		return nil, err
	}
	if _, err := s.editable(ctx, rfqID, actorID); err != nil {
		return nil, err
	}
	item, err := s.itemOf(ctx, rfqID, itemID)
	if err != nil {
		return nil, err
	}
	applyItemPatch(item, patch)
	if err := s.repo.UpdateItem(ctx, *item); err != nil {
		return nil, err
	}
	return s.repo.GetItem(ctx, itemID)
}

// DeleteItem removes an item and repacks the remaining numbers to 1..N.
func (s *Service) DeleteItem(ctx context.Context, rfqID, itemID, actorID int64) error {
	if _, err := s.editable(ctx, rfqID, actorID); err != nil {
		return err
	}
	if _, err := s.itemOf(ctx, rfqID, itemID); err != nil {
		return err
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		existing, err := tx.ListItems(ctx, rfqID)
		if err != nil {
			return err
		}
		if len(existing) <= 1 {
			return shared.Validationf("an rfq must keep at least one item")
		}
		if err := tx.DeleteItem(ctx, itemID); err != nil {
			return err
		}
		remaining, err := tx.ListItems(ctx, rfqID)
		if err != nil {
			return err
		}
		for _, change := range lineitems.Repack(numberedItems(remaining)) {
			if err := tx.SetItemNumber(ctx, change.ID, change.To); err != nil {
				return err
			}
		}
		return nil
	})
}

// checkAssignees verifies the approver may approve and the creator may quote.
// Assignments are checked when made, not re-validated later.
func (s *Service) checkAssignees(ctx context.Context, approverID, creatorID int64) error {
	ok, err := s.access.HasCapability(ctx, approverID, shared.PermRFQApprove)
	if err != nil {
		return err
	}
	if !ok {
		return shared.Validationf("user %d cannot approve rfqs", approverID)
	}
	ok, err = s.access.HasCapability(ctx, creatorID, shared.PermQuotationCreate)
	if err != nil {
		return err
	}
	if !ok {
		return shared.Validationf("user %d cannot create quotations", creatorID)
	}
	return nil
}

// editable loads the request and checks the requester-only, pending-only edit rule.
func (s *Service) editable(ctx context.Context, id, actorID int64) (*RFQ, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !access.Allowed(actorID, current.Subject(), access.ActionEditRFQ) {
		return nil, shared.NotAuthorizedf("only the requester may edit rfq %s", current.Number)
	}
	if current.Status != StatusPending {
		return nil, shared.InvalidStatef("rfq %s is %s", current.Number, current.Status)
	}
	return current, nil
}

func (s *Service) itemOf(ctx context.Context, rfqID, itemID int64) (*Item, error) {
	item, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.RFQID != rfqID {
		return nil, shared.NotFoundf("rfq item %d", itemID)
	}
	return item, nil
}

func (s *Service) translate(err error, op string) error {
	if errors.Is(err, ErrStatusChanged) {
		return shared.InvalidStatef("cannot %s rfq: status changed", op)
	}
	return err
}

func (s *Service) recordApproval(ctx context.Context, r *RFQ, actorID int64, action shared.ApprovalAction, note string) {
	if s.approvals == nil {
		return
	}
	err := s.approvals.Record(ctx, shared.ApprovalLog{
		Module:  approvalModule,
		RefID:   strconv.FormatInt(r.ID, 10),
		ActorID: actorID,
		Action:  action,
		Note:    note,
	})
	if err != nil {
		s.logger.Warn("record rfq approval", slog.Int64("rfq_id", r.ID), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "rfq",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("record rfq audit", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) notify(ctx context.Context, userID int64, title, description, target string) {
	if s.notifier == nil || userID <= 0 {
		return
	}
	if err := s.notifier.Notify(ctx, userID, title, description, target); err != nil {
		s.logger.Warn("queue notification", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}

func link(id int64) string {
	return "/rfqs/" + strconv.FormatInt(id, 10)
}

func itemFromRequest(req ItemRequest) Item {
	return Item{
		Karoseri:       strings.TrimSpace(req.Karoseri),
		Chassis:        strings.TrimSpace(req.Chassis),
		DrawingID:      req.DrawingID,
		Specifications: req.Specifications.Normalize(),
		Price:          money.Round2(*req.Price),
		PriceNet:       money.Round2(*req.PriceNet),
		Notes:          strings.TrimSpace(req.Notes),
	}
}

func applyHeaderPatch(r *RFQ, req UpdateRFQRequest) {
	if req.ApproverID != nil {
		r.ApproverID = *req.ApproverID
	}
	if req.QuotationCreatorID != nil {
		r.QuotationCreatorID = *req.QuotationCreatorID
	}
	if req.CustomerName != nil {
		r.CustomerName = strings.TrimSpace(*req.CustomerName)
	}
	if req.ContactPerson != nil {
		r.ContactPerson = *req.ContactPerson
	}
	if req.Description != nil {
		r.Description = strings.TrimSpace(*req.Description)
	}
	if req.ConfidenceRate != nil {
		r.ConfidenceRate = *req.ConfidenceRate
	}
	if req.DeliveryLocation != nil {
		r.DeliveryLocation = strings.TrimSpace(*req.DeliveryLocation)
	}
	if req.Competitor != nil {
		r.Competitor = strings.TrimSpace(*req.Competitor)
	}
	if req.CanMake != nil {
		r.CanMake = *req.CanMake
	}
	if req.ProjectOngoing != nil {
		r.ProjectOngoing = *req.ProjectOngoing
	}
	if req.Priority != nil {
		r.Priority = *req.Priority
	}
	if req.ExpectedDeliveryDate != nil {
		r.ExpectedDeliveryDate = req.ExpectedDeliveryDate
	}
}

func applyItemPatch(it *Item, p ItemPatch) {
	if p.Karoseri != nil {
		it.Karoseri = strings.TrimSpace(*p.Karoseri)
	}
	if p.Chassis != nil {
		it.Chassis = strings.TrimSpace(*p.Chassis)
	}
	if p.DrawingID != nil {
		it.DrawingID = p.DrawingID
	}
	if p.Specifications != nil {
		it.Specifications = p.Specifications.Normalize()
	}
	if p.Price != nil {
		it.Price = money.Round2(*p.Price)
	}
	if p.PriceNet != nil {
		it.PriceNet = money.Round2(*p.PriceNet)
	}
	if p.Notes != nil {
		it.Notes = strings.TrimSpace(*p.Notes)
	}
}

func itemNumbers(items []Item) []int {
	out := make([]int, len(items))
	for i, it := range items {
		out[i] = it.ItemNumber
	}
	return out
}

func numberedItems(items []Item) []lineitems.Numbered {
	out := make([]lineitems.Numbered, len(items))
	for i, it := range items {
		out[i] = lineitems.Numbered{ID: it.ID, Number: it.ItemNumber}
	}
	return out
}

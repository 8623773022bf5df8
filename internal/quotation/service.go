// Package quotation manages customer-facing quotations: headers, their offers
// with revision chains, offer items and the cached offer totals.
package quotation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/karoseri/quotedesk/internal/access"
	"github.com/karoseri/quotedesk/internal/attachments"
	"github.com/karoseri/quotedesk/internal/numbering"
	"github.com/karoseri/quotedesk/internal/shared"
	"github.com/karoseri/quotedesk/internal/users"
)

const approvalModule = "QUOTATION"

// NumberAllocator hands out document numbers.
type NumberAllocator interface {
	Allocate(ctx context.Context, doc numbering.DocType, at time.Time, claim func(ctx context.Context, number string) error) (string, error)
}

// AccessChecker applies the access filter.
type AccessChecker interface {
	ViewAll(ctx context.Context, actorID int64) (bool, error)
	RequireView(ctx context.Context, actorID int64, s access.Subject) error
	RequireMutate(ctx context.Context, actorID int64, s access.Subject, action access.Action) error
}

// UserDirectory resolves display names for marketing snapshots.
type UserDirectory interface {
	GetUser(ctx context.Context, id int64) (users.User, error)
}

// ImageCleaner removes images no offer references any more.
type ImageCleaner interface {
	CleanupOrphans(ctx context.Context, refs []string) (attachments.CleanupResult, error)
}

// ApprovalPort records status history.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

// AuditPort writes audit records.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Options tunes offer slot allocation.
type Options struct {
	OfferAttempts int
	OfferBackoff  time.Duration
}

// Service implements the quotation aggregate.
type Service struct {
	repo      Repository
	numbers   NumberAllocator
	access    AccessChecker
	users     UserDirectory
	images    ImageCleaner
	approvals ApprovalPort
	audit     AuditPort
	logger    *slog.Logger
	opts      Options
	now       func() time.Time
}

// NewService constructs the quotation service.
func NewService(repo Repository, numbers NumberAllocator, checker AccessChecker, directory UserDirectory, images ImageCleaner, approvals ApprovalPort, audit AuditPort, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.OfferAttempts <= 0 {
		opts.OfferAttempts = 5
	}
	if opts.OfferBackoff <= 0 {
		opts.OfferBackoff = 20 * time.Millisecond
	}
	return &Service{
		repo:      repo,
		numbers:   numbers,
		access:    checker,
		users:     directory,
		images:    images,
		approvals: approvals,
		audit:     audit,
		logger:    logger,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create opens a quotation on behalf of actorID, who becomes its creator.
func (s *Service) Create(ctx context.Context, actorID int64, req CreateQuotationRequest) (*Detail, error) {
	if err := shared.ValidateStruct(req); err != nil {
		return nil, err
	}
	requester := req.RequesterID
	if requester == 0 {
		requester = actorID
	}
	return s.CreateFromDraft(ctx, actorID, Draft{
		RequesterID:   requester,
		ApproverID:    req.ApproverID,
		CreatorID:     actorID,
		MarketingName: req.MarketingName,
		CustomerName:  req.CustomerName,
		ContactPerson: req.ContactPerson,
		Offer:         req.Offer,
	})
}

// CreateFromDraft allocates a quotation number and stores the header with
// its first offer in one transaction.
func (s *Service) CreateFromDraft(ctx context.Context, actorID int64, d Draft) (*Detail, error) {
	if err := shared.ValidateStruct(d); err != nil {
		return nil, err
	}
	now := s.now()
	header := Header{
		RFQID:         d.RFQID,
		RequesterID:   d.RequesterID,
		ApproverID:    d.ApproverID,
		CreatorID:     d.CreatorID,
		MarketingName: strings.TrimSpace(d.MarketingName),
		CustomerName:  strings.TrimSpace(d.CustomerName),
		ContactPerson: d.ContactPerson,
		Status:        Status{Type: StatusOpen},
		// A new quotation starts its follow-up clock at creation.
		LastFollowUpDate: &now,
		CreatedAt:        now,
	}
	if header.MarketingName == "" {
		header.MarketingName = s.marketingName(ctx, d.CreatorID)
	}

	_, err := s.numbers.Allocate(ctx, numbering.DocQuotation, now, func(ctx context.Context, number string) error {
		header.Number = number
		return s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
			id, err := tx.CreateHeader(ctx, header)
			if err != nil {
				return err
			}
			header.ID = id
			_, err = s.createOriginal(ctx, tx, &header, d.Offer, actorID)
			return err
		})
	})
	if err != nil {
		return nil, fmt.Errorf("create quotation: %w", offerConflict(err))
	}

	s.recordAudit(ctx, actorID, "quotation.create", header.ID, map[string]any{"quotation_number": header.Number})
	return s.GetDetail(ctx, header.ID)
}

// Get loads a header with its derived follow-up status.
func (s *Service) Get(ctx context.Context, id int64) (*Header, error) {
	h, err := s.repo.GetHeader(ctx, id)
	if err != nil {
		return nil, err
	}
	h.FollowUp = FollowUp(h.LastFollowUpDate, s.now())
	return h, nil
}

// GetDetail loads a header with every offer and its items.
func (s *Service) GetDetail(ctx context.Context, id int64) (*Detail, error) {
	h, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	offers, err := s.repo.ListOffers(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load offers: %w", err)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i := range offers {
		g.Go(func() error {
			items, err := s.repo.ListItems(gctx, offers[i].ID)
			if err != nil {
				return fmt.Errorf("load items of offer %s: %w", offers[i].OfferNumber, err)
			}
			offers[i].Items = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if offers == nil {
		offers = []Offer{}
	}
	return &Detail{Header: *h, Offers: offers}, nil
}

// GetForActor loads a quotation the actor may read.
func (s *Service) GetForActor(ctx context.Context, id, actorID int64) (*Detail, error) {
	h, err := s.repo.GetHeader(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.access.RequireView(ctx, actorID, h.Subject()); err != nil {
		return nil, err
	}
	return s.GetDetail(ctx, id)
}

// List returns the quotations visible to the actor.
func (s *Service) List(ctx context.Context, actorID int64, req ListRequest) ([]Header, shared.Pagination, error) {
	viewAll, err := s.access.ViewAll(ctx, actorID)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	page := shared.NewPagination(req.Page, req.PerPage, 0)
	rows, total, err := s.repo.ListHeaders(ctx, ListFilter{
		ActorID: actorID,
		ViewAll: viewAll,
		Status:  req.Status,
		Limit:   page.PerPage,
		Offset:  page.Offset(),
	})
	if err != nil {
		return nil, shared.Pagination{}, fmt.Errorf("list quotations: %w", err)
	}
	now := s.now()
	for i := range rows {
		rows[i].FollowUp = FollowUp(rows[i].LastFollowUpDate, now)
	}
	if rows == nil {
		rows = []Header{}
	}
	return rows, shared.NewPagination(page.Page, page.PerPage, total), nil
}

// Stale returns open quotations whose follow-up status is danger.
func (s *Service) Stale(ctx context.Context, limit int) ([]Header, error) {
	now := s.now()
	rows, err := s.repo.ListStale(ctx, StaleBefore(now), limit)
	if err != nil {
		return nil, fmt.Errorf("list stale quotations: %w", err)
	}
	for i := range rows {
		rows[i].FollowUp = FollowUp(rows[i].LastFollowUpDate, now)
	}
	return rows, nil
}

// SetStatus changes the commercial outcome. Winning with a selected offer
// marks exactly the selected items of that offer accepted; any other status
// clears the selection and every acceptance under the quotation.
func (s *Service) SetStatus(ctx context.Context, id, actorID int64, req StatusRequest) (*Detail, error) {
	if err := shared.ValidateStruct(req); err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(req.Reason)
	if req.Type.needsReason() && reason == "" {
		return nil, shared.Validationf("reason is required when status is %s", req.Type)
	}
	header, err := s.mutable(ctx, id, actorID, access.ActionEditQuotation)
	if err != nil {
		return nil, err
	}
	now := s.now()
	update := StatusUpdate{Status: Status{Type: req.Type, Reason: reason}, At: now}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		if req.Type != StatusWin {
			if err := s.clearAllAcceptance(ctx, tx, header.ID); err != nil {
				return err
			}
			return tx.UpdateStatus(ctx, header.ID, update)
		}
		if req.SelectedOfferID == nil {
			update.SelectedOfferID = header.SelectedOfferID
			update.SelectedOfferItemIDs = header.SelectedOfferItemIDs
			return tx.UpdateStatus(ctx, header.ID, update)
		}
		selected, err := s.applySelection(ctx, tx, header, *req.SelectedOfferID, req.SelectedOfferItemIDs, actorID, now)
		if err != nil {
			return err
		}
		update.SelectedOfferID = req.SelectedOfferID
		update.SelectedOfferItemIDs = selected
		return tx.UpdateStatus(ctx, header.ID, update)
	})
	if err != nil {
		return nil, fmt.Errorf("set quotation status: %w", err)
	}

	note := string(req.Type)
	if reason != "" {
		note += ": " + reason
	}
	s.recordApproval(ctx, header.ID, actorID, shared.ApprovalStatus, note)
	s.recordAudit(ctx, actorID, "quotation.status", header.ID, map[string]any{"type": req.Type, "reason": reason})
	return s.GetDetail(ctx, header.ID)
}

// applySelection sets acceptance on the selected offer and returns the sorted
// selection. A previously selected different offer loses its acceptance.
func (s *Service) applySelection(ctx context.Context, tx Repository, header *Header, offerID int64, itemIDs []int64, actorID int64, now time.Time) ([]int64, error) {
	offer, err := tx.GetOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if offer.HeaderID != header.ID {
		return nil, shared.Validationf("offer %s does not belong to quotation %s", offer.OfferNumber, header.Number)
	}
	items, err := tx.ListItems(ctx, offer.ID)
	if err != nil {
		return nil, err
	}
	owned := make(map[int64]bool, len(items))
	for _, it := range items {
		owned[it.ID] = true
	}
	want := make(map[int64]bool, len(itemIDs))
	for _, itemID := range itemIDs {
		if !owned[itemID] {
			return nil, shared.Validationf("item %d is not part of offer %s", itemID, offer.OfferNumber)
		}
		want[itemID] = true
	}
	for _, it := range items {
		switch {
		case want[it.ID] && !it.IsAccepted:
			err = tx.SetItemAcceptance(ctx, it.ID, Acceptance{Accepted: true, At: &now, By: &actorID})
		case !want[it.ID] && it.IsAccepted:
			err = tx.SetItemAcceptance(ctx, it.ID, Acceptance{})
		}
		if err != nil {
			return nil, err
		}
	}
	if _, err := s.recompute(ctx, tx, offer.ID); err != nil {
		return nil, err
	}
	if header.SelectedOfferID != nil && *header.SelectedOfferID != offer.ID {
		if err := s.clearAcceptance(ctx, tx, *header.SelectedOfferID); err != nil {
			return nil, err
		}
	}
	selected := make([]int64, 0, len(want))
	for itemID := range want {
		selected = append(selected, itemID)
	}
	sort.Slice(selected, func(i, j int) bool { return selected[i] < selected[j] })
	return selected, nil
}

func (s *Service) clearAllAcceptance(ctx context.Context, tx Repository, headerID int64) error {
	offers, err := tx.ListOffers(ctx, headerID)
	if err != nil {
		return err
	}
	for _, o := range offers {
		if err := s.clearAcceptance(ctx, tx, o.ID); err != nil {
			return err
		}
	}
	return nil
}

// clearAcceptance unaccepts every item of offerID and recomputes when anything changed.
func (s *Service) clearAcceptance(ctx context.Context, tx Repository, offerID int64) error {
	items, err := tx.ListItems(ctx, offerID)
	if err != nil {
		return err
	}
	changed := false
	for _, it := range items {
		if !it.IsAccepted {
			continue
		}
		if err := tx.SetItemAcceptance(ctx, it.ID, Acceptance{}); err != nil {
			return err
		}
		changed = true
	}
	if changed {
		_, err = s.recompute(ctx, tx, offerID)
	}
	return err
}

// TouchFollowUp resets the follow-up clock.
func (s *Service) TouchFollowUp(ctx context.Context, id, actorID int64) (*Header, error) {
	if _, err := s.mutable(ctx, id, actorID, access.ActionEditQuotation); err != nil {
		return nil, err
	}
	if err := s.repo.TouchFollowUp(ctx, id, s.now()); err != nil {
		return nil, fmt.Errorf("touch follow-up: %w", err)
	}
	return s.Get(ctx, id)
}

// AppendProgress adds a sales log entry and counts as a follow-up.
func (s *Service) AppendProgress(ctx context.Context, id, actorID int64, req ProgressRequest) (*Header, error) {
	if err := shared.ValidateStruct(req); err != nil {
		return nil, err
	}
	note := strings.TrimSpace(req.Note)
	if note == "" {
		return nil, shared.Validationf("progress note is empty")
	}
	if _, err := s.mutable(ctx, id, actorID, access.ActionEditQuotation); err != nil {
		return nil, err
	}
	now := s.now()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		if err := tx.AppendProgress(ctx, id, ProgressEntry{At: now, AuthorID: actorID, Note: note}); err != nil {
			return err
		}
		return tx.TouchFollowUp(ctx, id, now)
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Delete removes the quotation with every offer, newest revision first, then
// cleans up images no surviving offer references. Cleanup failures come back
// as a warning on the result.
func (s *Service) Delete(ctx context.Context, id, actorID int64) (*DeleteResult, error) {
	header, err := s.mutable(ctx, id, actorID, access.ActionDeleteQuotation)
	if err != nil {
		return nil, err
	}
	return s.deleteHeader(ctx, header, actorID)
}

// Discard removes a quotation without an actor check. The conversion bridge
// uses it to roll back a quotation whose request could not be linked.
func (s *Service) Discard(ctx context.Context, id int64) error {
	header, err := s.repo.GetHeader(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.deleteHeader(ctx, header, 0)
	return err
}

func (s *Service) deleteHeader(ctx context.Context, header *Header, actorID int64) (*DeleteResult, error) {
	offers, err := s.repo.ListOffers(ctx, header.ID)
	if err != nil {
		return nil, err
	}
	sort.Slice(offers, func(i, j int) bool {
		if offers[i].Revision != offers[j].Revision {
			return offers[i].Revision > offers[j].Revision
		}
		return offers[i].ID > offers[j].ID
	})
	var images []string
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		for _, o := range offers {
			if err := tx.DeleteItemsByOffer(ctx, o.ID); err != nil {
				return err
			}
			if err := tx.DeleteOffer(ctx, o.ID); err != nil {
				return err
			}
			images = append(images, o.NotesImages...)
		}
		return tx.DeleteHeader(ctx, header.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("delete quotation %s: %w", header.Number, err)
	}

	result := &DeleteResult{DeletedOffers: len(offers)}
	s.cleanup(ctx, images, result)
	if actorID > 0 {
		s.recordAudit(ctx, actorID, "quotation.delete", header.ID, map[string]any{
			"quotation_number": header.Number,
			"offers":           len(offers),
		})
	}
	return result, nil
}

// cleanup runs image cleanup and folds the outcome into result.
func (s *Service) cleanup(ctx context.Context, refs []string, result *DeleteResult) {
	refs = attachments.Dedupe(refs)
	if s.images == nil || len(refs) == 0 {
		return
	}
	res, err := s.images.CleanupOrphans(ctx, refs)
	result.DeletedImages = res.DeletedCount
	result.KeptImages = res.KeptCount
	if err != nil {
		result.Warning = "image cleanup incomplete: " + err.Error()
		s.logger.Warn("orphan image cleanup", slog.Int("refs", len(refs)), slog.Any("error", err))
	}
}

// mutable loads the header and checks that actorID may perform action on it.
func (s *Service) mutable(ctx context.Context, id, actorID int64, action access.Action) (*Header, error) {
	header, err := s.repo.GetHeader(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.access.RequireMutate(ctx, actorID, header.Subject(), action); err != nil {
		return nil, err
	}
	return header, nil
}

func (s *Service) marketingName(ctx context.Context, userID int64) string {
	if s.users == nil {
		return ""
	}
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		s.logger.Warn("resolve marketing name", slog.Int64("user_id", userID), slog.Any("error", err))
		return ""
	}
	return u.FullName
}

func (s *Service) recordApproval(ctx context.Context, id, actorID int64, action shared.ApprovalAction, note string) {
	if s.approvals == nil {
		return
	}
	err := s.approvals.Record(ctx, shared.ApprovalLog{
		Module:  approvalModule,
		RefID:   strconv.FormatInt(id, 10),
		ActorID: actorID,
		Action:  action,
		Note:    note,
	})
	if err != nil {
		s.logger.Warn("record quotation approval", slog.Int64("quotation_id", id), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "quotation",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("record quotation audit", slog.String("action", action), slog.Any("error", err))
	}
}

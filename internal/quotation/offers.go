package quotation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sethvargo/go-retry"

	"github.com/karoseri/quotedesk/internal/access"
	"github.com/karoseri/quotedesk/internal/attachments"
	"github.com/karoseri/quotedesk/internal/platform/money"
	"github.com/karoseri/quotedesk/internal/shared"
)

var revisionSuffix = regexp.MustCompile(`-Rev\d+$`)

// BaseOfferNumber strips a trailing -RevN from number.
func BaseOfferNumber(number string) string {
	return revisionSuffix.ReplaceAllString(number, "")
}

// CreateOffer adds a new original offer to the quotation with number. The
// slot is max+1 over the quotation's original offers; a lost race on the
// offer number is retried with a fresh slot.
func (s *Service) CreateOffer(ctx context.Context, quotationNumber string, actorID int64, in OfferInput) (*Offer, error) {
	if err := shared.ValidateStruct(in); err != nil {
		return nil, err
	}
	header, err := s.repo.GetHeaderByNumber(ctx, quotationNumber)
	if err != nil {
		return nil, err
	}
	if err := s.access.RequireMutate(ctx, actorID, header.Subject(), access.ActionEditQuotation); err != nil {
		return nil, err
	}

	backoff := retry.NewConstant(s.opts.OfferBackoff)
	backoff = retry.WithJitterPercent(50, backoff)
	backoff = retry.WithMaxRetries(uint64(s.opts.OfferAttempts-1), backoff)

	var id int64
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
			created, err := s.createOriginal(ctx, tx, header, in, actorID)
			if err != nil {
				return err
			}
			id = created.ID
			return nil
		})
		if errors.Is(err, ErrOfferNumberTaken) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, ErrOfferNumberTaken) {
			return nil, fmt.Errorf("%w: offer slot for %s after %d attempts", shared.ErrSequenceConflict, header.Number, s.opts.OfferAttempts)
		}
		return nil, fmt.Errorf("create offer: %w", err)
	}
	s.recordAudit(ctx, actorID, "quotation.offer.create", header.ID, map[string]any{"offer_id": id})
	return s.GetOffer(ctx, id)
}

// createOriginal stores a revision-0 offer and its items, numbered 1..N.
func (s *Service) createOriginal(ctx context.Context, tx Repository, header *Header, in OfferInput, actorID int64) (*Offer, error) {
	slot, err := tx.MaxOfferSlot(ctx, header.ID)
	if err != nil {
		return nil, err
	}
	slot++
	offer := Offer{
		HeaderID:               header.ID,
		OfferNumber:            header.Number + "-" + strconv.Itoa(slot),
		OfferNumberInQuotation: slot,
		Notes:                  strings.TrimSpace(in.Notes),
		NotesImages:            attachments.Dedupe(in.NotesImages),
		CreatedBy:              actorID,
		CreatedAt:              s.now(),
	}
	if err := s.insertOffer(ctx, tx, &offer, itemsFromInputs(in.Items)); err != nil {
		return nil, err
	}
	return &offer, nil
}

// CreateRevision derives revision n+1 from parent. Images are the union of the
// parent's and the new ones. Without explicit items the parent's items are
// copied with acceptance cleared.
func (s *Service) CreateRevision(ctx context.Context, parentID, actorID int64, req RevisionRequest) (*Offer, error) {
	if err := shared.ValidateStruct(req); err != nil {
		return nil, err
	}
	parent, err := s.repo.GetOffer(ctx, parentID)
	if err != nil {
		return nil, err
	}
	header, err := s.mutable(ctx, parent.HeaderID, actorID, access.ActionEditQuotation)
	if err != nil {
		return nil, err
	}

	revision := parent.Revision + 1
	number := fmt.Sprintf("%s-Rev%d", BaseOfferNumber(parent.OfferNumber), revision)
	taken, err := s.repo.OfferNumberExists(ctx, number)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, fmt.Errorf("%w: offer %s", shared.ErrAlreadyExists, number)
	}

	notes := parent.Notes
	if req.Notes != nil {
		notes = strings.TrimSpace(*req.Notes)
	}
	var items []Item
	if req.Items != nil {
		items = itemsFromInputs(req.Items)
	} else {
		parentItems, err := s.repo.ListItems(ctx, parent.ID)
		if err != nil {
			return nil, err
		}
		items = copyItems(parentItems)
	}

	parentRef := parent.ID
	offer := Offer{
		HeaderID:               header.ID,
		OfferNumber:            number,
		OfferNumberInQuotation: parent.OfferNumberInQuotation,
		Revision:               revision,
		ParentOfferID:          &parentRef,
		Notes:                  notes,
		NotesImages:            attachments.Dedupe(append(append([]string(nil), parent.NotesImages...), req.NotesImages...)),
		CreatedBy:              actorID,
		CreatedAt:              s.now(),
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		return s.insertOffer(ctx, tx, &offer, items)
	})
	if err != nil {
		return nil, fmt.Errorf("create revision: %w", offerConflict(err))
	}
	s.recordAudit(ctx, actorID, "quotation.offer.revise", header.ID, map[string]any{"offer_number": number})
	return s.GetOffer(ctx, offer.ID)
}

func (s *Service) insertOffer(ctx context.Context, tx Repository, offer *Offer, items []Item) error {
	id, err := tx.CreateOffer(ctx, *offer)
	if err != nil {
		return err
	}
	offer.ID = id
	for i := range items {
		items[i].OfferID = id
		items[i].ItemNumber = i + 1
		if _, err := tx.InsertItem(ctx, items[i]); err != nil {
			return err
		}
	}
	totals, err := s.recompute(ctx, tx, id)
	if err != nil {
		return err
	}
	offer.Totals = totals
	return nil
}

// GetOffer loads an offer with its items.
func (s *Service) GetOffer(ctx context.Context, id int64) (*Offer, error) {
	o, err := s.repo.GetOffer(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.ListItems(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load offer items: %w", err)
	}
	o.Items = items
	return o, nil
}

// GetOfferForActor loads an offer of a quotation the actor may read.
func (s *Service) GetOfferForActor(ctx context.Context, id, actorID int64) (*Offer, error) {
	o, err := s.GetOffer(ctx, id)
	if err != nil {
		return nil, err
	}
	header, err := s.repo.GetHeader(ctx, o.HeaderID)
	if err != nil {
		return nil, err
	}
	if err := s.access.RequireView(ctx, actorID, header.Subject()); err != nil {
		return nil, err
	}
	return o, nil
}

// UpdateOffer edits notes and images. Removed images are cleaned up when no
// other offer references them.
func (s *Service) UpdateOffer(ctx context.Context, id, actorID int64, req UpdateOfferRequest) (*Offer, error) {
	if err := shared.ValidateStruct(req); err != nil {
		return nil, err
	}
	offer, err := s.repo.GetOffer(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.mutable(ctx, offer.HeaderID, actorID, access.ActionEditQuotation); err != nil {
		return nil, err
	}

	notes := offer.Notes
	if req.Notes != nil {
		notes = strings.TrimSpace(*req.Notes)
	}
	remove := make(map[string]bool, len(req.RemoveImages))
	for _, ref := range attachments.Dedupe(req.RemoveImages) {
		remove[ref] = true
	}
	added := attachments.Dedupe(req.AddImages)
	readded := make(map[string]bool, len(added))
	for _, ref := range added {
		readded[ref] = true
	}
	var images, removed []string
	for _, ref := range offer.NotesImages {
		if remove[ref] && !readded[ref] {
			removed = append(removed, ref)
			continue
		}
		images = append(images, ref)
	}
	images = attachments.Dedupe(append(images, added...))

	if err := s.repo.UpdateOffer(ctx, id, notes, images); err != nil {
		return nil, err
	}
	if len(removed) > 0 {
		var result DeleteResult
		s.cleanup(ctx, removed, &result)
	}
	return s.GetOffer(ctx, id)
}

// DeleteOffer removes an offer and its items. Offers with live revisions
// cannot be deleted, nor can the selected offer of a won quotation.
func (s *Service) DeleteOffer(ctx context.Context, id, actorID int64) (*DeleteResult, error) {
	offer, err := s.repo.GetOffer(ctx, id)
	if err != nil {
		return nil, err
	}
	header, err := s.mutable(ctx, offer.HeaderID, actorID, access.ActionDeleteQuotation)
	if err != nil {
		return nil, err
	}
	hasRevisions, err := s.repo.HasRevisions(ctx, id)
	if err != nil {
		return nil, err
	}
	if hasRevisions {
		return nil, shared.InvalidStatef("offer %s has revisions; delete them first", offer.OfferNumber)
	}
	if header.SelectedOfferID != nil && *header.SelectedOfferID == id {
		return nil, shared.InvalidStatef("offer %s is the selected offer of won quotation %s", offer.OfferNumber, header.Number)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		if err := tx.DeleteItemsByOffer(ctx, id); err != nil {
			return err
		}
		return tx.DeleteOffer(ctx, id)
	})
	if err != nil {
		return nil, fmt.Errorf("delete offer %s: %w", offer.OfferNumber, err)
	}

	result := &DeleteResult{DeletedOffers: 1}
	s.cleanup(ctx, offer.NotesImages, result)
	s.recordAudit(ctx, actorID, "quotation.offer.delete", header.ID, map[string]any{"offer_number": offer.OfferNumber})
	return result, nil
}

// RecomputeTotals refreshes the cached totals of an offer. It is idempotent.
func (s *Service) RecomputeTotals(ctx context.Context, id, actorID int64) (*Offer, error) {
	offer, err := s.repo.GetOffer(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.mutable(ctx, offer.HeaderID, actorID, access.ActionEditQuotation); err != nil {
		return nil, err
	}
	if _, err := s.recompute(ctx, s.repo, id); err != nil {
		return nil, err
	}
	return s.GetOffer(ctx, id)
}

// recompute reloads every item of the offer and saves fresh totals.
func (s *Service) recompute(ctx context.Context, repo Repository, offerID int64) (Totals, error) {
	items, err := repo.ListItems(ctx, offerID)
	if err != nil {
		return Totals{}, err
	}
	totals := ComputeTotals(items)
	if err := repo.SaveTotals(ctx, offerID, totals); err != nil {
		return Totals{}, err
	}
	return totals, nil
}

// offerConflict maps an offer number collision to ErrAlreadyExists.
func offerConflict(err error) error {
	if errors.Is(err, ErrOfferNumberTaken) {
		return fmt.Errorf("%w: offer number already used", shared.ErrAlreadyExists)
	}
	return err
}

func itemsFromInputs(inputs []ItemInput) []Item {
	items := make([]Item, 0, len(inputs))
	for _, in := range inputs {
		items = append(items, itemFromInput(in))
	}
	return items
}

func itemFromInput(in ItemInput) Item {
	discountType := in.DiscountType
	if discountType == "" {
		discountType = DiscountPercentage
	}
	quantity := in.Quantity
	if quantity == 0 {
		quantity = 1
	}
	return Item{
		Karoseri:       strings.TrimSpace(in.Karoseri),
		Chassis:        strings.TrimSpace(in.Chassis),
		DrawingID:      in.DrawingID,
		Specifications: in.Specifications.Normalize(),
		Price:          money.Round2(*in.Price),
		DiscountType:   discountType,
		DiscountValue:  money.Round2(in.DiscountValue),
		Netto:          money.Round2(*in.Netto),
		ExcludePPN:     in.ExcludePPN,
		Quantity:       quantity,
		Notes:          strings.TrimSpace(in.Notes),
	}
}

// copyItems carries items into a revision with fresh identity and no acceptance.
func copyItems(src []Item) []Item {
	out := make([]Item, 0, len(src))
	for _, it := range src {
		out = append(out, Item{
			Karoseri:       it.Karoseri,
			Chassis:        it.Chassis,
			DrawingID:      it.DrawingID,
			Specifications: it.Specifications.Clone(),
			Price:          it.Price,
			DiscountType:   it.DiscountType,
			DiscountValue:  it.DiscountValue,
			Netto:          it.Netto,
			ExcludePPN:     it.ExcludePPN,
			Quantity:       it.Quantity,
			Notes:          it.Notes,
		})
	}
	return out
}

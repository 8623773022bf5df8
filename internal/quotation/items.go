package quotation

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/karoseri/quotedesk/internal/access"
	"github.com/karoseri/quotedesk/internal/lineitems"
	"github.com/karoseri/quotedesk/internal/platform/money"
	"github.com/karoseri/quotedesk/internal/shared"
)

// AddItem appends an item numbered max+1 and recomputes the offer.
func (s *Service) AddItem(ctx context.Context, offerID, actorID int64, in ItemInput) (*Item, error) {
	if err := shared.ValidateStruct(in); err != nil {
		return nil, err
	}
	offer, err := s.repo.GetOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if _, err := s.mutable(ctx, offer.HeaderID, actorID, access.ActionEditQuotation); err != nil {
		return nil, err
	}
	item := itemFromInput(in)
	item.OfferID = offerID
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		existing, err := tx.ListItems(ctx, offerID)
		if err != nil {
			return err
		}
		item.ItemNumber = lineitems.NextNumber(itemNumbers(existing))
		id, err := tx.InsertItem(ctx, item)
		if err != nil {
			return err
		}
		item.ID = id
		_, err = s.recompute(ctx, tx, offerID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("add offer item: %w", err)
	}
	return s.repo.GetItem(ctx, item.ID)
}

// UpdateItem patches an item and recomputes its offer.
func (s *Service) UpdateItem(ctx context.Context, itemID, actorID int64, patch ItemPatch) (*Item, error) {
	if err := shared.ValidateStruct(patch); err != nil {
		return nil, err
	}
	item, _, err := s.editableItem(ctx, itemID, actorID, access.ActionEditQuotation)
	if err != nil {
		return nil, err
	}
	applyItemPatch(item, patch)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		if err := tx.UpdateItem(ctx, *item); err != nil {
			return err
		}
		_, err := s.recompute(ctx, tx, item.OfferID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.repo.GetItem(ctx, itemID)
}

// DeleteItem removes an item, repacks the remaining numbers to 1..N and
// recomputes the offer.
func (s *Service) DeleteItem(ctx context.Context, itemID, actorID int64) error {
	item, header, err := s.editableItem(ctx, itemID, actorID, access.ActionEditQuotation)
	if err != nil {
		return err
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		if err := tx.DeleteItem(ctx, itemID); err != nil {
			return err
		}
		remaining, err := tx.ListItems(ctx, item.OfferID)
		if err != nil {
			return err
		}
		for _, change := range lineitems.Repack(numberedItems(remaining)) {
			if err := tx.SetItemNumber(ctx, change.ID, change.To); err != nil {
				return err
			}
		}
		if _, err := s.recompute(ctx, tx, item.OfferID); err != nil {
			return err
		}
		if item.IsAccepted && isSelected(header, item.OfferID) {
			return s.syncSelection(ctx, tx, header)
		}
		return nil
	})
}

// SetItemAcceptance toggles one item. Accepting requires the quotation to be
// won with the item's offer selected; the header's selection follows the change.
func (s *Service) SetItemAcceptance(ctx context.Context, itemID, actorID int64, req AcceptanceRequest) (*Item, error) {
	if err := shared.ValidateStruct(req); err != nil {
		return nil, err
	}
	item, header, err := s.editableItem(ctx, itemID, actorID, access.ActionEditQuotation)
	if err != nil {
		return nil, err
	}
	accept := *req.Accepted
	if accept && (header.Status.Type != StatusWin || !isSelected(header, item.OfferID)) {
		return nil, shared.InvalidStatef("items can only be accepted on the selected offer of a won quotation")
	}
	if item.IsAccepted == accept {
		return item, nil
	}
	a := Acceptance{}
	if accept {
		now := s.now()
		a = Acceptance{Accepted: true, At: &now, By: &actorID}
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		if err := tx.SetItemAcceptance(ctx, itemID, a); err != nil {
			return err
		}
		if _, err := s.recompute(ctx, tx, item.OfferID); err != nil {
			return err
		}
		if isSelected(header, item.OfferID) {
			return s.syncSelection(ctx, tx, header)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.repo.GetItem(ctx, itemID)
}

// syncSelection rewrites the header's selected item ids from the accepted
// items of the selected offer.
func (s *Service) syncSelection(ctx context.Context, tx Repository, header *Header) error {
	items, err := tx.ListItems(ctx, *header.SelectedOfferID)
	if err != nil {
		return err
	}
	selected := []int64{}
	for _, it := range items {
		if it.IsAccepted {
			selected = append(selected, it.ID)
		}
	}
	sort.Slice(selected, func(i, j int) bool { return selected[i] < selected[j] })
	return tx.UpdateStatus(ctx, header.ID, StatusUpdate{
		Status:               header.Status,
		SelectedOfferID:      header.SelectedOfferID,
		SelectedOfferItemIDs: selected,
		At:                   s.now(),
	})
}

func (s *Service) editableItem(ctx context.Context, itemID, actorID int64, action access.Action) (*Item, *Header, error) {
	item, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return nil, nil, err
	}
	offer, err := s.repo.GetOffer(ctx, item.OfferID)
	if err != nil {
		return nil, nil, err
	}
	header, err := s.mutable(ctx, offer.HeaderID, actorID, action)
	if err != nil {
		return nil, nil, err
	}
	return item, header, nil
}

func isSelected(h *Header, offerID int64) bool {
	return h.SelectedOfferID != nil && *h.SelectedOfferID == offerID
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
	if p.DiscountType != nil {
		it.DiscountType = *p.DiscountType
	}
	if p.DiscountValue != nil {
		it.DiscountValue = money.Round2(*p.DiscountValue)
	}
	if p.Netto != nil {
		it.Netto = money.Round2(*p.Netto)
	}
	if p.ExcludePPN != nil {
		it.ExcludePPN = *p.ExcludePPN
	}
	if p.Quantity != nil {
		it.Quantity = *p.Quantity
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

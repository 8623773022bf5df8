package quotation

import (
	"time"

	"github.com/karoseri/quotedesk/internal/access"
	"github.com/karoseri/quotedesk/internal/lineitems"
)

// StatusType is the commercial outcome of a quotation.
type StatusType string

const (
	StatusOpen  StatusType = "open"
	StatusWin   StatusType = "win"
	StatusLoss  StatusType = "loss"
	StatusClose StatusType = "close"
)

// needsReason reports whether t must carry a reason.
func (t StatusType) needsReason() bool {
	return t == StatusLoss || t == StatusClose
}

// Status pairs the outcome with the salesperson's explanation.
type Status struct {
	Type   StatusType `json:"type"`
	Reason string     `json:"reason,omitempty"`
}

// DiscountType tells how DiscountValue is read.
type DiscountType string

const (
	DiscountFlat       DiscountType = "flat"
	DiscountPercentage DiscountType = "percentage"
)

// ContactPerson is the customer-side contact.
type ContactPerson struct {
	Name   string `json:"name" validate:"required,max=120"`
	Gender string `json:"gender,omitempty" validate:"omitempty,oneof=male female"`
	Phone  string `json:"phone,omitempty" validate:"omitempty,max=40"`
}

// ProgressEntry is one free-text note in the quotation's sales log.
type ProgressEntry struct {
	At       time.Time `json:"at"`
	AuthorID int64     `json:"author_id"`
	Note     string    `json:"note"`
}

// Header is the customer-facing quotation.
type Header struct {
	ID                   int64           `json:"id"`
	Number               string          `json:"quotation_number"`
	RFQID                *int64          `json:"rfq_id,omitempty"`
	RequesterID          int64           `json:"requester_id"`
	ApproverID           int64           `json:"approver_id"`
	CreatorID            int64           `json:"creator_id"`
	MarketingName        string          `json:"marketing_name"`
	CustomerName         string          `json:"customer_name"`
	ContactPerson        ContactPerson   `json:"contact_person"`
	Status               Status          `json:"status"`
	SelectedOfferID      *int64          `json:"selected_offer_id,omitempty"`
	SelectedOfferItemIDs []int64         `json:"selected_offer_item_ids"`
	LastFollowUpDate     *time.Time      `json:"last_follow_up_date,omitempty"`
	Progress             []ProgressEntry `json:"progress"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`

	// Actors of the request the quotation was converted from.
	LinkedRequesterID *int64 `json:"-"`
	LinkedApproverID  *int64 `json:"-"`

	FollowUp FollowUpStatus `json:"follow_up_status"`
}

// Subject returns the relationships the access filter evaluates.
func (h *Header) Subject() access.Subject {
	s := access.Subject{CreatorID: h.CreatorID, RequesterID: h.RequesterID, ApproverID: h.ApproverID}
	if h.LinkedRequesterID != nil || h.LinkedApproverID != nil {
		linked := access.Subject{}
		if h.LinkedRequesterID != nil {
			linked.RequesterID = *h.LinkedRequesterID
		}
		if h.LinkedApproverID != nil {
			linked.ApproverID = *h.LinkedApproverID
		}
		s.Linked = &linked
	}
	return s
}

// Totals are cached sums over an offer's items. They are always recomputed
// from the items, never taken from input.
type Totals struct {
	TotalPrice          float64 `json:"total_price"`
	TotalNetto          float64 `json:"total_netto"`
	TotalDiscount       float64 `json:"total_discount"`
	TotalItemsCount     int     `json:"total_items_count"`
	AcceptedItemsCount  int     `json:"accepted_items_count"`
	IsFullyAccepted     bool    `json:"is_fully_accepted"`
	IsPartiallyAccepted bool    `json:"is_partially_accepted"`
}

// Offer is one proposal, or one revision of a proposal, under a header.
type Offer struct {
	ID                     int64    `json:"id"`
	HeaderID               int64    `json:"quotation_header_id"`
	OfferNumber            string   `json:"offer_number"`
	OfferNumberInQuotation int      `json:"offer_number_in_quotation"`
	Revision               int      `json:"revision"`
	ParentOfferID          *int64   `json:"parent_quotation_id,omitempty"`
	Notes                  string   `json:"notes"`
	NotesImages            []string `json:"notes_images"`
	Totals
	CreatedBy int64     `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Items     []Item    `json:"items,omitempty"`
}

// Item is one karoseri and chassis line inside an offer.
type Item struct {
	ID             int64                    `json:"id"`
	OfferID        int64                    `json:"offer_id"`
	ItemNumber     int                      `json:"item_number"`
	Karoseri       string                   `json:"karoseri"`
	Chassis        string                   `json:"chassis"`
	DrawingID      *int64                   `json:"drawing_id,omitempty"`
	Specifications lineitems.Specifications `json:"specifications"`
	Price          float64                  `json:"price"`
	DiscountType   DiscountType             `json:"discount_type"`
	DiscountValue  float64                  `json:"discount_value"`
	Netto          float64                  `json:"netto"`
	ExcludePPN     bool                     `json:"exclude_ppn"`
	Quantity       int                      `json:"quantity"`
	Notes          string                   `json:"notes,omitempty"`
	IsAccepted     bool                     `json:"is_accepted"`
	AcceptedAt     *time.Time               `json:"accepted_at,omitempty"`
	AcceptedBy     *int64                   `json:"accepted_by,omitempty"`
	CreatedAt      time.Time                `json:"created_at"`
	UpdatedAt      time.Time                `json:"updated_at"`
}

// Detail is a header with its offers and their items.
type Detail struct {
	Header
	Offers []Offer `json:"offers"`
}

// DeleteResult reports a cascade delete. Warning is set when image cleanup
// failed after the rows were removed.
type DeleteResult struct {
	DeletedOffers int    `json:"deleted_offers"`
	DeletedImages int    `json:"deleted_images"`
	KeptImages    int    `json:"kept_images"`
	Warning       string `json:"warning,omitempty"`
}

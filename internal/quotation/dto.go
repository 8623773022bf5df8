package quotation

import (
	"time"

	"github.com/karoseri/quotedesk/internal/lineitems"
)

// CreateQuotationRequest opens a quotation directly, without a request.
type CreateQuotationRequest struct {
	RequesterID   int64         `json:"requester_id" validate:"omitempty,gt=0"`
	ApproverID    int64         `json:"approver_id" validate:"required,gt=0"`
	MarketingName string        `json:"marketing_name" validate:"max=120"`
	CustomerName  string        `json:"customer_name" validate:"required,max=200"`
	ContactPerson ContactPerson `json:"contact_person" validate:"required"`
	Offer         OfferInput    `json:"offer"`
}

// Draft is the fully resolved input of a new quotation. The conversion from
// a request builds one with the request's actors.
type Draft struct {
	RFQID         *int64
	RequesterID   int64         `validate:"required,gt=0"`
	ApproverID    int64         `validate:"required,gt=0"`
	CreatorID     int64         `validate:"required,gt=0"`
	MarketingName string        `validate:"max=120"`
	CustomerName  string        `validate:"required,max=200"`
	ContactPerson ContactPerson `validate:"required"`
	Offer         OfferInput
}

// OfferInput describes a new original offer.
type OfferInput struct {
	Notes       string      `json:"notes" validate:"max=4000"`
	NotesImages []string    `json:"notes_images" validate:"dive,required,max=500"`
	Items       []ItemInput `json:"offer_items" validate:"dive"`
}

// ItemInput describes one offer line. Netto is computed by the caller.
type ItemInput struct {
	Karoseri       string                   `json:"karoseri" validate:"required,max=200"`
	Chassis        string                   `json:"chassis" validate:"required,max=200"`
	DrawingID      *int64                   `json:"drawing_id,omitempty" validate:"omitempty,gt=0"`
	Specifications lineitems.Specifications `json:"specifications" validate:"dive"`
	Price          *float64                 `json:"price" validate:"required,gte=0"`
	DiscountType   DiscountType             `json:"discount_type" validate:"omitempty,oneof=flat percentage"`
	DiscountValue  float64                  `json:"discount_value" validate:"gte=0"`
	Netto          *float64                 `json:"netto" validate:"required,gte=0"`
	ExcludePPN     bool                     `json:"exclude_ppn"`
	Quantity       int                      `json:"quantity" validate:"omitempty,gte=1"`
	Notes          string                   `json:"notes" validate:"max=2000"`
}

// RevisionRequest derives a revision from an existing offer. Nil Notes keeps
// the parent's notes and nil Items copies the parent's items.
type RevisionRequest struct {
	Notes       *string     `json:"notes,omitempty" validate:"omitempty,max=4000"`
	NotesImages []string    `json:"notes_images" validate:"dive,required,max=500"`
	Items       []ItemInput `json:"offer_items,omitempty" validate:"omitempty,dive"`
}

// UpdateOfferRequest edits notes and the image list of an offer.
type UpdateOfferRequest struct {
	Notes        *string  `json:"notes,omitempty" validate:"omitempty,max=4000"`
	AddImages    []string `json:"add_images" validate:"dive,required,max=500"`
	RemoveImages []string `json:"remove_images" validate:"dive,required"`
}

// ItemPatch updates selected fields of an offer item.
type ItemPatch struct {
	Karoseri       *string                   `json:"karoseri,omitempty" validate:"omitempty,min=1,max=200"`
	Chassis        *string                   `json:"chassis,omitempty" validate:"omitempty,min=1,max=200"`
	DrawingID      *int64                    `json:"drawing_id,omitempty" validate:"omitempty,gt=0"`
	Specifications *lineitems.Specifications `json:"specifications,omitempty"`
	Price          *float64                  `json:"price,omitempty" validate:"omitempty,gte=0"`
	DiscountType   *DiscountType             `json:"discount_type,omitempty" validate:"omitempty,oneof=flat percentage"`
	DiscountValue  *float64                  `json:"discount_value,omitempty" validate:"omitempty,gte=0"`
	Netto          *float64                  `json:"netto,omitempty" validate:"omitempty,gte=0"`
	ExcludePPN     *bool                     `json:"exclude_ppn,omitempty"`
	Quantity       *int                      `json:"quantity,omitempty" validate:"omitempty,gte=1"`
	Notes          *string                   `json:"notes,omitempty" validate:"omitempty,max=2000"`
}

// StatusRequest sets the commercial outcome.
type StatusRequest struct {
	Type                 StatusType `json:"type" validate:"required,oneof=open win loss close"`
	Reason               string     `json:"reason" validate:"max=2000"`
	SelectedOfferID      *int64     `json:"selected_offer_id,omitempty" validate:"omitempty,gt=0"`
	SelectedOfferItemIDs []int64    `json:"selected_offer_item_ids" validate:"dive,gt=0"`
}

// ProgressRequest appends a sales log note.
type ProgressRequest struct {
	Note string `json:"note" validate:"required,max=2000"`
}

// AcceptanceRequest toggles one item's acceptance.
type AcceptanceRequest struct {
	Accepted *bool `json:"accepted" validate:"required"`
}

// ListRequest filters quotation listings.
type ListRequest struct {
	Status  *StatusType
	Page    int
	PerPage int
}

// ListFilter is the repository-level listing query.
type ListFilter struct {
	ActorID int64
	ViewAll bool
	Status  *StatusType
	Limit   int
	Offset  int
}

// StatusUpdate is written by Repository.UpdateStatus.
type StatusUpdate struct {
	Status               Status
	SelectedOfferID      *int64
	SelectedOfferItemIDs []int64
	At                   time.Time
}

// Acceptance is written by Repository.SetItemAcceptance. A false Accepted
// clears the stamp.
type Acceptance struct {
	Accepted bool
	At       *time.Time
	By       *int64
}

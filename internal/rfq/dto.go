package rfq

import (
	"time"

	"github.com/karoseri/quotedesk/internal/lineitems"
)

// CreateRFQRequest is the payload for submitting a new request.
type CreateRFQRequest struct {
	ApproverID           int64         `json:"approver_id" validate:"required,gt=0"`
	QuotationCreatorID   int64         `json:"quotation_creator_id" validate:"required,gt=0"`
	CustomerName         string        `json:"customer_name" validate:"required,max=200"`
	ContactPerson        ContactPerson `json:"contact_person" validate:"required"`
	Description          string        `json:"description" validate:"max=4000"`
	ConfidenceRate       *int          `json:"confidence_rate" validate:"required,gte=0,lte=100"`
	DeliveryLocation     string        `json:"delivery_location" validate:"required,max=200"`
	Competitor           string        `json:"competitor" validate:"required,max=200"`
	CanMake              *bool         `json:"can_make" validate:"required"`
	ProjectOngoing       *bool         `json:"project_ongoing" validate:"required"`
	Priority             Priority      `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	ExpectedDeliveryDate *time.Time    `json:"expected_delivery_date,omitempty"`
	Items                []ItemRequest `json:"items" validate:"required,min=1,dive"`
}

// ItemRequest describes one requested item.
type ItemRequest struct {
	Karoseri       string                   `json:"karoseri" validate:"required,max=200"`
	Chassis        string                   `json:"chassis" validate:"required,max=200"`
	DrawingID      *int64                   `json:"drawing_id,omitempty" validate:"omitempty,gt=0"`
	Specifications lineitems.Specifications `json:"specifications" validate:"dive"`
	Price          *float64                 `json:"price" validate:"required,gte=0"`
	PriceNet       *float64                 `json:"price_net" validate:"required,gte=0"`
	Notes          string                   `json:"notes" validate:"max=2000"`
}

// UpdateRFQRequest patches header fields of a pending request.
type UpdateRFQRequest struct {
	ApproverID           *int64         `json:"approver_id,omitempty" validate:"omitempty,gt=0"`
	QuotationCreatorID   *int64         `json:"quotation_creator_id,omitempty" validate:"omitempty,gt=0"`
	CustomerName         *string        `json:"customer_name,omitempty" validate:"omitempty,min=1,max=200"`
	ContactPerson        *ContactPerson `json:"contact_person,omitempty"`
	Description          *string        `json:"description,omitempty" validate:"omitempty,max=4000"`
	ConfidenceRate       *int           `json:"confidence_rate,omitempty" validate:"omitempty,gte=0,lte=100"`
	DeliveryLocation     *string        `json:"delivery_location,omitempty" validate:"omitempty,min=1,max=200"`
	Competitor           *string        `json:"competitor,omitempty" validate:"omitempty,min=1,max=200"`
	CanMake              *bool          `json:"can_make,omitempty"`
	ProjectOngoing       *bool          `json:"project_ongoing,omitempty"`
	Priority             *Priority      `json:"priority,omitempty" validate:"omitempty,oneof=low medium high urgent"`
	ExpectedDeliveryDate *time.Time     `json:"expected_delivery_date,omitempty"`
}

// ItemPatch updates selected fields of an item.
type ItemPatch struct {
	Karoseri       *string                   `json:"karoseri,omitempty" validate:"omitempty,min=1,max=200"`
	Chassis        *string                   `json:"chassis,omitempty" validate:"omitempty,min=1,max=200"`
	DrawingID      *int64                    `json:"drawing_id,omitempty" validate:"omitempty,gt=0"`
	Specifications *lineitems.Specifications `json:"specifications,omitempty"`
	Price          *float64                  `json:"price,omitempty" validate:"omitempty,gte=0"`
	PriceNet       *float64                  `json:"price_net,omitempty" validate:"omitempty,gte=0"`
	Notes          *string                   `json:"notes,omitempty" validate:"omitempty,max=2000"`
}

// DecisionRequest carries the approver's notes. The bid call follows from the
// action: approve records bid, reject records no_bid.
type DecisionRequest struct {
	Notes string `json:"notes" validate:"max=2000"`
}

// ListRequest filters request listings.
type ListRequest struct {
	Status  *Status
	Page    int
	PerPage int
}

// ListFilter is the repository-level listing query.
type ListFilter struct {
	ActorID int64
	ViewAll bool
	// AsApprover and AsCreator widen the actor's own requests to those they
	// approve or quote for.
	AsApprover bool
	AsCreator  bool
	Status  *Status
	Limit   int
	Offset  int
}

// DecisionUpdate is written by Repository.Decide.
type DecisionUpdate struct {
	Status   Status
	Decision *Decision
	Notes    string
	At       time.Time
}

package rfq

import (
	"time"

	"github.com/karoseri/quotedesk/internal/access"
	"github.com/karoseri/quotedesk/internal/lineitems"
	"github.com/karoseri/quotedesk/internal/platform/money"
)

// Status is the lifecycle state of a request for quotation.
type Status string

const (
	StatusPending          Status = "pending"
	StatusApproved         Status = "approved"
	StatusRejected         Status = "rejected"
	StatusQuotationCreated Status = "quotation_created"
)

// Decision records the approver's bid call.
type Decision string

const (
	DecisionBid   Decision = "bid"
	DecisionNoBid Decision = "no_bid"
)

// Priority ranks incoming requests for the estimating team.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// View names the perspective an actor has on a request in listings.
type View string

const (
	ViewApprover  View = "approver"
	ViewCreator   View = "creator"
	ViewRequester View = "requester"
	ViewObserver  View = "observer"
)

// ContactPerson is the customer-side contact.
type ContactPerson struct {
	Name   string `json:"name" validate:"required,max=120"`
	Gender string `json:"gender,omitempty" validate:"omitempty,oneof=male female"`
	Phone  string `json:"phone,omitempty" validate:"omitempty,max=40"`
}

// RFQ is a sales request for a priced quotation.
type RFQ struct {
	ID                   int64         `json:"id"`
	Number               string        `json:"rfq_number"`
	RequesterID          int64         `json:"requester_id"`
	ApproverID           int64         `json:"approver_id"`
	QuotationCreatorID   int64         `json:"quotation_creator_id"`
	CustomerName         string        `json:"customer_name"`
	ContactPerson        ContactPerson `json:"contact_person"`
	Description          string        `json:"description"`
	ConfidenceRate       int           `json:"confidence_rate"`
	DeliveryLocation     string        `json:"delivery_location"`
	Competitor           string        `json:"competitor"`
	CanMake              bool          `json:"can_make"`
	ProjectOngoing       bool          `json:"project_ongoing"`
	Priority             Priority      `json:"priority"`
	ExpectedDeliveryDate *time.Time    `json:"expected_delivery_date,omitempty"`
	Status               Status        `json:"status"`
	IsApproved           bool          `json:"is_approved"`
	ApprovalDecision     *Decision     `json:"approval_decision,omitempty"`
	ApprovalNotes        string        `json:"approval_notes,omitempty"`
	SubmittedAt          time.Time     `json:"submitted_at"`
	ApprovedAt           *time.Time    `json:"approved_at,omitempty"`
	RejectedAt           *time.Time    `json:"rejected_at,omitempty"`
	QuotationCreatedAt   *time.Time    `json:"quotation_created_at,omitempty"`
	QuotationID          *int64        `json:"quotation_id,omitempty"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
	Items                []Item        `json:"items"`
}

// Item is one body build requested on an RFQ.
type Item struct {
	ID             int64                    `json:"id"`
	RFQID          int64                    `json:"rfq_id"`
	ItemNumber     int                      `json:"item_number"`
	Karoseri       string                   `json:"karoseri"`
	Chassis        string                   `json:"chassis"`
	DrawingID      *int64                   `json:"drawing_id,omitempty"`
	Specifications lineitems.Specifications `json:"specifications"`
	Price          float64                  `json:"price"`
	PriceNet       float64                  `json:"price_net"`
	Notes          string                   `json:"notes,omitempty"`
	CreatedAt      time.Time                `json:"created_at"`
	UpdatedAt      time.Time                `json:"updated_at"`
}

// ListEntry decorates a request with the actor's perspective.
type ListEntry struct {
	RFQ
	View View `json:"view"`
}

// approvedStatus reports whether s counts as approved. A converted request
// stays approved.
func approvedStatus(s Status) bool {
	return s == StatusApproved || s == StatusQuotationCreated
}

// Subject returns the relationships the access filter evaluates.
func (r *RFQ) Subject() access.Subject {
	return access.Subject{
		CreatorID:   r.QuotationCreatorID,
		RequesterID: r.RequesterID,
		ApproverID:  r.ApproverID,
	}
}

// Capabilities are the actor permissions that make an assignment count.
// An approver without the approve capability, or a quotation creator without
// the create capability, sees the request only through another relationship.
type Capabilities struct {
	Approve         bool
	CreateQuotation bool
}

// ViewFor picks the actor's perspective. Approver outranks quotation creator,
// which outranks requester.
func (r *RFQ) ViewFor(actorID int64, caps Capabilities) View {
	switch {
	case caps.Approve && actorID == r.ApproverID:
		return ViewApprover
	case caps.CreateQuotation && actorID == r.QuotationCreatorID:
		return ViewCreator
	case actorID == r.RequesterID:
		return ViewRequester
	default:
		return ViewObserver
	}
}

// EstimatedNet sums the net price of every item.
func (r *RFQ) EstimatedNet() float64 {
	values := make([]float64, 0, len(r.Items))
	for _, it := range r.Items {
		values = append(values, it.PriceNet)
	}
	return money.Sum(values...)
}

// Package conversion turns an approved request for quotation into a quotation
// with its first offer.
package conversion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/karoseri/quotedesk/internal/access"
	"github.com/karoseri/quotedesk/internal/quotation"
	"github.com/karoseri/quotedesk/internal/rfq"
	"github.com/karoseri/quotedesk/internal/shared"
)

const idempotencyModule = "rfq.convert"

// RFQSource reads requests and links them to their quotation.
type RFQSource interface {
	Get(ctx context.Context, id int64) (*rfq.RFQ, error)
	MarkQuotationCreated(ctx context.Context, id, quotationID int64) error
}

// QuotationSink creates quotations and removes them again on rollback.
type QuotationSink interface {
	CreateFromDraft(ctx context.Context, actorID int64, d quotation.Draft) (*quotation.Detail, error)
	Discard(ctx context.Context, id int64) error
}

// KeyStore claims idempotency keys.
type KeyStore interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Notifier queues in-app notifications.
type Notifier interface {
	Notify(ctx context.Context, userID int64, title, description, link string) error
}

// ApprovalPort records the hand-off in the request's approval trail.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

// AuditPort writes audit records.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Request carries optional overrides. Actor fields are accepted but ignored:
// the quotation always inherits the request's requester, approver and creator.
type Request struct {
	CustomerName  *string                  `json:"customer_name,omitempty" validate:"omitempty,min=1,max=200"`
	ContactPerson *quotation.ContactPerson `json:"contact_person,omitempty"`
	MarketingName string                   `json:"marketing_name" validate:"max=120"`
	Notes         string                   `json:"notes" validate:"max=4000"`
	NotesImages   []string                 `json:"notes_images" validate:"dive,required,max=500"`
	RequesterID   *int64                   `json:"requester_id,omitempty"`
	ApproverID    *int64                   `json:"approver_id,omitempty"`
	CreatorID     *int64                   `json:"creator_id,omitempty"`
}

// Result is the converted pair.
type Result struct {
	Quotation *quotation.Detail `json:"quotation"`
	RFQ       *rfq.RFQ          `json:"rfq"`
}

// Bridge performs conversions.
type Bridge struct {
	rfqs       RFQSource
	quotations QuotationSink
	keys       KeyStore
	notifier   Notifier
	approvals  ApprovalPort
	audit      AuditPort
	logger     *slog.Logger
}

// NewBridge constructs a Bridge.
func NewBridge(rfqs RFQSource, quotations QuotationSink, keys KeyStore, notifier Notifier, approvals ApprovalPort, audit AuditPort, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		rfqs:       rfqs,
		quotations: quotations,
		keys:       keys,
		notifier:   notifier,
		approvals:  approvals,
		audit:      audit,
		logger:     logger,
	}
}

// Convert creates the quotation for an approved request and marks the request
// quotation_created. When the request cannot be linked the new quotation is
// deleted again.
func (b *Bridge) Convert(ctx context.Context, rfqID, actorID int64, req Request) (*Result, error) {
	if err := shared.ValidateStruct(req); err != nil {
		return nil, err
	}
	source, err := b.rfqs.Get(ctx, rfqID)
	if err != nil {
		return nil, err
	}
	if source.Status != rfq.StatusApproved {
		return nil, shared.InvalidStatef("rfq %s is %s, only approved requests convert", source.Number, source.Status)
	}
	if !access.Allowed(actorID, source.Subject(), access.ActionConvertRFQ) {
		return nil, shared.NotAuthorizedf("only the assigned quotation creator may convert rfq %s", source.Number)
	}

	key := "RFQ:" + strconv.FormatInt(rfqID, 10) + ":convert"
	if b.keys != nil {
		if err := b.keys.CheckAndInsert(ctx, key, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return nil, shared.InvalidStatef("rfq %s is already being converted", source.Number)
			}
			return nil, fmt.Errorf("claim conversion: %w", err)
		}
	}
	done := false
	defer func() {
		if done || b.keys == nil {
			return
		}
		if err := b.keys.Delete(context.WithoutCancel(ctx), key); err != nil {
			b.logger.Warn("release conversion key", slog.String("key", key), slog.Any("error", err))
		}
	}()

	detail, err := b.quotations.CreateFromDraft(ctx, actorID, BuildDraft(source, req))
	if err != nil {
		return nil, fmt.Errorf("convert rfq %s: %w", source.Number, err)
	}
	if err := b.rfqs.MarkQuotationCreated(ctx, source.ID, detail.ID); err != nil {
		if derr := b.quotations.Discard(context.WithoutCancel(ctx), detail.ID); derr != nil {
			b.logger.Error("discard orphaned quotation",
				slog.String("quotation_number", detail.Number),
				slog.Any("error", derr))
		}
		return nil, fmt.Errorf("convert rfq %s: %w", source.Number, err)
	}
	done = true

	b.recordApproval(ctx, source.ID, actorID, detail.Number)
	b.recordAudit(ctx, actorID, source.ID, detail)
	b.notify(ctx, source.RequesterID, "Quotation created",
		fmt.Sprintf("%s for %s is now quotation %s", source.Number, source.CustomerName, detail.Number),
		"/quotations/"+strconv.FormatInt(detail.ID, 10))

	updated, err := b.rfqs.Get(ctx, source.ID)
	if err != nil {
		return nil, err
	}
	return &Result{Quotation: detail, RFQ: updated}, nil
}

// BuildDraft maps a request onto a quotation draft. Prices carry over with
// the net price as netto and a zero percentage discount.
func BuildDraft(source *rfq.RFQ, req Request) quotation.Draft {
	rfqID := source.ID
	d := quotation.Draft{
		RFQID:         &rfqID,
		RequesterID:   source.RequesterID,
		ApproverID:    source.ApproverID,
		CreatorID:     source.QuotationCreatorID,
		MarketingName: strings.TrimSpace(req.MarketingName),
		CustomerName:  source.CustomerName,
		ContactPerson: quotation.ContactPerson{
			Name:   source.ContactPerson.Name,
			Gender: source.ContactPerson.Gender,
			Phone:  source.ContactPerson.Phone,
		},
		Offer: quotation.OfferInput{
			Notes:       strings.TrimSpace(req.Notes),
			NotesImages: req.NotesImages,
		},
	}
	if req.CustomerName != nil {
		d.CustomerName = strings.TrimSpace(*req.CustomerName)
	}
	if req.ContactPerson != nil {
		d.ContactPerson = *req.ContactPerson
	}

	items := append([]rfq.Item(nil), source.Items...)
	sort.SliceStable(items, func(i, j int) bool { return items[i].ItemNumber < items[j].ItemNumber })
	d.Offer.Items = make([]quotation.ItemInput, 0, len(items))
	for _, it := range items {
		price, netto := it.Price, it.PriceNet
		d.Offer.Items = append(d.Offer.Items, quotation.ItemInput{
			Karoseri:       it.Karoseri,
			Chassis:        it.Chassis,
			DrawingID:      it.DrawingID,
			Specifications: it.Specifications.Clone(),
			Price:          &price,
			DiscountType:   quotation.DiscountPercentage,
			DiscountValue:  0,
			Netto:          &netto,
			Quantity:       1,
			Notes:          it.Notes,
		})
	}
	return d
}

func (b *Bridge) recordApproval(ctx context.Context, rfqID, actorID int64, quotationNumber string) {
	if b.approvals == nil {
		return
	}
	err := b.approvals.Record(ctx, shared.ApprovalLog{
		Module:  "RFQ",
		RefID:   strconv.FormatInt(rfqID, 10),
		ActorID: actorID,
		Action:  shared.ApprovalConvert,
		Note:    quotationNumber,
	})
	if err != nil {
		b.logger.Warn("record conversion approval", slog.Int64("rfq_id", rfqID), slog.Any("error", err))
	}
}

func (b *Bridge) recordAudit(ctx context.Context, actorID, rfqID int64, detail *quotation.Detail) {
	if b.audit == nil {
		return
	}
	err := b.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   "rfq.convert",
		Entity:   "rfq",
		EntityID: strconv.FormatInt(rfqID, 10),
		Meta:     map[string]any{"quotation_id": detail.ID, "quotation_number": detail.Number},
	})
	if err != nil {
		b.logger.Warn("record conversion audit", slog.Int64("rfq_id", rfqID), slog.Any("error", err))
	}
}

func (b *Bridge) notify(ctx context.Context, userID int64, title, description, link string) {
	if b.notifier == nil || userID <= 0 {
		return
	}
	if err := b.notifier.Notify(ctx, userID, title, description, link); err != nil {
		b.logger.Warn("queue notification", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}

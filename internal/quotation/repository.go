package quotation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/karoseri/quotedesk/internal/numbering"
	"github.com/karoseri/quotedesk/internal/platform/db"
	"github.com/karoseri/quotedesk/internal/shared"
)

var (
	// ErrOfferNumberTaken signals a unique violation on quotation_offers.offer_number.
	ErrOfferNumberTaken = errors.New("quotation: offer number taken")
)

// Repository persists quotation headers, offers and offer items.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error

	CreateHeader(ctx context.Context, h Header) (int64, error)
	GetHeader(ctx context.Context, id int64) (*Header, error)
	GetHeaderByNumber(ctx context.Context, number string) (*Header, error)
	ListHeaders(ctx context.Context, filter ListFilter) ([]Header, int, error)
	ListStale(ctx context.Context, before time.Time, limit int) ([]Header, error)
	UpdateStatus(ctx context.Context, id int64, u StatusUpdate) error
	TouchFollowUp(ctx context.Context, id int64, at time.Time) error
	AppendProgress(ctx context.Context, id int64, entry ProgressEntry) error
	DeleteHeader(ctx context.Context, id int64) error

	CreateOffer(ctx context.Context, o Offer) (int64, error)
	GetOffer(ctx context.Context, id int64) (*Offer, error)
	ListOffers(ctx context.Context, headerID int64) ([]Offer, error)
	MaxOfferSlot(ctx context.Context, headerID int64) (int, error)
	OfferNumberExists(ctx context.Context, number string) (bool, error)
	HasRevisions(ctx context.Context, offerID int64) (bool, error)
	UpdateOffer(ctx context.Context, id int64, notes string, images []string) error
	SaveTotals(ctx context.Context, id int64, t Totals) error
	DeleteOffer(ctx context.Context, id int64) error

	ListItems(ctx context.Context, offerID int64) ([]Item, error)
	GetItem(ctx context.Context, id int64) (*Item, error)
	InsertItem(ctx context.Context, it Item) (int64, error)
	UpdateItem(ctx context.Context, it Item) error
	SetItemAcceptance(ctx context.Context, id int64, a Acceptance) error
	SetItemNumber(ctx context.Context, id int64, number int) error
	DeleteItem(ctx context.Context, id int64) error
	DeleteItemsByOffer(ctx context.Context, offerID int64) error
}

type repository struct {
	db   db.DBTX
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	if _, inTx := r.db.(pgx.Tx); inTx {
		return fn(ctx, r)
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

const headerColumns = `h.id, h.quotation_number, h.rfq_id, h.requester_id, h.approver_id, h.creator_id,
h.marketing_name, h.customer_name, h.contact_person, h.status_type, h.status_reason,
h.selected_offer_id, h.selected_offer_item_ids, h.last_follow_up_date, h.progress,
h.created_at, h.updated_at, r.requester_id, r.approver_id`

const headerFrom = ` FROM quotation_headers h LEFT JOIN rfqs r ON r.id = h.rfq_id`

func (r *repository) CreateHeader(ctx context.Context, h Header) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO quotation_headers (
quotation_number, rfq_id, requester_id, approver_id, creator_id, marketing_name, customer_name,
contact_person, status_type, status_reason, selected_offer_item_ids, last_follow_up_date, progress,
created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,'{}',$11,'[]',$12,$12)
RETURNING id`,
		h.Number, h.RFQID, h.RequesterID, h.ApproverID, h.CreatorID, h.MarketingName, h.CustomerName,
		h.ContactPerson, string(h.Status.Type), h.Status.Reason, h.LastFollowUpDate, h.CreatedAt,
	).Scan(&id)
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return 0, numbering.ErrNumberTaken
		}
		return 0, fmt.Errorf("insert quotation header: %w", err)
	}
	return id, nil
}

func (r *repository) GetHeader(ctx context.Context, id int64) (*Header, error) {
	h, err := scanHeader(r.db.QueryRow(ctx, `SELECT `+headerColumns+headerFrom+` WHERE h.id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.NotFoundf("quotation %d", id)
		}
		return nil, err
	}
	return h, nil
}

func (r *repository) GetHeaderByNumber(ctx context.Context, number string) (*Header, error) {
	h, err := scanHeader(r.db.QueryRow(ctx, `SELECT `+headerColumns+headerFrom+` WHERE h.quotation_number=$1`, number))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.NotFoundf("quotation %s", number)
		}
		return nil, err
	}
	return h, nil
}

func (r *repository) ListHeaders(ctx context.Context, filter ListFilter) ([]Header, int, error) {
	var conditions []string
	var args []any
	argPos := 1

	if !filter.ViewAll {
		conditions = append(conditions, fmt.Sprintf(`(h.requester_id = $%[1]d OR h.approver_id = $%[1]d OR h.creator_id = $%[1]d
OR r.requester_id = $%[1]d OR r.approver_id = $%[1]d)`, argPos))
		args = append(args, filter.ActorID)
		argPos++
	}
	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("h.status_type = $%d", argPos))
		args = append(args, string(*filter.Status))
		argPos++
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*)"+headerFrom+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf("SELECT %s%s%s ORDER BY h.created_at DESC, h.id DESC LIMIT $%d OFFSET $%d",
		headerColumns, headerFrom, where, argPos, argPos+1)
	args = append(args, limit, filter.Offset)
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Header
	for rows.Next() {
		h, err := scanHeader(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *h)
	}
	return out, total, rows.Err()
}

func (r *repository) ListStale(ctx context.Context, before time.Time, limit int) ([]Header, error) {
	rows, err := r.db.Query(ctx, `SELECT `+headerColumns+headerFrom+`
WHERE h.status_type = 'open' AND (h.last_follow_up_date IS NULL OR h.last_follow_up_date <= $1)
ORDER BY h.last_follow_up_date NULLS FIRST, h.id LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Header
	for rows.Next() {
		h, err := scanHeader(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *h)
	}
	return out, rows.Err()
}

func (r *repository) UpdateStatus(ctx context.Context, id int64, u StatusUpdate) error {
	selected := u.SelectedOfferItemIDs
	if selected == nil {
		selected = []int64{}
	}
	_, err := r.db.Exec(ctx, `UPDATE quotation_headers SET status_type=$2, status_reason=$3, selected_offer_id=$4,
selected_offer_item_ids=$5, updated_at=$6 WHERE id=$1`,
		id, string(u.Status.Type), u.Status.Reason, u.SelectedOfferID, selected, u.At)
	if err != nil {
		return fmt.Errorf("update quotation status: %w", err)
	}
	return nil
}

func (r *repository) TouchFollowUp(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE quotation_headers SET last_follow_up_date=$2, updated_at=$2 WHERE id=$1`, id, at)
	return err
}

func (r *repository) AppendProgress(ctx context.Context, id int64, entry ProgressEntry) error {
	_, err := r.db.Exec(ctx, `UPDATE quotation_headers SET progress = progress || jsonb_build_array($2::jsonb),
updated_at=$3 WHERE id=$1`, id, entry, entry.At)
	if err != nil {
		return fmt.Errorf("append quotation progress: %w", err)
	}
	return nil
}

func (r *repository) DeleteHeader(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM quotation_headers WHERE id=$1`, id)
	return err
}

const offerColumns = `id, quotation_header_id, offer_number, offer_number_in_quotation, revision, parent_offer_id,
notes, notes_images, total_price, total_netto, total_discount, total_items_count, accepted_items_count,
is_fully_accepted, is_partially_accepted, created_by, created_at, updated_at`

func (r *repository) CreateOffer(ctx context.Context, o Offer) (int64, error) {
	images := o.NotesImages
	if images == nil {
		images = []string{}
	}
	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO quotation_offers (
quotation_header_id, offer_number, offer_number_in_quotation, revision, parent_offer_id, notes, notes_images,
created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9) RETURNING id`,
		o.HeaderID, o.OfferNumber, o.OfferNumberInQuotation, o.Revision, o.ParentOfferID, o.Notes, images,
		o.CreatedBy, o.CreatedAt).Scan(&id)
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return 0, ErrOfferNumberTaken
		}
		return 0, fmt.Errorf("insert offer: %w", err)
	}
	return id, nil
}

func (r *repository) GetOffer(ctx context.Context, id int64) (*Offer, error) {
	o, err := scanOffer(r.db.QueryRow(ctx, `SELECT `+offerColumns+` FROM quotation_offers WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.NotFoundf("offer %d", id)
		}
		return nil, err
	}
	return o, nil
}

func (r *repository) ListOffers(ctx context.Context, headerID int64) ([]Offer, error) {
	rows, err := r.db.Query(ctx, `SELECT `+offerColumns+` FROM quotation_offers WHERE quotation_header_id=$1
ORDER BY offer_number_in_quotation, revision`, headerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (r *repository) MaxOfferSlot(ctx context.Context, headerID int64) (int, error) {
	var slot int
	err := r.db.QueryRow(ctx, `SELECT COALESCE(MAX(offer_number_in_quotation), 0) FROM quotation_offers
WHERE quotation_header_id=$1 AND revision=0`, headerID).Scan(&slot)
	return slot, err
}

func (r *repository) OfferNumberExists(ctx context.Context, number string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM quotation_offers WHERE offer_number=$1)`, number).Scan(&exists)
	return exists, err
}

func (r *repository) HasRevisions(ctx context.Context, offerID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM quotation_offers WHERE parent_offer_id=$1)`, offerID).Scan(&exists)
	return exists, err
}

func (r *repository) UpdateOffer(ctx context.Context, id int64, notes string, images []string) error {
	if images == nil {
		images = []string{}
	}
	_, err := r.db.Exec(ctx, `UPDATE quotation_offers SET notes=$2, notes_images=$3, updated_at=NOW() WHERE id=$1`, id, notes, images)
	if err != nil {
		return fmt.Errorf("update offer: %w", err)
	}
	return nil
}

func (r *repository) SaveTotals(ctx context.Context, id int64, t Totals) error {
	_, err := r.db.Exec(ctx, `UPDATE quotation_offers SET total_price=$2, total_netto=$3, total_discount=$4,
total_items_count=$5, accepted_items_count=$6, is_fully_accepted=$7, is_partially_accepted=$8, updated_at=NOW()
WHERE id=$1`,
		id, t.TotalPrice, t.TotalNetto, t.TotalDiscount, t.TotalItemsCount, t.AcceptedItemsCount,
		t.IsFullyAccepted, t.IsPartiallyAccepted)
	if err != nil {
		return fmt.Errorf("save offer totals: %w", err)
	}
	return nil
}

func (r *repository) DeleteOffer(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM quotation_offers WHERE id=$1`, id)
	return err
}

const itemColumns = `id, offer_id, item_number, karoseri, chassis, drawing_id, specifications, price, discount_type,
discount_value, netto, exclude_ppn, quantity, notes, is_accepted, accepted_at, accepted_by, created_at, updated_at`

func (r *repository) ListItems(ctx context.Context, offerID int64) ([]Item, error) {
	rows, err := r.db.Query(ctx, `SELECT `+itemColumns+` FROM offer_items WHERE offer_id=$1 ORDER BY item_number`, offerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *it)
	}
	return out, rows.Err()
}

func (r *repository) GetItem(ctx context.Context, id int64) (*Item, error) {
	it, err := scanItem(r.db.QueryRow(ctx, `SELECT `+itemColumns+` FROM offer_items WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.NotFoundf("offer item %d", id)
		}
		return nil, err
	}
	return it, nil
}

func (r *repository) InsertItem(ctx context.Context, it Item) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO offer_items (offer_id, item_number, karoseri, chassis, drawing_id,
specifications, price, discount_type, discount_value, netto, exclude_ppn, quantity, notes, is_accepted,
accepted_at, accepted_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,NOW(),NOW()) RETURNING id`,
		it.OfferID, it.ItemNumber, it.Karoseri, it.Chassis, it.DrawingID, it.Specifications.OrEmpty(), it.Price,
		string(it.DiscountType), it.DiscountValue, it.Netto, it.ExcludePPN, it.Quantity, it.Notes, it.IsAccepted,
		it.AcceptedAt, it.AcceptedBy).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert offer item: %w", err)
	}
	return id, nil
}

func (r *repository) UpdateItem(ctx context.Context, it Item) error {
	_, err := r.db.Exec(ctx, `UPDATE offer_items SET karoseri=$2, chassis=$3, drawing_id=$4, specifications=$5,
price=$6, discount_type=$7, discount_value=$8, netto=$9, exclude_ppn=$10, quantity=$11, notes=$12, updated_at=NOW()
WHERE id=$1`,
		it.ID, it.Karoseri, it.Chassis, it.DrawingID, it.Specifications.OrEmpty(), it.Price, string(it.DiscountType),
		it.DiscountValue, it.Netto, it.ExcludePPN, it.Quantity, it.Notes)
	if err != nil {
		return fmt.Errorf("update offer item: %w", err)
	}
	return nil
}

func (r *repository) SetItemAcceptance(ctx context.Context, id int64, a Acceptance) error {
	_, err := r.db.Exec(ctx, `UPDATE offer_items SET is_accepted=$2, accepted_at=$3, accepted_by=$4, updated_at=NOW()
WHERE id=$1`, id, a.Accepted, a.At, a.By)
	return err
}

func (r *repository) SetItemNumber(ctx context.Context, id int64, number int) error {
	_, err := r.db.Exec(ctx, `UPDATE offer_items SET item_number=$2, updated_at=NOW() WHERE id=$1`, id, number)
	return err
}

func (r *repository) DeleteItem(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM offer_items WHERE id=$1`, id)
	return err
}

func (r *repository) DeleteItemsByOffer(ctx context.Context, offerID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM offer_items WHERE offer_id=$1`, offerID)
	return err
}

func scanHeader(row pgx.Row) (*Header, error) {
	var h Header
	var statusType string
	err := row.Scan(&h.ID, &h.Number, &h.RFQID, &h.RequesterID, &h.ApproverID, &h.CreatorID,
		&h.MarketingName, &h.CustomerName, &h.ContactPerson, &statusType, &h.Status.Reason,
		&h.SelectedOfferID, &h.SelectedOfferItemIDs, &h.LastFollowUpDate, &h.Progress,
		&h.CreatedAt, &h.UpdatedAt, &h.LinkedRequesterID, &h.LinkedApproverID)
	if err != nil {
		return nil, err
	}
	h.Status.Type = StatusType(statusType)
	return &h, nil
}

func scanOffer(row pgx.Row) (*Offer, error) {
	var o Offer
	err := row.Scan(&o.ID, &o.HeaderID, &o.OfferNumber, &o.OfferNumberInQuotation, &o.Revision, &o.ParentOfferID,
		&o.Notes, &o.NotesImages, &o.TotalPrice, &o.TotalNetto, &o.TotalDiscount, &o.TotalItemsCount,
		&o.AcceptedItemsCount, &o.IsFullyAccepted, &o.IsPartiallyAccepted, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func scanItem(row pgx.Row) (*Item, error) {
	var it Item
	var discountType string
	err := row.Scan(&it.ID, &it.OfferID, &it.ItemNumber, &it.Karoseri, &it.Chassis, &it.DrawingID, &it.Specifications,
		&it.Price, &discountType, &it.DiscountValue, &it.Netto, &it.ExcludePPN, &it.Quantity, &it.Notes,
		&it.IsAccepted, &it.AcceptedAt, &it.AcceptedBy, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return nil, err
	}
	it.DiscountType = DiscountType(discountType)
	return &it, nil
}

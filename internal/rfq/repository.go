package rfq

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

// ErrStatusChanged signals that a conditional status update matched no row
// because another writer moved the request first.
var ErrStatusChanged = errors.New("rfq: status changed concurrently")

// Repository persists requests and their items.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Create(ctx context.Context, r RFQ) (int64, error)
	Get(ctx context.Context, id int64) (*RFQ, error)
	List(ctx context.Context, filter ListFilter) ([]RFQ, int, error)
	UpdateHeader(ctx context.Context, r RFQ) error
	Decide(ctx context.Context, id int64, d DecisionUpdate) error
	MarkQuotationCreated(ctx context.Context, id, quotationID int64, at time.Time) error
	ListItems(ctx context.Context, rfqID int64) ([]Item, error)
	GetItem(ctx context.Context, itemID int64) (*Item, error)
	InsertItem(ctx context.Context, item Item) (int64, error)
	UpdateItem(ctx context.Context, item Item) error
	DeleteItem(ctx context.Context, itemID int64) error
	SetItemNumber(ctx context.Context, itemID int64, number int) error
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
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

const rfqColumns = `id, rfq_number, requester_id, approver_id, quotation_creator_id, customer_name,
contact_person, description, confidence_rate, delivery_location, competitor, can_make,
project_ongoing, priority, expected_delivery_date, status, is_approved, approval_decision,
approval_notes, submitted_at, approved_at, rejected_at, quotation_created_at, quotation_id,
created_at, updated_at`

func (r *repository) Create(ctx context.Context, in RFQ) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO rfqs (
rfq_number, requester_id, approver_id, quotation_creator_id, customer_name, contact_person,
description, confidence_rate, delivery_location, competitor, can_make, project_ongoing,
priority, expected_delivery_date, status, is_approved, submitted_at, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$17,$17)
RETURNING id`,
		in.Number, in.RequesterID, in.ApproverID, in.QuotationCreatorID, in.CustomerName, in.ContactPerson,
		in.Description, in.ConfidenceRate, in.DeliveryLocation, in.Competitor, in.CanMake, in.ProjectOngoing,
		string(in.Priority), in.ExpectedDeliveryDate, string(in.Status), in.IsApproved, in.SubmittedAt,
	).Scan(&id)
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return 0, numbering.ErrNumberTaken
		}
		return 0, fmt.Errorf("insert rfq: %w", err)
	}
	return id, nil
}

func (r *repository) Get(ctx context.Context, id int64) (*RFQ, error) {
	row := r.db.QueryRow(ctx, `SELECT `+rfqColumns+` FROM rfqs WHERE id = $1`, id)
	out, err := scanRFQ(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.NotFoundf("rfq %d", id)
		}
		return nil, err
	}
	return out, nil
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]RFQ, int, error) {
	var conditions []string
	var args []any
	argPos := 1

	if !filter.ViewAll {
		roles := []string{"requester_id = $%[1]d"}
		if filter.AsApprover {
			roles = append(roles, "approver_id = $%[1]d")
		}
		if filter.AsCreator {
			roles = append(roles, "quotation_creator_id = $%[1]d")
		}
		conditions = append(conditions, fmt.Sprintf("("+strings.Join(roles, " OR ")+")", argPos))
		args = append(args, filter.ActorID)
		argPos++
	}
	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argPos))
		args = append(args, string(*filter.Status))
		argPos++
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM rfqs"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf("SELECT %s FROM rfqs%s ORDER BY submitted_at DESC, id DESC LIMIT $%d OFFSET $%d", rfqColumns, where, argPos, argPos+1)
	args = append(args, limit, filter.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []RFQ
	for rows.Next() {
		item, err := scanRFQ(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *item)
	}
	return out, total, rows.Err()
}

func (r *repository) UpdateHeader(ctx context.Context, in RFQ) error {
	tag, err := r.db.Exec(ctx, `UPDATE rfqs SET approver_id=$2, quotation_creator_id=$3, customer_name=$4,
contact_person=$5, description=$6, confidence_rate=$7, delivery_location=$8, competitor=$9,
can_make=$10, project_ongoing=$11, priority=$12, expected_delivery_date=$13, updated_at=NOW()
WHERE id=$1 AND status='pending'`,
		in.ID, in.ApproverID, in.QuotationCreatorID, in.CustomerName, in.ContactPerson, in.Description,
		in.ConfidenceRate, in.DeliveryLocation, in.Competitor, in.CanMake, in.ProjectOngoing,
		string(in.Priority), in.ExpectedDeliveryDate)
	if err != nil {
		return fmt.Errorf("update rfq: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusChanged
	}
	return nil
}

func (r *repository) Decide(ctx context.Context, id int64, d DecisionUpdate) error {
	var decision *string
	if d.Decision != nil {
		v := string(*d.Decision)
		decision = &v
	}
	var approvedAt, rejectedAt *time.Time
	if d.Status == StatusApproved {
		approvedAt = &d.At
	} else {
		rejectedAt = &d.At
	}
	tag, err := r.db.Exec(ctx, `UPDATE rfqs SET status=$2, is_approved=$3, approval_decision=$4, approval_notes=$5,
approved_at=$6, rejected_at=$7, updated_at=$8
WHERE id=$1 AND status='pending'`,
		id, string(d.Status), approvedStatus(d.Status), decision, d.Notes, approvedAt, rejectedAt, d.At)
	if err != nil {
		return fmt.Errorf("decide rfq: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusChanged
	}
	return nil
}

func (r *repository) MarkQuotationCreated(ctx context.Context, id, quotationID int64, at time.Time) error {
	tag, err := r.db.Exec(ctx, `UPDATE rfqs SET status='quotation_created', quotation_id=$2,
quotation_created_at=$3, updated_at=$3
WHERE id=$1 AND status='approved' AND quotation_id IS NULL`, id, quotationID, at)
	if err != nil {
		return fmt.Errorf("mark rfq converted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusChanged
	}
	return nil
}

const itemColumns = `id, rfq_id, item_number, karoseri, chassis, drawing_id, specifications, price, price_net, notes, created_at, updated_at`

func (r *repository) ListItems(ctx context.Context, rfqID int64) ([]Item, error) {
	rows, err := r.db.Query(ctx, `SELECT `+itemColumns+` FROM rfq_items WHERE rfq_id=$1 ORDER BY item_number`, rfqID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

func (r *repository) GetItem(ctx context.Context, itemID int64) (*Item, error) {
	it, err := scanItem(r.db.QueryRow(ctx, `SELECT `+itemColumns+` FROM rfq_items WHERE id=$1`, itemID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.NotFoundf("rfq item %d", itemID)
		}
		return nil, err
	}
	return it, nil
}

func (r *repository) InsertItem(ctx context.Context, it Item) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO rfq_items (rfq_id, item_number, karoseri, chassis, drawing_id,
specifications, price, price_net, notes, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW(),NOW()) RETURNING id`,
		it.RFQID, it.ItemNumber, it.Karoseri, it.Chassis, it.DrawingID, it.Specifications.OrEmpty(),
		it.Price, it.PriceNet, it.Notes).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert rfq item: %w", err)
	}
	return id, nil
}

func (r *repository) UpdateItem(ctx context.Context, it Item) error {
	_, err := r.db.Exec(ctx, `UPDATE rfq_items SET karoseri=$2, chassis=$3, drawing_id=$4, specifications=$5,
price=$6, price_net=$7, notes=$8, updated_at=NOW() WHERE id=$1`,
		it.ID, it.Karoseri, it.Chassis, it.DrawingID, it.Specifications.OrEmpty(), it.Price, it.PriceNet, it.Notes)
	if err != nil {
		return fmt.Errorf("update rfq item: %w", err)
	}
	return nil
}

func (r *repository) DeleteItem(ctx context.Context, itemID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM rfq_items WHERE id=$1`, itemID)
	return err
}

func (r *repository) SetItemNumber(ctx context.Context, itemID int64, number int) error {
	_, err := r.db.Exec(ctx, `UPDATE rfq_items SET item_number=$2, updated_at=NOW() WHERE id=$1`, itemID, number)
	return err
}

func scanRFQ(row pgx.Row) (*RFQ, error) {
	var (
		out      RFQ
		priority string
		status   string
		decision *string
	)
	err := row.Scan(
		&out.ID, &out.Number, &out.RequesterID, &out.ApproverID, &out.QuotationCreatorID, &out.CustomerName,
		&out.ContactPerson, &out.Description, &out.ConfidenceRate, &out.DeliveryLocation, &out.Competitor, &out.CanMake,
		&out.ProjectOngoing, &priority, &out.ExpectedDeliveryDate, &status, &out.IsApproved, &decision,
		&out.ApprovalNotes, &out.SubmittedAt, &out.ApprovedAt, &out.RejectedAt, &out.QuotationCreatedAt, &out.QuotationID,
		&out.CreatedAt, &out.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	out.Priority = Priority(priority)
	out.Status = Status(status)
	if decision != nil {
		d := Decision(*decision)
		out.ApprovalDecision = &d
	}
	out.IsApproved = approvedStatus(out.Status)
	return &out, nil
}

func scanItem(row pgx.Row) (*Item, error) {
	var it Item
	if err := row.Scan(&it.ID, &it.RFQID, &it.ItemNumber, &it.Karoseri, &it.Chassis, &it.DrawingID,
		&it.Specifications, &it.Price, &it.PriceNet, &it.Notes, &it.CreatedAt, &it.UpdatedAt); err != nil {
		return nil, err
	}
	return &it, nil
}

package attachments

import (
	"context"

	"github.com/karoseri/quotedesk/internal/platform/db"
)

// PgReferences checks image references against quotation_offers.notes_images.
type PgReferences struct {
	db db.DBTX
}

// NewPgReferences constructs PgReferences.
func NewPgReferences(conn db.DBTX) *PgReferences {
	return &PgReferences{db: conn}
}

// Referenced implements ReferenceChecker.
func (p *PgReferences) Referenced(ctx context.Context, ref string) (bool, error) {
	var used bool
	err := p.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM quotation_offers WHERE $1 = ANY(notes_images))`, ref).Scan(&used)
	return used, err
}

package numbering

import (
	"context"
	"fmt"

	"github.com/karoseri/quotedesk/internal/platform/db"
)

type numberColumn struct {
	table  string
	column string
}

var numberColumns = map[DocType]numberColumn{
	DocRFQ:       {table: "rfqs", column: "rfq_number"},
	DocQuotation: {table: "quotation_headers", column: "quotation_number"},
}

// PgStore reads issued numbers straight from the document tables.
type PgStore struct {
	db db.DBTX
}

// NewPgStore constructs a PgStore.
func NewPgStore(conn db.DBTX) *PgStore {
	return &PgStore{db: conn}
}

// ListNumbers returns every number ending in suffix.
func (s *PgStore) ListNumbers(ctx context.Context, doc DocType, suffix string) ([]string, error) {
	col, ok := numberColumns[doc]
	if !ok {
		return nil, fmt.Errorf("numbering: unknown doc type %q", doc)
	}
	query := fmt.Sprintf(`SELECT %[2]s FROM %[1]s WHERE right(%[2]s, length($1)) = $1`, col.table, col.column)
	rows, err := s.db.Query(ctx, query, suffix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var numbers []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		numbers = append(numbers, n)
	}
	return numbers, rows.Err()
}

// Exists reports whether number is already issued.
func (s *PgStore) Exists(ctx context.Context, doc DocType, number string) (bool, error) {
	col, ok := numberColumns[doc]
	if !ok {
		return false, fmt.Errorf("numbering: unknown doc type %q", doc)
	}
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE %s = $1)`, col.table, col.column)
	var exists bool
	if err := s.db.QueryRow(ctx, query, number).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

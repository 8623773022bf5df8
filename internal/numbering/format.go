package numbering

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DocType is the document segment of a number.
type DocType string

const (
	// DocRFQ numbers requests for quotation.
	DocRFQ DocType = "RFQ"
	// DocQuotation numbers quotation headers.
	DocQuotation DocType = "QUO"
)

// Valid reports whether d is a known document type.
func (d DocType) Valid() bool {
	return d == DocRFQ || d == DocQuotation
}

// Suffix returns the shared tail of every number in one (doc, org, month, year)
// bucket, e.g. "/RFQ/KAR/X/2026".
func Suffix(doc DocType, org string, at time.Time) string {
	return fmt.Sprintf("/%s/%s/%s/%d", doc, org, RomanMonth(at.Month()), at.Year())
}

// Format renders {seq}/{DOC}/{ORG}/{romanMonth}/{year}.
func Format(seq int, doc DocType, org string, at time.Time) string {
	return strconv.Itoa(seq) + Suffix(doc, org, at)
}

// MaxSequence returns the highest sequence among numbers ending in suffix.
// Numbers from other buckets and malformed entries are ignored.
func MaxSequence(numbers []string, suffix string) int {
	highest := 0
	for _, n := range numbers {
		head, ok := strings.CutSuffix(n, suffix)
		if !ok || head == "" {
			continue
		}
		seq, err := strconv.Atoi(head)
		if err != nil || seq <= 0 {
			continue
		}
		if seq > highest {
			highest = seq
		}
	}
	return highest
}

// Package money holds decimal arithmetic and Rupiah formatting for document totals.
package money

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.Indonesian)

// Round2 rounds v half away from zero to two decimals.
func Round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// Sum adds values without accumulating float error.
func Sum(values ...float64) float64 {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(decimal.NewFromFloat(v))
	}
	return total.Round(2).InexactFloat64()
}

// FormatRupiah renders amount with Indonesian digit grouping, e.g. "Rp 1.250.000".
func FormatRupiah(amount float64) string {
	rounded := decimal.NewFromFloat(amount).Round(0).IntPart()
	if rounded < 0 {
		return printer.Sprintf("-Rp %d", -rounded)
	}
	return printer.Sprintf("Rp %d", rounded)
}

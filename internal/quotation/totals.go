package quotation

import (
	"github.com/shopspring/decimal"
)

// ComputeTotals derives the cached totals of an offer from its items.
func ComputeTotals(items []Item) Totals {
	price, netto := decimal.Zero, decimal.Zero
	accepted := 0
	for _, it := range items {
		price = price.Add(decimal.NewFromFloat(it.Price))
		netto = netto.Add(decimal.NewFromFloat(it.Netto))
		if it.IsAccepted {
			accepted++
		}
	}
	count := len(items)
	return Totals{
		TotalPrice:          price.Round(2).InexactFloat64(),
		TotalNetto:          netto.Round(2).InexactFloat64(),
		TotalDiscount:       price.Sub(netto).Round(2).InexactFloat64(),
		TotalItemsCount:     count,
		AcceptedItemsCount:  accepted,
		IsFullyAccepted:     count > 0 && accepted == count,
		IsPartiallyAccepted: accepted > 0 && accepted < count,
	}
}

package orders

import (
	"github.com/shopspring/decimal"

	"github.com/oakmart/oakmart-backend/pkg/db/models"
)

// Totals is the derived money breakdown of an order.
type Totals struct {
	SubtotalCents int
	TaxCents      int
	TotalCents    int
}

// ComputeTotals derives subtotal, tax and total from the item snapshots. It is
// a pure function over the items: tax is always recomputed from the subtotal,
// never accumulated, so calling it any number of times yields the same result.
func ComputeTotals(items []models.OrderItem, taxRatePercent float64, shippingFeeCents int) Totals {
	subtotal := 0
	for _, item := range items {
		subtotal += item.UnitPriceCents * item.Quantity
	}
	tax := taxCents(subtotal, taxRatePercent)
	return Totals{
		SubtotalCents: subtotal,
		TaxCents:      tax,
		TotalCents:    subtotal + tax + shippingFeeCents,
	}
}

func taxCents(subtotalCents int, taxRatePercent float64) int {
	if subtotalCents <= 0 || taxRatePercent <= 0 {
		return 0
	}
	return int(decimal.NewFromInt(int64(subtotalCents)).
		Mul(decimal.NewFromFloat(taxRatePercent)).
		Div(decimal.NewFromInt(100)).
		Round(0).
		IntPart())
}

// Package pricing derives line and order totals. It performs no I/O.
package pricing

import (
	"math"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

type Line struct {
	Quantity        int
	UnitPrice       decimal.Decimal
	DiscountAmount  decimal.Decimal
	DiscountPercent decimal.Decimal
}

type Totals struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
}

// FromFloat converts a float to money, mapping NaN, infinities and negatives to zero.
func FromFloat(v float64) decimal.Decimal {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(v)
}

// Discount applies percent when it is positive, otherwise the flat amount.
func Discount(base decimal.Decimal, amount decimal.Decimal, percent decimal.Decimal) decimal.Decimal {
	base = nonNegative(base)
	percent = nonNegative(percent)
	if percent.IsPositive() {
		return base.Mul(percent).Div(hundred).Round(2)
	}
	return nonNegative(amount).Round(2)
}

func ItemSubtotal(line Line) decimal.Decimal {
	qty := int64(line.Quantity)
	if qty < 0 {
		qty = 0
	}
	raw := nonNegative(line.UnitPrice).Mul(decimal.NewFromInt(qty))
	discount := Discount(raw, line.DiscountAmount, line.DiscountPercent)
	return nonNegative(raw.Sub(discount)).Round(2)
}

// SaleTotals sums line subtotals and applies the order-level discount on top.
// The discount reported is capped at the subtotal so Total never goes negative.
func SaleTotals(lines []Line, orderDiscountAmount decimal.Decimal, orderDiscountPercent decimal.Decimal) Totals {
	subtotal := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(ItemSubtotal(line))
	}
	discount := decimal.Min(Discount(subtotal, orderDiscountAmount, orderDiscountPercent), subtotal)
	return Totals{
		Subtotal: subtotal,
		Discount: discount,
		Total:    nonNegative(subtotal.Sub(discount)),
	}
}

// ApplyTax returns the tax owed on base at ratePercent, rounded to cents.
func ApplyTax(base decimal.Decimal, ratePercent decimal.Decimal) decimal.Decimal {
	if !base.IsPositive() || !ratePercent.IsPositive() {
		return decimal.Zero
	}
	return base.Mul(ratePercent).Div(hundred).Round(2)
}

// ClampPercent bounds a percentage to [0,100].
func ClampPercent(p decimal.Decimal) decimal.Decimal {
	if p.IsNegative() {
		return decimal.Zero
	}
	if p.GreaterThan(hundred) {
		return hundred
	}
	return p
}

func nonNegative(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}

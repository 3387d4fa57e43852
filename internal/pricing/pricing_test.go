package pricing

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestItemSubtotalPercentDiscount(t *testing.T) {
	got := ItemSubtotal(Line{Quantity: 2, UnitPrice: d("100"), DiscountPercent: d("10")})
	assert.True(t, got.Equal(d("180")), "got %s", got)
}

func TestItemSubtotalAmountDiscount(t *testing.T) {
	got := ItemSubtotal(Line{Quantity: 2, UnitPrice: d("100"), DiscountAmount: d("15")})
	assert.True(t, got.Equal(d("185")), "got %s", got)
}

func TestItemSubtotalPercentTakesPrecedence(t *testing.T) {
	got := ItemSubtotal(Line{Quantity: 2, UnitPrice: d("100"), DiscountAmount: d("15"), DiscountPercent: d("10")})
	assert.True(t, got.Equal(d("180")), "got %s", got)

	// zero percent falls back to the amount
	got = ItemSubtotal(Line{Quantity: 2, UnitPrice: d("100"), DiscountAmount: d("15"), DiscountPercent: decimal.Zero})
	assert.True(t, got.Equal(d("185")), "got %s", got)
}

func TestItemSubtotalCoercesNegatives(t *testing.T) {
	cases := []struct {
		name string
		line Line
		want string
	}{
		{"negative price", Line{Quantity: 3, UnitPrice: d("-50")}, "0"},
		{"negative quantity", Line{Quantity: -2, UnitPrice: d("10")}, "0"},
		{"negative amount", Line{Quantity: 1, UnitPrice: d("10"), DiscountAmount: d("-5")}, "10"},
		{"negative percent uses amount", Line{Quantity: 1, UnitPrice: d("10"), DiscountAmount: d("3"), DiscountPercent: d("-20")}, "7"},
		{"discount above raw", Line{Quantity: 1, UnitPrice: d("10"), DiscountAmount: d("25")}, "0"},
		{"percent above hundred", Line{Quantity: 1, UnitPrice: d("10"), DiscountPercent: d("150")}, "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ItemSubtotal(tc.line)
			assert.True(t, got.Equal(d(tc.want)), "got %s want %s", got, tc.want)
			assert.False(t, got.IsNegative())
		})
	}
}

func TestSaleTotalsOrderDiscount(t *testing.T) {
	lines := []Line{
		{Quantity: 1, UnitPrice: d("1200"), DiscountPercent: d("10")},
		{Quantity: 2, UnitPrice: d("450.50")},
	}

	byPercent := SaleTotals(lines, d("100"), d("5"))
	assert.True(t, byPercent.Subtotal.Equal(d("1981")), "subtotal %s", byPercent.Subtotal)
	assert.True(t, byPercent.Discount.Equal(d("99.05")), "discount %s", byPercent.Discount)
	assert.True(t, byPercent.Total.Equal(d("1881.95")), "total %s", byPercent.Total)

	byAmount := SaleTotals(lines, d("100"), decimal.Zero)
	assert.True(t, byAmount.Total.Equal(d("1881")), "total %s", byAmount.Total)
}

func TestSaleTotalsNeverNegative(t *testing.T) {
	lines := []Line{{Quantity: 1, UnitPrice: d("80")}, {Quantity: 1, UnitPrice: d("20")}}
	for _, discount := range []string{"100", "100.01", "5000"} {
		totals := SaleTotals(lines, d(discount), decimal.Zero)
		assert.True(t, totals.Total.IsZero(), "discount %s gave total %s", discount, totals.Total)
		assert.True(t, totals.Discount.Equal(d("100")), "discount capped at subtotal, got %s", totals.Discount)
	}
	assert.True(t, SaleTotals(nil, d("10"), decimal.Zero).Total.IsZero())
}

func TestFromFloatCoercesInvalid(t *testing.T) {
	assert.True(t, FromFloat(math.NaN()).IsZero())
	assert.True(t, FromFloat(math.Inf(1)).IsZero())
	assert.True(t, FromFloat(math.Inf(-1)).IsZero())
	assert.True(t, FromFloat(-3.5).IsZero())
	assert.True(t, FromFloat(12.25).Equal(d("12.25")))
}

func TestApplyTax(t *testing.T) {
	assert.True(t, ApplyTax(d("1000"), d("16")).Equal(d("160")))
	assert.True(t, ApplyTax(d("99.99"), d("16")).Equal(d("16")))
	assert.True(t, ApplyTax(decimal.Zero, d("16")).IsZero())
	assert.True(t, ApplyTax(d("100"), decimal.Zero).IsZero())
}

func TestClampPercent(t *testing.T) {
	assert.True(t, ClampPercent(d("-1")).IsZero())
	assert.True(t, ClampPercent(d("250")).Equal(d("100")))
	assert.True(t, ClampPercent(d("12.5")).Equal(d("12.5")))
}

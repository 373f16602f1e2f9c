// Package pricing computes checkout totals from a cart subtotal, an optional promo rule
// and the selected shipping price.
package pricing

import (
	"github.com/shopspring/decimal"
	"github.com/vaidashi/storefront-sync/internal/models"
	"github.com/vaidashi/storefront-sync/internal/promo"
)

// DefaultTaxRate is applied to the discounted subtotal
const DefaultTaxRate = 0.08

// Breakdown is the priced checkout, every amount rounded to cents
type Breakdown struct {
	Subtotal float64 `json:"subtotal"`
	Discount float64 `json:"discount"`
	Taxable  float64 `json:"taxable"`
	Tax      float64 `json:"tax"`
	Shipping float64 `json:"shipping"`
	Total    float64 `json:"total"`
}

// Calculator prices carts. With ClampDiscount set a discount never exceeds the subtotal,
// so the taxable amount cannot go negative.
type Calculator struct {
	TaxRate       float64
	ClampDiscount bool
}

// NewCalculator creates a calculator with the given tax rate
func NewCalculator(taxRate float64, clampDiscount bool) *Calculator {
	return &Calculator{TaxRate: taxRate, ClampDiscount: clampDiscount}
}

// Totals prices a checkout: taxable = subtotal - discount, tax = taxable * rate,
// total = taxable + tax + shipping.
func (c *Calculator) Totals(subtotal float64, rule *promo.Rule, shipping float64) Breakdown {
	sub := decimal.NewFromFloat(subtotal)
	discount := decimal.NewFromFloat(promo.Calculate(subtotal, rule))

	if c.ClampDiscount && discount.GreaterThan(sub) {
		discount = sub
	}

	taxable := sub.Sub(discount)
	tax := taxable.Mul(decimal.NewFromFloat(c.TaxRate)).Round(2)
	ship := decimal.NewFromFloat(shipping).Round(2)
	total := taxable.Add(tax).Add(ship)

	return Breakdown{
		Subtotal: sub.Round(2).InexactFloat64(),
		Discount: discount.Round(2).InexactFloat64(),
		Taxable:  taxable.Round(2).InexactFloat64(),
		Tax:      tax.InexactFloat64(),
		Shipping: ship.InexactFloat64(),
		Total:    total.Round(2).InexactFloat64(),
	}
}

// Subtotal sums price*qty over the items; a missing quantity counts as one
func Subtotal(items []models.OrderItem) float64 {
	sum := decimal.Zero
	for _, item := range items {
		sum = sum.Add(decimal.NewFromFloat(item.Price).Mul(decimal.NewFromInt(int64(item.Quantity()))))
	}
	return sum.Round(2).InexactFloat64()
}

// TotalQuantity counts units across the items
func TotalQuantity(items []models.OrderItem) int {
	n := 0
	for _, item := range items {
		n += item.Quantity()
	}
	return n
}

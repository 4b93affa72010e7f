package checkout

import "math"

// DiscountedUnitPrice applies the product's discount percentage to its
// base price. pct is expected in [0,100]; anything outside is treated as
// no discount.
func DiscountedUnitPrice(price, pct float64) float64 {
	if pct <= 0 || pct > 100 {
		return RoundCents(price)
	}
	return RoundCents(price - price*pct/100)
}

// LineSubtotal computes the line subtotal for a unit price and quantity.
func LineSubtotal(unitPrice float64, qty int) float64 {
	return RoundCents(unitPrice * float64(qty))
}

// RoundCents rounds a currency amount to the nearest cent.
func RoundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// MinorUnits converts a currency amount into the gateway's integer
// minor-unit representation (cents), rounding to the nearest cent.
func MinorUnits(v float64) int64 {
	return int64(math.Round(v * 100))
}

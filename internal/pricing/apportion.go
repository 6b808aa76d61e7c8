package pricing

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Apportion splits total (in cents precision) across weights so that the parts
// sum exactly to total. Leftover cents go to the largest fractional remainders.
func Apportion(total decimal.Decimal, weights []decimal.Decimal) []decimal.Decimal {
	n := len(weights)
	parts := make([]decimal.Decimal, n)
	if n == 0 {
		return parts
	}

	sum := decimal.Zero
	for _, w := range weights {
		if w.IsPositive() {
			sum = sum.Add(w)
		}
	}

	totalCents := total.Shift(2).Round(0)
	type rem struct {
		idx  int
		frac decimal.Decimal
	}
	rems := make([]rem, n)
	allocated := decimal.Zero

	for i, w := range weights {
		var exact decimal.Decimal
		switch {
		case sum.IsZero():
			exact = totalCents.Div(decimal.NewFromInt(int64(n)))
		case w.IsPositive():
			exact = totalCents.Mul(w).Div(sum)
		default:
			exact = decimal.Zero
		}
		floor := exact.Floor()
		parts[i] = floor
		rems[i] = rem{idx: i, frac: exact.Sub(floor)}
		allocated = allocated.Add(floor)
	}

	leftover := totalCents.Sub(allocated).IntPart()
	sort.SliceStable(rems, func(a, b int) bool {
		return rems[a].frac.GreaterThan(rems[b].frac)
	})
	for i := int64(0); i < leftover; i++ {
		idx := rems[int(i)%n].idx
		parts[idx] = parts[idx].Add(decimal.NewFromInt(1))
	}

	for i := range parts {
		parts[i] = parts[i].Shift(-2)
	}
	return parts
}

package pricing

import (
	"strings"

	"github.com/shopspring/decimal"
)

// TaxTable maps a billing region to a tax rate (0.08 means 8%).
type TaxTable struct {
	Rates   map[string]decimal.Decimal
	Default decimal.Decimal
}

// DefaultTaxTable is used when no pricing file overrides it.
func DefaultTaxTable() TaxTable {
	return TaxTable{
		Rates: map[string]decimal.Decimal{
			"CA": decimal.RequireFromString("0.0725"),
			"NY": decimal.RequireFromString("0.04"),
			"TX": decimal.RequireFromString("0.0625"),
			"FL": decimal.RequireFromString("0.06"),
			"WA": decimal.RequireFromString("0.065"),
			"OR": decimal.Zero,
		},
		Default: decimal.RequireFromString("0.08"),
	}
}

// RateFor returns the rate for region, falling back to the default.
func (t TaxTable) RateFor(region string) decimal.Decimal {
	if rate, ok := t.Rates[strings.ToUpper(strings.TrimSpace(region))]; ok {
		return rate
	}
	return t.Default
}

// ShippingRates are the constants of the per-seller shipping formula.
type ShippingRates struct {
	Base         decimal.Decimal
	PerKg        decimal.Decimal
	DistanceFlat decimal.Decimal
}

func DefaultShippingRates() ShippingRates {
	return ShippingRates{
		Base:         decimal.RequireFromString("5.00"),
		PerKg:        decimal.RequireFromString("0.25"),
		DistanceFlat: decimal.RequireFromString("2.00"),
	}
}

// Cost prices one seller's shipment. Free shipping on any item zeroes the group.
func (r ShippingRates) Cost(totalWeightKg decimal.Decimal, freeShipping bool) decimal.Decimal {
	if freeShipping {
		return decimal.Zero
	}
	return r.Base.Add(totalWeightKg.Mul(r.PerKg)).Add(r.DistanceFlat).Round(2)
}

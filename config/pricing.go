package config

import (
	"fmt"
	"strings"

	"marketplace-orders/internal/pricing"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// LoadPricing builds the tax table and shipping rates. Values in the optional
// YAML/JSON file override the built-in defaults key by key.
//
//	tax:
//	  default_rate: "0.08"
//	  rates:
//	    CA: "0.0725"
//	shipping:
//	  base: "5.00"
//	  per_kg: "0.25"
//	  distance_flat: "2.00"
func LoadPricing(path string) (pricing.TaxTable, pricing.ShippingRates, error) {
	tax := pricing.DefaultTaxTable()
	ship := pricing.DefaultShippingRates()
	if path == "" {
		return tax, ship, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return tax, ship, fmt.Errorf("failed to read pricing file: %w", err)
	}

	var err error
	if v.IsSet("tax.default_rate") {
		if tax.Default, err = decimal.NewFromString(v.GetString("tax.default_rate")); err != nil {
			return tax, ship, fmt.Errorf("invalid tax.default_rate: %w", err)
		}
	}
	for region, raw := range v.GetStringMapString("tax.rates") {
		rate, err := decimal.NewFromString(raw)
		if err != nil {
			return tax, ship, fmt.Errorf("invalid tax rate for %s: %w", region, err)
		}
		tax.Rates[strings.ToUpper(region)] = rate
	}

	for key, dst := range map[string]*decimal.Decimal{
		"shipping.base":          &ship.Base,
		"shipping.per_kg":        &ship.PerKg,
		"shipping.distance_flat": &ship.DistanceFlat,
	} {
		if !v.IsSet(key) {
			continue
		}
		if *dst, err = decimal.NewFromString(v.GetString(key)); err != nil {
			return tax, ship, fmt.Errorf("invalid %s: %w", key, err)
		}
	}

	return tax, ship, nil
}

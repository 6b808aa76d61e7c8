package pricing

import (
	"testing"
	"time"

	"marketplace-orders/internal/apperr"
	"marketplace-orders/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func intPtr(v int) *int { return &v }

func fixedNow() time.Time {
	return time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
}

func newTestCalculator() *Calculator {
	c := NewCalculator(TaxTable{Rates: map[string]decimal.Decimal{"CA": dec("0.0725")}, Default: dec("0.08")}, DefaultShippingRates())
	c.Now = fixedNow
	return c
}

func TestQuoteReferenceScenario(t *testing.T) {
	c := newTestCalculator()
	save10 := &models.Coupon{Code: "SAVE10", Type: models.CouponTypePercentage, Value: dec("10"), IsActive: true}

	q, err := c.Quote([]Line{
		{ProductID: 1, SellerID: 7, Quantity: 2, UnitPrice: dec("10.00"), WeightKg: dec("1")},
	}, save10, "ZZ")
	require.NoError(t, err)

	assert.Equal(t, "20.00", q.Subtotal.StringFixed(2))
	assert.Equal(t, "2.00", q.Discount.StringFixed(2))
	assert.Equal(t, "1.44", q.Tax.StringFixed(2))
	assert.Equal(t, "7.50", q.Shipping.StringFixed(2))
	assert.Equal(t, "26.94", q.Total.StringFixed(2))
}

func TestQuoteShippingPerSellerAndFreeShipping(t *testing.T) {
	c := newTestCalculator()
	q, err := c.Quote([]Line{
		{ProductID: 1, SellerID: 1, Quantity: 1, UnitPrice: dec("10.00"), WeightKg: dec("2")},
		{ProductID: 2, SellerID: 2, Quantity: 1, UnitPrice: dec("5.00"), WeightKg: dec("4"), FreeShipping: true},
		{ProductID: 3, SellerID: 2, Quantity: 3, UnitPrice: dec("1.00"), WeightKg: dec("1")},
	}, nil, "CA")
	require.NoError(t, err)

	require.Len(t, q.Groups, 2)
	assert.Equal(t, int64(1), q.Groups[0].SellerID)
	assert.Equal(t, "7.50", q.Groups[0].Shipping.StringFixed(2))
	assert.True(t, q.Groups[1].FreeShipping)
	assert.True(t, q.Groups[1].Shipping.IsZero())
	assert.Equal(t, "7.50", q.Shipping.StringFixed(2))
	assert.Equal(t, []int64{1, 2}, q.SellerIDs())

	// 18.00 * 0.0725 = 1.305 -> 1.31
	assert.Equal(t, "1.31", q.Tax.StringFixed(2))
}

func TestQuoteEmptyCart(t *testing.T) {
	_, err := newTestCalculator().Quote(nil, nil, "CA")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestQuoteTotalNeverNegative(t *testing.T) {
	c := newTestCalculator()
	c.Shipping = ShippingRates{}
	big := &models.Coupon{Code: "ALL", Type: models.CouponTypeFixedAmount, Value: dec("500"), IsActive: true}

	q, err := c.Quote([]Line{{ProductID: 1, SellerID: 1, Quantity: 1, UnitPrice: dec("3.00"), FreeShipping: true}}, big, "OR")
	require.NoError(t, err)
	assert.Equal(t, "3.00", q.Discount.StringFixed(2))
	assert.True(t, q.Total.IsZero())
}

func TestEvaluateCoupon(t *testing.T) {
	now := fixedNow()
	past := now.Add(-time.Hour)

	tests := []struct {
		name     string
		coupon   *models.Coupon
		subtotal string
		want     string
		kind     apperr.Kind
	}{
		{"missing", nil, "10", "", apperr.KindInvalidCoupon},
		{"inactive", &models.Coupon{Type: models.CouponTypePercentage, Value: dec("10")}, "10", "", apperr.KindInvalidCoupon},
		{"expired", &models.Coupon{Type: models.CouponTypePercentage, Value: dec("10"), IsActive: true, ExpiresAt: &past}, "10", "", apperr.KindInvalidCoupon},
		{"maxed", &models.Coupon{Type: models.CouponTypePercentage, Value: dec("10"), IsActive: true, UsageLimit: intPtr(1), UsedCount: 1}, "10", "", apperr.KindConflict},
		{"below minimum", &models.Coupon{Type: models.CouponTypeFixedAmount, Value: dec("5"), IsActive: true, MinOrderAmount: decimal.NewNullDecimal(dec("50"))}, "49.99", "", apperr.KindCouponMinimumNotMet},
		{"percentage capped", &models.Coupon{Type: models.CouponTypePercentage, Value: dec("50"), IsActive: true, MaxDiscount: decimal.NewNullDecimal(dec("15"))}, "100", "15.00", ""},
		{"percentage", &models.Coupon{Type: models.CouponTypePercentage, Value: dec("12.5"), IsActive: true}, "33.33", "4.17", ""},
		{"fixed capped by max", &models.Coupon{Type: models.CouponTypeFixedAmount, Value: dec("30"), IsActive: true, MaxDiscount: decimal.NewNullDecimal(dec("20"))}, "100", "20.00", ""},
		{"fixed clamped to subtotal", &models.Coupon{Type: models.CouponTypeFixedAmount, Value: dec("30"), IsActive: true}, "12.00", "12.00", ""},
		{"minimum met exactly", &models.Coupon{Type: models.CouponTypeFixedAmount, Value: dec("5"), IsActive: true, MinOrderAmount: decimal.NewNullDecimal(dec("50"))}, "50", "5.00", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EvaluateCoupon(tt.coupon, dec(tt.subtotal), now)
			if tt.kind != "" {
				require.Error(t, err)
				assert.Equal(t, tt.kind, apperr.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.StringFixed(2))
		})
	}
}

func TestApportionSumsExactly(t *testing.T) {
	parts := Apportion(dec("1.00"), []decimal.Decimal{dec("1"), dec("1"), dec("1")})
	require.Len(t, parts, 3)
	sum := parts[0].Add(parts[1]).Add(parts[2])
	assert.Equal(t, "1.00", sum.StringFixed(2))
	assert.Equal(t, "0.34", parts[0].StringFixed(2))

	zero := Apportion(dec("0.05"), []decimal.Decimal{decimal.Zero, decimal.Zero})
	assert.Equal(t, "0.05", zero[0].Add(zero[1]).StringFixed(2))
}

func TestTaxTableFallsBackToDefault(t *testing.T) {
	table := DefaultTaxTable()
	assert.True(t, table.RateFor("ca").Equal(dec("0.0725")))
	assert.True(t, table.RateFor("unknown").Equal(table.Default))
}

func TestQuoteSharesSumToTotalsProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(rt, "lines")
		lines := make([]Line, n)
		for i := range lines {
			lines[i] = Line{
				ProductID:    int64(i + 1),
				SellerID:     int64(rapid.IntRange(1, 3).Draw(rt, "seller")),
				Quantity:     rapid.IntRange(1, 5).Draw(rt, "qty"),
				UnitPrice:    decimal.New(int64(rapid.IntRange(1, 50000).Draw(rt, "cents")), -2),
				WeightKg:     decimal.New(int64(rapid.IntRange(0, 5000).Draw(rt, "grams")), -3),
				FreeShipping: rapid.Bool().Draw(rt, "free"),
			}
		}
		var coupon *models.Coupon
		if rapid.Bool().Draw(rt, "coupon") {
			coupon = &models.Coupon{
				Type:     models.CouponTypePercentage,
				Value:    decimal.NewFromInt(int64(rapid.IntRange(1, 100).Draw(rt, "pct"))),
				IsActive: true,
			}
		}

		q, err := newTestCalculator().Quote(lines, coupon, "CA")
		if err != nil {
			rt.Fatalf("quote: %v", err)
		}

		var sub, disc, tax, ship decimal.Decimal
		for _, l := range q.Lines {
			sub = sub.Add(l.Subtotal)
			disc = disc.Add(l.DiscountShare)
			tax = tax.Add(l.TaxShare)
			ship = ship.Add(l.ShippingShare)
			if l.TaxShare.IsNegative() || l.ShippingShare.IsNegative() || l.DiscountShare.IsNegative() {
				rt.Fatalf("negative share on line %d", l.ProductID)
			}
		}
		if !sub.Equal(q.Subtotal) || !disc.Equal(q.Discount) || !tax.Equal(q.Tax) || !ship.Equal(q.Shipping) {
			rt.Fatalf("shares do not sum: sub %s/%s disc %s/%s tax %s/%s ship %s/%s",
				sub, q.Subtotal, disc, q.Discount, tax, q.Tax, ship, q.Shipping)
		}
		want := decimal.Max(decimal.Zero, q.Subtotal.Sub(q.Discount).Add(q.Tax).Add(q.Shipping))
		if !q.Total.Equal(want) {
			rt.Fatalf("total %s, want %s", q.Total, want)
		}
	})
}

package pricing

import (
	"time"

	"marketplace-orders/internal/apperr"
	"marketplace-orders/internal/models"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// EvaluateCoupon validates a coupon against the order subtotal and returns the
// discount it grants. The discount is never negative and never exceeds subtotal.
func EvaluateCoupon(coupon *models.Coupon, subtotal decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	if coupon == nil {
		return decimal.Zero, apperr.InvalidCoupon("coupon not found")
	}
	if !coupon.IsActive {
		return decimal.Zero, apperr.InvalidCoupon("coupon is not active").WithDetail("code", coupon.Code)
	}
	if coupon.ExpiresAt != nil && now.After(*coupon.ExpiresAt) {
		return decimal.Zero, apperr.InvalidCoupon("coupon has expired").WithDetail("code", coupon.Code)
	}
	if coupon.UsageLimit != nil && coupon.UsedCount >= *coupon.UsageLimit {
		return decimal.Zero, apperr.Conflict("coupon usage limit reached").WithDetail("code", coupon.Code)
	}
	if coupon.MinOrderAmount.Valid && subtotal.LessThan(coupon.MinOrderAmount.Decimal) {
		return decimal.Zero, apperr.CouponMinimumNotMet(coupon.MinOrderAmount.Decimal.StringFixed(2))
	}

	var discount decimal.Decimal
	switch coupon.Type {
	case models.CouponTypePercentage:
		discount = subtotal.Mul(coupon.Value).Div(hundred).Round(2)
		if coupon.MaxDiscount.Valid {
			discount = decimal.Min(discount, coupon.MaxDiscount.Decimal)
		}
	case models.CouponTypeFixedAmount:
		discount = coupon.Value
		if coupon.MaxDiscount.Valid {
			discount = decimal.Min(discount, coupon.MaxDiscount.Decimal)
		}
	default:
		return decimal.Zero, apperr.InvalidCoupon("unsupported coupon type").WithDetail("type", coupon.Type)
	}

	discount = decimal.Min(discount, subtotal)
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	return discount, nil
}

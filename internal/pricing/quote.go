package pricing

import (
	"sort"
	"time"

	"marketplace-orders/internal/apperr"
	"marketplace-orders/internal/models"

	"github.com/shopspring/decimal"
)

// Line is one priced cart line as seen by the calculator.
type Line struct {
	ProductID    int64
	SellerID     int64
	Quantity     int
	UnitPrice    decimal.Decimal
	WeightKg     decimal.Decimal
	FreeShipping bool
}

// LineQuote carries the billing shares of one line.
type LineQuote struct {
	Line
	Subtotal      decimal.Decimal
	DiscountShare decimal.Decimal
	TaxShare      decimal.Decimal
	ShippingShare decimal.Decimal
}

// SellerGroup summarises the lines of one seller.
type SellerGroup struct {
	SellerID     int64           `json:"seller_id"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	WeightKg     decimal.Decimal `json:"weight_kg"`
	FreeShipping bool            `json:"free_shipping"`
	Shipping     decimal.Decimal `json:"shipping"`
}

// Quote is the full price breakdown of a prospective order.
type Quote struct {
	Lines    []LineQuote
	Groups   []SellerGroup
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	TaxRate  decimal.Decimal
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Total    decimal.Decimal
}

// SellerIDs returns the distinct sellers of the quote in ascending order.
func (q *Quote) SellerIDs() []int64 {
	ids := make([]int64, 0, len(q.Groups))
	for _, g := range q.Groups {
		ids = append(ids, g.SellerID)
	}
	return ids
}

// Calculator prices carts with the configured tax table and shipping rates.
type Calculator struct {
	Tax      TaxTable
	Shipping ShippingRates
	Now      func() time.Time
}

func NewCalculator(tax TaxTable, shipping ShippingRates) *Calculator {
	return &Calculator{Tax: tax, Shipping: shipping, Now: time.Now}
}

// Quote groups lines by seller, applies the coupon to the whole-order subtotal,
// computes tax by billing region and shipping per seller, and apportions every
// amount back onto the lines.
func (c *Calculator) Quote(lines []Line, coupon *models.Coupon, billingRegion string) (*Quote, error) {
	if len(lines) == 0 {
		return nil, apperr.Validation("cart is empty")
	}

	q := &Quote{Lines: make([]LineQuote, len(lines))}
	groups := make(map[int64]*SellerGroup)
	groupLines := make(map[int64][]int)

	for i, l := range lines {
		if l.Quantity <= 0 {
			return nil, apperr.Validation("quantity must be positive").WithDetail("product_id", l.ProductID)
		}
		sub := l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))).Round(2)
		q.Lines[i] = LineQuote{Line: l, Subtotal: sub}
		q.Subtotal = q.Subtotal.Add(sub)

		g, ok := groups[l.SellerID]
		if !ok {
			g = &SellerGroup{SellerID: l.SellerID}
			groups[l.SellerID] = g
		}
		g.Subtotal = g.Subtotal.Add(sub)
		g.WeightKg = g.WeightKg.Add(l.WeightKg.Mul(decimal.NewFromInt(int64(l.Quantity))))
		g.FreeShipping = g.FreeShipping || l.FreeShipping
		groupLines[l.SellerID] = append(groupLines[l.SellerID], i)
	}

	if coupon != nil {
		now := time.Now()
		if c.Now != nil {
			now = c.Now()
		}
		discount, err := EvaluateCoupon(coupon, q.Subtotal, now)
		if err != nil {
			return nil, err
		}
		q.Discount = discount
	}

	lineSubs := make([]decimal.Decimal, len(q.Lines))
	for i := range q.Lines {
		lineSubs[i] = q.Lines[i].Subtotal
	}
	discountShares := Apportion(q.Discount, lineSubs)

	taxable := q.Subtotal.Sub(q.Discount)
	q.TaxRate = c.Tax.RateFor(billingRegion)
	q.Tax = taxable.Mul(q.TaxRate).Round(2)

	taxBases := make([]decimal.Decimal, len(q.Lines))
	for i := range q.Lines {
		q.Lines[i].DiscountShare = discountShares[i]
		taxBases[i] = q.Lines[i].Subtotal.Sub(discountShares[i])
	}
	taxShares := Apportion(q.Tax, taxBases)
	for i := range q.Lines {
		q.Lines[i].TaxShare = taxShares[i]
	}

	sellerIDs := make([]int64, 0, len(groups))
	for id := range groups {
		sellerIDs = append(sellerIDs, id)
	}
	sort.Slice(sellerIDs, func(a, b int) bool { return sellerIDs[a] < sellerIDs[b] })

	for _, id := range sellerIDs {
		g := groups[id]
		g.Shipping = c.Shipping.Cost(g.WeightKg, g.FreeShipping)
		q.Shipping = q.Shipping.Add(g.Shipping)

		idxs := groupLines[id]
		weights := make([]decimal.Decimal, len(idxs))
		for j, idx := range idxs {
			weights[j] = q.Lines[idx].Subtotal
		}
		for j, share := range Apportion(g.Shipping, weights) {
			q.Lines[idxs[j]].ShippingShare = share
		}
		q.Groups = append(q.Groups, *g)
	}

	q.Total = decimal.Max(decimal.Zero, q.Subtotal.Sub(q.Discount).Add(q.Tax).Add(q.Shipping))
	return q, nil
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a sellable catalog item and its stock counters
type Product struct {
	ID               int64               `db:"id" json:"id"`
	SKU              string              `db:"sku" json:"sku"`
	Name             string              `db:"name" json:"name"`
	SellerID         int64               `db:"seller_id" json:"seller_id"`
	Price            decimal.Decimal     `db:"price" json:"price"`
	SalePrice        decimal.NullDecimal `db:"sale_price" json:"sale_price"`
	StockQuantity    int                 `db:"stock_quantity" json:"stock_quantity"`
	ReservedQuantity int                 `db:"reserved_quantity" json:"reserved_quantity"`
	SoldQuantity     int                 `db:"sold_quantity" json:"sold_quantity"`
	WeightKg         decimal.Decimal     `db:"weight_kg" json:"weight_kg"`
	FreeShipping     bool                `db:"free_shipping" json:"free_shipping"`
	IsActive         bool                `db:"is_active" json:"is_active"`
	CreatedAt        time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time           `db:"updated_at" json:"updated_at"`
}

// Available returns the stock that is neither reserved nor committed elsewhere.
func (p *Product) Available() int {
	return p.StockQuantity - p.ReservedQuantity
}

// EffectivePrice is the sale price when one is set below the list price.
func (p *Product) EffectivePrice() decimal.Decimal {
	if p.SalePrice.Valid && p.SalePrice.Decimal.IsPositive() && p.SalePrice.Decimal.LessThan(p.Price) {
		return p.SalePrice.Decimal
	}
	return p.Price
}

// CartLine is one product in a user's cart with its snapshot price
type CartLine struct {
	UserID    int64           `db:"user_id" json:"user_id"`
	ProductID int64           `db:"product_id" json:"product_id"`
	Quantity  int             `db:"quantity" json:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
	AddedAt   time.Time       `db:"added_at" json:"added_at"`
}

// Address is a user's shipping or billing address
type Address struct {
	ID         int64     `db:"id" json:"id"`
	UserID     int64     `db:"user_id" json:"user_id"`
	Line1      string    `db:"line1" json:"line1"`
	City       string    `db:"city" json:"city"`
	State      string    `db:"state" json:"state"`
	PostalCode string    `db:"postal_code" json:"postal_code"`
	Country    string    `db:"country" json:"country"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Order represents a customer order spanning one or more sellers
type Order struct {
	ID                int64           `db:"id" json:"id"`
	UserID            int64           `db:"user_id" json:"user_id"`
	OrderNumber       string          `db:"order_number" json:"order_number"`
	Status            OrderStatus     `db:"status" json:"status"`
	PaymentStatus     PaymentStatus   `db:"payment_status" json:"payment_status"`
	PaymentMethod     string          `db:"payment_method" json:"payment_method"`
	InventoryState    InventoryState  `db:"inventory_state" json:"inventory_state"`
	Subtotal          decimal.Decimal `db:"subtotal" json:"subtotal"`
	Discount          decimal.Decimal `db:"discount" json:"discount"`
	Tax               decimal.Decimal `db:"tax" json:"tax"`
	Shipping          decimal.Decimal `db:"shipping" json:"shipping"`
	Total             decimal.Decimal `db:"total" json:"total"`
	CouponID          *int64          `db:"coupon_id" json:"coupon_id,omitempty"`
	AffiliateID       *int64          `db:"affiliate_id" json:"affiliate_id,omitempty"`
	ShippingAddressID int64           `db:"shipping_address_id" json:"shipping_address_id"`
	BillingAddressID  int64           `db:"billing_address_id" json:"billing_address_id"`
	IdempotencyKey    *string         `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// OrderItem is an immutable billing line of an order
type OrderItem struct {
	ID            int64           `db:"id" json:"id"`
	OrderID       int64           `db:"order_id" json:"order_id"`
	ProductID     int64           `db:"product_id" json:"product_id"`
	SellerID      int64           `db:"seller_id" json:"seller_id"`
	Quantity      int             `db:"quantity" json:"quantity"`
	UnitPrice     decimal.Decimal `db:"unit_price" json:"unit_price"`
	Subtotal      decimal.Decimal `db:"subtotal" json:"subtotal"`
	DiscountShare decimal.Decimal `db:"discount_share" json:"discount_share"`
	TaxShare      decimal.Decimal `db:"tax_share" json:"tax_share"`
	ShippingShare decimal.Decimal `db:"shipping_share" json:"shipping_share"`
}

// Coupon types
const (
	CouponTypePercentage  = "percentage"
	CouponTypeFixedAmount = "fixed_amount"
)

// Coupon is a discount code with usage constraints
type Coupon struct {
	ID             int64               `db:"id" json:"id"`
	Code           string              `db:"code" json:"code"`
	Type           string              `db:"type" json:"type"`
	Value          decimal.Decimal     `db:"value" json:"value"`
	MinOrderAmount decimal.NullDecimal `db:"min_order_amount" json:"min_order_amount"`
	MaxDiscount    decimal.NullDecimal `db:"max_discount" json:"max_discount"`
	UsageLimit     *int                `db:"usage_limit" json:"usage_limit,omitempty"`
	UsedCount      int                 `db:"used_count" json:"used_count"`
	IsActive       bool                `db:"is_active" json:"is_active"`
	ExpiresAt      *time.Time          `db:"expires_at" json:"expires_at,omitempty"`
	CreatedAt      time.Time           `db:"created_at" json:"created_at"`
}

// CouponUsage records one successful application of a coupon
type CouponUsage struct {
	ID       int64           `db:"id" json:"id"`
	CouponID int64           `db:"coupon_id" json:"coupon_id"`
	UserID   int64           `db:"user_id" json:"user_id"`
	OrderID  int64           `db:"order_id" json:"order_id"`
	Discount decimal.Decimal `db:"discount" json:"discount"`
	UsedAt   time.Time       `db:"used_at" json:"used_at"`
}

// Affiliate earns commission on orders placed with its code
type Affiliate struct {
	ID                 int64           `db:"id" json:"id"`
	UserID             int64           `db:"user_id" json:"user_id"`
	Code               string          `db:"code" json:"code"`
	CommissionRate     decimal.Decimal `db:"commission_rate" json:"commission_rate"`
	PendingCommission  decimal.Decimal `db:"pending_commission" json:"pending_commission"`
	ApprovedCommission decimal.Decimal `db:"approved_commission" json:"approved_commission"`
}

// Commission statuses
const (
	CommissionStatusPending  = "pending"
	CommissionStatusApproved = "approved"
)

// AffiliateCommission is the commission owed for one order
type AffiliateCommission struct {
	ID          int64           `db:"id" json:"id"`
	OrderID     int64           `db:"order_id" json:"order_id"`
	AffiliateID int64           `db:"affiliate_id" json:"affiliate_id"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	Status      string          `db:"status" json:"status"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// Payment represents a gateway charge attempt
type Payment struct {
	ID           int64           `db:"id" json:"id"`
	OrderID      int64           `db:"order_id" json:"order_id"`
	Method       string          `db:"method" json:"method"`
	Amount       decimal.Decimal `db:"amount" json:"amount"`
	Status       string          `db:"status" json:"status"`
	ProviderTxID *string         `db:"provider_tx_id" json:"provider_tx_id,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// Payment attempt statuses
const (
	PaymentAttemptPending   = "pending"
	PaymentAttemptSucceeded = "succeeded"
	PaymentAttemptFailed    = "failed"
)

// ProcessedSettlement makes settlement callbacks idempotent per gateway transaction
type ProcessedSettlement struct {
	TransactionID string    `db:"transaction_id"`
	OrderID       int64     `db:"order_id"`
	Outcome       string    `db:"outcome"`
	ProcessedAt   time.Time `db:"processed_at"`
}

// OutboxEvent is a domain event written in the same transaction as the state change
type OutboxEvent struct {
	ID           int64      `db:"id" json:"id"`
	AggregateID  int64      `db:"aggregate_id" json:"aggregate_id"`
	EventType    string     `db:"event_type" json:"event_type"`
	Payload      []byte     `db:"payload" json:"payload"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	DispatchedAt *time.Time `db:"dispatched_at" json:"dispatched_at,omitempty"`
}

// User roles
const (
	RoleCustomer = "customer"
	RoleSeller   = "seller"
	RoleAdmin    = "admin"
)

// User is an account that can shop, sell or administer
type User struct {
	ID           int64     `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         string    `db:"role" json:"role"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

package store

import (
	"context"

	"marketplace-orders/internal/models"
)

// Queries is the data access surface shared by the database handle and an
// open transaction. Lookups that return (nil, nil) mean "no such row".
type Queries interface {
	CreateProduct(ctx context.Context, p *models.Product) error
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error)
	ListProducts(ctx context.Context) ([]models.Product, error)
	SetStockQuantity(ctx context.Context, productID int64, stock int) error
	DeactivateProduct(ctx context.Context, productID int64) error

	// ReserveStock holds quantity units when at least that many are available;
	// false means the guard rejected the update.
	ReserveStock(ctx context.Context, productID int64, quantity int) (bool, error)
	ReleaseStock(ctx context.Context, productID int64, quantity int) error
	CommitStock(ctx context.Context, productID int64, quantity int) error
	RestockCommitted(ctx context.Context, productID int64, quantity int) error

	GetCartLines(ctx context.Context, userID int64) ([]models.CartLine, error)
	UpsertCartLine(ctx context.Context, line *models.CartLine) error
	DeleteCartLine(ctx context.Context, userID, productID int64) (bool, error)
	ClearCart(ctx context.Context, userID int64) error

	CreateAddress(ctx context.Context, a *models.Address) error
	GetAddressByID(ctx context.Context, id int64) (*models.Address, error)
	ListAddressesByUser(ctx context.Context, userID int64) ([]models.Address, error)

	CreateOrder(ctx context.Context, o *models.Order) error
	CreateOrderItem(ctx context.Context, item *models.OrderItem) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	// LockOrder reads the order and holds a row lock until the transaction ends.
	LockOrder(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, userID int64, key string) (*models.Order, error)
	ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error)
	GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	// UpdateOrderStatus moves the order only if it is still in status from.
	UpdateOrderStatus(ctx context.Context, orderID int64, from, to models.OrderStatus) (bool, error)
	UpdatePaymentStatus(ctx context.Context, orderID int64, status models.PaymentStatus) error
	SetInventoryState(ctx context.Context, orderID int64, state models.InventoryState) error

	CreateCoupon(ctx context.Context, c *models.Coupon) error
	GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error)
	// IncrementCouponUsage bumps used_count unless the usage limit is reached.
	IncrementCouponUsage(ctx context.Context, couponID int64) (bool, error)
	RecordCouponUsage(ctx context.Context, u *models.CouponUsage) error

	CreateAffiliate(ctx context.Context, a *models.Affiliate) error
	GetAffiliateByCode(ctx context.Context, code string) (*models.Affiliate, error)
	GetAffiliateByID(ctx context.Context, id int64) (*models.Affiliate, error)
	// CreateCommission stores a pending commission and adds it to the
	// affiliate's pending balance.
	CreateCommission(ctx context.Context, c *models.AffiliateCommission) error
	// ApproveCommissions approves the order's pending commissions and moves
	// their amounts from pending to approved balance. Returns how many moved.
	ApproveCommissions(ctx context.Context, orderID int64) (int, error)
	ListCommissionsByOrder(ctx context.Context, orderID int64) ([]models.AffiliateCommission, error)

	CreatePayment(ctx context.Context, p *models.Payment) error
	UpdatePaymentAttempt(ctx context.Context, paymentID int64, status string, providerTxID *string) error
	GetPaymentByTxID(ctx context.Context, txID string) (*models.Payment, error)
	ListPaymentsByOrder(ctx context.Context, orderID int64) ([]models.Payment, error)
	// MarkSettlementProcessed returns false if the transaction id was seen before.
	MarkSettlementProcessed(ctx context.Context, s *models.ProcessedSettlement) (bool, error)

	EnqueueOutbox(ctx context.Context, e *models.OutboxEvent) error
	FetchPendingOutbox(ctx context.Context, limit int) ([]models.OutboxEvent, error)
	MarkOutboxDispatched(ctx context.Context, ids []int64) error

	CreateUser(ctx context.Context, u *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
}

// Repository is a Queries handle that can also open transactions.
type Repository interface {
	Queries
	// WithTx runs fn in a transaction; any error from fn rolls everything back.
	WithTx(ctx context.Context, fn func(q Queries) error) error
	Ping(ctx context.Context) error
	Close() error
}

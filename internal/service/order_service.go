package service

import (
	"context"
	"fmt"
	"time"

	"marketplace-orders/internal/apperr"
	"marketplace-orders/internal/models"
	"marketplace-orders/internal/pricing"
	"marketplace-orders/internal/store"
	"marketplace-orders/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// OrderService handles checkout and order reads
type OrderService struct {
	repo      store.Repository
	calc      *pricing.Calculator
	inventory *InventoryService
	locker    Locker
	idem      IdempotencyCache
	lockTTL   time.Duration
	idemTTL   time.Duration
	logger    *zap.Logger
}

// NewOrderService creates a new order service. locker and idem may be nil.
func NewOrderService(
	repo store.Repository,
	calc *pricing.Calculator,
	inventory *InventoryService,
	locker Locker,
	idem IdempotencyCache,
	lockTTL, idemTTL time.Duration,
) *OrderService {
	return &OrderService{
		repo:      repo,
		calc:      calc,
		inventory: inventory,
		locker:    locker,
		idem:      idem,
		lockTTL:   lockTTL,
		idemTTL:   idemTTL,
		logger:    util.GetLogger(),
	}
}

// CreateOrderRequest represents a checkout of the caller's cart
type CreateOrderRequest struct {
	ShippingAddressID int64  `json:"shipping_address_id" validate:"required,gt=0"`
	BillingAddressID  int64  `json:"billing_address_id" validate:"required,gt=0"`
	PaymentMethod     string `json:"payment_method" validate:"required,oneof=card bank_transfer e_wallet"`
	CouponCode        string `json:"coupon_code,omitempty" validate:"omitempty,max=64"`
	AffiliateCode     string `json:"affiliate_code,omitempty" validate:"omitempty,max=64"`
	IdempotencyKey    string `json:"-" validate:"omitempty,max=128"`
}

// OrderDetails is an order with its billing lines.
type OrderDetails struct {
	*models.Order
	Items []models.OrderItem `json:"items"`
}

// CreateOrder checks out the user's cart. created is false when the
// idempotency key matched an earlier order, which is returned unchanged.
func (s *OrderService) CreateOrder(ctx context.Context, userID int64, req *CreateOrderRequest) (details *OrderDetails, created bool, err error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder", attribute.Int64("user_id", userID))
	defer func() { util.EndSpan(span, err) }()

	if err = validateRequest(req); err != nil {
		util.OrdersFailedTotal.WithLabelValues("validation").Inc()
		return nil, false, err
	}

	if existing, lookupErr := s.findByIdempotencyKey(ctx, userID, req.IdempotencyKey); lookupErr != nil {
		return nil, false, lookupErr
	} else if existing != nil {
		return existing, false, nil
	}

	if s.locker != nil {
		lockName := fmt.Sprintf("checkout:%d", userID)
		token, ok, lockErr := s.locker.AcquireLock(ctx, lockName, s.lockTTL)
		if lockErr != nil {
			s.logger.Warn("Checkout lock unavailable, relying on database guards", zap.Error(lockErr))
		} else if !ok {
			util.OrdersFailedTotal.WithLabelValues("locked").Inc()
			return nil, false, apperr.Conflict("another checkout for this user is in progress")
		} else {
			defer func() {
				if err := s.locker.ReleaseLock(context.Background(), lockName, token); err != nil {
					s.logger.Warn("Failed to release checkout lock", zap.Error(err))
				}
			}()
			// a request holding the lock before us may have used the same key
			if existing, lookupErr := s.findByIdempotencyKey(ctx, userID, req.IdempotencyKey); lookupErr != nil {
				return nil, false, lookupErr
			} else if existing != nil {
				return existing, false, nil
			}
		}
	}

	start := time.Now()
	details, err = s.checkout(ctx, userID, req)
	util.CheckoutLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		if req.IdempotencyKey != "" && apperr.Is(err, apperr.KindConflict) {
			if existing, lookupErr := s.findByIdempotencyKey(ctx, userID, req.IdempotencyKey); lookupErr == nil && existing != nil {
				return existing, false, nil
			}
		}
		util.OrdersFailedTotal.WithLabelValues(string(apperr.KindOf(err))).Inc()
		return nil, false, err
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", details.ID),
		zap.String("order_number", details.OrderNumber),
		zap.String("total", details.Total.StringFixed(2)))

	s.inventory.RefreshMirror(ctx, productIDsOf(details.Items))
	if s.idem != nil && req.IdempotencyKey != "" {
		if err := s.idem.RememberOrder(ctx, userID, req.IdempotencyKey, details.ID, s.idemTTL); err != nil {
			s.logger.Warn("Failed to cache idempotency key", zap.Error(err))
		}
	}
	return details, true, nil
}

// checkout prices the cart and writes the order in one transaction.
func (s *OrderService) checkout(ctx context.Context, userID int64, req *CreateOrderRequest) (*OrderDetails, error) {
	cart, err := s.repo.GetCartLines(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	if len(cart) == 0 {
		return nil, apperr.Validation("cart is empty")
	}

	if _, err := s.ownAddress(ctx, userID, req.ShippingAddressID, "shipping"); err != nil {
		return nil, err
	}
	billing, err := s.ownAddress(ctx, userID, req.BillingAddressID, "billing")
	if err != nil {
		return nil, err
	}

	lines, err := s.priceLines(ctx, cart)
	if err != nil {
		return nil, err
	}

	var coupon *models.Coupon
	if req.CouponCode != "" {
		if coupon, err = s.repo.GetCouponByCode(ctx, req.CouponCode); err != nil {
			return nil, fmt.Errorf("failed to load coupon: %w", err)
		}
		if coupon == nil {
			util.CouponRedemptionsTotal.WithLabelValues("invalid").Inc()
			return nil, apperr.InvalidCoupon("coupon not found")
		}
	}

	var affiliate *models.Affiliate
	if req.AffiliateCode != "" {
		if affiliate, err = s.repo.GetAffiliateByCode(ctx, req.AffiliateCode); err != nil {
			return nil, fmt.Errorf("failed to load affiliate: %w", err)
		}
		if affiliate == nil {
			return nil, apperr.Validation("unknown affiliate code")
		}
		if affiliate.UserID == userID {
			return nil, apperr.Validation("affiliate code cannot be used by its owner")
		}
	}

	quote, err := s.calc.Quote(lines, coupon, billing.State)
	if err != nil {
		if coupon != nil {
			util.CouponRedemptionsTotal.WithLabelValues(string(apperr.KindOf(err))).Inc()
		}
		return nil, err
	}

	order := &models.Order{
		UserID:            userID,
		OrderNumber:       util.NewOrderNumber(),
		Status:            models.OrderStatusPending,
		PaymentStatus:     models.PaymentStatusPending,
		PaymentMethod:     req.PaymentMethod,
		InventoryState:    models.InventoryReserved,
		Subtotal:          quote.Subtotal,
		Discount:          quote.Discount,
		Tax:               quote.Tax,
		Shipping:          quote.Shipping,
		Total:             quote.Total,
		ShippingAddressID: req.ShippingAddressID,
		BillingAddressID:  req.BillingAddressID,
	}
	if coupon != nil {
		order.CouponID = &coupon.ID
	}
	if affiliate != nil {
		order.AffiliateID = &affiliate.ID
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		order.IdempotencyKey = &key
	}

	items := make([]models.OrderItem, len(quote.Lines))
	for i, l := range quote.Lines {
		items[i] = models.OrderItem{
			ProductID:     l.ProductID,
			SellerID:      l.SellerID,
			Quantity:      l.Quantity,
			UnitPrice:     l.UnitPrice,
			Subtotal:      l.Subtotal,
			DiscountShare: l.DiscountShare,
			TaxShare:      l.TaxShare,
			ShippingShare: l.ShippingShare,
		}
	}

	err = s.repo.WithTx(ctx, func(q store.Queries) error {
		if err := q.CreateOrder(ctx, order); err != nil {
			return err
		}
		for i := range items {
			items[i].OrderID = order.ID
			if err := q.CreateOrderItem(ctx, &items[i]); err != nil {
				return fmt.Errorf("failed to create order item: %w", err)
			}
		}

		if err := s.inventory.Reserve(ctx, q, items); err != nil {
			return err
		}

		if err := q.ClearCart(ctx, userID); err != nil {
			return fmt.Errorf("failed to clear cart: %w", err)
		}

		if coupon != nil {
			ok, err := q.IncrementCouponUsage(ctx, coupon.ID)
			if err != nil {
				return fmt.Errorf("failed to record coupon usage: %w", err)
			}
			if !ok {
				return apperr.Conflict("coupon usage limit reached")
			}
			if err := q.RecordCouponUsage(ctx, &models.CouponUsage{
				CouponID: coupon.ID, UserID: userID, OrderID: order.ID, Discount: quote.Discount,
			}); err != nil {
				return fmt.Errorf("failed to record coupon usage: %w", err)
			}
		}

		if affiliate != nil {
			amount := quote.Subtotal.Sub(quote.Discount).Mul(affiliate.CommissionRate).Round(2)
			if err := q.CreateCommission(ctx, &models.AffiliateCommission{
				OrderID: order.ID, AffiliateID: affiliate.ID, Amount: amount,
			}); err != nil {
				return fmt.Errorf("failed to create commission: %w", err)
			}
		}

		return s.enqueueCheckoutEvents(ctx, q, order, items, quote)
	})
	if err != nil {
		if apperr.Is(err, apperr.KindConflict) && coupon != nil {
			util.CouponRedemptionsTotal.WithLabelValues("exhausted").Inc()
		}
		return nil, err
	}
	if coupon != nil {
		util.CouponRedemptionsTotal.WithLabelValues("applied").Inc()
	}

	return &OrderDetails{Order: order, Items: items}, nil
}

func (s *OrderService) enqueueCheckoutEvents(ctx context.Context, q store.Queries, order *models.Order, items []models.OrderItem, quote *pricing.Quote) error {
	data := make([]models.OrderItemData, len(items))
	for i, it := range items {
		data[i] = models.OrderItemData{
			ProductID: it.ProductID,
			SellerID:  it.SellerID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		}
	}

	if err := enqueueEvent(ctx, q, order.ID, models.EventTypeOrderCreated, &models.OrderCreatedEvent{
		BaseEvent:   newBaseEvent(models.EventTypeOrderCreated),
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Total:       order.Total,
		SellerIDs:   quote.SellerIDs(),
		Items:       data,
	}); err != nil {
		return err
	}

	return enqueueEvent(ctx, q, order.ID, models.EventTypePaymentRequested, &models.PaymentRequestedEvent{
		BaseEvent:   newBaseEvent(models.EventTypePaymentRequested),
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Amount:      order.Total,
		Method:      order.PaymentMethod,
	})
}

// priceLines joins cart lines with the catalog. Orders are priced at the
// current effective price, not the price snapshot taken when the line was added.
func (s *OrderService) priceLines(ctx context.Context, cart []models.CartLine) ([]pricing.Line, error) {
	ids := make([]int64, len(cart))
	for i, c := range cart {
		ids[i] = c.ProductID
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}
	byID := make(map[int64]*models.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}

	lines := make([]pricing.Line, 0, len(cart))
	for _, c := range cart {
		p, ok := byID[c.ProductID]
		if !ok || !p.IsActive {
			return nil, apperr.Validation(fmt.Sprintf("product %d is no longer available", c.ProductID)).
				WithDetail("product_id", c.ProductID)
		}
		if p.Available() < c.Quantity {
			util.InventoryReservationsFailed.WithLabelValues("precheck").Inc()
			return nil, apperr.InsufficientStock(p.ID, p.Available())
		}
		lines = append(lines, pricing.Line{
			ProductID:    p.ID,
			SellerID:     p.SellerID,
			Quantity:     c.Quantity,
			UnitPrice:    p.EffectivePrice(),
			WeightKg:     p.WeightKg,
			FreeShipping: p.FreeShipping,
		})
	}
	return lines, nil
}

func (s *OrderService) ownAddress(ctx context.Context, userID, addressID int64, kind string) (*models.Address, error) {
	addr, err := s.repo.GetAddressByID(ctx, addressID)
	if apperr.Is(err, apperr.KindNotFound) {
		return nil, apperr.Validation(fmt.Sprintf("%s address not found", kind)).
			WithDetail(kind+"_address_id", addressID)
	}
	if err != nil {
		return nil, err
	}
	if addr.UserID != userID {
		return nil, apperr.PermissionDenied(fmt.Sprintf("%s address belongs to another user", kind))
	}
	return addr, nil
}

// findByIdempotencyKey consults the Redis mapping first and falls back to the
// database, whose unique key is authoritative.
func (s *OrderService) findByIdempotencyKey(ctx context.Context, userID int64, key string) (*OrderDetails, error) {
	if key == "" {
		return nil, nil
	}

	if s.idem != nil {
		if orderID, found, err := s.idem.LookupOrder(ctx, userID, key); err != nil {
			s.logger.Warn("Idempotency cache lookup failed", zap.Error(err))
		} else if found {
			if details, err := s.loadDetails(ctx, orderID); err == nil && details.UserID == userID {
				s.logger.Info("Duplicate order request detected",
					zap.String("idempotency_key", key),
					zap.Int64("order_id", orderID))
				return details, nil
			}
		}
	}

	order, err := s.repo.GetOrderByIdempotencyKey(ctx, userID, key)
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	if order == nil {
		return nil, nil
	}
	s.logger.Info("Duplicate order request detected",
		zap.String("idempotency_key", key),
		zap.Int64("order_id", order.ID))
	items, err := s.repo.GetOrderItemsByOrderID(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	return &OrderDetails{Order: order, Items: items}, nil
}

func (s *OrderService) loadDetails(ctx context.Context, orderID int64) (*OrderDetails, error) {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &OrderDetails{Order: order, Items: items}, nil
}

// GetOrder returns an order visible to actor: its owner, a seller with items
// in it, or an admin.
func (s *OrderService) GetOrder(ctx context.Context, actor Actor, orderID int64) (*OrderDetails, error) {
	details, err := s.loadDetails(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !canView(actor, details.Order, details.Items) {
		return nil, apperr.PermissionDenied("not allowed to view this order")
	}
	return details, nil
}

// ListOrders returns the caller's own orders, newest first.
func (s *OrderService) ListOrders(ctx context.Context, actor Actor) ([]models.Order, error) {
	return s.repo.ListOrdersByUser(ctx, actor.UserID)
}

func canView(actor Actor, order *models.Order, items []models.OrderItem) bool {
	switch {
	case actor.IsAdmin():
		return true
	case order.UserID == actor.UserID:
		return true
	case actor.Role == models.RoleSeller:
		return sellsIn(actor.UserID, items)
	}
	return false
}

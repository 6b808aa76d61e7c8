package service

import (
	"context"
	"time"

	"marketplace-orders/internal/apperr"
	"marketplace-orders/internal/models"
	"marketplace-orders/internal/pricing"
	"marketplace-orders/internal/store"
	"marketplace-orders/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CatalogService manages products, addresses, coupons and affiliates.
type CatalogService struct {
	repo      store.Repository
	inventory *InventoryService
	now       func() time.Time
	logger    *zap.Logger
}

func NewCatalogService(repo store.Repository, inventory *InventoryService) *CatalogService {
	return &CatalogService{
		repo:      repo,
		inventory: inventory,
		now:       time.Now,
		logger:    util.GetLogger(),
	}
}

type CreateProductRequest struct {
	SKU           string           `json:"sku" validate:"required,max=64"`
	Name          string           `json:"name" validate:"required,max=255"`
	SellerID      int64            `json:"seller_id" validate:"omitempty,gt=0"`
	Price         decimal.Decimal  `json:"price"`
	SalePrice     *decimal.Decimal `json:"sale_price,omitempty"`
	StockQuantity int              `json:"stock_quantity" validate:"gte=0"`
	WeightKg      decimal.Decimal  `json:"weight_kg"`
	FreeShipping  bool             `json:"free_shipping"`
}

// ProductView is a product with its derived availability.
type ProductView struct {
	*models.Product
	Available      int             `json:"available"`
	EffectivePrice decimal.Decimal `json:"effective_price"`
}

func newProductView(p *models.Product) *ProductView {
	return &ProductView{Product: p, Available: p.Available(), EffectivePrice: p.EffectivePrice()}
}

// CreateProduct lists a new product. Sellers always sell as themselves.
func (s *CatalogService) CreateProduct(ctx context.Context, actor Actor, req *CreateProductRequest) (*ProductView, error) {
	if actor.Role != models.RoleSeller && !actor.IsAdmin() {
		return nil, apperr.PermissionDenied("only sellers can list products")
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if !req.Price.IsPositive() {
		return nil, apperr.Validation("price must be positive")
	}
	if req.WeightKg.IsNegative() {
		return nil, apperr.Validation("weight_kg cannot be negative")
	}

	sellerID := actor.UserID
	if actor.IsAdmin() && req.SellerID != 0 {
		owner, err := s.existingUser(ctx, req.SellerID, "seller_id")
		if err != nil {
			return nil, err
		}
		if owner.Role != models.RoleSeller {
			return nil, apperr.Validation("seller_id must reference a seller").
				WithDetail("role", owner.Role)
		}
		sellerID = owner.ID
	}
	p := &models.Product{
		SKU:           req.SKU,
		Name:          req.Name,
		SellerID:      sellerID,
		Price:         req.Price,
		StockQuantity: req.StockQuantity,
		WeightKg:      req.WeightKg,
		FreeShipping:  req.FreeShipping,
		IsActive:      true,
	}
	if req.SalePrice != nil {
		if req.SalePrice.IsNegative() {
			return nil, apperr.Validation("sale_price cannot be negative")
		}
		p.SalePrice = decimal.NewNullDecimal(*req.SalePrice)
	}
	if err := s.repo.CreateProduct(ctx, p); err != nil {
		return nil, err
	}

	s.logger.Info("Product created", zap.Int64("product_id", p.ID), zap.String("sku", p.SKU))
	s.inventory.RefreshMirror(ctx, []int64{p.ID})
	return newProductView(p), nil
}

func (s *CatalogService) GetProduct(ctx context.Context, id int64) (*ProductView, error) {
	p, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return newProductView(p), nil
}

func (s *CatalogService) ListProducts(ctx context.Context) ([]*ProductView, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]*ProductView, len(products))
	for i := range products {
		views[i] = newProductView(&products[i])
	}
	return views, nil
}

// SetStock overwrites on-hand stock; it may not go below what is reserved.
func (s *CatalogService) SetStock(ctx context.Context, actor Actor, productID int64, stock int) (*ProductView, error) {
	if stock < 0 {
		return nil, apperr.Validation("stock_quantity cannot be negative")
	}
	if err := s.authorizeProduct(ctx, actor, productID); err != nil {
		return nil, err
	}
	if err := s.repo.SetStockQuantity(ctx, productID, stock); err != nil {
		return nil, err
	}
	s.inventory.RefreshMirror(ctx, []int64{productID})
	return s.GetProduct(ctx, productID)
}

// Deactivate hides a product from sale. Products are never hard-deleted
// because order lines reference them.
func (s *CatalogService) Deactivate(ctx context.Context, actor Actor, productID int64) error {
	if err := s.authorizeProduct(ctx, actor, productID); err != nil {
		return err
	}
	if err := s.repo.DeactivateProduct(ctx, productID); err != nil {
		return err
	}
	s.logger.Info("Product deactivated", zap.Int64("product_id", productID))
	return nil
}

func (s *CatalogService) authorizeProduct(ctx context.Context, actor Actor, productID int64) error {
	p, err := s.repo.GetProductByID(ctx, productID)
	if err != nil {
		return err
	}
	if actor.IsAdmin() || (actor.Role == models.RoleSeller && p.SellerID == actor.UserID) {
		return nil
	}
	return apperr.PermissionDenied("product belongs to another seller")
}

type CreateAddressRequest struct {
	Line1      string `json:"line1" validate:"required,max=255"`
	City       string `json:"city" validate:"required,max=100"`
	State      string `json:"state" validate:"required,max=100"`
	PostalCode string `json:"postal_code" validate:"required,max=20"`
	Country    string `json:"country" validate:"required,len=2"`
}

func (s *CatalogService) CreateAddress(ctx context.Context, userID int64, req *CreateAddressRequest) (*models.Address, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	a := &models.Address{
		UserID:     userID,
		Line1:      req.Line1,
		City:       req.City,
		State:      req.State,
		PostalCode: req.PostalCode,
		Country:    req.Country,
	}
	if err := s.repo.CreateAddress(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *CatalogService) ListAddresses(ctx context.Context, userID int64) ([]models.Address, error) {
	return s.repo.ListAddressesByUser(ctx, userID)
}

type CreateCouponRequest struct {
	Code           string           `json:"code" validate:"required,max=64"`
	Type           string           `json:"type" validate:"required,oneof=percentage fixed_amount"`
	Value          decimal.Decimal  `json:"value"`
	MinOrderAmount *decimal.Decimal `json:"min_order_amount,omitempty"`
	MaxDiscount    *decimal.Decimal `json:"max_discount,omitempty"`
	UsageLimit     *int             `json:"usage_limit,omitempty" validate:"omitempty,gt=0"`
	ExpiresAt      *time.Time       `json:"expires_at,omitempty"`
}

// CreateCoupon is admin only.
func (s *CatalogService) CreateCoupon(ctx context.Context, actor Actor, req *CreateCouponRequest) (*models.Coupon, error) {
	if !actor.IsAdmin() {
		return nil, apperr.PermissionDenied("only admins can create coupons")
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if !req.Value.IsPositive() {
		return nil, apperr.Validation("value must be positive")
	}
	if req.Type == models.CouponTypePercentage && req.Value.GreaterThan(decimal.NewFromInt(100)) {
		return nil, apperr.Validation("percentage cannot exceed 100")
	}

	c := &models.Coupon{
		Code:       req.Code,
		Type:       req.Type,
		Value:      req.Value,
		UsageLimit: req.UsageLimit,
		IsActive:   true,
		ExpiresAt:  req.ExpiresAt,
	}
	if req.MinOrderAmount != nil {
		c.MinOrderAmount = decimal.NewNullDecimal(*req.MinOrderAmount)
	}
	if req.MaxDiscount != nil {
		c.MaxDiscount = decimal.NewNullDecimal(*req.MaxDiscount)
	}
	if err := s.repo.CreateCoupon(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

type ValidateCouponRequest struct {
	Code     string          `json:"code" validate:"required"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

// CouponPreview is the discount a code would give, without using it.
type CouponPreview struct {
	Code     string          `json:"code"`
	Discount decimal.Decimal `json:"discount"`
}

func (s *CatalogService) PreviewCoupon(ctx context.Context, req *ValidateCouponRequest) (*CouponPreview, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	c, err := s.repo.GetCouponByCode(ctx, req.Code)
	if err != nil {
		return nil, err
	}
	discount, err := pricing.EvaluateCoupon(c, req.Subtotal, s.now())
	if err != nil {
		return nil, err
	}
	return &CouponPreview{Code: req.Code, Discount: discount}, nil
}

type CreateAffiliateRequest struct {
	UserID         int64           `json:"user_id" validate:"required,gt=0"`
	Code           string          `json:"code" validate:"required,max=64"`
	CommissionRate decimal.Decimal `json:"commission_rate"`
}

// CreateAffiliate is admin only. Rates are fractions, 0.05 for five percent.
func (s *CatalogService) CreateAffiliate(ctx context.Context, actor Actor, req *CreateAffiliateRequest) (*models.Affiliate, error) {
	if !actor.IsAdmin() {
		return nil, apperr.PermissionDenied("only admins can create affiliates")
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if req.CommissionRate.IsNegative() || req.CommissionRate.GreaterThan(decimal.NewFromInt(1)) {
		return nil, apperr.Validation("commission_rate must be between 0 and 1")
	}
	if _, err := s.existingUser(ctx, req.UserID, "user_id"); err != nil {
		return nil, err
	}
	a := &models.Affiliate{
		UserID:         req.UserID,
		Code:           req.Code,
		CommissionRate: req.CommissionRate,
	}
	if err := s.repo.CreateAffiliate(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// existingUser loads the account a request refers to by id; a missing account
// is the caller's mistake, not a missing resource.
func (s *CatalogService) existingUser(ctx context.Context, id int64, field string) (*models.User, error) {
	u, err := s.repo.GetUserByID(ctx, id)
	if apperr.Is(err, apperr.KindNotFound) {
		return nil, apperr.Validation(field + " does not reference an existing user").
			WithDetail(field, id)
	}
	return u, err
}

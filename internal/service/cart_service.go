package service

import (
	"context"

	"marketplace-orders/internal/apperr"
	"marketplace-orders/internal/models"
	"marketplace-orders/internal/store"

	"github.com/shopspring/decimal"
)

// CartService manages a user's cart lines.
type CartService struct {
	repo  store.Repository
	stock StockReader
}

// NewCartService creates a cart service. stock may be nil; when set, the
// mirror answers the availability pre-check before the database is read.
func NewCartService(repo store.Repository, stock StockReader) *CartService {
	return &CartService{repo: repo, stock: stock}
}

type CartLineRequest struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int   `json:"quantity" validate:"required,gt=0,lte=1000"`
}

// Cart is the user's cart with a snapshot total.
type Cart struct {
	Lines    []models.CartLine `json:"lines"`
	Subtotal decimal.Decimal   `json:"subtotal"`
}

func (s *CartService) GetCart(ctx context.Context, userID int64) (*Cart, error) {
	lines, err := s.repo.GetCartLines(ctx, userID)
	if err != nil {
		return nil, err
	}
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return &Cart{Lines: lines, Subtotal: subtotal}, nil
}

// SetLine adds a product or replaces the quantity of an existing line,
// snapshotting the current effective price.
func (s *CartService) SetLine(ctx context.Context, userID int64, req *CartLineRequest) (*models.CartLine, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if s.stock != nil {
		// a miss or a Redis error falls through to the database
		if available, _, err := s.stock.GetInventory(ctx, req.ProductID); err == nil && available < req.Quantity {
			return nil, apperr.InsufficientStock(req.ProductID, available)
		}
	}
	p, err := s.repo.GetProductByID(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}
	if !p.IsActive {
		return nil, apperr.Validation("product is not available").WithDetail("product_id", p.ID)
	}
	if p.Available() < req.Quantity {
		return nil, apperr.InsufficientStock(p.ID, p.Available())
	}

	line := &models.CartLine{
		UserID:    userID,
		ProductID: p.ID,
		Quantity:  req.Quantity,
		UnitPrice: p.EffectivePrice(),
	}
	if err := s.repo.UpsertCartLine(ctx, line); err != nil {
		return nil, err
	}
	return line, nil
}

func (s *CartService) RemoveLine(ctx context.Context, userID, productID int64) error {
	removed, err := s.repo.DeleteCartLine(ctx, userID, productID)
	if err != nil {
		return err
	}
	if !removed {
		return apperr.NotFound("product is not in the cart")
	}
	return nil
}

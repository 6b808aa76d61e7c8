package service

import (
	"context"
	"fmt"

	"marketplace-orders/internal/apperr"
	"marketplace-orders/internal/models"
	"marketplace-orders/internal/store"
	"marketplace-orders/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// InventoryService owns reservation, commit and compensation of product stock.
// The database is authoritative; the Redis mirror is refreshed after commits.
type InventoryService struct {
	repo   store.Repository
	mirror InventoryMirror
	logger *zap.Logger
}

// NewInventoryService creates a new inventory service. mirror may be nil.
func NewInventoryService(repo store.Repository, mirror InventoryMirror) *InventoryService {
	return &InventoryService{
		repo:   repo,
		mirror: mirror,
		logger: util.GetLogger(),
	}
}

// Reserve holds stock for every item inside the caller's transaction. The
// first line that cannot be reserved aborts with InsufficientStock.
func (s *InventoryService) Reserve(ctx context.Context, q store.Queries, items []models.OrderItem) error {
	ctx, span := util.StartSpan(ctx, "InventoryService.Reserve", attribute.Int("lines", len(items)))
	var err error
	defer func() { util.EndSpan(span, err) }()

	for _, item := range items {
		var ok bool
		ok, err = q.ReserveStock(ctx, item.ProductID, item.Quantity)
		if err != nil {
			util.InventoryReservationsFailed.WithLabelValues("error").Inc()
			err = fmt.Errorf("failed to reserve stock for product %d: %w", item.ProductID, err)
			return err
		}
		if !ok {
			util.InventoryReservationsFailed.WithLabelValues("insufficient_stock").Inc()
			available := 0
			if p, getErr := q.GetProductByID(ctx, item.ProductID); getErr == nil && p.IsActive {
				available = p.Available()
			}
			err = apperr.InsufficientStock(item.ProductID, available)
			return err
		}
	}
	return nil
}

// Commit converts the order's reservation into a permanent stock deduction.
func (s *InventoryService) Commit(ctx context.Context, q store.Queries, order *models.Order, items []models.OrderItem) error {
	if order.InventoryState != models.InventoryReserved {
		return nil
	}
	for _, item := range items {
		if err := q.CommitStock(ctx, item.ProductID, item.Quantity); err != nil {
			return err
		}
	}
	order.InventoryState = models.InventoryCommitted
	return q.SetInventoryState(ctx, order.ID, models.InventoryCommitted)
}

// Compensate gives the order's quantities back to availability: a live
// reservation is released, committed stock is put back on the shelf.
func (s *InventoryService) Compensate(ctx context.Context, q store.Queries, order *models.Order, items []models.OrderItem) error {
	switch order.InventoryState {
	case models.InventoryReserved:
		for _, item := range items {
			if err := q.ReleaseStock(ctx, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}
	case models.InventoryCommitted:
		for _, item := range items {
			if err := q.RestockCommitted(ctx, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}
	default:
		return nil
	}

	s.logger.Info("Inventory compensated",
		zap.Int64("order_id", order.ID),
		zap.String("from_state", string(order.InventoryState)))
	order.InventoryState = models.InventoryReleased
	return q.SetInventoryState(ctx, order.ID, models.InventoryReleased)
}

// RefreshMirror pushes current availability of the given products to the
// mirror. Failures are logged; the mirror is advisory.
func (s *InventoryService) RefreshMirror(ctx context.Context, productIDs []int64) {
	if s.mirror == nil || len(productIDs) == 0 {
		return
	}
	products, err := s.repo.GetProductsByIDs(ctx, productIDs)
	if err != nil {
		s.logger.Warn("Failed to load products for mirror refresh", zap.Error(err))
		return
	}
	for _, p := range products {
		if err := s.mirror.SyncInventory(ctx, p.ID, p.Available(), p.ReservedQuantity); err != nil {
			s.logger.Warn("Failed to refresh inventory mirror",
				zap.Int64("product_id", p.ID),
				zap.Error(err))
		}
	}
}

// SyncAll rebuilds the mirror for every active product.
func (s *InventoryService) SyncAll(ctx context.Context) (int, error) {
	if s.mirror == nil {
		return 0, nil
	}
	s.logger.Info("Starting inventory sync to Redis")

	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get products: %w", err)
	}

	synced := 0
	for _, p := range products {
		if err := s.mirror.SyncInventory(ctx, p.ID, p.Available(), p.ReservedQuantity); err != nil {
			s.logger.Error("Failed to sync inventory",
				zap.Int64("product_id", p.ID),
				zap.Error(err))
			continue
		}
		synced++
	}

	s.logger.Info("Inventory sync completed", zap.Int("count", synced))
	return synced, nil
}

func productIDsOf(items []models.OrderItem) []int64 {
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}
	return ids
}

package service

import (
	"context"
	"fmt"
	"testing"

	"marketplace-orders/internal/apperr"
	"marketplace-orders/internal/models"
	"marketplace-orders/internal/store"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"
)

// reserveOrder writes a one-line order and reserves its stock in one transaction.
func reserveOrder(f *fixture, userID int64, p *models.Product, qty int) (*models.Order, error) {
	ctx := context.Background()
	order := &models.Order{
		UserID:         userID,
		OrderNumber:    "ORD-TEST",
		Status:         models.OrderStatusPending,
		PaymentStatus:  models.PaymentStatusPending,
		PaymentMethod:  "card",
		InventoryState: models.InventoryReserved,
		Subtotal:       decimal.Zero,
		Total:          decimal.Zero,
	}
	err := f.repo.WithTx(ctx, func(q store.Queries) error {
		if err := q.CreateOrder(ctx, order); err != nil {
			return err
		}
		item := models.OrderItem{OrderID: order.ID, ProductID: p.ID, SellerID: p.SellerID, Quantity: qty, UnitPrice: p.Price}
		if err := q.CreateOrderItem(ctx, &item); err != nil {
			return err
		}
		return f.inventory.Reserve(ctx, q, []models.OrderItem{item})
	})
	return order, err
}

func TestReservationLifecycleProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		f := newFixture()
		ctx := context.Background()
		admin := f.user(t, models.RoleAdmin)
		stock := rapid.IntRange(0, 20).Draw(t, "stock")
		p := f.product(t, admin.UserID, "1.00", stock)

		check := func() {
			got := f.reload(t, p.ID)
			if got.ReservedQuantity < 0 || got.ReservedQuantity > got.StockQuantity {
				t.Fatalf("reserved %d outside [0, stock %d]", got.ReservedQuantity, got.StockQuantity)
			}
			if got.Available() < 0 {
				t.Fatalf("negative availability %d", got.Available())
			}
		}

		var live []*models.Order
		n := rapid.IntRange(1, 8).Draw(t, "orders")
		for i := 0; i < n; i++ {
			qty := rapid.IntRange(1, 6).Draw(t, "qty")
			order, err := reserveOrder(f, admin.UserID, p, qty)
			switch {
			case err == nil:
				live = append(live, order)
			case apperr.Is(err, apperr.KindInsufficientStock):
			default:
				t.Fatalf("reserve: %v", err)
			}
			check()

			if len(live) > 0 && rapid.Bool().Draw(t, "confirm") {
				idx := rapid.IntRange(0, len(live)-1).Draw(t, "which")
				if o, _ := f.repo.GetOrderByID(ctx, live[idx].ID); o.Status == models.OrderStatusPending {
					req := &SettlementRequest{TransactionID: fmt.Sprintf("TX-%d", o.ID), OrderID: o.ID, Outcome: OutcomeSucceeded}
					if _, err := f.payments.Settle(ctx, req); err != nil {
						t.Fatalf("settle: %v", err)
					}
				}
				check()
			}
		}

		for _, o := range live {
			if _, err := f.lifecycle.Transition(ctx, SystemActor, o.ID, models.OrderStatusCancelled, ""); err != nil {
				t.Fatalf("cancel: %v", err)
			}
			check()
		}

		got := f.reload(t, p.ID)
		if got.Available() != stock || got.StockQuantity != stock || got.SoldQuantity != 0 {
			t.Fatalf("after cancelling everything: stock=%d reserved=%d sold=%d, want stock %d",
				got.StockQuantity, got.ReservedQuantity, got.SoldQuantity, stock)
		}
	})
}

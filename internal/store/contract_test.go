package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"marketplace-orders/internal/apperr"
	"marketplace-orders/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// repositoryContract exercises behaviour both Repository implementations must share.
func repositoryContract(t *testing.T, newRepo func(t *testing.T) Repository) {
	t.Run("ReserveStockGuard", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		p := seedProduct(t, repo, 3)

		ok, err := repo.ReserveStock(ctx, p.ID, 2)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.ReserveStock(ctx, p.ID, 2)
		require.NoError(t, err)
		assert.False(t, ok, "only one unit left")

		got, err := repo.GetProductByID(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.ReservedQuantity)
		assert.Equal(t, 2, got.SoldQuantity)
		assert.Equal(t, 1, got.Available())
	})

	t.Run("ConcurrentReservationsNeverOversell", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		p := seedProduct(t, repo, 5)

		var wg sync.WaitGroup
		var wins int32
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := repo.ReserveStock(ctx, p.ID, 1)
				if err == nil && ok {
					atomic.AddInt32(&wins, 1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(5), wins)
		got, err := repo.GetProductByID(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, got.Available())
	})

	t.Run("CommitReleaseRestock", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		p := seedProduct(t, repo, 10)

		_, err := repo.ReserveStock(ctx, p.ID, 4)
		require.NoError(t, err)
		require.NoError(t, repo.CommitStock(ctx, p.ID, 4))

		got, _ := repo.GetProductByID(ctx, p.ID)
		assert.Equal(t, 6, got.StockQuantity)
		assert.Equal(t, 0, got.ReservedQuantity)
		assert.Equal(t, 4, got.SoldQuantity)

		require.NoError(t, repo.RestockCommitted(ctx, p.ID, 4))
		got, _ = repo.GetProductByID(ctx, p.ID)
		assert.Equal(t, 10, got.StockQuantity)
		assert.Equal(t, 0, got.SoldQuantity)

		require.NoError(t, repo.ReleaseStock(ctx, p.ID, 3))
		got, _ = repo.GetProductByID(ctx, p.ID)
		assert.Equal(t, 0, got.ReservedQuantity, "release floors at zero")
	})

	t.Run("CouponUsageLimit", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		limit := 1
		c := &models.Coupon{
			Code: fmt.Sprintf("ONCE-%d", time.Now().UnixNano()), Type: models.CouponTypeFixedAmount,
			Value: decimal.NewFromInt(5), UsageLimit: &limit, IsActive: true,
		}
		require.NoError(t, repo.CreateCoupon(ctx, c))

		ok, err := repo.IncrementCouponUsage(ctx, c.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.IncrementCouponUsage(ctx, c.ID)
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := repo.GetCouponByCode(ctx, c.Code)
		require.NoError(t, err)
		assert.Equal(t, 1, got.UsedCount)
	})

	t.Run("WithTxRollsBack", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		p := seedProduct(t, repo, 5)
		boom := errors.New("boom")

		err := repo.WithTx(ctx, func(q Queries) error {
			ok, err := q.ReserveStock(ctx, p.ID, 5)
			require.NoError(t, err)
			require.True(t, ok)
			return boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := repo.GetProductByID(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, got.ReservedQuantity)
	})

	t.Run("SettlementIsRecordedOnce", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		order := seedOrder(t, repo)
		txID := fmt.Sprintf("tx-%d", time.Now().UnixNano())

		first, err := repo.MarkSettlementProcessed(ctx, &models.ProcessedSettlement{
			TransactionID: txID, OrderID: order.ID, Outcome: "succeeded"})
		require.NoError(t, err)
		second, err := repo.MarkSettlementProcessed(ctx, &models.ProcessedSettlement{
			TransactionID: txID, OrderID: order.ID, Outcome: "succeeded"})
		require.NoError(t, err)

		assert.True(t, first)
		assert.False(t, second)
	})

	t.Run("GuardedStatusUpdate", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		order := seedOrder(t, repo)

		ok, err := repo.UpdateOrderStatus(ctx, order.ID, models.OrderStatusConfirmed, models.OrderStatusProcessing)
		require.NoError(t, err)
		assert.False(t, ok, "order is still pending")

		ok, err = repo.UpdateOrderStatus(ctx, order.ID, models.OrderStatusPending, models.OrderStatusConfirmed)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("IdempotencyKeyUniquePerUser", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		order := seedOrder(t, repo)

		found, err := repo.GetOrderByIdempotencyKey(ctx, order.UserID, *order.IdempotencyKey)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, order.ID, found.ID)

		dup := *order
		dup.OrderNumber = order.OrderNumber + "-dup"
		err = repo.CreateOrder(ctx, &dup)
		assert.True(t, apperr.Is(err, apperr.KindConflict))
	})

	t.Run("OutboxDispatch", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		order := seedOrder(t, repo)

		e := &models.OutboxEvent{AggregateID: order.ID, EventType: models.EventTypeOrderCreated, Payload: []byte(`{"order_id":1}`)}
		require.NoError(t, repo.EnqueueOutbox(ctx, e))

		pending, err := repo.FetchPendingOutbox(ctx, 100)
		require.NoError(t, err)
		require.NotEmpty(t, pending)

		ids := make([]int64, 0, len(pending))
		for _, p := range pending {
			ids = append(ids, p.ID)
		}
		require.NoError(t, repo.MarkOutboxDispatched(ctx, ids))

		pending, err = repo.FetchPendingOutbox(ctx, 100)
		require.NoError(t, err)
		for _, p := range pending {
			assert.NotEqual(t, e.ID, p.ID)
		}
	})

	t.Run("CommissionApprovalMovesBalance", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		order := seedOrder(t, repo)
		aff := &models.Affiliate{UserID: order.UserID, Code: fmt.Sprintf("AFF-%d", time.Now().UnixNano()),
			CommissionRate: decimal.RequireFromString("0.05")}
		require.NoError(t, repo.CreateAffiliate(ctx, aff))
		require.NoError(t, repo.CreateCommission(ctx, &models.AffiliateCommission{
			OrderID: order.ID, AffiliateID: aff.ID, Amount: decimal.RequireFromString("1.35")}))

		n, err := repo.ApproveCommissions(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, err := repo.GetAffiliateByID(ctx, aff.ID)
		require.NoError(t, err)
		assert.True(t, got.PendingCommission.IsZero())
		assert.Equal(t, "1.35", got.ApprovedCommission.StringFixed(2))

		n, err = repo.ApproveCommissions(ctx, order.ID)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func seedProduct(t *testing.T, repo Repository, stock int) *models.Product {
	t.Helper()
	p := &models.Product{
		SKU:           fmt.Sprintf("SKU-%d", time.Now().UnixNano()),
		Name:          "Widget",
		SellerID:      7,
		Price:         decimal.NewFromInt(10),
		StockQuantity: stock,
		WeightKg:      decimal.NewFromInt(1),
		IsActive:      true,
	}
	require.NoError(t, repo.CreateProduct(context.Background(), p))
	return p
}

func seedOrder(t *testing.T, repo Repository) *models.Order {
	t.Helper()
	ctx := context.Background()
	stamp := time.Now().UnixNano()

	user := &models.User{Email: fmt.Sprintf("buyer-%d@example.com", stamp), PasswordHash: "x", Role: models.RoleCustomer}
	require.NoError(t, repo.CreateUser(ctx, user))
	addr := &models.Address{UserID: user.ID, Line1: "1 Main St", City: "Springfield", State: "CA", Country: "US"}
	require.NoError(t, repo.CreateAddress(ctx, addr))

	key := fmt.Sprintf("key-%d", stamp)
	order := &models.Order{
		UserID:            user.ID,
		OrderNumber:       fmt.Sprintf("ORD-%d", stamp),
		Status:            models.OrderStatusPending,
		PaymentStatus:     models.PaymentStatusPending,
		PaymentMethod:     "card",
		InventoryState:    models.InventoryReserved,
		Subtotal:          decimal.NewFromInt(20),
		Total:             decimal.NewFromInt(20),
		ShippingAddressID: addr.ID,
		BillingAddressID:  addr.ID,
		IdempotencyKey:    &key,
	}
	require.NoError(t, repo.CreateOrder(ctx, order))
	return order
}

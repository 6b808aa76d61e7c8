package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"marketplace-orders/internal/models"
	"marketplace-orders/internal/pricing"
	"marketplace-orders/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type testingT interface {
	require.TestingT
	Helper()
}

type fakeGateway struct {
	mu     sync.Mutex
	status string
	calls  int
}

func (g *fakeGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return &ChargeResult{
		Status:        g.status,
		TransactionID: fmt.Sprintf("TX-%d-%d", req.OrderID, g.calls),
	}, nil
}

type fixture struct {
	repo      *store.MemoryStore
	inventory *InventoryService
	lifecycle *OrderLifecycle
	orders    *OrderService
	payments  *PaymentService
	catalog   *CatalogService
	carts     *CartService
	gateway   *fakeGateway
}

var emailSeq int64

func newFixture() *fixture {
	repo := store.NewMemoryStore()
	calc := pricing.NewCalculator(pricing.DefaultTaxTable(), pricing.DefaultShippingRates())
	inventory := NewInventoryService(repo, nil)
	lifecycle := NewOrderLifecycle(repo, inventory)
	gateway := &fakeGateway{status: OutcomeSucceeded}
	return &fixture{
		repo:      repo,
		inventory: inventory,
		lifecycle: lifecycle,
		orders:    NewOrderService(repo, calc, inventory, nil, nil, time.Second, time.Hour),
		payments:  NewPaymentService(repo, lifecycle, gateway),
		catalog:   NewCatalogService(repo, inventory),
		carts:     NewCartService(repo, nil),
		gateway:   gateway,
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (f *fixture) user(t testingT, role string) Actor {
	t.Helper()
	u := &models.User{
		Email:        fmt.Sprintf("user%d@example.com", atomic.AddInt64(&emailSeq, 1)),
		PasswordHash: "x",
		Role:         role,
	}
	require.NoError(t, f.repo.CreateUser(context.Background(), u))
	return Actor{UserID: u.ID, Role: role}
}

func (f *fixture) address(t testingT, userID int64, state string) int64 {
	t.Helper()
	a := &models.Address{UserID: userID, Line1: "1 Main St", City: "Springfield", State: state, PostalCode: "00001", Country: "US"}
	require.NoError(t, f.repo.CreateAddress(context.Background(), a))
	return a.ID
}

func (f *fixture) product(t testingT, sellerID int64, price string, stock int) *models.Product {
	t.Helper()
	p := &models.Product{
		SKU:           fmt.Sprintf("SKU-%d", atomic.AddInt64(&emailSeq, 1)),
		Name:          "Widget",
		SellerID:      sellerID,
		Price:         dec(price),
		StockQuantity: stock,
		WeightKg:      dec("1"),
		IsActive:      true,
	}
	require.NoError(t, f.repo.CreateProduct(context.Background(), p))
	return p
}

func (f *fixture) addToCart(t testingT, userID, productID int64, qty int) {
	t.Helper()
	_, err := f.carts.SetLine(context.Background(), userID, &CartLineRequest{ProductID: productID, Quantity: qty})
	require.NoError(t, err)
}

func (f *fixture) checkout(userID, addressID int64, opts ...func(*CreateOrderRequest)) (*OrderDetails, bool, error) {
	req := &CreateOrderRequest{
		ShippingAddressID: addressID,
		BillingAddressID:  addressID,
		PaymentMethod:     "card",
	}
	for _, opt := range opts {
		opt(req)
	}
	return f.orders.CreateOrder(context.Background(), userID, req)
}

func (f *fixture) reload(t testingT, productID int64) *models.Product {
	t.Helper()
	p, err := f.repo.GetProductByID(context.Background(), productID)
	require.NoError(t, err)
	return p
}

func (f *fixture) pendingEventTypes(t testingT) []string {
	t.Helper()
	events, err := f.repo.FetchPendingOutbox(context.Background(), 1000)
	require.NoError(t, err)
	types := make([]string, len(events))
	for i, e := range events {
		types[i] = e.EventType
	}
	return types
}

// placeOrder seeds a customer with a one-line cart and checks it out.
func (f *fixture) placeOrder(t testingT, seller Actor, qty, stock int) (Actor, *models.Product, *OrderDetails) {
	t.Helper()
	customer := f.user(t, models.RoleCustomer)
	addr := f.address(t, customer.UserID, "ZZ")
	p := f.product(t, seller.UserID, "10.00", stock)
	f.addToCart(t, customer.UserID, p.ID, qty)
	details, _, err := f.checkout(customer.UserID, addr)
	require.NoError(t, err)
	return customer, p, details
}

package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"marketplace-orders/internal/apperr"
	"marketplace-orders/internal/models"

	"github.com/shopspring/decimal"
)

// MemoryStore is an in-process Repository used by tests and STORE_DRIVER=memory.
// Transactions are serialized and roll back by restoring a snapshot.
type MemoryStore struct {
	*memQueries
	mu   sync.Mutex
	data *memData
}

var _ Repository = (*MemoryStore)(nil)

type cartKey struct{ userID, productID int64 }

type memData struct {
	seq          int64
	users        map[int64]models.User
	products     map[int64]models.Product
	addresses    map[int64]models.Address
	cart         map[cartKey]models.CartLine
	orders       map[int64]models.Order
	items        map[int64][]models.OrderItem
	coupons      map[int64]models.Coupon
	couponUsages []models.CouponUsage
	affiliates   map[int64]models.Affiliate
	commissions  []models.AffiliateCommission
	payments     map[int64]models.Payment
	settlements  map[string]models.ProcessedSettlement
	outbox       []models.OutboxEvent
}

func newMemData() *memData {
	return &memData{
		users:       map[int64]models.User{},
		products:    map[int64]models.Product{},
		addresses:   map[int64]models.Address{},
		cart:        map[cartKey]models.CartLine{},
		orders:      map[int64]models.Order{},
		items:       map[int64][]models.OrderItem{},
		coupons:     map[int64]models.Coupon{},
		affiliates:  map[int64]models.Affiliate{},
		payments:    map[int64]models.Payment{},
		settlements: map[string]models.ProcessedSettlement{},
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (d *memData) clone() *memData {
	items := make(map[int64][]models.OrderItem, len(d.items))
	for k, v := range d.items {
		items[k] = append([]models.OrderItem(nil), v...)
	}
	return &memData{
		seq:          d.seq,
		users:        cloneMap(d.users),
		products:     cloneMap(d.products),
		addresses:    cloneMap(d.addresses),
		cart:         cloneMap(d.cart),
		orders:       cloneMap(d.orders),
		items:        items,
		coupons:      cloneMap(d.coupons),
		couponUsages: append([]models.CouponUsage(nil), d.couponUsages...),
		affiliates:   cloneMap(d.affiliates),
		commissions:  append([]models.AffiliateCommission(nil), d.commissions...),
		payments:     cloneMap(d.payments),
		settlements:  cloneMap(d.settlements),
		outbox:       append([]models.OutboxEvent(nil), d.outbox...),
	}
}

func (d *memData) nextID() int64 {
	d.seq++
	return d.seq
}

// NewMemoryStore returns an empty in-memory repository.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{data: newMemData()}
	s.memQueries = &memQueries{s: s}
	return s
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(q Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(&memQueries{s: s, locked: true}); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

// memQueries implements Queries over MemoryStore. Calls made outside WithTx
// take the store lock for their own duration.
type memQueries struct {
	s      *MemoryStore
	locked bool
}

func (m *memQueries) do(fn func(d *memData) error) error {
	if !m.locked {
		m.s.mu.Lock()
		defer m.s.mu.Unlock()
	}
	return fn(m.s.data)
}

func (m *memQueries) CreateProduct(ctx context.Context, p *models.Product) error {
	return m.do(func(d *memData) error {
		for _, existing := range d.products {
			if existing.SKU == p.SKU {
				return apperr.Conflict(fmt.Sprintf("sku already exists: %s", p.SKU))
			}
		}
		now := time.Now()
		p.ID = d.nextID()
		p.ReservedQuantity, p.SoldQuantity = 0, 0
		p.CreatedAt, p.UpdatedAt = now, now
		d.products[p.ID] = *p
		return nil
	})
}

func (m *memQueries) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var out *models.Product
	err := m.do(func(d *memData) error {
		p, ok := d.products[id]
		if !ok {
			return notFound("product", id)
		}
		out = &p
		return nil
	})
	return out, err
}

func (m *memQueries) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	out := []models.Product{}
	err := m.do(func(d *memData) error {
		seen := map[int64]bool{}
		for _, id := range ids {
			if p, ok := d.products[id]; ok && !seen[id] {
				seen[id] = true
				out = append(out, p)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (m *memQueries) ListProducts(ctx context.Context) ([]models.Product, error) {
	out := []models.Product{}
	err := m.do(func(d *memData) error {
		for _, p := range d.products {
			if p.IsActive {
				out = append(out, p)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (m *memQueries) updateProduct(productID int64, fn func(p *models.Product) error) error {
	return m.do(func(d *memData) error {
		p, ok := d.products[productID]
		if !ok {
			return notFound("product", productID)
		}
		if err := fn(&p); err != nil {
			return err
		}
		p.UpdatedAt = time.Now()
		d.products[productID] = p
		return nil
	})
}

func (m *memQueries) SetStockQuantity(ctx context.Context, productID int64, stock int) error {
	return m.updateProduct(productID, func(p *models.Product) error {
		if stock < p.ReservedQuantity {
			return apperr.Conflict("stock cannot be lower than reserved quantity")
		}
		p.StockQuantity = stock
		return nil
	})
}

func (m *memQueries) DeactivateProduct(ctx context.Context, productID int64) error {
	return m.updateProduct(productID, func(p *models.Product) error {
		p.IsActive = false
		return nil
	})
}

var errGuard = errors.New("guard rejected update")

func (m *memQueries) ReserveStock(ctx context.Context, productID int64, quantity int) (bool, error) {
	err := m.updateProduct(productID, func(p *models.Product) error {
		if !p.IsActive || p.Available() < quantity {
			return errGuard
		}
		p.ReservedQuantity += quantity
		p.SoldQuantity += quantity
		return nil
	})
	if errors.Is(err, errGuard) || apperr.Is(err, apperr.KindNotFound) {
		return false, nil
	}
	return err == nil, err
}

func floorZero(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func (m *memQueries) ReleaseStock(ctx context.Context, productID int64, quantity int) error {
	return ignoreMissing(m.updateProduct(productID, func(p *models.Product) error {
		p.ReservedQuantity = floorZero(p.ReservedQuantity - quantity)
		p.SoldQuantity = floorZero(p.SoldQuantity - quantity)
		return nil
	}))
}

func (m *memQueries) CommitStock(ctx context.Context, productID int64, quantity int) error {
	return m.updateProduct(productID, func(p *models.Product) error {
		if p.ReservedQuantity < quantity {
			return fmt.Errorf("commit stock: product %d has fewer than %d reserved units", productID, quantity)
		}
		p.ReservedQuantity -= quantity
		p.StockQuantity -= quantity
		return nil
	})
}

func (m *memQueries) RestockCommitted(ctx context.Context, productID int64, quantity int) error {
	return ignoreMissing(m.updateProduct(productID, func(p *models.Product) error {
		p.StockQuantity += quantity
		p.SoldQuantity = floorZero(p.SoldQuantity - quantity)
		return nil
	}))
}

// ignoreMissing matches UPDATE semantics where no matching row is not an error.
func ignoreMissing(err error) error {
	if apperr.Is(err, apperr.KindNotFound) {
		return nil
	}
	return err
}

func (m *memQueries) GetCartLines(ctx context.Context, userID int64) ([]models.CartLine, error) {
	out := []models.CartLine{}
	err := m.do(func(d *memData) error {
		for k, line := range d.cart {
			if k.userID == userID {
				out = append(out, line)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].AddedAt.Equal(out[j].AddedAt) {
			return out[i].ProductID < out[j].ProductID
		}
		return out[i].AddedAt.Before(out[j].AddedAt)
	})
	return out, err
}

func (m *memQueries) UpsertCartLine(ctx context.Context, line *models.CartLine) error {
	return m.do(func(d *memData) error {
		k := cartKey{line.UserID, line.ProductID}
		if existing, ok := d.cart[k]; ok {
			line.AddedAt = existing.AddedAt
		} else {
			line.AddedAt = time.Now()
		}
		d.cart[k] = *line
		return nil
	})
}

func (m *memQueries) DeleteCartLine(ctx context.Context, userID, productID int64) (bool, error) {
	var removed bool
	err := m.do(func(d *memData) error {
		k := cartKey{userID, productID}
		_, removed = d.cart[k]
		delete(d.cart, k)
		return nil
	})
	return removed, err
}

func (m *memQueries) ClearCart(ctx context.Context, userID int64) error {
	return m.do(func(d *memData) error {
		for k := range d.cart {
			if k.userID == userID {
				delete(d.cart, k)
			}
		}
		return nil
	})
}

func (m *memQueries) CreateAddress(ctx context.Context, a *models.Address) error {
	return m.do(func(d *memData) error {
		a.ID = d.nextID()
		a.CreatedAt = time.Now()
		d.addresses[a.ID] = *a
		return nil
	})
}

func (m *memQueries) GetAddressByID(ctx context.Context, id int64) (*models.Address, error) {
	var out *models.Address
	err := m.do(func(d *memData) error {
		a, ok := d.addresses[id]
		if !ok {
			return notFound("address", id)
		}
		out = &a
		return nil
	})
	return out, err
}

func (m *memQueries) ListAddressesByUser(ctx context.Context, userID int64) ([]models.Address, error) {
	out := []models.Address{}
	err := m.do(func(d *memData) error {
		for _, a := range d.addresses {
			if a.UserID == userID {
				out = append(out, a)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (m *memQueries) CreateOrder(ctx context.Context, o *models.Order) error {
	return m.do(func(d *memData) error {
		if o.IdempotencyKey != nil {
			for _, existing := range d.orders {
				if existing.UserID == o.UserID && existing.IdempotencyKey != nil &&
					*existing.IdempotencyKey == *o.IdempotencyKey {
					return apperr.Conflict("order already exists for this idempotency key")
				}
			}
		}
		now := time.Now()
		o.ID = d.nextID()
		o.CreatedAt, o.UpdatedAt = now, now
		d.orders[o.ID] = *o
		return nil
	})
}

func (m *memQueries) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	return m.do(func(d *memData) error {
		if _, ok := d.orders[item.OrderID]; !ok {
			return notFound("order", item.OrderID)
		}
		item.ID = d.nextID()
		d.items[item.OrderID] = append(d.items[item.OrderID], *item)
		return nil
	})
}

func (m *memQueries) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var out *models.Order
	err := m.do(func(d *memData) error {
		o, ok := d.orders[id]
		if !ok {
			return notFound("order", id)
		}
		out = &o
		return nil
	})
	return out, err
}

func (m *memQueries) LockOrder(ctx context.Context, id int64) (*models.Order, error) {
	return m.GetOrderByID(ctx, id)
}

func (m *memQueries) GetOrderByIdempotencyKey(ctx context.Context, userID int64, key string) (*models.Order, error) {
	var out *models.Order
	err := m.do(func(d *memData) error {
		for _, o := range d.orders {
			if o.UserID == userID && o.IdempotencyKey != nil && *o.IdempotencyKey == key {
				o := o
				out = &o
				return nil
			}
		}
		return nil
	})
	return out, err
}

func (m *memQueries) ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	out := []models.Order{}
	err := m.do(func(d *memData) error {
		for _, o := range d.orders {
			if o.UserID == userID {
				out = append(out, o)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, err
}

func (m *memQueries) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var out []models.OrderItem
	err := m.do(func(d *memData) error {
		out = append([]models.OrderItem{}, d.items[orderID]...)
		return nil
	})
	return out, err
}

func (m *memQueries) updateOrder(orderID int64, fn func(o *models.Order) bool) (bool, error) {
	var changed bool
	err := m.do(func(d *memData) error {
		o, ok := d.orders[orderID]
		if !ok {
			return nil
		}
		if changed = fn(&o); changed {
			o.UpdatedAt = time.Now()
			d.orders[orderID] = o
		}
		return nil
	})
	return changed, err
}

func (m *memQueries) UpdateOrderStatus(ctx context.Context, orderID int64, from, to models.OrderStatus) (bool, error) {
	return m.updateOrder(orderID, func(o *models.Order) bool {
		if o.Status != from {
			return false
		}
		o.Status = to
		return true
	})
}

func (m *memQueries) UpdatePaymentStatus(ctx context.Context, orderID int64, status models.PaymentStatus) error {
	_, err := m.updateOrder(orderID, func(o *models.Order) bool {
		o.PaymentStatus = status
		return true
	})
	return err
}

func (m *memQueries) SetInventoryState(ctx context.Context, orderID int64, state models.InventoryState) error {
	_, err := m.updateOrder(orderID, func(o *models.Order) bool {
		o.InventoryState = state
		return true
	})
	return err
}

func (m *memQueries) CreateCoupon(ctx context.Context, c *models.Coupon) error {
	return m.do(func(d *memData) error {
		for _, existing := range d.coupons {
			if existing.Code == c.Code {
				return apperr.Conflict(fmt.Sprintf("coupon code already exists: %s", c.Code))
			}
		}
		c.ID = d.nextID()
		c.UsedCount = 0
		c.CreatedAt = time.Now()
		d.coupons[c.ID] = *c
		return nil
	})
}

func (m *memQueries) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	var out *models.Coupon
	err := m.do(func(d *memData) error {
		for _, c := range d.coupons {
			if c.Code == code {
				c := c
				out = &c
				return nil
			}
		}
		return nil
	})
	return out, err
}

func (m *memQueries) IncrementCouponUsage(ctx context.Context, couponID int64) (bool, error) {
	var ok bool
	err := m.do(func(d *memData) error {
		c, found := d.coupons[couponID]
		if !found || (c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit) {
			return nil
		}
		c.UsedCount++
		d.coupons[couponID] = c
		ok = true
		return nil
	})
	return ok, err
}

func (m *memQueries) RecordCouponUsage(ctx context.Context, u *models.CouponUsage) error {
	return m.do(func(d *memData) error {
		u.ID = d.nextID()
		u.UsedAt = time.Now()
		d.couponUsages = append(d.couponUsages, *u)
		return nil
	})
}

func (m *memQueries) CreateAffiliate(ctx context.Context, a *models.Affiliate) error {
	return m.do(func(d *memData) error {
		for _, existing := range d.affiliates {
			if existing.Code == a.Code {
				return apperr.Conflict("affiliate code already exists")
			}
		}
		a.ID = d.nextID()
		a.PendingCommission, a.ApprovedCommission = decimal.Zero, decimal.Zero
		d.affiliates[a.ID] = *a
		return nil
	})
}

func (m *memQueries) GetAffiliateByCode(ctx context.Context, code string) (*models.Affiliate, error) {
	var out *models.Affiliate
	err := m.do(func(d *memData) error {
		for _, a := range d.affiliates {
			if a.Code == code {
				a := a
				out = &a
				return nil
			}
		}
		return nil
	})
	return out, err
}

func (m *memQueries) GetAffiliateByID(ctx context.Context, id int64) (*models.Affiliate, error) {
	var out *models.Affiliate
	err := m.do(func(d *memData) error {
		a, ok := d.affiliates[id]
		if !ok {
			return notFound("affiliate", id)
		}
		out = &a
		return nil
	})
	return out, err
}

func (m *memQueries) CreateCommission(ctx context.Context, c *models.AffiliateCommission) error {
	return m.do(func(d *memData) error {
		a, ok := d.affiliates[c.AffiliateID]
		if !ok {
			return notFound("affiliate", c.AffiliateID)
		}
		if c.Status == "" {
			c.Status = models.CommissionStatusPending
		}
		c.ID = d.nextID()
		c.CreatedAt = time.Now()
		d.commissions = append(d.commissions, *c)
		a.PendingCommission = a.PendingCommission.Add(c.Amount)
		d.affiliates[a.ID] = a
		return nil
	})
}

func (m *memQueries) ApproveCommissions(ctx context.Context, orderID int64) (int, error) {
	var n int
	err := m.do(func(d *memData) error {
		for i, c := range d.commissions {
			if c.OrderID != orderID || c.Status != models.CommissionStatusPending {
				continue
			}
			d.commissions[i].Status = models.CommissionStatusApproved
			a := d.affiliates[c.AffiliateID]
			a.PendingCommission = a.PendingCommission.Sub(c.Amount)
			a.ApprovedCommission = a.ApprovedCommission.Add(c.Amount)
			d.affiliates[c.AffiliateID] = a
			n++
		}
		return nil
	})
	return n, err
}

func (m *memQueries) ListCommissionsByOrder(ctx context.Context, orderID int64) ([]models.AffiliateCommission, error) {
	out := []models.AffiliateCommission{}
	err := m.do(func(d *memData) error {
		for _, c := range d.commissions {
			if c.OrderID == orderID {
				out = append(out, c)
			}
		}
		return nil
	})
	return out, err
}

func (m *memQueries) CreatePayment(ctx context.Context, p *models.Payment) error {
	return m.do(func(d *memData) error {
		now := time.Now()
		p.ID = d.nextID()
		p.CreatedAt, p.UpdatedAt = now, now
		d.payments[p.ID] = *p
		return nil
	})
}

func (m *memQueries) UpdatePaymentAttempt(ctx context.Context, paymentID int64, status string, providerTxID *string) error {
	return m.do(func(d *memData) error {
		p, ok := d.payments[paymentID]
		if !ok {
			return nil
		}
		p.Status = status
		if providerTxID != nil {
			p.ProviderTxID = providerTxID
		}
		p.UpdatedAt = time.Now()
		d.payments[paymentID] = p
		return nil
	})
}

func (m *memQueries) GetPaymentByTxID(ctx context.Context, txID string) (*models.Payment, error) {
	var out *models.Payment
	err := m.do(func(d *memData) error {
		for _, p := range d.payments {
			if p.ProviderTxID != nil && *p.ProviderTxID == txID {
				p := p
				out = &p
				return nil
			}
		}
		return nil
	})
	return out, err
}

func (m *memQueries) ListPaymentsByOrder(ctx context.Context, orderID int64) ([]models.Payment, error) {
	out := []models.Payment{}
	err := m.do(func(d *memData) error {
		for _, p := range d.payments {
			if p.OrderID == orderID {
				out = append(out, p)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (m *memQueries) MarkSettlementProcessed(ctx context.Context, s *models.ProcessedSettlement) (bool, error) {
	var inserted bool
	err := m.do(func(d *memData) error {
		if _, seen := d.settlements[s.TransactionID]; seen {
			return nil
		}
		s.ProcessedAt = time.Now()
		d.settlements[s.TransactionID] = *s
		inserted = true
		return nil
	})
	return inserted, err
}

func (m *memQueries) EnqueueOutbox(ctx context.Context, e *models.OutboxEvent) error {
	return m.do(func(d *memData) error {
		e.ID = d.nextID()
		e.CreatedAt = time.Now()
		d.outbox = append(d.outbox, *e)
		return nil
	})
}

func (m *memQueries) FetchPendingOutbox(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	out := []models.OutboxEvent{}
	err := m.do(func(d *memData) error {
		for _, e := range d.outbox {
			if len(out) >= limit {
				break
			}
			if e.DispatchedAt == nil {
				out = append(out, e)
			}
		}
		return nil
	})
	return out, err
}

func (m *memQueries) MarkOutboxDispatched(ctx context.Context, ids []int64) error {
	return m.do(func(d *memData) error {
		want := make(map[int64]bool, len(ids))
		for _, id := range ids {
			want[id] = true
		}
		now := time.Now()
		for i := range d.outbox {
			if want[d.outbox[i].ID] && d.outbox[i].DispatchedAt == nil {
				d.outbox[i].DispatchedAt = &now
			}
		}
		return nil
	})
}

func (m *memQueries) CreateUser(ctx context.Context, u *models.User) error {
	return m.do(func(d *memData) error {
		u.Email = strings.ToLower(u.Email)
		for _, existing := range d.users {
			if existing.Email == u.Email {
				return apperr.Conflict("email already registered")
			}
		}
		u.ID = d.nextID()
		u.CreatedAt = time.Now()
		d.users[u.ID] = *u
		return nil
	})
}

func (m *memQueries) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var out *models.User
	err := m.do(func(d *memData) error {
		email = strings.ToLower(email)
		for _, u := range d.users {
			if u.Email == email {
				u := u
				out = &u
				return nil
			}
		}
		return nil
	})
	return out, err
}

func (m *memQueries) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var out *models.User
	err := m.do(func(d *memData) error {
		u, ok := d.users[id]
		if !ok {
			return notFound("user", id)
		}
		out = &u
		return nil
	})
	return out, err
}

package models

// OrderStatus is the fulfillment state of an order
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
	OrderStatusReturned   OrderStatus = "returned"
)

// PaymentStatus is the settlement state of an order
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// InventoryState tracks what the order currently holds against product stock
type InventoryState string

const (
	// InventoryReserved: reserved_quantity and sold_quantity were incremented.
	InventoryReserved InventoryState = "reserved"
	// InventoryCommitted: the reservation was converted into a stock deduction.
	InventoryCommitted InventoryState = "committed"
	// InventoryReleased: nothing is held anymore.
	InventoryReleased InventoryState = "released"
)

var validNext = map[OrderStatus]map[OrderStatus]bool{
	OrderStatusPending:    {OrderStatusConfirmed: true, OrderStatusCancelled: true},
	OrderStatusConfirmed:  {OrderStatusProcessing: true, OrderStatusCancelled: true},
	OrderStatusProcessing: {OrderStatusShipped: true, OrderStatusCancelled: true},
	OrderStatusShipped:    {OrderStatusDelivered: true},
	OrderStatusDelivered:  {OrderStatusRefunded: true, OrderStatusReturned: true},
	OrderStatusCancelled:  {},
	OrderStatusRefunded:   {},
	OrderStatusReturned:   {},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to OrderStatus) bool {
	return validNext[from][to]
}

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// Terminal reports whether no further transition is possible.
func (s OrderStatus) Terminal() bool {
	return len(validNext[s]) == 0
}

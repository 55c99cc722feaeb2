package models

import "time"

// Event types
const (
	EventTypeOrderSettled       = "ORDER_SETTLED"
	EventTypeOrderPaid          = "ORDER_PAID"
	EventTypeCartCleanupPending = "CART_CLEANUP_PENDING"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderSettledEvent published once a settlement commits
type OrderSettledEvent struct {
	BaseEvent
	OrderID     string          `json:"order_id"`
	UserID      int64           `json:"user_id"`
	PayMethod   PayMethod       `json:"pay_method"`
	Status      OrderStatus     `json:"status"`
	TotalCount  int             `json:"total_count"`
	TotalAmount string          `json:"total_amount"`
	Lines       []OrderLineData `json:"lines"`
}

// OrderPaidEvent published when a payment callback transitions an order
type OrderPaidEvent struct {
	BaseEvent
	OrderID string `json:"order_id"`
	TradeID string `json:"trade_id"`
}

// CartCleanupPendingEvent asks the cleanup worker to remove settled entries
// from a cart after the in-request cleanup failed. Items maps sku id to the
// settled count.
type CartCleanupPendingEvent struct {
	BaseEvent
	OrderID string        `json:"order_id"`
	UserID  int64         `json:"user_id"`
	Items   map[int64]int `json:"items"`
}

// OrderLineData represents a line in events
type OrderLineData struct {
	SKUID int64  `json:"sku_id"`
	Count int    `json:"count"`
	Price string `json:"price"`
}

package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PayMethod is how the customer pays for an order
type PayMethod string

const (
	PayMethodCash   PayMethod = "CASH"
	PayMethodOnline PayMethod = "ONLINE"
)

// ParsePayMethod validates a raw pay method value
func ParsePayMethod(s string) (PayMethod, error) {
	switch PayMethod(s) {
	case PayMethodCash, PayMethodOnline:
		return PayMethod(s), nil
	}
	return "", fmt.Errorf("unknown pay method %q", s)
}

// OrderStatus is the lifecycle state of an order
type OrderStatus string

// Order statuses
const (
	OrderStatusUnpaid    OrderStatus = "UNPAID"
	OrderStatusUnsent    OrderStatus = "UNSENT"
	OrderStatusDelivered OrderStatus = "DELIVERED"
	OrderStatusFinished  OrderStatus = "FINISHED"
	OrderStatusClosed    OrderStatus = "CLOSED"
)

// InitialStatus returns the status a freshly settled order starts in.
// Cash orders skip payment and go straight to fulfillment.
func (p PayMethod) InitialStatus() OrderStatus {
	if p == PayMethodCash {
		return OrderStatusUnsent
	}
	return OrderStatusUnpaid
}

// Goods is the parent aggregate of SKUs; it carries the rolled-up sales counter
type Goods struct {
	ID    int64  `db:"id" json:"id"`
	Name  string `db:"name" json:"name"`
	Sales int    `db:"sales" json:"sales"`
}

// SKU is a sellable inventory item
type SKU struct {
	ID        int64           `db:"id" json:"id"`
	GoodsID   int64           `db:"goods_id" json:"goods_id"`
	Name      string          `db:"name" json:"name"`
	Price     decimal.Decimal `db:"price" json:"price"`
	Stock     int             `db:"stock" json:"stock"`
	Sales     int             `db:"sales" json:"sales"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// Order represents a settled customer order
type Order struct {
	OrderID     string          `db:"order_id" json:"order_id"`
	UserID      int64           `db:"user_id" json:"user_id"`
	AddressID   int64           `db:"address_id" json:"address_id"`
	PayMethod   PayMethod       `db:"pay_method" json:"pay_method"`
	Status      OrderStatus     `db:"status" json:"status"`
	TotalCount  int             `db:"total_count" json:"total_count"`
	TotalAmount decimal.Decimal `db:"total_amount" json:"total_amount"`
	Freight     decimal.Decimal `db:"freight" json:"freight"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// OrderLine is the immutable snapshot of one purchased SKU
type OrderLine struct {
	ID        int64           `db:"id" json:"id"`
	OrderID   string          `db:"order_id" json:"order_id"`
	SKUID     int64           `db:"sku_id" json:"sku_id"`
	Count     int             `db:"count" json:"count"`
	Price     decimal.Decimal `db:"price" json:"price"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// Amount is price times count
func (l OrderLine) Amount() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Count)))
}

// Payment records a verified provider transaction for an order
type Payment struct {
	ID        int64     `db:"id" json:"id"`
	OrderID   string    `db:"order_id" json:"order_id"`
	TradeID   string    `db:"trade_id" json:"trade_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Address is only consulted to check ownership
type Address struct {
	ID        int64 `db:"id"`
	UserID    int64 `db:"user_id"`
	IsDeleted bool  `db:"is_deleted"`
}

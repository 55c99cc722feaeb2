package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"settlement-service/internal/models"
	"settlement-service/internal/store"
	"settlement-service/internal/util"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const cartCleanupTimeout = 5 * time.Second

// SettlementStore is the persistence the order service needs
type SettlementStore interface {
	InSavepoint(ctx context.Context, name string, fn func(q store.Querier) error) error
	GetOrderByID(ctx context.Context, orderID string) (*models.Order, error)
	GetOrderLines(ctx context.Context, orderID string) ([]models.OrderLine, error)
	AddressBelongsToUser(ctx context.Context, userID, addressID int64) (bool, error)
	GetSKU(ctx context.Context, skuID int64) (*models.SKU, error)
}

// CartStore reads and clears a user's cart selection
type CartStore interface {
	GetCartQuantities(ctx context.Context, userID int64) (map[int64]int, error)
	GetSelectedItems(ctx context.Context, userID int64) ([]int64, error)
	ClearSelected(ctx context.Context, userID int64, skuIDs []int64) error
}

// EventPublisher publishes settlement and payment events
type EventPublisher interface {
	PublishOrderSettled(ctx context.Context, event *models.OrderSettledEvent) error
	PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error
	PublishCartCleanupPending(ctx context.Context, event *models.CartCleanupPendingEvent) error
}

// SettlementConfig holds the business settings of a settlement
type SettlementConfig struct {
	Freight decimal.Decimal
	// Timeout bounds the whole settlement including reservation retries
	Timeout time.Duration
}

// OrderService turns a cart selection into an order
type OrderService struct {
	store     SettlementStore
	cart      CartStore
	publisher EventPublisher
	ledger    *InventoryLedger
	cfg       SettlementConfig
	logger    *zap.Logger
	now       func() time.Time
}

// NewOrderService creates a new order service
func NewOrderService(
	store SettlementStore,
	cart CartStore,
	publisher EventPublisher,
	ledger *InventoryLedger,
	cfg SettlementConfig,
) *OrderService {
	return &OrderService{
		store:     store,
		cart:      cart,
		publisher: publisher,
		ledger:    ledger,
		cfg:       cfg,
		logger:    util.Named("order_service"),
		now:       time.Now,
	}
}

// SettleRequest represents a request to settle the selected cart entries
type SettleRequest struct {
	UserID    int64  `json:"user_id" binding:"required"`
	AddressID int64  `json:"address_id" binding:"required"`
	PayMethod string `json:"pay_method" binding:"required"`
}

// PreviewLine is a selected cart entry priced at the current SKU price
type PreviewLine struct {
	SKUID int64
	Name  string
	Price decimal.Decimal
	Count int
}

// Amount is price times count
func (l PreviewLine) Amount() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Count)))
}

// Preview is what the checkout page shows before the order is placed
type Preview struct {
	Freight decimal.Decimal
	Lines   []PreviewLine
}

type cartItem struct {
	skuID int64
	count int
}

// NewOrderID builds the order number: local timestamp to the second
// followed by the zero-padded user id.
func NewOrderID(now time.Time, userID int64) string {
	return now.Format("20060102150405") + fmt.Sprintf("%09d", userID)
}

// Settle converts the user's selected cart entries into an order. Either the
// order, all of its lines and every stock decrement commit together or none
// of them do. The cart is only cleared after the commit.
func (s *OrderService) Settle(ctx context.Context, req *SettleRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Settle", attribute.Int64("user_id", req.UserID))
	defer span.End()

	start := time.Now()
	defer func() {
		util.SettlementLatency.Observe(time.Since(start).Seconds())
	}()

	payMethod, err := models.ParsePayMethod(req.PayMethod)
	if err != nil {
		util.SettlementsFailedTotal.WithLabelValues("precondition").Inc()
		return nil, preconditionf("%v", err)
	}

	owned, err := s.store.AddressBelongsToUser(ctx, req.UserID, req.AddressID)
	if err != nil {
		return nil, s.settlementFailed(span, req.UserID, "", err)
	}
	if !owned {
		util.SettlementsFailedTotal.WithLabelValues("precondition").Inc()
		return nil, preconditionf("address %d does not belong to user %d", req.AddressID, req.UserID)
	}

	items, err := s.loadSelection(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, ErrPreconditionViolation) {
			util.SettlementsFailedTotal.WithLabelValues("precondition").Inc()
			return nil, err
		}
		return nil, s.settlementFailed(span, req.UserID, "", err)
	}

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	order := &models.Order{
		OrderID:     NewOrderID(s.now(), req.UserID),
		UserID:      req.UserID,
		AddressID:   req.AddressID,
		PayMethod:   payMethod,
		Status:      payMethod.InitialStatus(),
		TotalAmount: decimal.Zero,
		Freight:     s.cfg.Freight,
	}
	span.SetAttributes(attribute.String("order_id", order.OrderID))

	var lines []models.OrderLine
	err = s.store.InSavepoint(ctx, "settle_order", func(q store.Querier) error {
		lines = lines[:0]
		order.TotalCount = 0
		order.TotalAmount = decimal.Zero

		if err := q.CreateOrder(ctx, order); err != nil {
			return err
		}

		for _, item := range items {
			sku, err := s.ledger.ReserveWithRetry(ctx, q, item.skuID, item.count)
			if err != nil {
				return err
			}

			line := &models.OrderLine{
				OrderID: order.OrderID,
				SKUID:   item.skuID,
				Count:   item.count,
				Price:   sku.Price,
			}
			if err := q.CreateOrderLine(ctx, line); err != nil {
				return err
			}

			order.TotalCount += line.Count
			order.TotalAmount = order.TotalAmount.Add(line.Amount())
			lines = append(lines, *line)
		}

		order.TotalAmount = order.TotalAmount.Add(order.Freight)
		return q.UpdateOrderTotals(ctx, order)
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInsufficientStock):
			util.SettlementsFailedTotal.WithLabelValues("insufficient_stock").Inc()
			s.logger.Info("Settlement rejected, insufficient stock",
				zap.Int64("user_id", req.UserID),
				zap.String("order_id", order.OrderID),
				zap.Error(err))
			return nil, err
		case errors.Is(err, ErrPreconditionViolation):
			util.SettlementsFailedTotal.WithLabelValues("precondition").Inc()
			return nil, err
		}
		return nil, s.settlementFailed(span, req.UserID, order.OrderID, err)
	}

	util.SettlementsTotal.Inc()
	s.logger.Info("Order settled",
		zap.String("order_id", order.OrderID),
		zap.Int64("user_id", order.UserID),
		zap.Int("total_count", order.TotalCount),
		zap.String("total_amount", order.TotalAmount.StringFixed(2)))

	s.clearCart(ctx, order, items)
	s.publishSettled(ctx, order, lines)

	return order, nil
}

// loadSelection returns the selected cart entries ordered by sku id, so that
// concurrent settlements touch stock rows in the same order.
func (s *OrderService) loadSelection(ctx context.Context, userID int64) ([]cartItem, error) {
	quantities, err := s.cart.GetCartQuantities(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read cart: %w", err)
	}

	selected, err := s.cart.GetSelectedItems(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read cart selection: %w", err)
	}

	ids := lo.Uniq(selected)
	if len(ids) == 0 {
		return nil, preconditionf("no cart items selected for user %d", userID)
	}
	slices.Sort(ids)

	items := make([]cartItem, 0, len(ids))
	for _, id := range ids {
		count, ok := quantities[id]
		if !ok || count <= 0 {
			return nil, preconditionf("selected sku %d has no quantity in cart", id)
		}
		items = append(items, cartItem{skuID: id, count: count})
	}

	return items, nil
}

func (s *OrderService) settlementFailed(span trace.Span, userID int64, orderID string, err error) error {
	util.SettlementsFailedTotal.WithLabelValues("error").Inc()
	util.RecordError(span, err)
	s.logger.Error("Settlement failed",
		zap.Int64("user_id", userID),
		zap.String("order_id", orderID),
		zap.Error(err))
	return ErrSettlementFailed
}

// clearCart removes the settled entries from the cart. The order is already
// committed, so a failure here is handed to the cleanup worker.
func (s *OrderService) clearCart(ctx context.Context, order *models.Order, items []cartItem) {
	skuIDs := lo.Map(items, func(item cartItem, _ int) int64 { return item.skuID })

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cartCleanupTimeout)
	defer cancel()

	err := s.cart.ClearSelected(ctx, order.UserID, skuIDs)
	if err == nil {
		return
	}

	util.CartCleanupFailuresTotal.WithLabelValues("inline").Inc()
	s.logger.Error("Failed to clear cart after settlement",
		zap.String("order_id", order.OrderID),
		zap.Int64("user_id", order.UserID),
		zap.Int64s("sku_ids", skuIDs),
		zap.Error(err))

	event := &models.CartCleanupPendingEvent{
		BaseEvent: newBaseEvent(models.EventTypeCartCleanupPending),
		OrderID:   order.OrderID,
		UserID:    order.UserID,
		Items: lo.SliceToMap(items, func(item cartItem) (int64, int) {
			return item.skuID, item.count
		}),
	}
	if err := s.publisher.PublishCartCleanupPending(ctx, event); err != nil {
		util.CartCleanupFailuresTotal.WithLabelValues("enqueue").Inc()
		s.logger.Error("Failed to publish CartCleanupPending event",
			zap.String("order_id", order.OrderID),
			zap.Error(err))
	}
}

func (s *OrderService) publishSettled(ctx context.Context, order *models.Order, lines []models.OrderLine) {
	event := &models.OrderSettledEvent{
		BaseEvent:   newBaseEvent(models.EventTypeOrderSettled),
		OrderID:     order.OrderID,
		UserID:      order.UserID,
		PayMethod:   order.PayMethod,
		Status:      order.Status,
		TotalCount:  order.TotalCount,
		TotalAmount: order.TotalAmount.StringFixed(2),
		Lines: lo.Map(lines, func(l models.OrderLine, _ int) models.OrderLineData {
			return models.OrderLineData{SKUID: l.SKUID, Count: l.Count, Price: l.Price.StringFixed(2)}
		}),
	}

	if err := s.publisher.PublishOrderSettled(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Error("Failed to publish OrderSettled event",
			zap.String("order_id", order.OrderID),
			zap.Error(err))
	}
}

// Preview lists the selected cart entries with their current price and the
// freight that settling them would add. Nothing is reserved.
func (s *OrderService) Preview(ctx context.Context, userID int64) (*Preview, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Preview", attribute.Int64("user_id", userID))
	defer span.End()

	items, err := s.loadSelection(ctx, userID)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	preview := &Preview{
		Freight: s.cfg.Freight,
		Lines:   make([]PreviewLine, 0, len(items)),
	}
	for _, item := range items {
		sku, err := s.store.GetSKU(ctx, item.skuID)
		if err != nil {
			util.RecordError(span, err)
			return nil, err
		}
		preview.Lines = append(preview.Lines, PreviewLine{
			SKUID: sku.ID,
			Name:  sku.Name,
			Price: sku.Price,
			Count: item.count,
		})
	}

	return preview, nil
}

// GetOrder retrieves an order and its lines
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*models.Order, []models.OrderLine, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	lines, err := s.store.GetOrderLines(ctx, orderID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get order lines: %w", err)
	}

	return order, lines, nil
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

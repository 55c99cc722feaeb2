package service

import (
	"context"
	"fmt"

	"settlement-service/internal/models"
	"settlement-service/internal/store"
	"settlement-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ReserveResult is the outcome of one conditional stock update
type ReserveResult int

const (
	// ReserveCommitted means stock was decremented inside the caller's transaction
	ReserveCommitted ReserveResult = iota + 1
	// ReserveRetry means a competing writer changed the stock between read and write
	ReserveRetry
	// ReserveInsufficient means the requested quantity exceeds current stock
	ReserveInsufficient
)

func (r ReserveResult) String() string {
	switch r {
	case ReserveCommitted:
		return "committed"
	case ReserveRetry:
		return "retry"
	case ReserveInsufficient:
		return "insufficient"
	}
	return "unknown"
}

// InventoryLedger decrements SKU stock with an optimistic compare-and-swap.
// It holds no locks; the conditional UPDATE is the only guard against oversell.
type InventoryLedger struct {
	maxAttempts int
	logger      *zap.Logger
}

// NewInventoryLedger creates a ledger. maxAttempts bounds ReserveWithRetry;
// zero retries until the context is done.
func NewInventoryLedger(maxAttempts int) *InventoryLedger {
	return &InventoryLedger{
		maxAttempts: maxAttempts,
		logger:      util.Named("inventory_ledger"),
	}
}

// Reserve makes a single attempt to take qty units of a SKU. The returned SKU
// is the snapshot the attempt observed, including the price to record.
func (l *InventoryLedger) Reserve(ctx context.Context, q store.Querier, skuID int64, qty int) (ReserveResult, *models.SKU, error) {
	if qty <= 0 {
		return 0, nil, preconditionf("quantity %d for sku %d must be positive", qty, skuID)
	}

	sku, err := q.GetSKU(ctx, skuID)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read sku %d: %w", skuID, err)
	}

	if qty > sku.Stock {
		return ReserveInsufficient, sku, nil
	}

	newStock := sku.Stock - qty
	newSales := sku.Sales + qty

	ok, err := q.UpdateSKUStockIfUnchanged(ctx, skuID, sku.Stock, newStock, newSales)
	if err != nil {
		return 0, nil, err
	}
	if !ok {
		return ReserveRetry, sku, nil
	}

	// The goods counter is informational; losing it must not fail the order.
	if err := q.Savepoint(ctx, "goods_sales", func(q store.Querier) error {
		return q.AddGoodsSales(ctx, sku.GoodsID, qty)
	}); err != nil {
		l.logger.Warn("Failed to update goods sales",
			zap.Int64("sku_id", skuID),
			zap.Int64("goods_id", sku.GoodsID),
			zap.Error(err))
	}

	return ReserveCommitted, sku, nil
}

// ReserveWithRetry repeats Reserve until it commits or reports insufficient
// stock. Insufficient stock is returned as *InsufficientStockError.
func (l *InventoryLedger) ReserveWithRetry(ctx context.Context, q store.Querier, skuID int64, qty int) (*models.SKU, error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.ReserveWithRetry",
		attribute.Int64("sku_id", skuID),
		attribute.Int("qty", qty))
	defer span.End()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("reserve sku %d: %w", skuID, err)
		}

		result, sku, err := l.Reserve(ctx, q, skuID, qty)
		if err != nil {
			util.InventoryReservationsFailed.WithLabelValues("error").Inc()
			util.RecordError(span, err)
			return nil, err
		}

		switch result {
		case ReserveCommitted:
			span.SetAttributes(attribute.Int("attempts", attempt))
			return sku, nil
		case ReserveInsufficient:
			util.InventoryReservationsFailed.WithLabelValues("insufficient_stock").Inc()
			return nil, &InsufficientStockError{SKUID: skuID, Requested: qty, Available: sku.Stock}
		}

		util.InventoryReserveRetriesTotal.Inc()
		if l.maxAttempts > 0 && attempt >= l.maxAttempts {
			util.InventoryReservationsFailed.WithLabelValues("contention").Inc()
			l.logger.Warn("Reservation retry budget exhausted",
				zap.Int64("sku_id", skuID),
				zap.Int("attempts", attempt))
			return nil, fmt.Errorf("sku %d after %d attempts: %w", skuID, attempt, ErrReserveContention)
		}

		l.logger.Debug("Stock changed concurrently, retrying",
			zap.Int64("sku_id", skuID),
			zap.Int("attempt", attempt))
	}
}

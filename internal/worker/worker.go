package worker

import (
	"context"
	"fmt"

	"settlement-service/internal/broker"
	"settlement-service/internal/models"
	"settlement-service/internal/util"

	"go.uber.org/zap"
)

// MessageSource delivers bus messages to a handler until ctx is done
type MessageSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// CartCleaner removes settled entries that still hold the settled count
type CartCleaner interface {
	ClearSettled(ctx context.Context, userID int64, settled map[int64]int) (int, error)
}

// CartCleanupWorker finishes cart cleanups that failed right after settlement
type CartCleanupWorker struct {
	source       MessageSource
	eventHandler *broker.EventHandler
	cart         CartCleaner
	logger       *zap.Logger
}

// NewCartCleanupWorker creates a new cart cleanup worker
func NewCartCleanupWorker(source MessageSource, cart CartCleaner) *CartCleanupWorker {
	w := &CartCleanupWorker{
		source:       source,
		eventHandler: broker.NewEventHandler(),
		cart:         cart,
		logger:       util.Named("cart_cleanup_worker"),
	}

	w.eventHandler.OnCartCleanupPending(w.handleCartCleanupPending)

	return w
}

// Start starts the worker
func (w *CartCleanupWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting cart cleanup worker")
	return w.source.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *CartCleanupWorker) Stop() error {
	w.logger.Info("Stopping cart cleanup worker")
	return w.source.Close()
}

func (w *CartCleanupWorker) handleCartCleanupPending(ctx context.Context, event *models.CartCleanupPendingEvent) error {
	removed, err := w.cart.ClearSettled(ctx, event.UserID, event.Items)
	if err != nil {
		util.CartCleanupFailuresTotal.WithLabelValues("worker").Inc()
		return fmt.Errorf("failed to clear cart for order %s: %w", event.OrderID, err)
	}

	w.logger.Info("Cart cleaned up",
		zap.String("order_id", event.OrderID),
		zap.Int64("user_id", event.UserID),
		zap.Int("items", len(event.Items)),
		zap.Int("removed", removed))
	return nil
}

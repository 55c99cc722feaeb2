package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"settlement-service/internal/models"
	"settlement-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher writes a keyed event to the bus
type Publisher interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer Publisher
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer Publisher) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func orderKey(orderID string) string {
	return "order-" + orderID
}

// PublishOrderSettled publishes OrderSettled event
func (ep *EventPublisher) PublishOrderSettled(ctx context.Context, event *models.OrderSettledEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishOrderPaid publishes OrderPaid event
func (ep *EventPublisher) PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishCartCleanupPending publishes CartCleanupPending event
func (ep *EventPublisher) PublishCartCleanupPending(ctx context.Context, event *models.CartCleanupPendingEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onCartCleanupPending func(context.Context, *models.CartCleanupPendingEvent) error
	logger               *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.Named("event_handler")}
}

// OnCartCleanupPending registers a handler for CartCleanupPending events
func (eh *EventHandler) OnCartCleanupPending(handler func(context.Context, *models.CartCleanupPendingEvent) error) {
	eh.onCartCleanupPending = handler
}

// HandleMessage routes messages to appropriate handlers. Event types
// without a registered handler are skipped.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		// a message that never parses would block the partition forever
		eh.logger.Error("Dropping malformed event", zap.ByteString("key", msg.Key), zap.Error(err))
		return nil
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeCartCleanupPending:
		if eh.onCartCleanupPending != nil {
			var event models.CartCleanupPendingEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				eh.logger.Error("Dropping malformed event",
					zap.String("id", baseEvent.EventID),
					zap.Error(fmt.Errorf("failed to unmarshal CartCleanupPending event: %w", err)))
				return nil
			}
			return eh.onCartCleanupPending(ctx, &event)
		}
	}

	return nil
}

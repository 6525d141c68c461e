package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher publishes order events keyed by order id
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func orderKey(orderID int64) string {
	return fmt.Sprintf("order-%d", orderID)
}

// PublishOrderChanged publishes ORDER_CREATED, ORDER_EDITED, ORDER_APPROVED or ORDER_CANCELLED
func (ep *EventPublisher) PublishOrderChanged(ctx context.Context, event *models.OrderChangedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishPaymentReceived publishes PaymentReceived event
func (ep *EventPublisher) PublishPaymentReceived(ctx context.Context, event *models.PaymentReceivedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onLotReceived func(context.Context, *models.LotReceivedEvent) error
	logger        *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnLotReceived registers a handler for LotReceived events
func (eh *EventHandler) OnLotReceived(handler func(context.Context, *models.LotReceivedEvent) error) {
	eh.onLotReceived = handler
}

// HandleMessage routes messages to appropriate handlers. Unknown event types
// are acknowledged and dropped.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeLotReceived:
		if eh.onLotReceived != nil {
			var event models.LotReceivedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal LotReceived event: %w", err)
			}
			return eh.onLotReceived(ctx, &event)
		}

	default:
		eh.logger.Warn("Unhandled event type", zap.String("event_type", baseEvent.EventType))
	}

	return nil
}

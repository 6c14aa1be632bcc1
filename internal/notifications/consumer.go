package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/oakmart/oakmart-backend/pkg/enums"
	"github.com/oakmart/oakmart-backend/pkg/logger"
	"github.com/oakmart/oakmart-backend/pkg/outbox"
	"github.com/oakmart/oakmart-backend/pkg/outbox/idempotency"
	"github.com/oakmart/oakmart-backend/pkg/outbox/payloads"
)

const orderNotificationConsumer = "order-notifications"

// Notification is the customer-facing message derived from a domain event.
type Notification struct {
	CustomerID  uuid.UUID
	OrderNumber string
	Title       string
	Message     string
}

// Sender delivers notifications downstream. Delivery is fire-and-forget:
// failures are logged and the event is still acked.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// LogSender writes notifications to the structured log. It stands in for a
// real channel (email, push) which is out of scope here.
type LogSender struct {
	Logg *logger.Logger
}

func (s *LogSender) Send(ctx context.Context, n Notification) error {
	if s.Logg == nil {
		return nil
	}
	logCtx := s.Logg.WithFields(ctx, map[string]any{
		"customer_id":  n.CustomerID.String(),
		"order_number": n.OrderNumber,
		"title":        n.Title,
	})
	s.Logg.Info(logCtx, "notification dispatched")
	return nil
}

// Consumer turns order lifecycle events into customer notifications.
type Consumer struct {
	sender       Sender
	subscription *pubsub.Subscriber
	idempotency  *idempotency.Manager
	logg         *logger.Logger
}

// NewConsumer builds the order notification consumer.
func NewConsumer(sender Sender, subscription *pubsub.Subscriber, manager *idempotency.Manager, logg *logger.Logger) (*Consumer, error) {
	if sender == nil {
		return nil, fmt.Errorf("sender required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("order event subscription required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		sender:       sender,
		subscription: subscription,
		idempotency:  manager,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := enums.OutboxEventType(msg.Attributes["event_type"])
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": string(eventType),
	})

	if !eventType.IsValid() {
		c.logg.Info(logCtx, "skipping unknown event type")
		return processResult{ack: true}
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}
	if envelope.EventID == "" {
		c.logg.Warn(logCtx, "envelope missing event id")
		return processResult{ack: true}
	}

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, orderNotificationConsumer, envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}

	notification, ok, err := buildNotification(eventType, envelope.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to parse payload", err)
		_ = c.idempotency.Delete(ctx, orderNotificationConsumer, envelope.EventID)
		return processResult{ack: true}
	}
	if !ok {
		c.logg.Info(logCtx, "event type not customer facing")
		return processResult{ack: true}
	}

	if err := c.sender.Send(ctx, notification); err != nil {
		// Fire-and-forget: a failed send never blocks the subscription.
		c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()),
			"notification send failed")
	}
	return processResult{ack: true}
}

// buildNotification maps an event payload to its customer message. The second
// return is false for event types that carry no customer-facing copy.
func buildNotification(eventType enums.OutboxEventType, data json.RawMessage) (Notification, bool, error) {
	switch eventType {
	case enums.EventOrderPlaced:
		var p payloads.OrderPlacedEvent
		if err := json.Unmarshal(data, &p); err != nil {
			return Notification{}, false, err
		}
		return Notification{
			CustomerID:  p.CustomerID,
			OrderNumber: p.OrderNumber,
			Title:       "Order received",
			Message:     fmt.Sprintf("We received your order %s. You will hear from us once payment settles.", p.OrderNumber),
		}, true, nil
	case enums.EventPaymentCaptured:
		var p payloads.PaymentCapturedEvent
		if err := json.Unmarshal(data, &p); err != nil {
			return Notification{}, false, err
		}
		return Notification{
			OrderNumber: p.OrderNumber,
			Title:       "Payment confirmed",
			Message:     fmt.Sprintf("Payment for order %s was confirmed. We are preparing your shipment.", p.OrderNumber),
		}, true, nil
	case enums.EventPaymentFailed:
		var p payloads.PaymentFailedEvent
		if err := json.Unmarshal(data, &p); err != nil {
			return Notification{}, false, err
		}
		return Notification{
			OrderNumber: p.OrderNumber,
			Title:       "Payment failed",
			Message:     fmt.Sprintf("Payment for order %s did not go through. Please retry with another method.", p.OrderNumber),
		}, true, nil
	case enums.EventOrderShipped:
		var p payloads.OrderShippedEvent
		if err := json.Unmarshal(data, &p); err != nil {
			return Notification{}, false, err
		}
		return Notification{
			OrderNumber: p.OrderNumber,
			Title:       "Order shipped",
			Message:     fmt.Sprintf("Order %s shipped via %s. Tracking number: %s.", p.OrderNumber, p.Carrier, p.TrackingNumber),
		}, true, nil
	case enums.EventOrderDelivered:
		var p payloads.OrderDeliveredEvent
		if err := json.Unmarshal(data, &p); err != nil {
			return Notification{}, false, err
		}
		return Notification{
			OrderNumber: p.OrderNumber,
			Title:       "Order delivered",
			Message:     fmt.Sprintf("Order %s was delivered. Returns are open for 30 days.", p.OrderNumber),
		}, true, nil
	case enums.EventOrderCancelled:
		var p payloads.OrderCancelledEvent
		if err := json.Unmarshal(data, &p); err != nil {
			return Notification{}, false, err
		}
		msg := fmt.Sprintf("Order %s was cancelled.", p.OrderNumber)
		if p.Refunded {
			msg = fmt.Sprintf("Order %s was cancelled and %d cents were refunded.", p.OrderNumber, p.RefundCents)
		}
		return Notification{
			OrderNumber: p.OrderNumber,
			Title:       "Order cancelled",
			Message:     msg,
		}, true, nil
	case enums.EventRefundSettled:
		var p payloads.RefundSettledEvent
		if err := json.Unmarshal(data, &p); err != nil {
			return Notification{}, false, err
		}
		return Notification{
			OrderNumber: p.OrderNumber,
			Title:       "Refund issued",
			Message:     fmt.Sprintf("A refund of %d cents for order %s is on its way back to you.", p.AmountCents, p.OrderNumber),
		}, true, nil
	case enums.EventReturnRequested:
		var p payloads.ReturnRequestedEvent
		if err := json.Unmarshal(data, &p); err != nil {
			return Notification{}, false, err
		}
		return Notification{
			OrderNumber: p.OrderNumber,
			Title:       "Return opened",
			Message:     fmt.Sprintf("Your return for order %s is open. Estimated refund: %d cents once items are inspected.", p.OrderNumber, p.RefundQuoteCents),
		}, true, nil
	case enums.EventReturnCompleted:
		var p payloads.ReturnCompletedEvent
		if err := json.Unmarshal(data, &p); err != nil {
			return Notification{}, false, err
		}
		return Notification{
			OrderNumber: p.OrderNumber,
			Title:       "Return completed",
			Message:     fmt.Sprintf("Your return for order %s was inspected. Refunded: %d cents.", p.OrderNumber, p.ActualRefundCents),
		}, true, nil
	default:
		// order_status_changed duplicates the dedicated lifecycle events.
		return Notification{}, false, nil
	}
}

package notifications

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/oakmart/oakmart-backend/pkg/enums"
	"github.com/oakmart/oakmart-backend/pkg/logger"
	"github.com/oakmart/oakmart-backend/pkg/outbox"
	"github.com/oakmart/oakmart-backend/pkg/outbox/idempotency"
	"github.com/oakmart/oakmart-backend/pkg/outbox/payloads"
)

type fakeStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: map[string]string{}}
}

func (s *fakeStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[key], nil
}

func (s *fakeStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; ok {
		return false, nil
	}
	s.data[key] = "1"
	return true, nil
}

func (s *fakeStore) IdempotencyKey(scope, id string) string {
	return "om:idempotency:" + scope + ":" + id
}

func (s *fakeStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}

type recordingSender struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (s *recordingSender) Send(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, n)
	return nil
}

func newTestConsumer(t *testing.T, sender Sender) *Consumer {
	t.Helper()
	manager, err := idempotency.NewManager(newFakeStore(), time.Hour)
	if err != nil {
		t.Fatalf("idempotency manager: %v", err)
	}
	return &Consumer{
		sender:      sender,
		idempotency: manager,
		logg:        logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	}
}

func eventMessage(t *testing.T, eventType enums.OutboxEventType, payload any) *pubsub.Message {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	envelope, err := json.Marshal(outbox.PayloadEnvelope{
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       data,
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return &pubsub.Message{
		ID:         uuid.NewString(),
		Data:       envelope,
		Attributes: map[string]string{"event_type": string(eventType)},
	}
}

func TestProcessDispatchesShippedNotification(t *testing.T) {
	t.Parallel()

	sender := &recordingSender{}
	consumer := newTestConsumer(t, sender)

	msg := eventMessage(t, enums.EventOrderShipped, payloads.OrderShippedEvent{
		OrderID:        uuid.New(),
		OrderNumber:    "ORD-SHIP1",
		Carrier:        "fleetship",
		TrackingNumber: "TRK999",
		ShippedAt:      time.Now().UTC(),
	})
	result := consumer.process(context.Background(), msg)
	if !result.ack || result.nack {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one notification, got %d", len(sender.sent))
	}
	got := sender.sent[0]
	if got.OrderNumber != "ORD-SHIP1" || got.Title != "Order shipped" {
		t.Fatalf("unexpected notification: %+v", got)
	}
	if !strings.Contains(got.Message, "TRK999") {
		t.Fatalf("tracking number missing from message: %q", got.Message)
	}
}

func TestProcessDeduplicatesRedeliveries(t *testing.T) {
	t.Parallel()

	sender := &recordingSender{}
	consumer := newTestConsumer(t, sender)

	msg := eventMessage(t, enums.EventOrderDelivered, payloads.OrderDeliveredEvent{
		OrderID:     uuid.New(),
		OrderNumber: "ORD-DLV1",
		DeliveredAt: time.Now().UTC(),
	})
	for i := 0; i < 3; i++ {
		result := consumer.process(context.Background(), msg)
		if !result.ack {
			t.Fatalf("delivery %d not acked", i)
		}
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one notification after redeliveries, got %d", len(sender.sent))
	}
}

func TestProcessAcksNonCustomerFacingEvents(t *testing.T) {
	t.Parallel()

	sender := &recordingSender{}
	consumer := newTestConsumer(t, sender)

	msg := eventMessage(t, enums.EventOrderStatusChanged, payloads.OrderStatusChangedEvent{
		OrderID:     uuid.New(),
		OrderNumber: "ORD-STAT1",
		FromStatus:  enums.OrderStatusPending,
		ToStatus:    enums.OrderStatusProcessing,
	})
	result := consumer.process(context.Background(), msg)
	if !result.ack {
		t.Fatal("status change event should ack")
	}
	if len(sender.sent) != 0 {
		t.Fatalf("status change should not notify, got %d", len(sender.sent))
	}
}

func TestProcessAcksWhenSendFails(t *testing.T) {
	t.Parallel()

	sender := &recordingSender{err: io.ErrUnexpectedEOF}
	consumer := newTestConsumer(t, sender)

	msg := eventMessage(t, enums.EventPaymentCaptured, payloads.PaymentCapturedEvent{
		OrderID:     uuid.New(),
		OrderNumber: "ORD-PAY1",
		Provider:    enums.PaymentProviderStripe,
		AmountCents: 11800,
	})
	result := consumer.process(context.Background(), msg)
	if !result.ack || result.nack {
		t.Fatalf("send failure must still ack: %+v", result)
	}
}

func TestProcessAcksMalformedEnvelope(t *testing.T) {
	t.Parallel()

	sender := &recordingSender{}
	consumer := newTestConsumer(t, sender)

	msg := &pubsub.Message{
		ID:         uuid.NewString(),
		Data:       []byte("not-json"),
		Attributes: map[string]string{"event_type": string(enums.EventOrderPlaced)},
	}
	result := consumer.process(context.Background(), msg)
	if !result.ack || result.nack {
		t.Fatalf("malformed envelope must ack: %+v", result)
	}
	if len(sender.sent) != 0 {
		t.Fatal("malformed envelope should not notify")
	}
}

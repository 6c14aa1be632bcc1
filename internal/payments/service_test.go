package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/oakmart/oakmart-backend/internal/orders"
	"github.com/oakmart/oakmart-backend/pkg/db/models"
	"github.com/oakmart/oakmart-backend/pkg/enums"
	pkgerrors "github.com/oakmart/oakmart-backend/pkg/errors"
	"github.com/oakmart/oakmart-backend/pkg/outbox"
	"github.com/oakmart/oakmart-backend/pkg/outbox/idempotency"
	"github.com/oakmart/oakmart-backend/pkg/types"
)

type gormTxRunner struct {
	db *gorm.DB
}

func (r *gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type fakeStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: map[string]string{}}
}

func (f *fakeStore) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data[key], nil
}

func (f *fakeStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	f.data[key] = fmt.Sprint(value)
	return true, nil
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return "om:idempotency:" + scope + ":" + id
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, key := range keys {
		delete(f.data, key)
	}
	return nil
}

// stubGateway scripts provider behavior per test.
type stubGateway struct {
	provider      enums.PaymentProvider
	captureResult *CaptureResult
	captureErr    error
	refundResult  *RefundResult
	refundErr     error
	refundCalls   int
	verifyEvent   *Event
	verifyErr     error
}

func (s *stubGateway) Provider() enums.PaymentProvider {
	return s.provider
}

func (s *stubGateway) CreateIntent(_ context.Context, order *models.Order) (*IntentRef, error) {
	return &IntentRef{Provider: s.provider, IntentID: "pi_stub_" + order.OrderNumber, ClientToken: "secret"}, nil
}

func (s *stubGateway) Capture(_ context.Context, _ string, _ *models.Order, _ string) (*CaptureResult, error) {
	if s.captureErr != nil {
		return nil, s.captureErr
	}
	return s.captureResult, nil
}

func (s *stubGateway) Refund(_ context.Context, _ *models.Order, _ int, _ string) (*RefundResult, error) {
	s.refundCalls++
	if s.refundErr != nil {
		return nil, s.refundErr
	}
	return s.refundResult, nil
}

func (s *stubGateway) VerifyWebhook(_ []byte, _ string) (*Event, error) {
	if s.verifyErr != nil {
		return nil, s.verifyErr
	}
	return s.verifyEvent, nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:payments_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Order{},
		&models.OrderItem{},
		&models.OrderStatusHistory{},
		&models.OutboxEvent{},
		&models.PaymentTransaction{},
		&models.WebhookEvent{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB, gw Gateway) *Service {
	t.Helper()
	idem, err := idempotency.NewManager(newFakeStore(), time.Hour)
	if err != nil {
		t.Fatalf("idempotency manager: %v", err)
	}
	svc, err := NewService(ServiceParams{
		Repo:     NewRepository(db),
		Orders:   orders.NewRepository(db),
		Gateways: NewRegistry(gw),
		Tx:       &gormTxRunner{db: db},
		Outbox:   outbox.NewService(outbox.NewRepository(db), nil),
		Idem:     idem,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func seedOrder(t *testing.T, db *gorm.DB, paymentStatus enums.PaymentStatus) *models.Order {
	t.Helper()
	intent := "pi_stub_seed_" + uuid.NewString()
	order := &models.Order{
		ID:               uuid.New(),
		OrderNumber:      "ORD-" + uuid.NewString()[:10],
		CustomerID:       uuid.New(),
		Status:           enums.OrderStatusPending,
		PaymentStatus:    paymentStatus,
		PaymentProvider:  enums.PaymentProviderStripe,
		PaymentIntentRef: &intent,
		Currency:         "USD",
		SubtotalCents:    10000,
		TaxCents:         1800,
		TotalCents:       11800,
	}
	if err := db.Create(order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return order
}

func capturedEvent(order *models.Order) *Event {
	return &Event{
		ID:            "evt_" + uuid.NewString(),
		Provider:      enums.PaymentProviderStripe,
		Kind:          EventKindPaymentSucceeded,
		OrderNumber:   order.OrderNumber,
		IntentID:      *order.PaymentIntentRef,
		TransactionID: "ch_stub_1",
		AmountCents:   order.TotalCents,
		Raw:           json.RawMessage(`{}`),
	}
}

func countTransactions(t *testing.T, db *gorm.DB, orderID uuid.UUID) int64 {
	t.Helper()
	var count int64
	if err := db.Model(&models.PaymentTransaction{}).Where("order_id = ?", orderID).Count(&count).Error; err != nil {
		t.Fatalf("count transactions: %v", err)
	}
	return count
}

func TestConfirmPaymentCapturesAndAdvancesOrder(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	gw := &stubGateway{
		provider:      enums.PaymentProviderStripe,
		captureResult: &CaptureResult{Succeeded: true, TransactionID: "ch_stub_1"},
	}
	svc := newTestService(t, db, gw)
	order := seedOrder(t, db, enums.PaymentStatusPending)

	confirmed, err := svc.ConfirmPayment(context.Background(), order.OrderNumber, types.SystemActor())
	if err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	if confirmed.PaymentStatus != enums.PaymentStatusPaid {
		t.Fatalf("payment status = %s", confirmed.PaymentStatus)
	}
	if confirmed.Status != enums.OrderStatusProcessing {
		t.Fatalf("order status = %s", confirmed.Status)
	}

	var txn models.PaymentTransaction
	if err := db.First(&txn, "order_id = ?", order.ID).Error; err != nil {
		t.Fatalf("load transaction: %v", err)
	}
	if txn.Kind != enums.TransactionKindCapture || !txn.Succeeded || txn.AmountCents != 11800 {
		t.Fatalf("unexpected transaction: %+v", txn)
	}

	var events []models.OutboxEvent
	if err := db.Where("aggregate_id = ?", order.ID).Find(&events).Error; err != nil {
		t.Fatalf("load outbox: %v", err)
	}
	if len(events) != 1 || events[0].EventType != enums.EventPaymentCaptured {
		t.Fatalf("unexpected outbox events: %+v", events)
	}
}

func TestConfirmPaymentDeclineMarksFailed(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	gw := &stubGateway{
		provider:      enums.PaymentProviderStripe,
		captureResult: &CaptureResult{Succeeded: false, FailureReason: "card declined"},
	}
	svc := newTestService(t, db, gw)
	order := seedOrder(t, db, enums.PaymentStatusPending)

	_, err := svc.ConfirmPayment(context.Background(), order.OrderNumber, types.SystemActor())
	if err == nil {
		t.Fatal("expected declined error")
	}
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodePaymentDeclined {
		t.Fatalf("unexpected error: %v", err)
	}

	var stored models.Order
	if err := db.First(&stored, "id = ?", order.ID).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	if stored.PaymentStatus != enums.PaymentStatusFailed {
		t.Fatalf("payment status = %s", stored.PaymentStatus)
	}
	if stored.Status != enums.OrderStatusPending {
		t.Fatalf("order status should stay pending, got %s", stored.Status)
	}
}

func TestHandleWebhookCaptureDeduplicatesDeliveries(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	gw := &stubGateway{provider: enums.PaymentProviderStripe}
	svc := newTestService(t, db, gw)
	order := seedOrder(t, db, enums.PaymentStatusPending)
	gw.verifyEvent = capturedEvent(order)

	ctx := context.Background()
	for range 3 {
		if err := svc.HandleWebhook(ctx, enums.PaymentProviderStripe, []byte(`{}`), "sig"); err != nil {
			t.Fatalf("HandleWebhook: %v", err)
		}
	}

	if got := countTransactions(t, db, order.ID); got != 1 {
		t.Fatalf("expected exactly one transaction, got %d", got)
	}
	var webhookCount int64
	if err := db.Model(&models.WebhookEvent{}).Count(&webhookCount).Error; err != nil {
		t.Fatalf("count webhook events: %v", err)
	}
	if webhookCount != 1 {
		t.Fatalf("expected one webhook event row, got %d", webhookCount)
	}

	var stored models.Order
	if err := db.First(&stored, "id = ?", order.ID).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	if stored.PaymentStatus != enums.PaymentStatusPaid || stored.Status != enums.OrderStatusProcessing {
		t.Fatalf("unexpected order state: %s/%s", stored.Status, stored.PaymentStatus)
	}
}

func TestHandleWebhookAfterConfirmIsNoOp(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	gw := &stubGateway{
		provider:      enums.PaymentProviderStripe,
		captureResult: &CaptureResult{Succeeded: true, TransactionID: "ch_stub_1"},
	}
	svc := newTestService(t, db, gw)
	order := seedOrder(t, db, enums.PaymentStatusPending)
	gw.verifyEvent = capturedEvent(order)

	ctx := context.Background()
	if _, err := svc.ConfirmPayment(ctx, order.OrderNumber, types.SystemActor()); err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	// The provider's own notification for the same capture arrives later.
	if err := svc.HandleWebhook(ctx, enums.PaymentProviderStripe, []byte(`{}`), "sig"); err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}

	if got := countTransactions(t, db, order.ID); got != 1 {
		t.Fatalf("expected exactly one transaction, got %d", got)
	}
	var stored models.Order
	if err := db.First(&stored, "id = ?", order.ID).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	if stored.PaymentStatus != enums.PaymentStatusPaid {
		t.Fatalf("payment status = %s", stored.PaymentStatus)
	}
}

func TestHandleWebhookFailureNeverDowngradesPaidOrder(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	gw := &stubGateway{provider: enums.PaymentProviderStripe}
	svc := newTestService(t, db, gw)
	order := seedOrder(t, db, enums.PaymentStatusPaid)
	gw.verifyEvent = &Event{
		ID:            "evt_" + uuid.NewString(),
		Provider:      enums.PaymentProviderStripe,
		Kind:          EventKindPaymentFailed,
		OrderNumber:   order.OrderNumber,
		FailureReason: "insufficient funds",
		Raw:           json.RawMessage(`{}`),
	}

	if err := svc.HandleWebhook(context.Background(), enums.PaymentProviderStripe, []byte(`{}`), "sig"); err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}

	var stored models.Order
	if err := db.First(&stored, "id = ?", order.ID).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	if stored.PaymentStatus != enums.PaymentStatusPaid {
		t.Fatalf("paid order was downgraded to %s", stored.PaymentStatus)
	}
	if got := countTransactions(t, db, order.ID); got != 0 {
		t.Fatalf("expected no transactions, got %d", got)
	}
}

func TestHandleWebhookUnknownOrderAcks(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	gw := &stubGateway{provider: enums.PaymentProviderStripe}
	svc := newTestService(t, db, gw)
	gw.verifyEvent = &Event{
		ID:          "evt_" + uuid.NewString(),
		Provider:    enums.PaymentProviderStripe,
		Kind:        EventKindPaymentSucceeded,
		OrderNumber: "ORD-DOESNOTEXIST",
		Raw:         json.RawMessage(`{}`),
	}

	if err := svc.HandleWebhook(context.Background(), enums.PaymentProviderStripe, []byte(`{}`), "sig"); err != nil {
		t.Fatalf("unknown order should be acked, got %v", err)
	}

	var webhookCount int64
	if err := db.Model(&models.WebhookEvent{}).Count(&webhookCount).Error; err != nil {
		t.Fatalf("count webhook events: %v", err)
	}
	if webhookCount != 1 {
		t.Fatalf("expected the event to be recorded for reconciliation, got %d rows", webhookCount)
	}
}

func TestHandleWebhookRejectsBadSignature(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	gw := &stubGateway{
		provider:  enums.PaymentProviderStripe,
		verifyErr: pkgerrors.New(pkgerrors.CodeSignature, "invalid signature"),
	}
	svc := newTestService(t, db, gw)

	err := svc.HandleWebhook(context.Background(), enums.PaymentProviderStripe, []byte(`{}`), "bad")
	if err == nil {
		t.Fatal("expected signature error")
	}
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeSignature {
		t.Fatalf("unexpected error: %v", err)
	}

	var webhookCount int64
	if err := db.Model(&models.WebhookEvent{}).Count(&webhookCount).Error; err != nil {
		t.Fatalf("count webhook events: %v", err)
	}
	if webhookCount != 0 {
		t.Fatalf("rejected delivery must leave no rows, got %d", webhookCount)
	}
}

func TestRefundRejectsAmountOverRemaining(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	gw := &stubGateway{provider: enums.PaymentProviderStripe}
	svc := newTestService(t, db, gw)
	order := seedOrder(t, db, enums.PaymentStatusPaid)
	order.RefundedCents = 10000

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := svc.Refund(context.Background(), tx, order, 2000, "over the top")
		return err
	})
	if err == nil {
		t.Fatal("expected refund exceeded error")
	}
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeRefundExceeded {
		t.Fatalf("unexpected error: %v", err)
	}
	if gw.refundCalls != 0 {
		t.Fatalf("gateway should not be called, got %d calls", gw.refundCalls)
	}
}

func TestRefundReplaysInsteadOfDoubleRefunding(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	gw := &stubGateway{
		provider:     enums.PaymentProviderStripe,
		refundResult: &RefundResult{Succeeded: true, TransactionID: "re_stub_1"},
	}
	svc := newTestService(t, db, gw)
	order := seedOrder(t, db, enums.PaymentStatusPaid)

	ctx := context.Background()
	var first, second string
	if err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		first, err = svc.Refund(ctx, tx, order, 3000, "damaged item")
		return err
	}); err != nil {
		t.Fatalf("first refund: %v", err)
	}
	// A retry with the same cumulative amount replays the recorded movement.
	if err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		second, err = svc.Refund(ctx, tx, order, 3000, "damaged item")
		return err
	}); err != nil {
		t.Fatalf("second refund: %v", err)
	}

	if first != second || first != "re_stub_1" {
		t.Fatalf("expected replayed transaction id, got %q and %q", first, second)
	}
	if gw.refundCalls != 1 {
		t.Fatalf("gateway should be called once, got %d", gw.refundCalls)
	}
	if got := countTransactions(t, db, order.ID); got != 1 {
		t.Fatalf("expected one refund row, got %d", got)
	}
}

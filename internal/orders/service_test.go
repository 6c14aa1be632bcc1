package orders

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/oakmart/oakmart-backend/internal/inventory"
	"github.com/oakmart/oakmart-backend/pkg/db/models"
	"github.com/oakmart/oakmart-backend/pkg/enums"
	pkgerrors "github.com/oakmart/oakmart-backend/pkg/errors"
	"github.com/oakmart/oakmart-backend/pkg/outbox"
	"github.com/oakmart/oakmart-backend/pkg/types"
)

type gormTxRunner struct {
	db *gorm.DB
}

func (r *gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type stubRefunder struct {
	calls   int
	amounts []int
	err     error
}

func (s *stubRefunder) Refund(_ context.Context, _ *gorm.DB, _ *models.Order, amountCents int, _ string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.calls++
	s.amounts = append(s.amounts, amountCents)
	return "re_stub_1", nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:orders_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Order{},
		&models.OrderItem{},
		&models.OrderStatusHistory{},
		&models.OutboxEvent{},
		&models.InventoryItem{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB, refunder Refunder) *Service {
	t.Helper()
	invSvc, err := inventory.NewService(inventory.ServiceParams{Repo: inventory.NewRepository(db)})
	if err != nil {
		t.Fatalf("inventory service: %v", err)
	}
	svc, err := NewService(ServiceParams{
		Repo:             NewRepository(db),
		Tx:               &gormTxRunner{db: db},
		Outbox:           outbox.NewService(outbox.NewRepository(db), nil),
		Stock:            invSvc,
		Refunder:         refunder,
		TaxRatePercent:   18,
		ReturnWindowDays: 30,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func placeTestOrder(t *testing.T, db *gorm.DB, svc *Service, paymentStatus enums.PaymentStatus) *models.Order {
	t.Helper()
	order := &models.Order{
		CustomerID:      uuid.New(),
		PaymentProvider: enums.PaymentProviderStripe,
		Currency:        "USD",
		Items: []models.OrderItem{
			{ProductID: uuid.New(), Name: "Walnut Desk Organizer", SKU: "SKU-DESK-1", UnitPriceCents: 5000, Quantity: 2},
		},
	}
	if err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Place(context.Background(), tx, order, types.Actor{ID: order.CustomerID, Role: enums.ActorRoleCustomer})
	}); err != nil {
		t.Fatalf("Place: %v", err)
	}
	if paymentStatus != enums.PaymentStatusPending {
		if err := db.Model(&models.Order{}).Where("id = ?", order.ID).
			Update("payment_status", paymentStatus).Error; err != nil {
			t.Fatalf("set payment status: %v", err)
		}
		order.PaymentStatus = paymentStatus
	}
	return order
}

func TestPlaceComputesTotalsAndHistory(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db, nil)
	order := placeTestOrder(t, db, svc, enums.PaymentStatusPending)

	if order.OrderNumber == "" {
		t.Fatal("expected order number to be assigned")
	}
	if order.SubtotalCents != 10000 || order.TaxCents != 1800 || order.TotalCents != 11800 {
		t.Fatalf("unexpected totals: %+v", order)
	}

	var history []models.OrderStatusHistory
	if err := db.Where("order_id = ?", order.ID).Find(&history).Error; err != nil {
		t.Fatalf("load history: %v", err)
	}
	if len(history) != 1 || history[0].Comment != "order placed" {
		t.Fatalf("unexpected history: %+v", history)
	}

	var events []models.OutboxEvent
	if err := db.Where("aggregate_id = ?", order.ID).Find(&events).Error; err != nil {
		t.Fatalf("load outbox: %v", err)
	}
	if len(events) != 1 || events[0].EventType != enums.EventOrderPlaced {
		t.Fatalf("unexpected outbox events: %+v", events)
	}
}

func TestTransitionRejectsIllegalMove(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db, nil)
	order := placeTestOrder(t, db, svc, enums.PaymentStatusPending)

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Transition(context.Background(), tx, order, enums.OrderStatusShipped, types.SystemActor(), "skip ahead")
	})
	if err == nil {
		t.Fatal("expected state conflict")
	}
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTransitionToCurrentStatusIsNoOp(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db, nil)
	order := placeTestOrder(t, db, svc, enums.PaymentStatusPending)

	if err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Transition(context.Background(), tx, order, enums.OrderStatusPending, types.SystemActor(), "noop")
	}); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	var count int64
	if err := db.Model(&models.OrderStatusHistory{}).Where("order_id = ?", order.ID).Count(&count).Error; err != nil {
		t.Fatalf("count history: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected only the placement history row, got %d", count)
	}
}

func TestTransitionAppendsHistoryAndEvent(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db, nil)
	order := placeTestOrder(t, db, svc, enums.PaymentStatusPaid)

	if err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Transition(context.Background(), tx, order, enums.OrderStatusProcessing, types.WebhookActor(), "payment captured")
	}); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if order.Status != enums.OrderStatusProcessing {
		t.Fatalf("in-memory status not updated: %s", order.Status)
	}

	var stored models.Order
	if err := db.First(&stored, "id = ?", order.ID).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	if stored.Status != enums.OrderStatusProcessing {
		t.Fatalf("stored status = %s", stored.Status)
	}
	if stored.TotalCents != stored.SubtotalCents+stored.TaxCents+stored.ShippingFeeCents {
		t.Fatalf("total invariant violated: %+v", stored)
	}

	var history []models.OrderStatusHistory
	if err := db.Where("order_id = ? AND to_status = ?", order.ID, enums.OrderStatusProcessing).Find(&history).Error; err != nil {
		t.Fatalf("load history: %v", err)
	}
	if len(history) != 1 || history[0].ActorRole != enums.ActorRoleWebhook {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestCancelReleasesStockAndRefundsPaidOrder(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	refunder := &stubRefunder{}
	svc := newTestService(t, db, refunder)
	order := placeTestOrder(t, db, svc, enums.PaymentStatusPaid)

	// Seed inventory as if checkout had reserved 2 of 5 units.
	item := order.Items[0]
	if err := db.Create(&models.InventoryItem{
		ProductID: item.ProductID, SKU: item.SKU, AvailableQty: 3, ReservedQty: 2,
	}).Error; err != nil {
		t.Fatalf("seed inventory: %v", err)
	}

	cancelled, err := svc.Cancel(context.Background(), order.OrderNumber, types.Actor{ID: order.CustomerID, Role: enums.ActorRoleCustomer}, "changed my mind")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != enums.OrderStatusCancelled {
		t.Fatalf("status = %s", cancelled.Status)
	}
	if cancelled.PaymentStatus != enums.PaymentStatusRefunded {
		t.Fatalf("payment status = %s", cancelled.PaymentStatus)
	}
	if refunder.calls != 1 || refunder.amounts[0] != 11800 {
		t.Fatalf("unexpected refund calls: %+v", refunder)
	}

	var inv models.InventoryItem
	if err := db.First(&inv, "product_id = ?", item.ProductID).Error; err != nil {
		t.Fatalf("load inventory: %v", err)
	}
	if inv.AvailableQty != 5 || inv.ReservedQty != 0 {
		t.Fatalf("stock not fully released: %+v", inv)
	}
}

func TestCancelRejectsShippedOrder(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db, nil)
	order := placeTestOrder(t, db, svc, enums.PaymentStatusPaid)

	ctx := context.Background()
	if err := db.Transaction(func(tx *gorm.DB) error {
		if err := svc.Transition(ctx, tx, order, enums.OrderStatusProcessing, types.SystemActor(), ""); err != nil {
			return err
		}
		return svc.Transition(ctx, tx, order, enums.OrderStatusShipped, types.SystemActor(), "")
	}); err != nil {
		t.Fatalf("advance order: %v", err)
	}

	_, err := svc.Cancel(ctx, order.OrderNumber, types.SystemActor(), "too late")
	if err == nil {
		t.Fatal("expected state conflict")
	}
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCancelPendingPaymentSkipsRefund(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	refunder := &stubRefunder{}
	svc := newTestService(t, db, refunder)
	order := placeTestOrder(t, db, svc, enums.PaymentStatusPending)

	item := order.Items[0]
	if err := db.Create(&models.InventoryItem{
		ProductID: item.ProductID, SKU: item.SKU, AvailableQty: 0, ReservedQty: 2,
	}).Error; err != nil {
		t.Fatalf("seed inventory: %v", err)
	}

	cancelled, err := svc.Cancel(context.Background(), order.OrderNumber, types.SystemActor(), "")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if refunder.calls != 0 {
		t.Fatalf("refunder should not be called, got %d", refunder.calls)
	}
	if cancelled.PaymentStatus != enums.PaymentStatusCancelled {
		t.Fatalf("payment status = %s", cancelled.PaymentStatus)
	}
}

package fulfillment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/oakmart/oakmart-backend/internal/inventory"
	"github.com/oakmart/oakmart-backend/internal/orders"
	"github.com/oakmart/oakmart-backend/internal/shipping"
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

type stubQuoter struct {
	quotes []shipping.Quote
}

func (s *stubQuoter) Quotes(_ context.Context, _ *models.Order) ([]shipping.Quote, error) {
	return s.quotes, nil
}

func (s *stubQuoter) EstimateDelivery(_ *models.Order, shippedAt time.Time) time.Time {
	return shippedAt.AddDate(0, 0, 5)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:fulfillment_" + uuid.NewString() + "?mode=memory&cache=shared"
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

func newTestService(t *testing.T, db *gorm.DB) *Service {
	t.Helper()
	invSvc, err := inventory.NewService(inventory.ServiceParams{Repo: inventory.NewRepository(db)})
	if err != nil {
		t.Fatalf("inventory service: %v", err)
	}
	ordersRepo := orders.NewRepository(db)
	outboxSvc := outbox.NewService(outbox.NewRepository(db), nil)
	ordersSvc, err := orders.NewService(orders.ServiceParams{
		Repo:             ordersRepo,
		Tx:               &gormTxRunner{db: db},
		Outbox:           outboxSvc,
		Stock:            invSvc,
		TaxRatePercent:   18,
		ReturnWindowDays: 30,
	})
	if err != nil {
		t.Fatalf("orders service: %v", err)
	}
	svc, err := NewService(ServiceParams{
		Orders: ordersSvc,
		Repo:   ordersRepo,
		Shipping: &stubQuoter{quotes: []shipping.Quote{
			{Carrier: shipping.CarrierParcelOne, ServiceLevel: enums.ServiceLevelStandard, CostCents: 900, EstimatedDays: 5},
			{Carrier: shipping.CarrierFleetShip, ServiceLevel: enums.ServiceLevelStandard, CostCents: 1200, EstimatedDays: 4},
		}},
		Stock:  invSvc,
		Tx:     &gormTxRunner{db: db},
		Outbox: outboxSvc,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func seedPaidOrder(t *testing.T, db *gorm.DB) *models.Order {
	t.Helper()
	order := &models.Order{
		ID:              uuid.New(),
		OrderNumber:     "ORD-" + uuid.NewString()[:10],
		CustomerID:      uuid.New(),
		Status:          enums.OrderStatusPending,
		PaymentStatus:   enums.PaymentStatusPaid,
		PaymentProvider: enums.PaymentProviderStripe,
		Currency:        "USD",
		ServiceLevel:    enums.ServiceLevelStandard,
		SubtotalCents:   10000,
		TaxCents:        1800,
		TotalCents:      11800,
		ShippingAddress: &types.Address{
			Name: "Avery Chen", Line1: "12 Birch Lane", City: "Portland",
			Region: "OR", PostalCode: "97201", Country: "US",
		},
		Items: []models.OrderItem{
			{
				ID: uuid.New(), ProductID: uuid.New(), Name: "Ceramic Vase", SKU: "SKU-VASE-1",
				UnitPriceCents: 5000, Quantity: 2, SubtotalCents: 10000,
				Fragile: true, WarehouseLocation: "A3-07",
			},
		},
	}
	if err := db.Create(order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return order
}

func TestProcessBuildsArtifactsOnce(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	order := seedPaidOrder(t, db)

	plan, err := svc.Process(context.Background(), order.OrderNumber, types.SystemActor())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(plan.PickingList) != 1 || plan.PickingList[0].Location != "A3-07" {
		t.Fatalf("unexpected picking list: %+v", plan.PickingList)
	}
	if !plan.PackingSlip.Fragile {
		t.Fatal("packing slip should flag fragile items")
	}
	if len(plan.Quotes) != 2 || plan.Quotes[0].CostCents != 900 {
		t.Fatalf("unexpected quotes: %+v", plan.Quotes)
	}

	var stored models.Order
	if err := db.First(&stored, "id = ?", order.ID).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	if stored.Status != enums.OrderStatusProcessing {
		t.Fatalf("status = %s", stored.Status)
	}
	if stored.FulfillmentData == nil {
		t.Fatal("fulfillment data not stored")
	}

	// Artifacts are generated exactly once.
	_, err = svc.Process(context.Background(), order.OrderNumber, types.SystemActor())
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict on rerun, got %v", err)
	}
}

func TestProcessRejectsUnpaidOrder(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	order := seedPaidOrder(t, db)
	if err := db.Model(&models.Order{}).Where("id = ?", order.ID).
		Update("payment_status", enums.PaymentStatusPending).Error; err != nil {
		t.Fatalf("set payment status: %v", err)
	}

	_, err := svc.Process(context.Background(), order.OrderNumber, types.SystemActor())
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestMarkShippedCommitsStockAndStoresTracking(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	order := seedPaidOrder(t, db)
	if err := db.Model(&models.Order{}).Where("id = ?", order.ID).
		Update("status", enums.OrderStatusProcessing).Error; err != nil {
		t.Fatalf("advance order: %v", err)
	}
	item := order.Items[0]
	if err := db.Create(&models.InventoryItem{
		ProductID: item.ProductID, SKU: item.SKU, AvailableQty: 3, ReservedQty: 2,
	}).Error; err != nil {
		t.Fatalf("seed inventory: %v", err)
	}

	shipped, err := svc.MarkShipped(context.Background(), order.OrderNumber,
		shipping.CarrierParcelOne, "TRK123456", types.JSONMap{"parcels": 1}, types.SystemActor())
	if err != nil {
		t.Fatalf("MarkShipped: %v", err)
	}
	if shipped.Status != enums.OrderStatusShipped {
		t.Fatalf("status = %s", shipped.Status)
	}

	var inv models.InventoryItem
	if err := db.First(&inv, "product_id = ?", item.ProductID).Error; err != nil {
		t.Fatalf("load inventory: %v", err)
	}
	if inv.ReservedQty != 0 || inv.AvailableQty != 3 {
		t.Fatalf("reservation not committed: %+v", inv)
	}

	var stored models.Order
	if err := db.First(&stored, "id = ?", order.ID).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	if stored.ShippingDetails == nil {
		t.Fatal("shipping details not stored")
	}
	details := *stored.ShippingDetails
	if details["tracking_number"] != "TRK123456" || details["estimated_delivery"] == "" {
		t.Fatalf("unexpected shipping details: %+v", details)
	}

	var count int64
	if err := db.Model(&models.OutboxEvent{}).
		Where("aggregate_id = ? AND event_type = ?", order.ID, enums.EventOrderShipped).
		Count(&count).Error; err != nil {
		t.Fatalf("count outbox: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one shipped event, got %d", count)
	}
}

func TestMarkShippedRequiresTrackingFields(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	order := seedPaidOrder(t, db)

	_, err := svc.MarkShipped(context.Background(), order.OrderNumber,
		"", "TRK123456", types.JSONMap{"parcels": 1}, types.SystemActor())
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	_, err = svc.MarkShipped(context.Background(), order.OrderNumber,
		shipping.CarrierParcelOne, "TRK123456", nil, types.SystemActor())
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestMarkDeliveredStampsDeliveredAt(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	order := seedPaidOrder(t, db)
	if err := db.Model(&models.Order{}).Where("id = ?", order.ID).
		Update("status", enums.OrderStatusShipped).Error; err != nil {
		t.Fatalf("advance order: %v", err)
	}

	delivered, err := svc.MarkDelivered(context.Background(), order.OrderNumber,
		types.JSONMap{"signed_by": "A. Chen"}, types.SystemActor())
	if err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	if delivered.Status != enums.OrderStatusDelivered {
		t.Fatalf("status = %s", delivered.Status)
	}
	if delivered.DeliveredAt == nil {
		t.Fatal("delivered_at not set")
	}

	var stored models.Order
	if err := db.First(&stored, "id = ?", order.ID).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	if stored.DeliveredAt == nil {
		t.Fatal("delivered_at not persisted")
	}
	if stored.DeliveryDetails == nil || (*stored.DeliveryDetails)["signed_by"] != "A. Chen" {
		t.Fatalf("unexpected delivery details: %+v", stored.DeliveryDetails)
	}
}

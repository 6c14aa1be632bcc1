package checkout

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/oakmart/oakmart-backend/internal/inventory"
	"github.com/oakmart/oakmart-backend/internal/orders"
	"github.com/oakmart/oakmart-backend/internal/payments"
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

type stubIntents struct {
	err   error
	calls int
}

func (s *stubIntents) CreateIntent(_ context.Context, _ *gorm.DB, order *models.Order) (*payments.IntentRef, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &payments.IntentRef{
		Provider: order.PaymentProvider,
		IntentID: "pi_stub_" + order.OrderNumber,
	}, nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:checkout_" + uuid.NewString() + "?mode=memory&cache=shared"
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

func newTestService(t *testing.T, db *gorm.DB, intents IntentCreator) *Service {
	t.Helper()
	invSvc, err := inventory.NewService(inventory.ServiceParams{Repo: inventory.NewRepository(db)})
	if err != nil {
		t.Fatalf("inventory service: %v", err)
	}
	ordersSvc, err := orders.NewService(orders.ServiceParams{
		Repo:             orders.NewRepository(db),
		Tx:               &gormTxRunner{db: db},
		Outbox:           outbox.NewService(outbox.NewRepository(db), nil),
		Stock:            invSvc,
		TaxRatePercent:   18,
		ReturnWindowDays: 30,
	})
	if err != nil {
		t.Fatalf("orders service: %v", err)
	}
	svc, err := NewService(ServiceParams{
		Orders:  ordersSvc,
		Stock:   invSvc,
		Intents: intents,
		Tx:      &gormTxRunner{db: db},
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func testRequest(productID uuid.UUID) Request {
	return Request{
		CustomerID:       uuid.New(),
		Provider:         enums.PaymentProviderStripe,
		ServiceLevel:     enums.ServiceLevelStandard,
		ShippingFeeCents: 500,
		ShippingAddress: &types.Address{
			Name: "Avery Chen", Line1: "12 Birch Lane", City: "Portland",
			Region: "OR", PostalCode: "97201", Country: "US",
		},
		Lines: []Line{
			{
				ProductID: productID, Name: "Ceramic Vase", SKU: "SKU-VASE-1",
				UnitPriceCents: 5000, Quantity: 2, Fragile: true, WarehouseLocation: "A3-07",
			},
		},
	}
}

func seedInventory(t *testing.T, db *gorm.DB, productID uuid.UUID, available int) {
	t.Helper()
	if err := db.Create(&models.InventoryItem{
		ProductID: productID, SKU: "SKU-VASE-1", AvailableQty: available,
	}).Error; err != nil {
		t.Fatalf("seed inventory: %v", err)
	}
}

func TestCheckoutPlacesOrderAndOpensIntent(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	intents := &stubIntents{}
	svc := newTestService(t, db, intents)
	productID := uuid.New()
	seedInventory(t, db, productID, 5)

	res, err := svc.Checkout(context.Background(), testRequest(productID), types.SystemActor())
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if res.Order.OrderNumber == "" {
		t.Fatal("order number not assigned")
	}
	if res.Order.Status != enums.OrderStatusPending || res.Order.PaymentStatus != enums.PaymentStatusPending {
		t.Fatalf("unexpected statuses: %s/%s", res.Order.Status, res.Order.PaymentStatus)
	}
	if res.Order.SubtotalCents != 10000 || res.Order.TaxCents != 1800 || res.Order.TotalCents != 12300 {
		t.Fatalf("unexpected totals: %d/%d/%d",
			res.Order.SubtotalCents, res.Order.TaxCents, res.Order.TotalCents)
	}
	if res.Intent == nil || res.Intent.IntentID == "" {
		t.Fatalf("intent not opened: %+v", res.Intent)
	}
	if intents.calls != 1 {
		t.Fatalf("CreateIntent calls = %d", intents.calls)
	}

	var inv models.InventoryItem
	if err := db.First(&inv, "product_id = ?", productID).Error; err != nil {
		t.Fatalf("load inventory: %v", err)
	}
	if inv.AvailableQty != 3 || inv.ReservedQty != 2 {
		t.Fatalf("reservation not applied: %+v", inv)
	}

	var events int64
	if err := db.Model(&models.OutboxEvent{}).
		Where("event_type = ?", enums.EventOrderPlaced).
		Count(&events).Error; err != nil {
		t.Fatalf("count outbox: %v", err)
	}
	if events != 1 {
		t.Fatalf("expected one placed event, got %d", events)
	}
}

func TestCheckoutRollsBackOnShortage(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db, &stubIntents{})
	productID := uuid.New()
	seedInventory(t, db, productID, 1)

	_, err := svc.Checkout(context.Background(), testRequest(productID), types.SystemActor())
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeInsufficientStock {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	var ordersCount int64
	if err := db.Model(&models.Order{}).Count(&ordersCount).Error; err != nil {
		t.Fatalf("count orders: %v", err)
	}
	if ordersCount != 0 {
		t.Fatalf("order row leaked: %d", ordersCount)
	}
	var inv models.InventoryItem
	if err := db.First(&inv, "product_id = ?", productID).Error; err != nil {
		t.Fatalf("load inventory: %v", err)
	}
	if inv.AvailableQty != 1 || inv.ReservedQty != 0 {
		t.Fatalf("inventory mutated: %+v", inv)
	}
}

func TestCheckoutRollsBackWhenIntentFails(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db, &stubIntents{
		err: pkgerrors.New(pkgerrors.CodePaymentGateway, "provider unavailable"),
	})
	productID := uuid.New()
	seedInventory(t, db, productID, 5)

	_, err := svc.Checkout(context.Background(), testRequest(productID), types.SystemActor())
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodePaymentGateway {
		t.Fatalf("expected gateway error, got %v", err)
	}

	var ordersCount int64
	if err := db.Model(&models.Order{}).Count(&ordersCount).Error; err != nil {
		t.Fatalf("count orders: %v", err)
	}
	if ordersCount != 0 {
		t.Fatalf("order row leaked: %d", ordersCount)
	}
	var inv models.InventoryItem
	if err := db.First(&inv, "product_id = ?", productID).Error; err != nil {
		t.Fatalf("load inventory: %v", err)
	}
	if inv.AvailableQty != 5 || inv.ReservedQty != 0 {
		t.Fatalf("reservation leaked: %+v", inv)
	}
}

func TestCheckoutValidatesRequest(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db, &stubIntents{})
	productID := uuid.New()

	cases := []struct {
		name   string
		mutate func(*Request)
	}{
		{"missing customer", func(r *Request) { r.CustomerID = uuid.Nil }},
		{"missing provider", func(r *Request) { r.Provider = "" }},
		{"missing address", func(r *Request) { r.ShippingAddress = nil }},
		{"no lines", func(r *Request) { r.Lines = nil }},
		{"zero quantity", func(r *Request) { r.Lines[0].Quantity = 0 }},
		{"negative price", func(r *Request) { r.Lines[0].UnitPriceCents = -1 }},
	}
	for _, tc := range cases {
		req := testRequest(productID)
		tc.mutate(&req)
		_, err := svc.Checkout(context.Background(), req, types.SystemActor())
		if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
	}
}

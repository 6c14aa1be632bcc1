package checkout

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/oakmart/oakmart-backend/internal/inventory"
	"github.com/oakmart/oakmart-backend/internal/orders"
	"github.com/oakmart/oakmart-backend/internal/payments"
	"github.com/oakmart/oakmart-backend/pkg/db/models"
	"github.com/oakmart/oakmart-backend/pkg/enums"
	pkgerrors "github.com/oakmart/oakmart-backend/pkg/errors"
	"github.com/oakmart/oakmart-backend/pkg/logger"
	"github.com/oakmart/oakmart-backend/pkg/types"
)

// Line is one product snapshot to purchase. Pricing and descriptive fields
// arrive from the catalog upstream and are frozen onto the order item.
type Line struct {
	ProductID         uuid.UUID
	Name              string
	SKU               string
	UnitPriceCents    int
	Quantity          int
	Options           types.JSONMap
	Fragile           bool
	WeightGrams       int
	WarehouseLocation string
}

// Request carries everything needed to place an order.
type Request struct {
	CustomerID       uuid.UUID
	Provider         enums.PaymentProvider
	ServiceLevel     enums.ServiceLevel
	Currency         string
	ShippingFeeCents int
	ShippingAddress  *types.Address
	BillingAddress   *types.Address
	Lines            []Line
}

// Result is the placed order plus the payment intent the client completes.
type Result struct {
	Order  *models.Order
	Intent *payments.IntentRef
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// StockReserver reserves every requested line or none.
type StockReserver interface {
	ReserveAll(ctx context.Context, tx *gorm.DB, lines []inventory.ReservationLine) error
}

// IntentCreator opens a payment intent with the order's provider.
type IntentCreator interface {
	CreateIntent(ctx context.Context, tx *gorm.DB, order *models.Order) (*payments.IntentRef, error)
}

// ServiceParams groups dependencies for the checkout service.
type ServiceParams struct {
	Orders  *orders.Service
	Stock   StockReserver
	Intents IntentCreator
	Tx      txRunner
	Logg    *logger.Logger
}

// Service orchestrates checkout: reserve stock, persist the order ledger entry
// and open the payment intent in a single transaction, so a shortage or a
// provider outage leaves nothing behind.
type Service struct {
	orders  *orders.Service
	stock   StockReserver
	intents IntentCreator
	tx      txRunner
	logg    *logger.Logger
}

// NewService builds the checkout service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Orders == nil {
		return nil, errors.New("orders service is required")
	}
	if params.Stock == nil {
		return nil, errors.New("stock reserver is required")
	}
	if params.Intents == nil {
		return nil, errors.New("intent creator is required")
	}
	if params.Tx == nil {
		return nil, errors.New("tx runner is required")
	}
	return &Service{
		orders:  params.Orders,
		stock:   params.Stock,
		intents: params.Intents,
		tx:      params.Tx,
		logg:    params.Logg,
	}, nil
}

// Checkout places the order. All-or-nothing: if any line cannot be reserved or
// the provider rejects the intent, the whole transaction rolls back.
func (s *Service) Checkout(ctx context.Context, req Request, actor types.Actor) (*Result, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	order := buildOrder(req)
	reservations := make([]inventory.ReservationLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		reservations = append(reservations, inventory.ReservationLine{
			ProductID: line.ProductID,
			SKU:       line.SKU,
			Qty:       line.Quantity,
		})
	}

	var intent *payments.IntentRef
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.stock.ReserveAll(ctx, tx, reservations); err != nil {
			return err
		}
		if err := s.orders.Place(ctx, tx, order, actor); err != nil {
			return err
		}
		ref, err := s.intents.CreateIntent(ctx, tx, order)
		if err != nil {
			return err
		}
		intent = ref
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		s.logg.Info(s.logg.WithOrderNumber(ctx, order.OrderNumber), "checkout.placed")
	}
	return &Result{Order: order, Intent: intent}, nil
}

func buildOrder(req Request) *models.Order {
	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}
	level := req.ServiceLevel
	if level == "" {
		level = enums.ServiceLevelStandard
	}

	items := make([]models.OrderItem, 0, len(req.Lines))
	for _, line := range req.Lines {
		var opts *types.JSONMap
		if len(line.Options) > 0 {
			o := line.Options
			opts = &o
		}
		items = append(items, models.OrderItem{
			ProductID:         line.ProductID,
			Name:              line.Name,
			SKU:               line.SKU,
			UnitPriceCents:    line.UnitPriceCents,
			Quantity:          line.Quantity,
			Options:           opts,
			Fragile:           line.Fragile,
			WeightGrams:       line.WeightGrams,
			WarehouseLocation: line.WarehouseLocation,
		})
	}

	return &models.Order{
		CustomerID:       req.CustomerID,
		PaymentProvider:  req.Provider,
		Currency:         currency,
		ServiceLevel:     level,
		ShippingFeeCents: req.ShippingFeeCents,
		ShippingAddress:  req.ShippingAddress,
		BillingAddress:   req.BillingAddress,
		Items:            items,
	}
}

func validateRequest(req Request) error {
	if req.CustomerID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	if req.Provider == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment provider is required")
	}
	if req.ShippingAddress == nil || req.ShippingAddress.IsZero() {
		return pkgerrors.New(pkgerrors.CodeValidation, "shipping address is required")
	}
	if req.ShippingFeeCents < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "shipping fee cannot be negative")
	}
	if len(req.Lines) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one line is required")
	}
	for _, line := range req.Lines {
		if line.ProductID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
		}
		if line.Name == "" || line.SKU == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "item name and sku are required")
		}
		if line.UnitPriceCents < 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "unit price cannot be negative")
		}
		if line.Quantity <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
		}
	}
	return nil
}

package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/oakmart/oakmart-backend/internal/inventory"
	"github.com/oakmart/oakmart-backend/internal/orders"
	"github.com/oakmart/oakmart-backend/internal/shipping"
	"github.com/oakmart/oakmart-backend/pkg/db/models"
	"github.com/oakmart/oakmart-backend/pkg/enums"
	pkgerrors "github.com/oakmart/oakmart-backend/pkg/errors"
	"github.com/oakmart/oakmart-backend/pkg/logger"
	"github.com/oakmart/oakmart-backend/pkg/outbox"
	"github.com/oakmart/oakmart-backend/pkg/outbox/payloads"
	"github.com/oakmart/oakmart-backend/pkg/types"
)

// PickingLine tells the warehouse what to pull and from where.
type PickingLine struct {
	SKU      string `json:"sku"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Location string `json:"location"`
}

// PackingSlip travels with the parcel.
type PackingSlip struct {
	OrderNumber string   `json:"order_number"`
	Destination string   `json:"destination"`
	Items       []string `json:"items"`
	Fragile     bool     `json:"fragile"`
}

// Plan is the fulfillment artifact stored on the order.
type Plan struct {
	PickingList []PickingLine    `json:"picking_list"`
	PackingSlip PackingSlip      `json:"packing_slip"`
	Quotes      []shipping.Quote `json:"quotes"`
	GeneratedAt time.Time        `json:"generated_at"`
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ShippingQuoter prices shipments and projects delivery dates.
// Implemented by the shipping service.
type ShippingQuoter interface {
	Quotes(ctx context.Context, order *models.Order) ([]shipping.Quote, error)
	EstimateDelivery(order *models.Order, shippedAt time.Time) time.Time
}

// StockCommitter consumes reservations when goods leave the warehouse.
// Implemented by the inventory service.
type StockCommitter interface {
	CommitAll(ctx context.Context, tx *gorm.DB, lines []inventory.ReservationLine) error
}

// ServiceParams groups dependencies for the fulfillment pipeline.
type ServiceParams struct {
	Orders   *orders.Service
	Repo     orders.Repository
	Shipping ShippingQuoter
	Stock    StockCommitter
	Tx       txRunner
	Outbox   *outbox.Service
	Logg     *logger.Logger
}

// Service drives an order from paid to delivered: warehouse artifacts, carrier
// selection, the shipped and delivered transitions.
type Service struct {
	orders   *orders.Service
	repo     orders.Repository
	shipping ShippingQuoter
	stock    StockCommitter
	tx       txRunner
	outbox   *outbox.Service
	logg     *logger.Logger
}

// NewService builds the fulfillment pipeline.
func NewService(params ServiceParams) (*Service, error) {
	if params.Orders == nil {
		return nil, errors.New("orders service is required")
	}
	if params.Repo == nil {
		return nil, errors.New("orders repo is required")
	}
	if params.Shipping == nil {
		return nil, errors.New("shipping quoter is required")
	}
	if params.Stock == nil {
		return nil, errors.New("stock committer is required")
	}
	if params.Tx == nil {
		return nil, errors.New("tx runner is required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox is required")
	}
	return &Service{
		orders:   params.Orders,
		repo:     params.Repo,
		shipping: params.Shipping,
		stock:    params.Stock,
		tx:       params.Tx,
		outbox:   params.Outbox,
		logg:     params.Logg,
	}, nil
}

// Process generates the warehouse artifacts for a paid order: picking list,
// packing slip and sorted carrier quotes. Runs once per order; a second call
// is a state conflict because the artifacts are already stored.
func (s *Service) Process(ctx context.Context, orderNumber string, actor types.Actor) (*Plan, error) {
	order, err := s.orders.Get(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	if order.PaymentStatus != enums.PaymentStatusPaid {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not paid")
	}
	if order.Status != enums.OrderStatusPending && order.Status != enums.OrderStatusProcessing {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("order in status %s cannot enter fulfillment", order.Status))
	}
	if order.FulfillmentData != nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is already in fulfillment")
	}
	if order.ShippingAddress == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order has no shipping address")
	}

	plan := buildPlan(order)
	quotes, err := s.shipping.Quotes(ctx, order)
	if err != nil {
		return nil, err
	}
	plan.Quotes = quotes

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if order.Status == enums.OrderStatusPending {
			if err := s.orders.Transition(ctx, tx, order, enums.OrderStatusProcessing, actor, "fulfillment started"); err != nil {
				return err
			}
		}
		return s.repo.WithTx(tx).SetFulfillmentData(ctx, order.ID, planToJSON(plan))
	})
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// MarkShipped records the handoff to the carrier: consumes the stock
// reservation, moves the order to shipped and stores tracking plus the
// projected delivery date.
func (s *Service) MarkShipped(ctx context.Context, orderNumber, carrier, trackingNumber string, details types.JSONMap, actor types.Actor) (*models.Order, error) {
	if strings.TrimSpace(carrier) == "" || strings.TrimSpace(trackingNumber) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "carrier and tracking number are required")
	}
	if len(details) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping details are required")
	}
	order, err := s.orders.Get(ctx, orderNumber)
	if err != nil {
		return nil, err
	}

	shippedAt := time.Now().UTC()
	estimated := s.shipping.EstimateDelivery(order, shippedAt)

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.orders.Transition(ctx, tx, order, enums.OrderStatusShipped, actor, "shipped via "+carrier); err != nil {
			return err
		}

		lines := make([]inventory.ReservationLine, 0, len(order.Items))
		for _, item := range order.Items {
			lines = append(lines, inventory.ReservationLine{
				ProductID: item.ProductID,
				SKU:       item.SKU,
				Qty:       item.Quantity,
			})
		}
		if err := s.stock.CommitAll(ctx, tx, lines); err != nil {
			return err
		}

		shippingDetails := types.JSONMap{
			"carrier":            carrier,
			"tracking_number":    trackingNumber,
			"shipped_at":         shippedAt.Format(time.RFC3339),
			"estimated_delivery": estimated.Format(time.RFC3339),
		}
		for key, value := range details {
			shippingDetails[key] = value
		}
		if err := s.repo.WithTx(tx).SetShippingDetails(ctx, order.ID, shippingDetails); err != nil {
			return err
		}
		order.ShippingDetails = &shippingDetails

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderShipped,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{ActorID: actor.ID, Role: actor.Role.String()},
			Data: payloads.OrderShippedEvent{
				OrderID:        order.ID,
				OrderNumber:    order.OrderNumber,
				Carrier:        carrier,
				TrackingNumber: trackingNumber,
				ServiceLevel:   order.ServiceLevel,
				ShippedAt:      shippedAt,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// MarkDelivered closes the transit leg and starts the return-window clock.
func (s *Service) MarkDelivered(ctx context.Context, orderNumber string, details types.JSONMap, actor types.Actor) (*models.Order, error) {
	order, err := s.orders.Get(ctx, orderNumber)
	if err != nil {
		return nil, err
	}

	deliveredAt := time.Now().UTC()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.orders.Transition(ctx, tx, order, enums.OrderStatusDelivered, actor, "delivered"); err != nil {
			return err
		}

		deliveryDetails := types.JSONMap{
			"delivered_at": deliveredAt.Format(time.RFC3339),
		}
		for key, value := range details {
			deliveryDetails[key] = value
		}
		if err := s.repo.WithTx(tx).SetDeliveryDetails(ctx, order.ID, deliveryDetails, deliveredAt); err != nil {
			return err
		}
		order.DeliveryDetails = &deliveryDetails
		order.DeliveredAt = &deliveredAt

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderDelivered,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{ActorID: actor.ID, Role: actor.Role.String()},
			Data: payloads.OrderDeliveredEvent{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				DeliveredAt: deliveredAt,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func buildPlan(order *models.Order) *Plan {
	picking := make([]PickingLine, 0, len(order.Items))
	items := make([]string, 0, len(order.Items))
	fragile := false
	for _, item := range order.Items {
		picking = append(picking, PickingLine{
			SKU:      item.SKU,
			Name:     item.Name,
			Quantity: item.Quantity,
			Location: item.WarehouseLocation,
		})
		items = append(items, fmt.Sprintf("%dx %s", item.Quantity, item.Name))
		if item.Fragile {
			fragile = true
		}
	}
	return &Plan{
		PickingList: picking,
		PackingSlip: PackingSlip{
			OrderNumber: order.OrderNumber,
			Destination: order.ShippingAddress.OneLine(),
			Items:       items,
			Fragile:     fragile,
		},
		GeneratedAt: time.Now().UTC(),
	}
}

func planToJSON(plan *Plan) types.JSONMap {
	quotes := make([]any, 0, len(plan.Quotes))
	for _, quote := range plan.Quotes {
		quotes = append(quotes, map[string]any{
			"carrier":        quote.Carrier,
			"service_level":  quote.ServiceLevel.String(),
			"cost_cents":     quote.CostCents,
			"estimated_days": quote.EstimatedDays,
		})
	}
	lines := make([]any, 0, len(plan.PickingList))
	for _, line := range plan.PickingList {
		lines = append(lines, map[string]any{
			"sku":      line.SKU,
			"name":     line.Name,
			"quantity": line.Quantity,
			"location": line.Location,
		})
	}
	return types.JSONMap{
		"picking_list": lines,
		"packing_slip": map[string]any{
			"order_number": plan.PackingSlip.OrderNumber,
			"destination":  plan.PackingSlip.Destination,
			"items":        plan.PackingSlip.Items,
			"fragile":      plan.PackingSlip.Fragile,
		},
		"quotes":       quotes,
		"generated_at": plan.GeneratedAt.Format(time.RFC3339),
	}
}

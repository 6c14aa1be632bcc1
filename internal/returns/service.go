package returns

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
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

// RequestLine is one item the customer wants to send back.
type RequestLine struct {
	OrderItemID uuid.UUID `json:"order_item_id"`
	Quantity    int       `json:"quantity"`
}

// ReceiptLine is the warehouse count for one return line at receipt.
type ReceiptLine struct {
	ReturnItemID     uuid.UUID           `json:"return_item_id"`
	ReceivedQuantity int                 `json:"received_quantity"`
	Condition        enums.ItemCondition `json:"condition"`
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Restocker puts received units back on the shelf.
// Implemented by the inventory service.
type Restocker interface {
	RestockAll(ctx context.Context, tx *gorm.DB, lines []inventory.ReservationLine) error
}

// LabelIssuer purchases return labels. Implemented by the shipping service.
type LabelIssuer interface {
	Label(ctx context.Context, carrierName string, order *models.Order) (*shipping.Label, error)
}

// ServiceParams groups dependencies for the returns engine.
type ServiceParams struct {
	Repo         Repository
	Orders       *orders.Service
	OrdersRepo   orders.Repository
	Stock        Restocker
	Refunder     orders.Refunder
	Labels       LabelIssuer
	LabelCarrier string
	Tx           txRunner
	Outbox       *outbox.Service
	Logg         *logger.Logger
}

// Service owns the return lifecycle: eligibility, the refund quote at request
// time and the inspected settlement at receipt.
type Service struct {
	repo         Repository
	orders       *orders.Service
	ordersRepo   orders.Repository
	stock        Restocker
	refunder     orders.Refunder
	labels       LabelIssuer
	labelCarrier string
	tx           txRunner
	outbox       *outbox.Service
	logg         *logger.Logger
}

// NewService builds the returns engine.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	if params.Orders == nil {
		return nil, errors.New("orders service is required")
	}
	if params.OrdersRepo == nil {
		return nil, errors.New("orders repo is required")
	}
	if params.Stock == nil {
		return nil, errors.New("restocker is required")
	}
	if params.Refunder == nil {
		return nil, errors.New("refunder is required")
	}
	if params.Tx == nil {
		return nil, errors.New("tx runner is required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox is required")
	}
	labelCarrier := params.LabelCarrier
	if labelCarrier == "" {
		labelCarrier = shipping.CarrierFleetShip
	}
	return &Service{
		repo:         params.Repo,
		orders:       params.Orders,
		ordersRepo:   params.OrdersRepo,
		stock:        params.Stock,
		refunder:     params.Refunder,
		labels:       params.Labels,
		labelCarrier: labelCarrier,
		tx:           params.Tx,
		outbox:       params.Outbox,
		logg:         params.Logg,
	}, nil
}

// CheckEligibility reports whether the order can open a return: delivered,
// inside the return window and no prior non-rejected return.
func (s *Service) CheckEligibility(ctx context.Context, order *models.Order) error {
	if order.Status != enums.OrderStatusDelivered {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "only delivered orders can be returned")
	}
	if order.DeliveredAt == nil {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order has no delivery timestamp")
	}
	if time.Since(*order.DeliveredAt) > s.orders.ReturnWindow() {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "return window has closed")
	}
	active, err := s.repo.HasActiveReturn(ctx, order.ID)
	if err != nil {
		return err
	}
	if active {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order already has an open return")
	}
	return nil
}

// CreateRequest opens a return: validates the requested lines against the
// purchased quantities, quotes the refund (price plus proportional tax, plus
// the shipping fee only when everything comes back) and buys a return label.
func (s *Service) CreateRequest(ctx context.Context, orderNumber string, lines []RequestLine, reason string, actor types.Actor) (*models.Return, error) {
	order, err := s.orders.Get(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	if err := s.CheckEligibility(ctx, order); err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "return requires at least one item")
	}

	itemsByID := make(map[uuid.UUID]*models.OrderItem, len(order.Items))
	purchasedTotal := 0
	for i := range order.Items {
		itemsByID[order.Items[i].ID] = &order.Items[i]
		purchasedTotal += order.Items[i].Quantity
	}

	seen := make(map[uuid.UUID]struct{}, len(lines))
	returnItems := make([]models.ReturnItem, 0, len(lines))
	refundSubtotal := 0
	requestedTotal := 0
	for _, line := range lines {
		item, ok := itemsByID[line.OrderItemID]
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeValidation,
				fmt.Sprintf("item %s does not belong to order %s", line.OrderItemID, orderNumber))
		}
		if _, dup := seen[line.OrderItemID]; dup {
			return nil, pkgerrors.New(pkgerrors.CodeValidation,
				fmt.Sprintf("item %s listed twice", line.OrderItemID))
		}
		seen[line.OrderItemID] = struct{}{}
		if line.Quantity < 1 || line.Quantity > item.Quantity {
			return nil, pkgerrors.New(pkgerrors.CodeValidation,
				fmt.Sprintf("quantity %d for item %s outside purchased range", line.Quantity, item.SKU))
		}
		refundSubtotal += item.UnitPriceCents * line.Quantity
		requestedTotal += line.Quantity
		returnItems = append(returnItems, models.ReturnItem{
			OrderItemID: line.OrderItemID,
			Quantity:    line.Quantity,
		})
	}

	refundQuote := refundSubtotal + proportionalTax(order.TaxCents, refundSubtotal, order.SubtotalCents)
	if requestedTotal == purchasedTotal {
		refundQuote += order.ShippingFeeCents
	}

	ret := &models.Return{
		OrderID:           order.ID,
		Status:            enums.ReturnStatusPending,
		Reason:            reason,
		RefundAmountCents: refundQuote,
		Items:             returnItems,
	}

	// Label purchase is best effort: a carrier outage must not block the
	// return request.
	if s.labels != nil {
		if label, err := s.labels.Label(ctx, s.labelCarrier, order); err != nil {
			if s.logg != nil {
				s.logg.Warn(ctx, fmt.Sprintf("return label for order %s unavailable: %v", orderNumber, err))
			}
		} else {
			ret.TrackingNumber = &label.TrackingNumber
			ret.LabelURL = &label.LabelURL
		}
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, ret); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventReturnRequested,
			AggregateType: enums.AggregateReturn,
			AggregateID:   ret.ID,
			Actor:         &outbox.ActorRef{ActorID: actor.ID, Role: actor.Role.String()},
			Data: payloads.ReturnRequestedEvent{
				ReturnID:          ret.ID,
				OrderID:           order.ID,
				OrderNumber:       order.OrderNumber,
				RefundQuoteCents:  refundQuote,
				RequestedItems:    requestedTotal,
				Reason:            reason,
				RequestedAt:       time.Now().UTC(),
				ReturnWindowClose: order.DeliveredAt.Add(s.orders.ReturnWindow()),
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// ProcessReceipt settles a return from what physically arrived: records
// per-line counts and condition, refunds only refundable units, restocks them
// and completes the return. Everything applies in one transaction; a second
// receipt loses the status update and conflicts.
func (s *Service) ProcessReceipt(ctx context.Context, orderNumber string, returnID uuid.UUID, receipts []ReceiptLine, actor types.Actor) (*models.Return, error) {
	order, err := s.orders.Get(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	ret, err := s.repo.FindByID(ctx, returnID)
	if err != nil {
		return nil, err
	}
	if ret == nil || ret.OrderID != order.ID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "return not found for this order")
	}
	if ret.Status != enums.ReturnStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("return is %s and cannot be received", ret.Status))
	}

	itemsByID := make(map[uuid.UUID]*models.OrderItem, len(order.Items))
	for i := range order.Items {
		itemsByID[order.Items[i].ID] = &order.Items[i]
	}
	receiptsByItem := make(map[uuid.UUID]ReceiptLine, len(receipts))
	for _, receipt := range receipts {
		receiptsByItem[receipt.ReturnItemID] = receipt
	}

	type settledLine struct {
		item        *models.OrderItem
		returnItem  *models.ReturnItem
		receivedQty int
		condition   *enums.ItemCondition
		refundCents int
	}

	settled := make([]settledLine, 0, len(ret.Items))
	actualRefund := 0
	restocked := 0
	damaged := 0
	for i := range ret.Items {
		returnItem := &ret.Items[i]
		orderItem, ok := itemsByID[returnItem.OrderItemID]
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeInternal, "return line references missing order item")
		}
		receipt, ok := receiptsByItem[returnItem.ID]
		if !ok {
			// Line never arrived: zero received, no refund.
			settled = append(settled, settledLine{item: orderItem, returnItem: returnItem})
			continue
		}
		if receipt.ReceivedQuantity < 0 || receipt.ReceivedQuantity > returnItem.Quantity {
			return nil, pkgerrors.New(pkgerrors.CodeValidation,
				fmt.Sprintf("received quantity %d outside requested range for %s", receipt.ReceivedQuantity, orderItem.SKU))
		}
		condition := receipt.Condition
		if receipt.ReceivedQuantity > 0 && !condition.IsValid() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation,
				fmt.Sprintf("condition required for received item %s", orderItem.SKU))
		}

		refundCents := 0
		if receipt.ReceivedQuantity > 0 && condition.Refundable() {
			lineSubtotal := orderItem.UnitPriceCents * receipt.ReceivedQuantity
			refundCents = lineSubtotal + proportionalTax(order.TaxCents, lineSubtotal, order.SubtotalCents)
			restocked += receipt.ReceivedQuantity
		} else if receipt.ReceivedQuantity > 0 {
			damaged += receipt.ReceivedQuantity
		}
		actualRefund += refundCents
		line := settledLine{
			item:        orderItem,
			returnItem:  returnItem,
			receivedQty: receipt.ReceivedQuantity,
			refundCents: refundCents,
		}
		if receipt.ReceivedQuantity > 0 {
			line.condition = &condition
		}
		settled = append(settled, line)
	}

	purchasedTotal := 0
	for _, item := range order.Items {
		purchasedTotal += item.Quantity
	}
	if actualRefund > 0 && restocked == purchasedTotal {
		actualRefund += order.ShippingFeeCents
	}
	if actualRefund > order.TotalCents-order.RefundedCents {
		return nil, pkgerrors.New(pkgerrors.CodeRefundExceeded,
			fmt.Sprintf("refund of %d exceeds remaining refundable amount %d",
				actualRefund, order.TotalCents-order.RefundedCents))
	}

	completedAt := time.Now().UTC()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		moved, err := s.repo.WithTx(tx).UpdateStatusCAS(ctx, ret.ID,
			enums.ReturnStatusPending, enums.ReturnStatusCompleted)
		if err != nil {
			return err
		}
		if !moved {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "return was received concurrently")
		}

		repo := s.repo.WithTx(tx)
		restockLines := make([]inventory.ReservationLine, 0, len(settled))
		for _, line := range settled {
			if err := repo.UpdateItemReceipt(ctx, line.returnItem.ID,
				line.receivedQty, line.condition, line.refundCents); err != nil {
				return err
			}
			if line.receivedQty > 0 && line.condition != nil && line.condition.Refundable() {
				restockLines = append(restockLines, inventory.ReservationLine{
					ProductID: line.item.ProductID,
					SKU:       line.item.SKU,
					Qty:       line.receivedQty,
				})
			}
		}
		if len(restockLines) > 0 {
			if err := s.stock.RestockAll(ctx, tx, restockLines); err != nil {
				return err
			}
		}

		if actualRefund > 0 {
			if _, err := s.refunder.Refund(ctx, tx, order, actualRefund,
				"return "+ret.ID.String()); err != nil {
				return err
			}
			ordersRepo := s.ordersRepo.WithTx(tx)
			if err := ordersRepo.AddRefundedCents(ctx, order.ID, actualRefund); err != nil {
				return err
			}
			order.RefundedCents += actualRefund

			if order.RefundedCents >= order.TotalCents {
				exited, err := ordersRepo.UpdateStatusCAS(ctx, order.ID,
					[]enums.OrderStatus{enums.OrderStatusDelivered}, enums.OrderStatusRefunded)
				if err != nil {
					return err
				}
				if exited {
					if err := ordersRepo.AppendHistory(ctx, &models.OrderStatusHistory{
						OrderID:    order.ID,
						FromStatus: enums.OrderStatusDelivered,
						ToStatus:   enums.OrderStatusRefunded,
						Comment:    "fully refunded via return",
						ActorID:    actor.ID,
						ActorRole:  actor.Role,
					}); err != nil {
						return err
					}
					order.Status = enums.OrderStatusRefunded
				}
				if _, err := ordersRepo.UpdatePaymentStatusCAS(ctx, order.ID,
					[]enums.PaymentStatus{enums.PaymentStatusPaid}, enums.PaymentStatusRefunded); err != nil {
					return err
				}
			}
		}

		if err := repo.Complete(ctx, ret.ID, actualRefund, completedAt); err != nil {
			return err
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventReturnCompleted,
			AggregateType: enums.AggregateReturn,
			AggregateID:   ret.ID,
			Actor:         &outbox.ActorRef{ActorID: actor.ID, Role: actor.Role.String()},
			Data: payloads.ReturnCompletedEvent{
				ReturnID:          ret.ID,
				OrderID:           order.ID,
				OrderNumber:       order.OrderNumber,
				ActualRefundCents: actualRefund,
				RestockedUnits:    restocked,
				DamagedUnits:      damaged,
				CompletedAt:       completedAt,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	ret.Status = enums.ReturnStatusCompleted
	ret.ActualRefundAmountCents = &actualRefund
	ret.CompletedAt = &completedAt
	for i := range ret.Items {
		for _, line := range settled {
			if line.returnItem.ID == ret.Items[i].ID {
				ret.Items[i].ReceivedQuantity = line.receivedQty
				ret.Items[i].Condition = line.condition
				ret.Items[i].RefundCents = line.refundCents
			}
		}
	}
	return ret, nil
}

// ListByOrder returns the order's return requests, newest first.
func (s *Service) ListByOrder(ctx context.Context, orderNumber string) ([]models.Return, error) {
	order, err := s.orders.Get(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	return s.repo.ListByOrder(ctx, order.ID)
}

// proportionalTax splits the order's tax by the refunded share of the
// subtotal, rounded to the nearest cent.
func proportionalTax(taxCents, partCents, subtotalCents int) int {
	if taxCents <= 0 || partCents <= 0 || subtotalCents <= 0 {
		return 0
	}
	return int(decimal.NewFromInt(int64(taxCents)).
		Mul(decimal.NewFromInt(int64(partCents))).
		Div(decimal.NewFromInt(int64(subtotalCents))).
		Round(0).
		IntPart())
}

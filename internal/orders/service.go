package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/oakmart/oakmart-backend/internal/inventory"
	"github.com/oakmart/oakmart-backend/pkg/db/models"
	"github.com/oakmart/oakmart-backend/pkg/enums"
	pkgerrors "github.com/oakmart/oakmart-backend/pkg/errors"
	"github.com/oakmart/oakmart-backend/pkg/logger"
	"github.com/oakmart/oakmart-backend/pkg/ordernum"
	"github.com/oakmart/oakmart-backend/pkg/outbox"
	"github.com/oakmart/oakmart-backend/pkg/outbox/payloads"
	"github.com/oakmart/oakmart-backend/pkg/pagination"
	"github.com/oakmart/oakmart-backend/pkg/types"
)

// legalPredecessors maps each target status to the statuses allowed to move
// into it. Forward motion only; cancelled and refunded are the side exits.
var legalPredecessors = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusProcessing:     {enums.OrderStatusPending},
	enums.OrderStatusShipped:        {enums.OrderStatusProcessing},
	enums.OrderStatusOutForDelivery: {enums.OrderStatusShipped},
	enums.OrderStatusDelivered:      {enums.OrderStatusShipped, enums.OrderStatusOutForDelivery},
	enums.OrderStatusCancelled:      {enums.OrderStatusPending, enums.OrderStatusProcessing},
	enums.OrderStatusRefunded:       {enums.OrderStatusShipped, enums.OrderStatusDelivered},
}

// CanTransition reports whether from is a legal predecessor of to.
func CanTransition(from, to enums.OrderStatus) bool {
	for _, candidate := range legalPredecessors[to] {
		if candidate == from {
			return true
		}
	}
	return false
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Refunder settles money back to the customer when a paid order is cancelled.
// Implemented by the payments service.
type Refunder interface {
	Refund(ctx context.Context, tx *gorm.DB, order *models.Order, amountCents int, reason string) (string, error)
}

// StockReleaser returns reserved units to available stock.
// Implemented by the inventory service.
type StockReleaser interface {
	ReleaseAll(ctx context.Context, tx *gorm.DB, lines []inventory.ReservationLine) error
}

// ServiceParams groups dependencies for the order ledger service.
type ServiceParams struct {
	Repo             Repository
	Tx               txRunner
	Outbox           *outbox.Service
	Stock            StockReleaser
	Refunder         Refunder
	Logg             *logger.Logger
	TaxRatePercent   float64
	ReturnWindowDays int
}

// Service is the order ledger: every status change funnels through it so the
// transition rules, audit trail and derived totals stay consistent.
type Service struct {
	repo             Repository
	tx               txRunner
	outbox           *outbox.Service
	stock            StockReleaser
	refunder         Refunder
	logg             *logger.Logger
	taxRatePercent   float64
	returnWindowDays int
}

// NewService builds the order ledger service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	if params.Tx == nil {
		return nil, errors.New("tx runner is required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox is required")
	}
	if params.Stock == nil {
		return nil, errors.New("stock releaser is required")
	}
	if params.TaxRatePercent <= 0 {
		return nil, errors.New("tax rate is required")
	}
	if params.ReturnWindowDays <= 0 {
		return nil, errors.New("return window is required")
	}
	return &Service{
		repo:             params.Repo,
		tx:               params.Tx,
		outbox:           params.Outbox,
		stock:            params.Stock,
		refunder:         params.Refunder,
		logg:             params.Logg,
		taxRatePercent:   params.TaxRatePercent,
		returnWindowDays: params.ReturnWindowDays,
	}, nil
}

// TaxRatePercent exposes the configured rate for sibling services that split
// tax proportionally.
func (s *Service) TaxRatePercent() float64 {
	return s.taxRatePercent
}

// ReturnWindow is the post-delivery period during which returns are accepted.
func (s *Service) ReturnWindow() time.Duration {
	return time.Duration(s.returnWindowDays) * 24 * time.Hour
}

// Get loads an order with its items by order number.
func (s *Service) Get(ctx context.Context, orderNumber string) (*models.Order, error) {
	order, err := s.repo.FindByOrderNumber(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return order, nil
}

// History returns the append-only transition trail for an order.
func (s *Service) History(ctx context.Context, orderNumber string) ([]models.OrderStatusHistory, error) {
	order, err := s.Get(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	return s.repo.ListHistory(ctx, order.ID)
}

// List returns a customer's orders, newest first.
func (s *Service) List(ctx context.Context, params ListOrdersQuery) ([]models.Order, *pagination.Cursor, error) {
	return s.repo.ListByCustomer(ctx, params)
}

// Place persists a new order inside the caller's transaction: assigns the
// order number, derives totals from the item snapshots, writes the initial
// history row and queues the placed event.
func (s *Service) Place(ctx context.Context, tx *gorm.DB, order *models.Order, actor types.Actor) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if len(order.Items) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "order requires at least one item")
	}
	number, err := ordernum.New()
	if err != nil {
		return err
	}
	order.OrderNumber = number
	order.Status = enums.OrderStatusPending
	order.PaymentStatus = enums.PaymentStatusPending

	for i := range order.Items {
		order.Items[i].SubtotalCents = order.Items[i].UnitPriceCents * order.Items[i].Quantity
	}
	totals := ComputeTotals(order.Items, s.taxRatePercent, order.ShippingFeeCents)
	order.SubtotalCents = totals.SubtotalCents
	order.TaxCents = totals.TaxCents
	order.TotalCents = totals.TotalCents

	repo := s.repo.WithTx(tx)
	if err := repo.Create(ctx, order); err != nil {
		return err
	}
	if err := repo.AppendHistory(ctx, &models.OrderStatusHistory{
		OrderID:    order.ID,
		FromStatus: enums.OrderStatusPending,
		ToStatus:   enums.OrderStatusPending,
		Comment:    "order placed",
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
	}); err != nil {
		return err
	}
	itemCount := 0
	for _, item := range order.Items {
		itemCount += item.Quantity
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderPlaced,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actorRef(actor),
		Data: payloads.OrderPlacedEvent{
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			CustomerID:  order.CustomerID,
			TotalCents:  order.TotalCents,
			Currency:    order.Currency,
			ItemCount:   itemCount,
		},
	})
}

// Transition applies one ledger move inside the caller's transaction. Moving
// to the current status is a no-op; an illegal predecessor or a lost race on
// the guarded update is a state conflict. Totals are recomputed from the item
// snapshots on every transition.
func (s *Service) Transition(ctx context.Context, tx *gorm.DB, order *models.Order, to enums.OrderStatus, actor types.Actor, comment string) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if order.Status == to {
		return nil
	}
	if !CanTransition(order.Status, to) {
		return pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("cannot transition order from %s to %s", order.Status, to))
	}
	if to == enums.OrderStatusRefunded {
		if err := s.guardRefundExit(order); err != nil {
			return err
		}
	}

	repo := s.repo.WithTx(tx)

	totals := ComputeTotals(order.Items, s.taxRatePercent, order.ShippingFeeCents)
	if err := repo.UpdateTotals(ctx, order.ID, totals); err != nil {
		return err
	}
	order.SubtotalCents = totals.SubtotalCents
	order.TaxCents = totals.TaxCents
	order.TotalCents = totals.TotalCents

	moved, err := repo.UpdateStatusCAS(ctx, order.ID, []enums.OrderStatus{order.Status}, to)
	if err != nil {
		return err
	}
	if !moved {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order was modified concurrently")
	}

	from := order.Status
	if err := repo.AppendHistory(ctx, &models.OrderStatusHistory{
		OrderID:    order.ID,
		FromStatus: from,
		ToStatus:   to,
		Comment:    comment,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
	}); err != nil {
		return err
	}

	switch to {
	case enums.OrderStatusCancelled:
		now := time.Now().UTC()
		if err := repo.SetCancelledAt(ctx, order.ID, now); err != nil {
			return err
		}
		order.CancelledAt = &now
	}

	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actorRef(actor),
		Data: payloads.OrderStatusChangedEvent{
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			FromStatus:  from,
			ToStatus:    to,
			Comment:     comment,
		},
	}); err != nil {
		return err
	}

	order.Status = to
	return nil
}

func (s *Service) guardRefundExit(order *models.Order) error {
	if order.PaymentStatus != enums.PaymentStatusPaid {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "only paid orders can be refunded")
	}
	if order.DeliveredAt != nil && time.Since(*order.DeliveredAt) > s.ReturnWindow() {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "refund window has closed")
	}
	return nil
}

// Cancel aborts a pending or processing order: releases reserved stock,
// refunds the captured amount when the order was already paid, and records
// the exit. Everything applies in one transaction.
func (s *Service) Cancel(ctx context.Context, orderNumber string, actor types.Actor, reason string) (*models.Order, error) {
	order, err := s.Get(ctx, orderNumber)
	if err != nil {
		return nil, err
	}

	comment := reason
	if comment == "" {
		comment = "order cancelled"
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.Transition(ctx, tx, order, enums.OrderStatusCancelled, actor, comment); err != nil {
			return err
		}

		lines := make([]inventory.ReservationLine, 0, len(order.Items))
		restored := 0
		for _, item := range order.Items {
			lines = append(lines, inventory.ReservationLine{
				ProductID: item.ProductID,
				SKU:       item.SKU,
				Qty:       item.Quantity,
			})
			restored += item.Quantity
		}
		if err := s.stock.ReleaseAll(ctx, tx, lines); err != nil {
			return err
		}

		repo := s.repo.WithTx(tx)
		refunded := false
		refundCents := 0
		switch order.PaymentStatus {
		case enums.PaymentStatusPaid:
			if s.refunder == nil {
				return errors.New("refunder is required to cancel a paid order")
			}
			refundCents = order.TotalCents - order.RefundedCents
			if refundCents > 0 {
				if _, err := s.refunder.Refund(ctx, tx, order, refundCents, comment); err != nil {
					return err
				}
				if err := repo.AddRefundedCents(ctx, order.ID, refundCents); err != nil {
					return err
				}
				order.RefundedCents += refundCents
			}
			moved, err := repo.UpdatePaymentStatusCAS(ctx, order.ID,
				[]enums.PaymentStatus{enums.PaymentStatusPaid}, enums.PaymentStatusRefunded)
			if err != nil {
				return err
			}
			if !moved {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "payment state changed concurrently")
			}
			order.PaymentStatus = enums.PaymentStatusRefunded
			refunded = true
		default:
			moved, err := repo.UpdatePaymentStatusCAS(ctx, order.ID,
				[]enums.PaymentStatus{enums.PaymentStatusPending, enums.PaymentStatusFailed},
				enums.PaymentStatusCancelled)
			if err != nil {
				return err
			}
			if moved {
				order.PaymentStatus = enums.PaymentStatusCancelled
			}
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCancelled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         actorRef(actor),
			Data: payloads.OrderCancelledEvent{
				OrderID:      order.ID,
				OrderNumber:  order.OrderNumber,
				Reason:       reason,
				Refunded:     refunded,
				RefundCents:  refundCents,
				CancelledAt:  time.Now().UTC(),
				StockRestore: restored,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func actorRef(actor types.Actor) *outbox.ActorRef {
	return &outbox.ActorRef{ActorID: actor.ID, Role: actor.Role.String()}
}

package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/oakmart/oakmart-backend/internal/orders"
	"github.com/oakmart/oakmart-backend/pkg/db/models"
	"github.com/oakmart/oakmart-backend/pkg/enums"
	pkgerrors "github.com/oakmart/oakmart-backend/pkg/errors"
	"github.com/oakmart/oakmart-backend/pkg/logger"
	"github.com/oakmart/oakmart-backend/pkg/metrics"
	"github.com/oakmart/oakmart-backend/pkg/outbox"
	"github.com/oakmart/oakmart-backend/pkg/outbox/idempotency"
	"github.com/oakmart/oakmart-backend/pkg/outbox/payloads"
	"github.com/oakmart/oakmart-backend/pkg/types"
)

const (
	webhookConsumerPrefix = "webhook:"

	webhookResultProcessed = "processed"
	webhookResultDuplicate = "duplicate"
	webhookResultIgnored   = "ignored"
	webhookResultFailed    = "failed"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams groups dependencies for the payment reconciliation service.
type ServiceParams struct {
	Repo     Repository
	Orders   orders.Repository
	Gateways *Registry
	Tx       txRunner
	Outbox   *outbox.Service
	Idem     *idempotency.Manager
	Metrics  *metrics.PaymentMetrics
	Logg     *logger.Logger
}

// Service reconciles gateway outcomes with the order ledger. Both client-side
// confirmation and webhook delivery funnel into the same guarded updates, so
// whichever arrives first wins and the other becomes a no-op.
type Service struct {
	repo     Repository
	orders   orders.Repository
	gateways *Registry
	tx       txRunner
	outbox   *outbox.Service
	idem     *idempotency.Manager
	metrics  *metrics.PaymentMetrics
	logg     *logger.Logger
}

// NewService builds the payment reconciliation service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	if params.Orders == nil {
		return nil, errors.New("orders repo is required")
	}
	if params.Gateways == nil {
		return nil, errors.New("gateway registry is required")
	}
	if params.Tx == nil {
		return nil, errors.New("tx runner is required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox is required")
	}
	if params.Idem == nil {
		return nil, errors.New("idempotency manager is required")
	}
	return &Service{
		repo:     params.Repo,
		orders:   params.Orders,
		gateways: params.Gateways,
		tx:       params.Tx,
		outbox:   params.Outbox,
		idem:     params.Idem,
		metrics:  params.Metrics,
		logg:     params.Logg,
	}, nil
}

// CreateIntent opens a payment intent with the order's provider and stores the
// intent reference on the order, inside the caller's transaction.
func (s *Service) CreateIntent(ctx context.Context, tx *gorm.DB, order *models.Order) (*IntentRef, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	gw, err := s.gateways.Get(order.PaymentProvider)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	ref, err := gw.CreateIntent(ctx, order)
	s.metrics.ObserveGatewayCall(order.PaymentProvider.String(), "create_intent", time.Since(started))
	if err != nil {
		return nil, err
	}

	if err := s.orders.WithTx(tx).SetPaymentIntentRef(ctx, order.ID, ref.IntentID); err != nil {
		return nil, err
	}
	order.PaymentIntentRef = &ref.IntentID
	return ref, nil
}

// ConfirmPayment captures the order's intent on behalf of the client. If a
// webhook already settled the payment this is a no-op returning the current
// order. A decline marks the payment failed and surfaces as a declined error.
func (s *Service) ConfirmPayment(ctx context.Context, orderNumber string, actor types.Actor) (*models.Order, error) {
	order, err := s.orders.FindByOrderNumber(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if order.PaymentStatus == enums.PaymentStatusPaid {
		return order, nil
	}
	if order.PaymentStatus != enums.PaymentStatusPending && order.PaymentStatus != enums.PaymentStatusFailed {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("payment is %s and cannot be confirmed", order.PaymentStatus))
	}
	if order.PaymentIntentRef == nil || *order.PaymentIntentRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order has no payment intent")
	}

	gw, err := s.gateways.Get(order.PaymentProvider)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	result, err := gw.Capture(ctx, *order.PaymentIntentRef, order, "capture-"+order.OrderNumber)
	s.metrics.ObserveGatewayCall(order.PaymentProvider.String(), "capture", time.Since(started))
	if err != nil {
		return nil, err
	}

	if !result.Succeeded {
		if markErr := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			return s.applyFailure(ctx, tx, order, result.FailureReason, actor)
		}); markErr != nil {
			return nil, markErr
		}
		return nil, pkgerrors.New(pkgerrors.CodePaymentDeclined, result.FailureReason).
			WithDetails(map[string]any{"order_number": order.OrderNumber})
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.applyCapture(ctx, tx, order, result.TransactionID, order.TotalCents, actor)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// HandleWebhook verifies, deduplicates and applies one provider delivery. A
// duplicate or unknown event acknowledges without side effects so providers
// stop retrying; only genuine processing failures return an error.
func (s *Service) HandleWebhook(ctx context.Context, provider enums.PaymentProvider, rawBody []byte, sigHeader string) error {
	gw, err := s.gateways.Get(provider)
	if err != nil {
		return err
	}

	event, err := gw.VerifyWebhook(rawBody, sigHeader)
	if err != nil {
		s.metrics.IncWebhookEvent(provider.String(), webhookResultFailed)
		return err
	}
	if event.Kind == EventKindIgnored {
		s.metrics.IncWebhookEvent(provider.String(), webhookResultIgnored)
		return nil
	}

	consumer := webhookConsumerPrefix + provider.String()
	seen, err := s.idem.CheckAndMarkProcessed(ctx, consumer, event.ID)
	if err != nil {
		// Redis is a fast path only; the webhook_events unique index below is
		// the durable tie breaker.
		if s.logg != nil {
			s.logg.Warn(ctx, fmt.Sprintf("idempotency check unavailable for event %s: %v", event.ID, err))
		}
	} else if seen {
		s.metrics.IncWebhookEvent(provider.String(), webhookResultDuplicate)
		return nil
	}

	var duplicate bool
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		inserted, err := s.repo.WithTx(tx).RecordWebhookEvent(ctx, &models.WebhookEvent{
			Provider:        provider,
			ProviderEventID: event.ID,
			OrderNumber:     event.OrderNumber,
			Payload:         event.Raw,
		})
		if err != nil {
			return err
		}
		if !inserted {
			duplicate = true
			return nil
		}
		return s.applyEvent(ctx, tx, event)
	})
	if err != nil {
		if delErr := s.idem.Delete(ctx, consumer, event.ID); delErr != nil && s.logg != nil {
			s.logg.Warn(ctx, fmt.Sprintf("failed to roll back idempotency marker for event %s: %v", event.ID, delErr))
		}
		s.metrics.IncWebhookEvent(provider.String(), webhookResultFailed)
		return err
	}
	if duplicate {
		s.metrics.IncWebhookEvent(provider.String(), webhookResultDuplicate)
		return nil
	}
	s.metrics.IncWebhookEvent(provider.String(), webhookResultProcessed)
	return nil
}

func (s *Service) applyEvent(ctx context.Context, tx *gorm.DB, event *Event) error {
	order, err := s.orders.WithTx(tx).FindByOrderNumber(ctx, event.OrderNumber)
	if err != nil {
		return err
	}
	if order == nil {
		// The provider knows about a payment we have no order for. Ack and
		// keep the raw event for manual reconciliation.
		if s.logg != nil {
			s.logg.Warn(ctx, fmt.Sprintf("webhook event %s references unknown order %q", event.ID, event.OrderNumber))
		}
		return nil
	}

	actor := types.WebhookActor()
	switch event.Kind {
	case EventKindPaymentSucceeded:
		amount := event.AmountCents
		if amount <= 0 {
			amount = order.TotalCents
		}
		return s.applyCapture(ctx, tx, order, event.TransactionID, amount, actor)
	case EventKindPaymentFailed:
		return s.applyFailure(ctx, tx, order, event.FailureReason, actor)
	case EventKindRefundSettled:
		return s.applyRefundSettled(ctx, tx, order, event)
	default:
		return nil
	}
}

// applyCapture flips the payment to paid exactly once. Losing the guarded
// update means another delivery already settled it, which is a clean no-op.
func (s *Service) applyCapture(ctx context.Context, tx *gorm.DB, order *models.Order, providerTxnID string, amountCents int, actor types.Actor) error {
	ordersRepo := s.orders.WithTx(tx)

	moved, err := ordersRepo.UpdatePaymentStatusCAS(ctx, order.ID,
		[]enums.PaymentStatus{enums.PaymentStatusPending, enums.PaymentStatusFailed},
		enums.PaymentStatusPaid)
	if err != nil {
		return err
	}
	if !moved {
		if s.logg != nil {
			s.logg.Info(ctx, fmt.Sprintf("capture for order %s already settled, skipping", order.OrderNumber))
		}
		return nil
	}
	order.PaymentStatus = enums.PaymentStatusPaid

	advanced, err := ordersRepo.UpdateStatusCAS(ctx, order.ID,
		[]enums.OrderStatus{enums.OrderStatusPending}, enums.OrderStatusProcessing)
	if err != nil {
		return err
	}
	if advanced {
		if err := ordersRepo.AppendHistory(ctx, &models.OrderStatusHistory{
			OrderID:    order.ID,
			FromStatus: enums.OrderStatusPending,
			ToStatus:   enums.OrderStatusProcessing,
			Comment:    "payment captured",
			ActorID:    actor.ID,
			ActorRole:  actor.Role,
		}); err != nil {
			return err
		}
		order.Status = enums.OrderStatusProcessing
	}

	if err := s.repo.WithTx(tx).CreateTransaction(ctx, &models.PaymentTransaction{
		OrderID:        order.ID,
		Provider:       order.PaymentProvider,
		Kind:           enums.TransactionKindCapture,
		ProviderTxnID:  providerTxnID,
		AmountCents:    amountCents,
		IdempotencyKey: "capture-" + order.OrderNumber,
		Succeeded:      true,
	}); err != nil {
		return err
	}
	s.metrics.IncTransaction(order.PaymentProvider.String(), enums.TransactionKindCapture.String(), "succeeded")

	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentCaptured,
		AggregateType: enums.AggregatePayment,
		AggregateID:   order.ID,
		Actor:         &outbox.ActorRef{ActorID: actor.ID, Role: actor.Role.String()},
		Data: payloads.PaymentCapturedEvent{
			OrderID:       order.ID,
			OrderNumber:   order.OrderNumber,
			Provider:      order.PaymentProvider,
			ProviderTxnID: providerTxnID,
			AmountCents:   amountCents,
		},
	})
}

// applyFailure marks a pending payment failed. A failure reported after the
// payment settled never downgrades it; that anomaly is logged and acked.
func (s *Service) applyFailure(ctx context.Context, tx *gorm.DB, order *models.Order, reason string, actor types.Actor) error {
	if order.PaymentStatus == enums.PaymentStatusPaid {
		if s.logg != nil {
			s.logg.Warn(ctx, fmt.Sprintf("failure reported for already paid order %s, not downgrading", order.OrderNumber))
		}
		return nil
	}

	moved, err := s.orders.WithTx(tx).UpdatePaymentStatusCAS(ctx, order.ID,
		[]enums.PaymentStatus{enums.PaymentStatusPending}, enums.PaymentStatusFailed)
	if err != nil {
		return err
	}
	if !moved {
		return nil
	}
	order.PaymentStatus = enums.PaymentStatusFailed

	if err := s.repo.WithTx(tx).CreateTransaction(ctx, &models.PaymentTransaction{
		OrderID:        order.ID,
		Provider:       order.PaymentProvider,
		Kind:           enums.TransactionKindCapture,
		ProviderTxnID:  "",
		AmountCents:    order.TotalCents,
		IdempotencyKey: "capture-fail-" + order.OrderNumber,
		Succeeded:      false,
		FailureReason:  failureReasonPtr(reason),
	}); err != nil {
		return err
	}
	s.metrics.IncTransaction(order.PaymentProvider.String(), enums.TransactionKindCapture.String(), "failed")

	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentFailed,
		AggregateType: enums.AggregatePayment,
		AggregateID:   order.ID,
		Actor:         &outbox.ActorRef{ActorID: actor.ID, Role: actor.Role.String()},
		Data: payloads.PaymentFailedEvent{
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			Provider:    order.PaymentProvider,
			Reason:      reason,
		},
	})
}

// applyRefundSettled acknowledges the provider's confirmation of a refund we
// issued. The money movement was already recorded when the refund was created,
// so this only emits the settlement event.
func (s *Service) applyRefundSettled(ctx context.Context, tx *gorm.DB, order *models.Order, event *Event) error {
	actor := types.WebhookActor()
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventRefundSettled,
		AggregateType: enums.AggregatePayment,
		AggregateID:   order.ID,
		Actor:         &outbox.ActorRef{ActorID: actor.ID, Role: actor.Role.String()},
		Data: payloads.RefundSettledEvent{
			OrderID:       order.ID,
			OrderNumber:   order.OrderNumber,
			Provider:      order.PaymentProvider,
			ProviderTxnID: event.TransactionID,
			AmountCents:   event.AmountCents,
		},
	})
}

// Refund pushes money back through the order's gateway inside the caller's
// transaction and records the movement. The idempotency key is derived from
// the cumulative refunded amount so a retried call replays instead of
// double-refunding.
func (s *Service) Refund(ctx context.Context, tx *gorm.DB, order *models.Order, amountCents int, reason string) (string, error) {
	if tx == nil {
		return "", errors.New("transaction required")
	}
	if amountCents <= 0 {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}
	if amountCents > order.TotalCents-order.RefundedCents {
		return "", pkgerrors.New(pkgerrors.CodeRefundExceeded,
			fmt.Sprintf("refund of %d exceeds remaining refundable amount %d",
				amountCents, order.TotalCents-order.RefundedCents))
	}

	repo := s.repo.WithTx(tx)
	idempotencyKey := fmt.Sprintf("refund-%s-%d", order.OrderNumber, order.RefundedCents+amountCents)
	if prior, err := repo.FindTransactionByIdempotencyKey(ctx, idempotencyKey); err != nil {
		return "", err
	} else if prior != nil && prior.Succeeded {
		return prior.ProviderTxnID, nil
	}

	gw, err := s.gateways.Get(order.PaymentProvider)
	if err != nil {
		return "", err
	}

	started := time.Now()
	result, err := gw.Refund(ctx, order, amountCents, idempotencyKey)
	s.metrics.ObserveGatewayCall(order.PaymentProvider.String(), "refund", time.Since(started))
	if err != nil {
		return "", err
	}
	if !result.Succeeded {
		s.metrics.IncTransaction(order.PaymentProvider.String(), enums.TransactionKindRefund.String(), "failed")
		return "", pkgerrors.New(pkgerrors.CodePaymentGateway,
			fmt.Sprintf("refund rejected: %s", result.FailureReason))
	}

	if err := repo.CreateTransaction(ctx, &models.PaymentTransaction{
		OrderID:        order.ID,
		Provider:       order.PaymentProvider,
		Kind:           enums.TransactionKindRefund,
		ProviderTxnID:  result.TransactionID,
		AmountCents:    amountCents,
		IdempotencyKey: idempotencyKey,
		Succeeded:      true,
		FailureReason:  failureReasonPtr(reason),
	}); err != nil {
		return "", err
	}
	s.metrics.IncTransaction(order.PaymentProvider.String(), enums.TransactionKindRefund.String(), "succeeded")
	return result.TransactionID, nil
}

// Transactions lists the money movements recorded for an order.
func (s *Service) Transactions(ctx context.Context, orderNumber string) ([]models.PaymentTransaction, error) {
	order, err := s.orders.FindByOrderNumber(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return s.repo.ListTransactionsByOrder(ctx, order.ID)
}

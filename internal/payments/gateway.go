package payments

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/oakmart/oakmart-backend/pkg/db/models"
	"github.com/oakmart/oakmart-backend/pkg/enums"
	pkgerrors "github.com/oakmart/oakmart-backend/pkg/errors"
)

// IntentRef is what a client needs to complete payment for an order. Exactly
// one of ClientToken or RedirectURL is set depending on the provider flow.
type IntentRef struct {
	Provider    enums.PaymentProvider `json:"provider"`
	IntentID    string                `json:"intent_id"`
	ClientToken string                `json:"client_token,omitempty"`
	RedirectURL string                `json:"redirect_url,omitempty"`
}

// CaptureResult reports the outcome of a capture attempt. A decline is a
// result, not an error; errors are reserved for transport failures.
type CaptureResult struct {
	Succeeded     bool
	TransactionID string
	FailureReason string
}

// RefundResult reports the outcome of a refund attempt.
type RefundResult struct {
	Succeeded     bool
	TransactionID string
	FailureReason string
}

// EventKind is the normalized meaning of a provider webhook event.
type EventKind string

const (
	EventKindPaymentSucceeded EventKind = "payment_succeeded"
	EventKindPaymentFailed    EventKind = "payment_failed"
	EventKindRefundSettled    EventKind = "refund_settled"
	EventKindIgnored          EventKind = "ignored"
)

// Event is a verified, normalized provider webhook event.
type Event struct {
	ID            string
	Provider      enums.PaymentProvider
	Kind          EventKind
	OrderNumber   string
	IntentID      string
	TransactionID string
	AmountCents   int
	FailureReason string
	Raw           json.RawMessage
}

// Gateway is the uniform provider contract. Adding a provider means
// implementing this interface, never branching on a provider name.
type Gateway interface {
	Provider() enums.PaymentProvider
	CreateIntent(ctx context.Context, order *models.Order) (*IntentRef, error)
	Capture(ctx context.Context, intentID string, order *models.Order, idempotencyKey string) (*CaptureResult, error)
	Refund(ctx context.Context, order *models.Order, amountCents int, idempotencyKey string) (*RefundResult, error)
	VerifyWebhook(rawBody []byte, sigHeader string) (*Event, error)
}

// Registry resolves gateways by provider.
type Registry struct {
	gateways map[enums.PaymentProvider]Gateway
}

// NewRegistry indexes the provided gateways by their provider name.
func NewRegistry(gateways ...Gateway) *Registry {
	indexed := make(map[enums.PaymentProvider]Gateway, len(gateways))
	for _, gw := range gateways {
		if gw == nil {
			continue
		}
		indexed[gw.Provider()] = gw
	}
	return &Registry{gateways: indexed}
}

// Get returns the gateway for the provider or a validation error.
func (r *Registry) Get(provider enums.PaymentProvider) (Gateway, error) {
	gw, ok := r.gateways[provider]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("unsupported payment provider %q", provider))
	}
	return gw, nil
}

package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"github.com/stripe/stripe-go/v84/refund"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/oakmart/oakmart-backend/pkg/config"
	"github.com/oakmart/oakmart-backend/pkg/db/models"
	"github.com/oakmart/oakmart-backend/pkg/enums"
	pkgerrors "github.com/oakmart/oakmart-backend/pkg/errors"
	"github.com/oakmart/oakmart-backend/pkg/logger"
)

const (
	stripeTestEnv = "test"
	stripeLiveEnv = "live"

	orderNumberMetadataKey = "order_number"
)

var (
	errStripeKeyRequired    = errors.New("stripe api key is required")
	errStripeSecretRequired = errors.New("stripe webhook secret is required")
	errInvalidStripeEnv     = fmt.Errorf("stripe environment must be %q or %q", stripeTestEnv, stripeLiveEnv)
)

// StripeGateway implements the Gateway contract on Stripe PaymentIntents.
type StripeGateway struct {
	signingSecret  string
	captureTimeout time.Duration
	refundTimeout  time.Duration
	logg           *logger.Logger
}

// NewStripeGateway initializes Stripe once with the configured secrets and env.
func NewStripeGateway(ctx context.Context, cfg config.StripeConfig, payments config.PaymentsConfig, logg *logger.Logger) (*StripeGateway, error) {
	env := cfg.Environment()
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errStripeKeyRequired
	}
	signingSecret := strings.TrimSpace(cfg.WebhookSecret)
	if signingSecret == "" {
		return nil, errStripeSecretRequired
	}
	if err := validateStripeKey(env, apiKey); err != nil {
		return nil, err
	}

	stripe.Key = apiKey

	if logg != nil {
		logg.Info(ctx, fmt.Sprintf("stripe gateway initialized (%s)", env))
	}
	return &StripeGateway{
		signingSecret:  signingSecret,
		captureTimeout: payments.CaptureTimeout,
		refundTimeout:  payments.RefundTimeout,
		logg:           logg,
	}, nil
}

func (g *StripeGateway) Provider() enums.PaymentProvider {
	return enums.PaymentProviderStripe
}

// CreateIntent opens a PaymentIntent for the order total and hands back the
// client secret the frontend needs to collect payment.
func (g *StripeGateway) CreateIntent(ctx context.Context, order *models.Order) (*IntentRef, error) {
	ctx, cancel := context.WithTimeout(ctx, g.captureTimeout)
	defer cancel()

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(int64(order.TotalCents)),
		Currency: stripe.String(strings.ToLower(order.Currency)),
		Metadata: map[string]string{orderNumberMetadataKey: order.OrderNumber},
	}
	params.Context = ctx
	params.SetIdempotencyKey("intent-" + order.OrderNumber)

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, wrapStripeError(err, "create payment intent")
	}
	return &IntentRef{
		Provider:    enums.PaymentProviderStripe,
		IntentID:    pi.ID,
		ClientToken: pi.ClientSecret,
	}, nil
}

// Capture settles the intent. Declines come back as a failed result; only
// transport problems surface as errors.
func (g *StripeGateway) Capture(ctx context.Context, intentID string, order *models.Order, idempotencyKey string) (*CaptureResult, error) {
	ctx, cancel := context.WithTimeout(ctx, g.captureTimeout)
	defer cancel()

	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)

	pi, err := paymentintent.Capture(intentID, params)
	if err != nil {
		if declined, reason := stripeDecline(err); declined {
			return &CaptureResult{Succeeded: false, FailureReason: reason}, nil
		}
		return nil, wrapStripeError(err, "capture payment intent")
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return &CaptureResult{Succeeded: false, FailureReason: string(pi.Status)}, nil
	}
	txnID := pi.ID
	if pi.LatestCharge != nil && pi.LatestCharge.ID != "" {
		txnID = pi.LatestCharge.ID
	}
	return &CaptureResult{Succeeded: true, TransactionID: txnID}, nil
}

// Refund returns funds against the order's intent.
func (g *StripeGateway) Refund(ctx context.Context, order *models.Order, amountCents int, idempotencyKey string) (*RefundResult, error) {
	if order.PaymentIntentRef == nil || *order.PaymentIntentRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order has no payment intent to refund against")
	}
	ctx, cancel := context.WithTimeout(ctx, g.refundTimeout)
	defer cancel()

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(*order.PaymentIntentRef),
		Amount:        stripe.Int64(int64(amountCents)),
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)

	re, err := refund.New(params)
	if err != nil {
		if declined, reason := stripeDecline(err); declined {
			return &RefundResult{Succeeded: false, FailureReason: reason}, nil
		}
		return nil, wrapStripeError(err, "create refund")
	}
	return &RefundResult{Succeeded: true, TransactionID: re.ID}, nil
}

// VerifyWebhook checks the Stripe-Signature header and normalizes the event.
func (g *StripeGateway) VerifyWebhook(rawBody []byte, sigHeader string) (*Event, error) {
	event, err := webhook.ConstructEvent(rawBody, sigHeader, g.signingSecret)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeSignature, err, "verify stripe signature")
	}

	normalized := &Event{
		ID:       event.ID,
		Provider: enums.PaymentProviderStripe,
		Kind:     EventKindIgnored,
		Raw:      event.Data.Raw,
	}

	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded, stripe.EventTypePaymentIntentPaymentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent event")
		}
		normalized.IntentID = pi.ID
		normalized.OrderNumber = pi.Metadata[orderNumberMetadataKey]
		if event.Type == stripe.EventTypePaymentIntentSucceeded {
			normalized.Kind = EventKindPaymentSucceeded
			normalized.AmountCents = int(pi.AmountReceived)
			normalized.TransactionID = pi.ID
			if pi.LatestCharge != nil && pi.LatestCharge.ID != "" {
				normalized.TransactionID = pi.LatestCharge.ID
			}
		} else {
			normalized.Kind = EventKindPaymentFailed
			if pi.LastPaymentError != nil {
				normalized.FailureReason = pi.LastPaymentError.Msg
			}
		}
	case stripe.EventTypeChargeRefunded:
		var ch stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode charge event")
		}
		normalized.Kind = EventKindRefundSettled
		normalized.OrderNumber = ch.Metadata[orderNumberMetadataKey]
		normalized.TransactionID = ch.ID
		normalized.AmountCents = int(ch.AmountRefunded)
	}

	return normalized, nil
}

func stripeDecline(err error) (bool, string) {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
		return true, stripeErr.Msg
	}
	return false, ""
}

func wrapStripeError(err error, action string) error {
	return pkgerrors.Wrap(pkgerrors.CodePaymentGateway, err, action)
}

func validateStripeKey(env, key string) error {
	switch env {
	case stripeTestEnv:
		if strings.HasPrefix(key, "sk_test") || strings.HasPrefix(key, "rk_test") {
			return nil
		}
		return fmt.Errorf("stripe environment %q requires a test secret key (sk_test/rk_test)", stripeTestEnv)
	case stripeLiveEnv:
		if strings.HasPrefix(key, "sk_live") || strings.HasPrefix(key, "rk_live") {
			return nil
		}
		return fmt.Errorf("stripe environment %q requires a live secret key (sk_live/rk_live)", stripeLiveEnv)
	default:
		return errInvalidStripeEnv
	}
}

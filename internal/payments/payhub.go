package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/oakmart/oakmart-backend/pkg/config"
	"github.com/oakmart/oakmart-backend/pkg/db/models"
	"github.com/oakmart/oakmart-backend/pkg/enums"
	pkgerrors "github.com/oakmart/oakmart-backend/pkg/errors"
)

const payhubBodyReadLimit int64 = 4096

var (
	errPayhubBaseURLRequired = errors.New("payhub base url is required")
	errPayhubKeyRequired     = errors.New("payhub api key is required")
	errPayhubSecretRequired  = errors.New("payhub webhook secret is required")
)

// PayhubGateway implements the Gateway contract against PayHub's REST API.
// PayHub uses a redirect flow: the customer approves the payment on PayHub's
// hosted page and PayHub reports the outcome by webhook.
type PayhubGateway struct {
	httpClient    *http.Client
	baseURL       string
	apiKey        string
	webhookSecret string
}

// PayhubOption configures optional gateway behavior.
type PayhubOption func(*PayhubGateway)

// WithPayhubHTTPClient overrides the default HTTP client.
func WithPayhubHTTPClient(client *http.Client) PayhubOption {
	return func(g *PayhubGateway) {
		if client != nil {
			g.httpClient = client
		}
	}
}

// NewPayhubGateway builds the PayHub gateway from configuration.
func NewPayhubGateway(cfg config.PayhubConfig, opts ...PayhubOption) (*PayhubGateway, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errPayhubBaseURLRequired
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errPayhubKeyRequired
	}
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, errPayhubSecretRequired
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	gateway := &PayhubGateway{
		httpClient:    &http.Client{Timeout: timeout},
		baseURL:       baseURL,
		apiKey:        apiKey,
		webhookSecret: secret,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(gateway)
		}
	}
	return gateway, nil
}

func (g *PayhubGateway) Provider() enums.PaymentProvider {
	return enums.PaymentProviderPayhub
}

type payhubIntentRequest struct {
	OrderNumber string `json:"order_number"`
	AmountCents int    `json:"amount_cents"`
	Currency    string `json:"currency"`
}

type payhubIntentResponse struct {
	IntentID    string `json:"intent_id"`
	RedirectURL string `json:"redirect_url"`
}

// CreateIntent registers the payment with PayHub and returns the hosted-page
// redirect target.
func (g *PayhubGateway) CreateIntent(ctx context.Context, order *models.Order) (*IntentRef, error) {
	body := payhubIntentRequest{
		OrderNumber: order.OrderNumber,
		AmountCents: order.TotalCents,
		Currency:    order.Currency,
	}
	var resp payhubIntentResponse
	if err := g.post(ctx, "/v1/intents", "intent-"+order.OrderNumber, body, &resp); err != nil {
		return nil, err
	}
	if resp.IntentID == "" || resp.RedirectURL == "" {
		return nil, pkgerrors.New(pkgerrors.CodePaymentGateway, "payhub returned an incomplete intent")
	}
	return &IntentRef{
		Provider:    enums.PaymentProviderPayhub,
		IntentID:    resp.IntentID,
		RedirectURL: resp.RedirectURL,
	}, nil
}

type payhubOutcomeResponse struct {
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
	Reason        string `json:"reason"`
}

// Capture settles an approved intent. A declined status is a result; only
// transport problems surface as errors.
func (g *PayhubGateway) Capture(ctx context.Context, intentID string, order *models.Order, idempotencyKey string) (*CaptureResult, error) {
	var resp payhubOutcomeResponse
	path := fmt.Sprintf("/v1/intents/%s/capture", intentID)
	if err := g.post(ctx, path, idempotencyKey, struct{}{}, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "captured" {
		return &CaptureResult{Succeeded: false, FailureReason: failureReason(resp)}, nil
	}
	return &CaptureResult{Succeeded: true, TransactionID: resp.TransactionID}, nil
}

type payhubRefundRequest struct {
	IntentID    string `json:"intent_id"`
	AmountCents int    `json:"amount_cents"`
}

// Refund returns funds against the order's intent.
func (g *PayhubGateway) Refund(ctx context.Context, order *models.Order, amountCents int, idempotencyKey string) (*RefundResult, error) {
	if order.PaymentIntentRef == nil || *order.PaymentIntentRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order has no payment intent to refund against")
	}
	body := payhubRefundRequest{IntentID: *order.PaymentIntentRef, AmountCents: amountCents}
	var resp payhubOutcomeResponse
	if err := g.post(ctx, "/v1/refunds", idempotencyKey, body, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "refunded" {
		return &RefundResult{Succeeded: false, FailureReason: failureReason(resp)}, nil
	}
	return &RefundResult{Succeeded: true, TransactionID: resp.TransactionID}, nil
}

type payhubWebhookPayload struct {
	EventID       string `json:"event_id"`
	Type          string `json:"type"`
	OrderNumber   string `json:"order_number"`
	IntentID      string `json:"intent_id"`
	TransactionID string `json:"transaction_id"`
	AmountCents   int    `json:"amount_cents"`
	Reason        string `json:"reason"`
}

// VerifyWebhook checks the HMAC-SHA256 signature header and normalizes the
// event. An invalid signature rejects with no side effect.
func (g *PayhubGateway) VerifyWebhook(rawBody []byte, sigHeader string) (*Event, error) {
	if !validPayhubSignature(rawBody, g.webhookSecret, sigHeader) {
		return nil, pkgerrors.New(pkgerrors.CodeSignature, "invalid payhub signature")
	}

	var payload payhubWebhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payhub event")
	}
	if payload.EventID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payhub event id missing")
	}

	kind := EventKindIgnored
	switch payload.Type {
	case "payment.captured":
		kind = EventKindPaymentSucceeded
	case "payment.failed":
		kind = EventKindPaymentFailed
	case "refund.settled":
		kind = EventKindRefundSettled
	}

	return &Event{
		ID:            payload.EventID,
		Provider:      enums.PaymentProviderPayhub,
		Kind:          kind,
		OrderNumber:   payload.OrderNumber,
		IntentID:      payload.IntentID,
		TransactionID: payload.TransactionID,
		AmountCents:   payload.AmountCents,
		FailureReason: payload.Reason,
		Raw:           json.RawMessage(rawBody),
	}, nil
}

func (g *PayhubGateway) post(ctx context.Context, path, idempotencyKey string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal payhub request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build payhub request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodePaymentGateway, err, "execute payhub request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusInternalServerError {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, payhubBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodePaymentGateway,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "payhub request failed")
	}
	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, payhubBodyReadLimit))
		return pkgerrors.New(pkgerrors.CodePaymentDeclined,
			fmt.Sprintf("payhub rejected the request: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodePaymentGateway, err, "decode payhub response")
	}
	return nil
}

func failureReason(resp payhubOutcomeResponse) string {
	if resp.Reason != "" {
		return resp.Reason
	}
	return resp.Status
}

func validPayhubSignature(payload []byte, secret, header string) bool {
	if header == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header))
}

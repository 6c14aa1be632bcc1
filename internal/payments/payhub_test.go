package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/oakmart/oakmart-backend/pkg/config"
	"github.com/oakmart/oakmart-backend/pkg/db/models"
	pkgerrors "github.com/oakmart/oakmart-backend/pkg/errors"
)

func newPayhubGateway(t *testing.T, baseURL string) *PayhubGateway {
	t.Helper()
	gw, err := NewPayhubGateway(config.PayhubConfig{
		BaseURL:       baseURL,
		APIKey:        "ph_test_key",
		WebhookSecret: "ph_whsec",
		Timeout:       5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewPayhubGateway: %v", err)
	}
	return gw
}

func signPayhub(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestPayhubCreateIntentReturnsRedirect(t *testing.T) {
	t.Parallel()

	var gotAuth, gotIdem string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/intents" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		gotIdem = r.Header.Get("Idempotency-Key")
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body["order_number"] != "ORD-TEST1" {
			t.Errorf("order_number = %v", body["order_number"])
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"intent_id":    "phi_123",
			"redirect_url": "https://pay.payhub.test/phi_123",
		})
	}))
	defer srv.Close()

	gw := newPayhubGateway(t, srv.URL)
	ref, err := gw.CreateIntent(context.Background(), &models.Order{
		OrderNumber: "ORD-TEST1",
		TotalCents:  11800,
		Currency:    "USD",
	})
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}
	if ref.IntentID != "phi_123" || ref.RedirectURL == "" || ref.ClientToken != "" {
		t.Fatalf("unexpected intent ref: %+v", ref)
	}
	if gotAuth != "Bearer ph_test_key" {
		t.Fatalf("authorization header = %q", gotAuth)
	}
	if gotIdem != "intent-ORD-TEST1" {
		t.Fatalf("idempotency key = %q", gotIdem)
	}
}

func TestPayhubCaptureDeclineIsResultNotError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "declined",
			"reason": "insufficient funds",
		})
	}))
	defer srv.Close()

	gw := newPayhubGateway(t, srv.URL)
	result, err := gw.Capture(context.Background(), "phi_123", &models.Order{OrderNumber: "ORD-TEST1"}, "capture-ORD-TEST1")
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if result.Succeeded {
		t.Fatal("expected declined result")
	}
	if result.FailureReason != "insufficient funds" {
		t.Fatalf("failure reason = %q", result.FailureReason)
	}
}

func TestPayhubServerErrorSurfacesAsGatewayError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	gw := newPayhubGateway(t, srv.URL)
	_, err := gw.Capture(context.Background(), "phi_123", &models.Order{OrderNumber: "ORD-TEST1"}, "capture-ORD-TEST1")
	if err == nil {
		t.Fatal("expected gateway error")
	}
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodePaymentGateway {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pkgerrors.IsRetryable(err) {
		t.Fatal("gateway errors should be retryable")
	}
}

func TestPayhubVerifyWebhookAcceptsValidSignature(t *testing.T) {
	t.Parallel()

	payload := []byte(`{
		"event_id": "phe_1",
		"type": "payment.captured",
		"order_number": "ORD-TEST1",
		"intent_id": "phi_123",
		"transaction_id": "pht_456",
		"amount_cents": 11800
	}`)

	gw := newPayhubGateway(t, "https://api.payhub.test")
	event, err := gw.VerifyWebhook(payload, signPayhub(payload, "ph_whsec"))
	if err != nil {
		t.Fatalf("VerifyWebhook: %v", err)
	}
	if event.Kind != EventKindPaymentSucceeded {
		t.Fatalf("kind = %s", event.Kind)
	}
	if event.ID != "phe_1" || event.OrderNumber != "ORD-TEST1" || event.AmountCents != 11800 {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestPayhubVerifyWebhookRejectsBadSignature(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"event_id":"phe_1","type":"payment.captured"}`)
	gw := newPayhubGateway(t, "https://api.payhub.test")

	_, err := gw.VerifyWebhook(payload, signPayhub(payload, "wrong secret"))
	if err == nil {
		t.Fatal("expected signature error")
	}
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeSignature {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPayhubVerifyWebhookMarksUnknownTypesIgnored(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"event_id":"phe_2","type":"customer.updated"}`)
	gw := newPayhubGateway(t, "https://api.payhub.test")

	event, err := gw.VerifyWebhook(payload, signPayhub(payload, "ph_whsec"))
	if err != nil {
		t.Fatalf("VerifyWebhook: %v", err)
	}
	if event.Kind != EventKindIgnored {
		t.Fatalf("kind = %s", event.Kind)
	}
}

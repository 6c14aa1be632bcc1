package controllers

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/oakmart/oakmart-backend/api/responses"
	"github.com/oakmart/oakmart-backend/internal/payments"
	"github.com/oakmart/oakmart-backend/pkg/enums"
	pkgerrors "github.com/oakmart/oakmart-backend/pkg/errors"
	"github.com/oakmart/oakmart-backend/pkg/logger"
)

// Provider payloads are small; cap reads to keep a hostile sender from
// streaming an unbounded body.
const maxWebhookBody = 1 << 20

// ProviderWebhook ingests gateway webhooks. The route is unauthenticated;
// trust comes from the per-provider signature verification inside the service.
func ProviderWebhook(svc *payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider, err := enums.ParsePaymentProvider(chi.URLParam(r, "provider"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown provider"))
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read webhook body"))
			return
		}

		if err := svc.HandleWebhook(r.Context(), provider, body, signatureHeader(r, provider)); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "received"})
	}
}

func signatureHeader(r *http.Request, provider enums.PaymentProvider) string {
	switch provider {
	case enums.PaymentProviderStripe:
		return r.Header.Get("Stripe-Signature")
	case enums.PaymentProviderPayhub:
		return r.Header.Get("X-Payhub-Signature")
	default:
		return ""
	}
}

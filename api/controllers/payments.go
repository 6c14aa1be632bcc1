package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/oakmart/oakmart-backend/api/middleware"
	"github.com/oakmart/oakmart-backend/api/responses"
	"github.com/oakmart/oakmart-backend/internal/orders"
	"github.com/oakmart/oakmart-backend/internal/payments"
	"github.com/oakmart/oakmart-backend/pkg/enums"
	"github.com/oakmart/oakmart-backend/pkg/logger"
)

// PaymentConfirm is the client-side leg of payment reconciliation: it captures
// the intent and races safely against the provider webhook.
func PaymentConfirm(svc *payments.Service, ordersSvc *orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := loadOwnedOrder(r, ordersSvc); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		actor := middleware.ActorFromContext(r.Context())
		order, err := svc.ConfirmPayment(r.Context(), chi.URLParam(r, "orderNumber"), actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

// PaymentTransactions lists the capture and refund rows for an order.
func PaymentTransactions(svc *payments.Service, ordersSvc *orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := loadOwnedOrder(r, ordersSvc); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := svc.Transactions(r.Context(), chi.URLParam(r, "orderNumber"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		items := make([]transactionResponse, len(rows))
		for i, row := range rows {
			items[i] = transactionResponse{
				Provider:      row.Provider,
				Kind:          row.Kind,
				AmountCents:   row.AmountCents,
				Succeeded:     row.Succeeded,
				ProviderTxnID: row.ProviderTxnID,
				FailureReason: row.FailureReason,
				CreatedAt:     row.CreatedAt,
			}
		}
		responses.WriteSuccess(w, map[string]any{"transactions": items})
	}
}

type transactionResponse struct {
	Provider      enums.PaymentProvider `json:"provider"`
	Kind          enums.TransactionKind `json:"kind"`
	AmountCents   int                   `json:"amount_cents"`
	Succeeded     bool                  `json:"succeeded"`
	ProviderTxnID string                `json:"provider_txn_id,omitempty"`
	FailureReason *string               `json:"failure_reason,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
}

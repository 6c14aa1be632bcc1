package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/oakmart/oakmart-backend/api/middleware"
	"github.com/oakmart/oakmart-backend/api/responses"
	"github.com/oakmart/oakmart-backend/api/validators"
	"github.com/oakmart/oakmart-backend/internal/orders"
	returnsvc "github.com/oakmart/oakmart-backend/internal/returns"
	"github.com/oakmart/oakmart-backend/pkg/db/models"
	"github.com/oakmart/oakmart-backend/pkg/enums"
	pkgerrors "github.com/oakmart/oakmart-backend/pkg/errors"
	"github.com/oakmart/oakmart-backend/pkg/logger"
)

// ReturnCreate opens a return for a delivered order.
func ReturnCreate(svc *returnsvc.Service, ordersSvc *orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := loadOwnedOrder(r, ordersSvc); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload createReturnRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		lines := make([]returnsvc.RequestLine, len(payload.Items))
		for i, item := range payload.Items {
			lines[i] = returnsvc.RequestLine{
				OrderItemID: item.OrderItemID,
				Quantity:    item.Quantity,
			}
		}

		actor := middleware.ActorFromContext(r.Context())
		ret, err := svc.CreateRequest(r.Context(), chi.URLParam(r, "orderNumber"), lines, payload.Reason, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newReturnResponse(ret))
	}
}

// ReturnReceive records the warehouse inspection and settles the refund.
func ReturnReceive(svc *returnsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		returnID, err := uuid.Parse(chi.URLParam(r, "returnId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid return id"))
			return
		}

		var payload receiveReturnRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		receipts := make([]returnsvc.ReceiptLine, len(payload.Items))
		for i, item := range payload.Items {
			condition := enums.ItemCondition("")
			if item.Condition != "" {
				condition, err = enums.ParseItemCondition(item.Condition)
				if err != nil {
					responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid condition"))
					return
				}
			}
			receipts[i] = returnsvc.ReceiptLine{
				ReturnItemID:     item.ReturnItemID,
				ReceivedQuantity: item.ReceivedQuantity,
				Condition:        condition,
			}
		}

		actor := middleware.ActorFromContext(r.Context())
		ret, err := svc.ProcessReceipt(r.Context(), chi.URLParam(r, "orderNumber"), returnID, receipts, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newReturnResponse(ret))
	}
}

// ReturnList returns every return filed against an order.
func ReturnList(svc *returnsvc.Service, ordersSvc *orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := loadOwnedOrder(r, ordersSvc); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := svc.ListByOrder(r.Context(), chi.URLParam(r, "orderNumber"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		items := make([]returnResponse, len(rows))
		for i := range rows {
			items[i] = newReturnResponse(&rows[i])
		}
		responses.WriteSuccess(w, map[string]any{"returns": items})
	}
}

type createReturnRequest struct {
	Reason string              `json:"reason" validate:"required,max=500"`
	Items  []returnLinePayload `json:"items" validate:"required,min=1,dive"`
}

type returnLinePayload struct {
	OrderItemID uuid.UUID `json:"order_item_id" validate:"required"`
	Quantity    int       `json:"quantity" validate:"required,min=1"`
}

type receiveReturnRequest struct {
	Items []receiptLinePayload `json:"items" validate:"required,min=1,dive"`
}

type receiptLinePayload struct {
	ReturnItemID     uuid.UUID `json:"return_item_id" validate:"required"`
	ReceivedQuantity int       `json:"received_quantity" validate:"min=0"`
	Condition        string    `json:"condition" validate:"omitempty"`
}

type returnResponse struct {
	ID                      uuid.UUID            `json:"id"`
	Status                  enums.ReturnStatus   `json:"status"`
	Reason                  string               `json:"reason"`
	RefundAmountCents       int                  `json:"refund_amount_cents"`
	ActualRefundAmountCents *int                 `json:"actual_refund_amount_cents,omitempty"`
	TrackingNumber          *string              `json:"tracking_number,omitempty"`
	LabelURL                *string              `json:"label_url,omitempty"`
	Items                   []returnItemResponse `json:"items"`
	CompletedAt             *time.Time           `json:"completed_at,omitempty"`
	CreatedAt               time.Time            `json:"created_at"`
}

type returnItemResponse struct {
	ID               uuid.UUID            `json:"id"`
	OrderItemID      uuid.UUID            `json:"order_item_id"`
	Quantity         int                  `json:"quantity"`
	ReceivedQuantity int                  `json:"received_quantity"`
	Condition        *enums.ItemCondition `json:"condition,omitempty"`
	RefundCents      int                  `json:"refund_cents"`
}

func newReturnResponse(ret *models.Return) returnResponse {
	items := make([]returnItemResponse, len(ret.Items))
	for i, item := range ret.Items {
		items[i] = returnItemResponse{
			ID:               item.ID,
			OrderItemID:      item.OrderItemID,
			Quantity:         item.Quantity,
			ReceivedQuantity: item.ReceivedQuantity,
			Condition:        item.Condition,
			RefundCents:      item.RefundCents,
		}
	}
	return returnResponse{
		ID:                      ret.ID,
		Status:                  ret.Status,
		Reason:                  ret.Reason,
		RefundAmountCents:       ret.RefundAmountCents,
		ActualRefundAmountCents: ret.ActualRefundAmountCents,
		TrackingNumber:          ret.TrackingNumber,
		LabelURL:                ret.LabelURL,
		Items:                   items,
		CompletedAt:             ret.CompletedAt,
		CreatedAt:               ret.CreatedAt,
	}
}

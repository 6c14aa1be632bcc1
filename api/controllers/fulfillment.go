package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/oakmart/oakmart-backend/api/middleware"
	"github.com/oakmart/oakmart-backend/api/responses"
	"github.com/oakmart/oakmart-backend/api/validators"
	"github.com/oakmart/oakmart-backend/internal/fulfillment"
	"github.com/oakmart/oakmart-backend/pkg/logger"
	"github.com/oakmart/oakmart-backend/pkg/types"
)

// OrderFulfill builds the picking list, packing slip and carrier quotes for a
// paid order.
func OrderFulfill(svc *fulfillment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := middleware.ActorFromContext(r.Context())
		plan, err := svc.Process(r.Context(), chi.URLParam(r, "orderNumber"), actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, plan)
	}
}

// OrderShip marks a processed order as shipped and commits its reservation.
func OrderShip(svc *fulfillment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload shipOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		actor := middleware.ActorFromContext(r.Context())
		order, err := svc.MarkShipped(r.Context(), chi.URLParam(r, "orderNumber"),
			payload.Carrier, payload.TrackingNumber, payload.Details, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

// OrderDeliver stamps delivery and starts the return-window clock.
func OrderDeliver(svc *fulfillment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload deliverOrderRequest
		if r.ContentLength > 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		if payload.Details == nil {
			payload.Details = types.JSONMap{}
		}

		actor := middleware.ActorFromContext(r.Context())
		order, err := svc.MarkDelivered(r.Context(), chi.URLParam(r, "orderNumber"), payload.Details, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

type shipOrderRequest struct {
	Carrier        string        `json:"carrier" validate:"required"`
	TrackingNumber string        `json:"tracking_number" validate:"required"`
	Details        types.JSONMap `json:"details" validate:"required"`
}

type deliverOrderRequest struct {
	Details types.JSONMap `json:"details"`
}

package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/oakmart/oakmart-backend/api/middleware"
	"github.com/oakmart/oakmart-backend/api/responses"
	"github.com/oakmart/oakmart-backend/api/validators"
	checkoutsvc "github.com/oakmart/oakmart-backend/internal/checkout"
	"github.com/oakmart/oakmart-backend/pkg/enums"
	pkgerrors "github.com/oakmart/oakmart-backend/pkg/errors"
	"github.com/oakmart/oakmart-backend/pkg/logger"
	"github.com/oakmart/oakmart-backend/pkg/types"
)

// Checkout places a new order and opens the payment intent.
func Checkout(svc *checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := middleware.ActorFromContext(r.Context())
		if actor.ID == uuid.Nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "actor missing"))
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		req, err := payload.toRequest(actor.ID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Checkout(r.Context(), req, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, checkoutResponse{
			Order: newOrderResponse(result.Order),
			Intent: intentResponse{
				Provider:    result.Intent.Provider,
				IntentID:    result.Intent.IntentID,
				ClientToken: result.Intent.ClientToken,
				RedirectURL: result.Intent.RedirectURL,
			},
		})
	}
}

type checkoutRequest struct {
	Provider         string              `json:"provider" validate:"required"`
	ServiceLevel     string              `json:"service_level" validate:"omitempty"`
	Currency         string              `json:"currency" validate:"omitempty,len=3"`
	ShippingFeeCents int                 `json:"shipping_fee_cents" validate:"min=0"`
	ShippingAddress  *types.Address      `json:"shipping_address" validate:"required"`
	BillingAddress   *types.Address      `json:"billing_address"`
	Items            []checkoutLineInput `json:"items" validate:"required,min=1,dive"`
}

type checkoutLineInput struct {
	ProductID         uuid.UUID     `json:"product_id" validate:"required"`
	Name              string        `json:"name" validate:"required"`
	SKU               string        `json:"sku" validate:"required"`
	UnitPriceCents    int           `json:"unit_price_cents" validate:"min=0"`
	Quantity          int           `json:"quantity" validate:"required,min=1"`
	Options           types.JSONMap `json:"options"`
	Fragile           bool          `json:"fragile"`
	WeightGrams       int           `json:"weight_grams" validate:"min=0"`
	WarehouseLocation string        `json:"warehouse_location"`
}

func (p checkoutRequest) toRequest(customerID uuid.UUID) (checkoutsvc.Request, error) {
	provider, err := enums.ParsePaymentProvider(p.Provider)
	if err != nil {
		return checkoutsvc.Request{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid provider")
	}
	level := enums.ServiceLevelStandard
	if p.ServiceLevel != "" {
		level, err = enums.ParseServiceLevel(p.ServiceLevel)
		if err != nil {
			return checkoutsvc.Request{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid service level")
		}
	}

	lines := make([]checkoutsvc.Line, len(p.Items))
	for i, item := range p.Items {
		lines[i] = checkoutsvc.Line{
			ProductID:         item.ProductID,
			Name:              item.Name,
			SKU:               item.SKU,
			UnitPriceCents:    item.UnitPriceCents,
			Quantity:          item.Quantity,
			Options:           item.Options,
			Fragile:           item.Fragile,
			WeightGrams:       item.WeightGrams,
			WarehouseLocation: item.WarehouseLocation,
		}
	}

	return checkoutsvc.Request{
		CustomerID:       customerID,
		Provider:         provider,
		ServiceLevel:     level,
		Currency:         p.Currency,
		ShippingFeeCents: p.ShippingFeeCents,
		ShippingAddress:  p.ShippingAddress,
		BillingAddress:   p.BillingAddress,
		Lines:            lines,
	}, nil
}

type checkoutResponse struct {
	Order  orderResponse  `json:"order"`
	Intent intentResponse `json:"intent"`
}

type intentResponse struct {
	Provider    enums.PaymentProvider `json:"provider"`
	IntentID    string                `json:"intent_id"`
	ClientToken string                `json:"client_token,omitempty"`
	RedirectURL string                `json:"redirect_url,omitempty"`
}

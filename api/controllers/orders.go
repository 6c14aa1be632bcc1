package controllers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/oakmart/oakmart-backend/api/middleware"
	"github.com/oakmart/oakmart-backend/api/responses"
	"github.com/oakmart/oakmart-backend/api/validators"
	"github.com/oakmart/oakmart-backend/internal/orders"
	"github.com/oakmart/oakmart-backend/pkg/db/models"
	"github.com/oakmart/oakmart-backend/pkg/enums"
	pkgerrors "github.com/oakmart/oakmart-backend/pkg/errors"
	"github.com/oakmart/oakmart-backend/pkg/logger"
	"github.com/oakmart/oakmart-backend/pkg/pagination"
	"github.com/oakmart/oakmart-backend/pkg/types"
)

// OrderGet returns one order with its item snapshots.
func OrderGet(svc *orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		order, err := loadOwnedOrder(r, svc)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

// OrderList returns the caller's orders, newest first, cursor-paginated.
func OrderList(svc *orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := middleware.ActorFromContext(r.Context())
		if actor.ID == uuid.Nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "actor missing"))
			return
		}

		query := orders.ListOrdersQuery{CustomerID: actor.ID}
		if raw := r.URL.Query().Get("status"); raw != "" {
			status, err := enums.ParseOrderStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
				return
			}
			query.Status = &status
		}
		if raw := r.URL.Query().Get("cursor"); raw != "" {
			cursor, err := pagination.ParseCursor(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor"))
				return
			}
			query.Cursor = cursor
		}
		query.Limit = pagination.NormalizeLimit(queryInt(r, "limit"))

		rows, next, err := svc.List(r.Context(), query)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]orderResponse, len(rows))
		for i := range rows {
			items[i] = newOrderResponse(&rows[i])
		}
		payload := orderListResponse{Orders: items}
		if next != nil {
			payload.NextCursor = pagination.EncodeCursor(*next)
		}
		responses.WriteSuccess(w, payload)
	}
}

// OrderHistory returns the append-only transition trail.
func OrderHistory(svc *orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := loadOwnedOrder(r, svc); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.History(r.Context(), chi.URLParam(r, "orderNumber"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		items := make([]historyResponse, len(rows))
		for i, row := range rows {
			items[i] = historyResponse{
				FromStatus: row.FromStatus,
				ToStatus:   row.ToStatus,
				Comment:    row.Comment,
				ActorRole:  row.ActorRole,
				CreatedAt:  row.CreatedAt,
			}
		}
		responses.WriteSuccess(w, map[string]any{"history": items})
	}
}

// OrderCancel aborts a pending or processing order.
func OrderCancel(svc *orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := loadOwnedOrder(r, svc); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload cancelOrderRequest
		if r.ContentLength > 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		actor := middleware.ActorFromContext(r.Context())
		order, err := svc.Cancel(r.Context(), chi.URLParam(r, "orderNumber"), actor, payload.Reason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

type cancelOrderRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=500"`
}

type orderListResponse struct {
	Orders     []orderResponse `json:"orders"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type historyResponse struct {
	FromStatus enums.OrderStatus `json:"from_status"`
	ToStatus   enums.OrderStatus `json:"to_status"`
	Comment    string            `json:"comment,omitempty"`
	ActorRole  enums.ActorRole   `json:"actor_role"`
	CreatedAt  time.Time         `json:"created_at"`
}

type orderResponse struct {
	OrderNumber      string                `json:"order_number"`
	Status           enums.OrderStatus     `json:"status"`
	PaymentStatus    enums.PaymentStatus   `json:"payment_status"`
	PaymentProvider  enums.PaymentProvider `json:"payment_provider"`
	Currency         string                `json:"currency"`
	SubtotalCents    int                   `json:"subtotal_cents"`
	TaxCents         int                   `json:"tax_cents"`
	ShippingFeeCents int                   `json:"shipping_fee_cents"`
	TotalCents       int                   `json:"total_cents"`
	RefundedCents    int                   `json:"refunded_cents,omitempty"`
	ServiceLevel     enums.ServiceLevel    `json:"service_level"`
	ShippingAddress  *types.Address        `json:"shipping_address,omitempty"`
	Items            []orderItemResponse   `json:"items"`
	ShippingDetails  *types.JSONMap        `json:"shipping_details,omitempty"`
	DeliveryDetails  *types.JSONMap        `json:"delivery_details,omitempty"`
	DeliveredAt      *time.Time            `json:"delivered_at,omitempty"`
	CancelledAt      *time.Time            `json:"cancelled_at,omitempty"`
	CreatedAt        time.Time             `json:"created_at"`
}

type orderItemResponse struct {
	ProductID      uuid.UUID `json:"product_id"`
	Name           string    `json:"name"`
	SKU            string    `json:"sku"`
	UnitPriceCents int       `json:"unit_price_cents"`
	Quantity       int       `json:"quantity"`
	SubtotalCents  int       `json:"subtotal_cents"`
}

func newOrderResponse(order *models.Order) orderResponse {
	items := make([]orderItemResponse, len(order.Items))
	for i, item := range order.Items {
		items[i] = orderItemResponse{
			ProductID:      item.ProductID,
			Name:           item.Name,
			SKU:            item.SKU,
			UnitPriceCents: item.UnitPriceCents,
			Quantity:       item.Quantity,
			SubtotalCents:  item.SubtotalCents,
		}
	}
	return orderResponse{
		OrderNumber:      order.OrderNumber,
		Status:           order.Status,
		PaymentStatus:    order.PaymentStatus,
		PaymentProvider:  order.PaymentProvider,
		Currency:         order.Currency,
		SubtotalCents:    order.SubtotalCents,
		TaxCents:         order.TaxCents,
		ShippingFeeCents: order.ShippingFeeCents,
		TotalCents:       order.TotalCents,
		RefundedCents:    order.RefundedCents,
		ServiceLevel:     order.ServiceLevel,
		ShippingAddress:  order.ShippingAddress,
		Items:            items,
		ShippingDetails:  order.ShippingDetails,
		DeliveryDetails:  order.DeliveryDetails,
		DeliveredAt:      order.DeliveredAt,
		CancelledAt:      order.CancelledAt,
		CreatedAt:        order.CreatedAt,
	}
}

// loadOwnedOrder fetches the order and enforces that customers only reach
// their own orders. Admin and system actors see everything.
func loadOwnedOrder(r *http.Request, svc *orders.Service) (*models.Order, error) {
	order, err := svc.Get(r.Context(), chi.URLParam(r, "orderNumber"))
	if err != nil {
		return nil, err
	}
	actor := middleware.ActorFromContext(r.Context())
	switch actor.Role {
	case enums.ActorRoleAdmin, enums.ActorRoleSystem:
		return order, nil
	case enums.ActorRoleCustomer:
		if order.CustomerID == actor.ID {
			return order, nil
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another customer")
}

func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return n
}

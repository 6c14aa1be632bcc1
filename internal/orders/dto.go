package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/oakmart/oakmart-backend/pkg/db/models"
	"github.com/oakmart/oakmart-backend/pkg/enums"
	"github.com/oakmart/oakmart-backend/pkg/types"
)

// ItemResponse exposes one immutable item snapshot.
type ItemResponse struct {
	ID             uuid.UUID      `json:"id"`
	ProductID      uuid.UUID      `json:"product_id"`
	Name           string         `json:"name"`
	SKU            string         `json:"sku"`
	UnitPriceCents int            `json:"unit_price_cents"`
	Quantity       int            `json:"quantity"`
	SubtotalCents  int            `json:"subtotal_cents"`
	Options        *types.JSONMap `json:"options,omitempty"`
	Fragile        bool           `json:"fragile,omitempty"`
}

// HistoryEntryResponse exposes one audit trail row.
type HistoryEntryResponse struct {
	FromStatus enums.OrderStatus `json:"from_status"`
	ToStatus   enums.OrderStatus `json:"to_status"`
	Comment    string            `json:"comment,omitempty"`
	ActorRole  enums.ActorRole   `json:"actor_role"`
	CreatedAt  time.Time         `json:"created_at"`
}

// OrderResponse is the wire shape of a single order.
type OrderResponse struct {
	OrderNumber      string                 `json:"order_number"`
	Status           enums.OrderStatus      `json:"status"`
	PaymentStatus    enums.PaymentStatus    `json:"payment_status"`
	PaymentProvider  enums.PaymentProvider  `json:"payment_provider"`
	Currency         string                 `json:"currency"`
	SubtotalCents    int                    `json:"subtotal_cents"`
	TaxCents         int                    `json:"tax_cents"`
	ShippingFeeCents int                    `json:"shipping_fee_cents"`
	TotalCents       int                    `json:"total_cents"`
	RefundedCents    int                    `json:"refunded_cents,omitempty"`
	ServiceLevel     enums.ServiceLevel     `json:"service_level"`
	ShippingAddress  *types.Address         `json:"shipping_address,omitempty"`
	FulfillmentData  *types.JSONMap         `json:"fulfillment_data,omitempty"`
	ShippingDetails  *types.JSONMap         `json:"shipping_details,omitempty"`
	DeliveryDetails  *types.JSONMap         `json:"delivery_details,omitempty"`
	DeliveredAt      *time.Time             `json:"delivered_at,omitempty"`
	CancelledAt      *time.Time             `json:"cancelled_at,omitempty"`
	Items            []ItemResponse         `json:"items"`
	History          []HistoryEntryResponse `json:"history,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
}

// OrderList wraps paginated orders plus the next page cursor.
type OrderList struct {
	Orders     []OrderResponse `json:"orders"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// ToOrderResponse maps the model plus optional history rows to the wire shape.
func ToOrderResponse(order *models.Order, history []models.OrderStatusHistory) OrderResponse {
	items := make([]ItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, ItemResponse{
			ID:             item.ID,
			ProductID:      item.ProductID,
			Name:           item.Name,
			SKU:            item.SKU,
			UnitPriceCents: item.UnitPriceCents,
			Quantity:       item.Quantity,
			SubtotalCents:  item.SubtotalCents,
			Options:        item.Options,
			Fragile:        item.Fragile,
		})
	}
	entries := make([]HistoryEntryResponse, 0, len(history))
	for _, row := range history {
		entries = append(entries, HistoryEntryResponse{
			FromStatus: row.FromStatus,
			ToStatus:   row.ToStatus,
			Comment:    row.Comment,
			ActorRole:  row.ActorRole,
			CreatedAt:  row.CreatedAt,
		})
	}
	return OrderResponse{
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
		FulfillmentData:  order.FulfillmentData,
		ShippingDetails:  order.ShippingDetails,
		DeliveryDetails:  order.DeliveryDetails,
		DeliveredAt:      order.DeliveredAt,
		CancelledAt:      order.CancelledAt,
		Items:            items,
		History:          entries,
		CreatedAt:        order.CreatedAt,
	}
}

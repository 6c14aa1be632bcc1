package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/oakmart/oakmart-backend/pkg/enums"
)

// OrderPlacedEvent signals a checkout that reserved stock and created an order.
type OrderPlacedEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	CustomerID  uuid.UUID `json:"customer_id"`
	TotalCents  int       `json:"total_cents"`
	Currency    string    `json:"currency"`
	ItemCount   int       `json:"item_count"`
}

// OrderStatusChangedEvent is emitted on every lifecycle transition.
type OrderStatusChangedEvent struct {
	OrderID     uuid.UUID         `json:"order_id"`
	OrderNumber string            `json:"order_number"`
	FromStatus  enums.OrderStatus `json:"from_status"`
	ToStatus    enums.OrderStatus `json:"to_status"`
	Comment     string            `json:"comment,omitempty"`
}

// OrderCancelledEvent carries the cancellation outcome, including whether a
// gateway refund was issued for a paid order.
type OrderCancelledEvent struct {
	OrderID      uuid.UUID `json:"order_id"`
	OrderNumber  string    `json:"order_number"`
	Reason       string    `json:"reason,omitempty"`
	Refunded     bool      `json:"refunded"`
	RefundCents  int       `json:"refund_cents,omitempty"`
	CancelledAt  time.Time `json:"cancelled_at"`
	StockRestore int       `json:"stock_restore"`
}

// OrderShippedEvent is emitted when a fulfilled order leaves the warehouse.
type OrderShippedEvent struct {
	OrderID        uuid.UUID          `json:"order_id"`
	OrderNumber    string             `json:"order_number"`
	Carrier        string             `json:"carrier"`
	TrackingNumber string             `json:"tracking_number"`
	ServiceLevel   enums.ServiceLevel `json:"service_level"`
	ShippedAt      time.Time          `json:"shipped_at"`
}

// OrderDeliveredEvent starts the return-window clock.
type OrderDeliveredEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// PaymentCapturedEvent reports a settled capture for an order.
type PaymentCapturedEvent struct {
	OrderID       uuid.UUID             `json:"order_id"`
	OrderNumber   string                `json:"order_number"`
	Provider      enums.PaymentProvider `json:"provider"`
	ProviderTxnID string                `json:"provider_txn_id"`
	AmountCents   int                   `json:"amount_cents"`
}

// PaymentFailedEvent reports a declined or failed capture.
type PaymentFailedEvent struct {
	OrderID     uuid.UUID             `json:"order_id"`
	OrderNumber string                `json:"order_number"`
	Provider    enums.PaymentProvider `json:"provider"`
	Reason      string                `json:"reason,omitempty"`
}

// RefundSettledEvent reports money returned to the customer.
type RefundSettledEvent struct {
	OrderID       uuid.UUID             `json:"order_id"`
	OrderNumber   string                `json:"order_number"`
	Provider      enums.PaymentProvider `json:"provider"`
	ProviderTxnID string                `json:"provider_txn_id"`
	AmountCents   int                   `json:"amount_cents"`
}

// ReturnRequestedEvent is emitted when a customer opens a return.
type ReturnRequestedEvent struct {
	ReturnID          uuid.UUID `json:"return_id"`
	OrderID           uuid.UUID `json:"order_id"`
	OrderNumber       string    `json:"order_number"`
	RefundQuoteCents  int       `json:"refund_quote_cents"`
	RequestedItems    int       `json:"requested_items"`
	Reason            string    `json:"reason,omitempty"`
	RequestedAt       time.Time `json:"requested_at"`
	ReturnWindowClose time.Time `json:"return_window_close"`
}

// ReturnCompletedEvent carries the inspected outcome of a return receipt.
type ReturnCompletedEvent struct {
	ReturnID          uuid.UUID `json:"return_id"`
	OrderID           uuid.UUID `json:"order_id"`
	OrderNumber       string    `json:"order_number"`
	ActualRefundCents int       `json:"actual_refund_cents"`
	RestockedUnits    int       `json:"restocked_units"`
	DamagedUnits      int       `json:"damaged_units"`
	CompletedAt       time.Time `json:"completed_at"`
}

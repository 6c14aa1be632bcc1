package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/oakmart/oakmart-backend/pkg/enums"
	"github.com/oakmart/oakmart-backend/pkg/types"
)

// Order is the canonical customer order record. Orders are created once at
// checkout, mutated only through ledger transitions, and never hard-deleted.
type Order struct {
	ID               uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderNumber      string                `gorm:"column:order_number;not null;uniqueIndex"`
	CustomerID       uuid.UUID             `gorm:"column:customer_id;type:uuid;not null;index"`
	Status           enums.OrderStatus     `gorm:"column:status;type:order_status;not null;default:'pending'"`
	PaymentStatus    enums.PaymentStatus   `gorm:"column:payment_status;type:payment_status;not null;default:'pending'"`
	PaymentProvider  enums.PaymentProvider `gorm:"column:payment_provider;type:payment_provider;not null"`
	PaymentIntentRef *string               `gorm:"column:payment_intent_ref"`
	Currency         string                `gorm:"column:currency;not null;default:'USD'"`
	SubtotalCents    int                   `gorm:"column:subtotal_cents;not null"`
	TaxCents         int                   `gorm:"column:tax_cents;not null;default:0"`
	ShippingFeeCents int                   `gorm:"column:shipping_fee_cents;not null;default:0"`
	TotalCents       int                   `gorm:"column:total_cents;not null"`
	RefundedCents    int                   `gorm:"column:refunded_cents;not null;default:0"`
	ServiceLevel     enums.ServiceLevel    `gorm:"column:service_level;type:service_level;not null;default:'standard'"`
	ShippingAddress  *types.Address        `gorm:"column:shipping_address;type:jsonb;serializer:json"`
	BillingAddress   *types.Address        `gorm:"column:billing_address;type:jsonb;serializer:json"`
	FulfillmentData  *types.JSONMap        `gorm:"column:fulfillment_data;type:jsonb;serializer:json"`
	ShippingDetails  *types.JSONMap        `gorm:"column:shipping_details;type:jsonb;serializer:json"`
	DeliveryDetails  *types.JSONMap        `gorm:"column:delivery_details;type:jsonb;serializer:json"`
	DeliveredAt      *time.Time            `gorm:"column:delivered_at"`
	CancelledAt      *time.Time            `gorm:"column:cancelled_at"`
	Items            []OrderItem           `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	History          []OrderStatusHistory  `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt        time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

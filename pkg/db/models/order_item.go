package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/oakmart/oakmart-backend/pkg/types"
)

// OrderItem is the immutable snapshot of a product at time of purchase.
// It never re-reads live product data.
type OrderItem struct {
	ID                uuid.UUID      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID           uuid.UUID      `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID         uuid.UUID      `gorm:"column:product_id;type:uuid;not null"`
	Name              string         `gorm:"column:name;not null"`
	SKU               string         `gorm:"column:sku;not null"`
	UnitPriceCents    int            `gorm:"column:unit_price_cents;not null"`
	Quantity          int            `gorm:"column:quantity;not null"`
	SubtotalCents     int            `gorm:"column:subtotal_cents;not null"`
	Options           *types.JSONMap `gorm:"column:options;type:jsonb;serializer:json"`
	Fragile           bool           `gorm:"column:fragile;not null;default:false"`
	WeightGrams       int            `gorm:"column:weight_grams;not null;default:0"`
	WarehouseLocation string         `gorm:"column:warehouse_location;not null;default:''"`
	CreatedAt         time.Time      `gorm:"column:created_at;autoCreateTime"`
}

package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/oakmart/oakmart-backend/pkg/enums"
)

// ReturnItem links a return to one purchased line. Quantity is what the
// customer asked to send back; ReceivedQuantity is what the warehouse
// actually counted at receipt (always <= Quantity).
type ReturnItem struct {
	ID               uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ReturnID         uuid.UUID            `gorm:"column:return_id;type:uuid;not null;index"`
	OrderItemID      uuid.UUID            `gorm:"column:order_item_id;type:uuid;not null"`
	Quantity         int                  `gorm:"column:quantity;not null"`
	ReceivedQuantity int                  `gorm:"column:received_quantity;not null;default:0"`
	Condition        *enums.ItemCondition `gorm:"column:condition;type:item_condition"`
	RefundCents      int                  `gorm:"column:refund_cents;not null;default:0"`
	CreatedAt        time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

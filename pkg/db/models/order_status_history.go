package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/oakmart/oakmart-backend/pkg/enums"
)

// OrderStatusHistory is the append-only audit trail of ledger transitions.
// Rows are never mutated or deleted; one row per transition.
type OrderStatusHistory struct {
	ID         uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID    uuid.UUID         `gorm:"column:order_id;type:uuid;not null;index"`
	FromStatus enums.OrderStatus `gorm:"column:from_status;type:order_status;not null"`
	ToStatus   enums.OrderStatus `gorm:"column:to_status;type:order_status;not null"`
	Comment    string            `gorm:"column:comment;not null;default:''"`
	ActorID    uuid.UUID         `gorm:"column:actor_id;type:uuid;not null"`
	ActorRole  enums.ActorRole   `gorm:"column:actor_role;type:actor_role;not null"`
	CreatedAt  time.Time         `gorm:"column:created_at;autoCreateTime"`
}

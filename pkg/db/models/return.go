package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/oakmart/oakmart-backend/pkg/enums"
)

// Return tracks a single return request for an order. RefundAmountCents is
// the amount requested at creation; ActualRefundAmountCents is stamped only
// after physical receipt, computed from what actually arrived.
type Return struct {
	ID                      uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID                 uuid.UUID          `gorm:"column:order_id;type:uuid;not null;index"`
	Status                  enums.ReturnStatus `gorm:"column:status;type:return_status;not null;default:'pending'"`
	Reason                  string             `gorm:"column:reason;not null"`
	RefundAmountCents       int                `gorm:"column:refund_amount_cents;not null"`
	ActualRefundAmountCents *int               `gorm:"column:actual_refund_amount_cents"`
	TrackingNumber          *string            `gorm:"column:tracking_number"`
	LabelURL                *string            `gorm:"column:label_url"`
	Items                   []ReturnItem       `gorm:"foreignKey:ReturnID;constraint:OnDelete:CASCADE"`
	CompletedAt             *time.Time         `gorm:"column:completed_at"`
	CreatedAt               time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt               time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName avoids the RETURNS keyword in handwritten SQL.
func (Return) TableName() string {
	return "order_returns"
}

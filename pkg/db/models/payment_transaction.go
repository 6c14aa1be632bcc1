package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/oakmart/oakmart-backend/pkg/enums"
)

// PaymentTransaction records every settled gateway operation (captures and
// refunds) against an order. IdempotencyKey is unique so a retried call can
// never double-book money.
type PaymentTransaction struct {
	ID             uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID        uuid.UUID             `gorm:"column:order_id;type:uuid;not null;index"`
	Provider       enums.PaymentProvider `gorm:"column:provider;type:payment_provider;not null"`
	Kind           enums.TransactionKind `gorm:"column:kind;type:transaction_kind;not null"`
	ProviderTxnID  string                `gorm:"column:provider_txn_id;not null"`
	AmountCents    int                   `gorm:"column:amount_cents;not null"`
	IdempotencyKey string                `gorm:"column:idempotency_key;not null;uniqueIndex"`
	Succeeded      bool                  `gorm:"column:succeeded;not null"`
	FailureReason  *string               `gorm:"column:failure_reason"`
	CreatedAt      time.Time             `gorm:"column:created_at;autoCreateTime"`
}

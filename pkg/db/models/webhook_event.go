package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/oakmart/oakmart-backend/pkg/enums"
)

// WebhookEvent is the durable record of a processed provider event. The redis
// guard is the fast path; this row is what makes redelivery a no-op even
// after the guard key expires.
type WebhookEvent struct {
	ID              uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Provider        enums.PaymentProvider `gorm:"column:provider;type:payment_provider;not null;uniqueIndex:ux_webhook_events_provider_event"`
	ProviderEventID string                `gorm:"column:provider_event_id;not null;uniqueIndex:ux_webhook_events_provider_event"`
	OrderNumber     string                `gorm:"column:order_number;not null;default:''"`
	Payload         json.RawMessage       `gorm:"column:payload;type:jsonb"`
	ProcessedAt     time.Time             `gorm:"column:processed_at;autoCreateTime"`
}

package shipping

import (
	"context"

	"github.com/oakmart/oakmart-backend/pkg/db/models"
	"github.com/oakmart/oakmart-backend/pkg/enums"
)

// Quote is one carrier's offer to move an order.
type Quote struct {
	Carrier       string             `json:"carrier"`
	ServiceLevel  enums.ServiceLevel `json:"service_level"`
	CostCents     int                `json:"cost_cents"`
	EstimatedDays int                `json:"estimated_days"`
}

// Label is a purchased shipping label.
type Label struct {
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"tracking_number"`
	LabelURL       string `json:"label_url"`
}

// Carrier is the uniform transport-provider contract. Adding a carrier means
// implementing this interface, never branching on a carrier name.
type Carrier interface {
	Name() string
	Quote(ctx context.Context, order *models.Order) (*Quote, error)
	GenerateLabel(ctx context.Context, order *models.Order) (*Label, error)
}

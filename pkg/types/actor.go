package types

import (
	"github.com/google/uuid"

	"github.com/oakmart/oakmart-backend/pkg/enums"
)

// Actor is the principal driving a state transition. It is passed explicitly
// into every mutating call so audit attribution never relies on ambient state.
type Actor struct {
	ID   uuid.UUID
	Role enums.ActorRole
}

// SystemActor attributes machine-initiated transitions.
func SystemActor() Actor {
	return Actor{Role: enums.ActorRoleSystem}
}

// WebhookActor attributes transitions applied from provider webhooks.
func WebhookActor() Actor {
	return Actor{Role: enums.ActorRoleWebhook}
}

package enums

import "fmt"

// ItemCondition describes the physical state of a returned item at receipt.
// Damaged items are excluded from refunds and never restocked.
type ItemCondition string

const (
	ItemConditionSellable ItemCondition = "sellable"
	ItemConditionOpened   ItemCondition = "opened"
	ItemConditionDamaged  ItemCondition = "damaged"
)

var validItemConditions = []ItemCondition{
	ItemConditionSellable,
	ItemConditionOpened,
	ItemConditionDamaged,
}

// String implements fmt.Stringer.
func (i ItemCondition) String() string {
	return string(i)
}

// IsValid reports whether the value is a known ItemCondition.
func (i ItemCondition) IsValid() bool {
	for _, candidate := range validItemConditions {
		if candidate == i {
			return true
		}
	}
	return false
}

// Refundable reports whether an item received in this condition counts
// toward the settled refund amount.
func (i ItemCondition) Refundable() bool {
	return i == ItemConditionSellable || i == ItemConditionOpened
}

// ParseItemCondition converts raw input into an ItemCondition.
func ParseItemCondition(value string) (ItemCondition, error) {
	for _, candidate := range validItemConditions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid item condition %q", value)
}

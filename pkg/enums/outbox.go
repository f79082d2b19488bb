package enums

import "fmt"

// OutboxAggregateType identifies the entity an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateAccount     OutboxAggregateType = "account"
	AggregateTransaction OutboxAggregateType = "transaction"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateAccount,
	AggregateTransaction,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// OutboxEventType names ledger events fanned out to subscribers.
type OutboxEventType string

const (
	EventTokensCredited      OutboxEventType = "tokens_credited"
	EventAutoReloadDisabled  OutboxEventType = "auto_reload_disabled"
	EventSubscriptionExpired OutboxEventType = "subscription_expired"
)

var validOutboxEventTypes = []OutboxEventType{
	EventTokensCredited,
	EventAutoReloadDisabled,
	EventSubscriptionExpired,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

package billing

import (
	"errors"
	"fmt"
	"time"
)

// EventKind is the closed set of canonical webhook event types. Unknown
// provider kinds normalize to EventIgnored so new provider events never break
// processing.
type EventKind int

const (
	EventIgnored EventKind = iota
	EventPaymentSucceeded
	EventSubscriptionCreated
	EventSubscriptionDisabled
	EventPaymentFailed
)

func (k EventKind) String() string {
	switch k {
	case EventPaymentSucceeded:
		return "payment_succeeded"
	case EventSubscriptionCreated:
		return "subscription_created"
	case EventSubscriptionDisabled:
		return "subscription_disabled"
	case EventPaymentFailed:
		return "payment_failed"
	default:
		return "ignored"
	}
}

// CanonicalEvent is the provider-agnostic shape of a webhook event after
// normalization. Quota is nil when the event carries no explicit cap.
type CanonicalEvent struct {
	Kind          EventKind
	UserID        uint
	PlanID        string
	Quota         *int64
	ExternalID    string
	ExternalSubID string
	Reference     string
	Amount        int64
	OccurredAt    time.Time
}

// NormalizationError reports a webhook payload that could not be mapped to a
// canonical event because a required field is missing or malformed.
type NormalizationError struct {
	Field string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("webhook payload is missing required field %q", e.Field)
}

var (
	// ErrTransactionNotFound is returned when a verify call names a reference
	// that neither the local store nor the provider knows about.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrProviderFailure wraps upstream payment provider errors; callers map
	// it to a retryable 502.
	ErrProviderFailure = errors.New("payment provider request failed")

	// ErrUnknownPlan is returned when a payment initiation names a plan the
	// entitlement table does not know.
	ErrUnknownPlan = errors.New("unknown plan")
)

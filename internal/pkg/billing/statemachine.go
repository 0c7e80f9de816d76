package billing

import (
	"time"

	"github.com/ManuelReschke/QuotaFox/app/models"
	"github.com/ManuelReschke/QuotaFox/internal/pkg/entitlements"
)

// Transition is the outcome of applying a canonical event to a subscription.
// When Applied is false the subscription must not be written and no usage log
// entry may be appended.
type Transition struct {
	Applied   bool
	Reason    string
	LogAction string
}

// ApplyEvent mutates the subscription in place according to the canonical
// event and reports whether the transition was applied. The function is pure
// over its inputs: ordering against concurrent transactions and idempotency
// of redeliveries are enforced by the service layer before calling in.
//
// Rules:
//   - payment success / subscription created: plan and quota follow the event
//     (event cap, else plan default), status becomes active.
//   - subscription disabled: back to the free tier, status cancelled.
//   - payment failed: status only; a failed renewal does not revoke access.
//   - an event older than the subscription's last applied event is skipped.
func ApplyEvent(sub *models.Subscription, ev *CanonicalEvent) Transition {
	if ev.Kind == EventIgnored {
		return Transition{Reason: "ignored event kind"}
	}
	if isStale(sub, ev) {
		return Transition{Reason: "stale event, newer transition already applied"}
	}

	switch ev.Kind {
	case EventPaymentSucceeded, EventSubscriptionCreated:
		sub.Plan = ev.PlanID
		sub.Quota = eventQuota(ev)
		sub.Status = models.SubscriptionStatusActive
		if ev.ExternalSubID != "" {
			sub.ExternalSubscriptionID = ev.ExternalSubID
		}
		touch(sub, ev)
		return Transition{Applied: true, LogAction: models.UsageActionPaymentSuccess}

	case EventSubscriptionDisabled:
		sub.Plan = string(entitlements.PlanFree)
		sub.Quota = entitlements.FreeQuota
		sub.Status = models.SubscriptionStatusCancelled
		touch(sub, ev)
		return Transition{Applied: true, LogAction: models.UsageActionCancellation}

	case EventPaymentFailed:
		sub.Status = models.SubscriptionStatusPaymentFailed
		touch(sub, ev)
		return Transition{Applied: true, LogAction: models.UsageActionPaymentFailed}
	}

	return Transition{Reason: "unhandled event kind"}
}

func eventQuota(ev *CanonicalEvent) int64 {
	if ev.Quota != nil {
		return *ev.Quota
	}
	// Plan default from the entitlement table; unmapped paid plans fall back
	// to the generic paid cap rather than the free tier.
	if entitlements.IsKnownPlan(ev.PlanID) {
		return entitlements.QuotaFor(entitlements.Plan(ev.PlanID))
	}
	return entitlements.DefaultQuota
}

func isStale(sub *models.Subscription, ev *CanonicalEvent) bool {
	if sub.LastEventAt == nil || ev.OccurredAt.IsZero() {
		return false
	}
	return ev.OccurredAt.Before(*sub.LastEventAt)
}

func touch(sub *models.Subscription, ev *CanonicalEvent) {
	at := ev.OccurredAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	sub.LastEventAt = &at
}

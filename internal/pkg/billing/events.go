package billing

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// flexID accepts JSON numbers and strings; providers are not consistent about
// how they echo metadata values back.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

func (f flexID) Uint() (uint, bool) {
	v, err := strconv.ParseUint(string(f), 10, 64)
	if err != nil {
		return 0, false
	}
	return uint(v), true
}

func (f flexID) Int64() (int64, bool) {
	v, err := strconv.ParseInt(string(f), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

type webhookMetadata struct {
	UserID   flexID `json:"user_id"`
	PlanID   string `json:"plan_id"`
	MaxUsage flexID `json:"max_usage"`
}

type webhookData struct {
	ID             flexID          `json:"id"`
	Reference      string          `json:"reference"`
	Amount         int64           `json:"amount"`
	Status         string          `json:"status"`
	PaidAt         string          `json:"paid_at"`
	CreatedAt      string          `json:"created_at"`
	SubscriptionID flexID          `json:"subscription_code"`
	Metadata       webhookMetadata `json:"metadata"`
}

type webhookEnvelope struct {
	Event string      `json:"event"`
	Data  webhookData `json:"data"`
}

// ParseWebhookEnvelope decodes the provider envelope from the raw body.
func ParseWebhookEnvelope(raw []byte) (string, *webhookData, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", nil, err
	}
	return strings.TrimSpace(env.Event), &env.Data, nil
}

func canonicalKind(eventType string) EventKind {
	switch strings.ToLower(strings.TrimSpace(eventType)) {
	case "charge.success":
		return EventPaymentSucceeded
	case "subscription.create":
		return EventSubscriptionCreated
	case "subscription.disable", "subscription.not_renew":
		return EventSubscriptionDisabled
	case "invoice.payment_failed", "charge.failed":
		return EventPaymentFailed
	default:
		return EventIgnored
	}
}

// NormalizeEvent maps a provider event kind plus payload data to a canonical
// event. Unknown kinds yield EventIgnored without an error; subscription
// affecting kinds require metadata.user_id, and payment success / subscription
// creation additionally require metadata.plan_id.
func NormalizeEvent(eventType string, data *webhookData) (*CanonicalEvent, error) {
	kind := canonicalKind(eventType)
	if kind == EventIgnored {
		return &CanonicalEvent{Kind: EventIgnored}, nil
	}

	userID, ok := data.Metadata.UserID.Uint()
	if !ok || userID == 0 {
		return nil, &NormalizationError{Field: "metadata.user_id"}
	}

	planID := strings.TrimSpace(data.Metadata.PlanID)
	if planID == "" && (kind == EventPaymentSucceeded || kind == EventSubscriptionCreated) {
		return nil, &NormalizationError{Field: "metadata.plan_id"}
	}

	ev := &CanonicalEvent{
		Kind:       kind,
		UserID:     userID,
		PlanID:     planID,
		ExternalID: string(data.ID),
		Reference:  strings.TrimSpace(data.Reference),
		Amount:     data.Amount,
		OccurredAt: eventTime(data),
	}
	if sub := strings.TrimSpace(string(data.SubscriptionID)); sub != "" {
		ev.ExternalSubID = sub
	}
	if max, ok := data.Metadata.MaxUsage.Int64(); ok && max != 0 {
		ev.Quota = &max
	}
	return ev, nil
}

func eventTime(data *webhookData) time.Time {
	for _, raw := range []string{data.PaidAt, data.CreatedAt} {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}

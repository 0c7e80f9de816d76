package models

import (
	"time"

	"github.com/ManuelReschke/QuotaFox/internal/pkg/entitlements"
)

const (
	SubscriptionStatusActive        = "active"
	SubscriptionStatusCancelled     = "cancelled"
	SubscriptionStatusPaymentFailed = "payment_failed"
)

// Subscription holds a user's current plan, usage cap and billing status.
// It is mutated only by the billing state machine; quota is derived from the
// plan at the moment of the last applied transition.
type Subscription struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	UserID                 uint       `gorm:"not null;uniqueIndex:ux_subscriptions_user" json:"user_id"`
	Plan                   string     `gorm:"type:varchar(50);not null;default:'free';index" json:"plan"`
	Quota                  int64      `gorm:"not null;default:50" json:"quota"`
	Status                 string     `gorm:"type:varchar(32);not null;default:'active';index" json:"status"`
	ExternalSubscriptionID string     `gorm:"type:varchar(191);default:''" json:"external_subscription_id"`
	LastEventAt            *time.Time `gorm:"type:timestamp;default:null" json:"last_event_at,omitempty"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsUnlimited reports whether this subscription has no usage cap.
func (s *Subscription) IsUnlimited() bool {
	return entitlements.IsUnlimited(s.Quota)
}

// NewFreeSubscription returns the default subscription for a user that has
// never paid.
func NewFreeSubscription(userID uint) *Subscription {
	return &Subscription{
		UserID: userID,
		Plan:   string(entitlements.PlanFree),
		Quota:  entitlements.FreeQuota,
		Status: SubscriptionStatusActive,
	}
}

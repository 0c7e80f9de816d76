package repository

import "github.com/ManuelReschke/QuotaFox/app/models"

// SubscriptionRepository exposes read access to subscription state for
// request handlers; writes go through the billing service only.
type SubscriptionRepository interface {
	GetByUserID(userID uint) (*models.Subscription, error)
}

// UsageRepository manages per-user usage counters and the append-only usage
// log. IncrementIfBelow is the single quota-relevant write path and must be
// atomic with respect to concurrent calls for the same user.
type UsageRepository interface {
	GetOrCreateCounter(userID uint) (*models.UsageCounter, error)
	// IncrementIfBelow atomically increments the counter when count < limit
	// and reports whether the increment happened.
	IncrementIfBelow(userID uint, limit int64) (bool, error)
	// Increment bumps the counter unconditionally (unlimited plans, where
	// counting is analytics only).
	Increment(userID uint) error
	CurrentCount(userID uint) (int64, error)
	AppendLog(entry *models.UsageLogEntry) error
}

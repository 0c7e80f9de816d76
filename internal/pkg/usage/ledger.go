package usage

import (
	"encoding/json"
	"errors"

	"github.com/ManuelReschke/QuotaFox/app/models"
	"github.com/ManuelReschke/QuotaFox/app/repository"
	"github.com/ManuelReschke/QuotaFox/internal/pkg/metrics/counter"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// ErrProfileNotFound is returned when the user has no subscription record at
// all; callers map it to 404.
var ErrProfileNotFound = errors.New("profile not found")

// Result is the outcome of a quota check. Denied results are user-actionable,
// not errors: Count and Quota let the caller render an upgrade prompt.
type Result struct {
	Allowed bool
	Count   int64
	Quota   int64
}

// Ledger gate-checks billable actions against the user's plan quota and
// increments the usage counter exactly once per accepted action.
type Ledger struct {
	subs  repository.SubscriptionRepository
	usage repository.UsageRepository

	// retryLog enqueues a failed usage log append for a later attempt.
	retryLog func(entry *models.UsageLogEntry)
}

// NewLedger creates a usage ledger from injected repositories.
func NewLedger(subs repository.SubscriptionRepository, usage repository.UsageRepository) *Ledger {
	return &Ledger{subs: subs, usage: usage}
}

// WithLogRetry installs the hook used to re-attempt failed log appends.
func (l *Ledger) WithLogRetry(fn func(entry *models.UsageLogEntry)) *Ledger {
	l.retryLog = fn
	return l
}

// CheckAndIncrement allows or denies a billable action for the user. Plans
// without a cap always allow; the counter still moves for analytics. For
// finite quotas the check and the increment happen in one atomic guarded
// update, so concurrent calls can never overshoot the quota.
func (l *Ledger) CheckAndIncrement(userID uint, action string) (*Result, error) {
	sub, err := l.subs.GetByUserID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}

	if _, err := l.usage.GetOrCreateCounter(userID); err != nil {
		return nil, err
	}

	if sub.IsUnlimited() {
		if err := l.usage.Increment(userID); err != nil {
			log.Warnf("[Usage] analytics increment failed for user %d: %v", userID, err)
		}
		l.recordAccepted(userID, action)
		count, countErr := l.usage.CurrentCount(userID)
		if countErr != nil {
			log.Warnf("[Usage] could not read counter for user %d: %v", userID, countErr)
		}
		return &Result{Allowed: true, Count: count, Quota: sub.Quota}, nil
	}

	allowed, err := l.usage.IncrementIfBelow(userID, sub.Quota)
	if err != nil {
		return nil, err
	}
	count, countErr := l.usage.CurrentCount(userID)
	if countErr != nil {
		log.Warnf("[Usage] could not read counter for user %d: %v", userID, countErr)
	}
	if !allowed {
		return &Result{Allowed: false, Count: count, Quota: sub.Quota}, nil
	}

	l.recordAccepted(userID, action)
	return &Result{Allowed: true, Count: count, Quota: sub.Quota}, nil
}

// Current returns the user's plan, quota and counter without incrementing.
func (l *Ledger) Current(userID uint) (*models.Subscription, int64, error) {
	sub, err := l.subs.GetByUserID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, 0, ErrProfileNotFound
		}
		return nil, 0, err
	}
	count, err := l.usage.CurrentCount(userID)
	if err != nil {
		return nil, 0, err
	}
	return sub, count, nil
}

// recordAccepted appends the audit log entry and bumps the Redis analytics
// counter. Both are best-effort: a missing log entry is tolerated, a missing
// increment of the durable counter is not (and happened before this call).
func (l *Ledger) recordAccepted(userID uint, action string) {
	meta, _ := json.Marshal(map[string]string{"action": action})
	entry := &models.UsageLogEntry{
		UserID:   userID,
		Action:   action,
		Metadata: string(meta),
	}
	if err := l.usage.AppendLog(entry); err != nil {
		log.Warnf("[Usage] log append failed for user %d action %s: %v", userID, action, err)
		if l.retryLog != nil {
			l.retryLog(entry)
		}
	}

	if err := counter.AddAction(action); err != nil {
		log.Debugf("[Usage] analytics counter for %s not recorded: %v", action, err)
	}
}

package models

import "time"

// Usage log actions written by the core. Billable actions use the caller
// supplied action name; subscription lifecycle events use the constants below.
const (
	UsageActionPaymentSuccess = "payment_success"
	UsageActionPaymentFailed  = "payment_failed"
	UsageActionCancellation   = "subscription_cancelled"
)

// UsageLogEntry is an append-only record of a billable action or a
// subscription lifecycle event. Entries are never updated or deleted.
type UsageLogEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	Action    string    `gorm:"type:varchar(100);not null;index" json:"action"`
	Metadata  string    `gorm:"type:text" json:"metadata"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

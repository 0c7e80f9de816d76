package models

import "time"

// UsageCounter tracks how many billable actions a user has performed. The
// count only ever grows; the guarded increment in the usage repository is the
// single write path during normal operation.
type UsageCounter struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;uniqueIndex:ux_usage_counters_user" json:"user_id"`
	Count     int64     `gorm:"not null;default:0" json:"count"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

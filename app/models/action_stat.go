package models

import "time"

// ActionStat holds aggregated per-day action counts flushed from the Redis
// analytics counters. Purely informational, never consulted for quota checks.
type ActionStat struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Action    string    `gorm:"type:varchar(100);not null;index:ux_action_stats_action_date,unique,priority:1" json:"action"`
	Date      string    `gorm:"type:varchar(10);not null;index:ux_action_stats_action_date,unique,priority:2" json:"date"`
	Count     int64     `gorm:"not null;default:0" json:"count"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

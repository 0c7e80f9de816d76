package jobqueue

import (
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/QuotaFox/app/models"
	"github.com/ManuelReschke/QuotaFox/internal/pkg/database"
)

// processUsageLogJob appends a usage log entry that failed its synchronous
// write. The entry is recreated from the job payload, so a retry never
// depends on in-memory state of the process that enqueued it.
func (q *Queue) processUsageLogJob(job *Job) error {
	payload, err := UsageLogJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid usage log payload: %w", err)
	}

	if payload.UserID == 0 || payload.Action == "" {
		return fmt.Errorf("usage log payload missing user_id or action")
	}

	db := database.GetDB()
	if db == nil {
		return fmt.Errorf("database not initialized")
	}

	entry := models.UsageLogEntry{
		UserID:   payload.UserID,
		Action:   payload.Action,
		Metadata: payload.Metadata,
	}
	if err := db.Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to append usage log for user %d: %w", payload.UserID, err)
	}

	log.Debugf("[JobQueue] Appended deferred usage log entry for user %d (action=%s)", payload.UserID, payload.Action)
	return nil
}

// EnqueueUsageLogAppend schedules a usage log entry for a later write.
func (q *Queue) EnqueueUsageLogAppend(entry *models.UsageLogEntry) (*Job, error) {
	payload := UsageLogJobPayload{
		UserID:   entry.UserID,
		Action:   entry.Action,
		Metadata: entry.Metadata,
	}
	return q.EnqueueJob(JobTypeUsageLogAppend, payload.ToMap())
}

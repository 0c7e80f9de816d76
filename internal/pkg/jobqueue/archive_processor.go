package jobqueue

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/QuotaFox/app/models"
	"github.com/ManuelReschke/QuotaFox/internal/pkg/billing"
	"github.com/ManuelReschke/QuotaFox/internal/pkg/database"
	"github.com/ManuelReschke/QuotaFox/internal/pkg/s3archive"
)

// processWebhookArchiveJob uploads a processed webhook payload to S3 and
// stamps the row as archived. The database row stays the source of truth;
// the archive is an audit copy.
func (q *Queue) processWebhookArchiveJob(ctx context.Context, job *Job) error {
	payload, err := WebhookArchiveJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid webhook archive payload: %w", err)
	}
	if payload.EventID == 0 {
		return fmt.Errorf("webhook archive payload missing event_id")
	}

	if !s3archive.IsEnabled() {
		log.Debugf("[JobQueue] S3 archiving disabled, skipping event %d", payload.EventID)
		return nil
	}

	db := database.GetDB()
	if db == nil {
		return fmt.Errorf("database not initialized")
	}
	repo := billing.NewRepository(db)

	event, err := repo.GetWebhookEvent(payload.EventID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Event row gone, nothing to archive
			log.Warnf("[JobQueue] Webhook event %d not found, skipping archive", payload.EventID)
			return nil
		}
		return fmt.Errorf("failed to load webhook event %d: %w", payload.EventID, err)
	}

	if event.ArchivedAt != nil {
		log.Debugf("[JobQueue] Webhook event %d already archived", event.ID)
		return nil
	}

	client, err := s3archive.GetClient()
	if err != nil {
		return fmt.Errorf("failed to initialize S3 archive client: %w", err)
	}

	key := client.ObjectKey(event)
	if err := client.UploadPayload(ctx, key, []byte(event.PayloadJSON)); err != nil {
		return fmt.Errorf("failed to upload webhook event %d: %w", event.ID, err)
	}

	if err := repo.MarkWebhookArchived(event.ID); err != nil {
		return fmt.Errorf("failed to mark webhook event %d archived: %w", event.ID, err)
	}

	log.Infof("[JobQueue] Archived webhook event %d to %s", event.ID, key)
	return nil
}

// EnqueueWebhookArchive schedules a processed webhook event for S3 archiving.
// It is a no-op when archiving is disabled.
func (q *Queue) EnqueueWebhookArchive(event *models.PaymentWebhookEvent) (*Job, error) {
	if !s3archive.IsEnabled() {
		return nil, nil
	}
	payload := WebhookArchiveJobPayload{EventID: event.ID}
	return q.EnqueueJob(JobTypeWebhookArchive, payload.ToMap())
}

package billing

import (
	"errors"
	"time"

	"github.com/ManuelReschke/QuotaFox/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the billing service.
type Repository interface {
	GetSubscriptionByUserID(userID uint) (*models.Subscription, error)
	GetOrCreateSubscription(userID uint) (*models.Subscription, error)
	SaveSubscription(sub *models.Subscription) error

	CreateTransaction(t *models.Transaction) error
	GetTransactionByReference(reference string) (*models.Transaction, error)
	CompleteTransactionIfPending(reference, externalID string, completedAt time.Time) (bool, error)
	MarkTransactionFailed(reference string) error
	LatestCompletedTransaction(userID uint) (*models.Transaction, error)
	ListPendingTransactionsOlderThan(cutoff time.Time, limit int) ([]models.Transaction, error)

	CreateWebhookEventIfNotExists(event *models.PaymentWebhookEvent) (bool, *models.PaymentWebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
	GetWebhookEvent(id uint) (*models.PaymentWebhookEvent, error)
	MarkWebhookArchived(id uint) error

	AppendUsageLog(entry *models.UsageLogEntry) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetSubscriptionByUserID(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.Where("user_id = ?", userID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) GetOrCreateSubscription(userID uint) (*models.Subscription, error) {
	sub, err := r.GetSubscriptionByUserID(userID)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	fresh := models.NewFreeSubscription(userID)
	if err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(fresh).Error; err != nil {
		return nil, err
	}
	// Re-read so a concurrent creator's row wins.
	return r.GetSubscriptionByUserID(userID)
}

func (r *gormRepository) SaveSubscription(sub *models.Subscription) error {
	return r.db.Save(sub).Error
}

func (r *gormRepository) CreateTransaction(t *models.Transaction) error {
	return r.db.Create(t).Error
}

func (r *gormRepository) GetTransactionByReference(reference string) (*models.Transaction, error) {
	var t models.Transaction
	if err := r.db.Where("reference = ?", reference).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// CompleteTransactionIfPending flips a pending transaction to completed in a
// single conditional UPDATE. The returned bool is true only for the write
// that actually won; redeliveries and verify/webhook races see false.
func (r *gormRepository) CompleteTransactionIfPending(reference, externalID string, completedAt time.Time) (bool, error) {
	tx := r.db.Model(&models.Transaction{}).
		Where("reference = ? AND status = ?", reference, models.TransactionStatusPending).
		Updates(map[string]interface{}{
			"status":                  models.TransactionStatusCompleted,
			"external_transaction_id": externalID,
			"completed_at":            completedAt,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) MarkTransactionFailed(reference string) error {
	return r.db.Model(&models.Transaction{}).
		Where("reference = ? AND status = ?", reference, models.TransactionStatusPending).
		Update("status", models.TransactionStatusFailed).Error
}

func (r *gormRepository) LatestCompletedTransaction(userID uint) (*models.Transaction, error) {
	var t models.Transaction
	err := r.db.Where("user_id = ? AND status = ?", userID, models.TransactionStatusCompleted).
		Order("completed_at DESC").
		First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *gormRepository) ListPendingTransactionsOlderThan(cutoff time.Time, limit int) ([]models.Transaction, error) {
	var txns []models.Transaction
	err := r.db.Where("status = ? AND created_at < ?", models.TransactionStatusPending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&txns).Error
	return txns, err
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.PaymentWebhookEvent) (bool, *models.PaymentWebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.PaymentWebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.PaymentWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

func (r *gormRepository) GetWebhookEvent(id uint) (*models.PaymentWebhookEvent, error) {
	var event models.PaymentWebhookEvent
	if err := r.db.First(&event, id).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *gormRepository) MarkWebhookArchived(id uint) error {
	now := time.Now()
	return r.db.Model(&models.PaymentWebhookEvent{}).Where("id = ?", id).
		Update("archived_at", &now).Error
}

func (r *gormRepository) AppendUsageLog(entry *models.UsageLogEntry) error {
	return r.db.Create(entry).Error
}

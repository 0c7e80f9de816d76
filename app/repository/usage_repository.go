package repository

import (
	"errors"

	"github.com/ManuelReschke/QuotaFox/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type usageRepository struct {
	db *gorm.DB
}

// NewUsageRepository creates a usage repository backed by GORM.
func NewUsageRepository(db *gorm.DB) UsageRepository {
	return &usageRepository{db: db}
}

func (r *usageRepository) GetOrCreateCounter(userID uint) (*models.UsageCounter, error) {
	var counter models.UsageCounter
	err := r.db.Where("user_id = ?", userID).First(&counter).Error
	if err == nil {
		return &counter, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	fresh := &models.UsageCounter{UserID: userID}
	if err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(fresh).Error; err != nil {
		return nil, err
	}
	if err := r.db.Where("user_id = ?", userID).First(&counter).Error; err != nil {
		return nil, err
	}
	return &counter, nil
}

// IncrementIfBelow performs the check and the increment in one guarded SQL
// statement so two concurrent calls can never both claim the last quota slot.
func (r *usageRepository) IncrementIfBelow(userID uint, limit int64) (bool, error) {
	tx := r.db.Model(&models.UsageCounter{}).
		Where("user_id = ? AND count < ?", userID, limit).
		UpdateColumn("count", gorm.Expr("count + ?", 1))
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *usageRepository) Increment(userID uint) error {
	return r.db.Model(&models.UsageCounter{}).
		Where("user_id = ?", userID).
		UpdateColumn("count", gorm.Expr("count + ?", 1)).Error
}

func (r *usageRepository) CurrentCount(userID uint) (int64, error) {
	counter, err := r.GetOrCreateCounter(userID)
	if err != nil {
		return 0, err
	}
	return counter.Count, nil
}

func (r *usageRepository) AppendLog(entry *models.UsageLogEntry) error {
	return r.db.Create(entry).Error
}

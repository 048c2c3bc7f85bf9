package repository

import (
	"luma_backend/internal/model"
	"time"

	"gorm.io/gorm"
)

type QuotaRepository struct {
	DB *gorm.DB
}

func NewQuotaRepository(db *gorm.DB) *QuotaRepository {
	return &QuotaRepository{DB: db}
}

func (r *QuotaRepository) Create(ledger *model.QuotaLedger) error {
	return r.DB.Create(ledger).Error
}

func (r *QuotaRepository) FindLedger(userID uint, bucket string) (*model.QuotaLedger, error) {
	var ledger model.QuotaLedger
	err := r.DB.Where("user_id = ? AND bucket = ?", userID, bucket).First(&ledger).Error
	if err != nil {
		return nil, err
	}
	return &ledger, nil
}

func (r *QuotaRepository) ListByUser(userID uint) ([]model.QuotaLedger, error) {
	var ledgers []model.QuotaLedger
	err := r.DB.Where("user_id = ?", userID).Order("bucket").Find(&ledgers).Error
	return ledgers, err
}

// ListDue 选出重置日已到的台账，选取谓词本身保证了重置的幂等
func (r *QuotaRepository) ListDue(now time.Time) ([]model.QuotaLedger, error) {
	var ledgers []model.QuotaLedger
	err := r.DB.Where("reset_at <= ?", now).Find(&ledgers).Error
	return ledgers, err
}

func (r *QuotaRepository) ListLogs(userID uint, bucket string, page, limit int) ([]model.QuotaLogEntry, int64, error) {
	var entries []model.QuotaLogEntry
	var total int64

	q := r.DB.Model(&model.QuotaLogEntry{})
	if userID != 0 {
		q = q.Where("user_id = ?", userID)
	}
	if bucket != "" {
		q = q.Where("bucket = ?", bucket)
	}
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := q.Order("created_at DESC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&entries).Error; err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (r *QuotaRepository) CountLogsByReason(userID uint, bucket string, reason model.QuotaLogReason) (int64, error) {
	var count int64
	err := r.DB.Model(&model.QuotaLogEntry{}).
		Where("user_id = ? AND bucket = ? AND reason = ?", userID, bucket, reason).
		Count(&count).Error
	return count, err
}

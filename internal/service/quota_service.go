package service

import (
	"errors"
	"fmt"
	"luma_backend/internal/config"
	"luma_backend/internal/model"
	"luma_backend/internal/repository"
	"luma_backend/internal/util"
	"luma_backend/pkg/logger"
	"luma_backend/pkg/monitoring"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type QuotaService struct {
	Repo *repository.QuotaRepository
	Cfg  *config.Config
	DB   *gorm.DB
}

func NewQuotaService(repo *repository.QuotaRepository, cfg *config.Config, db *gorm.DB) *QuotaService {
	return &QuotaService{Repo: repo, Cfg: cfg, DB: db}
}

// QuotaStatus 单个桶的配额快照
type QuotaStatus struct {
	Bucket       string `json:"bucket"`
	Used         int    `json:"used"`
	MonthlyLimit int    `json:"monthlyLimit"`
	Remaining    int    `json:"remaining"`
	Allowed      bool   `json:"allowed"`
}

// EnsureLedgers 开户时为全部配额桶建台账，used=0，重置日为一个月后。
// 已存在的行保持不变，重复调用安全。
func (s *QuotaService) EnsureLedgers(userID uint) error {
	now := time.Now()
	for _, bucket := range model.AllBuckets() {
		ledger := model.QuotaLedger{
			UserID:       userID,
			Bucket:       bucket,
			Used:         0,
			MonthlyLimit: s.Cfg.Quota.LimitFor(bucket),
			ResetAt:      AddMonthClamped(now),
		}
		err := s.DB.Where("user_id = ? AND bucket = ?", userID, bucket).
			FirstOrCreate(&ledger).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// Check 只读校验：used + amount <= limit
func (s *QuotaService) Check(userID uint, bucket string, amount int) (*QuotaStatus, error) {
	ledger, err := s.Repo.FindLedger(userID, bucket)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrNotFound
		}
		return nil, err
	}
	return statusOf(ledger, amount), nil
}

// Consume 在单个事务内重新校验并扣减，并发请求不会双双越过限额。
// 超限返回 ErrQuotaExceeded，不写任何日志，调用方必须视为硬停止。
func (s *QuotaService) Consume(userID uint, bucket string, amount int) (*QuotaStatus, error) {
	var status *QuotaStatus
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		status, err = s.ConsumeTx(tx, userID, bucket, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}

// ConsumeTx 供需要把扣费与其他写入绑在同一事务里的调用方使用
// （例如题目生成：落库与扣费要么同时成功要么同时回滚）
func (s *QuotaService) ConsumeTx(tx *gorm.DB, userID uint, bucket string, amount int) (*QuotaStatus, error) {
	// 带守卫条件的原子更新：提交时重新校验不变式，关闭 check-then-act 竞态
	res := tx.Model(&model.QuotaLedger{}).
		Where("user_id = ? AND bucket = ? AND used + ? <= monthly_limit", userID, bucket, amount).
		Update("used", gorm.Expr("used + ?", amount))
	if res.Error != nil {
		return nil, res.Error
	}

	if res.RowsAffected == 0 {
		var ledger model.QuotaLedger
		err := tx.Where("user_id = ? AND bucket = ?", userID, bucket).First(&ledger).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		monitoring.QuotaConsumeCounter.WithLabelValues(bucket, "rejected").Inc()
		return nil, fmt.Errorf("%w: bucket=%s used=%d limit=%d amount=%d",
			util.ErrQuotaExceeded, bucket, ledger.Used, ledger.MonthlyLimit, amount)
	}

	var ledger model.QuotaLedger
	if err := tx.Where("user_id = ? AND bucket = ?", userID, bucket).First(&ledger).Error; err != nil {
		return nil, err
	}

	entry := model.QuotaLogEntry{
		UserID:        userID,
		Bucket:        bucket,
		Delta:         amount,
		Reason:        model.QuotaReasonConsume,
		ResultingUsed: ledger.Used,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return nil, err
	}

	monitoring.QuotaConsumeCounter.WithLabelValues(bucket, "ok").Inc()
	return statusOf(&ledger, 0), nil
}

// Refund 回退额度，下限为0。用于已扣费但下游生成失败的兜底。
func (s *QuotaService) Refund(userID uint, bucket string, amount int) (*QuotaStatus, error) {
	var status *QuotaStatus
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var ledger model.QuotaLedger
		err := tx.Where("user_id = ? AND bucket = ?", userID, bucket).First(&ledger).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return util.ErrNotFound
		}
		if err != nil {
			return err
		}

		delta := amount
		if delta > ledger.Used {
			delta = ledger.Used
		}
		ledger.Used -= delta
		if err := tx.Save(&ledger).Error; err != nil {
			return err
		}

		entry := model.QuotaLogEntry{
			UserID:        userID,
			Bucket:        bucket,
			Delta:         -delta,
			Reason:        model.QuotaReasonRefund,
			ResultingUsed: ledger.Used,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}

		status = statusOf(&ledger, 0)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}

// AdjustRequest 管理员调整请求，两个字段至少填一个
type AdjustRequest struct {
	MonthlyLimit *int `json:"monthlyLimit"`
	Used         *int `json:"used"`
}

// Adjust 管理员无条件改写限额或用量，审计日志记录操作人
func (s *QuotaService) Adjust(actorID, userID uint, bucket string, req AdjustRequest) (*QuotaStatus, error) {
	if req.MonthlyLimit == nil && req.Used == nil {
		return nil, errors.New("nothing to adjust")
	}
	if req.MonthlyLimit != nil && *req.MonthlyLimit <= 0 {
		return nil, errors.New("monthlyLimit must be positive")
	}
	if req.Used != nil && *req.Used < 0 {
		return nil, errors.New("used must be non-negative")
	}

	var status *QuotaStatus
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var ledger model.QuotaLedger
		err := tx.Where("user_id = ? AND bucket = ?", userID, bucket).First(&ledger).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return util.ErrNotFound
		}
		if err != nil {
			return err
		}

		usedBefore := ledger.Used
		if req.MonthlyLimit != nil {
			ledger.MonthlyLimit = *req.MonthlyLimit
		}
		if req.Used != nil {
			ledger.Used = *req.Used
		}
		if err := tx.Save(&ledger).Error; err != nil {
			return err
		}

		entry := model.QuotaLogEntry{
			UserID:        userID,
			Bucket:        bucket,
			Delta:         ledger.Used - usedBefore,
			Reason:        model.QuotaReasonAdminAdjust,
			ResultingUsed: ledger.Used,
			ActorID:       &actorID,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}

		status = statusOf(&ledger, 0)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}

// Overview 用户全部桶的配额快照
func (s *QuotaService) Overview(userID uint) ([]QuotaStatus, error) {
	ledgers, err := s.Repo.ListByUser(userID)
	if err != nil {
		return nil, err
	}
	statuses := make([]QuotaStatus, 0, len(ledgers))
	for i := range ledgers {
		statuses = append(statuses, *statusOf(&ledgers[i], 0))
	}
	return statuses, nil
}

// RunMonthlyReset 每日扫描：重置所有到期台账。逐行处理，单行失败
// 记日志后继续，不中断整轮扫描。返回成功重置的行数。
func (s *QuotaService) RunMonthlyReset(now time.Time) (int, error) {
	due, err := s.Repo.ListDue(now)
	if err != nil {
		return 0, err
	}

	resetCount := 0
	for i := range due {
		ledger := &due[i]
		if err := s.resetLedger(ledger, now); err != nil {
			logger.Log.Error("quota reset failed for ledger",
				zap.Uint("userId", ledger.UserID),
				zap.String("bucket", ledger.Bucket),
				zap.Error(err))
			continue
		}
		resetCount++
	}
	return resetCount, nil
}

func (s *QuotaService) resetLedger(ledger *model.QuotaLedger, now time.Time) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		var current model.QuotaLedger
		if err := tx.First(&current, ledger.ID).Error; err != nil {
			return err
		}
		// 扫描期间被并发重置过则跳过
		if current.ResetAt.After(now) {
			return nil
		}

		usedBefore := current.Used
		current.Used = 0
		next := AddMonthClamped(current.ResetAt)
		// 长期未扫描时逐月推进到未来
		for !next.After(now) {
			next = AddMonthClamped(next)
		}
		current.ResetAt = next

		if err := tx.Save(&current).Error; err != nil {
			return err
		}

		entry := model.QuotaLogEntry{
			UserID:        current.UserID,
			Bucket:        current.Bucket,
			Delta:         -usedBefore,
			Reason:        model.QuotaReasonSystemReset,
			ResultingUsed: 0,
		}
		return tx.Create(&entry).Error
	})
}

// AddMonthClamped 同号日推后一个月；目标月天数不足时取目标月最后一天
// （如1月31日 -> 2月28/29日）。不能用 time.AddDate，它会把溢出顺延到下下月。
func AddMonthClamped(t time.Time) time.Time {
	year, month, day := t.Date()
	// 下个月最后一天：再下个月的第0天
	lastDay := time.Date(year, month+2, 0, 0, 0, 0, 0, t.Location()).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(year, month+1, day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func statusOf(ledger *model.QuotaLedger, amount int) *QuotaStatus {
	return &QuotaStatus{
		Bucket:       ledger.Bucket,
		Used:         ledger.Used,
		MonthlyLimit: ledger.MonthlyLimit,
		Remaining:    ledger.Remaining(),
		Allowed:      ledger.Used+amount <= ledger.MonthlyLimit,
	}
}

package service

import (
	"luma_backend/internal/model"
	"luma_backend/internal/repository"
	"luma_backend/internal/util"
	"time"

	"gorm.io/gorm"
)

// AnalyticsService 学习数据统计，供个人页与管理后台使用
type AnalyticsService struct {
	QuotaRepo   *repository.QuotaRepository
	SessionRepo *repository.SessionRepository
	UserRepo    *repository.UserRepository
	DB          *gorm.DB
}

func NewAnalyticsService(
	quotaRepo *repository.QuotaRepository,
	sessionRepo *repository.SessionRepository,
	userRepo *repository.UserRepository,
	db *gorm.DB,
) *AnalyticsService {
	return &AnalyticsService{
		QuotaRepo:   quotaRepo,
		SessionRepo: sessionRepo,
		UserRepo:    userRepo,
		DB:          db,
	}
}

// BucketUsage 单个配额桶的消耗概览
type BucketUsage struct {
	Bucket       string    `json:"bucket"`
	Used         int       `json:"used"`
	MonthlyLimit int       `json:"monthlyLimit"`
	Remaining    int       `json:"remaining"`
	ResetAt      time.Time `json:"resetAt"`
	ConsumeCount int64     `json:"consumeCount"`
	RefundCount  int64     `json:"refundCount"`
}

// UserSummary 个人学习概览
type UserSummary struct {
	Buckets           []BucketUsage `json:"buckets"`
	ActiveSessions    int64         `json:"activeSessions"`
	CompletedSessions int64         `json:"completedSessions"`
	WeakPointCount    int64         `json:"weakPointCount"`
}

func (s *AnalyticsService) UserSummary(userID uint) (*UserSummary, error) {
	ledgers, err := s.QuotaRepo.ListByUser(userID)
	if err != nil {
		return nil, err
	}

	summary := &UserSummary{Buckets: make([]BucketUsage, 0, len(ledgers))}
	for _, l := range ledgers {
		consumes, err := s.QuotaRepo.CountLogsByReason(userID, l.Bucket, model.QuotaReasonConsume)
		if err != nil {
			return nil, err
		}
		refunds, err := s.QuotaRepo.CountLogsByReason(userID, l.Bucket, model.QuotaReasonRefund)
		if err != nil {
			return nil, err
		}
		summary.Buckets = append(summary.Buckets, BucketUsage{
			Bucket:       l.Bucket,
			Used:         l.Used,
			MonthlyLimit: l.MonthlyLimit,
			Remaining:    l.Remaining(),
			ResetAt:      l.ResetAt,
			ConsumeCount: consumes,
			RefundCount:  refunds,
		})
	}

	if err := s.DB.Model(&model.LearningSession{}).
		Where("user_id = ? AND status = ?", userID, model.SessionActive).
		Count(&summary.ActiveSessions).Error; err != nil {
		return nil, err
	}
	if err := s.DB.Model(&model.LearningSession{}).
		Where("user_id = ? AND status = ?", userID, model.SessionCompleted).
		Count(&summary.CompletedSessions).Error; err != nil {
		return nil, err
	}

	if err := s.DB.Model(&model.SubtopicProgress{}).
		Joins("JOIN learning_sessions ON learning_sessions.id = subtopic_progress.session_id").
		Where("learning_sessions.user_id = ? AND subtopic_progress.weak_point = ?", userID, true).
		Count(&summary.WeakPointCount).Error; err != nil {
		return nil, err
	}

	return summary, nil
}

// WeakPoints 返回某个会话内被标记为薄弱点的子主题，只能查自己的会话
func (s *AnalyticsService) WeakPoints(userID, sessionID uint) ([]model.SubtopicProgress, error) {
	session, err := s.SessionRepo.FindByID(sessionID)
	if err != nil || session.UserID != userID {
		return nil, util.ErrNotFound
	}
	return s.SessionRepo.ListWeakPoints(sessionID)
}

// PlatformStats 管理后台的平台级统计
type PlatformStats struct {
	StudentCount      int64 `json:"studentCount"`
	ActiveSessions    int64 `json:"activeSessions"`
	CompletedSessions int64 `json:"completedSessions"`
	OutlinedFiles     int64 `json:"outlinedFiles"`
	GeneratedTests    int64 `json:"generatedTests"`
}

func (s *AnalyticsService) PlatformStats() (*PlatformStats, error) {
	stats := &PlatformStats{}

	var err error
	if stats.StudentCount, err = s.UserRepo.CountByRole(model.Student); err != nil {
		return nil, err
	}
	if stats.ActiveSessions, err = s.SessionRepo.CountByStatus(model.SessionActive); err != nil {
		return nil, err
	}
	if stats.CompletedSessions, err = s.SessionRepo.CountByStatus(model.SessionCompleted); err != nil {
		return nil, err
	}
	if err := s.DB.Model(&model.CourseFile{}).
		Where("status = ?", model.FileOutlined).
		Count(&stats.OutlinedFiles).Error; err != nil {
		return nil, err
	}
	if err := s.DB.Model(&model.TopicTest{}).Count(&stats.GeneratedTests).Error; err != nil {
		return nil, err
	}

	return stats, nil
}

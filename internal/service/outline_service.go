package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"luma_backend/internal/model"
	"luma_backend/internal/repository"
	"luma_backend/internal/util"
	"luma_backend/pkg/logger"
	"luma_backend/pkg/monitoring"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	outlineCacheKeyFmt = "luma:outline:%d"
	outlineCacheTTL    = 10 * time.Minute
	maxOutlineTopics   = 30
)

// OutlineService 从PDF课件抽取两级知识大纲（cache-then-generate）
type OutlineService struct {
	Courses   *repository.CourseRepository
	Quota     *QuotaService
	AI        AIClient
	Extractor ContentExtractor
	Redis     *redis.Client
	DB        *gorm.DB
}

func NewOutlineService(courses *repository.CourseRepository, quota *QuotaService, ai AIClient, extractor ContentExtractor, rdb *redis.Client, db *gorm.DB) *OutlineService {
	return &OutlineService{Courses: courses, Quota: quota, AI: ai, Extractor: extractor, Redis: rdb, DB: db}
}

// Extract 抽取课件知识大纲。已抽取过直接返回（不扣费不重新生成）；
// 首次抽取先预检余额，大纲落库成功后才扣费。
func (s *OutlineService) Extract(ctx context.Context, userID, fileID uint) (*model.Outline, error) {
	file, err := s.ownedFile(userID, fileID)
	if err != nil {
		return nil, err
	}

	if len(file.Outline) > 0 {
		return OutlineOf(file)
	}
	if file.Status != model.FileUploaded {
		return nil, fmt.Errorf("%w: file %d is %s, upload must complete first", util.ErrInvalidTransition, file.ID, file.Status)
	}

	status, err := s.Quota.Check(userID, model.BucketLearningInteractions, 1)
	if err != nil {
		return nil, err
	}
	if !status.Allowed {
		return nil, fmt.Errorf("%w: bucket=%s remaining=%d",
			util.ErrQuotaExceeded, model.BucketLearningInteractions, status.Remaining)
	}

	outline, err := s.generateOutline(ctx, file)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(outline)
	if err != nil {
		return nil, err
	}

	err = s.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.CourseFile{}).
			Where("id = ? AND status = ?", file.ID, model.FileUploaded).
			Updates(map[string]interface{}{
				"outline": raw,
				"status":  model.FileOutlined,
			})
		if res.Error != nil {
			return res.Error
		}
		// 并发抽取时只有先落库的那次扣费
		if res.RowsAffected == 0 {
			return nil
		}
		_, err := s.Quota.ConsumeTx(tx, userID, model.BucketLearningInteractions, 1)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.cacheOutline(ctx, fileID, raw)
	return outline, nil
}

// Get 读取大纲，优先走Redis缓存
func (s *OutlineService) Get(ctx context.Context, userID, fileID uint) (*model.Outline, error) {
	if s.Redis != nil {
		cached, err := s.Redis.Get(ctx, fmt.Sprintf(outlineCacheKeyFmt, fileID)).Bytes()
		if err == nil {
			var outline model.Outline
			if json.Unmarshal(cached, &outline) == nil {
				// 缓存命中仍需校验归属
				if _, oerr := s.ownedFile(userID, fileID); oerr != nil {
					return nil, oerr
				}
				return &outline, nil
			}
		}
	}

	file, err := s.ownedFile(userID, fileID)
	if err != nil {
		return nil, err
	}
	outline, err := OutlineOf(file)
	if err != nil {
		return nil, err
	}
	s.cacheOutline(ctx, fileID, file.Outline)
	return outline, nil
}

func (s *OutlineService) generateOutline(ctx context.Context, file *model.CourseFile) (*model.Outline, error) {
	prompt := fmt.Sprintf(
		`从课件《%s》中抽取两级知识大纲。输出JSON对象：{"topics":[{"title":"主题名","type":"CORE或SUPPORTING","subtopics":[{"title":"子主题名"}]}]}。核心主题标CORE，辅助主题标SUPPORTING。`,
		file.Name)

	// 正文提取失败只降级为按文件名抽取，不阻塞大纲生成
	if s.Extractor != nil {
		excerpt, err := s.Extractor.Excerpt(ctx, file)
		if err != nil {
			logger.Log.Warn("courseware text extraction failed, falling back to file name only",
				zap.Uint("fileId", file.ID), zap.Error(err))
		} else if excerpt != "" {
			prompt += fmt.Sprintf("\n课件正文节选：\n%s", excerpt)
		}
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		var outline model.Outline
		if err := s.AI.GenerateJSON(ctx, prompt, &outline); err != nil {
			lastErr = err
			monitoring.AIRequestCounter.WithLabelValues("outline_extraction", "error").Inc()
			continue
		}
		if err := validateOutline(&outline); err != nil {
			lastErr = err
			monitoring.AIRequestCounter.WithLabelValues("outline_extraction", "invalid").Inc()
			logger.Log.Warn("extracted outline failed validation, retrying",
				zap.Uint("fileId", file.ID), zap.Error(err))
			continue
		}
		monitoring.AIRequestCounter.WithLabelValues("outline_extraction", "ok").Inc()
		return &outline, nil
	}
	return nil, lastErr
}

func validateOutline(outline *model.Outline) error {
	if len(outline.Topics) == 0 {
		return fmt.Errorf("%w: outline has no topics", util.ErrGenerationFailed)
	}
	if len(outline.Topics) > maxOutlineTopics {
		return fmt.Errorf("%w: outline has %d topics, max %d", util.ErrGenerationFailed, len(outline.Topics), maxOutlineTopics)
	}
	for i, topic := range outline.Topics {
		if topic.Title == "" {
			return fmt.Errorf("%w: topic %d missing title", util.ErrGenerationFailed, i)
		}
		if topic.Type != model.TopicCore && topic.Type != model.TopicSupporting {
			return fmt.Errorf("%w: topic %d has invalid type %q", util.ErrGenerationFailed, i, topic.Type)
		}
		if len(topic.Subtopics) == 0 {
			return fmt.Errorf("%w: topic %d has no subtopics", util.ErrGenerationFailed, i)
		}
		for j, sub := range topic.Subtopics {
			if sub.Title == "" {
				return fmt.Errorf("%w: topic %d subtopic %d missing title", util.ErrGenerationFailed, i, j)
			}
		}
	}
	return nil
}

func (s *OutlineService) cacheOutline(ctx context.Context, fileID uint, raw []byte) {
	if s.Redis == nil {
		return
	}
	if err := s.Redis.Set(ctx, fmt.Sprintf(outlineCacheKeyFmt, fileID), raw, outlineCacheTTL).Err(); err != nil {
		logger.Log.Warn("failed to cache outline", zap.Uint("fileId", fileID), zap.Error(err))
	}
}

func (s *OutlineService) ownedFile(userID, fileID uint) (*model.CourseFile, error) {
	file, err := s.Courses.FindFileByID(fileID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrNotFound
		}
		return nil, err
	}
	if file.OwnerID != userID {
		return nil, util.ErrNotFound
	}
	return file, nil
}

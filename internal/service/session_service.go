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

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// NextAction 告知调用方下一步该做什么
type NextAction string

const (
	ActionExplainSubtopic NextAction = "EXPLAIN_SUBTOPIC"
	ActionTopicTest       NextAction = "TOPIC_TEST"
	ActionResumeSession   NextAction = "RESUME_SESSION"
	ActionCompleted       NextAction = "COMPLETED"
)

type SessionService struct {
	Sessions  *repository.SessionRepository
	Courses   *repository.CourseRepository
	TopicTest *TopicTestService
	Quota     *QuotaService
	AI        AIClient
	DB        *gorm.DB
}

func NewSessionService(
	sessions *repository.SessionRepository,
	courses *repository.CourseRepository,
	topicTest *TopicTestService,
	quota *QuotaService,
	ai AIClient,
	db *gorm.DB,
) *SessionService {
	return &SessionService{
		Sessions:  sessions,
		Courses:   courses,
		TopicTest: topicTest,
		Quota:     quota,
		AI:        ai,
		DB:        db,
	}
}

// SessionView 会话状态及下一步动作
type SessionView struct {
	Session    *model.LearningSession `json:"session"`
	NextAction NextAction             `json:"nextAction"`
}

// StartOrResume 开始或恢复学习：不存在则从(0,0)新建，已存在则原样返回，
// 重复调用不会重置进度。
func (s *SessionService) StartOrResume(ctx context.Context, userID, fileID uint) (*SessionView, error) {
	file, err := s.ownedFile(userID, fileID)
	if err != nil {
		return nil, err
	}
	outline, err := OutlineOf(file)
	if err != nil {
		return nil, err
	}

	session, err := s.Sessions.FindByUserAndFile(userID, fileID)
	if err == nil {
		return &SessionView{Session: session, NextAction: s.nextActionFor(session, outline)}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	handle, err := s.AI.CreateContext(ctx)
	if err != nil {
		return nil, err
	}

	session = &model.LearningSession{
		UserID:        userID,
		FileID:        fileID,
		Status:        model.SessionActive,
		ContextHandle: handle,
	}
	if err := s.Sessions.Create(session); err != nil {
		// 并发 start 撞唯一索引时回退为 resume
		if existing, ferr := s.Sessions.FindByUserAndFile(userID, fileID); ferr == nil {
			return &SessionView{Session: existing, NextAction: s.nextActionFor(existing, outline)}, nil
		}
		return nil, err
	}
	return &SessionView{Session: session, NextAction: ActionExplainSubtopic}, nil
}

// Pause ACTIVE -> PAUSED，位置不变
func (s *SessionService) Pause(userID, sessionID uint) (*model.LearningSession, error) {
	session, err := s.ownedSession(userID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != model.SessionActive {
		return nil, fmt.Errorf("%w: cannot pause session in status %s", util.ErrInvalidTransition, session.Status)
	}
	session.Status = model.SessionPaused
	if err := s.Sessions.Save(session); err != nil {
		return nil, err
	}
	return session, nil
}

// Resume PAUSED -> ACTIVE
func (s *SessionService) Resume(userID, sessionID uint) (*model.LearningSession, error) {
	session, err := s.ownedSession(userID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != model.SessionPaused {
		return nil, fmt.Errorf("%w: cannot resume session in status %s", util.ErrInvalidTransition, session.Status)
	}
	session.Status = model.SessionActive
	if err := s.Sessions.Save(session); err != nil {
		return nil, err
	}
	return session, nil
}

// ExplainSubtopic 为当前子主题生成讲解。已有讲解直接返回（缓存命中不扣费）；
// 否则先查余额，生成成功后才扣费，生成失败不会留下扣费。
func (s *SessionService) ExplainSubtopic(ctx context.Context, userID, sessionID uint) (*model.SubtopicProgress, error) {
	session, err := s.activeSession(userID, sessionID)
	if err != nil {
		return nil, err
	}
	file, outline, err := s.fileAndOutline(session)
	if err != nil {
		return nil, err
	}
	topic, subtopic, err := currentPosition(outline, session)
	if err != nil {
		return nil, err
	}

	progress, err := s.ensureSubtopic(session.ID, session.CurrentTopicIndex, session.CurrentSubtopicIndex)
	if err != nil {
		return nil, err
	}
	if progress.Status != model.SubtopicPending {
		return progress, nil
	}

	status, err := s.Quota.Check(userID, model.BucketLearningInteractions, 1)
	if err != nil {
		return nil, err
	}
	if !status.Allowed {
		return nil, fmt.Errorf("%w: bucket=%s remaining=%d",
			util.ErrQuotaExceeded, model.BucketLearningInteractions, status.Remaining)
	}

	prompt := fmt.Sprintf(
		"课件《%s》正在学习主题「%s」。请面向大学生，通俗、分层次地讲解子主题「%s」，先给出核心概念，再举一个具体例子。",
		file.Name, topic.Title, subtopic.Title)

	text, err := s.chatWithContext(ctx, session, prompt)
	if err != nil {
		return nil, err
	}

	// 讲解落库与扣费同事务提交，不会出现已扣费但没保存下来的讲解
	progress.Explanation = text
	progress.Status = model.SubtopicExplained
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(progress).Error; err != nil {
			return err
		}
		_, err := s.Quota.ConsumeTx(tx, userID, model.BucketLearningInteractions, 1)
		return err
	})
	if err != nil {
		return nil, err
	}
	return progress, nil
}

// Ask 在会话上下文中就当前主题自由提问（同样计入讲解/问答配额）
func (s *SessionService) Ask(ctx context.Context, userID, sessionID uint, question string) (string, error) {
	session, err := s.activeSession(userID, sessionID)
	if err != nil {
		return "", err
	}

	status, err := s.Quota.Check(userID, model.BucketLearningInteractions, 1)
	if err != nil {
		return "", err
	}
	if !status.Allowed {
		return "", fmt.Errorf("%w: bucket=%s remaining=%d",
			util.ErrQuotaExceeded, model.BucketLearningInteractions, status.Remaining)
	}

	answer, err := s.chatWithContext(ctx, session, question)
	if err != nil {
		return "", err
	}
	if _, err := s.Quota.Consume(userID, model.BucketLearningInteractions, 1); err != nil {
		return "", err
	}
	return answer, nil
}

// ConfirmSubtopic 确认已理解当前子主题。还有后续子主题则前移子主题索引，
// 本主题讲完则进入主题测验（不自动跨主题）。
func (s *SessionService) ConfirmSubtopic(userID, sessionID uint) (*SessionView, error) {
	session, err := s.activeSession(userID, sessionID)
	if err != nil {
		return nil, err
	}
	_, outline, err := s.fileAndOutline(session)
	if err != nil {
		return nil, err
	}
	topic, _, err := currentPosition(outline, session)
	if err != nil {
		return nil, err
	}

	progress, err := s.Sessions.FindSubtopic(session.ID, session.CurrentTopicIndex, session.CurrentSubtopicIndex)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: subtopic not explained yet", util.ErrInvalidTransition)
		}
		return nil, err
	}
	if progress.Status == model.SubtopicPending {
		return nil, fmt.Errorf("%w: subtopic not explained yet", util.ErrInvalidTransition)
	}

	// 确认与位置前移要么都生效要么都不生效
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		if progress.Status != model.SubtopicConfirmed {
			progress.Status = model.SubtopicConfirmed
			if err := tx.Save(progress).Error; err != nil {
				return err
			}
		}
		if session.CurrentSubtopicIndex+1 < len(topic.Subtopics) {
			session.CurrentSubtopicIndex++
			return tx.Save(session).Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &SessionView{Session: session, NextAction: s.nextActionFor(session, outline)}, nil
}

// AdvanceTopic 通过当前主题测验后进入下一主题；未通过返回 ErrTopicNotComplete。
// 已是最后一个主题时会话进入 COMPLETED 终态。
func (s *SessionService) AdvanceTopic(userID, sessionID uint) (*SessionView, error) {
	session, err := s.activeSession(userID, sessionID)
	if err != nil {
		return nil, err
	}
	_, outline, err := s.fileAndOutline(session)
	if err != nil {
		return nil, err
	}

	passed, err := s.TopicTest.TopicPassed(session)
	if err != nil {
		return nil, err
	}
	if !passed {
		return nil, fmt.Errorf("%w: topic %d", util.ErrTopicNotComplete, session.CurrentTopicIndex)
	}

	if session.CurrentTopicIndex+1 >= len(outline.Topics) {
		session.Status = model.SessionCompleted
		if err := s.Sessions.Save(session); err != nil {
			return nil, err
		}
		return &SessionView{Session: session, NextAction: ActionCompleted}, nil
	}

	session.CurrentTopicIndex++
	session.CurrentSubtopicIndex = 0
	if err := s.Sessions.Save(session); err != nil {
		return nil, err
	}
	return &SessionView{Session: session, NextAction: ActionExplainSubtopic}, nil
}

// ProgressOverview 会话全量进度，供前端回看渲染
type ProgressOverview struct {
	Session    *model.LearningSession   `json:"session"`
	Subtopics  []model.SubtopicProgress `json:"subtopics"`
	WeakPoints []model.SubtopicProgress `json:"weakPoints"`
	NextAction NextAction               `json:"nextAction"`
}

func (s *SessionService) Progress(userID, sessionID uint) (*ProgressOverview, error) {
	session, err := s.ownedSession(userID, sessionID)
	if err != nil {
		return nil, err
	}
	_, outline, err := s.fileAndOutline(session)
	if err != nil {
		return nil, err
	}
	subtopics, err := s.Sessions.ListSubtopics(session.ID)
	if err != nil {
		return nil, err
	}
	weakPoints, err := s.Sessions.ListWeakPoints(session.ID)
	if err != nil {
		return nil, err
	}
	return &ProgressOverview{
		Session:    session,
		Subtopics:  subtopics,
		WeakPoints: weakPoints,
		NextAction: s.nextActionFor(session, outline),
	}, nil
}

// chatWithContext 带上下文句柄调用AI；句柄过期则透明重建并重试一次，
// 调用方感知不到替换。
func (s *SessionService) chatWithContext(ctx context.Context, session *model.LearningSession, prompt string) (string, error) {
	text, err := s.AI.Chat(ctx, session.ContextHandle, prompt)
	if !errors.Is(err, util.ErrContextExpired) {
		return text, err
	}

	logger.Log.Info("conversation context expired, recreating",
		zap.Uint("sessionId", session.ID))

	handle, err := s.AI.CreateContext(ctx)
	if err != nil {
		return "", err
	}
	session.ContextHandle = handle
	if err := s.Sessions.Save(session); err != nil {
		return "", err
	}
	return s.AI.Chat(ctx, handle, prompt)
}

func (s *SessionService) ensureSubtopic(sessionID uint, topicIndex, subtopicIndex int) (*model.SubtopicProgress, error) {
	progress, err := s.Sessions.FindSubtopic(sessionID, topicIndex, subtopicIndex)
	if err == nil {
		return progress, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	progress = &model.SubtopicProgress{
		SessionID:     sessionID,
		TopicIndex:    topicIndex,
		SubtopicIndex: subtopicIndex,
		Status:        model.SubtopicPending,
	}
	if err := s.Sessions.CreateSubtopic(progress); err != nil {
		return nil, err
	}
	return progress, nil
}

func (s *SessionService) nextActionFor(session *model.LearningSession, outline *model.Outline) NextAction {
	if session.Status == model.SessionCompleted {
		return ActionCompleted
	}
	// 暂停中的会话任何推进操作都会被拒，先提示恢复
	if session.Status == model.SessionPaused {
		return ActionResumeSession
	}
	if session.CurrentTopicIndex < len(outline.Topics) {
		topic := outline.Topics[session.CurrentTopicIndex]
		progress, err := s.Sessions.FindSubtopic(session.ID, session.CurrentTopicIndex, session.CurrentSubtopicIndex)
		lastSubtopic := session.CurrentSubtopicIndex+1 >= len(topic.Subtopics)
		if lastSubtopic && err == nil && progress.Status == model.SubtopicConfirmed {
			return ActionTopicTest
		}
	}
	return ActionExplainSubtopic
}

// ownedSession 统一以 ErrNotFound 掩盖“不存在”与“不属于当前用户”的差别
func (s *SessionService) ownedSession(userID, sessionID uint) (*model.LearningSession, error) {
	session, err := s.Sessions.FindByID(sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrNotFound
		}
		return nil, err
	}
	if session.UserID != userID {
		return nil, util.ErrNotFound
	}
	return session, nil
}

func (s *SessionService) activeSession(userID, sessionID uint) (*model.LearningSession, error) {
	session, err := s.ownedSession(userID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != model.SessionActive {
		return nil, fmt.Errorf("%w: session is %s", util.ErrInvalidTransition, session.Status)
	}
	return session, nil
}

func (s *SessionService) ownedFile(userID, fileID uint) (*model.CourseFile, error) {
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

func (s *SessionService) fileAndOutline(session *model.LearningSession) (*model.CourseFile, *model.Outline, error) {
	file, err := s.Courses.FindFileByID(session.FileID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, util.ErrNotFound
		}
		return nil, nil, err
	}
	outline, err := OutlineOf(file)
	if err != nil {
		return nil, nil, err
	}
	return file, outline, nil
}

// OutlineOf 读取课件上已抽取的知识大纲
func OutlineOf(file *model.CourseFile) (*model.Outline, error) {
	if len(file.Outline) == 0 {
		return nil, fmt.Errorf("%w: file %d has no outline yet", util.ErrInvalidTransition, file.ID)
	}
	var outline model.Outline
	if err := json.Unmarshal(file.Outline, &outline); err != nil {
		return nil, err
	}
	return &outline, nil
}

func currentPosition(outline *model.Outline, session *model.LearningSession) (*model.OutlineTopic, *model.OutlineSubtopic, error) {
	if session.CurrentTopicIndex >= len(outline.Topics) {
		return nil, nil, fmt.Errorf("%w: topic index out of range", util.ErrInvalidTransition)
	}
	topic := &outline.Topics[session.CurrentTopicIndex]
	if session.CurrentSubtopicIndex >= len(topic.Subtopics) {
		return nil, nil, fmt.Errorf("%w: subtopic index out of range", util.ErrInvalidTransition)
	}
	return topic, &topic.Subtopics[session.CurrentSubtopicIndex], nil
}

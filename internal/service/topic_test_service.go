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
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type TopicTestService struct {
	Tests    *repository.TopicTestRepository
	Sessions *repository.SessionRepository
	Courses  *repository.CourseRepository
	Quota    *QuotaService
	AI       AIClient
	DB       *gorm.DB
}

func NewTopicTestService(
	tests *repository.TopicTestRepository,
	sessions *repository.SessionRepository,
	courses *repository.CourseRepository,
	quota *QuotaService,
	ai AIClient,
	db *gorm.DB,
) *TopicTestService {
	return &TopicTestService{
		Tests:    tests,
		Sessions: sessions,
		Courses:  courses,
		Quota:    quota,
		AI:       ai,
		DB:       db,
	}
}

// TestView 返回给前端的测验内容，答案和解析不下发
type TestView struct {
	FileID     uint             `json:"fileId"`
	TopicIndex int              `json:"topicIndex"`
	TopicType  model.TopicType  `json:"topicType"`
	Questions  []presentedQ     `json:"questions"`
	Progress   []QuestionResult `json:"progress"`
	Passed     bool             `json:"passed"`
}

type presentedQ struct {
	Index   int      `json:"index"`
	Content string   `json:"content"`
	Options []string `json:"options,omitempty"`
}

// QuestionResult 单题作答进度
type QuestionResult struct {
	Index    int  `json:"index"`
	Attempts int  `json:"attempts"`
	Correct  bool `json:"correct"`
	Skipped  bool `json:"skipped"`
}

// GetOrCreate 当前主题的测验：已存在直接返回（缓存命中，不扣费、不生成）；
// 首次生成时落库与扣费在同一事务内提交，保证重复获取只产生一条扣费记录。
func (s *TopicTestService) GetOrCreate(ctx context.Context, userID, sessionID uint) (*TestView, error) {
	session, outline, err := s.sessionAndOutline(userID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != model.SessionActive {
		return nil, fmt.Errorf("%w: session is %s", util.ErrInvalidTransition, session.Status)
	}
	if session.CurrentTopicIndex >= len(outline.Topics) {
		return nil, fmt.Errorf("%w: no current topic", util.ErrInvalidTransition)
	}
	topic := outline.Topics[session.CurrentTopicIndex]

	test, err := s.Tests.FindByFileAndTopic(session.FileID, session.CurrentTopicIndex)
	if err == nil {
		return s.viewFor(session, test)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	// 缓存未命中：先做只读余额预检，避免为注定拒绝的请求支付生成成本
	status, err := s.Quota.Check(userID, model.BucketTestGeneration, 1)
	if err != nil {
		return nil, err
	}
	if !status.Allowed {
		return nil, fmt.Errorf("%w: bucket=%s remaining=%d",
			util.ErrQuotaExceeded, model.BucketTestGeneration, status.Remaining)
	}

	questions, err := s.generateQuestions(ctx, &topic)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(questions)
	if err != nil {
		return nil, err
	}

	test = &model.TopicTest{
		FileID:     session.FileID,
		TopicIndex: session.CurrentTopicIndex,
		TopicType:  topic.Type,
		Questions:  raw,
	}

	// 落库成功才扣费；扣费被拒则连同落库一起回滚
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(test).Error; err != nil {
			return err
		}
		_, err := s.Quota.ConsumeTx(tx, userID, model.BucketTestGeneration, 1)
		return err
	})
	if err != nil {
		// 并发生成撞唯一索引：改用别人刚生成的那份，不再扣费
		if existing, ferr := s.Tests.FindByFileAndTopic(session.FileID, session.CurrentTopicIndex); ferr == nil {
			return s.viewFor(session, existing)
		}
		return nil, err
	}
	return s.viewFor(session, test)
}

// AnswerFeedback 提交答案的反馈，答错时附带题目解析
type AnswerFeedback struct {
	Correct      bool   `json:"correct"`
	Explanation  string `json:"explanation,omitempty"`
	CorrectCount int    `json:"correctCount"`
	Passed       bool   `json:"passed"`
}

// SubmitAnswer 判题采用「去首尾空白 + 忽略大小写」的精确匹配。
// 答对即锁题，重复提交返回 ErrAlreadyAnswered；答错累计到子主题薄弱点。
func (s *TopicTestService) SubmitAnswer(userID, sessionID uint, topicIndex, questionIndex int, answer string) (*AnswerFeedback, error) {
	session, test, questions, err := s.currentTest(userID, sessionID, topicIndex)
	if err != nil {
		return nil, err
	}
	if questionIndex < 0 || questionIndex >= len(questions) {
		return nil, util.ErrNotFound
	}

	progress, states, err := s.ensureProgress(session.ID, topicIndex, len(questions))
	if err != nil {
		return nil, err
	}

	state := &states[questionIndex]
	if state.Correct || state.Skipped {
		return nil, util.ErrAlreadyAnswered
	}

	question := questions[questionIndex]
	correct := AnswersMatch(answer, question.CorrectAnswer)

	state.Attempts++
	if correct {
		state.Correct = true
	}

	feedback := &AnswerFeedback{Correct: correct}

	// 题目进度与薄弱点标记同事务写入
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		raw, err := json.Marshal(states)
		if err != nil {
			return err
		}
		progress.Questions = raw
		if err := tx.Save(progress).Error; err != nil {
			return err
		}

		if !correct {
			return s.recordWrongAnswer(tx, session.ID, topicIndex, question.SubtopicIndex)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !correct {
		feedback.Explanation = question.Explanation
	}
	feedback.CorrectCount = correctCount(states)
	feedback.Passed = passed(test.TopicType, states)
	return feedback, nil
}

// Skip 跳过某题的逃生口：仅在该题已答错3次后允许。
// 跳过的题占用答题槽位，但不计入答对数。
func (s *TopicTestService) Skip(userID, sessionID uint, topicIndex, questionIndex int) (*QuestionResult, error) {
	session, _, questions, err := s.currentTest(userID, sessionID, topicIndex)
	if err != nil {
		return nil, err
	}
	if questionIndex < 0 || questionIndex >= len(questions) {
		return nil, util.ErrNotFound
	}

	progress, states, err := s.ensureProgress(session.ID, topicIndex, len(questions))
	if err != nil {
		return nil, err
	}

	state := &states[questionIndex]
	if state.Correct || state.Skipped {
		return nil, util.ErrAlreadyAnswered
	}
	if state.Attempts < 3 {
		return nil, fmt.Errorf("%w: question %d has only %d attempts, 3 required before skip",
			util.ErrInvalidTransition, questionIndex, state.Attempts)
	}

	state.Skipped = true
	raw, err := json.Marshal(states)
	if err != nil {
		return nil, err
	}
	progress.Questions = raw
	if err := s.Sessions.SaveTopicProgress(progress); err != nil {
		return nil, err
	}

	return &QuestionResult{
		Index:    questionIndex,
		Attempts: state.Attempts,
		Correct:  false,
		Skipped:  true,
	}, nil
}

// TopicPassed 当前主题是否已通过，供会话状态机在 AdvanceTopic 前咨询
func (s *TopicTestService) TopicPassed(session *model.LearningSession) (bool, error) {
	test, err := s.Tests.FindByFileAndTopic(session.FileID, session.CurrentTopicIndex)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}

	progress, err := s.Sessions.FindTopicProgress(session.ID, session.CurrentTopicIndex)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}

	states, err := decodeStates(progress.Questions)
	if err != nil {
		return false, err
	}
	return passed(test.TopicType, states), nil
}

// Reclassify 手动调整主题类型：只重算通过门槛，不重新生成题目
func (s *TopicTestService) Reclassify(fileID uint, topicIndex int, newType model.TopicType) (*model.TopicTest, error) {
	if newType != model.TopicCore && newType != model.TopicSupporting {
		return nil, fmt.Errorf("invalid topic type: %s", newType)
	}
	test, err := s.Tests.FindByFileAndTopic(fileID, topicIndex)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrNotFound
		}
		return nil, err
	}
	test.TopicType = newType
	if err := s.Tests.Save(test); err != nil {
		return nil, err
	}
	return test, nil
}

// generateQuestions 调外部生成器出题，题数或字段不符视为 GenerationError，
// 有界重试一次后放弃。
func (s *TopicTestService) generateQuestions(ctx context.Context, topic *model.OutlineTopic) ([]model.TestQuestion, error) {
	count := topic.Type.QuestionCount()

	var subtopics []string
	for _, st := range topic.Subtopics {
		subtopics = append(subtopics, st.Title)
	}
	prompt := fmt.Sprintf(
		`围绕主题「%s」（子主题：%s）出%d道检测题。输出JSON对象：{"questions":[{"index":0,"subtopicIndex":0,"content":"题干","options":["A","B"],"correctAnswer":"标准答案","explanation":"解析"}]}。subtopicIndex 为题目对应的子主题序号（0起）。`,
		topic.Title, strings.Join(subtopics, "、"), count)

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		var payload struct {
			Questions []model.TestQuestion `json:"questions"`
		}
		if err := s.AI.GenerateJSON(ctx, prompt, &payload); err != nil {
			lastErr = err
			monitoring.AIRequestCounter.WithLabelValues("test_generation", "error").Inc()
			continue
		}
		if err := validateQuestions(payload.Questions, count, len(topic.Subtopics)); err != nil {
			lastErr = err
			monitoring.AIRequestCounter.WithLabelValues("test_generation", "invalid").Inc()
			logger.Log.Warn("generated questions failed validation, retrying",
				zap.String("topic", topic.Title), zap.Error(err))
			continue
		}
		monitoring.AIRequestCounter.WithLabelValues("test_generation", "ok").Inc()
		return payload.Questions, nil
	}
	return nil, lastErr
}

func validateQuestions(questions []model.TestQuestion, wantCount, subtopicCount int) error {
	if len(questions) != wantCount {
		return fmt.Errorf("%w: got %d questions, want %d", util.ErrGenerationFailed, len(questions), wantCount)
	}
	for i, q := range questions {
		if q.Content == "" || q.CorrectAnswer == "" {
			return fmt.Errorf("%w: question %d missing content or answer", util.ErrGenerationFailed, i)
		}
		if q.SubtopicIndex < 0 || q.SubtopicIndex >= subtopicCount {
			return fmt.Errorf("%w: question %d subtopicIndex %d out of range", util.ErrGenerationFailed, i, q.SubtopicIndex)
		}
	}
	return nil
}

// AnswersMatch 判题匹配策略：去首尾空白后忽略大小写精确比较
func AnswersMatch(answer, correct string) bool {
	return strings.EqualFold(strings.TrimSpace(answer), strings.TrimSpace(correct))
}

func (s *TopicTestService) recordWrongAnswer(tx *gorm.DB, sessionID uint, topicIndex, subtopicIndex int) error {
	var sub model.SubtopicProgress
	err := tx.Where("session_id = ? AND topic_index = ? AND subtopic_index = ?",
		sessionID, topicIndex, subtopicIndex).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		sub = model.SubtopicProgress{
			SessionID:     sessionID,
			TopicIndex:    topicIndex,
			SubtopicIndex: subtopicIndex,
			Status:        model.SubtopicPending,
		}
		if err := tx.Create(&sub).Error; err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	sub.WrongCount++
	// 达到3次后置位，之后永不回退
	if sub.WrongCount >= 3 {
		sub.WeakPoint = true
	}
	return tx.Save(&sub).Error
}

func (s *TopicTestService) currentTest(userID, sessionID uint, topicIndex int) (*model.LearningSession, *model.TopicTest, []model.TestQuestion, error) {
	session, _, err := s.sessionAndOutline(userID, sessionID)
	if err != nil {
		return nil, nil, nil, err
	}
	if session.Status != model.SessionActive {
		return nil, nil, nil, fmt.Errorf("%w: session is %s", util.ErrInvalidTransition, session.Status)
	}
	if topicIndex != session.CurrentTopicIndex {
		return nil, nil, nil, fmt.Errorf("%w: topic %d is not the current topic", util.ErrInvalidTransition, topicIndex)
	}

	test, err := s.Tests.FindByFileAndTopic(session.FileID, topicIndex)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, nil, fmt.Errorf("%w: test not generated for topic %d", util.ErrInvalidTransition, topicIndex)
		}
		return nil, nil, nil, err
	}

	questions, err := decodeQuestions(test.Questions)
	if err != nil {
		return nil, nil, nil, err
	}
	return session, test, questions, nil
}

func (s *TopicTestService) ensureProgress(sessionID uint, topicIndex, questionCount int) (*model.TopicProgress, []model.QuestionState, error) {
	progress, err := s.Sessions.FindTopicProgress(sessionID, topicIndex)
	if err == nil {
		states, derr := decodeStates(progress.Questions)
		if derr != nil {
			return nil, nil, derr
		}
		return progress, states, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, err
	}

	states := make([]model.QuestionState, questionCount)
	raw, err := json.Marshal(states)
	if err != nil {
		return nil, nil, err
	}
	progress = &model.TopicProgress{
		SessionID:  sessionID,
		TopicIndex: topicIndex,
		Questions:  raw,
	}
	if err := s.Sessions.CreateTopicProgress(progress); err != nil {
		return nil, nil, err
	}
	return progress, states, nil
}

func (s *TopicTestService) viewFor(session *model.LearningSession, test *model.TopicTest) (*TestView, error) {
	questions, err := decodeQuestions(test.Questions)
	if err != nil {
		return nil, err
	}

	view := &TestView{
		FileID:     test.FileID,
		TopicIndex: test.TopicIndex,
		TopicType:  test.TopicType,
	}
	for _, q := range questions {
		view.Questions = append(view.Questions, presentedQ{
			Index:   q.Index,
			Content: q.Content,
			Options: q.Options,
		})
	}

	progress, err := s.Sessions.FindTopicProgress(session.ID, test.TopicIndex)
	if err == nil {
		states, derr := decodeStates(progress.Questions)
		if derr != nil {
			return nil, derr
		}
		for i, st := range states {
			view.Progress = append(view.Progress, QuestionResult{
				Index:    i,
				Attempts: st.Attempts,
				Correct:  st.Correct,
				Skipped:  st.Skipped,
			})
		}
		view.Passed = passed(test.TopicType, states)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	return view, nil
}

func (s *TopicTestService) sessionAndOutline(userID, sessionID uint) (*model.LearningSession, *model.Outline, error) {
	session, err := s.Sessions.FindByID(sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, util.ErrNotFound
		}
		return nil, nil, err
	}
	if session.UserID != userID {
		return nil, nil, util.ErrNotFound
	}

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
	return session, outline, nil
}

func decodeQuestions(raw []byte) ([]model.TestQuestion, error) {
	var questions []model.TestQuestion
	if err := json.Unmarshal(raw, &questions); err != nil {
		return nil, err
	}
	return questions, nil
}

func decodeStates(raw []byte) ([]model.QuestionState, error) {
	var states []model.QuestionState
	if err := json.Unmarshal(raw, &states); err != nil {
		return nil, err
	}
	return states, nil
}

func correctCount(states []model.QuestionState) int {
	count := 0
	for _, st := range states {
		if st.Correct {
			count++
		}
	}
	return count
}

// passed 通过门槛按主题类型计算：CORE 3题对2，SUPPORTING 1题对1。
// 重分类后题数可能少于门槛，门槛以实际题数封顶。
func passed(topicType model.TopicType, states []model.QuestionState) bool {
	required := topicType.RequiredCorrect()
	if required > len(states) {
		required = len(states)
	}
	return correctCount(states) >= required
}

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"luma_backend/internal/config"
	"luma_backend/internal/model"
	"luma_backend/internal/repository"
	"luma_backend/internal/testutil"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"
)

// ===== 假AI客户端 =====

type fakeAI struct {
	createCalls int
	chatCalls   int
	genCalls    int

	chatFunc func(handle, prompt string) (string, error)
	genFunc  func(prompt string, out interface{}) error
}

func (f *fakeAI) CreateContext(ctx context.Context) (string, error) {
	f.createCalls++
	return fmt.Sprintf("ctx-%d", f.createCalls), nil
}

func (f *fakeAI) Chat(ctx context.Context, handle string, prompt string) (string, error) {
	f.chatCalls++
	if f.chatFunc != nil {
		return f.chatFunc(handle, prompt)
	}
	return "好的，我们来讲解这个知识点。", nil
}

func (f *fakeAI) GenerateJSON(ctx context.Context, prompt string, out interface{}) error {
	f.genCalls++
	if f.genFunc != nil {
		return f.genFunc(prompt, out)
	}
	if strings.Contains(prompt, "知识大纲") {
		return putJSON(out, defaultOutline())
	}
	count := 1
	if strings.Contains(prompt, "出3道") {
		count = 3
	}
	return putJSON(out, map[string]interface{}{"questions": defaultQuestions(count)})
}

// fakeExtractor 返回固定正文节选，err非空时模拟提取失败
type fakeExtractor struct {
	text string
	err  error
}

func (f *fakeExtractor) Excerpt(ctx context.Context, file *model.CourseFile) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

// putJSON 经由JSON序列化把固定数据写入out，模拟真实client的反序列化路径
func putJSON(out interface{}, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func defaultOutline() *model.Outline {
	return &model.Outline{
		Topics: []model.OutlineTopic{
			{
				Title: "指针",
				Type:  model.TopicCore,
				Subtopics: []model.OutlineSubtopic{
					{Title: "指针基础"},
					{Title: "指针运算"},
				},
			},
			{
				Title: "调试技巧",
				Type:  model.TopicSupporting,
				Subtopics: []model.OutlineSubtopic{
					{Title: "断点调试"},
				},
			},
		},
	}
}

func defaultQuestions(count int) []model.TestQuestion {
	questions := make([]model.TestQuestion, count)
	for i := range questions {
		questions[i] = model.TestQuestion{
			Index:         i,
			SubtopicIndex: 0,
			Content:       fmt.Sprintf("第%d题", i+1),
			Options:       []string{"A", "B", "C", "D"},
			CorrectAnswer: "A",
			Explanation:   "正确答案是A",
		}
	}
	return questions
}

// ===== 测试装配 =====

type testEnv struct {
	db        *gorm.DB
	cfg       *config.Config
	ai        *fakeAI
	extractor *fakeExtractor
	quota     *QuotaService
	session   *SessionService
	test      *TopicTestService
	outline   *OutlineService

	users    *repository.UserRepository
	courses  *repository.CourseRepository
	sessions *repository.SessionRepository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.OpenTestDB(t)
	cfg := &config.Config{
		JWT: config.JWTConfig{Secret: "test-secret-for-unit-tests-only!!", ExpireTime: time.Hour},
		Quota: config.QuotaConfig{
			Buckets: map[string]config.BucketConfig{
				model.BucketLearningInteractions: {MonthlyLimit: 500},
				model.BucketTestGeneration:       {MonthlyLimit: 100},
			},
		},
	}

	userRepo := repository.NewUserRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	quotaRepo := repository.NewQuotaRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	testRepo := repository.NewTopicTestRepository(db)

	ai := &fakeAI{}
	extractor := &fakeExtractor{text: "指针变量存储另一个变量的内存地址。通过取地址符可以获得变量的地址。"}
	quota := NewQuotaService(quotaRepo, cfg, db)
	topicTest := NewTopicTestService(testRepo, sessionRepo, courseRepo, quota, ai, db)
	session := NewSessionService(sessionRepo, courseRepo, topicTest, quota, ai, db)
	outline := NewOutlineService(courseRepo, quota, ai, extractor, nil, db)

	return &testEnv{
		db:        db,
		cfg:       cfg,
		ai:        ai,
		extractor: extractor,
		quota:     quota,
		session:   session,
		test:      topicTest,
		outline:   outline,
		users:     userRepo,
		courses:   courseRepo,
		sessions:  sessionRepo,
	}
}

func (e *testEnv) createUser(t *testing.T) *model.User {
	t.Helper()
	user := &model.User{
		Name:     "测试用户",
		Email:    fmt.Sprintf("user%d@test.local", time.Now().UnixNano()),
		Password: "hashed",
		Role:     model.Student,
	}
	if err := e.users.Create(user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := e.quota.EnsureLedgers(user.ID); err != nil {
		t.Fatalf("ensure ledgers: %v", err)
	}
	return user
}

// createOutlinedFile 建一份已抽好大纲的课件（2个主题：CORE×2子主题、SUPPORTING×1子主题）
func (e *testEnv) createOutlinedFile(t *testing.T, ownerID uint) *model.CourseFile {
	t.Helper()
	return e.createFileWith(t, ownerID, model.FileOutlined, defaultOutline())
}

func (e *testEnv) createFileWith(t *testing.T, ownerID uint, status model.FileStatus, outline *model.Outline) *model.CourseFile {
	t.Helper()

	course := &model.Course{OwnerID: ownerID, Title: "C语言程序设计"}
	if err := e.courses.Create(course); err != nil {
		t.Fatalf("create course: %v", err)
	}

	file := &model.CourseFile{
		CourseID:    course.ID,
		OwnerID:     ownerID,
		Name:        "chapter1.pdf",
		ObjectKey:   fmt.Sprintf("courseware/%d/test.pdf", course.ID),
		ContentType: "application/pdf",
		Status:      status,
	}
	if outline != nil {
		raw, err := json.Marshal(outline)
		if err != nil {
			t.Fatalf("marshal outline: %v", err)
		}
		file.Outline = raw
	}
	if err := e.courses.CreateFile(file); err != nil {
		t.Fatalf("create file: %v", err)
	}
	return file
}

func (e *testEnv) countLogs(t *testing.T, userID uint, bucket string, reason model.QuotaLogReason) int64 {
	t.Helper()
	var count int64
	err := e.db.Model(&model.QuotaLogEntry{}).
		Where("user_id = ? AND bucket = ? AND reason = ?", userID, bucket, reason).
		Count(&count).Error
	if err != nil {
		t.Fatalf("count logs: %v", err)
	}
	return count
}

func (e *testEnv) ledger(t *testing.T, userID uint, bucket string) *model.QuotaLedger {
	t.Helper()
	var ledger model.QuotaLedger
	if err := e.db.Where("user_id = ? AND bucket = ?", userID, bucket).First(&ledger).Error; err != nil {
		t.Fatalf("load ledger: %v", err)
	}
	return &ledger
}

func (e *testEnv) setLedger(t *testing.T, userID uint, bucket string, used, limit int) {
	t.Helper()
	err := e.db.Model(&model.QuotaLedger{}).
		Where("user_id = ? AND bucket = ?", userID, bucket).
		Updates(map[string]interface{}{"used": used, "monthly_limit": limit}).Error
	if err != nil {
		t.Fatalf("set ledger: %v", err)
	}
}

package service

import (
	"context"
	"errors"
	"luma_backend/internal/model"
	"luma_backend/internal/util"
	"strings"
	"testing"
)

func TestExtractChargesOnceAndIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t)
	file := env.createFileWith(t, user.ID, model.FileUploaded, nil)
	ctx := context.Background()

	first, err := env.outline.Extract(ctx, user.ID, file.ID)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(first.Topics) != 2 {
		t.Fatalf("topics = %d, want 2", len(first.Topics))
	}

	reloaded, err := env.courses.FindFileByID(file.ID)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Status != model.FileOutlined {
		t.Errorf("status = %s, want OUTLINED", reloaded.Status)
	}

	// 再次抽取直接返回已有大纲
	second, err := env.outline.Extract(ctx, user.ID, file.ID)
	if err != nil {
		t.Fatalf("second extract: %v", err)
	}
	if len(second.Topics) != len(first.Topics) {
		t.Error("cached outline differs from first extraction")
	}
	if env.ai.genCalls != 1 {
		t.Errorf("generator calls = %d, want 1", env.ai.genCalls)
	}
	if got := env.countLogs(t, user.ID, model.BucketLearningInteractions, model.QuotaReasonConsume); got != 1 {
		t.Errorf("consume logs = %d, want 1", got)
	}
}

func TestExtractRejectsPendingFile(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t)
	file := env.createFileWith(t, user.ID, model.FilePending, nil)

	_, err := env.outline.Extract(context.Background(), user.ID, file.ID)
	if !errors.Is(err, util.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	if env.ai.genCalls != 0 {
		t.Error("generator called for a file that was never uploaded")
	}
}

func TestExtractOnOthersFile(t *testing.T) {
	env := newTestEnv(t)
	owner := env.createUser(t)
	stranger := env.createUser(t)
	file := env.createFileWith(t, owner.ID, model.FileUploaded, nil)

	_, err := env.outline.Extract(context.Background(), stranger.ID, file.ID)
	if !errors.Is(err, util.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestExtractBlockedWhenQuotaExhausted(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t)
	file := env.createFileWith(t, user.ID, model.FileUploaded, nil)
	env.setLedger(t, user.ID, model.BucketLearningInteractions, 500, 500)

	_, err := env.outline.Extract(context.Background(), user.ID, file.ID)
	if !errors.Is(err, util.ErrQuotaExceeded) {
		t.Fatalf("err = %v, want ErrQuotaExceeded", err)
	}
	if env.ai.genCalls != 0 {
		t.Error("generator called despite exhausted quota")
	}
}

func TestExtractRetriesInvalidOutline(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t)
	file := env.createFileWith(t, user.ID, model.FileUploaded, nil)

	calls := 0
	env.ai.genFunc = func(prompt string, out interface{}) error {
		calls++
		if calls == 1 {
			// 主题类型非法，应触发重试
			return putJSON(out, map[string]interface{}{
				"topics": []map[string]interface{}{
					{"title": "指针", "type": "UNKNOWN", "subtopics": []map[string]string{{"title": "指针基础"}}},
				},
			})
		}
		return putJSON(out, defaultOutline())
	}

	outline, err := env.outline.Extract(context.Background(), user.ID, file.ID)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if calls != 2 {
		t.Errorf("generator calls = %d, want 2", calls)
	}
	if len(outline.Topics) != 2 {
		t.Errorf("topics = %d, want 2", len(outline.Topics))
	}
}

func TestExtractFailureDoesNotCharge(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t)
	file := env.createFileWith(t, user.ID, model.FileUploaded, nil)

	env.ai.genFunc = func(prompt string, out interface{}) error {
		return putJSON(out, map[string]interface{}{"topics": []interface{}{}})
	}

	_, err := env.outline.Extract(context.Background(), user.ID, file.ID)
	if !errors.Is(err, util.ErrGenerationFailed) {
		t.Fatalf("err = %v, want ErrGenerationFailed", err)
	}
	if got := env.countLogs(t, user.ID, model.BucketLearningInteractions, model.QuotaReasonConsume); got != 0 {
		t.Errorf("consume logs = %d, want 0", got)
	}

	reloaded, err := env.courses.FindFileByID(file.ID)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Status != model.FileUploaded {
		t.Errorf("status = %s, failed extraction must leave the file UPLOADED", reloaded.Status)
	}
}

// 大纲提示词必须带上课件正文节选，不能只凭文件名让生成器猜内容
func TestExtractFeedsDocumentContentToGenerator(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t)
	file := env.createFileWith(t, user.ID, model.FileUploaded, nil)

	var seenPrompt string
	env.ai.genFunc = func(prompt string, out interface{}) error {
		seenPrompt = prompt
		return putJSON(out, defaultOutline())
	}

	if _, err := env.outline.Extract(context.Background(), user.ID, file.ID); err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !strings.Contains(seenPrompt, env.extractor.text) {
		t.Errorf("prompt lacks the courseware excerpt: %q", seenPrompt)
	}
}

func TestExtractFallsBackWhenContentUnavailable(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t)
	file := env.createFileWith(t, user.ID, model.FileUploaded, nil)

	env.extractor.err = errors.New("object storage unreachable")

	var seenPrompt string
	env.ai.genFunc = func(prompt string, out interface{}) error {
		seenPrompt = prompt
		return putJSON(out, defaultOutline())
	}

	// 正文取不到只降级为按文件名抽取，不算失败
	outline, err := env.outline.Extract(context.Background(), user.ID, file.ID)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(outline.Topics) != 2 {
		t.Errorf("topics = %d, want 2", len(outline.Topics))
	}
	if !strings.Contains(seenPrompt, file.Name) {
		t.Errorf("fallback prompt lacks the file name: %q", seenPrompt)
	}
	if strings.Contains(seenPrompt, "正文节选") {
		t.Errorf("prompt claims an excerpt that was never extracted: %q", seenPrompt)
	}
}

func TestGetOutlineWithoutRedis(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t)
	file := env.createOutlinedFile(t, user.ID)

	outline, err := env.outline.Get(context.Background(), user.ID, file.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(outline.Topics) != 2 {
		t.Errorf("topics = %d, want 2", len(outline.Topics))
	}
	if outline.Topics[0].Type != model.TopicCore {
		t.Errorf("topic 0 type = %s, want CORE", outline.Topics[0].Type)
	}
}

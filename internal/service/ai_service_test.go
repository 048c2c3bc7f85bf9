package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"luma_backend/internal/config"
	"luma_backend/internal/util"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newAITestServer(t *testing.T, handler http.HandlerFunc) *AIService {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewAIService(config.AIConfig{
		BaseURL:        server.URL,
		APIKey:         "test-key",
		Model:          "test-model",
		RequestTimeout: 5 * time.Second,
	})
}

func chatResponse(content string) string {
	raw, _ := json.Marshal(map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	})
	return string(raw)
}

func TestCreateContextParsesConversationID(t *testing.T) {
	var gotAuth string
	svc := newAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/conversations" {
			t.Errorf("path = %s, want /conversations", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"id":"conv-42"}`)
	})

	handle, err := svc.CreateContext(context.Background())
	if err != nil {
		t.Fatalf("create context: %v", err)
	}
	if handle != "conv-42" {
		t.Errorf("handle = %q, want conv-42", handle)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("authorization = %q", gotAuth)
	}
}

func TestChatSendsConversationID(t *testing.T) {
	svc := newAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ConversationID string `json:"conversation_id"`
			Messages       []AIChatMessage
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.ConversationID != "conv-42" {
			t.Errorf("conversation_id = %q, want conv-42", req.ConversationID)
		}
		if len(req.Messages) != 2 || req.Messages[1].Content != "什么是指针" {
			t.Errorf("messages = %+v", req.Messages)
		}
		io.WriteString(w, chatResponse("指针是保存内存地址的变量。"))
	})

	reply, err := svc.Chat(context.Background(), "conv-42", "什么是指针")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if reply != "指针是保存内存地址的变量。" {
		t.Errorf("reply = %q", reply)
	}
}

func TestChatExpiredContextReturnsSentinel(t *testing.T) {
	svc := newAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":{"code":"not_found","message":"conversation expired"}}`)
	})

	_, err := svc.Chat(context.Background(), "conv-stale", "继续")
	if !errors.Is(err, util.ErrContextExpired) {
		t.Fatalf("err = %v, want ErrContextExpired", err)
	}
}

func TestChatServerErrorIsGenerationFailure(t *testing.T) {
	svc := newAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := svc.Chat(context.Background(), "conv-42", "继续")
	if !errors.Is(err, util.ErrGenerationFailed) {
		t.Fatalf("err = %v, want ErrGenerationFailed", err)
	}
}

func TestGenerateJSONDecodesContent(t *testing.T) {
	svc := newAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ResponseFormat *struct {
				Type string `json:"type"`
			} `json:"response_format"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.ResponseFormat == nil || req.ResponseFormat.Type != "json_object" {
			t.Error("response_format json_object not requested")
		}
		io.WriteString(w, chatResponse(`{"title":"指针","count":2}`))
	})

	var out struct {
		Title string `json:"title"`
		Count int    `json:"count"`
	}
	if err := svc.GenerateJSON(context.Background(), "出题", &out); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out.Title != "指针" || out.Count != 2 {
		t.Errorf("out = %+v", out)
	}
}

func TestGenerateJSONRejectsNonJSONContent(t *testing.T) {
	svc := newAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, chatResponse("好的，下面是题目：1. ..."))
	})

	var out map[string]interface{}
	err := svc.GenerateJSON(context.Background(), "出题", &out)
	if !errors.Is(err, util.ErrGenerationFailed) {
		t.Fatalf("err = %v, want ErrGenerationFailed", err)
	}
}

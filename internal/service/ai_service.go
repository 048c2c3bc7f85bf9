package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"luma_backend/internal/config"
	"luma_backend/internal/util"
	"net/http"
)

// AIClient 外部大模型调用接口。会话上下文句柄由服务端创建，
// 闲置过期后调用方需重建，测试中以假实现替换。
type AIClient interface {
	// CreateContext 创建一个新的会话上下文，返回不透明句柄
	CreateContext(ctx context.Context) (string, error)
	// Chat 在指定上下文中对话，句柄过期返回 util.ErrContextExpired
	Chat(ctx context.Context, handle string, prompt string) (string, error)
	// GenerateJSON 生成结构化JSON并反序列化到out，格式不符返回 util.ErrGenerationFailed
	GenerateJSON(ctx context.Context, prompt string, out interface{}) error
}

type AIService struct {
	config config.AIConfig
	client *http.Client
}

func NewAIService(cfg config.AIConfig) *AIService {
	return &AIService{
		config: cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

type AIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []AIChatMessage `json:"messages"`
	ConversationID string          `json:"conversation_id,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message AIChatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type conversationResponse struct {
	ID string `json:"id"`
}

func (s *AIService) CreateContext(ctx context.Context) (string, error) {
	body, status, err := s.post(ctx, "/conversations", map[string]interface{}{
		"model": s.config.Model,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", util.ErrGenerationFailed, err)
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return "", fmt.Errorf("%w: AI API error (status %d): %s", util.ErrGenerationFailed, status, string(body))
	}

	var conv conversationResponse
	if err := json.Unmarshal(body, &conv); err != nil || conv.ID == "" {
		return "", fmt.Errorf("%w: malformed conversation response", util.ErrGenerationFailed)
	}
	return conv.ID, nil
}

func (s *AIService) Chat(ctx context.Context, handle string, prompt string) (string, error) {
	reqBody := chatCompletionRequest{
		Model: s.config.Model,
		Messages: []AIChatMessage{
			{Role: "system", Content: "你是一个专业的大学课程助教，请结合课件内容耐心讲解。"},
			{Role: "user", Content: prompt},
		},
		ConversationID: handle,
	}

	body, status, err := s.post(ctx, "/chat/completions", reqBody)
	if err != nil {
		return "", fmt.Errorf("%w: %v", util.ErrGenerationFailed, err)
	}
	// 服务端对过期/不存在的会话上下文返回404
	if status == http.StatusNotFound && handle != "" {
		return "", util.ErrContextExpired
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("%w: AI API error (status %d): %s", util.ErrGenerationFailed, status, string(body))
	}

	var result chatCompletionResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("%w: %v", util.ErrGenerationFailed, err)
	}
	if result.Error != nil {
		return "", fmt.Errorf("%w: %s", util.ErrGenerationFailed, result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("%w: AI returned no choices", util.ErrGenerationFailed)
	}
	return result.Choices[0].Message.Content, nil
}

func (s *AIService) GenerateJSON(ctx context.Context, prompt string, out interface{}) error {
	reqBody := chatCompletionRequest{
		Model: s.config.Model,
		Messages: []AIChatMessage{
			{Role: "system", Content: "你是一个教学内容生成器，只输出符合要求的JSON，不要输出其他内容。"},
			{Role: "user", Content: prompt},
		},
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	body, status, err := s.post(ctx, "/chat/completions", reqBody)
	if err != nil {
		return fmt.Errorf("%w: %v", util.ErrGenerationFailed, err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: AI API error (status %d): %s", util.ErrGenerationFailed, status, string(body))
	}

	var result chatCompletionResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("%w: %v", util.ErrGenerationFailed, err)
	}
	if result.Error != nil {
		return fmt.Errorf("%w: %s", util.ErrGenerationFailed, result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return fmt.Errorf("%w: AI returned no choices", util.ErrGenerationFailed)
	}

	if err := json.Unmarshal([]byte(result.Choices[0].Message.Content), out); err != nil {
		return fmt.Errorf("%w: malformed JSON content: %v", util.ErrGenerationFailed, err)
	}
	return nil
}

func (s *AIService) post(ctx context.Context, path string, payload interface{}) ([]byte, int, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.config.BaseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, 0, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.config.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	return body, resp.StatusCode, nil
}

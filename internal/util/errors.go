package util

import "errors"

var (
	ErrUserNotFound     = errors.New("用户不存在")
	ErrEmailRegistered  = errors.New("该邮箱已被注册")
	ErrPermissionDenied = errors.New("permission denied")

	// 配额相关
	ErrQuotaExceeded = errors.New("quota exceeded")

	// AI 生成相关
	ErrGenerationFailed = errors.New("generation failed")
	ErrContextExpired   = errors.New("conversation context expired")

	// 学习会话/测验状态机
	ErrTopicNotComplete  = errors.New("topic not complete")
	ErrAlreadyAnswered   = errors.New("question already answered")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrNotFound          = errors.New("resource not found")
)

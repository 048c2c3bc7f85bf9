package model

import (
	"gorm.io/datatypes"
)

type SessionStatus string

const (
	SessionActive    SessionStatus = "ACTIVE"
	SessionPaused    SessionStatus = "PAUSED"
	SessionCompleted SessionStatus = "COMPLETED" // 终态
)

// LearningSession 每（用户，文件）唯一的学习会话，记录 teach-then-test 推进位置。
// 索引只前进不后退，回看由前端基于已存内容渲染，不产生状态变更。
type LearningSession struct {
	BaseModel
	UserID               uint          `gorm:"uniqueIndex:idx_session_user_file;not null" json:"userId"`
	FileID               uint          `gorm:"uniqueIndex:idx_session_user_file;not null" json:"fileId"`
	Status               SessionStatus `gorm:"type:varchar(20);default:'ACTIVE'" json:"status"`
	CurrentTopicIndex    int           `gorm:"not null;default:0" json:"currentTopicIndex"`
	CurrentSubtopicIndex int           `gorm:"not null;default:0" json:"currentSubtopicIndex"`
	// 外部AI会话上下文句柄，过期后透明重建
	ContextHandle string `gorm:"size:64" json:"-"`
}

func (LearningSession) TableName() string {
	return "learning_sessions"
}

type SubtopicStatus string

const (
	SubtopicPending   SubtopicStatus = "PENDING"
	SubtopicExplained SubtopicStatus = "EXPLAINED"
	SubtopicConfirmed SubtopicStatus = "CONFIRMED"
)

// SubtopicProgress 子主题进度，首次到达时惰性创建
type SubtopicProgress struct {
	BaseModel
	SessionID     uint           `gorm:"uniqueIndex:idx_subtopic_pos;not null" json:"sessionId"`
	TopicIndex    int            `gorm:"uniqueIndex:idx_subtopic_pos;not null" json:"topicIndex"`
	SubtopicIndex int            `gorm:"uniqueIndex:idx_subtopic_pos;not null" json:"subtopicIndex"`
	Status        SubtopicStatus `gorm:"type:varchar(20);default:'PENDING'" json:"status"`
	Explanation   string         `gorm:"type:text" json:"explanation,omitempty"`
	WrongCount    int            `gorm:"not null;default:0" json:"wrongCount"`
	// 答错累计达到3次后置位，之后不再清除
	WeakPoint bool `gorm:"not null;default:false" json:"weakPoint"`
}

func (SubtopicProgress) TableName() string {
	return "subtopic_progress"
}

// QuestionState 主题测验中单题的作答状态
type QuestionState struct {
	Attempts int  `json:"attempts"`
	Correct  bool `json:"correct"`
	Skipped  bool `json:"skipped"`
}

// TopicProgress 每（会话，主题）一行，Questions 按题序存放作答状态
type TopicProgress struct {
	BaseModel
	SessionID  uint           `gorm:"uniqueIndex:idx_topic_progress_pos;not null" json:"sessionId"`
	TopicIndex int            `gorm:"uniqueIndex:idx_topic_progress_pos;not null" json:"topicIndex"`
	Questions  datatypes.JSON `json:"questions"`
}

func (TopicProgress) TableName() string {
	return "topic_progress"
}

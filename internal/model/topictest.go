package model

import (
	"gorm.io/datatypes"
)

// TestQuestion 主题测验单题，生成后不可变
type TestQuestion struct {
	Index         int      `json:"index"`
	SubtopicIndex int      `json:"subtopicIndex"` // 答错时计入该子主题的薄弱点统计
	Content       string   `json:"content"`
	Options       []string `json:"options,omitempty"`
	CorrectAnswer string   `json:"correctAnswer"`
	Explanation   string   `json:"explanation"`
}

// TopicTest 每（文件，主题）至多生成一次的测验内容，跨会话共享（即缓存）。
// 除手动调整主题类型外，创建后不可变。
type TopicTest struct {
	BaseModel
	FileID     uint           `gorm:"uniqueIndex:idx_topic_test_pos;not null" json:"fileId"`
	TopicIndex int            `gorm:"uniqueIndex:idx_topic_test_pos;not null" json:"topicIndex"`
	TopicType  TopicType      `gorm:"type:varchar(20);not null" json:"topicType"`
	Questions  datatypes.JSON `json:"questions"`
}

func (TopicTest) TableName() string {
	return "topic_tests"
}

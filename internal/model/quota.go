package model

import (
	"time"
)

// 配额桶：不同类别的AI用量分别计数、分别限额
const (
	BucketLearningInteractions = "LEARNING_INTERACTIONS" // 讲解/问答
	BucketTestGeneration       = "TEST_GENERATION"       // 题目生成
)

func AllBuckets() []string {
	return []string{BucketLearningInteractions, BucketTestGeneration}
}

// QuotaLedger 每个（用户，桶）一行的月度用量台账
type QuotaLedger struct {
	BaseModel
	UserID       uint      `gorm:"uniqueIndex:idx_quota_user_bucket;not null" json:"userId"`
	Bucket       string    `gorm:"uniqueIndex:idx_quota_user_bucket;size:64;not null" json:"bucket"`
	Used         int       `gorm:"not null;default:0" json:"used"`
	MonthlyLimit int       `gorm:"not null" json:"monthlyLimit"`
	ResetAt      time.Time `gorm:"index;not null" json:"resetAt"`
}

func (QuotaLedger) TableName() string {
	return "quota_ledgers"
}

// Remaining 剩余可用额度，下限为0
func (l *QuotaLedger) Remaining() int {
	r := l.MonthlyLimit - l.Used
	if r < 0 {
		return 0
	}
	return r
}

type QuotaLogReason string

const (
	QuotaReasonConsume     QuotaLogReason = "CONSUME"
	QuotaReasonRefund      QuotaLogReason = "REFUND"
	QuotaReasonSystemReset QuotaLogReason = "SYSTEM_RESET"
	QuotaReasonAdminAdjust QuotaLogReason = "ADMIN_ADJUST"
)

// QuotaLogEntry 只追加的配额变动审计日志，台账每次变动记一行
type QuotaLogEntry struct {
	BaseModel
	UserID        uint           `gorm:"index;not null" json:"userId"`
	Bucket        string         `gorm:"size:64;not null" json:"bucket"`
	Delta         int            `gorm:"not null" json:"delta"`
	Reason        QuotaLogReason `gorm:"type:varchar(20);not null" json:"reason"`
	ResultingUsed int            `gorm:"not null" json:"resultingUsed"`
	ActorID       *uint          `json:"actorId,omitempty"` // ADMIN_ADJUST 时记录操作管理员
}

func (QuotaLogEntry) TableName() string {
	return "quota_log_entries"
}

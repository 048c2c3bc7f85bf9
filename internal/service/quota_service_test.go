package service

import (
	"errors"
	"luma_backend/internal/model"
	"luma_backend/internal/util"
	"testing"
	"time"
)

func TestEnsureLedgersIdempotent(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t) // createUser 内部已调用一次 EnsureLedgers

	if _, err := env.quota.Consume(user.ID, model.BucketLearningInteractions, 7); err != nil {
		t.Fatalf("consume: %v", err)
	}

	// 重复开户不得重置已有用量
	if err := env.quota.EnsureLedgers(user.ID); err != nil {
		t.Fatalf("ensure ledgers again: %v", err)
	}

	ledger := env.ledger(t, user.ID, model.BucketLearningInteractions)
	if ledger.Used != 7 {
		t.Errorf("used = %d, want 7", ledger.Used)
	}

	var count int64
	env.db.Model(&model.QuotaLedger{}).Where("user_id = ?", user.ID).Count(&count)
	if int(count) != len(model.AllBuckets()) {
		t.Errorf("ledger rows = %d, want %d", count, len(model.AllBuckets()))
	}
}

func TestConsumeIncrementsAndLogs(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t)

	for i := 1; i <= 3; i++ {
		status, err := env.quota.Consume(user.ID, model.BucketLearningInteractions, 1)
		if err != nil {
			t.Fatalf("consume %d: %v", i, err)
		}
		if status.Used != i {
			t.Errorf("used after %d consumes = %d", i, status.Used)
		}
	}

	if got := env.countLogs(t, user.ID, model.BucketLearningInteractions, model.QuotaReasonConsume); got != 3 {
		t.Errorf("consume logs = %d, want 3", got)
	}
}

func TestConsumeRejectsWhenExhausted(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t)
	env.setLedger(t, user.ID, model.BucketTestGeneration, 99, 100)

	if _, err := env.quota.Consume(user.ID, model.BucketTestGeneration, 1); err != nil {
		t.Fatalf("consume within limit: %v", err)
	}

	_, err := env.quota.Consume(user.ID, model.BucketTestGeneration, 1)
	if !errors.Is(err, util.ErrQuotaExceeded) {
		t.Fatalf("err = %v, want ErrQuotaExceeded", err)
	}

	// 拒绝不留流水，台账也不动
	if got := env.countLogs(t, user.ID, model.BucketTestGeneration, model.QuotaReasonConsume); got != 1 {
		t.Errorf("consume logs = %d, want 1", got)
	}
	if ledger := env.ledger(t, user.ID, model.BucketTestGeneration); ledger.Used != 100 {
		t.Errorf("used = %d, want 100", ledger.Used)
	}
}

func TestConsumeUnknownLedger(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.quota.Consume(9999, model.BucketLearningInteractions, 1)
	if !errors.Is(err, util.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRefundFloorsAtZero(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t)
	env.setLedger(t, user.ID, model.BucketLearningInteractions, 2, 500)

	status, err := env.quota.Refund(user.ID, model.BucketLearningInteractions, 5)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if status.Used != 0 {
		t.Errorf("used = %d, want 0", status.Used)
	}

	var entry model.QuotaLogEntry
	err = env.db.Where("user_id = ? AND reason = ?", user.ID, model.QuotaReasonRefund).First(&entry).Error
	if err != nil {
		t.Fatalf("load refund log: %v", err)
	}
	if entry.Delta != -2 {
		t.Errorf("refund delta = %d, want -2 (actual refund, not requested)", entry.Delta)
	}
}

func TestAdjustWritesAuditLog(t *testing.T) {
	env := newTestEnv(t)
	admin := env.createUser(t)
	user := env.createUser(t)

	newLimit := 1000
	status, err := env.quota.Adjust(admin.ID, user.ID, model.BucketLearningInteractions, AdjustRequest{MonthlyLimit: &newLimit})
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if status.MonthlyLimit != 1000 {
		t.Errorf("limit = %d, want 1000", status.MonthlyLimit)
	}

	var entry model.QuotaLogEntry
	err = env.db.Where("user_id = ? AND reason = ?", user.ID, model.QuotaReasonAdminAdjust).First(&entry).Error
	if err != nil {
		t.Fatalf("load adjust log: %v", err)
	}
	if entry.ActorID == nil || *entry.ActorID != admin.ID {
		t.Errorf("actorId = %v, want %d", entry.ActorID, admin.ID)
	}
}

func TestAdjustValidation(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t)

	bad := -1
	if _, err := env.quota.Adjust(1, user.ID, model.BucketLearningInteractions, AdjustRequest{MonthlyLimit: &bad}); err == nil {
		t.Error("negative limit accepted")
	}
	if _, err := env.quota.Adjust(1, user.ID, model.BucketLearningInteractions, AdjustRequest{Used: &bad}); err == nil {
		t.Error("negative used accepted")
	}
	if _, err := env.quota.Adjust(1, user.ID, model.BucketLearningInteractions, AdjustRequest{}); err == nil {
		t.Error("empty adjust accepted")
	}
}

func TestAddMonthClamped(t *testing.T) {
	loc := time.UTC
	cases := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{"普通日期", time.Date(2025, 1, 15, 8, 0, 0, 0, loc), time.Date(2025, 2, 15, 8, 0, 0, 0, loc)},
		{"1月31日钳到平年2月末", time.Date(2025, 1, 31, 0, 0, 0, 0, loc), time.Date(2025, 2, 28, 0, 0, 0, 0, loc)},
		{"1月31日钳到闰年2月末", time.Date(2024, 1, 31, 0, 0, 0, 0, loc), time.Date(2024, 2, 29, 0, 0, 0, 0, loc)},
		{"3月31日钳到4月30日", time.Date(2025, 3, 31, 12, 30, 0, 0, loc), time.Date(2025, 4, 30, 12, 30, 0, 0, loc)},
		{"12月跨年", time.Date(2025, 12, 10, 0, 0, 0, 0, loc), time.Date(2026, 1, 10, 0, 0, 0, 0, loc)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := AddMonthClamped(tc.in); !got.Equal(tc.want) {
				t.Errorf("AddMonthClamped(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestRunMonthlyResetIdempotent(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t)

	now := time.Now()
	past := now.AddDate(0, 0, -1)
	env.db.Model(&model.QuotaLedger{}).
		Where("user_id = ? AND bucket = ?", user.ID, model.BucketLearningInteractions).
		Updates(map[string]interface{}{"used": 42, "reset_at": past})

	count, err := env.quota.RunMonthlyReset(now)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if count != 1 {
		t.Errorf("reset count = %d, want 1", count)
	}

	ledger := env.ledger(t, user.ID, model.BucketLearningInteractions)
	if ledger.Used != 0 {
		t.Errorf("used after reset = %d, want 0", ledger.Used)
	}
	if !ledger.ResetAt.After(now) {
		t.Errorf("resetAt %v not advanced past now", ledger.ResetAt)
	}

	var entry model.QuotaLogEntry
	err = env.db.Where("user_id = ? AND reason = ?", user.ID, model.QuotaReasonSystemReset).First(&entry).Error
	if err != nil {
		t.Fatalf("load reset log: %v", err)
	}
	if entry.Delta != -42 || entry.ResultingUsed != 0 {
		t.Errorf("reset log delta=%d resultingUsed=%d, want -42/0", entry.Delta, entry.ResultingUsed)
	}

	// 再跑一轮：没有到期台账，不得产生第二条重置流水
	count, err = env.quota.RunMonthlyReset(now)
	if err != nil {
		t.Fatalf("second reset: %v", err)
	}
	if count != 0 {
		t.Errorf("second reset count = %d, want 0", count)
	}
	if got := env.countLogs(t, user.ID, model.BucketLearningInteractions, model.QuotaReasonSystemReset); got != 1 {
		t.Errorf("reset logs = %d, want 1", got)
	}
}

func TestRunMonthlyResetCatchesUpMissedMonths(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t)

	now := time.Now()
	longAgo := now.AddDate(0, -3, 0)
	env.db.Model(&model.QuotaLedger{}).
		Where("user_id = ? AND bucket = ?", user.ID, model.BucketTestGeneration).
		Updates(map[string]interface{}{"used": 10, "reset_at": longAgo})

	if _, err := env.quota.RunMonthlyReset(now); err != nil {
		t.Fatalf("reset: %v", err)
	}

	ledger := env.ledger(t, user.ID, model.BucketTestGeneration)
	if !ledger.ResetAt.After(now) {
		t.Errorf("resetAt %v should be in the future after catch-up", ledger.ResetAt)
	}
	// 逐月推进不应跳过超过一个月
	if ledger.ResetAt.After(AddMonthClamped(now)) {
		t.Errorf("resetAt %v advanced more than one month past now", ledger.ResetAt)
	}
}

package service

import (
	"errors"
	"fmt"
	"luma_backend/internal/model"
	"luma_backend/internal/util"
	"testing"
	"time"
)

func TestRegisterCreatesAllLedgers(t *testing.T) {
	env := newTestEnv(t)
	auth := NewAuthService(env.users, env.quota, env.cfg)

	user := &model.User{
		Name:     "王小明",
		Email:    fmt.Sprintf("student-%d@luma.edu", time.Now().UnixNano()),
		Password: "secret123",
		Role:     model.Student,
	}
	if err := auth.Register(user); err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Password == "secret123" {
		t.Error("password stored in cleartext")
	}

	var count int64
	if err := env.db.Model(&model.QuotaLedger{}).Where("user_id = ?", user.ID).Count(&count).Error; err != nil {
		t.Fatal(err)
	}
	if int(count) != len(model.AllBuckets()) {
		t.Errorf("ledgers = %d, want %d", count, len(model.AllBuckets()))
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	auth := NewAuthService(env.users, env.quota, env.cfg)

	email := fmt.Sprintf("dup-%d@luma.edu", time.Now().UnixNano())
	first := &model.User{Name: "甲", Email: email, Password: "secret123", Role: model.Student}
	if err := auth.Register(first); err != nil {
		t.Fatalf("register: %v", err)
	}

	second := &model.User{Name: "乙", Email: email, Password: "secret456", Role: model.Student}
	if err := auth.Register(second); !errors.Is(err, util.ErrEmailRegistered) {
		t.Fatalf("err = %v, want ErrEmailRegistered", err)
	}
}

func TestLoginIssuesToken(t *testing.T) {
	env := newTestEnv(t)
	auth := NewAuthService(env.users, env.quota, env.cfg)

	email := fmt.Sprintf("login-%d@luma.edu", time.Now().UnixNano())
	user := &model.User{Name: "王小明", Email: email, Password: "secret123", Role: model.Student}
	if err := auth.Register(user); err != nil {
		t.Fatalf("register: %v", err)
	}

	token, err := auth.Login(email, "secret123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if token == "" {
		t.Fatal("empty token")
	}

	claims, err := util.ParseJWT(token, env.cfg.JWT.Secret)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if claims.UserID != user.ID || claims.Role != model.Student {
		t.Errorf("claims = %+v", claims)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)
	auth := NewAuthService(env.users, env.quota, env.cfg)

	email := fmt.Sprintf("bad-%d@luma.edu", time.Now().UnixNano())
	user := &model.User{Name: "王小明", Email: email, Password: "secret123", Role: model.Student}
	if err := auth.Register(user); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := auth.Login(email, "wrong-password"); err == nil {
		t.Error("wrong password accepted")
	}
	if _, err := auth.Login("nobody@luma.edu", "secret123"); err == nil {
		t.Error("unknown email accepted")
	}
}

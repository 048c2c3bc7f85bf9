package service

import (
	"context"
	"errors"
	"luma_backend/internal/config"
	"luma_backend/internal/model"
	"luma_backend/internal/util"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newCourseEnv(t *testing.T) (*testEnv, *CourseService) {
	t.Helper()
	env := newTestEnv(t)
	storage := &StorageService{
		Provider: &LocalStorageProvider{Config: &config.StorageConfig{LocalPath: t.TempDir()}},
		Expire:   15 * time.Minute,
	}
	return env, NewCourseService(env.courses, storage)
}

func TestCourseCRUDScopedToOwner(t *testing.T) {
	env, svc := newCourseEnv(t)
	owner := env.createUser(t)
	stranger := env.createUser(t)

	course, err := svc.Create(owner.ID, CreateCourseRequest{Title: "数据结构", Description: "2026春"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.Get(stranger.ID, course.ID); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("stranger get: err = %v, want ErrNotFound", err)
	}
	if err := svc.Delete(stranger.ID, course.ID); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("stranger delete: err = %v, want ErrNotFound", err)
	}

	updated, err := svc.Update(owner.ID, course.ID, CreateCourseRequest{Title: "数据结构（改）"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Title != "数据结构（改）" {
		t.Errorf("title = %q", updated.Title)
	}

	list, total, err := svc.List(owner.ID, 1, 20)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || len(list) != 1 {
		t.Errorf("list = %d items, total %d, want 1/1", len(list), total)
	}

	if err := svc.Delete(owner.ID, course.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Get(owner.ID, course.ID); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("get after delete: err = %v, want ErrNotFound", err)
	}
}

func TestRegisterFileOnlyAcceptsPDF(t *testing.T) {
	env, svc := newCourseEnv(t)
	owner := env.createUser(t)
	course, err := svc.Create(owner.ID, CreateCourseRequest{Title: "操作系统"})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	for _, name := range []string{"lecture.docx", "slides.pptx", "notes.txt", "pdf"} {
		if _, err := svc.RegisterFile(ctx, owner.ID, course.ID, RegisterFileRequest{Name: name, Size: 1024}); err == nil {
			t.Errorf("%q accepted, want rejection", name)
		}
	}

	ticket, err := svc.RegisterFile(ctx, owner.ID, course.ID, RegisterFileRequest{Name: "Chapter1.PDF", Size: 1024})
	if err != nil {
		t.Fatalf("register pdf: %v", err)
	}
	if ticket.File.Status != model.FilePending {
		t.Errorf("status = %s, want PENDING", ticket.File.Status)
	}
	if ticket.UploadURL == "" {
		t.Error("missing upload URL")
	}
	if !strings.HasSuffix(ticket.File.ObjectKey, ".pdf") {
		t.Errorf("object key %q should carry the lowercased extension", ticket.File.ObjectKey)
	}
}

func TestMarkUploadedTransition(t *testing.T) {
	env, svc := newCourseEnv(t)
	owner := env.createUser(t)
	course, _ := svc.Create(owner.ID, CreateCourseRequest{Title: "操作系统"})
	ticket, err := svc.RegisterFile(context.Background(), owner.ID, course.ID, RegisterFileRequest{Name: "ch1.pdf", Size: 2048})
	if err != nil {
		t.Fatal(err)
	}

	file, err := svc.MarkUploaded(owner.ID, ticket.File.ID)
	if err != nil {
		t.Fatalf("mark uploaded: %v", err)
	}
	if file.Status != model.FileUploaded {
		t.Errorf("status = %s, want UPLOADED", file.Status)
	}

	// 已完成的上传不可重复回调
	if _, err := svc.MarkUploaded(owner.ID, ticket.File.ID); !errors.Is(err, util.ErrInvalidTransition) {
		t.Errorf("second callback: err = %v, want ErrInvalidTransition", err)
	}
}

func TestDownloadURLRequiresUploadedFile(t *testing.T) {
	env, svc := newCourseEnv(t)
	owner := env.createUser(t)
	course, _ := svc.Create(owner.ID, CreateCourseRequest{Title: "操作系统"})
	ctx := context.Background()
	ticket, err := svc.RegisterFile(ctx, owner.ID, course.ID, RegisterFileRequest{Name: "ch1.pdf", Size: 2048})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.DownloadURL(ctx, owner.ID, ticket.File.ID); !errors.Is(err, util.ErrInvalidTransition) {
		t.Fatalf("download of PENDING file: err = %v, want ErrInvalidTransition", err)
	}

	if _, err := svc.MarkUploaded(owner.ID, ticket.File.ID); err != nil {
		t.Fatal(err)
	}
	url, err := svc.DownloadURL(ctx, owner.ID, ticket.File.ID)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if url == "" {
		t.Error("empty download URL")
	}
}

func TestDeleteFileRemovesRecordAndObject(t *testing.T) {
	env, svc := newCourseEnv(t)
	owner := env.createUser(t)
	course, _ := svc.Create(owner.ID, CreateCourseRequest{Title: "操作系统"})
	ctx := context.Background()
	ticket, err := svc.RegisterFile(ctx, owner.ID, course.ID, RegisterFileRequest{Name: "ch1.pdf", Size: 2048})
	if err != nil {
		t.Fatal(err)
	}

	local := svc.Storage.Provider.(*LocalStorageProvider)
	objectPath := filepath.Join(local.Config.LocalPath, ticket.File.ObjectKey)
	if err := os.MkdirAll(filepath.Dir(objectPath), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(objectPath, []byte("%PDF-1.7"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := svc.DeleteFile(ctx, owner.ID, ticket.File.ID); err != nil {
		t.Fatalf("delete file: %v", err)
	}
	if _, err := svc.GetFile(owner.ID, ticket.File.ID); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("get after delete: err = %v, want ErrNotFound", err)
	}
	if _, err := os.Stat(objectPath); !os.IsNotExist(err) {
		t.Error("stored object not removed")
	}
}

package service

import (
	"context"
	"fmt"
	"luma_backend/internal/model"
	"luma_backend/internal/repository"
	"luma_backend/internal/util"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CourseService 课程与课件管理。课件以预签名URL方式直传对象存储，
// 服务端只登记元数据与状态流转 PENDING -> UPLOADED -> OUTLINED。
type CourseService struct {
	CourseRepo *repository.CourseRepository
	Storage    *StorageService
}

func NewCourseService(courseRepo *repository.CourseRepository, storage *StorageService) *CourseService {
	return &CourseService{
		CourseRepo: courseRepo,
		Storage:    storage,
	}
}

type CreateCourseRequest struct {
	Title       string `json:"title" binding:"required,max=255"`
	Description string `json:"description"`
}

func (s *CourseService) Create(ownerID uint, req CreateCourseRequest) (*model.Course, error) {
	course := &model.Course{
		OwnerID:     ownerID,
		Title:       req.Title,
		Description: req.Description,
	}
	if err := s.CourseRepo.Create(course); err != nil {
		return nil, err
	}
	return course, nil
}

func (s *CourseService) Get(ownerID, courseID uint) (*model.Course, error) {
	return s.ownedCourse(ownerID, courseID)
}

func (s *CourseService) List(ownerID uint, page, limit int) ([]model.Course, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return s.CourseRepo.ListByOwner(ownerID, page, limit)
}

func (s *CourseService) Update(ownerID, courseID uint, req CreateCourseRequest) (*model.Course, error) {
	course, err := s.ownedCourse(ownerID, courseID)
	if err != nil {
		return nil, err
	}
	course.Title = req.Title
	course.Description = req.Description
	course.UpdatedAt = time.Now()
	if err := s.CourseRepo.Update(course); err != nil {
		return nil, err
	}
	return course, nil
}

func (s *CourseService) Delete(ownerID, courseID uint) error {
	if _, err := s.ownedCourse(ownerID, courseID); err != nil {
		return err
	}
	return s.CourseRepo.Delete(courseID)
}

type RegisterFileRequest struct {
	Name string `json:"name" binding:"required,max=255"`
	Size int64  `json:"size" binding:"required,min=1"`
}

// UploadTicket 登记课件后返回给客户端的直传凭据
type UploadTicket struct {
	File      *model.CourseFile `json:"file"`
	UploadURL string            `json:"uploadUrl"`
}

// RegisterFile 登记一份待上传的课件并签发上传URL。
// 只接受PDF，扩展名不在白名单内直接拒绝。
func (s *CourseService) RegisterFile(ctx context.Context, ownerID, courseID uint, req RegisterFileRequest) (*UploadTicket, error) {
	if _, err := s.ownedCourse(ownerID, courseID); err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(req.Name))
	allowed := false
	for _, e := range util.AllowedCoursewareExtensions {
		if ext == e {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("仅支持PDF课件，收到扩展名 %q", ext)
	}

	file := &model.CourseFile{
		CourseID:    courseID,
		OwnerID:     ownerID,
		Name:        req.Name,
		ObjectKey:   fmt.Sprintf("courseware/%d/%s%s", courseID, uuid.New().String(), ext),
		Size:        req.Size,
		ContentType: util.MimePDF,
		Status:      model.FilePending,
	}
	if err := s.CourseRepo.CreateFile(file); err != nil {
		return nil, err
	}

	uploadURL, err := s.Storage.PresignedUpload(ctx, file.ObjectKey)
	if err != nil {
		return nil, err
	}
	return &UploadTicket{File: file, UploadURL: uploadURL}, nil
}

// MarkUploaded 客户端直传完成后回调，PENDING -> UPLOADED
func (s *CourseService) MarkUploaded(ownerID, fileID uint) (*model.CourseFile, error) {
	file, err := s.ownedFile(ownerID, fileID)
	if err != nil {
		return nil, err
	}
	if file.Status != model.FilePending {
		return nil, util.ErrInvalidTransition
	}
	file.Status = model.FileUploaded
	file.UpdatedAt = time.Now()
	if err := s.CourseRepo.UpdateFile(file); err != nil {
		return nil, err
	}
	return file, nil
}

func (s *CourseService) ListFiles(ownerID, courseID uint) ([]model.CourseFile, error) {
	if _, err := s.ownedCourse(ownerID, courseID); err != nil {
		return nil, err
	}
	return s.CourseRepo.ListFilesByCourse(courseID)
}

func (s *CourseService) GetFile(ownerID, fileID uint) (*model.CourseFile, error) {
	return s.ownedFile(ownerID, fileID)
}

// DownloadURL 签发课件的限时下载URL，未完成上传的课件不可下载
func (s *CourseService) DownloadURL(ctx context.Context, ownerID, fileID uint) (string, error) {
	file, err := s.ownedFile(ownerID, fileID)
	if err != nil {
		return "", err
	}
	if file.Status == model.FilePending {
		return "", util.ErrInvalidTransition
	}
	return s.Storage.PresignedDownload(ctx, file.ObjectKey)
}

// DeleteFile 删除课件记录及对象存储中的内容
func (s *CourseService) DeleteFile(ctx context.Context, ownerID, fileID uint) error {
	file, err := s.ownedFile(ownerID, fileID)
	if err != nil {
		return err
	}
	if err := s.CourseRepo.DB.Delete(file).Error; err != nil {
		return err
	}
	// 对象清理失败不影响记录删除
	_ = s.Storage.Delete(ctx, file.ObjectKey)
	return nil
}

// ownedCourse 统一返回 ErrNotFound，不暴露他人课程是否存在
func (s *CourseService) ownedCourse(ownerID, courseID uint) (*model.Course, error) {
	course, err := s.CourseRepo.FindByID(courseID)
	if err != nil || course.OwnerID != ownerID {
		return nil, util.ErrNotFound
	}
	return course, nil
}

func (s *CourseService) ownedFile(ownerID, fileID uint) (*model.CourseFile, error) {
	file, err := s.CourseRepo.FindFileByID(fileID)
	if err != nil || file.OwnerID != ownerID {
		return nil, util.ErrNotFound
	}
	return file, nil
}

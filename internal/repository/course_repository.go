package repository

import (
	"luma_backend/internal/model"

	"gorm.io/gorm"
)

type CourseRepository struct {
	DB *gorm.DB
}

func NewCourseRepository(db *gorm.DB) *CourseRepository {
	return &CourseRepository{DB: db}
}

func (r *CourseRepository) Create(course *model.Course) error {
	return r.DB.Create(course).Error
}

func (r *CourseRepository) FindByID(id uint) (*model.Course, error) {
	var course model.Course
	if err := r.DB.First(&course, id).Error; err != nil {
		return nil, err
	}
	return &course, nil
}

func (r *CourseRepository) ListByOwner(ownerID uint, page, limit int) ([]model.Course, int64, error) {
	var courses []model.Course
	var total int64

	q := r.DB.Model(&model.Course{}).Where("owner_id = ?", ownerID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := q.Order("created_at DESC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&courses).Error; err != nil {
		return nil, 0, err
	}
	return courses, total, nil
}

func (r *CourseRepository) Update(course *model.Course) error {
	return r.DB.Save(course).Error
}

// Delete 级联软删课程及其课件、课件上的学习会话
func (r *CourseRepository) Delete(courseID uint) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		var fileIDs []uint
		if err := tx.Model(&model.CourseFile{}).
			Where("course_id = ?", courseID).
			Pluck("id", &fileIDs).Error; err != nil {
			return err
		}
		if len(fileIDs) > 0 {
			var sessionIDs []uint
			if err := tx.Model(&model.LearningSession{}).
				Where("file_id IN ?", fileIDs).
				Pluck("id", &sessionIDs).Error; err != nil {
				return err
			}
			if len(sessionIDs) > 0 {
				if err := tx.Where("session_id IN ?", sessionIDs).Delete(&model.SubtopicProgress{}).Error; err != nil {
					return err
				}
				if err := tx.Where("session_id IN ?", sessionIDs).Delete(&model.TopicProgress{}).Error; err != nil {
					return err
				}
				if err := tx.Where("id IN ?", sessionIDs).Delete(&model.LearningSession{}).Error; err != nil {
					return err
				}
			}
			if err := tx.Where("file_id IN ?", fileIDs).Delete(&model.TopicTest{}).Error; err != nil {
				return err
			}
			if err := tx.Where("course_id = ?", courseID).Delete(&model.CourseFile{}).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&model.Course{}, courseID).Error
	})
}

func (r *CourseRepository) CreateFile(file *model.CourseFile) error {
	return r.DB.Create(file).Error
}

func (r *CourseRepository) FindFileByID(id uint) (*model.CourseFile, error) {
	var file model.CourseFile
	if err := r.DB.First(&file, id).Error; err != nil {
		return nil, err
	}
	return &file, nil
}

func (r *CourseRepository) ListFilesByCourse(courseID uint) ([]model.CourseFile, error) {
	var files []model.CourseFile
	err := r.DB.Where("course_id = ?", courseID).Order("created_at DESC").Find(&files).Error
	return files, err
}

func (r *CourseRepository) UpdateFile(file *model.CourseFile) error {
	return r.DB.Save(file).Error
}

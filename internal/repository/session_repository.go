package repository

import (
	"luma_backend/internal/model"

	"gorm.io/gorm"
)

type SessionRepository struct {
	DB *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{DB: db}
}

func (r *SessionRepository) Create(session *model.LearningSession) error {
	return r.DB.Create(session).Error
}

func (r *SessionRepository) FindByID(id uint) (*model.LearningSession, error) {
	var session model.LearningSession
	if err := r.DB.First(&session, id).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *SessionRepository) FindByUserAndFile(userID, fileID uint) (*model.LearningSession, error) {
	var session model.LearningSession
	err := r.DB.Where("user_id = ? AND file_id = ?", userID, fileID).First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *SessionRepository) Save(session *model.LearningSession) error {
	return r.DB.Save(session).Error
}

func (r *SessionRepository) FindSubtopic(sessionID uint, topicIndex, subtopicIndex int) (*model.SubtopicProgress, error) {
	var progress model.SubtopicProgress
	err := r.DB.Where("session_id = ? AND topic_index = ? AND subtopic_index = ?",
		sessionID, topicIndex, subtopicIndex).First(&progress).Error
	if err != nil {
		return nil, err
	}
	return &progress, nil
}

func (r *SessionRepository) CreateSubtopic(progress *model.SubtopicProgress) error {
	return r.DB.Create(progress).Error
}

func (r *SessionRepository) ListSubtopics(sessionID uint) ([]model.SubtopicProgress, error) {
	var progress []model.SubtopicProgress
	err := r.DB.Where("session_id = ?", sessionID).
		Order("topic_index, subtopic_index").Find(&progress).Error
	return progress, err
}

func (r *SessionRepository) ListWeakPoints(sessionID uint) ([]model.SubtopicProgress, error) {
	var progress []model.SubtopicProgress
	err := r.DB.Where("session_id = ? AND weak_point = ?", sessionID, true).
		Order("topic_index, subtopic_index").Find(&progress).Error
	return progress, err
}

func (r *SessionRepository) FindTopicProgress(sessionID uint, topicIndex int) (*model.TopicProgress, error) {
	var progress model.TopicProgress
	err := r.DB.Where("session_id = ? AND topic_index = ?", sessionID, topicIndex).
		First(&progress).Error
	if err != nil {
		return nil, err
	}
	return &progress, nil
}

func (r *SessionRepository) CreateTopicProgress(progress *model.TopicProgress) error {
	return r.DB.Create(progress).Error
}

func (r *SessionRepository) SaveTopicProgress(progress *model.TopicProgress) error {
	return r.DB.Save(progress).Error
}

func (r *SessionRepository) CountByStatus(status model.SessionStatus) (int64, error) {
	var count int64
	err := r.DB.Model(&model.LearningSession{}).Where("status = ?", status).Count(&count).Error
	return count, err
}

package repository

import (
	"luma_backend/internal/model"

	"gorm.io/gorm"
)

type TopicTestRepository struct {
	DB *gorm.DB
}

func NewTopicTestRepository(db *gorm.DB) *TopicTestRepository {
	return &TopicTestRepository{DB: db}
}

func (r *TopicTestRepository) FindByFileAndTopic(fileID uint, topicIndex int) (*model.TopicTest, error) {
	var test model.TopicTest
	err := r.DB.Where("file_id = ? AND topic_index = ?", fileID, topicIndex).First(&test).Error
	if err != nil {
		return nil, err
	}
	return &test, nil
}

func (r *TopicTestRepository) Save(test *model.TopicTest) error {
	return r.DB.Save(test).Error
}

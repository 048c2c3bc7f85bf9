package model

import (
	"gorm.io/datatypes"
)

// Course 用户创建的课程，课件文件挂在课程下
type Course struct {
	BaseModel
	OwnerID     uint   `gorm:"index;not null" json:"ownerId"`
	Title       string `gorm:"size:255;not null" json:"title"`
	Description string `gorm:"type:text" json:"description"`
}

func (Course) TableName() string {
	return "courses"
}

type FileStatus string

const (
	FilePending  FileStatus = "PENDING"  // 已登记，等待客户端上传完成
	FileUploaded FileStatus = "UPLOADED" // 对象存储中已有内容
	FileOutlined FileStatus = "OUTLINED" // 知识大纲已抽取
)

// CourseFile 上传的PDF课件，Outline 存放AI抽取出的两级知识大纲
type CourseFile struct {
	BaseModel
	CourseID    uint           `gorm:"index;not null" json:"courseId"`
	OwnerID     uint           `gorm:"index;not null" json:"ownerId"`
	Name        string         `gorm:"size:255;not null" json:"name"`
	ObjectKey   string         `gorm:"size:512;not null" json:"objectKey"`
	Size        int64          `json:"size"`
	ContentType string         `gorm:"size:100" json:"contentType"`
	Status      FileStatus     `gorm:"type:varchar(20);default:'PENDING'" json:"status"`
	Outline     datatypes.JSON `json:"outline,omitempty"`
}

func (CourseFile) TableName() string {
	return "course_files"
}

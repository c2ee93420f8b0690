package model

import (
	"strings"
	"time"
)

type ProjectType string

const (
	ProjectTypeBeginner ProjectType = "beginner"
	ProjectTypeExpert   ProjectType = "expert"
)

const MaxProjectNameLength = 100

func (t ProjectType) Valid() bool {
	return t == ProjectTypeBeginner || t == ProjectTypeExpert
}

type Project struct {
	UserEmail   string         `gorm:"primaryKey;size:255" json:"userEmail" dynamodbav:"userEmail"`
	ProjectID   string         `gorm:"primaryKey;size:32" json:"projectId" dynamodbav:"projectId"`
	ProjectName string         `gorm:"size:100;not null" json:"projectName" dynamodbav:"projectName"`
	ProjectType ProjectType    `gorm:"size:16;not null" json:"projectType" dynamodbav:"projectType"`
	CreatedAt   time.Time      `gorm:"index" json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt   time.Time      `gorm:"index" json:"updatedAt" dynamodbav:"updatedAt"`
	ContextLog  []ContextEntry `gorm:"-" json:"contextLog,omitempty" dynamodbav:"contextLog,omitempty"`
}

func (Project) TableName() string {
	return "projects"
}

// NormalizeProjectName 去除首尾空白，返回是否合法
func NormalizeProjectName(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" || len([]rune(name)) > MaxProjectNameLength {
		return name, false
	}
	return name, true
}

// ProjectUpdate 项目元信息修改，nil 字段保持不变
type ProjectUpdate struct {
	ProjectName *string
	ProjectType *ProjectType
}

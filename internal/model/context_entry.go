package model

import "time"

type ContextKind string

const (
	ContextQA             ContextKind = "qa"
	ContextDatasetSummary ContextKind = "dataset_summary"
)

// ContextEntry 项目上下文日志的一条记录，只追加不修改
type ContextEntry struct {
	ID           uint        `gorm:"primaryKey;autoIncrement" json:"-" dynamodbav:"-"`
	UserEmail    string      `gorm:"size:255;index:idx_context_project" json:"-" dynamodbav:"-"`
	ProjectID    string      `gorm:"size:32;index:idx_context_project" json:"-" dynamodbav:"-"`
	TaskIndex    int         `json:"taskIndex" dynamodbav:"taskIndex"`
	SubtaskIndex int         `json:"subtaskIndex" dynamodbav:"subtaskIndex"`
	Kind         ContextKind `gorm:"size:32" json:"kind" dynamodbav:"kind"`
	Question     string      `gorm:"type:text" json:"question,omitempty" dynamodbav:"question,omitempty"`
	Options      []string    `gorm:"serializer:json;type:text" json:"options,omitempty" dynamodbav:"options,omitempty"`
	Answer       string      `gorm:"type:text" json:"answer,omitempty" dynamodbav:"answer,omitempty"`
	CSVPreview   string      `gorm:"type:text" json:"csvPreview,omitempty" dynamodbav:"csvPreview,omitempty"`
	Payload      string      `gorm:"type:longtext" json:"payload,omitempty" dynamodbav:"payload,omitempty"`
	RecordedAt   time.Time   `json:"recordedAt" dynamodbav:"recordedAt"`
}

func (ContextEntry) TableName() string {
	return "context_entries"
}

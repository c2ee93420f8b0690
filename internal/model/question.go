package model

import (
	"fmt"
	"time"
)

// Slot 课程中的一个位置 (taskIndex, subtaskIndex)
type Slot struct {
	Task    int `json:"taskIndex"`
	Subtask int `json:"subtaskIndex"`
}

func (s Slot) Less(o Slot) bool {
	if s.Task != o.Task {
		return s.Task < o.Task
	}
	return s.Subtask < o.Subtask
}

func (s Slot) String() string {
	return fmt.Sprintf("(%d,%d)", s.Task, s.Subtask)
}

type SliderConfig struct {
	Min      int    `json:"min"`
	Max      int    `json:"max"`
	Step     int    `json:"step"`
	Default  int    `json:"default"`
	MinLabel string `json:"minLabel,omitempty"`
	MaxLabel string `json:"maxLabel,omitempty"`
}

type Hyperparameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Default     interface{} `json:"default"`
	Min         *float64    `json:"min,omitempty"`
	Max         *float64    `json:"max,omitempty"`
	Step        *float64    `json:"step,omitempty"`
	Options     []string    `json:"options,omitempty"`
	Description string      `json:"description,omitempty"`
}

type ModelSuggestion struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Question 返回给客户端的问题描述
type Question struct {
	QuestionID       string            `json:"questionId"`
	TaskIndex        int               `json:"taskIndex"`
	SubtaskIndex     int               `json:"subtaskIndex"`
	QuestionType     QuestionType      `json:"questionType"`
	QuestionText     string            `json:"questionText"`
	Options          []string          `json:"options,omitempty"`
	FileTypes        []string          `json:"fileTypes,omitempty"`
	MaxFileSize      int64             `json:"maxFileSize,omitempty"`
	IsRequired       bool              `json:"isRequired"`
	SliderConfig     *SliderConfig     `json:"sliderConfig,omitempty"`
	Hyperparameters  []Hyperparameter  `json:"hyperparameters,omitempty"`
	ModelSuggestions []ModelSuggestion `json:"modelSuggestions,omitempty"`
	GeneratedCode    string            `json:"generatedCode,omitempty"`
}

// QuestionDraft 未作答位置上已生成的问题，作答时以它为准
type QuestionDraft struct {
	UserEmail      string          `gorm:"primaryKey;size:255" json:"-"`
	ProjectID      string          `gorm:"primaryKey;size:32" json:"-"`
	TaskIndex      int             `gorm:"primaryKey;autoIncrement:false" json:"-"`
	SubtaskIndex   int             `gorm:"primaryKey;autoIncrement:false" json:"-"`
	Question       Question        `gorm:"serializer:json;type:longtext" json:"question"`
	DatasetSummary *DatasetSummary `gorm:"serializer:json;type:longtext" json:"datasetSummary,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

func (QuestionDraft) TableName() string {
	return "question_drafts"
}

// QuestionResult GET question 接口的返回
type QuestionResult struct {
	Question       Question        `json:"question"`
	ExistingAnswer *AnswerView     `json:"existingAnswer,omitempty"`
	DatasetSummary *DatasetSummary `json:"datasetSummary,omitempty"`
}

// QuestionFromAnswer 由已存储的答案还原问题描述
func QuestionFromAnswer(a *Answer) Question {
	return Question{
		QuestionID:   a.QuestionID,
		TaskIndex:    a.TaskIndex,
		SubtaskIndex: a.SubtaskIndex,
		QuestionType: a.QuestionType,
		QuestionText: a.QuestionText,
		Options:      a.Options,
		IsRequired:   a.QuestionType != QuestionTypeReadonly,
	}
}

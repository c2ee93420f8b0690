package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type QuestionType string

const (
	QuestionTypeText           QuestionType = "text"
	QuestionTypeRadio          QuestionType = "radio"
	QuestionTypeFile           QuestionType = "file"
	QuestionTypeReadonly       QuestionType = "readonly"
	QuestionTypeMultiselect    QuestionType = "multiselect"
	QuestionTypeSlider         QuestionType = "slider"
	QuestionTypeHyperparameter QuestionType = "hyperparameter"
)

func (t QuestionType) Valid() bool {
	switch t {
	case QuestionTypeText, QuestionTypeRadio, QuestionTypeFile, QuestionTypeReadonly,
		QuestionTypeMultiselect, QuestionTypeSlider, QuestionTypeHyperparameter:
		return true
	}
	return false
}

// Answer 每个 (项目, task, subtask) 最多一条，存在即视为已作答
type Answer struct {
	UserEmail            string            `gorm:"primaryKey;size:255" json:"userEmail" dynamodbav:"userEmail"`
	ProjectID            string            `gorm:"primaryKey;size:32" json:"projectId" dynamodbav:"projectId"`
	TaskIndex            int               `gorm:"primaryKey;autoIncrement:false" json:"taskIndex" dynamodbav:"taskIndex"`
	SubtaskIndex         int               `gorm:"primaryKey;autoIncrement:false" json:"subtaskIndex" dynamodbav:"subtaskIndex"`
	QuestionID           string            `gorm:"size:64" json:"questionId" dynamodbav:"questionId"`
	QuestionText         string            `gorm:"type:text" json:"questionText" dynamodbav:"questionText"`
	QuestionType         QuestionType      `gorm:"size:32" json:"questionType" dynamodbav:"questionType"`
	Options              []string          `gorm:"serializer:json;type:text" json:"options,omitempty" dynamodbav:"options,omitempty"`
	UserResponse         string            `gorm:"type:text" json:"userResponse" dynamodbav:"userResponse"`
	SelectedOptions      []string          `gorm:"serializer:json;type:text" json:"selectedOptions,omitempty" dynamodbav:"selectedOptions,omitempty"`
	FileName             string            `gorm:"size:255" json:"fileName,omitempty" dynamodbav:"fileName,omitempty"`
	FileURL              string            `gorm:"size:1024" json:"fileUrl,omitempty" dynamodbav:"fileUrl,omitempty"`
	SliderValue          *int              `json:"sliderValue,omitempty" dynamodbav:"sliderValue,omitempty"`
	HyperparameterValues map[string]string `gorm:"serializer:json;type:text" json:"hyperparameterValues,omitempty" dynamodbav:"hyperparameterValues,omitempty"`
	AnsweredAt           time.Time         `json:"answeredAt" dynamodbav:"answeredAt"`
}

func (Answer) TableName() string {
	return "answers"
}

// Slot 返回答案所在的位置
func (a *Answer) Slot() Slot {
	return Slot{Task: a.TaskIndex, Subtask: a.SubtaskIndex}
}

// SortAnswers 按 taskIndex, subtaskIndex 升序排序
func SortAnswers(answers []*Answer) {
	sort.SliceStable(answers, func(i, j int) bool {
		return answers[i].Slot().Less(answers[j].Slot())
	})
}

// AnswerPayload 客户端提交的答案
type AnswerPayload struct {
	AnswerType           QuestionType           `json:"answerType"`
	TextAnswer           string                 `json:"textAnswer,omitempty"`
	SelectedOption       string                 `json:"selectedOption,omitempty"`
	SelectedOptions      []string               `json:"selectedOptions,omitempty"`
	FileName             string                 `json:"fileName,omitempty"`
	FileURL              string                 `json:"fileUrl,omitempty"`
	SliderValue          *int                   `json:"sliderValue,omitempty"`
	HyperparameterValues map[string]interface{} `json:"hyperparameterValues,omitempty"`
}

// AnswerView 返回给客户端的答案
type AnswerView struct {
	UserEmail            string            `json:"userEmail"`
	ProjectID            string            `json:"projectId"`
	TaskIndex            int               `json:"taskIndex"`
	SubtaskIndex         int               `json:"subtaskIndex"`
	QuestionID           string            `json:"questionId"`
	AnswerType           QuestionType      `json:"answerType"`
	TextAnswer           string            `json:"textAnswer,omitempty"`
	SelectedOption       string            `json:"selectedOption,omitempty"`
	SelectedOptions      []string          `json:"selectedOptions,omitempty"`
	FileName             string            `json:"fileName,omitempty"`
	FileURL              string            `json:"fileUrl,omitempty"`
	SliderValue          *int              `json:"sliderValue,omitempty"`
	HyperparameterValues map[string]string `json:"hyperparameterValues,omitempty"`
	AnsweredAt           time.Time         `json:"answeredAt"`
}

func (a *Answer) View() *AnswerView {
	v := &AnswerView{
		UserEmail:            a.UserEmail,
		ProjectID:            a.ProjectID,
		TaskIndex:            a.TaskIndex,
		SubtaskIndex:         a.SubtaskIndex,
		QuestionID:           a.QuestionID,
		AnswerType:           a.QuestionType,
		TextAnswer:           a.UserResponse,
		SelectedOptions:      a.SelectedOptions,
		FileName:             a.FileName,
		FileURL:              a.FileURL,
		SliderValue:          a.SliderValue,
		HyperparameterValues: a.HyperparameterValues,
		AnsweredAt:           a.AnsweredAt,
	}
	if a.QuestionType == QuestionTypeRadio {
		v.SelectedOption = a.UserResponse
	}
	return v
}

// FormatSplit 训练/测试划分的展示文本
func FormatSplit(trainPercent int) string {
	return fmt.Sprintf("%d%% training / %d%% testing", trainPercent, 100-trainPercent)
}

// FormatHyperparameters 按给定顺序拼接 name=value
func FormatHyperparameters(order []string, values map[string]string) string {
	parts := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, name := range order {
		if v, ok := values[name]; ok {
			parts = append(parts, name+"="+v)
			seen[name] = true
		}
	}
	rest := make([]string, 0)
	for name := range values {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		parts = append(parts, name+"="+values[name])
	}
	return strings.Join(parts, ", ")
}

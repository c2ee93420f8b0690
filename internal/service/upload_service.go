package service

import (
	"context"
	"errors"
	"tinkerfai_backend/internal/model"
	"tinkerfai_backend/internal/repository"
	"tinkerfai_backend/internal/util"
	"tinkerfai_backend/pkg/logger"

	"go.uber.org/zap"
)

const msgStructureValid = "CSV validation successful"

// UploadService 上传地址和上传后校验，调用前确认项目归属
type UploadService struct {
	Projects repository.ProjectRepository
	Datasets *DatasetService
	AI       *AIService
}

func NewUploadService(store repository.Store, datasets *DatasetService, ai *AIService) *UploadService {
	return &UploadService{Projects: store.Projects(), Datasets: datasets, AI: ai}
}

func (s *UploadService) IssueUploadURL(ctx context.Context, userEmail, projectID string, taskIndex, subtaskIndex int, fileName string) (*model.UploadSlot, error) {
	if _, err := s.Projects.Get(ctx, userEmail, projectID); err != nil {
		return nil, projectNotFound(err, "Failed to load project")
	}
	return s.Datasets.IssueUploadSlot(ctx, userEmail, projectID, taskIndex, subtaskIndex, fileName)
}

// ValidateFile 先校验结构，结构合格再让模型判断内容是否与项目相符
func (s *UploadService) ValidateFile(ctx context.Context, userEmail, projectID, fileKey string) (*model.FileValidation, error) {
	project, err := s.Projects.Get(ctx, userEmail, projectID)
	if err != nil {
		return nil, projectNotFound(err, "Failed to load project")
	}
	if fileKey == "" {
		return nil, util.Validation("File key is required")
	}
	if !util.KeyBelongsToProject(fileKey, userEmail, projectID) {
		return nil, util.ForbiddenError("File does not belong to this project")
	}

	sample, err := s.Datasets.ValidateAndSample(ctx, fileKey)
	if err != nil {
		if util.IsKind(err, util.KindValidation) || util.IsKind(err, util.KindNotFound) {
			return &model.FileValidation{
				IsValid:           false,
				ValidationDetails: &model.ValidationDetails{Message: rejectionMessage(err)},
			}, nil
		}
		return nil, err
	}

	details := &model.ValidationDetails{
		Message:        msgStructureValid,
		StructureValid: true,
		SampleRows:     len(sample),
	}
	if s.AI == nil {
		return &model.FileValidation{IsValid: true, ValidationDetails: details}, nil
	}

	ok, msg, err := s.AI.ValidateCSVContent(ctx, sample, RenderContext(project.ContextLog))
	if err != nil {
		// 内容校验不可用时只按结构判断
		logger.Log.Warn("Content validation unavailable", zap.String("fileKey", fileKey), zap.Error(err))
		details.ContentMessage = "Content validation is currently unavailable"
		return &model.FileValidation{IsValid: true, ValidationDetails: details}, nil
	}
	details.ContentValid = &ok
	details.ContentMessage = msg
	if !ok {
		details.Message = msg
	}
	return &model.FileValidation{IsValid: ok, ValidationDetails: details}, nil
}

func rejectionMessage(err error) string {
	var appErr *util.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

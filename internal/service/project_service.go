package service

import (
	"context"
	"errors"
	"time"
	"tinkerfai_backend/internal/model"
	"tinkerfai_backend/internal/repository"
	"tinkerfai_backend/internal/util"
	"tinkerfai_backend/pkg/logger"

	"go.uber.org/zap"
)

const (
	msgInvalidProjectName = "Project name is required and must be at most 100 characters"
	msgInvalidProjectType = "Project type must be either 'beginner' or 'expert'"
)

type ProjectService struct {
	Projects repository.ProjectRepository
	Datasets *DatasetService
	newID    func() (string, error)
	now      func() time.Time
}

func NewProjectService(store repository.Store, datasets *DatasetService) *ProjectService {
	return &ProjectService{
		Projects: store.Projects(),
		Datasets: datasets,
		newID:    model.GenerateProjectID,
		now:      time.Now,
	}
}

func projectNotFound(err error, action string) error {
	if errors.Is(err, util.ErrProjectNotFound) {
		return util.NotFoundError("Project not found")
	}
	return util.Internal(action, err)
}

// CreateProject 项目ID冲突时重新生成一次
func (s *ProjectService) CreateProject(ctx context.Context, userEmail, name string, projectType model.ProjectType) (*model.Project, error) {
	name, ok := model.NormalizeProjectName(name)
	if !ok {
		return nil, util.Validation(msgInvalidProjectName)
	}
	if !projectType.Valid() {
		return nil, util.Validation(msgInvalidProjectType)
	}

	now := s.now().UTC()
	project := &model.Project{
		UserEmail:   userEmail,
		ProjectName: name,
		ProjectType: projectType,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var err error
	for attempt := 0; attempt < 2; attempt++ {
		project.ProjectID, err = s.newID()
		if err != nil {
			return nil, util.Internal("Failed to generate project id", err)
		}
		err = s.Projects.Create(ctx, project)
		if !errors.Is(err, util.ErrDuplicateProject) {
			break
		}
		logger.Log.Warn("Project id collision, regenerating", zap.String("projectId", project.ProjectID))
	}
	if errors.Is(err, util.ErrDuplicateProject) {
		return nil, util.NewError(util.KindConflict, "Project already exists", err)
	}
	if err != nil {
		return nil, util.Internal("Failed to create project", err)
	}

	logger.Log.Info("Project created",
		zap.String("projectId", project.ProjectID),
		zap.String("projectType", string(projectType)),
	)
	return project, nil
}

func (s *ProjectService) ListProjects(ctx context.Context, userEmail string) ([]*model.Project, error) {
	projects, err := s.Projects.ListForUser(ctx, userEmail)
	if err != nil {
		return nil, util.Internal("Failed to list projects", err)
	}
	return projects, nil
}

func (s *ProjectService) GetProject(ctx context.Context, userEmail, projectID string) (*model.Project, error) {
	project, err := s.Projects.Get(ctx, userEmail, projectID)
	if err != nil {
		return nil, projectNotFound(err, "Failed to load project")
	}
	return project, nil
}

func (s *ProjectService) UpdateProject(ctx context.Context, userEmail, projectID string, update model.ProjectUpdate) (*model.Project, error) {
	if update.ProjectName == nil && update.ProjectType == nil {
		return nil, util.Validation("Nothing to update")
	}
	if update.ProjectName != nil {
		name, ok := model.NormalizeProjectName(*update.ProjectName)
		if !ok {
			return nil, util.Validation(msgInvalidProjectName)
		}
		update.ProjectName = &name
	}
	if update.ProjectType != nil && !update.ProjectType.Valid() {
		return nil, util.Validation(msgInvalidProjectType)
	}

	project, err := s.Projects.Update(ctx, userEmail, projectID, update)
	if err != nil {
		return nil, projectNotFound(err, "Failed to update project")
	}
	return project, nil
}

// DeleteProject 删除项目记录后清理上传文件，文件清理失败只记录日志
func (s *ProjectService) DeleteProject(ctx context.Context, userEmail, projectID string) error {
	if err := s.Projects.Delete(ctx, userEmail, projectID); err != nil {
		return projectNotFound(err, "Failed to delete project")
	}

	if s.Datasets != nil {
		deleted, err := s.Datasets.DeleteProjectFiles(ctx, userEmail, projectID)
		if err != nil {
			logger.Log.Warn("Failed to delete project files",
				zap.String("projectId", projectID),
				zap.Int("deleted", deleted),
				zap.Error(err),
			)
		}
	}

	logger.Log.Info("Project deleted", zap.String("projectId", projectID))
	return nil
}

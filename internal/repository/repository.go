package repository

import (
	"context"
	"tinkerfai_backend/internal/model"
)

// ProjectRepository 项目及其上下文日志的存储
type ProjectRepository interface {
	// Create 项目ID已存在时返回 util.ErrDuplicateProject
	Create(ctx context.Context, project *model.Project) error
	Get(ctx context.Context, userEmail, projectID string) (*model.Project, error)
	// ListForUser 按最近更新时间倒序，不包含上下文日志
	ListForUser(ctx context.Context, userEmail string) ([]*model.Project, error)
	Update(ctx context.Context, userEmail, projectID string, update model.ProjectUpdate) (*model.Project, error)
	AppendContext(ctx context.Context, userEmail, projectID string, entry model.ContextEntry) error
	// Delete 同时删除项目下的答案和草稿
	Delete(ctx context.Context, userEmail, projectID string) error
}

// AnswerRepository 答案与未作答问题草稿的存储
type AnswerRepository interface {
	Save(ctx context.Context, answer *model.Answer) error
	Get(ctx context.Context, userEmail, projectID string, taskIndex, subtaskIndex int) (*model.Answer, error)
	// ListForProject 按 taskIndex, subtaskIndex 升序
	ListForProject(ctx context.Context, userEmail, projectID string) ([]*model.Answer, error)
	SaveDraft(ctx context.Context, draft *model.QuestionDraft) error
	GetDraft(ctx context.Context, userEmail, projectID string, taskIndex, subtaskIndex int) (*model.QuestionDraft, error)
	DeleteDraft(ctx context.Context, userEmail, projectID string, taskIndex, subtaskIndex int) error
}

// Store 同一存储后端同时提供两类仓库
type Store interface {
	Projects() ProjectRepository
	Answers() AnswerRepository
	Ping(ctx context.Context) error
}

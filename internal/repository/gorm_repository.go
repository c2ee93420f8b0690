package repository

import (
	"context"
	"errors"
	"time"
	"tinkerfai_backend/internal/model"
	"tinkerfai_backend/internal/util"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore 关系型数据库存储（MySQL），上下文日志单独建表
type GormStore struct {
	DB  *gorm.DB
	now func() time.Time
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{DB: db, now: time.Now}
}

func (s *GormStore) Projects() ProjectRepository { return (*gormProjects)(s) }
func (s *GormStore) Answers() AnswerRepository   { return (*gormAnswers)(s) }

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

type gormProjects GormStore

func (r *gormProjects) Create(ctx context.Context, project *model.Project) error {
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.Project{}).
			Where("user_email = ? AND project_id = ?", project.UserEmail, project.ProjectID).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return util.ErrDuplicateProject
		}
		p := *project
		p.ContextLog = nil
		return tx.Create(&p).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return util.ErrDuplicateProject
	}
	return err
}

func (r *gormProjects) find(tx *gorm.DB, userEmail, projectID string) (*model.Project, error) {
	var project model.Project
	err := tx.Where("user_email = ? AND project_id = ?", userEmail, projectID).First(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrProjectNotFound
	}
	if err != nil {
		return nil, err
	}
	return &project, nil
}

func (r *gormProjects) Get(ctx context.Context, userEmail, projectID string) (*model.Project, error) {
	db := r.DB.WithContext(ctx)
	project, err := r.find(db, userEmail, projectID)
	if err != nil {
		return nil, err
	}

	var entries []model.ContextEntry
	if err := db.Where("user_email = ? AND project_id = ?", userEmail, projectID).
		Order("id ASC").Find(&entries).Error; err != nil {
		return nil, err
	}
	if len(entries) > 0 {
		project.ContextLog = entries
	}
	return project, nil
}

func (r *gormProjects) ListForUser(ctx context.Context, userEmail string) ([]*model.Project, error) {
	projects := make([]*model.Project, 0)
	err := r.DB.WithContext(ctx).
		Where("user_email = ?", userEmail).
		Order("updated_at DESC").Order("project_id ASC").
		Find(&projects).Error
	return projects, err
}

func (r *gormProjects) Update(ctx context.Context, userEmail, projectID string, update model.ProjectUpdate) (*model.Project, error) {
	var updated *model.Project
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		project, err := r.find(tx, userEmail, projectID)
		if err != nil {
			return err
		}

		values := map[string]interface{}{"updated_at": (*GormStore)(r).now().UTC()}
		if update.ProjectName != nil {
			values["project_name"] = *update.ProjectName
		}
		if update.ProjectType != nil {
			values["project_type"] = *update.ProjectType
		}
		if err := tx.Model(&model.Project{}).
			Where("user_email = ? AND project_id = ?", userEmail, projectID).
			Updates(values).Error; err != nil {
			return err
		}

		updated, err = r.find(tx, project.UserEmail, project.ProjectID)
		return err
	})
	return updated, err
}

func (r *gormProjects) AppendContext(ctx context.Context, userEmail, projectID string, entry model.ContextEntry) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := r.find(tx, userEmail, projectID); err != nil {
			return err
		}

		entry.ID = 0
		entry.UserEmail = userEmail
		entry.ProjectID = projectID
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}
		return tx.Model(&model.Project{}).
			Where("user_email = ? AND project_id = ?", userEmail, projectID).
			Update("updated_at", (*GormStore)(r).now().UTC()).Error
	})
}

func (r *gormProjects) Delete(ctx context.Context, userEmail, projectID string) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cond := "user_email = ? AND project_id = ?"
		res := tx.Where(cond, userEmail, projectID).Delete(&model.Project{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return util.ErrProjectNotFound
		}
		if err := tx.Where(cond, userEmail, projectID).Delete(&model.Answer{}).Error; err != nil {
			return err
		}
		if err := tx.Where(cond, userEmail, projectID).Delete(&model.QuestionDraft{}).Error; err != nil {
			return err
		}
		return tx.Where(cond, userEmail, projectID).Delete(&model.ContextEntry{}).Error
	})
}

type gormAnswers GormStore

func (r *gormAnswers) Save(ctx context.Context, answer *model.Answer) error {
	a := *answer
	return r.DB.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&a).Error
}

func (r *gormAnswers) Get(ctx context.Context, userEmail, projectID string, taskIndex, subtaskIndex int) (*model.Answer, error) {
	var answer model.Answer
	err := r.DB.WithContext(ctx).
		Where("user_email = ? AND project_id = ? AND task_index = ? AND subtask_index = ?",
			userEmail, projectID, taskIndex, subtaskIndex).
		First(&answer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrAnswerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &answer, nil
}

func (r *gormAnswers) ListForProject(ctx context.Context, userEmail, projectID string) ([]*model.Answer, error) {
	answers := make([]*model.Answer, 0)
	err := r.DB.WithContext(ctx).
		Where("user_email = ? AND project_id = ?", userEmail, projectID).
		Order("task_index ASC").Order("subtask_index ASC").
		Find(&answers).Error
	return answers, err
}

func (r *gormAnswers) SaveDraft(ctx context.Context, draft *model.QuestionDraft) error {
	d := *draft
	return r.DB.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&d).Error
}

func (r *gormAnswers) GetDraft(ctx context.Context, userEmail, projectID string, taskIndex, subtaskIndex int) (*model.QuestionDraft, error) {
	var draft model.QuestionDraft
	err := r.DB.WithContext(ctx).
		Where("user_email = ? AND project_id = ? AND task_index = ? AND subtask_index = ?",
			userEmail, projectID, taskIndex, subtaskIndex).
		First(&draft).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrDraftNotFound
	}
	if err != nil {
		return nil, err
	}
	return &draft, nil
}

func (r *gormAnswers) DeleteDraft(ctx context.Context, userEmail, projectID string, taskIndex, subtaskIndex int) error {
	return r.DB.WithContext(ctx).
		Where("user_email = ? AND project_id = ? AND task_index = ? AND subtask_index = ?",
			userEmail, projectID, taskIndex, subtaskIndex).
		Delete(&model.QuestionDraft{}).Error
}

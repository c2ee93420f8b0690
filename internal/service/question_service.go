package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"tinkerfai_backend/internal/model"
	"tinkerfai_backend/internal/repository"
	"tinkerfai_backend/internal/util"
	"tinkerfai_backend/pkg/logger"

	"go.uber.org/zap"
)

// SubmitAnswerRequest 提交答案的参数
type SubmitAnswerRequest struct {
	TaskIndex    int
	SubtaskIndex int
	QuestionID   string
	Payload      model.AnswerPayload
}

type QuestionService struct {
	Projects   repository.ProjectRepository
	Answers    repository.AnswerRepository
	Curriculum *Curriculum
	Datasets   *DatasetService
	now        func() time.Time
}

func NewQuestionService(store repository.Store, curriculum *Curriculum, datasets *DatasetService) *QuestionService {
	return &QuestionService{
		Projects:   store.Projects(),
		Answers:    store.Answers(),
		Curriculum: curriculum,
		Datasets:   datasets,
		now:        time.Now,
	}
}

func (s *QuestionService) loadProject(ctx context.Context, userEmail, projectID string) (*model.Project, error) {
	project, err := s.Projects.Get(ctx, userEmail, projectID)
	if errors.Is(err, util.ErrProjectNotFound) {
		return nil, util.NotFoundError("Project not found")
	}
	if err != nil {
		return nil, util.Internal("Failed to load project", err)
	}
	return project, nil
}

// GetOrCreateQuestion 已作答时返回存储的问题和答案；未作答时返回草稿，没有草稿才生成新问题
func (s *QuestionService) GetOrCreateQuestion(ctx context.Context, userEmail, projectID string, taskIndex, subtaskIndex int) (*model.QuestionResult, error) {
	project, err := s.loadProject(ctx, userEmail, projectID)
	if err != nil {
		return nil, err
	}
	return s.questionFor(ctx, project, model.Slot{Task: taskIndex, Subtask: subtaskIndex})
}

func (s *QuestionService) questionFor(ctx context.Context, project *model.Project, slot model.Slot) (*model.QuestionResult, error) {
	answer, err := s.Answers.Get(ctx, project.UserEmail, project.ProjectID, slot.Task, slot.Subtask)
	switch {
	case err == nil:
		return &model.QuestionResult{
			Question:       model.QuestionFromAnswer(answer),
			ExistingAnswer: answer.View(),
		}, nil
	case !errors.Is(err, util.ErrAnswerNotFound):
		return nil, util.Internal("Failed to load answer", err)
	}

	draft, err := s.Answers.GetDraft(ctx, project.UserEmail, project.ProjectID, slot.Task, slot.Subtask)
	switch {
	case err == nil:
		return &model.QuestionResult{Question: draft.Question, DatasetSummary: draft.DatasetSummary}, nil
	case !errors.Is(err, util.ErrDraftNotFound):
		return nil, util.Internal("Failed to load question", err)
	}

	built, err := s.Curriculum.Build(newBuildState(ctx, project, slot, s.Answers))
	if err != nil {
		logger.Log.Warn("Question generation failed",
			zap.String("projectId", project.ProjectID),
			zap.Stringer("slot", slot),
			zap.Error(err),
		)
		return nil, err
	}
	built.Question.QuestionID = model.GenerateUUID()

	draft = &model.QuestionDraft{
		UserEmail:      project.UserEmail,
		ProjectID:      project.ProjectID,
		TaskIndex:      slot.Task,
		SubtaskIndex:   slot.Subtask,
		Question:       built.Question,
		DatasetSummary: built.DatasetSummary,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.Answers.SaveDraft(ctx, draft); err != nil {
		return nil, util.Internal("Failed to save question", err)
	}

	logger.Log.Info("Question generated",
		zap.String("projectId", project.ProjectID),
		zap.Stringer("slot", slot),
		zap.String("questionId", built.Question.QuestionID),
		zap.String("questionType", string(built.Question.QuestionType)),
	)
	return &model.QuestionResult{Question: built.Question, DatasetSummary: built.DatasetSummary}, nil
}

// SubmitAnswer 以草稿中的问题为准保存答案，然后追加上下文；上下文失败只记录日志
func (s *QuestionService) SubmitAnswer(ctx context.Context, userEmail, projectID string, req SubmitAnswerRequest) (*model.AnswerView, error) {
	project, err := s.loadProject(ctx, userEmail, projectID)
	if err != nil {
		return nil, err
	}
	slot := model.Slot{Task: req.TaskIndex, Subtask: req.SubtaskIndex}

	result, err := s.questionFor(ctx, project, slot)
	if err != nil {
		return nil, err
	}
	question := result.Question
	if req.QuestionID != question.QuestionID {
		return nil, util.Validation("Question ID does not match the current question")
	}

	answer, err := normalizeAnswer(project, question, req.Payload)
	if err != nil {
		return nil, err
	}
	answer.AnsweredAt = s.now().UTC()

	if err := s.Answers.Save(ctx, answer); err != nil {
		return nil, util.Internal("Failed to save answer", err)
	}
	if err := s.Answers.DeleteDraft(ctx, userEmail, projectID, slot.Task, slot.Subtask); err != nil && !errors.Is(err, util.ErrDraftNotFound) {
		logger.Log.Warn("Failed to delete question draft", zap.String("projectId", projectID), zap.Stringer("slot", slot), zap.Error(err))
	}

	if err := s.appendContext(ctx, project, slot, question, answer); err != nil {
		logger.Log.Warn("Failed to update project context",
			zap.String("projectId", projectID),
			zap.Stringer("slot", slot),
			zap.Error(err),
		)
	}

	logger.Log.Info("Answer submitted",
		zap.String("projectId", projectID),
		zap.Stringer("slot", slot),
		zap.String("answerType", string(answer.QuestionType)),
	)
	return answer.View(), nil
}

func (s *QuestionService) appendContext(ctx context.Context, project *model.Project, slot model.Slot, question model.Question, answer *model.Answer) error {
	now := s.now()

	// 数据集摘要只在确认摘要这一步写入一次
	if slot == (model.Slot{Task: 2, Subtask: 1}) {
		upload, err := s.Answers.Get(ctx, project.UserEmail, project.ProjectID, 2, 0)
		if err != nil {
			return fmt.Errorf("load dataset answer: %w", err)
		}
		summary, err := s.Datasets.SummaryForContext(ctx, upload.FileURL)
		if err != nil {
			return fmt.Errorf("summarize dataset: %w", err)
		}
		entry, err := summaryEntry(slot, summary, now)
		if err != nil {
			return err
		}
		return s.Projects.AppendContext(ctx, project.UserEmail, project.ProjectID, entry)
	}

	preview := ""
	if answer.QuestionType == model.QuestionTypeFile {
		rows, err := s.Datasets.PreviewRows(ctx, answer.FileURL, answerPreviewRows)
		if err != nil {
			logger.Log.Warn("Failed to read CSV preview", zap.String("fileKey", answer.FileURL), zap.Error(err))
		}
		preview = csvPreview(rows)
	}
	entry := qaEntry(slot, question.QuestionText, question.Options, answer.UserResponse, preview, now)
	return s.Projects.AppendContext(ctx, project.UserEmail, project.ProjectID, entry)
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// normalizeAnswer 校验答案并渲染为一条展示文本
func normalizeAnswer(project *model.Project, q model.Question, p model.AnswerPayload) (*model.Answer, error) {
	if p.AnswerType == "" {
		p.AnswerType = q.QuestionType
	}
	if !p.AnswerType.Valid() {
		return nil, util.Validation("Unsupported answer type: " + string(p.AnswerType))
	}
	if p.AnswerType != q.QuestionType {
		return nil, util.Validation(fmt.Sprintf("Answer type %s does not match question type %s", p.AnswerType, q.QuestionType))
	}

	a := &model.Answer{
		UserEmail:    project.UserEmail,
		ProjectID:    project.ProjectID,
		TaskIndex:    q.TaskIndex,
		SubtaskIndex: q.SubtaskIndex,
		QuestionID:   q.QuestionID,
		QuestionText: q.QuestionText,
		QuestionType: q.QuestionType,
		Options:      q.Options,
	}

	switch q.QuestionType {
	case model.QuestionTypeText:
		text := strings.TrimSpace(p.TextAnswer)
		if text == "" && q.IsRequired {
			return nil, util.Validation("Answer text is required")
		}
		a.UserResponse = text

	case model.QuestionTypeRadio:
		if p.SelectedOption == "" {
			return nil, util.Validation("Please select an option")
		}
		if len(q.Options) > 0 && !containsString(q.Options, p.SelectedOption) {
			return nil, util.Validation("Selected option is not one of the available options")
		}
		a.UserResponse = p.SelectedOption

	case model.QuestionTypeMultiselect:
		selected := make([]string, 0, len(p.SelectedOptions))
		for _, opt := range p.SelectedOptions {
			if len(q.Options) > 0 && !containsString(q.Options, opt) {
				return nil, util.Validation("Selected option is not one of the available options: " + opt)
			}
			if !containsString(selected, opt) {
				selected = append(selected, opt)
			}
		}
		if len(selected) == 0 {
			return nil, util.Validation("Please select at least one option")
		}
		a.SelectedOptions = selected
		a.UserResponse = strings.Join(selected, ", ")

	case model.QuestionTypeFile:
		name := util.SanitizeFileName(p.FileName)
		if name == "" || p.FileURL == "" {
			return nil, util.Validation("File name and file key are required")
		}
		if !util.KeyBelongsToProject(p.FileURL, project.UserEmail, project.ProjectID) {
			return nil, util.ForbiddenError("File does not belong to this project")
		}
		a.FileName = name
		a.FileURL = p.FileURL
		a.UserResponse = "Uploaded file: " + name

	case model.QuestionTypeReadonly:
		a.UserResponse = "User clicked Proceed"

	case model.QuestionTypeSlider:
		if p.SliderValue == nil {
			return nil, util.Validation("Slider value is required")
		}
		v := *p.SliderValue
		if cfg := q.SliderConfig; cfg != nil && (v < cfg.Min || v > cfg.Max) {
			return nil, util.Validation(fmt.Sprintf("Slider value must be between %d and %d", cfg.Min, cfg.Max))
		}
		a.SliderValue = &v
		a.UserResponse = model.FormatSplit(v)

	case model.QuestionTypeHyperparameter:
		values, order, err := hyperparameterValues(q.Hyperparameters, p.HyperparameterValues)
		if err != nil {
			return nil, err
		}
		a.HyperparameterValues = values
		a.UserResponse = model.FormatHyperparameters(order, values)
	}
	return a, nil
}

// hyperparameterValues 按问题中的顺序取值，未提交的参数使用默认值
func hyperparameterValues(params []model.Hyperparameter, submitted map[string]interface{}) (map[string]string, []string, error) {
	values := make(map[string]string, len(params))
	order := make([]string, 0, len(params))
	for _, hp := range params {
		v, ok := submitted[hp.Name]
		if !ok || v == nil {
			v = hp.Default
		}
		text := formatParamValue(v)
		if hp.Type == "select" && len(hp.Options) > 0 && !containsString(hp.Options, text) {
			return nil, nil, util.Validation(fmt.Sprintf("Invalid value for %s: %s", hp.Name, text))
		}
		if n, err := strconv.ParseFloat(text, 64); err == nil {
			if (hp.Min != nil && n < *hp.Min) || (hp.Max != nil && n > *hp.Max) {
				return nil, nil, util.Validation(fmt.Sprintf("Value for %s is out of range", hp.Name))
			}
		}
		values[hp.Name] = text
		order = append(order, hp.Name)
	}
	if len(params) == 0 {
		for name, v := range submitted {
			values[name] = formatParamValue(v)
		}
	}
	return values, order, nil
}

func formatParamValue(v interface{}) string {
	switch x := v.(type) {
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case string:
		return strings.TrimSpace(x)
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}

type ProgressService struct {
	Projects   repository.ProjectRepository
	Answers    repository.AnswerRepository
	Curriculum *Curriculum
}

func NewProgressService(store repository.Store, curriculum *Curriculum) *ProgressService {
	return &ProgressService{Projects: store.Projects(), Answers: store.Answers(), Curriculum: curriculum}
}

func (s *ProgressService) GetProgress(ctx context.Context, userEmail, projectID string) (*model.Progress, error) {
	if _, err := s.Projects.Get(ctx, userEmail, projectID); err != nil {
		if errors.Is(err, util.ErrProjectNotFound) {
			return nil, util.NotFoundError("Project not found")
		}
		return nil, util.Internal("Failed to load project", err)
	}
	answers, err := s.Answers.ListForProject(ctx, userEmail, projectID)
	if err != nil {
		return nil, util.Internal("Failed to load answers", err)
	}
	return s.Curriculum.Progress(answers), nil
}

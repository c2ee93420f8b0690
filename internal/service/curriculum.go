package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"tinkerfai_backend/internal/model"
	"tinkerfai_backend/internal/repository"
	"tinkerfai_backend/internal/util"
)

const (
	splitMin     = 50
	splitMax     = 90
	splitStep    = 5
	splitDefault = 80
)

const (
	optionFillMean    = "Fill missing values with mean (numeric) / mode (categorical)"
	optionFillMedian  = "Fill missing values with median (numeric) / mode (categorical)"
	optionNormalize   = "Normalize numeric features (StandardScaler)"
	optionNoNormalize = "Proceed without normalization"
	optionOversample  = "Yes, apply oversampling to balance the classes"
	optionKeepClasses = "No, keep the original class distribution"
	proceedSuffix     = " Click submit to proceed to the next step."
)

var problemTypeRe = regexp.MustCompile(`This is an? (regression|classification) problem`)

// builtQuestion 构建结果，QuestionID 由调用方分配
type builtQuestion struct {
	Question       model.Question
	DatasetSummary *model.DatasetSummary
}

// buildState 单次构建过程中读取的项目状态，已读取的答案会被缓存
type buildState struct {
	ctx     context.Context
	project *model.Project
	slot    model.Slot
	context string
	answers repository.AnswerRepository
	cache   map[model.Slot]*model.Answer
}

func newBuildState(ctx context.Context, project *model.Project, slot model.Slot, answers repository.AnswerRepository) *buildState {
	return &buildState{
		ctx:     ctx,
		project: project,
		slot:    slot,
		context: RenderContext(project.ContextLog),
		answers: answers,
		cache:   make(map[model.Slot]*model.Answer),
	}
}

// answer 读取前置答案，不存在时返回带 missing 提示的校验错误
func (st *buildState) answer(task, subtask int, missing string) (*model.Answer, error) {
	slot := model.Slot{Task: task, Subtask: subtask}
	if a, ok := st.cache[slot]; ok {
		return a, nil
	}
	a, err := st.answers.Get(st.ctx, st.project.UserEmail, st.project.ProjectID, task, subtask)
	if errors.Is(err, util.ErrAnswerNotFound) {
		return nil, util.Validation(missing)
	}
	if err != nil {
		return nil, util.Internal("Failed to load previous answer", err)
	}
	st.cache[slot] = a
	return a, nil
}

func (st *buildState) datasetKey() (string, error) {
	a, err := st.answer(2, 0, "CSV file not found")
	if err != nil {
		return "", err
	}
	if a.FileURL == "" {
		return "", util.Validation("CSV file not found")
	}
	return a.FileURL, nil
}

func (st *buildState) target() (string, error) {
	a, err := st.answer(2, 2, "Target column selection required")
	if err != nil {
		return "", err
	}
	return a.UserResponse, nil
}

func (st *buildState) features() ([]string, error) {
	a, err := st.answer(3, 0, "Feature selection required")
	if err != nil {
		return nil, err
	}
	if len(a.SelectedOptions) > 0 {
		return a.SelectedOptions, nil
	}
	return splitList(a.UserResponse), nil
}

func splitList(s string) []string {
	out := make([]string, 0)
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

type questionBuilder func(c *Curriculum, st *buildState) (*builtQuestion, error)

type SubtaskDefinition struct {
	Index int
	Title string
	build questionBuilder
}

// TaskDefinition 一个任务及其完成条件，answered 为已作答的 subtask 序号
type TaskDefinition struct {
	Index    int
	Title    string
	Subtasks []SubtaskDefinition
	Complete func(answered []int) bool
}

func subtaskAnswered(index int) func([]int) bool {
	return func(answered []int) bool {
		for _, s := range answered {
			if s == index {
				return true
			}
		}
		return false
	}
}

func atLeastAnswered(n int) func([]int) bool {
	return func(answered []int) bool {
		return len(answered) >= n
	}
}

// Curriculum 课程定义，新增任务只需要追加 TaskDefinition
type Curriculum struct {
	AI       *AIService
	Datasets *DatasetService
	Tasks    []TaskDefinition
}

func NewCurriculum(ai *AIService, datasets *DatasetService) *Curriculum {
	return &Curriculum{
		AI:       ai,
		Datasets: datasets,
		Tasks: []TaskDefinition{
			{
				Index:    1,
				Title:    "Project Idea",
				Subtasks: []SubtaskDefinition{{0, "Describe your project", buildProjectIdea}},
				Complete: subtaskAnswered(0),
			},
			{
				Index: 2,
				Title: "Dataset",
				Subtasks: []SubtaskDefinition{
					{0, "Upload dataset", buildUpload},
					{1, "Review dataset summary", buildSummaryReview},
					{2, "Choose target column", buildTargetChoice},
					{3, "Confirm problem type", buildProblemType},
				},
				Complete: atLeastAnswered(4),
			},
			{
				Index: 3,
				Title: "Data Preparation",
				Subtasks: []SubtaskDefinition{
					{0, "Select features", buildFeatureChoice},
					{1, "Handle missing values", buildMissingValues},
					{2, "Normalize features", buildNormalization},
					{3, "Balance classes", buildClassBalance},
				},
				Complete: atLeastAnswered(4),
			},
			{
				Index: 4,
				Title: "Model Training",
				Subtasks: []SubtaskDefinition{
					{0, "Split the data", buildSplit},
					{1, "Choose a model", buildModelChoice},
					{2, "Tune hyperparameters", buildHyperparameters},
					{3, "Training code", buildTrainingCode},
				},
				Complete: atLeastAnswered(4),
			},
		},
	}
}

// Lookup 返回位置对应的 subtask 定义
func (c *Curriculum) Lookup(slot model.Slot) (SubtaskDefinition, bool) {
	for _, task := range c.Tasks {
		if task.Index != slot.Task {
			continue
		}
		for _, sub := range task.Subtasks {
			if sub.Index == slot.Subtask {
				return sub, true
			}
		}
	}
	return SubtaskDefinition{}, false
}

// Build 为位置生成问题，未知位置返回校验错误
func (c *Curriculum) Build(st *buildState) (*builtQuestion, error) {
	def, ok := c.Lookup(st.slot)
	if !ok {
		return nil, util.Validation("Invalid task/subtask combination")
	}
	built, err := def.build(c, st)
	if err != nil {
		return nil, err
	}
	built.Question.TaskIndex = st.slot.Task
	built.Question.SubtaskIndex = st.slot.Subtask
	return built, nil
}

// Progress 由答案列表推导进度
func (c *Curriculum) Progress(answers []*model.Answer) *model.Progress {
	p := &model.Progress{
		CurrentTask:       1,
		CurrentSubtask:    0,
		CompletedTasks:    []int{},
		CompletedSubtasks: make(map[int][]int),
		TotalAnswers:      len(answers),
	}

	var latest *model.Slot
	seen := make(map[model.Slot]bool)
	for _, a := range answers {
		slot := a.Slot()
		if seen[slot] {
			continue
		}
		seen[slot] = true
		p.CompletedSubtasks[slot.Task] = append(p.CompletedSubtasks[slot.Task], slot.Subtask)
		if latest == nil || latest.Less(slot) {
			s := slot
			latest = &s
		}
	}
	for task := range p.CompletedSubtasks {
		sort.Ints(p.CompletedSubtasks[task])
	}

	for _, task := range c.Tasks {
		if task.Complete(p.CompletedSubtasks[task.Index]) {
			p.CompletedTasks = append(p.CompletedTasks, task.Index)
		}
	}

	if latest != nil {
		p.CurrentTask = latest.Task
		p.CurrentSubtask = latest.Subtask + 1
	}
	return p
}

func buildProjectIdea(c *Curriculum, st *buildState) (*builtQuestion, error) {
	text, err := c.AI.GenerateProjectIdeaQuestion(st.ctx, st.project.ProjectName, st.project.ProjectType)
	if err != nil {
		return nil, err
	}
	return &builtQuestion{Question: model.Question{
		QuestionType: model.QuestionTypeText,
		QuestionText: text,
		IsRequired:   true,
	}}, nil
}

func buildUpload(c *Curriculum, st *buildState) (*builtQuestion, error) {
	text, err := c.AI.GenerateUploadQuestion(st.ctx, st.context, st.project.ProjectName, st.project.ProjectType)
	if err != nil {
		return nil, err
	}
	return &builtQuestion{Question: model.Question{
		QuestionType: model.QuestionTypeFile,
		QuestionText: text,
		FileTypes:    append([]string{}, util.AllowedDatasetExtensions...),
		MaxFileSize:  c.Datasets.maxFileSize(),
		IsRequired:   true,
	}}, nil
}

func buildSummaryReview(c *Curriculum, st *buildState) (*builtQuestion, error) {
	key, err := st.datasetKey()
	if err != nil {
		return nil, err
	}
	summary, err := c.Datasets.Summarize(st.ctx, key)
	if err != nil {
		return nil, err
	}
	return &builtQuestion{
		Question: model.Question{
			QuestionType: model.QuestionTypeReadonly,
			QuestionText: "Review Dataset Summary:\n\n" + FormatDatasetSummary(summary) +
				"\n\nClick submit when you're ready to proceed to the next step.",
		},
		DatasetSummary: summary,
	}, nil
}

func columnNames(summary *model.DatasetSummary) []string {
	names := make([]string, 0, len(summary.Columns))
	for _, col := range summary.Columns {
		names = append(names, col.Name)
	}
	return names
}

func buildTargetChoice(c *Curriculum, st *buildState) (*builtQuestion, error) {
	key, err := st.datasetKey()
	if err != nil {
		return nil, err
	}
	if _, err := c.Datasets.ValidateAndSample(st.ctx, key); err != nil {
		return nil, err
	}
	summary, err := c.Datasets.Summarize(st.ctx, key)
	if err != nil {
		return nil, err
	}
	targets, err := c.AI.GenerateTargetColumns(st.ctx, columnNames(summary), st.context)
	if err != nil {
		return nil, err
	}
	options := targets.All()
	if len(options) == 0 {
		return nil, util.Upstream("No suitable target columns found in the dataset", nil)
	}
	return &builtQuestion{Question: model.Question{
		QuestionType: model.QuestionTypeRadio,
		QuestionText: "Choose the column you want to predict:",
		Options:      options,
		IsRequired:   true,
	}}, nil
}

func (c *Curriculum) detectProblemType(st *buildState) (*ProblemType, error) {
	target, err := st.target()
	if err != nil {
		return nil, err
	}
	key, err := st.datasetKey()
	if err != nil {
		return nil, err
	}
	sample, err := c.Datasets.ValidateAndSample(st.ctx, key)
	if err != nil {
		return nil, err
	}
	return c.AI.DetectProblemType(st.ctx, target, sample, st.context)
}

func buildProblemType(c *Curriculum, st *buildState) (*builtQuestion, error) {
	pt, err := c.detectProblemType(st)
	if err != nil {
		return nil, err
	}
	text := fmt.Sprintf("Confirm problem type: This is a %s problem. %s Click submit to proceed to the next step.",
		pt.Type, pt.Explanation)
	return &builtQuestion{Question: model.Question{
		QuestionType: model.QuestionTypeReadonly,
		QuestionText: text,
	}}, nil
}

// problemType 优先使用 (2,3) 已确认的文本，没有时重新判断
func (c *Curriculum) problemType(st *buildState) (string, error) {
	if a, err := st.answer(2, 3, ""); err == nil {
		if m := problemTypeRe.FindStringSubmatch(a.QuestionText); m != nil {
			return m[1], nil
		}
	} else if !util.IsKind(err, util.KindValidation) {
		return "", err
	}
	pt, err := c.detectProblemType(st)
	if err != nil {
		return "", err
	}
	return pt.Type, nil
}

func buildFeatureChoice(c *Curriculum, st *buildState) (*builtQuestion, error) {
	target, err := st.target()
	if err != nil {
		return nil, err
	}
	key, err := st.datasetKey()
	if err != nil {
		return nil, err
	}
	summary, err := c.Datasets.Summarize(st.ctx, key)
	if err != nil {
		return nil, err
	}
	problemType, err := c.problemType(st)
	if err != nil {
		return nil, err
	}
	features, err := c.AI.RecommendFeatures(st.ctx, columnNames(summary), target, problemType, st.context)
	if err != nil {
		return nil, err
	}
	return &builtQuestion{Question: model.Question{
		QuestionType: model.QuestionTypeMultiselect,
		QuestionText: fmt.Sprintf("Select the features to use for predicting '%s':", target),
		Options:      features,
		IsRequired:   true,
	}}, nil
}

func buildMissingValues(c *Curriculum, st *buildState) (*builtQuestion, error) {
	target, err := st.target()
	if err != nil {
		return nil, err
	}
	features, err := st.features()
	if err != nil {
		return nil, err
	}
	key, err := st.datasetKey()
	if err != nil {
		return nil, err
	}
	impact, err := c.Datasets.MissingImpact(st.ctx, key, target, features)
	if err != nil {
		return nil, err
	}

	if impact.RowsToDrop == 0 {
		return &builtQuestion{Question: model.Question{
			QuestionType: model.QuestionTypeReadonly,
			QuestionText: "No missing values were found in the target column or the selected features." + proceedSuffix,
		}}, nil
	}

	text := fmt.Sprintf("%d of %d rows (%.2f%%) have missing values in the target column or the selected features. How would you like to handle them?",
		impact.RowsToDrop, impact.TotalRows, impact.DropPercentage)
	return &builtQuestion{Question: model.Question{
		QuestionType: model.QuestionTypeRadio,
		QuestionText: text,
		Options: []string{
			optionFillMean,
			optionFillMedian,
			fmt.Sprintf("Drop rows with missing values (%.2f%% of the data)", impact.DropPercentage),
		},
		IsRequired: true,
	}}, nil
}

func buildNormalization(c *Curriculum, st *buildState) (*builtQuestion, error) {
	return &builtQuestion{Question: model.Question{
		QuestionType: model.QuestionTypeRadio,
		QuestionText: "Numeric features often have very different ranges. Would you like to normalize the numeric features before training?",
		Options:      []string{optionNormalize, optionNoNormalize},
		IsRequired:   true,
	}}, nil
}

func formatDistribution(classes []model.ClassCount) string {
	parts := make([]string, 0, len(classes))
	for _, cc := range classes {
		parts = append(parts, fmt.Sprintf("%s: %d (%.2f%%)", cc.Class, cc.Count, cc.Percentage))
	}
	return strings.Join(parts, ", ")
}

func buildClassBalance(c *Curriculum, st *buildState) (*builtQuestion, error) {
	problemType, err := c.problemType(st)
	if err != nil {
		return nil, err
	}
	if problemType == ProblemRegression {
		return &builtQuestion{Question: model.Question{
			QuestionType: model.QuestionTypeReadonly,
			QuestionText: "Class balancing only applies to classification problems, so no balancing is needed for this regression problem." + proceedSuffix,
		}}, nil
	}

	target, err := st.target()
	if err != nil {
		return nil, err
	}
	key, err := st.datasetKey()
	if err != nil {
		return nil, err
	}
	decision, err := c.Datasets.ClassBalance(st.ctx, key, target)
	if err != nil {
		return nil, err
	}
	distribution := formatDistribution(decision.Classes)

	if decision.Balanced {
		text := fmt.Sprintf("The classes in '%s' are balanced enough for training (%s).", target, distribution)
		if decision.Reason == model.BalanceInsufficientSamples {
			text = fmt.Sprintf("The smallest class in '%s' (%s) has fewer than %s samples, which is too few for reliable oversampling, so training will use the original distribution (%s).",
				target, decision.MinorityClass, strconv.FormatFloat(decision.MinRequiredCount, 'f', -1, 64), distribution)
		}
		return &builtQuestion{Question: model.Question{
			QuestionType: model.QuestionTypeReadonly,
			QuestionText: text + proceedSuffix,
		}}, nil
	}

	return &builtQuestion{Question: model.Question{
		QuestionType: model.QuestionTypeRadio,
		QuestionText: fmt.Sprintf("The classes in '%s' are imbalanced (%s). Would you like to oversample the minority classes?", target, distribution),
		Options:      []string{optionOversample, optionKeepClasses},
		IsRequired:   true,
	}}, nil
}

func buildSplit(c *Curriculum, st *buildState) (*builtQuestion, error) {
	return &builtQuestion{Question: model.Question{
		QuestionType: model.QuestionTypeSlider,
		QuestionText: "How much of the data should be used for training? The rest will be used to test the model.",
		SliderConfig: &model.SliderConfig{
			Min:      splitMin,
			Max:      splitMax,
			Step:     splitStep,
			Default:  splitDefault,
			MinLabel: model.FormatSplit(splitMin),
			MaxLabel: model.FormatSplit(splitMax),
		},
		IsRequired: true,
	}}, nil
}

func buildModelChoice(c *Curriculum, st *buildState) (*builtQuestion, error) {
	target, err := st.target()
	if err != nil {
		return nil, err
	}
	features, err := st.features()
	if err != nil {
		return nil, err
	}
	problemType, err := c.problemType(st)
	if err != nil {
		return nil, err
	}
	models, err := c.AI.SuggestModels(st.ctx, problemType, target, features, st.context)
	if err != nil {
		return nil, err
	}
	options := make([]string, 0, len(models))
	for _, m := range models {
		options = append(options, m.Name)
	}
	return &builtQuestion{Question: model.Question{
		QuestionType:     model.QuestionTypeRadio,
		QuestionText:     "Choose the model you want to train:",
		Options:          options,
		ModelSuggestions: models,
		IsRequired:       true,
	}}, nil
}

func buildHyperparameters(c *Curriculum, st *buildState) (*builtQuestion, error) {
	chosen, err := st.answer(4, 1, "Model selection required")
	if err != nil {
		return nil, err
	}
	problemType, err := c.problemType(st)
	if err != nil {
		return nil, err
	}
	params, err := c.AI.SuggestHyperparameters(st.ctx, chosen.UserResponse, problemType, st.context)
	if err != nil {
		return nil, err
	}
	return &builtQuestion{Question: model.Question{
		QuestionType:    model.QuestionTypeHyperparameter,
		QuestionText:    fmt.Sprintf("Tune the hyperparameters for %s:", chosen.UserResponse),
		Hyperparameters: params,
		IsRequired:      true,
	}}, nil
}

// choice 可选步骤为只读时说明无需处理
func choice(a *model.Answer, skipped string) string {
	if a.QuestionType == model.QuestionTypeReadonly {
		return skipped
	}
	return a.UserResponse
}

func buildTrainingCode(c *Curriculum, st *buildState) (*builtQuestion, error) {
	upload, err := st.answer(2, 0, "CSV file not found")
	if err != nil {
		return nil, err
	}
	target, err := st.target()
	if err != nil {
		return nil, err
	}
	features, err := st.features()
	if err != nil {
		return nil, err
	}
	problemType, err := c.problemType(st)
	if err != nil {
		return nil, err
	}
	missing, err := st.answer(3, 1, "Missing value handling required")
	if err != nil {
		return nil, err
	}
	scaling, err := st.answer(3, 2, "Normalization choice required")
	if err != nil {
		return nil, err
	}
	balancing, err := st.answer(3, 3, "Class balancing choice required")
	if err != nil {
		return nil, err
	}
	split, err := st.answer(4, 0, "Train/test split required")
	if err != nil {
		return nil, err
	}
	chosen, err := st.answer(4, 1, "Model selection required")
	if err != nil {
		return nil, err
	}
	params, err := st.answer(4, 2, "Hyperparameters required")
	if err != nil {
		return nil, err
	}

	plan := TrainingPlan{
		FileName:        upload.FileName,
		Target:          target,
		ProblemType:     problemType,
		Features:        features,
		MissingStrategy: choice(missing, "none needed (no missing values)"),
		Scaling:         scaling.UserResponse,
		Balancing:       choice(balancing, "none"),
		Split:           split.UserResponse,
		ModelName:       chosen.UserResponse,
		Hyperparameters: params.HyperparameterValues,
		ParamOrder:      splitParamOrder(params.UserResponse),
	}
	code, err := c.AI.GenerateTrainingCode(st.ctx, plan, st.context)
	if err != nil {
		return nil, err
	}
	return &builtQuestion{Question: model.Question{
		QuestionType:  model.QuestionTypeReadonly,
		QuestionText:  "Here is the training code for your project. Review it, then click submit to finish.",
		GeneratedCode: code,
	}}, nil
}

// splitParamOrder 从 "a=1, b=2" 中还原提交时的参数顺序
func splitParamOrder(rendered string) []string {
	order := make([]string, 0)
	for _, part := range splitList(rendered) {
		if i := strings.IndexByte(part, '='); i > 0 {
			order = append(order, part[:i])
		}
	}
	return order
}

// FormatDatasetSummary 数据集摘要的展示文本
func FormatDatasetSummary(summary *model.DatasetSummary) string {
	lines := []string{
		"Rows: " + formatThousands(summary.RowCount),
		fmt.Sprintf("Columns: %d", summary.ColumnCount),
		"",
		"Column Information:",
	}
	anyMissing := false
	for _, col := range summary.Columns {
		missing := summary.MissingValues[col.Name]
		if missing > 0 {
			anyMissing = true
		}
		lines = append(lines, fmt.Sprintf("  • %s: %s (%d unique values, %d missing)", col.Name, col.Type, col.UniqueValues, missing))
	}

	if anyMissing {
		lines = append(lines, "", "Missing Values Summary:")
		for _, col := range summary.Columns {
			missing := summary.MissingValues[col.Name]
			if missing == 0 {
				continue
			}
			pct := 0.0
			if summary.RowCount > 0 {
				pct = float64(missing) * 100 / float64(summary.RowCount)
			}
			lines = append(lines, fmt.Sprintf("  • %s: %d (%.1f%%)", col.Name, missing, pct))
		}
	}
	return strings.Join(lines, "\n")
}

func formatThousands(n int) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

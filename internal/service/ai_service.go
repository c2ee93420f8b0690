package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"tinkerfai_backend/internal/config"
	"tinkerfai_backend/internal/model"
	"tinkerfai_backend/internal/util"
	"tinkerfai_backend/pkg/logger"
	"tinkerfai_backend/pkg/monitoring"
	"tinkerfai_backend/pkg/tracing"

	"github.com/cenkalti/backoff/v5"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	ProblemRegression     = "regression"
	ProblemClassification = "classification"
)

const (
	maxModelSuggestions  = 6
	maxHyperparameters   = 3
	defaultIntegerParam  = 10
	defaultFloatParam    = 1.0
	creativeTemperature  = 0.7
	analyticTemperature  = 0.3
	defaultMaxTokens     = 1000
	codeMaxTokens        = 2000
	defaultMaxRetries    = 3
	defaultRetryInterval = time.Second
)

var errEmptyCompletion = errors.New("empty completion")

// ChatModel 对话模型，openai.LLM 满足该接口
type ChatModel interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// NewChatModel 创建 OpenAI 兼容的对话模型
func NewChatModel(cfg *config.AIConfig) (ChatModel, error) {
	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	return openai.New(opts...)
}

type AIService struct {
	Model  ChatModel
	Config *config.AIConfig
}

func NewAIService(chat ChatModel, cfg *config.AIConfig) *AIService {
	return &AIService{Model: chat, Config: cfg}
}

type completion struct {
	operation   string
	system      string
	user        string
	temperature float64
	maxTokens   int
	model       string
}

func (s *AIService) retryPolicy() (uint, time.Duration) {
	tries, delay := uint(defaultMaxRetries), defaultRetryInterval
	if s.Config.MaxRetries > 0 {
		tries = uint(s.Config.MaxRetries)
	}
	if s.Config.RetryDelay > 0 {
		delay = s.Config.RetryDelay
	}
	return tries, delay
}

// complete 调用模型，失败时以固定间隔重试，ctx 取消后立即返回
func (s *AIService) complete(ctx context.Context, req completion) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "ai."+req.operation, attribute.String("ai.operation", req.operation))
	start := time.Now()

	maxTokens := req.maxTokens
	if maxTokens == 0 {
		maxTokens = s.Config.MaxTokens
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	opts := []llms.CallOption{
		llms.WithTemperature(req.temperature),
		llms.WithMaxTokens(maxTokens),
	}
	if req.model != "" {
		opts = append(opts, llms.WithModel(req.model))
	}
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, req.system),
		llms.TextParts(llms.ChatMessageTypeHuman, req.user),
	}

	tries, delay := s.retryPolicy()
	attempt := 0
	text, err := backoff.Retry(ctx, func() (string, error) {
		attempt++
		resp, err := s.Model.GenerateContent(ctx, messages, opts...)
		if err != nil {
			return "", err
		}
		if resp == nil || len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
			return "", errEmptyCompletion
		}
		return strings.TrimSpace(resp.Choices[0].Content), nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(delay)),
		backoff.WithMaxTries(tries),
		backoff.WithNotify(func(err error, next time.Duration) {
			monitoring.GenerationCalls.WithLabelValues(req.operation, "retry").Inc()
			logger.Log.Warn("Content generation failed, retrying",
				zap.String("operation", req.operation),
				zap.Int("attempt", attempt),
				zap.Duration("next", next),
				zap.Error(err),
			)
		}),
	)

	monitoring.GenerationDuration.WithLabelValues(req.operation).Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.Int("ai.attempts", attempt))
	tracing.EndSpan(span, err)
	if err != nil {
		monitoring.GenerationCalls.WithLabelValues(req.operation, "failure").Inc()
		logger.Log.Error("Content generation failed",
			zap.String("operation", req.operation),
			zap.Int("attempts", attempt),
			zap.Error(err),
		)
		return "", err
	}
	monitoring.GenerationCalls.WithLabelValues(req.operation, "success").Inc()
	return text, nil
}

func fallbackUsed(operation string) {
	monitoring.GenerationCalls.WithLabelValues(operation, "fallback").Inc()
}

// decodeObject 去掉代码块后解析第一个包含 key 的 JSON 对象
func decodeObject(text, key string, v interface{}) bool {
	raw, ok := util.ExtractJSONObject(text, key)
	if !ok {
		return false
	}
	return json.Unmarshal([]byte(raw), v) == nil
}

func toJSON(v interface{}) string {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "No data"
	}
	return string(raw)
}

func (s *AIService) GenerateProjectIdeaQuestion(ctx context.Context, projectName string, projectType model.ProjectType) (string, error) {
	text, err := s.complete(ctx, completion{
		operation:   "project_idea_question",
		system:      tutorSystemPrompt,
		user:        fmt.Sprintf(projectIdeaPrompt, projectType, projectName),
		temperature: creativeTemperature,
	})
	if err != nil {
		return "", util.Upstream("Failed to generate question", err)
	}
	return text, nil
}

func (s *AIService) GenerateUploadQuestion(ctx context.Context, contextText, projectName string, projectType model.ProjectType) (string, error) {
	text, err := s.complete(ctx, completion{
		operation:   "upload_question",
		system:      guideSystemPrompt,
		user:        fmt.Sprintf(uploadQuestionPrompt, contextText, projectName, projectType),
		temperature: creativeTemperature,
	})
	if err != nil {
		return "", util.Upstream("Failed to generate question", err)
	}
	return text, nil
}

// ValidateCSVContent 判断样本数据是否适合用户的项目
func (s *AIService) ValidateCSVContent(ctx context.Context, sample []map[string]interface{}, contextText string) (bool, string, error) {
	if len(sample) > 5 {
		sample = sample[:5]
	}
	data := "No data"
	if len(sample) > 0 {
		data = toJSON(sample)
	}

	text, err := s.complete(ctx, completion{
		operation:   "validate_csv",
		system:      validationSystemPrompt,
		user:        fmt.Sprintf(validationPrompt, contextText, data),
		temperature: analyticTemperature,
	})
	if err != nil {
		return false, "", util.Upstream("Validation failed", err)
	}

	var result struct {
		IsValid *bool  `json:"is_valid"`
		Message string `json:"message"`
	}
	if decodeObject(text, "is_valid", &result) && result.IsValid != nil {
		if result.Message == "" {
			result.Message = "Unknown validation error"
		}
		return *result.IsValid, result.Message, nil
	}

	fallbackUsed("validate_csv")
	lower := strings.ToLower(text)
	return strings.Contains(lower, "valid") && strings.Contains(lower, "true"), text, nil
}

// TargetColumns 候选目标列
type TargetColumns struct {
	Regression     []string `json:"regression_columns"`
	Classification []string `json:"classification_columns"`
}

// All 回归候选在前，去重
func (t *TargetColumns) All() []string {
	out := make([]string, 0, len(t.Regression)+len(t.Classification))
	seen := make(map[string]bool)
	for _, c := range append(append([]string{}, t.Regression...), t.Classification...) {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

// keepKnown 只保留数据集中存在的列名，按出现顺序去重
func keepKnown(candidates, columns []string, exclude string) []string {
	known := make(map[string]bool, len(columns))
	for _, c := range columns {
		known[c] = true
	}
	out := make([]string, 0, len(candidates))
	seen := make(map[string]bool)
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if known[c] && !seen[c] && c != exclude {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

// columnIndex 返回列名在文本中第一次作为完整词出现的位置，price 不会匹配 price_range
func columnIndex(text, col string) int {
	if col == "" {
		return -1
	}
	re := regexp.MustCompile(`(?:^|\W)(` + regexp.QuoteMeta(col) + `)(?:\W|$)`)
	loc := re.FindStringSubmatchIndex(text)
	if loc == nil {
		return -1
	}
	return loc[2]
}

// scanTargetColumns 从自由文本中找出列名，按前面最近出现的
// "regression" / "classification" 归类，默认为分类
func scanTargetColumns(text string, columns []string) *TargetColumns {
	lower := strings.ToLower(text)
	result := &TargetColumns{Regression: []string{}, Classification: []string{}}
	for _, col := range columns {
		idx := columnIndex(text, col)
		if idx < 0 {
			continue
		}
		before := lower[:idx]
		if strings.LastIndex(before, ProblemRegression) > strings.LastIndex(before, ProblemClassification) {
			result.Regression = append(result.Regression, col)
		} else {
			result.Classification = append(result.Classification, col)
		}
	}
	return result
}

func (s *AIService) GenerateTargetColumns(ctx context.Context, columns []string, contextText string) (*TargetColumns, error) {
	text, err := s.complete(ctx, completion{
		operation:   "target_columns",
		system:      targetSystemPrompt,
		user:        fmt.Sprintf(targetPrompt, contextText, toJSON(columns)),
		temperature: analyticTemperature,
		model:       s.Config.TargetModel,
	})
	if err != nil {
		return nil, util.Upstream("Failed to analyze columns", err)
	}

	var result TargetColumns
	if decodeObject(text, "regression_columns", &result) || decodeObject(text, "classification_columns", &result) {
		result.Regression = keepKnown(result.Regression, columns, "")
		result.Classification = keepKnown(result.Classification, columns, "")
		return &result, nil
	}

	fallbackUsed("target_columns")
	logger.Log.Warn("Target column response was not JSON, scanning text", zap.String("response", text))
	return scanTargetColumns(text, columns), nil
}

// ProblemType 问题类型及模型给出的理由
type ProblemType struct {
	Type        string `json:"problem_type"`
	Explanation string `json:"explanation"`
}

func classifyProblemText(text string) string {
	lower := strings.ToLower(text)
	for _, kw := range []string{"regression", "continuous", "numerical"} {
		if strings.Contains(lower, kw) {
			return ProblemRegression
		}
	}
	return ProblemClassification
}

// targetSample 目标列的前 20 个样本值及其去重结果
func targetSample(target string, sample []map[string]interface{}) ([]interface{}, []interface{}) {
	values := make([]interface{}, 0, 20)
	for _, row := range sample {
		if len(values) == 20 {
			break
		}
		if v, ok := row[target]; ok {
			values = append(values, v)
		}
	}
	seen := make(map[string]bool)
	unique := make([]interface{}, 0)
	for _, v := range values {
		key := fmt.Sprint(v)
		if !seen[key] {
			seen[key] = true
			unique = append(unique, v)
		}
	}
	return values, unique
}

func (s *AIService) DetectProblemType(ctx context.Context, target string, sample []map[string]interface{}, contextText string) (*ProblemType, error) {
	values, unique := targetSample(target, sample)
	shown, shownUnique := values, unique
	if len(shown) > 10 {
		shown = shown[:10]
	}
	if len(shownUnique) > 10 {
		shownUnique = shownUnique[:10]
	}
	sampleJSON, _ := json.Marshal(shown)
	uniqueJSON, _ := json.Marshal(shownUnique)

	text, err := s.complete(ctx, completion{
		operation:   "problem_type",
		system:      problemTypeSystemPrompt,
		user:        fmt.Sprintf(problemTypePrompt, contextText, target, sampleJSON, uniqueJSON, len(unique)),
		temperature: analyticTemperature,
	})
	if err != nil {
		return nil, util.Upstream("Failed to detect problem type", err)
	}

	var result ProblemType
	if decodeObject(text, "problem_type", &result) {
		t := strings.ToLower(strings.TrimSpace(result.Type))
		if t != ProblemRegression && t != ProblemClassification {
			t = classifyProblemText(t)
		}
		result.Type = t
		return &result, nil
	}

	fallbackUsed("problem_type")
	return &ProblemType{Type: classifyProblemText(text), Explanation: text}, nil
}

func (s *AIService) RecommendFeatures(ctx context.Context, columns []string, target, problemType, contextText string) ([]string, error) {
	candidates := keepKnown(columns, columns, target)
	text, err := s.complete(ctx, completion{
		operation:   "recommend_features",
		system:      featuresSystemPrompt,
		user:        fmt.Sprintf(featuresPrompt, contextText, target, problemType, toJSON(candidates)),
		temperature: analyticTemperature,
	})
	if err != nil {
		return nil, util.Upstream("Failed to recommend features", err)
	}

	var result struct {
		Features []string `json:"features"`
	}
	var features []string
	if decodeObject(text, "features", &result) {
		features = keepKnown(result.Features, columns, target)
	} else {
		fallbackUsed("recommend_features")
		for _, c := range candidates {
			if columnIndex(text, c) >= 0 {
				features = append(features, c)
			}
		}
	}
	if len(features) == 0 {
		return nil, util.Upstream("No suitable features found in the dataset", nil)
	}
	return features, nil
}

func (s *AIService) SuggestModels(ctx context.Context, problemType, target string, features []string, contextText string) ([]model.ModelSuggestion, error) {
	text, err := s.complete(ctx, completion{
		operation:   "suggest_models",
		system:      modelsSystemPrompt,
		user:        fmt.Sprintf(modelsPrompt, contextText, problemType, target, strings.Join(features, ", ")),
		temperature: analyticTemperature,
	})
	if err != nil {
		return nil, util.Upstream("Failed to suggest models", err)
	}

	var result struct {
		Models []model.ModelSuggestion `json:"models"`
	}
	if !decodeObject(text, "models", &result) {
		return nil, util.Upstream("Failed to parse model suggestions", nil)
	}
	models := make([]model.ModelSuggestion, 0, maxModelSuggestions)
	seen := make(map[string]bool)
	for _, m := range result.Models {
		m.Name = strings.TrimSpace(m.Name)
		if m.Name == "" || seen[m.Name] {
			continue
		}
		seen[m.Name] = true
		models = append(models, m)
		if len(models) == maxModelSuggestions {
			break
		}
	}
	if len(models) == 0 {
		return nil, util.Upstream("No models suggested", nil)
	}
	return models, nil
}

func numberPtr(v interface{}) *float64 {
	if f, ok := v.(float64); ok {
		return &f
	}
	return nil
}

// sanitizeHyperparameters 丢弃缺少 name/type/default 的条目，补齐数值型的空默认值
func sanitizeHyperparameters(raw []map[string]interface{}) []model.Hyperparameter {
	out := make([]model.Hyperparameter, 0, maxHyperparameters)
	for _, entry := range raw {
		name, _ := entry["name"].(string)
		typ, _ := entry["type"].(string)
		def, hasDefault := entry["default"]
		name = strings.TrimSpace(name)
		typ = strings.ToLower(strings.TrimSpace(typ))
		if name == "" || typ == "" || !hasDefault {
			continue
		}

		if def == nil {
			switch typ {
			case "select":
				continue
			case "integer", "int":
				def = defaultIntegerParam
			case "float", "number":
				def = defaultFloatParam
			default:
				continue
			}
		}

		hp := model.Hyperparameter{
			Name:    name,
			Type:    typ,
			Default: def,
			Min:     numberPtr(entry["min"]),
			Max:     numberPtr(entry["max"]),
			Step:    numberPtr(entry["step"]),
		}
		if desc, ok := entry["description"].(string); ok {
			hp.Description = desc
		}
		if opts, ok := entry["options"].([]interface{}); ok {
			for _, o := range opts {
				if o != nil {
					hp.Options = append(hp.Options, fmt.Sprint(o))
				}
			}
		}
		out = append(out, hp)
		if len(out) == maxHyperparameters {
			break
		}
	}
	return out
}

func (s *AIService) SuggestHyperparameters(ctx context.Context, modelName, problemType, contextText string) ([]model.Hyperparameter, error) {
	text, err := s.complete(ctx, completion{
		operation:   "suggest_hyperparameters",
		system:      hyperparametersSystemPrompt,
		user:        fmt.Sprintf(hyperparametersPrompt, contextText, modelName, problemType),
		temperature: analyticTemperature,
	})
	if err != nil {
		return nil, util.Upstream("Failed to suggest hyperparameters", err)
	}

	var result struct {
		Hyperparameters []map[string]interface{} `json:"hyperparameters"`
	}
	if !decodeObject(text, "hyperparameters", &result) {
		return nil, util.Upstream("Failed to parse hyperparameter suggestions", nil)
	}
	params := sanitizeHyperparameters(result.Hyperparameters)
	if len(params) == 0 {
		return nil, util.Upstream("No hyperparameters suggested", nil)
	}
	return params, nil
}

// TrainingPlan 生成训练代码所需的用户选择
type TrainingPlan struct {
	FileName        string
	Target          string
	ProblemType     string
	Features        []string
	MissingStrategy string
	Scaling         string
	Balancing       string
	Split           string
	ModelName       string
	Hyperparameters map[string]string
	ParamOrder      []string
}

func (s *AIService) GenerateTrainingCode(ctx context.Context, plan TrainingPlan, contextText string) (string, error) {
	order := plan.ParamOrder
	if order == nil {
		for name := range plan.Hyperparameters {
			order = append(order, name)
		}
		sort.Strings(order)
	}
	params := model.FormatHyperparameters(order, plan.Hyperparameters)
	if params == "" {
		params = "library defaults"
	}

	text, err := s.complete(ctx, completion{
		operation: "training_code",
		system:    codeSystemPrompt,
		user: fmt.Sprintf(codePrompt, contextText,
			plan.FileName, plan.Target, plan.ProblemType, strings.Join(plan.Features, ", "),
			plan.MissingStrategy, plan.Scaling, plan.Balancing, plan.Split, plan.ModelName, params),
		temperature: analyticTemperature,
		maxTokens:   codeMaxTokens,
	})
	if err != nil {
		return "", util.Upstream("Failed to generate training code", err)
	}
	return util.StripCodeFences(text), nil
}

package service

import (
	"context"
	"errors"
	"time"
	"tinkerfai_backend/internal/config"
	"tinkerfai_backend/internal/model"
	"tinkerfai_backend/internal/util"
	"tinkerfai_backend/pkg/logger"
	"tinkerfai_backend/pkg/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	summaryPreviewRows = 5
	contextPreviewRows = 10
	answerPreviewRows  = 3
	defaultSampleRows  = 50
	defaultUploadTTL   = time.Hour
)

type DatasetService struct {
	Objects ObjectStore
	Cache   SummaryCache
	Config  *config.Config
	now     func() time.Time
}

func NewDatasetService(objects ObjectStore, cache SummaryCache, cfg *config.Config) *DatasetService {
	if cache == nil {
		cache = NoopSummaryCache{}
	}
	return &DatasetService{Objects: objects, Cache: cache, Config: cfg, now: time.Now}
}

func (s *DatasetService) maxFileSize() int64 {
	if s.Config.Dataset.MaxFileSize > 0 {
		return s.Config.Dataset.MaxFileSize
	}
	return util.MaxUploadSize
}

func (s *DatasetService) sampleRows() int {
	if s.Config.Dataset.SampleRows > 0 {
		return s.Config.Dataset.SampleRows
	}
	return defaultSampleRows
}

// IssueUploadSlot 为 (项目, task, subtask) 生成上传地址，只接受 CSV
func (s *DatasetService) IssueUploadSlot(ctx context.Context, userEmail, projectID string, taskIndex, subtaskIndex int, fileName string) (*model.UploadSlot, error) {
	name := util.SanitizeFileName(fileName)
	if name == "" || !util.IsCSVFile(name) {
		return nil, util.Validation("Only CSV files are allowed")
	}

	expires := s.Config.Storage.UploadExpires
	if expires <= 0 {
		expires = defaultUploadTTL
	}
	key := util.DatasetFileKey(userEmail, projectID, taskIndex, subtaskIndex, name, s.now())
	uploadURL, err := s.Objects.PresignUpload(ctx, key, expires)
	if err != nil {
		return nil, util.Internal("Failed to generate upload URL", err)
	}

	logger.Log.Info("Upload URL issued",
		zap.String("projectId", projectID),
		zap.String("fileKey", key),
	)
	return &model.UploadSlot{
		UploadURL: uploadURL,
		FileKey:   key,
		ExpiresIn: int(expires / time.Second),
	}, nil
}

// asRejection 把数据集内容问题转换为可直接展示的校验错误
func asRejection(err error) error {
	var rejection datasetRejection
	if errors.As(err, &rejection) {
		return util.Validation(rejection.Error())
	}
	if errors.Is(err, util.ErrObjectNotFound) {
		return util.NewError(util.KindNotFound, "Dataset file not found", err)
	}
	return util.Internal("Failed to read dataset file", err)
}

func (s *DatasetService) loadTable(ctx context.Context, fileKey string) (*csvTable, error) {
	size, err := s.Objects.Size(ctx, fileKey)
	if err != nil {
		return nil, err
	}
	if size > s.maxFileSize() {
		return nil, datasetRejection(msgFileTooLarge)
	}

	data, err := s.Objects.Get(ctx, fileKey)
	if err != nil {
		return nil, err
	}
	// 对象可能在 Size 之后被覆盖
	if int64(len(data)) > s.maxFileSize() {
		return nil, datasetRejection(msgFileTooLarge)
	}
	return parseCSV(data)
}

func (s *DatasetService) loadFrame(ctx context.Context, fileKey string) (*datasetFrame, error) {
	ctx, span := tracing.StartSpan(ctx, "dataset.load", attribute.String("file.key", fileKey))
	table, err := s.loadTable(ctx, fileKey)
	if err == nil && len(table.rows) == 0 {
		err = datasetRejection(msgEmpty)
	}
	var f *datasetFrame
	if err == nil {
		f, err = buildFrame(table)
		if err != nil {
			err = datasetRejection("CSV parsing error: " + err.Error())
		}
	}
	tracing.EndSpan(span, err)
	if err != nil {
		return nil, asRejection(err)
	}
	return f, nil
}

// ValidateAndSample 校验上传的 CSV，返回前若干行样本；不合格时返回 validation 错误，Message 为原因
func (s *DatasetService) ValidateAndSample(ctx context.Context, fileKey string) ([]map[string]interface{}, error) {
	table, err := s.loadTable(ctx, fileKey)
	if err != nil {
		return nil, asRejection(err)
	}

	switch {
	case len(table.rows) == 0:
		return nil, util.Validation(msgEmpty)
	case len(table.header) < minDatasetColumns:
		return nil, util.Validation(msgTooFewColumns)
	case len(table.rows) < minDatasetRows:
		return nil, util.Validation(msgTooFewRows)
	}

	f, err := buildFrame(table)
	if err != nil {
		return nil, util.Validation("CSV parsing error: " + err.Error())
	}
	return f.records(s.sampleRows()), nil
}

// Summarize 数据集摘要，结果按文件 key 缓存
func (s *DatasetService) Summarize(ctx context.Context, fileKey string) (*model.DatasetSummary, error) {
	if cached, err := s.Cache.Get(ctx, fileKey); err == nil {
		return cached, nil
	} else if !errors.Is(err, util.ErrCacheMiss) {
		logger.Log.Warn("Dataset summary cache read failed", zap.String("fileKey", fileKey), zap.Error(err))
	}

	f, err := s.loadFrame(ctx, fileKey)
	if err != nil {
		return nil, err
	}
	summary := f.summary(summaryPreviewRows)

	if err := s.Cache.Set(ctx, fileKey, summary); err != nil {
		logger.Log.Warn("Dataset summary cache write failed", zap.String("fileKey", fileKey), zap.Error(err))
	}
	return summary, nil
}

// SummaryForContext 写入生成上下文的摘要，预览行更多
func (s *DatasetService) SummaryForContext(ctx context.Context, fileKey string) (*model.DatasetSummary, error) {
	f, err := s.loadFrame(ctx, fileKey)
	if err != nil {
		return nil, err
	}
	return f.summary(contextPreviewRows), nil
}

func (s *DatasetService) PreviewRows(ctx context.Context, fileKey string, n int) ([]map[string]interface{}, error) {
	f, err := s.loadFrame(ctx, fileKey)
	if err != nil {
		return nil, err
	}
	return f.records(n), nil
}

// MissingImpact 统计 target 与 features 中存在缺失值的行
func (s *DatasetService) MissingImpact(ctx context.Context, fileKey, target string, features []string) (*model.MissingImpact, error) {
	f, err := s.loadFrame(ctx, fileKey)
	if err != nil {
		return nil, err
	}
	columns := append([]string{target}, features...)
	for _, name := range columns {
		if _, ok := f.index[name]; !ok {
			return nil, util.Validation("Column not found in dataset: " + name)
		}
	}
	return f.missingImpact(columns), nil
}

// ClassBalance 目标列的类别分布及是否需要过采样
func (s *DatasetService) ClassBalance(ctx context.Context, fileKey, target string) (*model.BalanceDecision, error) {
	f, err := s.loadFrame(ctx, fileKey)
	if err != nil {
		return nil, err
	}
	counts, ok := f.classCounts(target)
	if !ok {
		return nil, util.Validation("Target column not found in dataset: " + target)
	}
	return DecideBalance(counts), nil
}

// DeleteProjectFiles 删除项目目录下的所有上传文件，返回删除数量
func (s *DatasetService) DeleteProjectFiles(ctx context.Context, userEmail, projectID string) (int, error) {
	keys, err := s.Objects.List(ctx, util.ProjectPrefix(userEmail, projectID))
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, key := range keys {
		if err := s.Objects.Delete(ctx, key); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

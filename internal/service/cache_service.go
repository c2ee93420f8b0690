package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"
	"tinkerfai_backend/internal/model"
	"tinkerfai_backend/internal/util"
	"tinkerfai_backend/pkg/monitoring"

	"github.com/go-redis/redis/v8"
)

const summaryCachePrefix = "tinkerfai:summary:"

// SummaryCache 数据集摘要缓存，未命中返回 util.ErrCacheMiss
type SummaryCache interface {
	Get(ctx context.Context, fileKey string) (*model.DatasetSummary, error)
	Set(ctx context.Context, fileKey string, summary *model.DatasetSummary) error
}

// NoopSummaryCache 未启用 Redis 时使用
type NoopSummaryCache struct{}

func (NoopSummaryCache) Get(context.Context, string) (*model.DatasetSummary, error) {
	return nil, util.ErrCacheMiss
}

func (NoopSummaryCache) Set(context.Context, string, *model.DatasetSummary) error {
	return nil
}

// RedisSummaryCache 上传文件的 key 含时间戳，内容不会变化，只需要 TTL 控制容量
type RedisSummaryCache struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewRedisSummaryCache(client *redis.Client, ttl time.Duration) *RedisSummaryCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisSummaryCache{Client: client, TTL: ttl}
}

func (c *RedisSummaryCache) Get(ctx context.Context, fileKey string) (*model.DatasetSummary, error) {
	raw, err := c.Client.Get(ctx, summaryCachePrefix+fileKey).Bytes()
	if errors.Is(err, redis.Nil) {
		monitoring.SummaryCache.WithLabelValues("miss").Inc()
		return nil, util.ErrCacheMiss
	}
	if err != nil {
		monitoring.SummaryCache.WithLabelValues("error").Inc()
		return nil, err
	}

	var summary model.DatasetSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		monitoring.SummaryCache.WithLabelValues("error").Inc()
		return nil, err
	}
	monitoring.SummaryCache.WithLabelValues("hit").Inc()
	return &summary, nil
}

func (c *RedisSummaryCache) Set(ctx context.Context, fileKey string, summary *model.DatasetSummary) error {
	raw, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return c.Client.Set(ctx, summaryCachePrefix+fileKey, raw, c.TTL).Err()
}

package database

import (
	"tinkerfai_backend/internal/config"
	"tinkerfai_backend/pkg/logger"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"go.uber.org/zap"
)

// NewAWSSession 未配置静态密钥时使用默认凭证链（环境变量、实例角色等）
func NewAWSSession(cfg *config.AWSConfig) (*session.Session, error) {
	awsCfg := aws.NewConfig().WithRegion(cfg.Region)
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg = awsCfg.WithCredentials(credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, ""))
	}
	return session.NewSession(awsCfg)
}

func InitDynamoDB(sess *session.Session, cfg *config.DynamoDBConfig) *dynamodb.DynamoDB {
	awsCfg := aws.NewConfig()
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint)
	}
	logger.Log.Info("DynamoDB client initialized",
		zap.String("table", cfg.Table),
		zap.String("endpoint", cfg.Endpoint),
	)
	return dynamodb.New(sess, awsCfg)
}

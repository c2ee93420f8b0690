package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Log       LogConfig      `mapstructure:"log"`
	AWS       AWSConfig      `mapstructure:"aws"`
	Cognito   CognitoConfig
	Store     StoreConfig    `mapstructure:"store"`
	DynamoDB  DynamoDBConfig `mapstructure:"dynamodb"`
	Database  DatabaseConfig
	Storage   StorageConfig
	Tracing   TracingConfig `mapstructure:"tracing"`
	Redis     RedisConfig
	AI        AIConfig
	Dataset   DatasetConfig   `mapstructure:"dataset"`
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type RateLimitConfig struct {
	MaxRequests   int `mapstructure:"max_requests"`
	WindowMinutes int `mapstructure:"window_minutes"`
}

type LogConfig struct {
	Level    string `mapstructure:"level"`
	Filename string `mapstructure:"filename"`
}

type AIConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	TargetModel string        `mapstructure:"target_model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	MaxRetries  int           `mapstructure:"max_retries"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
}

type ServerConfig struct {
	Port string
	Mode string
}

type AWSConfig struct {
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

type CognitoConfig struct {
	UserPoolID   string `mapstructure:"user_pool_id"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

// StoreConfig 选择项目/答案的存储驱动: dynamodb | mysql | memory
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
}

type DynamoDBConfig struct {
	Table       string `mapstructure:"table"`
	Endpoint    string `mapstructure:"endpoint"`
	CreateTable bool   `mapstructure:"create_table"`
}

type DatabaseConfig struct {
	Host      string
	Port      int
	User      string
	Password  string
	DBName    string
	Charset   string
	ParseTime bool
}

type StorageConfig struct {
	Type          string        `mapstructure:"type"`
	LocalPath     string        `mapstructure:"local_path"`
	PublicURL     string        `mapstructure:"public_url"`
	SigningKey    string        `mapstructure:"signing_key"`
	S3Endpoint    string        `mapstructure:"s3_endpoint"`
	S3UseSSL      bool          `mapstructure:"s3_use_ssl"`
	S3Bucket      string        `mapstructure:"s3_bucket"`
	S3AccessKey   string        `mapstructure:"s3_access_key"`
	S3SecretKey   string        `mapstructure:"s3_secret_key"`
	UploadExpires time.Duration `mapstructure:"upload_expires"`
}

type TracingConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	CollectorEndpoint string `mapstructure:"collector_endpoint"`
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTL      time.Duration
}

type DatasetConfig struct {
	MaxFileSize int64 `mapstructure:"max_file_size"`
	SampleRows  int   `mapstructure:"sample_rows"`
}

func setDefaults() {
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.filename", "logs/app.log")
	viper.SetDefault("aws.region", "us-east-1")
	viper.SetDefault("store.driver", "dynamodb")
	viper.SetDefault("dynamodb.table", "tinkerfai")
	viper.SetDefault("storage.type", "s3")
	viper.SetDefault("storage.s3_endpoint", "s3.amazonaws.com")
	viper.SetDefault("storage.s3_use_ssl", true)
	viper.SetDefault("storage.local_path", "uploads")
	viper.SetDefault("storage.upload_expires", time.Hour)
	viper.SetDefault("ai.model", "gpt-4")
	viper.SetDefault("ai.target_model", "gpt-4o")
	viper.SetDefault("ai.max_tokens", 1000)
	viper.SetDefault("ai.max_retries", 3)
	viper.SetDefault("ai.retry_delay", time.Second)
	viper.SetDefault("redis.ttl", 24*time.Hour)
	viper.SetDefault("dataset.max_file_size", 5*1024*1024)
	viper.SetDefault("dataset.sample_rows", 50)
	viper.SetDefault("rate_limit.max_requests", 600)
	viper.SetDefault("rate_limit.window_minutes", 1)
}

func LoadConfig(path string) (*Config, error) {
	v := viper.GetViper()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("TINKERFAI")
	v.AutomaticEnv()
	setDefaults()

	// AWS
	v.BindEnv("aws.region", "AWS_REGION")
	v.BindEnv("aws.access_key_id", "AWS_ACCESS_KEY_ID")
	v.BindEnv("aws.secret_access_key", "AWS_SECRET_ACCESS_KEY")

	// Cognito
	v.BindEnv("cognito.user_pool_id", "COGNITO_USER_POOL_ID")
	v.BindEnv("cognito.client_id", "COGNITO_CLIENT_ID")
	v.BindEnv("cognito.client_secret", "COGNITO_CLIENT_SECRET")

	// Store
	v.BindEnv("store.driver", "STORE_DRIVER")
	v.BindEnv("dynamodb.table", "DYNAMODB_TABLE_NAME")
	v.BindEnv("dynamodb.endpoint", "DYNAMODB_ENDPOINT")

	// Database
	v.BindEnv("database.host", "DATABASE_HOST")
	v.BindEnv("database.port", "DATABASE_PORT")
	v.BindEnv("database.user", "DATABASE_USER")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("database.dbname", "DATABASE_NAME")

	// Redis
	v.BindEnv("redis.enabled", "REDIS_ENABLED")
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// Server
	v.BindEnv("server.mode", "SERVER_MODE")
	v.BindEnv("server.port", "PORT")

	// AI
	v.BindEnv("ai.base_url", "OPENAI_BASE_URL")
	v.BindEnv("ai.api_key", "OPENAI_API_KEY")
	v.BindEnv("ai.model", "OPENAI_MODEL")

	// Storage
	v.BindEnv("storage.type", "STORAGE_TYPE")
	v.BindEnv("storage.s3_bucket", "S3_BUCKET_NAME")
	v.BindEnv("storage.s3_endpoint", "S3_ENDPOINT")
	v.BindEnv("storage.s3_access_key", "AWS_ACCESS_KEY_ID")
	v.BindEnv("storage.s3_secret_key", "AWS_SECRET_ACCESS_KEY")
	v.BindEnv("storage.signing_key", "STORAGE_SIGNING_KEY")

	// Tracing
	v.BindEnv("tracing.enabled", "TRACING_ENABLED")
	v.BindEnv("tracing.collector_endpoint", "TRACING_COLLECTOR_ENDPOINT")

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Storage.Type == "local" {
		if _, err := os.Stat(cfg.Storage.LocalPath); os.IsNotExist(err) {
			os.MkdirAll(cfg.Storage.LocalPath, 0755)
		}
	}

	return &cfg, nil
}

// Validate 启动前检查必须的配置项
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "dynamodb":
		if c.DynamoDB.Table == "" {
			return fmt.Errorf("dynamodb.table is required for store driver %q", c.Store.Driver)
		}
	case "mysql", "memory":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	switch c.Storage.Type {
	case "s3":
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("storage.s3_bucket is required for s3 storage")
		}
	case "local":
		if c.Server.Mode == "release" && len(c.Storage.SigningKey) < 32 {
			return fmt.Errorf("storage signing key is too short (%d chars), must be at least 32 characters in release mode", len(c.Storage.SigningKey))
		}
	default:
		return fmt.Errorf("unknown storage type %q", c.Storage.Type)
	}

	if c.Cognito.UserPoolID == "" || c.Cognito.ClientID == "" {
		return fmt.Errorf("cognito.user_pool_id and cognito.client_id are required")
	}
	return nil
}

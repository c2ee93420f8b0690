package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
	"tinkerfai_backend/internal/config"
	"tinkerfai_backend/internal/util"

	"github.com/golang-jwt/jwt/v5"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrUploadTooLarge 本地上传超过大小限制
var ErrUploadTooLarge = errors.New("upload exceeds size limit")

// ObjectStore 定义数据集文件的存储接口
type ObjectStore interface {
	// PresignUpload 生成客户端直传的 PUT 地址
	PresignUpload(ctx context.Context, key string, expires time.Duration) (string, error)
	// Size 对象不存在时返回 util.ErrObjectNotFound
	Size(ctx context.Context, key string) (int64, error)
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}

// LocalStorageProvider 本地存储实现，上传地址由服务自身签名并接收
type LocalStorageProvider struct {
	Config *config.StorageConfig
	now    func() time.Time
}

func NewLocalStorageProvider(cfg *config.StorageConfig) *LocalStorageProvider {
	return &LocalStorageProvider{Config: cfg, now: time.Now}
}

type uploadClaims struct {
	Key string `json:"key"`
	jwt.RegisteredClaims
}

func (p *LocalStorageProvider) path(key string) (string, error) {
	if key == "" || strings.Contains(key, "..") || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(p.Config.LocalPath, filepath.FromSlash(key)), nil
}

func (p *LocalStorageProvider) PresignUpload(_ context.Context, key string, expires time.Duration) (string, error) {
	if _, err := p.path(key); err != nil {
		return "", err
	}

	claims := &uploadClaims{
		Key: key,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(p.now().Add(expires)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(p.Config.SigningKey))
	if err != nil {
		return "", err
	}

	u := url.URL{Path: "/uploads/" + key, RawQuery: url.Values{"token": {token}}.Encode()}
	return strings.TrimRight(p.Config.PublicURL, "/") + u.String(), nil
}

// VerifyUpload 校验上传令牌与 key 是否匹配且未过期
func (p *LocalStorageProvider) VerifyUpload(key, token string) error {
	claims := &uploadClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(p.Config.SigningKey), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return err
	}
	if !parsed.Valid || claims.Key != key {
		return util.ErrPermissionDenied
	}
	return nil
}

// Put 写入上传内容，超过 limit 字节时返回错误并删除半成品
func (p *LocalStorageProvider) Put(_ context.Context, key string, reader io.Reader, limit int64) error {
	dst, err := p.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	n, err := io.Copy(out, io.LimitReader(reader, limit+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > limit {
		err = ErrUploadTooLarge
	}
	if err != nil {
		os.Remove(dst)
		return err
	}
	return nil
}

func (p *LocalStorageProvider) Size(_ context.Context, key string) (int64, error) {
	dst, err := p.path(key)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(dst)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, util.ErrObjectNotFound
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (p *LocalStorageProvider) Get(_ context.Context, key string) ([]byte, error) {
	dst, err := p.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(dst)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, util.ErrObjectNotFound
	}
	return data, err
}

func (p *LocalStorageProvider) List(_ context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)
	root := filepath.Join(p.Config.LocalPath, filepath.FromSlash(path.Dir(prefix+"x")))
	err := filepath.WalkDir(root, func(file string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(p.Config.LocalPath, file)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	return keys, err
}

func (p *LocalStorageProvider) Delete(_ context.Context, key string) error {
	dst, err := p.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(dst); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// S3StorageProvider S3 兼容存储实现（AWS S3 或 MinIO）
type S3StorageProvider struct {
	Config *config.StorageConfig
	Client *minio.Client
}

func NewS3StorageProvider(cfg *config.StorageConfig, awsCfg *config.AWSConfig) (*S3StorageProvider, error) {
	accessKey, secretKey := cfg.S3AccessKey, cfg.S3SecretKey
	if accessKey == "" {
		accessKey, secretKey = awsCfg.AccessKeyID, awsCfg.SecretAccessKey
	}

	var creds *credentials.Credentials
	if accessKey != "" && secretKey != "" {
		creds = credentials.NewStaticV4(accessKey, secretKey, "")
	} else {
		creds = credentials.NewIAM("")
	}

	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  creds,
		Secure: cfg.S3UseSSL,
		Region: awsCfg.Region,
	})
	if err != nil {
		return nil, err
	}
	return &S3StorageProvider{Config: cfg, Client: client}, nil
}

func isNoSuchKey(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

func (p *S3StorageProvider) PresignUpload(ctx context.Context, key string, expires time.Duration) (string, error) {
	u, err := p.Client.PresignedPutObject(ctx, p.Config.S3Bucket, key, expires)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (p *S3StorageProvider) Size(ctx context.Context, key string) (int64, error) {
	info, err := p.Client.StatObject(ctx, p.Config.S3Bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return 0, util.ErrObjectNotFound
		}
		return 0, err
	}
	return info.Size, nil
}

func (p *S3StorageProvider) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := p.Client.GetObject(ctx, p.Config.S3Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, util.ErrObjectNotFound
		}
		return nil, err
	}
	return data, nil
}

func (p *S3StorageProvider) List(ctx context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)
	for obj := range p.Client.ListObjects(ctx, p.Config.S3Bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

func (p *S3StorageProvider) Delete(ctx context.Context, key string) error {
	return p.Client.RemoveObject(ctx, p.Config.S3Bucket, key, minio.RemoveObjectOptions{})
}

// NewObjectStore 按配置选择存储实现
func NewObjectStore(cfg *config.Config) (ObjectStore, error) {
	switch cfg.Storage.Type {
	case util.StorageS3:
		return NewS3StorageProvider(&cfg.Storage, &cfg.AWS)
	case util.StorageLocal:
		return NewLocalStorageProvider(&cfg.Storage), nil
	default:
		return nil, fmt.Errorf("unsupported storage type %q", cfg.Storage.Type)
	}
}

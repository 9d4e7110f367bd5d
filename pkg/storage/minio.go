// Package storage 提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"pai-resource-go/internal/config"
	"pai-resource-go/pkg/log"
)

// ObjectStore 抽象了资源管道依赖的对象存储操作。
// 管道核心只依赖该接口，便于在测试中替换为内存实现。
type ObjectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	EnsureBucket(ctx context.Context, bucket string) error
	PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, contentType string) error
	FPutObject(ctx context.Context, bucket, key, filePath string) error
	RemoveObject(ctx context.Context, bucket, key string) error
	ObjectURL(bucket, key string) string
}

// MinioStore 是 ObjectStore 的 MinIO 实现。
type MinioStore struct {
	client   *minio.Client
	endpoint string
	useSSL   bool
}

// NewMinioStore 初始化 MinIO 客户端并确保默认存储桶存在。
func NewMinioStore(cfg config.MinIOConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}

	store := &MinioStore{
		client:   client,
		endpoint: cfg.Endpoint,
		useSSL:   cfg.UseSSL,
	}

	if err := store.EnsureBucket(context.Background(), cfg.BucketName); err != nil {
		return nil, err
	}

	log.Info("MinIO 客户端初始化成功")
	return store, nil
}

// BucketExists 检查存储桶是否存在。
func (s *MinioStore) BucketExists(ctx context.Context, bucket string) (bool, error) {
	return s.client.BucketExists(ctx, bucket)
}

// EnsureBucket 检查存储桶是否存在，不存在则创建。
func (s *MinioStore) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("检查 MinIO 存储桶失败: %w", err)
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", bucket)
		if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("创建 MinIO 存储桶失败: %w", err)
		}
		log.Infof("存储桶 '%s' 创建成功", bucket)
	}
	return nil
}

// PutObject 以流式方式上传一个对象。
func (s *MinioStore) PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, contentType string) error {
	opts := minio.PutObjectOptions{}
	if contentType != "" {
		opts.ContentType = contentType
	}
	_, err := s.client.PutObject(ctx, bucket, key, reader, size, opts)
	return err
}

// FPutObject 上传本地文件为一个对象。
func (s *MinioStore) FPutObject(ctx context.Context, bucket, key, filePath string) error {
	_, err := s.client.FPutObject(ctx, bucket, key, filePath, minio.PutObjectOptions{})
	return err
}

// RemoveObject 删除一个对象。
func (s *MinioStore) RemoveObject(ctx context.Context, bucket, key string) error {
	return s.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{})
}

// ObjectURL 生成对象的访问地址，约定格式为 scheme://endpoint/minio/bucket/key。
func (s *MinioStore) ObjectURL(bucket, key string) string {
	scheme := "http"
	if s.useSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/minio/%s/%s", scheme, s.endpoint, bucket, key)
}

// ParseObjectURL 从访问地址中解析出 bucket 与对象 key。
// 与 ObjectURL 的生成格式对应，解析失败时返回 false。
func ParseObjectURL(rawURL string) (bucket, key string, ok bool) {
	idx := strings.Index(rawURL, "/minio/")
	if idx < 0 {
		return "", "", false
	}
	rest := strings.TrimPrefix(rawURL[idx:], "/minio/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

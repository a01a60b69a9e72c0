package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"protoforge/internal/config"
	"protoforge/pkg/log"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioClient 是一个全局的 MinIO 客户端实例。
var MinioClient *minio.Client

// InitMinIO 初始化 MinIO 客户端并确保指定的存储桶存在。
func InitMinIO(cfg config.MinIOConfig) {
	var err error

	// 1. 初始化 MinIO 客户端
	MinioClient, err = minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		log.Fatal("初始化 MinIO 客户端失败", err)
	}

	log.Info("MinIO 客户端初始化成功")

	// 2. 检查存储桶 (Bucket) 是否存在，如果不存在则创建
	ctx := context.Background()
	bucketName := cfg.BucketName
	exists, err := MinioClient.BucketExists(ctx, bucketName)
	if err != nil {
		log.Fatal("检查 MinIO 存储桶失败", err)
	}

	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", bucketName)
		if err = MinioClient.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			log.Fatal("创建 MinIO 存储桶失败", err)
		}
		log.Infof("存储桶 '%s' 创建成功", bucketName)
	} else {
		log.Infof("存储桶 '%s' 已存在", bucketName)
	}
}

// MinIOStore 是基于 MinIO/S3 的 ObjectStore 实现。
type MinIOStore struct {
	client  *minio.Client
	timeout time.Duration
}

// NewMinIOStore 创建一个 MinIOStore，timeout 为单次调用的超时时间（<=0 表示不额外限制）。
func NewMinIOStore(client *minio.Client, timeout time.Duration) *MinIOStore {
	return &MinIOStore{client: client, timeout: timeout}
}

func (s *MinIOStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Get 读取对象内容，对象不存在时返回 ErrObjectNotFound。
func (s *MinIOStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	object, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("从 MinIO 获取对象失败: %w", err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%s/%s: %w", bucket, key, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("读取 MinIO 对象失败: %w", err)
	}
	return data, nil
}

// Put 写入对象并返回其 key。
func (s *MinIOStore) Put(ctx context.Context, bucket, key string, data []byte) (string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "text/plain; charset=utf-8",
	})
	if err != nil {
		return "", fmt.Errorf("写入 MinIO 对象失败: %w", err)
	}
	return key, nil
}

// Delete 删除对象；对象不存在时返回 false。
func (s *MinIOStore) Delete(ctx context.Context, bucket, key string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("查询 MinIO 对象失败: %w", err)
	}
	if err := s.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return false, fmt.Errorf("删除 MinIO 对象失败: %w", err)
	}
	return true, nil
}

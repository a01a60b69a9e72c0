// Package storage 提供了对象存储的抽象及其 MinIO 与本地文件系统实现。
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrObjectNotFound 表示对象不存在。
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore 是按 bucket/key 读写对象的能力集合。
type ObjectStore interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, data []byte) (string, error)
	Delete(ctx context.Context, bucket, key string) (bool, error)
}

// ParseURI 将 "s3://bucket/key"、"bucket/key" 解析为 bucket 与 key；
// 不含 bucket 的裸 key（以 "/" 开头）使用 defaultBucket。
func ParseURI(uri, defaultBucket string) (bucket, key string, err error) {
	uri = strings.TrimSpace(uri)
	for _, scheme := range []string{"s3://", "minio://"} {
		uri = strings.TrimPrefix(uri, scheme)
	}
	if strings.HasPrefix(uri, "/") {
		key = strings.TrimLeft(uri, "/")
		if key == "" || defaultBucket == "" {
			return "", "", fmt.Errorf("invalid object uri %q", uri)
		}
		return defaultBucket, key, nil
	}
	parts := strings.SplitN(uri, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		if defaultBucket != "" && uri != "" {
			return defaultBucket, uri, nil
		}
		return "", "", fmt.Errorf("invalid object uri %q", uri)
	}
	return parts[0], parts[1], nil
}

// FormatURI 生成目录中保存的对象 URI。
func FormatURI(bucket, key string) string {
	return bucket + "/" + key
}

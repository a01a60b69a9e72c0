package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// LocalStore 是基于文件系统的 ObjectStore 实现，用于单机部署和测试。
// bucket 映射为根目录下的子目录。
type LocalStore struct {
	fs afero.Fs
}

// NewLocalStore 创建以 root 为根目录的本地对象存储。
func NewLocalStore(root string) *LocalStore {
	return &LocalStore{fs: afero.NewBasePathFs(afero.NewOsFs(), root)}
}

// NewLocalStoreFs 使用给定的 afero.Fs 创建本地对象存储。
func NewLocalStoreFs(fsys afero.Fs) *LocalStore {
	return &LocalStore{fs: fsys}
}

func objectPath(bucket, key string) (string, error) {
	clean := path.Clean("/" + key)
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || clean == "/" {
		return "", fmt.Errorf("invalid object location %q/%q", bucket, key)
	}
	return filepath.Join(bucket, filepath.FromSlash(clean)), nil
}

// Get 读取对象内容，对象不存在时返回 ErrObjectNotFound。
func (s *LocalStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := objectPath(bucket, key)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s/%s: %w", bucket, key, ErrObjectNotFound)
	}
	return data, err
}

// Put 写入对象并返回其 key。
func (s *LocalStore) Put(ctx context.Context, bucket, key string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p, err := objectPath(bucket, key)
	if err != nil {
		return "", err
	}
	if err := s.fs.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("failed to create object directory: %w", err)
	}
	if err := afero.WriteFile(s.fs, p, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write object: %w", err)
	}
	return key, nil
}

// Delete 删除对象；对象不存在时返回 false。
func (s *LocalStore) Delete(ctx context.Context, bucket, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p, err := objectPath(bucket, key)
	if err != nil {
		return false, err
	}
	if err := s.fs.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

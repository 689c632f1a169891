package osstest

import (
	"context"
	"fmt"
	"io"
	"sync"

	"imagegen-gateway/internal/oss"
)

// MemoryClient 内存实现的 oss.OSSIface，仅供测试使用
type MemoryClient struct {
	mu      sync.Mutex
	baseURL string
	objects map[string][]byte

	// 注入失败：key 命中时返回对应错误
	UploadErrors map[string]error
	DeleteErrors map[string]error
	// FailUploads 非空时所有上传都返回该错误
	FailUploads error

	Uploads []string
	Deletes []string
}

// NewMemoryClient baseURL 用于拼接公开 URL：{baseURL}/{bucket}/{key}
func NewMemoryClient(baseURL string) *MemoryClient {
	return &MemoryClient{
		baseURL:      baseURL,
		objects:      make(map[string][]byte),
		UploadErrors: make(map[string]error),
		DeleteErrors: make(map[string]error),
	}
}

func (m *MemoryClient) UploadFile(ctx context.Context, bucket, key string, reader io.Reader, contentType string) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Uploads = append(m.Uploads, key)
	if m.FailUploads != nil {
		return "", m.FailUploads
	}
	if err := m.UploadErrors[key]; err != nil {
		return "", err
	}
	m.objects[bucket+"/"+key] = data
	return bucket + "/" + key, nil
}

func (m *MemoryClient) UploadFileWithURL(ctx context.Context, bucket, key string, reader io.Reader, contentType string) (string, error) {
	if _, err := m.UploadFile(ctx, bucket, key, reader, contentType); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/%s", m.baseURL, bucket, key), nil
}

func (m *MemoryClient) DeleteFile(ctx context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Deletes = append(m.Deletes, key)
	if err := m.DeleteErrors[key]; err != nil {
		return err
	}
	delete(m.objects, bucket+"/"+key)
	return nil
}

// Has 判断对象是否存在
func (m *MemoryClient) Has(bucket, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[bucket+"/"+key]
	return ok
}

// Len 当前对象数量
func (m *MemoryClient) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

var _ oss.OSSIface = (*MemoryClient)(nil)

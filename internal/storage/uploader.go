package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"imagegen-gateway/common"
	"imagegen-gateway/internal/oss"
	"imagegen-gateway/internal/utils"
)

// 上传对象 key 的前缀
const keyPrefix = "ai_image"

// uploadErrorMessage 面向用户的上传失败提示，不暴露底层原因
const uploadErrorMessage = "failed to upload image to storage"

// UploadedImageRef 一次上传产生的对象引用，对象在清理阶段删除
type UploadedImageRef struct {
	SourceURI  string
	StorageKey string
	PublicURL  string
}

// UploadError 读取本地文件或写入存储失败
type UploadError struct {
	Source string
	Cause  error
}

func (e *UploadError) Error() string {
	return uploadErrorMessage
}

func (e *UploadError) Unwrap() error {
	return e.Cause
}

// Uploader 把本地图片上传到共享对象存储，返回公开 URL。
// 每次上传生成唯一 key，不做去重
type Uploader struct {
	oss    oss.OSSIface
	bucket string
	// 读取本地资源，测试时可替换
	readFile func(string) ([]byte, error)
}

// NewUploader 创建 Uploader
func NewUploader(client oss.OSSIface, bucket string) *Uploader {
	return &Uploader{
		oss:      client,
		bucket:   bucket,
		readFile: os.ReadFile,
	}
}

// Upload 读取整个本地文件后上传，成功后立即返回公开 URL，不等待一致性
func (u *Uploader) Upload(ctx context.Context, localResource string) (*UploadedImageRef, error) {
	path, err := localPath(localResource)
	if err != nil {
		return nil, u.fail(localResource, err)
	}

	data, err := u.readFile(path)
	if err != nil {
		return nil, u.fail(localResource, fmt.Errorf("failed to read local image: %w", err))
	}

	mimeType := utils.InferMimeType(path)
	key := utils.GenerateImageKey(keyPrefix, mimeType)

	publicURL, err := u.oss.UploadFileWithURL(ctx, u.bucket, key, bytes.NewReader(data), mimeType)
	if err != nil {
		return nil, u.fail(localResource, err)
	}

	common.WithFields(map[string]interface{}{
		"source":     localResource,
		"key":        key,
		"public_url": publicURL,
		"size":       len(data),
	}).Info("Input image uploaded")

	return &UploadedImageRef{
		SourceURI:  localResource,
		StorageKey: key,
		PublicURL:  publicURL,
	}, nil
}

func (u *Uploader) fail(source string, cause error) error {
	common.WithError(cause).WithFields(map[string]interface{}{
		"source": source,
		"bucket": u.bucket,
	}).Error("Failed to upload input image")
	return &UploadError{Source: source, Cause: cause}
}

// localPath 支持普通路径和 file:// URI
func localPath(resource string) (string, error) {
	if strings.TrimSpace(resource) == "" {
		return "", fmt.Errorf("empty local resource")
	}
	if !strings.HasPrefix(resource, "file://") {
		return resource, nil
	}
	parsed, err := url.Parse(resource)
	if err != nil {
		return "", fmt.Errorf("invalid file URI: %w", err)
	}
	if parsed.Path == "" {
		return "", fmt.Errorf("file URI has no path: %s", resource)
	}
	return parsed.Path, nil
}

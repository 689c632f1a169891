package oss

import (
	"context"
	"io"
)

// OSSIface 对象存储客户端接口
type OSSIface interface {
	// UploadFile 上传文件到 OSS，返回文件路径（bucket/key）
	UploadFile(ctx context.Context, bucket, key string, reader io.Reader, contentType string) (string, error)

	// UploadFileWithURL 上传文件并返回对象的公开 URL
	UploadFileWithURL(ctx context.Context, bucket, key string, reader io.Reader, contentType string) (string, error)

	// DeleteFile 删除对象。对象不存在时不返回错误
	DeleteFile(ctx context.Context, bucket, key string) error
}

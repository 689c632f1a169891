package oss

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"imagegen-gateway/common"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// 预签名上传的请求超时时间
const presignedUploadTimeout = 60 * time.Second

// S3Client S3 兼容的 OSS 客户端实现
type S3Client struct {
	client        *s3.Client
	endpoint      string
	region        string
	publicBaseURL string
	httpClient    *http.Client
}

// S3Config S3 客户端配置
type S3Config struct {
	Endpoint  string // OSS 服务端点，例如：s3.amazonaws.com 或 oss-cn-hangzhou.aliyuncs.com
	Region    string // 区域，例如：us-east-1 或 cn-hangzhou
	AccessKey string // Access Key ID，为空时使用默认凭证链
	SecretKey string // Secret Access Key
	// 可选：公开访问地址前缀，设置后公开 URL 为 {PublicBaseURL}/{key}
	PublicBaseURL string
}

// NewS3Client 创建新的 S3 客户端
func NewS3Client(cfg S3Config) (*S3Client, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// 自定义端点用于兼容其他 OSS 服务
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(endpointURL(cfg.Endpoint))
		}
	})

	return &S3Client{
		client:        client,
		endpoint:      cfg.Endpoint,
		region:        cfg.Region,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		httpClient:    &http.Client{Timeout: presignedUploadTimeout},
	}, nil
}

// endpointURL 补全端点协议
func endpointURL(endpoint string) string {
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	return "https://" + endpoint
}

// endpointHost 去掉端点协议，用于拼接虚拟主机风格的 URL
func endpointHost(endpoint string) string {
	if i := strings.Index(endpoint, "://"); i >= 0 {
		return endpoint[i+3:]
	}
	return endpoint
}

// UploadFile 上传文件到 OSS
func (c *S3Client) UploadFile(ctx context.Context, bucket, key string, reader io.Reader, contentType string) (string, error) {
	common.WithFields(map[string]interface{}{
		"bucket":       bucket,
		"key":          key,
		"content_type": contentType,
	}).Debug("Starting file upload to OSS")

	body, err := io.ReadAll(reader)
	if err != nil {
		common.WithError(err).WithFields(map[string]interface{}{
			"bucket": bucket,
			"key":    key,
		}).Error("Failed to read file for upload")
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	// 阿里云 OSS 不支持 SDK PutObject 默认的 aws-chunked 编码，
	// 这里改为预签名 PUT URL + 原生 HTTP 上传
	if strings.Contains(c.endpoint, ".aliyuncs.com") {
		if err := c.presignedPut(ctx, bucket, key, body, contentType); err != nil {
			return "", err
		}
	} else {
		_, err = c.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(body),
			ContentType: aws.String(contentType),
		})
		if err != nil {
			common.WithError(err).WithFields(map[string]interface{}{
				"bucket": bucket,
				"key":    key,
				"size":   len(body),
			}).Error("Failed to upload file to OSS")
			return "", fmt.Errorf("failed to upload file: %w", err)
		}
	}

	filePath := fmt.Sprintf("%s/%s", bucket, key)
	common.WithFields(map[string]interface{}{
		"bucket":    bucket,
		"key":       key,
		"file_path": filePath,
		"size":      len(body),
	}).Info("File uploaded to OSS successfully")

	return filePath, nil
}

// presignedPut 使用预签名 URL 上传（标准 Content-Length，无 aws-chunked）
func (c *S3Client) presignedPut(ctx context.Context, bucket, key string, body []byte, contentType string) error {
	reqCtx, cancel := context.WithTimeout(ctx, presignedUploadTimeout)
	defer cancel()

	presigned, err := s3.NewPresignClient(c.client).PresignPutObject(reqCtx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		common.WithError(err).WithFields(map[string]interface{}{
			"bucket": bucket,
			"key":    key,
		}).Error("Failed to presign PUT URL for OSS upload")
		return fmt.Errorf("failed to presign PUT URL: %w", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPut, presigned.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	for k, v := range presigned.SignedHeader {
		for _, hv := range v {
			req.Header.Add(k, hv)
		}
	}
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		common.WithError(err).WithFields(map[string]interface{}{
			"bucket": bucket,
			"key":    key,
		}).Error("Failed to upload file to OSS via presigned PUT")
		return fmt.Errorf("failed to upload file via presigned PUT: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		common.WithFields(map[string]interface{}{
			"bucket":      bucket,
			"key":         key,
			"status_code": resp.StatusCode,
			"body":        string(respBody),
		}).Error("OSS presigned PUT upload returned non-2xx status")
		return fmt.Errorf("OSS upload failed: status code %d, body: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// UploadFileWithURL 上传文件并返回对象的公开 URL（不带签名）
func (c *S3Client) UploadFileWithURL(ctx context.Context, bucket, key string, reader io.Reader, contentType string) (string, error) {
	if _, err := c.UploadFile(ctx, bucket, key, reader, contentType); err != nil {
		return "", err
	}
	return c.buildObjectURL(bucket, key), nil
}

// DeleteFile 删除对象；S3 对不存在的 key 同样返回成功，部分兼容服务会返回 NoSuchKey
func (c *S3Client) DeleteFile(ctx context.Context, bucket, key string) error {
	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *s3types.NoSuchKey
		if errors.As(err, &notFound) {
			common.WithFields(map[string]interface{}{
				"bucket": bucket,
				"key":    key,
			}).Debug("OSS object already removed")
			return nil
		}
		return fmt.Errorf("failed to delete object %s/%s: %w", bucket, key, err)
	}

	common.WithFields(map[string]interface{}{
		"bucket": bucket,
		"key":    key,
	}).Debug("OSS object deleted")
	return nil
}

// buildObjectURL 构造对象的公开 URL
func (c *S3Client) buildObjectURL(bucket, key string) string {
	if c.publicBaseURL != "" {
		return fmt.Sprintf("%s/%s", c.publicBaseURL, key)
	}

	if c.endpoint != "" {
		return fmt.Sprintf("https://%s.%s/%s", bucket, endpointHost(c.endpoint), key)
	}

	if c.region != "" {
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, c.region, key)
	}

	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", bucket, key)
}

var _ OSSIface = (*S3Client)(nil)

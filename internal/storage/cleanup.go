package storage

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"imagegen-gateway/common"
	"imagegen-gateway/internal/oss"
	"imagegen-gateway/internal/utils"
)

// CleanupError 删除单个对象失败，只记录日志
type CleanupError struct {
	URL   string
	Key   string
	Cause error
}

func (e *CleanupError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("cleanup %s: %v", e.URL, e.Cause)
	}
	return fmt.Sprintf("cleanup %s: %v", e.Key, e.Cause)
}

func (e *CleanupError) Unwrap() error {
	return e.Cause
}

// Cleaner 删除生成请求使用过的输入图片，失败从不返回给调用方
type Cleaner struct {
	oss    oss.OSSIface
	bucket string
}

// NewCleaner 创建 Cleaner
func NewCleaner(client oss.OSSIface, bucket string) *Cleaner {
	return &Cleaner{oss: client, bucket: bucket}
}

// Cleanup 逐个删除 URL 对应的对象。单个失败不影响其余对象，
// 重复删除或无效 key 也不会报错
func (c *Cleaner) Cleanup(ctx context.Context, urls []string) {
	if len(urls) == 0 {
		return
	}

	failures := c.deleteAll(ctx, urls)
	for _, f := range failures {
		common.WithError(f.Cause).WithFields(map[string]interface{}{
			"bucket": c.bucket,
			"key":    f.Key,
			"url":    utils.TruncateForLog(f.URL, 200),
		}).Warn("Failed to clean up input image")
	}

	common.WithFields(map[string]interface{}{
		"total":  len(urls),
		"failed": len(failures),
	}).Info("Input image cleanup finished")
}

// deleteAll 返回每个失败对象的错误
func (c *Cleaner) deleteAll(ctx context.Context, urls []string) (failures []*CleanupError) {
	for _, u := range urls {
		if utils.IsDataURI(u) {
			// 内联图片没有存储对象
			continue
		}
		key, err := KeyFromURL(u)
		if err != nil {
			failures = append(failures, &CleanupError{URL: u, Cause: err})
			continue
		}
		if err := c.deleteOne(ctx, key); err != nil {
			failures = append(failures, &CleanupError{URL: u, Key: key, Cause: err})
			continue
		}
		common.WithField("key", key).Debug("Input image removed")
	}
	return failures
}

func (c *Cleaner) deleteOne(ctx context.Context, key string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while deleting object: %v", r)
		}
	}()
	return c.oss.DeleteFile(ctx, c.bucket, key)
}

// KeyFromURL 取 URL 路径的最后一段作为对象 key
func KeyFromURL(rawURL string) (string, error) {
	var last string
	if parsed, err := url.Parse(rawURL); err == nil && parsed.Path != "" {
		last = path.Base(parsed.Path)
	} else {
		trimmed := rawURL
		if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
			trimmed = trimmed[:i]
		}
		parts := strings.Split(trimmed, "/")
		last = parts[len(parts)-1]
	}

	if last == "" || last == "/" || last == "." {
		return "", fmt.Errorf("no object key in url")
	}
	return last, nil
}

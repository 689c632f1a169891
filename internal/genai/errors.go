package genai

import (
	"errors"
	"fmt"
)

var (
	// ErrNoImage 主模型和备用服务都没有产出图片
	ErrNoImage = errors.New("no image found in provider response")
	// ErrUnrecognizedShape 图片描述的字段布局无法识别
	ErrUnrecognizedShape = errors.New("unrecognized image descriptor shape")
)

// ValidationError 请求参数不合法，在任何网络调用之前返回
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ProviderError 模型服务返回非 2xx 状态或结构不合法
type ProviderError struct {
	Provider   string
	StatusCode int    // 0 表示结构错误而非 HTTP 错误
	Body       string // 非 2xx 时的响应体
	Reason     string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s api error: status %d - %s", e.Provider, e.StatusCode, e.Body)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s invalid response: %s: %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s invalid response: %s", e.Provider, e.Reason)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsValidation 判断是否为参数校验错误
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsProvider 判断是否为模型服务错误
func IsProvider(err error) bool {
	var p *ProviderError
	return errors.As(err, &p)
}

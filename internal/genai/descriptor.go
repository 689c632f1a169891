package genai

import (
	"encoding/json"
	"fmt"
)

// DescriptorLayout 生成图片描述的字段布局
type DescriptorLayout int

const (
	// LayoutUnknown 无法识别的结构
	LayoutUnknown DescriptorLayout = iota
	// LayoutNested {"image_url": {"url": "..."}}
	LayoutNested
	// LayoutBare {"url": "..."}
	LayoutBare
)

func (l DescriptorLayout) String() string {
	switch l {
	case LayoutNested:
		return "nested"
	case LayoutBare:
		return "bare"
	default:
		return "unknown"
	}
}

// ImageDescriptor 模型返回的一张图片。不同服务的字段布局不同，
// 解码时识别布局，Raw 保留原始内容便于排查
type ImageDescriptor struct {
	Layout DescriptorLayout
	URL    string
	Raw    json.RawMessage
}

// NestedImage 构造嵌套布局的描述
func NestedImage(url string) ImageDescriptor {
	return ImageDescriptor{Layout: LayoutNested, URL: url}
}

// BareImage 构造扁平布局的描述
func BareImage(url string) ImageDescriptor {
	return ImageDescriptor{Layout: LayoutBare, URL: url}
}

type rawDescriptor struct {
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url"`
	URL string `json:"url"`
}

// UnmarshalJSON 优先识别 image_url.url，其次 url
func (d *ImageDescriptor) UnmarshalJSON(data []byte) error {
	d.Raw = append(d.Raw[:0], data...)

	var raw rawDescriptor
	if err := json.Unmarshal(data, &raw); err != nil {
		// 非对象（例如字符串或数组）视为未知布局，由归一化阶段报错
		d.Layout = LayoutUnknown
		d.URL = ""
		return nil
	}

	switch {
	case raw.ImageURL != nil && raw.ImageURL.URL != "":
		d.Layout = LayoutNested
		d.URL = raw.ImageURL.URL
	case raw.URL != "":
		d.Layout = LayoutBare
		d.URL = raw.URL
	default:
		d.Layout = LayoutUnknown
		d.URL = ""
	}
	return nil
}

// NormalizeURLs 按顺序取出可用的 URL，跳过无法识别的条目。
// 有条目但没有任何可用 URL 时返回 ErrUnrecognizedShape
func NormalizeURLs(images []ImageDescriptor) ([]string, error) {
	urls := make([]string, 0, len(images))
	firstBad := -1
	for i, img := range images {
		switch img.Layout {
		case LayoutNested, LayoutBare:
			urls = append(urls, img.URL)
		default:
			if firstBad < 0 {
				firstBad = i
			}
		}
	}
	if len(urls) == 0 && firstBad >= 0 {
		return nil, fmt.Errorf("%w: item %d: %s", ErrUnrecognizedShape, firstBad, truncate(string(images[firstBad].Raw), 200))
	}
	return urls, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

package genai

// SegmentType 多模态消息片段类型
type SegmentType string

const (
	SegmentText  SegmentType = "text"
	SegmentImage SegmentType = "image_url"
)

// Segment 消息中的一个片段：文本，或引用一张图片（公开 URL 或 data URI）
type Segment struct {
	Type     SegmentType
	Text     string
	ImageURL string
}

// Message 发送给主模型的一条用户消息
type Message struct {
	Role     string
	Segments []Segment
}

// BuildMessage 组装多模态消息：一个文本片段（instructions + " " + prompt），
// 随后按输入顺序每张图片一个图片片段
func BuildMessage(instructions, prompt string, imageURLs []string) Message {
	segments := make([]Segment, 0, len(imageURLs)+1)
	segments = append(segments, Segment{
		Type: SegmentText,
		Text: instructions + " " + prompt,
	})
	for _, u := range imageURLs {
		segments = append(segments, Segment{Type: SegmentImage, ImageURL: u})
	}
	return Message{Role: "user", Segments: segments}
}

// ImageURLs 返回消息中所有图片片段引用的地址，保持顺序
func (m Message) ImageURLs() []string {
	var urls []string
	for _, s := range m.Segments {
		if s.Type == SegmentImage {
			urls = append(urls, s.ImageURL)
		}
	}
	return urls
}

// Text 返回第一个文本片段
func (m Message) Text() string {
	for _, s := range m.Segments {
		if s.Type == SegmentText {
			return s.Text
		}
	}
	return ""
}

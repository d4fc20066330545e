package batch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BaSui01/imageflow/llm/image"
)

// JSONLMIMEType 请求文件与结果文件的 MIME 类型
const JSONLMIMEType = "application/jsonl"

// ImageRef 引用一张源图片：内联字节或 File API 上已上传的文件
type ImageRef struct {
	Index    int
	MIMEType string
	Data     []byte
	// FileURI 非空时以 fileData 发送，Data 被忽略
	FileURI string
	// FileName 是 File API 资源名（files/xxx），清理时使用
	FileName string
}

// Request 是一条生成请求，由 Pack 构造后只读
type Request struct {
	// Slot 是轮转配对中的位置
	Slot        int
	Image       *ImageRef
	Prompt      string
	AspectRatio string
	Resolution  string
	Key         Key
}

// 请求行的 REST 结构

type lineBlob struct {
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

type lineFile struct {
	MIMEType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri"`
}

type linePart struct {
	Text       string    `json:"text,omitempty"`
	InlineData *lineBlob `json:"inlineData,omitempty"`
	FileData   *lineFile `json:"fileData,omitempty"`
}

type lineContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []linePart `json:"parts"`
}

type lineImageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
	ImageSize   string `json:"imageSize,omitempty"`
}

type lineGenerationConfig struct {
	ResponseModalities []string         `json:"responseModalities"`
	ImageConfig        *lineImageConfig `json:"imageConfig,omitempty"`
}

type lineRequest struct {
	Contents         []lineContent        `json:"contents"`
	GenerationConfig lineGenerationConfig `json:"generationConfig"`
}

type requestLine struct {
	Key     string      `json:"key"`
	Request lineRequest `json:"request"`
}

// EncodeRequest 把请求序列化为一行 JSON（不含换行符）。
// imageCfg 为 nil 时不发送 imageConfig。
func EncodeRequest(req Request, imageCfg *image.ImageConfig) ([]byte, error) {
	parts := make([]linePart, 0, 2)
	if img := req.Image; img != nil {
		switch {
		case img.FileURI != "":
			parts = append(parts, linePart{FileData: &lineFile{MIMEType: img.MIMEType, FileURI: img.FileURI}})
		case len(img.Data) > 0:
			parts = append(parts, linePart{InlineData: &lineBlob{MIMEType: img.MIMEType, Data: img.Data}})
		}
	}
	parts = append(parts, linePart{Text: req.Prompt})

	line := requestLine{
		Key: req.Key.String(),
		Request: lineRequest{
			Contents: []lineContent{{Role: "user", Parts: parts}},
			GenerationConfig: lineGenerationConfig{
				ResponseModalities: image.DefaultModalities,
			},
		},
	}
	if imageCfg != nil {
		line.Request.GenerationConfig.ImageConfig = &lineImageConfig{
			AspectRatio: imageCfg.AspectRatio,
			ImageSize:   imageCfg.ImageSize,
		}
	}

	b, err := json.Marshal(line)
	if err != nil {
		return nil, fmt.Errorf("encode request %s: %w", line.Key, err)
	}
	return b, nil
}

// 结果行的 REST 结构

type lineCandidate struct {
	Content      lineContent `json:"content"`
	FinishReason string      `json:"finishReason,omitempty"`
}

type lineResponse struct {
	Candidates []lineCandidate `json:"candidates"`
}

type lineMetadata struct {
	Key string `json:"key"`
}

type responseLine struct {
	Key      string          `json:"key"`
	Metadata *lineMetadata   `json:"metadata,omitempty"`
	Response *lineResponse   `json:"response,omitempty"`
	Error    json.RawMessage `json:"error,omitempty"`
}

// ResponseLine 是解析后的一行结果
type ResponseLine struct {
	Key string
	// Error 非空表示远端对这条请求返回了错误
	Error  string
	Images []image.Part
	// Text 是所有文本片段的拼接
	Text string
}

// DecodeResponse 解析一行结果文件。key 缺失时使用 metadata.key。
func DecodeResponse(raw []byte) (*ResponseLine, error) {
	var rl responseLine
	if err := json.Unmarshal(raw, &rl); err != nil {
		return nil, err
	}

	out := &ResponseLine{Key: rl.Key}
	if out.Key == "" && rl.Metadata != nil {
		out.Key = rl.Metadata.Key
	}

	if msg := decodeLineError(rl.Error); msg != "" {
		out.Error = msg
		return out, nil
	}
	if rl.Response == nil {
		return out, nil
	}

	var text strings.Builder
	for _, c := range rl.Response.Candidates {
		for _, p := range c.Content.Parts {
			if p.InlineData != nil && len(p.InlineData.Data) > 0 {
				out.Images = append(out.Images, image.Part{MIMEType: p.InlineData.MIMEType, Data: p.InlineData.Data})
				continue
			}
			if p.Text != "" {
				text.WriteString(p.Text)
			}
		}
	}
	out.Text = text.String()
	return out, nil
}

// decodeLineError 兼容 {"code","message","status"} 对象与纯字符串
func decodeLineError(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var obj struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && (obj.Message != "" || obj.Code != 0) {
		switch {
		case obj.Code != 0 && obj.Status != "":
			return fmt.Sprintf("%d %s: %s", obj.Code, obj.Status, obj.Message)
		case obj.Code != 0:
			return fmt.Sprintf("%d: %s", obj.Code, obj.Message)
		default:
			return obj.Message
		}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return s
	}
	return string(raw)
}

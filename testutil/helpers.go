package testutil

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/BaSui01/imageflow/llm/imagesource"
)

// TestContext 返回 30 秒超时的上下文，测试结束时取消
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// PNG 是一段以 PNG 魔数开头的最小图片字节
var PNG = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

// MustJSON 编码失败时 panic
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// InlineImage 返回第 index 张内联 PNG 输入
func InlineImage(index int) imagesource.InlinePayload {
	return imagesource.InlinePayload{
		Index:    index,
		MIMEType: "image/png",
		Data:     base64.StdEncoding.EncodeToString(PNG),
	}
}

// =============================================================================
// 📄 批处理结果行
// =============================================================================

func resultLine(key string, parts ...any) string {
	return MustJSON(map[string]any{
		"key": key,
		"response": map[string]any{
			"candidates": []any{map[string]any{
				"content":      map[string]any{"role": "model", "parts": parts},
				"finishReason": "STOP",
			}},
		},
	})
}

// ResultLine 一行带文本与一张图片的成功结果
func ResultLine(key, mime string, data []byte) string {
	return resultLine(key,
		map[string]any{"text": "done"},
		map[string]any{"inlineData": map[string]any{
			"mimeType": mime,
			"data":     base64.StdEncoding.EncodeToString(data),
		}})
}

// TextLine 一行只有文本、没有图片的结果
func TextLine(key, text string) string {
	return resultLine(key, map[string]any{"text": text})
}

// ErrorLine 一行失败结果，错误码固定为 400
func ErrorLine(key, message string) string {
	return MustJSON(map[string]any{
		"key":   key,
		"error": map[string]any{"code": 400, "message": message},
	})
}

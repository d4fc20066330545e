package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeResponse_ErrorShapes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "object with status", raw: `{"key":"k","error":{"code":429,"status":"RESOURCE_EXHAUSTED","message":"quota"}}`, want: "429 RESOURCE_EXHAUSTED: quota"},
		{name: "object without status", raw: `{"key":"k","error":{"code":500,"message":"internal"}}`, want: "500: internal"},
		{name: "message only", raw: `{"key":"k","error":{"message":"blocked"}}`, want: "blocked"},
		{name: "plain string", raw: `{"key":"k","error":"safety filter"}`, want: "safety filter"},
		{name: "unknown object", raw: `{"key":"k","error":{"details":[]}}`, want: `{"details":[]}`},
		{name: "null error", raw: `{"key":"k","error":null}`, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line, err := DecodeResponse([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, "k", line.Key)
			assert.Equal(t, tt.want, line.Error)
		})
	}
}

func TestDecodeResponse_CollectsTextAndImages(t *testing.T) {
	raw := `{"key":"r1x1_p0_img0_var0","response":{"candidates":[
		{"content":{"parts":[{"text":"a "},{"inlineData":{"mimeType":"image/png","data":"eA=="}}]}},
		{"content":{"parts":[{"text":"b"},{"inlineData":{"mimeType":"image/webp","data":"eQ=="}}]}}]}}`

	line, err := DecodeResponse([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "a b", line.Text)
	require.Len(t, line.Images, 2)
	assert.Equal(t, []byte("x"), line.Images[0].Data)
	assert.Equal(t, "image/webp", line.Images[1].MIMEType)
}

func TestDecodeResponse_Malformed(t *testing.T) {
	_, err := DecodeResponse([]byte(`{"key":`))
	assert.Error(t, err)
}

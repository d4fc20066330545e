package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/BaSui01/imageflow/llm/batch"
	"github.com/BaSui01/imageflow/types"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

// UploadFile 上传到 File API
func (c *Client) UploadFile(ctx context.Context, r io.Reader, opts batch.UploadOptions) (*batch.File, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	f, err := c.sdk.Files.Upload(ctx, r, &genai.UploadFileConfig{
		MIMEType:    opts.MIMEType,
		DisplayName: opts.DisplayName,
	})
	if err != nil {
		return nil, mapError("upload file", err)
	}
	c.logger.Debug("file uploaded",
		zap.String("file", f.Name),
		zap.String("display_name", opts.DisplayName))
	return toFile(f), nil
}

// DeleteFile 删除 File API 中的文件
func (c *Client) DeleteFile(ctx context.Context, name string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if _, err := c.sdk.Files.Delete(ctx, FileID(name), nil); err != nil {
		return mapError("delete file", err)
	}
	return nil
}

// ListFiles 列出账号下全部文件，仅 purge_all 使用
func (c *Client) ListFiles(ctx context.Context) ([]batch.File, error) {
	var out []batch.File
	for f, err := range c.sdk.Files.All(ctx) {
		if err != nil {
			return out, mapError("list files", err)
		}
		out = append(out, *toFile(f))
	}
	return out, nil
}

func toFile(f *genai.File) *batch.File {
	return &batch.File{Name: f.Name, URI: f.URI, MIMEType: f.MIMEType}
}

// FileID 把文件名、URI 或裸 ID 统一成 files/{id}
func FileID(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndex(name, "files/"); i >= 0 {
		name = name[i+len("files/"):]
	}
	if i := strings.IndexAny(name, ":?"); i >= 0 {
		name = name[:i]
	}
	return "files/" + name
}

// OpenResult 以流的方式打开结果文件。
// SDK 的 Files.Download 会把整个文件读入内存，结果文件可能有数 GB，这里直接走 REST。
func (c *Client) OpenResult(ctx context.Context, fileName string) (io.ReadCloser, error) {
	id := FileID(fileName)
	if id == "files/" {
		return nil, types.NewInvalidInputError("empty result file name")
	}
	endpoint := fmt.Sprintf("%s/download/v1beta/%s:download?alt=media", c.baseURL, escapeID(id))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, types.NewUpstreamError(fmt.Sprintf("gemini download %s: %v", id, err), 0, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError("download "+id, resp.StatusCode, readErrMsg(resp.Body), nil)
	}
	c.logger.Debug("result stream opened",
		zap.String("file", id),
		zap.Int64("content_length", resp.ContentLength))
	return resp.Body, nil
}

func escapeID(id string) string {
	return "files/" + url.PathEscape(strings.TrimPrefix(id, "files/"))
}

type errorResp struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func readErrMsg(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 64<<10))
	var errResp errorResp
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		return fmt.Sprintf("%s (status: %s)", errResp.Error.Message, errResp.Error.Status)
	}
	return string(data)
}

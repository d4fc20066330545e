package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/imageflow/internal/objectstore"
	"github.com/BaSui01/imageflow/llm/batch"
	"github.com/BaSui01/imageflow/llm/providers/gemini"
)

// =============================================================================
// 🔍 inspect 命令
// =============================================================================

// inspectSummary 是一个结果文件的逐行统计
type inspectSummary struct {
	Lines     int
	OK        int
	Errors    int
	Empty     int
	Malformed int
	Images    int
	Saved     int
}

func runInspect(args []string, stdout io.Writer) int {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	file := fs.String("file", "", "Local JSONL path, files/<id> or batches/<id>")
	outDir := fs.String("out", "", "Save decoded images into this directory")
	apiKey := fs.String("api-key", "", "Gemini API key")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(*file) == "" {
		fmt.Fprintln(os.Stderr, "inspect: -file is required")
		return 2
	}

	ctx := context.Background()
	rc, err := openInspectSource(ctx, *configPath, *file, *apiKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "inspect: %v\n", err)
		return 1
	}
	defer rc.Close()

	sum, err := inspectResults(rc, stdout, *outDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "inspect: %v\n", err)
		return 1
	}
	if sum.Errors > 0 || sum.Malformed > 0 {
		return 1
	}
	return 0
}

// openInspectSource 打开本地文件，或通过 Gemini API 打开远端结果文件。
// batches/<id> 先解析出任务的输出文件。
func openInspectSource(ctx context.Context, configPath, name, apiKey string) (io.ReadCloser, error) {
	if !strings.HasPrefix(name, "files/") && !strings.HasPrefix(name, "batches/") {
		return os.Open(name)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	cfg.Log.OutputPaths = []string{"stderr"}
	logger := initLogger(cfg.Log)

	if apiKey == "" {
		apiKey = cfg.Gemini.APIKey
	}
	client, err := gemini.NewClient(ctx, gemini.Config{
		APIKey:  apiKey,
		BaseURL: cfg.Gemini.BaseURL,
		Timeout: cfg.Gemini.Timeout,
	}, logger)
	if err != nil {
		return nil, err
	}
	return openRemoteResult(ctx, client, name, logger)
}

// resultSource 是 inspect 需要的远端能力
type resultSource interface {
	batch.ResultOpener
	GetBatch(ctx context.Context, name string) (*batch.Job, error)
}

func openRemoteResult(ctx context.Context, src resultSource, name string, logger *zap.Logger) (io.ReadCloser, error) {
	fileName := name
	if strings.HasPrefix(name, "batches/") {
		job, err := src.GetBatch(ctx, name)
		if err != nil {
			return nil, err
		}
		if job.OutputFile == "" {
			return nil, fmt.Errorf("%s has no result file (state %s)", name, job.State)
		}
		logger.Info("batch result file resolved",
			zap.String("batch", name),
			zap.String("state", string(job.State)),
			zap.String("file", job.OutputFile))
		fileName = job.OutputFile
	}
	return src.OpenResult(ctx, fileName)
}

// inspectResults 逐行打印 OK/ERR 与 key，最后输出汇总；saveDir 非空时写出图片
func inspectResults(r io.Reader, out io.Writer, saveDir string) (inspectSummary, error) {
	var sum inspectSummary
	if saveDir != "" {
		if err := os.MkdirAll(saveDir, 0o755); err != nil {
			return sum, fmt.Errorf("create output dir: %w", err)
		}
	}

	br := bufio.NewReaderSize(r, 1<<20)
	lineNo := 0
	for {
		raw, readErr := br.ReadBytes('\n')
		if len(raw) > 0 {
			lineNo++
			if err := inspectLine(lineNo, bytes.TrimSpace(raw), out, saveDir, &sum); err != nil {
				return sum, err
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return sum, fmt.Errorf("read line %d: %w", lineNo+1, readErr)
		}
	}

	fmt.Fprintf(out, "\nlines=%d ok=%d err=%d empty=%d malformed=%d images=%d",
		sum.Lines, sum.OK, sum.Errors, sum.Empty, sum.Malformed, sum.Images)
	if saveDir != "" {
		fmt.Fprintf(out, " saved=%d", sum.Saved)
	}
	fmt.Fprintln(out)
	return sum, nil
}

func inspectLine(lineNo int, raw []byte, out io.Writer, saveDir string, sum *inspectSummary) error {
	if len(raw) == 0 {
		return nil
	}
	sum.Lines++

	rl, err := batch.DecodeResponse(raw)
	if err != nil {
		sum.Malformed++
		fmt.Fprintf(out, "%5d MALFORMED %v\n", lineNo, err)
		return nil
	}
	key := rl.Key
	if key == "" {
		key = fmt.Sprintf("line_%d", lineNo)
	}

	switch {
	case rl.Error != "":
		sum.Errors++
		fmt.Fprintf(out, "%5d ERR   %s: %s\n", lineNo, key, rl.Error)
		return nil
	case len(rl.Images) == 0:
		sum.Empty++
		fmt.Fprintf(out, "%5d EMPTY %s %s\n", lineNo, key, truncate(rl.Text, 80))
		return nil
	}

	sum.OK++
	sum.Images += len(rl.Images)
	total := 0
	for _, img := range rl.Images {
		total += len(img.Data)
	}
	fmt.Fprintf(out, "%5d OK    %s images=%d bytes=%d mime=%s\n",
		lineNo, key, len(rl.Images), total, rl.Images[0].MIMEType)

	if saveDir == "" {
		return nil
	}
	stem := objectstore.SanitizeSegment(key)
	for i, img := range rl.Images {
		name := stem
		if len(rl.Images) > 1 {
			name = fmt.Sprintf("%s_%d", stem, i)
		}
		path := filepath.Join(saveDir, name+"."+objectstore.ExtensionForMIME(img.MIMEType))
		if err := os.WriteFile(path, img.Data, 0o644); err != nil {
			return fmt.Errorf("save %s: %w", path, err)
		}
		sum.Saved++
	}
	return nil
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

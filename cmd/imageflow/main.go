// =============================================================================
// ImageFlow 主入口
// =============================================================================
// 服务入口点：HTTP 调用接口、一次性 CLI 调用、结果文件检查
//
// 使用方法:
//
//	imageflow serve                              # 启动服务
//	imageflow serve --config config.yaml         # 指定配置文件
//	imageflow invoke -payload job.json           # 处理一个载荷并输出响应
//	cat job.json | imageflow invoke -payload -   # 从标准输入读取载荷
//	imageflow inspect -file files/abc -out ./out # 检查结果文件
//	imageflow health                             # 健康检查
//	imageflow version                            # 显示版本信息
// =============================================================================

// @title ImageFlow API
// @version 1.0.0
// @description ImageFlow fans image-generation requests out to the Gemini API, synchronously or as batch jobs.

// @contact.name ImageFlow Team
// @contact.url https://github.com/BaSui01/imageflow

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /
// @schemes http https

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/imageflow/config"
	"github.com/BaSui01/imageflow/internal/telemetry"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "invoke":
		os.Exit(runInvoke(os.Args[2:], os.Stdin, os.Stdout))
	case "inspect":
		os.Exit(runInspect(os.Args[2:], os.Stdout))
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// loadConfig 加载并验证配置
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting ImageFlow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	server := NewServer(cfg, logger, otelProviders)
	if err := server.Start(); err != nil {
		logger.Fatal("Failed to start server", zap.Error(err))
	}

	server.WaitForShutdown()

	logger.Info("ImageFlow stopped")
}

// =============================================================================
// 📨 invoke 命令
// =============================================================================

// runInvoke 处理一个载荷并把响应 JSON 写到 stdout。
// 返回码：0 表示 completed 或 batch_submitted，1 表示 failed，2 表示用法或配置错误。
func runInvoke(args []string, stdin io.Reader, stdout io.Writer) int {
	fs := flag.NewFlagSet("invoke", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	payloadPath := fs.String("payload", "-", "Payload file, '-' reads stdin")
	pretty := fs.Bool("pretty", false, "Indent the response JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	raw, err := readPayload(*payloadPath, stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read payload: %v\n", err)
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 2
	}

	// 响应写 stdout，日志只能走 stderr
	cfg.Log.OutputPaths = []string{"stderr"}
	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	app, err := newApp(cfg, appOptions{allowLocalSources: true}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		return 2
	}
	defer app.Close()

	resp := app.worker.Run(context.Background(), raw)

	enc := json.NewEncoder(stdout)
	if *pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(resp); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write response: %v\n", err)
		return 1
	}
	if resp.ErrorCode != "" {
		return 1
	}
	return 0
}

func readPayload(path string, stdin io.Reader) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	_ = fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("OK")
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("ImageFlow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`ImageFlow - Gemini image generation worker

Usage:
  imageflow <command> [options]

Commands:
  serve     Start the HTTP server
  invoke    Handle one payload and print the response
  inspect   Print a per-line summary of a batch result file
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve':
  --config <path>     Path to configuration file (YAML)

Options for 'invoke':
  --config <path>     Path to configuration file (YAML)
  --payload <file|->  Payload JSON, '-' reads stdin (default)
  --pretty            Indent the response JSON

Options for 'inspect':
  --file <name>       Local JSONL path, files/<id> or batches/<id>
  --out <dir>         Save decoded images into this directory
  --api-key <key>     Gemini API key (defaults to config / GEMINI_API_KEY)

Examples:
  imageflow serve --config /etc/imageflow/config.yaml
  imageflow invoke --payload job.json --pretty
  imageflow inspect --file batches/abc123 --out ./results
  imageflow health --addr http://localhost:8080`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Format == "console",
		Encoding:          "json",
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}
	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}

	return logger
}

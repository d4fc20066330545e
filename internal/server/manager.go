package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// 🌐 HTTP 服务器管理器
// =============================================================================

type state int

const (
	stateNew state = iota
	stateRunning
	stateStopped
)

// Manager 管理一个 HTTP 监听的生命周期。
// 同步生成请求可能持续数分钟，关闭时先排空在途请求，
// 超过 ShutdownTimeout 后取消它们的 context 并强制关闭连接。
type Manager struct {
	srv    *http.Server
	cfg    Config
	logger *zap.Logger

	// abort 取消所有请求共享的 base context
	abort    context.CancelFunc
	inflight atomic.Int64
	errCh    chan error

	mu    sync.Mutex
	ln    net.Listener
	state state
}

// Config 服务器配置
type Config struct {
	// 名称，用于日志区分调用入口与指标端口
	Name string `yaml:"name" json:"name"`

	Addr string `yaml:"addr" json:"addr"`

	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// 写入超时，同步生成与收集可能持续数分钟
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	MaxHeaderBytes int `yaml:"max_header_bytes" json:"max_header_bytes"`

	// 排空在途请求的最长时间
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// DefaultConfig 返回默认服务器配置
func DefaultConfig() Config {
	return Config{
		Name:            "http",
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    15 * time.Minute,
		IdleTimeout:     120 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 30 * time.Second,
	}
}

// NewManager 创建服务器管理器，Start 之前不会监听
func NewManager(handler http.Handler, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = "http"
	}

	base, abort := context.WithCancel(context.Background())
	m := &Manager{
		cfg:    cfg,
		abort:  abort,
		errCh:  make(chan error, 1),
		logger: logger.With(zap.String("component", "http_server"), zap.String("server", cfg.Name)),
	}
	m.srv = &http.Server{
		Addr:           cfg.Addr,
		Handler:        m.track(handler),
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
		BaseContext:    func(net.Listener) context.Context { return base },
		ErrorLog:       zap.NewStdLog(m.logger),
	}
	return m
}

func (m *Manager) track(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.inflight.Add(1)
		defer m.inflight.Add(-1)
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// 🎯 生命周期
// =============================================================================

// Start 开始监听并在后台提供服务
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case stateRunning:
		return fmt.Errorf("%s server already started", m.cfg.Name)
	case stateStopped:
		return fmt.Errorf("%s server is closed", m.cfg.Name)
	}

	ln, err := net.Listen("tcp", m.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", m.cfg.Addr, err)
	}
	m.ln = ln
	m.state = stateRunning
	m.logger.Info("listening", zap.String("addr", ln.Addr().String()))

	go func() {
		err := m.srv.Serve(ln)
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return
		}
		m.logger.Error("serve failed", zap.Error(err))
		select {
		case m.errCh <- err:
		default:
		}
	}()
	return nil
}

// Shutdown 排空在途请求。超时后取消剩余请求并强制关闭，返回包装过的超时错误。
// 重复调用返回 nil。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.state == stateStopped {
		m.mu.Unlock()
		return nil
	}
	m.state = stateStopped
	m.mu.Unlock()
	defer m.abort()

	m.logger.Info("draining", zap.Int64("in_flight", m.inflight.Load()))

	drainCtx := ctx
	if m.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		drainCtx, cancel = context.WithTimeout(ctx, m.cfg.ShutdownTimeout)
		defer cancel()
	}

	err := m.srv.Shutdown(drainCtx)
	if err == nil {
		m.logger.Info("stopped")
		return nil
	}

	left := m.inflight.Load()
	m.logger.Warn("drain incomplete, aborting in-flight requests",
		zap.Int64("in_flight", left), zap.Error(err))
	m.abort()
	if cerr := m.srv.Close(); cerr != nil {
		m.logger.Error("force close failed", zap.Error(cerr))
	}
	return fmt.Errorf("%s server: %d requests aborted: %w", m.cfg.Name, left, err)
}

// WaitForShutdown 阻塞直到收到 SIGINT/SIGTERM、ctx 结束或服务异常退出，然后关闭
func (m *Manager) WaitForShutdown(ctx context.Context) {
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-sigCtx.Done():
		m.logger.Info("shutdown requested", zap.NamedError("cause", context.Cause(sigCtx)))
	case err := <-m.errCh:
		m.logger.Error("server exited unexpectedly", zap.Error(err))
	}

	if err := m.Shutdown(context.Background()); err != nil {
		m.logger.Error("shutdown error", zap.Error(err))
	}
}

// Errors 返回后台 Serve 的异常退出
func (m *Manager) Errors() <-chan error {
	return m.errCh
}

// =============================================================================
// 🔧 状态查询
// =============================================================================

// Addr 返回实际监听地址，未启动时返回配置地址
func (m *Manager) Addr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ln != nil {
		return m.ln.Addr().String()
	}
	return m.cfg.Addr
}

// IsRunning 是否已启动且未关闭
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == stateRunning
}

// InFlight 当前正在处理的请求数
func (m *Manager) InFlight() int64 {
	return m.inflight.Load()
}

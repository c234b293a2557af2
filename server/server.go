// Package server 提供 WebSocket 问答入口与运维端点。
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/queryflow/session"
)

// Config 服务器配置。
type Config struct {
	// HTTPPort 监听端口
	HTTPPort int `yaml:"http_port" json:"http_port"`
	// ReadTimeout 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`
	// WriteTimeout 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	// ShutdownTimeout 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	// RateLimit 每连接消息速率上限（条/秒）
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit"`
	// RateBurst 速率突发额度
	RateBurst int `yaml:"rate_burst" json:"rate_burst"`
}

// DefaultConfig 返回默认服务器配置。
func DefaultConfig() Config {
	return Config{
		HTTPPort:        8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimit:       5,
		RateBurst:       10,
	}
}

// HealthChecker 后端健康检查接口。
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Server 对外暴露三个端点：/ws 问答流、/healthz 健康检查、/metrics 指标。
type Server struct {
	config   Config
	manager  *session.Manager
	registry prometheus.Gatherer
	checkers []HealthChecker
	logger   *zap.Logger
	httpSrv  *http.Server
}

// New 构造服务器。registry 为 nil 时使用默认指标注册表。
func New(config Config, manager *session.Manager, registry prometheus.Gatherer, logger *zap.Logger, checkers ...HealthChecker) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = prometheus.DefaultGatherer
	}
	s := &Server{
		config:   config,
		manager:  manager,
		registry: registry,
		checkers: checkers,
		logger:   logger.With(zap.String("component", "server")),
	}
	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf(":%d", config.HTTPPort),
		Handler:      s.Handler(),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return s
}

// Handler 返回路由后的 HTTP 处理器。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return mux
}

// Start 启动 HTTP 服务，阻塞直到服务停止。
func (s *Server) Start() error {
	s.logger.Info("server listening", zap.String("addr", s.httpSrv.Addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown 先取消所有会话，再优雅关闭 HTTP 服务。
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.manager.Shutdown(ctx); err != nil {
		s.logger.Warn("session shutdown incomplete", zap.Error(err))
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	for _, checker := range s.checkers {
		if err := checker.Ping(ctx); err != nil {
			s.logger.Warn("health check failed", zap.Error(err))
			status = "degraded"
			code = http.StatusServiceUnavailable
			break
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"status":        status,
		"open_sessions": s.manager.Len(),
	})
}

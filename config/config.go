// =============================================================================
// 📦 QueryFlow 配置
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("QUERYFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config 是 QueryFlow 的完整配置结构
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Retrieval 混合检索配置
	Retrieval RetrievalConfig `yaml:"retrieval" env:"RETRIEVAL"`

	// Grading 相关性打分与置信度配置
	Grading GradingConfig `yaml:"grading" env:"GRADING"`

	// Rewrite 查询改写配置
	Rewrite RewriteConfig `yaml:"rewrite" env:"REWRITE"`

	// Synthesis 答案合成配置
	Synthesis SynthesisConfig `yaml:"synthesis" env:"SYNTHESIS"`

	// Pipeline 编排配置
	Pipeline PipelineConfig `yaml:"pipeline" env:"PIPELINE"`

	// Session 流会话配置
	Session SessionConfig `yaml:"session" env:"SESSION"`

	// Redis 转写落盘配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Services 外部服务端点配置
	Services ServicesConfig `yaml:"services" env:"SERVICES"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每连接消息速率上限（条/秒）
	RateLimit float64 `yaml:"rate_limit" env:"RATE_LIMIT"`
	// 速率突发额度
	RateBurst int `yaml:"rate_burst" env:"RATE_BURST"`
}

// RetrievalConfig 混合检索配置
type RetrievalConfig struct {
	// Alpha 语义权重，[0,1]
	Alpha float64 `yaml:"alpha" env:"ALPHA"`
	// TopK 每路索引取回的候选数
	TopK int `yaml:"top_k" env:"TOP_K"`
}

// GradingConfig 打分与置信度配置
type GradingConfig struct {
	// 接受阈值
	Threshold float64 `yaml:"threshold" env:"THRESHOLD"`
	// 平均相关性权重
	RelevanceWeight float64 `yaml:"relevance_weight" env:"RELEVANCE_WEIGHT"`
	// 证据数量权重
	CountWeight float64 `yaml:"count_weight" env:"COUNT_WEIGHT"`
	// 数量项饱和文档数
	SaturationDocs int `yaml:"saturation_docs" env:"SATURATION_DOCS"`
	// 置信度接受阈值
	AcceptThreshold float64 `yaml:"accept_threshold" env:"ACCEPT_THRESHOLD"`
}

// RewriteConfig 查询改写配置
type RewriteConfig struct {
	// 证据片段数上限
	MaxEvidenceHints int `yaml:"max_evidence_hints" env:"MAX_EVIDENCE_HINTS"`
}

// SynthesisConfig 答案合成配置
type SynthesisConfig struct {
	// 证据 token 预算
	TokenBudget int `yaml:"token_budget" env:"TOKEN_BUDGET"`
	// tiktoken 编码名
	Encoding string `yaml:"encoding" env:"ENCODING"`
}

// PipelineConfig 编排配置
type PipelineConfig struct {
	// 质量闸门阈值
	GateThreshold float64 `yaml:"gate_threshold" env:"GATE_THRESHOLD"`
	// 改写次数上限
	MaxRewrites int `yaml:"max_rewrites" env:"MAX_REWRITES"`
	// 证据不足提示文案
	InsufficientMessage string `yaml:"insufficient_message" env:"INSUFFICIENT_MESSAGE"`
	// 事件通道缓冲
	EventBuffer int `yaml:"event_buffer" env:"EVENT_BUFFER"`
}

// SessionConfig 流会话配置
type SessionConfig struct {
	// 空闲超时
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	// 并发会话上限
	MaxSessions int64 `yaml:"max_sessions" env:"MAX_SESSIONS"`
	// 输出通道缓冲
	EventBuffer int `yaml:"event_buffer" env:"EVENT_BUFFER"`
	// 落盘超时
	PersistTimeout time.Duration `yaml:"persist_timeout" env:"PERSIST_TIMEOUT"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 是否启用（关闭时使用内存落盘）
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// 记录保留时长
	TTL time.Duration `yaml:"ttl" env:"TTL"`
}

// ServiceEndpoint 单个外部服务的连接配置
type ServiceEndpoint struct {
	// 基础 URL
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// API Key（可选）
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 模型名（生成/重排服务）
	Model string `yaml:"model" env:"MODEL"`
}

// ServicesConfig 外部服务端点配置
type ServicesConfig struct {
	// Search 搜索索引服务（语义 + 关键词）
	Search ServiceEndpoint `yaml:"search" env:"SEARCH"`
	// Rerank 相关性打分服务
	Rerank ServiceEndpoint `yaml:"rerank" env:"RERANK"`
	// Completion 生成服务
	Completion ServiceEndpoint `yaml:"completion" env:"COMPLETION"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Retrieval.Alpha < 0 || c.Retrieval.Alpha > 1 {
		errs = append(errs, "retrieval alpha must be between 0 and 1")
	}
	if c.Grading.Threshold < 0 || c.Grading.Threshold > 1 {
		errs = append(errs, "grading threshold must be between 0 and 1")
	}
	if c.Pipeline.MaxRewrites < 0 {
		errs = append(errs, "max_rewrites must not be negative")
	}
	if c.Session.MaxSessions <= 0 {
		errs = append(errs, "max_sessions must be positive")
	}
	if c.Session.IdleTimeout <= 0 {
		errs = append(errs, "idle_timeout must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

package session

import "time"

// Config 流会话配置。
type Config struct {
	// IdleTimeout 等待下一个进度单元的最长时间，每收到一个单元重置。
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	// MaxSessions 同时打开的会话数上限。
	MaxSessions int64 `yaml:"max_sessions" json:"max_sessions"`
	// EventBuffer 会话输出通道缓冲大小。
	EventBuffer int `yaml:"event_buffer" json:"event_buffer"`
	// PersistTimeout 终止时落盘的超时时间。
	PersistTimeout time.Duration `yaml:"persist_timeout" json:"persist_timeout"`
}

// DefaultConfig 返回默认会话配置。
func DefaultConfig() Config {
	return Config{
		IdleTimeout:    30 * time.Second,
		MaxSessions:    64,
		EventBuffer:    16,
		PersistTimeout: 5 * time.Second,
	}
}

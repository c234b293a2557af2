package pipeline

// Config 编排器配置。
type Config struct {
	// GateThreshold 质量闸门要求的平均相关度下限。
	GateThreshold float64 `yaml:"gate_threshold" json:"gate_threshold"`
	// MaxRewrites 整个请求生命周期内允许的查询改写次数上限。
	MaxRewrites int `yaml:"max_rewrites" json:"max_rewrites"`
	// InsufficientMessage 置信度不足时向调用方返回的提示文案。
	InsufficientMessage string `yaml:"insufficient_message" json:"insufficient_message"`
	// EventBuffer 事件通道缓冲大小。
	EventBuffer int `yaml:"event_buffer" json:"event_buffer"`
}

// DefaultConfig 返回默认编排配置。
func DefaultConfig() Config {
	return Config{
		GateThreshold:       0.6,
		MaxRewrites:         2,
		InsufficientMessage: "I could not find enough supporting material to answer this question reliably.",
		EventBuffer:         16,
	}
}

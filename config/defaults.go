package config

import "time"

// DefaultConfig 返回带默认值的配置
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateLimit:       5,
			RateBurst:       10,
		},
		Retrieval: RetrievalConfig{
			Alpha: 0.5,
			TopK:  20,
		},
		Grading: GradingConfig{
			Threshold:       0.5,
			RelevanceWeight: 0.7,
			CountWeight:     0.3,
			SaturationDocs:  5,
			AcceptThreshold: 0.6,
		},
		Rewrite: RewriteConfig{
			MaxEvidenceHints: 3,
		},
		Synthesis: SynthesisConfig{
			TokenBudget: 3000,
			Encoding:    "cl100k_base",
		},
		Pipeline: PipelineConfig{
			GateThreshold:       0.6,
			MaxRewrites:         2,
			InsufficientMessage: "I could not find enough supporting material to answer this question reliably.",
			EventBuffer:         16,
		},
		Session: SessionConfig{
			IdleTimeout:    30 * time.Second,
			MaxSessions:    64,
			EventBuffer:    16,
			PersistTimeout: 5 * time.Second,
		},
		Redis: RedisConfig{
			Enabled:   false,
			Addr:      "localhost:6379",
			PoolSize:  10,
			KeyPrefix: "queryflow:",
			TTL:       7 * 24 * time.Hour,
		},
		Services: ServicesConfig{
			Search:     ServiceEndpoint{Timeout: 10 * time.Second},
			Rerank:     ServiceEndpoint{Timeout: 10 * time.Second},
			Completion: ServiceEndpoint{Timeout: 60 * time.Second},
		},
		Log: LogConfig{
			Level:        "info",
			Format:       "json",
			OutputPaths:  []string{"stdout"},
			EnableCaller: true,
		},
	}
}

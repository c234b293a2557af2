// Package metrics 暴露 Prometheus 指标采集器。
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector 持有管线与会话的全部指标。nil Collector 上的方法均为空操作，
// 便于在测试与轻量嵌入场景下省略指标。
type Collector struct {
	stageDuration  *prometheus.HistogramVec
	terminalEvents *prometheus.CounterVec
	tokensStreamed prometheus.Counter
	rewriteCount   prometheus.Counter
	openSessions   prometheus.Gauge
}

// NewCollector 在给定 registerer 上注册全部指标。
// registerer 为 nil 时使用默认注册表。
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Collector{
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "queryflow",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "各管线阶段耗时分布",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		terminalEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "queryflow",
			Subsystem: "session",
			Name:      "terminal_events_total",
			Help:      "按终止类型统计的会话终止事件数",
		}, []string{"kind"}),
		tokensStreamed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "queryflow",
			Subsystem: "pipeline",
			Name:      "tokens_streamed_total",
			Help:      "流式下发的 token 总数",
		}),
		rewriteCount: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "queryflow",
			Subsystem: "pipeline",
			Name:      "query_rewrites_total",
			Help:      "查询改写执行次数",
		}),
		openSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "queryflow",
			Subsystem: "session",
			Name:      "open_sessions",
			Help:      "当前打开的流式会话数",
		}),
	}
}

// ObserveStage 记录一个阶段的耗时。
func (c *Collector) ObserveStage(stage string, d time.Duration) {
	if c == nil {
		return
	}
	c.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// IncTerminal 记录一次终止事件。kind 取事件类型字符串。
func (c *Collector) IncTerminal(kind string) {
	if c == nil {
		return
	}
	c.terminalEvents.WithLabelValues(kind).Inc()
}

// AddTokens 累加流式下发的 token 数。
func (c *Collector) AddTokens(n int) {
	if c == nil {
		return
	}
	c.tokensStreamed.Add(float64(n))
}

// IncRewrite 记录一次查询改写。
func (c *Collector) IncRewrite() {
	if c == nil {
		return
	}
	c.rewriteCount.Inc()
}

// SessionOpened 会话打开时调用。
func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.openSessions.Inc()
}

// SessionClosed 会话关闭时调用。
func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.openSessions.Dec()
}

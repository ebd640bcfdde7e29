// Package metrics 提供基于 Prometheus 的服务指标采集。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector 持有服务的全部 Prometheus 指标
type Collector struct {
	registry *prometheus.Registry

	// HTTP 层
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	// 对话层
	chatTurns       *prometheus.CounterVec
	chatDuration    prometheus.Histogram
	agentIterations prometheus.Histogram
	toolCalls       *prometheus.CounterVec
	tokensUsed      *prometheus.CounterVec
}

// NewCollector 创建并注册所有指标
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workforce",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, path and status.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "workforce",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		chatTurns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workforce",
			Name:      "chat_turns_total",
			Help:      "Chat turns by employee and outcome.",
		}, []string{"employee_id", "outcome"}),
		chatDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "workforce",
			Name:      "chat_turn_duration_seconds",
			Help:      "End to end chat turn latency.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		agentIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "workforce",
			Name:      "agent_iterations",
			Help:      "Model calls per agent turn.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workforce",
			Name:      "tool_calls_total",
			Help:      "Tool invocations by tool name.",
		}, []string{"tool"}),
		tokensUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workforce",
			Name:      "tokens_total",
			Help:      "Tokens consumed by employee and kind.",
		}, []string{"employee_id", "kind"}),
	}

	registry.MustRegister(
		c.httpRequests, c.httpDuration,
		c.chatTurns, c.chatDuration,
		c.agentIterations, c.toolCalls, c.tokensUsed,
	)
	return c
}

// Handler 返回 /metrics 的 HTTP 处理器
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveHTTP 记录一次 HTTP 请求
func (c *Collector) ObserveHTTP(method, path string, status int, elapsed time.Duration) {
	c.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

// ObserveChatTurn 记录一次完整的对话轮次
func (c *Collector) ObserveChatTurn(employeeID, outcome string, iterations int, usedRetrieval bool, elapsed time.Duration) {
	c.chatTurns.WithLabelValues(employeeID, outcome).Inc()
	c.chatDuration.Observe(elapsed.Seconds())
	c.agentIterations.Observe(float64(iterations))
	if usedRetrieval {
		c.toolCalls.WithLabelValues("knowledge_retrieval").Inc()
	}
}

// ObserveTokens 记录 Token 消耗
func (c *Collector) ObserveTokens(employeeID string, prompt, completion int) {
	c.tokensUsed.WithLabelValues(employeeID, "prompt").Add(float64(prompt))
	c.tokensUsed.WithLabelValues(employeeID, "completion").Add(float64(completion))
}

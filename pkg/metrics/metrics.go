// Package metrics 定义了服务暴露给 Prometheus 的指标。
// 所有方法在接收者为 nil 时不做任何事，便于在测试中省略。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "recetario"

// 保存来源
const (
	SourceManual  = "manual"
	SourceChatbot = "chatbot"
)

// 保存结果
const (
	OutcomeOK       = "ok"
	OutcomeDegraded = "degraded"
	OutcomeFailed   = "failed"
)

// 配图来源
const (
	ImageGenerated = "generated"
	ImageStock     = "stock"
	ImageNone      = "none"
)

// Metrics 持有全部指标及其所属的 registry。
type Metrics struct {
	registry *prometheus.Registry

	requestCount    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	recipeSaves     *prometheus.CounterVec
	imageSources    *prometheus.CounterVec
	suggestions     *prometheus.CounterVec
	decisions       *prometheus.CounterVec
	recipes         prometheus.Gauge
}

// New 创建独立的 registry 并注册全部指标。
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requestCount: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		recipeSaves: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recipe_saves_total",
			Help:      "Recipe save operations by source and outcome",
		}, []string{"source", "outcome"}),
		imageSources: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suggestion_image_source_total",
			Help:      "Which image source served a chatbot-originated save",
		}, []string{"source"}),
		suggestions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suggestions_total",
			Help:      "Recipe suggestions requested from the oracle",
		}, []string{"outcome"}),
		decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_decisions_total",
			Help:      "Resolved chat decisions",
		}, []string{"decision"}),
		recipes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recipes",
			Help:      "Recipes held in the in-memory collection",
		}),
	}
}

// Handler 返回 /metrics 的 HTTP 处理器。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveRequest(method, path string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestCount.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveSave(source, outcome string) {
	if m == nil {
		return
	}
	m.recipeSaves.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) ObserveImageSource(source string) {
	if m == nil {
		return
	}
	m.imageSources.WithLabelValues(source).Inc()
}

func (m *Metrics) ObserveSuggestion(ok bool) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	if !ok {
		outcome = OutcomeFailed
	}
	m.suggestions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveDecision(decision string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(decision).Inc()
}

func (m *Metrics) SetRecipeCount(n int) {
	if m == nil {
		return
	}
	m.recipes.Set(float64(n))
}

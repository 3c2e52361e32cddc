package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 流水线阶段
const (
	StageVAD = "vad"
	StageASR = "asr"
	StageLLM = "llm"
	StageTTS = "tts"
)

// Metrics 网关的Prometheus指标，nil 接收者上的记录方法为空操作
type Metrics struct {
	registry *prometheus.Registry

	// 连接
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	HandshakeRejected *prometheus.CounterVec
	SessionsExpired   prometheus.Counter

	// 入站
	ProtocolErrors prometheus.Counter
	DecodeErrors   prometheus.Counter

	// 分段
	UtterancesFlushed   prometheus.Counter
	UtterancesDiscarded prometheus.Counter
	UtteranceDuration   prometheus.Histogram

	// 流水线
	StageDuration *prometheus.HistogramVec
	StageErrors   *prometheus.CounterVec
	Aborts        prometheus.Counter

	// 下行
	SentencesSent   prometheus.Counter
	AudioFramesSent prometheus.Counter

	// 管理接口
	HTTPRequests *prometheus.CounterVec
}

// NewMetrics 在独立的registry上创建并注册全部指标
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "voice_gateway"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ConnectionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Current number of device sessions",
		}),
		ConnectionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of accepted device sessions",
		}),
		HandshakeRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_rejected_total",
			Help:      "Handshakes rejected before upgrade",
		}, []string{"reason"}),
		SessionsExpired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_expired_total",
			Help:      "Sessions closed by the idle reaper",
		}),

		ProtocolErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Malformed binary messages dropped",
		}),
		DecodeErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Audio frames that failed to decode",
		}),

		UtterancesFlushed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_flushed_total",
			Help:      "Utterances handed to recognition",
		}),
		UtterancesDiscarded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_discarded_total",
			Help:      "Flushes dropped for being shorter than the minimum duration",
		}),
		UtteranceDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "utterance_duration_seconds",
			Help:      "Duration of utterances handed to recognition",
			Buckets:   prometheus.LinearBuckets(1, 0.5, 9), // 1s to 5s
		}),

		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Latency of collaborator calls",
			Buckets:   []float64{0.005, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"stage"}),
		StageErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_errors_total",
			Help:      "Failed collaborator calls",
		}, []string{"stage"}),
		Aborts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aborts_total",
			Help:      "Client abort requests",
		}),

		SentencesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sentences_sent_total",
			Help:      "Sentences streamed to clients",
		}),
		AudioFramesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_sent_total",
			Help:      "Opus frames streamed to clients",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Admin HTTP requests",
		}, []string{"method", "endpoint", "status"}),
	}
}

// Registry 返回底层registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler 返回 /metrics 处理器，未启用指标时返回404
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.ConnectionsActive.Inc()
	m.ConnectionsTotal.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.ConnectionsActive.Dec()
}

func (m *Metrics) SessionExpired() {
	if m == nil {
		return
	}
	m.SessionsExpired.Inc()
}

func (m *Metrics) RecordHandshakeRejected(reason string) {
	if m == nil {
		return
	}
	m.HandshakeRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordProtocolError() {
	if m == nil {
		return
	}
	m.ProtocolErrors.Inc()
}

func (m *Metrics) RecordDecodeError() {
	if m == nil {
		return
	}
	m.DecodeErrors.Inc()
}

// RecordUtterance 记录一次送识别的语音
func (m *Metrics) RecordUtterance(samples, sampleRate int) {
	if m == nil || sampleRate <= 0 {
		return
	}
	m.UtterancesFlushed.Inc()
	m.UtteranceDuration.Observe(float64(samples) / float64(sampleRate))
}

func (m *Metrics) RecordDiscarded() {
	if m == nil {
		return
	}
	m.UtterancesDiscarded.Inc()
}

// ObserveStage 记录一次外部调用的耗时和结果
func (m *Metrics) ObserveStage(stage string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	if err != nil {
		m.StageErrors.WithLabelValues(stage).Inc()
	}
}

func (m *Metrics) RecordAbort() {
	if m == nil {
		return
	}
	m.Aborts.Inc()
}

// RecordSentence 记录一句下发完成
func (m *Metrics) RecordSentence(frames int) {
	if m == nil {
		return
	}
	m.SentencesSent.Inc()
	m.AudioFramesSent.Add(float64(frames))
}

func (m *Metrics) RecordHTTPRequest(method, endpoint string, status int) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
}

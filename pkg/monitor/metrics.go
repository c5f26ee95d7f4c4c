package monitor

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kasuganosora/shardconn/pkg/capability"
	"github.com/kasuganosora/shardconn/pkg/dispatch"
)

// Outcome 分发结果分类（用作指标标签）
type Outcome string

const (
	OutcomeOK             Outcome = "ok"
	OutcomeRejected       Outcome = "rejected"
	OutcomeNoBacking      Outcome = "no_backing"
	OutcomeBackingFailure Outcome = "backing_failure"
	OutcomePartial        Outcome = "partial"
	OutcomeResolveFailure Outcome = "resolve_failure"
	OutcomeError          Outcome = "error"
)

// ClassifyOutcome 根据分发返回的错误判断结果分类
func ClassifyOutcome(err error) Outcome {
	if err == nil {
		return OutcomeOK
	}

	var (
		rejected *dispatch.RejectedError
		backing  *dispatch.BackingError
		resolve  *dispatch.ResolveError
	)
	switch {
	case errors.As(err, &rejected):
		return OutcomeRejected
	case errors.Is(err, dispatch.ErrNoBackingConnection):
		return OutcomeNoBacking
	case errors.As(err, &backing):
		if backing.Partial() {
			return OutcomePartial
		}
		return OutcomeBackingFailure
	case errors.As(err, &resolve):
		return OutcomeResolveFailure
	default:
		return OutcomeError
	}
}

// MetricsCollector 分发指标收集器
// 同时维护进程内计数（供快照）和 Prometheus 指标
type MetricsCollector struct {
	mu             sync.RWMutex
	dispatchCount  int64
	successCount   int64
	errorCount     int64
	totalDuration  time.Duration
	outcomeCount   map[Outcome]int64
	operationCount map[capability.Operation]int64
	startTime      time.Time

	slow *SlowDispatchAnalyzer

	registry   *prometheus.Registry
	dispatches *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	targets    *prometheus.HistogramVec
	partials   *prometheus.CounterVec
}

var _ dispatch.Observer = (*MetricsCollector)(nil)

// NewMetricsCollector 创建监控指标收集器，指标注册到独立的 registry
func NewMetricsCollector(namespace string) *MetricsCollector {
	m := &MetricsCollector{
		outcomeCount:   make(map[Outcome]int64),
		operationCount: make(map[capability.Operation]int64),
		startTime:      time.Now(),
		registry:       prometheus.NewRegistry(),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Facade operations dispatched, by operation, classification and outcome",
		}, []string{"operation", "classification", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent dispatching facade operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"classification"}),
		targets: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_targets",
			Help:      "Backing connections resolved per dispatch",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32, 64},
		}, []string{"classification"}),
		partials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partial_application_total",
			Help:      "AGGREGATE operations that failed after some shards had applied them",
		}, []string{"operation"}),
	}
	m.registry.MustRegister(m.dispatches, m.duration, m.targets, m.partials)
	return m
}

// WithSlowDispatchLog 记录超过阈值的分发
func (m *MetricsCollector) WithSlowDispatchLog(slow *SlowDispatchAnalyzer) *MetricsCollector {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slow = slow
	return m
}

// Observe 实现 dispatch.Observer
func (m *MetricsCollector) Observe(op capability.Operation, class capability.Classification, targets int, elapsed time.Duration, err error) {
	outcome := ClassifyOutcome(err)

	m.dispatches.WithLabelValues(op.String(), class.String(), string(outcome)).Inc()
	m.duration.WithLabelValues(class.String()).Observe(elapsed.Seconds())
	if class.TouchesBackend() {
		m.targets.WithLabelValues(class.String()).Observe(float64(targets))
	}
	if outcome == OutcomePartial {
		m.partials.WithLabelValues(op.String()).Inc()
	}

	m.mu.Lock()
	m.dispatchCount++
	m.totalDuration += elapsed
	if err == nil {
		m.successCount++
	} else {
		m.errorCount++
	}
	m.outcomeCount[outcome]++
	m.operationCount[op]++
	slow := m.slow
	m.mu.Unlock()

	if slow != nil {
		slow.Record(op, class, targets, elapsed, err)
	}
}

// Registry 返回指标所在的 registry
func (m *MetricsCollector) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回 /metrics 处理器
func (m *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// GetDispatchCount 获取分发总数
func (m *MetricsCollector) GetDispatchCount() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dispatchCount
}

// GetOutcomeCount 获取某类结果的次数
func (m *MetricsCollector) GetOutcomeCount(outcome Outcome) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.outcomeCount[outcome]
}

// GetOperationCount 获取某个操作的分发次数
func (m *MetricsCollector) GetOperationCount(op capability.Operation) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.operationCount[op]
}

// GetSuccessRate 获取成功率
func (m *MetricsCollector) GetSuccessRate() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.dispatchCount == 0 {
		return 0
	}
	return float64(m.successCount) / float64(m.dispatchCount) * 100
}

// Reset 重置进程内计数（Prometheus 计数器保持单调）
func (m *MetricsCollector) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dispatchCount = 0
	m.successCount = 0
	m.errorCount = 0
	m.totalDuration = 0
	m.outcomeCount = make(map[Outcome]int64)
	m.operationCount = make(map[capability.Operation]int64)
	m.startTime = time.Now()
}

// DispatchMetrics 分发指标快照
type DispatchMetrics struct {
	DispatchCount  int64
	SuccessCount   int64
	ErrorCount     int64
	SuccessRate    float64
	AvgDuration    time.Duration
	OutcomeCount   map[Outcome]int64
	OperationCount map[string]int64
	Uptime         time.Duration
}

// GetSnapshot 获取指标快照
func (m *MetricsCollector) GetSnapshot() *DispatchMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var successRate float64
	var avgDuration time.Duration
	if m.dispatchCount > 0 {
		successRate = float64(m.successCount) / float64(m.dispatchCount) * 100
		avgDuration = m.totalDuration / time.Duration(m.dispatchCount)
	}

	outcomes := make(map[Outcome]int64, len(m.outcomeCount))
	for k, v := range m.outcomeCount {
		outcomes[k] = v
	}

	operations := make(map[string]int64, len(m.operationCount))
	for k, v := range m.operationCount {
		operations[k.String()] = v
	}

	return &DispatchMetrics{
		DispatchCount:  m.dispatchCount,
		SuccessCount:   m.successCount,
		ErrorCount:     m.errorCount,
		SuccessRate:    successRate,
		AvgDuration:    avgDuration,
		OutcomeCount:   outcomes,
		OperationCount: operations,
		Uptime:         time.Since(m.startTime),
	}
}

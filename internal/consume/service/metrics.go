package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/xxz807/finscale/consume/internal/consume/domain"
)

// Metrics 消费与补偿的 Prometheus 指标
// nil 的 *Metrics 可以安全调用，所有方法为空操作
type Metrics struct {
	executions *prometheus.CounterVec
	amount     prometheus.Counter
	enqueued   *prometheus.CounterVec
	attempts   *prometheus.CounterVec
	exhausted  prometheus.Gauge
}

// NewMetrics 在 reg 上注册指标，reg 为 nil 时只创建不注册 (测试用)
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		executions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consume",
			Name:      "executions_total",
			Help:      "Consumption executions by result code (SUCCESS or error code).",
		}, []string{"code"}),
		amount: f.NewCounter(prometheus.CounterOpts{
			Namespace: "consume",
			Name:      "amount_total",
			Help:      "Total amount debited by successful consumptions.",
		}),
		enqueued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "compensation",
			Name:      "tasks_enqueued_total",
			Help:      "Compensation tasks created, by business type.",
		}, []string{"business_type"}),
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "compensation",
			Name:      "attempts_total",
			Help:      "Compensation retry attempts by outcome.",
		}, []string{"outcome"}),
		exhausted: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "compensation",
			Name:      "exhausted_tasks",
			Help:      "Pending compensation tasks whose retries are exhausted and need manual handling.",
		}),
	}
}

const resultSuccess = "SUCCESS"

func (m *Metrics) observeExecution(res *ConsumeResult, err error) {
	if m == nil {
		return
	}
	if err != nil {
		code := string(domain.CodeOf(err))
		if code == "" {
			code = "UNKNOWN"
		}
		m.executions.WithLabelValues(code).Inc()
		return
	}
	m.executions.WithLabelValues(resultSuccess).Inc()
	if res != nil && !res.Replayed {
		m.amount.Add(res.Amount.InexactFloat64())
	}
}

func (m *Metrics) taskEnqueued(businessType string) {
	if m == nil {
		return
	}
	m.enqueued.WithLabelValues(businessType).Inc()
}

func (m *Metrics) attempt(outcome string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) setExhausted(n int) {
	if m == nil {
		return
	}
	m.exhausted.Set(float64(n))
}

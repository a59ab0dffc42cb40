// Package metrics 定义服务的 Prometheus 指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 分享链接兑换与审计链路的指标。
// 所有方法都允许 nil 接收者，未启用指标时直接跳过。
type Metrics struct {
	// RedemptionsTotal 按结果与拒绝原因统计兑换次数
	RedemptionsTotal *prometheus.CounterVec

	// CommitRetriesTotal 提交计数时遇到锁冲突而重试的次数
	CommitRetriesTotal prometheus.Counter

	// CommitContentionTotal 重试耗尽后返回 contention 的次数
	CommitContentionTotal prometheus.Counter

	// AuditDroppedTotal 审计事件最终写入失败的次数，需要告警
	AuditDroppedTotal *prometheus.CounterVec

	// AuditFallbackTotal 审计事件走数据库直写兜底的次数
	AuditFallbackTotal prometheus.Counter

	// StorageErrorsTotal 对象存储操作失败次数
	StorageErrorsTotal *prometheus.CounterVec

	// StorageDuration 对象存储操作耗时
	StorageDuration *prometheus.HistogramVec
}

// NewMetrics 创建并注册所有指标，注册失败会 panic（仅在启动时调用）
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RedemptionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filevault_share_redemptions_total",
				Help: "Share redemption attempts by outcome and reason",
			},
			[]string{"outcome", "reason"},
		),
		CommitRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "filevault_share_commit_retries_total",
				Help: "Redemption commits retried after a transient lock error",
			},
		),
		CommitContentionTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "filevault_share_commit_contention_total",
				Help: "Redemption commits that gave up after bounded retries",
			},
		),
		AuditDroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filevault_audit_dropped_total",
				Help: "Audit events that could not be persisted by any path",
			},
			[]string{"action"},
		),
		AuditFallbackTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "filevault_audit_fallback_total",
				Help: "Audit events written directly to the database after the stream failed",
			},
		),
		StorageErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filevault_storage_errors_total",
				Help: "Object store operation failures by operation",
			},
			[]string{"operation"},
		),
		StorageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "filevault_storage_duration_seconds",
				Help:    "Object store operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}

	reg.MustRegister(
		m.RedemptionsTotal,
		m.CommitRetriesTotal,
		m.CommitContentionTotal,
		m.AuditDroppedTotal,
		m.AuditFallbackTotal,
		m.StorageErrorsTotal,
		m.StorageDuration,
	)

	return m
}

// RecordRedemption 记录一次兑换结果，reason 为空表示成功
func (m *Metrics) RecordRedemption(outcome, reason string) {
	if m == nil {
		return
	}
	m.RedemptionsTotal.WithLabelValues(outcome, reason).Inc()
}

func (m *Metrics) RecordCommitRetry() {
	if m == nil {
		return
	}
	m.CommitRetriesTotal.Inc()
}

func (m *Metrics) RecordContention() {
	if m == nil {
		return
	}
	m.CommitContentionTotal.Inc()
}

// RecordAuditDropped 审计事件丢失
func (m *Metrics) RecordAuditDropped(action string) {
	if m == nil {
		return
	}
	m.AuditDroppedTotal.WithLabelValues(action).Inc()
}

func (m *Metrics) RecordAuditFallback() {
	if m == nil {
		return
	}
	m.AuditFallbackTotal.Inc()
}

// RecordStorage 记录一次对象存储操作
func (m *Metrics) RecordStorage(operation string, durationSeconds float64, err error) {
	if m == nil {
		return
	}
	m.StorageDuration.WithLabelValues(operation).Observe(durationSeconds)
	if err != nil {
		m.StorageErrorsTotal.WithLabelValues(operation).Inc()
	}
}

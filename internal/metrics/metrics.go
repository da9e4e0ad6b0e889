// Package metrics 定义缓存命中率和上游调用次数的 Prometheus 指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "scorecard_monitor"

// 缓存查询结果
const (
	ResultHit     = "hit"
	ResultMiss    = "miss"
	ResultExpired = "expired"
	ResultError   = "error"
)

// 上游调用结果
const (
	OutcomeSuccess  = "success"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
	OutcomeSkipped  = "skipped"
)

// Metrics 所有组件共用的一组指标
// nil 的 *Metrics 可以直接调用，什么也不记录
type Metrics struct {
	CacheLookups   *prometheus.CounterVec
	RemoteRequests *prometheus.CounterVec
	PagesFetched   *prometheus.CounterVec
}

// New 创建指标并注册到 reg；reg 为 nil 时不注册
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "TTL cache lookups by table and result.",
		}, []string{"table", "result"}),
		RemoteRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_requests_total",
			Help:      "Calls to upstream APIs by kind and outcome.",
		}, []string{"kind", "outcome"}),
		PagesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repository_pages_fetched_total",
			Help:      "Repository listing pages fetched per service.",
		}, []string{"service"}),
	}
	if reg != nil {
		reg.MustRegister(m.CacheLookups, m.RemoteRequests, m.PagesFetched)
	}
	return m
}

// CacheLookup 记录一次缓存查询
func (m *Metrics) CacheLookup(table, result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(table, result).Inc()
}

// RemoteRequest 记录一次上游调用，kind 如 "scorecard"、"account"
func (m *Metrics) RemoteRequest(kind, outcome string) {
	if m == nil {
		return
	}
	m.RemoteRequests.WithLabelValues(kind, outcome).Inc()
}

// PageFetched 记录拉取了一页仓库
func (m *Metrics) PageFetched(service string) {
	if m == nil {
		return
	}
	m.PagesFetched.WithLabelValues(service).Inc()
}

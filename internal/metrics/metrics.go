// Package metrics 定义 camtag 的 Prometheus 指标。
//
// camtag 不监听任何端口：进程退出前把默认 registry 写成 textfile，
// 交给 node-exporter 的 textfile collector 采集。
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FinalizeTotal 统计 finalize 的结果。
	// Labels: result（ok 或致命错误码）
	FinalizeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "camtag",
			Subsystem: "finalize",
			Name:      "total",
			Help:      "Total number of finalize runs by result",
		},
		[]string{"result"},
	)

	// SoftFailuresTotal 统计 best-effort 步骤的失败。
	// Labels: step（source_cleanup, gallery, metadata, push）
	SoftFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "camtag",
			Subsystem: "finalize",
			Name:      "soft_failures_total",
			Help:      "Total number of non-fatal finalize step failures",
		},
		[]string{"step"},
	)

	SweepDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "camtag",
			Subsystem: "retention",
			Name:      "deleted_total",
			Help:      "Total number of assets deleted by retention sweeps",
		},
	)

	SweepFailedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "camtag",
			Subsystem: "retention",
			Name:      "failed_total",
			Help:      "Total number of assets the retention sweep failed to delete",
		},
	)

	// PollTotal 统计定位 poll 的结果。
	// Labels: outcome（tagged, degraded 错误码, disabled）
	PollTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "camtag",
			Subsystem: "geo",
			Name:      "polls_total",
			Help:      "Total number of location polls by outcome",
		},
		[]string{"outcome"},
	)
)

// WriteTextfile 把默认 registry 以 text 格式原子写到 path；path 为空时什么都不做。
func WriteTextfile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}

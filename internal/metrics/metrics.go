// Package metrics 定义了流水线暴露给 Prometheus 的指标。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 结果标签取值。
const (
	OutcomeSuccess  = "success"
	OutcomeDegraded = "degraded"
	OutcomeSkipped  = "skipped"
	OutcomeFailure  = "failure"
)

var (
	// FilesIndexed 统计每个文件的摄取结果。
	FilesIndexed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codelens_files_indexed_total",
		Help: "Files processed by the indexer, by outcome.",
	}, []string{"outcome"})

	// CommitsSummarized 统计提交摘要结果。
	CommitsSummarized = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codelens_commits_summarized_total",
		Help: "New commits processed by the commit tracker, by outcome.",
	}, []string{"outcome"})

	// AIRequests 统计对 AI 后端的调用。
	AIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codelens_ai_requests_total",
		Help: "Calls to the generative AI backend, by operation and outcome.",
	}, []string{"operation", "outcome"})

	// IngestDuration 记录一次完整摄取的耗时。
	IngestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "codelens_ingest_duration_seconds",
		Help:    "Wall time of a full repository ingestion run.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})
)

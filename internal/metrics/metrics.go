package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// API 指标
var (
	// APIRequestsTotal API 请求总数
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragchat_api_requests_total",
			Help: "API 请求总数",
		},
		[]string{"method", "path", "status"},
	)

	// APIRequestDuration API 请求延迟（秒）
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ragchat_api_request_duration_seconds",
			Help:    "API 请求延迟分布",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "path"},
	)
)

// RAG 检索指标
var (
	// RAGQueriesTotal 问答请求总数，status: answered, no_documents, failed
	RAGQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragchat_rag_queries_total",
			Help: "RAG 问答总数",
		},
		[]string{"status"},
	)

	// RAGQueryDuration 问答耗时（秒）
	RAGQueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ragchat_rag_query_duration_seconds",
			Help:    "RAG 问答耗时分布",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	// RAGQueryResults 单次检索返回的片段数
	RAGQueryResults = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ragchat_rag_query_results",
			Help:    "RAG 检索结果数量分布",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 20},
		},
	)

	// IngestedChunksTotal 写入索引的分块总数
	IngestedChunksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ragchat_ingested_chunks_total",
			Help: "写入向量索引的分块总数",
		},
	)
)

// 向量索引指标
var (
	// IndexRecords 当前索引中的记录数
	IndexRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ragchat_index_records",
			Help: "向量索引当前记录数",
		},
	)

	// IndexLoadsTotal 索引加载次数，outcome: created, loaded, recovered_empty
	IndexLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragchat_index_loads_total",
			Help: "向量索引加载次数",
		},
		[]string{"outcome"},
	)
)

// 模型调用指标
var (
	// ModelCallsTotal 模型调用总数，kind: embedding, generation
	ModelCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragchat_model_calls_total",
			Help: "模型调用总数",
		},
		[]string{"kind", "model", "status"},
	)

	// ModelCallDuration 模型调用耗时（秒）
	ModelCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ragchat_model_call_duration_seconds",
			Help:    "模型调用耗时分布",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"kind", "model"},
	)

	// ModelTokensTotal 模型 Token 消耗，type: prompt, completion
	ModelTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragchat_model_tokens_total",
			Help: "模型 Token 消耗总数",
		},
		[]string{"model", "type"},
	)
)

// 数据库指标
var (
	// DBQueryDuration SQL 执行耗时（秒），operation 为语句首个关键字
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ragchat_db_query_duration_seconds",
			Help:    "SQL 执行耗时分布",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.2, 0.5, 1},
		},
		[]string{"operation", "status"},
	)
)

// ObserveModelCall 记录一次模型调用
func ObserveModelCall(kind, model string, seconds float64, err error) {
	status := "success"
	if err != nil {
		status = "failed"
	}
	ModelCallsTotal.WithLabelValues(kind, model, status).Inc()
	ModelCallDuration.WithLabelValues(kind, model).Observe(seconds)
}

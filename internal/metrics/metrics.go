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
			Name: "devflow_api_requests_total",
			Help: "API 请求总数",
		},
		[]string{"method", "path", "status"},
	)

	// APIRequestDuration API 请求延迟（秒）
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "devflow_api_request_duration_seconds",
			Help:    "API 请求延迟分布",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// 工作流引擎指标
var (
	// WorkflowsStartedTotal 启动的工作流总数
	WorkflowsStartedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devflow_workflows_started_total",
			Help: "启动的工作流总数",
		},
		[]string{"technology", "template_id"},
	)

	// WorkflowsFinishedTotal 进入终态的工作流总数
	WorkflowsFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devflow_workflows_finished_total",
			Help: "进入终态的工作流总数",
		},
		[]string{"status"},
	)

	// WorkflowsActive 活跃工作流数量
	WorkflowsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "devflow_workflows_active",
			Help: "内存索引中的活跃工作流数量",
		},
	)

	// PhaseExecutionsTotal 阶段执行总数
	PhaseExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devflow_phase_executions_total",
			Help: "阶段执行总数",
		},
		[]string{"agent", "status"},
	)

	// PhaseExecutionDuration 阶段执行耗时（秒）
	PhaseExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "devflow_phase_execution_duration_seconds",
			Help:    "阶段执行耗时分布",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"agent"},
	)

	// PhaseRetriesTotal 阶段重试总数
	PhaseRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devflow_phase_retries_total",
			Help: "阶段重试总数",
		},
		[]string{"agent"},
	)
)

// 审批指标
var (
	// ApprovalPendingGauge 待审批数量
	ApprovalPendingGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "devflow_approvals_pending",
			Help: "当前待人工审批的阶段数量",
		},
	)

	// ApprovalDecisionsTotal 审批决策总数
	ApprovalDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devflow_approval_decisions_total",
			Help: "审批决策总数",
		},
		[]string{"action"},
	)
)

// 持久化指标
var (
	// PersistFailuresTotal 持久化失败总数
	// 持久化失败只记录不回滚，此计数器是告警的唯一信号
	PersistFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "devflow_persist_failures_total",
			Help: "工作流持久化失败总数",
		},
	)
)

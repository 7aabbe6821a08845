// internal/pkg/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cart"

var (
	// OperationsTotal 按用例和结果类型统计请求数
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operations_total",
		Help:      "Cart operations by name and result kind.",
	}, []string{"operation", "result"})

	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "operation_duration_seconds",
		Help:      "Cart operation latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	// TxRetriesTotal 事务冲突后的重试次数
	TxRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tx_retries_total",
		Help:      "Transaction retries after an abort.",
	}, []string{"operation"})

	ReclaimCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reclaim_cycles_total",
		Help:      "Expiry reclaim cycles by result.",
	}, []string{"result"})

	ReclaimedCartsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reclaimed_carts_total",
		Help:      "Expired carts deleted by the reclaimer.",
	})

	ReclaimedUnitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reclaimed_units_total",
		Help:      "Stock units returned to the catalog by the reclaimer.",
	})
)

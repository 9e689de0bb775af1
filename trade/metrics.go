package trade

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeflow_trade_transitions_total",
			Help: "Total number of committed trade status transitions",
		},
		[]string{"from", "to"},
	)
)

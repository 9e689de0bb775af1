package escrow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	movementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeflow_escrow_movements_total",
			Help: "Total number of committed escrow status movements",
		},
		[]string{"from", "to"},
	)
)

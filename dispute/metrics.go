package dispute

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var verdictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tradeflow_dispute_verdicts_total",
	Help: "Dispute verdicts issued, by verdict and whether the refund policy fired.",
}, []string{"verdict", "policy_triggered"})

var advisorFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "tradeflow_dispute_advisor_failures_total",
	Help: "Narrative assessment calls that failed and degraded to manual review.",
})

package outbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var deliveredTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "tradeflow_outbox_delivered_total",
	Help: "Outbox messages successfully handed to the publisher.",
})

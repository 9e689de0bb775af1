package payment

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var webhooksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tradeflow_payment_webhooks_processed_total",
	Help: "Provider webhooks applied, by event type. Replays and ignored events excluded.",
}, []string{"event"})

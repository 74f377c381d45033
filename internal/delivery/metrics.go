package delivery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wagate_messages_sent_total",
		Help: "Messages handed to the bridge successfully.",
	})
	failedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wagate_messages_failed_total",
		Help: "Delivery attempts that failed and were handed back for retry.",
	})
	droppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wagate_jobs_dropped_total",
		Help: "Queue payloads dropped because they could not be decoded.",
	})
)

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	OutboxTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bksaga_outbox_records_total",
			Help: "Outbox publisher outcomes by event type and result",
		},
		[]string{"event_type", "result"}, // published|retry|dead_lettered
	)

	ConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bksaga_consumed_events_total",
			Help: "Consumer outcomes by queue, event name and result",
		},
		[]string{"queue", "event_name", "result"}, // ok|duplicate|retry|dead_lettered|dropped
	)

	DeadLettersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bksaga_dead_letters_total",
			Help: "Dead letters written by source",
		},
		[]string{"source"}, // outbox|<queue>
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		OutboxTotal,
		ConsumedTotal,
		DeadLettersTotal,
	)
}

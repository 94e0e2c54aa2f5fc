package registry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	interactionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatmon_interactions_created_total",
		Help: "Pending interactions opened, by kind.",
	}, []string{"kind"})

	interactionsTerminal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatmon_interactions_terminal_total",
		Help: "Interactions leaving pending, by kind and terminal status.",
	}, []string{"kind", "status"})

	interactionsPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatmon_interactions_pending",
		Help: "Interactions currently pending.",
	})
)

package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var actionsAppended = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chatmon_journal_actions_total",
	Help: "Actions appended to the journal, by kind.",
}, []string{"kind"})

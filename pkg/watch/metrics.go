package watch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pollCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatmon_poll_cycles_total",
		Help: "Completed watcher poll cycles.",
	})

	taggedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatmon_tagged_messages_total",
		Help: "Tagged messages picked up, by tag kind.",
	}, []string{"tag_kind"})
)

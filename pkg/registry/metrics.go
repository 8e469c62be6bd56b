package registry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricEventsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatsync",
		Name:      "events_consumed_total",
		Help:      "Inbound realtime events applied to the registry.",
	}, []string{"kind"})
	metricEventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatsync",
		Name:      "events_dropped_total",
		Help:      "Inbound events dropped at the boundary.",
	}, []string{"reason"})
	metricMessagesAppended = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatsync",
		Name:      "messages_appended_total",
		Help:      "Messages appended to session ledgers.",
	})
	metricMessagesDeduped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatsync",
		Name:      "messages_deduped_total",
		Help:      "Messages merged into an existing ledger entry by id.",
	})
	metricAcks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatsync",
		Name:      "acks_reconciled_total",
		Help:      "Optimistic messages reconciled with their server copy.",
	})
	metricRemaps = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatsync",
		Name:      "sessions_remapped_total",
		Help:      "Session id remaps (including merges).",
	})
	metricSweeps = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatsync",
		Name:      "typing_sweeps_total",
		Help:      "Typing TTL sweep timer fires.",
	})
	metricSnapshots = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatsync",
		Name:      "snapshot_rebuilds_total",
		Help:      "Snapshot rebuilds after committed mutations.",
	})
)

package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	producersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_relay_producers_active",
		Help: "Number of producer goroutines currently driving upstream streams.",
	})

	chunksRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_relay_chunks_relayed_total",
		Help: "Chunks placed on local channels, sentinels included.",
	})

	flushFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_relay_flush_failures_total",
		Help: "Failed buffer or chat-record flushes, by target.",
	}, []string{"target"})

	reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_relay_reconnects_total",
		Help: "Reconnection requests served by the replayer.",
	})

	interrupts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_relay_interrupts_total",
		Help: "Streams terminated by an external stop signal.",
	})
)

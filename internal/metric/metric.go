// Package metric exposes Prometheus instrumentation for the protocol client.
package metric

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesTotal counts complete documents produced by the frame assembler.
	FramesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "drouter",
		Name:      "frames_total",
		Help:      "Complete protocol documents framed from the byte stream.",
	})

	// FramingErrors counts unmatched closing braces recovered from.
	FramingErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "drouter",
		Name:      "framing_errors_total",
		Help:      "Framing errors recovered from (unmatched closing brace).",
	})

	// DecodeErrors counts framed documents that failed JSON decoding.
	DecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "drouter",
		Name:      "decode_errors_total",
		Help:      "Framed documents that failed JSON decoding.",
	})

	// MessagesTotal counts dispatched inbound messages by kind.
	MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "drouter",
		Name:      "messages_total",
		Help:      "Inbound protocol messages dispatched, by message kind.",
	}, []string{"kind"})

	// CommandsTotal counts outbound commands by verb.
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "drouter",
		Name:      "commands_total",
		Help:      "Outbound protocol commands sent, by verb.",
	}, []string{"verb"})

	// Reconnects counts holdoff reconnect attempts.
	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "drouter",
		Name:      "reconnects_total",
		Help:      "Reconnect attempts after connection loss.",
	})

	// Connected reports whether the session is currently active.
	Connected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "drouter",
		Name:      "connected",
		Help:      "1 while the protocol session is active, 0 otherwise.",
	})
)

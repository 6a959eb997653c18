// Package notify delivers engine events to the presentation layer and to
// metrics. Emitters are fire-and-forget; they never fail a transition.
package notify

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"walletcore/native/multisig"
)

// LogEmitter writes every event as a structured log record.
type LogEmitter struct {
	log *slog.Logger
}

func NewLogEmitter(log *slog.Logger) *LogEmitter {
	if log == nil {
		log = slog.Default()
	}
	return &LogEmitter{log: log}
}

func (e *LogEmitter) Emit(evt multisig.Event) {
	attrs := make([]any, 0, len(evt.Attributes)*2)
	for k, v := range evt.Attributes {
		attrs = append(attrs, k, v)
	}
	e.log.Info(evt.Type, attrs...)
}

// MetricsEmitter counts events by type and chain.
type MetricsEmitter struct {
	events *prometheus.CounterVec
}

func NewMetricsEmitter(reg prometheus.Registerer) *MetricsEmitter {
	factory := promauto.With(reg)
	return &MetricsEmitter{
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "walletcore",
			Subsystem: "multisig",
			Name:      "events_total",
			Help:      "Engine state transition events by type and chain.",
		}, []string{"type", "chain"}),
	}
}

func (e *MetricsEmitter) Emit(evt multisig.Event) {
	e.events.WithLabelValues(evt.Type, evt.Attributes["chainCode"]).Inc()
}

// Listener receives events on a channel, for UI consumers. Events are
// dropped when the buffer is full rather than blocking the engine.
type Listener struct {
	ch chan multisig.Event
}

func NewListener(buffer int) *Listener {
	if buffer <= 0 {
		buffer = 64
	}
	return &Listener{ch: make(chan multisig.Event, buffer)}
}

func (l *Listener) Emit(evt multisig.Event) {
	select {
	case l.ch <- evt:
	default:
	}
}

// Events returns the receive side of the listener.
func (l *Listener) Events() <-chan multisig.Event { return l.ch }

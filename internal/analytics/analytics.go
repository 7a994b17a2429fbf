// Package analytics records provider usage events. Recording is strictly
// best-effort: a sink failure never affects the request that produced the
// event.
package analytics

import (
	"log/slog"
	"time"

	"github.com/jackzampolin/tome/internal/metrics"
)

// Event captures one provider operation.
type Event struct {
	Provider    string `json:"provider"`
	Operation   string `json:"operation"`
	LatencyMs   int64  `json:"latencyMs"`
	ResultCount int    `json:"resultCount"`
	ErrorKind   string `json:"errorKind,omitempty"`
}

// Sink accepts usage events.
type Sink interface {
	Record(ev Event)
}

// Recorder forwards events to prometheus counters and debug logs.
type Recorder struct {
	providers *metrics.ProviderMetrics
	logger    *slog.Logger
}

// NewRecorder creates a Recorder. Either argument may be nil.
func NewRecorder(pm *metrics.ProviderMetrics, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{providers: pm, logger: logger}
}

// Record implements Sink.
func (r *Recorder) Record(ev Event) {
	outcome := "success"
	if ev.ErrorKind != "" {
		outcome = ev.ErrorKind
	}
	if r.providers != nil {
		r.providers.Observe(ev.Provider, outcome, time.Duration(ev.LatencyMs)*time.Millisecond)
	}
	r.logger.Debug("provider event",
		"provider", ev.Provider,
		"operation", ev.Operation,
		"latencyMs", ev.LatencyMs,
		"resultCount", ev.ResultCount,
		"errorKind", ev.ErrorKind,
	)
}

// Nop discards all events.
type Nop struct{}

func (Nop) Record(Event) {}

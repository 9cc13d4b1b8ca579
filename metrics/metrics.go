// Package metrics records verification, payment and HTTP counters and
// latencies.
package metrics

import "time"

// Recorder is implemented by metric sinks. Labels are optional; the
// Prometheus recorder reads "network" and "outcome".
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

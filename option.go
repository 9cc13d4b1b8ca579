package basedlink

import (
	"time"

	"github.com/basedlink/basedlink-pay/clients"
	"github.com/basedlink/basedlink-pay/logger"
	"github.com/basedlink/basedlink-pay/metrics"
)

// Option configures a Basedlink.
type Option func(*Basedlink)

// WithLogger sets the logger handed to the verification service.
func WithLogger(l logger.Logger) Option {
	return func(b *Basedlink) {
		b.logger = l
	}
}

// WithMetrics sets the recorder for verification outcomes and latency.
func WithMetrics(r metrics.Recorder) Option {
	return func(b *Basedlink) {
		b.metrics = r
	}
}

// WithTimeout bounds one whole verification, all RPC calls included.
func WithTimeout(t time.Duration) Option {
	return func(b *Basedlink) {
		b.timeout = t
	}
}

// WithBreaker puts a circuit breaker in front of the chain client. Zero
// fields take the breaker defaults.
func WithBreaker(s clients.BreakerSettings) Option {
	return func(b *Basedlink) {
		b.breakerSettings = &s
	}
}

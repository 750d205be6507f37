// vaultkeeper - enterprise backup and disaster-recovery engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultkeeper/engine

package storage

import (
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// CircuitBreakerConfig configures the per-backend breaker wrapping every
// remote call. Local storage does not use one — only the two
// S3-compatible backends can see sustained network failure.
type CircuitBreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// DefaultCircuitBreakerConfig trips after 5 consecutive failures and
// re-probes after 30s, matching the teacher's event-processor breaker
// defaults (internal/eventprocessor/circuitbreaker.go).
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

// newCircuitBreaker builds a gobreaker instance around struct{} results —
// every wrapped call here is already synchronous error-or-nil.
func newCircuitBreaker(cfg CircuitBreakerConfig) *gobreaker.CircuitBreaker[struct{}] {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
	}
	return gobreaker.NewCircuitBreaker[struct{}](settings)
}

// execute runs fn through the breaker and returns fn's error; while the
// breaker is tripped it returns gobreaker's own open-state error without
// calling fn.
func execute(cb *gobreaker.CircuitBreaker[struct{}], fn func() error) error {
	_, err := cb.Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// newLimiter builds a token-bucket limiter bounding request rate to one
// remote backend, mirroring the teacher's use of golang.org/x/time/rate
// for outbound request throttling.
func newLimiter(ratePerSecond float64, burst int) *rate.Limiter {
	if ratePerSecond <= 0 {
		ratePerSecond = 20
	}
	if burst <= 0 {
		burst = int(ratePerSecond)
	}
	return rate.NewLimiter(rate.Limit(ratePerSecond), burst)
}

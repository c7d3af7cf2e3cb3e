package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerExecutor wraps an LLMExecutor with a circuit breaker so a failing
// provider trips open and fails fast instead of hanging every worker slot
// on per-invocation timeouts (generalizes spec §5's per-invocation timeout
// requirement; grounded on jordigilh-kubernaut's sony/gobreaker usage).
type BreakerExecutor struct {
	inner   LLMExecutor
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerExecutor wraps inner with a breaker named name, opening after
// the number of consecutive failures reaches the given threshold.
func NewBreakerExecutor(name string, inner LLMExecutor, consecutiveFailures uint32) *BreakerExecutor {
	settings := gobreaker.Settings{
		Name:    name,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= consecutiveFailures
		},
	}
	return &BreakerExecutor{inner: inner, breaker: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs the wrapped executor through the breaker. A breaker trip
// surfaces as a normal Result{OK:false}, since the Agent Execution Worker
// always translates executor-layer failures into a terminal failed status
// rather than propagating an error (spec §7 "Background workers never
// propagate errors upward").
func (b *BreakerExecutor) Execute(ctx context.Context, req Request) (Result, error) {
	out, err := b.breaker.Execute(func() (any, error) {
		res, err := b.inner.Execute(ctx, req)
		if err != nil {
			return Result{}, err
		}
		if !res.OK {
			return res, fmt.Errorf("executor reported failure: %s", res.Error)
		}
		return res, nil
	})
	if err != nil {
		if res, ok := out.(Result); ok && res.Error != "" {
			return res, nil
		}
		return Result{OK: false, Error: err.Error()}, nil
	}
	return out.(Result), nil
}

package pricing

import (
	"context"

	"github.com/WessleyAI/wessley-valuation/pkg/fn"
	"github.com/WessleyAI/wessley-valuation/pkg/resilience"
)

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, tr Trace) error

func (f ObserverFunc) ObserveEstimate(ctx context.Context, tr Trace) error { return f(ctx, tr) }

// Guard runs o behind b, so a failing backend stops being called until the
// breaker lets a trial call through.
func Guard(o Observer, b *resilience.Breaker) Observer {
	stage := resilience.BreakerStage(b, func(ctx context.Context, tr Trace) fn.Result[struct{}] {
		return fn.FromPair(struct{}{}, o.ObserveEstimate(ctx, tr))
	})
	return ObserverFunc(func(ctx context.Context, tr Trace) error {
		_, err := stage(ctx, tr).Unwrap()
		return err
	})
}

package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/WessleyAI/wessley-valuation/engine/artifact"
	"github.com/WessleyAI/wessley-valuation/engine/domain"
	"github.com/WessleyAI/wessley-valuation/pkg/fn"
	"github.com/WessleyAI/wessley-valuation/pkg/metrics"
	"github.com/google/uuid"
)

// BundleSource hands out the artifact snapshot a request runs against.
// *artifact.Cache implements it.
type BundleSource interface {
	Get(ctx context.Context) (*artifact.Bundle, error)
}

// Observer is told about every successful estimate. Observers run after
// the response has been computed and their errors never fail a request.
type Observer interface {
	ObserveEstimate(ctx context.Context, tr Trace) error
}

// DefaultObserverTimeout bounds one observer call when no timeout is set.
const DefaultObserverTimeout = 5 * time.Second

// Estimator is the inference entry point.
type Estimator struct {
	source          BundleSource
	logger          *slog.Logger
	met             *estimatorMetrics
	observers       []Observer
	observerTimeout time.Duration
	now             func() time.Time

	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Estimator) { e.logger = l }
}

// WithMetrics registers the pipeline metrics on reg.
func WithMetrics(reg *metrics.Registry) Option {
	return func(e *Estimator) { e.met = newEstimatorMetrics(reg) }
}

// WithObserver adds an observer.
func WithObserver(o Observer) Option {
	return func(e *Estimator) { e.observers = append(e.observers, o) }
}

// WithObserverTimeout bounds each observer call. Zero or less keeps
// DefaultObserverTimeout.
func WithObserverTimeout(d time.Duration) Option {
	return func(e *Estimator) {
		if d > 0 {
			e.observerTimeout = d
		}
	}
}

// NewEstimator creates an Estimator reading artifacts from source.
func NewEstimator(source BundleSource, opts ...Option) *Estimator {
	e := &Estimator{
		source:          source,
		logger:          slog.Default(),
		observerTimeout: DefaultObserverTimeout,
		now:             time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	if e.met == nil {
		e.met = newEstimatorMetrics(metrics.New())
	}
	return e
}

// EstimatePrice runs the full pipeline for r.
func (e *Estimator) EstimatePrice(ctx context.Context, r domain.Record) (Estimate, error) {
	tr, err := e.Evaluate(ctx, r)
	if err != nil {
		return Estimate{}, err
	}
	return tr.Estimate, nil
}

// Evaluate runs the pipeline and returns every intermediate product. The
// artifact snapshot is captured once, so a concurrent reload does not affect
// this run.
func (e *Estimator) Evaluate(ctx context.Context, r domain.Record) (Trace, error) {
	tr, err := e.run(ctx, r)
	if err != nil {
		return Trace{}, err
	}
	e.notify(ctx, tr)
	return tr, nil
}

// Inspect is Evaluate without notifying observers, for diagnostics and
// lookups that are not served estimates.
func (e *Estimator) Inspect(ctx context.Context, r domain.Record) (Trace, error) {
	return e.run(ctx, r)
}

func (e *Estimator) run(ctx context.Context, r domain.Record) (Trace, error) {
	start := e.now()
	b, err := e.source.Get(ctx)
	if err != nil {
		e.fail(err)
		return Trace{}, err
	}

	tr := Trace{
		ID:         uuid.NewString(),
		Record:     r,
		Generation: b.Generation.ID,
		At:         start,
	}
	est, err := e.pipeline(b, &tr)(ctx, r).Unwrap()
	if err != nil {
		e.fail(err)
		return Trace{}, err
	}
	est.Generation = b.Generation.ID
	tr.Estimate = est

	e.met.total.Inc()
	if est.WasClamped {
		e.met.clamped.Inc()
	}
	e.met.duration.Since(start)
	e.logger.Debug("estimate", "id", tr.ID, "brand", r.Brand, "price", est.Price, "clamped", est.WasClamped, "generation", tr.Generation)
	return tr, nil
}

// pipeline wires encode → align → scale → predict against one bundle,
// recording each intermediate product on tr.
func (e *Estimator) pipeline(b *artifact.Bundle, tr *Trace) fn.Stage[domain.Record, Estimate] {
	encode := instrument(e.met, "encode", fn.MapStage(Encode))
	align := instrument(e.met, "align", fn.TryStage(func(sp Sparse) (Vector, error) {
		return Align(sp, b.Schema)
	}))
	scale := instrument(e.met, "scale", fn.TryStage(func(v Vector) (Vector, error) {
		return Scale(v, b.Scaler)
	}))
	predict := instrument(e.met, "predict", fn.TryStage(func(v Vector) (Estimate, error) {
		return Predict(v, b.Model)
	}))

	encoded := fn.Then(encode, keep(&tr.Sparse))
	aligned := fn.Then(encoded, fn.Then(align, keep(&tr.Aligned)))
	scaled := fn.Then(aligned, fn.Then(scale, keep(&tr.Scaled)))
	return fn.Then(scaled, predict)
}

// BatchItem is one entry of an EstimateBatch result.
type BatchItem struct {
	Trace Trace
	Err   error
}

// EstimateBatch evaluates records with at most workers in flight and
// returns results in input order. One failing record does not stop the rest.
func (e *Estimator) EstimateBatch(ctx context.Context, records []domain.Record, workers int) []BatchItem {
	return fn.ParMap(records, workers, func(r domain.Record) BatchItem {
		tr, err := e.Evaluate(ctx, r)
		return BatchItem{Trace: tr, Err: err}
	})
}

// Wait stops notifying observers of new estimates and blocks until the
// notifications already in flight finish or ctx is done. Estimates keep
// being served after Wait.
func (e *Estimator) Wait(ctx context.Context) error {
	e.mu.Lock()
	e.closing = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pricing: observers still running: %w", ctx.Err())
	}
}

func (e *Estimator) notify(ctx context.Context, tr Trace) {
	if len(e.observers) == 0 {
		return
	}
	e.mu.Lock()
	if e.closing {
		e.mu.Unlock()
		e.logger.Debug("observers stopped, estimate not recorded", "id", tr.ID)
		return
	}
	e.wg.Add(1)
	e.mu.Unlock()

	base := context.WithoutCancel(ctx)
	go func() {
		defer e.wg.Done()
		for _, o := range e.observers {
			if err := e.observe(base, o, tr); err != nil {
				e.met.observerErrors.Inc()
				e.logger.Warn("estimate observer failed", "id", tr.ID, "err", err)
			}
		}
	}()
}

func (e *Estimator) observe(base context.Context, o Observer, tr Trace) error {
	ctx, cancel := context.WithTimeout(base, e.observerTimeout)
	defer cancel()
	return o.ObserveEstimate(ctx, tr)
}

func (e *Estimator) fail(err error) {
	kind := errorKind(err)
	e.met.errors(kind).Inc()
	e.logger.Error("estimate failed", "kind", kind, "err", err)
}

func keep[T any](dst *T) fn.Stage[T, T] {
	return fn.TapStage(func(_ context.Context, v T) { *dst = v })
}

func instrument[In, Out any](m *estimatorMetrics, name string, st fn.Stage[In, Out]) fn.Stage[In, Out] {
	traced := fn.TracedStage("pricing."+name, st)
	hist := m.stage(name)
	return func(ctx context.Context, in In) fn.Result[Out] {
		start := time.Now()
		defer hist.Since(start)
		return traced(ctx, in)
	}
}

type estimatorMetrics struct {
	total          *metrics.Counter
	clamped        *metrics.Counter
	observerErrors *metrics.Counter
	duration       *metrics.Histogram
	errors         func(kind string) *metrics.Counter
	stage          func(name string) *metrics.Histogram
}

func newEstimatorMetrics(reg *metrics.Registry) *estimatorMetrics {
	return &estimatorMetrics{
		total:          reg.Counter("wessley_pricing_estimates_total", "Successful estimates"),
		clamped:        reg.Counter("wessley_pricing_clamped_total", "Estimates clamped at zero"),
		observerErrors: reg.Counter("wessley_pricing_observer_errors_total", "Failed estimate observer calls"),
		duration:       reg.Histogram("wessley_pricing_estimate_duration_seconds", "End-to-end estimate time", nil),
		errors: func(kind string) *metrics.Counter {
			return reg.Counter(metrics.WithLabels("wessley_pricing_errors_total", "kind", kind), "Failed estimates by error kind")
		},
		stage: func(name string) *metrics.Histogram {
			return reg.Histogram(metrics.WithLabels("wessley_pricing_stage_duration_seconds", "stage", name), "Per-stage duration", nil)
		},
	}
}

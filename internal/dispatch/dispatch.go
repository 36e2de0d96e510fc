// Package dispatch fans one message out to all enabled signal sources in
// parallel under a single shared deadline and collects partial results.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vigil-ai/sentinel/internal/observability"
	"github.com/vigil-ai/sentinel/signal"
)

// ErrNoUsableSignals is returned when every source failed or timed out.
var ErrNoUsableSignals = errors.New("no usable signals: all sources failed")

// Dispatcher invokes sources concurrently with a per-request timeout. It
// never retries; partial completion degrades the request rather than
// failing it.
type Dispatcher struct {
	timeout time.Duration
}

// New creates a Dispatcher with the given per-request source deadline.
func New(timeout time.Duration) *Dispatcher {
	return &Dispatcher{timeout: timeout}
}

// Dispatch runs every source against text and returns the collected set in
// source order. A source that misses the shared deadline is recorded as
// timeout; any other failure is recorded as error with a diagnostic. The
// set is returned alongside ErrNoUsableSignals when nothing succeeded.
func (d *Dispatcher) Dispatch(ctx context.Context, text string, srcs []signal.Source) (signal.Set, error) {
	ctx, span := observability.StartSpan(ctx, "engine.dispatch",
		trace.WithAttributes(
			attribute.Int("dispatch.source_count", len(srcs)),
			attribute.Int64("dispatch.timeout_ms", d.timeout.Milliseconds()),
		),
	)
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	type outcome struct {
		index int
		sig   signal.CrisisSignal
	}

	results := make(chan outcome, len(srcs))
	for i, src := range srcs {
		go func(i int, src signal.Source) {
			start := time.Now()
			sig, err := src.Analyze(callCtx, text)
			if err != nil {
				sig = failedSignal(src.Name(), err, time.Since(start), callCtx)
			}
			results <- outcome{index: i, sig: sig}
		}(i, src)
	}

	// Every goroutine reports exactly once: a source that ignores its
	// context still unblocks here once the deadline propagates through the
	// backend call, and the buffered channel means none of them leak.
	set := signal.Set{Signals: make([]signal.CrisisSignal, len(srcs))}
	collected := 0
	for collected < len(srcs) {
		select {
		case out := <-results:
			set.Signals[out.index] = out.sig
			collected++
		case <-callCtx.Done():
			// Deadline or caller cancellation: mark the stragglers and stop
			// waiting. A late result that arrives after this point is
			// discarded with the channel.
			for i, src := range srcs {
				if set.Signals[i].Source == "" {
					set.Signals[i] = failedSignal(src.Name(), callCtx.Err(), d.timeout, callCtx)
				}
			}
			collected = len(srcs)
		}
	}

	ok := len(set.OK())
	span.SetAttributes(
		attribute.Int("dispatch.ok_count", ok),
		attribute.StringSlice("dispatch.failed", set.Failed()),
	)

	if ok == 0 {
		err := fmt.Errorf("%w (%d sources attempted)", ErrNoUsableSignals, len(srcs))
		span.RecordError(err)
		return set, err
	}
	return set, nil
}

// failedSignal converts a source failure into its status record. Deadline
// expiry maps to timeout, everything else to error.
func failedSignal(name string, err error, latency time.Duration, ctx context.Context) signal.CrisisSignal {
	status := signal.StatusError
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		status = signal.StatusTimeout
	}
	return signal.CrisisSignal{
		Source:  name,
		Latency: latency,
		Status:  status,
		Err:     err.Error(),
	}
}

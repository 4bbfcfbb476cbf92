package embed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fasalrakshak/fasalrakshak/internal/config"
	"github.com/fasalrakshak/fasalrakshak/internal/core"
	"github.com/fasalrakshak/fasalrakshak/internal/logger"
)

// Resilient wraps an embedder with a per-call timeout, bounded retries with
// exponential backoff, and an output dimension check.
type Resilient struct {
	inner      core.Embedder
	timeout    time.Duration
	maxRetries int
	// initialInterval is the first retry delay; tests shorten it.
	initialInterval time.Duration
}

// NewResilient decorates inner. A zero timeout disables the deadline and
// config.NoRetries makes a single attempt.
func NewResilient(inner core.Embedder, timeout time.Duration, maxRetries int) *Resilient {
	return &Resilient{
		inner:           inner,
		timeout:         timeout,
		maxRetries:      maxRetries,
		initialInterval: 250 * time.Millisecond,
	}
}

func (r *Resilient) Dimension() int { return r.inner.Dimension() }
func (r *Resilient) Model() string  { return r.inner.Model() }

// Unwrap returns the decorated embedder.
func (r *Resilient) Unwrap() core.Embedder { return r.inner }

// Embed calls the inner embedder. Timeouts surface as ErrEmbeddingTimeout
// and a wrong output length as ErrDimensionMismatch. Missing credentials,
// dimension mismatches and caller cancellation are not retried.
func (r *Resilient) Embed(ctx context.Context, text string) ([]float32, error) {
	op := func() ([]float32, error) {
		vec, err := r.embedOnce(ctx, text)
		if err == nil {
			return vec, nil
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		if errors.Is(err, core.ErrMissingCredential) || errors.Is(err, core.ErrDimensionMismatch) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(backoff.WithInitialInterval(r.initialInterval)),
			config.Retries(r.maxRetries),
		),
		ctx,
	)

	attempt := 0
	return backoff.RetryNotifyWithData(op, policy, func(err error, next time.Duration) {
		attempt++
		logger.RAGWarn("Embedding attempt %d with %s failed, retrying in %s: %v", attempt, r.inner.Model(), next, err)
	})
}

func (r *Resilient) embedOnce(ctx context.Context, text string) ([]float32, error) {
	callCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	type result struct {
		vec []float32
		err error
	}
	// Local ONNX models ignore ctx, so the deadline is enforced here too.
	done := make(chan result, 1)
	go func() {
		vec, err := r.inner.Embed(callCtx, text)
		done <- result{vec, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			if errors.Is(res.err, context.DeadlineExceeded) && ctx.Err() == nil {
				return nil, fmt.Errorf("%w: %s after %s", core.ErrEmbeddingTimeout, r.inner.Model(), r.timeout)
			}
			return nil, res.err
		}
		if len(res.vec) != r.inner.Dimension() {
			return nil, fmt.Errorf("%w: %s returned %d values, expected %d",
				core.ErrDimensionMismatch, r.inner.Model(), len(res.vec), r.inner.Dimension())
		}
		return res.vec, nil
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s after %s", core.ErrEmbeddingTimeout, r.inner.Model(), r.timeout)
	}
}

package origin

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"goflare.io/tierbench/internal/config"
	"goflare.io/tierbench/internal/models"
	"goflare.io/tierbench/internal/retrier"
)

// Resilient guards a Fetcher with a per-call timeout, retries, a circuit
// breaker and coalescing of identical concurrent fetches.
type Resilient struct {
	next    Fetcher
	timeout time.Duration
	retrier *retrier.Retrier
	breaker *gobreaker.CircuitBreaker
	sf      *singleflight.Group
	logger  *zap.Logger
}

// Wrap returns next guarded by whatever cfg enables, or next itself when
// nothing is enabled.
func Wrap(next Fetcher, cfg *config.Config) (Fetcher, error) {
	res := cfg.ResilienceConfig
	if !res.EnableRetry && !res.EnableCircuitBreaker && !cfg.CacheBehaviorConfig.CoalesceOrigin && cfg.Origin.Timeout <= 0 {
		return next, nil
	}

	r, err := retrier.FromConfig(res, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create retrier: %w", err)
	}

	rf := &Resilient{
		next:    next,
		timeout: cfg.Origin.Timeout,
		retrier: r,
		logger:  cfg.Logger,
	}
	if res.EnableCircuitBreaker {
		settings := res.CircuitBreaker
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			rf.logger.Warn("Origin circuit breaker state changed",
				zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		}
		rf.breaker = gobreaker.NewCircuitBreaker(settings)
	}
	if cfg.CacheBehaviorConfig.CoalesceOrigin {
		rf.sf = &singleflight.Group{}
	}
	return rf, nil
}

// Fetch implements Fetcher.
func (r *Resilient) Fetch(ctx context.Context, instrument string, n int) ([]models.Bar, error) {
	if r.sf == nil {
		return r.fetch(ctx, instrument, n)
	}

	v, err, shared := r.sf.Do(instrument+"#"+strconv.Itoa(n), func() (any, error) {
		return r.fetch(ctx, instrument, n)
	})
	if err != nil {
		return nil, err
	}
	bars := v.([]models.Bar)
	if shared {
		// Callers must not share a backing array.
		bars = append([]models.Bar(nil), bars...)
	}
	return bars, nil
}

func (r *Resilient) fetch(ctx context.Context, instrument string, n int) ([]models.Bar, error) {
	return retrier.Do(ctx, r.retrier, func() ([]models.Bar, error) {
		callCtx := ctx
		if r.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}

		if r.breaker == nil {
			return r.next.Fetch(callCtx, instrument, n)
		}

		v, err := r.breaker.Execute(func() (any, error) {
			return r.next.Fetch(callCtx, instrument, n)
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", models.ErrOriginUnavailable, err)
		}
		return v.([]models.Bar), nil
	})
}

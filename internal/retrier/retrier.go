package retrier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"goflare.io/tierbench/internal/config"
)

const (
	minMaxAttempts = 1
	minBaseDelay   = time.Millisecond
	minFactor      = 1.0
	maxJitter      = 1.0
)

// Backoff strategies.
const (
	ExponentialBackoff BackoffStrategy = iota
	LinearBackoff
	FibonacciBackoff
)

var (
	ErrInvalidMaxAttempts = errors.New("max attempts must be at least 1")
	ErrInvalidBaseDelay   = errors.New("base delay must be at least 1ms")
	ErrInvalidFactor      = errors.New("factor must be at least 1.0")
	ErrInvalidJitter      = errors.New("jitter must be between 0 and 1")
)

// BackoffStrategy selects how the wait between attempts grows.
type BackoffStrategy int

// Retrier runs a function until it succeeds, returns a permanent error,
// runs out of attempts or the context ends.
type Retrier struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	factor      float64
	jitter      float64
	strategy    BackoffStrategy

	mu             sync.Mutex
	rng            *rand.Rand
	fibonacciCache []time.Duration

	// TempErrorFunc overrides IsTemporary when set.
	TempErrorFunc func(error) bool
}

// NewRetrier 建立重試器
func NewRetrier(maxAttempts int, baseDelay, maxDelay time.Duration, factor, jitter float64, strategy BackoffStrategy, tempErrorFunc func(error) bool) (*Retrier, error) {
	if maxAttempts < minMaxAttempts {
		return nil, ErrInvalidMaxAttempts
	}
	if baseDelay < minBaseDelay {
		return nil, ErrInvalidBaseDelay
	}
	if factor < minFactor {
		return nil, ErrInvalidFactor
	}
	if jitter < 0 || jitter > maxJitter {
		return nil, ErrInvalidJitter
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}

	return &Retrier{
		maxAttempts:    maxAttempts,
		baseDelay:      baseDelay,
		maxDelay:       maxDelay,
		factor:         factor,
		jitter:         jitter,
		strategy:       strategy,
		rng:            rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
		fibonacciCache: []time.Duration{baseDelay, baseDelay},
		TempErrorFunc:  tempErrorFunc,
	}, nil
}

// ParseBackoff maps a configured strategy name to its BackoffStrategy.
func ParseBackoff(name string) (BackoffStrategy, error) {
	switch name {
	case config.BackoffExponential, "":
		return ExponentialBackoff, nil
	case config.BackoffLinear:
		return LinearBackoff, nil
	case config.BackoffFibonacci:
		return FibonacciBackoff, nil
	default:
		return 0, fmt.Errorf("unknown backoff strategy %q", name)
	}
}

// FromConfig builds the retrier described by the resilience config.
// It returns nil when retries are disabled.
func FromConfig(cfg config.ResilienceConfig, tempErrorFunc func(error) bool) (*Retrier, error) {
	if !cfg.EnableRetry {
		return nil, nil
	}
	strategy, err := ParseBackoff(cfg.Backoff)
	if err != nil {
		return nil, err
	}
	factor := cfg.Multiplier
	if factor < minFactor {
		factor = minFactor
	}
	return NewRetrier(cfg.MaxRetries, cfg.InitialInterval, cfg.MaxInterval, factor, cfg.RandomizationFactor, strategy, tempErrorFunc)
}

// Run executes fn with retries. A nil Retrier runs fn exactly once.
func (r *Retrier) Run(ctx context.Context, fn func() error) error {
	if r == nil {
		return fn()
	}

	var err error
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		if !r.isTemporary(err) {
			return err
		}

		if attempt == r.maxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.calculateDelay(attempt)):
		}
	}

	return fmt.Errorf("max retry attempts reached: %w", err)
}

// Do is Run for functions that produce a value.
func Do[T any](ctx context.Context, r *Retrier, fn func() (T, error)) (T, error) {
	var out T
	err := r.Run(ctx, func() error {
		v, err := fn()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (r *Retrier) isTemporary(err error) bool {
	if r.TempErrorFunc != nil {
		return r.TempErrorFunc(err)
	}
	return IsTemporary(err)
}

func (r *Retrier) calculateDelay(attempt int) time.Duration {
	var delay float64

	switch r.strategy {
	case LinearBackoff:
		delay = float64(r.baseDelay) * float64(attempt+1)
	case FibonacciBackoff:
		delay = float64(r.fibonacciDelay(attempt))
	default:
		delay = float64(r.baseDelay) * math.Pow(r.factor, float64(attempt))
	}

	if delay > float64(r.maxDelay) {
		delay = float64(r.maxDelay)
	}

	r.mu.Lock()
	jitterAmount := r.rng.Float64() * r.jitter * delay
	r.mu.Unlock()

	return time.Duration(delay + jitterAmount)
}

func (r *Retrier) fibonacciDelay(attempt int) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	for len(r.fibonacciCache) <= attempt {
		n := len(r.fibonacciCache)
		next := r.fibonacciCache[n-1] + r.fibonacciCache[n-2]
		if next > r.maxDelay {
			next = r.maxDelay
		}
		r.fibonacciCache = append(r.fibonacciCache, next)
	}
	return r.fibonacciCache[attempt]
}

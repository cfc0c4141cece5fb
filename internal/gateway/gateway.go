package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/semaphore"
)

// Options configures a Gateway. Zero values fall back to defaults.
type Options struct {
	// RateLimitCalls and RateLimitWindow bound outbound provider calls.
	RateLimitCalls  int
	RateLimitWindow time.Duration

	// CircuitThreshold and CircuitCooldown configure fail-fast behavior.
	CircuitThreshold int
	CircuitCooldown  time.Duration

	// MaxAttempts is the total number of tries per call, including the
	// first.
	MaxAttempts int

	// RetryBaseDelay is the first backoff delay, doubled per attempt.
	RetryBaseDelay time.Duration

	// MaxConcurrent caps in-flight provider calls.
	MaxConcurrent int

	// CallTimeout bounds each individual provider call.
	CallTimeout time.Duration
}

func (o *Options) defaults() {
	if o.RateLimitCalls <= 0 {
		o.RateLimitCalls = 100
	}
	if o.RateLimitWindow <= 0 {
		o.RateLimitWindow = time.Minute
	}
	if o.CircuitThreshold <= 0 {
		o.CircuitThreshold = 5
	}
	if o.CircuitCooldown <= 0 {
		o.CircuitCooldown = 60 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = time.Second
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 4
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 15 * time.Second
	}
}

// Status is a snapshot of gateway health for diagnostics endpoints.
type Status struct {
	CircuitState    string `json:"circuit_state"`
	CircuitFailures int    `json:"circuit_failures"`
	WindowPending   int    `json:"window_pending"`
	Model           string `json:"model"`
}

// Gateway wraps a provider with rate limiting, circuit breaking, retries,
// and a concurrency cap. All embedding traffic flows through it.
type Gateway struct {
	provider EmbeddingProvider
	limiter  *SlidingWindow
	breaker  *CircuitBreaker
	sem      *semaphore.Weighted
	opts     Options
}

// New wraps provider with the configured protections.
func New(provider EmbeddingProvider, opts Options) *Gateway {
	opts.defaults()
	return &Gateway{
		provider: provider,
		limiter:  NewSlidingWindow(opts.RateLimitCalls, opts.RateLimitWindow),
		breaker:  NewCircuitBreaker(opts.CircuitThreshold, opts.CircuitCooldown),
		sem:      semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		opts:     opts,
	}
}

// EmbedBatch embeds texts through the full protection stack. The result has
// one vector per input, in input order.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var result [][]float32
	err := g.call(ctx, func(callCtx context.Context) error {
		var err error
		result, err = g.provider.EmbedBatch(callCtx, texts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// EmbedOne embeds a single text.
func (g *Gateway) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return vecs[0], nil
}

// Complete proxies a chat completion through the protection stack. It fails
// when the underlying provider has no chat capability.
func (g *Gateway) Complete(ctx context.Context, system, prompt string) (string, error) {
	chat, ok := g.provider.(ChatProvider)
	if !ok {
		return "", fmt.Errorf("provider %s does not support completions", g.provider.ModelName())
	}

	var result string
	err := g.call(ctx, func(callCtx context.Context) error {
		var err error
		result, err = chat.Complete(callCtx, system, prompt)
		return err
	})
	return result, err
}

// Dimensions returns the provider's embedding width.
func (g *Gateway) Dimensions() int { return g.provider.Dimensions() }

// ModelName returns the provider's embedding model identifier.
func (g *Gateway) ModelName() string { return g.provider.ModelName() }

// Status returns a health snapshot.
func (g *Gateway) Status() Status {
	return Status{
		CircuitState:    g.breaker.State().String(),
		CircuitFailures: g.breaker.Failures(),
		WindowPending:   g.limiter.Pending(),
		Model:           g.provider.ModelName(),
	}
}

// call runs fn with the circuit breaker, rate limiter, concurrency cap, and
// retry policy applied. Retries only cover transient failures; a permanent
// error aborts after its first occurrence.
func (g *Gateway) call(ctx context.Context, fn func(context.Context) error) error {
	delay := g.opts.RetryBaseDelay
	var lastErr error

	for attempt := 1; attempt <= g.opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !g.breaker.Allow() {
			return ErrCircuitOpen
		}

		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}

		err := g.attempt(ctx, fn)
		if err == nil {
			g.breaker.RecordSuccess()
			return nil
		}

		g.breaker.RecordFailure()
		lastErr = err

		// The first attempt always gets one retry; after that only
		// transient failures continue.
		if attempt > 1 && !IsTransient(err) {
			return err
		}
		if attempt == g.opts.MaxAttempts {
			break
		}

		log.Warn("Provider call failed, retrying",
			"attempt", attempt, "max", g.opts.MaxAttempts, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}

	return fmt.Errorf("provider call failed after %d attempts: %w", g.opts.MaxAttempts, lastErr)
}

// attempt acquires a concurrency slot and runs fn under the call timeout.
func (g *Gateway) attempt(ctx context.Context, fn func(context.Context) error) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer g.sem.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, g.opts.CallTimeout)
	defer cancel()

	return fn(callCtx)
}

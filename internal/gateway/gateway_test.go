package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider fails a configurable number of times before succeeding.
type fakeProvider struct {
	calls    atomic.Int32
	failures int
	err      error
	dim      int
}

func (f *fakeProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	n := f.calls.Add(1)
	if int(n) <= f.failures {
		return nil, f.err
	}
	dim := f.dim
	if dim == 0 {
		dim = 4
	}
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, dim)
		vec[0] = float32(i + 1)
		vecs[i] = vec
	}
	return vecs, nil
}

func (f *fakeProvider) Dimensions() int   { return f.dim }
func (f *fakeProvider) ModelName() string { return "fake-model" }

// fastOpts keeps retries quick in tests.
func fastOpts() Options {
	return Options{
		RateLimitCalls:  1000,
		RateLimitWindow: time.Minute,
		MaxAttempts:     3,
		RetryBaseDelay:  time.Millisecond,
		CallTimeout:     time.Second,
	}
}

// TestEmbedBatchOrder tests that vectors come back in input order.
func TestEmbedBatchOrder(t *testing.T) {
	g := New(&fakeProvider{dim: 4}, fastOpts())

	vecs, err := g.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, float32(1), vecs[0][0])
	assert.Equal(t, float32(2), vecs[1][0])
	assert.Equal(t, float32(3), vecs[2][0])
}

// TestEmbedBatchEmpty tests that an empty batch makes no provider call.
func TestEmbedBatchEmpty(t *testing.T) {
	p := &fakeProvider{}
	g := New(p, fastOpts())

	vecs, err := g.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
	assert.Equal(t, int32(0), p.calls.Load())
}

// TestRetryTransient tests that transient failures are retried and a later
// success wins.
func TestRetryTransient(t *testing.T) {
	p := &fakeProvider{failures: 2, err: errors.New("connection reset by peer")}
	g := New(p, fastOpts())

	vecs, err := g.EmbedOne(context.Background(), "text")
	require.NoError(t, err)
	assert.Len(t, vecs, 4)
	assert.Equal(t, int32(3), p.calls.Load())
}

// TestRetryExhausted tests that persistent transient failures surface the
// last error after the attempt budget.
func TestRetryExhausted(t *testing.T) {
	p := &fakeProvider{failures: 10, err: errors.New("503 service unavailable")}
	g := New(p, fastOpts())

	_, err := g.EmbedOne(context.Background(), "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, int32(3), p.calls.Load())
}

// TestPermanentRetriedOnce tests that a non-transient error still gets a
// second attempt, then aborts without burning the rest of the budget.
func TestPermanentRetriedOnce(t *testing.T) {
	p := &fakeProvider{failures: 10, err: errors.New("invalid request: model not found")}
	g := New(p, fastOpts())

	_, err := g.EmbedOne(context.Background(), "text")
	require.Error(t, err)
	assert.Equal(t, int32(2), p.calls.Load())
}

// TestPermanentFirstAttemptRecovers tests that a one-off non-transient
// failure is absorbed by the first-attempt retry.
func TestPermanentFirstAttemptRecovers(t *testing.T) {
	p := &fakeProvider{failures: 1, err: errors.New("invalid request: malformed input")}
	g := New(p, fastOpts())

	vecs, err := g.EmbedOne(context.Background(), "text")
	require.NoError(t, err)
	assert.Len(t, vecs, 4)
	assert.Equal(t, int32(2), p.calls.Load())
}

// TestCircuitOpens tests fail-fast once the failure threshold is hit.
func TestCircuitOpens(t *testing.T) {
	p := &fakeProvider{failures: 100, err: errors.New("bad request")}
	opts := fastOpts()
	opts.CircuitThreshold = 2
	opts.CircuitCooldown = time.Hour
	g := New(p, opts)

	for i := 0; i < 2; i++ {
		_, err := g.EmbedOne(context.Background(), "text")
		require.Error(t, err)
	}
	callsBefore := p.calls.Load()

	_, err := g.EmbedOne(context.Background(), "text")
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, callsBefore, p.calls.Load())
}

// TestCircuitRecovers tests the half-open probe closing the circuit again.
func TestCircuitRecovers(t *testing.T) {
	p := &fakeProvider{failures: 2, err: errors.New("connection refused")}
	opts := fastOpts()
	opts.CircuitThreshold = 2
	opts.CircuitCooldown = 20 * time.Millisecond
	opts.MaxAttempts = 1
	g := New(p, opts)

	for i := 0; i < 2; i++ {
		_, err := g.EmbedOne(context.Background(), "text")
		require.Error(t, err)
	}
	require.Equal(t, CircuitOpen, g.breaker.State())

	time.Sleep(30 * time.Millisecond)

	vecs, err := g.EmbedOne(context.Background(), "text")
	require.NoError(t, err)
	assert.Len(t, vecs, 4)
	assert.Equal(t, CircuitClosed, g.breaker.State())
}

// TestCompleteUnsupported tests the chat capability check.
func TestCompleteUnsupported(t *testing.T) {
	g := New(&fakeProvider{}, fastOpts())

	_, err := g.Complete(context.Background(), "system", "prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not support completions")
}

// TestContextCancelled tests that a cancelled context stops the call.
func TestContextCancelled(t *testing.T) {
	g := New(&fakeProvider{}, fastOpts())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.EmbedOne(ctx, "text")
	require.ErrorIs(t, err, context.Canceled)
}

// TestIsTransient tests error classification.
func TestIsTransient(t *testing.T) {
	tests := []struct {
		err       error
		transient bool
	}{
		{nil, false},
		{errors.New("request timeout"), true},
		{errors.New("connection refused"), true},
		{errors.New("rate limit exceeded"), true},
		{errors.New("http 429"), true},
		{errors.New("502 bad gateway"), true},
		{errors.New("service unavailable"), true},
		{errors.New("invalid api key"), false},
		{errors.New("model not found"), false},
		{context.Canceled, false},
		{context.DeadlineExceeded, true},
		{ErrCircuitOpen, false},
	}

	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = tt.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.transient, IsTransient(tt.err))
		})
	}
}

// TestSlidingWindowAllow tests capacity accounting and the retry hint.
func TestSlidingWindowAllow(t *testing.T) {
	sw := NewSlidingWindow(2, time.Minute)

	ok, _ := sw.Allow()
	assert.True(t, ok)
	ok, _ = sw.Allow()
	assert.True(t, ok)

	ok, retryAfter := sw.Allow()
	assert.False(t, ok)
	assert.Greater(t, retryAfter, time.Duration(0))
	assert.Equal(t, 2, sw.Pending())
}

// TestSlidingWindowExpiry tests that old calls fall out of the window.
func TestSlidingWindowExpiry(t *testing.T) {
	sw := NewSlidingWindow(1, 20*time.Millisecond)

	ok, _ := sw.Allow()
	require.True(t, ok)
	ok, _ = sw.Allow()
	require.False(t, ok)

	time.Sleep(30 * time.Millisecond)
	ok, _ = sw.Allow()
	assert.True(t, ok)
}

// TestSlidingWindowWait tests blocking until a slot opens.
func TestSlidingWindowWait(t *testing.T) {
	sw := NewSlidingWindow(1, 20*time.Millisecond)

	require.NoError(t, sw.Wait(context.Background()))

	start := time.Now()
	require.NoError(t, sw.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

// TestSlidingWindowWaitCancel tests that Wait honors cancellation.
func TestSlidingWindowWaitCancel(t *testing.T) {
	sw := NewSlidingWindow(1, time.Hour)
	_, _ = sw.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := sw.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

// TestConcurrencyCap tests that the semaphore bounds in-flight calls.
func TestConcurrencyCap(t *testing.T) {
	var inFlight, peak atomic.Int32
	p := &blockingProvider{
		inFlight: &inFlight,
		peak:     &peak,
		hold:     10 * time.Millisecond,
	}
	opts := fastOpts()
	opts.MaxConcurrent = 2
	g := New(p, opts)

	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			_, err := g.EmbedOne(context.Background(), "text")
			done <- err
		}()
	}
	for i := 0; i < 8; i++ {
		require.NoError(t, <-done)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

// blockingProvider tracks concurrent EmbedBatch calls.
type blockingProvider struct {
	inFlight *atomic.Int32
	peak     *atomic.Int32
	hold     time.Duration
}

func (b *blockingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	n := b.inFlight.Add(1)
	defer b.inFlight.Add(-1)
	for {
		p := b.peak.Load()
		if n <= p || b.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(b.hold)
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = make([]float32, 4)
	}
	return vecs, nil
}

func (b *blockingProvider) Dimensions() int   { return 4 }
func (b *blockingProvider) ModelName() string { return "blocking" }

// TestDimensionsConcurrent tests that observed widths can be recorded
// while other goroutines read Dimensions.
func TestDimensionsConcurrent(t *testing.T) {
	p := &OpenAIProvider{embeddingModel: "text-embedding-3-small", dimensions: 1536}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(dim int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				p.setDimensions(dim)
			}
		}(1536 + i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = p.Dimensions()
			}
		}()
	}
	wg.Wait()
	assert.GreaterOrEqual(t, p.Dimensions(), 1536)
}

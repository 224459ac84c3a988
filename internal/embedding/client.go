package embedding

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync/atomic"
	"time"

	"github.com/hyperjump/hondana/internal/config"
	"github.com/hyperjump/hondana/internal/contenthash"
	"github.com/hyperjump/hondana/internal/metrics"
	"github.com/hyperjump/hondana/pkg/utils"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Client wraps a provider with bounded concurrency, rate limiting, a circuit breaker,
// per-attempt timeouts, retries with exponential backoff, and an LRU cache keyed by
// content hash. Every method returns all vectors or none.
type Client struct {
	provider       Embedder
	dimensions     int
	timeout        time.Duration
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	batchSize      int
	maxConcurrency int

	sem     *semaphore.Weighted
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[][]float32]
	cache   *EmbeddingCache
	logger  *zap.Logger

	calls     atomic.Int64
	throttled atomic.Bool
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets a logger for retry and breaker events.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithCache replaces the default cache; a nil cache disables caching.
func WithCache(cache *EmbeddingCache) ClientOption {
	return func(c *Client) { c.cache = cache }
}

// NewClient wraps provider using the retry, concurrency and rate settings in cfg.
func NewClient(provider Embedder, cfg config.EmbeddingConfig, opts ...ClientOption) *Client {
	c := &Client{
		provider:       provider,
		dimensions:     cfg.Dimensions,
		timeout:        cfg.Timeout,
		maxRetries:     cfg.MaxRetries,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		batchSize:      cfg.BatchSize,
		maxConcurrency: cfg.MaxConcurrency,
		cache:          NewEmbeddingCache(cfg.CacheSize),
		logger:         zap.NewNop(),
	}
	if c.dimensions <= 0 {
		c.dimensions = provider.Dimensions()
	}
	if c.batchSize <= 0 {
		c.batchSize = 16
	}
	if c.maxConcurrency <= 0 {
		c.maxConcurrency = 1
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	c.sem = semaphore.NewWeighted(int64(c.maxConcurrency))
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = c.maxConcurrency
	}
	c.limiter = rate.NewLimiter(limit, burst)
	for _, opt := range opts {
		opt(c)
	}
	c.logger = utils.OrNop(c.logger)

	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	c.breaker = gobreaker.NewCircuitBreaker[[][]float32](gobreaker.Settings{
		Name:        "embedding-provider",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			// Rejected input is the caller's problem, not the provider's health.
			return err == nil || !isTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("embedding circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return c
}

// Embed returns the embedding for one text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns one vector per text, in order. Cached and duplicate texts are
// embedded once; the rest are grouped into provider batches that run concurrently.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	positions := make(map[string][]int)
	var pending []string
	var pendingKeys []string
	for i, text := range texts {
		key := contenthash.Of(text)
		if c.cache != nil {
			if v, ok := c.cache.Get(key); ok {
				metrics.EmbeddingCacheHits.Inc()
				out[i] = v
				continue
			}
		}
		if _, seen := positions[key]; !seen {
			pending = append(pending, text)
			pendingKeys = append(pendingKeys, key)
		}
		positions[key] = append(positions[key], i)
	}
	if len(pending) == 0 {
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxConcurrency)
	for start := 0; start < len(pending); start += c.batchSize {
		end := start + c.batchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch, keys := pending[start:end], pendingKeys[start:end]
		g.Go(func() error {
			vecs, err := c.embedWithRetry(gctx, batch)
			if err != nil {
				return err
			}
			for j, key := range keys {
				for _, i := range positions[key] {
					out[i] = vecs[j]
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if c.cache != nil {
		for _, key := range pendingKeys {
			c.cache.Set(key, out[positions[key][0]])
		}
	}
	return out, nil
}

// embedWithRetry calls the provider until it succeeds, fails permanently, or runs out
// of attempts. The returned error always wraps ErrEmbeddingUnavailable.
func (c *Client) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	backoff := c.initialBackoff
	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := jitter(backoff)
			var pe *ProviderError
			if errors.As(lastErr, &pe) && pe.RetryAfter > wait {
				wait = pe.RetryAfter
			}
			if c.maxBackoff > 0 && wait > c.maxBackoff {
				wait = c.maxBackoff
			}
			metrics.EmbeddingRetries.Inc()
			c.logger.Warn("embedding request retrying",
				zap.Int("attempt", attempt+1),
				zap.Int("max_retries", c.maxRetries),
				zap.Int("texts", len(texts)),
				zap.Duration("sleep", wait),
				zap.Error(lastErr),
			)
			if err := sleepCtx(ctx, wait); err != nil {
				lastErr = err
				break
			}
			backoff *= 2
			if c.maxBackoff > 0 && backoff > c.maxBackoff {
				backoff = c.maxBackoff
			}
		}

		attempts++
		vecs, err := c.callOnce(ctx, texts)
		if err == nil {
			if verr := c.validate(texts, vecs); verr != nil {
				lastErr = verr
				break
			}
			return vecs, nil
		}
		lastErr = err
		if ctx.Err() != nil || !isTransient(err) {
			break
		}
	}
	metrics.EmbeddingUnavailable.Inc()
	return nil, fmt.Errorf("%w after %d attempt(s): %w", ErrEmbeddingUnavailable, attempts, lastErr)
}

// callOnce makes a single provider call inside the concurrency bound, the rate limit,
// the breaker and the per-attempt timeout.
func (c *Client) callOnce(ctx context.Context, texts []string) ([][]float32, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	vecs, err := c.breaker.Execute(func() ([][]float32, error) {
		c.calls.Add(1)
		return c.provider.EmbedBatch(callCtx, texts)
	})
	metrics.EmbeddingLatency.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		metrics.EmbeddingCalls.WithLabelValues("success").Inc()
	case isTransient(err):
		metrics.EmbeddingCalls.WithLabelValues("transient_error").Inc()
	default:
		metrics.EmbeddingCalls.WithLabelValues("error").Inc()
	}
	var pe *ProviderError
	if errors.As(err, &pe) && pe.RateLimited() {
		c.throttled.Store(true)
	}
	return vecs, err
}

func (c *Client) validate(texts []string, vecs [][]float32) error {
	if len(vecs) != len(texts) {
		return fmt.Errorf("provider returned %d vectors for %d texts", len(vecs), len(texts))
	}
	for i, v := range vecs {
		if len(v) != c.dimensions {
			return fmt.Errorf("vector %d has dimension %d, expected %d", i, len(v), c.dimensions)
		}
	}
	return nil
}

// isTransient reports whether err is worth retrying: attempt timeouts, network
// errors, retryable HTTP statuses and an open breaker.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Temporary()
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// jitter spreads d by ±20%.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	delta := float64(d) * 0.2
	return time.Duration(float64(d) - delta + rand.Float64()*2*delta)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ProviderCalls returns how many calls reached the provider.
func (c *Client) ProviderCalls() int64 {
	return c.calls.Load()
}

// Throttled reports whether the provider rate-limited any call since the previous
// Throttled call, and clears the signal.
func (c *Client) Throttled() bool {
	return c.throttled.Swap(false)
}

// BreakerState returns the circuit breaker state name.
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// Dimensions returns the embedding dimension.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Close closes the provider.
func (c *Client) Close() error {
	return c.provider.Close()
}

package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// Cached memoizes vectors by text.
type Cached struct {
	inner Embedder
	cache *cache.Cache
}

// NewCached wraps inner with an in-process cache whose entries expire after ttl.
func NewCached(inner Embedder, ttl time.Duration) *Cached {
	return &Cached{inner: inner, cache: cache.New(ttl, 2*ttl)}
}

func (c *Cached) Embed(ctx context.Context, text string) (Vector, error) {
	if v, ok := c.cache.Get(text); ok {
		return v.(Vector), nil
	}
	v, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, v, cache.DefaultExpiration)
	return v, nil
}

// EmbedBatch serves cached texts locally and embeds only the misses.
func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([]Vector, error) {
	out := make([]Vector, len(texts))
	var missing []string
	var missingIdx []int
	for i, t := range texts {
		if v, ok := c.cache.Get(t); ok {
			out[i] = v.(Vector)
			continue
		}
		missing = append(missing, t)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}
	vecs, err := EmbedAll(ctx, c.inner, missing)
	if err != nil {
		return nil, err
	}
	for j, v := range vecs {
		out[missingIdx[j]] = v
		c.cache.Set(missing[j], v, cache.DefaultExpiration)
	}
	return out, nil
}

func (c *Cached) Dims() int { return c.inner.Dims() }

// Len returns the number of cached vectors.
func (c *Cached) Len() int { return c.cache.ItemCount() }

// Limited throttles calls to the provider.
type Limited struct {
	inner   Embedder
	limiter *rate.Limiter
}

// NewLimited allows perSecond requests with the given burst.
func NewLimited(inner Embedder, perSecond float64, burst int) *Limited {
	if burst < 1 {
		burst = 1
	}
	return &Limited{inner: inner, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *Limited) Embed(ctx context.Context, text string) (Vector, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, providerErr("ratelimit", err)
	}
	return l.inner.Embed(ctx, text)
}

func (l *Limited) EmbedBatch(ctx context.Context, texts []string) ([]Vector, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, providerErr("ratelimit", err)
	}
	return EmbedAll(ctx, l.inner, texts)
}

func (l *Limited) Dims() int { return l.inner.Dims() }

// Bounded gives every provider call a deadline. Errors, including
// timeouts, come back as *ProviderError.
type Bounded struct {
	inner   Embedder
	name    string
	timeout time.Duration
}

// NewBounded wraps inner so no call runs longer than timeout.
func NewBounded(inner Embedder, name string, timeout time.Duration) *Bounded {
	return &Bounded{inner: inner, name: name, timeout: timeout}
}

func (b *Bounded) Embed(ctx context.Context, text string) (Vector, error) {
	ctx, cancel := b.deadline(ctx)
	defer cancel()
	v, err := b.inner.Embed(ctx, text)
	if err != nil {
		return nil, b.wrap(err)
	}
	if len(v) == 0 {
		return nil, &ProviderError{Provider: b.name, Err: errors.New("empty vector")}
	}
	return v, nil
}

func (b *Bounded) EmbedBatch(ctx context.Context, texts []string) ([]Vector, error) {
	ctx, cancel := b.deadline(ctx)
	defer cancel()
	vecs, err := EmbedAll(ctx, b.inner, texts)
	if err != nil {
		return nil, b.wrap(err)
	}
	if len(vecs) != len(texts) {
		return nil, &ProviderError{Provider: b.name, Err: fmt.Errorf("got %d vectors for %d texts", len(vecs), len(texts))}
	}
	return vecs, nil
}

func (b *Bounded) Dims() int { return b.inner.Dims() }

func (b *Bounded) deadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, b.timeout)
}

func (b *Bounded) wrap(err error) error {
	if IsProviderError(err) {
		return err
	}
	return &ProviderError{Provider: b.name, Err: err}
}

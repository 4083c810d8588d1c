package embedding

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"sync"
)

// HashEmbedder generates deterministic embeddings from a hash of the text.
// Identical texts map to identical vectors. It needs no network and is used
// for offline runs and tests.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates a hash embedder. Zero dims defaults to 384.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 384
	}
	return &HashEmbedder{dims: dims}
}

func (h *HashEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	if err := ctx.Err(); err != nil {
		return nil, providerErr("hash", err)
	}
	f := fnv.New64a()
	f.Write([]byte(text))
	seed := f.Sum64()

	v := make(Vector, h.dims)
	for i := range v {
		// LCG step
		seed = seed*6364136223846793005 + 1442695040888963407
		v[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return Normalize(v), nil
}

func (h *HashEmbedder) Dims() int { return h.dims }

// StaticEmbedder returns preset vectors per text. Unknown texts fall back to
// Fallback when set, otherwise they fail. Err forces every call to fail.
type StaticEmbedder struct {
	Vectors  map[string]Vector
	Fallback Embedder
	Err      error
	Size     int

	mu    sync.Mutex
	calls int
}

func (s *StaticEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.Err != nil {
		return nil, providerErr("static", s.Err)
	}
	if v, ok := s.Vectors[text]; ok {
		return v, nil
	}
	if s.Fallback != nil {
		return s.Fallback.Embed(ctx, text)
	}
	return nil, providerErr("static", errors.New("no vector for text"))
}

func (s *StaticEmbedder) Dims() int {
	if s.Size > 0 {
		return s.Size
	}
	for _, v := range s.Vectors {
		return len(v)
	}
	if s.Fallback != nil {
		return s.Fallback.Dims()
	}
	return 0
}

// Calls returns how many times Embed was invoked.
func (s *StaticEmbedder) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

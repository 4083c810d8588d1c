// Package index keeps per-session in-memory vector indexes for neighbor lookups.
package index

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// Neighbor is a nearest-neighbor hit.
type Neighbor struct {
	ID         string
	Similarity float64
}

// Item is a vector to index.
type Item struct {
	ID     string
	Vector []float32
}

// ChromemIndex wraps chromem-go, one collection per session.
// It is a cache over the store: the store stays authoritative.
type ChromemIndex struct {
	db          *chromem.DB
	collections map[string]*chromem.Collection
	mu          sync.RWMutex
}

// NewChromemIndex creates an empty index.
func NewChromemIndex() *ChromemIndex {
	return &ChromemIndex{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
	}
}

func collectionName(sessionID string) string {
	return "session_" + sessionID
}

// Has reports whether the session has been loaded.
func (x *ChromemIndex) Has(sessionID string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.collections[sessionID]
	return ok
}

// Load replaces the session's collection with items.
func (x *ChromemIndex) Load(ctx context.Context, sessionID string, items []Item) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if _, ok := x.collections[sessionID]; ok {
		if err := x.db.DeleteCollection(collectionName(sessionID)); err != nil {
			return fmt.Errorf("drop collection: %w", err)
		}
		delete(x.collections, sessionID)
	}
	col, err := x.db.CreateCollection(collectionName(sessionID), nil, nil)
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	for _, it := range items {
		if err := addVector(ctx, col, it); err != nil {
			return err
		}
	}
	x.collections[sessionID] = col
	return nil
}

// Add indexes one vector. Sessions that were never loaded are ignored; they
// get built from the store on first use.
func (x *ChromemIndex) Add(ctx context.Context, sessionID string, it Item) error {
	x.mu.RLock()
	col, ok := x.collections[sessionID]
	x.mu.RUnlock()
	if !ok {
		return nil
	}
	return addVector(ctx, col, it)
}

// Remove drops ids from the session's collection.
func (x *ChromemIndex) Remove(ctx context.Context, sessionID string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	x.mu.RLock()
	col, ok := x.collections[sessionID]
	x.mu.RUnlock()
	if !ok {
		return nil
	}
	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	return nil
}

// Drop forgets the session entirely.
func (x *ChromemIndex) Drop(sessionID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.collections[sessionID]; !ok {
		return nil
	}
	delete(x.collections, sessionID)
	return x.db.DeleteCollection(collectionName(sessionID))
}

// Len returns the number of vectors indexed for the session.
func (x *ChromemIndex) Len(sessionID string) int {
	x.mu.RLock()
	col, ok := x.collections[sessionID]
	x.mu.RUnlock()
	if !ok {
		return 0
	}
	return col.Count()
}

// Nearest returns up to n neighbors of vec ordered by similarity descending.
func (x *ChromemIndex) Nearest(ctx context.Context, sessionID string, vec []float32, n int) ([]Neighbor, error) {
	x.mu.RLock()
	col, ok := x.collections[sessionID]
	x.mu.RUnlock()
	if !ok || n <= 0 || isZero(vec) {
		return nil, nil
	}

	// chromem-go requires nResults <= collection size
	if c := col.Count(); n > c {
		n = c
	}
	if n == 0 {
		return nil, nil
	}
	results, err := col.QueryEmbedding(ctx, vec, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}
	out := make([]Neighbor, 0, len(results))
	for _, r := range results {
		out = append(out, Neighbor{ID: r.ID, Similarity: float64(r.Similarity)})
	}
	return out, nil
}

func addVector(ctx context.Context, col *chromem.Collection, it Item) error {
	if isZero(it.Vector) {
		return nil
	}
	doc := chromem.Document{ID: it.ID, Embedding: it.Vector, Content: it.ID}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

func isZero(v []float32) bool {
	for _, f := range v {
		if f != 0 {
			return false
		}
	}
	return true
}

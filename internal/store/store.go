// Package store provides the memory storage interface with SQLite and MongoDB implementations.
package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rcliao/agent-recall/internal/model"
)

// ErrNotFound is returned when a memory id does not exist.
var ErrNotFound = errors.New("memory not found")

// StoreError wraps any failure of the backing store. Unlike provider
// failures it is surfaced to callers.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) || errors.Is(err, ErrNotFound) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// FindParams filters memories within a session.
type FindParams struct {
	SessionID  string
	ActiveOnly bool
	Types      []model.Type // empty means all types
}

// Fields is a partial update. Nil pointers leave a column unchanged.
type Fields struct {
	IsActive        *bool
	LastUsedTurn    *int // applied as max(current, value)
	AccessCountIncr int
	ImportanceScore *float64
}

// SessionInfo summarizes one session.
type SessionInfo struct {
	SessionID string `json:"session_id" yaml:"session_id"`
	Total     int    `json:"total" yaml:"total"`
	Active    int    `json:"active" yaml:"active"`
	Keys      int    `json:"keys" yaml:"keys"`
	MaxTurn   int    `json:"max_turn" yaml:"max_turn"`
}

// Store is the persistence contract the recall engine depends on.
// Implementations must be safe for concurrent use.
type Store interface {
	// Insert persists m, assigning m.ID when empty.
	Insert(ctx context.Context, m *model.Memory) error

	// InsertReplacing inserts m and deactivates the replaced ids. If m cannot
	// be stored, the replaced memories stay active.
	InsertReplacing(ctx context.Context, m *model.Memory, replaced []string) error

	// FindBySession returns memories of a session ordered by id.
	FindBySession(ctx context.Context, p FindParams) ([]model.Memory, error)

	// FindByKey returns memories sharing (session, key), newest last.
	FindByKey(ctx context.Context, sessionID, key string, activeOnly bool) ([]model.Memory, error)

	// FindByID returns ErrNotFound when id does not exist.
	FindByID(ctx context.Context, id string) (*model.Memory, error)

	// FindByText returns active memories whose text equals text, ignoring ASCII case.
	FindByText(ctx context.Context, sessionID, text string) ([]model.Memory, error)

	// UpdateFields applies a partial update to one memory.
	UpdateFields(ctx context.Context, id string, f Fields) error

	// Link records a symmetric relation between two memories.
	Link(ctx context.Context, fromID, toID string) error

	// Close closes the store.
	Close() error
}

// Admin covers maintenance operations outside the retrieval hot path.
type Admin interface {
	Sessions(ctx context.Context) ([]SessionInfo, error)
	ClearSession(ctx context.Context, sessionID string) (int, error)
	Stats(ctx context.Context) (*Stats, error)
	ExportAll(ctx context.Context, sessionID string) ([]model.Memory, error)
	Import(ctx context.Context, memories []model.Memory) (int, error)
	Search(ctx context.Context, p SearchParams) ([]model.Memory, error)
}

// Backend is a store that also supports maintenance.
type Backend interface {
	Store
	Admin
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// newID returns a ULID. IDs from one process sort in creation order.
func newID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

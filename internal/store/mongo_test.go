package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/agent-recall/internal/model"
)

// newTestMongo connects to AGENT_RECALL_TEST_MONGO_URI or skips.
func newTestMongo(t *testing.T) *MongoStore {
	t.Helper()
	uri := os.Getenv("AGENT_RECALL_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("AGENT_RECALL_TEST_MONGO_URI not set")
	}
	ctx := context.Background()
	s, err := NewMongoStore(ctx, uri, fmt.Sprintf("agent_recall_test_%d", time.Now().UnixNano()))
	require.NoError(t, err)
	t.Cleanup(func() {
		s.Drop(context.Background())
		s.Close()
	})
	return s
}

func TestMongoStoreContract(t *testing.T) {
	ctx := context.Background()
	s := newTestMongo(t)

	a := newMemory("s1", model.TypeConstraint, "diet", "vegetarian", 5)
	a.Embedding = []float32{0.5, 0.25}
	require.NoError(t, s.Insert(ctx, a))
	b := newMemory("s1", model.TypeFact, "job", "a nurse", 6)
	require.NoError(t, s.Insert(ctx, b))

	got, err := s.FindByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25}, got.Embedding)

	byKey, err := s.FindByKey(ctx, "s1", "diet", true)
	require.NoError(t, err)
	assert.Len(t, byKey, 1)

	texts, err := s.FindByText(ctx, "s1", "a constraint to respect: VEGETARIAN.")
	require.NoError(t, err)
	assert.Len(t, texts, 1)

	turn := 30
	require.NoError(t, s.UpdateFields(ctx, b.ID, Fields{LastUsedTurn: &turn, AccessCountIncr: 1}))
	older := 10
	require.NoError(t, s.UpdateFields(ctx, b.ID, Fields{LastUsedTurn: &older, AccessCountIncr: 1}))
	got, err = s.FindByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, got.LastUsedTurn)
	assert.Equal(t, 2, got.AccessCount)

	off := false
	require.NoError(t, s.UpdateFields(ctx, a.ID, Fields{IsActive: &off}))
	active, err := s.FindBySession(ctx, FindParams{SessionID: "s1", ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, b.ID, active[0].ID)

	require.NoError(t, s.Link(ctx, a.ID, b.ID))
	got, err = s.FindByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, got.RelatedMemories)

	sessions, err := s.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, SessionInfo{SessionID: "s1", Total: 2, Active: 1, Keys: 1, MaxTurn: 6}, sessions[0])

	_, err = s.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := s.ClearSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMongoInsertReplacingAndSearch(t *testing.T) {
	ctx := context.Background()
	s := newTestMongo(t)

	old := newMemory("s1", model.TypeConstraint, "diet", "vegetarian", 5)
	require.NoError(t, s.Insert(ctx, old))

	dup := newMemory("s1", model.TypeConstraint, "diet", "vegan", 40)
	dup.ID = old.ID
	assert.Error(t, s.InsertReplacing(ctx, dup, []string{old.ID}))
	got, err := s.FindByID(ctx, old.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)

	next := newMemory("s1", model.TypeConstraint, "diet", "vegan", 40)
	require.NoError(t, s.InsertReplacing(ctx, next, []string{old.ID}))
	active, err := s.FindByKey(ctx, "s1", "diet", true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, next.ID, active[0].ID)

	found, err := s.Search(ctx, SearchParams{SessionID: "s1", Query: "VEG", ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "vegan", found[0].Value)

	found, err = s.Search(ctx, SearchParams{SessionID: "s1", Query: "g.n"})
	require.NoError(t, err)
	assert.Empty(t, found, "query is matched literally")
}

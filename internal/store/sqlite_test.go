package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/agent-recall/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewSQLiteStore(filepath.Join(dir, "test.db"))
	require.NoError(t, err, "create store")
	t.Cleanup(func() { s.Close() })
	return s
}

func newMemory(session string, typ model.Type, key, value string, turn int) *model.Memory {
	return &model.Memory{
		SessionID:       session,
		Type:            typ,
		Key:             key,
		Value:           value,
		Text:            typ.Render(value),
		Confidence:      0.9,
		ImportanceScore: model.Importance(typ, 0.9),
		SourceTurn:      turn,
		LastUsedTurn:    turn,
		IsActive:        true,
	}
}

func TestInsertAndFindByID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	m := newMemory("s1", model.TypePreference, "drink", "green tea", 3)
	m.Embedding = []float32{0.25, -0.5, 1}
	m.Tags = []string{"food"}
	m.Context = "mentioned at breakfast"
	require.NoError(t, s.Insert(ctx, m))
	require.NotEmpty(t, m.ID)

	got, err := s.FindByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "s1", got.SessionID)
	assert.Equal(t, model.TypePreference, got.Type)
	assert.Equal(t, "The user prefers green tea.", got.Text)
	assert.Equal(t, []float32{0.25, -0.5, 1}, got.Embedding)
	assert.Equal(t, []string{"food"}, got.Tags)
	assert.Equal(t, "mentioned at breakfast", got.Context)
	assert.True(t, got.IsActive)
	assert.Equal(t, 3, got.LastUsedTurn)
	assert.Nil(t, got.UpdatedAt)

	_, err = s.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInsertClampsLastUsedTurn(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	m := newMemory("s1", model.TypeFact, "job", "a nurse", 10)
	m.LastUsedTurn = 2
	require.NoError(t, s.Insert(ctx, m))

	got, err := s.FindByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.LastUsedTurn)
}

func TestFindBySessionFilters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	pref := newMemory("s1", model.TypePreference, "drink", "tea", 1)
	fact := newMemory("s1", model.TypeFact, "job", "a nurse", 2)
	old := newMemory("s1", model.TypeFact, "city", "in Oslo", 3)
	old.IsActive = false
	other := newMemory("s2", model.TypeFact, "job", "a pilot", 1)
	for _, m := range []*model.Memory{pref, fact, old, other} {
		require.NoError(t, s.Insert(ctx, m))
	}

	all, err := s.FindBySession(ctx, FindParams{SessionID: "s1"})
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, pref.ID, all[0].ID, "ordered by id")

	active, err := s.FindBySession(ctx, FindParams{SessionID: "s1", ActiveOnly: true})
	require.NoError(t, err)
	assert.Len(t, active, 2)

	facts, err := s.FindBySession(ctx, FindParams{SessionID: "s1", ActiveOnly: true, Types: []model.Type{model.TypeFact}})
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, fact.ID, facts[0].ID)
}

func TestFindByKey(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := newMemory("s1", model.TypeConstraint, "diet", "vegetarian", 5)
	a.IsActive = false
	b := newMemory("s1", model.TypeConstraint, "diet", "vegan", 40)
	require.NoError(t, s.Insert(ctx, a))
	require.NoError(t, s.Insert(ctx, b))

	all, err := s.FindByKey(ctx, "s1", "diet", false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := s.FindByKey(ctx, "s1", "diet", true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "vegan", active[0].Value)
}

func TestUpdateFields(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	m := newMemory("s1", model.TypeHabit, "run", "runs every morning", 5)
	require.NoError(t, s.Insert(ctx, m))

	turn := 20
	require.NoError(t, s.UpdateFields(ctx, m.ID, Fields{LastUsedTurn: &turn, AccessCountIncr: 1}))
	got, _ := s.FindByID(ctx, m.ID)
	assert.Equal(t, 20, got.LastUsedTurn)
	assert.Equal(t, 1, got.AccessCount)
	assert.NotNil(t, got.UpdatedAt)

	// An older turn never moves last_used_turn backwards.
	older := 7
	require.NoError(t, s.UpdateFields(ctx, m.ID, Fields{LastUsedTurn: &older, AccessCountIncr: 1}))
	got, _ = s.FindByID(ctx, m.ID)
	assert.Equal(t, 20, got.LastUsedTurn)
	assert.Equal(t, 2, got.AccessCount)

	off := false
	imp := 0.33
	require.NoError(t, s.UpdateFields(ctx, m.ID, Fields{IsActive: &off, ImportanceScore: &imp}))
	got, _ = s.FindByID(ctx, m.ID)
	assert.False(t, got.IsActive)
	assert.Equal(t, 0.33, got.ImportanceScore)

	assert.ErrorIs(t, s.UpdateFields(ctx, "nope", Fields{IsActive: &off}), ErrNotFound)
}

func TestInsertReplacing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	old := newMemory("s1", model.TypeConstraint, "diet", "vegetarian", 5)
	require.NoError(t, s.Insert(ctx, old))

	// A failing insert rolls the deactivation back.
	clash := newMemory("s1", model.TypeConstraint, "diet", "vegan", 40)
	clash.ID = old.ID
	err := s.InsertReplacing(ctx, clash, []string{old.ID})
	var se *StoreError
	require.ErrorAs(t, err, &se)
	got, err := s.FindByID(ctx, old.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)
	assert.Equal(t, "vegetarian", got.Value)

	missing := newMemory("s1", model.TypeConstraint, "diet", "vegan", 40)
	assert.ErrorIs(t, s.InsertReplacing(ctx, missing, []string{"nope"}), ErrNotFound)
	_, err = s.FindByID(ctx, missing.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	next := newMemory("s1", model.TypeConstraint, "diet", "vegan", 40)
	require.NoError(t, s.InsertReplacing(ctx, next, []string{old.ID}))
	active, err := s.FindByKey(ctx, "s1", "diet", true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, next.ID, active[0].ID)
	history, err := s.FindByKey(ctx, "s1", "diet", false)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestConcurrentAccessIncrements(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	m := newMemory("s1", model.TypeFact, "job", "a nurse", 1)
	require.NoError(t, s.Insert(ctx, m))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(turn int) {
			defer wg.Done()
			assert.NoError(t, s.UpdateFields(ctx, m.ID, Fields{LastUsedTurn: &turn, AccessCountIncr: 1}))
		}(i + 2)
	}
	wg.Wait()

	got, err := s.FindByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, got.AccessCount, "no increment is lost")
	assert.Equal(t, 21, got.LastUsedTurn)
}

func TestStoreErrorWrapping(t *testing.T) {
	s := newTestStore(t)
	s.Close()

	_, err := s.FindBySession(context.Background(), FindParams{SessionID: "s1"})
	require.Error(t, err)
	var se *StoreError
	assert.True(t, errors.As(err, &se))
	assert.Equal(t, "find by session", se.Op)
}

func TestSessionsAndClear(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Insert(ctx, newMemory("s1", model.TypeFact, "a", "x", 1)))
	require.NoError(t, s.Insert(ctx, newMemory("s1", model.TypeFact, "b", "y", 9)))
	require.NoError(t, s.Insert(ctx, newMemory("s2", model.TypeFact, "a", "z", 4)))

	sessions, err := s.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, SessionInfo{SessionID: "s1", Total: 2, Active: 2, Keys: 2, MaxTurn: 9}, sessions[0])

	n, err := s.ClearSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	left, err := s.FindBySession(ctx, FindParams{SessionID: "s1"})
	require.NoError(t, err)
	assert.Empty(t, left)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.TotalMemories)
	assert.Equal(t, 1, st.ActiveByType["fact"])
}

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/agent-recall/internal/model"
)

func TestFindByTextIgnoresCase(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	m := newMemory("s1", model.TypePreference, "drink", "Green Tea", 1)
	require.NoError(t, s.Insert(ctx, m))
	inactive := newMemory("s1", model.TypePreference, "drink2", "coffee", 1)
	inactive.IsActive = false
	require.NoError(t, s.Insert(ctx, inactive))

	got, err := s.FindByText(ctx, "s1", "the user prefers green tea.")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, m.ID, got[0].ID)

	got, err = s.FindByText(ctx, "s2", "The user prefers Green Tea.")
	require.NoError(t, err)
	assert.Empty(t, got, "other sessions are invisible")

	got, err = s.FindByText(ctx, "s1", "The user prefers coffee.")
	require.NoError(t, err)
	assert.Empty(t, got, "inactive memories are not duplicates")
}

func TestSearchSubstring(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Insert(ctx, newMemory("s1", model.TypeFact, "job", "a nurse at the clinic", 1)))
	require.NoError(t, s.Insert(ctx, newMemory("s1", model.TypeHabit, "run", "runs daily", 2)))
	require.NoError(t, s.Insert(ctx, newMemory("s2", model.TypeFact, "job", "a clinic manager", 1)))

	got, err := s.Search(ctx, SearchParams{SessionID: "s1", Query: "clinic"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "job", got[0].Key)

	got, err = s.Search(ctx, SearchParams{Query: "clinic"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.Search(ctx, SearchParams{SessionID: "s1", Query: "%"})
	require.NoError(t, err)
	assert.Empty(t, got, "wildcards are matched literally")

	require.NoError(t, s.Insert(ctx, newMemory("s1", model.TypeFact, "grade", "scored 100% on the exam", 3)))
	got, err = s.Search(ctx, SearchParams{SessionID: "s1", Query: "100%", ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "grade", got[0].Key)
}

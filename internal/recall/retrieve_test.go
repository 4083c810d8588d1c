package recall

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/agent-recall/internal/embedding"
	"github.com/rcliao/agent-recall/internal/model"
	"github.com/rcliao/agent-recall/internal/store"
)

func TestRetrieveCallQuestionPrefersSchedule(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, nil)

	contact, err := env.engine.Submit(ctx, candidate(model.TypePreference, "contact_time", "to be contacted after 11 AM", 0.9, 3))
	require.NoError(t, err)
	_, err = env.engine.Submit(ctx, candidate(model.TypeFact, "diet", "vegetarian", 0.9, 3))
	require.NoError(t, err)

	results, err := env.engine.RetrieveScored(ctx, RetrieveParams{
		SessionID:   "s1",
		Query:       "When should you call me?",
		CurrentTurn: 10,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, contact, results[0].Memory.ID)
	assert.Greater(t, results[0].Score.Boost, 0.0)
	assert.Greater(t, results[0].Score.Total, results[1].Score.Total)
}

func TestRetrieveEmptyQueryOrdersByImportance(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, nil)

	_, err := env.engine.Submit(ctx, candidate(model.TypeFact, "city", "living in Lisbon", 0.8, 5))
	require.NoError(t, err)
	constraint, err := env.engine.Submit(ctx, candidate(model.TypeConstraint, "budget", "under 50 euros", 0.8, 5))
	require.NoError(t, err)

	got, err := env.engine.Retrieve(ctx, RetrieveParams{SessionID: "s1", CurrentTurn: 5})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, constraint, got[0].ID)
}

func TestRetrieveBoundsK(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, nil)

	for i := 0; i < 10; i++ {
		_, err := env.engine.Submit(ctx, candidate(model.TypeFact, fmt.Sprintf("fact_%d", i), fmt.Sprintf("fact number %d", i), 0.9, i))
		require.NoError(t, err)
	}

	got, err := env.engine.Retrieve(ctx, RetrieveParams{SessionID: "s1", K: 3, CurrentTurn: 10})
	require.NoError(t, err)
	assert.Len(t, got, 3)

	got, err = env.engine.Retrieve(ctx, RetrieveParams{SessionID: "s1", CurrentTurn: 10})
	require.NoError(t, err)
	assert.Len(t, got, env.engine.Config().DefaultK)

	// Complex queries widen k.
	got, err = env.engine.Retrieve(ctx, RetrieveParams{SessionID: "s1", K: 3, Query: "what facts are there?", CurrentTurn: 10})
	require.NoError(t, err)
	assert.Len(t, got, 6)
}

func TestRetrieveEmptySessionIsNotAnError(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	got, err := env.engine.Retrieve(context.Background(), RetrieveParams{SessionID: "nobody", Query: "anything"})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestRetrieveExcludesInactive(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, nil)

	_, err := env.engine.Submit(ctx, candidate(model.TypeConstraint, "diet", "vegetarian", 1.0, 5))
	require.NoError(t, err)
	vegan, err := env.engine.Submit(ctx, candidate(model.TypeConstraint, "diet", "vegan", 0.9, 40))
	require.NoError(t, err)

	got, err := env.engine.Retrieve(ctx, RetrieveParams{SessionID: "s1", Query: "diet", CurrentTurn: 41})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, vegan, got[0].ID)
}

func TestRetrieveFiltersLowConfidence(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, nil)

	_, err := env.engine.Submit(ctx, candidate(model.TypeFact, "pet", "owning a cat", 0.3, 1))
	require.NoError(t, err)

	got, err := env.engine.Retrieve(ctx, RetrieveParams{SessionID: "s1", Query: "cat", CurrentTurn: 2})
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = env.engine.Retrieve(ctx, RetrieveParams{SessionID: "s1", Query: "cat", CurrentTurn: 2, MinConfidence: Float(0.2)})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestRetrieveRecordsAccess(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, nil)

	id, err := env.engine.Submit(ctx, candidate(model.TypeHabit, "run", "runs every morning", 0.9, 2))
	require.NoError(t, err)

	got, err := env.engine.Retrieve(ctx, RetrieveParams{SessionID: "s1", Query: "morning", CurrentTurn: 30})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].AccessCount)
	assert.Equal(t, 30, got[0].LastUsedTurn)

	env.engine.Drain()
	m, err := env.store.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, m.AccessCount)
	assert.Equal(t, 30, m.LastUsedTurn)

	// An older turn never moves last use backwards.
	_, err = env.engine.Retrieve(ctx, RetrieveParams{SessionID: "s1", Query: "morning", CurrentTurn: 10})
	require.NoError(t, err)
	env.engine.Drain()
	m, err = env.store.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, m.AccessCount)
	assert.Equal(t, 30, m.LastUsedTurn)
}

func TestRetrieveExpandsRelated(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, nil)

	pref, err := env.engine.Submit(ctx, candidate(model.TypePreference, "cuisine", "spicy Thai food", 0.9, 1))
	require.NoError(t, err)
	allergy, err := env.engine.Submit(ctx, candidate(model.TypeConstraint, "allergy", "no peanuts", 0.9, 1))
	require.NoError(t, err)
	require.NoError(t, env.engine.Link(ctx, pref, allergy))

	// The preference intent filters constraints out; the link brings the allergy back.
	results, err := env.engine.RetrieveScored(ctx, RetrieveParams{SessionID: "s1", Query: "what food do I like", CurrentTurn: 2})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, pref, results[0].Memory.ID)
	assert.False(t, results[0].Related)
	assert.Equal(t, allergy, results[1].Memory.ID)
	assert.True(t, results[1].Related)
}

func TestRetrieveDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	emb := &embedding.StaticEmbedder{Vectors: map[string]embedding.Vector{
		"anything at all": {1, 0},
	}}
	env := newTestEnv(t, emb, nil)
	insertVector(t, env.store, "s1", "wide", 0.5, []float32{1, 0, 0})

	_, err := env.engine.Retrieve(ctx, RetrieveParams{SessionID: "s1", Query: "anything at all", CurrentTurn: 1})
	assert.ErrorIs(t, err, embedding.ErrDimensionMismatch)
}

func TestRetrieveSurfacesStoreErrors(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, nil)
	_, err := env.engine.Submit(ctx, candidate(model.TypeFact, "job", "a nurse", 0.9, 1))
	require.NoError(t, err)
	env.store.Close()

	_, err = env.engine.Retrieve(ctx, RetrieveParams{SessionID: "s1", Query: "nurse"})
	var se *store.StoreError
	assert.ErrorAs(t, err, &se)

	got := env.engine.RetrieveOrEmpty(ctx, RetrieveParams{SessionID: "s1", Query: "nurse"})
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestRetrieveValidation(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	_, err := env.engine.Retrieve(context.Background(), RetrieveParams{Query: "x"})
	var ve *model.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "session_id", ve.Field)

	_, err = env.engine.Retrieve(context.Background(), RetrieveParams{SessionID: "s1", CurrentTurn: -1})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "current_turn", ve.Field)
}

func TestRetrieveByKeyTypeAndRecent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, nil)

	_, err := env.engine.Submit(ctx, candidate(model.TypeGoal, "marathon", "run a marathon", 0.9, 1))
	require.NoError(t, err)
	_, err = env.engine.Submit(ctx, candidate(model.TypeGoal, "spanish", "learn Spanish", 0.6, 20))
	require.NoError(t, err)
	_, err = env.engine.Submit(ctx, candidate(model.TypeFact, "city", "living in Lisbon", 0.9, 30))
	require.NoError(t, err)

	m, err := env.engine.RetrieveByKey(ctx, "s1", "spanish")
	require.NoError(t, err)
	assert.Equal(t, "learn Spanish", m.Value)
	_, err = env.engine.RetrieveByKey(ctx, "s1", "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	goals, err := env.engine.RetrieveByType(ctx, "s1", model.TypeGoal, 10)
	require.NoError(t, err)
	require.Len(t, goals, 2)
	assert.Equal(t, "marathon", goals[0].Key)

	recent, err := env.engine.RetrieveRecent(ctx, "s1", 10, 15)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "city", recent[0].Key)
	assert.Equal(t, "spanish", recent[1].Key)
}

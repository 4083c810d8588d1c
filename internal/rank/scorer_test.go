package rank

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/agent-recall/internal/embedding"
	"github.com/rcliao/agent-recall/internal/model"
	"github.com/rcliao/agent-recall/internal/query"
)

func TestRecency(t *testing.T) {
	assert.Equal(t, 1.0, Recency(40, 40, 200))
	assert.Equal(t, 1.0, Recency(10, 40, 200), "future last-use never exceeds 1")
	assert.InDelta(t, math.Exp(-5), Recency(1000, 0, 200), 1e-12)
	assert.InDelta(t, 0.0067, Recency(1000, 0, 200), 1e-4)

	prev := 1.0
	for turn := 41; turn < 2000; turn += 97 {
		r := Recency(turn, 40, 200)
		assert.Less(t, r, prev, "recency is monotonically non-increasing")
		prev = r
	}
}

func TestFrequency(t *testing.T) {
	assert.Equal(t, 0.0, Frequency(0, 10))
	assert.Equal(t, 0.5, Frequency(5, 10))
	assert.Equal(t, 1.0, Frequency(10, 10))
	assert.Equal(t, 1.0, Frequency(250, 10))
}

func TestKeywordOverlap(t *testing.T) {
	m := model.Memory{
		Key:  "contact_time",
		Text: "The user prefers to be contacted after 11 AM.",
		Tags: []string{"schedule"},
	}

	assert.Equal(t, 1.0, KeywordOverlap("after 11 am", m, 0.2), "substring match")
	assert.Equal(t, 0.0, KeywordOverlap("pizza", m, 0.2))
	assert.InDelta(t, 0.5, KeywordOverlap("user pizza", m, 0.2), 1e-9)
	assert.InDelta(t, 0.5+0.2, KeywordOverlap("user time", m, 0.2), 1e-9, "key word bonus")
	assert.InDelta(t, 0.2, KeywordOverlap("schedule", m, 0.2), 1e-9, "tag bonus")
	assert.Equal(t, 0.0, KeywordOverlap("  ", m, 0.2))
}

func TestScoreEmptyQuery(t *testing.T) {
	s := NewScorer(DefaultConfig())
	m := model.Memory{ImportanceScore: 0.8, LastUsedTurn: 10, AccessCount: 5}

	b, err := s.Score("", nil, m, query.Profile{}, 10)
	require.NoError(t, err)
	assert.InDelta(t, 0.6*0.8+0.3*1.0+0.1*0.5, b.Total, 1e-9)
	assert.Zero(t, b.Semantic)
	assert.Zero(t, b.Boost)
}

func TestScoreHybrid(t *testing.T) {
	s := NewScorer(Config{})
	q := "When should you call me?"
	p := query.Analyze(q)
	m := model.Memory{
		Type:            model.TypePreference,
		Key:             "contact_time",
		Text:            "The user prefers to be contacted after 11 AM.",
		ImportanceScore: 0.7,
		LastUsedTurn:    5,
		Tags:            []string{"schedule"},
		Embedding:       embedding.Vector{1, 0},
	}

	b, err := s.Score(q, embedding.Vector{1, 0}, m, p, 5)
	require.NoError(t, err)
	assert.Equal(t, 1.0, b.Semantic)
	assert.InDelta(t, 0.1+0.2, b.Boost, 1e-9, "topic tag plus constraint boost")
	want := 0.40*1.0 + 0.25*b.Keyword + 0.15*0.7 + 0.10*1.0 + 0 + b.Boost
	assert.InDelta(t, want, b.Total, 1e-9)
}

func TestNewScorerDefaults(t *testing.T) {
	assert.Equal(t, DefaultConfig(), NewScorer(Config{}).Config())

	cfg := NewScorer(Config{TagBoost: -1, ConstraintBoost: 0.5}).Config()
	assert.Zero(t, cfg.TagBoost, "negative disables")
	assert.Equal(t, 0.5, cfg.ConstraintBoost)
	assert.Equal(t, DefaultConfig().KeyMatchBonus, cfg.KeyMatchBonus)
}

func TestScoreSemanticNeverNegative(t *testing.T) {
	s := NewScorer(DefaultConfig())
	m := model.Memory{Text: "x", Embedding: embedding.Vector{-1, 0}}
	b, err := s.Score("y", embedding.Vector{1, 0}, m, query.Profile{}, 0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, b.Semantic)
}

func TestScoreDimensionMismatch(t *testing.T) {
	s := NewScorer(DefaultConfig())
	m := model.Memory{Text: "x", Embedding: embedding.Vector{1, 0, 0}}
	_, err := s.Score("x", embedding.Vector{1, 0}, m, query.Profile{}, 0)
	assert.ErrorIs(t, err, embedding.ErrDimensionMismatch)
}

func TestSortTieBreak(t *testing.T) {
	items := []Scored{
		{Memory: model.Memory{ID: "c", AccessCount: 1}, Score: Breakdown{Total: 0.5}},
		{Memory: model.Memory{ID: "b", AccessCount: 3}, Score: Breakdown{Total: 0.5}},
		{Memory: model.Memory{ID: "a", AccessCount: 1}, Score: Breakdown{Total: 0.5}},
		{Memory: model.Memory{ID: "z", AccessCount: 0}, Score: Breakdown{Total: 0.9}},
	}
	Sort(items)

	var ids []string
	for _, it := range items {
		ids = append(ids, it.Memory.ID)
	}
	assert.Equal(t, []string{"z", "b", "a", "c"}, ids)
}

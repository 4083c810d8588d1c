package query

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rcliao/agent-recall/internal/model"
)

func TestAnalyzeEmpty(t *testing.T) {
	p := Analyze("   ")
	assert.True(t, p.Empty())
	assert.Nil(t, p.TypeFilter())
	assert.Nil(t, p.Topics)
}

func TestAnalyzeCallQuestion(t *testing.T) {
	p := Analyze("When should you call me?")

	assert.True(t, p.IsQuestion)
	assert.True(t, p.IsFactQuery)
	assert.True(t, p.IsConstraintQuery)
	assert.True(t, p.IsTemporal)
	assert.False(t, p.IsPreferenceQuery)
	assert.True(t, p.IsComplex, "questions are complex")
	assert.Equal(t, []string{"schedule"}, p.Topics)

	filter := p.TypeFilter()
	assert.Contains(t, filter, model.TypePreference)
	assert.Contains(t, filter, model.TypeFact)
	assert.Contains(t, filter, model.TypeConstraint)
	assert.Contains(t, filter, model.TypeHabit)
	assert.NotContains(t, filter, model.TypeEpisodicSummary)
}

func TestAnalyzeFlags(t *testing.T) {
	tests := []struct {
		query string
		check func(t *testing.T, p Profile)
	}{
		{"I really love spicy noodles", func(t *testing.T, p Profile) {
			assert.True(t, p.IsPreferenceQuery)
			assert.Equal(t, []model.Type{model.TypePreference, model.TypeFact}, p.TypeFilter())
		}},
		{"tell me about the weather", func(t *testing.T, p Profile) {
			assert.Nil(t, p.TypeFilter(), "no flags means all types")
			assert.False(t, p.IsComplex)
		}},
		{"she preferred vegan meals", func(t *testing.T, p Profile) {
			assert.True(t, p.IsPreferenceQuery, "prefix match on prefer")
			assert.Equal(t, []string{"food"}, p.Topics)
		}},
		{"one two three four five six seven eight nine ten eleven", func(t *testing.T, p Profile) {
			assert.True(t, p.IsComplex)
			assert.False(t, p.IsQuestion)
		}},
		{"scandal", func(t *testing.T, p Profile) {
			assert.False(t, p.IsConstraintQuery, "short triggers match whole words only")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			tt.check(t, Analyze(tt.query))
		})
	}
}

func TestTopicsMultiple(t *testing.T) {
	got := Topics("Doctor said the diet matters for my meeting schedule")
	assert.Equal(t, []string{"food", "health", "schedule", "work"}, got)
}

// Package model defines the core memory data types.
package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Type is the closed set of memory categories.
type Type string

const (
	TypePreference      Type = "preference"
	TypeFact            Type = "fact"
	TypeConstraint      Type = "constraint"
	TypeHabit           Type = "habit"
	TypeGoal            Type = "goal"
	TypeReflection      Type = "reflection"
	TypeEpisodicSummary Type = "episodic_summary"
)

// AllTypes lists every memory type in declaration order.
var AllTypes = []Type{
	TypePreference,
	TypeFact,
	TypeConstraint,
	TypeHabit,
	TypeGoal,
	TypeReflection,
	TypeEpisodicSummary,
}

// ParseType converts a string into a Type.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown type %q", s)}
	}
	return t, nil
}

// Valid reports whether t is one of the known types.
func (t Type) Valid() bool {
	switch t {
	case TypePreference, TypeFact, TypeConstraint, TypeHabit, TypeGoal, TypeReflection, TypeEpisodicSummary:
		return true
	}
	return false
}

// baseImportance is the type component of the derived importance score.
func (t Type) baseImportance() float64 {
	switch t {
	case TypeConstraint:
		return 0.9
	case TypeGoal:
		return 0.8
	case TypePreference:
		return 0.7
	case TypeFact, TypeHabit:
		return 0.6
	case TypeReflection:
		return 0.5
	case TypeEpisodicSummary:
		return 0.4
	}
	return 0.5
}

// Render turns a raw value into the sentence used for embedding and keyword matching.
func (t Type) Render(value string) string {
	switch t {
	case TypePreference:
		return fmt.Sprintf("The user prefers %s.", value)
	case TypeFact:
		return fmt.Sprintf("The user is %s.", value)
	case TypeConstraint:
		return fmt.Sprintf("A constraint to respect: %s.", value)
	case TypeGoal:
		return fmt.Sprintf("The user wants to %s.", value)
	case TypeEpisodicSummary:
		return "Conversation summary: " + value
	case TypeHabit, TypeReflection:
		return value
	}
	return value
}

// Importance derives the default importance score from type and confidence.
func Importance(t Type, confidence float64) float64 {
	return t.baseImportance()*0.7 + confidence*0.3
}

// Memory represents a stored memory entry.
type Memory struct {
	ID              string     `json:"id" yaml:"id"`
	SessionID       string     `json:"session_id" yaml:"session_id"`
	Type            Type       `json:"type" yaml:"type"`
	Key             string     `json:"key" yaml:"key"`
	Value           string     `json:"value" yaml:"value"`
	Text            string     `json:"text" yaml:"text"`
	Embedding       []float32  `json:"embedding,omitempty" yaml:"embedding,omitempty"`
	Confidence      float64    `json:"confidence" yaml:"confidence"`
	ImportanceScore float64    `json:"importance_score" yaml:"importance_score"`
	SourceTurn      int        `json:"source_turn" yaml:"source_turn"`
	LastUsedTurn    int        `json:"last_used_turn" yaml:"last_used_turn"`
	AccessCount     int        `json:"access_count" yaml:"access_count"`
	IsActive        bool       `json:"is_active" yaml:"is_active"`
	Tags            []string   `json:"tags,omitempty" yaml:"tags,omitempty"`
	RelatedMemories []string   `json:"related_memories,omitempty" yaml:"related_memories,omitempty"`
	Context         string     `json:"context,omitempty" yaml:"context,omitempty"`
	CreatedAt       time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

// HasEmbedding reports whether the memory carries a vector.
func (m Memory) HasEmbedding() bool { return len(m.Embedding) > 0 }

// HasTag reports whether tag is among the memory's tags.
func (m Memory) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// NormalizeTags lowercases, trims and de-duplicates tags. The result is sorted.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil
	}
	return out
}

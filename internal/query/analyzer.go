// Package query classifies free-text queries into retrieval intents.
package query

import (
	"sort"
	"strings"
	"unicode"

	"github.com/rcliao/agent-recall/internal/model"
)

// Profile is the result of analyzing a query.
type Profile struct {
	IsQuestion        bool     `json:"is_question"`
	IsPreferenceQuery bool     `json:"is_preference_query"`
	IsFactQuery       bool     `json:"is_fact_query"`
	IsConstraintQuery bool     `json:"is_constraint_query"`
	IsTemporal        bool     `json:"is_temporal"`
	IsComplex         bool     `json:"is_complex"`
	Topics            []string `json:"topics,omitempty"`
	Words             []string `json:"-"`
}

var (
	preferenceWords = []string{"like", "prefer", "favorite", "love", "hate"}
	factWords       = []string{"what", "who", "where", "when", "how"}
	constraintWords = []string{"can", "cannot", "must", "should", "allergic", "restricted"}
	temporalWords   = []string{"today", "tomorrow", "yesterday", "schedule", "time", "when"}
)

// topicTable maps each topic to its trigger words.
var topicTable = map[string][]string{
	"food":     {"food", "eat", "restaurant", "meal", "diet", "vegetarian", "vegan", "cuisine"},
	"work":     {"work", "job", "project", "meeting", "deadline", "task", "office"},
	"health":   {"health", "doctor", "medicine", "exercise", "fitness", "allergic", "diet"},
	"schedule": {"time", "schedule", "calendar", "appointment", "meeting", "call", "contact"},
	"learning": {"learn", "study", "course", "exam", "homework", "practice", "training"},
	"hobby":    {"hobby", "interest", "passion", "enjoy", "fun", "game", "music", "movie"},
}

// complexWordCount is the word count above which a query counts as complex.
const complexWordCount = 10

// Analyze classifies q. An empty or whitespace-only query yields the zero Profile.
func Analyze(q string) Profile {
	q = strings.TrimSpace(q)
	if q == "" {
		return Profile{}
	}
	words := Words(q)
	return Profile{
		IsQuestion:        strings.HasSuffix(q, "?"),
		IsPreferenceQuery: matchesAny(words, preferenceWords),
		IsFactQuery:       matchesAny(words, factWords),
		IsConstraintQuery: matchesAny(words, constraintWords),
		IsTemporal:        matchesAny(words, temporalWords),
		IsComplex:         len(words) > complexWordCount || strings.HasSuffix(q, "?"),
		Topics:            topicsOf(words),
		Words:             words,
	}
}

// Empty reports whether the profile came from a blank query.
func (p Profile) Empty() bool { return len(p.Words) == 0 }

// TypeFilter returns the memory types the intent flags select, or nil for all types.
func (p Profile) TypeFilter() []model.Type {
	set := map[model.Type]bool{}
	if p.IsPreferenceQuery {
		set[model.TypePreference] = true
		set[model.TypeFact] = true
	}
	if p.IsConstraintQuery {
		set[model.TypeConstraint] = true
		set[model.TypePreference] = true
	}
	if p.IsFactQuery {
		set[model.TypeFact] = true
		set[model.TypeGoal] = true
		set[model.TypeHabit] = true
	}
	if p.IsTemporal {
		set[model.TypeHabit] = true
		set[model.TypeConstraint] = true
	}
	if len(set) == 0 {
		return nil
	}
	out := make([]model.Type, 0, len(set))
	for _, t := range model.AllTypes {
		if set[t] {
			out = append(out, t)
		}
	}
	return out
}

// Topics returns the sorted topic labels mentioned in text.
func Topics(text string) []string {
	return topicsOf(Words(text))
}

// Words splits text into lowercase alphanumeric tokens.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

func topicsOf(words []string) []string {
	var out []string
	for topic, triggers := range topicTable {
		if matchesAny(words, triggers) {
			out = append(out, topic)
		}
	}
	sort.Strings(out)
	return out
}

// matchesAny reports whether any word matches any trigger. Triggers of four
// or more letters also match as a prefix, so "prefer" catches "preferred".
func matchesAny(words, triggers []string) bool {
	for _, w := range words {
		for _, t := range triggers {
			if w == t || (len(t) >= 4 && strings.HasPrefix(w, t)) {
				return true
			}
		}
	}
	return false
}

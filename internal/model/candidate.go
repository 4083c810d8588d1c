package model

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

const (
	MaxSessionIDLen = 100
	MaxKeyLen       = 100
	MaxValueLen     = 2000
	MaxContextLen   = 500
)

// ErrDuplicate marks a candidate rejected as a near-duplicate of a stored memory.
var ErrDuplicate = errors.New("duplicate memory")

// ValidationError describes a malformed candidate. Candidates failing validation are never stored.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Candidate is a memory proposed by the extraction stage.
type Candidate struct {
	SessionID  string   `json:"session_id"`
	Type       Type     `json:"type"`
	Key        string   `json:"key"`
	Value      string   `json:"value"`
	Confidence float64  `json:"confidence"`
	SourceTurn int      `json:"source_turn"`
	Tags       []string `json:"tags,omitempty"`
	Context    string   `json:"context,omitempty"`
	// Importance overrides the derived importance score when set.
	Importance *float64 `json:"importance,omitempty"`
}

// Normalize trims text fields, lowercases the key and normalizes tags.
func (c *Candidate) Normalize() {
	c.SessionID = strings.TrimSpace(c.SessionID)
	c.Key = strings.ToLower(strings.TrimSpace(c.Key))
	c.Value = strings.TrimSpace(c.Value)
	c.Context = strings.TrimSpace(c.Context)
	c.Tags = NormalizeTags(c.Tags)
}

// Validate checks the candidate against the memory invariants.
func (c Candidate) Validate() error {
	switch {
	case c.SessionID == "":
		return &ValidationError{Field: "session_id", Reason: "required"}
	case len(c.SessionID) > MaxSessionIDLen:
		return &ValidationError{Field: "session_id", Reason: fmt.Sprintf("longer than %d chars", MaxSessionIDLen)}
	case !c.Type.Valid():
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown type %q", c.Type)}
	case c.Key == "":
		return &ValidationError{Field: "key", Reason: "required"}
	case len(c.Key) > MaxKeyLen:
		return &ValidationError{Field: "key", Reason: fmt.Sprintf("longer than %d chars", MaxKeyLen)}
	case !validKey(c.Key):
		return &ValidationError{Field: "key", Reason: "must be alphanumeric with optional underscores or hyphens"}
	case c.Value == "":
		return &ValidationError{Field: "value", Reason: "required"}
	case len(c.Value) > MaxValueLen:
		return &ValidationError{Field: "value", Reason: fmt.Sprintf("longer than %d chars", MaxValueLen)}
	case len(c.Context) > MaxContextLen:
		return &ValidationError{Field: "context", Reason: fmt.Sprintf("longer than %d chars", MaxContextLen)}
	case !unitRange(c.Confidence):
		return &ValidationError{Field: "confidence", Reason: fmt.Sprintf("%v outside [0,1]", c.Confidence)}
	case c.SourceTurn < 0:
		return &ValidationError{Field: "source_turn", Reason: "must not be negative"}
	case c.Importance != nil && !unitRange(*c.Importance):
		return &ValidationError{Field: "importance_score", Reason: fmt.Sprintf("%v outside [0,1]", *c.Importance)}
	}
	return nil
}

// ImportanceScore returns the override if present, otherwise the derived score.
func (c Candidate) ImportanceScore() float64 {
	if c.Importance != nil {
		return *c.Importance
	}
	return Importance(c.Type, c.Confidence)
}

// unitRange is false for NaN as well as for values outside [0,1].
func unitRange(f float64) bool { return f >= 0 && f <= 1 }

func validKey(k string) bool {
	for _, r := range k {
		if r == '_' || r == '-' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			continue
		}
		return false
	}
	return true
}

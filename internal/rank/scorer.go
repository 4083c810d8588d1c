// Package rank computes hybrid relevance scores for memories.
package rank

import (
	"math"
	"sort"
	"strings"

	"github.com/rcliao/agent-recall/internal/embedding"
	"github.com/rcliao/agent-recall/internal/model"
	"github.com/rcliao/agent-recall/internal/query"
)

// Weights blends the per-signal scores for a non-empty query.
type Weights struct {
	Semantic   float64 `mapstructure:"semantic" json:"semantic"`
	Keyword    float64 `mapstructure:"keyword" json:"keyword"`
	Importance float64 `mapstructure:"importance" json:"importance"`
	Recency    float64 `mapstructure:"recency" json:"recency"`
	Frequency  float64 `mapstructure:"frequency" json:"frequency"`
}

// Config tunes the scorer.
type Config struct {
	Weights Weights `mapstructure:"weights"`
	// EmptyQuery weights apply when there is no query text; Semantic and Keyword are ignored.
	EmptyQuery      Weights `mapstructure:"empty_query"`
	RecencyTau      float64 `mapstructure:"recency_tau"`
	FrequencyCap    int     `mapstructure:"frequency_cap"`
	// Zero boosts take the defaults; negative values disable them.
	TagBoost        float64 `mapstructure:"tag_boost"`
	ConstraintBoost float64 `mapstructure:"constraint_boost"`
	KeyMatchBonus   float64 `mapstructure:"key_match_bonus"`
}

// DefaultConfig returns the standard weights.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			Semantic:   0.40,
			Keyword:    0.25,
			Importance: 0.15,
			Recency:    0.10,
			Frequency:  0.10,
		},
		EmptyQuery: Weights{
			Importance: 0.6,
			Recency:    0.3,
			Frequency:  0.1,
		},
		RecencyTau:      200,
		FrequencyCap:    10,
		TagBoost:        0.1,
		ConstraintBoost: 0.2,
		KeyMatchBonus:   0.2,
	}
}

// Breakdown records each signal behind a score.
type Breakdown struct {
	Semantic   float64 `json:"semantic"`
	Keyword    float64 `json:"keyword"`
	Importance float64 `json:"importance"`
	Recency    float64 `json:"recency"`
	Frequency  float64 `json:"frequency"`
	Boost      float64 `json:"boost"`
	Total      float64 `json:"total"`
}

// Scorer is stateless apart from its configuration.
type Scorer struct {
	cfg Config
}

// NewScorer creates a scorer, filling zero tuning values from DefaultConfig.
func NewScorer(cfg Config) *Scorer {
	def := DefaultConfig()
	if cfg.Weights == (Weights{}) {
		cfg.Weights = def.Weights
	}
	if cfg.EmptyQuery == (Weights{}) {
		cfg.EmptyQuery = def.EmptyQuery
	}
	if cfg.RecencyTau <= 0 {
		cfg.RecencyTau = def.RecencyTau
	}
	if cfg.FrequencyCap <= 0 {
		cfg.FrequencyCap = def.FrequencyCap
	}
	cfg.TagBoost = orDefault(cfg.TagBoost, def.TagBoost)
	cfg.ConstraintBoost = orDefault(cfg.ConstraintBoost, def.ConstraintBoost)
	cfg.KeyMatchBonus = orDefault(cfg.KeyMatchBonus, def.KeyMatchBonus)
	return &Scorer{cfg: cfg}
}

// orDefault maps zero to def and any negative value to 0, so a boost can
// still be switched off explicitly.
func orDefault(v, def float64) float64 {
	switch {
	case v == 0:
		return def
	case v < 0:
		return 0
	}
	return v
}

// Config returns the effective configuration.
func (s *Scorer) Config() Config { return s.cfg }

// Score returns the hybrid score of m. queryVec may be nil, in which case the
// semantic signal is 0. It fails only with embedding.ErrDimensionMismatch.
func (s *Scorer) Score(q string, queryVec embedding.Vector, m model.Memory, p query.Profile, currentTurn int) (Breakdown, error) {
	var b Breakdown
	b.Importance = m.ImportanceScore
	b.Recency = Recency(currentTurn, m.LastUsedTurn, s.cfg.RecencyTau)
	b.Frequency = Frequency(m.AccessCount, s.cfg.FrequencyCap)

	if strings.TrimSpace(q) == "" {
		w := s.cfg.EmptyQuery
		b.Total = w.Importance*b.Importance + w.Recency*b.Recency + w.Frequency*b.Frequency
		return b, nil
	}

	if len(queryVec) > 0 && m.HasEmbedding() {
		sim, err := embedding.Similarity(queryVec, m.Embedding)
		if err != nil {
			return Breakdown{}, err
		}
		b.Semantic = math.Max(0, sim)
	}
	b.Keyword = KeywordOverlap(q, m, s.cfg.KeyMatchBonus)
	b.Boost = s.boost(m, p)

	w := s.cfg.Weights
	b.Total = w.Semantic*b.Semantic +
		w.Keyword*b.Keyword +
		w.Importance*b.Importance +
		w.Recency*b.Recency +
		w.Frequency*b.Frequency +
		b.Boost
	return b, nil
}

func (s *Scorer) boost(m model.Memory, p query.Profile) float64 {
	var boost float64
	for _, topic := range p.Topics {
		if m.HasTag(topic) {
			boost += s.cfg.TagBoost
		}
	}
	if p.IsConstraintQuery && (m.Type == model.TypeConstraint || m.Type == model.TypePreference) {
		boost += s.cfg.ConstraintBoost
	}
	return boost
}

// Recency decays exponentially with the turns since last use. It is 1 when
// the memory was used on currentTurn and never exceeds 1.
func Recency(currentTurn, lastUsedTurn int, tau float64) float64 {
	delta := currentTurn - lastUsedTurn
	if delta <= 0 {
		return 1
	}
	return math.Exp(-float64(delta) / tau)
}

// Frequency saturates linearly at cap accesses.
func Frequency(accessCount, cap int) float64 {
	if accessCount <= 0 || cap <= 0 {
		return 0
	}
	return math.Min(float64(accessCount)/float64(cap), 1)
}

// KeywordOverlap scores lexical overlap between the query and a memory.
// A full-query substring match scores 1. Otherwise it is the share of query
// words found in the memory text, plus bonus when a query word names a tag
// or a part of the key. The result is capped at 1.
func KeywordOverlap(q string, m model.Memory, bonus float64) float64 {
	ql := strings.ToLower(strings.TrimSpace(q))
	if ql == "" {
		return 0
	}
	text := strings.ToLower(m.Text)
	if strings.Contains(text, ql) {
		return 1
	}

	qWords := query.Words(ql)
	if len(qWords) == 0 {
		return 0
	}
	textWords := make(map[string]bool)
	for _, w := range query.Words(text) {
		textWords[w] = true
	}
	keyWords := make(map[string]bool)
	for _, w := range strings.FieldsFunc(m.Key, func(r rune) bool { return r == '_' || r == '-' }) {
		keyWords[w] = true
	}

	var hits int
	var labelled bool
	for _, w := range qWords {
		if textWords[w] {
			hits++
		}
		if keyWords[w] || m.HasTag(w) {
			labelled = true
		}
	}
	score := float64(hits) / float64(len(qWords))
	if labelled {
		score += bonus
	}
	return math.Min(score, 1)
}

// Scored pairs a memory with its score.
type Scored struct {
	Memory model.Memory `json:"memory"`
	Score  Breakdown    `json:"score"`
}

// Sort orders by total score descending, then access count descending, then id ascending.
func Sort(items []Scored) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Score.Total != b.Score.Total {
			return a.Score.Total > b.Score.Total
		}
		if a.Memory.AccessCount != b.Memory.AccessCount {
			return a.Memory.AccessCount > b.Memory.AccessCount
		}
		return a.Memory.ID < b.Memory.ID
	})
}

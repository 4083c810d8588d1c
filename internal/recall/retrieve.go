package recall

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rcliao/agent-recall/internal/model"
	"github.com/rcliao/agent-recall/internal/query"
	"github.com/rcliao/agent-recall/internal/rank"
	"github.com/rcliao/agent-recall/internal/store"
)

// RetrieveParams holds parameters for a retrieval.
type RetrieveParams struct {
	SessionID   string
	Query       string
	K           int // 0 uses the configured default
	CurrentTurn int
	// MinConfidence overrides the configured floor when set.
	MinConfidence *float64
}

// Result is a retrieved memory with its score.
type Result struct {
	Memory model.Memory   `json:"memory"`
	Score  rank.Breakdown `json:"score"`
	// Related marks memories appended through related-memory expansion.
	Related bool `json:"related,omitempty"`
}

// Float returns a pointer to f, for optional parameters.
func Float(f float64) *float64 { return &f }

// Retrieve returns up to K active memories of the session ranked by relevance
// to the query. Returned memories reflect the access they just received; the
// write-back to the store happens in the background.
func (e *Engine) Retrieve(ctx context.Context, p RetrieveParams) ([]model.Memory, error) {
	results, err := e.RetrieveScored(ctx, p)
	if err != nil {
		return nil, err
	}
	out := make([]model.Memory, len(results))
	for i, r := range results {
		out[i] = r.Memory
	}
	return out, nil
}

// RetrieveOrEmpty is Retrieve for callers that must never fail: errors are
// logged and produce an empty list.
func (e *Engine) RetrieveOrEmpty(ctx context.Context, p RetrieveParams) []model.Memory {
	out, err := e.Retrieve(ctx, p)
	if err != nil {
		e.logger.Error("retrieve failed", "session", p.SessionID, "error", err)
		return []model.Memory{}
	}
	return out
}

// RetrieveScored is Retrieve with score breakdowns.
func (e *Engine) RetrieveScored(ctx context.Context, p RetrieveParams) ([]Result, error) {
	started := time.Now()
	results, err := e.retrieve(ctx, p)
	switch {
	case err != nil:
		e.metrics.ObserveRetrieval("error", started, 0)
	case len(results) == 0:
		e.metrics.ObserveRetrieval("empty", started, 0)
	default:
		e.metrics.ObserveRetrieval("ok", started, len(results))
	}
	return results, err
}

func (e *Engine) retrieve(ctx context.Context, p RetrieveParams) ([]Result, error) {
	if err := requireSession(p.SessionID); err != nil {
		return nil, err
	}
	if p.CurrentTurn < 0 {
		return nil, &model.ValidationError{Field: "current_turn", Reason: "must not be negative"}
	}

	profile := query.Analyze(p.Query)
	k := p.K
	if k <= 0 {
		k = e.cfg.DefaultK
	}
	if profile.IsComplex {
		k = min(k+e.cfg.ComplexBonus, max(k, e.cfg.MaxK))
	}
	minConf := e.cfg.MinConfidence
	if p.MinConfidence != nil {
		minConf = *p.MinConfidence
	}

	// Snapshot the candidate set. Type flags narrow it, but never to nothing.
	types := profile.TypeFilter()
	candidates, err := e.candidates(ctx, p.SessionID, types, minConf)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 && len(types) > 0 {
		if candidates, err = e.candidates(ctx, p.SessionID, nil, minConf); err != nil {
			return nil, err
		}
	}
	if len(candidates) == 0 {
		return []Result{}, nil
	}

	var queryVec []float32
	if !profile.Empty() {
		queryVec = e.embed(ctx, p.Query, "retrieve")
	}

	scored := make([]rank.Scored, 0, len(candidates))
	for _, m := range candidates {
		b, err := e.scorer.Score(p.Query, queryVec, m, profile, p.CurrentTurn)
		if err != nil {
			return nil, fmt.Errorf("score memory %s: %w", m.ID, err)
		}
		scored = append(scored, rank.Scored{Memory: m, Score: b})
	}
	rank.Sort(scored)
	if len(scored) > k {
		scored = scored[:k]
	}

	results := make([]Result, 0, k)
	for _, s := range scored {
		results = append(results, Result{Memory: s.Memory, Score: s.Score})
	}
	if e.cfg.ExpandRelated && len(results) < k {
		if results, err = e.expandRelated(ctx, p.SessionID, results, k); err != nil {
			return nil, err
		}
	}

	ids := make([]string, len(results))
	for i := range results {
		m := &results[i].Memory
		m.AccessCount++
		if p.CurrentTurn > m.LastUsedTurn {
			m.LastUsedTurn = p.CurrentTurn
		}
		ids[i] = m.ID
	}
	e.touch(ctx, ids, p.CurrentTurn)

	e.logger.Debug("retrieved memories",
		"session", p.SessionID,
		"candidates", len(candidates),
		"returned", len(results),
		"k", k,
		"semantic", queryVec != nil)
	return results, nil
}

func (e *Engine) candidates(ctx context.Context, sessionID string, types []model.Type, minConf float64) ([]model.Memory, error) {
	mems, err := e.store.FindBySession(ctx, store.FindParams{
		SessionID:  sessionID,
		ActiveOnly: true,
		Types:      types,
	})
	if err != nil {
		return nil, err
	}
	out := mems[:0]
	for _, m := range mems {
		if m.IsActive && m.Confidence >= minConf {
			out = append(out, m)
		}
	}
	return out, nil
}

// expandRelated appends active related memories of the ranked results until k is reached.
func (e *Engine) expandRelated(ctx context.Context, sessionID string, results []Result, k int) ([]Result, error) {
	seen := make(map[string]bool, len(results))
	for _, r := range results {
		seen[r.Memory.ID] = true
	}
	ranked := len(results)
	for i := 0; i < ranked && len(results) < k; i++ {
		for _, id := range results[i].Memory.RelatedMemories {
			if len(results) >= k {
				break
			}
			if seen[id] {
				continue
			}
			seen[id] = true
			m, err := e.store.FindByID(ctx, id)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			if !m.IsActive || m.SessionID != sessionID {
				continue
			}
			results = append(results, Result{Memory: *m, Related: true})
		}
	}
	return results, nil
}

// touch records the access in the background. Failures are logged only.
func (e *Engine) touch(ctx context.Context, ids []string, turn int) {
	if len(ids) == 0 {
		return
	}
	e.background(ctx, e.cfg.TouchTimeout, func(ctx context.Context) {
		for _, id := range ids {
			err := e.store.UpdateFields(ctx, id, store.Fields{LastUsedTurn: &turn, AccessCountIncr: 1})
			if err != nil {
				e.logger.Warn("record access failed", "id", id, "error", err)
			}
		}
	})
}

// RetrieveByKey returns the active memory for (session, key). It has no side effects.
func (e *Engine) RetrieveByKey(ctx context.Context, sessionID, key string) (*model.Memory, error) {
	mems, err := e.store.FindByKey(ctx, sessionID, key, true)
	if err != nil {
		return nil, err
	}
	if len(mems) == 0 {
		return nil, store.ErrNotFound
	}
	m := mems[len(mems)-1]
	return &m, nil
}

// RetrieveByType returns active memories of one type, most important first.
func (e *Engine) RetrieveByType(ctx context.Context, sessionID string, t model.Type, limit int) ([]model.Memory, error) {
	mems, err := e.store.FindBySession(ctx, store.FindParams{
		SessionID:  sessionID,
		ActiveOnly: true,
		Types:      []model.Type{t},
	})
	if err != nil {
		return nil, err
	}
	sortByImportance(mems)
	return capped(mems, limit), nil
}

// RetrieveRecent returns active memories created within turnsBack turns of the
// session's latest memory, newest first. turnsBack <= 0 disables the window.
func (e *Engine) RetrieveRecent(ctx context.Context, sessionID string, limit, turnsBack int) ([]model.Memory, error) {
	mems, err := e.store.FindBySession(ctx, store.FindParams{SessionID: sessionID, ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	latest := 0
	for _, m := range mems {
		latest = max(latest, m.SourceTurn)
	}
	out := mems[:0]
	for _, m := range mems {
		if turnsBack <= 0 || m.SourceTurn >= latest-turnsBack {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SourceTurn != out[j].SourceTurn {
			return out[i].SourceTurn > out[j].SourceTurn
		}
		return out[i].ID > out[j].ID
	})
	return capped(out, limit), nil
}

// AllMemories lists a session's memories in creation order.
func (e *Engine) AllMemories(ctx context.Context, sessionID string, includeInactive bool) ([]model.Memory, error) {
	return e.store.FindBySession(ctx, store.FindParams{SessionID: sessionID, ActiveOnly: !includeInactive})
}

// sortByImportance orders by importance, then access count, then id.
func sortByImportance(mems []model.Memory) {
	sort.SliceStable(mems, func(i, j int) bool {
		a, b := mems[i], mems[j]
		if a.ImportanceScore != b.ImportanceScore {
			return a.ImportanceScore > b.ImportanceScore
		}
		if a.AccessCount != b.AccessCount {
			return a.AccessCount > b.AccessCount
		}
		return a.ID < b.ID
	})
}

func capped(mems []model.Memory, limit int) []model.Memory {
	if limit > 0 && len(mems) > limit {
		return mems[:limit]
	}
	return mems
}

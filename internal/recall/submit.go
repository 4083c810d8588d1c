package recall

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rcliao/agent-recall/internal/embedding"
	"github.com/rcliao/agent-recall/internal/index"
	"github.com/rcliao/agent-recall/internal/model"
	"github.com/rcliao/agent-recall/internal/query"
	"github.com/rcliao/agent-recall/internal/store"
)

// Submit validates, screens and stores a candidate, returning the new id.
// It fails with *model.ValidationError for malformed candidates,
// model.ErrDuplicate for near-duplicates and *store.StoreError when
// persistence fails. Embedding failures never fail a submit.
func (e *Engine) Submit(ctx context.Context, c model.Candidate) (string, error) {
	id, outcome, err := e.submit(ctx, c)
	e.metrics.ObserveSubmission(outcome)
	return id, err
}

// SubmitOrSkip is Submit for callers that must never fail. It returns the
// new id, or "" when the candidate was not stored for any reason.
func (e *Engine) SubmitOrSkip(ctx context.Context, c model.Candidate) string {
	id, err := e.Submit(ctx, c)
	switch {
	case err == nil:
		return id
	case errors.Is(err, model.ErrDuplicate):
		e.logger.Debug("candidate skipped as duplicate", "session", c.SessionID, "key", c.Key)
	default:
		e.logger.Warn("candidate not stored", "session", c.SessionID, "key", c.Key, "error", err)
	}
	return ""
}

func (e *Engine) submit(ctx context.Context, c model.Candidate) (string, string, error) {
	c.Normalize()
	if err := c.Validate(); err != nil {
		return "", "invalid", err
	}
	text := c.Type.Render(c.Value)

	st := e.session(c.SessionID)
	st.mu.Lock()
	defer st.mu.Unlock()

	vec := e.embed(ctx, text, "submit")
	scr, err := e.screen(ctx, c.SessionID, c.Key, text, vec)
	if err != nil {
		return "", "error", err
	}
	if scr.duplicate {
		e.logger.Debug("duplicate candidate", "session", c.SessionID, "key", c.Key, "match", scr.match)
		return "", "duplicate", model.ErrDuplicate
	}

	current, err := e.store.FindByKey(ctx, c.SessionID, c.Key, true)
	if err != nil {
		return "", "error", err
	}
	superseded := make([]string, len(current))
	gone := make(map[string]bool, len(current))
	for i, old := range current {
		superseded[i] = old.ID
		gone[old.ID] = true
	}

	m := &model.Memory{
		SessionID:       c.SessionID,
		Type:            c.Type,
		Key:             c.Key,
		Value:           c.Value,
		Text:            text,
		Embedding:       vec,
		Confidence:      c.Confidence,
		ImportanceScore: c.ImportanceScore(),
		SourceTurn:      c.SourceTurn,
		LastUsedTurn:    c.SourceTurn,
		IsActive:        true,
		Tags:            model.NormalizeTags(append(c.Tags, query.Topics(text)...)),
		Context:         c.Context,
	}
	for _, n := range scr.neighbors {
		if n.similarity >= e.cfg.RelatedThreshold && !gone[n.memory.ID] {
			m.RelatedMemories = append(m.RelatedMemories, n.memory.ID)
		}
	}

	if err := e.store.InsertReplacing(ctx, m, superseded); err != nil {
		return "", "error", err
	}
	e.metrics.ObserveDeactivations("superseded", len(superseded))
	e.unindex(ctx, c.SessionID, superseded)
	if e.index != nil && len(vec) > 0 {
		if err := e.index.Add(ctx, m.SessionID, index.Item{ID: m.ID, Vector: vec}); err != nil {
			e.logger.Warn("index add failed", "id", m.ID, "error", err)
		}
	}

	st.writes++
	if e.cfg.ConsolidateEvery > 0 && st.writes%e.cfg.ConsolidateEvery == 0 {
		e.consolidateAsync(ctx, c.SessionID)
	}

	e.logger.Info("memory stored",
		"id", m.ID,
		"session", m.SessionID,
		"type", m.Type,
		"key", m.Key,
		"superseded", len(superseded),
		"related", len(m.RelatedMemories))
	return m.ID, "stored", nil
}

// IsDuplicate reports whether text is a near-duplicate of an active memory of the session.
func (e *Engine) IsDuplicate(ctx context.Context, sessionID, text string) (bool, error) {
	if err := requireSession(sessionID); err != nil {
		return false, err
	}
	st := e.session(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	scr, err := e.screen(ctx, sessionID, "", text, e.embed(ctx, text, "submit"))
	if err != nil {
		return false, err
	}
	return scr.duplicate, nil
}

// Supersede deactivates every active memory of the session with the given key
// and returns their ids.
func (e *Engine) Supersede(ctx context.Context, sessionID, key string) ([]string, error) {
	if err := requireSession(sessionID); err != nil {
		return nil, err
	}
	st := e.session(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return e.supersede(ctx, sessionID, key)
}

func (e *Engine) supersede(ctx context.Context, sessionID, key string) ([]string, error) {
	active, err := e.store.FindByKey(ctx, sessionID, key, true)
	if err != nil {
		return nil, err
	}
	ids, err := e.deactivate(ctx, sessionID, active)
	e.metrics.ObserveDeactivations("superseded", len(ids))
	return ids, err
}

func (e *Engine) deactivate(ctx context.Context, sessionID string, mems []model.Memory) ([]string, error) {
	off := false
	ids := make([]string, 0, len(mems))
	for _, m := range mems {
		if err := e.store.UpdateFields(ctx, m.ID, store.Fields{IsActive: &off}); err != nil {
			return ids, err
		}
		ids = append(ids, m.ID)
	}
	e.unindex(ctx, sessionID, ids)
	return ids, nil
}

func (e *Engine) unindex(ctx context.Context, sessionID string, ids []string) {
	if e.index == nil || len(ids) == 0 {
		return
	}
	if err := e.index.Remove(ctx, sessionID, ids...); err != nil {
		e.logger.Warn("index remove failed", "session", sessionID, "error", err)
	}
}

// Link relates two memories of the same session.
func (e *Engine) Link(ctx context.Context, fromID, toID string) error {
	a, err := e.store.FindByID(ctx, fromID)
	if err != nil {
		return err
	}
	b, err := e.store.FindByID(ctx, toID)
	if err != nil {
		return err
	}
	if a.SessionID != b.SessionID {
		return &model.ValidationError{Field: "related_memories", Reason: "memories belong to different sessions"}
	}
	return e.store.Link(ctx, fromID, toID)
}

type neighbor struct {
	memory     model.Memory
	similarity float64
}

type screening struct {
	duplicate bool
	match     string
	neighbors []neighbor
}

// screen checks text against the session's active memories. An exact text
// match is always a duplicate. With a vector, the nearest neighbors are
// compared against the duplicate threshold; memories sharing key are updates
// rather than duplicates and are excluded from that comparison.
func (e *Engine) screen(ctx context.Context, sessionID, key, text string, vec embedding.Vector) (screening, error) {
	exact, err := e.store.FindByText(ctx, sessionID, text)
	if err != nil {
		return screening{}, err
	}
	if len(exact) > 0 {
		return screening{duplicate: true, match: exact[0].ID}, nil
	}
	if len(vec) == 0 {
		return screening{}, nil
	}

	neighbors, err := e.nearest(ctx, sessionID, vec, e.cfg.Neighbors, key)
	if err != nil {
		return screening{}, err
	}
	scr := screening{neighbors: neighbors}
	for _, n := range neighbors {
		if n.similarity > e.cfg.DuplicateThreshold {
			scr.duplicate = true
			scr.match = n.memory.ID
			break
		}
	}
	return scr, nil
}

// nearest returns the n most similar active memories of the session,
// skipping those whose key equals excludeKey. Similarities are exact cosine
// values computed from stored embeddings.
func (e *Engine) nearest(ctx context.Context, sessionID string, vec embedding.Vector, n int, excludeKey string) ([]neighbor, error) {
	if e.index != nil {
		out, err := e.nearestIndexed(ctx, sessionID, vec, n, excludeKey)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, embedding.ErrDimensionMismatch) {
			return nil, err
		}
		var se *store.StoreError
		if errors.As(err, &se) {
			return nil, err
		}
		e.logger.Warn("neighbor index failed, scanning session", "session", sessionID, "error", err)
	}

	mems, err := e.store.FindBySession(ctx, store.FindParams{SessionID: sessionID, ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	var out []neighbor
	for _, m := range mems {
		if !m.HasEmbedding() || (excludeKey != "" && m.Key == excludeKey) {
			continue
		}
		sim, err := embedding.Similarity(vec, m.Embedding)
		if err != nil {
			return nil, fmt.Errorf("compare with memory %s: %w", m.ID, err)
		}
		out = append(out, neighbor{memory: m, similarity: sim})
	}
	sortNeighbors(out)
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (e *Engine) nearestIndexed(ctx context.Context, sessionID string, vec embedding.Vector, n int, excludeKey string) ([]neighbor, error) {
	if err := e.ensureIndexed(ctx, sessionID); err != nil {
		return nil, err
	}
	// Over-fetch so same-key and stale hits do not crowd out real neighbors.
	hits, err := e.index.Nearest(ctx, sessionID, vec, 2*n+1)
	if err != nil {
		return nil, err
	}
	var out []neighbor
	for _, h := range hits {
		m, err := e.store.FindByID(ctx, h.ID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !m.IsActive || m.SessionID != sessionID || !m.HasEmbedding() {
			continue
		}
		if excludeKey != "" && m.Key == excludeKey {
			continue
		}
		sim, err := embedding.Similarity(vec, m.Embedding)
		if err != nil {
			return nil, fmt.Errorf("compare with memory %s: %w", m.ID, err)
		}
		out = append(out, neighbor{memory: *m, similarity: sim})
	}
	sortNeighbors(out)
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// ensureIndexed builds the session's index from the store on first use.
// Callers hold the session lock.
func (e *Engine) ensureIndexed(ctx context.Context, sessionID string) error {
	if e.index.Has(sessionID) {
		return nil
	}
	mems, err := e.store.FindBySession(ctx, store.FindParams{SessionID: sessionID, ActiveOnly: true})
	if err != nil {
		return err
	}
	items := make([]index.Item, 0, len(mems))
	for _, m := range mems {
		if m.HasEmbedding() {
			items = append(items, index.Item{ID: m.ID, Vector: m.Embedding})
		}
	}
	if err := e.index.Load(ctx, sessionID, items); err != nil {
		return err
	}
	e.logger.Debug("session indexed", "session", sessionID, "active", len(mems), "vectors", e.index.Len(sessionID))
	return nil
}

func sortNeighbors(ns []neighbor) {
	sort.SliceStable(ns, func(i, j int) bool {
		if ns[i].similarity != ns[j].similarity {
			return ns[i].similarity > ns[j].similarity
		}
		return ns[i].memory.ID < ns[j].memory.ID
	})
}

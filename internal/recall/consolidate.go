package recall

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rcliao/agent-recall/internal/embedding"
	"github.com/rcliao/agent-recall/internal/index"
	"github.com/rcliao/agent-recall/internal/model"
	"github.com/rcliao/agent-recall/internal/store"
)

// consolidateFanout bounds the neighbors checked per memory on the indexed path.
const consolidateFanout = 10

// Consolidate deactivates active memories of the session whose embedding is
// more similar than threshold to a higher-ranked active memory. Ranking is
// importance, then access count, then id, so a second run finds nothing to
// do. threshold <= 0 uses the configured value. It returns the number of
// memories deactivated, or ErrConsolidationRunning when another run holds
// the session.
func (e *Engine) Consolidate(ctx context.Context, sessionID string, threshold float64) (int, error) {
	if err := requireSession(sessionID); err != nil {
		return 0, err
	}
	if threshold <= 0 {
		threshold = e.cfg.ConsolidateThreshold
	}
	started := time.Now()

	release, ok, err := e.locker.TryLock(ctx, "consolidate:"+sessionID, e.cfg.LockTTL)
	if err != nil {
		e.metrics.ObserveConsolidation("error", started)
		return 0, fmt.Errorf("acquire consolidation lock: %w", err)
	}
	if !ok {
		e.metrics.ObserveConsolidation("skipped", started)
		return 0, ErrConsolidationRunning
	}
	defer release()

	st := e.session(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()

	runID := uuid.NewString()
	n, err := e.consolidate(ctx, sessionID, threshold, runID)
	if err != nil {
		e.metrics.ObserveConsolidation("error", started)
		e.logger.Error("consolidation failed", "session", sessionID, "run", runID, "error", err)
		return n, err
	}
	e.metrics.ObserveConsolidation("ok", started)
	e.metrics.ObserveDeactivations("consolidated", n)
	e.logger.Info("consolidation finished",
		"session", sessionID,
		"run", runID,
		"deactivated", n,
		"duration", time.Since(started))
	return n, nil
}

func (e *Engine) consolidate(ctx context.Context, sessionID string, threshold float64, runID string) (int, error) {
	all, err := e.store.FindBySession(ctx, store.FindParams{SessionID: sessionID, ActiveOnly: true})
	if err != nil {
		return 0, err
	}
	mems := all[:0]
	for _, m := range all {
		if m.HasEmbedding() {
			mems = append(mems, m)
		}
	}
	if len(mems) < 2 {
		return 0, nil
	}
	dims := len(mems[0].Embedding)
	for _, m := range mems[1:] {
		if len(m.Embedding) != dims {
			return 0, fmt.Errorf("memory %s has %d dims, want %d: %w",
				m.ID, len(m.Embedding), dims, embedding.ErrDimensionMismatch)
		}
	}
	sortByImportance(mems)

	var losers []model.Memory
	if e.index != nil && len(mems) > e.cfg.PairwiseLimit {
		losers, err = e.greedyIndexed(ctx, mems, threshold, "consolidate/"+runID)
	} else {
		losers, err = greedyPairwise(mems, threshold)
	}
	if err != nil {
		return 0, err
	}

	ids, err := e.deactivate(ctx, sessionID, losers)
	return len(ids), err
}

// greedyPairwise keeps memories in rank order, dropping any that is too
// similar to one already kept.
func greedyPairwise(mems []model.Memory, threshold float64) ([]model.Memory, error) {
	var kept, losers []model.Memory
	for _, m := range mems {
		dup := false
		for _, k := range kept {
			sim, err := embedding.Similarity(m.Embedding, k.Embedding)
			if err != nil {
				return nil, err
			}
			if sim > threshold {
				dup = true
				break
			}
		}
		if dup {
			losers = append(losers, m)
		} else {
			kept = append(kept, m)
		}
	}
	return losers, nil
}

// greedyIndexed is greedyPairwise with candidate pairs taken from a scratch
// index collection instead of every kept memory.
func (e *Engine) greedyIndexed(ctx context.Context, mems []model.Memory, threshold float64, scratch string) ([]model.Memory, error) {
	items := make([]index.Item, len(mems))
	byID := make(map[string]*model.Memory, len(mems))
	for i := range mems {
		items[i] = index.Item{ID: mems[i].ID, Vector: mems[i].Embedding}
		byID[mems[i].ID] = &mems[i]
	}
	if err := e.index.Load(ctx, scratch, items); err != nil {
		return nil, err
	}
	defer func() {
		if err := e.index.Drop(scratch); err != nil {
			e.logger.Warn("drop scratch index failed", "collection", scratch, "error", err)
		}
	}()

	kept := make(map[string]bool, len(mems))
	var losers []model.Memory
	for _, m := range mems {
		hits, err := e.index.Nearest(ctx, scratch, m.Embedding, consolidateFanout+1)
		if err != nil {
			return nil, err
		}
		dup := false
		for _, h := range hits {
			if h.ID == m.ID || !kept[h.ID] {
				continue
			}
			sim, err := embedding.Similarity(m.Embedding, byID[h.ID].Embedding)
			if err != nil {
				return nil, err
			}
			if sim > threshold {
				dup = true
				break
			}
		}
		if dup {
			losers = append(losers, m)
		} else {
			kept[m.ID] = true
		}
	}
	return losers, nil
}

// consolidateAsync runs a consolidation in the background. A run already in
// flight makes this a no-op.
func (e *Engine) consolidateAsync(ctx context.Context, sessionID string) {
	e.background(ctx, e.cfg.LockTTL, func(ctx context.Context) {
		_, err := e.Consolidate(ctx, sessionID, 0)
		if err != nil && !errors.Is(err, ErrConsolidationRunning) {
			e.logger.Warn("triggered consolidation failed", "session", sessionID, "error", err)
		}
	})
}

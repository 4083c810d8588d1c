package recall

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rcliao/agent-recall/internal/model"
	"github.com/rcliao/agent-recall/internal/store"
)

// MaybeSummarize stores an episodic summary of the session's most important
// memories every Episodic.EveryTurns turns. It returns the summary id, or ""
// when no summary was due or one with the same content already exists.
func (e *Engine) MaybeSummarize(ctx context.Context, sessionID string, turn int) (string, error) {
	cfg := e.cfg.Episodic
	if cfg.EveryTurns <= 0 || turn <= 0 || turn%cfg.EveryTurns != 0 {
		return "", nil
	}
	if err := requireSession(sessionID); err != nil {
		return "", err
	}

	all, err := e.store.FindBySession(ctx, store.FindParams{SessionID: sessionID, ActiveOnly: true})
	if err != nil {
		return "", err
	}
	mems := all[:0]
	for _, m := range all {
		if m.Type != model.TypeEpisodicSummary {
			mems = append(mems, m)
		}
	}
	if len(mems) < cfg.MinMemories {
		return "", nil
	}
	sortByImportance(mems)
	top := max(cfg.TopN, 1)
	if len(mems) > top {
		mems = mems[:top]
	}

	id, err := e.Submit(ctx, model.Candidate{
		SessionID:  sessionID,
		Type:       model.TypeEpisodicSummary,
		Key:        fmt.Sprintf("episode_%d", turn),
		Value:      digest(mems),
		Confidence: 0.6,
		SourceTurn: turn,
		Tags:       []string{"summary"},
	})
	if errors.Is(err, model.ErrDuplicate) {
		return "", nil
	}
	return id, err
}

// digest joins memory values into one line that fits a memory value.
func digest(mems []model.Memory) string {
	parts := make([]string, len(mems))
	for i, m := range mems {
		parts[i] = fmt.Sprintf("%s=%s", m.Key, m.Value)
	}
	s := strings.Join(parts, "; ")
	if len(s) > model.MaxValueLen {
		s = strings.ToValidUTF8(s[:model.MaxValueLen-3], "") + "..."
	}
	return s
}

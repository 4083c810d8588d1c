package recall

import (
	"context"
	"fmt"

	"github.com/rcliao/agent-recall/internal/embedding"
	"github.com/rcliao/agent-recall/internal/model"
)

// Backfill embeds, in one batch, the text of every memory that has no vector
// or whose vector does not match the provider's dimensionality. It returns
// how many memories received a vector. When the provider fails, mismatched
// vectors are dropped so the session never mixes dimensionalities.
func (e *Engine) Backfill(ctx context.Context, mems []model.Memory) int {
	if e.embedder == nil {
		return 0
	}
	dims := e.embedder.Dims()

	var idx []int
	var texts []string
	for i, m := range mems {
		if m.Text == "" {
			continue
		}
		if m.HasEmbedding() && (dims == 0 || len(m.Embedding) == dims) {
			continue
		}
		idx = append(idx, i)
		texts = append(texts, m.Text)
	}
	if len(texts) == 0 {
		return 0
	}

	vecs, err := embedding.EmbedAll(ctx, e.embedder, texts)
	if err == nil && len(vecs) != len(texts) {
		err = fmt.Errorf("provider returned %d vectors for %d texts", len(vecs), len(texts))
	}
	if err != nil {
		e.logger.Warn("embedding unavailable, importing without vectors", "memories", len(texts), "error", err)
		e.metrics.ObserveFallback("backfill")
		for _, i := range idx {
			mems[i].Embedding = nil
		}
		return 0
	}

	for j, i := range idx {
		mems[i].Embedding = vecs[j]
	}
	return len(idx)
}

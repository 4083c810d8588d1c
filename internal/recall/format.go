package recall

import (
	"math"
	"strings"
)

// ContextMemory is a retrieved memory as it is handed to a prompt.
type ContextMemory struct {
	ID      string  `json:"id"`
	Type    string  `json:"type"`
	Key     string  `json:"key"`
	Text    string  `json:"text"`
	Score   float64 `json:"score"`
	Excerpt bool    `json:"excerpt,omitempty"`
}

// ContextBlock is a budgeted rendering of retrieval results.
type ContextBlock struct {
	Budget   int             `json:"budget"`
	Used     int             `json:"used"`
	Memories []ContextMemory `json:"memories"`
}

// minExcerpt is the smallest remaining budget worth filling with a partial memory.
const minExcerpt = 100

// FormatContext packs results, in order, into a budget of tokens
// (4 chars per token). A memory that does not fit is excerpted when at
// least minExcerpt chars remain; packing stops after it.
func FormatContext(results []Result, budget int) *ContextBlock {
	if budget <= 0 {
		budget = 4000
	}
	charBudget := budget * 4

	block := &ContextBlock{Budget: budget, Memories: []ContextMemory{}}
	used := 0
	for _, r := range results {
		cm := ContextMemory{
			ID:    r.Memory.ID,
			Type:  string(r.Memory.Type),
			Key:   r.Memory.Key,
			Text:  r.Memory.Text,
			Score: math.Round(r.Score.Total*100) / 100,
		}
		if used+len(cm.Text) <= charBudget {
			block.Memories = append(block.Memories, cm)
			used += len(cm.Text)
			continue
		}
		if remaining := charBudget - used; remaining >= minExcerpt {
			cm.Text = strings.ToValidUTF8(cm.Text[:remaining], "") + "..."
			cm.Excerpt = true
			block.Memories = append(block.Memories, cm)
			used += len(cm.Text)
		}
		break
	}
	block.Used = used / 4
	return block
}

// String renders the block as prompt lines.
func (b *ContextBlock) String() string {
	var sb strings.Builder
	for _, m := range b.Memories {
		sb.WriteString("- ")
		sb.WriteString(m.Text)
		sb.WriteByte('\n')
	}
	return sb.String()
}

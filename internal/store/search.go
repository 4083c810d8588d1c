package store

import (
	"context"
	"strings"

	"github.com/rcliao/agent-recall/internal/model"
)

// FindByText finds active memories in the session whose rendered text equals
// text, ignoring ASCII case. It backs duplicate screening when no embedding
// is available.
func (s *SQLiteStore) FindByText(ctx context.Context, sessionID, text string) ([]model.Memory, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	q := `SELECT ` + memoryColumns + ` FROM memories
	      WHERE session_id = ? AND is_active = 1 AND lower(text) = lower(?)
	      ORDER BY id`
	mems, err := s.queryMemories(ctx, q, sessionID, text)
	return mems, storeErr("find by text", err)
}

// SearchParams holds parameters for substring search. Query is matched literally.
type SearchParams struct {
	SessionID  string
	Query      string
	ActiveOnly bool
	Limit      int
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Search finds memories whose key, value or text contain the query substring.
func (s *SQLiteStore) Search(ctx context.Context, p SearchParams) ([]model.Memory, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}
	like := "%" + likeEscaper.Replace(p.Query) + "%"

	where := []string{`(key LIKE ? ESCAPE '\' OR value LIKE ? ESCAPE '\' OR text LIKE ? ESCAPE '\')`}
	args := []interface{}{like, like, like}
	if p.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, p.SessionID)
	}
	if p.ActiveOnly {
		where = append(where, "is_active = 1")
	}
	args = append(args, limit)

	q := `SELECT ` + memoryColumns + ` FROM memories WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY id DESC LIMIT ?`
	mems, err := s.queryMemories(ctx, q, args...)
	return mems, storeErr("search", err)
}

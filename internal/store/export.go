package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rcliao/agent-recall/internal/model"
)

// ExportAll returns all memories, active and inactive, optionally filtered by session.
func (s *SQLiteStore) ExportAll(ctx context.Context, sessionID string) ([]model.Memory, error) {
	q := `SELECT ` + memoryColumns + ` FROM memories`
	var args []interface{}
	if sessionID != "" {
		q += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	q += ` ORDER BY session_id, id`
	mems, err := s.queryMemories(ctx, q, args...)
	return mems, storeErr("export", err)
}

// Import stores memories from an export, keeping their ids. Memories whose id
// already exists are skipped. Links are restored once all rows are in.
func (s *SQLiteStore) Import(ctx context.Context, memories []model.Memory) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storeErr("import", err)
	}
	defer tx.Rollback()

	imported := 0
	for _, m := range memories {
		if m.ID == "" {
			m.ID = newID()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now().UTC()
		}
		if m.LastUsedTurn < m.SourceTurn {
			m.LastUsedTurn = m.SourceTurn
		}
		var tagsJSON *string
		if tags := model.NormalizeTags(m.Tags); len(tags) > 0 {
			b := marshalTags(tags)
			tagsJSON = &b
		}
		var ctxPtr *string
		if m.Context != "" {
			ctxPtr = &m.Context
		}
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO memories (`+memoryColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
			m.ID, m.SessionID, string(m.Type), m.Key, m.Value, m.Text, encodeVector(m.Embedding),
			m.Confidence, m.ImportanceScore, m.SourceTurn, m.LastUsedTurn, m.AccessCount,
			boolInt(m.IsActive), tagsJSON, ctxPtr, m.CreatedAt.Format(time.RFC3339Nano))
		if err != nil {
			return imported, storeErr("import", fmt.Errorf("memory %s: %w", m.ID, err))
		}
		if n, _ := res.RowsAffected(); n > 0 {
			imported++
		}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, m := range memories {
		for _, rel := range m.RelatedMemories {
			if m.ID == "" || rel == m.ID {
				continue
			}
			// Links to memories missing from the import are dropped.
			var one int
			if err := tx.QueryRowContext(ctx, `SELECT 1 FROM memories WHERE id = ?`, rel).Scan(&one); err != nil {
				continue
			}
			if err := insertLink(ctx, tx, m.ID, rel, now); err != nil {
				return imported, storeErr("import", err)
			}
		}
	}
	return imported, storeErr("import", tx.Commit())
}

// ClearSession hard-deletes every memory of a session and returns how many were removed.
func (s *SQLiteStore) ClearSession(ctx context.Context, sessionID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, storeErr("clear session", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

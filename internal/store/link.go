package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rcliao/agent-recall/internal/model"
)

// Link records fromID and toID as related in both directions.
func (s *SQLiteStore) Link(ctx context.Context, fromID, toID string) error {
	if fromID == toID {
		return storeErr("link", fmt.Errorf("cannot link memory %s to itself", fromID))
	}
	for _, id := range []string{fromID, toID} {
		var one int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM memories WHERE id = ?`, id).Scan(&one)
		if isNoRows(err) {
			return ErrNotFound
		}
		if err != nil {
			return storeErr("link", err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("link", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := insertLink(ctx, tx, fromID, toID, now); err != nil {
		return storeErr("link", err)
	}
	return storeErr("link", tx.Commit())
}

func insertLink(ctx context.Context, tx *sql.Tx, a, b, now string) error {
	for _, pair := range [][2]string{{a, b}, {b, a}} {
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO memory_links (from_id, to_id, created_at) VALUES (?, ?, ?)`,
			pair[0], pair[1], now)
		if err != nil {
			return fmt.Errorf("insert link: %w", err)
		}
	}
	return nil
}

// attachRelated fills RelatedMemories for each memory.
func (s *SQLiteStore) attachRelated(ctx context.Context, memories []model.Memory) error {
	if len(memories) == 0 {
		return nil
	}
	byID := make(map[string]int, len(memories))
	ph := make([]string, 0, len(memories))
	args := make([]interface{}, 0, len(memories))
	for i, m := range memories {
		byID[m.ID] = i
		ph = append(ph, "?")
		args = append(args, m.ID)
	}

	// SQLite caps bound parameters; large sessions fall back to a full scan of links.
	q := `SELECT from_id, to_id FROM memory_links WHERE from_id IN (` + strings.Join(ph, ",") + `)`
	if len(args) > 900 {
		q, args = `SELECT from_id, to_id FROM memory_links`, nil
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("load links: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var from, to string
		if err := rows.Scan(&from, &to); err != nil {
			return err
		}
		if i, ok := byID[from]; ok {
			memories[i].RelatedMemories = append(memories[i].RelatedMemories, to)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for i := range memories {
		sort.Strings(memories[i].RelatedMemories)
	}
	return nil
}

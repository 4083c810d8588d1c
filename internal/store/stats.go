package store

import (
	"context"
	"os"
)

// Stats holds database statistics.
type Stats struct {
	DBPath         string         `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	DBSizeBytes    int64          `json:"db_size_bytes,omitempty" yaml:"db_size_bytes,omitempty"`
	TotalMemories  int            `json:"total_memories" yaml:"total_memories"`
	ActiveMemories int            `json:"active_memories" yaml:"active_memories"`
	WithEmbedding  int            `json:"with_embedding" yaml:"with_embedding"`
	Links          int            `json:"links" yaml:"links"`
	ActiveByType   map[string]int `json:"active_by_type" yaml:"active_by_type"`
	Sessions       []SessionInfo  `json:"sessions" yaml:"sessions"`
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{DBPath: s.path, ActiveByType: map[string]int{}}

	// DB file size
	if info, err := os.Stat(s.path); err == nil {
		st.DBSizeBytes = info.Size()
	}

	counts := []struct {
		q   string
		dst *int
	}{
		{`SELECT COUNT(*) FROM memories`, &st.TotalMemories},
		{`SELECT COUNT(*) FROM memories WHERE is_active = 1`, &st.ActiveMemories},
		{`SELECT COUNT(*) FROM memories WHERE embedding IS NOT NULL`, &st.WithEmbedding},
		{`SELECT COUNT(*) / 2 FROM memory_links`, &st.Links},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.q).Scan(c.dst); err != nil {
			return nil, storeErr("stats", err)
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT type, COUNT(*) FROM memories WHERE is_active = 1
		GROUP BY type`)
	if err != nil {
		return nil, storeErr("stats", err)
	}
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			rows.Close()
			return nil, storeErr("stats", err)
		}
		st.ActiveByType[typ] = n
	}
	rows.Close()

	if st.Sessions, err = s.Sessions(ctx); err != nil {
		return nil, err
	}
	return st, nil
}

// Sessions lists every session with its counts, largest first.
func (s *SQLiteStore) Sessions(ctx context.Context) ([]SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, COUNT(*) AS cnt, SUM(is_active),
		       COUNT(DISTINCT CASE WHEN is_active = 1 THEN key END), MAX(source_turn)
		FROM memories
		GROUP BY session_id ORDER BY cnt DESC, session_id`)
	if err != nil {
		return nil, storeErr("sessions", err)
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var si SessionInfo
		if err := rows.Scan(&si.SessionID, &si.Total, &si.Active, &si.Keys, &si.MaxTurn); err != nil {
			return nil, storeErr("sessions", err)
		}
		out = append(out, si)
	}
	return out, storeErr("sessions", rows.Err())
}

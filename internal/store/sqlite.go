package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rcliao/agent-recall/internal/model"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{db: db, path: dbPath}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id               TEXT PRIMARY KEY,
		session_id       TEXT NOT NULL,
		type             TEXT NOT NULL,
		key              TEXT NOT NULL,
		value            TEXT NOT NULL,
		text             TEXT NOT NULL,
		embedding        BLOB,
		confidence       REAL NOT NULL,
		importance_score REAL NOT NULL,
		source_turn      INTEGER NOT NULL,
		last_used_turn   INTEGER NOT NULL,
		access_count     INTEGER NOT NULL DEFAULT 0,
		is_active        INTEGER NOT NULL DEFAULT 1,
		tags             TEXT,
		context          TEXT,
		created_at       TEXT NOT NULL,
		updated_at       TEXT,
		CHECK (last_used_turn >= source_turn)
	);
	CREATE INDEX IF NOT EXISTS idx_memories_session_key ON memories(session_id, key, is_active);
	CREATE INDEX IF NOT EXISTS idx_memories_session_type ON memories(session_id, is_active, type);

	CREATE TABLE IF NOT EXISTS memory_links (
		from_id    TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
		to_id      TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
		created_at TEXT NOT NULL,
		PRIMARY KEY (from_id, to_id)
	);
	CREATE INDEX IF NOT EXISTS idx_links_to ON memory_links(to_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

const memoryColumns = `id, session_id, type, key, value, text, embedding, confidence,
	importance_score, source_turn, last_used_turn, access_count, is_active,
	tags, context, created_at, updated_at`

func (s *SQLiteStore) Insert(ctx context.Context, m *model.Memory) error {
	return s.InsertReplacing(ctx, m, nil)
}

// InsertReplacing inserts m and deactivates the replaced ids in one
// transaction. Nothing is deactivated when the insert fails.
func (s *SQLiteStore) InsertReplacing(ctx context.Context, m *model.Memory, replaced []string) error {
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
	if len(m.Tags) > 0 {
		t := marshalTags(m.Tags)
		tagsJSON = &t
	}
	var ctxPtr *string
	if m.Context != "" {
		ctxPtr = &m.Context
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("insert", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, id := range replaced {
		res, err := tx.ExecContext(ctx,
			`UPDATE memories SET is_active = 0, updated_at = ? WHERE id = ?`, now, id)
		if err != nil {
			return storeErr("insert", fmt.Errorf("deactivate %s: %w", id, err))
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return storeErr("insert", fmt.Errorf("deactivate %s: %w", id, ErrNotFound))
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO memories (`+memoryColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		m.ID, m.SessionID, string(m.Type), m.Key, m.Value, m.Text, encodeVector(m.Embedding),
		m.Confidence, m.ImportanceScore, m.SourceTurn, m.LastUsedTurn, m.AccessCount,
		boolInt(m.IsActive), tagsJSON, ctxPtr, m.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return storeErr("insert", fmt.Errorf("insert memory: %w", err))
	}

	for _, rel := range m.RelatedMemories {
		if err := insertLink(ctx, tx, m.ID, rel, now); err != nil {
			return storeErr("insert", err)
		}
	}
	return storeErr("insert", tx.Commit())
}

func (s *SQLiteStore) FindBySession(ctx context.Context, p FindParams) ([]model.Memory, error) {
	where := []string{"session_id = ?"}
	args := []interface{}{p.SessionID}
	if p.ActiveOnly {
		where = append(where, "is_active = 1")
	}
	if len(p.Types) > 0 {
		ph := make([]string, len(p.Types))
		for i, t := range p.Types {
			ph[i] = "?"
			args = append(args, string(t))
		}
		where = append(where, "type IN ("+strings.Join(ph, ",")+")")
	}
	q := `SELECT ` + memoryColumns + ` FROM memories WHERE ` + strings.Join(where, " AND ") + ` ORDER BY id`
	mems, err := s.queryMemories(ctx, q, args...)
	return mems, storeErr("find by session", err)
}

func (s *SQLiteStore) FindByKey(ctx context.Context, sessionID, key string, activeOnly bool) ([]model.Memory, error) {
	q := `SELECT ` + memoryColumns + ` FROM memories WHERE session_id = ? AND key = ?`
	if activeOnly {
		q += ` AND is_active = 1`
	}
	q += ` ORDER BY id`
	mems, err := s.queryMemories(ctx, q, sessionID, key)
	return mems, storeErr("find by key", err)
}

func (s *SQLiteStore) FindByID(ctx context.Context, id string) (*model.Memory, error) {
	mems, err := s.queryMemories(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	if err != nil {
		return nil, storeErr("find by id", err)
	}
	if len(mems) == 0 {
		return nil, ErrNotFound
	}
	return &mems[0], nil
}

func (s *SQLiteStore) UpdateFields(ctx context.Context, id string, f Fields) error {
	sets := []string{"updated_at = ?"}
	args := []interface{}{time.Now().UTC().Format(time.RFC3339Nano)}
	if f.IsActive != nil {
		sets = append(sets, "is_active = ?")
		args = append(args, boolInt(*f.IsActive))
	}
	if f.LastUsedTurn != nil {
		sets = append(sets, "last_used_turn = MAX(last_used_turn, source_turn, ?)")
		args = append(args, *f.LastUsedTurn)
	}
	if f.AccessCountIncr != 0 {
		sets = append(sets, "access_count = access_count + ?")
		args = append(args, f.AccessCountIncr)
	}
	if f.ImportanceScore != nil {
		sets = append(sets, "importance_score = ?")
		args = append(args, *f.ImportanceScore)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, `UPDATE memories SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return storeErr("update", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// queryMemories runs q and attaches related ids. Rows are fully drained
// before the link query runs.
func (s *SQLiteStore) queryMemories(ctx context.Context, q string, args ...interface{}) ([]model.Memory, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	var memories []model.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if err := s.attachRelated(ctx, memories); err != nil {
		return nil, err
	}
	return memories, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(row scanner) (model.Memory, error) {
	var m model.Memory
	var typ, createdAt string
	var blob []byte
	var active int
	var tagsJSON, ctxText, updatedAt sql.NullString

	err := row.Scan(
		&m.ID, &m.SessionID, &typ, &m.Key, &m.Value, &m.Text, &blob, &m.Confidence,
		&m.ImportanceScore, &m.SourceTurn, &m.LastUsedTurn, &m.AccessCount, &active,
		&tagsJSON, &ctxText, &createdAt, &updatedAt,
	)
	if err != nil {
		return m, err
	}

	m.Type = model.Type(typ)
	m.IsActive = active != 0
	if m.Embedding, err = decodeVector(blob); err != nil {
		return m, fmt.Errorf("memory %s: %w", m.ID, err)
	}
	m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if updatedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, updatedAt.String)
		m.UpdatedAt = &t
	}
	if ctxText.Valid {
		m.Context = ctxText.String
	}
	if tagsJSON.Valid {
		json.Unmarshal([]byte(tagsJSON.String), &m.Tags)
	}
	return m, nil
}

func marshalTags(tags []string) string {
	b, _ := json.Marshal(tags)
	return string(b)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

package conversation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	local_id    TEXT PRIMARY KEY,
	upstream_id TEXT,
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	local_id          TEXT NOT NULL,
	role              TEXT NOT NULL,
	content           TEXT NOT NULL,
	prompt_tokens     INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens      INTEGER NOT NULL DEFAULT 0,
	created_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_local ON messages(local_id, id);

CREATE TABLE IF NOT EXISTS credit_ledger (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	user       TEXT NOT NULL,
	delta      INTEGER NOT NULL,
	reason     TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ledger_user ON credit_ledger(user);
`

// SQLiteStore is the durable Store backend.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path.
// Use ":memory:" for an in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// SQLite allows one writer; serialize through a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) EnsureHandle(ctx context.Context, localID string) (*Handle, error) {
	now := time.Now().UTC().Unix()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (local_id, created_at, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(local_id) DO NOTHING`,
		localID, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("ensure handle: %w", err)
	}
	return s.GetHandle(ctx, localID)
}

func (s *SQLiteStore) GetHandle(ctx context.Context, localID string) (*Handle, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT local_id, upstream_id, created_at, updated_at FROM conversations WHERE local_id = ?`,
		localID,
	)
	return scanHandle(row, localID)
}

func (s *SQLiteStore) ListHandles(ctx context.Context) ([]*Handle, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT local_id, upstream_id, created_at, updated_at FROM conversations
		 ORDER BY created_at DESC, local_id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list handles: %w", err)
	}
	defer rows.Close()

	var out []*Handle
	for rows.Next() {
		h, err := scanHandle(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// SetUpstreamID performs the first-writer-wins conditional write as a single
// row-level update: it only lands when no id is stored yet (or the same id
// is already stored, which is a no-op success).
func (s *SQLiteStore) SetUpstreamID(ctx context.Context, localID, upstreamID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET upstream_id = ?, updated_at = ?
		 WHERE local_id = ? AND (upstream_id IS NULL OR upstream_id = ?)`,
		upstreamID, time.Now().UTC().Unix(), localID, upstreamID,
	)
	if err != nil {
		return false, fmt.Errorf("set upstream id: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set upstream id: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	// Nothing matched: missing row, or a different id already stored.
	if _, err := s.GetHandle(ctx, localID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *SQLiteStore) ClearUpstreamID(ctx context.Context, localID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET upstream_id = NULL, updated_at = ? WHERE local_id = ?`,
		time.Now().UTC().Unix(), localID,
	)
	if err != nil {
		return fmt.Errorf("clear upstream id: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("clear upstream id: %w", err)
	}
	if n == 0 {
		return ErrNotFound{LocalID: localID}
	}
	return nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, m *Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (local_id, role, content, prompt_tokens, completion_tokens, total_tokens, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.LocalID, string(m.Role), m.Content, m.PromptTokens, m.CompletionTokens, m.TotalTokens, m.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	m.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, localID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, local_id, role, content, prompt_tokens, completion_tokens, total_tokens, created_at
		 FROM messages WHERE local_id = ? ORDER BY id ASC`,
		localID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var m Message
		var role string
		var created int64
		if err := rows.Scan(&m.ID, &m.LocalID, &role, &m.Content,
			&m.PromptTokens, &m.CompletionTokens, &m.TotalTokens, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = Role(role)
		m.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AddLedgerEntry(ctx context.Context, e *LedgerEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO credit_ledger (user, delta, reason, created_at) VALUES (?, ?, ?, ?)`,
		e.User, e.Delta, e.Reason, e.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("add ledger entry: %w", err)
	}
	e.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("add ledger entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreditBalance(ctx context.Context, user string) (int64, error) {
	var sum sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT SUM(delta) FROM credit_ledger WHERE user = ?`, user,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("credit balance: %w", err)
	}
	return sum.Int64, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHandle(row rowScanner, localID string) (*Handle, error) {
	var h Handle
	var upstream sql.NullString
	var created, updated int64
	if err := row.Scan(&h.LocalID, &upstream, &created, &updated); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound{LocalID: localID}
		}
		return nil, fmt.Errorf("scan handle: %w", err)
	}
	if upstream.Valid {
		h.UpstreamID = &upstream.String
	}
	h.CreatedAt = time.Unix(created, 0).UTC()
	h.UpdatedAt = time.Unix(updated, 0).UTC()
	return &h, nil
}

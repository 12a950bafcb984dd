// Package history persists terminal command history in SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/zjrosen/codexgui/internal/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS commands (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	command TEXT NOT NULL,
	dir TEXT NOT NULL DEFAULT '',
	exit_code INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_commands_created_at ON commands(created_at);
`

// Entry is one recorded command.
type Entry struct {
	ID        int64     `json:"id"`
	Command   string    `json:"command"`
	Dir       string    `json:"dir"`
	ExitCode  int       `json:"exitCode"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store is the command history database.
type Store struct {
	conn *sql.DB
	path string
}

// Open opens (creating if needed) the history database at path.
// The parent directory is created with 0700 permissions.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)"
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		log.ErrorErr(log.CatHistory, "Failed to open database", err, "path", path)
		return nil, err
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		log.ErrorErr(log.CatHistory, "Failed to ping database", err, "path", path)
		return nil, err
	}
	if _, err := conn.Exec(schema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create history schema: %w", err)
	}

	log.Debug(log.CatHistory, "Opened history", "path", path)
	return &Store{conn: conn, path: path}, nil
}

// Path returns the database file.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Append records e and returns it with ID set. A zero CreatedAt means now.
func (s *Store) Append(ctx context.Context, e Entry) (Entry, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	result, err := s.conn.ExecContext(ctx,
		`INSERT INTO commands (command, dir, exit_code, created_at) VALUES (?, ?, ?, ?)`,
		e.Command, e.Dir, e.ExitCode, e.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to insert command: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return Entry{}, fmt.Errorf("failed to get last insert id: %w", err)
	}
	e.ID = id
	return e, nil
}

// Recent returns the last n commands, oldest first. n <= 0 returns all.
func (s *Store) Recent(ctx context.Context, n int) ([]Entry, error) {
	query := `SELECT id, command, dir, exit_code, created_at FROM (
		SELECT id, command, dir, exit_code, created_at FROM commands ORDER BY id DESC LIMIT ?
	) ORDER BY id ASC`
	limit := n
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var e Entry
		var created int64
		if err := rows.Scan(&e.ID, &e.Command, &e.Dir, &e.ExitCode, &created); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		e.CreatedAt = time.UnixMilli(created)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return out, nil
}

// Clear removes every recorded command.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM commands`); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return nil
}

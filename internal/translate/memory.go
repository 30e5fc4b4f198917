package translate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteMemory 是基于 SQLite 的译文缓存，按 (from, to, source) 唯一。
// 重跑时命中缓存可节省翻译配额。
type SQLiteMemory struct {
	db   *sql.DB
	path string
}

// OpenMemory 打开（必要时创建）path 处的缓存库。
func OpenMemory(path string) (*SQLiteMemory, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating memory directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening memory: %w", err)
	}
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS translations (
			src_lang   TEXT NOT NULL,
			dst_lang   TEXT NOT NULL,
			source     TEXT NOT NULL,
			translated TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (src_lang, dst_lang, source)
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating translations table: %w", err)
	}
	return &SQLiteMemory{db: db, path: path}, nil
}

// Lookup 返回缓存译文；未命中时 ok=false。
func (m *SQLiteMemory) Lookup(ctx context.Context, from, to, source string) (string, bool, error) {
	var out string
	err := m.db.QueryRowContext(ctx,
		`SELECT translated FROM translations WHERE src_lang = ? AND dst_lang = ? AND source = ?`,
		from, to, source).Scan(&out)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("querying memory: %w", err)
	}
	return out, true, nil
}

// Store 写入或覆盖一条译文。
func (m *SQLiteMemory) Store(ctx context.Context, from, to, source, translated string) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO translations (src_lang, dst_lang, source, translated) VALUES (?, ?, ?, ?)
		ON CONFLICT (src_lang, dst_lang, source) DO UPDATE SET translated = excluded.translated, updated_at = CURRENT_TIMESTAMP
	`, from, to, source, translated)
	if err != nil {
		return fmt.Errorf("storing memory: %w", err)
	}
	return nil
}

// Count 返回缓存条目数。
func (m *SQLiteMemory) Count(ctx context.Context) (int, error) {
	var n int
	if err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM translations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting memory: %w", err)
	}
	return n, nil
}

// Path returns the database file path.
func (m *SQLiteMemory) Path() string { return m.path }

// Close closes the database connection.
func (m *SQLiteMemory) Close() error { return m.db.Close() }

var _ Memory = (*SQLiteMemory)(nil)

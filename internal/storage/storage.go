package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"stash/internal/feed"
)

// Fixed-width UTC timestamps so created_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, errors.New("db path is empty")
	}
	if !strings.HasPrefix(dbPath, "file:") {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, err
		}
	}
	dsn := sqliteDSN(dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ensureSchema() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS items (
	id TEXT PRIMARY KEY,
	created_at TEXT NOT NULL,
	starred INTEGER NOT NULL DEFAULT 0,
	archived INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'pending'
);
CREATE INDEX IF NOT EXISTS items_created_at ON items (created_at DESC, id DESC);`
	if _, err := s.db.Exec(ddl); err != nil {
		return err
	}
	return s.ensureItemColumns()
}

// ensureItemColumns upgrades databases created before publishing and
// free-form display fields existed.
func (s *Store) ensureItemColumns() error {
	required := map[string]string{
		"published": "ALTER TABLE items ADD COLUMN published INTEGER NOT NULL DEFAULT 0;",
		"extra":     "ALTER TABLE items ADD COLUMN extra TEXT NOT NULL DEFAULT '{}';",
	}
	existing := map[string]struct{}{}
	rows, err := s.db.Query(`PRAGMA table_info(items);`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return err
		}
		existing[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()
	for col, alter := range required {
		if _, ok := existing[col]; ok {
			continue
		}
		if _, err := s.db.Exec(alter); err != nil {
			return err
		}
	}
	return nil
}

const itemColumns = `id, created_at, starred, archived, published, status, extra`

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(sc scanner) (feed.Item, error) {
	var it feed.Item
	var starred, archived, published int
	var createdStr, status, extraStr string
	if err := sc.Scan(&it.ID, &createdStr, &starred, &archived, &published, &status, &extraStr); err != nil {
		return feed.Item{}, err
	}
	it.Starred = starred == 1
	it.Archived = archived == 1
	it.Published = published == 1
	it.Status = feed.Status(status)
	if created, err := time.Parse(timeLayout, createdStr); err == nil {
		it.CreatedAt = created
	} else if created, err := time.Parse(time.RFC3339, createdStr); err == nil {
		it.CreatedAt = created
	}
	if extraStr != "" && extraStr != "{}" {
		if err := json.Unmarshal([]byte(extraStr), &it.Extra); err != nil {
			return feed.Item{}, fmt.Errorf("item %s: extra: %w", it.ID, err)
		}
	}
	return it, nil
}

func filterClause(f feed.Filter) (string, error) {
	switch f {
	case feed.FilterActive:
		return `WHERE archived = 0`, nil
	case feed.FilterStarred:
		return `WHERE starred = 1`, nil
	case feed.FilterArchived:
		return `WHERE archived = 1`, nil
	case feed.FilterAll:
		return ``, nil
	}
	return "", fmt.Errorf("unknown filter %q", f)
}

// Query returns one page of items matching f, newest first.
func (s *Store) Query(ctx context.Context, f feed.Filter, offset, limit int) ([]feed.Item, error) {
	where, err := filterClause(f)
	if err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items `+where+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?;`,
		limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []feed.Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) Get(ctx context.Context, id string) (feed.Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?;`, id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return feed.Item{}, feed.NotFoundError{ID: id}
	}
	return it, err
}

// Insert stores it. It reports false when the id already exists.
func (s *Store) Insert(ctx context.Context, it feed.Item) (bool, error) {
	if it.ID == "" {
		return false, errors.New("insert: empty id")
	}
	if it.Status == "" {
		it.Status = feed.StatusPending
	}
	if it.CreatedAt.IsZero() {
		it.CreatedAt = time.Now()
	}
	extra, err := encodeExtra(it.Extra)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO items (`+itemColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?);`,
		it.ID, it.CreatedAt.UTC().Format(timeLayout), boolInt(it.Starred), boolInt(it.Archived),
		boolInt(it.Published), string(it.Status), extra)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Patch merges p into the stored item and returns the result.
func (s *Store) Patch(ctx context.Context, id string, p feed.Patch) (feed.Item, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return feed.Item{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?;`, id)
	cur, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return feed.Item{}, feed.NotFoundError{ID: id}
	}
	if err != nil {
		return feed.Item{}, err
	}
	next := p.Apply(cur)
	extra, err := encodeExtra(next.Extra)
	if err != nil {
		return feed.Item{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE items SET created_at = ?, starred = ?, archived = ?, published = ?, status = ?, extra = ? WHERE id = ?;`,
		next.CreatedAt.UTC().Format(timeLayout), boolInt(next.Starred), boolInt(next.Archived),
		boolInt(next.Published), string(next.Status), extra, id); err != nil {
		return feed.Item{}, err
	}
	if err := tx.Commit(); err != nil {
		return feed.Item{}, err
	}
	return next, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE id = ?;`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return feed.NotFoundError{ID: id}
	}
	return nil
}

func encodeExtra(extra map[string]json.RawMessage) (string, error) {
	if len(extra) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(extra)
	if err != nil {
		return "", fmt.Errorf("encode extra: %w", err)
	}
	return string(b), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func sqliteDSN(path string) string {
	if strings.HasPrefix(path, "file:") {
		return path
	}
	abs, err := filepath.Abs(path)
	if err == nil {
		path = abs
	}
	u := url.URL{
		Scheme: "file",
		Path:   path,
	}
	q := u.Query()
	q.Set("mode", "rwc")
	q.Set("_pragma", "busy_timeout(5000)")
	u.RawQuery = q.Encode()
	return u.String()
}

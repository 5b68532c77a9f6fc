package defensefile

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// SQLStore persists chains in a relational database. One row per entry,
// keyed by (project_id, sequence); the head is the max-sequence row.
type SQLStore struct {
	db       *sql.DB
	postgres bool
}

const createEntriesTable = `
CREATE TABLE IF NOT EXISTS defense_entries (
	project_id TEXT NOT NULL,
	sequence   BIGINT NOT NULL,
	hash       TEXT NOT NULL,
	prev_hash  TEXT NOT NULL,
	entry      TEXT NOT NULL,
	PRIMARY KEY (project_id, sequence)
)`

// NewSQLiteStore opens (or creates) a SQLite-backed store at path.
func NewSQLiteStore(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("defensefile: open sqlite: %w", err)
	}
	return newSQLStore(db, false)
}

// NewPostgresStore connects to a PostgreSQL-backed store.
func NewPostgresStore(dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("defensefile: open postgres: %w", err)
	}
	return newSQLStore(db, true)
}

func newSQLStore(db *sql.DB, postgres bool) (*SQLStore, error) {
	if _, err := db.Exec(createEntriesTable); err != nil {
		return nil, fmt.Errorf("defensefile: create schema: %w", err)
	}
	return &SQLStore{db: db, postgres: postgres}, nil
}

// NewSQLStoreFromDB wraps an existing connection, used by tests.
func NewSQLStoreFromDB(db *sql.DB, postgres bool) *SQLStore {
	return &SQLStore{db: db, postgres: postgres}
}

// bind rewrites ? placeholders to $n for PostgreSQL.
func (s *SQLStore) bind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) Append(ctx context.Context, projectID string, entry Entry, prevHash string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("defensefile: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	head, seq, err := s.headTx(ctx, tx, projectID)
	if err != nil {
		return "", err
	}
	if head != prevHash {
		return "", fmt.Errorf("stale prev hash for %s: head is %s", projectID, head)
	}
	if entry.Sequence != seq+1 {
		return "", fmt.Errorf("sequence gap for %s: expected %d, got %d", projectID, seq+1, entry.Sequence)
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("defensefile: marshal entry: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		s.bind(`INSERT INTO defense_entries (project_id, sequence, hash, prev_hash, entry) VALUES (?, ?, ?, ?, ?)`),
		projectID, entry.Sequence, entry.Hash, entry.PrevHash, string(payload))
	if err != nil {
		return "", fmt.Errorf("defensefile: insert entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("defensefile: commit: %w", err)
	}
	return entry.Hash, nil
}

func (s *SQLStore) headTx(ctx context.Context, tx *sql.Tx, projectID string) (string, uint64, error) {
	var hash string
	var seq uint64
	err := tx.QueryRowContext(ctx,
		s.bind(`SELECT hash, sequence FROM defense_entries WHERE project_id = ? ORDER BY sequence DESC LIMIT 1`),
		projectID).Scan(&hash, &seq)
	if errors.Is(err, sql.ErrNoRows) {
		return GenesisHash, 0, nil
	}
	if err != nil {
		return "", 0, fmt.Errorf("defensefile: query head: %w", err)
	}
	return hash, seq, nil
}

func (s *SQLStore) Read(ctx context.Context, projectID string) ([]Entry, string, error) {
	rows, err := s.db.QueryContext(ctx,
		s.bind(`SELECT entry FROM defense_entries WHERE project_id = ? ORDER BY sequence ASC`),
		projectID)
	if err != nil {
		return nil, "", fmt.Errorf("defensefile: query entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, "", fmt.Errorf("defensefile: scan entry: %w", err)
		}
		var e Entry
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			return nil, "", fmt.Errorf("defensefile: parse entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("defensefile: iterate entries: %w", err)
	}
	head := GenesisHash
	if len(entries) > 0 {
		head = entries[len(entries)-1].Hash
	}
	return entries, head, nil
}

func (s *SQLStore) Head(ctx context.Context, projectID string) (string, uint64, error) {
	var hash string
	var seq uint64
	err := s.db.QueryRowContext(ctx,
		s.bind(`SELECT hash, sequence FROM defense_entries WHERE project_id = ? ORDER BY sequence DESC LIMIT 1`),
		projectID).Scan(&hash, &seq)
	if errors.Is(err, sql.ErrNoRows) {
		return GenesisHash, 0, nil
	}
	if err != nil {
		return "", 0, fmt.Errorf("defensefile: query head: %w", err)
	}
	return hash, seq, nil
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error { return s.db.Close() }

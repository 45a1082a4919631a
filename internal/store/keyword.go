package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// FTSKeywordIndex implements KeywordIndex on SQLite FTS5 with bm25
// ranking. One row per content key; body, alt text, and transcript are
// separate columns so all modalities stay reachable from a text query.
type FTSKeywordIndex struct {
	mu        sync.RWMutex
	db        *sql.DB
	stopWords map[string]struct{}
	closed    bool
}

// NewFTSKeywordIndex opens (or creates) the keyword index at path.
// An empty path creates an in-memory index for testing.
func NewFTSKeywordIndex(path string) (*FTSKeywordIndex, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create index directory: %w", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open keyword index: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	idx := &FTSKeywordIndex{
		db:        db,
		stopWords: BuildStopWordMap(DefaultStopWords),
	}
	if err := idx.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return idx, nil
}

func (s *FTSKeywordIndex) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	-- Text columns hold pre-tokenized, stop-word-filtered prose.
	-- content_key and modality ride along unindexed so they stay out
	-- of bm25 term statistics.
	CREATE VIRTUAL TABLE IF NOT EXISTS fts_fields USING fts5(
		content_key UNINDEXED,
		modality UNINDEXED,
		body,
		alt_text,
		transcript,
		tokenize='unicode61'
	);

	-- FTS5 tables cannot be probed for membership cheaply, so track
	-- indexed keys separately.
	CREATE TABLE IF NOT EXISTS indexed_keys (
		content_key TEXT PRIMARY KEY,
		modality    TEXT NOT NULL
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Upsert replaces the indexed fields for a content key.
// FTS5 virtual tables do not support REPLACE, so delete then insert.
func (s *FTSKeywordIndex) Upsert(ctx context.Context, contentKey string, fields KeywordFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM fts_fields WHERE content_key = ?`, contentKey); err != nil {
		return fmt.Errorf("delete existing %s: %w", contentKey, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO fts_fields (content_key, modality, body, alt_text, transcript)
		VALUES (?, ?, ?, ?, ?)`,
		contentKey, string(fields.Modality),
		s.preprocess(fields.Body), s.preprocess(fields.AltText), s.preprocess(fields.Transcript))
	if err != nil {
		return fmt.Errorf("index %s: %w", contentKey, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO indexed_keys (content_key, modality) VALUES (?, ?)`,
		contentKey, string(fields.Modality)); err != nil {
		return fmt.Errorf("track %s: %w", contentKey, err)
	}
	return tx.Commit()
}

// Query returns keys matching text across all indexed fields, best match
// first, ties broken by content key. An empty or all-stop-word query
// yields an empty result.
func (s *FTSKeywordIndex) Query(ctx context.Context, text string, limit int) ([]*KeywordResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if strings.TrimSpace(text) == "" {
		return []*KeywordResult{}, nil
	}
	processed := s.preprocess(text)
	if processed == "" {
		return []*KeywordResult{}, nil
	}

	// bm25() is negative with lower = better, so ascending order ranks
	// best first; negate on the way out.
	rows, err := s.db.QueryContext(ctx, `
		SELECT content_key, modality, bm25(fts_fields) AS score
		FROM fts_fields
		WHERE fts_fields MATCH ?
		ORDER BY score, content_key
		LIMIT ?`, processed, limit)
	if err != nil {
		// Invalid MATCH syntax is a no-hit query, not a failure.
		if strings.Contains(err.Error(), "fts5:") || strings.Contains(err.Error(), "syntax error") {
			return []*KeywordResult{}, nil
		}
		return nil, fmt.Errorf("keyword query: %w", err)
	}
	defer rows.Close()

	var results []*KeywordResult
	for rows.Next() {
		var contentKey, modality string
		var score float64
		if err := rows.Scan(&contentKey, &modality, &score); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		results = append(results, &KeywordResult{
			ContentKey: contentKey,
			Score:      -score,
			Modality:   Modality(modality),
		})
	}
	return results, rows.Err()
}

// Delete removes content keys from the index.
func (s *FTSKeywordIndex) Delete(ctx context.Context, contentKeys []string) error {
	if len(contentKeys) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("index is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, contentKey := range contentKeys {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM fts_fields WHERE content_key = ?`, contentKey); err != nil {
			return fmt.Errorf("delete %s: %w", contentKey, err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM indexed_keys WHERE content_key = ?`, contentKey); err != nil {
			return fmt.Errorf("untrack %s: %w", contentKey, err)
		}
	}
	return tx.Commit()
}

// Contains checks if a key is indexed.
func (s *FTSKeywordIndex) Contains(ctx context.Context, contentKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, fmt.Errorf("index is closed")
	}

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM indexed_keys WHERE content_key = ?`, contentKey).Scan(&n)
	return n > 0, err
}

// AllKeys returns every indexed content key, sorted.
func (s *FTSKeywordIndex) AllKeys(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("index is closed")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT content_key FROM indexed_keys ORDER BY content_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Close closes the index.
func (s *FTSKeywordIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

var _ KeywordIndex = (*FTSKeywordIndex)(nil)

// preprocess tokenizes and stop-word-filters prose the same way for
// indexing and querying.
func (s *FTSKeywordIndex) preprocess(text string) string {
	tokens := FilterStopWords(TokenizeText(text), s.stopWords)
	return strings.Join(tokens, " ")
}

package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// ContentStore is the durable record of discovered items, their raw
// content, derived artifacts, and ingestion jobs. Backed by SQLite in
// WAL mode.
type ContentStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

// NewContentStore opens (or creates) the content store at path.
// An empty path creates an in-memory store for testing.
func NewContentStore(path string) (*ContentStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open content store: %w", err)
	}

	// Single writer prevents lock contention under the pure Go driver.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// WAL must be set via PRAGMA for modernc.org/sqlite; DSN params are ignored.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	s := &ContentStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *ContentStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS content_items (
		content_key   TEXT PRIMARY KEY,
		modality      TEXT NOT NULL,
		source_url    TEXT NOT NULL DEFAULT '',
		raw_ref       TEXT NOT NULL DEFAULT '',
		alt_text      TEXT NOT NULL DEFAULT '',
		status        TEXT NOT NULL DEFAULT 'pending',
		stale         INTEGER NOT NULL DEFAULT 0,
		discovered_at TIMESTAMP NOT NULL,
		updated_at    TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_items_status ON content_items(status);

	CREATE TABLE IF NOT EXISTS blobs (
		content_key TEXT PRIMARY KEY REFERENCES content_items(content_key),
		data        BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS transcripts (
		content_key TEXT PRIMARY KEY REFERENCES content_items(content_key),
		text        TEXT NOT NULL,
		created_at  TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS embeddings (
		content_key     TEXT NOT NULL REFERENCES content_items(content_key),
		modality        TEXT NOT NULL,
		encoder_version TEXT NOT NULL,
		vector          BLOB NOT NULL,
		created_at      TIMESTAMP NOT NULL,
		PRIMARY KEY (content_key, modality, encoder_version)
	);

	CREATE TABLE IF NOT EXISTS jobs (
		id          TEXT PRIMARY KEY,
		kind        TEXT NOT NULL,
		content_key TEXT NOT NULL,
		payload_ref TEXT NOT NULL DEFAULT '',
		attempts    INTEGER NOT NULL DEFAULT 0,
		state       TEXT NOT NULL DEFAULT 'queued',
		run_after   TIMESTAMP NOT NULL,
		last_error  TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMP NOT NULL,
		updated_at  TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state, run_after);
	CREATE INDEX IF NOT EXISTS idx_jobs_key ON jobs(content_key);

	CREATE TABLE IF NOT EXISTS state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Discover records a discovered content item. Returns true if the key was
// new. Re-discovery of a known key marks it stale and resets its status to
// pending so the pipeline refreshes it; the item row is never deleted.
func (s *ContentStore) Discover(ctx context.Context, item *ContentItem) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, fmt.Errorf("store is closed")
	}

	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM content_items WHERE content_key = ?`, item.Key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("discover %s: %w", item.Key, err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO content_items (content_key, modality, source_url, raw_ref, alt_text, status, stale, discovered_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 'pending', 0, ?, ?)
		ON CONFLICT(content_key) DO UPDATE SET
			source_url = excluded.source_url,
			raw_ref    = excluded.raw_ref,
			alt_text   = excluded.alt_text,
			status     = 'pending',
			stale      = 1,
			updated_at = excluded.updated_at`,
		item.Key, string(item.Modality), item.SourceURL, item.RawRef, item.AltText, now, now)
	if err != nil {
		return false, fmt.Errorf("discover %s: %w", item.Key, err)
	}
	return exists == 0, nil
}

// GetItem returns a content item by key.
func (s *ContentStore) GetItem(ctx context.Context, key string) (*ContentItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	item := &ContentItem{}
	var modality, status string
	var stale int
	err := s.db.QueryRowContext(ctx, `
		SELECT content_key, modality, source_url, raw_ref, alt_text, status, stale, discovered_at, updated_at
		FROM content_items WHERE content_key = ?`, key).
		Scan(&item.Key, &modality, &item.SourceURL, &item.RawRef, &item.AltText,
			&status, &stale, &item.DiscoveredAt, &item.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item %s: %w", key, err)
	}
	item.Modality = Modality(modality)
	item.Status = Status(status)
	item.Stale = stale != 0
	return item, nil
}

// SetItemStatus advances an item's pipeline status.
func (s *ContentStore) SetItemStatus(ctx context.Context, key string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE content_items SET status = ?, updated_at = ? WHERE content_key = ?`,
		string(status), time.Now().UTC(), key)
	if err != nil {
		return fmt.Errorf("set status %s=%s: %w", key, status, err)
	}
	return nil
}

// MarkIndexed records that an item's artifacts are visible in both
// indexes. Also clears the stale flag set by re-discovery.
func (s *ContentStore) MarkIndexed(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE content_items SET status = 'indexed', stale = 0, updated_at = ? WHERE content_key = ?`,
		time.Now().UTC(), key)
	if err != nil {
		return fmt.Errorf("mark indexed %s: %w", key, err)
	}
	return nil
}

// ListItemKeys returns keys with the given status.
func (s *ContentStore) ListItemKeys(ctx context.Context, status Status) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT content_key FROM content_items WHERE status = ? ORDER BY content_key`, string(status))
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

// AllItemKeys returns every content key with its status.
func (s *ContentStore) AllItemKeys(ctx context.Context) (map[string]Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT content_key, status FROM content_items`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]Status)
	for rows.Next() {
		var k, st string
		if err := rows.Scan(&k, &st); err != nil {
			return nil, err
		}
		out[k] = Status(st)
	}
	return out, rows.Err()
}

// SaveBlob stores fetched raw bytes for a content key.
func (s *ContentStore) SaveBlob(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO blobs (content_key, data) VALUES (?, ?)`, key, data)
	if err != nil {
		return fmt.Errorf("save blob %s: %w", key, err)
	}
	return nil
}

// GetBlob returns the raw bytes for a content key, or nil if absent.
func (s *ContentStore) GetBlob(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM blobs WHERE content_key = ?`, key).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get blob %s: %w", key, err)
	}
	return data, nil
}

// SaveTranscript stores the speech-to-text output for an audio item.
func (s *ContentStore) SaveTranscript(ctx context.Context, t *Transcript) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO transcripts (content_key, text, created_at) VALUES (?, ?, ?)`,
		t.ContentKey, t.Text, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save transcript %s: %w", t.ContentKey, err)
	}
	return nil
}

// GetTranscript returns the transcript for a content key, or nil.
func (s *ContentStore) GetTranscript(ctx context.Context, key string) (*Transcript, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	t := &Transcript{ContentKey: key}
	err := s.db.QueryRowContext(ctx,
		`SELECT text, created_at FROM transcripts WHERE content_key = ?`, key).
		Scan(&t.Text, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get transcript %s: %w", key, err)
	}
	return t, nil
}

// SaveEmbedding stores a derived vector. Rows are keyed by (content key,
// modality, encoder version): re-embedding under a new version supersedes
// rather than mutates.
func (s *ContentStore) SaveEmbedding(ctx context.Context, e *Embedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO embeddings (content_key, modality, encoder_version, vector, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.ContentKey, string(e.Modality), e.EncoderVersion, encodeVector(e.Vector), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save embedding %s: %w", e.ContentKey, err)
	}
	return nil
}

// GetEmbedding returns the vector for (key, modality, encoderVersion), or nil.
func (s *ContentStore) GetEmbedding(ctx context.Context, key string, modality Modality, encoderVersion string) (*Embedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	var blob []byte
	e := &Embedding{ContentKey: key, Modality: modality, EncoderVersion: encoderVersion}
	err := s.db.QueryRowContext(ctx, `
		SELECT vector, created_at FROM embeddings
		WHERE content_key = ? AND modality = ? AND encoder_version = ?`,
		key, string(modality), encoderVersion).Scan(&blob, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get embedding %s: %w", key, err)
	}
	e.Vector = decodeVector(blob)
	return e, nil
}

// CountEmbeddings returns the number of embedding rows for (key, modality).
// Used to verify the at-most-one-per-version invariant.
func (s *ContentStore) CountEmbeddings(ctx context.Context, key string, modality Modality) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM embeddings WHERE content_key = ? AND modality = ?`,
		key, string(modality)).Scan(&n)
	return n, err
}

// GetState reads a runtime state value.
func (s *ContentStore) GetState(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return v, err
}

// SetState writes a runtime state value.
func (s *ContentStore) SetState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO state (key, value) VALUES (?, ?)`, key, value)
	return err
}

// Close closes the store after a final WAL checkpoint.
func (s *ContentStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// encodeVector packs a float32 slice little-endian.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector unpacks a little-endian float32 slice.
func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

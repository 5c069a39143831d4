package artifacts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/aelwyn/go-drafter/internal/domain"
)

// SQLiteStore persists artifacts in a single key-addressed SQLite table.
// Suitable for worker deployments where drafts must survive process
// restarts. Puts are idempotent upserts keyed by artifact key.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// NewSQLiteStore opens (creating if necessary) the SQLite database at the
// given path and ensures the artifacts table exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact database: %w", err)
	}

	store := &SQLiteStore{db: db, dbPath: path}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initialize creates the artifacts table.
func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS artifacts (
		key TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		content TEXT NOT NULL,
		size INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_artifacts_kind ON artifacts(kind);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create artifacts table: %w", err)
	}

	return nil
}

// Get retrieves stored content by artifact key.
func (s *SQLiteStore) Get(ctx context.Context, ref domain.ArtifactRef) (string, error) {
	if ref.Key == "" {
		return "", ErrArtifactKeyEmpty
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var content string
	err := s.db.QueryRowContext(ctx,
		"SELECT content FROM artifacts WHERE key = ?", ref.Key,
	).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrArtifactNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read artifact %q: %w", ref.Key, err)
	}

	return content, nil
}

// Put stores content under the given key, replacing any previous content.
func (s *SQLiteStore) Put(
	ctx context.Context, content string, kind domain.ArtifactKind, key string,
) (domain.ArtifactRef, error) {
	if key == "" {
		return domain.ArtifactRef{}, ErrArtifactKeyEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO artifacts (key, kind, content, size) VALUES (?, ?, ?, ?)",
		key, string(kind), content, int64(len(content)),
	)
	if err != nil {
		return domain.ArtifactRef{}, fmt.Errorf("failed to store artifact %q: %w", key, err)
	}

	ref := domain.ArtifactRef{
		Key:  key,
		Size: int64(len(content)),
		Kind: kind,
	}

	return ref, nil
}

// Exists checks artifact presence without retrieving content.
func (s *SQLiteStore) Exists(ctx context.Context, ref domain.ArtifactRef) (bool, error) {
	if ref.Key == "" {
		return false, ErrArtifactKeyEmpty
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM artifacts WHERE key = ?", ref.Key,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check artifact %q: %w", ref.Key, err)
	}

	return true, nil
}

// Delete removes an artifact. Deleting a missing key succeeds.
func (s *SQLiteStore) Delete(ctx context.Context, ref domain.ArtifactRef) error {
	if ref.Key == "" {
		return ErrArtifactKeyEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM artifacts WHERE key = ?", ref.Key); err != nil {
		return fmt.Errorf("failed to delete artifact %q: %w", ref.Key, err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Package artifacts provides content storage for drafted sections, record
// tables, and report bundles. Large text lives here instead of inside
// workflow histories; activities pass domain.ArtifactRef values around.
package artifacts

import (
	"context"
	"errors"
	"sync"

	"github.com/aelwyn/go-drafter/internal/domain"
)

// Artifact store errors.
var (
	ErrArtifactKeyEmpty = errors.New("artifact key cannot be empty")
	ErrArtifactNotFound = errors.New("artifact not found")
)

// Store provides external content storage and retrieval for drafting
// operations. Section drafts, rendered record tables, and the final report
// bundle are kept out of workflow payloads and addressed by reference.
type Store interface {
	// Get retrieves stored content using the artifact reference key.
	// Returns content string or an error for missing/invalid references.
	Get(ctx context.Context, ref domain.ArtifactRef) (string, error)

	// Put stores content and returns an artifact reference for future
	// retrieval. Puts are idempotent: storing the same key twice keeps
	// the most recent content.
	Put(ctx context.Context, content string, kind domain.ArtifactKind, key string) (domain.ArtifactRef, error)

	// Exists checks artifact presence without content retrieval.
	Exists(ctx context.Context, ref domain.ArtifactRef) (bool, error)

	// Delete removes a stored artifact. Deleting a missing key is a no-op.
	Delete(ctx context.Context, ref domain.ArtifactRef) error

	// Close releases any resources held by the backend.
	Close() error
}

// MemoryStore provides in-memory artifact storage for tests and one-shot
// local pipeline runs. Worker deployments should use the SQLite backend.
type MemoryStore struct {
	mu      sync.RWMutex
	storage map[string]string
	kinds   map[string]domain.ArtifactKind
}

// NewMemoryStore creates an empty in-memory artifact store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		storage: make(map[string]string),
		kinds:   make(map[string]domain.ArtifactKind),
	}
}

// Get retrieves stored content from memory.
func (s *MemoryStore) Get(_ context.Context, ref domain.ArtifactRef) (string, error) {
	if ref.Key == "" {
		return "", ErrArtifactKeyEmpty
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	content, exists := s.storage[ref.Key]
	if !exists {
		return "", ErrArtifactNotFound
	}

	return content, nil
}

// Put stores content in memory and returns its reference.
func (s *MemoryStore) Put(
	_ context.Context, content string, kind domain.ArtifactKind, key string,
) (domain.ArtifactRef, error) {
	if key == "" {
		return domain.ArtifactRef{}, ErrArtifactKeyEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.storage[key] = content
	s.kinds[key] = kind

	ref := domain.ArtifactRef{
		Key:  key,
		Size: int64(len(content)),
		Kind: kind,
	}

	return ref, nil
}

// Exists checks artifact presence without retrieving content.
func (s *MemoryStore) Exists(_ context.Context, ref domain.ArtifactRef) (bool, error) {
	if ref.Key == "" {
		return false, ErrArtifactKeyEmpty
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.storage[ref.Key]
	return exists, nil
}

// Delete removes an artifact from memory. Idempotent.
func (s *MemoryStore) Delete(_ context.Context, ref domain.ArtifactRef) error {
	if ref.Key == "" {
		return ErrArtifactKeyEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.storage, ref.Key)
	delete(s.kinds, ref.Key)
	return nil
}

// Close is a no-op for the in-memory backend.
func (s *MemoryStore) Close() error { return nil }

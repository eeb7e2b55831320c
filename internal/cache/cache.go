// Package cache is the content-addressed artifact store of the pipeline.
//
// Blobs are keyed by the SHA-256 of their content. The file-backed store
// shards entries by the first two hex characters of the hash and writes every
// entry through a temp file and rename, so readers never observe a partial
// artifact and a cancelled writer leaves nothing behind.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dshills/scenariogen/pkg/types"
)

// ErrMiss is returned by Get when no blob with the hash is stored.
var ErrMiss = errors.New("cache miss")

// Store is a content-addressed blob store.
type Store interface {
	Has(hash string) (bool, error)
	Get(hash string) ([]byte, error)
	Put(data []byte) (string, error)
}

// HashBytes is the content address of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FileStore stores blobs under a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates the store directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir is the root directory of the store.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) Has(hash string) (bool, error) {
	_, err := os.Stat(s.entryPath(hash))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Get returns the blob. A blob whose content no longer matches its hash is
// removed and reported as a miss.
func (s *FileStore) Get(hash string) ([]byte, error) {
	path := s.entryPath(hash)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	if HashBytes(data) != hash {
		_ = os.Remove(path)
		return nil, ErrMiss
	}
	return data, nil
}

func (s *FileStore) Put(data []byte) (string, error) {
	hash := HashBytes(data)
	path := s.entryPath(hash)
	if _, err := os.Stat(path); err == nil {
		return hash, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create cache shard: %w", err)
	}
	if err := WriteFileAtomic(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write cache entry: %w", err)
	}
	return hash, nil
}

// entryPath returns the path of a blob, sharded by its first two hex
// characters.
func (s *FileStore) entryPath(hash string) string {
	if len(hash) < 2 {
		return filepath.Join(s.dir, "objects", hash)
	}
	return filepath.Join(s.dir, "objects", hash[:2], hash)
}

// MemoryStore implements Store in memory.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (s *MemoryStore) Has(hash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[hash]
	return ok, nil
}

func (s *MemoryStore) Get(hash string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[hash]
	if !ok {
		return nil, ErrMiss
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryStore) Put(data []byte) (string, error) {
	hash := HashBytes(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[hash] = append([]byte(nil), data...)
	return hash, nil
}

// Len is the number of stored blobs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

// PutJSON stores the canonical JSON encoding of v. The returned hash equals
// types.ContentHash(v).
func PutJSON(store Store, v any) (string, error) {
	data, err := types.CanonicalJSON(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode artifact: %w", err)
	}
	return store.Put(data)
}

// GetJSON loads and decodes a JSON blob into v.
func GetJSON(store Store, hash string, v any) error {
	data, err := store.Get(hash)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode cache entry %s: %w", hash, err)
	}
	return nil
}

// WriteFileAtomic writes data to a temp file in the destination directory and
// renames it into place.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	tmp, err := os.CreateTemp(dir, "."+base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	_ = tmp.Sync()
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// WriteJSONAtomic writes the canonical JSON encoding of v to path.
func WriteJSONAtomic(path string, v any) error {
	data, err := types.CanonicalJSON(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return WriteFileAtomic(path, data, 0o644)
}

// ReadJSON decodes the JSON file at path into v.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

package safety

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// BackupStore is the capability that preserves pre-mutation file content. It
// is injected into the governor so tests can swap the disk store for an
// in-memory one.
type BackupStore interface {
	// Put stores a backup of the target's current content and returns the
	// backup location.
	Put(target string, content []byte) (string, error)
	// Get returns the content stored at a backup location.
	Get(location string) ([]byte, error)
}

// DiskBackupStore writes timestamped backup files alongside the original.
type DiskBackupStore struct{}

// NewDiskBackupStore creates a disk-backed store.
func NewDiskBackupStore() *DiskBackupStore {
	return &DiskBackupStore{}
}

// Put writes content to a sibling file suffixed with the mutation timestamp.
func (s *DiskBackupStore) Put(target string, content []byte) (string, error) {
	stamp := time.Now().UTC().Format("20060102-150405.000000000")
	location := fmt.Sprintf("%s.bak-%s", target, stamp)

	if err := os.MkdirAll(filepath.Dir(location), 0750); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}
	if err := os.WriteFile(location, content, 0600); err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}
	return location, nil
}

// Get reads the content at a backup location.
func (s *DiskBackupStore) Get(location string) ([]byte, error) {
	content, err := os.ReadFile(location)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup: %w", err)
	}
	return content, nil
}

// MemoryBackupStore keeps backups in memory. Used in tests.
type MemoryBackupStore struct {
	mu      sync.Mutex
	entries map[string][]byte
	seq     int
	FailPut bool // when set, Put returns an error
}

// NewMemoryBackupStore creates an in-memory store.
func NewMemoryBackupStore() *MemoryBackupStore {
	return &MemoryBackupStore{entries: make(map[string][]byte)}
}

// Put stores content under a generated location key.
func (s *MemoryBackupStore) Put(target string, content []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailPut {
		return "", fmt.Errorf("backup store unavailable")
	}

	s.seq++
	location := fmt.Sprintf("%s@%d", target, s.seq)
	stored := make([]byte, len(content))
	copy(stored, content)
	s.entries[location] = stored
	return location, nil
}

// Get returns the content stored under location.
func (s *MemoryBackupStore) Get(location string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	content, ok := s.entries[location]
	if !ok {
		return nil, fmt.Errorf("no backup at %s", location)
	}
	out := make([]byte, len(content))
	copy(out, content)
	return out, nil
}

// Len returns the number of stored backups.
func (s *MemoryBackupStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

package ml

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// SnapshotStore persists versioned JSON snapshots of model state under one
// directory per model name, pruning to the most recent keep files.
type SnapshotStore struct {
	mu   sync.Mutex
	dir  string
	keep int
	seq  int64
}

// NewSnapshotStore creates a store rooted at dir keeping the newest keep
// snapshots per model.
func NewSnapshotStore(dir string, keep int) *SnapshotStore {
	if keep <= 0 {
		keep = 10
	}
	return &SnapshotStore{dir: dir, keep: keep}
}

// Save writes a new snapshot version and prunes old ones.
func (s *SnapshotStore) Save(name string, v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	modelDir := filepath.Join(s.dir, name)
	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		return fmt.Errorf("error creating snapshot dir: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling snapshot: %w", err)
	}

	s.seq++
	filename := fmt.Sprintf("%s-%06d.json", time.Now().UTC().Format("20060102-150405"), s.seq)
	if err := os.WriteFile(filepath.Join(modelDir, filename), data, 0o644); err != nil {
		return fmt.Errorf("error writing snapshot: %w", err)
	}

	s.pruneLocked(modelDir)
	return nil
}

// LoadLatest reads the newest snapshot into v. A corrupted file falls back
// to the next older one; ErrNotExist is returned when nothing usable
// remains.
func (s *SnapshotStore) LoadLatest(name string, v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	modelDir := filepath.Join(s.dir, name)
	for _, filename := range s.versionsLocked(modelDir) {
		data, err := os.ReadFile(filepath.Join(modelDir, filename))
		if err != nil {
			continue
		}
		if err := json.Unmarshal(data, v); err != nil {
			continue
		}
		return nil
	}
	return fmt.Errorf("no usable snapshot for %s: %w", name, os.ErrNotExist)
}

// versionsLocked lists snapshot filenames newest first.
func (s *SnapshotStore) versionsLocked(modelDir string) []string {
	entries, err := os.ReadDir(modelDir)
	if err != nil {
		return nil
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names
}

func (s *SnapshotStore) pruneLocked(modelDir string) {
	names := s.versionsLocked(modelDir)
	for i := s.keep; i < len(names); i++ {
		_ = os.Remove(filepath.Join(modelDir, names[i]))
	}
}

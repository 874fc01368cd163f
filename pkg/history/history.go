// Package history keeps the bounded list of recently published posts and
// answers duplicate queries against it.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/cpunion/quote-bot/pkg/textutil"
)

// Store is the recent-post cache. Entries are ordered oldest first.
type Store struct {
	mu sync.RWMutex

	path     string
	capacity int
	posts    []string
	logger   logrus.FieldLogger
}

// Open loads the cache file at path. A missing file yields an empty cache; an
// unreadable or corrupt one is logged and also yields an empty cache.
func Open(path string, capacity int, logger logrus.FieldLogger) *Store {
	if capacity <= 0 {
		capacity = 1
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Store{
		path:     path,
		capacity: capacity,
		posts:    make([]string, 0, capacity),
		logger:   logger,
	}
	if err := s.load(); err != nil {
		logger.WithError(err).WithField("path", path).Warn("Could not load recent posts cache; starting empty")
	}
	return s
}

func (s *Store) load() error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var posts []string
	if err := json.Unmarshal(data, &posts); err != nil {
		return fmt.Errorf("decode %s: %w", s.path, err)
	}
	for _, p := range posts {
		s.appendLocked(p)
	}
	return nil
}

// IsDuplicate reports whether text matches a cached post exactly or after
// normalization.
func (s *Store) IsDuplicate(text string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexLocked(text) >= 0
}

func (s *Store) indexLocked(text string) int {
	for i, p := range s.posts {
		if textutil.SameText(p, text) {
			return i
		}
	}
	return -1
}

// appendLocked adds text as the newest entry. A matching older entry is
// removed first so entries stay unique; the oldest entries are evicted beyond
// capacity.
func (s *Store) appendLocked(text string) {
	if i := s.indexLocked(text); i >= 0 {
		s.posts = append(s.posts[:i], s.posts[i+1:]...)
	}
	s.posts = append(s.posts, text)
	if over := len(s.posts) - s.capacity; over > 0 {
		s.posts = append(s.posts[:0], s.posts[over:]...)
	}
}

// Record appends text, evicts the oldest entries beyond capacity and rewrites
// the cache file. The in-memory cache is updated even when persisting fails.
func (s *Store) Record(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.appendLocked(text)
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	if s.path == "" {
		return nil
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create cache dir: %w", err)
		}
	}

	data, err := json.MarshalIndent(s.posts, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace cache: %w", err)
	}
	return nil
}

// Posts returns a copy of the cached posts, oldest first.
func (s *Store) Posts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.posts))
	copy(out, s.posts)
	return out
}

// Len returns the number of cached posts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.posts)
}

// Capacity returns the maximum number of cached posts.
func (s *Store) Capacity() int {
	return s.capacity
}

// Path returns the cache file path.
func (s *Store) Path() string {
	return s.path
}

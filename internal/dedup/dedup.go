// Package dedup persists the set of already-alerted bid keys as an
// append-only, newline-delimited file. The set only ever grows: once a key
// is recorded the corresponding bid is never alerted again.
package dedup

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Key builds the chain-qualified dedup key for a bid. The same bid number on
// two different chains must alert independently.
func Key(chainID int64, bidID string) string {
	return fmt.Sprintf("%d:%s", chainID, bidID)
}

// Store owns the in-memory set and the backing file. It is safe for
// concurrent use, though the polling pass touches it from a single
// goroutine.
type Store struct {
	mu   sync.Mutex
	path string
	file *os.File
	seen map[string]struct{}
}

// Open loads the persisted set from path and readies the file for appends.
// A missing file is an empty set, not an error.
func Open(path string) (*Store, error) {
	seen := make(map[string]struct{})

	existing, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(existing)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			seen[line] = struct{}{}
		}
		scanErr := scanner.Err()
		existing.Close()
		if scanErr != nil {
			return nil, fmt.Errorf("read alerted bids file: %w", scanErr)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("open alerted bids file: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open alerted bids file for append: %w", err)
	}

	return &Store{path: path, file: file, seen: seen}, nil
}

// Contains reports whether key has already been alerted.
func (s *Store) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[key]
	return ok
}

// Record appends key to the set and the backing file. Recording a key that
// is already present is a no-op.
func (s *Store) Record(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[key]; ok {
		return nil
	}

	if _, err := fmt.Fprintln(s.file, key); err != nil {
		return fmt.Errorf("append alerted bid: %w", err)
	}
	s.seen[key] = struct{}{}
	return nil
}

// Len returns the number of recorded keys.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// Close releases the backing file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

package progress

import (
	"bufio"
	"fmt"
	"os"
	"sync"
)

// Marker is an append-only file of processed natural keys. A rerun loads
// it and skips papers it already handled, so a crashed run resumes
// instead of starting over.
type Marker struct {
	mu   sync.Mutex
	file *os.File
	seen map[string]struct{}
}

// OpenMarker opens or creates the marker file at path and loads the keys
// recorded by earlier runs.
func OpenMarker(path string) (*Marker, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open progress marker: %w", err)
	}

	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			seen[line] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		file.Close()
		return nil, fmt.Errorf("read progress marker: %w", err)
	}

	return &Marker{file: file, seen: seen}, nil
}

// Contains reports whether key was already processed.
func (m *Marker) Contains(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seen[key]
	return ok
}

// Add records key as processed and flushes it to disk.
func (m *Marker) Add(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[key]; ok {
		return nil
	}
	if _, err := fmt.Fprintln(m.file, key); err != nil {
		return fmt.Errorf("append progress marker: %w", err)
	}
	if err := m.file.Sync(); err != nil {
		return fmt.Errorf("sync progress marker: %w", err)
	}
	m.seen[key] = struct{}{}
	return nil
}

// Len reports how many keys are recorded.
func (m *Marker) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}

// Close closes the underlying file.
func (m *Marker) Close() error {
	return m.file.Close()
}

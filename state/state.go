package state

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Tracker remembers messages whose link was already handed out.
type Tracker interface {
	Consumed(hash string) bool
	MarkConsumed(hash, sender string) error
	Snapshot() Snapshot
	Close() error
}

type Snapshot struct {
	Consumed int
}

type MemoryTracker struct {
	mu       sync.RWMutex
	consumed map[string]string
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{consumed: make(map[string]string)}
}

func (m *MemoryTracker) Consumed(hash string) bool {
	if hash == "" {
		return false
	}

	m.mu.RLock()
	_, ok := m.consumed[hash]
	m.mu.RUnlock()
	return ok
}

func (m *MemoryTracker) MarkConsumed(hash, sender string) error {
	m.mark(hash, sender)
	return nil
}

// mark records hash and reports whether it was new.
func (m *MemoryTracker) mark(hash, sender string) bool {
	if hash == "" {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.consumed[hash]; exists {
		return false
	}
	m.consumed[hash] = sender
	return true
}

func (m *MemoryTracker) Snapshot() Snapshot {
	m.mu.RLock()
	count := len(m.consumed)
	m.mu.RUnlock()
	return Snapshot{Consumed: count}
}

func (m *MemoryTracker) Close() error {
	return nil
}

// FileTracker persists consumed message hashes as JSON lines so later runs
// skip them.
type FileTracker struct {
	*MemoryTracker
	path    string
	writer  *bufio.Writer
	file    *os.File
	writeMu sync.Mutex
	now     func() time.Time
}

type fileRecord struct {
	Hash       string    `json:"hash"`
	Sender     string    `json:"sender"`
	ConsumedAt time.Time `json:"consumed_at"`
}

func NewFileTracker(stateDir string) (*FileTracker, error) {
	if strings.TrimSpace(stateDir) == "" {
		return nil, fmt.Errorf("state directory is empty")
	}

	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	tracker := &FileTracker{
		MemoryTracker: NewMemoryTracker(),
		path:          filepath.Join(stateDir, "consumed.jsonl"),
		now:           time.Now,
	}

	if err := tracker.load(); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(tracker.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open state file for append: %w", err)
	}
	tracker.file = file
	tracker.writer = bufio.NewWriter(file)

	return tracker, nil
}

// Path returns the location of the state file.
func (f *FileTracker) Path() string {
	return f.path
}

func (f *FileTracker) load() error {
	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open state file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for line := 1; scanner.Scan(); line++ {
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}

		var record fileRecord
		if err := json.Unmarshal(text, &record); err != nil {
			return fmt.Errorf("parse state line %d: %w", line, err)
		}
		f.mark(record.Hash, record.Sender)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read state file: %w", err)
	}

	return nil
}

// MarkConsumed records hash and writes it through to disk.
func (f *FileTracker) MarkConsumed(hash, sender string) error {
	if !f.mark(hash, sender) {
		return nil
	}

	data, err := json.Marshal(fileRecord{Hash: hash, Sender: sender, ConsumedAt: f.now().UTC()})
	if err != nil {
		return fmt.Errorf("encode state record: %w", err)
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if _, err := f.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write state record: %w", err)
	}
	if err := f.writer.Flush(); err != nil {
		return fmt.Errorf("flush state file: %w", err)
	}
	return nil
}

// Close flushes and closes the state file.
func (f *FileTracker) Close() error {
	if f.file == nil {
		return nil
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	var firstErr error
	if err := f.writer.Flush(); err != nil {
		firstErr = fmt.Errorf("flush state file: %w", err)
	}
	if err := f.file.Sync(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("sync state file: %w", err)
	}
	if err := f.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close state file: %w", err)
	}
	f.file = nil

	return firstErr
}

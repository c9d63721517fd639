// Package sessionlog persists the workspace conversation as an append-only
// sequence of line-delimited JSON records. The store's contract is
// deliberately small: append a line, read all lines. Everything smarter
// (parsing, filtering, replay) lives in the restore pipeline.
package sessionlog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"github.com/sorryhyun/yaar/internal/shared/types"
)

// Record is one persisted session log line. Source is a pointer so legacy
// lines that omitted the field can be told apart from main-channel lines.
type Record struct {
	Type          types.Role    `json:"type"`
	Timestamp     time.Time     `json:"timestamp"`
	AgentID       string        `json:"agentId"`
	ParentAgentID string        `json:"parentAgentId,omitempty"`
	Source        *types.Source `json:"source,omitempty"`
	Content       string        `json:"content"`
}

// FileStore appends records to a JSONL file and reads them back
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a store at the given path, creating parent
// directories as needed
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session log directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Path returns the backing file path
func (s *FileStore) Path() string {
	return s.path
}

// Append marshals the record and appends it as one line
func (s *FileStore) Append(record Record) error {
	data, err := sonic.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal session record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open session log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append session record: %w", err)
	}
	return nil
}

// ReadLines returns every non-empty line in the log. A missing file is an
// empty log, not an error.
func (s *FileStore) ReadLines() ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open session log: %w", err)
	}
	defer f.Close()

	var lines [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		copied := make([]byte, len(line))
		copy(copied, line)
		lines = append(lines, copied)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read session log: %w", err)
	}
	return lines, nil
}

// UnmarshalRecord decodes one log line
func UnmarshalRecord(line []byte) (Record, error) {
	var record Record
	if err := sonic.Unmarshal(line, &record); err != nil {
		return Record{}, fmt.Errorf("malformed session record: %w", err)
	}
	return record, nil
}

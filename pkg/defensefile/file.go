package defensefile

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore journals chains on disk, one directory per project:
//
//	<root>/<project>/entries.log   JSON lines, append-only
//	<root>/<project>/HEAD          {"sequence":N,"hash":"...","offset":B}
//
// An append truncates the log to the committed offset, writes the entry
// line and fsyncs, then replaces the head pointer via rename. A crash
// between the two leaves the store at the previous consistent head; the
// torn tail past the committed offset is discarded by the next append
// and ignored by reads.
type FileStore struct {
	root string
	mu   sync.Mutex
}

type headPointer struct {
	Sequence uint64 `json:"sequence"`
	Hash     string `json:"hash"`
	Offset   int64  `json:"offset"`
}

func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("defensefile: create root: %w", err)
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) projectDir(projectID string) string {
	return filepath.Join(s.root, sanitize(projectID))
}

func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, id)
}

func (s *FileStore) Append(_ context.Context, projectID string, entry Entry, prevHash string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.projectDir(projectID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("defensefile: create project dir: %w", err)
	}

	head, err := s.readHead(dir)
	if err != nil {
		return "", err
	}
	if head.Hash != prevHash && !(head.Sequence == 0 && prevHash == GenesisHash) {
		return "", fmt.Errorf("stale prev hash for %s: head is %s", projectID, head.Hash)
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("defensefile: marshal entry: %w", err)
	}
	line = append(line, '\n')

	logFile, err := os.OpenFile(filepath.Join(dir, "entries.log"), os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return "", fmt.Errorf("defensefile: open log: %w", err)
	}
	defer func() { _ = logFile.Close() }()

	// Drop any torn tail from a previous crash before appending.
	if err := logFile.Truncate(head.Offset); err != nil {
		return "", fmt.Errorf("defensefile: truncate torn tail: %w", err)
	}
	if _, err := logFile.WriteAt(line, head.Offset); err != nil {
		return "", fmt.Errorf("defensefile: write entry: %w", err)
	}
	if err := logFile.Sync(); err != nil {
		return "", fmt.Errorf("defensefile: sync log: %w", err)
	}

	next := headPointer{
		Sequence: entry.Sequence,
		Hash:     entry.Hash,
		Offset:   head.Offset + int64(len(line)),
	}
	if err := s.writeHead(dir, next); err != nil {
		return "", err
	}
	return entry.Hash, nil
}

func (s *FileStore) writeHead(dir string, head headPointer) error {
	data, err := json.Marshal(head)
	if err != nil {
		return fmt.Errorf("defensefile: marshal head: %w", err)
	}
	tmp := filepath.Join(dir, "HEAD.tmp")
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("defensefile: open head tmp: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("defensefile: write head: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("defensefile: sync head: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("defensefile: close head: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, "HEAD")); err != nil {
		return fmt.Errorf("defensefile: swap head: %w", err)
	}
	return nil
}

func (s *FileStore) readHead(dir string) (headPointer, error) {
	data, err := os.ReadFile(filepath.Join(dir, "HEAD"))
	if os.IsNotExist(err) {
		return headPointer{Hash: GenesisHash}, nil
	}
	if err != nil {
		return headPointer{}, fmt.Errorf("defensefile: read head: %w", err)
	}
	var head headPointer
	if err := json.Unmarshal(data, &head); err != nil {
		return headPointer{}, fmt.Errorf("defensefile: parse head: %w", err)
	}
	return head, nil
}

func (s *FileStore) Read(_ context.Context, projectID string) ([]Entry, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.projectDir(projectID)
	head, err := s.readHead(dir)
	if err != nil {
		return nil, "", err
	}
	if head.Sequence == 0 {
		return nil, GenesisHash, nil
	}

	f, err := os.Open(filepath.Join(dir, "entries.log"))
	if err != nil {
		return nil, "", fmt.Errorf("defensefile: open log: %w", err)
	}
	defer func() { _ = f.Close() }()

	// Only the committed range counts; a torn tail is invisible here.
	committed := io.LimitReader(f, head.Offset)
	var entries []Entry
	scanner := bufio.NewScanner(committed)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if len(bytes.TrimSpace(scanner.Bytes())) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, "", fmt.Errorf("defensefile: corrupt entry %d: %w", len(entries)+1, err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, "", fmt.Errorf("defensefile: scan log: %w", err)
	}
	if uint64(len(entries)) != head.Sequence {
		return nil, "", fmt.Errorf("defensefile: log shorter than head: %d < %d", len(entries), head.Sequence)
	}
	return entries, head.Hash, nil
}

func (s *FileStore) Head(_ context.Context, projectID string) (string, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	head, err := s.readHead(s.projectDir(projectID))
	if err != nil {
		return "", 0, err
	}
	return head.Hash, head.Sequence, nil
}

package defensefile

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps chains in process memory. Used by tests and
// single-node deployments without durability requirements.
type MemoryStore struct {
	mu     sync.RWMutex
	chains map[string][]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chains: make(map[string][]Entry)}
}

func (s *MemoryStore) Append(_ context.Context, projectID string, entry Entry, prevHash string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	head := GenesisHash
	if chain := s.chains[projectID]; len(chain) > 0 {
		head = chain[len(chain)-1].Hash
	}
	if head != prevHash {
		return "", fmt.Errorf("stale prev hash for %s: head is %s", projectID, head)
	}
	s.chains[projectID] = append(s.chains[projectID], entry)
	return entry.Hash, nil
}

func (s *MemoryStore) Read(_ context.Context, projectID string) ([]Entry, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chain := s.chains[projectID]
	out := make([]Entry, len(chain))
	copy(out, chain)
	head := GenesisHash
	if len(chain) > 0 {
		head = chain[len(chain)-1].Hash
	}
	return out, head, nil
}

func (s *MemoryStore) Head(_ context.Context, projectID string) (string, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chain := s.chains[projectID]
	if len(chain) == 0 {
		return GenesisHash, 0, nil
	}
	last := chain[len(chain)-1]
	return last.Hash, last.Sequence, nil
}

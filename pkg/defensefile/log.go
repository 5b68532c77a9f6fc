package defensefile

import (
	"context"
	"fmt"
	"time"

	"github.com/tributo-labs/defensor/pkg/contracts"
)

// Store persists entries per project. Append must be atomic and must
// reject a stale prevHash so concurrent writers cannot fork the chain.
type Store interface {
	Append(ctx context.Context, projectID string, entry Entry, prevHash string) (newHash string, err error)
	Read(ctx context.Context, projectID string) (entries []Entry, head string, err error)
	Head(ctx context.Context, projectID string) (string, uint64, error)
}

// Log is the defense-file service: it sequences entries, computes the
// chain hash and delegates persistence.
type Log struct {
	store Store
	clock func() time.Time
}

func NewLog(store Store) *Log {
	return &Log{store: store, clock: time.Now}
}

// WithClock overrides the timestamp source.
func (l *Log) WithClock(clock func() time.Time) *Log {
	l.clock = clock
	return l
}

// Append adds one entry to a project's chain and returns it with its
// sequence and hash filled in.
func (l *Log) Append(ctx context.Context, projectID string, entryType EntryType, actor string, data map[string]any) (*Entry, error) {
	head, seq, err := l.store.Head(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("%w: read head for %s: %w", contracts.ErrStorageFailure, projectID, err)
	}

	entry := Entry{
		Sequence:  seq + 1,
		Type:      entryType,
		ProjectID: projectID,
		Actor:     actor,
		Timestamp: l.clock().UTC(),
		Data:      data,
		PrevHash:  head,
	}
	entry.Hash, err = computeHash(&entry)
	if err != nil {
		return nil, fmt.Errorf("%w: hash entry for %s: %w", contracts.ErrStorageFailure, projectID, err)
	}

	if _, err := l.store.Append(ctx, projectID, entry, head); err != nil {
		return nil, fmt.Errorf("%w: append to %s: %w", contracts.ErrStorageFailure, projectID, err)
	}
	return &entry, nil
}

// Read returns a project's entries and head hash.
func (l *Log) Read(ctx context.Context, projectID string) ([]Entry, string, error) {
	entries, head, err := l.store.Read(ctx, projectID)
	if err != nil {
		return nil, "", fmt.Errorf("%w: read %s: %w", contracts.ErrStorageFailure, projectID, err)
	}
	return entries, head, nil
}

// TamperError pinpoints the first entry whose hash does not verify.
type TamperError struct {
	Sequence uint64
	Reason   string
}

func (e *TamperError) Error() string {
	return fmt.Sprintf("defense file tampered at entry %d: %s", e.Sequence, e.Reason)
}

// Verify recomputes the whole chain and reports the first mismatch.
func Verify(entries []Entry) error {
	prev := GenesisHash
	for i := range entries {
		e := &entries[i]
		if e.PrevHash != prev {
			return &TamperError{Sequence: e.Sequence,
				Reason: fmt.Sprintf("prev hash %s does not match chain head %s", e.PrevHash, prev)}
		}
		computed, err := computeHash(e)
		if err != nil {
			return &TamperError{Sequence: e.Sequence, Reason: err.Error()}
		}
		if computed != e.Hash {
			return &TamperError{Sequence: e.Sequence, Reason: "hash mismatch"}
		}
		prev = e.Hash
	}
	return nil
}

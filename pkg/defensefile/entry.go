// Package defensefile implements the append-only, hash-chained audit
// log that constitutes a project's defense file. Every entry links to
// its predecessor through H(prev_hash || canonical(entry)), so any
// later mutation is detectable by recomputation.
package defensefile

import (
	"time"

	"github.com/tributo-labs/defensor/pkg/canonicalize"
)

// GenesisHash seeds the chain of an empty defense file.
const GenesisHash = "genesis"

// EntryType categorizes defense-file entries.
type EntryType string

const (
	EntryDeliberation   EntryType = "deliberation"
	EntryTransition     EntryType = "transition"
	EntryDocument       EntryType = "document"
	EntryScore          EntryType = "score"
	EntryLockEvaluation EntryType = "lock_evaluation"
	EntryHumanReview    EntryType = "human_review"
)

// Entry is one immutable link of the chain. Hash covers every other
// field, including PrevHash.
type Entry struct {
	Sequence  uint64         `json:"sequence"`
	Type      EntryType      `json:"entry_type"`
	ProjectID string         `json:"project_id"`
	Actor     string         `json:"actor,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
	PrevHash  string         `json:"prev_hash"`
	Hash      string         `json:"hash"`
}

// hashable is the serialized shape the chain hash covers. Hash itself
// is excluded; PrevHash enters through the chain function.
type hashable struct {
	Sequence  uint64         `json:"sequence"`
	Type      EntryType      `json:"entry_type"`
	ProjectID string         `json:"project_id"`
	Actor     string         `json:"actor,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// computeHash returns H(prevHash || canonical(entry body)).
func computeHash(e *Entry) (string, error) {
	return canonicalize.ChainHash(e.PrevHash, hashable{
		Sequence:  e.Sequence,
		Type:      e.Type,
		ProjectID: e.ProjectID,
		Actor:     e.Actor,
		Timestamp: e.Timestamp,
		Data:      e.Data,
	})
}

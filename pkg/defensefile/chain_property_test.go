//go:build property
// +build property

package defensefile

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func genEntryType() gopter.Gen {
	return gen.OneConstOf(
		EntryDeliberation, EntryTransition, EntryDocument,
		EntryScore, EntryLockEvaluation, EntryHumanReview,
	)
}

// TestChainProperties checks the chain laws over arbitrary append
// sequences: a freshly built chain always verifies, and corrupting any
// single entry breaks verification at or before that entry.
func TestChainProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	build := func(types []EntryType, notes []string) []Entry {
		log := NewLog(NewMemoryStore()).WithClock(testClock())
		ctx := context.Background()
		for i, et := range types {
			note := ""
			if i < len(notes) {
				note = notes[i]
			}
			if _, err := log.Append(ctx, "prj-p", et, "system", map[string]any{"note": note}); err != nil {
				t.Fatalf("append: %v", err)
			}
		}
		entries, _, err := log.Read(ctx, "prj-p")
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		return entries
	}

	properties.Property("freshly built chains verify", prop.ForAll(
		func(types []EntryType, notes []string) bool {
			return Verify(build(types, notes)) == nil
		},
		gen.SliceOf(genEntryType()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("corrupting any entry breaks verification", prop.ForAll(
		func(types []EntryType, notes []string, pick int) bool {
			entries := build(types, notes)
			if len(entries) == 0 {
				return true
			}
			i := pick % len(entries)
			entries[i].Data["forged"] = true
			err := Verify(entries)
			if err == nil {
				return false
			}
			tamper, ok := err.(*TamperError)
			return ok && tamper.Sequence <= entries[i].Sequence
		},
		gen.SliceOf(genEntryType()),
		gen.SliceOf(gen.AlphaString()),
		gen.IntRange(0, 1<<20),
	))

	properties.TestingRun(t)
}

package defensefile

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEntry(seq uint64, prev string) Entry {
	e := Entry{
		Sequence:  seq,
		Type:      EntryDeliberation,
		ProjectID: "prj-1",
		Actor:     "A3_FISCAL",
		Timestamp: time.Date(2026, 5, 2, 12, 0, 0, 0, time.UTC),
		Data:      map[string]any{"decision": "APPROVE"},
		PrevHash:  prev,
	}
	e.Hash, _ = computeHash(&e)
	return e
}

func TestSQLStoreAppendFirstEntry(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := NewSQLStoreFromDB(db, false)
	entry := sampleEntry(1, GenesisHash)
	payload, _ := json.Marshal(entry)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT hash, sequence FROM defense_entries").
		WithArgs("prj-1").
		WillReturnRows(sqlmock.NewRows([]string{"hash", "sequence"}))
	mock.ExpectExec("INSERT INTO defense_entries").
		WithArgs("prj-1", entry.Sequence, entry.Hash, entry.PrevHash, string(payload)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	hash, err := store.Append(context.Background(), "prj-1", entry, GenesisHash)
	require.NoError(t, err)
	assert.Equal(t, entry.Hash, hash)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreAppendRejectsStaleHead(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := NewSQLStoreFromDB(db, false)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT hash, sequence FROM defense_entries").
		WithArgs("prj-1").
		WillReturnRows(sqlmock.NewRows([]string{"hash", "sequence"}).AddRow("current-head", 5))
	mock.ExpectRollback()

	_, err = store.Append(context.Background(), "prj-1", sampleEntry(6, "stale"), "stale")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreRead(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := NewSQLStoreFromDB(db, false)
	first := sampleEntry(1, GenesisHash)
	second := sampleEntry(2, first.Hash)
	p1, _ := json.Marshal(first)
	p2, _ := json.Marshal(second)

	mock.ExpectQuery("SELECT entry FROM defense_entries").
		WithArgs("prj-1").
		WillReturnRows(sqlmock.NewRows([]string{"entry"}).AddRow(string(p1)).AddRow(string(p2)))

	entries, head, err := store.Read(context.Background(), "prj-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, second.Hash, head)
	assert.NoError(t, Verify(entries))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreBindRewritesForPostgres(t *testing.T) {
	pg := &SQLStore{postgres: true}
	assert.Equal(t, "SELECT $1, $2", pg.bind("SELECT ?, ?"))

	lite := &SQLStore{postgres: false}
	assert.Equal(t, "SELECT ?, ?", lite.bind("SELECT ?, ?"))
}

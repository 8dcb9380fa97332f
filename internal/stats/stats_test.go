package stats

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "nested", "stats.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

// --- savings counters ---

func TestSavings_EmptyMonth(t *testing.T) {
	db := openTestDB(t)

	s, err := db.Savings(time.Now())

	require.NoError(t, err)
	assert.Zero(t, s.Bytes)
	assert.Zero(t, s.Files)
}

func TestAddSavings_Accumulates(t *testing.T) {
	db := openTestDB(t)
	march := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, db.AddSavings(march, 1024))
	require.NoError(t, db.AddSavings(march, 2048))

	s, err := db.Savings(march)
	require.NoError(t, err)
	assert.Equal(t, int64(3072), s.Bytes)
	assert.Equal(t, 2, s.Files)
}

func TestAddSavings_MonthsAreIsolated(t *testing.T) {
	db := openTestDB(t)
	march := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	april := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, db.AddSavings(march, 100))
	require.NoError(t, db.AddSavings(april, 200))

	marchSavings, err := db.Savings(march)
	require.NoError(t, err)
	assert.Equal(t, int64(100), marchSavings.Bytes)

	aprilSavings, err := db.Savings(april)
	require.NoError(t, err)
	assert.Equal(t, int64(200), aprilSavings.Bytes)
}

func TestAllSavings(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.AddSavings(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), 100))
	require.NoError(t, db.AddSavings(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), 200))

	all, err := db.AllSavings()

	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, int64(100), all["2026-03"].Bytes)
	assert.Equal(t, int64(200), all["2026-04"].Bytes)
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.db")
	march := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.AddSavings(march, 512))
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()

	s, err := db.Savings(march)
	require.NoError(t, err)
	assert.Equal(t, int64(512), s.Bytes)
	assert.Equal(t, 1, s.Files)
}

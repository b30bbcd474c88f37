package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLevelDBPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	db1, err := NewLevelDB(dir)
	require.NoError(t, err)

	key := []byte("protection-pool:test")
	value := []byte("record-bytes")
	require.NoError(t, db1.Put(key, value))
	db1.Close()

	db2, err := NewLevelDB(dir)
	require.NoError(t, err)
	defer db2.Close()

	got, err := db2.Get(key)
	require.NoError(t, err)
	require.Equal(t, value, got)

	ok, err := db2.Has(key)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestGetMissingKeyReturnsSentinel(t *testing.T) {
	dir := t.TempDir()
	ldb, err := NewLevelDB(dir)
	require.NoError(t, err)
	defer ldb.Close()

	_, err = ldb.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrKeyNotFound)

	mem := NewMemDB()
	_, err = mem.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestMemDBCopiesValues(t *testing.T) {
	mem := NewMemDB()
	value := []byte{1, 2, 3}
	require.NoError(t, mem.Put([]byte("k"), value))
	value[0] = 9

	got, err := mem.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, got)
}

package db_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ValentinKolb/ttlKV/lib/db"
	dbtesting "github.com/ValentinKolb/ttlKV/lib/db/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fileFactory(noSync bool) dbtesting.DBFactory {
	return func(tb testing.TB) *db.DB {
		database, err := db.Open(&db.DBOptions{Path: filepath.Join(tb.TempDir(), "test.db"), NoSync: noSync})
		if err != nil {
			tb.Fatalf("Open failed: %v", err)
		}
		tb.Cleanup(func() { _ = database.Close() })
		return database
	}
}

func temporaryFactory(tb testing.TB) *db.DB {
	database, err := db.Open(nil)
	if err != nil {
		tb.Fatalf("Open failed: %v", err)
	}
	tb.Cleanup(func() { _ = database.Close() })
	return database
}

func TestTrees(t *testing.T) {
	dbtesting.RunTreeTests(t, "File", fileFactory(false))
	dbtesting.RunTreeTests(t, "FileNoSync", fileFactory(true))
	dbtesting.RunTreeTests(t, "Temporary", temporaryFactory)
}

func BenchmarkTrees(b *testing.B) {
	dbtesting.RunTreeBenchmarks(b, "FileNoSync", fileFactory(true))
}

func TestPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")

	database, err := db.Open(&db.DBOptions{Path: path, NoSync: true})
	require.NoError(t, err)
	tree, err := database.OpenTree("data")
	require.NoError(t, err)
	_, _, err = tree.Insert([]byte("k"), []byte("v"))
	require.NoError(t, err)
	require.NoError(t, tree.Flush())
	require.NoError(t, database.Close())

	database, err = db.Open(&db.DBOptions{Path: path, ReadOnly: true})
	require.NoError(t, err)
	defer database.Close()

	tree, err = database.OpenTree("data")
	require.NoError(t, err)
	v, ok, err := tree.Get([]byte("k"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	// writes to a read-only database are engine errors
	_, _, err = tree.Insert([]byte("k2"), []byte("v"))
	assert.ErrorIs(t, err, db.ErrEngine)

	_, err = database.OpenTree("missing")
	assert.ErrorIs(t, err, db.ErrEngine)
}

func TestTemporaryRemovedOnClose(t *testing.T) {
	database, err := db.Open(nil)
	require.NoError(t, err)
	path := database.Path()

	_, err = os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, database.Close())

	_, err = os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist), "expected temporary file to be removed, got %v", err)
}

func TestTreeNamesAndDrop(t *testing.T) {
	database := temporaryFactory(t)

	for _, name := range []string{"b", "a", "c"} {
		_, err := database.OpenTree(name)
		require.NoError(t, err)
	}
	names, err := database.TreeNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, names)

	tree, err := database.OpenTree("b")
	require.NoError(t, err)

	dropped, err := database.DropTree("b")
	require.NoError(t, err)
	assert.True(t, dropped)

	dropped, err = database.DropTree("b")
	require.NoError(t, err)
	assert.False(t, dropped)

	_, _, err = tree.Get([]byte("k"))
	assert.ErrorIs(t, err, db.ErrEngine)
	assert.ErrorIs(t, err, db.ErrTreeNotFound)

	_, err = database.OpenTree("")
	assert.ErrorIs(t, err, db.ErrEngine)
}

func TestErrorCodes(t *testing.T) {
	cause := errors.New("cause")

	aborted := db.Abort(cause)
	assert.ErrorIs(t, aborted, db.ErrAborted)
	assert.ErrorIs(t, aborted, cause)
	assert.NotErrorIs(t, aborted, db.ErrEngine)

	custom := db.Custom(cause)
	assert.ErrorIs(t, custom, db.ErrCustom)
	assert.NotErrorIs(t, custom, db.ErrAborted)

	conflict := &db.CompareAndSwapError{Current: []byte("a")}
	assert.ErrorIs(t, conflict, db.ErrConflict)
	assert.Contains(t, conflict.Error(), "Conflict")

	var dbErr *db.Error
	require.ErrorAs(t, db.NewError(db.CodeEngine, "get", cause), &dbErr)
	assert.Equal(t, db.CodeEngine, dbErr.Code)
	assert.Equal(t, "Engine", dbErr.Code.String())
}

func TestPrefixEnd(t *testing.T) {
	assert.Equal(t, []byte("b"), db.PrefixEnd([]byte("a")))
	assert.Equal(t, []byte("a0"), db.PrefixEnd([]byte("a/")))
	assert.Equal(t, []byte{0x02}, db.PrefixEnd([]byte{0x01, 0xff}))
	assert.Nil(t, db.PrefixEnd([]byte{0xff, 0xff}))
	assert.Nil(t, db.PrefixEnd(nil))
}

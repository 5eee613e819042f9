package expiring_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ValentinKolb/ttlKV/lib/codec"
	"github.com/ValentinKolb/ttlKV/lib/db"
	"github.com/ValentinKolb/ttlKV/lib/expiring"
	"github.com/VictoriaMetrics/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openDB(t *testing.T) *db.DB {
	d, err := db.Open(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestDefaultOptions(t *testing.T) {
	opts := expiring.DefaultOptions()
	assert.False(t, opts.ExtendOnUpdate)
	assert.False(t, opts.ExtendOnFetch)
	assert.Equal(t, 12*time.Hour, opts.ExpirationLength)
	assert.Equal(t, codec.FormatBinary, opts.MetadataFormat)

	tree, err := expiring.OpenPlain(openDB(t), "plain", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain", tree.Name())
	assert.Equal(t, 12*time.Hour, tree.Options().ExpirationLength)
}

func TestOpenCreatesMetadataTrees(t *testing.T) {
	d := openDB(t)
	_, err := expiring.OpenFormat[int](d, "numbers", codec.FormatJSON, nil)
	require.NoError(t, err)

	names, err := d.TreeNames()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"numbers", "numbers-expires-at", "numbers-expires-at-inverse"}, names)
}

func TestOpenValidation(t *testing.T) {
	d := openDB(t)

	_, err := expiring.OpenPlain(d, "negative", &expiring.Options{ExpirationLength: -time.Second})
	assert.Error(t, err)

	_, err = expiring.OpenPlain(d, "plain-meta", &expiring.Options{MetadataFormat: codec.FormatPlain})
	assert.Error(t, err, "key sets can't use the plain format")

	_, err = expiring.OpenFormat[int](d, "binary-values", codec.FormatBinary, nil)
	assert.Error(t, err, "int does not implement encoding.BinaryMarshaler")
}

// TestRealClock uses the wall clock: an expiration length of 0 expires a key as soon as it is
// written, a longer one does not.
func TestRealClock(t *testing.T) {
	d := openDB(t)

	now, err := expiring.OpenPlain(d, "now", &expiring.Options{ExtendOnUpdate: true})
	require.NoError(t, err)
	later, err := expiring.OpenPlain(d, "later", &expiring.Options{ExtendOnUpdate: true, ExpirationLength: time.Hour})
	require.NoError(t, err)

	_, _, err = now.Insert([]byte("a"), []byte("1"))
	require.NoError(t, err)
	_, _, err = later.Insert([]byte("b"), []byte("2"))
	require.NoError(t, err)

	keys, err := now.ExpiredKeys(0)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a")}, keys)

	keys, err = later.ExpiredKeys(0)
	require.NoError(t, err)
	assert.Empty(t, keys)

	at, ok, err := later.ExpiresAt([]byte("b"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Hour), at, time.Minute)
	assert.Equal(t, time.UTC, at.Location())

	_, _, err = now.Remove([]byte("a"))
	require.NoError(t, err)
	keys, err = now.ExpiredKeys(0)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

// TestRefreshUntrackedKey covers a key that holds a value but lost its metadata, as left by
// a Remove and an Insert of the same key interleaving. Expired misses it until Refresh.
func TestRefreshUntrackedKey(t *testing.T) {
	d := openDB(t)
	tree, err := expiring.OpenPlain(d, "untracked", &expiring.Options{ExtendOnUpdate: true})
	require.NoError(t, err)

	_, _, err = tree.Insert([]byte("k"), []byte("v1"))
	require.NoError(t, err)
	_, _, err = tree.Remove([]byte("k"))
	require.NoError(t, err)
	_, _, err = tree.Data().Insert([]byte("k"), []byte("v2"))
	require.NoError(t, err)

	ok, err := tree.ContainsKey([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	_, tracked, err := tree.ExpiresAt([]byte("k"))
	require.NoError(t, err)
	require.False(t, tracked)
	keys, err := tree.ExpiredKeys(0)
	require.NoError(t, err)
	assert.Empty(t, keys)

	require.NoError(t, tree.Refresh([]byte("k")))
	keys, err = tree.ExpiredKeys(0)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("k")}, keys)
}

func TestBookkeepingError(t *testing.T) {
	d := openDB(t)
	tree, err := expiring.OpenPlain(d, "broken", &expiring.Options{ExtendOnUpdate: true, ExpirationLength: time.Minute})
	require.NoError(t, err)

	// a forward entry that can't be decoded makes every refresh of the key fail
	fwd, err := d.OpenTree(expiring.ForwardTreeName("broken"))
	require.NoError(t, err)
	_, _, err = fwd.Insert([]byte("k"), []byte{0xc1})
	require.NoError(t, err)

	_, _, err = tree.Insert([]byte("k"), []byte("v"))
	var bkErr *expiring.BookkeepingError
	require.ErrorAs(t, err, &bkErr)
	assert.Equal(t, "refresh", bkErr.Op)
	assert.Equal(t, []byte("k"), bkErr.Key)
	assert.ErrorIs(t, err, codec.ErrDecode)

	// the data change is kept
	v, ok, err := tree.Get([]byte("k"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	// repairing the entry makes the refresh work again
	_, _, err = fwd.Remove([]byte("k"))
	require.NoError(t, err)
	require.NoError(t, tree.Refresh([]byte("k")))
	_, ok, err = tree.ExpiresAt([]byte("k"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMetrics(t *testing.T) {
	d := openDB(t)
	name := fmt.Sprintf("metrics-%d", time.Now().UnixNano())
	tree, err := expiring.OpenPlain(d, name, &expiring.Options{ExtendOnUpdate: true})
	require.NoError(t, err)

	counter := func(metric string) uint64 {
		return metrics.GetOrCreateCounter(fmt.Sprintf("%s{tree=%q}", metric, name)).Get()
	}

	for _, k := range []string{"a", "b"} {
		_, _, err := tree.Insert([]byte(k), []byte(k))
		require.NoError(t, err)
	}
	_, _, err = tree.Remove([]byte("a"))
	require.NoError(t, err)
	_, err = tree.ExpiredKeys(0)
	require.NoError(t, err)

	assert.Equal(t, uint64(2), counter("ttlkv_expiring_refresh_total"))
	assert.Equal(t, uint64(1), counter("ttlkv_expiring_metadata_remove_total"))
	assert.Equal(t, uint64(1), counter("ttlkv_expiring_expired_yield_total"))
	assert.Equal(t, uint64(0), counter("ttlkv_expiring_bookkeeping_errors_total"))
}

func TestWatchPrefix(t *testing.T) {
	tree, err := expiring.OpenPlain(openDB(t), "watched", &expiring.Options{ExtendOnUpdate: true})
	require.NoError(t, err)

	sub := tree.WatchPrefix([]byte("user/"))
	defer sub.Close()

	_, _, err = tree.Insert([]byte("other"), []byte("x"))
	require.NoError(t, err)
	_, _, err = tree.Insert([]byte("user/1"), []byte("alice"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ev, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, db.EventInsert, ev.Type)
	assert.Equal(t, []byte("user/1"), ev.Key)
	assert.Equal(t, []byte("alice"), ev.Value)
}

func TestTransactionAcrossTrees(t *testing.T) {
	d := openDB(t)
	opts := &expiring.Options{ExtendOnUpdate: true, ExpirationLength: time.Minute}
	sessions, err := expiring.OpenPlain(d, "sessions", opts)
	require.NoError(t, err)
	tokens, err := expiring.OpenPlain(d, "tokens", opts)
	require.NoError(t, err)

	err = d.Transaction(func(tx *db.Tx) error {
		if _, _, err := sessions.Bind(tx).Insert([]byte("s"), []byte("1")); err != nil {
			return err
		}
		if _, _, err := tokens.Bind(tx).Insert([]byte("t"), []byte("1")); err != nil {
			return err
		}
		return db.Abort(errors.New("rollback"))
	})
	require.ErrorIs(t, err, db.ErrAborted)

	for _, tree := range []*expiring.Tree[[]byte]{sessions, tokens} {
		empty, err := tree.IsEmpty()
		require.NoError(t, err)
		assert.True(t, empty)
		for _, k := range []string{"s", "t"} {
			_, tracked, err := tree.ExpiresAt([]byte(k))
			require.NoError(t, err)
			assert.False(t, tracked)
		}
	}
}

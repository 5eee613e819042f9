package structured

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ValentinKolb/ttlKV/lib/codec"
	"github.com/ValentinKolb/ttlKV/lib/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type user struct {
	Name string
	Age  int
}

func openTestTree(t *testing.T, c codec.Codec[user]) *Tree[user] {
	t.Helper()
	database, err := db.Open(&db.DBOptions{Temporary: true, NoSync: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	tree, err := Open(database, "users", c)
	require.NoError(t, err)
	return tree
}

var testCodecs = map[string]codec.Codec[user]{
	"JSON":    codec.JSON[user](),
	"CBOR":    codec.CBOR[user](),
	"MsgPack": codec.MsgPack[user](),
	"Gob+S2":  codec.Compressed(codec.Gob[user](), codec.S2()),
}

func TestTypedOperations(t *testing.T) {
	for name, c := range testCodecs {
		t.Run(name, func(t *testing.T) {
			tree := openTestTree(t, c)
			alice := user{Name: "alice", Age: 30}
			bob := user{Name: "bob", Age: 25}

			_, loaded, err := tree.Insert([]byte("a"), alice)
			require.NoError(t, err)
			assert.False(t, loaded)

			prev, loaded, err := tree.Insert([]byte("a"), bob)
			require.NoError(t, err)
			assert.True(t, loaded)
			assert.Equal(t, alice, prev)

			got, ok, err := tree.Get([]byte("a"))
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, bob, got)

			prev, loaded, err = tree.Remove([]byte("a"))
			require.NoError(t, err)
			assert.True(t, loaded)
			assert.Equal(t, bob, prev)

			_, ok, err = tree.Get([]byte("a"))
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestCompareAndSwap(t *testing.T) {
	tree := openTestTree(t, codec.JSON[user]())
	key := []byte("k")
	v1 := user{Name: "v1"}
	v2 := user{Name: "v2"}

	require.NoError(t, tree.CompareAndSwap(key, nil, &v1))

	err := tree.CompareAndSwap(key, nil, &v2)
	var casErr *CompareAndSwapError[user]
	require.ErrorAs(t, err, &casErr)
	assert.ErrorIs(t, err, db.ErrConflict)
	require.NotNil(t, casErr.Current)
	assert.Equal(t, v1, *casErr.Current)
	assert.Equal(t, v2, *casErr.Proposed)

	require.NoError(t, tree.CompareAndSwap(key, &v1, &v2))
	require.NoError(t, tree.CompareAndSwap(key, &v2, nil))

	err = tree.CompareAndSwap(key, &v2, &v1)
	require.ErrorAs(t, err, &casErr)
	assert.Nil(t, casErr.Current)
}

type profile struct {
	Name  string
	Attrs map[string]string
}

func TestCompareAndSwapMapValues(t *testing.T) {
	formats := map[string]codec.Codec[profile]{
		"MsgPack": codec.MsgPack[profile](),
		"CBOR":    codec.CBOR[profile](),
		"JSON":    codec.JSON[profile](),
	}
	for name, c := range formats {
		t.Run(name, func(t *testing.T) {
			database, err := db.Open(&db.DBOptions{Temporary: true, NoSync: true})
			require.NoError(t, err)
			t.Cleanup(func() { _ = database.Close() })
			tree, err := Open(database, "profiles", c)
			require.NoError(t, err)

			newProfile := func(gen int) profile {
				p := profile{Name: "p", Attrs: map[string]string{}}
				for i := 0; i < 16; i++ {
					p.Attrs[string(rune('a'+i))] = string(rune('a' + gen + i))
				}
				return p
			}

			key := []byte("k")
			current := newProfile(0)
			_, _, err = tree.Insert(key, current)
			require.NoError(t, err)

			for gen := 1; gen <= 20; gen++ {
				expected := newProfile(gen - 1)
				next := newProfile(gen)
				require.NoError(t, tree.CompareAndSwap(key, &expected, &next), "generation %d", gen)
			}
		})
	}
}

func TestUpdateAndFetch(t *testing.T) {
	tree := openTestTree(t, codec.CBOR[user]())
	birthday := func(old user, loaded bool) (user, bool) {
		if !loaded {
			return user{Name: "new", Age: 1}, true
		}
		old.Age++
		return old, true
	}

	v, ok, err := tree.UpdateAndFetch([]byte("u"), birthday)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, v.Age)

	prev, ok, err := tree.FetchAndUpdate([]byte("u"), birthday)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, prev.Age)

	v, _, _ = tree.Get([]byte("u"))
	assert.Equal(t, 2, v.Age)

	_, ok, err = tree.UpdateAndFetch([]byte("u"), func(user, bool) (user, bool) { return user{}, false })
	require.NoError(t, err)
	assert.False(t, ok)
	contains, _ := tree.ContainsKey([]byte("u"))
	assert.False(t, contains)
}

func TestIterAndOrderedOps(t *testing.T) {
	tree := openTestTree(t, codec.MsgPack[user]())
	for _, name := range []string{"c", "a", "b"} {
		_, _, err := tree.Insert([]byte(name), user{Name: name})
		require.NoError(t, err)
	}

	keys, err := tree.Iter().Keys()
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, keys)

	values, err := tree.Range([]byte("b"), nil).Reverse().Values()
	require.NoError(t, err)
	assert.Equal(t, []user{{Name: "c"}, {Name: "b"}}, values)

	k, v, ok, err := tree.GetLt([]byte("b"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "a", string(k))
	assert.Equal(t, "a", v.Name)

	k, _, ok, _ = tree.GetGt([]byte("b"))
	assert.True(t, ok)
	assert.Equal(t, "c", string(k))

	k, v, ok, _ = tree.PopMax()
	assert.True(t, ok)
	assert.Equal(t, "c", string(k))
	assert.Equal(t, "c", v.Name)

	k, _, ok, _ = tree.PopMin()
	assert.True(t, ok)
	assert.Equal(t, "a", string(k))

	n, err := tree.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, tree.Clear())
	empty, err := tree.IsEmpty()
	require.NoError(t, err)
	assert.True(t, empty)
}

func TestDecodeErrorsAreReported(t *testing.T) {
	tree := openTestTree(t, codec.JSON[user]())
	_, _, err := tree.Insert([]byte("a"), user{Name: "a"})
	require.NoError(t, err)
	_, _, err = tree.Raw().Insert([]byte("b"), []byte("{not json"))
	require.NoError(t, err)
	_, _, err = tree.Insert([]byte("c"), user{Name: "c"})
	require.NoError(t, err)

	_, _, err = tree.Get([]byte("b"))
	assert.ErrorIs(t, err, codec.ErrDecode)

	// the iterator reports the broken entry and can continue after it
	it := tree.Iter()
	require.True(t, it.Next())
	assert.Equal(t, "a", it.Value().Name)
	require.False(t, it.Next())
	assert.ErrorIs(t, it.Err(), codec.ErrDecode)
	assert.Equal(t, "b", string(it.Key()))
	require.True(t, it.Next())
	assert.Equal(t, "c", it.Value().Name)
	require.False(t, it.Next())
	assert.NoError(t, it.Err())
}

func TestBatchAndTransaction(t *testing.T) {
	tree := openTestTree(t, codec.JSON[user]())

	batch := tree.NewBatch()
	require.NoError(t, batch.Insert([]byte("a"), user{Name: "a"}))
	require.NoError(t, batch.Insert([]byte("b"), user{Name: "b"}))
	batch.Remove([]byte("a"))
	assert.Equal(t, 3, batch.Len())
	require.NoError(t, tree.ApplyBatch(batch))

	keys, err := tree.Iter().Keys()
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("b")}, keys)

	err = tree.Transaction(func(tx *TransactionalTree[user]) error {
		prev, ok, err := tx.Remove([]byte("b"))
		if err != nil {
			return err
		}
		assert.True(t, ok)
		assert.Equal(t, "b", prev.Name)
		if _, _, err := tx.Insert([]byte("c"), user{Name: "c"}); err != nil {
			return err
		}
		v, ok, err := tx.Get([]byte("c"))
		assert.True(t, ok)
		assert.Equal(t, "c", v.Name)
		return err
	})
	require.NoError(t, err)

	reason := errors.New("abort")
	err = tree.Transaction(func(tx *TransactionalTree[user]) error {
		b := tree.NewBatch()
		_ = b.Insert([]byte("d"), user{Name: "d"})
		if err := tx.ApplyBatch(b); err != nil {
			return err
		}
		return db.Abort(reason)
	})
	assert.ErrorIs(t, err, db.ErrAborted)
	assert.ErrorIs(t, err, reason)

	keys, err = tree.Iter().Keys()
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("c")}, keys)
}

func TestWatchPrefix(t *testing.T) {
	tree := openTestTree(t, codec.JSON[user]())
	sub := tree.WatchPrefix([]byte("u/"))
	defer sub.Close()

	_, _, err := tree.Insert([]byte("u/1"), user{Name: "one"})
	require.NoError(t, err)
	_, _, err = tree.Remove([]byte("u/1"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ev, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, db.EventInsert, ev.Type)
	assert.Equal(t, "one", ev.Value.Name)

	ev, err = sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, db.EventRemove, ev.Type)
	assert.Equal(t, "u/1", string(ev.Key))
}

func TestOpenFormat(t *testing.T) {
	database, err := db.Open(nil)
	require.NoError(t, err)
	defer database.Close()

	tree, err := OpenFormat[string](database, "plain", codec.FormatPlain)
	require.NoError(t, err)
	_, _, err = tree.Insert([]byte("k"), "raw value")
	require.NoError(t, err)

	raw, _, err := tree.Raw().Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("raw value"), raw)
	assert.Equal(t, "plain", tree.Name())

	_, err = OpenFormat[user](database, "bad", codec.FormatPlain)
	assert.Error(t, err)
}

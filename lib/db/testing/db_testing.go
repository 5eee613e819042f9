package testing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/ttlKV/lib/db"
)

// DBFactory creates a fresh, empty database. The database is closed by the suite.
type DBFactory func(tb testing.TB) *db.DB

// RunTreeTests runs the conformance suite for trees of a database configuration.
func RunTreeTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Insert&Get", func(t *testing.T) {
			testInsertGet(t, openTree(t, factory))
		})

		t.Run("Remove", func(t *testing.T) {
			testRemove(t, openTree(t, factory))
		})

		t.Run("CompareAndSwap", func(t *testing.T) {
			testCompareAndSwap(t, openTree(t, factory))
		})

		t.Run("UpdateAndFetch", func(t *testing.T) {
			testUpdateAndFetch(t, openTree(t, factory))
		})

		t.Run("Range", func(t *testing.T) {
			testRange(t, openTree(t, factory))
		})

		t.Run("GetLt&GetGt", func(t *testing.T) {
			testGetLtGt(t, openTree(t, factory))
		})

		t.Run("Pop", func(t *testing.T) {
			testPop(t, openTree(t, factory))
		})

		t.Run("Len&Clear", func(t *testing.T) {
			testLenClear(t, openTree(t, factory))
		})

		t.Run("Batch", func(t *testing.T) {
			testBatch(t, openTree(t, factory))
		})

		t.Run("Transaction", func(t *testing.T) {
			testTransaction(t, factory(t))
		})

		t.Run("WatchPrefix", func(t *testing.T) {
			testWatchPrefix(t, openTree(t, factory))
		})

		t.Run("ConcurrentWriters", func(t *testing.T) {
			testConcurrentWriters(t, openTree(t, factory))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// openTree creates a database with the factory and opens a tree named "test" in it
func openTree(tb testing.TB, factory DBFactory) *db.Tree {
	database := factory(tb)
	tree, err := database.OpenTree("test")
	if err != nil {
		tb.Fatalf("OpenTree failed: %v", err)
	}
	return tree
}

func mustInsert(tb testing.TB, tree *db.Tree, key, value string) {
	if _, _, err := tree.Insert([]byte(key), []byte(value)); err != nil {
		tb.Fatalf("Insert(%s) failed: %v", key, err)
	}
}

// collect drains an iterator into "key=value" strings
func collect(tb testing.TB, it *db.Iter) []string {
	var out []string
	for it.Next() {
		out = append(out, fmt.Sprintf("%s=%s", it.Key(), it.Value()))
	}
	if err := it.Err(); err != nil {
		tb.Fatalf("Iteration failed: %v", err)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testInsertGet(t *testing.T, tree *db.Tree) {
	prev, loaded, err := tree.Insert([]byte("k"), []byte("v1"))
	if err != nil || loaded || prev != nil {
		t.Errorf("Expected first insert to return no previous value, got %q %v %v", prev, loaded, err)
	}

	prev, loaded, err = tree.Insert([]byte("k"), []byte("v2"))
	if err != nil || !loaded || !bytes.Equal(prev, []byte("v1")) {
		t.Errorf("Expected previous value v1, got %q %v %v", prev, loaded, err)
	}

	value, loaded, err := tree.Get([]byte("k"))
	if err != nil || !loaded || !bytes.Equal(value, []byte("v2")) {
		t.Errorf("Expected v2, got %q %v %v", value, loaded, err)
	}

	// returned values are copies
	value[0] = 'X'
	value, _, _ = tree.Get([]byte("k"))
	if !bytes.Equal(value, []byte("v2")) {
		t.Errorf("Modifying a returned value changed the stored value: %q", value)
	}

	_, loaded, err = tree.Get([]byte("missing"))
	if err != nil || loaded {
		t.Errorf("Expected missing key to be absent, got %v %v", loaded, err)
	}

	// empty values are present
	mustInsert(t, tree, "empty", "")
	value, loaded, _ = tree.Get([]byte("empty"))
	if !loaded || value == nil || len(value) != 0 {
		t.Errorf("Expected present empty value, got %q %v", value, loaded)
	}

	ok, err := tree.ContainsKey([]byte("empty"))
	if err != nil || !ok {
		t.Errorf("Expected ContainsKey to report the empty value")
	}

	if _, _, err := tree.Insert(nil, []byte("v")); !errors.Is(err, db.ErrEngine) {
		t.Errorf("Expected engine error for empty key, got %v", err)
	}
}

func testRemove(t *testing.T, tree *db.Tree) {
	mustInsert(t, tree, "k", "v")

	prev, loaded, err := tree.Remove([]byte("k"))
	if err != nil || !loaded || !bytes.Equal(prev, []byte("v")) {
		t.Errorf("Expected removed value v, got %q %v %v", prev, loaded, err)
	}

	prev, loaded, err = tree.Remove([]byte("k"))
	if err != nil || loaded || prev != nil {
		t.Errorf("Expected second remove to be a no-op, got %q %v %v", prev, loaded, err)
	}

	if ok, _ := tree.ContainsKey([]byte("k")); ok {
		t.Errorf("Expected key to be gone")
	}
}

func testCompareAndSwap(t *testing.T, tree *db.Tree) {
	key := []byte("k")

	// absent -> v1
	if err := tree.CompareAndSwap(key, nil, []byte("v1")); err != nil {
		t.Fatalf("Expected CAS on absent key to succeed: %v", err)
	}

	// absent expected but present
	err := tree.CompareAndSwap(key, nil, []byte("v2"))
	var casErr *db.CompareAndSwapError
	if !errors.As(err, &casErr) || !errors.Is(err, db.ErrConflict) {
		t.Fatalf("Expected conflict, got %v", err)
	}
	if !bytes.Equal(casErr.Current, []byte("v1")) || !bytes.Equal(casErr.Proposed, []byte("v2")) {
		t.Errorf("Unexpected conflict details: %q %q", casErr.Current, casErr.Proposed)
	}

	// wrong expected value
	if err := tree.CompareAndSwap(key, []byte("nope"), []byte("v2")); !errors.Is(err, db.ErrConflict) {
		t.Errorf("Expected conflict for wrong expected value, got %v", err)
	}

	// v1 -> v2
	if err := tree.CompareAndSwap(key, []byte("v1"), []byte("v2")); err != nil {
		t.Errorf("Expected CAS to succeed: %v", err)
	}

	// v2 -> removed
	if err := tree.CompareAndSwap(key, []byte("v2"), nil); err != nil {
		t.Errorf("Expected CAS removal to succeed: %v", err)
	}
	if ok, _ := tree.ContainsKey(key); ok {
		t.Errorf("Expected key to be removed by CAS")
	}

	// expected present but absent
	err = tree.CompareAndSwap(key, []byte("v2"), []byte("v3"))
	if !errors.As(err, &casErr) || casErr.Current != nil {
		t.Errorf("Expected conflict with absent current value, got %v", err)
	}
}

func testUpdateAndFetch(t *testing.T, tree *db.Tree) {
	key := []byte("counter")
	increment := func(old []byte, loaded bool) ([]byte, bool, error) {
		if !loaded {
			return []byte{1}, true, nil
		}
		return []byte{old[0] + 1}, true, nil
	}

	value, present, err := tree.UpdateAndFetch(key, increment)
	if err != nil || !present || !bytes.Equal(value, []byte{1}) {
		t.Errorf("Expected 1, got %v %v %v", value, present, err)
	}

	prev, loaded, err := tree.FetchAndUpdate(key, increment)
	if err != nil || !loaded || !bytes.Equal(prev, []byte{1}) {
		t.Errorf("Expected previous 1, got %v %v %v", prev, loaded, err)
	}

	value, _, _ = tree.Get(key)
	if !bytes.Equal(value, []byte{2}) {
		t.Errorf("Expected stored 2, got %v", value)
	}

	// removal
	value, present, err = tree.UpdateAndFetch(key, func([]byte, bool) ([]byte, bool, error) {
		return nil, false, nil
	})
	if err != nil || present || value != nil {
		t.Errorf("Expected removal, got %v %v %v", value, present, err)
	}

	// errors of fn abort the update
	boom := errors.New("boom")
	mustInsert(t, tree, "k", "v")
	_, _, err = tree.UpdateAndFetch([]byte("k"), func([]byte, bool) ([]byte, bool, error) {
		return nil, false, db.Custom(boom)
	})
	if !errors.Is(err, boom) || !errors.Is(err, db.ErrCustom) {
		t.Errorf("Expected custom error, got %v", err)
	}
	if ok, _ := tree.ContainsKey([]byte("k")); !ok {
		t.Errorf("Failed update must not remove the key")
	}
}

func testRange(t *testing.T, tree *db.Tree) {
	for _, k := range []string{"a", "b/1", "b/2", "b/3", "c", "d"} {
		mustInsert(t, tree, k, k)
	}

	tests := []struct {
		name string
		it   *db.Iter
		want []string
	}{
		{"Iter", tree.Iter(), []string{"a=a", "b/1=b/1", "b/2=b/2", "b/3=b/3", "c=c", "d=d"}},
		{"Range", tree.Range([]byte("b/2"), []byte("d")), []string{"b/2=b/2", "b/3=b/3", "c=c"}},
		{"RangeOpenLow", tree.Range(nil, []byte("b")), []string{"a=a"}},
		{"RangeOpenHigh", tree.Range([]byte("c"), nil), []string{"c=c", "d=d"}},
		{"RangeEmpty", tree.Range([]byte("x"), []byte("z")), nil},
		{"ScanPrefix", tree.ScanPrefix([]byte("b/")), []string{"b/1=b/1", "b/2=b/2", "b/3=b/3"}},
		{"ReverseIter", tree.Iter().Reverse(), []string{"d=d", "c=c", "b/3=b/3", "b/2=b/2", "b/1=b/1", "a=a"}},
		{"ReverseRange", tree.Range([]byte("b/2"), []byte("d")).Reverse(), []string{"c=c", "b/3=b/3", "b/2=b/2"}},
		{"ReversePrefix", tree.ScanPrefix([]byte("b/")).Reverse(), []string{"b/3=b/3", "b/2=b/2", "b/1=b/1"}},
	}
	for _, tc := range tests {
		if got := collect(t, tc.it); !equalStrings(got, tc.want) {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}

	// iterators are not snapshots: writes behind the cursor are observed
	it := tree.Iter()
	if !it.Next() || string(it.Key()) != "a" {
		t.Fatalf("Expected first key a")
	}
	mustInsert(t, tree, "aa", "aa")
	if _, _, err := tree.Remove([]byte("b/1")); err != nil {
		t.Fatal(err)
	}
	var rest []string
	for it.Next() {
		rest = append(rest, string(it.Key()))
	}
	if !equalStrings(rest, []string{"aa", "b/2", "b/3", "c", "d"}) {
		t.Errorf("Expected iterator to observe concurrent writes, got %v", rest)
	}
}

func testGetLtGt(t *testing.T, tree *db.Tree) {
	for _, k := range []string{"b", "d", "f"} {
		mustInsert(t, tree, k, k)
	}

	tests := []struct {
		key    string
		lt, gt string
	}{
		{"a", "", "b"},
		{"b", "", "d"},
		{"c", "b", "d"},
		{"d", "b", "f"},
		{"f", "d", ""},
		{"z", "f", ""},
	}
	for _, tc := range tests {
		k, _, found, err := tree.GetLt([]byte(tc.key))
		if err != nil || found != (tc.lt != "") || string(k) != tc.lt {
			t.Errorf("GetLt(%s): expected %q, got %q (found=%v, err=%v)", tc.key, tc.lt, k, found, err)
		}
		k, _, found, err = tree.GetGt([]byte(tc.key))
		if err != nil || found != (tc.gt != "") || string(k) != tc.gt {
			t.Errorf("GetGt(%s): expected %q, got %q (found=%v, err=%v)", tc.key, tc.gt, k, found, err)
		}
	}
}

func testPop(t *testing.T, tree *db.Tree) {
	for _, k := range []string{"b", "a", "c"} {
		mustInsert(t, tree, k, k+"!")
	}

	k, v, found, err := tree.PopMin()
	if err != nil || !found || string(k) != "a" || string(v) != "a!" {
		t.Errorf("PopMin: expected a, got %q %q %v %v", k, v, found, err)
	}
	k, _, found, err = tree.PopMax()
	if err != nil || !found || string(k) != "c" {
		t.Errorf("PopMax: expected c, got %q %v %v", k, found, err)
	}
	k, _, _, _ = tree.PopMax()
	if string(k) != "b" {
		t.Errorf("PopMax: expected b, got %q", k)
	}
	_, _, found, err = tree.PopMin()
	if err != nil || found {
		t.Errorf("PopMin on empty tree: expected nothing, got %v %v", found, err)
	}
}

func testLenClear(t *testing.T, tree *db.Tree) {
	empty, err := tree.IsEmpty()
	if err != nil || !empty {
		t.Errorf("Expected new tree to be empty")
	}

	for i := 0; i < 100; i++ {
		mustInsert(t, tree, fmt.Sprintf("key-%03d", i), "value")
	}

	n, err := tree.Len()
	if err != nil || n != 100 {
		t.Errorf("Expected 100 entries, got %d (%v)", n, err)
	}

	info, err := tree.Info(10)
	if err != nil || info.Entries != 100 || info.Sampled != 10 || info.KeySizes.Max != len("key-000") {
		t.Errorf("Unexpected info %+v (%v)", info, err)
	}

	if err := tree.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	n, _ = tree.Len()
	empty, _ = tree.IsEmpty()
	if n != 0 || !empty {
		t.Errorf("Expected empty tree after Clear, got %d entries", n)
	}

	// the handle stays usable
	mustInsert(t, tree, "after", "clear")
	if ok, _ := tree.ContainsKey([]byte("after")); !ok {
		t.Errorf("Expected insert after Clear to work")
	}
}

func testBatch(t *testing.T, tree *db.Tree) {
	mustInsert(t, tree, "old", "v")

	var batch db.Batch
	batch.Insert([]byte("a"), []byte("1"))
	batch.Insert([]byte("b"), []byte("2"))
	batch.Remove([]byte("old"))
	batch.Remove([]byte("a"))
	if batch.Len() != 4 {
		t.Errorf("Expected 4 operations, got %d", batch.Len())
	}

	if err := tree.ApplyBatch(&batch); err != nil {
		t.Fatalf("ApplyBatch failed: %v", err)
	}

	if got := collect(t, tree.Iter()); !equalStrings(got, []string{"b=2"}) {
		t.Errorf("Expected only b=2 after batch, got %v", got)
	}
}

func testTransaction(t *testing.T, database *db.DB) {
	left, _ := database.OpenTree("left")
	right, _ := database.OpenTree("right")

	err := database.Transaction(func(tx *db.Tx) error {
		l, r := tx.Tree(left), tx.Tree(right)
		if _, _, err := l.Insert([]byte("k"), []byte("l")); err != nil {
			return err
		}
		// reads observe earlier writes of the same transaction
		if v, ok, _ := l.Get([]byte("k")); !ok || string(v) != "l" {
			t.Errorf("Expected read-your-writes inside the transaction")
		}
		_, _, err := r.Insert([]byte("k"), []byte("r"))
		return err
	})
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	if ok, _ := left.ContainsKey([]byte("k")); !ok {
		t.Errorf("Expected committed write in left")
	}
	if ok, _ := right.ContainsKey([]byte("k")); !ok {
		t.Errorf("Expected committed write in right")
	}

	// abort rolls back everything
	reason := errors.New("changed my mind")
	err = database.Transaction(func(tx *db.Tx) error {
		if _, _, err := tx.Tree(left).Remove([]byte("k")); err != nil {
			return err
		}
		if _, _, err := tx.Tree(right).Insert([]byte("new"), []byte("x")); err != nil {
			return err
		}
		return db.Abort(reason)
	})
	if !errors.Is(err, db.ErrAborted) || !errors.Is(err, reason) {
		t.Errorf("Expected aborted error wrapping the reason, got %v", err)
	}
	if ok, _ := left.ContainsKey([]byte("k")); !ok {
		t.Errorf("Aborted remove must be rolled back")
	}
	if ok, _ := right.ContainsKey([]byte("new")); ok {
		t.Errorf("Aborted insert must be rolled back")
	}
}

func testWatchPrefix(t *testing.T, tree *db.Tree) {
	sub := tree.WatchPrefix([]byte("user/"))
	defer sub.Close()

	mustInsert(t, tree, "other", "x")
	mustInsert(t, tree, "user/1", "alice")
	if _, _, err := tree.Remove([]byte("user/1")); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ev, err := sub.Next(ctx)
	if err != nil || ev.Type != db.EventInsert || string(ev.Key) != "user/1" || string(ev.Value) != "alice" {
		t.Errorf("Expected insert event for user/1, got %+v (%v)", ev, err)
	}
	ev, err = sub.Next(ctx)
	if err != nil || ev.Type != db.EventRemove || string(ev.Key) != "user/1" || ev.Value != nil {
		t.Errorf("Expected remove event for user/1, got %+v (%v)", ev, err)
	}

	// aborted transactions publish nothing
	_ = tree.DB().Transaction(func(tx *db.Tx) error {
		_, _, _ = tx.Tree(tree).Insert([]byte("user/2"), []byte("bob"))
		return db.Abort(errors.New("no"))
	})
	short, cancelShort := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancelShort()
	if ev, err := sub.Next(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected no event for an aborted transaction, got %+v (%v)", ev, err)
	}

	sub.Close()
	if _, err := sub.Next(ctx); !errors.Is(err, db.ErrClosed) {
		t.Errorf("Expected ErrClosed after Close, got %v", err)
	}
}

func testConcurrentWriters(t *testing.T, tree *db.Tree) {
	const writers = 8
	const perWriter = 50

	var wg sync.WaitGroup
	wg.Add(writers)
	for w := 0; w < writers; w++ {
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				key := []byte(fmt.Sprintf("w%d-%d", w, i))
				if _, _, err := tree.Insert(key, key); err != nil {
					t.Errorf("Insert failed: %v", err)
					return
				}
				if _, _, err := tree.UpdateAndFetch([]byte("counter"), func(old []byte, loaded bool) ([]byte, bool, error) {
					n := 0
					if loaded {
						fmt.Sscanf(string(old), "%d", &n)
					}
					return []byte(fmt.Sprintf("%d", n+1)), true, nil
				}); err != nil {
					t.Errorf("UpdateAndFetch failed: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	n, _ := tree.Len()
	if n != writers*perWriter+1 {
		t.Errorf("Expected %d entries, got %d", writers*perWriter+1, n)
	}
	v, _, _ := tree.Get([]byte("counter"))
	if string(v) != fmt.Sprintf("%d", writers*perWriter) {
		t.Errorf("Expected counter %d, got %s", writers*perWriter, v)
	}
}

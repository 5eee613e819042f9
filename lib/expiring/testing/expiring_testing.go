package testing

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/ttlKV/lib/codec"
	"github.com/ValentinKolb/ttlKV/lib/db"
	"github.com/ValentinKolb/ttlKV/lib/expiring"
	"github.com/ValentinKolb/ttlKV/lib/structured"
)

// TreeFactory opens a fresh expiring tree with string values in an empty database. The
// suite sets all fields of opts except MetadataFormat, which the factory may choose.
type TreeFactory func(tb testing.TB, opts *expiring.Options) *expiring.Tree[string]

// start is the initial time of every test clock
var start = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// RunExpiringTreeTests runs the conformance suite for expiring trees.
func RunExpiringTreeTests(t *testing.T, name string, factory TreeFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("ExpireImmediately", func(t *testing.T) {
			testExpireImmediately(t, factory)
		})

		t.Run("InsertExpireRemove", func(t *testing.T) {
			testInsertExpireRemove(t, factory)
		})

		t.Run("RefreshMovesKey", func(t *testing.T) {
			testRefreshMovesKey(t, factory)
		})

		t.Run("NoPolicy", func(t *testing.T) {
			testNoPolicy(t, factory)
		})

		t.Run("ExtendOnFetch", func(t *testing.T) {
			testExtendOnFetch(t, factory)
		})

		t.Run("CompareAndSwap", func(t *testing.T) {
			testCompareAndSwap(t, factory)
		})

		t.Run("Update", func(t *testing.T) {
			testUpdate(t, factory)
		})

		t.Run("Pop", func(t *testing.T) {
			testPop(t, factory)
		})

		t.Run("BatchKeepsRemovedMetadata", func(t *testing.T) {
			testBatchKeepsRemovedMetadata(t, factory)
		})

		t.Run("Transaction", func(t *testing.T) {
			testTransaction(t, factory)
		})

		t.Run("ExpiredOrder", func(t *testing.T) {
			testExpiredOrder(t, factory)
		})

		t.Run("SkipBrokenBucket", func(t *testing.T) {
			testSkipBrokenBucket(t, factory)
		})

		t.Run("Clear", func(t *testing.T) {
			testClear(t, factory)
		})

		t.Run("RandomOperations", func(t *testing.T) {
			testRandomOperations(t, factory)
		})

		t.Run("ConcurrentAccess", func(t *testing.T) {
			testConcurrentAccess(t, factory)
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// open creates a tree with the given policy and a test clock
func open(tb testing.TB, factory TreeFactory, onUpdate, onFetch bool, length time.Duration) (*expiring.Tree[string], *Clock) {
	clock := NewClock(start)
	tree := factory(tb, &expiring.Options{
		ExtendOnUpdate:   onUpdate,
		ExtendOnFetch:    onFetch,
		ExpirationLength: length,
		Now:              clock.Now,
	})
	return tree, clock
}

func mustInsert(tb testing.TB, tree *expiring.Tree[string], key, value string) {
	tb.Helper()
	if _, _, err := tree.Insert([]byte(key), value); err != nil {
		tb.Fatalf("Insert(%s) failed: %v", key, err)
	}
}

func expired(tb testing.TB, tree *expiring.Tree[string]) []string {
	tb.Helper()
	keys, err := tree.ExpiredKeys(0)
	if err != nil {
		tb.Fatalf("Expired failed: %v", err)
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = string(k)
	}
	return out
}

func expectExpired(tb testing.TB, tree *expiring.Tree[string], want ...string) {
	tb.Helper()
	if got := expired(tb, tree); fmt.Sprint(got) != fmt.Sprint(want) {
		tb.Fatalf("Expired() = %v, want %v", got, want)
	}
}

// expectExpiry checks the forward index entry of key; a zero want means untracked
func expectExpiry(tb testing.TB, tree *expiring.Tree[string], key string, want time.Time) {
	tb.Helper()
	at, ok, err := tree.ExpiresAt([]byte(key))
	if err != nil {
		tb.Fatalf("ExpiresAt(%s) failed: %v", key, err)
	}
	if want.IsZero() {
		if ok {
			tb.Fatalf("ExpiresAt(%s) = %s, want untracked", key, at)
		}
		return
	}
	if !ok || !at.Equal(want) {
		tb.Fatalf("ExpiresAt(%s) = %s (tracked=%t), want %s", key, at, ok, want)
	}
}

// checkIndex verifies that the forward and the inverse index describe the same key set,
// every key is in exactly the bucket of its expiry and no bucket is empty. It returns the
// tracked keys with their bucket.
func checkIndex(tb testing.TB, tree *expiring.Tree[string]) map[string]string {
	tb.Helper()
	d := tree.Data().Raw().DB()
	format := tree.Options().MetadataFormat

	fwd, err := structured.OpenFormat[time.Time](d, expiring.ForwardTreeName(tree.Name()), format)
	if err != nil {
		tb.Fatalf("opening forward index failed: %v", err)
	}
	inv, err := structured.OpenFormat[expiring.KeySet](d, expiring.InverseTreeName(tree.Name()), format)
	if err != nil {
		tb.Fatalf("opening inverse index failed: %v", err)
	}

	forward := make(map[string]string)
	it := fwd.Iter()
	for it.Next() {
		forward[string(it.Key())] = expiring.FormatTimestamp(it.Value())
	}
	if err := it.Err(); err != nil {
		tb.Fatalf("reading forward index failed: %v", err)
	}

	inverse := make(map[string]string)
	bit := inv.Iter()
	for bit.Next() {
		bucket := string(bit.Key())
		if len(bit.Value()) == 0 {
			tb.Fatalf("bucket %s is empty", bucket)
		}
		for _, k := range bit.Value() {
			if other, dup := inverse[string(k)]; dup {
				tb.Fatalf("key %s is in buckets %s and %s", k, other, bucket)
			}
			inverse[string(k)] = bucket
		}
	}
	if err := bit.Err(); err != nil {
		tb.Fatalf("reading inverse index failed: %v", err)
	}

	if len(forward) != len(inverse) {
		tb.Fatalf("forward index has %d keys, inverse index has %d", len(forward), len(inverse))
	}
	for k, bucket := range forward {
		if inverse[k] != bucket {
			tb.Fatalf("key %s expires at %s but is in bucket %q", k, bucket, inverse[k])
		}
	}
	return forward
}

func ptr(s string) *string { return &s }

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testExpireImmediately(t *testing.T, factory TreeFactory) {
	tree, _ := open(t, factory, true, false, 0)

	mustInsert(t, tree, "a", "1")
	expectExpired(t, tree, "a")
	checkIndex(t, tree)

	// expired keys are only reported, never removed
	if ok, err := tree.ContainsKey([]byte("a")); err != nil || !ok {
		t.Fatalf("ContainsKey(a) = %t, %v", ok, err)
	}
}

func testInsertExpireRemove(t *testing.T, factory TreeFactory) {
	tree, clock := open(t, factory, true, false, time.Hour)

	mustInsert(t, tree, "a", "1")
	expectExpiry(t, tree, "a", start.Add(time.Hour))
	expectExpired(t, tree)

	clock.Advance(time.Hour)
	mustInsert(t, tree, "b", "2")
	expectExpired(t, tree, "a")

	if _, _, err := tree.Remove([]byte("a")); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	expectExpired(t, tree)
	expectExpiry(t, tree, "a", time.Time{})
	if tracked := checkIndex(t, tree); len(tracked) != 1 {
		t.Fatalf("Tracked keys = %v, want only b", tracked)
	}

	// removing an absent key is a no-op
	if _, loaded, err := tree.Remove([]byte("missing")); err != nil || loaded {
		t.Fatalf("Remove(missing) = %t, %v", loaded, err)
	}

	clock.Advance(time.Hour)
	expectExpired(t, tree, "b")
}

func testRefreshMovesKey(t *testing.T, factory TreeFactory) {
	tree, clock := open(t, factory, true, false, time.Minute)

	mustInsert(t, tree, "a", "1")
	mustInsert(t, tree, "b", "1")
	clock.Advance(30 * time.Second)
	mustInsert(t, tree, "a", "2")

	expectExpiry(t, tree, "a", start.Add(90*time.Second))
	tracked := checkIndex(t, tree)
	if len(tracked) != 2 || tracked["a"] == tracked["b"] {
		t.Fatalf("Tracked keys = %v, want a and b in different buckets", tracked)
	}

	// b expires first
	clock.Advance(30 * time.Second)
	expectExpired(t, tree, "b")
	clock.Advance(30 * time.Second)
	expectExpired(t, tree, "b", "a")

	// explicit refresh works without policy
	if err := tree.Refresh([]byte("b")); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	expectExpired(t, tree, "a")
	checkIndex(t, tree)
}

func testNoPolicy(t *testing.T, factory TreeFactory) {
	tree, clock := open(t, factory, false, false, time.Minute)

	mustInsert(t, tree, "a", "1")
	if _, _, err := tree.Get([]byte("a")); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	expectExpiry(t, tree, "a", time.Time{})
	clock.Advance(time.Hour)
	expectExpired(t, tree)

	if _, _, err := tree.Remove([]byte("a")); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if tracked := checkIndex(t, tree); len(tracked) != 0 {
		t.Fatalf("Tracked keys = %v, want none", tracked)
	}
}

func testExtendOnFetch(t *testing.T, factory TreeFactory) {
	tree, clock := open(t, factory, false, true, time.Minute)

	for _, k := range []string{"a", "b", "c"} {
		mustInsert(t, tree, k, k)
	}
	expectExpiry(t, tree, "a", time.Time{})

	v, ok, err := tree.Get([]byte("a"))
	if err != nil || !ok || v != "a" {
		t.Fatalf("Get(a) = %q, %t, %v", v, ok, err)
	}
	expectExpiry(t, tree, "a", start.Add(time.Minute))

	// a miss tracks nothing
	if _, ok, err := tree.Get([]byte("missing")); err != nil || ok {
		t.Fatalf("Get(missing) = %t, %v", ok, err)
	}
	expectExpiry(t, tree, "missing", time.Time{})

	clock.Advance(time.Second)
	k, _, ok, err := tree.GetGt([]byte("a"))
	if err != nil || !ok || string(k) != "b" {
		t.Fatalf("GetGt(a) = %s, %t, %v", k, ok, err)
	}
	expectExpiry(t, tree, "b", start.Add(time.Minute+time.Second))

	clock.Advance(time.Second)
	k, _, ok, err = tree.GetLt([]byte("a"))
	if err != nil || ok {
		t.Fatalf("GetLt(a) = %s, %t, %v", k, ok, err)
	}

	// iteration refreshes every yielded key
	keys, err := tree.ScanPrefix([]byte("c")).Keys()
	if err != nil || len(keys) != 1 {
		t.Fatalf("ScanPrefix(c) = %q, %v", keys, err)
	}
	expectExpiry(t, tree, "c", start.Add(time.Minute+2*time.Second))

	clock.Advance(time.Second)
	if keys, err := tree.Iter().Reverse().Keys(); err != nil || len(keys) != 3 {
		t.Fatalf("Iter() = %q, %v", keys, err)
	}
	for _, k := range []string{"a", "b", "c"} {
		expectExpiry(t, tree, k, start.Add(time.Minute+3*time.Second))
	}
	if tracked := checkIndex(t, tree); len(tracked) != 3 {
		t.Fatalf("Tracked keys = %v", tracked)
	}
}

func testCompareAndSwap(t *testing.T, factory TreeFactory) {
	tree, clock := open(t, factory, true, false, time.Minute)
	key := []byte("k")

	if err := tree.CompareAndSwap(key, nil, ptr("v1")); err != nil {
		t.Fatalf("CompareAndSwap(nil, v1) failed: %v", err)
	}
	expectExpiry(t, tree, "k", start.Add(time.Minute))

	// a conflict leaves the expiry untouched
	clock.Advance(time.Second)
	err := tree.CompareAndSwap(key, ptr("wrong"), ptr("v2"))
	var casErr *structured.CompareAndSwapError[string]
	if !errors.As(err, &casErr) || !errors.Is(err, db.ErrConflict) {
		t.Fatalf("Expected a compare and swap conflict, got %v", err)
	}
	if casErr.Current == nil || *casErr.Current != "v1" {
		t.Fatalf("Conflict reports current %v, want v1", casErr.Current)
	}
	expectExpiry(t, tree, "k", start.Add(time.Minute))

	// expecting absence on a present key conflicts as well
	clock.Advance(time.Second)
	err = tree.CompareAndSwap(key, nil, ptr("v2"))
	if !errors.As(err, &casErr) || !errors.Is(err, db.ErrConflict) {
		t.Fatalf("Expected a compare and swap conflict for an absent expectation, got %v", err)
	}
	if casErr.Current == nil || *casErr.Current != "v1" {
		t.Fatalf("Conflict reports current %v, want v1", casErr.Current)
	}
	if v, _, _ := tree.Data().Get(key); v != "v1" {
		t.Fatalf("Value after conflict = %q, want v1", v)
	}
	expectExpiry(t, tree, "k", start.Add(time.Minute))

	if err := tree.CompareAndSwap(key, ptr("v1"), ptr("v2")); err != nil {
		t.Fatalf("CompareAndSwap(v1, v2) failed: %v", err)
	}
	expectExpiry(t, tree, "k", start.Add(time.Minute+2*time.Second))

	// swapping to absent deletes the metadata
	if err := tree.CompareAndSwap(key, ptr("v2"), nil); err != nil {
		t.Fatalf("CompareAndSwap(v2, nil) failed: %v", err)
	}
	expectExpiry(t, tree, "k", time.Time{})
	if tracked := checkIndex(t, tree); len(tracked) != 0 {
		t.Fatalf("Tracked keys = %v, want none", tracked)
	}
}

func testUpdate(t *testing.T, factory TreeFactory) {
	tree, clock := open(t, factory, true, false, time.Minute)
	key := []byte("counter")

	appendX := func(old string, loaded bool) (string, bool) { return old + "x", true }
	drop := func(old string, loaded bool) (string, bool) { return "", false }

	v, ok, err := tree.UpdateAndFetch(key, appendX)
	if err != nil || !ok || v != "x" {
		t.Fatalf("UpdateAndFetch = %q, %t, %v", v, ok, err)
	}
	expectExpiry(t, tree, "counter", start.Add(time.Minute))

	clock.Advance(time.Second)
	prev, loaded, err := tree.FetchAndUpdate(key, appendX)
	if err != nil || !loaded || prev != "x" {
		t.Fatalf("FetchAndUpdate = %q, %t, %v", prev, loaded, err)
	}
	expectExpiry(t, tree, "counter", start.Add(time.Minute+time.Second))

	// FetchAndUpdate returns the old value but the expiry follows the new (absent) one
	prev, loaded, err = tree.FetchAndUpdate(key, drop)
	if err != nil || !loaded || prev != "xx" {
		t.Fatalf("FetchAndUpdate(drop) = %q, %t, %v", prev, loaded, err)
	}
	expectExpiry(t, tree, "counter", time.Time{})

	mustInsert(t, tree, "counter", "y")
	if _, ok, err := tree.UpdateAndFetch(key, drop); err != nil || ok {
		t.Fatalf("UpdateAndFetch(drop) = %t, %v", ok, err)
	}
	expectExpiry(t, tree, "counter", time.Time{})
	checkIndex(t, tree)
}

func testPop(t *testing.T, factory TreeFactory) {
	tree, _ := open(t, factory, true, false, time.Minute)
	for _, k := range []string{"a", "b", "c"} {
		mustInsert(t, tree, k, k)
	}

	k, v, ok, err := tree.PopMin()
	if err != nil || !ok || string(k) != "a" || v != "a" {
		t.Fatalf("PopMin = %s, %q, %t, %v", k, v, ok, err)
	}
	k, _, ok, err = tree.PopMax()
	if err != nil || !ok || string(k) != "c" {
		t.Fatalf("PopMax = %s, %t, %v", k, ok, err)
	}
	expectExpiry(t, tree, "a", time.Time{})
	expectExpiry(t, tree, "c", time.Time{})
	if tracked := checkIndex(t, tree); len(tracked) != 1 {
		t.Fatalf("Tracked keys = %v, want only b", tracked)
	}

	if _, _, _, err := tree.PopMin(); err != nil {
		t.Fatalf("PopMin failed: %v", err)
	}
	if _, _, ok, err := tree.PopMin(); err != nil || ok {
		t.Fatalf("PopMin on empty tree = %t, %v", ok, err)
	}
}

func testBatchKeepsRemovedMetadata(t *testing.T, factory TreeFactory) {
	tree, clock := open(t, factory, true, false, time.Minute)
	mustInsert(t, tree, "a", "1")

	batch := tree.NewBatch()
	for _, k := range []string{"b", "c"} {
		if err := batch.Insert([]byte(k), k); err != nil {
			t.Fatalf("Batch.Insert failed: %v", err)
		}
	}
	batch.Remove([]byte("c"))
	batch.Remove([]byte("a"))
	if got := batch.InsertedKeys(); len(got) != 1 || string(got[0]) != "b" {
		t.Fatalf("InsertedKeys = %q, want [b]", got)
	}

	clock.Advance(time.Second)
	if err := tree.ApplyBatch(batch); err != nil {
		t.Fatalf("ApplyBatch failed: %v", err)
	}

	expectExpiry(t, tree, "b", start.Add(time.Minute+time.Second))
	expectExpiry(t, tree, "c", time.Time{})
	// a is gone but still tracked
	if ok, _ := tree.ContainsKey([]byte("a")); ok {
		t.Fatal("a should have been removed by the batch")
	}
	expectExpiry(t, tree, "a", start.Add(time.Minute))
	checkIndex(t, tree)

	clock.Advance(2 * time.Minute)
	expectExpired(t, tree, "a", "b")
}

func testTransaction(t *testing.T, factory TreeFactory) {
	tree, _ := open(t, factory, true, true, time.Minute)
	mustInsert(t, tree, "old", "1")

	err := tree.Transaction(func(tx *expiring.TransactionalTree[string]) error {
		if _, _, err := tx.Insert([]byte("new"), "2"); err != nil {
			return err
		}
		if _, _, err := tx.Remove([]byte("old")); err != nil {
			return err
		}
		v, ok, err := tx.Get([]byte("new"))
		if err != nil || !ok || v != "2" {
			return fmt.Errorf("Get(new) inside transaction = %q, %t, %v", v, ok, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	expectExpiry(t, tree, "new", start.Add(time.Minute))
	expectExpiry(t, tree, "old", time.Time{})

	errStop := errors.New("stop")
	err = tree.Transaction(func(tx *expiring.TransactionalTree[string]) error {
		if _, _, err := tx.Insert([]byte("aborted"), "3"); err != nil {
			return err
		}
		if _, _, err := tx.Remove([]byte("new")); err != nil {
			return err
		}
		return db.Abort(errStop)
	})
	if !errors.Is(err, db.ErrAborted) || !errors.Is(err, errStop) {
		t.Fatalf("Expected aborted transaction, got %v", err)
	}
	if ok, _ := tree.ContainsKey([]byte("aborted")); ok {
		t.Fatal("aborted insert is visible")
	}
	expectExpiry(t, tree, "aborted", time.Time{})
	expectExpiry(t, tree, "new", start.Add(time.Minute))

	batch := tree.NewBatch()
	_ = batch.Insert([]byte("batched"), "4")
	err = tree.Transaction(func(tx *expiring.TransactionalTree[string]) error {
		return tx.ApplyBatch(batch)
	})
	if err != nil {
		t.Fatalf("Transaction with batch failed: %v", err)
	}
	expectExpiry(t, tree, "batched", start.Add(time.Minute))
	checkIndex(t, tree)
}

func testExpiredOrder(t *testing.T, factory TreeFactory) {
	tree, clock := open(t, factory, true, false, time.Minute)

	mustInsert(t, tree, "z", "1")
	mustInsert(t, tree, "y", "1")
	clock.Advance(time.Second)
	mustInsert(t, tree, "a", "1")
	clock.Advance(time.Millisecond)
	mustInsert(t, tree, "m", "1")

	clock.Advance(time.Minute)
	expectExpired(t, tree, "y", "z", "a", "m")

	it := tree.Expired()
	if !it.Next() {
		t.Fatalf("Expected an expired key: %v", it.Err())
	}
	if !it.ExpiresAt().Equal(start.Add(time.Minute)) {
		t.Fatalf("ExpiresAt() = %s, want %s", it.ExpiresAt(), start.Add(time.Minute))
	}
	if !it.Now().Equal(clock.Now()) {
		t.Fatalf("Now() = %s, want %s", it.Now(), clock.Now())
	}

	keys, err := tree.ExpiredKeys(2)
	if err != nil || len(keys) != 2 {
		t.Fatalf("ExpiredKeys(2) = %q, %v", keys, err)
	}
}

func testSkipBrokenBucket(t *testing.T, factory TreeFactory) {
	tree, clock := open(t, factory, true, false, time.Minute)
	if tree.Options().MetadataFormat == codec.FormatYAML {
		t.Skip("yaml accepts arbitrary scalars")
	}
	mustInsert(t, tree, "a", "1")

	raw, err := tree.Data().Raw().DB().OpenTree(expiring.InverseTreeName(tree.Name()))
	if err != nil {
		t.Fatalf("OpenTree failed: %v", err)
	}
	broken := expiring.FormatTimestamp(start.Add(-time.Hour))
	if _, _, err := raw.Insert([]byte(broken), []byte{0xc1}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	clock.Advance(time.Minute)
	expectExpired(t, tree, "a")
}

func testClear(t *testing.T, factory TreeFactory) {
	tree, _ := open(t, factory, true, false, 0)
	for _, k := range []string{"a", "b"} {
		mustInsert(t, tree, k, k)
	}
	if err := tree.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if empty, err := tree.IsEmpty(); err != nil || !empty {
		t.Fatalf("IsEmpty = %t, %v", empty, err)
	}
	expectExpired(t, tree)
	if tracked := checkIndex(t, tree); len(tracked) != 0 {
		t.Fatalf("Tracked keys = %v, want none", tracked)
	}
}

// testRandomOperations runs seeded random operation sequences against a model of the
// expected expiry of every key
func testRandomOperations(t *testing.T, factory TreeFactory) {
	for _, policy := range []struct{ onUpdate, onFetch bool }{
		{true, true}, {true, false}, {false, true}, {false, false},
	} {
		name := fmt.Sprintf("update=%t,fetch=%t", policy.onUpdate, policy.onFetch)
		t.Run(name, func(t *testing.T) {
			const length = 10 * time.Second
			tree, clock := open(t, factory, policy.onUpdate, policy.onFetch, length)
			rnd := rand.New(rand.NewSource(42))

			data := make(map[string]bool)
			expiry := make(map[string]time.Time)
			refresh := func(k string) { expiry[k] = clock.Now().Add(length).UTC() }

			for i := 0; i < 300; i++ {
				key := fmt.Sprintf("k%02d", rnd.Intn(20))
				switch op := rnd.Intn(7); op {
				case 0, 1:
					mustInsert(t, tree, key, "v")
					data[key] = true
					if policy.onUpdate {
						refresh(key)
					}
				case 2:
					if _, _, err := tree.Remove([]byte(key)); err != nil {
						t.Fatalf("Remove failed: %v", err)
					}
					delete(data, key)
					delete(expiry, key)
				case 3:
					if _, _, err := tree.Get([]byte(key)); err != nil {
						t.Fatalf("Get failed: %v", err)
					}
					if data[key] && policy.onFetch {
						refresh(key)
					}
				case 4:
					keep := rnd.Intn(2) == 0
					_, _, err := tree.UpdateAndFetch([]byte(key), func(old string, loaded bool) (string, bool) {
						return old + "u", keep
					})
					if err != nil {
						t.Fatalf("UpdateAndFetch failed: %v", err)
					}
					if keep {
						data[key] = true
						if policy.onUpdate {
							refresh(key)
						}
					} else {
						delete(data, key)
						delete(expiry, key)
					}
				case 5:
					k, _, ok, err := tree.PopMin()
					if err != nil {
						t.Fatalf("PopMin failed: %v", err)
					}
					if ok {
						delete(data, string(k))
						delete(expiry, string(k))
					}
				case 6:
					clock.Advance(time.Duration(rnd.Intn(3000)) * time.Millisecond)
				}
			}

			tracked := checkIndex(t, tree)
			if len(tracked) != len(expiry) {
				t.Fatalf("Tracked %d keys, model has %d", len(tracked), len(expiry))
			}
			for k, at := range expiry {
				expectExpiry(t, tree, k, at)
			}

			// Expired yields every key with expiry <= now, ordered by (expiry, key)
			now := clock.Now()
			var want []string
			for k, at := range expiry {
				if !at.After(now) {
					want = append(want, k)
				}
			}
			sort.Slice(want, func(i, j int) bool {
				a, b := expiry[want[i]], expiry[want[j]]
				if !a.Equal(b) {
					return a.Before(b)
				}
				return bytes.Compare([]byte(want[i]), []byte(want[j])) < 0
			})
			expectExpired(t, tree, want...)
		})
	}
}

// testConcurrentAccess mixes writes and reads from several goroutines on shared keys and on
// keys owned by a single goroutine. The metadata trees must stay consistent, and owned keys
// must be tracked exactly while they hold a value.
func testConcurrentAccess(t *testing.T, factory TreeFactory) {
	const (
		workers = 8
		ops     = 300
	)
	tree, _ := open(t, factory, true, true, time.Minute)

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(int64(w)))
			for i := 0; i < ops; i++ {
				key := []byte(fmt.Sprintf("shared-%d", rnd.Intn(10)))
				if rnd.Intn(2) == 0 {
					key = []byte(fmt.Sprintf("owned-%d-%d", w, rnd.Intn(5)))
				}

				var err error
				switch rnd.Intn(3) {
				case 0:
					_, _, err = tree.Insert(key, "v")
				case 1:
					_, _, err = tree.Remove(key)
				case 2:
					_, _, err = tree.Get(key)
				}
				if err != nil {
					errs <- fmt.Errorf("worker %d: %s: %w", w, key, err)
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	tracked := checkIndex(t, tree)
	for w := 0; w < workers; w++ {
		for n := 0; n < 5; n++ {
			key := fmt.Sprintf("owned-%d-%d", w, n)
			present, err := tree.ContainsKey([]byte(key))
			if err != nil {
				t.Fatalf("ContainsKey(%s) failed: %v", key, err)
			}
			if _, ok := tracked[key]; ok != present {
				t.Fatalf("Key %s: present=%t, tracked=%t", key, present, ok)
			}
		}
	}
}

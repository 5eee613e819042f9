package db

import (
	"bytes"

	"go.etcd.io/bbolt"
)

// Iter walks the entries of a tree in key order.
//
// An Iter is lazy and not a snapshot: every call to Next opens a short read transaction and
// continues after the last returned key, so writes committed in between are observed. No
// transaction is held between calls, it is therefore safe to modify the tree while iterating.
//
// Thread-safety: an Iter must only be used by one goroutine.
//
// Usage:
//
//	it := tree.Range(lo, hi)
//	for it.Next() {
//		use(it.Key(), it.Value())
//	}
//	if err := it.Err(); err != nil { ... }
type Iter struct {
	tree    *Tree
	lo, hi  []byte // lo inclusive, hi exclusive, nil = unbounded
	reverse bool

	started bool
	done    bool
	last    []byte

	key, value []byte
	err        error
}

// Iter returns an iterator over all entries.
func (t *Tree) Iter() *Iter {
	return &Iter{tree: t}
}

// Range returns an iterator over the entries with lo <= key < hi. A nil bound is unbounded.
func (t *Tree) Range(lo, hi []byte) *Iter {
	return &Iter{tree: t, lo: clone(lo), hi: clone(hi)}
}

// ScanPrefix returns an iterator over all entries whose key starts with prefix.
func (t *Tree) ScanPrefix(prefix []byte) *Iter {
	return t.Range(prefix, PrefixEnd(prefix))
}

// Reverse makes the iterator walk from the greatest to the smallest key. It must be called
// before the first call to Next.
func (it *Iter) Reverse() *Iter {
	it.reverse = true
	return it
}

// Next advances to the next entry. It returns false when the iteration is exhausted or failed.
func (it *Iter) Next() bool {
	if it.done {
		return false
	}

	var k, v []byte
	err := it.tree.view("iterate", func(b *bbolt.Bucket) error {
		c := b.Cursor()
		if it.reverse {
			k, v = it.stepBackward(c)
		} else {
			k, v = it.stepForward(c)
		}
		if k != nil {
			k, v = clone(k), clone(v)
		}
		return nil
	})
	if err != nil {
		it.err = err
		it.done = true
		return false
	}
	if k == nil {
		it.done = true
		it.key, it.value = nil, nil
		return false
	}

	it.started = true
	it.last = k
	it.key, it.value = k, v
	if it.value == nil {
		it.value = []byte{}
	}
	return true
}

func (it *Iter) stepForward(c *bbolt.Cursor) ([]byte, []byte) {
	var k, v []byte
	switch {
	case it.started:
		k, v = c.Seek(it.last)
		if k != nil && bytes.Equal(k, it.last) {
			k, v = c.Next()
		}
	case it.lo != nil:
		k, v = c.Seek(it.lo)
	default:
		k, v = c.First()
	}
	if k == nil || (it.hi != nil && bytes.Compare(k, it.hi) >= 0) {
		return nil, nil
	}
	return k, v
}

func (it *Iter) stepBackward(c *bbolt.Cursor) ([]byte, []byte) {
	var k, v []byte
	upper := it.hi
	if it.started {
		upper = it.last
	}
	if upper == nil {
		k, v = c.Last()
	} else if k, _ = c.Seek(upper); k == nil {
		k, v = c.Last()
	} else {
		k, v = c.Prev()
	}
	if k == nil || (it.lo != nil && bytes.Compare(k, it.lo) < 0) {
		return nil, nil
	}
	return k, v
}

// Key returns the key of the current entry.
func (it *Iter) Key() []byte {
	return it.key
}

// Value returns the value of the current entry.
func (it *Iter) Value() []byte {
	return it.value
}

// Err returns the error that ended the iteration, if any.
func (it *Iter) Err() error {
	return it.err
}

// PrefixEnd returns the smallest key that is greater than every key starting with prefix,
// or nil if there is no such key (empty prefix or all bytes 0xff).
func PrefixEnd(prefix []byte) []byte {
	end := clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

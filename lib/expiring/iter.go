package expiring

import (
	"errors"
	"time"

	"github.com/ValentinKolb/ttlKV/lib/codec"
	"github.com/ValentinKolb/ttlKV/lib/structured"
)

// --------------------------------------------------------------------------
// Data Iterator
// --------------------------------------------------------------------------

// Iter walks the entries of an expiring tree. With ExtendOnFetch every yielded key is
// refreshed before Next returns, so iterating is not a pure read.
//
// A failed refresh ends the current Next with false and is reported by Err, as are decode
// errors (see structured.Iter).
type Iter[V any] struct {
	inner *structured.Iter[V]
	tree  *Tree[V]
	err   error
}

// Reverse makes the iterator walk from the greatest to the smallest key. It must be called
// before the first call to Next.
func (it *Iter[V]) Reverse() *Iter[V] {
	it.inner.Reverse()
	return it
}

// Next advances to the next entry.
func (it *Iter[V]) Next() bool {
	it.err = nil
	if !it.inner.Next() {
		it.err = it.inner.Err()
		return false
	}
	if it.tree.opts.ExtendOnFetch {
		if err := it.tree.refresh(it.inner.Key()); err != nil {
			it.err = err
			return false
		}
	}
	return true
}

// Key returns the key of the current entry.
func (it *Iter[V]) Key() []byte { return it.inner.Key() }

// Value returns the value of the current entry.
func (it *Iter[V]) Value() V { return it.inner.Value() }

// Err returns the error of the last call to Next.
func (it *Iter[V]) Err() error { return it.err }

// Keys drains the iterator and returns all keys. It stops at the first error.
func (it *Iter[V]) Keys() ([][]byte, error) {
	var keys [][]byte
	for it.Next() {
		keys = append(keys, it.Key())
	}
	return keys, it.Err()
}

// --------------------------------------------------------------------------
// Expired Iterator
// --------------------------------------------------------------------------

// ExpiredIter yields expired keys in expiry order. It walks the inverse tree lazily and
// flattens each bucket into its keys; like all iterators of this module it is not a snapshot.
//
// Buckets that can't be decoded are logged and skipped. Engine errors end the iteration and
// are reported by Err.
type ExpiredIter struct {
	buckets *structured.Iter[KeySet]
	now     time.Time
	tree    string
	metrics *treeMetrics

	pending KeySet
	key     []byte
	at      time.Time
	done    bool
	err     error
}

// Next advances to the next expired key.
func (it *ExpiredIter) Next() bool {
	if it.done {
		return false
	}
	for len(it.pending) == 0 {
		if !it.buckets.Next() {
			err := it.buckets.Err()
			if err == nil {
				it.done = true
				return false
			}
			if errors.Is(err, codec.ErrDecode) {
				it.metrics.bucketSkip.Inc()
				plog.Warningf("%s: skipping expiry bucket %q: %v", it.tree, it.buckets.Key(), err)
				continue
			}
			it.err, it.done = err, true
			return false
		}
		it.pending = it.buckets.Value()
		if at, err := ParseTimestamp(string(it.buckets.Key())); err == nil {
			it.at = at
		} else {
			it.at = time.Time{}
		}
	}

	it.key, it.pending = it.pending[0], it.pending[1:]
	it.metrics.expired.Inc()
	return true
}

// Key returns the current expired key.
func (it *ExpiredIter) Key() []byte { return it.key }

// ExpiresAt returns the expiry of the current key (zero if the bucket key is malformed).
func (it *ExpiredIter) ExpiresAt() time.Time { return it.at }

// Now returns the time the scan compares against.
func (it *ExpiredIter) Now() time.Time { return it.now }

// Err returns the error that ended the iteration, if any.
func (it *ExpiredIter) Err() error { return it.err }

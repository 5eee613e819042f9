package structured

import (
	"github.com/ValentinKolb/ttlKV/lib/codec"
	"github.com/ValentinKolb/ttlKV/lib/db"
)

// Iter walks typed entries in key order. Like db.Iter it is lazy and not a snapshot.
//
// A value that can't be decoded ends the current Next with false and is reported by Err.
// Calling Next again skips the broken entry and continues with the following key; engine
// errors are final.
type Iter[V any] struct {
	raw   *db.Iter
	codec codec.Codec[V]
	value V
	err   error
}

func newIter[V any](raw *db.Iter, c codec.Codec[V]) *Iter[V] {
	return &Iter[V]{raw: raw, codec: c}
}

// Reverse makes the iterator walk from the greatest to the smallest key. It must be called
// before the first call to Next.
func (it *Iter[V]) Reverse() *Iter[V] {
	it.raw.Reverse()
	return it
}

// Next advances to the next entry.
func (it *Iter[V]) Next() bool {
	it.err = nil
	if !it.raw.Next() {
		it.err = it.raw.Err()
		return false
	}
	v, err := it.codec.Decode(it.raw.Value())
	if err != nil {
		var zero V
		it.value, it.err = zero, err
		return false
	}
	it.value = v
	return true
}

// Key returns the key of the current entry (also after a decode failure).
func (it *Iter[V]) Key() []byte { return it.raw.Key() }

// Value returns the decoded value of the current entry.
func (it *Iter[V]) Value() V { return it.value }

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

// Values drains the iterator and returns all values. It stops at the first error.
func (it *Iter[V]) Values() ([]V, error) {
	var values []V
	for it.Next() {
		values = append(values, it.Value())
	}
	return values, it.Err()
}

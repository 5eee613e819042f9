package structured

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/ttlKV/lib/codec"
	"github.com/ValentinKolb/ttlKV/lib/db"
	"github.com/lni/dragonboat/v4/logger"
)

var plog = logger.GetLogger("structured")

// Tree is a typed view of a db.Tree: keys are raw bytes, values are V and are converted with
// a codec on every access. Nothing is cached; every call reads or writes the engine.
//
// Thread-safety: all methods are safe for concurrent use.
type Tree[V any] struct {
	raw   *db.Tree
	codec codec.Codec[V]
}

// New wraps an open raw tree.
func New[V any](raw *db.Tree, c codec.Codec[V]) *Tree[V] {
	return &Tree[V]{raw: raw, codec: c}
}

// Open opens (or creates) the tree name in d with the given value codec.
func Open[V any](d *db.DB, name string, c codec.Codec[V]) (*Tree[V], error) {
	raw, err := d.OpenTree(name)
	if err != nil {
		return nil, err
	}
	plog.Debugf("opened tree %s with codec %s", name, c.Format())
	return New(raw, c), nil
}

// OpenFormat is like Open but creates the codec from a format name.
func OpenFormat[V any](d *db.DB, name string, format codec.Format) (*Tree[V], error) {
	c, err := codec.New[V](format)
	if err != nil {
		return nil, err
	}
	return Open(d, name, c)
}

// Raw returns the underlying byte tree.
func (t *Tree[V]) Raw() *db.Tree { return t.raw }

// Codec returns the value codec.
func (t *Tree[V]) Codec() codec.Codec[V] { return t.codec }

// Name returns the name of the tree.
func (t *Tree[V]) Name() string { return t.raw.Name() }

// --------------------------------------------------------------------------
// Point Operations
// --------------------------------------------------------------------------

// Get returns the decoded value of key.
func (t *Tree[V]) Get(key []byte) (V, bool, error) {
	b, ok, err := t.raw.Get(key)
	return t.decodeOpt(b, ok, err)
}

// ContainsKey reports whether key exists. The value is not decoded.
func (t *Tree[V]) ContainsKey(key []byte) (bool, error) {
	return t.raw.ContainsKey(key)
}

// Insert stores value for key and returns the previous value, if any.
func (t *Tree[V]) Insert(key []byte, value V) (V, bool, error) {
	b, err := t.codec.Encode(value)
	if err != nil {
		var zero V
		return zero, false, err
	}
	prev, ok, err := t.raw.Insert(key, b)
	return t.decodeOpt(prev, ok, err)
}

// Remove deletes key and returns the previous value, if any.
func (t *Tree[V]) Remove(key []byte) (V, bool, error) {
	prev, ok, err := t.raw.Remove(key)
	return t.decodeOpt(prev, ok, err)
}

// CompareAndSwap replaces the value of key with proposed if the current value equals
// expected. Values are compared by their encoding. A nil expected means "only if absent",
// a nil proposed removes the key. A mismatch returns a *CompareAndSwapError[V] that matches
// db.ErrConflict.
func (t *Tree[V]) CompareAndSwap(key []byte, expected, proposed *V) error {
	expB, err := t.encodeOpt(expected)
	if err != nil {
		return err
	}
	propB, err := t.encodeOpt(proposed)
	if err != nil {
		return err
	}

	err = t.raw.CompareAndSwap(key, expB, propB)
	var casErr *db.CompareAndSwapError
	if errors.As(err, &casErr) {
		typed := &CompareAndSwapError[V]{Proposed: proposed}
		if casErr.Current != nil {
			current, err := t.codec.Decode(casErr.Current)
			if err != nil {
				return err
			}
			typed.Current = &current
		}
		return typed
	}
	return err
}

// UpdateFunc computes the new value of a key from its current value. Returning keep=false
// removes the key. It may be called more than once and must not have side effects.
type UpdateFunc[V any] func(old V, loaded bool) (value V, keep bool)

// UpdateAndFetch atomically replaces the value of key with the result of fn and returns the
// new value; present is false if the key is absent afterwards.
func (t *Tree[V]) UpdateAndFetch(key []byte, fn UpdateFunc[V]) (V, bool, error) {
	b, ok, err := t.raw.UpdateAndFetch(key, t.compute(fn))
	return t.decodeOpt(b, ok, err)
}

// FetchAndUpdate atomically replaces the value of key with the result of fn and returns the
// previous value.
func (t *Tree[V]) FetchAndUpdate(key []byte, fn UpdateFunc[V]) (V, bool, error) {
	b, ok, err := t.raw.FetchAndUpdate(key, t.compute(fn))
	return t.decodeOpt(b, ok, err)
}

func (t *Tree[V]) compute(fn UpdateFunc[V]) db.ComputeFunc {
	return func(oldB []byte, loaded bool) ([]byte, bool, error) {
		var old V
		if loaded {
			var err error
			if old, err = t.codec.Decode(oldB); err != nil {
				return nil, false, err
			}
		}
		value, keep := fn(old, loaded)
		if !keep {
			return nil, false, nil
		}
		b, err := t.codec.Encode(value)
		if err != nil {
			return nil, false, err
		}
		return b, true, nil
	}
}

// --------------------------------------------------------------------------
// Ordered Operations
// --------------------------------------------------------------------------

// GetLt returns the entry with the greatest key strictly less than key.
func (t *Tree[V]) GetLt(key []byte) ([]byte, V, bool, error) {
	k, b, ok, err := t.raw.GetLt(key)
	v, ok, err := t.decodeOpt(b, ok, err)
	return k, v, ok, err
}

// GetGt returns the entry with the smallest key strictly greater than key.
func (t *Tree[V]) GetGt(key []byte) ([]byte, V, bool, error) {
	k, b, ok, err := t.raw.GetGt(key)
	v, ok, err := t.decodeOpt(b, ok, err)
	return k, v, ok, err
}

// PopMin atomically removes and returns the entry with the smallest key.
func (t *Tree[V]) PopMin() ([]byte, V, bool, error) {
	k, b, ok, err := t.raw.PopMin()
	v, ok, err := t.decodeOpt(b, ok, err)
	return k, v, ok, err
}

// PopMax atomically removes and returns the entry with the greatest key.
func (t *Tree[V]) PopMax() ([]byte, V, bool, error) {
	k, b, ok, err := t.raw.PopMax()
	v, ok, err := t.decodeOpt(b, ok, err)
	return k, v, ok, err
}

// Iter returns an iterator over all entries in key order.
func (t *Tree[V]) Iter() *Iter[V] {
	return newIter(t.raw.Iter(), t.codec)
}

// Range returns an iterator over the entries with lo <= key < hi (nil = unbounded).
func (t *Tree[V]) Range(lo, hi []byte) *Iter[V] {
	return newIter(t.raw.Range(lo, hi), t.codec)
}

// ScanPrefix returns an iterator over all entries whose key starts with prefix.
func (t *Tree[V]) ScanPrefix(prefix []byte) *Iter[V] {
	return newIter(t.raw.ScanPrefix(prefix), t.codec)
}

// --------------------------------------------------------------------------
// Whole Tree Operations
// --------------------------------------------------------------------------

// Len returns the number of entries. This is O(n).
func (t *Tree[V]) Len() (int, error) { return t.raw.Len() }

// IsEmpty reports whether the tree has no entries.
func (t *Tree[V]) IsEmpty() (bool, error) { return t.raw.IsEmpty() }

// Clear removes all entries.
func (t *Tree[V]) Clear() error { return t.raw.Clear() }

// Flush forces all committed writes to disk.
func (t *Tree[V]) Flush() error { return t.raw.Flush() }

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func (t *Tree[V]) decodeOpt(b []byte, ok bool, err error) (V, bool, error) {
	var zero V
	if err != nil || !ok {
		return zero, false, err
	}
	v, err := t.codec.Decode(b)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

func (t *Tree[V]) encodeOpt(v *V) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return t.codec.Encode(*v)
}

// --------------------------------------------------------------------------
// Compare and Swap Error
// --------------------------------------------------------------------------

// CompareAndSwapError is returned by CompareAndSwap when the current value did not match.
// Current is nil if the key was absent, Proposed is the rejected value (nil for a rejected
// removal).
type CompareAndSwapError[V any] struct {
	Current  *V
	Proposed *V
}

func (e *CompareAndSwapError[V]) Error() string {
	if e.Current == nil {
		return "compare and swap conflict: key is absent"
	}
	return fmt.Sprintf("compare and swap conflict: current value is %v", *e.Current)
}

// Is reports true for db.ErrConflict.
func (e *CompareAndSwapError[V]) Is(target error) bool {
	return target == db.ErrConflict
}

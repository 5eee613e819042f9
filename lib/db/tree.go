package db

import (
	"bytes"

	"go.etcd.io/bbolt"
)

// Tree is a handle on a named, ordered collection of byte keys and byte values.
// Keys are ordered lexicographically by their bytes. Keys must not be empty.
//
// Handles are cheap values; any number of them may refer to the same tree.
//
// Thread-safety: all methods are safe for concurrent use. Every method runs in its own
// engine transaction, so each single call is atomic.
type Tree struct {
	db   *DB
	name string
	key  []byte
}

// ComputeFunc computes the new value of a key from its current value. loaded reports whether
// the key exists. Returning keep=false removes the key (a no-op if it is absent). A non-nil
// error aborts the update and is returned to the caller unchanged.
type ComputeFunc func(old []byte, loaded bool) (value []byte, keep bool, err error)

// Name returns the name of the tree.
func (t *Tree) Name() string {
	return t.name
}

// DB returns the database the tree belongs to.
func (t *Tree) DB() *DB {
	return t.db
}

// --------------------------------------------------------------------------
// Read Operations
// --------------------------------------------------------------------------

// view runs fn with the bucket of the tree inside a read transaction
func (t *Tree) view(op string, fn func(b *bbolt.Bucket) error) error {
	var fnErr error
	err := t.db.bolt.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(t.key)
		if b == nil {
			return engineError(t.name, ErrTreeNotFound)
		}
		fnErr = fn(b)
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return engineError(op, err)
	}
	return nil
}

// Get returns a copy of the value stored for key. The boolean reports whether the key exists.
func (t *Tree) Get(key []byte) (value []byte, loaded bool, err error) {
	err = t.view("get", func(b *bbolt.Bucket) error {
		value, loaded = lookup(b, key)
		return nil
	})
	return value, loaded, err
}

// ContainsKey reports whether key exists.
func (t *Tree) ContainsKey(key []byte) (bool, error) {
	_, loaded, err := t.Get(key)
	return loaded, err
}

// GetLt returns the entry with the greatest key strictly less than key.
func (t *Tree) GetLt(key []byte) (k, v []byte, found bool, err error) {
	err = t.view("get lt", func(b *bbolt.Bucket) error {
		c := b.Cursor()
		ck, cv := c.Seek(key)
		if ck == nil {
			ck, cv = c.Last()
		} else {
			ck, cv = c.Prev()
		}
		if ck != nil {
			k, v, found = clone(ck), clone(cv), true
		}
		return nil
	})
	return k, v, found, err
}

// GetGt returns the entry with the smallest key strictly greater than key.
func (t *Tree) GetGt(key []byte) (k, v []byte, found bool, err error) {
	err = t.view("get gt", func(b *bbolt.Bucket) error {
		c := b.Cursor()
		ck, cv := c.Seek(key)
		if ck != nil && bytes.Equal(ck, key) {
			ck, cv = c.Next()
		}
		if ck != nil {
			k, v, found = clone(ck), clone(cv), true
		}
		return nil
	})
	return k, v, found, err
}

// Len returns the number of entries.
//
// Note: this is O(n) in the size of the tree (all pages are visited).
func (t *Tree) Len() (int, error) {
	n := 0
	err := t.view("len", func(b *bbolt.Bucket) error {
		n = b.Stats().KeyN
		return nil
	})
	return n, err
}

// IsEmpty reports whether the tree has no entries.
func (t *Tree) IsEmpty() (bool, error) {
	empty := true
	err := t.view("is empty", func(b *bbolt.Bucket) error {
		k, _ := b.Cursor().First()
		empty = k == nil
		return nil
	})
	return empty, err
}

// --------------------------------------------------------------------------
// Write Operations
// --------------------------------------------------------------------------

// updateBucket runs fn with the bucket of the tree inside a write transaction
func (t *Tree) updateBucket(op string, fn func(w *writeTx, b *bbolt.Bucket) error) error {
	return t.db.update(op, func(w *writeTx) error {
		b, err := w.bucket(t)
		if err != nil {
			return err
		}
		return fn(w, b)
	})
}

// Insert stores value for key and returns the previous value, if any.
func (t *Tree) Insert(key, value []byte) (prev []byte, loaded bool, err error) {
	err = t.updateBucket("insert", func(w *writeTx, b *bbolt.Bucket) error {
		prev, loaded = lookup(b, key)
		return w.put(t, b, key, value)
	})
	return prev, loaded, err
}

// Remove deletes key and returns the previous value, if any.
func (t *Tree) Remove(key []byte) (prev []byte, loaded bool, err error) {
	err = t.updateBucket("remove", func(w *writeTx, b *bbolt.Bucket) error {
		prev, loaded = lookup(b, key)
		if !loaded {
			return nil
		}
		return w.del(t, b, key)
	})
	return prev, loaded, err
}

// CompareAndSwap replaces the value of key with proposed if its current value equals
// expected. A nil expected means "only if absent", a nil proposed removes the key.
// On a mismatch nothing is written and a *CompareAndSwapError (matching ErrConflict) is
// returned.
func (t *Tree) CompareAndSwap(key, expected, proposed []byte) error {
	return t.updateBucket("compare and swap", func(w *writeTx, b *bbolt.Bucket) error {
		current, loaded := lookup(b, key)
		if loaded != (expected != nil) || (loaded && !bytes.Equal(current, expected)) {
			return &CompareAndSwapError{Current: current, Proposed: clone(proposed)}
		}
		if proposed == nil {
			if !loaded {
				return nil
			}
			return w.del(t, b, key)
		}
		return w.put(t, b, key, proposed)
	})
}

// UpdateAndFetch atomically replaces the value of key with the result of fn and returns the
// new value. present is false if fn removed the key (or left it absent).
//
// fn runs inside the write transaction and is called exactly once per call. It should be
// quick and must not write to the database itself.
func (t *Tree) UpdateAndFetch(key []byte, fn ComputeFunc) (value []byte, present bool, err error) {
	err = t.compute("update and fetch", key, fn, func(_ []byte, _ bool, newV []byte, keep bool) {
		if keep {
			value, present = clone(newV), true
		}
	})
	return value, present, err
}

// FetchAndUpdate is like UpdateAndFetch but returns the value before the update.
func (t *Tree) FetchAndUpdate(key []byte, fn ComputeFunc) (prev []byte, loaded bool, err error) {
	err = t.compute("fetch and update", key, fn, func(old []byte, ok bool, _ []byte, _ bool) {
		prev, loaded = old, ok
	})
	return prev, loaded, err
}

func (t *Tree) compute(op string, key []byte, fn ComputeFunc, result func(old []byte, loaded bool, newV []byte, keep bool)) error {
	return t.updateBucket(op, func(w *writeTx, b *bbolt.Bucket) error {
		old, loaded := lookup(b, key)
		newV, keep, err := fn(old, loaded)
		if err != nil {
			return err
		}
		if keep {
			if newV == nil {
				newV = []byte{}
			}
			if err := w.put(t, b, key, newV); err != nil {
				return err
			}
		} else if loaded {
			if err := w.del(t, b, key); err != nil {
				return err
			}
		}
		result(old, loaded, newV, keep)
		return nil
	})
}

// PopMin atomically removes and returns the entry with the smallest key.
func (t *Tree) PopMin() (k, v []byte, found bool, err error) {
	return t.pop("pop min", (*bbolt.Cursor).First)
}

// PopMax atomically removes and returns the entry with the greatest key.
func (t *Tree) PopMax() (k, v []byte, found bool, err error) {
	return t.pop("pop max", (*bbolt.Cursor).Last)
}

func (t *Tree) pop(op string, position func(c *bbolt.Cursor) ([]byte, []byte)) (k, v []byte, found bool, err error) {
	err = t.updateBucket(op, func(w *writeTx, b *bbolt.Bucket) error {
		ck, cv := position(b.Cursor())
		if ck == nil {
			return nil
		}
		k, v, found = clone(ck), clone(cv), true
		return w.del(t, b, k)
	})
	return k, v, found, err
}

// Clear removes all entries of the tree in a single transaction.
func (t *Tree) Clear() error {
	return t.db.update("clear", func(w *writeTx) error {
		b, err := w.bucket(t)
		if err != nil {
			return err
		}
		if w.db.watched(t.name) {
			if err := b.ForEach(func(k, _ []byte) error {
				w.events = append(w.events, treeEvent{tree: t.name, ev: Event{Type: EventRemove, Key: clone(k)}})
				return nil
			}); err != nil {
				return engineError("clear", err)
			}
		}
		if err := w.tx.DeleteBucket(t.key); err != nil {
			return engineError("clear", err)
		}
		if _, err := w.tx.CreateBucket(t.key); err != nil {
			return engineError("clear", err)
		}
		return nil
	})
}

// ApplyBatch applies all operations of batch atomically, in the order they were recorded.
func (t *Tree) ApplyBatch(batch *Batch) error {
	return t.updateBucket("apply batch", func(w *writeTx, b *bbolt.Bucket) error {
		return batch.apply(w, t, b)
	})
}

// Flush forces all committed writes of the database to disk.
func (t *Tree) Flush() error {
	return t.db.Flush()
}

// --------------------------------------------------------------------------
// Batch
// --------------------------------------------------------------------------

// Batch is an ordered list of inserts and removes that is applied atomically.
//
// Thread-safety: a Batch must not be modified concurrently.
type Batch struct {
	ops []batchOp
}

type batchOp struct {
	key    []byte
	value  []byte
	remove bool
}

// Insert records an insert of value for key.
func (b *Batch) Insert(key, value []byte) {
	b.ops = append(b.ops, batchOp{key: clone(key), value: clone(value)})
}

// Remove records a removal of key.
func (b *Batch) Remove(key []byte) {
	b.ops = append(b.ops, batchOp{key: clone(key), remove: true})
}

// Len returns the number of recorded operations.
func (b *Batch) Len() int {
	return len(b.ops)
}

func (b *Batch) apply(w *writeTx, t *Tree, bucket *bbolt.Bucket) error {
	for _, op := range b.ops {
		var err error
		if op.remove {
			err = w.del(t, bucket, op.key)
		} else {
			err = w.put(t, bucket, op.key, op.value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Transactional Tree
// --------------------------------------------------------------------------

// TxTree is a tree bound to a transaction. Reads see the writes made earlier in the same
// transaction. It is only valid inside the Transaction closure that created it.
type TxTree struct {
	w    *writeTx
	tree *Tree
}

// Tree returns the underlying tree handle.
func (tt *TxTree) Tree() *Tree {
	return tt.tree
}

// Get returns a copy of the value stored for key.
func (tt *TxTree) Get(key []byte) ([]byte, bool, error) {
	b, err := tt.w.bucket(tt.tree)
	if err != nil {
		return nil, false, err
	}
	v, ok := lookup(b, key)
	return v, ok, nil
}

// Insert stores value for key and returns the previous value, if any.
func (tt *TxTree) Insert(key, value []byte) ([]byte, bool, error) {
	b, err := tt.w.bucket(tt.tree)
	if err != nil {
		return nil, false, err
	}
	prev, loaded := lookup(b, key)
	return prev, loaded, tt.w.put(tt.tree, b, key, value)
}

// Remove deletes key and returns the previous value, if any.
func (tt *TxTree) Remove(key []byte) ([]byte, bool, error) {
	b, err := tt.w.bucket(tt.tree)
	if err != nil {
		return nil, false, err
	}
	prev, loaded := lookup(b, key)
	if !loaded {
		return nil, false, nil
	}
	return prev, true, tt.w.del(tt.tree, b, key)
}

// ApplyBatch applies all operations of batch within the transaction.
func (tt *TxTree) ApplyBatch(batch *Batch) error {
	b, err := tt.w.bucket(tt.tree)
	if err != nil {
		return err
	}
	return batch.apply(tt.w, tt.tree, b)
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// lookup returns a copy of the value of key. Presence is decided by the cursor position, so
// empty values are reported as present.
func lookup(b *bbolt.Bucket, key []byte) ([]byte, bool) {
	if len(key) == 0 {
		return nil, false
	}
	k, v := b.Cursor().Seek(key)
	if k == nil || !bytes.Equal(k, key) {
		return nil, false
	}
	if v == nil {
		return []byte{}, true
	}
	return clone(v), true
}

// clone copies b. The result is non-nil for non-nil input, even if it is empty.
func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}

package expiring

import (
	"bytes"
	"sort"

	"github.com/ValentinKolb/ttlKV/lib/db"
	"github.com/ValentinKolb/ttlKV/lib/structured"
)

// --------------------------------------------------------------------------
// Batch
// --------------------------------------------------------------------------

// Batch records typed inserts and removes for ApplyBatch. It remembers which keys are
// inserted by the batch: a later Remove of the same key drops it again.
type Batch[V any] struct {
	data     *structured.Batch[V]
	inserted map[string]struct{}
}

// NewBatch creates an empty batch for t.
func (t *Tree[V]) NewBatch() *Batch[V] {
	return &Batch[V]{data: t.data.NewBatch(), inserted: make(map[string]struct{})}
}

// Insert records an insert of value for key.
func (b *Batch[V]) Insert(key []byte, value V) error {
	if err := b.data.Insert(key, value); err != nil {
		return err
	}
	b.inserted[string(key)] = struct{}{}
	return nil
}

// Remove records a removal of key.
func (b *Batch[V]) Remove(key []byte) {
	b.data.Remove(key)
	delete(b.inserted, string(key))
}

// Len returns the number of recorded operations.
func (b *Batch[V]) Len() int { return b.data.Len() }

// InsertedKeys returns the keys present after the batch in byte order.
func (b *Batch[V]) InsertedKeys() [][]byte {
	keys := make([][]byte, 0, len(b.inserted))
	for k := range b.inserted {
		keys = append(keys, []byte(k))
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i], keys[j]) < 0 })
	return keys
}

// ApplyBatch applies batch atomically. Afterwards the inserted keys are refreshed if
// ExtendOnUpdate is set.
//
// Keys removed by the batch keep their expiry metadata, so they may still be reported by
// Expired. Reapers must tolerate keys that no longer exist.
func (t *Tree[V]) ApplyBatch(batch *Batch[V]) error {
	if err := t.data.ApplyBatch(batch.data); err != nil {
		return err
	}
	if !t.opts.ExtendOnUpdate {
		return nil
	}
	return t.refresh(batch.InsertedKeys()...)
}

// --------------------------------------------------------------------------
// Transactions
// --------------------------------------------------------------------------

// TransactionalTree is an expiring tree bound to a write transaction. The expiry bookkeeping
// happens in the same transaction as the data change, so it commits or aborts with it.
type TransactionalTree[V any] struct {
	tree *Tree[V]
	data *structured.TransactionalTree[V]
	meta meta
}

// Bind binds the tree and its metadata trees to a running transaction, so that it can take
// part in a multi-tree db.DB.Transaction.
func (t *Tree[V]) Bind(tx *db.Tx) *TransactionalTree[V] {
	return &TransactionalTree[V]{tree: t, data: t.data.Bind(tx), meta: t.bindMeta(tx)}
}

// Transaction runs fn in a write transaction. If fn returns an error nothing is written,
// neither data nor expiry metadata.
func (t *Tree[V]) Transaction(fn func(tx *TransactionalTree[V]) error) error {
	return t.db.Transaction(func(tx *db.Tx) error {
		return fn(t.Bind(tx))
	})
}

// Get returns the value of key. A found key is refreshed if ExtendOnFetch is set.
func (tt *TransactionalTree[V]) Get(key []byte) (V, bool, error) {
	v, ok, err := tt.data.Get(key)
	if err != nil || !ok || !tt.tree.opts.ExtendOnFetch {
		return v, ok, err
	}
	return v, ok, tt.refresh(key)
}

// Insert stores value for key. The key is refreshed if ExtendOnUpdate is set.
func (tt *TransactionalTree[V]) Insert(key []byte, value V) (V, bool, error) {
	prev, loaded, err := tt.data.Insert(key, value)
	if err != nil || !tt.tree.opts.ExtendOnUpdate {
		return prev, loaded, err
	}
	return prev, loaded, tt.refresh(key)
}

// Remove deletes key and its expiry.
func (tt *TransactionalTree[V]) Remove(key []byte) (V, bool, error) {
	prev, loaded, err := tt.data.Remove(key)
	if err != nil {
		return prev, loaded, err
	}
	removed, err := tt.meta.remove(key)
	if removed {
		tt.tree.metrics.remove.Inc()
	}
	return prev, loaded, err
}

// ApplyBatch applies batch within the transaction and refreshes the inserted keys if
// ExtendOnUpdate is set. As with Tree.ApplyBatch, removed keys keep their expiry metadata.
func (tt *TransactionalTree[V]) ApplyBatch(batch *Batch[V]) error {
	if err := tt.data.ApplyBatch(batch.data); err != nil {
		return err
	}
	if !tt.tree.opts.ExtendOnUpdate {
		return nil
	}
	return tt.refresh(batch.InsertedKeys()...)
}

func (tt *TransactionalTree[V]) refresh(keys ...[]byte) error {
	at := tt.tree.expiry()
	for _, key := range keys {
		if err := tt.meta.update(key, at); err != nil {
			return err
		}
	}
	tt.tree.metrics.refresh.Add(len(keys))
	return nil
}

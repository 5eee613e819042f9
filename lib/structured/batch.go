package structured

import (
	"context"

	"github.com/ValentinKolb/ttlKV/lib/codec"
	"github.com/ValentinKolb/ttlKV/lib/db"
)

// --------------------------------------------------------------------------
// Batch
// --------------------------------------------------------------------------

// Batch records typed inserts and removes that are applied atomically by ApplyBatch.
// Values are encoded when they are recorded.
type Batch[V any] struct {
	codec codec.Codec[V]
	raw   db.Batch
}

// NewBatch creates an empty batch using the codec of the tree.
func (t *Tree[V]) NewBatch() *Batch[V] {
	return &Batch[V]{codec: t.codec}
}

// Insert records an insert of value for key.
func (b *Batch[V]) Insert(key []byte, value V) error {
	enc, err := b.codec.Encode(value)
	if err != nil {
		return err
	}
	b.raw.Insert(key, enc)
	return nil
}

// Remove records a removal of key.
func (b *Batch[V]) Remove(key []byte) {
	b.raw.Remove(key)
}

// Len returns the number of recorded operations.
func (b *Batch[V]) Len() int { return b.raw.Len() }

// Raw returns the encoded batch.
func (b *Batch[V]) Raw() *db.Batch { return &b.raw }

// ApplyBatch applies all operations of batch atomically.
func (t *Tree[V]) ApplyBatch(batch *Batch[V]) error {
	return t.raw.ApplyBatch(&batch.raw)
}

// --------------------------------------------------------------------------
// Transactions
// --------------------------------------------------------------------------

// TransactionalTree is a typed tree bound to a transaction.
type TransactionalTree[V any] struct {
	raw   *db.TxTree
	codec codec.Codec[V]
}

// Bind binds the tree to a running transaction, so that it can take part in a multi-tree
// db.DB.Transaction.
func (t *Tree[V]) Bind(tx *db.Tx) *TransactionalTree[V] {
	return &TransactionalTree[V]{raw: tx.Tree(t.raw), codec: t.codec}
}

// Transaction runs fn in a write transaction on this tree. See db.DB.Transaction for the
// commit and abort rules.
func (t *Tree[V]) Transaction(fn func(tx *TransactionalTree[V]) error) error {
	return t.raw.DB().Transaction(func(tx *db.Tx) error {
		return fn(t.Bind(tx))
	})
}

// Get returns the decoded value of key, including writes made earlier in the transaction.
func (tt *TransactionalTree[V]) Get(key []byte) (V, bool, error) {
	b, ok, err := tt.raw.Get(key)
	return tt.decodeOpt(b, ok, err)
}

// Insert stores value for key and returns the previous value, if any.
func (tt *TransactionalTree[V]) Insert(key []byte, value V) (V, bool, error) {
	enc, err := tt.codec.Encode(value)
	if err != nil {
		var zero V
		return zero, false, err
	}
	prev, ok, err := tt.raw.Insert(key, enc)
	return tt.decodeOpt(prev, ok, err)
}

// Remove deletes key and returns the previous value, if any.
func (tt *TransactionalTree[V]) Remove(key []byte) (V, bool, error) {
	prev, ok, err := tt.raw.Remove(key)
	return tt.decodeOpt(prev, ok, err)
}

// ApplyBatch applies a batch within the transaction.
func (tt *TransactionalTree[V]) ApplyBatch(batch *Batch[V]) error {
	return tt.raw.ApplyBatch(&batch.raw)
}

func (tt *TransactionalTree[V]) decodeOpt(b []byte, ok bool, err error) (V, bool, error) {
	var zero V
	if err != nil || !ok {
		return zero, false, err
	}
	v, err := tt.codec.Decode(b)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// --------------------------------------------------------------------------
// Watch
// --------------------------------------------------------------------------

// Event is a decoded change notification. Value is the zero value for removals.
type Event[V any] struct {
	Type  db.EventType
	Key   []byte
	Value V
}

// Subscriber receives typed events, see db.Subscriber.
type Subscriber[V any] struct {
	raw   *db.Subscriber
	codec codec.Codec[V]
}

// WatchPrefix subscribes to all future changes of keys starting with prefix.
func (t *Tree[V]) WatchPrefix(prefix []byte) *Subscriber[V] {
	return &Subscriber[V]{raw: t.raw.WatchPrefix(prefix), codec: t.codec}
}

// Next blocks until the next event arrives. An event whose value can't be decoded is
// returned together with the decode error.
func (s *Subscriber[V]) Next(ctx context.Context) (Event[V], error) {
	ev, err := s.raw.Next(ctx)
	if err != nil {
		return Event[V]{}, err
	}
	out := Event[V]{Type: ev.Type, Key: ev.Key}
	if ev.Type == db.EventInsert {
		if out.Value, err = s.codec.Decode(ev.Value); err != nil {
			return out, err
		}
	}
	return out, nil
}

// Close stops the subscription.
func (s *Subscriber[V]) Close() { s.raw.Close() }

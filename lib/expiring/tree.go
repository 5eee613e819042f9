package expiring

import (
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/ttlKV/lib/codec"
	"github.com/ValentinKolb/ttlKV/lib/db"
	"github.com/ValentinKolb/ttlKV/lib/structured"
	"github.com/lni/dragonboat/v4/logger"
)

var plog = logger.GetLogger("expiring")

// Tree is a typed tree that records an expiry for its keys.
//
// Next to the data tree <name> it maintains two metadata trees in the same database:
//
//   - <name>-expires-at maps every tracked key to its expiry time.
//   - <name>-expires-at-inverse maps an expiry (FormatTimestamp) to the KeySet of all keys
//     expiring at that instant. Its key order is chronological, which makes Expired a range
//     scan.
//
// A key is tracked once an operation refreshes it (according to Options) and is forgotten
// when it is removed. Expired keys are only reported, never removed; reaping is up to the
// caller.
//
// Outside of transactions every data mutation commits first and the expiry bookkeeping
// follows in a second transaction that updates both metadata trees atomically. If that second
// transaction fails the data change stays and a *BookkeepingError is returned; Refresh
// repairs the key afterwards.
//
// Thread-safety: all methods are safe for concurrent use. The data commit and the bookkeeping
// of one call are not atomic, so concurrent writers of the same key can interleave between
// them. The expiry may end up at either writer's value, and the metadata may disagree with
// the data: if a Remove commits, an Insert of the same key commits and refreshes, and only
// then the Remove forgets the key, the key is present but untracked and Expired never
// reports it. Callers that write the same key from several goroutines should use
// Transaction, or call Refresh after the writes settle.
type Tree[V any] struct {
	db        *db.DB
	data      *structured.Tree[V]
	expiresAt *structured.Tree[time.Time]
	inverse   *structured.Tree[KeySet]
	opts      Options
	metrics   *treeMetrics
}

// Open opens (or creates) the expiring tree name and its metadata trees in d.
// opts may be nil to use DefaultOptions.
func Open[V any](d *db.DB, name string, values codec.Codec[V], opts *Options) (*Tree[V], error) {
	o, err := normalize(opts)
	if err != nil {
		return nil, err
	}

	times, err := codec.New[time.Time](o.MetadataFormat)
	if err != nil {
		return nil, err
	}
	sets, err := codec.New[KeySet](o.MetadataFormat)
	if err != nil {
		return nil, err
	}

	data, err := structured.Open(d, name, values)
	if err != nil {
		return nil, err
	}
	expiresAt, err := structured.Open(d, ForwardTreeName(name), times)
	if err != nil {
		return nil, err
	}
	inverse, err := structured.Open(d, InverseTreeName(name), sets)
	if err != nil {
		return nil, err
	}

	plog.Infof("opened expiring tree %s (length=%s, extend on update=%t, extend on fetch=%t)",
		name, o.ExpirationLength, o.ExtendOnUpdate, o.ExtendOnFetch)
	return &Tree[V]{
		db:        d,
		data:      data,
		expiresAt: expiresAt,
		inverse:   inverse,
		opts:      o,
		metrics:   newTreeMetrics(name),
	}, nil
}

// OpenFormat is like Open but creates the value codec from a format name.
func OpenFormat[V any](d *db.DB, name string, format codec.Format, opts *Options) (*Tree[V], error) {
	c, err := codec.New[V](format)
	if err != nil {
		return nil, err
	}
	return Open(d, name, c, opts)
}

// OpenPlain opens an expiring tree that stores raw byte values.
func OpenPlain(d *db.DB, name string, opts *Options) (*Tree[[]byte], error) {
	return Open(d, name, codec.Plain[[]byte](), opts)
}

func normalize(opts *Options) (Options, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	o := *opts
	if o.ExpirationLength < 0 {
		return o, fmt.Errorf("expiring: negative expiration length %s", o.ExpirationLength)
	}
	if o.MetadataFormat == "" {
		o.MetadataFormat = codec.FormatBinary
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o, nil
}

// Name returns the name of the data tree.
func (t *Tree[V]) Name() string { return t.data.Name() }

// Data returns the data tree. Writes through it bypass the expiry bookkeeping.
func (t *Tree[V]) Data() *structured.Tree[V] { return t.data }

// Options returns the options the tree was opened with.
func (t *Tree[V]) Options() Options { return t.opts }

// --------------------------------------------------------------------------
// Point Operations
// --------------------------------------------------------------------------

// Get returns the value of key. A found key is refreshed if ExtendOnFetch is set.
func (t *Tree[V]) Get(key []byte) (V, bool, error) {
	v, ok, err := t.data.Get(key)
	if err != nil || !ok || !t.opts.ExtendOnFetch {
		return v, ok, err
	}
	return v, ok, t.refresh(key)
}

// ContainsKey reports whether key exists. It never refreshes.
func (t *Tree[V]) ContainsKey(key []byte) (bool, error) {
	return t.data.ContainsKey(key)
}

// Insert stores value for key and returns the previous value. The key is refreshed if
// ExtendOnUpdate is set.
func (t *Tree[V]) Insert(key []byte, value V) (V, bool, error) {
	prev, loaded, err := t.data.Insert(key, value)
	if !written(err) || !t.opts.ExtendOnUpdate {
		return prev, loaded, err
	}
	return prev, loaded, errors.Join(err, t.refresh(key))
}

// Remove deletes key and its expiry and returns the previous value.
func (t *Tree[V]) Remove(key []byte) (V, bool, error) {
	prev, loaded, err := t.data.Remove(key)
	if !written(err) {
		return prev, loaded, err
	}
	return prev, loaded, errors.Join(err, t.forget(key))
}

// CompareAndSwap replaces the value of key with proposed if its current value equals
// expected (nil = absent). On success a swap to a value refreshes the key if ExtendOnUpdate
// is set and a swap to nil deletes its expiry. A conflict leaves the metadata untouched.
func (t *Tree[V]) CompareAndSwap(key []byte, expected, proposed *V) error {
	if err := t.data.CompareAndSwap(key, expected, proposed); err != nil {
		return err
	}
	if proposed == nil {
		return t.forget(key)
	}
	if t.opts.ExtendOnUpdate {
		return t.refresh(key)
	}
	return nil
}

// UpdateAndFetch atomically replaces the value of key with the result of fn and returns the
// new value. If the key is present afterwards it is refreshed (with ExtendOnUpdate),
// otherwise its expiry is deleted.
func (t *Tree[V]) UpdateAndFetch(key []byte, fn structured.UpdateFunc[V]) (V, bool, error) {
	v, present, err := t.data.UpdateAndFetch(key, fn)
	if err != nil {
		return v, present, err
	}
	return v, present, t.afterUpdate(key, present)
}

// FetchAndUpdate atomically replaces the value of key with the result of fn and returns the
// previous value. The expiry follows the new value, as in UpdateAndFetch.
func (t *Tree[V]) FetchAndUpdate(key []byte, fn structured.UpdateFunc[V]) (V, bool, error) {
	var present bool
	prev, loaded, err := t.data.FetchAndUpdate(key, func(old V, loaded bool) (V, bool) {
		v, keep := fn(old, loaded)
		present = keep
		return v, keep
	})
	if err != nil {
		return prev, loaded, err
	}
	return prev, loaded, t.afterUpdate(key, present)
}

func (t *Tree[V]) afterUpdate(key []byte, present bool) error {
	if !present {
		return t.forget(key)
	}
	if t.opts.ExtendOnUpdate {
		return t.refresh(key)
	}
	return nil
}

// --------------------------------------------------------------------------
// Ordered Operations
// --------------------------------------------------------------------------

// GetLt returns the entry with the greatest key strictly less than key. The found key is
// refreshed if ExtendOnFetch is set.
func (t *Tree[V]) GetLt(key []byte) ([]byte, V, bool, error) {
	k, v, ok, err := t.data.GetLt(key)
	return t.afterFetch(k, v, ok, err)
}

// GetGt returns the entry with the smallest key strictly greater than key. The found key is
// refreshed if ExtendOnFetch is set.
func (t *Tree[V]) GetGt(key []byte) ([]byte, V, bool, error) {
	k, v, ok, err := t.data.GetGt(key)
	return t.afterFetch(k, v, ok, err)
}

func (t *Tree[V]) afterFetch(k []byte, v V, ok bool, err error) ([]byte, V, bool, error) {
	if err != nil || !ok || !t.opts.ExtendOnFetch {
		return k, v, ok, err
	}
	return k, v, ok, t.refresh(k)
}

// PopMin removes and returns the entry with the smallest key and deletes its expiry.
func (t *Tree[V]) PopMin() ([]byte, V, bool, error) {
	k, v, ok, err := t.data.PopMin()
	return t.afterPop(k, v, ok, err)
}

// PopMax removes and returns the entry with the greatest key and deletes its expiry.
func (t *Tree[V]) PopMax() ([]byte, V, bool, error) {
	k, v, ok, err := t.data.PopMax()
	return t.afterPop(k, v, ok, err)
}

func (t *Tree[V]) afterPop(k []byte, v V, ok bool, err error) ([]byte, V, bool, error) {
	if k == nil || !written(err) {
		return k, v, ok, err
	}
	return k, v, ok, errors.Join(err, t.forget(k))
}

// --------------------------------------------------------------------------
// Expiry
// --------------------------------------------------------------------------

// ExpiresAt returns the recorded expiry of key. ok is false for untracked keys.
func (t *Tree[V]) ExpiresAt(key []byte) (at time.Time, ok bool, err error) {
	return t.expiresAt.Get(key)
}

// Refresh sets the expiry of key to now + expiration length, regardless of the refresh
// policy. It can be used to retry after a *BookkeepingError. Refreshing an absent key
// tracks it anyway.
func (t *Tree[V]) Refresh(key []byte) error {
	return t.refresh(key)
}

// Expired returns an iterator over all keys whose expiry is not after the current time,
// ordered by expiry (keys sharing an expiry in byte order). The current time is taken once,
// when Expired is called. Expired only reads.
func (t *Tree[V]) Expired() *ExpiredIter {
	now := t.opts.Now().UTC()
	bound := FormatTimestamp(now)
	plog.Debugf("%s: scanning keys expired at %s", t.Name(), bound)

	// bucket keys have a fixed width, so the first key after bound is bound + 0x00
	hi := append([]byte(bound), 0)
	return &ExpiredIter{
		buckets: t.inverse.Range(nil, hi),
		now:     now,
		tree:    t.Name(),
		metrics: t.metrics,
	}
}

// ExpiredKeys collects up to limit expired keys (limit <= 0 = all).
func (t *Tree[V]) ExpiredKeys(limit int) ([][]byte, error) {
	var keys [][]byte
	it := t.Expired()
	for (limit <= 0 || len(keys) < limit) && it.Next() {
		keys = append(keys, it.Key())
	}
	return keys, it.Err()
}

// --------------------------------------------------------------------------
// Iteration
// --------------------------------------------------------------------------

// Iter returns an iterator over all entries in key order.
func (t *Tree[V]) Iter() *Iter[V] {
	return &Iter[V]{inner: t.data.Iter(), tree: t}
}

// Range returns an iterator over the entries with lo <= key < hi (nil = unbounded).
func (t *Tree[V]) Range(lo, hi []byte) *Iter[V] {
	return &Iter[V]{inner: t.data.Range(lo, hi), tree: t}
}

// ScanPrefix returns an iterator over all entries whose key starts with prefix.
func (t *Tree[V]) ScanPrefix(prefix []byte) *Iter[V] {
	return &Iter[V]{inner: t.data.ScanPrefix(prefix), tree: t}
}

// --------------------------------------------------------------------------
// Whole Tree Operations
// --------------------------------------------------------------------------

// Len returns the number of entries of the data tree.
func (t *Tree[V]) Len() (int, error) { return t.data.Len() }

// IsEmpty reports whether the data tree has no entries.
func (t *Tree[V]) IsEmpty() (bool, error) { return t.data.IsEmpty() }

// Clear removes all entries and all expiry metadata. The three trees are cleared one after
// another, so a concurrent reader may observe a partially cleared state.
func (t *Tree[V]) Clear() error {
	if err := t.data.Clear(); err != nil {
		return err
	}
	if err := t.expiresAt.Clear(); err != nil {
		return err
	}
	return t.inverse.Clear()
}

// Flush forces all committed writes of the database to disk.
func (t *Tree[V]) Flush() error { return t.db.Flush() }

// WatchPrefix subscribes to changes of the data tree. Expiry changes are not reported.
func (t *Tree[V]) WatchPrefix(prefix []byte) *structured.Subscriber[V] {
	return t.data.WatchPrefix(prefix)
}

package expiring

import (
	"errors"
	"time"

	"github.com/ValentinKolb/ttlKV/lib/codec"
	"github.com/ValentinKolb/ttlKV/lib/db"
	"github.com/ValentinKolb/ttlKV/lib/structured"
)

// meta is the forward and the inverse tree bound to one write transaction. Every change of
// an expiry goes through it, so both trees always change together.
type meta struct {
	fwd *structured.TransactionalTree[time.Time]
	inv *structured.TransactionalTree[KeySet]
}

func (t *Tree[V]) bindMeta(tx *db.Tx) meta {
	return meta{fwd: t.expiresAt.Bind(tx), inv: t.inverse.Bind(tx)}
}

// update sets the expiry of key to at and moves the key from its previous bucket into the
// bucket of at.
func (m meta) update(key []byte, at time.Time) error {
	prev, loaded, err := m.fwd.Insert(key, at)
	if err != nil {
		return err
	}
	if loaded {
		if err := m.removeFromBucket(prev, key); err != nil {
			return err
		}
	}

	bucket := []byte(FormatTimestamp(at))
	set, _, err := m.inv.Get(bucket)
	if err != nil {
		return err
	}
	_, _, err = m.inv.Insert(bucket, set.Add(key))
	return err
}

// remove deletes the expiry of key. It reports false if key had none.
func (m meta) remove(key []byte) (bool, error) {
	prev, loaded, err := m.fwd.Remove(key)
	if err != nil || !loaded {
		return false, err
	}
	return true, m.removeFromBucket(prev, key)
}

// removeFromBucket removes key from the bucket of at and deletes the bucket once it is empty.
func (m meta) removeFromBucket(at time.Time, key []byte) error {
	bucket := []byte(FormatTimestamp(at))
	set, ok, err := m.inv.Get(bucket)
	if err != nil || !ok {
		return err
	}
	set, removed := set.Remove(key)
	if !removed {
		return nil
	}
	if len(set) == 0 {
		_, _, err = m.inv.Remove(bucket)
		return err
	}
	_, _, err = m.inv.Insert(bucket, set)
	return err
}

// --------------------------------------------------------------------------
// Non-transactional bookkeeping
// --------------------------------------------------------------------------

// expiry returns now + expiration length, in UTC and without monotonic clock reading.
func (t *Tree[V]) expiry() time.Time {
	return t.opts.Now().Add(t.opts.ExpirationLength).UTC().Round(0)
}

// refresh sets the expiry of all keys to a fresh now + expiration length in one metadata
// transaction. It runs after the data mutation committed.
func (t *Tree[V]) refresh(keys ...[]byte) error {
	if len(keys) == 0 {
		return nil
	}
	at := t.expiry()
	var failed []byte
	err := t.db.Transaction(func(tx *db.Tx) error {
		m := t.bindMeta(tx)
		for _, key := range keys {
			if err := m.update(key, at); err != nil {
				failed = key
				return err
			}
		}
		return nil
	})
	if err != nil {
		return t.bookkeepingFailed("refresh", failed, err)
	}
	t.metrics.refresh.Add(len(keys))
	return nil
}

// forget deletes the expiry of key. It runs after the data mutation committed.
func (t *Tree[V]) forget(key []byte) error {
	var removed bool
	err := t.db.Transaction(func(tx *db.Tx) (err error) {
		removed, err = t.bindMeta(tx).remove(key)
		return err
	})
	if err != nil {
		return t.bookkeepingFailed("remove", key, err)
	}
	if removed {
		t.metrics.remove.Inc()
	}
	return nil
}

func (t *Tree[V]) bookkeepingFailed(op string, key []byte, err error) error {
	t.metrics.bookkeeping.Inc()
	plog.Warningf("%s: failed to %s expiry of key %q: %v", t.Name(), op, key, err)
	return &BookkeepingError{Op: op, Key: key, Err: err}
}

// written reports whether a mutation that returned err reached the engine. Decoding the
// previous value happens after the write, so decode errors still count as written.
func written(err error) bool {
	return err == nil || errors.Is(err, codec.ErrDecode)
}

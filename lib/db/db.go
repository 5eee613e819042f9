package db

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"go.etcd.io/bbolt"
)

var plog = logger.GetLogger("db")

const (
	defaultTimeout  = time.Second
	defaultFileMode = 0o600
)

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// DBOptions configures a DB during Open
type DBOptions struct {
	Path      string        // Path of the database file (ignored if Temporary is set)
	Temporary bool          // Create the file in a fresh temp directory and remove it on Close
	NoSync    bool          // Skip fsync after each commit (Flush still syncs)
	ReadOnly  bool          // Open the file read-only (shared lock)
	Timeout   time.Duration // How long to wait for the file lock (0 = use default: 1 sec)
	FileMode  os.FileMode   // Mode of a newly created file (0 = use default: 0600)
}

// DefaultOptions returns the default options for a temporary database
func DefaultOptions() *DBOptions {
	return &DBOptions{
		Temporary: true,
		Timeout:   defaultTimeout,
		FileMode:  defaultFileMode,
	}
}

// --------------------------------------------------------------------------
// DB
// --------------------------------------------------------------------------

// DB is an embedded, ordered, transactional key-value database with named trees.
// It is backed by a single bbolt file.
//
// Thread-safety: all methods are safe for concurrent use. The engine admits any number of
// concurrent readers but a single writer; write operations are serialized.
type DB struct {
	bolt   *bbolt.DB
	path   string
	tmpDir string

	// subscribers per tree name, see WatchPrefix
	subs   *xsync.MapOf[string, *xsync.MapOf[uint64, *Subscriber]]
	nextID atomic.Uint64
}

// Open opens (or creates) the database described by opts. A nil opts opens a temporary
// database with default settings.
func Open(opts *DBOptions) (*DB, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	mode := opts.FileMode
	if mode == 0 {
		mode = defaultFileMode
	}

	path := opts.Path
	tmpDir := ""
	if opts.Temporary {
		dir, err := os.MkdirTemp("", "ttlkv-")
		if err != nil {
			return nil, engineError("open", err)
		}
		tmpDir = dir
		path = filepath.Join(dir, "ttlkv.db")
	}
	if path == "" {
		return nil, engineError("open", errors.New("no path given"))
	}

	b, err := bbolt.Open(path, mode, &bbolt.Options{
		Timeout:  timeout,
		NoSync:   opts.NoSync,
		ReadOnly: opts.ReadOnly,
	})
	if err != nil {
		if tmpDir != "" {
			_ = os.RemoveAll(tmpDir)
		}
		return nil, engineError("open", fmt.Errorf("opening %s: %w", path, err))
	}

	plog.Infof("opened database %s (temporary=%v, noSync=%v, readOnly=%v)", path, opts.Temporary, opts.NoSync, opts.ReadOnly)

	return &DB{
		bolt:   b,
		path:   path,
		tmpDir: tmpDir,
		subs:   xsync.NewMapOf[string, *xsync.MapOf[uint64, *Subscriber]](),
	}, nil
}

// Path returns the path of the database file.
func (d *DB) Path() string {
	return d.path
}

// OpenTree opens the tree with the given name, creating it if it does not exist.
// Opening the same name twice yields handles on the same tree.
func (d *DB) OpenTree(name string) (*Tree, error) {
	if name == "" {
		return nil, engineError("open tree", errors.New("tree name must not be empty"))
	}
	key := []byte(name)

	exists := false
	if err := d.bolt.View(func(tx *bbolt.Tx) error {
		exists = tx.Bucket(key) != nil
		return nil
	}); err != nil {
		return nil, engineError("open tree", err)
	}

	if !exists {
		if err := d.bolt.Update(func(tx *bbolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(key)
			return err
		}); err != nil {
			return nil, engineError("open tree", fmt.Errorf("creating tree %s: %w", name, err))
		}
		plog.Debugf("created tree %s", name)
	}

	return &Tree{db: d, name: name, key: key}, nil
}

// TreeNames returns the names of all trees in lexicographic order.
func (d *DB) TreeNames() ([]string, error) {
	var names []string
	err := d.bolt.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			names = append(names, string(name))
			return nil
		})
	})
	if err != nil {
		return nil, engineError("tree names", err)
	}
	return names, nil
}

// DropTree deletes a tree and all its entries. It returns false if no such tree existed.
// Handles on a dropped tree fail with ErrTreeNotFound until the tree is opened again.
func (d *DB) DropTree(name string) (bool, error) {
	dropped := false
	err := d.bolt.Update(func(tx *bbolt.Tx) error {
		err := tx.DeleteBucket([]byte(name))
		if errors.Is(err, bbolt.ErrBucketNotFound) {
			return nil
		}
		dropped = err == nil
		return err
	})
	if err != nil {
		return false, engineError("drop tree", err)
	}
	return dropped, nil
}

// Flush forces all committed writes to disk. This is only needed when NoSync is set,
// otherwise every commit is synced already.
func (d *DB) Flush() error {
	if err := d.bolt.Sync(); err != nil {
		return engineError("flush", err)
	}
	return nil
}

// Close closes all subscribers and the database file. A temporary database is deleted.
func (d *DB) Close() error {
	d.subs.Range(func(_ string, m *xsync.MapOf[uint64, *Subscriber]) bool {
		m.Range(func(_ uint64, s *Subscriber) bool {
			s.Close()
			return true
		})
		return true
	})

	err := d.bolt.Close()
	if d.tmpDir != "" {
		if rmErr := os.RemoveAll(d.tmpDir); rmErr != nil && err == nil {
			err = rmErr
		}
	}
	if err != nil {
		return engineError("close", err)
	}
	plog.Infof("closed database %s", d.path)
	return nil
}

// --------------------------------------------------------------------------
// Transactions
// --------------------------------------------------------------------------

// Transaction runs fn inside a single write transaction spanning any number of trees.
// If fn returns nil the transaction commits atomically, otherwise all its writes are
// discarded and the error of fn is returned unchanged (use Abort to mark a voluntary abort).
//
// Transactions are serialized with all other writes. fn must not call non-transactional
// write methods (Tree.Insert, Tree.Remove, ...) because they would wait for the transaction
// that is running them.
func (d *DB) Transaction(fn func(tx *Tx) error) error {
	return d.update("transaction", func(w *writeTx) error {
		return fn(&Tx{w: w})
	})
}

// Tx is the handle passed to a Transaction closure. It is only valid inside the closure.
type Tx struct {
	w *writeTx
}

// Tree binds a tree to the transaction.
func (tx *Tx) Tree(t *Tree) *TxTree {
	return &TxTree{w: tx.w, tree: t}
}

// --------------------------------------------------------------------------
// Internal write transaction
// --------------------------------------------------------------------------

// writeTx is a bbolt write transaction that collects watch events. The events are
// published after a successful commit.
type writeTx struct {
	tx     *bbolt.Tx
	db     *DB
	events []treeEvent
}

type treeEvent struct {
	tree string
	ev   Event
}

// update runs fn in a bbolt write transaction. Errors of fn are returned unchanged, all
// other errors are engine errors.
func (d *DB) update(op string, fn func(w *writeTx) error) error {
	var fnErr error
	err := d.bolt.Update(func(tx *bbolt.Tx) error {
		w := &writeTx{tx: tx, db: d}
		if fnErr = fn(w); fnErr != nil {
			return fnErr
		}
		if len(w.events) > 0 {
			events := w.events
			tx.OnCommit(func() {
				d.publish(events)
			})
		}
		return nil
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return engineError(op, err)
	}
	return nil
}

func (w *writeTx) bucket(t *Tree) (*bbolt.Bucket, error) {
	b := w.tx.Bucket(t.key)
	if b == nil {
		return nil, engineError(t.name, ErrTreeNotFound)
	}
	return b, nil
}

func (w *writeTx) put(t *Tree, b *bbolt.Bucket, key, value []byte) error {
	if err := b.Put(key, value); err != nil {
		return engineError("insert", err)
	}
	if w.db.watched(t.name) {
		w.events = append(w.events, treeEvent{tree: t.name, ev: Event{Type: EventInsert, Key: clone(key), Value: clone(value)}})
	}
	return nil
}

func (w *writeTx) del(t *Tree, b *bbolt.Bucket, key []byte) error {
	if err := b.Delete(key); err != nil {
		return engineError("remove", err)
	}
	if w.db.watched(t.name) {
		w.events = append(w.events, treeEvent{tree: t.name, ev: Event{Type: EventRemove, Key: clone(key)}})
	}
	return nil
}

// Package db is the storage engine adapter of ttlKV. It exposes an embedded, ordered,
// transactional key-value database with named trees, backed by bbolt (go.etcd.io/bbolt).
//
// Key Components:
//
//   - DB: a database file. It opens trees by name (OpenTree), lists and drops them, runs
//     multi-tree write transactions (Transaction) and forces writes to disk (Flush).
//
//   - Tree: a named, ordered collection of byte keys and byte values. It provides point
//     operations (Get, Insert, Remove, ContainsKey), atomic read-modify-write operations
//     (CompareAndSwap, UpdateAndFetch, FetchAndUpdate, PopMin, PopMax), ordered traversal
//     (Iter, Range, ScanPrefix, GetLt, GetGt), batches (ApplyBatch) and change
//     subscriptions (WatchPrefix).
//
//   - TxTree: a tree bound to a transaction; reads observe earlier writes of the same
//     transaction and all writes commit or roll back together.
//
//   - Error: every error carries an ErrCode (Engine, Custom, Aborted, Conflict) that can be
//     tested with errors.Is against ErrEngine, ErrCustom, ErrAborted and ErrConflict.
//
// Concurrency model: bbolt allows many concurrent readers and one writer. Every Tree method
// is its own transaction. A Transaction closure holds the single writer slot, so it must not
// call non-transactional write methods.
//
// Example usage:
//
//	database, err := db.Open(&db.DBOptions{Path: "data.db"})
//	if err != nil {
//		return err
//	}
//	defer database.Close()
//
//	users, _ := database.OpenTree("users")
//	_, _, err = users.Insert([]byte("alice"), []byte("admin"))
package db

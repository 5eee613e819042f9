// Package structured provides typed collections on top of the trees of package db.
//
// A Tree[V] pairs a db.Tree with a codec.Codec[V]. Keys stay raw bytes (their byte order is
// the iteration order), values are encoded on every write and decoded on every read. The
// typed tree mirrors the full surface of the raw tree: point operations, compare-and-swap
// (CompareAndSwapError[V] carries the decoded current value), update functions, ordered
// traversal with lazy iterators, batches, transactions (TransactionalTree[V]) and watch
// subscriptions with decoded events.
//
// Decode failures on stored bytes are returned as *codec.Error, never as panics.
//
// Example usage:
//
//	users, err := structured.Open(database, "users", codec.JSON[User]())
//	if err != nil {
//		return err
//	}
//	_, _, err = users.Insert([]byte("alice"), User{Role: "admin"})
package structured

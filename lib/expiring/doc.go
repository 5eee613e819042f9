// Package expiring adds expiry tracking to typed trees.
//
// An expiring tree keeps two metadata trees next to its data: a forward index from key to
// expiry time and an inverse index from expiry time to the set of keys expiring then. Reads
// and writes refresh a key's expiry depending on Options.ExtendOnFetch and
// Options.ExtendOnUpdate; removals forget it. Tree.Expired scans the inverse index for keys
// whose expiry has passed. The package never deletes expired keys on its own.
//
// Basic usage:
//
//	d, _ := db.Open(&db.DBOptions{Path: "sessions.db"})
//	opts := expiring.DefaultOptions()
//	opts.ExtendOnUpdate = true
//	opts.ExpirationLength = 30 * time.Minute
//	sessions, _ := expiring.OpenFormat[Session](d, "sessions", codec.FormatCBOR, opts)
//
//	sessions.Insert([]byte("s-1"), Session{User: "alice"})
//
//	it := sessions.Expired()
//	for it.Next() {
//		sessions.Remove(it.Key())
//	}
//
// Invariants kept by every operation of this package (but not by writes through Tree.Data):
//
//   - a key has an entry in the forward index iff it is a member of exactly one bucket of the
//     inverse index, namely the bucket of that entry's time;
//   - the inverse index contains no empty buckets.
//
// ApplyBatch is the one exception: keys removed by a batch keep their metadata.
package expiring

// Package testing provides standardised tests and benchmarks for the trees of a db.DB.
//
// The package contains:
//   - RunTreeTests: a conformance suite for point operations, ordered traversal, atomic
//     read-modify-write operations, batches, transactions and watch subscriptions
//   - RunTreeBenchmarks: throughput benchmarks for common tree operations
//
// The suites are run against several database configurations (synced file, NoSync file,
// temporary database) so that option handling can't change the observable behaviour.
//
// Example usage:
//
//	factory := func(tb testing.TB) *db.DB {
//		database, err := db.Open(&db.DBOptions{Path: filepath.Join(tb.TempDir(), "test.db")})
//		if err != nil {
//			tb.Fatal(err)
//		}
//		tb.Cleanup(func() { database.Close() })
//		return database
//	}
//
//	dbtesting.RunTreeTests(t, "File", factory)
package testing

// Package util provides the concurrency and statistics helpers used by the db package.
//
//   - LockFreeMPSC: an unbounded, lock-free multi-producer single-consumer queue. It buffers
//     watch events so committing writers never wait for subscribers.
//   - SizeHistogram: an exponential-bucket histogram used to summarize entry sizes for
//     Tree.Info without keeping every sample.
package util

// Package testing provides the conformance suite and benchmarks of expiring trees.
//
// The suite is run for every combination of value and metadata codec that should be
// supported, see lib/expiring/expiring_test.go. Time is controlled with a Clock passed to the
// factory through expiring.Options.Now.
package testing

package testing

import (
	"fmt"
	"testing"
	"time"
)

// RunExpiringTreeBenchmarks runs all benchmarks for expiring trees
func RunExpiringTreeBenchmarks(b *testing.B, name string, factory TreeFactory) {
	b.Run(name, func(b *testing.B) {
		b.Run("Insert", func(b *testing.B) {
			benchmarkInsert(b, factory)
		})

		b.Run("Get", func(b *testing.B) {
			benchmarkGet(b, factory)
		})

		b.Run("Expired", func(b *testing.B) {
			benchmarkExpired(b, factory)
		})
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

// benchmarkInsert refreshes a small key space, so most inserts move a key between buckets
func benchmarkInsert(b *testing.B, factory TreeFactory) {
	tree, clock := open(b, factory, true, false, time.Minute)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		clock.Advance(time.Millisecond)
		if _, _, err := tree.Insert([]byte(fmt.Sprintf("key-%d", i%1000)), "value"); err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkGet(b *testing.B, factory TreeFactory) {
	tree, clock := open(b, factory, false, true, time.Minute)
	for i := 0; i < 1000; i++ {
		mustInsert(b, tree, fmt.Sprintf("key-%d", i), "value")
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		clock.Advance(time.Millisecond)
		if _, _, err := tree.Get([]byte(fmt.Sprintf("key-%d", i%1000))); err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkExpired(b *testing.B, factory TreeFactory) {
	tree, clock := open(b, factory, true, false, time.Minute)
	batch := tree.NewBatch()
	for i := 0; i < 1000; i++ {
		if err := batch.Insert([]byte(fmt.Sprintf("key-%d", i)), "value"); err != nil {
			b.Fatal(err)
		}
	}
	if err := tree.ApplyBatch(batch); err != nil {
		b.Fatal(err)
	}
	clock.Advance(time.Hour)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		keys, err := tree.ExpiredKeys(0)
		if err != nil || len(keys) != 1000 {
			b.Fatalf("ExpiredKeys = %d keys, %v", len(keys), err)
		}
	}
}

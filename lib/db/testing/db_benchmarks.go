package testing

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/ValentinKolb/ttlKV/lib/db"
)

// RunTreeBenchmarks runs all benchmarks for trees of a database configuration
func RunTreeBenchmarks(b *testing.B, name string, factory DBFactory) {
	b.Run(name, func(b *testing.B) {
		b.Run("Insert", func(b *testing.B) {
			benchmarkInsert(b, openTree(b, factory))
		})

		b.Run("Get", func(b *testing.B) {
			benchmarkGet(b, openTree(b, factory))
		})

		b.Run("ScanPrefix", func(b *testing.B) {
			benchmarkScanPrefix(b, openTree(b, factory))
		})

		b.Run("Batch", func(b *testing.B) {
			benchmarkBatch(b, openTree(b, factory))
		})
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

func benchmarkInsert(b *testing.B, tree *db.Tree) {
	value := make([]byte, 128)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := tree.Insert([]byte(fmt.Sprintf("key-%d", i)), value); err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkGet(b *testing.B, tree *db.Tree) {
	const keys = 1000
	var batch db.Batch
	for i := 0; i < keys; i++ {
		batch.Insert([]byte(fmt.Sprintf("key-%d", i)), []byte("value"))
	}
	if err := tree.ApplyBatch(&batch); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			if _, _, err := tree.Get([]byte(fmt.Sprintf("key-%d", r.Intn(keys)))); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

func benchmarkScanPrefix(b *testing.B, tree *db.Tree) {
	var batch db.Batch
	for p := 0; p < 10; p++ {
		for i := 0; i < 100; i++ {
			batch.Insert([]byte(fmt.Sprintf("p%d/%03d", p, i)), []byte("value"))
		}
	}
	if err := tree.ApplyBatch(&batch); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		it := tree.ScanPrefix([]byte(fmt.Sprintf("p%d/", i%10)))
		for it.Next() {
		}
		if err := it.Err(); err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkBatch(b *testing.B, tree *db.Tree) {
	value := make([]byte, 128)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var batch db.Batch
		for j := 0; j < 100; j++ {
			batch.Insert([]byte(fmt.Sprintf("key-%d-%d", i, j)), value)
		}
		if err := tree.ApplyBatch(&batch); err != nil {
			b.Fatal(err)
		}
	}
}

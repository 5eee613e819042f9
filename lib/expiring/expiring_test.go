package expiring_test

import (
	"path/filepath"
	"testing"

	"github.com/ValentinKolb/ttlKV/lib/codec"
	"github.com/ValentinKolb/ttlKV/lib/db"
	"github.com/ValentinKolb/ttlKV/lib/expiring"
	exptesting "github.com/ValentinKolb/ttlKV/lib/expiring/testing"
)

// factory opens trees with the given value codec and metadata format in a file database
func factory(values codec.Codec[string], metadata codec.Format) exptesting.TreeFactory {
	return func(tb testing.TB, opts *expiring.Options) *expiring.Tree[string] {
		d, err := db.Open(&db.DBOptions{Path: filepath.Join(tb.TempDir(), "test.db"), NoSync: true})
		if err != nil {
			tb.Fatalf("Open failed: %v", err)
		}
		tb.Cleanup(func() { _ = d.Close() })

		opts.MetadataFormat = metadata
		tree, err := expiring.Open(d, "test", values, opts)
		if err != nil {
			tb.Fatalf("expiring.Open failed: %v", err)
		}
		return tree
	}
}

func TestExpiringTree(t *testing.T) {
	exptesting.RunExpiringTreeTests(t, "Plain/Binary", factory(codec.Plain[string](), codec.FormatBinary))
	exptesting.RunExpiringTreeTests(t, "JSON/JSON", factory(codec.JSON[string](), codec.FormatJSON))
	exptesting.RunExpiringTreeTests(t, "CBOR/CBOR", factory(codec.CBOR[string](), codec.FormatCBOR))
	exptesting.RunExpiringTreeTests(t, "MsgPack/MsgPack", factory(codec.MsgPack[string](), codec.FormatMsgPack))
	exptesting.RunExpiringTreeTests(t, "Gob+S2/Gob", factory(codec.Compressed(codec.Gob[string](), codec.S2()), codec.FormatGob))
	exptesting.RunExpiringTreeTests(t, "YAML/YAML", factory(codec.YAML[string](), codec.FormatYAML))
}

func BenchmarkExpiringTree(b *testing.B) {
	exptesting.RunExpiringTreeBenchmarks(b, "Plain/Binary", factory(codec.Plain[string](), codec.FormatBinary))
	exptesting.RunExpiringTreeBenchmarks(b, "CBOR/CBOR", factory(codec.CBOR[string](), codec.FormatCBOR))
}

package db

import (
	"github.com/ValentinKolb/ttlKV/lib/db/util"
	"go.etcd.io/bbolt"
)

// TreeInfo describes the state of a tree. Key and value sizes are estimated from a sample.
type TreeInfo struct {
	Name       string           `json:"name"`
	Entries    int              `json:"entries"`
	Sampled    int              `json:"sampled"`
	KeySizes   util.SizeSummary `json:"key_sizes"`
	ValueSizes util.SizeSummary `json:"value_sizes"`
	LeafPages  int              `json:"leaf_pages"`
	LeafInuse  int              `json:"leaf_inuse_bytes"`
	Depth      int              `json:"depth"`
}

// Info returns statistics about the tree. At most sample entries (from the start of the key
// space) are measured for the size estimates; sample <= 0 measures all entries.
//
// Note: this reads the whole page structure of the tree and should not be called in hot paths.
func (t *Tree) Info(sample int) (TreeInfo, error) {
	info := TreeInfo{Name: t.name}
	keys := util.NewSizeHistogram()
	values := util.NewSizeHistogram()

	err := t.view("info", func(b *bbolt.Bucket) error {
		stats := b.Stats()
		info.Entries = stats.KeyN
		info.LeafPages = stats.LeafPageN
		info.LeafInuse = stats.LeafInuse
		info.Depth = stats.Depth

		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if sample > 0 && info.Sampled >= sample {
				break
			}
			keys.AddSample(len(k))
			values.AddSample(len(v))
			info.Sampled++
		}
		return nil
	})
	if err != nil {
		return TreeInfo{}, err
	}

	info.KeySizes = keys.Summary()
	info.ValueSizes = values.Summary()
	return info, nil
}

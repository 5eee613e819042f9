package expiring

import (
	"fmt"
	"io"

	"github.com/VictoriaMetrics/metrics"
)

// treeMetrics are the counters of one expiring tree. Counters are registered in the default
// VictoriaMetrics set, so trees opened twice with the same name share them.
type treeMetrics struct {
	refresh     *metrics.Counter
	remove      *metrics.Counter
	expired     *metrics.Counter
	bookkeeping *metrics.Counter
	bucketSkip  *metrics.Counter
}

func newTreeMetrics(tree string) *treeMetrics {
	counter := func(name string) *metrics.Counter {
		return metrics.GetOrCreateCounter(fmt.Sprintf("%s{tree=%q}", name, tree))
	}
	return &treeMetrics{
		refresh:     counter("ttlkv_expiring_refresh_total"),
		remove:      counter("ttlkv_expiring_metadata_remove_total"),
		expired:     counter("ttlkv_expiring_expired_yield_total"),
		bookkeeping: counter("ttlkv_expiring_bookkeeping_errors_total"),
		bucketSkip:  counter("ttlkv_expiring_bucket_skip_total"),
	}
}

// WriteMetrics writes the counters of all expiring trees in Prometheus text format.
func WriteMetrics(w io.Writer) {
	metrics.WritePrometheus(w, false)
}

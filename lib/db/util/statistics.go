package util

import (
	"fmt"
	"math"
	"sync"
)

// ----------------------------------------------------------------------------
// SizeHistogram
// ----------------------------------------------------------------------------

// sizeBoundaries are the upper bounds of the histogram buckets, from 16 bytes to 4 GB.
// A final bucket holds everything larger.
var sizeBoundaries = []int{
	16, 64, 256, 1024, 4096,
	16384, 65536, 262144, 1048576,
	4194304, 16777216, 67108864,
	268435456, 1073741824, 4294967296,
}

// SizeHistogram tracks the distribution of entry sizes with exponential buckets. It answers
// average, median and percentile questions without keeping the samples.
type SizeHistogram struct {
	mutex   sync.RWMutex
	buckets []int64
	count   int64
	sum     int64
	max     int
}

// SizeSummary is a snapshot of a SizeHistogram.
type SizeSummary struct {
	Count   int64 `json:"count"`
	Total   int64 `json:"total"`
	Average int   `json:"average"`
	Median  int   `json:"median"`
	P95     int   `json:"p95"`
	Max     int   `json:"max"`
}

func (s SizeSummary) String() string {
	return fmt.Sprintf("count=%d total=%d avg=%d median~%d p95~%d max=%d", s.Count, s.Total, s.Average, s.Median, s.P95, s.Max)
}

// NewSizeHistogram creates an empty histogram.
func NewSizeHistogram() *SizeHistogram {
	return &SizeHistogram{
		buckets: make([]int64, len(sizeBoundaries)+1),
	}
}

// AddSample adds a size sample to the histogram
//
// Thread-safe: This method is safe for concurrent use
func (h *SizeHistogram) AddSample(size int) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	bucketIndex := len(sizeBoundaries)
	for i, boundary := range sizeBoundaries {
		if size <= boundary {
			bucketIndex = i
			break
		}
	}

	h.buckets[bucketIndex]++
	h.count++
	h.sum += int64(size)
	if size > h.max {
		h.max = size
	}
}

// Count returns the number of samples
//
// Thread-safe: This method is safe for concurrent use
func (h *SizeHistogram) Count() int64 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.count
}

// AverageSize returns the exact average of all samples
//
// Thread-safe: This method is safe for concurrent use
func (h *SizeHistogram) AverageSize() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.average()
}

func (h *SizeHistogram) average() int {
	if h.count == 0 {
		return 0
	}
	return int(h.sum / h.count)
}

// PercentileEstimate estimates the given percentile (0-100). The result is the midpoint of the
// bucket the percentile falls into, so it is only accurate to the bucket resolution.
//
// Thread-safe: This method is safe for concurrent use
func (h *SizeHistogram) PercentileEstimate(percentile int) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.percentile(percentile)
}

func (h *SizeHistogram) percentile(percentile int) int {
	if h.count == 0 || percentile < 0 || percentile > 100 {
		return 0
	}

	target := int64(math.Ceil(float64(h.count) * float64(percentile) / 100.0))
	if target == 0 {
		target = 1
	}
	cumulative := int64(0)
	for i, count := range h.buckets {
		cumulative += count
		if cumulative < target {
			continue
		}
		var estimate int
		switch {
		case i == 0:
			estimate = sizeBoundaries[0] / 2
		case i < len(sizeBoundaries):
			estimate = (sizeBoundaries[i-1] + sizeBoundaries[i]) / 2
		default:
			estimate = sizeBoundaries[len(sizeBoundaries)-1] * 2
		}
		// never report more than was observed
		if estimate > h.max {
			estimate = h.max
		}
		return estimate
	}
	return h.average()
}

// Summary returns a consistent snapshot of all estimates
//
// Thread-safe: This method is safe for concurrent use
func (h *SizeHistogram) Summary() SizeSummary {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return SizeSummary{
		Count:   h.count,
		Total:   h.sum,
		Average: h.average(),
		Median:  h.percentile(50),
		P95:     h.percentile(95),
		Max:     h.max,
	}
}

// Reset clears all histogram data
//
// Thread-safe: This method is safe for concurrent use
func (h *SizeHistogram) Reset() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.count, h.sum, h.max = 0, 0, 0
	for i := range h.buckets {
		h.buckets[i] = 0
	}
}

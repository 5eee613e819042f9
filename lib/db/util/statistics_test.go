package util

import "testing"

func TestSizeHistogram(t *testing.T) {
	h := NewSizeHistogram()
	if s := h.Summary(); s.Count != 0 || s.Median != 0 {
		t.Errorf("Expected empty summary, got %+v", s)
	}

	for i := 0; i < 90; i++ {
		h.AddSample(10) // bucket <= 16
	}
	for i := 0; i < 10; i++ {
		h.AddSample(2000) // bucket <= 4096
	}

	s := h.Summary()
	if s.Count != 100 {
		t.Errorf("Expected 100 samples, got %d", s.Count)
	}
	if s.Total != 90*10+10*2000 {
		t.Errorf("Unexpected total %d", s.Total)
	}
	if s.Average != (90*10+10*2000)/100 {
		t.Errorf("Unexpected average %d", s.Average)
	}
	if s.Median != 8 {
		t.Errorf("Expected median estimate 8, got %d", s.Median)
	}
	if s.P95 != 2000 {
		t.Errorf("Expected p95 estimate capped at max 2000, got %d", s.P95)
	}
	if s.Max != 2000 {
		t.Errorf("Expected max 2000, got %d", s.Max)
	}

	h.Reset()
	if h.Count() != 0 || h.AverageSize() != 0 || h.PercentileEstimate(50) != 0 {
		t.Error("Expected empty histogram after Reset")
	}
}

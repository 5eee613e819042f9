package util

import (
	"sync"
	"testing"
	"time"
)

type testEvent struct {
	producer int
	seq      int
}

// TestPushRecv tests basic push and receive
func TestPushRecv(t *testing.T) {
	q := NewLockFreeMPSC[testEvent]()
	defer q.Close()

	for i := 0; i < 10; i++ {
		if !q.Push(&testEvent{seq: i}) {
			t.Fatalf("Failed to push item %d", i)
		}
	}

	for i := 0; i < 10; i++ {
		select {
		case ev := <-q.Recv():
			if ev.seq != i {
				t.Errorf("Expected %d, got %d", i, ev.seq)
			}
		case <-time.After(time.Second):
			t.Fatalf("Timeout waiting for item %d", i)
		}
	}

	select {
	case ev := <-q.Recv():
		t.Errorf("Queue should be empty, but got %v", ev)
	case <-time.After(10 * time.Millisecond):
	}
}

// TestPushNil verifies that nil values are rejected
func TestPushNil(t *testing.T) {
	q := NewLockFreeMPSC[testEvent]()
	defer q.Close()

	if q.Push(nil) {
		t.Error("Push(nil) should return false")
	}
}

// TestConcurrentProducers verifies per-producer ordering with many producers
func TestConcurrentProducers(t *testing.T) {
	q := NewLockFreeMPSC[testEvent]()
	defer q.Close()

	const numProducers = 8
	const perProducer = 500

	var wg sync.WaitGroup
	wg.Add(numProducers)
	for p := 0; p < numProducers; p++ {
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				if !q.Push(&testEvent{producer: p, seq: i}) {
					t.Errorf("Producer %d failed to push item %d", p, i)
				}
			}
		}(p)
	}

	last := make([]int, numProducers)
	for i := range last {
		last[i] = -1
	}
	for received := 0; received < numProducers*perProducer; received++ {
		select {
		case ev := <-q.Recv():
			if ev.seq <= last[ev.producer] {
				t.Fatalf("Producer %d: item %d received after %d", ev.producer, ev.seq, last[ev.producer])
			}
			last[ev.producer] = ev.seq
		case <-time.After(2 * time.Second):
			t.Fatalf("Timeout after %d items", received)
		}
	}
	wg.Wait()
}

// TestCloseDeliversQueued verifies that queued items survive Close
func TestCloseDeliversQueued(t *testing.T) {
	q := NewLockFreeMPSC[testEvent]()

	for i := 0; i < 5; i++ {
		q.Push(&testEvent{seq: i})
	}
	q.Close()

	if !q.IsClosed() {
		t.Error("IsClosed should be true after Close")
	}
	if q.Push(&testEvent{seq: 100}) {
		t.Error("Should not be able to push after queue is closed")
	}

	for i := 0; i < 5; i++ {
		select {
		case ev := <-q.Recv():
			if ev.seq != i {
				t.Errorf("Expected %d, got %d", i, ev.seq)
			}
		case <-time.After(time.Second):
			t.Fatalf("Timeout waiting for item %d after close", i)
		}
	}

	if _, ok := <-q.Recv(); ok {
		t.Error("Channel should be closed but is still open")
	}
}

// TestDrain verifies that Drain ends the consumer even if nobody receives
func TestDrain(t *testing.T) {
	q := NewLockFreeMPSC[testEvent]()
	for i := 0; i < 100; i++ {
		q.Push(&testEvent{seq: i})
	}
	q.Close()

	done := make(chan struct{})
	go func() {
		q.Drain()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Drain did not return")
	}
	if n := q.Len(); n != 0 {
		t.Errorf("Expected empty queue after Drain, got %d", n)
	}
}

// BenchmarkMultiProducer benchmarks the queue with multiple producers
func BenchmarkMultiProducer(b *testing.B) {
	q := NewLockFreeMPSC[testEvent]()
	defer q.Close()

	go func() {
		for range q.Recv() {
		}
	}()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		ev := testEvent{}
		for pb.Next() {
			q.Push(&ev)
		}
	})
}

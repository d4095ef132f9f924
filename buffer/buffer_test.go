package buffer

import (
	"errors"
	"sync"
	"testing"

	"github.com/tidewatch/tidewatch/signal"
)

func TestRing_PushDrain_FIFO(t *testing.T) {
	r := NewRing[int](4, PolicyReject)

	for i := 1; i <= 3; i++ {
		if err := r.Push(i); err != nil {
			t.Fatalf("Push(%d) error = %v", i, err)
		}
	}

	got := r.Drain(0)
	want := []int{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("Drain() returned %d elements, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Drain()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
	if r.Len() != 0 {
		t.Errorf("Len() after drain = %d, want 0", r.Len())
	}
}

func TestRing_RejectPolicy_CapacityExceeded(t *testing.T) {
	r := NewRing[int](2, PolicyReject)

	if err := r.Push(1); err != nil {
		t.Fatalf("Push(1) error = %v", err)
	}
	if err := r.Push(2); err != nil {
		t.Fatalf("Push(2) error = %v", err)
	}

	// Full: every further push rejects until drained.
	for i := 0; i < 3; i++ {
		err := r.Push(99)
		if !errors.Is(err, signal.ErrCapacityExceeded) {
			t.Fatalf("Push() at capacity error = %v, want ErrCapacityExceeded", err)
		}
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}

	r.Drain(1)
	if err := r.Push(3); err != nil {
		t.Errorf("Push() after drain error = %v, want nil", err)
	}

	if dropped := r.Stats().Dropped.Load(); dropped != 3 {
		t.Errorf("Stats().Dropped = %d, want 3", dropped)
	}
}

func TestRing_DropOldestPolicy(t *testing.T) {
	r := NewRing[int](3, PolicyDropOldest)

	for i := 1; i <= 5; i++ {
		if err := r.Push(i); err != nil {
			t.Fatalf("Push(%d) error = %v", i, err)
		}
	}

	got := r.Drain(0)
	want := []int{3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("Drain() returned %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Drain()[%d] = %d, want %d", i, got[i], want[i])
		}
	}

	if dropped := r.Stats().Dropped.Load(); dropped != 2 {
		t.Errorf("Stats().Dropped = %d, want 2", dropped)
	}
	if pushed := r.Stats().Pushed.Load(); pushed != 5 {
		t.Errorf("Stats().Pushed = %d, want 5", pushed)
	}
}

func TestRing_DrainMax(t *testing.T) {
	r := NewRing[int](8, PolicyReject)
	for i := 1; i <= 6; i++ {
		r.Push(i)
	}

	first := r.Drain(4)
	if len(first) != 4 || first[0] != 1 || first[3] != 4 {
		t.Fatalf("Drain(4) = %v, want [1 2 3 4]", first)
	}

	rest := r.Drain(10)
	if len(rest) != 2 || rest[0] != 5 || rest[1] != 6 {
		t.Fatalf("Drain(10) = %v, want [5 6]", rest)
	}
}

func TestRing_ConcurrentProducers(t *testing.T) {
	const producers = 8
	const perProducer = 200

	r := NewRing[int](producers*perProducer, PolicyReject)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				if err := r.Push(p*perProducer + i); err != nil {
					t.Errorf("Push() error = %v", err)
					return
				}
			}
		}(p)
	}
	wg.Wait()

	got := r.Drain(0)
	if len(got) != producers*perProducer {
		t.Fatalf("Drain() returned %d elements, want %d", len(got), producers*perProducer)
	}

	seen := make(map[int]bool, len(got))
	for _, v := range got {
		if seen[v] {
			t.Fatalf("element %d drained twice", v)
		}
		seen[v] = true
	}
}

func TestNewRing_MinimumCapacity(t *testing.T) {
	r := NewRing[int](0, PolicyReject)
	if err := r.Push(1); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if err := r.Push(2); !errors.Is(err, signal.ErrCapacityExceeded) {
		t.Errorf("Push() error = %v, want ErrCapacityExceeded", err)
	}
}

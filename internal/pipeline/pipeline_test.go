package pipeline

import (
	"errors"
	"sync"
	"testing"
)

func TestQueueProcessesAllItemsBeforeSentinelDrain(t *testing.T) {
	var mu sync.Mutex
	var seen []int

	q := NewQueue(10, func(v int) error {
		mu.Lock()
		seen = append(seen, v)
		mu.Unlock()
		return nil
	})

	for i := 0; i < 5; i++ {
		q.Enqueue(i)
	}
	q.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 5 {
		t.Fatalf("expected all 5 items processed before Close returned, got %v", seen)
	}
	for i, v := range seen {
		if v != i {
			t.Fatalf("expected FIFO order, got %v", seen)
		}
	}
}

func TestQueueContinuesDrainingAfterProcessorError(t *testing.T) {
	var mu sync.Mutex
	var seen []int

	q := NewQueue(10, func(v int) error {
		mu.Lock()
		seen = append(seen, v)
		mu.Unlock()
		if v == 1 {
			return errors.New("boom")
		}
		return nil
	})

	q.Enqueue(0)
	q.Enqueue(1)
	q.Enqueue(2)
	q.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 {
		t.Fatalf("expected the queue to keep draining past an error, got %v", seen)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	q := NewQueue(1, func(int) error { return nil })
	q.Close()
	q.Close()
}

func TestNoopQueueDiscardsEverything(t *testing.T) {
	var q NoopQueue[string]
	q.Enqueue("anything")
	q.Close()
}

func TestItemQueueInterfaceSatisfiedByBoth(t *testing.T) {
	var q ItemQueue[int] = NewQueue(1, func(int) error { return nil })
	q.Close()
	var _ ItemQueue[int] = NoopQueue[int]{}
}

package journal

import (
	"sync"
	"testing"
	"time"
)

func TestQueue_PushPopOrder(t *testing.T) {
	q := newQueue[int](2, 100)

	for i := 0; i < 50; i++ {
		if !q.Push(i) {
			t.Fatalf("Push(%d) returned false", i)
		}
	}
	if q.Len() != 50 {
		t.Errorf("Len() = %d, want 50", q.Len())
	}
	if q.Cap() != 64 {
		t.Errorf("Cap() = %d, want 64", q.Cap())
	}
	if st := q.Stats(); st.Resizes != 5 || st.Count != 50 || st.Capacity != 64 {
		t.Errorf("Stats() = %+v, want 5 resizes of 50 items in 64", st)
	}

	for i := 0; i < 50; i++ {
		v, ok := q.Pop()
		if !ok || v != i {
			t.Fatalf("Pop() = %d, %v; want %d, true", v, ok, i)
		}
	}
}

func TestQueue_GrowWhileWrapped(t *testing.T) {
	q := newQueue[int](4, 16)

	for i := 0; i < 4; i++ {
		q.Push(i)
	}
	q.Pop()
	q.Pop()
	// Tail wraps to the front before the next grow.
	q.Push(4)
	q.Push(5)
	q.Push(6)

	got := q.Drain()
	want := []int{2, 3, 4, 5, 6}
	if len(got) != len(want) {
		t.Fatalf("Drain() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Drain()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestQueue_Limit(t *testing.T) {
	q := newQueue[int](1, 3)

	for i := 0; i < 3; i++ {
		if !q.Push(i) {
			t.Fatalf("Push(%d) rejected below limit", i)
		}
	}
	if q.Push(3) {
		t.Error("Push beyond limit accepted")
	}
	if q.Cap() != 3 {
		t.Errorf("Cap() = %d, want 3", q.Cap())
	}
}

func TestQueue_CloseWakesPop(t *testing.T) {
	q := newQueue[int](4, 4)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, ok := q.Pop(); ok {
			t.Error("Pop() on closed empty queue returned ok")
		}
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()
	wg.Wait()

	if q.Push(1) {
		t.Error("Push after Close accepted")
	}
}

func TestQueue_PopAfterCloseReturnsRemaining(t *testing.T) {
	q := newQueue[string](4, 4)
	q.Push("a")
	q.Close()

	if v, ok := q.Pop(); !ok || v != "a" {
		t.Errorf("Pop() = %q, %v; want a, true", v, ok)
	}
	if _, ok := q.Pop(); ok {
		t.Error("second Pop() returned ok")
	}
	if got := q.Drain(); got != nil {
		t.Errorf("Drain() = %v, want nil", got)
	}
}

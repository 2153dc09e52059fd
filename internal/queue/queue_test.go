package queue

import (
	"testing"

	"github.com/bcpnet/gobcp/internal/wire"
)

func item(origin byte) *Item {
	return &Item{Header: wire.Header{Origin: wire.NodeAddr{origin, 0}}}
}

func TestLIFOOrder(t *testing.T) {
	q := New(3)
	if err := q.Push(item(1)); err != nil {
		t.Fatal(err)
	}
	if err := q.Push(item(2)); err != nil {
		t.Fatal(err)
	}
	if err := q.Push(item(3)); err != nil {
		t.Fatal(err)
	}
	if got := q.Top().Origin[0]; got != 3 {
		t.Fatalf("top origin = %d, want 3 (LIFO)", got)
	}
	q.Pop()
	if got := q.Top().Origin[0]; got != 2 {
		t.Fatalf("top origin after pop = %d, want 2", got)
	}
	if q.Len() != 2 {
		t.Fatalf("len = %d, want 2", q.Len())
	}
}

func TestPushFullRejected(t *testing.T) {
	q := New(1)
	if err := q.Push(item(1)); err != nil {
		t.Fatal(err)
	}
	if err := q.Push(item(2)); err != ErrFull {
		t.Fatalf("got %v, want ErrFull", err)
	}
	if q.Len() != 1 {
		t.Fatalf("len = %d, want 1", q.Len())
	}
}

func TestRemoveArbitrary(t *testing.T) {
	q := New(3)
	a, b, c := item(1), item(2), item(3)
	_ = q.Push(a)
	_ = q.Push(b)
	_ = q.Push(c)
	q.Remove(b)
	if q.Len() != 2 {
		t.Fatalf("len = %d, want 2", q.Len())
	}
	snap := q.Snapshot()
	for _, it := range snap {
		if it == b {
			t.Fatal("removed item still present")
		}
	}
}

func TestEmptyQueueTopIsNil(t *testing.T) {
	q := New(1)
	if q.Top() != nil {
		t.Fatal("expected nil top on empty queue")
	}
	q.Pop() // must not panic
}

func TestAtIndexesFromTop(t *testing.T) {
	q := New(3)
	a, b, c := item(1), item(2), item(3)
	_ = q.Push(a)
	_ = q.Push(b)
	_ = q.Push(c)
	if q.At(0) != c || q.At(1) != b || q.At(2) != a {
		t.Fatal("At() did not index top-down as expected")
	}
	if q.At(3) != nil {
		t.Fatal("out-of-range At() should return nil")
	}
}

package fpm_test

import (
	"testing"

	"github.com/dantte-lp/gofpm/internal/dataplane"
	"github.com/dantte-lp/gofpm/internal/fpm"
)

func TestCtxQueueFIFO(t *testing.T) {
	t.Parallel()

	var q fpm.CtxQueue

	if q.Dequeue() != nil {
		t.Error("empty queue must dequeue nil")
	}

	a := dataplane.NewContext()
	b := dataplane.NewContext()
	c := dataplane.NewContext()
	q.Enqueue(a)
	q.Enqueue(b)
	q.Enqueue(c)

	if q.Len() != 3 {
		t.Errorf("len = %d, want 3", q.Len())
	}
	if got := q.Dequeue(); got != a {
		t.Error("first dequeue must return the first enqueue")
	}
	if got := q.Dequeue(); got != b {
		t.Error("second dequeue must return the second enqueue")
	}
	if got := q.Dequeue(); got != c {
		t.Error("third dequeue must return the third enqueue")
	}
	if q.Dequeue() != nil {
		t.Error("drained queue must dequeue nil")
	}
}

package fpm

import (
	"sync"

	"github.com/dantte-lp/gofpm/internal/dataplane"
)

// CtxQueue is the mutex-guarded FIFO of dataplane contexts handed from the
// engine loop to the plugin loop. It buffers updates when the peer
// connection is the bottleneck.
type CtxQueue struct {
	mu sync.Mutex
	q  []*dataplane.Context
}

// Enqueue appends ctx to the tail.
func (q *CtxQueue) Enqueue(ctx *dataplane.Context) {
	q.mu.Lock()
	q.q = append(q.q, ctx)
	q.mu.Unlock()
}

// Dequeue pops the head, or returns nil when empty.
func (q *CtxQueue) Dequeue() *dataplane.Context {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.q) == 0 {
		return nil
	}
	ctx := q.q[0]
	copy(q.q, q.q[1:])
	q.q = q.q[:len(q.q)-1]
	return ctx
}

// Len returns the current queue length.
func (q *CtxQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.q)
}

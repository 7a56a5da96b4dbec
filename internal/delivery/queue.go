// Package delivery sends room messages from a background worker, in
// priority order, retrying failures until they go through.
package delivery

import (
	"container/heap"
	"context"
	"sync"
)

// Message is one queued outbound room message
type Message struct {
	// Priority orders delivery, lowest first. Push assigns increasing values
	// so messages go out in arrival order.
	Priority int64
	RoomID   string
	Content  map[string]any
}

// Queue is an unbounded priority queue safe for concurrent use
type Queue struct {
	mu      sync.Mutex
	items   messageHeap
	counter int64
	ready   chan struct{}
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

// Push enqueues content for roomID behind everything already queued
func (q *Queue) Push(roomID string, content map[string]any) Message {
	q.mu.Lock()
	q.counter++
	m := Message{Priority: q.counter, RoomID: roomID, Content: content}
	heap.Push(&q.items, m)
	q.mu.Unlock()

	q.signal()
	return m
}

// Requeue puts m back with its original priority
func (q *Queue) Requeue(m Message) {
	q.mu.Lock()
	heap.Push(&q.items, m)
	q.mu.Unlock()

	q.signal()
}

// Len returns the number of waiting messages
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Pop blocks until a message is available or ctx is done
func (q *Queue) Pop(ctx context.Context) (Message, bool) {
	for {
		q.mu.Lock()
		if q.items.Len() > 0 {
			m := heap.Pop(&q.items).(Message)
			more := q.items.Len() > 0
			q.mu.Unlock()
			if more {
				q.signal()
			}
			return m, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Message{}, false
		case <-q.ready:
		}
	}
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

type messageHeap []Message

func (h messageHeap) Len() int           { return len(h) }
func (h messageHeap) Less(i, j int) bool { return h[i].Priority < h[j].Priority }
func (h messageHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *messageHeap) Push(x any) {
	*h = append(*h, x.(Message))
}

func (h *messageHeap) Pop() any {
	old := *h
	n := len(old)
	m := old[n-1]
	*h = old[:n-1]
	return m
}

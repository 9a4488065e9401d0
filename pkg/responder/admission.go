package responder

import (
	"errors"
	"net"
	"time"

	"github.com/jgoldverg/blast/pkg/transport"
)

var ErrQueueFull = errors.New("admission queue full")

// PendingRequest is a request that arrived while another session was active.
type PendingRequest struct {
	Filename string
	Addr     net.Addr
	QueuedAt time.Time
}

// AdmissionQueue is a bounded FIFO of pending requests, at most one per
// address. It is owned by the responder goroutine.
type AdmissionQueue struct {
	items []PendingRequest
	limit int
}

func NewAdmissionQueue(limit int) *AdmissionQueue {
	return &AdmissionQueue{limit: limit}
}

// Enqueue appends req and returns its 1-based position. An address that is
// already queued keeps its place and the existing position is returned.
func (q *AdmissionQueue) Enqueue(req PendingRequest) (int, error) {
	if pos, ok := q.Position(req.Addr); ok {
		return pos, nil
	}
	if q.limit > 0 && len(q.items) >= q.limit {
		return 0, ErrQueueFull
	}
	q.items = append(q.items, req)
	return len(q.items), nil
}

func (q *AdmissionQueue) Dequeue() (PendingRequest, bool) {
	if len(q.items) == 0 {
		return PendingRequest{}, false
	}
	head := q.items[0]
	q.items[0] = PendingRequest{}
	q.items = q.items[1:]
	return head, true
}

func (q *AdmissionQueue) Position(addr net.Addr) (int, bool) {
	for i, item := range q.items {
		if transport.SameAddr(item.Addr, addr) {
			return i + 1, true
		}
	}
	return 0, false
}

func (q *AdmissionQueue) Len() int { return len(q.items) }

// Expire removes entries queued more than ttl before now and returns them in
// queue order. A zero ttl expires nothing.
func (q *AdmissionQueue) Expire(now time.Time, ttl time.Duration) []PendingRequest {
	if ttl <= 0 || len(q.items) == 0 {
		return nil
	}
	var expired []PendingRequest
	kept := q.items[:0]
	for _, item := range q.items {
		if now.Sub(item.QueuedAt) > ttl {
			expired = append(expired, item)
			continue
		}
		kept = append(kept, item)
	}
	clear(q.items[len(kept):])
	q.items = kept
	return expired
}

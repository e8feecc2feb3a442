package mq

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type memEntry struct {
	msg       Message
	visibleAt time.Time
	receives  int
}

// MemoryQueue is an in-process Queue with visibility timeouts, used by tests
// and single-process development setups.
type MemoryQueue struct {
	mu      sync.Mutex
	seq     uint64
	entries map[string]*memEntry
	order   []string
	now     func() time.Time
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		entries: make(map[string]*memEntry),
		now:     time.Now,
	}
}

// SetClock replaces the time source; tests use it to expire visibility.
func (q *MemoryQueue) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

func (q *MemoryQueue) Send(ctx context.Context, msg *Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	id := strconv.FormatUint(q.seq, 10)
	m := *msg
	m.ID = id
	m.Payload = append([]byte(nil), msg.Payload...)
	q.entries[id] = &memEntry{msg: m, visibleAt: q.now()}
	q.order = append(q.order, id)
	return id, nil
}

func (q *MemoryQueue) Poll(ctx context.Context, max int, visibility time.Duration) ([]Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var out []Delivery
	live := q.order[:0]
	for _, id := range q.order {
		e, ok := q.entries[id]
		if !ok {
			continue
		}
		live = append(live, id)
		if len(out) >= max || e.visibleAt.After(now) {
			continue
		}
		e.visibleAt = now.Add(visibility)
		e.receives++
		out = append(out, Delivery{Message: e.msg, Receipt: id, ReceiveCount: e.receives})
	}
	q.order = live
	return out, nil
}

func (q *MemoryQueue) Delete(ctx context.Context, receipt string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.entries[receipt]; !ok {
		return ErrUnknownReceipt
	}
	delete(q.entries, receipt)
	return nil
}

// Len counts messages not yet deleted, visible or in flight.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *MemoryQueue) Close() error {
	return nil
}

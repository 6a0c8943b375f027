package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memMessage struct {
	id         string
	seq        int64
	body       []byte
	enqueuedAt time.Time
	receives   int
	receipt    string
	visibleAt  time.Time
	inflight   bool
}

// MemoryQueue in process queue, used for local runs and tests
type MemoryQueue struct {
	opts Options
	now  func() time.Time

	mu     sync.Mutex
	seq    int64
	ready  []string
	msgs   map[string]*memMessage
	notify chan struct{}
	closed bool
}

// NewMemoryQueue create MemoryQueue
func NewMemoryQueue(opts Options) *MemoryQueue {
	return &MemoryQueue{
		opts:   opts.withDefaults(),
		now:    time.Now,
		msgs:   make(map[string]*memMessage),
		notify: make(chan struct{}, 1),
	}
}

// Enqueue implement Queue
func (q *MemoryQueue) Enqueue(_ context.Context, body []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}

	q.seq++
	m := &memMessage{
		id:         uuid.NewString(),
		seq:        q.seq,
		body:       append([]byte(nil), body...),
		enqueuedAt: q.now(),
	}
	q.msgs[m.id] = m
	q.ready = append(q.ready, m.id)

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Receive implement Queue
func (q *MemoryQueue) Receive(ctx context.Context) (*Message, error) {
	var deadline <-chan time.Time
	if q.opts.WaitTime > 0 {
		t := time.NewTimer(q.opts.WaitTime)
		defer t.Stop()
		deadline = t.C
	}

	for {
		msg, err := q.tryReceive()
		if msg != nil || err != nil {
			return msg, err
		}
		if deadline == nil {
			return nil, nil
		}

		poll := time.NewTimer(q.opts.PollInterval)
		select {
		case <-ctx.Done():
			poll.Stop()
			return nil, ctx.Err()
		case <-deadline:
			poll.Stop()
			return q.tryReceive()
		case <-q.notify:
		case <-poll.C:
		}
		poll.Stop()
	}
}

func (q *MemoryQueue) tryReceive() (*Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrClosed
	}

	now := q.now()
	q.reclaim(now)
	for len(q.ready) > 0 {
		id := q.ready[0]
		q.ready = q.ready[1:]
		m, ok := q.msgs[id]
		if !ok {
			continue
		}
		m.inflight = true
		m.receives++
		m.receipt = m.id + ":" + uuid.NewString()
		m.visibleAt = now.Add(q.opts.VisibilityTimeout)
		return &Message{
			ID:            m.id,
			Body:          append([]byte(nil), m.body...),
			ReceiptHandle: m.receipt,
			ReceiveCount:  m.receives,
			EnqueuedAt:    m.enqueuedAt,
		}, nil
	}
	return nil, nil
}

// reclaim 可見時間到期的訊息回到 ready 最前面
func (q *MemoryQueue) reclaim(now time.Time) {
	var expired []*memMessage
	for _, m := range q.msgs {
		if m.inflight && !now.Before(m.visibleAt) {
			expired = append(expired, m)
		}
	}
	if len(expired) == 0 {
		return
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].seq < expired[j].seq })
	ids := make([]string, 0, len(expired)+len(q.ready))
	for _, m := range expired {
		m.inflight = false
		m.receipt = ""
		ids = append(ids, m.id)
	}
	q.ready = append(ids, q.ready...)
}

func (q *MemoryQueue) lookup(receipt string) (*memMessage, error) {
	id, ok := receiptID(receipt)
	if !ok {
		return nil, ErrReceiptExpired
	}
	m, ok := q.msgs[id]
	if !ok {
		return nil, nil
	}
	q.reclaim(q.now())
	if m.receipt != receipt {
		return nil, ErrReceiptExpired
	}
	return m, nil
}

// Delete implement Queue, deleting an already deleted message is a no-op
func (q *MemoryQueue) Delete(_ context.Context, receipt string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}

	m, err := q.lookup(receipt)
	if err != nil || m == nil {
		return err
	}
	delete(q.msgs, m.id)
	return nil
}

// ExtendVisibility implement Queue
func (q *MemoryQueue) ExtendVisibility(_ context.Context, receipt string, d time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}

	m, err := q.lookup(receipt)
	if err != nil {
		return err
	}
	if m == nil {
		return ErrReceiptExpired
	}
	m.visibleAt = q.now().Add(d)
	return nil
}

// Stats ready and in flight message counts
func (q *MemoryQueue) Stats() (ready, inflight int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reclaim(q.now())
	for _, m := range q.msgs {
		if m.inflight {
			inflight++
		} else {
			ready++
		}
	}
	return ready, inflight
}

// Close implement Queue
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

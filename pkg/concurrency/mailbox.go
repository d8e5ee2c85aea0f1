package concurrency

import "sync"

// Mailbox is an unbounded FIFO with a single consumer. Put never blocks, so it
// is safe to call while holding other locks; Drain hands items to the consumer
// strictly in Put order.
type Mailbox[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	wake   chan struct{}
}

func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{
		wake: make(chan struct{}, 1),
	}
}

// Put enqueues v. It returns false once the mailbox has been closed.
func (m *Mailbox[T]) Put(v T) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.items = append(m.items, v)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return true
}

// Close stops accepting new items. Items already queued are still drained.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Len returns the number of queued items.
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Drain calls fn for every item until the mailbox is closed and empty.
// Only one goroutine may drain a mailbox.
func (m *Mailbox[T]) Drain(fn func(T)) {
	for {
		m.mu.Lock()
		batch := m.items
		m.items = nil
		closed := m.closed
		m.mu.Unlock()

		for _, v := range batch {
			fn(v)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-m.wake
	}
}

package endpoint

import (
	"sync"
	"time"
)

// Mailbox is a single-slot hand-off between one producer and one consumer.
// A full slot blocks Put, which is how backpressure reaches the producer.
type Mailbox struct {
	slot chan []byte
	done chan struct{}
	once sync.Once
}

// NewMailbox creates an empty, open mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{
		slot: make(chan []byte, 1),
		done: make(chan struct{}),
	}
}

// Put blocks until the packet is queued. It returns false if the mailbox
// was closed first.
func (m *Mailbox) Put(pkt []byte) bool {
	select {
	case <-m.done:
		return false
	default:
	}

	select {
	case m.slot <- pkt:
		return true
	case <-m.done:
		return false
	}
}

// TryPut queues the packet only if the slot is free. It never blocks.
func (m *Mailbox) TryPut(pkt []byte) bool {
	select {
	case <-m.done:
		return false
	default:
	}

	select {
	case m.slot <- pkt:
		return true
	default:
		return false
	}
}

// Get returns the queued packet, waiting up to timeout (<= 0 waits forever).
// A packet already in the slot is still returned after Close.
func (m *Mailbox) Get(timeout time.Duration) ([]byte, error) {
	select {
	case pkt := <-m.slot:
		return pkt, nil
	default:
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case pkt := <-m.slot:
		return pkt, nil
	case <-m.done:
		select {
		case pkt := <-m.slot:
			return pkt, nil
		default:
		}
		return nil, ErrDisconnected
	case <-expired:
		return nil, ErrTimeout
	}
}

// Close wakes every blocked Put and Get. Safe to call multiple times.
func (m *Mailbox) Close() {
	m.once.Do(func() { close(m.done) })
}

// Done is closed once the mailbox is closed.
func (m *Mailbox) Done() <-chan struct{} {
	return m.done
}

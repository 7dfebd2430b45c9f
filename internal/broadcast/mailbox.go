package broadcast

import (
	"sync"

	model "auction-stream/internal/models"
)

// Mailbox is a Subscriber backed by a bounded buffer. A full or closed mailbox refuses
// frames instead of blocking the publisher.
type Mailbox struct {
	id     string
	ch     chan model.Envelope
	mu     sync.RWMutex
	closed bool
}

func NewMailbox(id string, size int) *Mailbox {
	if size <= 0 {
		size = 1
	}
	return &Mailbox{id: id, ch: make(chan model.Envelope, size)}
}

func (m *Mailbox) ID() string { return m.id }

func (m *Mailbox) Deliver(env model.Envelope) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false
	}
	select {
	case m.ch <- env:
		return true
	default:
		return false
	}
}

// C returns the buffered frames. It is closed by Close.
func (m *Mailbox) C() <-chan model.Envelope { return m.ch }

func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.ch)
	}
}

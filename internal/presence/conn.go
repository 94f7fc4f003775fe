package presence

import (
	"sync"

	"github.com/google/uuid"
	"github.com/lalith-99/pressroom/internal/models"
)

// Conn is one live, authenticated transport session.
//
// The identity is fixed at construction. Outbound frames go through a
// bounded queue drained by the transport's writer goroutine; Enqueue never
// blocks the caller.
type Conn struct {
	id        string
	principal models.Principal

	mu     sync.Mutex // serializes Enqueue against Close
	closed bool
	queue  chan []byte
	done   chan struct{}
}

func NewConn(p models.Principal, buffer int) *Conn {
	if buffer < 1 {
		buffer = 1
	}
	return &Conn{
		id:        uuid.NewString(),
		principal: p,
		queue:     make(chan []byte, buffer),
		done:      make(chan struct{}),
	}
}

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) Principal() models.Principal {
	return c.principal
}

// Enqueue hands frame to the writer. It returns false if the connection is
// closed or its queue is full. A full queue closes the connection: a
// client that cannot keep up is treated as offline and catches up from the
// store when it reconnects. Dropping a single frame instead would let a
// later event overtake an earlier one.
func (c *Conn) Enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.queue <- frame:
		return true
	default:
		c.closeLocked()
		return false
	}
}

// Outbound is the frame stream for the writer goroutine.
func (c *Conn) Outbound() <-chan []byte {
	return c.queue
}

// Done is closed once the connection is closed for any reason.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

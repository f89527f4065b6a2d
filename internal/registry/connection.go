package registry

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cwrk-planet/coursechat-service/internal/domain"
)

// Connection is one live transport session bound to a single user.
type Connection struct {
	id     string
	userID string

	mu       sync.Mutex
	rooms    map[string]struct{}
	closed   bool
	out      chan domain.Event
	done     chan struct{}
	evicted  chan struct{}
	overflow bool

	dropped atomic.Uint64
}

func newConnection(id, userID string, queueSize int) *Connection {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Connection{
		id:      id,
		userID:  userID,
		rooms:   make(map[string]struct{}),
		out:     make(chan domain.Event, queueSize),
		done:    make(chan struct{}),
		evicted: make(chan struct{}),
	}
}

func (c *Connection) ID() string     { return c.id }
func (c *Connection) UserID() string { return c.userID }

// Outbound is drained by the transport writer.
func (c *Connection) Outbound() <-chan domain.Event { return c.out }

// Done is closed once the connection is unregistered.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Evicted is closed when the outbound queue overflowed; the transport must
// drop the connection.
func (c *Connection) Evicted() <-chan struct{} { return c.evicted }

// Dropped reports how many queued events were discarded on overflow.
func (c *Connection) Dropped() uint64 { return c.dropped.Load() }

// Push enqueues ev without blocking. When the queue is full the oldest event
// is discarded and the connection is flagged for eviction. It returns false
// only if the connection is already unregistered.
func (c *Connection) Push(ev domain.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.out <- ev:
		return true
	default:
	}

	// pushes are serialized by c.mu and the writer only receives, so after
	// discarding one item there is room for ev.
	select {
	case <-c.out:
		c.dropped.Add(1)
	default:
	}
	select {
	case c.out <- ev:
	default:
		c.dropped.Add(1)
	}
	if !c.overflow {
		c.overflow = true
		close(c.evicted)
	}
	return true
}

// Rooms returns the joined course ids, sorted.
func (c *Connection) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomsLocked()
}

func (c *Connection) roomsLocked() []string {
	out := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// AddRoom records courseID in the joined set. It fails once the connection
// has been unregistered so a late join cannot leave a dangling membership.
func (c *Connection) AddRoom(courseID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.rooms[courseID] = struct{}{}
	return true
}

func (c *Connection) RemoveRoom(courseID string) {
	c.mu.Lock()
	delete(c.rooms, courseID)
	c.mu.Unlock()
}

func (c *Connection) InRoom(courseID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[courseID]
	return ok
}

// close marks the connection terminal and returns the rooms it was in.
func (c *Connection) close() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	return c.roomsLocked()
}

// Package rooms keeps per-course membership of live connections.
//
// Every room has its own membership mutex and a one-slot sequencing
// semaphore used by the broker for persist-then-broadcast. The index lock
// only guards the map of rooms and is never held while a room is busy.
package rooms

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cwrk-planet/coursechat-service/internal/domain"
	"github.com/cwrk-planet/coursechat-service/internal/registry"
)

type room struct {
	id      string
	mu      sync.Mutex
	members map[string]*registry.Connection
	seq     chan struct{}

	refs int // guarded by Manager.mu
}

type Manager struct {
	registry *registry.Registry

	mu    sync.Mutex
	rooms map[string]*room
}

func NewManager(reg *registry.Registry) *Manager {
	return &Manager{
		registry: reg,
		rooms:    make(map[string]*room),
	}
}

// acquire looks rooms up by the normalized course id, so every method
// agrees on the key.
func (m *Manager) acquire(courseID string, create bool) *room {
	courseID = domain.NormalizeID(courseID)
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[courseID]
	if !ok {
		if !create {
			return nil
		}
		r = &room{
			id:      courseID,
			members: make(map[string]*registry.Connection),
			seq:     make(chan struct{}, 1),
		}
		m.rooms[courseID] = r
	}
	r.refs++
	return r
}

// release drops a reference and removes the room once it is empty and unused.
func (m *Manager) release(r *room) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r.refs--
	if r.refs > 0 {
		return
	}
	r.mu.Lock()
	empty := len(r.members) == 0
	r.mu.Unlock()
	if empty {
		delete(m.rooms, r.id)
	}
}

// Join admits connID into the course room. Repeated joins are no-ops.
func (m *Manager) Join(courseID, connID string) (int, error) {
	courseID, connID = domain.NormalizeID(courseID), domain.NormalizeID(connID)
	if courseID == "" {
		return 0, fmt.Errorf("%w: course id is required", domain.ErrInvalidRequest)
	}
	c, err := m.registry.Lookup(connID)
	if err != nil {
		return 0, err
	}

	r := m.acquire(courseID, true)
	defer m.release(r)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[connID]; !ok {
		if !c.AddRoom(courseID) {
			return len(r.members), fmt.Errorf("join %q: %w", connID, domain.ErrNotRegistered)
		}
		r.members[connID] = c
	}
	return len(r.members), nil
}

// Leave removes connID from the course room and returns the remaining count.
func (m *Manager) Leave(courseID, connID string) int {
	courseID, connID = domain.NormalizeID(courseID), domain.NormalizeID(connID)
	r := m.acquire(courseID, false)
	if r == nil {
		if c, err := m.registry.Lookup(connID); err == nil {
			c.RemoveRoom(courseID)
		}
		return 0
	}
	defer m.release(r)

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.members[connID]; ok {
		delete(r.members, connID)
		c.RemoveRoom(courseID)
	}
	return len(r.members)
}

// Broadcast enqueues ev for every member except exclude and returns how many
// connections accepted it. It never blocks on a slow member.
func (m *Manager) Broadcast(courseID string, ev domain.Event, exclude string) int {
	exclude = domain.NormalizeID(exclude)
	r := m.acquire(courseID, false)
	if r == nil {
		return 0
	}
	defer m.release(r)

	r.mu.Lock()
	defer r.mu.Unlock()

	delivered := 0
	for id, c := range r.members {
		if id == exclude {
			continue
		}
		if c.Push(ev) {
			delivered++
		}
	}
	return delivered
}

// Serialize runs fn while holding the room's sequencing slot, so calls for
// the same course execute one at a time in arrival order of the slot.
func (m *Manager) Serialize(ctx context.Context, courseID string, fn func(ctx context.Context) error) error {
	r := m.acquire(courseID, true)
	defer m.release(r)

	select {
	case r.seq <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-r.seq }()

	return fn(ctx)
}

func (m *Manager) ParticipantCount(courseID string) int {
	r := m.acquire(courseID, false)
	if r == nil {
		return 0
	}
	defer m.release(r)

	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Members returns a sorted snapshot of the connection ids in the room.
func (m *Manager) Members(courseID string) []string {
	r := m.acquire(courseID, false)
	if r == nil {
		return []string{}
	}
	defer m.release(r)

	r.mu.Lock()
	out := make([]string, 0, len(r.members))
	for id := range r.members {
		out = append(out, id)
	}
	r.mu.Unlock()

	sort.Strings(out)
	return out
}

func (m *Manager) IsMember(courseID, connID string) bool {
	connID = domain.NormalizeID(connID)
	r := m.acquire(courseID, false)
	if r == nil {
		return false
	}
	defer m.release(r)

	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[connID]
	return ok
}

// Count returns the number of live rooms.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

// Package registry tracks live connections and the user each belongs to.
package registry

import (
	"fmt"
	"sync"

	"github.com/cwrk-planet/coursechat-service/internal/domain"
)

const DefaultQueueSize = 64

type Registry struct {
	mu        sync.RWMutex
	conns     map[string]*Connection
	queueSize int
}

func New(queueSize int) *Registry {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Registry{
		conns:     make(map[string]*Connection),
		queueSize: queueSize,
	}
}

// Register binds connID to userID.
func (r *Registry) Register(connID, userID string) (*Connection, error) {
	connID = domain.NormalizeID(connID)
	userID = domain.NormalizeID(userID)
	if connID == "" || userID == "" {
		return nil, fmt.Errorf("%w: connection and user id are required", domain.ErrInvalidRequest)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[connID]; exists {
		return nil, fmt.Errorf("register %q: %w", connID, domain.ErrDuplicateConnection)
	}
	c := newConnection(connID, userID, r.queueSize)
	r.conns[connID] = c
	return c, nil
}

// Unregister removes connID and returns the rooms it had joined. Unknown ids
// are a no-op.
func (r *Registry) Unregister(connID string) []string {
	connID = domain.NormalizeID(connID)
	r.mu.Lock()
	c, ok := r.conns[connID]
	if ok {
		delete(r.conns, connID)
	}
	r.mu.Unlock()

	if !ok {
		return []string{}
	}
	rooms := c.close()
	if rooms == nil {
		rooms = []string{}
	}
	return rooms
}

func (r *Registry) Lookup(connID string) (*Connection, error) {
	connID = domain.NormalizeID(connID)
	r.mu.RLock()
	c, ok := r.conns[connID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("lookup %q: %w", connID, domain.ErrNotRegistered)
	}
	return c, nil
}

func (r *Registry) LookupUser(connID string) (string, error) {
	c, err := r.Lookup(connID)
	if err != nil {
		return "", err
	}
	return c.UserID(), nil
}

// UserConnections returns the ids of all live connections of userID.
func (r *Registry) UserConnections(userID string) []string {
	userID = domain.NormalizeID(userID)
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, c := range r.conns {
		if c.userID == userID {
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

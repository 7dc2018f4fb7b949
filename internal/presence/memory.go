package presence

import (
	"context"
	"sync"
)

type set map[string]struct{}

func (s set) keys() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	return out
}

type MemoryRegistry struct {
	mu     sync.RWMutex
	byUser map[string]set    // user -> conn ids
	byConn map[string]string // conn id -> user
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		byUser: make(map[string]set),
		byConn: make(map[string]string),
	}
}

func (r *MemoryRegistry) Register(_ context.Context, userID, connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byConn[connID]; ok && prev != userID {
		r.removeLocked(prev, connID)
	}

	conns := r.byUser[userID]
	if conns == nil {
		conns = make(set)
		r.byUser[userID] = conns
	}
	conns[connID] = struct{}{}
	r.byConn[connID] = userID
	return nil
}

func (r *MemoryRegistry) Lookup(_ context.Context, userID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byUser[userID].keys(), nil
}

func (r *MemoryRegistry) Unregister(_ context.Context, connID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byConn[connID]
	if !ok {
		return "", nil
	}
	r.removeLocked(userID, connID)
	return userID, nil
}

func (r *MemoryRegistry) removeLocked(userID, connID string) {
	delete(r.byConn, connID)
	if conns := r.byUser[userID]; conns != nil {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.byUser, userID)
		}
	}
}

type MemoryMembership struct {
	mu     sync.RWMutex
	rooms  map[string]set // room -> users
	byUser map[string]set // user -> rooms
}

func NewMemoryMembership() *MemoryMembership {
	return &MemoryMembership{
		rooms:  make(map[string]set),
		byUser: make(map[string]set),
	}
}

func (m *MemoryMembership) Join(_ context.Context, roomID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	add := func(index map[string]set, key, value string) {
		s := index[key]
		if s == nil {
			s = make(set)
			index[key] = s
		}
		s[value] = struct{}{}
	}
	add(m.rooms, roomID, userID)
	add(m.byUser, userID, roomID)
	return nil
}

func (m *MemoryMembership) Leave(_ context.Context, roomID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaveLocked(roomID, userID)
	return nil
}

func (m *MemoryMembership) Members(_ context.Context, roomID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rooms[roomID].keys(), nil
}

func (m *MemoryMembership) RoomsOf(_ context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byUser[userID].keys(), nil
}

func (m *MemoryMembership) LeaveAll(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	left := m.byUser[userID].keys()
	for _, roomID := range left {
		m.leaveLocked(roomID, userID)
	}
	return left, nil
}

func (m *MemoryMembership) leaveLocked(roomID, userID string) {
	if members := m.rooms[roomID]; members != nil {
		delete(members, userID)
		if len(members) == 0 {
			delete(m.rooms, roomID)
		}
	}
	if rooms := m.byUser[userID]; rooms != nil {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(m.byUser, userID)
		}
	}
}

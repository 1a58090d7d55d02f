package services

import "sync"

// Event is one server-to-client push.
type Event struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// ConnectionHandle is an opaque reference to one live transport connection,
// owned by exactly one user. Send is best-effort: a false return means the
// handle was dead or backed up and the event was dropped.
type ConnectionHandle interface {
	ID() string
	Send(event Event) bool
}

// ConnectionRegistry is the process-local bidirectional index of live
// connections: user to connection handles, tenant to reachable users. All
// mutation goes through one mutex so concurrent connect/disconnect for the
// same user never interleave partially. Rebuilt empty on process restart.
type ConnectionRegistry struct {
	mu         sync.RWMutex
	byUser     map[string]map[string]ConnectionHandle // userId -> handleId -> handle
	owners     map[string]string                      // handleId -> userId
	tenants    map[string]map[string]bool             // tenantId -> userIds
	userTenant map[string]string                      // userId -> tenantId
}

func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		byUser:     make(map[string]map[string]ConnectionHandle),
		owners:     make(map[string]string),
		tenants:    make(map[string]map[string]bool),
		userTenant: make(map[string]string),
	}
}

// Register adds a handle to its owner's set and the owner to the tenant set.
// Idempotent by handle id.
func (r *ConnectionRegistry) Register(handle ConnectionHandle, userID, tenantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[string]ConnectionHandle)
	}
	r.byUser[userID][handle.ID()] = handle
	r.owners[handle.ID()] = userID

	if r.tenants[tenantID] == nil {
		r.tenants[tenantID] = make(map[string]bool)
	}
	r.tenants[tenantID][userID] = true
	r.userTenant[userID] = tenantID
}

// Unregister removes a handle from its owner's set. When the last handle for
// a user goes, the user is removed from the registry and pruned from the
// tenant set so broadcasts only iterate reachable users. Returns the owner's
// remaining connection count; removed is false for an unknown handle, which
// makes double-unregister a no-op.
func (r *ConnectionRegistry) Unregister(handle ConnectionHandle) (remaining int, removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.owners[handle.ID()]
	if !ok {
		return 0, false
	}
	delete(r.owners, handle.ID())

	handles := r.byUser[userID]
	delete(handles, handle.ID())

	if len(handles) > 0 {
		return len(handles), true
	}

	delete(r.byUser, userID)

	tenantID := r.userTenant[userID]
	delete(r.userTenant, userID)
	if members, ok := r.tenants[tenantID]; ok {
		delete(members, userID)
		if len(members) == 0 {
			delete(r.tenants, tenantID)
		}
	}

	return 0, true
}

// ConnectionsOf returns the live handles of one user.
func (r *ConnectionRegistry) ConnectionsOf(userID string) []ConnectionHandle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handles := r.byUser[userID]
	if len(handles) == 0 {
		return nil
	}
	result := make([]ConnectionHandle, 0, len(handles))
	for _, handle := range handles {
		result = append(result, handle)
	}
	return result
}

// UsersOf returns the user ids currently reachable in a tenant.
func (r *ConnectionRegistry) UsersOf(tenantID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.tenants[tenantID]
	if len(members) == 0 {
		return nil
	}
	result := make([]string, 0, len(members))
	for userID := range members {
		result = append(result, userID)
	}
	return result
}

// Connections returns the number of live handles for one user.
func (r *ConnectionRegistry) Connections(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID])
}

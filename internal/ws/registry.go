package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// entry is the registry's record of one live connection. The send handle
// (the client's buffered channel) is only ever reached through Send, so the
// registry is the single delivery boundary.
type entry struct {
	client       *Client
	userID       string
	lastActivity time.Time
}

// Registry owns the set of live, authenticated connections. All mutation
// goes through its methods; callers never touch the underlying maps.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*entry          // connection id -> entry
	byUser map[string]map[string]bool // user id -> set of connection ids
}

func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]*entry),
		byUser: make(map[string]map[string]bool),
	}
}

// Admit records an authenticated client and returns its fresh connection id.
// The id is stored on the client before the entry is published, so a sender
// that fails against this connection and hands it to the cleanup path can
// never observe an admitted client without its id. Admission time doubles
// as the initial last-activity timestamp.
func (r *Registry) Admit(userID string, c *Client) string {
	connID := uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()

	c.id = connID
	r.conns[connID] = &entry{
		client:       c,
		userID:       userID,
		lastActivity: time.Now(),
	}
	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[string]bool)
	}
	r.byUser[userID][connID] = true

	return connID
}

// Remove deletes a connection from the registry. Removing an id that is
// absent is a no-op. It reports whether an entry was actually removed.
func (r *Registry) Remove(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return false
	}
	delete(r.conns, connID)

	if set, ok := r.byUser[e.userID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.byUser, e.userID)
		}
	}
	return true
}

// Send attempts delivery of payload to the given connection. Delivery is
// non-blocking: a full outbound buffer counts as a failure. On failure the
// dead client is returned so the caller can trigger the disconnect cleanup
// path; a send to an unknown id returns (false, nil).
func (r *Registry) Send(connID string, payload []byte) (bool, *Client) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[connID]
	if !ok {
		return false, nil
	}

	select {
	case e.client.send <- payload:
		return true, nil
	default:
		return false, e.client
	}
}

// Touch updates a connection's last-activity timestamp. Used only by the
// optional idle-timeout policy, not for correctness.
func (r *Registry) Touch(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.conns[connID]; ok {
		e.lastActivity = time.Now()
	}
}

// ConnectionsFor returns the connection ids currently held by a user.
// A user with several devices has several entries.
func (r *Registry) ConnectionsFor(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.byUser[userID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

// UserFor returns the user id owning a connection, if it is registered.
func (r *Registry) UserFor(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[connID]
	if !ok {
		return "", false
	}
	return e.userID, true
}

// OnlineUsers returns the set of user ids with at least one live connection.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.byUser))
	for userID := range r.byUser {
		users = append(users, userID)
	}
	return users
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// ConnectionIDs returns every registered connection id, excluding those
// owned by exceptUserID when it is non-empty.
func (r *Registry) ConnectionIDs(exceptUserID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.conns))
	for id, e := range r.conns {
		if exceptUserID != "" && e.userID == exceptUserID {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// IdleClients returns clients whose last activity is older than cutoff.
func (r *Registry) IdleClients(cutoff time.Time) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var idle []*Client
	for _, e := range r.conns {
		if e.lastActivity.Before(cutoff) {
			idle = append(idle, e.client)
		}
	}
	return idle
}

package realtime

import (
	"sort"
	"sync"
)

// Close codes sent to clients.
const (
	CloseSessionReplaced = 4001
	CloseShutdown        = 1001
)

// Router tracks live connections and keeps one active Connection per user.
type Router struct {
	mu    sync.RWMutex
	conns map[string]*Connection // connectionID -> connection
	users map[string]string      // userID -> connectionID
}

// NewRouter constructs an initialized Router.
func NewRouter() *Router {
	return &Router{
		conns: make(map[string]*Connection),
		users: make(map[string]string),
	}
}

// Attach registers a connection and starts its write loop. A previous connection of the same
// user is removed and closed after the swap.
func (r *Router) Attach(conn *Connection) {
	var previous *Connection

	r.mu.Lock()
	if existingID, ok := r.users[conn.UserID]; ok {
		previous = r.conns[existingID]
		delete(r.conns, existingID)
	}
	r.conns[conn.ID] = conn
	r.users[conn.UserID] = conn.ID
	r.mu.Unlock()

	conn.Start()

	if previous != nil {
		previous.Close(CloseSessionReplaced, "session replaced")
	}
}

// Detach removes a connection if it is still tracked. It reports whether it was.
func (r *Router) Detach(conn *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[conn.ID]; !ok {
		return false
	}
	delete(r.conns, conn.ID)
	if current, ok := r.users[conn.UserID]; ok && current == conn.ID {
		delete(r.users, conn.UserID)
	}
	return true
}

// Lookup returns the current connection of userID.
func (r *Router) Lookup(userID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.users[userID]
	if !ok {
		return nil, false
	}
	conn, ok := r.conns[id]
	return conn, ok
}

// NotifyUser delivers payload to the current connection of the given user.
func (r *Router) NotifyUser(userID string, payload []byte) bool {
	conn, ok := r.Lookup(userID)
	if !ok {
		return false
	}
	return conn.Send(payload) == nil
}

// Broadcast writes payload to every connection except excludeUserID's and returns how many
// accepted it.
func (r *Router) Broadcast(payload []byte, excludeUserID string) int {
	r.mu.RLock()
	targets := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		if excludeUserID != "" && conn.UserID == excludeUserID {
			continue
		}
		targets = append(targets, conn)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, conn := range targets {
		if err := conn.Send(payload); err == nil {
			delivered++
		}
	}
	return delivered
}

// Users lists the users with a live connection, sorted.
func (r *Router) Users() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.users))
	for id := range r.users {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Close terminates all tracked connections and clears router state.
func (r *Router) Close() {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	r.conns = make(map[string]*Connection)
	r.users = make(map[string]string)
	r.mu.Unlock()

	for _, conn := range conns {
		conn.Close(CloseShutdown, "router shutdown")
	}
}

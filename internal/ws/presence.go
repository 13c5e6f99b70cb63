package ws

import (
	"sync"
	"time"
)

// PresenceRecord is the derived availability state of one user. It is
// rebuilt from connection lifecycle events and never persisted.
type PresenceRecord struct {
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"`
	TypingIn string    `json:"typing_in,omitempty"`
}

// PresenceTracker derives per-user online/offline/typing state from
// registry events. A user is online while at least one of their
// connections is registered.
type PresenceTracker struct {
	mu      sync.RWMutex
	records map[string]*PresenceRecord
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{records: make(map[string]*PresenceRecord)}
}

// ConnectionOpened notes a new connection for a user and reports whether
// this transitioned the user from offline to online.
func (p *PresenceTracker) ConnectionOpened(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.records[userID]
	if !ok {
		rec = &PresenceRecord{}
		p.records[userID] = rec
	}
	wentOnline := !rec.Online
	rec.Online = true
	rec.LastSeen = time.Now()
	return wentOnline
}

// ConnectionClosed notes a closed connection. remaining is the number of
// connections the user still holds in the registry; the user goes offline
// when it reaches zero. Reports whether an offline transition happened.
func (p *PresenceTracker) ConnectionClosed(userID string, remaining int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.records[userID]
	if !ok {
		return false
	}
	rec.LastSeen = time.Now()
	if remaining > 0 {
		return false
	}
	wentOffline := rec.Online
	rec.Online = false
	rec.TypingIn = ""
	return wentOffline
}

// SetTyping records or clears the group a user is currently typing in.
// The latest state wins; there is no history.
func (p *PresenceTracker) SetTyping(userID, groupID string, typing bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.records[userID]
	if !ok {
		return
	}
	if typing {
		rec.TypingIn = groupID
	} else if rec.TypingIn == groupID {
		rec.TypingIn = ""
	}
}

// Get returns a copy of a user's presence record.
func (p *PresenceTracker) Get(userID string) (PresenceRecord, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	rec, ok := p.records[userID]
	if !ok {
		return PresenceRecord{}, false
	}
	return *rec, true
}

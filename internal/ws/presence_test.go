package ws

import "testing"

// TestPresenceTransitions verifies the offline -> online -> offline state
// machine, including multi-device behavior.
func TestPresenceTransitions(t *testing.T) {
	p := NewPresenceTracker()

	if !p.ConnectionOpened("alice") {
		t.Fatal("Expected first connection to transition alice online")
	}
	if p.ConnectionOpened("alice") {
		t.Fatal("Expected second connection to not re-transition alice")
	}

	if p.ConnectionClosed("alice", 1) {
		t.Fatal("Expected no offline transition while a connection remains")
	}
	if !p.ConnectionClosed("alice", 0) {
		t.Fatal("Expected offline transition when the last connection closed")
	}

	rec, ok := p.Get("alice")
	if !ok {
		t.Fatal("Expected a presence record for alice")
	}
	if rec.Online {
		t.Fatal("Expected alice to be offline")
	}
	if rec.LastSeen.IsZero() {
		t.Fatal("Expected last-seen to be recorded")
	}
}

// TestPresenceClosedUnknownUser verifies that closing a connection for a
// user never seen is harmless.
func TestPresenceClosedUnknownUser(t *testing.T) {
	p := NewPresenceTracker()
	if p.ConnectionClosed("ghost", 0) {
		t.Fatal("Expected no transition for an unknown user")
	}
}

// TestPresenceTyping verifies the typing pointer: latest state wins, a
// mismatched clear is ignored, and disconnect clears it implicitly.
func TestPresenceTyping(t *testing.T) {
	p := NewPresenceTracker()
	p.ConnectionOpened("alice")

	p.SetTyping("alice", "conv1", true)
	if rec, _ := p.Get("alice"); rec.TypingIn != "conv1" {
		t.Fatalf("Expected typing pointer conv1, got %q", rec.TypingIn)
	}

	// Moving to another conversation supersedes the earlier state.
	p.SetTyping("alice", "conv2", true)
	if rec, _ := p.Get("alice"); rec.TypingIn != "conv2" {
		t.Fatalf("Expected typing pointer conv2, got %q", rec.TypingIn)
	}

	// Clearing a conversation the user is not typing in changes nothing.
	p.SetTyping("alice", "conv1", false)
	if rec, _ := p.Get("alice"); rec.TypingIn != "conv2" {
		t.Fatalf("Expected typing pointer conv2 to survive, got %q", rec.TypingIn)
	}

	p.SetTyping("alice", "conv2", false)
	if rec, _ := p.Get("alice"); rec.TypingIn != "" {
		t.Fatalf("Expected typing pointer cleared, got %q", rec.TypingIn)
	}

	// Disconnect clears any typing pointer.
	p.SetTyping("alice", "conv2", true)
	p.ConnectionClosed("alice", 0)
	if rec, _ := p.Get("alice"); rec.TypingIn != "" {
		t.Fatalf("Expected typing pointer cleared on disconnect, got %q", rec.TypingIn)
	}

	// Typing for a user with no record is ignored.
	p.SetTyping("ghost", "conv1", true)
	if _, ok := p.Get("ghost"); ok {
		t.Fatal("Expected no record to be created for unknown user")
	}
}

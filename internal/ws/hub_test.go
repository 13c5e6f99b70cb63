package ws

import (
	"encoding/json"
	"testing"

	"EduConnectPlatform/internal/auth"
)

// stubVerifier admits any token as a user id, except the literal "bad".
type stubVerifier struct{}

func (stubVerifier) Verify(token string) (*auth.Claims, error) {
	if token == "bad" {
		return nil, auth.ErrInvalidToken
	}
	return &auth.Claims{UserID: token}, nil
}

func newTestHub() *Hub {
	return NewHub(stubVerifier{}, []string{"*"}, 0)
}

// connectUser admits a client whose token doubles as its user id and
// consumes the auth acknowledgment.
func connectUser(t *testing.T, h *Hub, userID string) *Client {
	t.Helper()
	c := &Client{send: make(chan []byte, sendBufferSize)}
	if !h.HandleMessage(c, []byte(`{"type":"auth","token":"`+userID+`"}`)) {
		t.Fatalf("Expected admission for %s", userID)
	}
	ack := readEvent(t, c)
	if ack.Type != EventAuthSuccess || ack.UserID != userID || ack.ConnectionID == "" {
		t.Fatalf("Expected auth-success for %s, got %+v", userID, ack)
	}
	return c
}

func joinConversation(t *testing.T, h *Hub, c *Client, conversationID string) {
	t.Helper()
	h.HandleMessage(c, []byte(`{"type":"join","conversationId":"`+conversationID+`"}`))
	if ack := readEvent(t, c); ack.Type != EventJoined {
		t.Fatalf("Expected joined ack, got %+v", ack)
	}
}

func readEvent(t *testing.T, c *Client) outboundEvent {
	t.Helper()
	select {
	case raw := <-c.send:
		var ev outboundEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			t.Fatalf("Failed to decode outbound event %s: %v", raw, err)
		}
		return ev
	default:
		t.Fatal("Expected a queued event, found none")
	}
	return outboundEvent{}
}

func expectNoEvent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case raw := <-c.send:
		t.Fatalf("Expected no event, got %s", raw)
	default:
	}
}

func drainEvents(c *Client) {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}

// TestHubAuthGate verifies that the first accepted event must be a valid
// credential: events before admission are refused, and a bad credential
// closes the connection.
func TestHubAuthGate(t *testing.T) {
	h := newTestHub()

	c := &Client{send: make(chan []byte, 8)}
	if !h.HandleMessage(c, []byte(`{"type":"typing","conversationId":"c1","isTyping":true}`)) {
		t.Fatal("Expected a pre-auth event to be refused without closing")
	}
	if ev := readEvent(t, c); ev.Type != EventError || ev.Code != ErrCodeAuthRequired {
		t.Fatalf("Expected auth_required error, got %+v", ev)
	}

	if h.HandleMessage(c, []byte(`{"type":"auth","token":"bad"}`)) {
		t.Fatal("Expected a bad credential to close the connection")
	}
	if ev := readEvent(t, c); ev.Type != EventError || ev.Code != ErrCodeAuthFailed {
		t.Fatalf("Expected auth_failed error, got %+v", ev)
	}
	if h.registry.Count() != 0 {
		t.Fatal("Expected no admission after a refused credential")
	}

	alice := connectUser(t, h, "alice")
	if user, ok := h.registry.UserFor(alice.id); !ok || user != "alice" {
		t.Fatal("Expected alice to be registered after admission")
	}

	// A second credential on an admitted connection is a protocol error.
	h.HandleMessage(alice, []byte(`{"type":"auth","token":"alice"}`))
	if ev := readEvent(t, alice); ev.Type != EventError || ev.Code != ErrCodeMalformedEvent {
		t.Fatalf("Expected repeated auth to be refused, got %+v", ev)
	}
}

// TestHubMalformedFrame verifies that garbage is reported to the offender
// only, without closing the connection.
func TestHubMalformedFrame(t *testing.T) {
	h := newTestHub()
	alice := connectUser(t, h, "alice")

	if !h.HandleMessage(alice, []byte(`{{{`)) {
		t.Fatal("Expected a malformed frame to leave the connection open")
	}
	if ev := readEvent(t, alice); ev.Type != EventError || ev.Code != ErrCodeMalformedEvent {
		t.Fatalf("Expected malformed_event error, got %+v", ev)
	}
}

// TestHubChatRelay verifies the basic relay: a message reaches the other
// live members of the conversation, the sender gets an acknowledgment, and
// the sender never receives its own message back.
func TestHubChatRelay(t *testing.T) {
	h := newTestHub()
	alice := connectUser(t, h, "alice")
	bob := connectUser(t, h, "bob")
	drainEvents(alice) // presence for bob

	joinConversation(t, h, alice, "c1")
	joinConversation(t, h, bob, "c1")

	h.HandleMessage(alice, []byte(`{"type":"message","conversationId":"c1","content":"hello"}`))

	got := readEvent(t, bob)
	if got.Type != EventMessage || got.From != "alice" || got.Content != "hello" || got.ConversationID != "c1" {
		t.Fatalf("Expected relayed message from alice, got %+v", got)
	}
	if got.SentAt == nil {
		t.Fatal("Expected a server timestamp on the relayed message")
	}
	expectNoEvent(t, bob)

	ack := readEvent(t, alice)
	if ack.Type != EventMessageSent || ack.ConversationID != "c1" {
		t.Fatalf("Expected message_sent ack, got %+v", ack)
	}
	expectNoEvent(t, alice)
}

// TestHubChatRequiresLiveMembership verifies that a sender who never joined
// the conversation's live set is refused.
func TestHubChatRequiresLiveMembership(t *testing.T) {
	h := newTestHub()
	alice := connectUser(t, h, "alice")
	bob := connectUser(t, h, "bob")
	drainEvents(alice)
	joinConversation(t, h, bob, "c1")

	h.HandleMessage(alice, []byte(`{"type":"message","conversationId":"c1","content":"hi"}`))
	if ev := readEvent(t, alice); ev.Type != EventError || ev.Code != ErrCodeUnauthorizedTarget {
		t.Fatalf("Expected unauthorized_target error, got %+v", ev)
	}
	expectNoEvent(t, bob)
}

// TestHubChatDirectReceiver verifies that an explicitly named receiver is
// reached through the registry even without a live membership, and that a
// receiver who is also a member gets exactly one copy.
func TestHubChatDirectReceiver(t *testing.T) {
	h := newTestHub()
	alice := connectUser(t, h, "alice")
	bob := connectUser(t, h, "bob")
	drainEvents(alice)
	joinConversation(t, h, alice, "c1")

	// Bob is connected but never joined c1.
	h.HandleMessage(alice, []byte(`{"type":"message","conversationId":"c1","content":"direct","receiverId":"bob"}`))
	if got := readEvent(t, bob); got.Type != EventMessage || got.From != "alice" {
		t.Fatalf("Expected direct delivery to bob, got %+v", got)
	}
	expectNoEvent(t, bob)
	drainEvents(alice)

	// Joined and named: still one copy.
	joinConversation(t, h, bob, "c1")
	h.HandleMessage(alice, []byte(`{"type":"message","conversationId":"c1","content":"again","receiverId":"bob"}`))
	if got := readEvent(t, bob); got.Type != EventMessage || got.Content != "again" {
		t.Fatalf("Expected one relayed copy, got %+v", got)
	}
	expectNoEvent(t, bob)
}

// TestHubMultiDeviceDelivery verifies that every live connection of a member
// receives its own copy.
func TestHubMultiDeviceDelivery(t *testing.T) {
	h := newTestHub()
	alice := connectUser(t, h, "alice")
	bob1 := connectUser(t, h, "bob")
	bob2 := connectUser(t, h, "bob")
	drainEvents(alice)

	joinConversation(t, h, alice, "c1")
	joinConversation(t, h, bob1, "c1")
	joinConversation(t, h, bob2, "c1")

	h.HandleMessage(alice, []byte(`{"type":"message","conversationId":"c1","content":"fanout"}`))
	for _, dev := range []*Client{bob1, bob2} {
		if got := readEvent(t, dev); got.Type != EventMessage || got.Content != "fanout" {
			t.Fatalf("Expected a copy per device, got %+v", got)
		}
		expectNoEvent(t, dev)
	}
}

// TestHubSlowConsumerDropped verifies the soft-failure contract: a recipient
// whose buffer is full loses the frame and is queued for cleanup, without
// affecting delivery to anyone else.
func TestHubSlowConsumerDropped(t *testing.T) {
	h := newTestHub()
	alice := connectUser(t, h, "alice")
	bob := connectUser(t, h, "bob")
	drainEvents(alice)

	slow := &Client{send: make(chan []byte, 2)}
	if !h.HandleMessage(slow, []byte(`{"type":"auth","token":"carol"}`)) {
		t.Fatal("Expected admission for carol")
	}
	drainEvents(slow)
	drainEvents(alice)
	drainEvents(bob)

	joinConversation(t, h, alice, "c1")
	joinConversation(t, h, bob, "c1")
	h.HandleMessage(slow, []byte(`{"type":"join","conversationId":"c1"}`))
	drainEvents(slow)

	// Fill carol's two-slot buffer, then overflow it.
	for i := 0; i < 3; i++ {
		h.HandleMessage(alice, []byte(`{"type":"message","conversationId":"c1","content":"m"}`))
	}

	for i := 0; i < 3; i++ {
		if got := readEvent(t, bob); got.Type != EventMessage {
			t.Fatalf("Expected healthy recipient to get every frame, got %+v", got)
		}
	}

	select {
	case dead := <-h.unregister:
		if dead != slow {
			t.Fatal("Expected the slow consumer to be queued for cleanup")
		}
	default:
		t.Fatal("Expected a dead connection on the unregister queue")
	}
}

// TestHubTypingFanout verifies that typing state reaches the conversation's
// other members but never any of the sender's own connections.
func TestHubTypingFanout(t *testing.T) {
	h := newTestHub()
	alice1 := connectUser(t, h, "alice")
	alice2 := connectUser(t, h, "alice")
	bob := connectUser(t, h, "bob")
	drainEvents(alice1)
	drainEvents(alice2)

	joinConversation(t, h, alice1, "c1")
	joinConversation(t, h, alice2, "c1")
	joinConversation(t, h, bob, "c1")

	h.HandleMessage(alice1, []byte(`{"type":"typing","conversationId":"c1","isTyping":true}`))

	got := readEvent(t, bob)
	if got.Type != EventTyping || got.From != "alice" || got.IsTyping == nil || !*got.IsTyping {
		t.Fatalf("Expected typing-on from alice, got %+v", got)
	}
	expectNoEvent(t, alice1)
	expectNoEvent(t, alice2)

	if rec, _ := h.Presence("alice"); rec.TypingIn != "c1" {
		t.Fatalf("Expected typing pointer c1, got %q", rec.TypingIn)
	}

	h.HandleMessage(alice1, []byte(`{"type":"typing","conversationId":"c1","isTyping":false}`))
	got = readEvent(t, bob)
	if got.IsTyping == nil || *got.IsTyping {
		t.Fatalf("Expected typing-off, got %+v", got)
	}
	if rec, _ := h.Presence("alice"); rec.TypingIn != "" {
		t.Fatalf("Expected typing pointer cleared, got %q", rec.TypingIn)
	}
}

// TestHubReadForward verifies that a read receipt reaches the author's live
// connections and is silently dropped when the author is offline.
func TestHubReadForward(t *testing.T) {
	h := newTestHub()
	alice := connectUser(t, h, "alice")
	bob := connectUser(t, h, "bob")
	drainEvents(alice)

	h.HandleMessage(bob, []byte(`{"type":"read","conversationId":"c1","messageIds":["m1","m2"],"authorId":"alice"}`))
	got := readEvent(t, alice)
	if got.Type != EventMessageRead || got.ReaderID != "bob" || len(got.MessageIDs) != 2 {
		t.Fatalf("Expected message_read from bob, got %+v", got)
	}

	// Offline author: dropped without an error to the sender.
	h.HandleMessage(bob, []byte(`{"type":"read","conversationId":"c1","messageIds":["m3"],"authorId":"ghost"}`))
	expectNoEvent(t, bob)
}

// TestHubRoomJoinOrdering verifies the join handshake: the joiner receives
// the prior-member snapshot before any existing peer learns of the join, so
// the joiner can never be signaled about a peer it has not seen.
func TestHubRoomJoinOrdering(t *testing.T) {
	h := newTestHub()
	alice := connectUser(t, h, "alice")
	bob := connectUser(t, h, "bob")
	drainEvents(alice)

	h.HandleMessage(alice, []byte(`{"type":"join","roomId":"r1","displayName":"Alice"}`))
	got := readEvent(t, alice)
	if got.Type != EventRoomJoined || got.RoomID != "r1" || len(got.Participants) != 0 {
		t.Fatalf("Expected empty room snapshot for first joiner, got %+v", got)
	}

	h.HandleMessage(bob, []byte(`{"type":"join","roomId":"r1"}`))
	got = readEvent(t, bob)
	if got.Type != EventRoomJoined || len(got.Participants) != 1 || got.Participants[0].UserID != "alice" {
		t.Fatalf("Expected snapshot [alice] as bob's first event, got %+v", got)
	}
	expectNoEvent(t, bob)

	// Display name defaults to the user id when the joiner names none.
	got = readEvent(t, alice)
	if got.Type != EventUserJoined || got.UserID != "bob" || got.DisplayName != "bob" {
		t.Fatalf("Expected user-joined bob, got %+v", got)
	}
}

// TestHubSignalRelay verifies targeted signal forwarding: the sender stamp
// is the authenticated identity, a non-member sender is refused, and an
// absent target means the signal is dropped.
func TestHubSignalRelay(t *testing.T) {
	h := newTestHub()
	alice := connectUser(t, h, "alice")
	bob := connectUser(t, h, "bob")
	carol := connectUser(t, h, "carol")
	drainEvents(alice)
	drainEvents(bob)

	h.HandleMessage(alice, []byte(`{"type":"join","roomId":"r1"}`))
	h.HandleMessage(bob, []byte(`{"type":"join","roomId":"r1"}`))
	drainEvents(alice)
	drainEvents(bob)

	// The forwarded envelope names the authenticated sender, regardless of
	// anything the sender put in the payload.
	h.HandleMessage(bob, []byte(`{"type":"offer","roomId":"r1","targetId":"alice","data":{"sdp":"x","from":"mallory"}}`))
	got := readEvent(t, alice)
	if got.Type != EventOffer || got.From != "bob" || got.RoomID != "r1" {
		t.Fatalf("Expected offer stamped from bob, got %+v", got)
	}
	if string(got.Data) != `{"sdp":"x","from":"mallory"}` {
		t.Fatalf("Expected opaque payload to pass through, got %s", got.Data)
	}
	expectNoEvent(t, bob)

	// Not in the room: refused.
	h.HandleMessage(carol, []byte(`{"type":"answer","roomId":"r1","targetId":"alice","data":{}}`))
	if ev := readEvent(t, carol); ev.Type != EventError || ev.Code != ErrCodeUnauthorizedTarget {
		t.Fatalf("Expected unauthorized_target for outsider, got %+v", ev)
	}
	expectNoEvent(t, alice)

	// Target not in the room: dropped, no error.
	h.HandleMessage(bob, []byte(`{"type":"ice-candidate","roomId":"r1","targetId":"ghost","data":{}}`))
	expectNoEvent(t, bob)
}

// TestHubGetPeers verifies the member snapshot reply.
func TestHubGetPeers(t *testing.T) {
	h := newTestHub()
	alice := connectUser(t, h, "alice")
	bob := connectUser(t, h, "bob")
	drainEvents(alice)

	h.HandleMessage(alice, []byte(`{"type":"join","roomId":"r1","displayName":"Alice"}`))
	h.HandleMessage(bob, []byte(`{"type":"join","roomId":"r1","displayName":"Bob"}`))
	drainEvents(alice)
	drainEvents(bob)

	h.HandleMessage(bob, []byte(`{"type":"get-peers","roomId":"r1"}`))
	got := readEvent(t, bob)
	if got.Type != EventPeers || len(got.Participants) != 2 {
		t.Fatalf("Expected 2 peers, got %+v", got)
	}
}

// TestHubLeaveRoom verifies that remaining members learn of a leave and that
// an emptied room disappears without a broadcast.
func TestHubLeaveRoom(t *testing.T) {
	h := newTestHub()
	alice := connectUser(t, h, "alice")
	bob := connectUser(t, h, "bob")
	drainEvents(alice)

	h.HandleMessage(alice, []byte(`{"type":"join","roomId":"r1"}`))
	h.HandleMessage(bob, []byte(`{"type":"join","roomId":"r1"}`))
	drainEvents(alice)
	drainEvents(bob)

	h.HandleMessage(bob, []byte(`{"type":"leave","roomId":"r1"}`))
	got := readEvent(t, alice)
	if got.Type != EventUserLeft || got.UserID != "bob" {
		t.Fatalf("Expected user-left bob, got %+v", got)
	}

	h.HandleMessage(alice, []byte(`{"type":"leave","roomId":"r1"}`))
	expectNoEvent(t, alice)
	if h.rooms.Exists("r1") {
		t.Fatal("Expected emptied room to be discarded")
	}
}

// TestHubLeaveRoomIdempotent verifies that a repeated leave, or a leave
// from a connection that never joined the room, broadcasts nothing: only a
// departure that actually removes a member is announced.
func TestHubLeaveRoomIdempotent(t *testing.T) {
	h := newTestHub()
	alice := connectUser(t, h, "alice")
	bob := connectUser(t, h, "bob")
	carol := connectUser(t, h, "carol")
	drainEvents(alice)
	drainEvents(bob)

	h.HandleMessage(alice, []byte(`{"type":"join","roomId":"r1"}`))
	h.HandleMessage(bob, []byte(`{"type":"join","roomId":"r1"}`))
	drainEvents(alice)
	drainEvents(bob)

	h.HandleMessage(bob, []byte(`{"type":"leave","roomId":"r1"}`))
	if got := readEvent(t, alice); got.Type != EventUserLeft || got.UserID != "bob" {
		t.Fatalf("Expected one user-left for bob, got %+v", got)
	}

	h.HandleMessage(bob, []byte(`{"type":"leave","roomId":"r1"}`))
	expectNoEvent(t, alice)

	// Carol was never in the room; her leave must not be announced either.
	h.HandleMessage(carol, []byte(`{"type":"leave","roomId":"r1"}`))
	expectNoEvent(t, alice)
	expectNoEvent(t, carol)
}

// TestHubPresenceTransitions verifies that only the first connection and the
// last disconnection of a user are announced to others.
func TestHubPresenceTransitions(t *testing.T) {
	h := newTestHub()
	alice := connectUser(t, h, "alice")

	bob1 := connectUser(t, h, "bob")
	got := readEvent(t, alice)
	if got.Type != EventPresence || got.UserID != "bob" || got.Online == nil || !*got.Online {
		t.Fatalf("Expected presence online for bob, got %+v", got)
	}

	// A second device is not a transition.
	bob2 := connectUser(t, h, "bob")
	expectNoEvent(t, alice)

	h.disconnect(bob1)
	expectNoEvent(t, alice)

	h.disconnect(bob2)
	got = readEvent(t, alice)
	if got.Type != EventPresence || got.UserID != "bob" || got.Online == nil || *got.Online {
		t.Fatalf("Expected presence offline for bob, got %+v", got)
	}

	if rec, ok := h.Presence("bob"); !ok || rec.Online {
		t.Fatal("Expected bob's record to show offline with last-seen")
	}
}

// TestHubDisconnectCleanup verifies that an abrupt disconnect removes every
// trace of the connection: registry entry, conversation and room
// memberships, room notifications, and the presence transition. Running the
// cleanup twice must be harmless.
func TestHubDisconnectCleanup(t *testing.T) {
	h := newTestHub()
	alice := connectUser(t, h, "alice")
	bob := connectUser(t, h, "bob")
	drainEvents(alice)

	joinConversation(t, h, alice, "c1")
	h.HandleMessage(alice, []byte(`{"type":"join","roomId":"r1"}`))
	h.HandleMessage(bob, []byte(`{"type":"join","roomId":"r1"}`))
	drainEvents(alice)
	drainEvents(bob)

	aliceConnID := alice.id
	h.disconnect(alice)

	if _, ok := h.registry.UserFor(aliceConnID); ok {
		t.Fatal("Expected registry entry to be gone")
	}
	if h.conversations.Contains("c1", aliceConnID) {
		t.Fatal("Expected conversation membership to be gone")
	}
	if h.rooms.Contains("r1", aliceConnID) {
		t.Fatal("Expected room membership to be gone")
	}

	got := readEvent(t, bob)
	if got.Type != EventUserLeft || got.UserID != "alice" || got.RoomID != "r1" {
		t.Fatalf("Expected user-left alice, got %+v", got)
	}
	got = readEvent(t, bob)
	if got.Type != EventPresence || got.UserID != "alice" || got.Online == nil || *got.Online {
		t.Fatalf("Expected presence offline for alice, got %+v", got)
	}

	if _, open := <-alice.send; open {
		t.Fatal("Expected the send channel to be closed")
	}

	// Idempotent: a second pass finds nothing to clean up.
	h.disconnect(alice)
	expectNoEvent(t, bob)
}

// TestHubDisconnectUnauthenticated verifies cleanup for a connection that
// never presented a credential.
func TestHubDisconnectUnauthenticated(t *testing.T) {
	h := newTestHub()
	c := &Client{send: make(chan []byte, 1)}
	h.disconnect(c)
	if _, open := <-c.send; open {
		t.Fatal("Expected the send channel to be closed")
	}
}

// TestHubSendToUser verifies the server-initiated push used by the REST
// layer, and the online-user snapshot.
func TestHubSendToUser(t *testing.T) {
	h := newTestHub()
	bob1 := connectUser(t, h, "bob")
	bob2 := connectUser(t, h, "bob")

	if n := h.SendToUser("bob", []byte(`{"type":"message"}`)); n != 2 {
		t.Fatalf("Expected delivery to 2 connections, got %d", n)
	}
	readEvent(t, bob1)
	readEvent(t, bob2)

	if n := h.SendToUser("ghost", []byte(`{"type":"message"}`)); n != 0 {
		t.Fatalf("Expected no delivery for an offline user, got %d", n)
	}

	online := h.GetOnlineUsers()
	if len(online) != 1 || online[0] != "bob" {
		t.Fatalf("Expected online users [bob], got %v", online)
	}
}

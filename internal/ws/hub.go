package ws

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"EduConnectPlatform/internal/auth"
)

// Hub routes chat and signaling events between live connections. It owns
// the connection registry, the live membership stores for conversations and
// rooms, and the presence tracker. The hub is a relay, not a message queue:
// delivery is best-effort to currently-connected recipients, and durable
// history lives in the database behind the REST API.
type Hub struct {
	registry      *Registry
	conversations *GroupStore
	rooms         *GroupStore
	presence      *PresenceTracker
	verifier      auth.Verifier

	unregister chan *Client
	done       chan struct{}

	allowedOrigins []string
	idleTimeout    time.Duration
}

// NewHub creates a hub. idleTimeout of zero disables the idle janitor.
func NewHub(verifier auth.Verifier, allowedOrigins []string, idleTimeout time.Duration) *Hub {
	return &Hub{
		registry:       NewRegistry(),
		conversations:  NewGroupStore(false),
		rooms:          NewGroupStore(true),
		presence:       NewPresenceTracker(),
		verifier:       verifier,
		unregister:     make(chan *Client, 64),
		done:           make(chan struct{}),
		allowedOrigins: allowedOrigins,
		idleTimeout:    idleTimeout,
	}
}

// Run serializes connection cleanup and the idle janitor in a single loop.
// It returns when Close is called.
func (h *Hub) Run() {
	var janitorC <-chan time.Time
	if h.idleTimeout > 0 {
		ticker := time.NewTicker(h.idleTimeout / 2)
		defer ticker.Stop()
		janitorC = ticker.C
	}

	for {
		select {
		case <-h.done:
			return
		case client := <-h.unregister:
			h.disconnect(client)
		case <-janitorC:
			for _, c := range h.registry.IdleClients(time.Now().Add(-h.idleTimeout)) {
				logrus.WithField("user", c.userID).Info("Closing idle connection")
				// Closing the socket ends the read loop, which queues the
				// normal disconnect path.
				c.conn.Close()
			}
		}
	}
}

// Close stops the Run loop.
func (h *Hub) Close() {
	close(h.done)
}

// queueDisconnect schedules cleanup for a client without ever blocking the
// caller, so a dead connection discovered mid-broadcast cannot stall the
// router.
func (h *Hub) queueDisconnect(c *Client) {
	select {
	case h.unregister <- c:
	default:
		go func() { h.unregister <- c }()
	}
}

// disconnect removes a client from the registry and every group it was
// attached to, notifies affected rooms, and emits the offline presence
// transition when the user's last connection is gone. Idempotent: running
// it twice for the same client has the effect of running it once.
func (h *Hub) disconnect(c *Client) {
	if !c.authenticated() {
		close(c.send)
		return
	}

	if !h.registry.Remove(c.id) {
		// Already cleaned up by an earlier pass.
		return
	}

	h.conversations.LeaveAll(c.id)

	for _, roomID := range h.rooms.LeaveAll(c.id) {
		h.broadcastToRoom(roomID, userLeftEvent(roomID, c.userID), "")
	}

	remaining := len(h.registry.ConnectionsFor(c.userID))
	if h.presence.ConnectionClosed(c.userID, remaining) {
		h.broadcastPresence(c.userID, false)
	}

	close(c.send)
	logrus.WithFields(logrus.Fields{
		"user":        c.userID,
		"connections": h.registry.Count(),
	}).Info("Client disconnected")
}

// HandleMessage decodes one inbound frame and dispatches it. It returns
// false when the connection must be closed (failed admission); every other
// failure is reported to the offending connection only.
func (h *Hub) HandleMessage(c *Client, raw []byte) bool {
	ev, err := ParseEvent(raw)
	if err != nil {
		c.enqueue(errorEvent(ErrCodeMalformedEvent, err.Error()))
		return true
	}

	if a, ok := ev.(AuthEvent); ok {
		return h.handleAuth(c, a)
	}

	if !c.authenticated() {
		c.enqueue(errorEvent(ErrCodeAuthRequired, "authenticate before sending events"))
		return true
	}

	h.registry.Touch(c.id)

	switch ev := ev.(type) {
	case MessageEvent:
		h.handleChatMessage(c, ev)
	case TypingEvent:
		h.handleTyping(c, ev)
	case ReadEvent:
		h.handleRead(c, ev)
	case JoinEvent:
		h.handleJoin(c, ev)
	case LeaveEvent:
		h.handleLeave(c, ev)
	case SignalEvent:
		h.handleSignal(c, ev)
	case GetPeersEvent:
		h.handleGetPeers(c, ev)
	}
	return true
}

// handleAuth is the session gate. The credential is verified before the
// connection is admitted into the registry; a bad credential refuses and
// closes the connection.
func (h *Hub) handleAuth(c *Client, ev AuthEvent) bool {
	if c.authenticated() {
		c.enqueue(errorEvent(ErrCodeMalformedEvent, "already authenticated"))
		return true
	}

	claims, err := h.verifier.Verify(ev.Token)
	if err != nil {
		logrus.WithError(err).Warn("WebSocket admission refused")
		c.enqueue(errorEvent(ErrCodeAuthFailed, "invalid credential"))
		return false
	}

	c.userID = claims.UserID
	h.registry.Admit(claims.UserID, c)
	if c.conn != nil {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}

	if h.presence.ConnectionOpened(c.userID) {
		h.broadcastPresence(c.userID, true)
	}

	c.enqueue(authSuccessEvent(c.userID, c.id))
	logrus.WithFields(logrus.Fields{
		"user":        c.userID,
		"connections": h.registry.Count(),
	}).Info("Client authenticated")
	return true
}

// handleChatMessage relays a chat message to the conversation's live
// members (and an explicitly named receiver) and acknowledges the hand-off
// to the sender. Persistence is the REST layer's job, not the hub's.
func (h *Hub) handleChatMessage(c *Client, ev MessageEvent) {
	if !h.conversations.Contains(ev.ConversationID, c.id) {
		c.enqueue(errorEvent(ErrCodeUnauthorizedTarget, "not a live member of this conversation"))
		return
	}

	now := time.Now()
	payload := messageEvent(ev.ConversationID, c.userID, ev.Content, now)

	delivered := make(map[string]bool)
	for _, m := range h.conversations.Members(ev.ConversationID) {
		if m.ConnID == c.id || delivered[m.ConnID] {
			continue
		}
		delivered[m.ConnID] = true
		h.deliver(m.ConnID, payload)
	}

	// A named receiver gets the message even when connected without having
	// joined the conversation's live set.
	if ev.ReceiverID != "" && ev.ReceiverID != c.userID {
		for _, connID := range h.registry.ConnectionsFor(ev.ReceiverID) {
			if connID == c.id || delivered[connID] {
				continue
			}
			delivered[connID] = true
			h.deliver(connID, payload)
		}
	}

	h.deliver(c.id, messageSentEvent(ev.ConversationID, ev.Content, now))
}

// handleTyping fans the sender's typing state out to the conversation's
// other live members. Latest state wins; nothing is queued.
func (h *Hub) handleTyping(c *Client, ev TypingEvent) {
	if !h.conversations.Contains(ev.ConversationID, c.id) {
		c.enqueue(errorEvent(ErrCodeUnauthorizedTarget, "not a live member of this conversation"))
		return
	}

	h.presence.SetTyping(c.userID, ev.ConversationID, ev.IsTyping)

	payload := typingEvent(ev.ConversationID, c.userID, ev.IsTyping)
	for _, m := range h.conversations.Members(ev.ConversationID) {
		if m.UserID == c.userID {
			continue
		}
		h.deliver(m.ConnID, payload)
	}
}

// handleRead forwards a read notification to the live connections of the
// messages' author. The hub does not validate the batch against message
// history; durable read state is recorded through the REST API. An author
// with no live connection means the receipt is dropped.
func (h *Hub) handleRead(c *Client, ev ReadEvent) {
	payload := messageReadEvent(ev.ConversationID, c.userID, ev.MessageIDs)
	for _, connID := range h.registry.ConnectionsFor(ev.AuthorID) {
		h.deliver(connID, payload)
	}
}

// handleJoin attaches the sender to a signaling room or a conversation's
// live member set. For rooms the joiner receives the prior member snapshot
// before any peer is told about the join, so a signal naming a snapshot
// peer can only reach the joiner after the snapshot itself.
func (h *Hub) handleJoin(c *Client, ev JoinEvent) {
	if ev.RoomID != "" {
		name := ev.DisplayName
		if name == "" {
			name = c.userID
		}
		c.displayName = name

		prior := h.rooms.Join(ev.RoomID, c.userID, c.id, name)
		h.deliver(c.id, roomJoinedEvent(ev.RoomID, prior))
		for _, m := range prior {
			h.deliver(m.ConnID, userJoinedEvent(ev.RoomID, c.userID, name))
		}
		logrus.WithFields(logrus.Fields{"room": ev.RoomID, "user": c.userID}).Debug("Peer joined room")
		return
	}

	prior := h.conversations.Join(ev.ConversationID, c.userID, c.id, ev.DisplayName)
	h.deliver(c.id, conversationJoinedEvent(ev.ConversationID, prior))
}

// handleLeave detaches the sender from a room or conversation. An empty
// room is discarded by the membership store; remaining members are told
// who left. A repeated leave, or a leave for a room never joined, removes
// nothing and must broadcast nothing.
func (h *Hub) handleLeave(c *Client, ev LeaveEvent) {
	if ev.RoomID != "" {
		if removed, emptied := h.rooms.Leave(ev.RoomID, c.id); removed && !emptied {
			h.broadcastToRoom(ev.RoomID, userLeftEvent(ev.RoomID, c.userID), "")
		}
		return
	}
	h.conversations.Leave(ev.ConversationID, c.id)
}

// handleSignal relays an offer, answer or ICE candidate to its one explicit
// target. The sender identity stamped on the forwarded envelope is the
// authenticated user, never a sender-supplied field, so peers cannot spoof
// each other. A target that is not in the room means the event is dropped.
func (h *Hub) handleSignal(c *Client, ev SignalEvent) {
	if !h.rooms.Contains(ev.RoomID, c.id) {
		c.enqueue(errorEvent(ErrCodeUnauthorizedTarget, "not a member of this room"))
		return
	}

	targets := h.rooms.UserMembers(ev.RoomID, ev.TargetID)
	if len(targets) == 0 {
		logrus.WithFields(logrus.Fields{
			"room":   ev.RoomID,
			"target": ev.TargetID,
			"kind":   ev.Kind,
		}).Debug("Dropping signal for absent target")
		return
	}

	payload := signalForwardEvent(ev.Kind, ev.RoomID, c.userID, ev.Data)
	for _, m := range targets {
		h.deliver(m.ConnID, payload)
	}
}

// handleGetPeers replies with the room's current member snapshot.
func (h *Hub) handleGetPeers(c *Client, ev GetPeersEvent) {
	h.deliver(c.id, peersEvent(ev.RoomID, h.rooms.Members(ev.RoomID)))
}

// deliver sends a payload to one registered connection. A failed send is
// swallowed after queueing the dead connection for cleanup; at-most-once
// best-effort delivery is the contract.
func (h *Hub) deliver(connID string, payload []byte) bool {
	ok, dead := h.registry.Send(connID, payload)
	if dead != nil {
		h.queueDisconnect(dead)
	}
	return ok
}

// broadcastToRoom sends a payload to every current member of a room,
// optionally skipping one connection.
func (h *Hub) broadcastToRoom(roomID string, payload []byte, exceptConnID string) {
	for _, m := range h.rooms.Members(roomID) {
		if m.ConnID == exceptConnID {
			continue
		}
		h.deliver(m.ConnID, payload)
	}
}

// broadcastPresence announces an online/offline transition to every
// connected user other than the one transitioning.
func (h *Hub) broadcastPresence(userID string, online bool) {
	payload := presenceEvent(userID, online)
	for _, connID := range h.registry.ConnectionIDs(userID) {
		h.deliver(connID, payload)
	}
}

// SendToUser pushes a payload to every live connection of a user. It is the
// server-initiated path used by the REST layer after persisting a message.
// Returns the number of connections the payload was handed to.
func (h *Hub) SendToUser(userID string, payload []byte) int {
	delivered := 0
	for _, connID := range h.registry.ConnectionsFor(userID) {
		if h.deliver(connID, payload) {
			delivered++
		}
	}
	return delivered
}

// GetOnlineUsers returns the ids of all users with a live connection.
func (h *Hub) GetOnlineUsers() []string {
	return h.registry.OnlineUsers()
}

// Presence returns a user's derived presence record.
func (h *Hub) Presence(userID string) (PresenceRecord, bool) {
	return h.presence.Get(userID)
}

// checkOrigin enforces the configured origin allow-list on upgrades.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

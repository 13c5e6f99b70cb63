package ws

import (
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"
)

// Inbound event types.
const (
	EventAuth         = "auth"
	EventMessage      = "message"
	EventTyping       = "typing"
	EventRead         = "read"
	EventJoin         = "join"
	EventLeave        = "leave"
	EventOffer        = "offer"
	EventAnswer       = "answer"
	EventICECandidate = "ice-candidate"
	EventGetPeers     = "get-peers"
)

// Outbound event types.
const (
	EventAuthSuccess = "auth-success"
	EventMessageSent = "message_sent"
	EventMessageRead = "message_read"
	EventPresence    = "presence"
	EventRoomJoined  = "room-joined"
	EventJoined      = "joined"
	EventUserJoined  = "user-joined"
	EventUserLeft    = "user-left"
	EventPeers       = "peers"
	EventError       = "error"
)

// envelope is the raw wire form of every inbound event: a tagged union
// distinguished by the type field.
type envelope struct {
	Type           string          `json:"type"`
	Token          string          `json:"token,omitempty"`
	ConversationID string          `json:"conversationId,omitempty"`
	RoomID         string          `json:"roomId,omitempty"`
	Content        string          `json:"content,omitempty"`
	ReceiverID     string          `json:"receiverId,omitempty"`
	IsTyping       bool            `json:"isTyping,omitempty"`
	MessageIDs     []string        `json:"messageIds,omitempty"`
	AuthorID       string          `json:"authorId,omitempty"`
	DisplayName    string          `json:"displayName,omitempty"`
	TargetID       string          `json:"targetId,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// InboundEvent is the decoded form of a client event. The router pattern
// matches on the concrete type.
type InboundEvent interface {
	isInboundEvent()
}

// AuthEvent carries the credential presented at admission.
type AuthEvent struct {
	Token string
}

// MessageEvent is a chat message addressed to a conversation, optionally
// naming an explicit receiver for direct delivery.
type MessageEvent struct {
	ConversationID string
	Content        string
	ReceiverID     string
}

// TypingEvent toggles the sender's typing indicator in a conversation.
// It is idempotent state, not a log: the latest value wins.
type TypingEvent struct {
	ConversationID string
	IsTyping       bool
}

// ReadEvent acknowledges a batch of messages. AuthorID names the user whose
// messages were read; the hub forwards a notification to that user's live
// connections without consulting message history.
type ReadEvent struct {
	ConversationID string
	MessageIDs     []string
	AuthorID       string
}

// JoinEvent attaches the sender to a signaling room or to a conversation's
// live member set, depending on which id is present.
type JoinEvent struct {
	RoomID         string
	ConversationID string
	DisplayName    string
}

// LeaveEvent detaches the sender from a room or conversation.
type LeaveEvent struct {
	RoomID         string
	ConversationID string
}

// SignalEvent relays a WebRTC negotiation payload (offer, answer or ICE
// candidate) to one explicit target peer in a room.
type SignalEvent struct {
	Kind     string // EventOffer, EventAnswer or EventICECandidate
	RoomID   string
	TargetID string
	Data     json.RawMessage
}

// GetPeersEvent asks for the current member snapshot of a room.
type GetPeersEvent struct {
	RoomID string
}

func (AuthEvent) isInboundEvent()     {}
func (MessageEvent) isInboundEvent()  {}
func (TypingEvent) isInboundEvent()   {}
func (ReadEvent) isInboundEvent()     {}
func (JoinEvent) isInboundEvent()     {}
func (LeaveEvent) isInboundEvent()    {}
func (SignalEvent) isInboundEvent()   {}
func (GetPeersEvent) isInboundEvent() {}

// ParseEvent decodes a raw frame into a typed inbound event, validating
// the fields each event type requires.
func ParseEvent(raw []byte) (InboundEvent, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &MalformedEventError{Reason: "invalid JSON payload"}
	}

	switch env.Type {
	case EventAuth:
		if env.Token == "" {
			return nil, &MalformedEventError{Reason: "auth requires a token"}
		}
		return AuthEvent{Token: env.Token}, nil

	case EventMessage:
		if env.ConversationID == "" {
			return nil, &MalformedEventError{Reason: "message requires conversationId"}
		}
		if env.Content == "" {
			return nil, &MalformedEventError{Reason: "message requires content"}
		}
		return MessageEvent{
			ConversationID: env.ConversationID,
			Content:        env.Content,
			ReceiverID:     env.ReceiverID,
		}, nil

	case EventTyping:
		if env.ConversationID == "" {
			return nil, &MalformedEventError{Reason: "typing requires conversationId"}
		}
		return TypingEvent{ConversationID: env.ConversationID, IsTyping: env.IsTyping}, nil

	case EventRead:
		if len(env.MessageIDs) == 0 {
			return nil, &MalformedEventError{Reason: "read requires messageIds"}
		}
		if env.AuthorID == "" {
			return nil, &MalformedEventError{Reason: "read requires authorId"}
		}
		return ReadEvent{
			ConversationID: env.ConversationID,
			MessageIDs:     env.MessageIDs,
			AuthorID:       env.AuthorID,
		}, nil

	case EventJoin:
		if env.RoomID == "" && env.ConversationID == "" {
			return nil, &MalformedEventError{Reason: "join requires roomId or conversationId"}
		}
		return JoinEvent{
			RoomID:         env.RoomID,
			ConversationID: env.ConversationID,
			DisplayName:    env.DisplayName,
		}, nil

	case EventLeave:
		if env.RoomID == "" && env.ConversationID == "" {
			return nil, &MalformedEventError{Reason: "leave requires roomId or conversationId"}
		}
		return LeaveEvent{RoomID: env.RoomID, ConversationID: env.ConversationID}, nil

	case EventOffer, EventAnswer, EventICECandidate:
		if env.RoomID == "" {
			return nil, &MalformedEventError{Reason: env.Type + " requires roomId"}
		}
		if env.TargetID == "" {
			return nil, &MalformedEventError{Reason: env.Type + " requires targetId"}
		}
		return SignalEvent{
			Kind:     env.Type,
			RoomID:   env.RoomID,
			TargetID: env.TargetID,
			Data:     env.Data,
		}, nil

	case EventGetPeers:
		if env.RoomID == "" {
			return nil, &MalformedEventError{Reason: "get-peers requires roomId"}
		}
		return GetPeersEvent{RoomID: env.RoomID}, nil
	}

	return nil, &MalformedEventError{Reason: "unknown event type: " + env.Type}
}

// Outbound payloads.

type outboundEvent struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversationId,omitempty"`
	RoomID         string          `json:"roomId,omitempty"`
	From           string          `json:"from,omitempty"`
	Content        string          `json:"content,omitempty"`
	IsTyping       *bool           `json:"isTyping,omitempty"`
	MessageIDs     []string        `json:"messageIds,omitempty"`
	ReaderID       string          `json:"readerId,omitempty"`
	UserID         string          `json:"userId,omitempty"`
	ConnectionID   string          `json:"connectionId,omitempty"`
	DisplayName    string          `json:"displayName,omitempty"`
	Online         *bool           `json:"online,omitempty"`
	Participants   []Member        `json:"participants,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
	Code           string          `json:"code,omitempty"`
	Message        string          `json:"message,omitempty"`
	SentAt         *time.Time      `json:"sentAt,omitempty"`
}

func encode(ev outboundEvent) []byte {
	b, err := json.Marshal(ev)
	if err != nil {
		logrus.WithError(err).Error("Failed to encode outbound event")
		return nil
	}
	return b
}

func authSuccessEvent(userID, connID string) []byte {
	return encode(outboundEvent{Type: EventAuthSuccess, UserID: userID, ConnectionID: connID})
}

func messageEvent(conversationID, from, content string, sentAt time.Time) []byte {
	return encode(outboundEvent{
		Type:           EventMessage,
		ConversationID: conversationID,
		From:           from,
		Content:        content,
		SentAt:         &sentAt,
	})
}

func messageSentEvent(conversationID, content string, sentAt time.Time) []byte {
	return encode(outboundEvent{
		Type:           EventMessageSent,
		ConversationID: conversationID,
		Content:        content,
		SentAt:         &sentAt,
	})
}

func typingEvent(conversationID, from string, isTyping bool) []byte {
	return encode(outboundEvent{
		Type:           EventTyping,
		ConversationID: conversationID,
		From:           from,
		IsTyping:       &isTyping,
	})
}

func messageReadEvent(conversationID, readerID string, messageIDs []string) []byte {
	return encode(outboundEvent{
		Type:           EventMessageRead,
		ConversationID: conversationID,
		ReaderID:       readerID,
		MessageIDs:     messageIDs,
	})
}

func presenceEvent(userID string, online bool) []byte {
	return encode(outboundEvent{Type: EventPresence, UserID: userID, Online: &online})
}

func roomJoinedEvent(roomID string, participants []Member) []byte {
	if participants == nil {
		participants = []Member{}
	}
	return encode(outboundEvent{Type: EventRoomJoined, RoomID: roomID, Participants: participants})
}

func conversationJoinedEvent(conversationID string, participants []Member) []byte {
	if participants == nil {
		participants = []Member{}
	}
	return encode(outboundEvent{
		Type:           EventJoined,
		ConversationID: conversationID,
		Participants:   participants,
	})
}

func userJoinedEvent(roomID, userID, displayName string) []byte {
	return encode(outboundEvent{
		Type:        EventUserJoined,
		RoomID:      roomID,
		UserID:      userID,
		DisplayName: displayName,
	})
}

func userLeftEvent(roomID, userID string) []byte {
	return encode(outboundEvent{Type: EventUserLeft, RoomID: roomID, UserID: userID})
}

func peersEvent(roomID string, participants []Member) []byte {
	if participants == nil {
		participants = []Member{}
	}
	return encode(outboundEvent{Type: EventPeers, RoomID: roomID, Participants: participants})
}

func signalForwardEvent(kind, roomID, from string, data json.RawMessage) []byte {
	return encode(outboundEvent{Type: kind, RoomID: roomID, From: from, Data: data})
}

func errorEvent(code, message string) []byte {
	return encode(outboundEvent{Type: EventError, Code: code, Message: message})
}

// MessagePush builds the payload for a server-initiated message push, used
// by the REST layer after persisting a message.
func MessagePush(conversationID, messageID, from, content string, sentAt time.Time) []byte {
	return encode(outboundEvent{
		Type:           EventMessage,
		ConversationID: conversationID,
		MessageIDs:     []string{messageID},
		From:           from,
		Content:        content,
		SentAt:         &sentAt,
	})
}

// ReadPush builds the payload notifying an author that their messages were
// read, used by the REST layer after recording durable read state.
func ReadPush(conversationID, readerID string, messageIDs []string) []byte {
	return encode(outboundEvent{
		Type:           EventMessageRead,
		ConversationID: conversationID,
		ReaderID:       readerID,
		MessageIDs:     messageIDs,
	})
}

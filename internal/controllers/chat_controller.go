package controllers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"EduConnectPlatform/internal/models"
	"EduConnectPlatform/internal/ws"
)

// ChatController handles conversation and message history endpoints. It is
// the durable side of chat: messages are persisted here and pushed to live
// recipients through the hub, which itself never touches the database.
type ChatController struct {
	App *models.App
}

// NewChatController creates a new ChatController.
func NewChatController(app *models.App) *ChatController {
	return &ChatController{App: app}
}

// CreateConversation starts a new conversation with the given participants.
func (cc *ChatController) CreateConversation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		models.RespondError(w, http.StatusMethodNotAllowed, "Invalid request method")
		return
	}

	user, err := cc.App.GetUserFromSession(r)
	if err != nil {
		models.RespondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	var req struct {
		Title          string   `json:"title"`
		CourseID       string   `json:"courseId"`
		ParticipantIDs []string `json:"participantIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		models.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		models.RespondError(w, http.StatusBadRequest, "Title cannot be empty")
		return
	}

	conv, err := cc.App.CreateConversation(req.Title, req.CourseID, user.ID, req.ParticipantIDs)
	if err != nil {
		models.RespondError(w, http.StatusInternalServerError, "Error creating conversation")
		return
	}

	cc.App.LogActivity(fmt.Sprintf("User '%s' created conversation '%s'.", user.Username, conv.Title))
	models.RespondJSON(w, http.StatusOK, conv)
}

// ListConversations returns the conversations the caller participates in.
func (cc *ChatController) ListConversations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		models.RespondError(w, http.StatusMethodNotAllowed, "Invalid request method")
		return
	}

	user, err := cc.App.GetUserFromSession(r)
	if err != nil {
		models.RespondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	convs, err := cc.App.ListConversationsForUser(user.ID)
	if err != nil {
		models.RespondError(w, http.StatusInternalServerError, "Error retrieving conversations")
		return
	}
	models.RespondJSON(w, http.StatusOK, convs)
}

// GetMessages returns a conversation's history. Clients use this to
// reconcile events missed while disconnected; the hub only relays to live
// connections.
func (cc *ChatController) GetMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		models.RespondError(w, http.StatusMethodNotAllowed, "Invalid request method")
		return
	}

	user, err := cc.App.GetUserFromSession(r)
	if err != nil {
		models.RespondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	conversationID := r.URL.Query().Get("conversation_id")
	if conversationID == "" {
		models.RespondError(w, http.StatusBadRequest, "conversation_id is required")
		return
	}
	if !cc.App.IsParticipant(conversationID, user.ID) {
		models.RespondError(w, http.StatusForbidden, "Not a participant of this conversation")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	msgs, err := cc.App.ListMessages(conversationID, limit)
	if err != nil {
		models.RespondError(w, http.StatusInternalServerError, "Error retrieving messages")
		return
	}
	models.RespondJSON(w, http.StatusOK, msgs)
}

// SendMessage persists a message and pushes it to every other participant
// with a live connection. Offline participants pick it up from history.
func (cc *ChatController) SendMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		models.RespondError(w, http.StatusMethodNotAllowed, "Invalid request method")
		return
	}

	user, err := cc.App.GetUserFromSession(r)
	if err != nil {
		models.RespondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	var req struct {
		ConversationID string `json:"conversationId"`
		Content        string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		models.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.ConversationID == "" || req.Content == "" {
		models.RespondError(w, http.StatusBadRequest, "conversationId and content are required")
		return
	}

	conv, err := cc.App.GetConversation(req.ConversationID)
	if err != nil {
		models.RespondError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	if !cc.App.IsParticipant(conv.ID, user.ID) {
		models.RespondError(w, http.StatusForbidden, "Not a participant of this conversation")
		return
	}

	msg, err := cc.App.SaveMessage(conv.ID, user.ID, req.Content)
	if err != nil {
		models.RespondError(w, http.StatusInternalServerError, "Error saving message")
		return
	}

	if cc.App.Hub != nil {
		payload := ws.MessagePush(msg.ConversationID, msg.ID, msg.SenderID, msg.Content, msg.CreatedAt)
		for _, participantID := range conv.Participants {
			if participantID == user.ID {
				continue
			}
			cc.App.Hub.SendToUser(participantID, payload)
		}
	}

	models.RespondJSON(w, http.StatusOK, msg)
}

// MarkRead records that the caller has read a batch of messages and
// notifies each message's author if they are connected.
func (cc *ChatController) MarkRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		models.RespondError(w, http.StatusMethodNotAllowed, "Invalid request method")
		return
	}

	user, err := cc.App.GetUserFromSession(r)
	if err != nil {
		models.RespondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	var req struct {
		ConversationID string   `json:"conversationId"`
		MessageIDs     []string `json:"messageIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		models.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.MessageIDs) == 0 {
		models.RespondError(w, http.StatusBadRequest, "messageIds are required")
		return
	}

	byAuthor, err := cc.App.MarkMessagesRead(req.MessageIDs, user.ID)
	if err != nil {
		models.RespondError(w, http.StatusInternalServerError, "Error marking messages read")
		return
	}

	if cc.App.Hub != nil {
		for authorID, ids := range byAuthor {
			cc.App.Hub.SendToUser(authorID, ws.ReadPush(req.ConversationID, user.ID, ids))
		}
	}

	models.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Messages marked as read",
		"updated": len(req.MessageIDs),
	})
}

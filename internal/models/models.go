package models

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"EduConnectPlatform/internal/auth"
	"EduConnectPlatform/internal/ws"
)

// App holds shared resources across the application.
type App struct {
	DB     *sql.DB
	Store  sessions.Store
	Hub    *ws.Hub
	Tokens *auth.TokenService
}

// NewApp creates a new App instance. The hub is attached separately once
// it has been constructed.
func NewApp(db *sql.DB, store sessions.Store) *App {
	return &App{
		DB:    db,
		Store: store,
	}
}

// -------------------------------------
//  Data Structures
// -------------------------------------

// User represents a platform user (student, teacher or admin).
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Conversation is a durable chat thread. The hub only tracks its live
// attendance; the participant list and message history live here.
type Conversation struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CourseID     *string   `json:"course_id,omitempty"`
	CreatedBy    string    `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`
	Participants []string  `json:"participants,omitempty"`
}

// Message is one persisted chat message.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	IsRead         bool      `json:"is_read"`
	CreatedAt      time.Time `json:"created_at"`
}

// Activity represents an audit log entry.
type Activity struct {
	ID        int       `json:"id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// -------------------------------------
//  JSON Response Helpers
// -------------------------------------

func RespondJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func RespondError(w http.ResponseWriter, code int, message string) {
	RespondJSON(w, code, map[string]string{"error": message})
}

// -------------------------------------
//  Password & Session Helpers
// -------------------------------------

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// GetUserFromSession retrieves the authenticated user from the session.
func (app *App) GetUserFromSession(r *http.Request) (User, error) {
	session, err := app.Store.Get(r, "session")
	if err != nil {
		logrus.WithError(err).Warn("Error retrieving session")
		return User{}, errors.New("session retrieval error")
	}

	userID, ok := session.Values["user_id"].(string)
	if !ok || userID == "" {
		return User{}, errors.New("user not logged in or session expired")
	}

	user, err := app.GetUserByID(userID)
	if err != nil {
		return User{}, errors.New("user not found")
	}

	return user, nil
}

// -------------------------------------
//  User Operations
// -------------------------------------

// GetUserByUsername retrieves a user by username from the database.
func (app *App) GetUserByUsername(username string) (User, error) {
	row := app.DB.QueryRow(`
        SELECT id, username, password, role, created_at, updated_at
        FROM users
        WHERE lower(username) = lower($1)
    `, username)
	return scanUser(row)
}

// GetUserByID retrieves a user by id from the database.
func (app *App) GetUserByID(id string) (User, error) {
	row := app.DB.QueryRow(`
        SELECT id, username, password, role, created_at, updated_at
        FROM users
        WHERE id = $1
    `, id)
	return scanUser(row)
}

func scanUser(row *sql.Row) (User, error) {
	var user User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Password,
		&user.Role,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	return user, err
}

// CreateUser inserts a new user and returns it with its generated id.
func (app *App) CreateUser(user User) (User, error) {
	user.ID = uuid.NewString()
	_, err := app.DB.Exec(`
        INSERT INTO users(id, username, password, role)
        VALUES($1, $2, $3, $4)
    `,
		user.ID,
		user.Username,
		user.Password,
		user.Role,
	)
	return user, err
}

// ListUsers returns all users from the database.
func (app *App) ListUsers() ([]User, error) {
	rows, err := app.DB.Query(`
        SELECT id, username, password, role, created_at, updated_at
        FROM users
        ORDER BY username
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(
			&u.ID,
			&u.Username,
			&u.Password,
			&u.Role,
			&u.CreatedAt,
			&u.UpdatedAt,
		); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

// AdminExists checks if there is any admin user.
func (app *App) AdminExists() bool {
	var count int
	row := app.DB.QueryRow("SELECT COUNT(*) FROM users WHERE role = 'admin'")
	if err := row.Scan(&count); err != nil {
		return false
	}
	return count > 0
}

// -------------------------------------
//  Conversation Operations
// -------------------------------------

// CreateConversation inserts a conversation and its participant list. The
// creator is always a participant.
func (app *App) CreateConversation(title, courseID, creatorID string, participantIDs []string) (Conversation, error) {
	conv := Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedBy: creatorID,
	}
	if courseID != "" {
		conv.CourseID = &courseID
	}

	tx, err := app.DB.Begin()
	if err != nil {
		return Conversation{}, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
        INSERT INTO conversations(id, title, course_id, created_by)
        VALUES($1, $2, $3, $4)
    `, conv.ID, conv.Title, conv.CourseID, conv.CreatedBy); err != nil {
		return Conversation{}, err
	}

	seen := map[string]bool{creatorID: true}
	conv.Participants = []string{creatorID}
	for _, id := range participantIDs {
		if !seen[id] {
			seen[id] = true
			conv.Participants = append(conv.Participants, id)
		}
	}
	for _, id := range conv.Participants {
		if _, err := tx.Exec(`
            INSERT INTO conversation_participants(conversation_id, user_id)
            VALUES($1, $2)
        `, conv.ID, id); err != nil {
			return Conversation{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return Conversation{}, err
	}
	return conv, nil
}

// GetConversation retrieves a conversation and its participant list.
func (app *App) GetConversation(id string) (Conversation, error) {
	row := app.DB.QueryRow(`
        SELECT id, title, course_id, created_by, created_at
        FROM conversations
        WHERE id = $1
    `, id)

	var conv Conversation
	if err := row.Scan(&conv.ID, &conv.Title, &conv.CourseID, &conv.CreatedBy, &conv.CreatedAt); err != nil {
		return Conversation{}, err
	}

	rows, err := app.DB.Query(`
        SELECT user_id FROM conversation_participants WHERE conversation_id = $1
    `, id)
	if err != nil {
		return Conversation{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return Conversation{}, err
		}
		conv.Participants = append(conv.Participants, userID)
	}
	return conv, nil
}

// ListConversationsForUser returns every conversation the user participates in.
func (app *App) ListConversationsForUser(userID string) ([]Conversation, error) {
	rows, err := app.DB.Query(`
        SELECT c.id, c.title, c.course_id, c.created_by, c.created_at
        FROM conversations c
        JOIN conversation_participants cp ON cp.conversation_id = c.id
        WHERE cp.user_id = $1
        ORDER BY c.created_at DESC
    `, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Title, &c.CourseID, &c.CreatedBy, &c.CreatedAt); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, nil
}

// AddParticipant adds a user to a conversation's durable member list.
func (app *App) AddParticipant(conversationID, userID string) error {
	_, err := app.DB.Exec(`
        INSERT INTO conversation_participants(conversation_id, user_id)
        VALUES($1, $2)
        ON CONFLICT DO NOTHING
    `, conversationID, userID)
	return err
}

// IsParticipant reports whether a user belongs to a conversation.
func (app *App) IsParticipant(conversationID, userID string) bool {
	var count int
	row := app.DB.QueryRow(`
        SELECT COUNT(*) FROM conversation_participants
        WHERE conversation_id = $1 AND user_id = $2
    `, conversationID, userID)
	if err := row.Scan(&count); err != nil {
		return false
	}
	return count > 0
}

// -------------------------------------
//  Message Operations
// -------------------------------------

// SaveMessage persists a chat message and returns it with id and timestamp.
func (app *App) SaveMessage(conversationID, senderID, content string) (Message, error) {
	msg := Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
	}
	row := app.DB.QueryRow(`
        INSERT INTO messages(id, conversation_id, sender_id, content)
        VALUES($1, $2, $3, $4)
        RETURNING created_at
    `, msg.ID, msg.ConversationID, msg.SenderID, msg.Content)
	if err := row.Scan(&msg.CreatedAt); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// ListMessages returns a conversation's history, oldest first.
func (app *App) ListMessages(conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := app.DB.Query(`
        SELECT id, conversation_id, sender_id, content, is_read, created_at
        FROM messages
        WHERE conversation_id = $1
        ORDER BY created_at ASC
        LIMIT $2
    `, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.IsRead, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// MarkMessagesRead marks a batch of messages as read and returns the ids
// actually updated, grouped under their author for notification.
func (app *App) MarkMessagesRead(messageIDs []string, readerID string) (map[string][]string, error) {
	rows, err := app.DB.Query(`
        UPDATE messages
        SET is_read = TRUE
        WHERE id = ANY($1) AND sender_id <> $2 AND is_read = FALSE
        RETURNING id, sender_id
    `, pq.Array(messageIDs), readerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byAuthor := make(map[string][]string)
	for rows.Next() {
		var id, senderID string
		if err := rows.Scan(&id, &senderID); err != nil {
			return nil, err
		}
		byAuthor[senderID] = append(byAuthor[senderID], id)
	}
	return byAuthor, nil
}

// -------------------------------------
//  Activity Logging
// -------------------------------------

func (app *App) LogActivity(event string) {
	_, err := app.DB.Exec(`
        INSERT INTO activity_log(event, timestamp)
        VALUES($1, CURRENT_TIMESTAMP)
    `, event)
	if err != nil {
		logrus.WithError(err).Warn("Error logging activity")
	}
}

func (app *App) ListActivities() ([]Activity, error) {
	rows, err := app.DB.Query(`
        SELECT id, timestamp, event
        FROM activity_log
        ORDER BY timestamp DESC
        LIMIT 50
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var activities []Activity
	for rows.Next() {
		var a Activity
		if err := rows.Scan(&a.ID, &a.CreatedAt, &a.Message); err != nil {
			continue
		}
		activities = append(activities, a)
	}
	return activities, nil
}

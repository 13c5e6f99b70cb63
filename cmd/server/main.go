package main

import (
	"database/sql"
	"net/http"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/sessions"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"EduConnectPlatform/internal/auth"
	"EduConnectPlatform/internal/config"
	"EduConnectPlatform/internal/controllers"
	"EduConnectPlatform/internal/logging"
	"EduConnectPlatform/internal/middleware"
	"EduConnectPlatform/internal/models"
	"EduConnectPlatform/internal/ws"
)

func main() {
	// Load application configuration (port, database URL, secrets).
	cfg := config.LoadConfig()
	logging.Setup(cfg.LogLevel, cfg.LogFile)

	// Connect to the database.
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logrus.WithError(err).Fatal("Error connecting to database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logrus.WithError(err).Fatal("Error connecting to database")
	}
	logrus.Info("Successfully connected to database")

	runMigrations(db)

	// Initialize the session store and the websocket credential service.
	store := sessions.NewCookieStore([]byte(cfg.SessionKey))
	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL)

	// Initialize the application model (shared context).
	app := models.NewApp(db, store)
	app.Tokens = tokens

	// Start the real-time hub. The token service doubles as the hub's
	// session gate verifier.
	hub := ws.NewHub(tokens, cfg.AllowedOrigins, cfg.IdleTimeout)
	app.Hub = hub
	go hub.Run()

	// Create a new router.
	router := mux.NewRouter()

	// Initialize controllers with the application context.
	authController := controllers.NewAuthController(app)
	userController := controllers.NewUserController(app)
	chatController := controllers.NewChatController(app)
	presenceController := controllers.NewPresenceController(app)
	activityController := controllers.NewActivityController(app)

	router.HandleFunc("/register", authController.Register).Methods("POST")
	router.HandleFunc("/login", authController.Login).Methods("POST")
	router.HandleFunc("/logout", authController.Logout).Methods("POST")
	router.HandleFunc("/ws-token", authController.Token).Methods("GET")

	router.HandleFunc("/user/profile", userController.Profile).Methods("GET")
	router.HandleFunc("/users", userController.ListUsers).Methods("GET")

	router.HandleFunc("/conversations", chatController.ListConversations).Methods("GET")
	router.HandleFunc("/conversations", chatController.CreateConversation).Methods("POST")
	router.HandleFunc("/messages", chatController.GetMessages).Methods("GET")
	router.HandleFunc("/messages", chatController.SendMessage).Methods("POST")
	router.HandleFunc("/messages/read", chatController.MarkRead).Methods("POST")

	router.HandleFunc("/presence/online", presenceController.Online).Methods("GET")
	router.HandleFunc("/presence", presenceController.Get).Methods("GET")

	router.HandleFunc("/activities", activityController.List).Methods("GET")

	// The real-time hub endpoint. Clients authenticate on the socket with
	// the token issued at login.
	router.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(hub, w, r)
	})

	cors := handlers.CORS(
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
		handlers.AllowCredentials(),
	)

	handler := cors(middleware.RateLimitMiddleware(router))

	// Start the HTTP server.
	logrus.WithField("port", cfg.Port).Info("Starting server")
	if err := http.ListenAndServe(":"+cfg.Port, handler); err != nil {
		logrus.WithError(err).Fatal("Server failed")
	}
}

// runMigrations applies any pending schema migrations.
func runMigrations(db *sql.DB) {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		logrus.WithError(err).Fatal("Error preparing migrations")
	}
	m, err := migrate.NewWithDatabaseInstance("file://migrations", "postgres", driver)
	if err != nil {
		logrus.WithError(err).Fatal("Error loading migrations")
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		logrus.WithError(err).Fatal("Error applying migrations")
	}
	logrus.Info("Database schema is up to date")
}

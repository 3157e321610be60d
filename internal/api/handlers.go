package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"svyaz/internal/auth"
	"svyaz/internal/content"
	"svyaz/internal/models"
	"svyaz/internal/ws"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

type contextKey string

const userIDKey contextKey = "userID"

// MessageStore is the history and push subscription side of storage.
type MessageStore interface {
	ListMessages(a, b string, limit int) ([]models.ChatMessage, error)
	MarkRead(readerID, senderID string) (int, error)
	UpsertPushSubscription(userID string, sub models.PushSubscription) error
}

// PresenceView reports who is online.
type PresenceView interface {
	IsOnline(userID string) bool
}

type API struct {
	auth           *auth.AuthService
	store          MessageStore
	presence       PresenceView
	vapidPublicKey string
}

func New(auth *auth.AuthService, store MessageStore, presence PresenceView, vapidPublicKey string) *API {
	return &API{
		auth:           auth,
		store:          store,
		presence:       presence,
		vapidPublicKey: vapidPublicKey,
	}
}

// UserID returns the authenticated user set by RequireAuth.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

func (a *API) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.auth.GetUserID(ws.Token(r))
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	}
}

func (a *API) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest

	// Support both JSON and Form
	if r.Header.Get("Content-Type") == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Failed to parse form", http.StatusBadRequest)
			return
		}
		req.Username = r.FormValue("username")
		req.Password = r.FormValue("password")
	}

	loginResp, userID := a.auth.Login(req)
	if !loginResp.Success {
		slog.Info("login rejected", "username", req.Username)
		writeJSON(w, http.StatusUnauthorized, loginResp)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     ws.TokenName,
		Value:    loginResp.Token,
		HttpOnly: true,
		Path:     "/",
		Expires:  time.Unix(loginResp.TokenExpiry, 0),
	})

	slog.Info("user logged in", "user_id", userID)
	writeJSON(w, http.StatusOK, loginResp)
}

func (a *API) LogoffHandler(w http.ResponseWriter, r *http.Request) {
	if token := ws.Token(r); token != "" {
		_ = a.auth.Logoff(token)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     ws.TokenName,
		Value:    "",
		HttpOnly: true,
		Path:     "/",
		MaxAge:   -1,
	})

	w.WriteHeader(http.StatusOK)
}

func (a *API) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req auth.RegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := content.ValidateUsername(req.Username); err != nil {
		writeJSON(w, http.StatusBadRequest, models.APIResponse{Message: err.Error()})
		return
	}

	user, err := a.auth.AddUser(req.Username, content.SanitizeName(req.DisplayName), req.Password)
	switch {
	case errors.Is(err, auth.ErrUserExists):
		writeJSON(w, http.StatusConflict, models.APIResponse{Message: err.Error()})
		return
	case errors.Is(err, auth.ErrPasswordTooShort):
		writeJSON(w, http.StatusBadRequest, models.APIResponse{Message: err.Error()})
		return
	case err != nil:
		slog.Error("registration failed", "username", req.Username, "error", err)
		writeJSON(w, http.StatusInternalServerError, models.APIResponse{Message: "registration failed"})
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

func (a *API) MeHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := a.auth.GetUser(UserID(r.Context()))
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	user.Online = a.presence.IsOnline(user.ID)
	writeJSON(w, http.StatusOK, user)
}

func (a *API) UsersHandler(w http.ResponseWriter, r *http.Request) {
	users := a.auth.GetUsers()
	for i := range users {
		users[i].Online = a.presence.IsOnline(users[i].ID)
	}
	writeJSON(w, http.StatusOK, users)
}

// MessagesHandler returns the newest messages of the conversation with the
// "with" user in chronological order.
func (a *API) MessagesHandler(w http.ResponseWriter, r *http.Request) {
	other := r.URL.Query().Get("with")
	if other == "" {
		http.Error(w, "with is required", http.StatusBadRequest)
		return
	}

	limit := defaultHistoryLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	messages, err := a.store.ListMessages(UserID(r.Context()), other, limit)
	if err != nil {
		slog.Error("failed to list messages", "user_id", UserID(r.Context()), "with", other, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if messages == nil {
		messages = []models.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, messages)
}

func (a *API) MarkReadHandler(w http.ResponseWriter, r *http.Request) {
	other := r.URL.Query().Get("with")
	if other == "" {
		http.Error(w, "with is required", http.StatusBadRequest)
		return
	}

	updated, err := a.store.MarkRead(UserID(r.Context()), other)
	if err != nil {
		slog.Error("failed to mark messages read", "user_id", UserID(r.Context()), "with", other, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, models.MarkReadResponse{Updated: updated})
}

func (a *API) PushKeyHandler(w http.ResponseWriter, r *http.Request) {
	if a.vapidPublicKey == "" {
		http.Error(w, "Push notifications are disabled", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, models.PushKeyResponse{PublicKey: a.vapidPublicKey})
}

func (a *API) PushSubscribeHandler(w http.ResponseWriter, r *http.Request) {
	if a.vapidPublicKey == "" {
		http.Error(w, "Push notifications are disabled", http.StatusNotFound)
		return
	}

	var sub models.PushSubscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if sub.Endpoint == "" || sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		http.Error(w, "Incomplete subscription", http.StatusBadRequest)
		return
	}

	if err := a.store.UpsertPushSubscription(UserID(r.Context()), sub); err != nil {
		slog.Error("failed to save push subscription", "user_id", UserID(r.Context()), "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, models.APIResponse{Success: true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

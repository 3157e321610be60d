package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"svyaz/internal/auth"
	"svyaz/internal/content"
	"svyaz/internal/models"
)

// StatsSource reports live coordinator state.
type StatsSource interface {
	Stats() models.Stats
}

type AdminHandler struct {
	authService *auth.AuthService
	stats       StatsSource
	baseURL     string
}

func NewAdminHandler(authService *auth.AuthService, stats StatsSource, baseURL string) *AdminHandler {
	return &AdminHandler{authService: authService, stats: stats, baseURL: baseURL}
}

type AddUserRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
}

type AddUserResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	UserID   string `json:"userId,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	LoginURL string `json:"loginUrl,omitempty"`
}

// AddUserHandler creates a user with a generated password that is returned
// once in the response.
func (h *AdminHandler) AddUserHandler(w http.ResponseWriter, r *http.Request) {
	var req AddUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := content.ValidateUsername(req.Username); err != nil {
		writeJSON(w, http.StatusBadRequest, AddUserResponse{Message: err.Error()})
		return
	}

	password, err := auth.GeneratePassword()
	if err != nil {
		slog.Error("failed to generate password", "error", err)
		writeJSON(w, http.StatusInternalServerError, AddUserResponse{Message: "failed to generate password"})
		return
	}

	user, err := h.authService.AddUser(req.Username, content.SanitizeName(req.DisplayName), password)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, auth.ErrUserExists) {
			status = http.StatusConflict
		}
		writeJSON(w, status, AddUserResponse{
			Message: fmt.Sprintf("Failed to create user: %v", err),
		})
		return
	}

	slog.Info("user created", "user_id", user.ID, "username", user.UserName)
	writeJSON(w, http.StatusOK, AddUserResponse{
		Success:  true,
		UserID:   user.ID,
		Username: user.UserName,
		Password: password,
		LoginURL: h.baseURL,
	})
}

func (h *AdminHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.stats.Stats())
}

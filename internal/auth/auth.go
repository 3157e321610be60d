package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"svyaz/internal/models"

	"github.com/c-pro/geche"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultTokenExpiry = 12 * time.Hour
	loginFailedMessage = "Login failed"
	minPasswordLength  = 8
)

var (
	ErrUserExists       = errors.New("user already exists")
	ErrPasswordTooShort = fmt.Errorf("password must be at least %d characters", minPasswordLength)
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RegistrationRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Password    string `json:"password"`
}

type LoginResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message,omitempty"`
	UserID      string `json:"userId,omitempty"`
	Token       string `json:"token,omitempty"`
	TokenExpiry int64  `json:"tokenExpiry,omitempty"`
}

type UserCredentials struct {
	models.User
	PasswordHash string `json:"passwordHash"`
	// Consecutive failed login attempts, used to throttle brute force attacks.
	FailedLoginAttempts int64 `json:"failedLoginAttempts"`
	LastAttemptTime     int64 `json:"lastAttemptTime"`
}

func (uc *UserCredentials) ResetFailedLoginAttempts(now time.Time) {
	uc.FailedLoginAttempts = 0
	uc.LastAttemptTime = now.Unix()
}

func (uc *UserCredentials) IncrementFailedLoginAttempts(now time.Time) {
	uc.FailedLoginAttempts++
	uc.LastAttemptTime = now.Unix()
}

// CredentialsStore persists user credentials.
type CredentialsStore interface {
	UpsertCredentials(credentials UserCredentials) error
	ListCredentials() ([]UserCredentials, error)
}

type Config struct {
	TokenExpiry time.Duration `json:"tokenExpiry"`
}

func (c *Config) Validate() error {
	if c.TokenExpiry < 0 {
		return errors.New("token expiry must not be negative")
	}
	if c.TokenExpiry == 0 {
		c.TokenExpiry = DefaultTokenExpiry
	}
	return nil
}

type AuthService struct {
	Config
	store CredentialsStore
	// username -> credentials
	userCache  geche.Geche[string, *UserCredentials]
	users      *geche.Locker[string, *UserCredentials]
	liveTokens geche.Geche[string, string]
	now        func() time.Time
}

func NewAuthService(ctx context.Context, config Config, store CredentialsStore) (*AuthService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	userCache := geche.NewMapCache[string, *UserCredentials]()
	as := &AuthService{
		Config:     config,
		store:      store,
		userCache:  userCache,
		users:      geche.NewLocker[string, *UserCredentials](userCache),
		liveTokens: geche.NewMapTTLCache[string, string](ctx, config.TokenExpiry, time.Minute),
		now:        time.Now,
	}

	if store != nil {
		creds, err := store.ListCredentials()
		if err != nil {
			return nil, fmt.Errorf("failed to load users: %w", err)
		}
		for i := range creds {
			c := creds[i]
			userCache.Set(c.UserName, &c)
		}
	}

	return as, nil
}

// AddUser creates a user with the given password and persists it.
func (as *AuthService) AddUser(username, displayName, password string) (models.User, error) {
	if len(password) < minPasswordLength {
		return models.User{}, ErrPasswordTooShort
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, fmt.Errorf("failed to hash password: %w", err)
	}

	tx := as.users.Lock()
	defer tx.Unlock()
	if _, err := tx.Get(username); err == nil {
		return models.User{}, ErrUserExists
	}

	if displayName == "" {
		displayName = username
	}

	creds := &UserCredentials{
		User: models.User{
			ID:          uuid.NewString(),
			UserName:    username,
			DisplayName: displayName,
			CreatedAt:   as.now().Unix(),
		},
		PasswordHash: string(hash),
	}

	if as.store != nil {
		if err := as.store.UpsertCredentials(*creds); err != nil {
			return models.User{}, fmt.Errorf("failed to save user: %w", err)
		}
	}
	tx.Set(username, creds)

	return creds.User, nil
}

func (as *AuthService) Login(req LoginRequest) (LoginResponse, string) {
	now := as.now()
	tx := as.users.Lock()
	defer tx.Unlock()
	user, err := tx.Get(req.Username)
	if err != nil {
		return LoginResponse{
			Success: false,
			Message: loginFailedMessage,
		}, ""
	}

	if user.FailedLoginAttempts > 3 {
		nextAttempt := user.LastAttemptTime + 30*(user.FailedLoginAttempts*user.FailedLoginAttempts)
		if now.Unix() < nextAttempt {
			return LoginResponse{
				Success: false,
				Message: fmt.Sprintf("Too many failed login attempts. Next attempt in %d seconds", nextAttempt-now.Unix()),
			}, ""
		}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		user.IncrementFailedLoginAttempts(now)
		return LoginResponse{
			Success: false,
			Message: loginFailedMessage,
		}, ""
	}

	token, err := as.generateToken()
	if err != nil {
		slog.Error("login failed", "user_id", user.ID, "error", err)
		return LoginResponse{
			Success: false,
			Message: "internal error",
		}, ""
	}

	as.liveTokens.Set(token, user.ID)
	user.ResetFailedLoginAttempts(now)

	return LoginResponse{
		Success:     true,
		UserID:      user.ID,
		Token:       token,
		TokenExpiry: now.Unix() + int64(as.TokenExpiry.Seconds()),
	}, user.ID
}

func (as *AuthService) Logoff(token string) error {
	return as.liveTokens.Del(token)
}

func (as *AuthService) GetUserID(token string) (string, error) {
	if token == "" {
		return "", models.ErrNotFound
	}
	return as.liveTokens.Get(token)
}

// GetUsers returns all users sorted by display name.
func (as *AuthService) GetUsers() []models.User {
	snapshot := as.userCache.Snapshot()
	users := make([]models.User, 0, len(snapshot))
	for _, c := range snapshot {
		users = append(users, c.User)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].DisplayName == users[j].DisplayName {
			return users[i].ID < users[j].ID
		}
		return users[i].DisplayName < users[j].DisplayName
	})
	return users
}

func (as *AuthService) GetUser(id string) (models.User, bool) {
	for _, c := range as.userCache.Snapshot() {
		if c.ID == id {
			return c.User, true
		}
	}
	return models.User{}, false
}

func (as *AuthService) generateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GeneratePassword returns a random password suitable for a first login.
func GeneratePassword() (string, error) {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

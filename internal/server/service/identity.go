package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"fileshare/internal/server/config"
	"fileshare/internal/server/database"
	"fileshare/internal/server/storage"
)

// GuestToken is the session value of a guest login. It is never persisted.
const GuestToken = "guest"

const guestName = "Guest"

// Principal is the caller behind a session token.
type Principal struct {
	UserID uuid.UUID
	Name   string
	Token  string
	Guest  bool
}

// RegisterRequest holds the signup form.
type RegisterRequest struct {
	Email     string
	Name      string
	Password  string
	Password2 string
}

// AuthService registers users and manages session tokens.
type AuthService struct {
	repo       Repository
	store      storage.Store
	timeout    time.Duration
	bcryptCost int
}

// NewAuthService creates a new auth service.
func NewAuthService(repo Repository, store storage.Store, cfg *config.Config) *AuthService {
	return &AuthService{
		repo:       repo,
		store:      store,
		timeout:    cfg.StoreTimeout,
		bcryptCost: bcrypt.DefaultCost,
	}
}

// Register creates an account and its upload directory.
func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*database.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	switch {
	case email == "":
		return nil, ErrInvalidEmail
	case req.Password != req.Password2:
		return nil, ErrPasswordMismatch
	case len(req.Password) <= 2:
		return nil, ErrPasswordTooShort
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return nil, ErrPasswordTooLong
		}
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now().UTC()
	user := &database.User{
		ID:           uuid.New(),
		Email:        email,
		Name:         strings.TrimSpace(req.Name),
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	dbCtx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.repo.CreateUser(dbCtx, user); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, commitFailure(err)
	}

	if err := s.store.EnsureUserDir(ctx, user.ID.String()); err != nil {
		// The account exists; Save creates the directory on first upload.
		slog.Error("failed to create user directory", "user_id", user.ID, "error", err)
	}

	slog.Info("user registered", "user_id", user.ID, "email", email)
	return user, nil
}

// Login checks credentials and issues a session token. Submitting an empty
// email and password starts a guest session instead.
func (s *AuthService) Login(ctx context.Context, email, password string) (*Principal, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" && password == "" {
		return &Principal{Name: guestName, Token: GuestToken, Guest: true}, nil
	}

	dbCtx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	user, err := s.repo.GetUserByEmail(dbCtx, email)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrUnknownEmail
		}
		return nil, unavailable(err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrWrongPassword
	}

	hash, err := generateSessionHash()
	if err != nil {
		return nil, err
	}

	token := &database.SessionToken{
		SessionHash: hash,
		UserID:      user.ID,
		Username:    user.Name,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.repo.CreateSession(dbCtx, token); err != nil {
		return nil, commitFailure(err)
	}

	slog.Info("user logged in", "user_id", user.ID)
	return &Principal{UserID: user.ID, Name: user.Name, Token: hash}, nil
}

// Logout deletes the session token and stamps the user's last login date.
// Logging out a guest or an already expired token is not an error.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	if token == "" {
		return ErrAlreadyLoggedOut
	}
	if token == GuestToken {
		return nil
	}

	dbCtx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	session, err := s.repo.GetSession(dbCtx, token)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil
		}
		return unavailable(err)
	}

	if err := s.repo.TouchLastLogin(dbCtx, session.UserID); err != nil && !errors.Is(err, database.ErrNotFound) {
		return unavailable(err)
	}
	if err := s.repo.DeleteSession(dbCtx, token); err != nil && !errors.Is(err, database.ErrNotFound) {
		return unavailable(err)
	}

	slog.Info("user logged out", "user_id", session.UserID)
	return nil
}

// Resolve maps a session token to its principal. The token must belong to
// an existing user; the guest sentinel resolves to a guest principal.
func (s *AuthService) Resolve(ctx context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, ErrAuthentication
	}
	if token == GuestToken {
		return &Principal{Name: guestName, Token: GuestToken, Guest: true}, nil
	}

	dbCtx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	session, err := s.repo.GetSession(dbCtx, token)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrAuthentication
		}
		return nil, unavailable(err)
	}

	user, err := s.repo.GetUserByID(dbCtx, session.UserID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrAuthentication
		}
		return nil, unavailable(err)
	}

	return &Principal{UserID: user.ID, Name: user.Name, Token: token}, nil
}

// generateSessionHash returns the hex SHA-256 of 32 random bytes.
func generateSessionHash() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("crypto/rand failure: %w", err)
	}
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:]), nil
}

package auth

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/xtrntr/parimutuel/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.]{3,50}$`)

// UserStore persists registered users
type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
}

// Config holds token parameters and the identities bettors may not register as
type Config struct {
	Secret   string
	TTL      time.Duration
	Reserved []models.Identity
}

// Claims is the JWT payload. The subject is the bettor's identity.
type Claims struct {
	UserID int `json:"user_id"`
	jwt.RegisteredClaims
}

// AuthService handles user authentication
type AuthService struct {
	store    UserStore
	secret   []byte
	ttl      time.Duration
	reserved map[string]bool
	now      func() time.Time
}

// NewAuthService creates a new auth service
func NewAuthService(store UserStore, cfg Config) *AuthService {
	reserved := make(map[string]bool, len(cfg.Reserved))
	for _, id := range cfg.Reserved {
		reserved[string(id)] = true
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &AuthService{
		store:    store,
		secret:   []byte(cfg.Secret),
		ttl:      ttl,
		reserved: reserved,
		now:      time.Now,
	}
}

// Register creates a new user with hashed password
func (s *AuthService) Register(ctx context.Context, username, password string) (*models.User, error) {
	if s.reserved[username] {
		return nil, errors.Wrapf(models.ErrUsernameTaken, "%s is reserved", username)
	}
	if !usernamePattern.MatchString(username) {
		return nil, errors.Wrap(models.ErrValidation, "username must be 3-50 letters, digits, '_' or '.'")
	}
	return s.create(ctx, username, password)
}

// EnsureUser creates username unless it already exists. It bypasses the
// reserved list so the server can provision the owner account.
func (s *AuthService) EnsureUser(ctx context.Context, username, password string) (*models.User, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, models.ErrUserNotFound) {
		return nil, err
	}
	return s.create(ctx, username, password)
}

func (s *AuthService) create(ctx context.Context, username, password string) (*models.User, error) {
	if password == "" {
		return nil, errors.Wrap(models.ErrValidation, "password cannot be empty")
	}
	if len(password) > 72 {
		return nil, errors.Wrap(models.ErrValidation, "password too long (max 72 characters)")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	return s.store.CreateUser(ctx, username, string(hashedPassword))
}

// Login verifies credentials and generates a JWT
func (s *AuthService) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return "", models.ErrBadCredentials
		}
		return "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", models.ErrBadCredentials
	}

	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: user.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	})
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// IdentityFromToken validates a JWT and returns the identity it was issued to
func (s *AuthService) IdentityFromToken(tokenString string) (models.Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return "", errors.Wrap(models.ErrUnauthorized, "invalid token")
	}
	if claims.Subject == "" {
		return "", errors.Wrap(models.ErrUnauthorized, "token has no subject")
	}
	return models.Identity(claims.Subject), nil
}

// MemoryStore is a UserStore for running without a database
type MemoryStore struct {
	mu     sync.RWMutex
	users  map[string]*models.User
	nextID int
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]*models.User), nextID: 1}
}

// CreateUser implements UserStore
func (m *MemoryStore) CreateUser(_ context.Context, username, passwordHash string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[username]; ok {
		return nil, models.ErrUsernameTaken
	}
	user := &models.User{ID: m.nextID, Username: username, PasswordHash: passwordHash, CreatedAt: time.Now()}
	m.users[username] = user
	m.nextID++
	out := *user
	return &out, nil
}

// GetUserByUsername implements UserStore
func (m *MemoryStore) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[username]
	if !ok {
		return nil, models.ErrUserNotFound
	}
	out := *user
	return &out, nil
}

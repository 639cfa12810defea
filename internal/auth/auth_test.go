package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrntr/parimutuel/internal/models"
)

func newService() *AuthService {
	return NewAuthService(NewMemoryStore(), Config{
		Secret:   "test-secret",
		TTL:      time.Hour,
		Reserved: []models.Identity{"admin", "vault-a"},
	})
}

func TestAuthService_Register(t *testing.T) {
	tests := []struct {
		name     string
		username string
		password string
		target   error
	}{
		{"Success", "alice", "password123", nil},
		{"EmptyUsername", "", "password123", models.ErrValidation},
		{"ShortUsername", "al", "password123", models.ErrValidation},
		{"BadCharacters", "alice bob", "password123", models.ErrValidation},
		{"LongUsername", strings.Repeat("a", 51), "password123", models.ErrValidation},
		{"EmptyPassword", "bob", "", models.ErrValidation},
		{"LongPassword", "bob", strings.Repeat("p", 73), models.ErrValidation},
		{"Reserved", "vault-a", "password123", models.ErrUsernameTaken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newService()
			user, err := s.Register(context.Background(), tt.username, tt.password)
			if tt.target != nil {
				assert.True(t, errors.Is(err, tt.target), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.username, user.Username)
			assert.NotEqual(t, tt.password, user.PasswordHash)
			assert.Equal(t, models.Identity(tt.username), user.Identity())
		})
	}
}

func TestAuthService_RegisterDuplicate(t *testing.T) {
	s := newService()
	ctx := context.Background()
	_, err := s.Register(ctx, "alice", "password123")
	require.NoError(t, err)

	_, err = s.Register(ctx, "alice", "other")
	assert.True(t, errors.Is(err, models.ErrUsernameTaken))
}

func TestAuthService_EnsureUser(t *testing.T) {
	s := newService()
	ctx := context.Background()

	first, err := s.EnsureUser(ctx, "admin", "root-pass")
	require.NoError(t, err)
	again, err := s.EnsureUser(ctx, "admin", "ignored")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	_, err = s.Login(ctx, "admin", "root-pass")
	assert.NoError(t, err)
}

func TestAuthService_Login(t *testing.T) {
	s := newService()
	ctx := context.Background()
	_, err := s.Register(ctx, "alice", "password123")
	require.NoError(t, err)

	tests := []struct {
		name     string
		username string
		password string
		wantErr  bool
	}{
		{"Success", "alice", "password123", false},
		{"WrongPassword", "alice", "nope", true},
		{"UnknownUser", "mallory", "password123", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := s.Login(ctx, tt.username, tt.password)
			if tt.wantErr {
				assert.True(t, errors.Is(err, models.ErrBadCredentials), "got %v", err)
				return
			}
			require.NoError(t, err)
			id, err := s.IdentityFromToken(token)
			require.NoError(t, err)
			assert.Equal(t, models.Identity("alice"), id)
		})
	}
}

func TestAuthService_IdentityFromToken(t *testing.T) {
	s := newService()
	ctx := context.Background()
	_, err := s.Register(ctx, "alice", "password123")
	require.NoError(t, err)
	token, err := s.Login(ctx, "alice", "password123")
	require.NoError(t, err)

	t.Run("Expired", func(t *testing.T) {
		later := newService()
		later.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		_, err := later.IdentityFromToken(token)
		assert.True(t, errors.Is(err, models.ErrUnauthorized))
	})

	t.Run("WrongSecret", func(t *testing.T) {
		other := NewAuthService(NewMemoryStore(), Config{Secret: "different"})
		_, err := other.IdentityFromToken(token)
		assert.True(t, errors.Is(err, models.ErrUnauthorized))
	})

	t.Run("Garbage", func(t *testing.T) {
		_, err := s.IdentityFromToken("not-a-token")
		assert.True(t, errors.Is(err, models.ErrUnauthorized))
	})

	t.Run("NoSubject", func(t *testing.T) {
		unsigned := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
			RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		})
		raw, err := unsigned.SignedString([]byte("test-secret"))
		require.NoError(t, err)
		_, err = s.IdentityFromToken(raw)
		assert.True(t, errors.Is(err, models.ErrUnauthorized))
	})
}

package auth

import (
	"context"
	"testing"
	"time"

	"github.com/RichardoC/ollama-chat/internal/apperr"
	"github.com/RichardoC/ollama-chat/internal/db"
	"github.com/RichardoC/ollama-chat/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func newTestService(t *testing.T) (*Service, *db.MemoryStore) {
	t.Helper()
	store := db.NewMemory()
	svc := NewService(store, Config{
		Secret:     []byte("test-secret"),
		BcryptCost: bcrypt.MinCost,
	}, zap.NewNop())
	return svc, store
}

func TestSignupThenLogin(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	signup, err := svc.Signup(ctx, "alice", "secret123")
	require.NoError(t, err)
	require.NotEmpty(t, signup.Token)
	assert.Equal(t, "alice", signup.User.Username)

	login, err := svc.Login(ctx, "alice", "secret123")
	require.NoError(t, err)

	claims, err := svc.ParseToken(login.Token)
	require.NoError(t, err)
	assert.Equal(t, signup.User.ID, claims.UserID)
	assert.Equal(t, "alice", claims.Username)

	user, err := svc.CheckSession(ctx, login.Token)
	require.NoError(t, err)
	assert.Equal(t, models.PublicUser{ID: signup.User.ID, Username: "alice"}, *user)
}

func TestSignup_StoresBcryptHash(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	_, err := svc.Signup(ctx, "alice", "secret123")
	require.NoError(t, err)

	user, err := store.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.NotEqual(t, "secret123", user.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("secret123")))
}

func TestSignup_DefaultCost(t *testing.T) {
	store := db.NewMemory()
	svc := NewService(store, Config{Secret: []byte("x")}, zap.NewNop())
	ctx := context.Background()

	_, err := svc.Signup(ctx, "bob", "pw")
	require.NoError(t, err)

	user, err := store.GetUserByUsername(ctx, "bob")
	require.NoError(t, err)
	cost, err := bcrypt.Cost([]byte(user.PasswordHash))
	require.NoError(t, err)
	assert.Equal(t, 10, cost)
}

func TestSignup_Errors(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Signup(ctx, "", "pw")
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))

	_, err = svc.Signup(ctx, "   ", "pw")
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))

	_, err = svc.Signup(ctx, "alice", "")
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))

	_, err = svc.Signup(ctx, "alice", "pw")
	require.NoError(t, err)

	_, err = svc.Signup(ctx, "alice", "other")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestLogin_Errors(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Signup(ctx, "alice", "secret123")
	require.NoError(t, err)

	session, err := svc.Login(ctx, "alice", "wrong")
	assert.Nil(t, session)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))

	_, err = svc.Login(ctx, "bob", "secret123")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = svc.Login(ctx, "", "")
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))
}

func TestCheckSession_Errors(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	_, err := svc.CheckSession(ctx, "")
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))

	_, err = svc.CheckSession(ctx, "not-a-jwt")
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))

	session, err := svc.Signup(ctx, "alice", "secret123")
	require.NoError(t, err)

	other := NewService(store, Config{Secret: []byte("another-secret")}, zap.NewNop())
	_, err = other.CheckSession(ctx, session.Token)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err), "token signed with another secret")

	store.DeleteUser(session.User.ID)
	_, err = svc.CheckSession(ctx, session.Token)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestCheckSession_Expired(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return start }

	session, err := svc.Signup(ctx, "alice", "secret123")
	require.NoError(t, err)
	assert.Equal(t, start.Add(24*time.Hour), session.ExpiresAt)

	svc.now = func() time.Time { return start.Add(23 * time.Hour) }
	_, err = svc.CheckSession(ctx, session.Token)
	require.NoError(t, err)

	svc.now = func() time.Time { return start.Add(25 * time.Hour) }
	_, err = svc.CheckSession(ctx, session.Token)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
}

func TestParseToken_RejectsOtherAlgorithms(t *testing.T) {
	svc, _ := newTestService(t)

	claims := Claims{
		UserID: "u1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = svc.ParseToken(token)
	assert.Error(t, err)
}

func TestParseToken_RequiresExpiry(t *testing.T) {
	svc, _ := newTestService(t)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{UserID: "u1"}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = svc.ParseToken(token)
	assert.Error(t, err)
}

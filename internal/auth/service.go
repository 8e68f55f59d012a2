// Package auth verifies credentials and issues session tokens.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/RichardoC/ollama-chat/internal/apperr"
	"github.com/RichardoC/ollama-chat/internal/db"
	"github.com/RichardoC/ollama-chat/internal/models"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultTokenTTL   = 24 * time.Hour
	DefaultBcryptCost = 10
)

type Config struct {
	Secret     []byte
	TokenTTL   time.Duration
	BcryptCost int
}

type Service struct {
	store  db.Store
	logger *zap.Logger
	secret []byte
	ttl    time.Duration
	cost   int
	now    func() time.Time
}

// Session is the result of a successful signup or login.
type Session struct {
	Token     string
	ExpiresAt time.Time
	User      models.PublicUser
}

func NewService(store db.Store, cfg Config, logger *zap.Logger) *Service {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = DefaultBcryptCost
	}
	return &Service{
		store:  store,
		logger: logger,
		secret: cfg.Secret,
		ttl:    cfg.TokenTTL,
		cost:   cfg.BcryptCost,
		now:    time.Now,
	}
}

// TTL is how long issued sessions stay valid.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

func (s *Service) Signup(ctx context.Context, username, password string) (*Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, apperr.BadRequest("Username and password are required")
	}

	_, err := s.store.GetUserByUsername(ctx, username)
	switch {
	case err == nil:
		return nil, apperr.Conflict("Username already exists")
	case !errors.Is(err, db.ErrNotFound):
		return nil, apperr.Wrap(apperr.KindInternal, "Signup failed", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindBadRequest, "Password cannot be used", err)
	}

	user := &models.User{Username: username, PasswordHash: string(hash)}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			return nil, apperr.Conflict("Username already exists")
		}
		return nil, apperr.Wrap(apperr.KindInternal, "Signup failed", err)
	}

	s.logger.Info("user signed up", zap.String("userId", user.ID), zap.String("username", user.Username))
	return s.newSession(user.Public())
}

func (s *Service) Login(ctx context.Context, username, password string) (*Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, apperr.BadRequest("Username and password are required")
	}

	user, err := s.store.GetUserByUsername(ctx, username)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.NotFound("User not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "Login failed", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, apperr.Unauthorized("Invalid password")
	}

	return s.newSession(user.Public())
}

// CheckSession resolves token to the identity of a user that still exists.
func (s *Service) CheckSession(ctx context.Context, token string) (*models.PublicUser, error) {
	if token == "" {
		return nil, apperr.Unauthorized("Not authenticated")
	}

	claims, err := s.ParseToken(token)
	if err != nil {
		s.logger.Debug("rejected session token", zap.Error(err))
		return nil, apperr.Wrap(apperr.KindUnauthorized, "Authentication failed", err)
	}

	user, err := s.store.GetUserByID(ctx, claims.UserID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.NotFound("User not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "Authentication failed", err)
	}

	public := user.Public()
	return &public, nil
}

func (s *Service) newSession(user models.PublicUser) (*Session, error) {
	token, expiresAt, err := s.issueToken(user)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "Failed to issue session", err)
	}
	return &Session{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

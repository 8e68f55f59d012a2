package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/RichardoC/ollama-chat/internal/apperr"
	"github.com/RichardoC/ollama-chat/internal/auth"
	"github.com/RichardoC/ollama-chat/internal/chats"
	"github.com/RichardoC/ollama-chat/internal/llm"
	"github.com/RichardoC/ollama-chat/internal/models"
	"go.uber.org/zap"
)

const (
	cookieName     = "token"
	maxRequestBody = 1 << 20
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	CookieSecure bool
	StaticDir    string
	// TrustProxyHeaders lets X-Forwarded-For and X-Real-IP replace the peer
	// address. Off by default since any client can set them.
	TrustProxyHeaders bool
	// LoginRate and LoginBurst throttle signup and login per client address.
	// A zero LoginRate disables throttling.
	LoginRate  float64
	LoginBurst int
}

type Handler struct {
	auth   *auth.Service
	chats  *chats.Service
	proxy  *llm.Proxy
	store  Pinger
	logger *zap.Logger
	opts   Options
}

func NewHandler(authService *auth.Service, chatService *chats.Service, proxy *llm.Proxy, store Pinger, logger *zap.Logger, opts Options) *Handler {
	return &Handler{
		auth:   authService,
		chats:  chatService,
		proxy:  proxy,
		store:  store,
		logger: logger,
		opts:   opts,
	}
}

type CredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type SessionResponse struct {
	Message string            `json:"message"`
	User    models.PublicUser `json:"user"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	session, err := h.auth.Signup(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.setSessionCookie(w, session)
	h.writeJSON(w, http.StatusCreated, SessionResponse{Message: "User created successfully", User: session.User})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	session, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.setSessionCookie(w, session)
	h.writeJSON(w, http.StatusOK, SessionResponse{Message: "Login successful", User: session.User})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   h.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CheckSession(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.CheckSession(r.Context(), sessionToken(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	h.writeJSON(w, http.StatusOK, user)
}

func (h *Handler) CreateChat(w http.ResponseWriter, r *http.Request) {
	var req chats.CreateChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := checkOwner(r, req.UserID); err != nil {
		h.writeError(w, r, err)
		return
	}

	chat, err := h.chats.CreateChat(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, chat)
}

func (h *Handler) ListChats(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		h.writeError(w, r, apperr.BadRequest("User ID is required"))
		return
	}
	if err := checkOwner(r, userID); err != nil {
		h.writeError(w, r, err)
		return
	}

	list, err := h.chats.ListChats(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.Debug("retrieved chats",
		zap.Int("count", len(list)),
		zap.String("userId", userID))
	h.writeJSON(w, http.StatusOK, list)
}

// Generate relays the backend stream as server-sent events, one
// `data: <chunk>` frame per backend chunk. If the backend fails mid-stream
// an error event is written and the response is aborted, so the client never
// mistakes a truncated stream for a complete one.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		h.writeError(w, r, apperr.Wrap(apperr.KindBadRequest, "Invalid request body", err))
		return
	}

	stream, err := h.proxy.Open(r.Context(), body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer stream.Close()

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	start := time.Now()
	chunks := 0
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			h.logger.Debug("generation finished",
				zap.Int("chunks", chunks),
				zap.Duration("elapsed", time.Since(start)))
			return
		}
		if err != nil {
			h.logger.Error("generation stream aborted",
				zap.Error(err),
				zap.Int("chunks", chunks))
			_ = writeEvent(w, "error", []byte(`{"error":"Generation stream aborted"}`))
			_ = rc.Flush()
			panic(http.ErrAbortHandler)
		}

		if err := writeEvent(w, "", chunk); err != nil {
			h.logger.Debug("client went away", zap.Error(err))
			return
		}
		if err := rc.Flush(); err != nil {
			h.logger.Debug("client went away", zap.Error(err))
			return
		}
		chunks++
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "ok")
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, session *auth.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    session.Token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(h.auth.TTL().Seconds()),
		Expires:  session.ExpiresAt,
	})
}

func sessionToken(r *http.Request) string {
	c, err := r.Cookie(cookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

// checkOwner rejects requests made with a session that belongs to a user
// other than userID. Requests without a session are let through.
func checkOwner(r *http.Request, userID string) error {
	user, ok := userFromContext(r.Context())
	if ok && userID != "" && user.ID != userID {
		return apperr.Unauthorized("Cannot access another user's chats")
	}
	return nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(v); err != nil {
		return apperr.Wrap(apperr.KindBadRequest, "Invalid request body", err)
	}
	return nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := apperr.Status(kind)

	fields := []zap.Field{
		zap.Error(err),
		zap.String("kind", kind.String()),
		zap.Int("status", status),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", fields...)
	} else {
		h.logger.Debug("request rejected", fields...)
	}

	h.writeJSON(w, status, ErrorResponse{Error: apperr.MessageOf(err)})
}

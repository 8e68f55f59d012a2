package api

import (
	"context"
	"net"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/RichardoC/ollama-chat/internal/apperr"
	"github.com/RichardoC/ollama-chat/internal/models"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type contextKey struct{}

func userFromContext(ctx context.Context) (models.PublicUser, bool) {
	u, ok := ctx.Value(contextKey{}).(models.PublicUser)
	return u, ok
}

// requestLogger logs one line per request once the handler has returned or
// panicked.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("request",
					zap.String("requestId", middleware.GetReqID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("remote", r.RemoteAddr),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// recoverer turns panics into 500s. http.ErrAbortHandler is re-raised so the
// server drops the connection.
func recoverer(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("panic serving request",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
					zap.ByteString("stack", debug.Stack()))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`{"error":"Internal server error"}` + "\n"))
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// optionalSession attaches the caller's identity when a valid session cookie
// is present. Missing or invalid cookies are not an error here.
func (h *Handler) optionalSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := sessionToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := h.auth.ParseToken(token)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		user := models.PublicUser{ID: claims.UserID, Username: claims.Username}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, user)))
	})
}

const (
	limiterIdle          = 10 * time.Minute
	limiterSweepMin      = 1024
	limiterSweepInterval = time.Minute
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterSet hands out one token bucket per client address.
type limiterSet struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	clients map[string]*clientLimiter
	swept   time.Time
	now     func() time.Time
}

func newLimiterSet(perSecond float64, burst int) *limiterSet {
	if burst <= 0 {
		burst = 1
	}
	return &limiterSet{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		clients: make(map[string]*clientLimiter),
		now:     time.Now,
	}
}

func (s *limiterSet) allow(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if len(s.clients) >= limiterSweepMin && now.Sub(s.swept) >= limiterSweepInterval {
		s.swept = now
		for k, c := range s.clients {
			if now.Sub(c.lastSeen) > limiterIdle {
				delete(s.clients, k)
			}
		}
	}

	c, ok := s.clients[key]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.clients[key] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

func (h *Handler) throttle(set *limiterSet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			if !set.allow(host) {
				w.Header().Set("Retry-After", "1")
				h.writeError(w, r, apperr.New(apperr.KindTooManyRequests, "Too many attempts, slow down"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

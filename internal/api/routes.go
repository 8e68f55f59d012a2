package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes builds the HTTP surface.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if h.opts.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(requestLogger(h.logger))
	r.Use(recoverer(h.logger))

	r.Get("/healthz", h.Health)

	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if h.opts.LoginRate > 0 {
				r.Use(h.throttle(newLimiterSet(h.opts.LoginRate, h.opts.LoginBurst)))
			}
			r.Post("/signup", h.Signup)
			r.Post("/login", h.Login)
		})
		r.Post("/logout", h.Logout)
		r.Get("/check", h.CheckSession)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.optionalSession)
		r.Post("/chats", h.CreateChat)
		r.Get("/chats", h.ListChats)
	})

	r.Post("/generate", h.Generate)

	if h.opts.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(h.opts.StaticDir)))
	}

	return r
}

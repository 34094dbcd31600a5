package api

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"lockstep/internal/session"
)

// Server is the peer's HTTP surface: the admin routes plus the websocket
// hub carrying peer traffic. Construction starts only the rate limiter's
// cleanup goroutine; Start runs the hub writer and the listener.
type Server struct {
	session     *session.Session
	router      *chi.Mux
	hub         *PeerHub
	rateLimiter *IPRateLimiter
}

// NewServer builds the server around one session and its peer hub.
func NewServer(s *session.Session, hub *PeerHub) *Server {
	srv := &Server{
		session:     s,
		hub:         hub,
		rateLimiter: NewIPRateLimiter(DefaultRateLimitConfig),
	}
	srv.router = NewRouter(RouterConfig{
		Session:     s,
		RateLimiter: srv.rateLimiter,
		PeerHub:     hub,
	})
	return srv
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler { return s.router }

// Start runs the peer hub writer and the HTTP listener. Blocks until the
// listener fails.
func (s *Server) Start(addr string) error {
	if s.hub != nil {
		go s.hub.Run()
	}
	log.Printf("peer listening on %s", addr)
	return http.ListenAndServe(addr, s.router)
}

// Stop releases background resources.
func (s *Server) Stop() {
	if s.hub != nil {
		s.hub.Stop()
	}
	s.rateLimiter.Stop()
}

package api

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"lockstep/internal/session"
)

// RouterConfig wires the admin router to one session.
type RouterConfig struct {
	Session     *session.Session
	RateLimiter *IPRateLimiter
	PeerHub     *PeerHub
}

// NewRouter builds the peer's HTTP surface: health and state for an
// operator, the latest desync bundle for a bug report, and the websocket
// endpoint other peers dial.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.RateLimiter != nil {
		r.Use(cfg.RateLimiter.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Get("/state", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, cfg.Session.Pool().AcquireRead())
	})

	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		stats := cfg.Session.Stats()
		writeJSON(w, map[string]any{
			"phase":           cfg.Session.Phase().String(),
			"frame":           stats.Frame,
			"rollbacks":       stats.Rollbacks,
			"desyncs":         stats.Desyncs,
			"rejected_inputs": stats.RejectedInputs,
		})
	})

	r.Get("/dump/latest", func(w http.ResponseWriter, req *http.Request) {
		path := cfg.Session.LastDumpPath()
		if path == "" {
			http.Error(w, "no dump recorded", http.StatusNotFound)
			return
		}
		f, err := os.Open(path)
		if err != nil {
			http.Error(w, "dump unreadable", http.StatusInternalServerError)
			return
		}
		defer f.Close()
		w.Header().Set("Content-Type", "application/json")
		http.ServeContent(w, req, path, modTime(f), f)
	})

	if cfg.PeerHub != nil {
		r.Get("/peer", cfg.PeerHub.HandleUpgrade)
	}
	return r
}

func modTime(f *os.File) time.Time {
	if info, err := f.Stat(); err == nil {
		return info.ModTime()
	}
	return time.Time{}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode response: %v", err)
	}
}

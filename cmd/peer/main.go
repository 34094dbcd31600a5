// The reference peer binary: one lockstep participant exposing the admin
// HTTP surface, a websocket endpoint for other peers and the localhost
// debug server. It drives the session's tick loop at the configured rate
// and records the match to a replay file for the headless replayer.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"lockstep/internal/api"
	"lockstep/internal/arena"
	"lockstep/internal/config"
	"lockstep/internal/session"
)

// peerSink feeds decoded transport messages into the session's boundary
// adapter from the websocket read goroutines.
type peerSink struct {
	sess *session.Session
}

func (p peerSink) RemoteInput(player int, frame int64, payload []byte) {
	in, err := arena.DecodeInput(payload)
	if err != nil {
		log.Printf("bad input payload from player %d: %v", player, err)
		return
	}
	p.sess.Adapter().SubmitRemoteInput(player, frame, in)
}

func (p peerSink) RemoteHash(player int, frame int64, hash uint64) {
	p.sess.Adapter().SubmitRemoteHash(player, frame, hash)
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file, using environment only")
	}

	cfg := config.Load()
	localPlayer := envInt("PEER_INDEX", 0)
	seed := uint32(1)
	if cfg.Replay.HasSeedOverride {
		seed = cfg.Replay.SeedOverride
	}

	replayPath := cfg.Replay.FileOverride
	if replayPath == "" {
		replayPath = filepath.Join(cfg.Replay.Dir, fmt.Sprintf("match-%d-p%d.rep", seed, localPlayer))
	}

	sess, err := session.New(session.Config{
		Sim:          cfg.Sim,
		Players:      cfg.Net.MaxPlayers,
		LocalPlayer:  localPlayer,
		Seed:         seed,
		ReplayPath:   replayPath,
		EventLogPath: os.Getenv("EVENT_LOG_PATH"),
	})
	if err != nil {
		log.Fatalf("session: %v", err)
	}
	defer sess.Close()

	hub := api.NewPeerHub(peerSink{sess: sess}, sess.Adapter())
	server := api.NewServer(sess, hub)
	defer server.Stop()

	api.StartDebugServer(api.DefaultObservabilityConfig())
	go func() {
		if err := server.Start(cfg.Net.ListenAddr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	for _, url := range peerURLs() {
		if err := hub.Dial(url); err != nil {
			log.Printf("dial %s failed: %v", url, err)
		}
	}

	if err := sess.StartMatch(); err != nil {
		log.Fatalf("start match: %v", err)
	}
	log.Printf("peer %d: seed %d, %d player slots, tick rate %d", localPlayer, seed, cfg.Net.MaxPlayers, cfg.Sim.TickRate)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second / time.Duration(cfg.Sim.TickRate))
	defer ticker.Stop()

	for {
		select {
		case <-quit:
			log.Println("shutting down")
			return
		case <-ticker.C:
			current := *sess.World().Frame()
			if sess.Phase() == session.PhaseInMatch {
				// The headless reference peer has no input device; it
				// submits the empty input each frame so remote peers
				// confirm instead of predicting forever.
				if _, err := sess.Adapter().SubmitLocalInput(current, current+1, arena.Input{}); err != nil {
					log.Printf("submit local input: %v", err)
				}
			}
			start := time.Now()
			if err := sess.Tick(); err != nil {
				log.Printf("match ended: %v", err)
			}
			api.RecordTick(time.Since(start))
			stats := sess.Stats()
			api.RecordStats(stats.Frame, stats.Rollbacks, stats.Desyncs, stats.RejectedInputs)
			if sess.Phase() == session.PhaseGameOver {
				log.Printf("match over: %v", sess.Fault())
				if sess.LastDumpPath() != "" {
					log.Printf("diagnostic bundle: %s", sess.LastDumpPath())
				}
				return
			}
		}
	}
}

func peerURLs() []string {
	raw := os.Getenv("PEER_URLS")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	urls := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			urls = append(urls, p)
		}
	}
	return urls
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

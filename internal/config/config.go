// Package config provides centralized configuration for the simulation
// core, its transport boundary and the replay subsystem. Environment
// variables take precedence over defaults; cmd binaries load a .env file
// with github.com/joho/godotenv before calling Load.
package config

import (
	"os"
	"strconv"
	"time"
)

// =============================================================================
// SIMULATION CONFIGURATION
// =============================================================================

// SimConfig holds the tunables that govern one match's tick loop: tick
// rate, rollback budget, snapshot cadence and the sizing of the input
// ring and hash history.
type SimConfig struct {
	TickRate            int   // ticks per second
	MaxRollback         int64 // frames the manager may rewind in one rollback
	SnapshotInterval    int64 // frames between retained snapshots
	SnapshotRingSize    int   // number of retained snapshots
	LookaheadMax        int64 // frames a submitted input may lead current
	InputRingFrames     int   // per-player input ring depth
	HashHistoryCapacity int   // retained frame-hash entries, minimum 60
}

// DefaultSim returns the default simulation configuration.
func DefaultSim() SimConfig {
	return SimConfig{
		TickRate:            60,
		MaxRollback:         15,
		SnapshotInterval:    1,
		SnapshotRingSize:    32,
		LookaheadMax:        8,
		InputRingFrames:     128,
		HashHistoryCapacity: 60,
	}
}

// SimFromEnv returns the simulation configuration with environment
// variable overrides.
func SimFromEnv() SimConfig {
	cfg := DefaultSim()
	if v := getEnvInt("SIM_TICK_RATE", 0); v > 0 {
		cfg.TickRate = v
	}
	if v := getEnvInt64("SIM_MAX_ROLLBACK", 0); v > 0 {
		cfg.MaxRollback = v
	}
	if v := getEnvInt64("SIM_SNAPSHOT_INTERVAL", 0); v > 0 {
		cfg.SnapshotInterval = v
	}
	if v := getEnvInt("SIM_SNAPSHOT_RING_SIZE", 0); v > 0 {
		cfg.SnapshotRingSize = v
	}
	if v := getEnvInt64("SIM_LOOKAHEAD_MAX", -1); v >= 0 {
		cfg.LookaheadMax = v
	}
	if v := getEnvInt("SIM_INPUT_RING_FRAMES", 0); v > 0 {
		cfg.InputRingFrames = v
	}
	if v := getEnvInt("SIM_HASH_HISTORY_CAPACITY", 0); v > 0 {
		cfg.HashHistoryCapacity = v
	}
	return cfg
}

// =============================================================================
// NETWORK CONFIGURATION
// =============================================================================

// NetConfig holds the reference peer's transport settings.
type NetConfig struct {
	ListenAddr  string // HTTP/websocket listen address
	MaxPlayers  int
	PeerTimeout time.Duration // silence beyond this fails the peer
}

// DefaultNet returns the default network configuration.
func DefaultNet() NetConfig {
	return NetConfig{
		ListenAddr:  ":7777",
		MaxPlayers:  8,
		PeerTimeout: 5 * time.Second,
	}
}

// NetFromEnv returns the network configuration with environment variable
// overrides.
func NetFromEnv() NetConfig {
	cfg := DefaultNet()
	if v := os.Getenv("NET_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := getEnvInt("NET_MAX_PLAYERS", 0); v > 0 {
		cfg.MaxPlayers = v
	}
	if v := getEnvInt("NET_PEER_TIMEOUT_MS", 0); v > 0 {
		cfg.PeerTimeout = time.Duration(v) * time.Millisecond
	}
	return cfg
}

// =============================================================================
// REPLAY CONFIGURATION
// =============================================================================

// ReplayConfig holds the replay-related environment
// overrides: a replay-file override, a seed override and the log level.
type ReplayConfig struct {
	Dir             string // directory replay files and desync dumps are written under
	FileOverride    string // explicit replay file path, overriding Dir-based discovery
	SeedOverride    uint32 // meaningful only when HasSeedOverride is set
	HasSeedOverride bool   // true when REPLAY_SEED was given (0 included)
	LogLevel        string
}

// DefaultReplay returns the default replay configuration.
func DefaultReplay() ReplayConfig {
	return ReplayConfig{
		Dir:      "replays",
		LogLevel: "info",
	}
}

// ReplayFromEnv returns the replay configuration with environment variable
// overrides.
func ReplayFromEnv() ReplayConfig {
	cfg := DefaultReplay()
	if v := os.Getenv("REPLAY_DIR"); v != "" {
		cfg.Dir = v
	}
	if v := os.Getenv("REPLAY_FILE"); v != "" {
		cfg.FileOverride = v
	}
	if v := getEnvInt64("REPLAY_SEED", -1); v >= 0 {
		cfg.SeedOverride = uint32(v)
		cfg.HasSeedOverride = true
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	return cfg
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete configuration for a peer process.
type AppConfig struct {
	Sim    SimConfig
	Net    NetConfig
	Replay ReplayConfig
}

// Load returns the complete configuration with environment overrides.
// Callers that want .env support should call godotenv.Load before Load.
func Load() AppConfig {
	return AppConfig{
		Sim:    SimFromEnv(),
		Net:    NetFromEnv(),
		Replay: ReplayFromEnv(),
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

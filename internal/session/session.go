// Package session glues the engine core together for one match: the
// arena world, the tick pipeline, the rollback manager, the input/
// transport adapter, the desync detector, the event log and the replay
// recorder, behind a coarse match state machine. A peer process owns one
// Session and calls Tick between frame boundaries; everything blocking
// (transport, disk) stays outside the tick.
package session

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"lockstep/internal/arena"
	"lockstep/internal/config"
	"lockstep/internal/debugdump"
	"lockstep/internal/desync"
	"lockstep/internal/eventlog"
	"lockstep/internal/ioadapter"
	"lockstep/internal/pipeline"
	"lockstep/internal/replay"
	"lockstep/internal/rollback"
	"lockstep/internal/snapshot"
	"lockstep/internal/table"
)

// Phase is the coarse match state. Only InMatch engages the rollback
// loop; every other phase drains inputs and skips systems.
type Phase int

const (
	PhaseLobby Phase = iota
	PhaseLoading
	PhaseCountdown
	PhaseInMatch
	PhaseGameOver
)

func (p Phase) String() string {
	switch p {
	case PhaseLobby:
		return "lobby"
	case PhaseLoading:
		return "loading"
	case PhaseCountdown:
		return "countdown"
	case PhaseInMatch:
		return "in_match"
	case PhaseGameOver:
		return "game_over"
	default:
		return "unknown"
	}
}

const countdownTicks = 180

// Stats are cumulative counters a metrics scraper reads.
type Stats struct {
	Frame          int64
	Rollbacks      uint64
	Desyncs        uint64
	RejectedInputs uint64
}

// Config assembles a Session.
type Config struct {
	Sim         config.SimConfig
	Players     int
	LocalPlayer int
	Seed        uint32

	// ReplayPath is where the match recording goes; empty disables
	// recording.
	ReplayPath string

	// EventLogPath enables the async lifecycle event log when set.
	EventLogPath string

	// DumpDir receives desync bundles. Empty means the platform default.
	DumpDir string
}

// Session owns one match end to end.
type Session struct {
	cfg Config

	world    *arena.World
	pipe     *pipeline.Pipeline
	snapRing *rollback.SnapshotRing
	manager  *rollback.Manager
	detector *desync.Detector
	adapter  *ioadapter.Adapter[arena.Input]
	events   *eventlog.Log
	pool     *StatePool

	phase         Phase
	countdown     int
	fault         error
	lastDesync    *desync.DesyncInfo
	lastDumpPath  string
	replayFile    *os.File
	replayWriter  *replay.Writer
	replayFlushed int64 // highest frame already written to the replay
	stats         Stats
	systemNames   []string
}

// New builds a session in the Lobby phase.
func New(cfg Config) (*Session, error) {
	world, err := arena.NewWorld(arena.Config{
		Players:      cfg.Players,
		Seed:         cfg.Seed,
		RingFrames:   cfg.Sim.InputRingFrames,
		LookaheadMax: cfg.Sim.LookaheadMax,
	})
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:           cfg,
		world:         world,
		snapRing:      rollback.NewSnapshotRing(cfg.Sim.SnapshotRingSize),
		events:        eventlog.New(),
		pool:          NewStatePool(cfg.Players),
		phase:         PhaseLobby,
		replayFlushed: -1,
	}
	systems := world.Systems()
	for _, sys := range systems {
		s.systemNames = append(s.systemNames, sys.Name)
	}
	s.pipe = pipeline.New(pipeline.Config{
		Systems:             systems,
		Tables:              world.Tables,
		CurrentFrame:        world.Frame(),
		SnapshotInterval:    cfg.Sim.SnapshotInterval,
		SnapshotSink:        s.snapRing,
		HashHistoryCapacity: cfg.Sim.HashHistoryCapacity,
	})
	s.manager = rollback.New(s.pipe, s.snapRing, world.Tables, world.Frame(), cfg.Sim.MaxRollback)
	s.detector = desync.New(s.pipe.History())
	s.adapter = ioadapter.New(world.Inputs, ioadapter.InputCodec[arena.Input]{
		Encode: arena.EncodeInput,
		Decode: arena.DecodeInput,
	}, s.detector, cfg.LocalPlayer, 256)

	if cfg.EventLogPath != "" {
		if err := s.events.Start(cfg.EventLogPath); err != nil {
			log.Printf("event log disabled: %v", err)
		}
	}
	return s, nil
}

// Adapter returns the transport-facing boundary for this session.
func (s *Session) Adapter() *ioadapter.Adapter[arena.Input] { return s.adapter }

// World returns the live arena world. Tick-thread use only.
func (s *Session) World() *arena.World { return s.world }

// Pool returns the render-facing triple-buffered state views.
func (s *Session) Pool() *StatePool { return s.pool }

// Phase returns the current match phase.
func (s *Session) Phase() Phase { return s.phase }

// Fault returns the match-scoped fault that ended the match, if any.
func (s *Session) Fault() error { return s.fault }

// LastDesync returns the committed desync report, if one was taken.
func (s *Session) LastDesync() *desync.DesyncInfo { return s.lastDesync }

// LastDumpPath returns where the most recent desync bundle was written.
func (s *Session) LastDumpPath() string { return s.lastDumpPath }

// Stats returns a copy of the session counters.
func (s *Session) Stats() Stats {
	out := s.stats
	out.Frame = *s.world.Frame()
	return out
}

// StartMatch moves Lobby -> Loading -> Countdown. Loading has nothing to
// fetch in the reference build, so it completes immediately.
func (s *Session) StartMatch() error {
	if s.phase != PhaseLobby {
		return fmt.Errorf("session: start from phase %s", s.phase)
	}
	s.phase = PhaseLoading
	start := snapshot.Save(table.ToSnapshotters(s.world.Tables()))
	// Seed the ring so a rollback targeting the earliest frames has a
	// snapshot to restore.
	s.snapRing.Put(*s.world.Frame(), start)
	if err := s.openReplay(start); err != nil {
		log.Printf("replay recording disabled: %v", err)
	}
	s.phase = PhaseCountdown
	s.countdown = countdownTicks
	return nil
}

func (s *Session) openReplay(start []byte) error {
	if s.cfg.ReplayPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.cfg.ReplayPath), 0o755); err != nil {
		return err
	}
	f, err := os.Create(s.cfg.ReplayPath)
	if err != nil {
		return err
	}
	w, err := replay.NewWriter(f, s.cfg.Seed, *s.world.Frame(), start)
	if err != nil {
		f.Close()
		return err
	}
	s.replayFile = f
	s.replayWriter = w
	s.replayFlushed = *s.world.Frame()
	return nil
}

// Tick runs one step of the session. In every phase it first applies
// buffered remote inputs; only InMatch advances the simulation.
func (s *Session) Tick() error {
	current := *s.world.Frame()
	for _, err := range s.adapter.ApplyIncoming(current) {
		s.stats.RejectedInputs++
		log.Printf("rejected remote input: %v", err)
	}

	switch s.phase {
	case PhaseCountdown:
		s.countdown--
		if s.countdown <= 0 {
			s.phase = PhaseInMatch
			log.Printf("match started at frame %d", current)
		}
		return nil
	case PhaseInMatch:
	default:
		return nil
	}

	prevRollbacks := s.stats.Rollbacks
	if dirty, ok := s.world.Inputs.EarliestDirty(); ok {
		s.stats.Rollbacks++
		s.events.EmitSimple(eventlog.EventTypeRollback, current, eventlog.RollbackPayload{
			DirtyFrame: dirty,
			ReplayedTo: current,
		})
	}
	if err := s.manager.Advance(s.world.Inputs); err != nil {
		s.stats.Rollbacks = prevRollbacks
		s.failMatch(err)
		return err
	}

	frame := *s.world.Frame()
	if entry, ok := s.pipe.History().Last(); ok {
		s.detector.Observe(entry.Frame)
		s.adapter.QueueLocalHash(entry.Frame, entry.Hash)
		s.events.EmitSimple(eventlog.EventTypeTick, frame, eventlog.TickPayload{Hash: entry.Hash})
	}
	s.flushReplay(frame - s.cfg.Sim.MaxRollback)
	s.publishState()

	if info, ok := s.detector.Take(); ok {
		s.stats.Desyncs++
		s.lastDesync = &info
		s.events.EmitSimple(eventlog.EventTypeDesync, info.Frame, eventlog.DesyncPayload{
			LocalHash:      info.LocalHash,
			RemoteHash:     info.RemoteHash,
			RemotePlayerID: info.RemotePlayerID,
		})
		s.failMatch(fmt.Errorf("session: desync at frame %d against player %d", info.Frame, info.RemotePlayerID))
		return nil
	}
	return nil
}

// flushReplay writes frame records that can no longer be invalidated by a
// rollback, so every recorded hash is final.
func (s *Session) flushReplay(upTo int64) {
	if s.replayWriter == nil {
		return
	}
	for f := s.replayFlushed + 1; f <= upTo; f++ {
		hash, ok := s.pipe.History().Get(f)
		if !ok {
			continue
		}
		rec := replay.FrameRecord{Frame: f, Hash: hash}
		for p := 0; p < s.world.PlayerCount(); p++ {
			if in, confirmed, ok := s.world.Inputs.Get(f, p); ok && confirmed && !in.IsEmpty() {
				rec.Inputs = append(rec.Inputs, replay.InputRecord{
					PlayerID:   uint8(p),
					InputBytes: arena.EncodeInput(in),
				})
			}
		}
		if err := s.replayWriter.WriteFrame(rec); err != nil {
			log.Printf("replay write failed, recording stopped: %v", err)
			s.closeReplay()
			return
		}
		s.replayFlushed = f
	}
}

func (s *Session) closeReplay() {
	if s.replayWriter != nil {
		s.replayWriter.Flush()
		s.replayWriter = nil
	}
	if s.replayFile != nil {
		s.replayFile.Close()
		s.replayFile = nil
	}
}

// failMatch aborts the match, exports the diagnostic bundle and parks the
// session in GameOver. The replay stays on disk for reproduction.
func (s *Session) failMatch(cause error) {
	if s.phase == PhaseGameOver {
		return
	}
	s.fault = cause
	s.phase = PhaseGameOver
	log.Printf("match aborted: %v", cause)
	s.flushReplay(*s.world.Frame())
	s.closeReplay()
	s.exportDump(*s.world.Frame())
}

func (s *Session) exportDump(frame int64) {
	bundle := debugdump.Export(debugdump.Request{
		Frame:   frame,
		Tables:  table.ToSnapshotters(s.world.Tables()),
		Systems: s.systemNames,
		Restore: func(f int64) error {
			data, ok := s.snapRing.Get(f)
			if !ok {
				return fmt.Errorf("session: no retained snapshot for frame %d", f)
			}
			_, err := snapshot.Restore(data, table.ToSnapshotters(s.world.Tables()))
			return err
		},
		PerSystemHashes:  s.manager.DiagnosticPerSystemHashes,
		History:          s.pipe.History(),
		InputHistoryJSON: s.inputHistoryJSON,
		ReplayFilePath:   s.cfg.ReplayPath,
	})

	dir := s.cfg.DumpDir
	if dir == "" {
		var err error
		dir, err = debugdump.DefaultDumpDir()
		if err != nil {
			log.Printf("desync dump skipped: %v", err)
			return
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Printf("desync dump skipped: %v", err)
		return
	}
	path, err := debugdump.WriteToDisk(dir, bundle, time.Now())
	if err != nil {
		log.Printf("desync dump write failed: %v", err)
		return
	}
	if png, err := debugdump.RenderPositionsPNG(dir, frame, s.positionDump()); err == nil {
		log.Printf("desync render written: %s", png)
	}
	s.lastDumpPath = path
	s.events.EmitSimple(eventlog.EventTypeRestore, frame, eventlog.RestorePayload{Succeeded: bundle.RestoreSucceeded, Error: bundle.RestoreError})
	log.Printf("desync dump written: %s", path)
}

func (s *Session) positionDump() []debugdump.PositionSet {
	players := s.world.Players.Rows()
	projectiles := s.world.Projectiles.Rows()
	sets := []debugdump.PositionSet{
		{Name: "players"},
		{Name: "projectiles"},
	}
	for i := range players {
		sets[0].X = append(sets[0].X, fixedToFloat(players[i].Pos.X))
		sets[0].Y = append(sets[0].Y, fixedToFloat(players[i].Pos.Y))
	}
	for i := range projectiles {
		sets[1].X = append(sets[1].X, fixedToFloat(projectiles[i].Pos.X))
		sets[1].Y = append(sets[1].Y, fixedToFloat(projectiles[i].Pos.Y))
	}
	return sets
}

type inputHistoryEntry struct {
	Frame     int64  `json:"frame"`
	Player    int    `json:"player"`
	Confirmed bool   `json:"confirmed"`
	Input     string `json:"input"`
}

func (s *Session) inputHistoryJSON(from, to int64) (json.RawMessage, error) {
	var entries []inputHistoryEntry
	for f := from; f <= to; f++ {
		for p := 0; p < s.world.PlayerCount(); p++ {
			in, confirmed, ok := s.world.Inputs.Get(f, p)
			if !ok {
				continue
			}
			entries = append(entries, inputHistoryEntry{
				Frame:     f,
				Player:    p,
				Confirmed: confirmed,
				Input:     fmt.Sprintf("%+v", in),
			})
		}
	}
	return json.Marshal(entries)
}

// Close stops the event log and finishes the replay file. Safe to call
// more than once.
func (s *Session) Close() {
	s.flushReplay(*s.world.Frame())
	s.closeReplay()
	s.events.Stop()
}

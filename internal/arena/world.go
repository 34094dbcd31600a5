// Package arena is a small deterministic combat simulation built on the
// engine core: two fighters-and-projectiles row tables plus a match
// singleton, advanced by four ordered systems over fixed-point math. It
// exists to exercise every core component end to end and is what the
// reference binaries run.
package arena

import (
	"fmt"

	"lockstep/internal/entity"
	"lockstep/internal/fixedpoint"
	"lockstep/internal/inputring"
	"lockstep/internal/pipeline"
	"lockstep/internal/table"
)

// Capacities. Player rows are one per connected player; projectiles churn.
const (
	MaxPlayers     = 8
	maxProjectiles = 256
)

// Spatial layout: fighters live on a single bounded grid, projectiles on
// a chunked unbounded plane so both index modes stay exercised.
const (
	playerGridSize = 64
	cellSize       = 4 * fixedpoint.One
	chunkGridSize  = 16
)

// Config sizes a World.
type Config struct {
	Players      int
	Seed         uint32
	RingFrames   int   // input ring depth
	LookaheadMax int64 // frames an input may lead current
}

// World owns the arena's tables and input ring. Everything a tick reads
// or writes lives in a table (and is therefore snapshotted) or in the
// input ring; the only other mutable state is the frame counter the
// pipeline advances.
type World struct {
	alloc *entity.Allocator

	Match       *table.Table[MatchRow]
	Players     *table.Table[PlayerRow]
	Projectiles *table.Table[ProjectileRow]

	Inputs *inputring.Ring[Input]

	frame   int64
	players int

	tables []table.Handle
}

// NewWorld builds a world with cfg.Players fighters at deterministic
// spawn positions and the match singleton initialised from cfg.Seed.
func NewWorld(cfg Config) (*World, error) {
	if cfg.Players < 1 || cfg.Players > MaxPlayers {
		return nil, fmt.Errorf("arena: player count %d outside 1..%d", cfg.Players, MaxPlayers)
	}
	if cfg.RingFrames <= 0 {
		cfg.RingFrames = 128
	}

	alloc := entity.NewAllocator()
	w := &World{
		alloc:   alloc,
		players: cfg.Players,
		Match:   table.New(alloc, table.Options[MatchRow]{Name: "match", Kind: KindMatch, Capacity: 1}),
		Players: table.New(alloc, table.Options[PlayerRow]{
			Name:     "players",
			Kind:     KindPlayer,
			Capacity: MaxPlayers,
			Position: func(row *PlayerRow) fixedpoint.Fixed2 { return row.Pos },
			Spatial:  table.NewSingleGridIndex(playerGridSize, cellSize),
		}),
		Projectiles: table.New(alloc, table.Options[ProjectileRow]{
			Name:     "projectiles",
			Kind:     KindProjectile,
			Capacity: maxProjectiles,
			Position: func(row *ProjectileRow) fixedpoint.Fixed2 { return row.Pos },
			Spatial:  table.NewChunkedIndex(chunkGridSize, cellSize, chunkGridSize*cellSize),
		}),
		Inputs: inputring.New[Input](cfg.RingFrames, cfg.Players, cfg.LookaheadMax),
	}
	w.tables = []table.Handle{w.Match, w.Players, w.Projectiles}

	h, err := w.Match.Allocate()
	if err != nil {
		return nil, fmt.Errorf("arena: allocate match singleton: %w", err)
	}
	match, err := w.Match.Get(h)
	if err != nil {
		return nil, err
	}
	match.Seed = cfg.Seed

	for slot := 0; slot < cfg.Players; slot++ {
		h, err := w.Players.Allocate()
		if err != nil {
			return nil, fmt.Errorf("arena: allocate player %d: %w", slot, err)
		}
		row, err := w.Players.Get(h)
		if err != nil {
			return nil, err
		}
		*row = PlayerRow{
			Pos:     spawnPosition(slot),
			HP:      maxHP,
			Stamina: maxStamina,
			Slot:    uint8(slot),
		}
	}
	return w, nil
}

// spawnPosition spreads slots over a fixed lattice so respawns land on
// the same cell every run.
func spawnPosition(slot int) fixedpoint.Fixed2 {
	x := int64(slot%4)*16 - 24
	y := int64(slot/4)*16 - 8
	return fixedpoint.Vec2(fixedpoint.FromInt(x), fixedpoint.FromInt(y))
}

// Tables returns every table in declared order. The slice is cached; the
// pipeline calls this once per tick.
func (w *World) Tables() []table.Handle {
	return w.tables
}

// Frame returns the pointer the pipeline and rollback manager advance.
func (w *World) Frame() *int64 {
	return &w.frame
}

// PlayerCount returns the number of fighter slots in the match.
func (w *World) PlayerCount() int {
	return w.players
}

// MatchState returns the singleton match row.
func (w *World) MatchState() *MatchRow {
	return &w.Match.Rows()[0]
}

// PlayerBySlot returns the row for a fighter slot, scanning the dense
// span. Row order can change across frees, so slots are matched by the
// Slot field, never by row index.
func (w *World) PlayerBySlot(slot int) (*PlayerRow, bool) {
	rows := w.Players.Rows()
	for i := range rows {
		if int(rows[i].Slot) == slot {
			return &rows[i], true
		}
	}
	return nil, false
}

// Systems returns the arena's ordered system list. Movement runs first,
// the spatial rebuild second so the combat and projectile systems query
// this frame's positions, and structural changes (projectile spawns and
// expiries) queue on command buffers for the pipeline to play back.
func (w *World) Systems() []pipeline.System {
	return []pipeline.System{
		{Name: "apply_inputs", Run: w.applyInputs},
		{Name: "rebuild_spatial", Run: w.rebuildSpatial},
		{Name: "resolve_combat", Run: w.resolveCombat},
		{Name: "advance_projectiles", Run: w.advanceProjectiles},
	}
}

// inputFor fetches the input the tick consumes for (frame, slot): the
// confirmed value when one has arrived, otherwise a prediction recorded
// on the ring so a later disagreeing confirmation marks the frame dirty.
func (w *World) inputFor(frame int64, slot int) Input {
	if in, confirmed, ok := w.Inputs.Get(frame, slot); ok && confirmed {
		return in
	}
	in, _ := w.Inputs.Predict(frame, slot)
	return in
}

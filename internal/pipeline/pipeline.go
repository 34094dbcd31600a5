// Package pipeline runs the statically ordered list of systems that
// advance the world one tick, playing back each table's deferred
// structural-change buffer between systems and appending the resulting
// frame hash to a retained history.
package pipeline

import (
	"fmt"

	"lockstep/internal/invariant"
	"lockstep/internal/simhash"
	"lockstep/internal/snapshot"
	"lockstep/internal/table"
)

// System is one ordered step of the pipeline. Run mutates whatever world
// state the closure was built against; structural changes it wants to
// make must go through a table's command buffer, never Allocate/Free
// directly, since the pipeline may still be iterating other systems'
// views of the same tables.
type System struct {
	Name string
	Run  func() error
}

// SnapshotSink receives a snapshot payload at the configured interval.
// internal/rollback.SnapshotRing implements this.
type SnapshotSink interface {
	Put(frame int64, data []byte)
}

// Config wires a Pipeline to the world it advances.
type Config struct {
	Systems []System
	// Tables returns every table in declared order. Called once per tick;
	// implementations should return a cached slice, not rebuild one.
	Tables func() []table.Handle
	// CurrentFrame points at the world's frame counter. The pipeline
	// increments it in place so the rollback manager and the world's own
	// singleton state observe the same value.
	CurrentFrame *int64

	SnapshotInterval int64
	SnapshotSink     SnapshotSink

	HashHistoryCapacity int
}

// Pipeline advances a world one tick at a time.
type Pipeline struct {
	systems          []System
	tables           func() []table.Handle
	currentFrame     *int64
	snapshotInterval int64
	snapshotSink     SnapshotSink

	history *HashHistory

	derivedInvalidators []func()

	perSystemMode   bool
	perSystemHashes []uint64
}

// New builds a Pipeline from cfg.
func New(cfg Config) *Pipeline {
	capacity := cfg.HashHistoryCapacity
	if capacity < 60 {
		capacity = 60
	}
	return &Pipeline{
		systems:          cfg.Systems,
		tables:           cfg.Tables,
		currentFrame:     cfg.CurrentFrame,
		snapshotInterval: cfg.SnapshotInterval,
		snapshotSink:     cfg.SnapshotSink,
		history:          NewHashHistory(capacity),
	}
}

// RegisterDerivedCache adds invalidate to the set called by
// InvalidateDerivedCaches, typically after a rollback restore.
func (p *Pipeline) RegisterDerivedCache(invalidate func()) {
	p.derivedInvalidators = append(p.derivedInvalidators, invalidate)
}

// InvalidateDerivedCaches marks every registered derived cache dirty. The
// first tick after a restore is responsible for rebuilding them.
func (p *Pipeline) InvalidateDerivedCaches() {
	for _, inv := range p.derivedInvalidators {
		inv()
	}
}

// History returns the pipeline's retained frame-hash history.
func (p *Pipeline) History() *HashHistory {
	return p.history
}

func (p *Pipeline) computeFrameHash(tables []table.Handle) uint64 {
	hashes := make([]uint64, len(tables))
	for i, t := range tables {
		hashes[i] = simhash.Table(t.Meta(), t.Slab())
	}
	return simhash.Frame(hashes)
}

// Tick runs every system in order, playing back structural changes after
// each, then advances the frame counter, records the frame hash, and
// takes a periodic snapshot. Systems must not be re-entered concurrently;
// the tick is not interruptible.
func (p *Pipeline) Tick() error {
	tables := p.tables()
	if p.perSystemMode {
		p.perSystemHashes = p.perSystemHashes[:0]
	}

	for _, sys := range p.systems {
		if err := sys.Run(); err != nil {
			return fmt.Errorf("system %q: %w", sys.Name, err)
		}
		for _, t := range tables {
			if err := t.Playback(); err != nil {
				invariant.Panicf(*p.currentFrame, "system %q: command buffer playback on table %q: %v", sys.Name, t.Name(), err)
			}
		}
		if p.perSystemMode {
			p.perSystemHashes = append(p.perSystemHashes, p.computeFrameHash(tables))
		}
	}

	*p.currentFrame++
	h := p.computeFrameHash(tables)
	p.history.Append(*p.currentFrame, h)

	// During rollback replay the snapshot cadence revisits the same
	// frames, so Put lands in the same ring slots and refreshes them
	// with the corrected state; retention never extends mid-replay.
	if p.snapshotInterval > 0 && *p.currentFrame%p.snapshotInterval == 0 {
		p.snapshotSink.Put(*p.currentFrame, snapshot.Save(table.ToSnapshotters(tables)))
	}
	return nil
}

// SetPerSystemHashMode toggles the slower, diagnostic-only mode where the
// frame hash is recomputed after every system instead of once per tick.
// The rollback manager engages this only while resimulating a previously
// diverged frame.
func (p *Pipeline) SetPerSystemHashMode(on bool) {
	p.perSystemMode = on
	if !on {
		p.perSystemHashes = nil
	}
}

// PerSystemHashes returns the vector of post-system hashes computed
// during the most recent Tick, indexed by system. Empty unless per-system
// hash mode was enabled for that tick.
func (p *Pipeline) PerSystemHashes() []uint64 {
	return p.perSystemHashes
}

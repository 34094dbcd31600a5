// Package rollback implements the snapshot ring and the rollback manager:
// the state machine that detects a late-arriving confirmed input
// invalidating a prediction, restores the latest covering snapshot, and
// replays forward to the current frame.
package rollback

import (
	"errors"
	"fmt"

	"lockstep/internal/pipeline"
	"lockstep/internal/table"

	"lockstep/internal/snapshot"
)

// ErrRollbackBudgetExceeded is returned when the frame distance to the
// newest snapshot covering the required target exceeds MaxRollback, or
// when no snapshot covers the target at all.
var ErrRollbackBudgetExceeded = errors.New("rollback: budget exceeded")

// DirtyInputs is the subset of inputring.Ring's surface the manager needs:
// the earliest frame a confirmed input invalidated a prediction for, and
// a way to clear that marker once replay has resolved it.
type DirtyInputs interface {
	EarliestDirty() (int64, bool)
	ClearDirty()
}

// Manager runs the Idle/Rollback state machine. It owns
// no world state itself; it drives a Pipeline and a SnapshotRing that do.
type Manager struct {
	pipeline     *pipeline.Pipeline
	ring         *SnapshotRing
	tables       func() []table.Handle
	currentFrame *int64
	maxRollback  int64
}

// New builds a Manager. currentFrame must be the same pointer given to
// the pipeline's Config.CurrentFrame.
func New(p *pipeline.Pipeline, ring *SnapshotRing, tables func() []table.Handle, currentFrame *int64, maxRollback int64) *Manager {
	return &Manager{pipeline: p, ring: ring, tables: tables, currentFrame: currentFrame, maxRollback: maxRollback}
}

// Advance runs one Idle-state step: if inputs report no dirty frame, it
// simply ticks the pipeline forward. Otherwise it performs a full
// rollback-and-replay to the frame the pipeline had already reached.
func (m *Manager) Advance(inputs DirtyInputs) error {
	dirtyFrame, dirty := inputs.EarliestDirty()
	if !dirty {
		return m.pipeline.Tick()
	}
	return m.rollbackTo(dirtyFrame, inputs)
}

func (m *Manager) rollbackTo(dirtyFrame int64, inputs DirtyInputs) error {
	target := dirtyFrame - 1
	savedCurrent := *m.currentFrame

	s, data, ok := m.ring.FindLatestAtOrBefore(target)
	if !ok {
		return ErrRollbackBudgetExceeded
	}
	if savedCurrent-s > m.maxRollback {
		return ErrRollbackBudgetExceeded
	}

	if err := m.restore(s, data); err != nil {
		return fmt.Errorf("rollback: restore frame %d: %w", s, err)
	}

	// Replay refreshes the ring slots it passes through with corrected
	// state, so a later rollback into this span restores the corrected
	// timeline, not the mispredicted one.
	for *m.currentFrame < savedCurrent {
		if err := m.pipeline.Tick(); err != nil {
			return fmt.Errorf("rollback: replay at frame %d: %w", *m.currentFrame, err)
		}
	}

	inputs.ClearDirty()
	return nil
}

func (m *Manager) restore(frame int64, data []byte) error {
	tables := table.ToSnapshotters(m.tables())
	if _, err := snapshot.Restore(data, tables); err != nil {
		return err
	}
	*m.currentFrame = frame
	m.pipeline.InvalidateDerivedCaches()
	return nil
}

// DiagnosticPerSystemHashes restores the snapshot covering d-1, replays
// forward to d-1 if the retained snapshot is older, then runs exactly one
// tick in per-system hash mode and returns the resulting vector. It does
// not leave the world advanced past d: callers that need the live world
// back at its pre-diagnostic frame must restore again themselves.
func (m *Manager) DiagnosticPerSystemHashes(d int64) ([]uint64, error) {
	target := d - 1
	s, data, ok := m.ring.FindLatestAtOrBefore(target)
	if !ok {
		return nil, ErrRollbackBudgetExceeded
	}
	if err := m.restore(s, data); err != nil {
		return nil, fmt.Errorf("diagnostic resim: restore frame %d: %w", s, err)
	}
	for *m.currentFrame < target {
		if err := m.pipeline.Tick(); err != nil {
			return nil, fmt.Errorf("diagnostic resim: replay at frame %d: %w", *m.currentFrame, err)
		}
	}

	m.pipeline.SetPerSystemHashMode(true)
	defer m.pipeline.SetPerSystemHashMode(false)
	if err := m.pipeline.Tick(); err != nil {
		return nil, fmt.Errorf("diagnostic resim: tick at frame %d: %w", d, err)
	}
	return append([]uint64(nil), m.pipeline.PerSystemHashes()...), nil
}

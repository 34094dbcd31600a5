// Package inputring implements the per-frame, per-player input ring: a
// preallocated 2D buffer of confirmed/predicted input slots with bounded
// lookahead, consumed by the system pipeline and the rollback manager.
package inputring

import "errors"

// ErrFutureInputRejected is returned when a submitted frame lies further
// ahead of current than the ring's configured lookahead allows.
var ErrFutureInputRejected = errors.New("inputring: future input rejected")

// ErrUnknownPlayer is returned when player is outside 0..players.
var ErrUnknownPlayer = errors.New("inputring: unknown player")

type slot[I any] struct {
	input     I
	frame     int64 // the frame this slot currently holds; stale until written
	written   bool
	confirmed bool
	predicted bool
}

// Ring is a fixed-size, per-player ring of input slots. I must be
// comparable so SubmitRemote can detect a predicted value proving wrong
// without the caller supplying an equality function.
type Ring[I comparable] struct {
	frames       int64
	players      int
	lookaheadMax int64

	slots []slot[I]

	lastConfirmed      []I
	lastConfirmedFrame []int64
	lastConfirmedValid []bool

	hasDirty bool
	dirty    int64
}

// New builds a ring holding `frames` frames of history/lookahead for each
// of `players` players, rejecting submissions more than lookaheadMax
// frames ahead of the caller-supplied current frame.
func New[I comparable](frames, players int, lookaheadMax int64) *Ring[I] {
	return &Ring[I]{
		frames:              int64(frames),
		players:             players,
		lookaheadMax:        lookaheadMax,
		slots:               make([]slot[I], int64(frames)*int64(players)),
		lastConfirmed:       make([]I, players),
		lastConfirmedFrame:  make([]int64, players),
		lastConfirmedValid:  make([]bool, players),
	}
}

// Players returns the number of player lanes the ring was built with.
func (r *Ring[I]) Players() int {
	return r.players
}

func (r *Ring[I]) index(frame int64, player int) int {
	return int(frame%r.frames)*r.players + player
}

func (r *Ring[I]) checkBounds(current, frame int64, player int) error {
	if player < 0 || player >= r.players {
		return ErrUnknownPlayer
	}
	if frame > current+r.lookaheadMax {
		return ErrFutureInputRejected
	}
	return nil
}

func (r *Ring[I]) noteDirty(frame int64) {
	if !r.hasDirty || frame < r.dirty {
		r.dirty = frame
		r.hasDirty = true
	}
}

func (r *Ring[I]) confirm(frame int64, player int, input I) {
	s := &r.slots[r.index(frame, player)]
	s.input = input
	s.frame = frame
	s.written = true
	s.confirmed = true
	s.predicted = false

	if !r.lastConfirmedValid[player] || frame >= r.lastConfirmedFrame[player] {
		r.lastConfirmed[player] = input
		r.lastConfirmedFrame[player] = frame
		r.lastConfirmedValid[player] = true
	}
}

// SubmitLocal stores input for frame under the local player, always
// confirmed.
func (r *Ring[I]) SubmitLocal(current, frame int64, player int, input I) error {
	if err := r.checkBounds(current, frame, player); err != nil {
		return err
	}
	r.confirm(frame, player, input)
	return nil
}

// SubmitRemote stores a confirmed input received from a peer. If the slot
// previously held a predicted value for the same frame that differs from
// input, frame becomes (or lowers) the ring's earliest dirty frame.
func (r *Ring[I]) SubmitRemote(current, frame int64, player int, input I) error {
	if err := r.checkBounds(current, frame, player); err != nil {
		return err
	}
	s := &r.slots[r.index(frame, player)]
	if s.written && s.frame == frame && s.predicted && s.input != input {
		r.noteDirty(frame)
	}
	r.confirm(frame, player, input)
	return nil
}

// Predict returns the most recently confirmed input for player (the zero
// value if none has ever been confirmed) and marks frame's slot as
// predicted, not confirmed.
func (r *Ring[I]) Predict(frame int64, player int) (I, error) {
	var zero I
	if player < 0 || player >= r.players {
		return zero, ErrUnknownPlayer
	}
	input := zero
	if r.lastConfirmedValid[player] {
		input = r.lastConfirmed[player]
	}
	s := &r.slots[r.index(frame, player)]
	s.input = input
	s.frame = frame
	s.written = true
	s.confirmed = false
	s.predicted = true
	return input, nil
}

// Get returns the input stored for (frame, player) and whether it was
// confirmed. The third return value, ok, is false if nothing was ever written
// for that exact frame (the slot has since wrapped to a different one).
func (r *Ring[I]) Get(frame int64, player int) (input I, confirmed bool, ok bool) {
	if player < 0 || player >= r.players {
		return input, false, false
	}
	s := &r.slots[r.index(frame, player)]
	if !s.written || s.frame != frame {
		return input, false, false
	}
	return s.input, s.confirmed, true
}

// EarliestDirty returns the lowest frame at which a confirmed remote input
// has proven a prediction wrong since the last ClearDirty, or (0, false)
// if none is pending.
func (r *Ring[I]) EarliestDirty() (int64, bool) {
	return r.dirty, r.hasDirty
}

// ClearDirty resets the dirty marker. Called by the rollback manager once
// it has restored and replayed past the reported frame.
func (r *Ring[I]) ClearDirty() {
	r.dirty = 0
	r.hasDirty = false
}

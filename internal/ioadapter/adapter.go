// Package ioadapter implements the boundary between the
// simulation core and the outside world: submit_local_input,
// submit_remote_input, submit_remote_hash and take_outgoing_messages. The
// core never speaks to the OS or to transport directly; everything it
// needs from either crosses through this package.
package ioadapter

import (
	"github.com/RoaringBitmap/roaring/v2"

	"lockstep/internal/desync"
	"lockstep/internal/inputring"
	"lockstep/internal/netproto"
)

// InputCodec converts a typed input value to and from the opaque byte
// payload InputMsg carries on the wire. The adapter never interprets I
// itself.
type InputCodec[I any] struct {
	Encode func(I) []byte
	Decode func([]byte) (I, error)
}

type incomingInput[I any] struct {
	player int
	frame  int64
	input  I
}

// Adapter is the boundary for one local peer: a typed input ring, the
// shared desync detector, and the inbound/outbound message queues that
// let transport and the core run on different goroutines without either
// side touching the other's state directly.
type Adapter[I comparable] struct {
	ring        *inputring.Ring[I]
	codec       InputCodec[I]
	detector    *desync.Detector
	localPlayer int

	incoming *mpscQueue[incomingInput[I]]
	outgoing *spscQueue[netproto.Message]

	// confirmed tracks, per player, which frames have had a confirmed
	// input applied to the ring. Duplicate datagrams for an
	// already-confirmed (player, frame) are dropped on the core thread,
	// and the contiguous low-water mark feeds ConfirmedThrough. Core
	// thread only.
	confirmed []*roaring.Bitmap
	watermark []int64
}

// New builds an Adapter. queueCapacity is rounded up to the next power of
// two for both the incoming and outgoing queues.
func New[I comparable](ring *inputring.Ring[I], codec InputCodec[I], detector *desync.Detector, localPlayer int, queueCapacity int) *Adapter[I] {
	players := ring.Players()
	a := &Adapter[I]{
		ring:        ring,
		codec:       codec,
		detector:    detector,
		localPlayer: localPlayer,
		incoming:    newMPSCQueue[incomingInput[I]](queueCapacity),
		outgoing:    newSPSCQueue[netproto.Message](queueCapacity),
		confirmed:   make([]*roaring.Bitmap, players),
		watermark:   make([]int64, players),
	}
	for i := range a.confirmed {
		a.confirmed[i] = roaring.New()
		a.watermark[i] = -1
	}
	return a
}

func (a *Adapter[I]) noteConfirmed(player int, frame int64) {
	if player < 0 || player >= len(a.confirmed) || frame < 0 {
		return
	}
	a.confirmed[player].Add(uint32(frame))
	for a.confirmed[player].Contains(uint32(a.watermark[player] + 1)) {
		a.watermark[player]++
	}
}

// ConfirmedThrough returns the highest frame f such that every frame in
// 0..f has a confirmed input for player, or -1 if none do. The rollback
// manager can never be forced behind this point by player's inputs.
func (a *Adapter[I]) ConfirmedThrough(player int) int64 {
	if player < 0 || player >= len(a.watermark) {
		return -1
	}
	return a.watermark[player]
}

// SubmitLocalInput confirms input as the local player's input for frame
// and queues an InputMsg for transmission to peers. Returns the frame it
// was submitted for.
func (a *Adapter[I]) SubmitLocalInput(current, frame int64, input I) (int64, error) {
	if err := a.ring.SubmitLocal(current, frame, a.localPlayer, input); err != nil {
		return 0, err
	}
	a.noteConfirmed(a.localPlayer, frame)
	a.outgoing.tryPush(netproto.InputMsg{
		PlayerID:   uint8(a.localPlayer),
		Frame:      uint32(frame),
		InputBytes: a.codec.Encode(input),
	})
	return frame, nil
}

// QueueLocalHash enqueues the local hash computed for frame for relay to
// peers. Called once per tick after the pipeline finalises the frame hash.
func (a *Adapter[I]) QueueLocalHash(frame int64, hash uint64) {
	a.outgoing.tryPush(netproto.HashMsg{PlayerID: uint8(a.localPlayer), Frame: uint32(frame), Hash: hash})
}

// SubmitRemoteInput buffers a peer's input for later application by
// ApplyIncoming. Safe to call from a transport-reading goroutine
// concurrently with the core thread.
func (a *Adapter[I]) SubmitRemoteInput(player int, frame int64, input I) {
	a.incoming.tryPush(incomingInput[I]{player: player, frame: frame, input: input})
}

// SubmitRemoteHash forwards a peer's reported frame hash to the desync
// detector, which is already safe for concurrent use on its own.
func (a *Adapter[I]) SubmitRemoteHash(player int, frame int64, hash uint64) {
	if a.detector != nil {
		a.detector.ReceiveRemoteHash(frame, player, hash)
	}
}

// ApplyIncoming drains every buffered remote input onto the ring,
// returning the submission errors (e.g. a rejected future input) in
// encounter order. Must run on the core/tick thread only, at the
// poll-transport suspension point between ticks.
func (a *Adapter[I]) ApplyIncoming(current int64) []error {
	var errs []error
	for {
		item, ok := a.incoming.tryPop()
		if !ok {
			return errs
		}
		// A frame already confirmed for this player is a duplicate
		// datagram; confirmed inputs never change, so it is dropped
		// without touching the ring.
		if item.player >= 0 && item.player < len(a.confirmed) && item.frame >= 0 &&
			a.confirmed[item.player].Contains(uint32(item.frame)) {
			continue
		}
		if err := a.ring.SubmitRemote(current, item.frame, item.player, item.input); err != nil {
			errs = append(errs, err)
			continue
		}
		a.noteConfirmed(item.player, item.frame)
	}
}

// TakeOutgoingMessages drains up to max queued outgoing messages for the
// transport layer to send. Returns fewer than max if the queue held less.
func (a *Adapter[I]) TakeOutgoingMessages(max int) []netproto.Message {
	buf := make([]netproto.Message, max)
	n := a.outgoing.drain(buf)
	return buf[:n]
}

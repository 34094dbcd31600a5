// Package desync implements the background hash-comparison detector: it
// receives (frame, hash) tuples from remote peers, compares them against
// the local frame-hash history, and commits at most one DesyncInfo per
// match to a mutex-protected single-slot mailbox for the main tick loop to
// drain.
package desync

import "sync"

// DesyncInfo describes the first frame at which a remote peer's hash
// diverged from the local hash.
type DesyncInfo struct {
	Frame          int64
	LocalHash      uint64
	RemoteHash     uint64
	RemotePlayerID int
}

// LocalHashSource is the subset of internal/pipeline.HashHistory's surface
// the detector needs: the local hash for an already-finalised frame.
// internal/pipeline.HashHistory satisfies this.
type LocalHashSource interface {
	Get(frame int64) (uint64, bool)
}

type pendingRemote struct {
	player int
	hash   uint64
}

// Detector accumulates remote hash reports and compares each against the
// local hash once that frame has been finalised. It is safe for concurrent
// use: ReceiveRemoteHash is meant to be called from a transport-reading
// goroutine while Observe and Take are called from the tick loop.
type Detector struct {
	mu        sync.Mutex
	source    LocalHashSource
	pending   map[int64][]pendingRemote
	committed bool
	info      DesyncInfo
	hasInfo   bool
}

// New builds a Detector reading local hashes from source.
func New(source LocalHashSource) *Detector {
	return &Detector{
		source:  source,
		pending: make(map[int64][]pendingRemote),
	}
}

// ReceiveRemoteHash records a peer's reported hash for frame. If the local
// hash for frame is already finalised, the comparison happens immediately;
// otherwise the report is parked until Observe(frame) is called. Reports
// are ignored once a desync has already been committed this match.
func (d *Detector) ReceiveRemoteHash(frame int64, remotePlayerID int, hash uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.committed {
		return
	}
	if localHash, ok := d.source.Get(frame); ok {
		d.compareLocked(frame, remotePlayerID, hash, localHash)
		return
	}
	d.pending[frame] = append(d.pending[frame], pendingRemote{player: remotePlayerID, hash: hash})
}

// Observe must be called once per tick, after the tick's frame hash has
// been appended to the local history, to resolve any remote reports for
// that frame that arrived before it was finalised.
func (d *Detector) Observe(frame int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.committed {
		return
	}
	pending, ok := d.pending[frame]
	if !ok {
		return
	}
	delete(d.pending, frame)
	localHash, ok := d.source.Get(frame)
	if !ok {
		return
	}
	for _, p := range pending {
		if d.committed {
			break
		}
		d.compareLocked(frame, p.player, p.hash, localHash)
	}
}

func (d *Detector) compareLocked(frame int64, remotePlayerID int, remoteHash, localHash uint64) {
	if remoteHash == localHash {
		return
	}
	d.committed = true
	d.hasInfo = true
	d.info = DesyncInfo{
		Frame:          frame,
		LocalHash:      localHash,
		RemoteHash:     remoteHash,
		RemotePlayerID: remotePlayerID,
	}
}

// Take drains the mailbox, returning the committed DesyncInfo at most once.
func (d *Detector) Take() (DesyncInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.hasInfo {
		return DesyncInfo{}, false
	}
	info := d.info
	d.hasInfo = false
	return info, true
}

// Reset clears the commit latch and any parked reports, allowing the
// detector to capture a new first desync. Called after a match restarts
// from a fresh snapshot.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.committed = false
	d.hasInfo = false
	d.info = DesyncInfo{}
	d.pending = make(map[int64][]pendingRemote)
}

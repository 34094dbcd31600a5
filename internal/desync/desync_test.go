package desync_test

import (
	"testing"

	"lockstep/internal/desync"
	"lockstep/internal/pipeline"
)

func TestReceiveRemoteHashImmediateMatch(t *testing.T) {
	history := pipeline.NewHashHistory(60)
	history.Append(50, 111)

	d := desync.New(history)
	d.ReceiveRemoteHash(50, 2, 111)

	if _, ok := d.Take(); ok {
		t.Fatalf("Take() reported a desync for matching hashes")
	}
}

func TestReceiveRemoteHashImmediateMismatch(t *testing.T) {
	history := pipeline.NewHashHistory(60)
	history.Append(50, 111)

	d := desync.New(history)
	d.ReceiveRemoteHash(50, 2, 222)

	info, ok := d.Take()
	if !ok {
		t.Fatalf("Take() = (_, false), want a committed desync")
	}
	want := desync.DesyncInfo{Frame: 50, LocalHash: 111, RemoteHash: 222, RemotePlayerID: 2}
	if info != want {
		t.Errorf("Take() = %+v, want %+v", info, want)
	}
}

func TestRemoteHashArrivesBeforeLocal(t *testing.T) {
	history := pipeline.NewHashHistory(60)
	d := desync.New(history)

	// Remote reports frame 50 before the local tick loop has reached it.
	d.ReceiveRemoteHash(50, 2, 999)
	if _, ok := d.Take(); ok {
		t.Fatalf("Take() reported a desync before the local frame was known")
	}

	// The local tick loop catches up and finalises frame 50.
	history.Append(50, 111)
	d.Observe(50)

	info, ok := d.Take()
	if !ok {
		t.Fatalf("Observe did not resolve the parked mismatch")
	}
	if info.Frame != 50 || info.LocalHash != 111 || info.RemoteHash != 999 {
		t.Errorf("Take() = %+v, want frame 50 local=111 remote=999", info)
	}
}

func TestFirstDesyncOnlyUntilReset(t *testing.T) {
	history := pipeline.NewHashHistory(60)
	history.Append(50, 111)
	history.Append(70, 222)

	d := desync.New(history)
	d.ReceiveRemoteHash(50, 1, 999)
	if _, ok := d.Take(); !ok {
		t.Fatalf("expected first desync to commit")
	}

	// A second mismatch at a later frame must be ignored until Reset.
	d.ReceiveRemoteHash(70, 1, 888)
	if _, ok := d.Take(); ok {
		t.Errorf("second desync was reported before Reset")
	}

	d.Reset()
	d.ReceiveRemoteHash(70, 1, 888)
	info, ok := d.Take()
	if !ok {
		t.Fatalf("expected desync to commit again after Reset")
	}
	if info.Frame != 70 {
		t.Errorf("Frame = %d, want 70", info.Frame)
	}
}

func TestTakeDrainsMailboxOnce(t *testing.T) {
	history := pipeline.NewHashHistory(60)
	history.Append(50, 111)

	d := desync.New(history)
	d.ReceiveRemoteHash(50, 1, 222)

	if _, ok := d.Take(); !ok {
		t.Fatalf("expected a desync on first Take")
	}
	if _, ok := d.Take(); ok {
		t.Errorf("Take() returned a value twice from a single-slot mailbox")
	}
}

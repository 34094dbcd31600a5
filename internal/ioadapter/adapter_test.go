package ioadapter_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"lockstep/internal/desync"
	"lockstep/internal/inputring"
	"lockstep/internal/ioadapter"
	"lockstep/internal/netproto"
	"lockstep/internal/pipeline"
)

type cmd struct {
	Move int32
}

var codec = ioadapter.InputCodec[cmd]{
	Encode: func(c cmd) []byte {
		buf := new(bytes.Buffer)
		binary.Write(buf, binary.LittleEndian, c.Move)
		return buf.Bytes()
	},
	Decode: func(data []byte) (cmd, error) {
		var c cmd
		err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &c.Move)
		return c, err
	},
}

func TestSubmitLocalInputConfirmsAndQueuesOutgoing(t *testing.T) {
	ring := inputring.New[cmd](16, 2, 8)
	a := ioadapter.New(ring, codec, nil, 0, 8)

	frame, err := a.SubmitLocalInput(0, 1, cmd{Move: 7})
	if err != nil {
		t.Fatalf("SubmitLocalInput: %v", err)
	}
	if frame != 1 {
		t.Errorf("frame = %d, want 1", frame)
	}

	v, confirmed, ok := ring.Get(1, 0)
	if !ok || !confirmed || v.Move != 7 {
		t.Errorf("ring.Get(1,0) = (%+v, %v, %v), want confirmed Move=7", v, confirmed, ok)
	}

	msgs := a.TakeOutgoingMessages(8)
	if len(msgs) != 1 {
		t.Fatalf("TakeOutgoingMessages() returned %d messages, want 1", len(msgs))
	}
	in, ok := msgs[0].(netproto.InputMsg)
	if !ok {
		t.Fatalf("message type = %T, want netproto.InputMsg", msgs[0])
	}
	if in.PlayerID != 0 || in.Frame != 1 {
		t.Errorf("InputMsg = %+v", in)
	}
	decoded, err := codec.Decode(in.InputBytes)
	if err != nil || decoded.Move != 7 {
		t.Errorf("decoded input = %+v, err %v, want Move=7", decoded, err)
	}
}

func TestSubmitRemoteInputBufferedUntilApplied(t *testing.T) {
	ring := inputring.New[cmd](16, 2, 8)
	a := ioadapter.New(ring, codec, nil, 0, 8)

	a.SubmitRemoteInput(1, 3, cmd{Move: 42})
	if _, _, ok := ring.Get(3, 1); ok {
		t.Fatalf("remote input visible on the ring before ApplyIncoming")
	}

	if errs := a.ApplyIncoming(0); len(errs) != 0 {
		t.Fatalf("ApplyIncoming returned errors: %v", errs)
	}
	v, confirmed, ok := ring.Get(3, 1)
	if !ok || !confirmed || v.Move != 42 {
		t.Errorf("ring.Get(3,1) = (%+v, %v, %v), want confirmed Move=42", v, confirmed, ok)
	}
}

func TestApplyIncomingReportsRejectedFutureInput(t *testing.T) {
	ring := inputring.New[cmd](16, 2, 2) // lookahead 2
	a := ioadapter.New(ring, codec, nil, 0, 8)

	a.SubmitRemoteInput(1, 100, cmd{Move: 1}) // current=0, way beyond lookahead
	errs := a.ApplyIncoming(0)
	if len(errs) != 1 {
		t.Fatalf("ApplyIncoming() returned %d errors, want 1", len(errs))
	}
}

func TestSubmitRemoteHashForwardsToDetector(t *testing.T) {
	history := pipeline.NewHashHistory(60)
	history.Append(10, 555)

	det := desync.New(history)
	ring := inputring.New[cmd](16, 2, 8)
	a := ioadapter.New(ring, codec, det, 0, 8)

	a.SubmitRemoteHash(1, 10, 999)

	info, ok := det.Take()
	if !ok {
		t.Fatalf("expected a desync to be committed")
	}
	if info.Frame != 10 || info.LocalHash != 555 || info.RemoteHash != 999 || info.RemotePlayerID != 1 {
		t.Errorf("DesyncInfo = %+v", info)
	}
}

func TestQueueLocalHashAppearsInOutgoing(t *testing.T) {
	ring := inputring.New[cmd](16, 2, 8)
	a := ioadapter.New(ring, codec, nil, 0, 8)

	a.QueueLocalHash(5, 123)
	msgs := a.TakeOutgoingMessages(8)
	if len(msgs) != 1 {
		t.Fatalf("TakeOutgoingMessages() returned %d messages, want 1", len(msgs))
	}
	hash, ok := msgs[0].(netproto.HashMsg)
	if !ok {
		t.Fatalf("message type = %T, want netproto.HashMsg", msgs[0])
	}
	if hash.Frame != 5 || hash.Hash != 123 {
		t.Errorf("HashMsg = %+v", hash)
	}
}

func TestDuplicateRemoteInputDropped(t *testing.T) {
	ring := inputring.New[cmd](16, 2, 8)
	a := ioadapter.New(ring, codec, nil, 0, 8)

	a.SubmitRemoteInput(1, 3, cmd{Move: 5})
	if errs := a.ApplyIncoming(3); len(errs) != 0 {
		t.Fatalf("apply: %v", errs)
	}

	// Resend the same frame with a different value; the duplicate must
	// be dropped rather than overwrite the confirmed input.
	a.SubmitRemoteInput(1, 3, cmd{Move: 9})
	if errs := a.ApplyIncoming(3); len(errs) != 0 {
		t.Fatalf("apply duplicate: %v", errs)
	}
	got, confirmed, ok := ring.Get(3, 1)
	if !ok || !confirmed {
		t.Fatal("confirmed input lost")
	}
	if got.Move != 5 {
		t.Fatalf("duplicate overwrote confirmed input: Move = %d", got.Move)
	}
	if _, dirty := ring.EarliestDirty(); dirty {
		t.Fatal("duplicate datagram marked the ring dirty")
	}
}

func TestConfirmedThroughWatermark(t *testing.T) {
	ring := inputring.New[cmd](32, 2, 16)
	a := ioadapter.New(ring, codec, nil, 0, 16)

	if got := a.ConfirmedThrough(1); got != -1 {
		t.Fatalf("empty watermark = %d, want -1", got)
	}

	// Frames 0,1,2 then a gap at 3, then 4.
	for _, f := range []int64{0, 1, 2, 4} {
		a.SubmitRemoteInput(1, f, cmd{Move: int32(f)})
	}
	if errs := a.ApplyIncoming(0); len(errs) != 0 {
		t.Fatalf("apply: %v", errs)
	}
	if got := a.ConfirmedThrough(1); got != 2 {
		t.Fatalf("watermark = %d, want 2", got)
	}

	a.SubmitRemoteInput(1, 3, cmd{Move: 3})
	if errs := a.ApplyIncoming(0); len(errs) != 0 {
		t.Fatalf("apply: %v", errs)
	}
	if got := a.ConfirmedThrough(1); got != 4 {
		t.Fatalf("watermark after gap fill = %d, want 4", got)
	}
}

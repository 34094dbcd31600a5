package inputring

import "testing"

type cmd struct {
	Move int32
}

func TestSubmitLocalAndGet(t *testing.T) {
	r := New[cmd](8, 2, 3)
	if err := r.SubmitLocal(5, 5, 0, cmd{Move: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	input, confirmed, ok := r.Get(5, 0)
	if !ok || !confirmed || input.Move != 1 {
		t.Errorf("Get = %+v confirmed=%v ok=%v, want Move=1 confirmed=true ok=true", input, confirmed, ok)
	}
}

func TestFutureInputRejected(t *testing.T) {
	r := New[cmd](8, 2, 3)
	if err := r.SubmitLocal(10, 14, 0, cmd{}); err != ErrFutureInputRejected {
		t.Errorf("SubmitLocal beyond lookahead = %v, want ErrFutureInputRejected", err)
	}
	if err := r.SubmitLocal(10, 13, 0, cmd{}); err != nil {
		t.Errorf("SubmitLocal at the lookahead boundary should succeed: %v", err)
	}
}

func TestPredictFallsBackToZeroThenLastConfirmed(t *testing.T) {
	r := New[cmd](8, 2, 3)

	got, err := r.Predict(0, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != (cmd{}) {
		t.Errorf("Predict with no history = %+v, want zero value", got)
	}

	if err := r.SubmitLocal(5, 5, 1, cmd{Move: 9}); err != nil {
		t.Fatal(err)
	}
	got, _ = r.Predict(6, 1)
	if got.Move != 9 {
		t.Errorf("Predict after a confirmation = %+v, want Move=9", got)
	}

	_, confirmed, ok := r.Get(6, 1)
	if !ok || confirmed {
		t.Errorf("predicted slot should read back ok=true confirmed=false, got ok=%v confirmed=%v", ok, confirmed)
	}
}

func TestSubmitRemoteMarksDirtyOnMismatch(t *testing.T) {
	r := New[cmd](16, 2, 5)

	r.Predict(10, 0) // slot 10 predicted as zero value

	if err := r.SubmitRemote(12, 10, 0, cmd{Move: 7}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	frame, dirty := r.EarliestDirty()
	if !dirty || frame != 10 {
		t.Errorf("EarliestDirty = (%d, %v), want (10, true)", frame, dirty)
	}

	r.ClearDirty()
	if _, dirty := r.EarliestDirty(); dirty {
		t.Error("ClearDirty should reset the dirty flag")
	}
}

func TestSubmitRemoteAgreeingPredictionStaysClean(t *testing.T) {
	r := New[cmd](16, 2, 5)
	r.Predict(10, 0)
	if err := r.SubmitRemote(12, 10, 0, cmd{}); err != nil {
		t.Fatal(err)
	}
	if _, dirty := r.EarliestDirty(); dirty {
		t.Error("a confirmed input matching the prediction must not mark dirty")
	}
}

func TestUnknownPlayerRejected(t *testing.T) {
	r := New[cmd](8, 2, 3)
	if err := r.SubmitLocal(0, 0, 5, cmd{}); err != ErrUnknownPlayer {
		t.Errorf("SubmitLocal(unknown player) = %v, want ErrUnknownPlayer", err)
	}
}

package simhash

import "testing"

func TestTableHashDeterministic(t *testing.T) {
	meta := []byte{1, 2, 3, 4}
	slab := []byte{5, 6, 7, 8, 9}
	first := Table(meta, slab)
	for i := 0; i < 50; i++ {
		if got := Table(meta, slab); got != first {
			t.Fatalf("Table hash not deterministic: got %d, want %d", got, first)
		}
	}
}

func TestTableHashSensitiveToBytes(t *testing.T) {
	a := Table([]byte{1, 2, 3}, []byte{4, 5, 6})
	b := Table([]byte{1, 2, 3}, []byte{4, 5, 7})
	if a == b {
		t.Error("changing a single slab byte must change the hash")
	}
}

func TestFrameHashOrderSensitive(t *testing.T) {
	h1 := Frame([]uint64{1, 2, 3})
	h2 := Frame([]uint64{3, 2, 1})
	if h1 == h2 {
		t.Error("Frame must be sensitive to declared table order")
	}
}

func TestFrameHashEmptyIsStable(t *testing.T) {
	if Frame(nil) != Frame([]uint64{}) {
		t.Error("Frame of no tables must be stable regardless of nil vs empty slice")
	}
}

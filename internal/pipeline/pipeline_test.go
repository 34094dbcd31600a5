package pipeline_test

import (
	"testing"

	"lockstep/internal/entity"
	"lockstep/internal/fixedpoint"
	"lockstep/internal/pipeline"
	"lockstep/internal/table"
)

type unit struct {
	Pos fixedpoint.Fixed2
	HP  int32
}

type fakeSink struct {
	puts map[int64][]byte
}

func (s *fakeSink) Put(frame int64, data []byte) {
	if s.puts == nil {
		s.puts = map[int64][]byte{}
	}
	s.puts[frame] = data
}

func buildPipeline(t *testing.T) (*pipeline.Pipeline, *table.Table[unit], *int64, *fakeSink) {
	t.Helper()
	alloc := entity.NewAllocator()
	units := table.New(alloc, table.Options[unit]{Name: "units", Kind: 1, Capacity: 4})
	h, err := units.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	row, _ := units.Get(h)
	row.HP = 10

	var frame int64
	sink := &fakeSink{}

	moveSystem := pipeline.System{
		Name: "move",
		Run: func() error {
			for i := range units.Rows() {
				units.Rows()[i].HP++
			}
			return nil
		},
	}

	p := pipeline.New(pipeline.Config{
		Systems:          []pipeline.System{moveSystem},
		Tables:           func() []table.Handle { return []table.Handle{units} },
		CurrentFrame:     &frame,
		SnapshotInterval: 2,
		SnapshotSink:     sink,
	})
	return p, units, &frame, sink
}

func TestTickAdvancesFrameAndHashHistory(t *testing.T) {
	p, units, frame, _ := buildPipeline(t)

	if err := p.Tick(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *frame != 1 {
		t.Errorf("frame = %d, want 1", *frame)
	}
	if units.Rows()[0].HP != 11 {
		t.Errorf("HP = %d, want 11 (system should have run)", units.Rows()[0].HP)
	}
	last, ok := p.History().Last()
	if !ok || last.Frame != 1 {
		t.Errorf("History().Last() = %+v, ok=%v, want frame 1", last, ok)
	}
}

func TestTickTakesPeriodicSnapshot(t *testing.T) {
	p, _, frame, sink := buildPipeline(t)

	if err := p.Tick(); err != nil {
		t.Fatal(err)
	}
	if _, ok := sink.puts[*frame]; ok {
		t.Error("snapshot should not be taken on a non-multiple frame")
	}
	if err := p.Tick(); err != nil {
		t.Fatal(err)
	}
	if _, ok := sink.puts[*frame]; !ok {
		t.Errorf("snapshot should be taken on frame %d (interval 2)", *frame)
	}
}

func TestDeterministicHashAcrossTwoRuns(t *testing.T) {
	p1, _, _, _ := buildPipeline(t)
	p2, _, _, _ := buildPipeline(t)

	for i := 0; i < 5; i++ {
		if err := p1.Tick(); err != nil {
			t.Fatal(err)
		}
		if err := p2.Tick(); err != nil {
			t.Fatal(err)
		}
	}
	h1, _ := p1.History().Last()
	h2, _ := p2.History().Last()
	if h1.Hash != h2.Hash {
		t.Errorf("two identical pipelines diverged: %d vs %d", h1.Hash, h2.Hash)
	}
}

func TestPerSystemHashMode(t *testing.T) {
	p, _, _, _ := buildPipeline(t)
	p.SetPerSystemHashMode(true)
	if err := p.Tick(); err != nil {
		t.Fatal(err)
	}
	if len(p.PerSystemHashes()) != 1 {
		t.Errorf("PerSystemHashes() len = %d, want 1 (one system)", len(p.PerSystemHashes()))
	}
}

func TestInvalidateDerivedCaches(t *testing.T) {
	p, _, _, _ := buildPipeline(t)
	called := false
	p.RegisterDerivedCache(func() { called = true })
	p.InvalidateDerivedCaches()
	if !called {
		t.Error("InvalidateDerivedCaches should invoke every registered invalidator")
	}
}

package arena

import (
	"bytes"
	"testing"

	"lockstep/internal/entity"
	"lockstep/internal/fixedpoint"
	"lockstep/internal/pipeline"
	"lockstep/internal/rollback"
	"lockstep/internal/snapshot"
	"lockstep/internal/table"
)

type runner struct {
	world *World
	pipe  *pipeline.Pipeline
	ring  *rollback.SnapshotRing
}

func newRunner(t *testing.T, players int, seed uint32) *runner {
	t.Helper()
	w, err := NewWorld(Config{Players: players, Seed: seed, RingFrames: 128, LookaheadMax: 8})
	if err != nil {
		t.Fatalf("NewWorld: %v", err)
	}
	ring := rollback.NewSnapshotRing(32)
	pipe := pipeline.New(pipeline.Config{
		Systems:          w.Systems(),
		Tables:           w.Tables,
		CurrentFrame:     w.Frame(),
		SnapshotInterval: 1,
		SnapshotSink:     ring,
	})
	return &runner{world: w, pipe: pipe, ring: ring}
}

// scriptedInput oscillates both fighters so they cross through melee
// range repeatedly, with fire and attack phases layered on, exercising
// movement, projectiles, melee, dodges, deaths and respawns from inputs
// alone.
func scriptedInput(frame int64, slot int) Input {
	in := Input{AimX: 1000}
	towards := int8(1)
	if slot%2 == 1 {
		in.AimX = -1000
		towards = -1
	}
	if (frame/75)%2 == 0 {
		in.MoveX = towards
	} else {
		in.MoveX = -towards
	}
	switch {
	case frame < 60:
	case frame < 180:
		in.Buttons = ButtonFire
	default:
		in.Buttons = ButtonAttack | ButtonFire
	}
	if frame%97 == 0 {
		in.Buttons |= ButtonDodge
	}
	return in
}

func (r *runner) run(t *testing.T, frames int64) []pipeline.HashEntry {
	t.Helper()
	for *r.world.Frame() < frames {
		next := *r.world.Frame() + 1
		for slot := 0; slot < r.world.PlayerCount(); slot++ {
			if err := r.world.Inputs.SubmitLocal(*r.world.Frame(), next, slot, scriptedInput(next, slot)); err != nil {
				t.Fatalf("submit input for frame %d: %v", next, err)
			}
		}
		if err := r.pipe.Tick(); err != nil {
			t.Fatalf("tick at frame %d: %v", *r.world.Frame(), err)
		}
	}
	return r.pipe.History().Recent(60)
}

func TestScriptedMatchReplaysEqual(t *testing.T) {
	a := newRunner(t, 2, 42)
	b := newRunner(t, 2, 42)

	hashesA := a.run(t, 600)
	hashesB := b.run(t, 600)

	if len(hashesA) != len(hashesB) {
		t.Fatalf("hash history lengths differ: %d vs %d", len(hashesA), len(hashesB))
	}
	for i := range hashesA {
		if hashesA[i] != hashesB[i] {
			t.Fatalf("hash history diverges at entry %d: frame %d hash %#x vs frame %d hash %#x",
				i, hashesA[i].Frame, hashesA[i].Hash, hashesB[i].Frame, hashesB[i].Hash)
		}
	}

	finalA := snapshot.Save(table.ToSnapshotters(a.world.Tables()))
	finalB := snapshot.Save(table.ToSnapshotters(b.world.Tables()))
	if !bytes.Equal(finalA, finalB) {
		t.Fatal("final snapshots differ between identical runs")
	}
}

func TestMeleeComboKillsAndRespawns(t *testing.T) {
	r := newRunner(t, 2, 3)
	p0, _ := r.world.PlayerBySlot(0)
	p1, _ := r.world.PlayerBySlot(1)
	p1.Pos = p0.Pos.Add(fixedpoint.Vec2(fixedpoint.One, 0))

	attack := Input{AimX: 1000, Buttons: ButtonAttack}
	for tick := 0; tick < 200; tick++ {
		next := *r.world.Frame() + 1
		if err := r.world.Inputs.SubmitLocal(*r.world.Frame(), next, 0, attack); err != nil {
			t.Fatalf("submit: %v", err)
		}
		if err := r.world.Inputs.SubmitLocal(*r.world.Frame(), next, 1, Input{}); err != nil {
			t.Fatalf("submit: %v", err)
		}
		if err := r.pipe.Tick(); err != nil {
			t.Fatalf("tick: %v", err)
		}
	}

	p0, _ = r.world.PlayerBySlot(0)
	p1, _ = r.world.PlayerBySlot(1)
	if p1.Deaths == 0 {
		t.Fatal("200 ticks of point-blank attacks never killed the target")
	}
	if p0.Kills != p1.Deaths {
		t.Fatalf("kill credit mismatch: %d kills vs %d deaths", p0.Kills, p1.Deaths)
	}
	match := r.world.MatchState()
	if match.TotalKills != p1.Deaths {
		t.Fatalf("match total %d, want %d", match.TotalKills, p1.Deaths)
	}
	if match.FirstBlood == entity.Invalid {
		t.Fatal("first blood never latched")
	}
	if p1.HP != maxHP {
		t.Fatalf("respawned target HP = %d, want %d", p1.HP, maxHP)
	}
}

func TestProjectileFlightAndHit(t *testing.T) {
	r := newRunner(t, 2, 5)
	p0, _ := r.world.PlayerBySlot(0)
	p1, _ := r.world.PlayerBySlot(1)
	p1.Pos = p0.Pos.Add(fixedpoint.Vec2(6*fixedpoint.One, 0))

	for tick := 0; tick < 16; tick++ {
		next := *r.world.Frame() + 1
		in := Input{}
		if tick == 0 {
			in = Input{AimX: 1000, Buttons: ButtonFire}
		}
		if err := r.world.Inputs.SubmitLocal(*r.world.Frame(), next, 0, in); err != nil {
			t.Fatalf("submit: %v", err)
		}
		if err := r.world.Inputs.SubmitLocal(*r.world.Frame(), next, 1, Input{}); err != nil {
			t.Fatalf("submit: %v", err)
		}
		if err := r.pipe.Tick(); err != nil {
			t.Fatalf("tick: %v", err)
		}
		if tick == 0 && r.world.Projectiles.Count() != 1 {
			t.Fatalf("after fire tick, projectile count = %d, want 1", r.world.Projectiles.Count())
		}
	}

	p1, _ = r.world.PlayerBySlot(1)
	if p1.HP != maxHP-projectileDamage {
		t.Fatalf("target HP = %d, want %d", p1.HP, maxHP-projectileDamage)
	}
	if r.world.Projectiles.Count() != 0 {
		t.Fatalf("projectile not freed after hit: count = %d", r.world.Projectiles.Count())
	}
}

func TestSnapshotRoundTripMinimalWorld(t *testing.T) {
	w, err := NewWorld(Config{Players: 1, Seed: 1})
	if err != nil {
		t.Fatalf("NewWorld: %v", err)
	}
	tables := table.ToSnapshotters(w.Tables())

	first := snapshot.Save(tables)
	if _, err := snapshot.Restore(first, tables); err != nil {
		t.Fatalf("restore: %v", err)
	}
	second := snapshot.Save(tables)
	if !bytes.Equal(first, second) {
		t.Fatal("save -> restore -> save changed bytes for the minimal world")
	}
}

func TestSnapshotRoundTripFullWorld(t *testing.T) {
	w, err := NewWorld(Config{Players: MaxPlayers, Seed: 9})
	if err != nil {
		t.Fatalf("NewWorld: %v", err)
	}
	for w.Projectiles.Count() < maxProjectiles {
		h, err := w.Projectiles.Allocate()
		if err != nil {
			t.Fatalf("fill projectiles: %v", err)
		}
		row, err := w.Projectiles.Get(h)
		if err != nil {
			t.Fatalf("get projectile: %v", err)
		}
		row.TTL = int32(w.Projectiles.Count())
		row.Damage = projectileDamage
	}

	tables := table.ToSnapshotters(w.Tables())
	first := snapshot.Save(tables)
	if _, err := snapshot.Restore(first, tables); err != nil {
		t.Fatalf("restore: %v", err)
	}
	second := snapshot.Save(tables)
	if !bytes.Equal(first, second) {
		t.Fatal("save -> restore -> save changed bytes for the full world")
	}
}

func TestInputCodecRoundTrip(t *testing.T) {
	cases := []Input{
		{},
		{MoveX: 1, MoveY: -1, AimX: 1000, AimY: -1000, Buttons: ButtonAttack},
		{MoveX: -1, Buttons: ButtonFire | ButtonDodge},
	}
	for _, in := range cases {
		got, err := DecodeInput(EncodeInput(in))
		if err != nil {
			t.Fatalf("decode %+v: %v", in, err)
		}
		if got != in {
			t.Fatalf("round trip changed input: %+v -> %+v", in, got)
		}
	}
	if _, err := DecodeInput([]byte{1, 2, 3}); err == nil {
		t.Fatal("short payload accepted")
	}
}

func TestEmptyInputPredicate(t *testing.T) {
	if !(Input{}).IsEmpty() {
		t.Fatal("zero input not empty")
	}
	if (Input{Buttons: ButtonAttack}).IsEmpty() {
		t.Fatal("attack input reported empty")
	}
}

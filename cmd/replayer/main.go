// The headless replayer validates a recorded match: it re-executes the
// replay from its embedded start snapshot and checks every frame hash
// against the recording, either as a straight single pass or through
// artificially delayed inputs that force the rollback path. Exit status
// 0 means every hash matched; any divergence prints a diagnostic line
// and exits non-zero.
package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"lockstep/internal/arena"
	"lockstep/internal/config"
	"lockstep/internal/pipeline"
	"lockstep/internal/replay"
	"lockstep/internal/rollback"
	"lockstep/internal/snapshot"
	"lockstep/internal/table"
)

var cli struct {
	ReplayPath string `arg:"" help:"Replay file to validate."`
	Iterations int    `arg:"" optional:"" default:"1" help:"How many times to re-run the validation."`
	Rollback   bool   `help:"Deliver inputs late to force rollback-and-replay instead of a straight pass."`
}

// rollbackDelay is how many frames behind execution confirmed inputs are
// delivered in --rollback mode. Must stay within the rollback budget.
const rollbackDelay = 5

func main() {
	godotenv.Load()
	kctx := kong.Parse(&cli, kong.Name("replayer"),
		kong.Description("Validate deterministic re-execution of a recorded match."))

	cfg := config.Load()
	if cfg.Replay.FileOverride != "" {
		cli.ReplayPath = cfg.Replay.FileOverride
	}

	header, records, err := loadReplay(cli.ReplayPath)
	if err != nil {
		kctx.FatalIfErrorf(err)
	}
	log.Printf("replay: seed %d, start frame %d, %d frame records", header.SessionSeed, header.StartFrame, len(records))

	for i := 0; i < cli.Iterations; i++ {
		var err error
		if cli.Rollback {
			err = validateWithRollback(cfg.Sim, header, records)
		} else {
			err = validateStraight(cfg.Sim, header, records)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "iteration %d: %v\n", i+1, err)
			os.Exit(1)
		}
	}
	mode := "re-execution"
	if cli.Rollback {
		mode = "rollback equivalence"
	}
	log.Printf("%s validated over %d iteration(s), %d frames", mode, cli.Iterations, len(records))
}

func loadReplay(path string) (replay.Header, []replay.FrameRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return replay.Header{}, nil, err
	}
	defer f.Close()

	r, err := replay.NewReader(f)
	if err != nil {
		return replay.Header{}, nil, err
	}
	var records []replay.FrameRecord
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return replay.Header{}, nil, err
		}
		records = append(records, rec)
	}
	return r.Header, records, nil
}

type runner struct {
	world *arena.World
	pipe  *pipeline.Pipeline
	ring  *rollback.SnapshotRing
	mgr   *rollback.Manager
}

// newRunner rebuilds the world the replay started from: a full-capacity
// construction overwritten by the embedded snapshot.
func newRunner(sim config.SimConfig, header replay.Header, historyLen int) (*runner, error) {
	w, err := arena.NewWorld(arena.Config{
		Players:      arena.MaxPlayers,
		Seed:         header.SessionSeed,
		RingFrames:   sim.InputRingFrames,
		LookaheadMax: sim.LookaheadMax,
	})
	if err != nil {
		return nil, err
	}
	if _, err := snapshot.Restore(header.Snapshot, table.ToSnapshotters(w.Tables())); err != nil {
		return nil, fmt.Errorf("restore start snapshot: %w", err)
	}
	*w.Frame() = header.StartFrame

	ring := rollback.NewSnapshotRing(sim.SnapshotRingSize)
	pipe := pipeline.New(pipeline.Config{
		Systems:             w.Systems(),
		Tables:              w.Tables,
		CurrentFrame:        w.Frame(),
		SnapshotInterval:    sim.SnapshotInterval,
		SnapshotSink:        ring,
		HashHistoryCapacity: historyLen + 64,
	})
	// Seed the ring with the start snapshot so a rollback targeting the
	// very first frames has something to restore.
	ring.Put(header.StartFrame, header.Snapshot)
	mgr := rollback.New(pipe, ring, w.Tables, w.Frame(), sim.MaxRollback)
	return &runner{world: w, pipe: pipe, ring: ring, mgr: mgr}, nil
}

// confirmFrame submits the frame's recorded inputs as confirmed, with an
// explicit empty input for every lane the recording omitted: the live
// match confirmed those as empty, so the re-execution must too.
func confirmFrame(w *arena.World, current int64, rec replay.FrameRecord) error {
	recorded := make(map[int]arena.Input, len(rec.Inputs))
	for _, in := range rec.Inputs {
		decoded, err := arena.DecodeInput(in.InputBytes)
		if err != nil {
			return fmt.Errorf("frame %d player %d: %w", rec.Frame, in.PlayerID, err)
		}
		recorded[int(in.PlayerID)] = decoded
	}
	for p := 0; p < arena.MaxPlayers; p++ {
		if err := w.Inputs.SubmitRemote(current, rec.Frame, p, recorded[p]); err != nil {
			return fmt.Errorf("frame %d player %d: %w", rec.Frame, p, err)
		}
	}
	return nil
}

func validateStraight(sim config.SimConfig, header replay.Header, records []replay.FrameRecord) error {
	run, err := newRunner(sim, header, len(records))
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err := confirmFrame(run.world, *run.world.Frame(), rec); err != nil {
			return err
		}
		if err := run.pipe.Tick(); err != nil {
			return fmt.Errorf("tick to frame %d: %w", rec.Frame, err)
		}
		entry, ok := run.pipe.History().Last()
		if !ok || entry.Frame != rec.Frame {
			return fmt.Errorf("frame %d: execution is at frame %d", rec.Frame, entry.Frame)
		}
		if entry.Hash != rec.Hash {
			return fmt.Errorf("divergence at frame %d: computed %#x, recorded %#x", rec.Frame, entry.Hash, rec.Hash)
		}
	}
	return nil
}

// validateWithRollback ticks ahead on predictions and confirms each
// frame's inputs rollbackDelay frames late, forcing the rollback manager
// through restore-and-replay, then checks the final hashes against the
// recording.
func validateWithRollback(sim config.SimConfig, header replay.Header, records []replay.FrameRecord) error {
	run, err := newRunner(sim, header, len(records))
	if err != nil {
		return err
	}
	rollbacks := 0
	advance := func() error {
		if _, dirty := run.world.Inputs.EarliestDirty(); !dirty {
			return nil
		}
		rollbacks++
		return run.mgr.Advance(run.world.Inputs)
	}

	for i, rec := range records {
		if err := run.pipe.Tick(); err != nil {
			return fmt.Errorf("predicted tick toward frame %d: %w", rec.Frame, err)
		}
		if i >= rollbackDelay {
			late := records[i-rollbackDelay]
			if err := confirmFrame(run.world, *run.world.Frame(), late); err != nil {
				return err
			}
			if err := advance(); err != nil {
				return fmt.Errorf("rollback for frame %d: %w", late.Frame, err)
			}
		}
	}
	for i := len(records) - rollbackDelay; i < len(records); i++ {
		if i < 0 {
			continue
		}
		if err := confirmFrame(run.world, *run.world.Frame(), records[i]); err != nil {
			return err
		}
		if err := advance(); err != nil {
			return fmt.Errorf("final rollback for frame %d: %w", records[i].Frame, err)
		}
	}

	for _, rec := range records {
		hash, ok := run.pipe.History().Get(rec.Frame)
		if !ok {
			return fmt.Errorf("frame %d missing from hash history", rec.Frame)
		}
		if hash != rec.Hash {
			return fmt.Errorf("rollback divergence at frame %d: computed %#x, recorded %#x", rec.Frame, hash, rec.Hash)
		}
	}
	if rollbacks == 0 && len(records) > rollbackDelay {
		return fmt.Errorf("delayed delivery never triggered a rollback; nothing was validated")
	}
	return nil
}

// Package debugdump implements the main-thread debug exporter: a
// best-effort bundle of world state, recent hash/input history and the
// current replay file, produced on request when a match aborts. No step
// is allowed to crash the game; a failure in one step is recorded and the
// remaining steps still run.
package debugdump

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"lockstep/internal/pipeline"
	"lockstep/internal/table"
)

// BugReportSink hands a finished Bundle off to wherever bug reports go.
// internal/ioadapter's transport boundary or a CLI tool can implement this.
type BugReportSink interface {
	Submit(Bundle) error
}

// Request supplies everything the exporter needs from a caller that holds
// the live world. Every field is best-effort: a nil function or empty
// slice just means that part of the bundle comes back empty, not an error.
type Request struct {
	Frame int64

	// Tables are dumped via DumpJSON in declared order.
	Tables []table.Snapshotter

	// Systems is the pipeline's declared system name list.
	Systems []string

	// Restore attempts to restore the snapshot covering Frame into the
	// live world, for a human inspecting the dump interactively. Return
	// nil on success. May be nil if the caller has no restore path handy.
	Restore func(frame int64) error

	// PerSystemHashes resimulates frame d in per-system hash mode and
	// returns the per-system vector. Called once per frame in
	// [Frame-9, Frame].
	PerSystemHashes func(d int64) ([]uint64, error)

	// History is the pipeline's retained frame-hash ring.
	History *pipeline.HashHistory

	// InputHistoryJSON renders submitted/predicted inputs for frames
	// [from, to] as a JSON value. The caller owns the concrete input
	// type, so this package never needs to know it.
	InputHistoryJSON func(from, to int64) (json.RawMessage, error)

	// ReplayFilePath points at the most recent replay file on disk, if
	// any is being recorded.
	ReplayFilePath string

	Sink BugReportSink
}

// TableDump is one table's rendered dump, or the error that prevented it.
type TableDump struct {
	Name  string          `json:"name"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// Bundle is the complete exported diagnostic. Every field is populated on
// a best-effort basis; a zero value for a field means that step failed or
// was skipped, not that the exporter crashed.
type Bundle struct {
	Frame int64 `json:"frame"`

	RestoreAttempted bool   `json:"restore_attempted"`
	RestoreSucceeded bool   `json:"restore_succeeded"`
	RestoreError     string `json:"restore_error,omitempty"`

	Tables []TableDump `json:"tables"`

	Systems         []string           `json:"systems"`
	PerSystemHashes map[int64][]uint64 `json:"per_system_hashes"`

	InputHistory json.RawMessage    `json:"input_history,omitempty"`
	HashHistory  []pipeline.HashEntry `json:"hash_history"`

	ReplayFilePath string `json:"replay_file_path,omitempty"`

	Errors []string `json:"errors,omitempty"`
}

func (b *Bundle) noteError(format string, args ...any) {
	b.Errors = append(b.Errors, fmt.Sprintf(format, args...))
}

// Export runs the exporter steps in order, swallowing any failure in
// a step and continuing with the next one. It never panics: each step
// runs under recover so a bug in a caller-supplied callback cannot crash
// the exporter either.
func Export(req Request) Bundle {
	b := Bundle{Frame: req.Frame}

	runStep(&b, "restore", func() {
		if req.Restore == nil {
			return
		}
		b.RestoreAttempted = true
		if err := req.Restore(req.Frame); err != nil {
			b.RestoreError = err.Error()
			return
		}
		b.RestoreSucceeded = true
	})

	runStep(&b, "table dump", func() {
		b.Tables = make([]TableDump, len(req.Tables))
		for i, tb := range req.Tables {
			name := tb.Name()
			data, err := tb.DumpJSON()
			if err != nil {
				b.Tables[i] = TableDump{Name: name, Error: err.Error()}
				continue
			}
			b.Tables[i] = TableDump{Name: name, Data: json.RawMessage(data)}
		}
	})

	runStep(&b, "system and hash history", func() {
		b.Systems = append([]string(nil), req.Systems...)

		if req.PerSystemHashes != nil {
			b.PerSystemHashes = make(map[int64][]uint64)
			for d := req.Frame - 9; d <= req.Frame; d++ {
				if d < 0 {
					continue
				}
				hashes, err := req.PerSystemHashes(d)
				if err != nil {
					b.noteError("per-system hashes at frame %d: %v", d, err)
					continue
				}
				b.PerSystemHashes[d] = hashes
			}
		}

		if req.InputHistoryJSON != nil {
			from := req.Frame - 20
			if from < 0 {
				from = 0
			}
			data, err := req.InputHistoryJSON(from, req.Frame)
			if err != nil {
				b.noteError("input history: %v", err)
			} else {
				b.InputHistory = data
			}
		}

		if req.History != nil {
			b.HashHistory = req.History.Recent(60)
		}
	})

	runStep(&b, "attach replay", func() {
		b.ReplayFilePath = req.ReplayFilePath
	})

	if req.Sink != nil {
		runStep(&b, "submit bug report", func() {
			if err := req.Sink.Submit(b); err != nil {
				b.noteError("submit: %v", err)
			}
		})
	}

	return b
}

func runStep(b *Bundle, name string, step func()) {
	defer func() {
		if r := recover(); r != nil {
			b.noteError("%s: panicked: %v", name, r)
		}
	}()
	step()
}

// DefaultDumpDir returns the platform-standard user data directory for
// persisted desync dumps, creating it if absent.
func DefaultDumpDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("debugdump: resolve user cache dir: %w", err)
	}
	dir := filepath.Join(base, "lockstep", "desync-dumps")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("debugdump: create %s: %w", dir, err)
	}
	return dir, nil
}

// WriteToDisk marshals b and writes it under dir, named by frame and wall
// clock time so repeated dumps for the same frame never collide.
func WriteToDisk(dir string, b Bundle, now time.Time) (string, error) {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return "", fmt.Errorf("debugdump: marshal: %w", err)
	}
	name := fmt.Sprintf("frame-%d-%s.json", b.Frame, now.UTC().Format("20060102T150405.000000000Z"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("debugdump: write %s: %w", path, err)
	}
	return path, nil
}

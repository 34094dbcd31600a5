package eventlog_test

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"lockstep/internal/eventlog"
)

func TestEmitRejectedWhenNotRunning(t *testing.T) {
	l := eventlog.New()
	if l.Emit(eventlog.NewEvent(eventlog.EventTypeTick, 1, eventlog.TickPayload{Hash: 1})) {
		t.Errorf("Emit() on a log that was never Start'ed = true, want false")
	}
}

func TestEmitAndFlushToDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")

	l := eventlog.New()
	if err := l.Start(path); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for i := int64(1); i <= 5; i++ {
		if !l.EmitSimple(eventlog.EventTypeTick, i, eventlog.TickPayload{Hash: uint64(i * 10)}) {
			t.Errorf("EmitSimple(%d) rejected unexpectedly", i)
		}
	}

	l.Stop()

	stats := l.GetStats()
	if stats.Total != 5 {
		t.Errorf("Total = %d, want 5", stats.Total)
	}
	if stats.Running {
		t.Errorf("Running = true after Stop")
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log file: %v", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	count := 0
	for scanner.Scan() {
		var e eventlog.Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("unmarshal line %d: %v", count, err)
		}
		if e.Type != eventlog.EventTypeTick {
			t.Errorf("line %d: type = %v, want tick", count, e.Type)
		}
		count++
	}
	if count != 5 {
		t.Errorf("wrote %d lines, want 5", count)
	}
}

func TestEmitRespectsGlobalRateLimit(t *testing.T) {
	l := eventlog.New()
	if err := l.Start(""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Stop()

	accepted := 0
	for i := 0; i < 100000; i++ {
		if l.EmitSimple(eventlog.EventTypeTick, int64(i), nil) {
			accepted++
		}
	}
	if accepted >= 100000 {
		t.Errorf("rate limiter accepted every burst event, expected some drops")
	}

	stats := l.GetStats()
	if stats.Dropped == 0 {
		t.Errorf("Dropped = 0, expected the burst to exceed the global rate limit")
	}
}

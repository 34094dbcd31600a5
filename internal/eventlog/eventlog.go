// Package eventlog provides bounded, rate-limited logging of simulation
// lifecycle events (ticks, rollbacks, desyncs, restores) to a
// newline-delimited JSON file, without ever blocking or slowing down the
// tick loop that emits them.
package eventlog

import (
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const (
	bufferSize         = 1024
	maxEventsPerSec    = 2000
	batchFlushSize     = 64
	batchFlushInterval = 100 * time.Millisecond
)

// Log is a bounded, rate-limited event log backed by a lock-free SPSC
// circular buffer and an asynchronous batch writer.
type Log struct {
	buffer    [bufferSize]Event
	writeHead uint64
	readHead  uint64

	limiter *rate.Limiter

	writerWg sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
	running  atomic.Bool

	filePath string
	file     *os.File
	fileMu   sync.Mutex

	droppedCount uint64
	totalCount   uint64
}

// New builds a Log. Call Start to begin writing to disk.
func New() *Log {
	return &Log{
		limiter:  rate.NewLimiter(maxEventsPerSec, maxEventsPerSec/10),
		stopChan: make(chan struct{}),
	}
}

// Start opens filePath for append and begins the async writer goroutine.
// An empty filePath runs the log in memory-only mode (events are still
// rate-limited and counted, just never flushed to disk).
func (l *Log) Start(filePath string) error {
	if l.running.Load() {
		return nil
	}
	l.filePath = filePath
	if filePath != "" {
		file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		l.file = file
	}
	l.running.Store(true)
	l.writerWg.Add(1)
	go l.writerLoop()
	return nil
}

// Stop flushes any buffered events and closes the output file.
func (l *Log) Stop() {
	l.stopOnce.Do(func() {
		l.running.Store(false)
		close(l.stopChan)
		l.writerWg.Wait()

		l.fileMu.Lock()
		if l.file != nil {
			l.file.Close()
		}
		l.fileMu.Unlock()
	})
}

// Emit appends event to the buffer, assigning it a sequence number.
// Returns false if the log is not running or the rate limiter dropped
// the event. When the buffer is full the oldest buffered event is
// dropped to make room and the new one is kept - this is a log, not a
// source of truth.
func (l *Log) Emit(event Event) bool {
	if !l.running.Load() {
		return false
	}
	if !l.limiter.Allow() {
		atomic.AddUint64(&l.droppedCount, 1)
		return false
	}

	head := atomic.AddUint64(&l.writeHead, 1)
	tail := atomic.LoadUint64(&l.readHead)
	if head-tail >= bufferSize {
		atomic.AddUint64(&l.readHead, 1)
		atomic.AddUint64(&l.droppedCount, 1)
	}

	event.Sequence = head
	l.buffer[(head-1)%bufferSize] = event
	atomic.AddUint64(&l.totalCount, 1)
	return true
}

// EmitSimple builds and emits an Event in one call.
func (l *Log) EmitSimple(eventType EventType, frame int64, payload any) bool {
	return l.Emit(NewEvent(eventType, frame, payload))
}

func (l *Log) writerLoop() {
	defer l.writerWg.Done()

	ticker := time.NewTicker(batchFlushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, batchFlushSize)
	for {
		select {
		case <-l.stopChan:
			batch = l.collectBatch(batch[:0])
			if len(batch) > 0 {
				l.flushBatch(batch)
			}
			return
		case <-ticker.C:
			batch = l.collectBatch(batch[:0])
			if len(batch) > 0 {
				l.flushBatch(batch)
			}
		}
	}
}

func (l *Log) collectBatch(batch []Event) []Event {
	head := atomic.LoadUint64(&l.writeHead)
	tail := atomic.LoadUint64(&l.readHead)
	for i := tail; i < head && len(batch) < batchFlushSize; i++ {
		batch = append(batch, l.buffer[i%bufferSize])
	}
	if len(batch) > 0 {
		atomic.AddUint64(&l.readHead, uint64(len(batch)))
	}
	return batch
}

func (l *Log) flushBatch(batch []Event) {
	l.fileMu.Lock()
	defer l.fileMu.Unlock()
	if l.file == nil {
		return
	}
	for _, event := range batch {
		data, err := json.Marshal(event)
		if err != nil {
			continue
		}
		l.file.Write(data)
		l.file.Write([]byte("\n"))
	}
}

// Stats summarizes the log's counters, for a debug dump or metrics scrape.
type Stats struct {
	Total   uint64
	Dropped uint64
	Pending uint64
	Running bool
}

// GetStats returns a snapshot of the log's counters.
func (l *Log) GetStats() Stats {
	head := atomic.LoadUint64(&l.writeHead)
	tail := atomic.LoadUint64(&l.readHead)
	return Stats{
		Total:   atomic.LoadUint64(&l.totalCount),
		Dropped: atomic.LoadUint64(&l.droppedCount),
		Pending: head - tail,
		Running: l.running.Load(),
	}
}

package eventlog

import (
	"encoding/json"
	"time"
)

// EventType classifies entries in the event log.
type EventType uint8

const (
	EventTypeUnknown EventType = iota
	EventTypeTick               // frame hash finalised for a forward tick
	EventTypeRollback           // rollback-and-replay executed
	EventTypeDesync             // a desync was committed by internal/desync
	EventTypeRestore            // a snapshot restore was attempted
)

// Version guards the payload schema, carried alongside replay files.
const Version uint8 = 1

// Event is one entry in the log.
type Event struct {
	Version   uint8     `json:"version"`
	Type      EventType `json:"type"`
	Timestamp int64     `json:"timestamp"` // Unix nano
	Sequence  uint64    `json:"sequence"`  // monotonic, assigned by Emit
	Frame     int64     `json:"frame"`
	Payload   []byte    `json:"payload"` // JSON-encoded, type-specific
}

func (t EventType) String() string {
	switch t {
	case EventTypeTick:
		return "tick"
	case EventTypeRollback:
		return "rollback"
	case EventTypeDesync:
		return "desync"
	case EventTypeRestore:
		return "restore"
	default:
		return "unknown"
	}
}

// TickPayload records the finalised hash for a forward (non-replay) tick.
type TickPayload struct {
	Hash uint64 `json:"hash"`
}

// RollbackPayload records one rollback-and-replay cycle.
type RollbackPayload struct {
	DirtyFrame   int64 `json:"dirtyFrame"`
	RestoredFrom int64 `json:"restoredFrom"`
	ReplayedTo   int64 `json:"replayedTo"`
}

// DesyncPayload mirrors internal/desync.DesyncInfo.
type DesyncPayload struct {
	LocalHash      uint64 `json:"localHash"`
	RemoteHash     uint64 `json:"remoteHash"`
	RemotePlayerID int    `json:"remotePlayerId"`
}

// RestorePayload records a snapshot restore attempt and its outcome.
type RestorePayload struct {
	Succeeded bool   `json:"succeeded"`
	Error     string `json:"error,omitempty"`
}

// EncodePayload marshals payload to JSON, or nil if it fails to encode.
func EncodePayload(payload any) []byte {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return data
}

// NewEvent builds an Event stamped with the current wall-clock time.
// Sequence is assigned by the log on Emit, not here.
func NewEvent(eventType EventType, frame int64, payload any) Event {
	return Event{
		Version:   Version,
		Type:      eventType,
		Timestamp: time.Now().UnixNano(),
		Frame:     frame,
		Payload:   EncodePayload(payload),
	}
}
